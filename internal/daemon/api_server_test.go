package daemon

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"nutrilog/internal/logging"
)

func TestAPIServerDisabledWithoutBind(t *testing.T) {
	srv := newAPIServer("  ", http.NotFoundHandler(), logging.NewNop())
	if err := srv.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if srv.address() != "" {
		t.Fatalf("expected no listener, got %q", srv.address())
	}
	srv.stop()
}

func TestAPIServerServesUntilContextEnds(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "pong")
	})
	srv := newAPIServer("127.0.0.1:0", handler, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := srv.address()
	if addr == "" {
		t.Fatal("expected bound address")
	}

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("unexpected body %q", body)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for srv.address() != "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.address() != "" {
		t.Fatal("expected server to shut down after context cancel")
	}
}

func TestAPIServerReportsBindConflict(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	srv := newAPIServer(taken.Addr().String(), http.NotFoundHandler(), logging.NewNop())
	if err := srv.start(context.Background()); err == nil {
		srv.stop()
		t.Fatal("expected bind conflict error")
	}
}
