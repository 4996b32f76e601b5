package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"

	"nutrilog/internal/services"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("http %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	var syntaxErr *json.SyntaxError
	if err := json.Unmarshal([]byte("{bad"), &struct{}{}); !errors.As(err, &syntaxErr) {
		t.Fatalf("expected syntax error, got %v", err)
	}

	tests := []struct {
		name     string
		err      error
		class    Class
		category string
	}{
		{"connectivity marker", services.Wrap(services.ErrConnectivity, "analysis", "post", "dial", nil), Retryable, CategoryConnectivity},
		{"timeout marker", services.Wrap(services.ErrTimeout, "analysis", "post", "", nil), Retryable, CategoryTimeout},
		{"deadline", fmt.Errorf("analyze: %w", context.DeadlineExceeded), Retryable, CategoryTimeout},
		{"canceled", context.Canceled, Retryable, CategoryCanceled},
		{"net timeout", &url.Error{Op: "Post", URL: "http://x", Err: timeoutErr{}}, Retryable, CategoryTimeout},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, Retryable, CategoryConnectivity},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), Retryable, CategoryConnectivity},
		{"unexpected eof", fmt.Errorf("body: %w", io.ErrUnexpectedEOF), Retryable, CategoryConnectivity},
		{"http 500", statusErr(500), Retryable, CategoryServerFault},
		{"http 503", fmt.Errorf("wrapped: %w", statusErr(503)), Retryable, CategoryServerFault},
		{"http 429", statusErr(429), Retryable, CategoryServerFault},
		{"http 408", statusErr(408), Retryable, CategoryTimeout},
		{"http 400", statusErr(400), Terminal, CategoryRejected},
		{"http 422", statusErr(422), Terminal, CategoryRejected},
		{"http 401", statusErr(401), Terminal, CategoryUnauthorized},
		{"http 403", statusErr(403), Terminal, CategoryUnauthorized},
		{"server fault marker", services.Wrap(services.ErrServerFault, "analysis", "post", "502", nil), Retryable, CategoryServerFault},
		{"malformed marker", services.Wrap(services.ErrMalformedResponse, "analysis", "decode", "", nil), Terminal, CategoryMalformedResponse},
		{"json syntax", syntaxErr, Terminal, CategoryMalformedResponse},
		{"rejected marker", services.Wrap(services.ErrRejected, "storage", "save", "", nil), Terminal, CategoryRejected},
		{"permission", services.Wrap(services.ErrPermissionDenied, "storage", "save", "", statusErr(403)), Terminal, CategoryPermissionDenied},
		{"validation", services.Wrap(services.ErrValidation, "scheduler", "enqueue", "", nil), Terminal, CategoryValidation},
		{"artifact missing", services.Wrap(services.ErrArtifactMissing, "artifact", "resolve", "", nil), Terminal, CategoryArtifactMissing},
		{"unknown", errors.New("boom"), Terminal, CategoryUnexpected},
		{"nil", nil, Terminal, CategoryUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Class != tt.class || got.Category != tt.category {
				t.Fatalf("Classify(%v) = %+v, want %s/%s", tt.err, got, tt.class, tt.category)
			}
		})
	}
}

func TestMarkerBeatsTransport(t *testing.T) {
	// A permission failure reported over a broken connection is still a
	// permission failure.
	err := services.Wrap(services.ErrPermissionDenied, "storage", "save", "", &net.OpError{Op: "read", Err: syscall.ECONNRESET})
	if got := Classify(err); got.Category != CategoryPermissionDenied {
		t.Fatalf("expected permission_denied, got %+v", got)
	}
}
