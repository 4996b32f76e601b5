package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
	"nutrilog/internal/scheduler"
	"nutrilog/internal/submit"
)

type fakeBackend struct {
	submitErr error
	submitted []submit.Request
	retryErr  error
	purgedFor time.Duration
	running   bool
	ready     bool
}

func (b *fakeBackend) Submit(_ context.Context, req submit.Request) (submit.Result, error) {
	if b.submitErr != nil {
		return submit.Result{}, b.submitErr
	}
	b.submitted = append(b.submitted, req)
	captured := req.CapturedAt
	if captured.IsZero() {
		captured = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	return submit.Result{JobID: "job-new", ArtifactRef: req.Path, CapturedAt: captured, Imported: req.Import}, nil
}

func (b *fakeBackend) Retry(_ context.Context, ids ...string) ([]scheduler.RetryResult, error) {
	results := make([]scheduler.RetryResult, 0, len(ids))
	for _, id := range ids {
		if b.retryErr != nil {
			results = append(results, scheduler.RetryResult{JobID: id, Err: b.retryErr})
			continue
		}
		results = append(results, scheduler.RetryResult{JobID: id, NewJobID: id + "-retry"})
	}
	return results, nil
}

func (b *fakeBackend) Purge(_ context.Context, olderThan time.Duration) (int, error) {
	b.purgedFor = olderThan
	return 3, nil
}

func (b *fakeBackend) Status(context.Context) DaemonStatus {
	return DaemonStatus{
		Running:      b.running,
		QueueBackend: "memory",
		Scheduler: SchedulerStatus{
			Running: b.running,
			Health:  ComponentHealth{Name: "executor", Ready: b.ready},
		},
	}
}

type testServer struct {
	*httptest.Server
	store   *queue.MemoryStore
	backend *fakeBackend
	logs    *logging.StreamHub
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	store := queue.NewMemoryStore()
	backend := &fakeBackend{running: true, ready: true}
	logs := logging.NewStreamHub(16)
	router := NewRouter(RouterOptions{
		Token:   token,
		Queue:   NewQueueService(store),
		Backend: backend,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Logs:   logs,
		Logger: logging.NewNop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, backend: backend, logs: logs}
}

func (s *testServer) seed(t *testing.T, id string) {
	t.Helper()
	err := s.store.Enqueue(context.Background(), &queue.Job{
		ID:          id,
		Input:       queue.Input{ArtifactRef: "/spool/" + id + ".jpg", CapturedAt: time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC), Source: "test"},
		Constraints: queue.Constraints{RequiresNetwork: true},
		MaxAttempts: queue.DefaultMaxAttempts,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestAuthRequiredExceptHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, "secret")

	cases := []struct {
		path string
		want int
	}{
		{"/api/jobs", http.StatusUnauthorized},
		{"/api/status", http.StatusUnauthorized},
		{"/api/health", http.StatusOK},
		{"/metrics", http.StatusOK},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("GET %s: status %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}

	good := NewClient(srv.URL, "secret")
	if _, err := good.ListJobs(context.Background(), nil); err != nil {
		t.Fatalf("authorized list: %v", err)
	}
	bad := NewClient(srv.URL, "wrong")
	var statusErr *StatusError
	if _, err := bad.ListJobs(context.Background(), nil); !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJobReadRoutes(t *testing.T) {
	srv := newTestServer(t, "")
	srv.seed(t, "job-a")
	srv.seed(t, "job-b")
	client := NewClient(srv.URL, "")
	ctx := context.Background()

	jobs, err := client.ListJobs(ctx, []string{"enqueued"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	job, err := client.GetJob(ctx, "job-a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "enqueued" || job.ArtifactRef != "/spool/job-a.jpg" || !job.RequiresNetwork {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.CapturedAt != "2026-05-01T08:30:00.000Z" {
		t.Fatalf("unexpected capturedAt %q", job.CapturedAt)
	}

	history, err := client.History(ctx, "job-a")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Kind != string(queue.EventEnqueued) {
		t.Fatalf("unexpected history %+v", history)
	}

	if _, err := client.GetJob(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.History(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found history, got %v", err)
	}

	counts, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if counts["enqueued"] != 2 || counts["failed"] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if _, ok := counts["awaiting_retry"]; !ok {
		t.Fatal("expected every status to be present in counts")
	}
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	srv := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/api/jobs?status=bogus")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitRoute(t *testing.T) {
	srv := newTestServer(t, "")
	client := NewClient(srv.URL, "")
	ctx := context.Background()

	resp, err := client.Submit(ctx, SubmitRequest{Path: "/photos/lunch.jpg", CapturedAt: "2026-05-01T12:15:00Z", Import: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.JobID != "job-new" || !resp.Imported || resp.CapturedAt != "2026-05-01T12:15:00.000Z" {
		t.Fatalf("unexpected response %+v", resp)
	}
	got := srv.backend.submitted[0]
	if !got.Import || got.Offline || !got.CapturedAt.Equal(time.Date(2026, 5, 1, 12, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected backend request %+v", got)
	}

	var statusErr *StatusError
	if _, err := client.Submit(ctx, SubmitRequest{Path: "/p.jpg", CapturedAt: "yesterday"}); !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timestamp, got %v", err)
	}

	srv.backend.submitErr = fmt.Errorf("%w: unsupported extension", submit.ErrInvalidPhoto)
	if _, err := client.Submit(ctx, SubmitRequest{Path: "/p.txt"}); !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	srv.backend.submitErr = &scheduler.InvalidJobError{Field: "captured_at", Reason: "is in the future"}
	if _, err := client.Submit(ctx, SubmitRequest{Path: "/p.jpg"}); !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %v", err)
	}
	srv.backend.submitErr = errors.New("store closed")
	if _, err := client.Submit(ctx, SubmitRequest{Path: "/p.jpg"}); !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestRetryRouteStatusCodes(t *testing.T) {
	srv := newTestServer(t, "")
	client := NewClient(srv.URL, "")
	ctx := context.Background()

	result, err := client.Retry(ctx, "job-a")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if result.NewJobID != "job-a-retry" {
		t.Fatalf("unexpected result %+v", result)
	}

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("lookup: %w", queue.ErrJobNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: status succeeded", scheduler.ErrNotRetryable), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv.backend.retryErr = tc.err
		_, err := client.Retry(ctx, "job-a")
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.Code != tc.want {
			t.Errorf("retry with %v: got %v, want status %d", tc.err, err, tc.want)
			continue
		}
		if !strings.Contains(statusErr.Message, tc.err.Error()) {
			t.Errorf("expected message to carry cause, got %q", statusErr.Message)
		}
	}
}

func TestPurgeAndStatusRoutes(t *testing.T) {
	srv := newTestServer(t, "")
	client := NewClient(srv.URL, "")
	ctx := context.Background()

	removed, err := client.Purge(ctx, 7)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 3 || srv.backend.purgedFor != 7*24*time.Hour {
		t.Fatalf("unexpected purge: removed=%d window=%s", removed, srv.backend.purgedFor)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.QueueBackend != "memory" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestHealthReportsDegraded(t *testing.T) {
	srv := newTestServer(t, "")
	srv.backend.ready = false

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var payload HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Status != "degraded" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestLogsRouteFiltersByJob(t *testing.T) {
	srv := newTestServer(t, "")
	srv.logs.Publish(logging.LogEvent{Message: "a", JobID: "job-1"})
	srv.logs.Publish(logging.LogEvent{Message: "b", JobID: "job-2"})
	srv.logs.Publish(logging.LogEvent{Message: "c", JobID: "job-1"})
	client := NewClient(srv.URL, "")

	resp, err := client.Logs(context.Background(), 0, 10, false, "job-1")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(resp.Events) != 2 || resp.Next != 3 {
		t.Fatalf("unexpected logs %+v", resp)
	}

	resp, err = client.Logs(context.Background(), 2, 10, false, "")
	if err != nil {
		t.Fatalf("Logs since: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Message != "c" {
		t.Fatalf("unexpected logs since 2: %+v", resp.Events)
	}
}

func TestClientReportsUnavailableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "").Status(context.Background())
	if !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}
}

func TestBaseURLFor(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:7390": "http://127.0.0.1:7390",
		"0.0.0.0:7390":   "http://127.0.0.1:7390",
		":7390":          "http://127.0.0.1:7390",
		"[::]:7390":      "http://127.0.0.1:7390",
	}
	for bind, want := range cases {
		if got := BaseURLFor(bind); got != want {
			t.Errorf("BaseURLFor(%q) = %q, want %q", bind, got, want)
		}
	}
}
