package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"nutrilog/internal/config"
	"nutrilog/internal/events"
	"nutrilog/internal/logging"
	"nutrilog/internal/notifications"
	"nutrilog/internal/queue"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []captured
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), seen...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), "abc", "rejected", "bad photo"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "succeeded",
			send: func(s notifications.Service) error {
				return s.NotifyJobSucceeded(context.Background(), "0123456789", 640.4, "Chicken salad")
			},
			expectTitle:    "nutrilog - Meal Logged",
			expectMessage:  "🍽️ Logged 640 kcal: Chicken salad",
			expectTags:     "nutrilog,job,succeeded",
			expectPriority: "low",
		},
		{
			name: "failed",
			send: func(s notifications.Service) error {
				return s.NotifyJobFailed(context.Background(), "0123456789", "rejected", "image unreadable")
			},
			expectTitle:    "nutrilog - Job Failed",
			expectMessage:  "❌ Job 01234567 failed (rejected): image unreadable",
			expectTags:     "nutrilog,job,failed",
			expectPriority: "high",
		},
		{
			name: "retained",
			send: func(s notifications.Service) error {
				return s.NotifyArtifactRetained(context.Background(), "abc", "/spool/a.jpg", "")
			},
			expectTitle:    "nutrilog - Review Required",
			expectMessage:  "📷 Photo kept for review: /spool/a.jpg\nJob: abc",
			expectTags:     "nutrilog,review,retained",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, seen := newCaptureServer(t)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			if err := tc.send(notifications.NewService(&cfg)); err != nil {
				t.Fatalf("send: %v", err)
			}
			got := seen()
			if len(got) != 1 {
				t.Fatalf("expected one request, got %d", len(got))
			}
			if got[0].title != tc.expectTitle || got[0].body != tc.expectMessage ||
				got[0].tags != tc.expectTags || got[0].priority != tc.expectPriority {
				t.Fatalf("unexpected request %+v", got[0])
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	defer server.Close()
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewService(&cfg).TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestObserverAppliesToggles(t *testing.T) {
	server, seen := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Succeeded = false
	cfg.Notifications.Failed = true
	cfg.Notifications.Retained = true
	obs := notifications.NewObserver(notifications.NewService(&cfg), cfg.Notifications, logging.NewNop())

	ctx := context.Background()
	obs.Observe(ctx, events.Event{Type: events.TypeSucceeded, JobID: "a"})
	obs.Observe(ctx, events.Event{Type: events.TypeRetryScheduled, JobID: "b"})
	obs.Observe(ctx, events.Event{Type: events.TypeFailed, JobID: "c", Decision: queue.DecisionDelete, Category: "rejected"})
	obs.Observe(ctx, events.Event{Type: events.TypeFailed, JobID: "d", Decision: queue.DecisionRetain, ArtifactRef: "/spool/d.jpg"})

	got := seen()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %+v", len(got), got)
	}
	if got[0].title != "nutrilog - Job Failed" || got[1].title != "nutrilog - Review Required" {
		t.Fatalf("unexpected notifications %+v", got)
	}
}
