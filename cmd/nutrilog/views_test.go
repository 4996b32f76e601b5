package main

import (
	"strings"
	"testing"
	"time"

	"nutrilog/internal/api"
	"nutrilog/internal/logging"
)

func TestBuildQueueStatusRows(t *testing.T) {
	if rows := buildQueueStatusRows(map[string]int{"enqueued": 0}); rows != nil {
		t.Fatalf("expected nil rows for empty queue, got %v", rows)
	}

	rows := buildQueueStatusRows(map[string]int{"failed": 2, "enqueued": 1, "mystery": 3})
	want := [][]string{
		{"Enqueued", "1"},
		{"Running", "0"},
		{"Awaiting Retry", "0"},
		{"Succeeded", "0"},
		{"Failed", "2"},
		{"Mystery", "3"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %v", len(rows), len(want), rows)
	}
	for i := range want {
		if rows[i][0] != want[i][0] || rows[i][1] != want[i][1] {
			t.Fatalf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestBuildQueueListRowsNewestFirst(t *testing.T) {
	jobs := []api.Job{
		{ID: "aaaaaaaa-1111", ArtifactRef: "/spool/old.jpg", Status: "succeeded", AttemptCount: 1, MaxAttempts: 4, Calories: 310.4, CreatedAt: "2026-03-01T08:00:00Z"},
		{ID: "bbbbbbbb-2222", ArtifactRef: "/spool/new.jpg", Status: "failed", AttemptCount: 4, MaxAttempts: 4, ErrorCategory: "storage_unavailable", CreatedAt: "2026-03-02T08:00:00Z"},
	}
	rows := buildQueueListRows(jobs)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "bbbbbbbb" || rows[0][1] != "new.jpg" || rows[0][5] != "storage_unavailable" {
		t.Fatalf("unexpected first row %v", rows[0])
	}
	if rows[1][3] != "1/4" || rows[1][5] != "310 kcal" {
		t.Fatalf("unexpected second row %v", rows[1])
	}
}

func TestJobResultSummary(t *testing.T) {
	tests := []struct {
		name string
		job  api.Job
		want string
	}{
		{"stored without calories", api.Job{Status: "succeeded"}, "stored"},
		{"calories", api.Job{Status: "succeeded", Calories: 512}, "512 kcal"},
		{"category", api.Job{Status: "awaiting_retry", ErrorCategory: "analysis_timeout"}, "analysis_timeout"},
		{"message", api.Job{Status: "failed", LastError: "boom"}, "boom"},
		{"pending", api.Job{Status: "enqueued"}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jobResultSummary(tt.job); got != tt.want {
				t.Fatalf("jobResultSummary = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildJobDetailRowsSkipsEmptyFields(t *testing.T) {
	rows := buildJobDetailRows(api.Job{
		ID:          "job-1",
		Status:      "enqueued",
		ArtifactRef: "/spool/a.jpg",
		MaxAttempts: 4,
	})
	for _, row := range rows {
		switch row[0] {
		case "Last error", "Storage ID", "Calories", "Photo deleted":
			t.Fatalf("unexpected row %v for pending job", row)
		}
	}

	rows = buildJobDetailRows(api.Job{ID: "job-2", Status: "succeeded", Decision: "delete", ArtifactDeleted: true, Calories: 250})
	joined := make([]string, 0, len(rows))
	for _, row := range rows {
		joined = append(joined, strings.Join(row, "="))
	}
	all := strings.Join(joined, "\n")
	requireContains(t, all, "Calories=250 kcal")
	requireContains(t, all, "Photo deleted=yes")
}

func TestFormatHelpers(t *testing.T) {
	if got := formatStatusLabel("awaiting_retry"); got != "Awaiting Retry" {
		t.Fatalf("formatStatusLabel = %q", got)
	}
	if got := truncate("abcdefgh", 5); got != "abcd…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := photoLabel(""); got != "Unknown" {
		t.Fatalf("photoLabel = %q", got)
	}
	if got := formatDisplayTime("not a time"); got != "not a time" {
		t.Fatalf("formatDisplayTime passthrough = %q", got)
	}
	if !parseQueueTime("").IsZero() {
		t.Fatal("expected zero time for empty input")
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 7*time.Minute, "2h07m"},
		{49 * time.Hour, "2d01h"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.in); got != tt.want {
			t.Fatalf("formatUptime(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDaemonLines(t *testing.T) {
	lines := daemonLines(api.DaemonStatus{}, false)
	if len(lines) != 1 || !strings.Contains(lines[0], "Not running") {
		t.Fatalf("unexpected stopped lines %v", lines)
	}

	lines = daemonLines(api.DaemonStatus{
		Running:      true,
		PID:          42,
		QueueBackend: "sqlite",
		QueueDBPath:  "/data/queue.db",
		Scheduler:    api.SchedulerStatus{Running: true, Workers: 2, Online: false, LastError: "storage down"},
	}, false)
	all := strings.Join(lines, "\n")
	requireContains(t, all, "Running (pid 42)")
	requireContains(t, all, "2 workers, 0 in flight")
	requireContains(t, all, "Offline")
	requireContains(t, all, "sqlite (/data/queue.db)")
	requireContains(t, all, "storage down")
}

func TestCheckLines(t *testing.T) {
	lines := checkLines(&api.ComponentHealth{Ready: false, Detail: "analysis unreachable"}, []api.CheckResult{
		{Name: "Spool directory", Passed: true, Detail: "writable"},
	}, false)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", lines)
	}
	requireContains(t, lines[0], "[ERROR] analysis unreachable")
	requireContains(t, lines[1], "[OK] writable")
}

func TestRenderStatusLineColorizes(t *testing.T) {
	plain := renderStatusLine("Daemon", statusOK, "Running", false)
	if strings.Contains(plain, "\x1b[") {
		t.Fatalf("plain line has escapes: %q", plain)
	}
	colored := renderStatusLine("Daemon", statusWarn, "", true)
	if !strings.HasPrefix(colored, ansiYellow) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected yellow line, got %q", colored)
	}
}

func TestFormatLogEvent(t *testing.T) {
	ev := logging.LogEvent{
		Timestamp: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Level:     "warn",
		Message:   "storage write failed",
		Component: "executor",
		JobID:     "job-9",
		Fields:    map[string]string{"error_category": "storage_unavailable", "error": "connection refused"},
	}
	line := formatLogEvent(ev)
	requireContains(t, line, "WARN  [executor] storage write failed job=job-9")
	requireContains(t, line, `error="connection refused" error_category=storage_unavailable`)
}
