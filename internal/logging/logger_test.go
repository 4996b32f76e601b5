package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nutrilog/internal/config"
	"nutrilog/internal/logging"
	"nutrilog/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (func(), string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := logging.New(logging.Options{Format: format, Level: level, OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return func() {
		ctx := services.WithJobID(context.Background(), "job-7")
		ctx = services.WithAttempt(ctx, 2)
		log := logging.WithContext(ctx, logging.NewComponentLogger(logger, "scheduler"))
		log.Info("attempt finished", logging.String("outcome", "retryable"))
		log.Debug("debug detail")
	}, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigCreatesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "nutrilogd.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestConsoleLoggerFormatsContextFields(t *testing.T) {
	emit, path := newFileLogger(t, "console", "info")
	emit()
	content := readLog(t, path)

	if !strings.Contains(content, "scheduler: attempt finished job_id=job-7") {
		t.Fatalf("expected component prefix and leading job id, got %q", content)
	}
	if !strings.Contains(content, "attempt=2") || !strings.Contains(content, "outcome=retryable") {
		t.Fatalf("expected attempt and outcome fields, got %q", content)
	}
	if strings.Contains(content, "debug detail") {
		t.Fatalf("debug line should be filtered at info level, got %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	emit, path := newFileLogger(t, "console", "debug")
	emit()
	content := readLog(t, path)
	if !strings.Contains(content, "debug detail") {
		t.Fatalf("expected debug line, got %q", content)
	}
	if !strings.Contains(content, ".go:") {
		t.Fatalf("expected caller information at debug level, got %q", content)
	}
}

func TestJSONLoggerShape(t *testing.T) {
	emit, path := newFileLogger(t, "json", "info")
	emit()
	line := strings.TrimSpace(readLog(t, path))

	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode json log line %q: %v", line, err)
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
	if payload[logging.FieldJobID] != "job-7" || payload[logging.FieldComponent] != "scheduler" {
		t.Fatalf("expected context fields, got %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "artifact already absent", "artifact_absent")

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected %s in %v", key, payload)
		}
	}
}
