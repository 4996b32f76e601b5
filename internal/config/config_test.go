package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"nutrilog/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndReadsEnv(t *testing.T) {
	t.Setenv("NUTRILOG_ANALYSIS_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "nutrilog")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.QueueDBPath() != filepath.Join(wantData, "queue.db") {
		t.Fatalf("unexpected queue db path: %q", cfg.QueueDBPath())
	}
	if cfg.Analysis.APIKey != "test-key" {
		t.Fatalf("expected analysis key from env, got %q", cfg.Analysis.APIKey)
	}
	if err := cfg.RequireCollaborators(); err != nil {
		t.Fatalf("RequireCollaborators: %v", err)
	}
	if cfg.Retry.MaxAttempts != 4 || cfg.Retry.InitialDelayMs != 1000 || cfg.Retry.Multiplier != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
}

func TestNormalizeDerivesProbeTargets(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "nutrilog.toml")
	content := `
[analysis]
base_url = "https://vision.example.com/v1/chat"

[storage]
base_url = "http://health.local:8095/"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config to exist")
	}
	want := []string{"vision.example.com:443", "health.local:8095"}
	if strings.Join(cfg.Connectivity.ProbeTargets, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected probe targets: %v", cfg.Connectivity.ProbeTargets)
	}
	if cfg.Storage.BaseURL != "http://health.local:8095" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Storage.BaseURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"backend", func(c *config.Config) { c.Queue.Backend = "mongo" }, "queue.backend"},
		{"postgres dsn", func(c *config.Config) { c.Queue.Backend = "postgres" }, "postgres_dsn"},
		{"max attempts", func(c *config.Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"multiplier", func(c *config.Config) { c.Retry.Multiplier = 0.5 }, "retry.multiplier"},
		{"workers", func(c *config.Config) { c.Workflow.Workers = 0 }, "workflow.workers"},
		{"heartbeat", func(c *config.Config) { c.Workflow.HeartbeatTimeout = 1 }, "heartbeat_timeout"},
		{"analysis url", func(c *config.Config) { c.Analysis.BaseURL = "ftp://x" }, "analysis.base_url"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRequireCollaboratorsNeedsAPIKey(t *testing.T) {
	cfg := config.Default()
	if err := cfg.RequireCollaborators(); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Fatalf("unexpected sample max attempts %d", cfg.Retry.MaxAttempts)
	}

	t.Setenv("HOME", t.TempDir())
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("Load(sample): %v", err)
	}
}
