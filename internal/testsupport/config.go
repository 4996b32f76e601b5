package testsupport

import (
	"path/filepath"
	"testing"

	"nutrilog/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SpoolDir = filepath.Join(base, "spool")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Analysis.APIKey = "test"
	cfgVal.Storage.Token = "test"
	cfgVal.Connectivity.Netlink = false
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Audit.RedisAddr = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithEndpoints points both collaborators at test servers.
func WithEndpoints(analysisURL, storageURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Analysis.BaseURL = analysisURL
		b.cfg.Storage.BaseURL = storageURL
	}
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = n
	}
}

// WithFastRetry shrinks the backoff so retry scenarios finish quickly.
func WithFastRetry() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry.InitialDelayMs = 1
		b.cfg.Retry.MaxDelayMs = 5
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
