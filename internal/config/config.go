package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	SpoolDir string `toml:"spool_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Queue selects the durable job store backend.
type Queue struct {
	Backend       string `toml:"backend"`
	PostgresDSN   string `toml:"postgres_dsn"`
	RetentionDays int    `toml:"retention_days"`
}

// Retry holds the backoff policy applied to retryable attempt failures.
type Retry struct {
	MaxAttempts    int     `toml:"max_attempts"`
	InitialDelayMs int     `toml:"initial_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
	MaxDelayMs     int     `toml:"max_delay_ms"`
}

// Workflow contains configuration for the scheduler loop and worker pool.
type Workflow struct {
	Workers            int `toml:"workers"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	AttemptTimeout     int `toml:"attempt_timeout"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Analysis configures the remote photo analysis service.
type Analysis struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	Referer           string `toml:"referer"`
	Title             string `toml:"title"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Storage configures the health-data store that receives nutrition records.
type Storage struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	Source         string `toml:"source"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Connectivity configures the network constraint probe.
type Connectivity struct {
	ProbeTargets    []string `toml:"probe_targets"`
	IntervalSeconds int      `toml:"interval_seconds"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
	Netlink         bool     `toml:"netlink"`
}

// Audit configures the optional Redis stream mirror of job events.
type Audit struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Stream        string `toml:"stream"`
	MaxLen        int64  `toml:"max_len"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Succeeded      bool   `toml:"succeeded"`
	Failed         bool   `toml:"failed"`
	Retained       bool   `toml:"retained"`
}

// Metrics toggles the prometheus endpoint on the API server.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for nutrilog.
//
// Configuration sections by subsystem:
//   - Paths: data, log and spool directories plus the API bind address
//   - Queue: job store backend (sqlite, postgres, memory) and retention
//   - Retry: attempt ceiling and exponential backoff
//   - Workflow: worker pool size, polling, attempt timeout and heartbeats
//   - Analysis: remote photo analysis service
//   - Storage: health-data store receiving nutrition records
//   - Connectivity: network constraint probing
//   - Audit: Redis stream mirror of job events
//   - Notifications: ntfy push notification settings
//   - Metrics: prometheus exposition
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Retry         Retry         `toml:"retry"`
	Workflow      Workflow      `toml:"workflow"`
	Analysis      Analysis      `toml:"analysis"`
	Storage       Storage       `toml:"storage"`
	Connectivity  Connectivity  `toml:"connectivity"`
	Audit         Audit         `toml:"audit"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("nutrilog.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.SpoolDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite queue database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "nutrilogd.lock")
}

// PollInterval returns the scheduler's idle polling interval.
func (w Workflow) PollInterval() time.Duration {
	return time.Duration(w.QueuePollInterval) * time.Second
}

// ErrorBackoff returns how long the scheduler pauses after a store error.
func (w Workflow) ErrorBackoff() time.Duration {
	return time.Duration(w.ErrorRetryInterval) * time.Second
}

// AttemptBound returns the bounded execution time of a single attempt.
func (w Workflow) AttemptBound() time.Duration {
	return time.Duration(w.AttemptTimeout) * time.Second
}

// HeartbeatEvery returns the interval between heartbeat refreshes.
func (w Workflow) HeartbeatEvery() time.Duration {
	return time.Duration(w.HeartbeatInterval) * time.Second
}

// HeartbeatExpiry returns the age after which a running job counts as stalled.
func (w Workflow) HeartbeatExpiry() time.Duration {
	return time.Duration(w.HeartbeatTimeout) * time.Second
}

// Retention returns how long finalized jobs stay in the active table.
func (q Queue) Retention() time.Duration {
	return time.Duration(q.RetentionDays) * 24 * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
