package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validateConnectivity(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be non-negative")
	}
	return nil
}

// RequireCollaborators checks the credentials the daemon needs before it can
// run attempts. CLI commands that only read the queue skip this check.
func (c *Config) RequireCollaborators() error {
	if strings.TrimSpace(c.Analysis.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("analysis.api_key is required. Set NUTRILOG_ANALYSIS_API_KEY or edit %s (create with 'nutrilog config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(c.Queue.PostgresDSN) == "" {
			return errors.New("queue.postgres_dsn is required when queue.backend is postgres")
		}
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (want sqlite, postgres or memory)", c.Queue.Backend)
	}
	if c.Queue.RetentionDays < 0 {
		return errors.New("queue.retention_days must be non-negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialDelayMs < 0 || c.Retry.MaxDelayMs < 0 {
		return errors.New("retry delays must be non-negative")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be at least 1")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	if w.Workers < 1 {
		return errors.New("workflow.workers must be at least 1")
	}
	if w.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if w.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if w.AttemptTimeout <= 0 {
		return errors.New("workflow.attempt_timeout must be positive")
	}
	if w.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if w.HeartbeatTimeout <= w.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	for name, raw := range map[string]string{
		"analysis.base_url": c.Analysis.BaseURL,
		"storage.base_url":  c.Storage.BaseURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
		}
	}
	if c.Analysis.RequestsPerMinute < 0 {
		return errors.New("analysis.requests_per_minute must be non-negative")
	}
	return nil
}

func (c *Config) validateConnectivity() error {
	for _, target := range c.Connectivity.ProbeTargets {
		if _, _, err := net.SplitHostPort(target); err != nil {
			return fmt.Errorf("connectivity.probe_targets: %q is not host:port: %w", target, err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be non-negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
