package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeAnalysis()
	c.normalizeStorage()
	c.normalizeConnectivity()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SpoolDir) == "" {
		c.Paths.SpoolDir = defaultSpoolDir
	}
	if c.Paths.SpoolDir, err = expandPath(c.Paths.SpoolDir); err != nil {
		return fmt.Errorf("paths.spool_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("NUTRILOG_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	if c.Queue.PostgresDSN == "" {
		if value, ok := os.LookupEnv("NUTRILOG_POSTGRES_DSN"); ok {
			c.Queue.PostgresDSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeAnalysis() {
	if c.Analysis.APIKey == "" {
		for _, key := range []string{"NUTRILOG_ANALYSIS_API_KEY", "OPENROUTER_API_KEY"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.Analysis.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	c.Analysis.BaseURL = strings.TrimSpace(c.Analysis.BaseURL)
	if c.Analysis.BaseURL == "" {
		c.Analysis.BaseURL = defaultAnalysisBaseURL
	}
	c.Analysis.Model = strings.TrimSpace(c.Analysis.Model)
	if c.Analysis.Model == "" {
		c.Analysis.Model = defaultAnalysisModel
	}
	if c.Analysis.TimeoutSeconds <= 0 {
		c.Analysis.TimeoutSeconds = defaultAnalysisTimeout
	}
}

func (c *Config) normalizeStorage() {
	if c.Storage.Token == "" {
		if value, ok := os.LookupEnv("NUTRILOG_STORAGE_TOKEN"); ok {
			c.Storage.Token = strings.TrimSpace(value)
		}
	}
	c.Storage.BaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.BaseURL), "/")
	if c.Storage.BaseURL == "" {
		c.Storage.BaseURL = defaultStorageBaseURL
	}
	if strings.TrimSpace(c.Storage.Source) == "" {
		c.Storage.Source = defaultStorageSource
	}
	if c.Storage.TimeoutSeconds <= 0 {
		c.Storage.TimeoutSeconds = defaultStorageTimeout
	}
}

// normalizeConnectivity derives probe targets from the collaborator URLs when
// none are configured.
func (c *Config) normalizeConnectivity() {
	targets := make([]string, 0, len(c.Connectivity.ProbeTargets))
	for _, target := range c.Connectivity.ProbeTargets {
		if trimmed := strings.TrimSpace(target); trimmed != "" {
			targets = append(targets, trimmed)
		}
	}
	if len(targets) == 0 {
		for _, raw := range []string{c.Analysis.BaseURL, c.Storage.BaseURL} {
			if hostPort := hostPortFromURL(raw); hostPort != "" {
				targets = appendUnique(targets, hostPort)
			}
		}
	}
	c.Connectivity.ProbeTargets = targets
	if c.Connectivity.IntervalSeconds <= 0 {
		c.Connectivity.IntervalSeconds = defaultConnectivityInterval
	}
	if c.Connectivity.TimeoutSeconds <= 0 {
		c.Connectivity.TimeoutSeconds = defaultConnectivityTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func hostPortFromURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	port := parsed.Port()
	if port == "" {
		switch parsed.Scheme {
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}
	return net.JoinHostPort(parsed.Hostname(), port)
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
