package config

const (
	defaultConfigPath             = "~/.config/nutrilog/config.toml"
	defaultDataDir                = "~/.local/share/nutrilog"
	defaultLogDir                 = "~/.local/share/nutrilog/logs"
	defaultSpoolDir               = "~/.local/share/nutrilog/spool"
	defaultAPIBind                = "127.0.0.1:7390"
	defaultQueueBackend           = "sqlite"
	defaultRetentionDays          = 30
	defaultMaxAttempts            = 4
	defaultInitialDelayMs         = 1000
	defaultMultiplier             = 2.0
	defaultWorkers                = 2
	defaultQueuePollInterval      = 5
	defaultErrorRetryInterval     = 10
	defaultAttemptTimeout         = 90
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultAnalysisBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultAnalysisModel          = "google/gemini-2.5-flash"
	defaultAnalysisReferer        = "https://github.com/nutrilog/nutrilog"
	defaultAnalysisTitle          = "nutrilog"
	defaultAnalysisTimeout        = 60
	defaultAnalysisRequestsPerMin = 30
	defaultStorageBaseURL         = "http://127.0.0.1:8095"
	defaultStorageSource          = "nutrilog"
	defaultStorageTimeout         = 20
	defaultConnectivityInterval   = 30
	defaultConnectivityTimeout    = 5
	defaultAuditStream            = "nutrilog:job-events"
	defaultAuditMaxLen            = 10000
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			SpoolDir: defaultSpoolDir,
			APIBind:  defaultAPIBind,
		},
		Queue: Queue{
			Backend:       defaultQueueBackend,
			RetentionDays: defaultRetentionDays,
		},
		Retry: Retry{
			MaxAttempts:    defaultMaxAttempts,
			InitialDelayMs: defaultInitialDelayMs,
			Multiplier:     defaultMultiplier,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			AttemptTimeout:     defaultAttemptTimeout,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Analysis: Analysis{
			BaseURL:           defaultAnalysisBaseURL,
			Model:             defaultAnalysisModel,
			Referer:           defaultAnalysisReferer,
			Title:             defaultAnalysisTitle,
			TimeoutSeconds:    defaultAnalysisTimeout,
			RequestsPerMinute: defaultAnalysisRequestsPerMin,
		},
		Storage: Storage{
			BaseURL:        defaultStorageBaseURL,
			Source:         defaultStorageSource,
			TimeoutSeconds: defaultStorageTimeout,
		},
		Connectivity: Connectivity{
			IntervalSeconds: defaultConnectivityInterval,
			TimeoutSeconds:  defaultConnectivityTimeout,
			Netlink:         true,
		},
		Audit: Audit{
			Stream: defaultAuditStream,
			MaxLen: defaultAuditMaxLen,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Failed:         true,
			Retained:       true,
		},
		Metrics: Metrics{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
