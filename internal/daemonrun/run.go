package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"nutrilog/internal/artifact"
	"nutrilog/internal/audit"
	"nutrilog/internal/config"
	"nutrilog/internal/connectivity"
	"nutrilog/internal/daemon"
	"nutrilog/internal/events"
	"nutrilog/internal/executor"
	"nutrilog/internal/lifecycle"
	"nutrilog/internal/logging"
	"nutrilog/internal/metrics"
	"nutrilog/internal/notifications"
	"nutrilog/internal/queue"
	"nutrilog/internal/queue/pgstore"
	"nutrilog/internal/scheduler"
	"nutrilog/internal/services/analysis"
	"nutrilog/internal/services/healthstore"
	"nutrilog/internal/submit"
)

const (
	logPointerName  = "nutrilogd.log"
	eventBusHistory = 1024
	logHubCapacity  = 4096
	observerTimeout = 10 * time.Second
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Diagnostic  bool
	Version     string
}

// Run starts the nutrilog daemon and blocks until SIGINT, SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.RequireCollaborators(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("nutrilogd-%s.log", runID))
	logHub := logging.NewStreamHub(logHubCapacity)

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
		Stream:      logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
	var debugLogPath string
	if opts.Diagnostic {
		logger, debugLogPath = enableDiagnostics(logger, debugDir, runID)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logPointerName, err)
	}
	pruned := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "nutrilogd-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: debugDir, Pattern: "nutrilogd-*.log", Exclude: []string{debugLogPath}},
	)
	if pruned > 0 {
		logger.Info("pruned old log files", logging.Int("removed", pruned), logging.Int("retention_days", cfg.Logging.RetentionDays))
	}
	logRuntimeSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "nutrilogd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := openStore(signalCtx, cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open queue store", "queue_open_failed",
			logging.Error(err),
			logging.String("backend", cfg.Queue.Backend),
			logging.String(logging.FieldErrorHint, "check queue.backend and database access"),
		)
		return err
	}

	files := artifact.NewManager(cfg.Paths.SpoolDir)
	analyzer := analysis.NewClient(analysis.ConfigFrom(cfg.Analysis))
	recorder := healthstore.NewClient(healthstore.ConfigFrom(cfg.Storage), nil)
	exec := executor.New(files, analyzer, recorder, logger)
	cleaner := lifecycle.NewManager(files, logger)
	monitor := connectivity.NewMonitor(cfg.Connectivity, logger)

	bus := events.NewBus(eventBusHistory, logger)
	hub := events.NewHub(bus, logger)
	bus.Register("hub", hub)

	var recorderMetrics *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorderMetrics = metrics.New(store)
		bus.Register("metrics", recorderMetrics)
		changes := monitor.Subscribe()
		go mirrorOnline(signalCtx, monitor, changes, recorderMetrics)
	}

	if audit.Enabled(cfg.Audit) {
		stream, err := audit.Open(signalCtx, cfg.Audit, logger)
		if err != nil {
			logging.WarnWithContext(logger, "audit stream unavailable", "audit_open_failed",
				logging.Error(err),
				logging.String("redis_addr", cfg.Audit.RedisAddr),
				logging.String(logging.FieldErrorHint, "check audit.redis_addr and that Redis is reachable"),
				logging.String(logging.FieldImpact, "job events are not mirrored to Redis"),
			)
		} else {
			auditObserver := events.Async("audit", stream, 256, observerTimeout, logger)
			bus.Register("audit", auditObserver)
			defer stream.Close()
			defer closeObserver(auditObserver)
		}
	}

	notifier := notifications.NewService(cfg)
	notifyTimeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	notifyObserver := events.Async("notifications",
		notifications.NewObserver(notifier, cfg.Notifications, logger), 64, notifyTimeout, logger)
	bus.Register("notifications", notifyObserver)
	defer closeObserver(notifyObserver)

	sched := scheduler.New(scheduler.SettingsFrom(cfg), store, exec, files, cleaner,
		scheduler.WithGate(monitor),
		scheduler.WithGateWakeups(monitor.Subscribe()),
		scheduler.WithEvents(bus),
		scheduler.WithLogger(logger),
	)

	d, err := daemon.New(cfg, logger, daemon.Components{
		Store:     store,
		Scheduler: sched,
		Submitter: submit.New(files, sched),
		Hub:       hub,
		Monitor:   monitor,
		Logs:      logHub,
		Metrics:   recorderMetrics,
		Version:   opts.Version,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file, api_bind and queue database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("nutrilog daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (queue.Store, error) {
	switch cfg.Queue.Backend {
	case "postgres":
		return pgstore.Open(ctx, cfg.Queue.PostgresDSN)
	case "memory":
		return queue.NewMemoryStore(), nil
	default:
		return queue.Open(cfg)
	}
}

func enableDiagnostics(logger *slog.Logger, debugDir, runID string) (*slog.Logger, string) {
	sessionID := uuid.NewString()
	debugLogPath := filepath.Join(debugDir, fmt.Sprintf("nutrilogd-%s.log", runID))
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to create debug log directory: %v\n", err)
		return logger, ""
	}
	debugLogger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{debugLogPath},
		Development: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", err)
		return logger, ""
	}
	logger = logging.TeeLogger(logger, debugLogger.Handler())
	if err := ensureCurrentLogPointer(debugDir, debugLogPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update debug/%s link: %v\n", logPointerName, err)
	}
	logger.Info("diagnostic mode enabled",
		logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
		logging.String("session_id", sessionID),
		logging.String("debug_log_path", debugLogPath),
	)
	return logger, debugLogPath
}

// mirrorOnline keeps the connectivity gauge in step with the monitor.
func mirrorOnline(ctx context.Context, monitor *connectivity.Monitor, changes <-chan struct{}, rec *metrics.Recorder) {
	rec.SetOnline(monitor.Online())
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			rec.SetOnline(monitor.Online())
		}
	}
}

func closeObserver(observer *events.AsyncObserver) {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()
	_ = observer.Close(ctx)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logPointerName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logRuntimeSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String("queue_backend", cfg.Queue.Backend),
		logging.Int("workers", cfg.Workflow.Workers),
		logging.Int("max_attempts", cfg.Retry.MaxAttempts),
		logging.String("analysis_model", cfg.Analysis.Model),
		logging.Bool("analysis_key_present", strings.TrimSpace(cfg.Analysis.APIKey) != ""),
		logging.String("storage_url", cfg.Storage.BaseURL),
		logging.Bool("storage_token_present", strings.TrimSpace(cfg.Storage.Token) != ""),
		logging.Int("probe_targets", len(cfg.Connectivity.ProbeTargets)),
		logging.Bool("netlink", cfg.Connectivity.Netlink),
		logging.Bool("audit_enabled", audit.Enabled(cfg.Audit)),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
		logging.String("api_bind", cfg.Paths.APIBind),
	)
}
