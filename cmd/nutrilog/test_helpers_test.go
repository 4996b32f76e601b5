package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"nutrilog/internal/artifact"
	"nutrilog/internal/config"
	"nutrilog/internal/daemon"
	"nutrilog/internal/lifecycle"
	"nutrilog/internal/logging"
	"nutrilog/internal/queue"
	"nutrilog/internal/scheduler"
	"nutrilog/internal/stage"
	"nutrilog/internal/submit"
	"nutrilog/internal/testsupport"
)

// scriptedExecutor succeeds unless the photo name contains "fail", in which
// case the attempt fails terminally and keeps the photo.
type scriptedExecutor struct{}

func (scriptedExecutor) Execute(_ context.Context, attempt stage.Attempt) stage.Outcome {
	if strings.Contains(filepath.Base(attempt.Job.Input.ArtifactRef), "fail") {
		return stage.Terminal(errors.New("photo does not show food"), "analysis_rejected", true)
	}
	return stage.Success(stage.AnalysisRecord{Calories: 420, Description: "Oatmeal with berries"}, "rec-1")
}

func (scriptedExecutor) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("scripted")
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.SQLiteStore
	daemon     *daemon.Daemon
	logs       *logging.StreamHub
	configPath string
	photoDir   string
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))

	collaborator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(collaborator.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithEndpoints(collaborator.URL, collaborator.URL))
	cfg.Queue.Backend = "sqlite"
	cfg.Paths.APIToken = "cli-secret"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return cfg
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	logs := logging.NewStreamHub(64)
	files := artifact.NewManager(cfg.Paths.SpoolDir)
	sched := scheduler.New(scheduler.SettingsFrom(cfg), store, scriptedExecutor{}, files,
		lifecycle.NewManager(files, logger), scheduler.WithLogger(logger))

	d, err := daemon.New(cfg, logger, daemon.Components{
		Store:     store,
		Scheduler: sched,
		Submitter: submit.New(files, sched),
		Logs:      logs,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Stop()
	})

	cfg.Paths.APIBind = d.APIAddress()
	env := &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		logs:       logs,
		configPath: writeTestConfig(t, cfg),
		photoDir:   t.TempDir(),
	}
	return env
}

// unusedAddress returns a loopback address nothing listens on.
func unusedAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "nutrilog.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func (env *cliTestEnv) submitPhoto(t *testing.T, name string) string {
	t.Helper()
	photo := testsupport.WritePhoto(t, env.photoDir, name)
	out, _, err := runCLI(t, []string{"submit", "--import", photo}, env.configPath)
	if err != nil {
		t.Fatalf("submit %s: %v", name, err)
	}
	fields := strings.Fields(out)
	for i, field := range fields {
		if field == "job" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	t.Fatalf("submit output has no job id: %q", out)
	return ""
}

func (env *cliTestEnv) waitTerminal(t *testing.T, id string) *queue.Job {
	t.Helper()
	var job *queue.Job
	waitFor(t, 5*time.Second, func() bool {
		var err error
		job, err = env.store.Get(context.Background(), id)
		return err == nil && job != nil && job.Status.IsTerminal()
	})
	return job
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func requireNotContains(t *testing.T, output, substr string) {
	t.Helper()
	if strings.Contains(output, substr) {
		t.Fatalf("expected %q not to contain %q", output, substr)
	}
}
