package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"nutrilog/internal/api"
	"nutrilog/internal/config"
	"nutrilog/internal/queue"
	"nutrilog/internal/queue/pgstore"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) client() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return api.NewClient(api.BaseURLFor(*c.apiFlag), cfg.Paths.APIToken), nil
	}
	return api.ClientFromConfig(cfg), nil
}

// withClient runs fn against the daemon API and rewrites connection failures
// into a hint to start the daemon.
func (c *commandContext) withClient(fn func(*api.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return wrapDaemonError(fn(client))
}

// withQueue runs fn against the daemon API, or against the job store directly
// when no daemon answers.
func (c *commandContext) withQueue(cmd *cobra.Command, fn func(queueAPI) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	err = fn(&queueHTTPAdapter{client: client})
	if !errors.Is(err, api.ErrDaemonUnavailable) {
		return err
	}

	cfg, _ := c.ensureConfig()
	store, openErr := openQueueStore(cmd.Context(), cfg)
	if openErr != nil {
		return fmt.Errorf("%w; direct store access failed: %v", wrapDaemonError(err), openErr)
	}
	defer store.Close()
	fmt.Fprintln(cmd.ErrOrStderr(), "Daemon not running; reading the job store directly")
	return fn(&queueStoreAdapter{store: store, retention: cfg.Queue.Retention()})
}

func openQueueStore(ctx context.Context, cfg *config.Config) (queue.Store, error) {
	switch cfg.Queue.Backend {
	case "sqlite":
		return queue.Open(cfg)
	case "postgres":
		return pgstore.Open(ctx, cfg.Queue.PostgresDSN)
	default:
		return nil, fmt.Errorf("queue backend %q keeps no state outside the daemon", cfg.Queue.Backend)
	}
}

func wrapDaemonError(err error) error {
	if errors.Is(err, api.ErrDaemonUnavailable) {
		return fmt.Errorf("%w; start it with `nutrilog daemon`", err)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
