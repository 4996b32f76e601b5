package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"nutrilog/internal/api"
	"nutrilog/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, collaborator and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			status, err := client.Status(cmd.Context())
			running := err == nil
			if err != nil && !errors.Is(err, api.ErrDaemonUnavailable) {
				return err
			}
			if !running {
				// Without a daemon, run the same checks locally and read counts
				// straight from the store when it persists outside the process.
				status = api.DaemonStatus{
					QueueBackend: cfg.Queue.Backend,
					LockFilePath: cfg.LockPath(),
					SpoolDir:     cfg.Paths.SpoolDir,
					Preflight:    api.FromPreflight(preflight.RunAll(cmd.Context(), cfg)),
				}
				if cfg.Queue.Backend == "sqlite" {
					status.QueueDBPath = cfg.QueueDBPath()
				}
				if store, openErr := openQueueStore(cmd.Context(), cfg); openErr == nil {
					if stats, statsErr := store.Stats(cmd.Context()); statsErr == nil {
						status.Scheduler.QueueStats = api.MergeQueueStats(stats)
					}
					store.Close()
				}
			}

			if asJSON {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonLines(status, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Checks", colorize) {
				fmt.Fprintln(stdout, line)
			}
			var health *api.ComponentHealth
			if running {
				health = &status.Scheduler.Health
			}
			for _, line := range checkLines(health, status.Preflight, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Queue", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildQueueStatusRows(status.Scheduler.QueueStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprint(stdout, renderTable([]column{leftCol("Status"), rightCol("Count")}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
