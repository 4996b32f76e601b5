package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nutrilog/internal/api"
	"nutrilog/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage logging jobs",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueHistoryCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "stats",
		Aliases: []string{"status"},
		Short:   "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(q queueAPI) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]column{leftCol("Status"), rightCol("Count")}, rows)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(q queueAPI) error {
				jobs, err := q.List(cmd.Context(), listStatuses)
				if err != nil {
					return err
				}
				if asJSON {
					if jobs == nil {
						jobs = []api.Job{}
					}
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]column{
					leftCol("ID"), leftCol("Photo"), leftCol("Status"),
					rightCol("Attempts"), leftCol("Captured"), leftCol("Result"),
				}, buildQueueListRows(jobs))
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withQueue(cmd, func(q queueAPI) error {
				job, err := q.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", id)
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderKeyValueTable(buildJobDetailRows(*job)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueHistoryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <job-id>",
		Short: "Show the recorded transitions of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withQueue(cmd, func(q queueAPI) error {
				events, err := q.History(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					if events == nil {
						events = []api.JobEvent{}
					}
					return writeJSON(cmd, events)
				}
				if len(events) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No history recorded for job %s\n", id)
					return nil
				}
				table := renderTable([]column{
					leftCol("Time"), leftCol("Event"), leftCol("Status"), rightCol("Attempt"), leftCol("Detail"),
				}, buildHistoryRows(events))
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Re-queue failed jobs whose photo was kept",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				results := make([]api.RetryResult, 0, len(args))
				var failures int
				for _, arg := range args {
					id := strings.TrimSpace(arg)
					result, err := client.Retry(cmd.Context(), id)
					if errors.Is(err, api.ErrDaemonUnavailable) {
						return err
					}
					if err != nil {
						failures++
						result.Error = retryErrorMessage(err)
					}
					results = append(results, result)
				}
				if asJSON {
					if err := writeJSON(cmd, results); err != nil {
						return err
					}
				} else {
					printRetryResults(out, results)
				}
				if failures > 0 {
					return fmt.Errorf("%d of %d retries failed", failures, len(args))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThanDays int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove finished jobs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThanDays < 0 {
				return errors.New("--older-than must be non-negative")
			}
			return ctx.withQueue(cmd, func(q queueAPI) error {
				removed, err := q.Purge(cmd.Context(), olderThanDays)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d finished jobs\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Age in days (0 uses queue.retention_days)")
	return cmd
}

// newQueueHealthCommand inspects the SQLite database file directly, so it
// works whether or not the daemon holds the store open.
func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the job database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Queue.Backend != "sqlite" {
				return fmt.Errorf("queue health is only available for the sqlite backend (configured: %s)", cfg.Queue.Backend)
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open queue database: %w", err)
			}
			defer store.Close()

			health, checkErr := store.CheckHealth(cmd.Context())
			if asJSON {
				if err := writeJSON(cmd, health); err != nil {
					return err
				}
				return checkErr
			}
			fmt.Fprint(cmd.OutOrStdout(), renderKeyValueTable([][]string{
				{"Database", health.DBPath},
				{"Exists", yesNo(health.DatabaseExists)},
				{"Readable", yesNo(health.DatabaseReadable)},
				{"Schema version", fmt.Sprintf("%d", health.SchemaVersion)},
				{"Integrity check", yesNo(health.IntegrityCheck)},
				{"Jobs", fmt.Sprintf("%d", health.TotalJobs)},
				{"Events", fmt.Sprintf("%d", health.TotalEvents)},
			}))
			if checkErr != nil {
				return checkErr
			}
			if !health.IntegrityCheck {
				return errors.New("queue database failed the integrity check")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
