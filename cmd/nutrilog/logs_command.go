package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"nutrilog/internal/api"
	"nutrilog/internal/logging"
)

const followBatch = 200

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	var jobID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines <= 0 {
				return errors.New("--lines must be positive")
			}
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				job := strings.TrimSpace(jobID)

				resp, err := client.Logs(cmd.Context(), 0, lines, false, job)
				if err != nil {
					return err
				}
				printLogEvents(out, resp.Events)
				if !follow {
					return nil
				}

				followCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				since := resp.Next
				for {
					resp, err := client.Logs(followCtx, since, followBatch, true, job)
					if followCtx.Err() != nil {
						return nil
					}
					if err != nil && !errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					printLogEvents(out, resp.Events)
					if resp.Next > since {
						since = resp.Next
					}
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent lines to show")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show lines for this job id")
	return cmd
}

func printLogEvents(out io.Writer, events []logging.LogEvent) {
	for _, ev := range events {
		fmt.Fprintln(out, formatLogEvent(ev))
	}
}

func formatLogEvent(ev logging.LogEvent) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.Local().Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(ev.Level))
	if ev.Component != "" {
		b.WriteString(" [" + ev.Component + "]")
	}
	b.WriteByte(' ')
	b.WriteString(ev.Message)
	if ev.JobID != "" {
		b.WriteString(" job=" + ev.JobID)
	}
	keys := make([]string, 0, len(ev.Fields))
	for key := range ev.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := ev.Fields[key]
		if strings.ContainsAny(value, " \t") {
			value = fmt.Sprintf("%q", value)
		}
		b.WriteString(" " + key + "=" + value)
	}
	return b.String()
}
