package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nutrilog/internal/api"
	"nutrilog/internal/config"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var capturedAt string
	var importPhoto bool
	var offline bool
	var source string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <photo>...",
		Short: "Queue meal photos for analysis and logging",
		Long: "Queue meal photos for analysis and logging.\n\n" +
			"Without --import the daemon owns the original file and deletes it once the\n" +
			"record is stored. With --import the photo is copied into the spool first.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if capturedAt != "" {
				if _, err := time.Parse(time.RFC3339, capturedAt); err != nil {
					return fmt.Errorf("--captured-at must be RFC3339 (e.g. 2026-03-14T12:30:00Z): %w", err)
				}
			}
			return ctx.withClient(func(client *api.Client) error {
				results := make([]api.SubmitResponse, 0, len(args))
				for _, arg := range args {
					path, err := config.ExpandPath(strings.TrimSpace(arg))
					if err != nil {
						return fmt.Errorf("resolve %q: %w", arg, err)
					}
					resp, err := client.Submit(cmd.Context(), api.SubmitRequest{
						Path:       path,
						CapturedAt: capturedAt,
						Import:     importPhoto,
						Offline:    offline,
						Source:     source,
					})
					if err != nil {
						return fmt.Errorf("submit %s: %w", path, err)
					}
					results = append(results, resp)
					if !asJSON {
						fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as job %s (captured %s)\n",
							photoLabel(path), resp.JobID, formatDisplayTime(resp.CapturedAt))
					}
				}
				if asJSON {
					return writeJSON(cmd, results)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&capturedAt, "captured-at", "", "Capture time in RFC3339 (defaults to the file modification time)")
	cmd.Flags().BoolVar(&importPhoto, "import", false, "Copy the photo into the spool instead of consuming the original")
	cmd.Flags().BoolVar(&offline, "offline", false, "Allow the job to start without network connectivity")
	cmd.Flags().StringVar(&source, "source", "cli", "Label recorded with the job")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
