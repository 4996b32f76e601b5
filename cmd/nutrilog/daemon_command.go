package main

import (
	"github.com/spf13/cobra"

	"nutrilog/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var diagnostic bool
	var logLevel string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the nutrilog daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: logLevel == "debug",
				Diagnostic:  diagnostic,
				Version:     version,
			})
		},
	}
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Also write a DEBUG JSON log under log_dir/debug")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for this run")
	return cmd
}
