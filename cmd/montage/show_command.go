package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"montage/internal/logging"
	"montage/internal/logs"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			// A nil *Client must stay a nil interface so Stream falls back
			// to the file.
			var remote logs.RemoteTailer
			if client != nil {
				remote = client
			}

			printed, err := logs.Stream(
				cmd.Context(),
				remote,
				logging.DaemonLogPath(cfg),
				logs.StreamOptions{Lines: lines, Follow: follow},
				func(line string) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				},
			)
			if err != nil {
				if cmd.Context().Err() != nil {
					return nil
				}
				return fmt.Errorf("tail logs: %w", err)
			}
			if !printed && !follow {
				fmt.Fprintln(cmd.OutOrStdout(), "No log entries available")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show")
	return cmd
}
