package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"montage/internal/daemonclient"
	"montage/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			// Prefer the daemon so the test exercises the same service the
			// runner uses; fall back to a local send when it is down.
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if client != nil {
				resp, err := client.TestNotification(cmd.Context())
				if err == nil {
					switch {
					case strings.TrimSpace(resp.Detail) != "":
						fmt.Fprintln(cmd.OutOrStdout(), resp.Detail)
					case resp.Sent:
						fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
					default:
						fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
					}
					return nil
				}
				if !daemonclient.IsUnavailable(err) {
					return err
				}
			}

			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Notifications are not configured; set notifications.ntfy_topic")
				return nil
			}
			if err := notifications.NewService(cfg).Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
