package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"montage/internal/api"
)

// Scene controls act on the live run, so they always go through the daemon
// API; there is no store fallback.
func newSceneCommand(ctx *commandContext) *cobra.Command {
	sceneCmd := &cobra.Command{
		Use:   "scene",
		Short: "Control scenes of the active run",
	}

	sceneCmd.AddCommand(newScenePauseCommand(ctx))
	sceneCmd.AddCommand(newSceneResumeCommand(ctx))
	sceneCmd.AddCommand(newSceneRetryCommand(ctx))
	sceneCmd.AddCommand(newSceneSkipCommand(ctx))

	return sceneCmd
}

func newScenePauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause every scene of the running storyboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBoardID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.requireClient(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := client.PauseRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			printSceneAction(cmd, resp, "Run paused")
			return nil
		},
	}
}

func newSceneResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBoardID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.requireClient(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := client.ResumeRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			printSceneAction(cmd, resp, "Run resumed")
			return nil
		},
	}
}

func newSceneRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id> <scene>",
		Short: "Rewind one scene to its failed stage and retry it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, index, err := parseSceneRef(args)
			if err != nil {
				return err
			}
			client, err := ctx.requireClient(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := client.RetryScene(cmd.Context(), id, index)
			if err != nil {
				return err
			}
			printSceneAction(cmd, resp, fmt.Sprintf("Scene %d reset for retry", index))
			return nil
		},
	}
}

func newSceneSkipCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <id> <scene>",
		Short: "Advance one scene past its current stage using the existing artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, index, err := parseSceneRef(args)
			if err != nil {
				return err
			}
			client, err := ctx.requireClient(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := client.SkipScene(cmd.Context(), id, index)
			if err != nil {
				return err
			}
			if !resp.Applied {
				detail := strings.TrimSpace(resp.Detail)
				if detail == "" {
					detail = "no artifact available to skip to"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scene %d not skipped: %s\n", index, detail)
				return nil
			}
			printSceneAction(cmd, resp, fmt.Sprintf("Scene %d advanced", index))
			return nil
		},
	}
}

func printSceneAction(cmd *cobra.Command, resp api.SceneActionResponse, fallback string) {
	detail := strings.TrimSpace(resp.Detail)
	if detail == "" {
		fmt.Fprintln(cmd.OutOrStdout(), fallback)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(detail[:1])+detail[1:])
}

func parseSceneRef(args []string) (int64, int, error) {
	id, err := parseBoardID(args[0])
	if err != nil {
		return 0, 0, err
	}
	index, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil || index < 0 {
		return 0, 0, fmt.Errorf("invalid scene index %q", args[1])
	}
	return id, index, nil
}
