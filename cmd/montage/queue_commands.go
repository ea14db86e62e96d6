package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"montage/internal/api"
	"montage/internal/queue"
	"montage/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the storyboard queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(runCtx context.Context, access queueaccess.Access) error {
				stats, err := access.Stats(runCtx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueStatsResponse{Counts: stats})
				}

				total := 0
				for _, count := range stats {
					total += count
				}
				if total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := buildQueueStatusRows(stats)
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}, shouldColorize(cmd.OutOrStdout()))
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued storyboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(runCtx context.Context, access queueaccess.Access) error {
				boards, err := access.List(runCtx, listStatuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueListResponse{Boards: boards})
				}
				if len(boards) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Title", "Status", "Scenes", "Progress", "Created"},
					buildBoardRows(boards),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
					shouldColorize(cmd.OutOrStdout()),
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by queue status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one storyboard with its scenes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBoardID(args[0])
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd, func(runCtx context.Context, access queueaccess.Access) error {
				resp, err := access.Describe(runCtx, id)
				if err != nil {
					return err
				}
				if resp == nil {
					return fmt.Errorf("storyboard %d not found", id)
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}

				out := cmd.OutOrStdout()
				board := resp.Board
				fmt.Fprintf(out, "Storyboard #%d: %s\n", board.ID, board.Title)
				fmt.Fprintf(out, "Status: %s\n", formatStatusLabel(board.Status))
				if progress := formatBoardProgress(board); progress != "-" {
					fmt.Fprintf(out, "Progress: %s", progress)
					if msg := strings.TrimSpace(board.Progress.Message); msg != "" {
						fmt.Fprintf(out, " (%s)", msg)
					}
					fmt.Fprintln(out)
				}
				if board.ErrorMessage != "" {
					fmt.Fprintf(out, "Error: %s\n", board.ErrorMessage)
				}
				if board.ReviewReason != "" {
					fmt.Fprintf(out, "Review: %s\n", board.ReviewReason)
				}
				if len(resp.Scenes) == 0 {
					fmt.Fprintln(out, "No scenes recorded")
					return nil
				}
				table := renderTable(
					[]string{"#", "Stage", "Clip", "Prompt", "Detail"},
					buildSceneRows(resp.Scenes),
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
					shouldColorize(out),
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Retry failed storyboards",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseBoardIDs(args)
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd, func(runCtx context.Context, access queueaccess.Access) error {
				out := cmd.OutOrStdout()
				if len(ids) == 0 {
					updated, err := access.RetryAll(runCtx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Retried %d failed storyboards\n", updated)
					return nil
				}

				for _, id := range ids {
					resp, err := access.Describe(runCtx, id)
					if err != nil {
						return err
					}
					if resp == nil {
						fmt.Fprintf(out, "Storyboard %d not found\n", id)
						continue
					}
					if resp.Board.Status != string(queue.StatusFailed) {
						fmt.Fprintf(out, "Storyboard %d is not in failed state\n", id)
						continue
					}
					updated, err := access.Retry(runCtx, []int64{id})
					if err != nil {
						return err
					}
					if updated > 0 {
						fmt.Fprintf(out, "Storyboard %d reset for retry\n", id)
					} else {
						fmt.Fprintf(out, "Storyboard %d is not in failed state\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id...>",
		Short: "Remove storyboards from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseBoardIDs(args)
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd, func(runCtx context.Context, access queueaccess.Access) error {
				removed, err := access.Remove(runCtx, ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d storyboards\n", removed)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear completed storyboards from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearFailed && clearAll {
				return errors.New("specify only one of --failed or --all")
			}
			return ctx.withQueue(cmd, func(runCtx context.Context, access queueaccess.Access) error {
				out := cmd.OutOrStdout()
				switch {
				case clearAll:
					removed, err := access.ClearAll(runCtx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d storyboards\n", removed)
				case clearFailed:
					removed, err := access.ClearFailed(runCtx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d failed storyboards\n", removed)
				default:
					removed, err := access.ClearCompleted(runCtx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d completed storyboards\n", removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Clear failed storyboards instead")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Clear every storyboard regardless of status")
	return cmd
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return in-flight storyboards to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd, func(runCtx context.Context, access queueaccess.Access) error {
				updated, err := access.ResetStuck(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d storyboards\n", updated)
				return nil
			})
		},
	}
}

func parseBoardID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid storyboard id %q", arg)
	}
	return id, nil
}

func parseBoardIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseBoardID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
