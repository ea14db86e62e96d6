package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"montage/internal/daemon"
	"montage/internal/logging"
	"montage/internal/manifest"
	"montage/internal/queue"
)

const runPollInterval = 300 * time.Millisecond

// newRunCommand processes one manifest in the foreground: enqueue, drive the
// queue runner in-process, and report progress until the run settles. It
// refuses to race a live daemon over the same queue.
func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run a storyboard manifest in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := resolveManifestPath(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			if client, err := ctx.client(); err == nil && client != nil {
				if err := client.Health(cmd.Context()); err == nil {
					return fmt.Errorf("daemon is running at %s; use `montage add` to enqueue", ctx.apiBind())
				}
			}

			file, err := manifest.Load(absPath)
			if err != nil {
				return err
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open queue store: %w", err)
			}
			defer store.Close()

			runCtx := cmd.Context()
			stats, err := store.Stats(runCtx)
			if err != nil {
				return err
			}
			if unfinished := stats[queue.StatusPending] + stats[queue.StatusRunning]; unfinished > 0 {
				return fmt.Errorf("queue has %d unfinished storyboards; start the daemon to drain them or clear the queue first", unfinished)
			}

			board, err := store.Add(runCtx, file, cfg.Generation.DefaultClipSeconds)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processing storyboard #%d: %s (%d scenes)\n", board.ID, board.Title, board.SceneCount)

			logger := slog.New(logging.NewConsoleHandler(cmd.ErrOrStderr(), logging.ParseLevel(cfg.Logging.Level), false))
			runner := daemon.NewRunner(cfg, store, logger)
			if err := runner.Start(runCtx); err != nil {
				return err
			}
			defer runner.Stop()

			settled, err := watchBoard(cmd, store, board.ID)
			if err != nil {
				return err
			}
			return reportRunOutcome(cmd, settled)
		},
	}
}

// watchBoard polls the stored row and prints progress changes until the
// board leaves pending/running.
func watchBoard(cmd *cobra.Command, store *queue.Store, id int64) (*queue.Storyboard, error) {
	runCtx := cmd.Context()
	out := cmd.OutOrStdout()
	ticker := time.NewTicker(runPollInterval)
	defer ticker.Stop()

	lastProgress := ""
	for {
		select {
		case <-runCtx.Done():
			return nil, runCtx.Err()
		case <-ticker.C:
		}

		board, err := store.GetByID(runCtx, id)
		if err != nil {
			return nil, err
		}
		if board == nil {
			return nil, fmt.Errorf("storyboard %d disappeared from the queue", id)
		}

		if line := formatRunProgress(board); line != "" && line != lastProgress {
			fmt.Fprintln(out, line)
			lastProgress = line
		}

		switch board.Status {
		case queue.StatusPending, queue.StatusRunning:
		default:
			return board, nil
		}
	}
}

func formatRunProgress(board *queue.Storyboard) string {
	if board.ProgressStage == "" && board.ProgressMessage == "" {
		return ""
	}
	line := fmt.Sprintf("  %-10s %3.0f%%", board.ProgressStage, board.ProgressPercent)
	if board.ProgressMessage != "" {
		line += "  " + board.ProgressMessage
	}
	return line
}

func reportRunOutcome(cmd *cobra.Command, board *queue.Storyboard) error {
	out := cmd.OutOrStdout()
	switch board.Status {
	case queue.StatusCompleted:
		fmt.Fprintf(out, "Run complete: %s (%d/%d scenes)\n", board.Title, board.SucceededScenes, board.SceneCount)
		return nil
	case queue.StatusReview:
		fmt.Fprintf(out, "Run needs review: %s\n", board.Title)
		if board.ReviewReason != "" {
			fmt.Fprintf(out, "Reason: %s\n", board.ReviewReason)
		}
		return nil
	case queue.StatusFailed:
		if board.ErrorMessage != "" {
			return fmt.Errorf("run failed: %s", board.ErrorMessage)
		}
		return fmt.Errorf("run failed: %s", board.Title)
	default:
		return fmt.Errorf("run ended in unexpected status %q", board.Status)
	}
}
