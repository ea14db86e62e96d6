package daemon

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"montage/internal/logging"
	"montage/internal/notifications"
	"montage/internal/pipeline"
	"montage/internal/queue"
)

// finishBoard maps the run outcome onto the queue row and emits the
// matching notifications.
func (r *Runner) finishBoard(ctx context.Context, logger *slog.Logger, board *queue.Storyboard, summary pipeline.RunSummary, runErr error) error {
	board.SucceededScenes = summary.Succeeded
	board.FailedScenes = summary.Failed

	if runErr == nil && summary.Failed > 0 {
		runErr = summary.Err()
	}

	if runErr == nil {
		board.Status = queue.StatusCompleted
		board.ErrorMessage = ""
		board.ReviewReason = ""
		board.LastHeartbeat = nil
		board.SetProgress("Completed", summary.String(), 100)
		if err := r.store.Update(ctx, board); err != nil {
			logger.Error("persist completed status", logging.Error(err))
			return err
		}
		logger.Info("run completed",
			logging.Int("succeeded", summary.Succeeded),
			logging.Duration("duration", summary.Duration))
		r.publish(ctx, notifications.EventRunCompleted, notifications.Payload{
			"title":     board.Title,
			"succeeded": strconv.Itoa(summary.Succeeded),
			"scenes":    strconv.Itoa(summary.Total),
			"duration":  summary.Duration.Round(time.Second).String(),
		})
		return nil
	}

	// A shutdown mid-run leaves the row in running status; reclaim returns
	// it to pending when the daemon comes back.
	if ctx.Err() != nil || errors.Is(runErr, context.Canceled) {
		logger.Info("run interrupted by shutdown", logging.Error(runErr))
		return runErr
	}

	r.notifySceneFailures(ctx, board, summary)

	status := queue.FailureStatus(runErr)
	if status == queue.StatusReview {
		board.SetReview(runErr.Error())
	} else {
		board.SetFailed(runErr.Error())
	}
	if err := r.store.Update(ctx, board); err != nil {
		logger.Error("persist failure status", logging.Error(err))
		return errors.Join(runErr, err)
	}

	logger.Error("run failed",
		logging.String("status", string(status)),
		logging.Int("failed", summary.Failed),
		logging.Error(runErr),
		logging.Alert("run_failed"))

	if status == queue.StatusReview {
		r.publish(ctx, notifications.EventReviewRequired, notifications.Payload{
			"title":  board.Title,
			"reason": runErr.Error(),
		})
	} else {
		r.publish(ctx, notifications.EventRunFailed, notifications.Payload{
			"title": board.Title,
			"error": runErr.Error(),
		})
	}
	return runErr
}

func (r *Runner) notifyRunStarted(ctx context.Context, board *queue.Storyboard) {
	r.publish(ctx, notifications.EventRunStarted, notifications.Payload{
		"title":  board.Title,
		"scenes": strconv.Itoa(board.SceneCount),
	})
}

// notifySceneFailures emits one scene_failed event per failed scene so an
// operator can see which scenes to retry without opening the CLI.
func (r *Runner) notifySceneFailures(ctx context.Context, board *queue.Storyboard, summary pipeline.RunSummary) {
	for _, index := range summary.FailedScenes() {
		cause := ""
		if index < len(summary.PerScene) && summary.PerScene[index] != nil {
			cause = summary.PerScene[index].Error()
		}
		r.publish(ctx, notifications.EventSceneFailed, notifications.Payload{
			"scene": strconv.Itoa(index),
			"title": board.Title,
			"cause": cause,
		})
	}
}

func (r *Runner) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("notification cancelled by shutdown", logging.String(logging.FieldEventType, string(event)))
			return
		}
		r.logger.Warn("notification failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err))
	}
}
