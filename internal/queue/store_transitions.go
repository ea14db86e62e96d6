package queue

import (
	"context"
	"fmt"
	"time"

	"montage/internal/scene"
)

// ResetStuckRunning returns storyboards left in running back to pending.
// Called once at daemon startup; scene checkpoints are untouched because the
// workflow resumes each scene from its persisted stage.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE storyboards
         SET status = ?, progress_stage = 'Reset from interrupted run',
             progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck storyboards: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight storyboard.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE storyboards SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleRunning returns running storyboards to pending when their
// heartbeats expire, so a crashed run can be picked up again.
func (s *Store) ReclaimStaleRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE storyboards
         SET status = ?, progress_stage = 'Reclaimed from stale run',
             progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		now.Format(time.RFC3339Nano),
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale storyboards: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed storyboards back to pending and rolls their errored
// scenes back to the start of the stage that failed, keeping earlier
// artifacts. Without ids it retries everything failed; with ids it also
// accepts storyboards parked in review.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin retry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	type target struct {
		rowID        int64
		storyboardID string
	}
	var targets []target
	collect := func(query string, args ...any) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select retry targets: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t target
			if err := rows.Scan(&t.rowID, &t.storyboardID); err != nil {
				return err
			}
			targets = append(targets, t)
		}
		return rows.Err()
	}

	if len(ids) == 0 {
		err = collect(`SELECT id, storyboard_id FROM storyboards WHERE status = ?`, StatusFailed)
	} else {
		args := make([]any, 0, len(ids)+2)
		args = append(args, StatusFailed, StatusReview)
		for _, id := range ids {
			args = append(args, id)
		}
		err = collect(
			`SELECT id, storyboard_id FROM storyboards WHERE status IN (?, ?) AND id IN (`+makePlaceholders(len(ids))+`)`,
			args...,
		)
	}
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, t := range targets {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE storyboards
             SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
                 progress_message = NULL, error_message = NULL, review_reason = NULL,
                 failed_scenes = 0, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			StatusPending, now, t.rowID,
		); err != nil {
			return 0, fmt.Errorf("retry storyboard %d: %w", t.rowID, err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE scenes
             SET stage = CASE failed_stage
                 WHEN ? THEN ?
                 WHEN ? THEN ?
                 WHEN ? THEN ?
                 ELSE ?
             END,
                 failed_stage = NULL, stage_cause = NULL, last_error = NULL, updated_at = ?
             WHERE storyboard_id = ? AND stage = ?`,
			scene.StageGeneratingImage, scene.StageIdle,
			scene.StageGeneratingVideo, scene.StageImageReady,
			scene.StageExtractingFrames, scene.StageVideoReady,
			scene.StageIdle,
			now,
			t.storyboardID, scene.StageError,
		); err != nil {
			return 0, fmt.Errorf("reset scenes for storyboard %d: %w", t.rowID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit retry: %w", err)
	}
	return int64(len(targets)), nil
}
