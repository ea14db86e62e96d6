package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"montage/internal/manifest"
	"montage/internal/textutil"
)

// newStoryboardID combines the manifest title with a short random suffix so
// run logs and artifact directories stay recognizable at a glance.
func newStoryboardID(title string) string {
	token := textutil.SanitizeToken(title)
	if len(token) > 32 {
		token = strings.Trim(token[:32], "_-")
	}
	return token + "-" + uuid.NewString()[:8]
}

// Add inserts a storyboard and one scene row per manifest scene in a single
// transaction. Scene durations resolve through the manifest fallback chain
// against defaultClipSeconds.
func (s *Store) Add(ctx context.Context, file manifest.File, defaultClipSeconds int) (*Storyboard, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	storyboardID := newStoryboardID(file.Storyboard.Title)
	tasks := file.Storyboard.Tasks(storyboardID, defaultClipSeconds)
	refsJSON, err := marshalStrings(file.Storyboard.ReferenceImages)
	if err != nil {
		return nil, fmt.Errorf("marshal reference images: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO storyboards (
            storyboard_id, title, manifest_path, reference_images_json, status,
            created_at, updated_at, progress_percent, scene_count
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		storyboardID,
		file.Storyboard.Title,
		nullableString(file.Path),
		refsJSON,
		StatusPending,
		timestamp,
		timestamp,
		0.0,
		len(tasks),
	)
	if err != nil {
		return nil, fmt.Errorf("insert storyboard: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	for _, task := range tasks {
		if err := insertScene(ctx, tx, rowID, task, timestamp); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add: %w", err)
	}

	return s.GetByID(ctx, rowID)
}

// GetByID fetches a storyboard by row identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Storyboard, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyboardColumns+` FROM storyboards WHERE id = ?`, id)
	board, err := scanStoryboard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get storyboard: %w", err)
	}
	return board, nil
}

// GetByStoryboardID fetches a storyboard by its stable identifier.
func (s *Store) GetByStoryboardID(ctx context.Context, storyboardID string) (*Storyboard, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+storyboardColumns+` FROM storyboards WHERE storyboard_id = ? LIMIT 1`,
		storyboardID,
	)
	board, err := scanStoryboard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find storyboard: %w", err)
	}
	return board, nil
}

// Update persists changes to an existing storyboard row.
func (s *Store) Update(ctx context.Context, board *Storyboard) error {
	if board == nil {
		return errors.New("storyboard is nil")
	}
	refsJSON, err := marshalStrings(board.ReferenceImages)
	if err != nil {
		return fmt.Errorf("marshal reference images: %w", err)
	}
	board.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE storyboards
         SET title = ?, manifest_path = ?, reference_images_json = ?, status = ?,
             error_message = ?, review_reason = ?, updated_at = ?,
             progress_stage = ?, progress_percent = ?, progress_message = ?,
             last_heartbeat = ?, scene_count = ?, succeeded_scenes = ?, failed_scenes = ?
         WHERE id = ?`,
		nullableString(board.Title),
		nullableString(board.ManifestPath),
		refsJSON,
		board.Status,
		nullableString(board.ErrorMessage),
		nullableString(board.ReviewReason),
		board.UpdatedAt.Format(time.RFC3339Nano),
		nullableString(board.ProgressStage),
		board.ProgressPercent,
		nullableString(board.ProgressMessage),
		nullableTime(board.LastHeartbeat),
		board.SceneCount,
		board.SucceededScenes,
		board.FailedScenes,
		board.ID,
	); err != nil {
		return fmt.Errorf("update storyboard: %w", err)
	}
	return nil
}

// UpdateProgress persists only the progress fields so a progress write
// cannot clobber the heartbeat or status written by another goroutine.
func (s *Store) UpdateProgress(ctx context.Context, board *Storyboard) error {
	if board == nil {
		return errors.New("storyboard is nil")
	}
	board.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE storyboards
         SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(board.ProgressStage),
		board.ProgressPercent,
		nullableString(board.ProgressMessage),
		board.UpdatedAt.Format(time.RFC3339Nano),
		board.ID,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// List returns storyboards filtered by status set (or all when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Storyboard, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + storyboardColumns + ` FROM storyboards`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list storyboards: %w", err)
	}
	defer rows.Close()

	var boards []*Storyboard
	for rows.Next() {
		board, err := scanStoryboard(rows)
		if err != nil {
			return nil, err
		}
		boards = append(boards, board)
	}
	return boards, rows.Err()
}

// NextForStatuses returns the oldest storyboard matching any of the provided statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Storyboard, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	query := `SELECT ` + storyboardColumns + ` FROM storyboards WHERE status IN (` + placeholders + `) ORDER BY created_at LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	board, err := scanStoryboard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return board, nil
}

// Remove deletes a storyboard by identifier; its scene rows cascade.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM storyboards WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete storyboard: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed storyboards from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM storyboards WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all storyboards from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM storyboards`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed and review storyboards from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM storyboards WHERE status IN (?, ?)`, StatusFailed, StatusReview)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}
