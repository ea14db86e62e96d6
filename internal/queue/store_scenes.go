package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"montage/internal/scene"
)

const sceneColumns = "storyboard_id, scene_index, prompt, video_prompt, duration_seconds, reference_urls_json, seed_image_url, stage, failed_stage, stage_cause, selected_image_url, video_url, video_path, seed_frames_json, selected_seed_frame, last_error"

// SceneTasks loads the scene checkpoints for one storyboard ordered by index.
func (s *Store) SceneTasks(ctx context.Context, storyboardID string) ([]*scene.SceneTask, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE storyboard_id = ? ORDER BY scene_index`,
		storyboardID,
	)
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer rows.Close()

	var tasks []*scene.SceneTask
	for rows.Next() {
		task, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateScene persists a scene checkpoint. It satisfies the workflow's task
// store, so every stage transition lands in the database before the workflow
// proceeds.
func (s *Store) UpdateScene(ctx context.Context, task *scene.SceneTask) error {
	if task == nil {
		return errors.New("scene task is nil")
	}
	refsJSON, err := marshalStrings(task.ReferenceURLs)
	if err != nil {
		return fmt.Errorf("marshal reference urls: %w", err)
	}
	framesJSON, err := marshalSeedFrames(task.SeedFrames)
	if err != nil {
		return fmt.Errorf("marshal seed frames: %w", err)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE scenes
         SET prompt = ?, video_prompt = ?, duration_seconds = ?, reference_urls_json = ?,
             seed_image_url = ?, stage = ?, failed_stage = ?, stage_cause = ?,
             selected_image_url = ?, video_url = ?, video_path = ?, seed_frames_json = ?,
             selected_seed_frame = ?, last_error = ?, updated_at = ?
         WHERE storyboard_id = ? AND scene_index = ?`,
		task.Prompt,
		nullableString(task.VideoPrompt),
		task.DurationSeconds,
		refsJSON,
		nullableString(task.SeedImageURL),
		string(task.Stage.Kind),
		nullableString(string(task.Stage.FailedKind)),
		nullableString(task.Stage.Cause),
		nullableString(task.SelectedImageURL),
		nullableString(task.VideoURL),
		nullableString(task.VideoPath),
		framesJSON,
		nullableSeedIndex(task.SelectedSeedFrame),
		nullableString(task.LastError),
		time.Now().UTC().Format(time.RFC3339Nano),
		task.StoryboardID,
		task.Index,
	); err != nil {
		return fmt.Errorf("update scene: %w", err)
	}
	return nil
}

func insertScene(ctx context.Context, tx *sql.Tx, storyboardRowID int64, task *scene.SceneTask, timestamp string) error {
	refsJSON, err := marshalStrings(task.ReferenceURLs)
	if err != nil {
		return fmt.Errorf("marshal reference urls: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO scenes (
            storyboard_fk, storyboard_id, scene_index, prompt, video_prompt,
            duration_seconds, reference_urls_json, stage, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		storyboardRowID,
		task.StoryboardID,
		task.Index,
		task.Prompt,
		nullableString(task.VideoPrompt),
		task.DurationSeconds,
		refsJSON,
		string(task.Stage.Kind),
		timestamp,
		timestamp,
	); err != nil {
		return fmt.Errorf("insert scene %d: %w", task.Index, err)
	}
	return nil
}

func scanScene(scanner interface{ Scan(dest ...any) error }) (*scene.SceneTask, error) {
	var (
		storyboardID  string
		index         int
		prompt        string
		videoPrompt   sql.NullString
		duration      sql.NullInt64
		refsJSON      sql.NullString
		seedImageURL  sql.NullString
		stageStr      string
		failedStage   sql.NullString
		stageCause    sql.NullString
		selectedImage sql.NullString
		videoURL      sql.NullString
		videoPath     sql.NullString
		framesJSON    sql.NullString
		selectedSeed  sql.NullInt64
		lastError     sql.NullString
	)

	if err := scanner.Scan(
		&storyboardID,
		&index,
		&prompt,
		&videoPrompt,
		&duration,
		&refsJSON,
		&seedImageURL,
		&stageStr,
		&failedStage,
		&stageCause,
		&selectedImage,
		&videoURL,
		&videoPath,
		&framesJSON,
		&selectedSeed,
		&lastError,
	); err != nil {
		return nil, err
	}

	task := &scene.SceneTask{
		StoryboardID:      storyboardID,
		Index:             index,
		Prompt:            prompt,
		VideoPrompt:       videoPrompt.String,
		DurationSeconds:   int(duration.Int64),
		SeedImageURL:      seedImageURL.String,
		SelectedImageURL:  selectedImage.String,
		VideoURL:          videoURL.String,
		VideoPath:         videoPath.String,
		LastError:         lastError.String,
		SelectedSeedFrame: -1,
	}
	if selectedSeed.Valid {
		task.SelectedSeedFrame = int(selectedSeed.Int64)
	}
	if refsJSON.Valid && refsJSON.String != "" {
		if err := json.Unmarshal([]byte(refsJSON.String), &task.ReferenceURLs); err != nil {
			return nil, fmt.Errorf("decode scene %d reference urls: %w", index, err)
		}
	}
	if framesJSON.Valid && framesJSON.String != "" {
		if err := json.Unmarshal([]byte(framesJSON.String), &task.SeedFrames); err != nil {
			return nil, fmt.Errorf("decode scene %d seed frames: %w", index, err)
		}
	}

	kind, ok := scene.ParseStageKind(stageStr)
	if !ok {
		return nil, fmt.Errorf("scene %d has unknown stage %q", index, stageStr)
	}
	task.Stage = scene.Stage{Kind: kind, Cause: stageCause.String}
	if failedStage.Valid {
		if failedKind, ok := scene.ParseStageKind(failedStage.String); ok {
			task.Stage.FailedKind = failedKind
		}
	}
	return task, nil
}

func marshalSeedFrames(frames []scene.SeedFrame) (any, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(frames)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableSeedIndex(index int) any {
	if index < 0 {
		return nil
	}
	return index
}
