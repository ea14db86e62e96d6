package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const storyboardColumns = "id, storyboard_id, title, manifest_path, reference_images_json, status, error_message, review_reason, created_at, updated_at, progress_stage, progress_percent, progress_message, last_heartbeat, scene_count, succeeded_scenes, failed_scenes"

func scanStoryboard(scanner interface{ Scan(dest ...any) error }) (*Storyboard, error) {
	var (
		id              int64
		storyboardID    string
		title           sql.NullString
		manifestPath    sql.NullString
		refsJSON        sql.NullString
		statusStr       string
		errorMessage    sql.NullString
		reviewReason    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		progressStage   sql.NullString
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		heartbeatRaw    sql.NullString
		sceneCount      sql.NullInt64
		succeeded       sql.NullInt64
		failed          sql.NullInt64
	)

	if err := scanner.Scan(
		&id,
		&storyboardID,
		&title,
		&manifestPath,
		&refsJSON,
		&statusStr,
		&errorMessage,
		&reviewReason,
		&createdRaw,
		&updatedRaw,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&heartbeatRaw,
		&sceneCount,
		&succeeded,
		&failed,
	); err != nil {
		return nil, err
	}

	board := &Storyboard{
		ID:              id,
		StoryboardID:    storyboardID,
		Title:           title.String,
		ManifestPath:    manifestPath.String,
		Status:          Status(statusStr),
		ErrorMessage:    errorMessage.String,
		ReviewReason:    reviewReason.String,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		SceneCount:      int(sceneCount.Int64),
		SucceededScenes: int(succeeded.Int64),
		FailedScenes:    int(failed.Int64),
	}
	if refsJSON.Valid && refsJSON.String != "" {
		if err := json.Unmarshal([]byte(refsJSON.String), &board.ReferenceImages); err != nil {
			return nil, fmt.Errorf("decode reference images: %w", err)
		}
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		board.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		board.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			board.LastHeartbeat = &heartbeat
		}
	}
	return board, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
