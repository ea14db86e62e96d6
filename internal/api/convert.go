package api

import (
	"sort"
	"time"

	"montage/internal/deps"
	"montage/internal/queue"
	"montage/internal/scene"
)

// FromStoryboard converts a queue record to its API representation.
func FromStoryboard(board *queue.Storyboard) Storyboard {
	if board == nil {
		return Storyboard{}
	}

	dto := Storyboard{
		ID:           board.ID,
		StoryboardID: board.StoryboardID,
		Title:        board.Title,
		ManifestPath: board.ManifestPath,
		Status:       string(board.Status),
		Progress: Progress{
			Stage:   board.ProgressStage,
			Percent: board.ProgressPercent,
			Message: board.ProgressMessage,
		},
		ErrorMessage:    board.ErrorMessage,
		ReviewReason:    board.ReviewReason,
		SceneCount:      board.SceneCount,
		SucceededScenes: board.SucceededScenes,
		FailedScenes:    board.FailedScenes,
	}
	if !board.CreatedAt.IsZero() {
		dto.CreatedAt = board.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !board.UpdatedAt.IsZero() {
		dto.UpdatedAt = board.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if board.LastHeartbeat != nil && !board.LastHeartbeat.IsZero() {
		dto.LastHeartbeat = board.LastHeartbeat.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromStoryboards converts a slice of queue records into API DTOs.
func FromStoryboards(boards []*queue.Storyboard) []Storyboard {
	if len(boards) == 0 {
		return nil
	}
	out := make([]Storyboard, 0, len(boards))
	for _, board := range boards {
		out = append(out, FromStoryboard(board))
	}
	return out
}

// FromSceneTask converts a scene checkpoint to its API representation.
func FromSceneTask(task *scene.SceneTask) Scene {
	if task == nil {
		return Scene{}
	}
	dto := Scene{
		Index:             task.Index,
		Prompt:            task.Prompt,
		DurationSeconds:   task.DurationSeconds,
		Stage:             string(task.Stage.Kind),
		StageCause:        task.Stage.Cause,
		SelectedImageURL:  task.SelectedImageURL,
		VideoURL:          task.VideoURL,
		VideoPath:         task.VideoPath,
		SeedFrameCount:    len(task.SeedFrames),
		SelectedSeedFrame: task.SelectedSeedFrame,
		LastError:         task.LastError,
	}
	if task.Stage.IsError() {
		dto.FailedStage = string(task.Stage.FailedKind)
	}
	return dto
}

// FromSceneTasks converts scene checkpoints into API DTOs.
func FromSceneTasks(tasks []*scene.SceneTask) []Scene {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]Scene, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromSceneTask(task))
	}
	return out
}

// MergeQueueStats normalizes store stats into string keys with every known
// status present, so consumers render stable tables.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	merged := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		merged[string(status)] = 0
	}
	for status, count := range stats {
		merged[string(status)] = count
	}
	return merged
}

// SortBoardsNewestFirst orders storyboards by CreatedAt descending, breaking
// ties by ID descending.
func SortBoardsNewestFirst(boards []Storyboard) []Storyboard {
	if len(boards) == 0 {
		return nil
	}
	sorted := make([]Storyboard, len(boards))
	copy(sorted, boards)
	sort.Slice(sorted, func(i, j int) bool {
		ti := ParseQueueTime(sorted[i].CreatedAt)
		tj := ParseQueueTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

// FromDependencyStatuses converts binary availability checks for the status
// endpoint.
func FromDependencyStatuses(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, DependencyStatus{
			Name:        st.Name,
			Command:     st.Command,
			Description: st.Description,
			Optional:    st.Optional,
			Available:   st.Available,
			Detail:      st.Detail,
		})
	}
	return out
}

// ParseQueueTime parses an API timestamp for display formatting. Unparseable
// values yield the zero time.
func ParseQueueTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
