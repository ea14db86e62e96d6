package api

import (
	"errors"
	"testing"
	"time"

	"montage/internal/queue"
	"montage/internal/scene"
)

func TestFromStoryboard(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	heartbeat := created.Add(time.Minute)
	board := &queue.Storyboard{
		ID:              42,
		StoryboardID:    "sb-42",
		Title:           "Neon District",
		ManifestPath:    "/boards/neon.yaml",
		Status:          queue.StatusRunning,
		CreatedAt:       created,
		UpdatedAt:       created,
		LastHeartbeat:   &heartbeat,
		SceneCount:      4,
		SucceededScenes: 2,
	}
	board.SetProgress("Generating videos", "2/4 settled", 50)

	dto := FromStoryboard(board)
	if dto.ID != 42 || dto.StoryboardID != "sb-42" {
		t.Fatalf("unexpected ids: %#v", dto)
	}
	if dto.Status != "running" {
		t.Fatalf("unexpected status: %q", dto.Status)
	}
	if dto.Progress.Stage != "Generating videos" || dto.Progress.Percent != 50 {
		t.Fatalf("unexpected progress: %#v", dto.Progress)
	}
	if dto.CreatedAt != "2026-03-14T09:26:53.000Z" {
		t.Fatalf("unexpected created timestamp: %q", dto.CreatedAt)
	}
	if dto.LastHeartbeat == "" {
		t.Fatal("expected heartbeat to be formatted")
	}
	if dto.SceneCount != 4 || dto.SucceededScenes != 2 {
		t.Fatalf("unexpected scene counts: %#v", dto)
	}
}

func TestFromStoryboardNil(t *testing.T) {
	if dto := FromStoryboard(nil); dto.ID != 0 || dto.Status != "" {
		t.Fatalf("expected zero DTO, got %#v", dto)
	}
}

func TestFromSceneTaskError(t *testing.T) {
	task := scene.NewTask("sb-1", 2, "rooftop chase")
	task.SelectedImageURL = "https://cdn.test/img.png"
	task.Stage = scene.Errored(scene.StageGeneratingVideo, errors.New("render farm exploded"))
	task.LastError = "render farm exploded"

	dto := FromSceneTask(task)
	if dto.Index != 2 {
		t.Fatalf("unexpected index: %d", dto.Index)
	}
	if dto.Stage != string(scene.StageError) {
		t.Fatalf("unexpected stage: %q", dto.Stage)
	}
	if dto.FailedStage != string(scene.StageGeneratingVideo) {
		t.Fatalf("unexpected failed stage: %q", dto.FailedStage)
	}
	if dto.StageCause != "render farm exploded" {
		t.Fatalf("unexpected cause: %q", dto.StageCause)
	}
	if dto.SelectedImageURL != "https://cdn.test/img.png" {
		t.Fatalf("artifact url dropped: %#v", dto)
	}
	if dto.SelectedSeedFrame != -1 {
		t.Fatalf("expected seed selection -1, got %d", dto.SelectedSeedFrame)
	}
}

func TestFromSceneTaskHealthy(t *testing.T) {
	task := scene.NewTask("sb-1", 0, "opening shot")
	task.SeedFrames = []scene.SeedFrame{{ID: "f1", URL: "u1"}, {ID: "f2", URL: "u2"}}
	task.SelectedSeedFrame = 1
	task.Stage = scene.At(scene.StageFramesReady)

	dto := FromSceneTask(task)
	if dto.FailedStage != "" {
		t.Fatalf("healthy scene must not carry failed stage: %q", dto.FailedStage)
	}
	if dto.SeedFrameCount != 2 || dto.SelectedSeedFrame != 1 {
		t.Fatalf("unexpected seed data: %#v", dto)
	}
}

func TestMergeQueueStatsFillsAllStatuses(t *testing.T) {
	merged := MergeQueueStats(map[queue.Status]int{queue.StatusPending: 3})
	if len(merged) != len(queue.AllStatuses()) {
		t.Fatalf("expected %d statuses, got %d", len(queue.AllStatuses()), len(merged))
	}
	if merged["pending"] != 3 {
		t.Fatalf("unexpected pending count: %d", merged["pending"])
	}
	if merged["completed"] != 0 {
		t.Fatalf("expected completed default 0, got %d", merged["completed"])
	}
}

func TestSortBoardsNewestFirst(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(dateTimeFormat)
	newer := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).Format(dateTimeFormat)
	boards := []Storyboard{
		{ID: 1, CreatedAt: older},
		{ID: 2, CreatedAt: newer},
		{ID: 3, CreatedAt: newer},
	}
	sorted := SortBoardsNewestFirst(boards)
	if sorted[0].ID != 3 || sorted[1].ID != 2 || sorted[2].ID != 1 {
		t.Fatalf("unexpected order: %v, %v, %v", sorted[0].ID, sorted[1].ID, sorted[2].ID)
	}
	if boards[0].ID != 1 {
		t.Fatal("input slice must not be reordered")
	}
}
