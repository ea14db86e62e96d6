package queue_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"montage/internal/queue"
	"montage/internal/scene"
	"montage/internal/services"
	"montage/internal/testsupport"
)

func TestOpenInitializesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	board := testsupport.AddStoryboard(t, store, "Harbor at Dawn", 3)
	if board.ID == 0 {
		t.Fatal("expected storyboard ID to be assigned")
	}
	if board.StoryboardID == "" {
		t.Fatal("expected stable storyboard identifier")
	}
	if !strings.HasPrefix(board.StoryboardID, "harbor_at_dawn-") {
		t.Fatalf("expected title-derived storyboard identifier, got %q", board.StoryboardID)
	}
	if board.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", board.Status)
	}
	if board.SceneCount != 3 {
		t.Fatalf("expected 3 scenes recorded, got %d", board.SceneCount)
	}

	fetched, err := store.GetByID(ctx, board.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Title != "Harbor at Dawn" {
		t.Fatalf("unexpected fetched storyboard: %#v", fetched)
	}

	found, err := store.GetByStoryboardID(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("GetByStoryboardID failed: %v", err)
	}
	if found == nil || found.ID != board.ID {
		t.Fatalf("expected to find inserted storyboard, got %#v", found)
	}

	tasks, err := store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("SceneTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 scene tasks, got %d", len(tasks))
	}
	for i, task := range tasks {
		if task.Index != i {
			t.Fatalf("expected scene %d at position %d, got %d", i, i, task.Index)
		}
		if task.Stage.Kind != scene.StageIdle {
			t.Fatalf("scene %d: expected idle, got %s", i, task.Stage)
		}
		if task.DurationSeconds != 4 {
			t.Fatalf("scene %d: expected manifest default duration 4, got %d", i, task.DurationSeconds)
		}
		if task.SelectedSeedFrame != -1 {
			t.Fatalf("scene %d: expected no seed frame selected, got %d", i, task.SelectedSeedFrame)
		}
	}
}

func TestUpdateScenePersistsCheckpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	board := testsupport.AddStoryboard(t, store, "Checkpoints", 2)

	tasks, err := store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("SceneTasks failed: %v", err)
	}
	task := tasks[1]
	task.Stage = scene.At(scene.StageFramesReady)
	task.SelectedImageURL = "https://cdn.example/img-1.png"
	task.VideoURL = "https://cdn.example/vid-1.mp4"
	task.VideoPath = "/artifacts/vid-1.mp4"
	task.SeedImageURL = "https://cdn.example/seed-0.png"
	task.SeedFrames = []scene.SeedFrame{
		{ID: "f0", URL: "https://cdn.example/vid-1.mp4#frame-0", Timestamp: 0.5},
		{ID: "f1", URL: "https://cdn.example/vid-1.mp4#frame-1", Timestamp: 2.0},
	}
	task.SelectedSeedFrame = 1
	if err := store.UpdateScene(ctx, task); err != nil {
		t.Fatalf("UpdateScene failed: %v", err)
	}

	reloaded, err := store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("SceneTasks reload failed: %v", err)
	}
	got := reloaded[1]
	if got.Stage.Kind != scene.StageFramesReady {
		t.Fatalf("expected frames_ready, got %s", got.Stage)
	}
	if got.SelectedImageURL != task.SelectedImageURL || got.VideoURL != task.VideoURL || got.VideoPath != task.VideoPath {
		t.Fatalf("artifact URLs not persisted: %#v", got)
	}
	if got.SeedImageURL != task.SeedImageURL {
		t.Fatalf("expected seed image persisted, got %q", got.SeedImageURL)
	}
	if len(got.SeedFrames) != 2 || got.SeedFrames[1].URL != task.SeedFrames[1].URL {
		t.Fatalf("seed frames not persisted: %#v", got.SeedFrames)
	}
	if got.SeedFrames[1].Timestamp != 2.0 {
		t.Fatalf("expected timestamp 2.0, got %f", got.SeedFrames[1].Timestamp)
	}
	if got.SelectedSeedFrame != 1 {
		t.Fatalf("expected selected frame 1, got %d", got.SelectedSeedFrame)
	}

	// The untouched scene keeps the unset seed selection.
	if reloaded[0].SelectedSeedFrame != -1 {
		t.Fatalf("expected scene 0 untouched, got selected frame %d", reloaded[0].SelectedSeedFrame)
	}
}

func TestUpdateScenePersistsErrorStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	board := testsupport.AddStoryboard(t, store, "Faulted", 1)

	tasks, err := store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("SceneTasks failed: %v", err)
	}
	task := tasks[0]
	task.Stage = scene.Errored(scene.StageGeneratingVideo, errors.New("render farm exploded"))
	task.LastError = "render farm exploded"
	task.SelectedImageURL = "https://cdn.example/img-0.png"
	if err := store.UpdateScene(ctx, task); err != nil {
		t.Fatalf("UpdateScene failed: %v", err)
	}

	reloaded, err := store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("SceneTasks reload failed: %v", err)
	}
	got := reloaded[0]
	if !got.Stage.IsError() {
		t.Fatalf("expected error stage, got %s", got.Stage)
	}
	if got.Stage.FailedKind != scene.StageGeneratingVideo {
		t.Fatalf("expected failed kind generating_video, got %s", got.Stage.FailedKind)
	}
	if got.Stage.Cause != "render farm exploded" {
		t.Fatalf("expected cause persisted, got %q", got.Stage.Cause)
	}
	if got.LastError != "render farm exploded" {
		t.Fatalf("expected last error persisted, got %q", got.LastError)
	}
}

func TestListSupportsStatusFilter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := testsupport.AddStoryboard(t, store, "Board A", 1)
	b := testsupport.AddStoryboard(t, store, "Board B", 1)
	b.Status = queue.StatusRunning
	if err := store.Update(ctx, b); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	c := testsupport.AddStoryboard(t, store, "Board C", 1)
	c.SetFailed("boom")
	if err := store.Update(ctx, c); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	boards, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(boards) != 3 {
		t.Fatalf("expected 3 storyboards, got %d", len(boards))
	}
	if boards[0].ID != a.ID || boards[1].ID != b.ID || boards[2].ID != c.ID {
		t.Fatalf("expected order A,B,C, got IDs %d,%d,%d", boards[0].ID, boards[1].ID, boards[2].ID)
	}

	filtered, err := store.List(ctx, queue.StatusRunning, queue.StatusFailed)
	if err != nil {
		t.Fatalf("Filtered list failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 storyboards, got %d", len(filtered))
	}
	if filtered[0].ID != b.ID || filtered[1].ID != c.ID {
		t.Fatalf("unexpected filtered order: got %d,%d", filtered[0].ID, filtered[1].ID)
	}
}

func TestNextForStatusesReturnsOldest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := testsupport.AddStoryboard(t, store, "First", 1)
	b := testsupport.AddStoryboard(t, store, "Second", 1)

	next, err := store.NextForStatuses(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("NextForStatuses failed: %v", err)
	}
	if next == nil || next.ID != a.ID {
		t.Fatalf("expected oldest pending storyboard, got %#v", next)
	}

	a.Status = queue.StatusRunning
	if err := store.Update(ctx, a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	next, err = store.NextForStatuses(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("NextForStatuses failed: %v", err)
	}
	if next == nil || next.ID != b.ID {
		t.Fatalf("expected second storyboard, got %#v", next)
	}

	none, err := store.NextForStatuses(ctx)
	if err != nil {
		t.Fatalf("NextForStatuses with no statuses failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for empty status set, got %#v", none)
	}
}

func TestRetryFailedResetsSceneCheckpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	board := testsupport.AddStoryboard(t, store, "Retryable", 2)

	tasks, err := store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("SceneTasks failed: %v", err)
	}
	done := tasks[0]
	done.Stage = scene.At(scene.StageCompleted)
	done.SelectedImageURL = "https://cdn.example/img-0.png"
	done.VideoURL = "https://cdn.example/vid-0.mp4"
	if err := store.UpdateScene(ctx, done); err != nil {
		t.Fatalf("UpdateScene failed: %v", err)
	}
	faulted := tasks[1]
	faulted.Stage = scene.Errored(scene.StageGeneratingVideo, errors.New("timeout"))
	faulted.LastError = "timeout"
	faulted.SelectedImageURL = "https://cdn.example/img-1.png"
	if err := store.UpdateScene(ctx, faulted); err != nil {
		t.Fatalf("UpdateScene failed: %v", err)
	}

	board.SetFailed("1 of 2 scenes failed")
	board.FailedScenes = 1
	board.SucceededScenes = 1
	if err := store.Update(ctx, board); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	retried, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected 1 storyboard retried, got %d", retried)
	}

	updated, err := store.GetByID(ctx, board.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusPending {
		t.Fatalf("expected pending after retry, got %s", updated.Status)
	}
	if updated.ErrorMessage != "" {
		t.Fatalf("expected error message cleared, got %q", updated.ErrorMessage)
	}
	if updated.FailedScenes != 0 {
		t.Fatalf("expected failed scene count cleared, got %d", updated.FailedScenes)
	}

	reloaded, err := store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("SceneTasks reload failed: %v", err)
	}
	if reloaded[0].Stage.Kind != scene.StageCompleted {
		t.Fatalf("expected completed scene untouched, got %s", reloaded[0].Stage)
	}
	got := reloaded[1]
	if got.Stage.Kind != scene.StageImageReady {
		t.Fatalf("expected errored scene rolled back to image_ready, got %s", got.Stage)
	}
	if got.Stage.FailedKind != "" || got.Stage.Cause != "" || got.LastError != "" {
		t.Fatalf("expected failure fields cleared: %#v", got.Stage)
	}
	if got.SelectedImageURL != "https://cdn.example/img-1.png" {
		t.Fatalf("expected image artifact kept for resume, got %q", got.SelectedImageURL)
	}
}

func TestRetryFailedSkipsReviewUnlessTargeted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	board := testsupport.AddStoryboard(t, store, "Needs a human", 1)
	board.SetReview("manifest scene 0: prompt rejected")
	if err := store.Update(ctx, board); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	retried, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed bulk: %v", err)
	}
	if retried != 0 {
		t.Fatalf("expected bulk retry to skip review storyboards, got %d", retried)
	}

	retried, err = store.RetryFailed(ctx, board.ID)
	if err != nil {
		t.Fatalf("RetryFailed targeted: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected targeted retry to accept review storyboard, got %d", retried)
	}

	updated, err := store.GetByID(ctx, board.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusPending {
		t.Fatalf("expected pending after targeted retry, got %s", updated.Status)
	}
	if updated.ReviewReason != "" {
		t.Fatalf("expected review reason cleared, got %q", updated.ReviewReason)
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	board := testsupport.AddStoryboard(t, store, "Heartbeat", 1)
	board.Status = queue.StatusRunning
	if err := store.Update(ctx, board); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := store.UpdateHeartbeat(ctx, board.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	updated, err := store.GetByID(ctx, board.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.LastHeartbeat == nil {
		t.Fatal("expected last heartbeat to be set")
	}
}

func TestReclaimStaleRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour).UTC()

	stale := testsupport.AddStoryboard(t, store, "Stale", 1)
	stale.Status = queue.StatusRunning
	stale.LastHeartbeat = &past
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("Update stale: %v", err)
	}

	fresh := testsupport.AddStoryboard(t, store, "Fresh", 1)
	fresh.Status = queue.StatusRunning
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("Update fresh: %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("UpdateHeartbeat fresh: %v", err)
	}

	count, err := store.ReclaimStaleRunning(ctx, time.Now().Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleRunning: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 storyboard reclaimed, got %d", count)
	}

	reclaimed, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID stale: %v", err)
	}
	if reclaimed.Status != queue.StatusPending {
		t.Fatalf("expected stale storyboard pending, got %s", reclaimed.Status)
	}
	if reclaimed.LastHeartbeat != nil {
		t.Fatalf("expected stale heartbeat cleared, got %v", reclaimed.LastHeartbeat)
	}

	unchanged, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID fresh: %v", err)
	}
	if unchanged.Status != queue.StatusRunning {
		t.Fatalf("expected fresh storyboard untouched, got %s", unchanged.Status)
	}
	if unchanged.LastHeartbeat == nil {
		t.Fatal("expected fresh heartbeat preserved")
	}
}

func TestResetStuckRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	running := testsupport.AddStoryboard(t, store, "Interrupted", 1)
	running.Status = queue.StatusRunning
	if err := store.Update(ctx, running); err != nil {
		t.Fatalf("Update: %v", err)
	}
	pending := testsupport.AddStoryboard(t, store, "Waiting", 1)

	count, err := store.ResetStuckRunning(ctx)
	if err != nil {
		t.Fatalf("ResetStuckRunning: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 storyboard reset, got %d", count)
	}

	updated, err := store.GetByID(ctx, running.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.Status != queue.StatusPending {
		t.Fatalf("expected pending after reset, got %s", updated.Status)
	}
	if updated.LastHeartbeat != nil {
		t.Fatalf("expected heartbeat cleared, got %v", updated.LastHeartbeat)
	}

	untouched, err := store.GetByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("GetByID pending: %v", err)
	}
	if untouched.Status != queue.StatusPending {
		t.Fatalf("expected pending storyboard untouched, got %s", untouched.Status)
	}
}

func TestUpdateProgressPreservesHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	board := testsupport.AddStoryboard(t, store, "Heartbeat Progress", 1)
	board.Status = queue.StatusRunning
	if err := store.Update(ctx, board); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, board.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	before, err := store.GetByID(ctx, board.ID)
	if err != nil {
		t.Fatalf("GetByID before progress: %v", err)
	}
	if before.LastHeartbeat == nil {
		t.Fatal("expected heartbeat set before progress update")
	}
	origHeartbeat := *before.LastHeartbeat

	before.SetProgress("Generating images", "2/3 settled", 42.5)
	if err := store.UpdateProgress(ctx, before); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	after, err := store.GetByID(ctx, board.ID)
	if err != nil {
		t.Fatalf("GetByID after progress: %v", err)
	}
	if after.LastHeartbeat == nil {
		t.Fatal("expected heartbeat preserved after progress update")
	}
	if !after.LastHeartbeat.Equal(origHeartbeat) {
		t.Fatalf("expected heartbeat unchanged, before %v after %v", origHeartbeat, after.LastHeartbeat)
	}
	if after.Status != queue.StatusRunning {
		t.Fatalf("expected status preserved, got %s", after.Status)
	}
	if after.ProgressStage != "Generating images" || after.ProgressMessage != "2/3 settled" {
		t.Fatalf("expected progress fields persisted, got stage=%q message=%q", after.ProgressStage, after.ProgressMessage)
	}
	if after.ProgressPercent != 42.5 {
		t.Fatalf("expected progress percent 42.5, got %f", after.ProgressPercent)
	}
}

func TestRemoveCascadesScenes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	board := testsupport.AddStoryboard(t, store, "Removable", 2)

	removed, err := store.Remove(ctx, board.ID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatal("expected storyboard removed")
	}

	tasks, err := store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		t.Fatalf("SceneTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected scene rows removed with storyboard, got %d", len(tasks))
	}
}

func TestHealthAggregates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.AddStoryboard(t, store, "Pending", 1)
	running := testsupport.AddStoryboard(t, store, "Running", 1)
	running.Status = queue.StatusRunning
	if err := store.Update(ctx, running); err != nil {
		t.Fatalf("Update running: %v", err)
	}
	failed := testsupport.AddStoryboard(t, store, "Failed", 1)
	failed.SetFailed("boom")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	review := testsupport.AddStoryboard(t, store, "Review", 1)
	review.SetReview("bad manifest")
	if err := store.Update(ctx, review); err != nil {
		t.Fatalf("Update review: %v", err)
	}
	completed := testsupport.AddStoryboard(t, store, "Completed", 1)
	completed.Status = queue.StatusCompleted
	if err := store.Update(ctx, completed); err != nil {
		t.Fatalf("Update completed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 5 {
		t.Fatalf("expected 5 total, got %d", health.Total)
	}
	if health.Pending != 1 || health.Running != 1 || health.Failed != 1 || health.Review != 1 || health.Completed != 1 {
		t.Fatalf("unexpected health counts: %#v", health)
	}
}

func TestFailureStatus(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected queue.Status
	}{
		{
			name:     "transient",
			err:      services.Wrap(services.ErrTransient, "provider", "submit", "gateway overloaded", nil),
			expected: queue.StatusFailed,
		},
		{
			name:     "plain error",
			err:      errors.New("anything else"),
			expected: queue.StatusFailed,
		},
		{
			name:     "validation",
			err:      services.Wrap(services.ErrValidation, "manifest", "validate", "prompt is required", nil),
			expected: queue.StatusReview,
		},
		{
			name:     "configuration",
			err:      services.Wrap(services.ErrConfiguration, "provider", "submit", "base url unset", nil),
			expected: queue.StatusReview,
		},
		{
			name:     "auth",
			err:      services.Wrap(services.ErrAuth, "provider", "submit", "key rejected", nil),
			expected: queue.StatusReview,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := queue.FailureStatus(tc.err); got != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestWorkspaceRoot(t *testing.T) {
	board := queue.Storyboard{ID: 7, StoryboardID: "sb 01/harbor"}
	if got := board.WorkspaceRoot("/work"); got != "/work/sb-01-harbor" {
		t.Fatalf("unexpected workspace root: %q", got)
	}

	board.StoryboardID = ""
	if got := board.WorkspaceRoot("/work"); got != "/work/queue-7" {
		t.Fatalf("unexpected fallback root: %q", got)
	}

	if got := board.WorkspaceRoot("  "); got != "" {
		t.Fatalf("expected empty root for blank base, got %q", got)
	}
}
