package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"montage/internal/config"
	"montage/internal/daemon"
	"montage/internal/logging"
	"montage/internal/notifications"
	"montage/internal/pipeline"
	"montage/internal/queue"
	"montage/internal/scene"
	"montage/internal/services"
	"montage/internal/testsupport"
)

type recordedEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{event: event, payload: payload})
	return nil
}

func (n *recordingNotifier) snapshot() []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]recordedEvent, len(n.events))
	copy(out, n.events)
	return out
}

func (n *recordingNotifier) has(event notifications.Event) bool {
	for _, rec := range n.snapshot() {
		if rec.event == event {
			return true
		}
	}
	return false
}

// healthyGateway stands in for the generation endpoint during preflight.
func healthyGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runnerConfig(t *testing.T) *config.Config {
	t.Helper()
	gateway := healthyGateway(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(gateway.URL))
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 60
	return cfg
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Storyboard {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		board, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if board != nil && board.Status == want {
			return board
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("storyboard %d never reached status %s", id, want)
	return nil
}

func TestRunnerCompletesPendingStoryboard(t *testing.T) {
	cfg := runnerConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	board := testsupport.AddStoryboard(t, store, "Harbor at Dawn", 2)

	notifier := &recordingNotifier{}
	launcher := func(ctx context.Context, b *queue.Storyboard, tasks []*scene.SceneTask) (pipeline.RunSummary, error) {
		if b.ID != board.ID {
			t.Errorf("launcher got board %d, want %d", b.ID, board.ID)
		}
		if len(tasks) != 2 {
			t.Errorf("launcher got %d tasks, want 2", len(tasks))
		}
		return pipeline.RunSummary{
			Total:     len(tasks),
			Succeeded: len(tasks),
			PerScene:  make([]error, len(tasks)),
			Duration:  3 * time.Second,
		}, nil
	}

	runner := daemon.NewRunner(cfg, store, logging.NewNop(),
		daemon.WithNotifier(notifier),
		daemon.WithLauncher(launcher))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	final := waitForStatus(t, store, board.ID, queue.StatusCompleted)
	if final.SucceededScenes != 2 {
		t.Fatalf("SucceededScenes = %d, want 2", final.SucceededScenes)
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("ProgressPercent = %v, want 100", final.ProgressPercent)
	}
	if !notifier.has(notifications.EventRunStarted) {
		t.Fatal("expected run_started notification")
	}
	if !notifier.has(notifications.EventRunCompleted) {
		t.Fatal("expected run_completed notification")
	}
	for _, rec := range notifier.snapshot() {
		if rec.event == notifications.EventRunCompleted {
			if rec.payload["succeeded"] != "2" {
				t.Fatalf("run_completed succeeded = %q, want 2", rec.payload["succeeded"])
			}
		}
	}
}

func TestRunnerMarksTransientFailureAsFailed(t *testing.T) {
	cfg := runnerConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	board := testsupport.AddStoryboard(t, store, "Night Market", 2)

	sceneErr := services.Wrap(services.ErrTransient, "scene", "video stage", "render backend unavailable", nil)
	notifier := &recordingNotifier{}
	launcher := func(ctx context.Context, b *queue.Storyboard, tasks []*scene.SceneTask) (pipeline.RunSummary, error) {
		perScene := make([]error, len(tasks))
		perScene[1] = sceneErr
		return pipeline.RunSummary{
			Total:     len(tasks),
			Succeeded: len(tasks) - 1,
			Failed:    1,
			PerScene:  perScene,
		}, sceneErr
	}

	runner := daemon.NewRunner(cfg, store, logging.NewNop(),
		daemon.WithNotifier(notifier),
		daemon.WithLauncher(launcher))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	final := waitForStatus(t, store, board.ID, queue.StatusFailed)
	if final.ErrorMessage == "" {
		t.Fatal("expected error message on failed storyboard")
	}
	if final.FailedScenes != 1 || final.SucceededScenes != 1 {
		t.Fatalf("scene counters = %d/%d, want 1/1", final.SucceededScenes, final.FailedScenes)
	}
	if !notifier.has(notifications.EventSceneFailed) {
		t.Fatal("expected scene_failed notification")
	}
	if !notifier.has(notifications.EventRunFailed) {
		t.Fatal("expected run_failed notification")
	}
	for _, rec := range notifier.snapshot() {
		if rec.event == notifications.EventSceneFailed {
			if rec.payload["scene"] != "1" {
				t.Fatalf("scene_failed scene = %q, want 1", rec.payload["scene"])
			}
		}
	}
}

func TestRunnerParksFatalFailuresForReview(t *testing.T) {
	cfg := runnerConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	board := testsupport.AddStoryboard(t, store, "Bad Credentials", 1)

	authErr := services.Wrap(services.ErrAuth, "genapi", "submit", "api key rejected", nil)
	notifier := &recordingNotifier{}
	launcher := func(ctx context.Context, b *queue.Storyboard, tasks []*scene.SceneTask) (pipeline.RunSummary, error) {
		return pipeline.RunSummary{Total: len(tasks), Failed: len(tasks), PerScene: []error{authErr}}, authErr
	}

	runner := daemon.NewRunner(cfg, store, logging.NewNop(),
		daemon.WithNotifier(notifier),
		daemon.WithLauncher(launcher))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	final := waitForStatus(t, store, board.ID, queue.StatusReview)
	if final.ReviewReason == "" {
		t.Fatal("expected review reason")
	}
	if !notifier.has(notifications.EventReviewRequired) {
		t.Fatal("expected review_required notification")
	}
	if notifier.has(notifications.EventRunFailed) {
		t.Fatal("review outcome should not also emit run_failed")
	}
}

func TestRunnerLeavesBoardPendingWhenPreflightFails(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(gateway.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(gateway.URL))
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	store := testsupport.MustOpenStore(t, cfg)
	board := testsupport.AddStoryboard(t, store, "Gated", 1)

	launched := make(chan struct{}, 1)
	launcher := func(ctx context.Context, b *queue.Storyboard, tasks []*scene.SceneTask) (pipeline.RunSummary, error) {
		launched <- struct{}{}
		return pipeline.RunSummary{}, nil
	}

	runner := daemon.NewRunner(cfg, store, logging.NewNop(),
		daemon.WithNotifier(&recordingNotifier{}),
		daemon.WithLauncher(launcher))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	select {
	case <-launched:
		t.Fatal("launcher ran despite failing preflight")
	case <-time.After(500 * time.Millisecond):
	}

	current, err := store.GetByID(context.Background(), board.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", current.Status)
	}
	if runner.Status().LastErr == nil {
		t.Fatal("expected preflight failure recorded as last error")
	}
}

func TestRunnerStatusAndControlsDuringRun(t *testing.T) {
	cfg := runnerConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	board := testsupport.AddStoryboard(t, store, "Long Run", 1)

	started := make(chan struct{})
	release := make(chan struct{})
	launcher := func(ctx context.Context, b *queue.Storyboard, tasks []*scene.SceneTask) (pipeline.RunSummary, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return pipeline.RunSummary{}, ctx.Err()
		}
		return pipeline.RunSummary{Total: 1, Succeeded: 1, PerScene: make([]error, 1)}, nil
	}

	runner := daemon.NewRunner(cfg, store, logging.NewNop(),
		daemon.WithNotifier(&recordingNotifier{}),
		daemon.WithLauncher(launcher))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("launcher never started")
	}

	st := runner.Status()
	if !st.Running {
		t.Fatal("expected runner to report running")
	}
	if st.ActiveID != board.ID {
		t.Fatalf("ActiveID = %d, want %d", st.ActiveID, board.ID)
	}

	mid, err := store.GetByID(context.Background(), board.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if mid.Status != queue.StatusRunning {
		t.Fatalf("mid-run status = %s, want running", mid.Status)
	}
	if mid.LastHeartbeat == nil {
		t.Fatal("expected heartbeat set while running")
	}

	if err := runner.PauseRun(board.ID); err != nil {
		t.Fatalf("PauseRun: %v", err)
	}
	if !runner.Status().Paused {
		t.Fatal("expected paused status")
	}
	if err := runner.ResumeRun(board.ID); err != nil {
		t.Fatalf("ResumeRun: %v", err)
	}

	close(release)
	waitForStatus(t, store, board.ID, queue.StatusCompleted)

	if _, ok := runnerActive(runner); ok {
		t.Fatal("expected no active board after completion")
	}
	if err := runner.PauseRun(board.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found after run settled, got %v", err)
	}
}

func runnerActive(r *daemon.Runner) (int64, bool) {
	st := r.Status()
	return st.ActiveID, st.ActiveID != 0
}

func TestRunnerSceneControlsRequireActiveRun(t *testing.T) {
	cfg := runnerConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	runner := daemon.NewRunner(cfg, store, logging.NewNop(),
		daemon.WithNotifier(&recordingNotifier{}))

	if err := runner.RetryScene(context.Background(), 1, 0); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("RetryScene on idle runner = %v, want not-found", err)
	}
	if _, err := runner.SkipScene(context.Background(), 1, 0); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("SkipScene on idle runner = %v, want not-found", err)
	}
}
