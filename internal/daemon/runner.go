package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"montage/internal/config"
	"montage/internal/frames"
	"montage/internal/services/genapi"
	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/notifications"
	"montage/internal/pipeline"
	"montage/internal/preflight"
	"montage/internal/queue"
	"montage/internal/scene"
	"montage/internal/services"
	"montage/internal/storage"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultRetryInterval = 10 * time.Second
)

// Launcher executes one storyboard run and reports per-scene outcomes. The
// default launcher drives the generation pipeline; tests substitute their
// own.
type Launcher func(ctx context.Context, board *queue.Storyboard, tasks []*scene.SceneTask) (pipeline.RunSummary, error)

// Runner drains the storyboard queue, one run at a time.
type Runner struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	notifier notifications.Service

	launch    Launcher
	registry  *runRegistry
	heartbeat *HeartbeatMonitor

	pollInterval  time.Duration
	retryInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// RunnerOption overrides a collaborator, mainly for tests.
type RunnerOption func(*Runner)

// WithNotifier replaces the config-derived notification service.
func WithNotifier(notifier notifications.Service) RunnerOption {
	return func(r *Runner) { r.notifier = notifier }
}

// WithLauncher replaces the pipeline-backed launcher.
func WithLauncher(launch Launcher) RunnerOption {
	return func(r *Runner) { r.launch = launch }
}

// NewRunner constructs a queue runner bound to the given store.
func NewRunner(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	pollInterval := time.Duration(cfg.Workflow.QueuePollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	retryInterval := time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	r := &Runner{
		cfg:      cfg,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "runner"),
		notifier: notifications.NewService(cfg),
		registry: newRunRegistry(),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		pollInterval:  pollInterval,
		retryInterval: retryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.launch == nil {
		r.launch = r.pipelineLaunch
	}
	return r
}

// Start launches the queue loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return services.Wrap(services.ErrValidation, "daemon", "start", "runner already running", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runLoop(runCtx)
	}()
	return nil
}

// Stop halts the loop and waits for the in-flight run to unwind. A run
// interrupted here stays in running status; startup reclaim returns it to
// pending.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Runner) runLoop(ctx context.Context) {
	logger := logging.WithContext(ctx, r.logger)
	for {
		if ctx.Err() != nil {
			return
		}
		if reclaimed, err := r.heartbeat.ReclaimStale(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Warn("reclaim stale runs failed", logging.Error(err))
			}
		} else if reclaimed > 0 {
			logger.Info("reclaimed stale runs", logging.Int64("count", reclaimed))
		}

		board, err := r.store.NextForStatuses(ctx, queue.StatusPending)
		if err != nil {
			r.handleNextError(ctx, logger, err)
			continue
		}
		if board == nil {
			r.waitForWork(ctx)
			continue
		}

		if err := r.gatePreflight(ctx, logger); err != nil {
			r.setLastError(err)
			r.sleep(ctx, r.retryInterval)
			continue
		}

		r.setLastError(nil)
		if err := r.processBoard(ctx, board); err != nil && ctx.Err() == nil {
			r.setLastError(err)
		}
	}
}

func (r *Runner) handleNextError(ctx context.Context, logger *slog.Logger, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	logger.Error("failed to fetch next storyboard", logging.Error(err))
	r.setLastError(err)
	r.sleep(ctx, r.retryInterval)
}

func (r *Runner) waitForWork(ctx context.Context) {
	r.sleep(ctx, r.pollInterval)
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// gatePreflight blocks claiming while the environment cannot support a run.
// The storyboard stays pending, so work resumes as soon as checks pass.
func (r *Runner) gatePreflight(ctx context.Context, logger *slog.Logger) error {
	results := preflight.RunAll(ctx, r.cfg)
	if preflight.Passed(results) {
		return nil
	}
	failures := make([]string, 0, len(results))
	for _, res := range results {
		if !res.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", res.Name, res.Detail))
		}
	}
	joined := strings.Join(failures, "; ")
	logger.Warn("preflight failed, leaving storyboard pending", logging.String("failures", joined))
	return services.Wrap(services.ErrConfiguration, "daemon", "preflight", joined, nil)
}

// processBoard claims the storyboard, runs it, and persists the outcome.
func (r *Runner) processBoard(ctx context.Context, board *queue.Storyboard) error {
	logger := logging.WithContext(ctx, r.logger.With(
		logging.String(logging.FieldStoryboardID, board.StoryboardID),
		logging.Int(logging.FieldSceneCount, board.SceneCount),
	))

	runLogger, closer, err := logging.NewRunLogger(logger, board.StoryboardID, runLogPath(r.cfg, board))
	if err != nil {
		logger.Warn("run log unavailable", logging.Error(err))
		runLogger = logger
	} else {
		defer func() { _ = closer.Close() }()
	}

	now := time.Now().UTC()
	board.Status = queue.StatusRunning
	board.ErrorMessage = ""
	board.ReviewReason = ""
	board.LastHeartbeat = &now
	board.SetProgress("Starting", "Preparing scene tasks", 0)
	if err := r.store.Update(ctx, board); err != nil {
		return services.Wrap(services.ErrTransient, "daemon", "claim storyboard", "persist running status", err)
	}

	tasks, err := r.store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		board.SetFailed(fmt.Sprintf("load scene tasks: %v", err))
		if updateErr := r.store.Update(ctx, board); updateErr != nil {
			runLogger.Error("persist failure state", logging.Error(updateErr))
		}
		return err
	}

	runLogger.Info("run starting",
		logging.String("title", board.Title),
		logging.Int(logging.FieldSceneCount, len(tasks)))
	r.notifyRunStarted(ctx, board)

	r.registry.begin(board)
	defer r.registry.end()

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go r.heartbeat.StartLoop(hbCtx, &hbWG, board.ID)

	summary, runErr := r.launch(ctx, board, tasks)
	hbCancel()
	hbWG.Wait()

	return r.finishBoard(ctx, runLogger, board, summary, runErr)
}

// pipelineLaunch is the production launcher: it assembles the generation
// stack from config and drives the orchestrator.
func (r *Runner) pipelineLaunch(ctx context.Context, board *queue.Storyboard, tasks []*scene.SceneTask) (pipeline.RunSummary, error) {
	client, err := genapi.NewClient(genapi.Config{
		APIKey:         r.cfg.Provider.APIKey,
		BaseURL:        r.cfg.Provider.BaseURL,
		TimeoutSeconds: r.cfg.Provider.TimeoutSeconds,
	}, genapi.WithLogger(r.logger))
	if err != nil {
		return pipeline.RunSummary{}, err
	}

	gen := pipeline.FromConfig(r.cfg)
	poller := jobs.NewPoller(client, r.logger, gen.PollPolicies)
	extractor := frames.New(
		board.WorkspaceRoot(r.cfg.Paths.ArtifactsDir),
		frames.WithBinaries(r.cfg.FFmpegBinary(), r.cfg.FFprobeBinary()),
		frames.WithLogger(r.logger),
	)
	artifacts, err := storage.NewFS(r.cfg.Paths.ArtifactsDir, storage.WithLogger(r.logger))
	if err != nil {
		return pipeline.RunSummary{}, err
	}

	orch, err := pipeline.New(gen, pipeline.Options{
		Client:     client,
		Poller:     poller,
		Store:      r.store,
		Extractor:  extractor,
		Artifacts:  artifacts,
		Logger:     r.logger,
		OnProgress: r.progressSink(ctx, board),
		OnWorkflow: r.registry.register,
	})
	if err != nil {
		return pipeline.RunSummary{}, err
	}

	return orch.Run(ctx, pipeline.Storyboard{
		ID:              board.StoryboardID,
		Title:           board.Title,
		ReferenceImages: board.ReferenceImages,
		Tasks:           tasks,
	})
}

// progressSink maps workflow progress events onto the storyboard's progress
// columns. Scene transitions pick the coarse stage label; run-level
// milestones (SceneIndex -1) become the progress message. Percent tracks
// settled scenes over the total. Every event persists, but the runner's own
// log line is sampled so wide storyboards don't flood the daemon log.
func (r *Runner) progressSink(ctx context.Context, board *queue.Storyboard) func(scene.ProgressEvent) {
	var mu sync.Mutex
	settled := 0
	total := board.SceneCount
	if total <= 0 {
		total = 1
	}
	stage := "Starting"
	sampler := logging.NewProgressSampler(0)

	return func(ev scene.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()

		if ev.SceneIndex >= 0 {
			if label := stageLabel(ev.Stage.Kind); label != "" {
				stage = label
			}
			if ev.Stage.Kind == scene.StageCompleted || ev.Stage.IsError() {
				settled++
			}
		}
		percent := float64(settled) / float64(total) * 100
		message := ev.Message
		if message == "" {
			message = string(ev.Stage.Kind)
		}
		board.SetProgress(stage, message, percent)
		if sampler.ShouldLog(percent, stage) {
			r.logger.Info("run progress",
				logging.String(logging.FieldStoryboardID, board.StoryboardID),
				logging.String(logging.FieldProgressStage, stage),
				logging.Int(logging.FieldProgressPercent, int(percent)),
				logging.String(logging.FieldProgressMessage, message))
		}
		if err := r.store.UpdateProgress(ctx, board); err != nil && ctx.Err() == nil {
			r.logger.Debug("progress update failed", logging.Error(err))
		}
	}
}

func stageLabel(kind scene.StageKind) string {
	switch kind {
	case scene.StageGeneratingImage, scene.StageImageReady:
		return "Generating images"
	case scene.StageGeneratingVideo, scene.StageVideoReady:
		return "Generating videos"
	case scene.StageExtractingFrames, scene.StageFramesReady:
		return "Extracting frames"
	case scene.StageCompleted:
		return "Finishing"
	default:
		return ""
	}
}

func runLogPath(cfg *config.Config, board *queue.Storyboard) string {
	if cfg == nil || strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(cfg.Paths.LogDir, "runs", board.StoryboardID+".log")
}

func (r *Runner) setLastError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
}

// StatusSummary is a point-in-time view of the runner.
type StatusSummary struct {
	Running  bool
	Paused   bool
	ActiveID int64
	LastErr  error
}

// Status reports whether the loop is running and which storyboard, if any,
// is in flight.
func (r *Runner) Status() StatusSummary {
	r.mu.Lock()
	summary := StatusSummary{Running: r.running, LastErr: r.lastErr}
	r.mu.Unlock()

	if id, ok := r.registry.activeBoard(); ok {
		summary.ActiveID = id
		summary.Paused = r.registry.isPaused()
	}
	return summary
}

// PauseRun suspends stage advancement for every scene of the active run.
func (r *Runner) PauseRun(boardID int64) error {
	return r.registry.pause(boardID)
}

// ResumeRun releases a paused run.
func (r *Runner) ResumeRun(boardID int64) error {
	return r.registry.resume(boardID)
}

// RetryScene resets an errored scene of the active run so it can be driven
// again from its resume point.
func (r *Runner) RetryScene(ctx context.Context, boardID int64, index int) error {
	wf, err := r.registry.sceneWorkflow(boardID, index)
	if err != nil {
		return err
	}
	return wf.Retry(ctx)
}

// SkipScene advances a scene of the active run past its current stage when
// the stage's artifact already exists.
func (r *Runner) SkipScene(ctx context.Context, boardID int64, index int) (bool, error) {
	wf, err := r.registry.sceneWorkflow(boardID, index)
	if err != nil {
		return false, err
	}
	return wf.SkipStep(ctx)
}

// TestNotification publishes a test event through the configured notifier.
func (r *Runner) TestNotification(ctx context.Context) error {
	if r.notifier == nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "notify", "notifications unavailable", nil)
	}
	return r.notifier.Publish(ctx, notifications.EventTest, nil)
}
