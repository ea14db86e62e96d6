// Package scene drives one scene through its image, video, and frame
// extraction stages. A workflow owns its task exclusively: stage transitions
// are persisted as they happen, pause and skip are honored between stages,
// and in-flight provider calls are never interrupted.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	neturl "net/url"
	"path"
	"sync"

	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/retry"
	"montage/internal/services"
)

// TaskStore persists the scene row after every transition.
type TaskStore interface {
	UpdateScene(ctx context.Context, task *SceneTask) error
}

// Extractor produces seed frames from a completed clip.
type Extractor interface {
	Extract(ctx context.Context, videoInput string, count int) ([]SeedFrame, error)
}

// ArtifactStore downloads a result URL into local artifact storage and
// returns the local path.
type ArtifactStore interface {
	Fetch(ctx context.Context, url, key string) (string, error)
}

// ProgressEvent reports a stage transition to the progress sink.
type ProgressEvent struct {
	StoryboardID string
	SceneIndex   int
	Stage        Stage
	Message      string
}

// Options configure a scene workflow.
type Options struct {
	Client    jobs.Client
	Poller    *jobs.Poller
	Store     TaskStore
	Extractor Extractor
	// Artifacts is optional; without it video stays at its remote URL.
	Artifacts ArtifactStore
	Logger    *slog.Logger
	Retry     retry.Policy

	// StageLevels adjusts log verbosity for individual stages, keyed by
	// stage kind. The backing handler must already run at the most verbose
	// level requested; see logging.StageFloor.
	StageLevels map[string]slog.Level

	ImageModel     string
	VideoModel     string
	SeedFrameCount int

	// ExtractFrames controls whether Run extracts seed frames after the
	// video stage. The last scene of a chained storyboard and every scene
	// of a pipelined run complete straight from video_ready.
	ExtractFrames bool

	// OnProgress is fire-and-forget; implementations must not block.
	OnProgress func(ProgressEvent)
	// ChainNext starts the next scene once this scene's seed frame is
	// chosen. Only sequential driving sets it.
	ChainNext func(ctx context.Context, seed SeedFrame)
}

// Workflow drives a single SceneTask. All exported methods are safe for
// concurrent use; external transitions (skip, retry) supersede in-flight
// work, whose late results are discarded.
type Workflow struct {
	client    jobs.Client
	poller    *jobs.Poller
	store     TaskStore
	extractor Extractor
	artifacts ArtifactStore
	logger    *slog.Logger
	retry     retry.Policy

	stageLevels    map[string]slog.Level
	imageModel     string
	videoModel     string
	seedFrameCount int
	extractFrames  bool
	onProgress     func(ProgressEvent)
	chainNext      func(ctx context.Context, seed SeedFrame)

	gate pauseGate

	mu    sync.Mutex
	epoch int
	task  *SceneTask
}

// NewWorkflow validates the wiring and takes ownership of task.
func NewWorkflow(task *SceneTask, opts Options) (*Workflow, error) {
	if task == nil {
		return nil, services.Wrap(services.ErrValidation, "scene", "new workflow", "task is required", nil)
	}
	if opts.Client == nil {
		return nil, services.Wrap(services.ErrValidation, "scene", "new workflow", "job client is required", nil)
	}
	if opts.Poller == nil {
		return nil, services.Wrap(services.ErrValidation, "scene", "new workflow", "job poller is required", nil)
	}
	if opts.Store == nil {
		return nil, services.Wrap(services.ErrValidation, "scene", "new workflow", "task store is required", nil)
	}
	if opts.Extractor == nil {
		return nil, services.Wrap(services.ErrValidation, "scene", "new workflow", "frame extractor is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	count := opts.SeedFrameCount
	if count < 1 {
		count = 3
	}
	if task.Stage.Kind == "" {
		task.Stage = At(StageIdle)
	}
	return &Workflow{
		client:         opts.Client,
		poller:         opts.Poller,
		store:          opts.Store,
		extractor:      opts.Extractor,
		artifacts:      opts.Artifacts,
		logger:         logging.NewComponentLogger(logger, "scene-workflow"),
		retry:          opts.Retry,
		stageLevels:    opts.StageLevels,
		imageModel:     opts.ImageModel,
		videoModel:     opts.VideoModel,
		seedFrameCount: count,
		extractFrames:  opts.ExtractFrames,
		onProgress:     opts.OnProgress,
		chainNext:      opts.ChainNext,
		task:           task,
	}, nil
}

// Task returns a copy of the current task state.
func (w *Workflow) Task() *SceneTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.task.Clone()
}

// Pause stops the workflow from starting new stages. Idempotent; the stage
// already in flight settles normally.
func (w *Workflow) Pause() { w.gate.Pause() }

// Resume lifts a pause. A no-op when the workflow is not paused.
func (w *Workflow) Resume() { w.gate.Resume() }

// Paused reports whether stage advancement is currently held.
func (w *Workflow) Paused() bool { return w.gate.Paused() }

// Run drives the task from its current stage until its pipeline work is
// done: frames_ready when seed extraction is on, completed otherwise. The
// first stage failure stops the run with the task parked at the error stage.
func (w *Workflow) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.gate.Wait(ctx); err != nil {
			return err
		}
		_, task := w.begin()

		switch task.Stage.Kind {
		case StageIdle, StageGeneratingImage:
			if err := w.RunImageStage(ctx); err != nil {
				return err
			}
		case StageImageReady, StageGeneratingVideo:
			if err := w.RunVideoStage(ctx); err != nil {
				return err
			}
		case StageVideoReady, StageExtractingFrames:
			if !w.extractFrames {
				return w.MarkCompleted(ctx)
			}
			if _, _, err := w.RunExtraction(ctx); err != nil {
				return err
			}
		case StageFramesReady, StageCompleted:
			return nil
		case StageError:
			return services.Wrap(services.ErrValidation, "scene", "run",
				fmt.Sprintf("scene %d already failed at %s: %s; retry it first",
					task.Index, task.Stage.FailedKind, task.LastError), nil)
		default:
			return services.Wrap(services.ErrValidation, "scene", "run",
				fmt.Sprintf("scene %d has unknown stage %q", task.Index, task.Stage.Kind), nil)
		}
	}
}

// RunImageStage submits the scene's image job and polls it to completion,
// leaving the task at image_ready. A no-op when the image already exists.
func (w *Workflow) RunImageStage(ctx context.Context) error {
	if err := w.gate.Wait(ctx); err != nil {
		return err
	}
	epoch, task := w.begin()
	ctx = w.taskContext(ctx, task)

	if task.Stage.Kind == StageError {
		return w.errStageBlocked(task, "image stage")
	}
	if !task.Stage.Before(StageImageReady) {
		return nil
	}

	req := jobs.SubmitRequest{
		Kind:          jobs.KindImage,
		Model:         w.imageModel,
		Prompt:        task.Prompt,
		SeedImageURL:  task.SeedImageURL,
		ReferenceURLs: task.ReferenceURLs,
	}
	if err := req.Validate(); err != nil {
		return w.fail(ctx, epoch, StageGeneratingImage, err)
	}
	ok, err := w.transition(ctx, epoch, StageGeneratingImage, "generating image")
	if err != nil || !ok {
		return err
	}

	jobID, err := retry.Do(ctx, w.retry, "submit image job", func(ctx context.Context) (string, error) {
		return w.client.Submit(ctx, req)
	})
	if err != nil {
		return w.fail(ctx, epoch, StageGeneratingImage, err)
	}
	logging.WithContext(ctx, w.stageLogger(StageGeneratingImage)).Debug("image job submitted",
		logging.String(logging.FieldJobID, jobID))

	imageURL, err := w.poller.Wait(ctx, jobID, jobs.KindImage)
	if err != nil {
		return w.fail(ctx, epoch, StageGeneratingImage, err)
	}
	_, err = w.apply(ctx, epoch, "image ready", func(t *SceneTask) {
		t.SelectedImageURL = imageURL
		t.Stage = At(StageImageReady)
		t.LastError = ""
	})
	return err
}

// RunVideoStage submits the scene's video job using the selected image as
// the starting frame, downloads the result, and leaves the task at
// video_ready. A missing image is an input error, reported without retry.
func (w *Workflow) RunVideoStage(ctx context.Context) error {
	if err := w.gate.Wait(ctx); err != nil {
		return err
	}
	epoch, task := w.begin()
	ctx = w.taskContext(ctx, task)

	if task.Stage.Kind == StageError {
		return w.errStageBlocked(task, "video stage")
	}
	if !task.Stage.Before(StageVideoReady) {
		return nil
	}
	if task.SelectedImageURL == "" {
		return w.fail(ctx, epoch, StageGeneratingVideo,
			services.Wrap(services.ErrValidation, "scene", "video stage",
				fmt.Sprintf("scene %d has no selected image", task.Index), nil))
	}

	req := jobs.SubmitRequest{
		Kind:            jobs.KindVideo,
		Model:           w.videoModel,
		Prompt:          task.VideoPromptOrDefault(),
		StartFrameURL:   task.SelectedImageURL,
		DurationSeconds: task.DurationSeconds,
		ReferenceURLs:   task.ReferenceURLs,
	}
	if err := req.Validate(); err != nil {
		return w.fail(ctx, epoch, StageGeneratingVideo, err)
	}
	ok, err := w.transition(ctx, epoch, StageGeneratingVideo, "generating video")
	if err != nil || !ok {
		return err
	}

	jobID, err := retry.Do(ctx, w.retry, "submit video job", func(ctx context.Context) (string, error) {
		return w.client.Submit(ctx, req)
	})
	if err != nil {
		return w.fail(ctx, epoch, StageGeneratingVideo, err)
	}
	logging.WithContext(ctx, w.stageLogger(StageGeneratingVideo)).Debug("video job submitted",
		logging.String(logging.FieldJobID, jobID))

	videoURL, err := w.poller.Wait(ctx, jobID, jobs.KindVideo)
	if err != nil {
		return w.fail(ctx, epoch, StageGeneratingVideo, err)
	}
	localPath := ""
	if w.artifacts != nil {
		localPath, err = w.artifacts.Fetch(ctx, videoURL, videoArtifactKey(task, videoURL))
		if err != nil {
			return w.fail(ctx, epoch, StageGeneratingVideo, err)
		}
	}
	_, err = w.apply(ctx, epoch, "video ready", func(t *SceneTask) {
		t.VideoURL = videoURL
		t.VideoPath = localPath
		t.Stage = At(StageVideoReady)
		t.LastError = ""
	})
	return err
}

// RunExtraction extracts seed frames from the completed clip, auto-selects
// the temporal midpoint, and leaves the task at frames_ready. It returns the
// selected seed when one was chosen.
func (w *Workflow) RunExtraction(ctx context.Context) (SeedFrame, bool, error) {
	if err := w.gate.Wait(ctx); err != nil {
		return SeedFrame{}, false, err
	}
	epoch, task := w.begin()
	ctx = w.taskContext(ctx, task)

	if task.Stage.Kind == StageError {
		return SeedFrame{}, false, w.errStageBlocked(task, "frame extraction")
	}
	if !task.Stage.Before(StageFramesReady) {
		seed, ok := task.SelectedSeed()
		return seed, ok, nil
	}
	input := task.videoInput()
	if input == "" {
		return SeedFrame{}, false, w.fail(ctx, epoch, StageExtractingFrames,
			services.Wrap(services.ErrValidation, "scene", "frame extraction",
				fmt.Sprintf("scene %d has no video to extract from", task.Index), nil))
	}

	ok, err := w.transition(ctx, epoch, StageExtractingFrames, "extracting frames")
	if err != nil || !ok {
		return SeedFrame{}, false, err
	}

	frames, err := w.extractor.Extract(ctx, input, w.seedFrameCount)
	if err != nil {
		return SeedFrame{}, false, w.fail(ctx, epoch, StageExtractingFrames, err)
	}
	var seed SeedFrame
	var selected bool
	applied, err := w.apply(ctx, epoch, "frames ready", func(t *SceneTask) {
		t.SeedFrames = frames
		t.autoSelectSeed()
		t.Stage = At(StageFramesReady)
		t.LastError = ""
		seed, selected = t.SelectedSeed()
	})
	if err != nil {
		return SeedFrame{}, false, err
	}
	if !applied {
		return SeedFrame{}, false, nil
	}
	if selected && w.chainNext != nil {
		w.chainNext(ctx, seed)
	}
	return seed, selected, nil
}

// SetSeedInput records the previous scene's continuity frame as this scene's
// image-stage seed. The seed feeds whichever image submission happens next,
// including a regeneration after retry; work already in flight is unaffected.
func (w *Workflow) SetSeedInput(ctx context.Context, seed SeedFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.task.SeedImageURL = seed.URL
	return w.persistLocked(ctx)
}

// MarkCompleted closes out a scene whose pipeline work is done.
func (w *Workflow) MarkCompleted(ctx context.Context) error {
	epoch, task := w.begin()
	switch task.Stage.Kind {
	case StageCompleted:
		return nil
	case StageVideoReady, StageFramesReady:
		_, err := w.apply(ctx, epoch, "scene completed", func(t *SceneTask) {
			t.Stage = At(StageCompleted)
			t.LastError = ""
		})
		return err
	default:
		return services.Wrap(services.ErrValidation, "scene", "complete",
			fmt.Sprintf("cannot complete scene %d from stage %s", task.Index, task.Stage), nil)
	}
}

// Retry recovers an errored task by resuming from the checkpoint before the
// stage that failed. Artifacts from earlier stages stay in place.
func (w *Workflow) Retry(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.task.Stage.Kind != StageError {
		return services.Wrap(services.ErrValidation, "scene", "retry",
			fmt.Sprintf("scene %d is not in error state", w.task.Index), nil)
	}
	w.epoch++
	w.task.Stage = At(w.task.Stage.ResumeKind())
	w.task.LastError = ""
	return w.persistLocked(ctx)
}

// SkipStep forces the task past its current stage using whatever partial
// data exists. It reports false without touching the task when the stage's
// output is absent.
func (w *Workflow) SkipStep(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	target, ok := w.skipTargetLocked()
	if !ok {
		return false, nil
	}
	w.epoch++
	w.task.Stage = At(target)
	w.task.LastError = ""
	if target == StageFramesReady {
		w.task.autoSelectSeed()
	}
	if err := w.persistLocked(ctx); err != nil {
		return false, err
	}
	w.logger.Info("stage skipped",
		logging.Int(logging.FieldSceneIndex, w.task.Index),
		logging.String(logging.FieldStage, string(target)))
	return true, nil
}

// skipTargetLocked resolves where a skip lands given the data on hand.
func (w *Workflow) skipTargetLocked() (StageKind, bool) {
	kind := w.task.Stage.Kind
	if kind == StageError {
		kind = w.task.Stage.FailedKind
		if kind == "" {
			return "", false
		}
	}
	switch kind {
	case StageIdle, StageGeneratingImage:
		if w.task.SelectedImageURL != "" {
			return StageImageReady, true
		}
	case StageImageReady, StageGeneratingVideo:
		if w.task.VideoURL != "" || w.task.VideoPath != "" {
			return StageVideoReady, true
		}
	case StageVideoReady, StageExtractingFrames:
		if len(w.task.SeedFrames) > 0 {
			return StageFramesReady, true
		}
	case StageFramesReady:
		return StageCompleted, true
	}
	return "", false
}

func (w *Workflow) begin() (int, *SceneTask) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch, w.task.Clone()
}

// transition moves the task to kind under the epoch guard.
func (w *Workflow) transition(ctx context.Context, epoch int, kind StageKind, message string) (bool, error) {
	return w.apply(ctx, epoch, message, func(t *SceneTask) {
		t.Stage = At(kind)
	})
}

// apply mutates and persists the task unless an external transition bumped
// the epoch while this stage's work was in flight; stale results are
// discarded and reported as not applied.
func (w *Workflow) apply(ctx context.Context, epoch int, message string, mutate func(*SceneTask)) (bool, error) {
	w.mu.Lock()
	if w.epoch != epoch {
		w.mu.Unlock()
		w.logger.Debug("discarding stale stage result", logging.String("event", message))
		return false, nil
	}
	mutate(w.task)
	err := w.persistLocked(ctx)
	snapshot := w.task.Clone()
	w.mu.Unlock()
	if err != nil {
		return false, err
	}
	w.emit(snapshot, message)
	return true, nil
}

func (w *Workflow) persistLocked(ctx context.Context) error {
	return w.store.UpdateScene(ctx, w.task.Clone())
}

// stageLogger applies the configured per-stage verbosity override, if any.
func (w *Workflow) stageLogger(kind StageKind) *slog.Logger {
	if level, ok := w.stageLevels[string(kind)]; ok {
		return logging.WithLevelOverride(w.logger, level)
	}
	return w.logger
}

// fail parks the task at the error stage, preserving artifacts from earlier
// stages. Context cancellation is not a scene failure: the task keeps its
// in-flight stage and a later run resumes from the matching checkpoint.
func (w *Workflow) fail(ctx context.Context, epoch int, failed StageKind, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	w.mu.Lock()
	var snapshot *SceneTask
	if w.epoch == epoch {
		w.task.Stage = Errored(failed, cause)
		w.task.LastError = cause.Error()
		if err := w.persistLocked(ctx); err != nil {
			w.logger.Warn("failed to persist error stage", logging.Error(err))
		}
		snapshot = w.task.Clone()
	}
	w.mu.Unlock()

	if snapshot != nil {
		logging.WithContext(ctx, w.stageLogger(failed)).Error("scene stage failed",
			logging.String(logging.FieldStage, string(failed)),
			logging.Error(cause))
		w.emit(snapshot, "scene failed")
	}
	return cause
}

func (w *Workflow) emit(task *SceneTask, message string) {
	w.stageLogger(task.Stage.Kind).Info(message,
		logging.String(logging.FieldStoryboardID, task.StoryboardID),
		logging.Int(logging.FieldSceneIndex, task.Index),
		logging.String(logging.FieldStage, task.Stage.String()))
	if w.onProgress != nil {
		w.onProgress(ProgressEvent{
			StoryboardID: task.StoryboardID,
			SceneIndex:   task.Index,
			Stage:        task.Stage,
			Message:      message,
		})
	}
}

func (w *Workflow) errStageBlocked(task *SceneTask, operation string) error {
	return services.Wrap(services.ErrValidation, "scene", operation,
		fmt.Sprintf("scene %d is in error state; retry it first", task.Index), nil)
}

func (w *Workflow) taskContext(ctx context.Context, task *SceneTask) context.Context {
	if task.StoryboardID != "" {
		ctx = services.WithStoryboardID(ctx, task.StoryboardID)
	}
	return services.WithSceneIndex(ctx, task.Index)
}

// videoArtifactKey names the downloaded clip inside the artifact store.
func videoArtifactKey(task *SceneTask, url string) string {
	ext := ".mp4"
	if parsed, err := neturl.Parse(url); err == nil {
		if e := path.Ext(parsed.Path); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return fmt.Sprintf("%s/scene-%02d/video%s", task.StoryboardID, task.Index, ext)
}

// pauseGate blocks stage advancement while set. It is consulted only between
// stages, never during an in-flight call.
type pauseGate struct {
	mu     sync.Mutex
	resume chan struct{}
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resume == nil {
		g.resume = make(chan struct{})
	}
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resume != nil {
		close(g.resume)
		g.resume = nil
	}
}

func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resume != nil
}

// Wait blocks until the gate is open or ctx is done.
func (g *pauseGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		ch := g.resume
		g.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
