package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"montage/internal/batch"
	"montage/internal/config"
	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/references"
	"montage/internal/scene"
	"montage/internal/services"
)

// Storyboard is the unit of one orchestrator run: an ordered list of scene
// tasks plus the run-level reference images to split across them.
type Storyboard struct {
	ID              string
	Title           string
	ReferenceImages []string
	Tasks           []*scene.SceneTask
}

// Options wire the orchestrator to its collaborators.
type Options struct {
	Client    jobs.Client
	Poller    *jobs.Poller
	Store     scene.TaskStore
	Extractor scene.Extractor
	// Artifacts is optional; without it videos stay at their remote URLs.
	Artifacts scene.ArtifactStore
	// ReferenceSource is optional; without it reference assignment goes
	// straight to the heuristic split.
	ReferenceSource references.Source
	Logger          *slog.Logger

	// OnProgress receives scene transitions and run-level phase events
	// (run-level events carry SceneIndex -1). Must not block.
	OnProgress func(scene.ProgressEvent)
	// OnWorkflow observes each scene workflow as the run builds it, so a
	// caller can expose pause/resume/skip/retry controls for active scenes.
	OnWorkflow func(index int, wf *scene.Workflow)
}

// Orchestrator drives storyboards through the configured strategy.
type Orchestrator struct {
	gen      GenerationConfig
	opts     Options
	resolver *references.Resolver
	logger   *slog.Logger
}

// New validates the wiring and returns an orchestrator. The strategy must be
// named explicitly; there is no auto-selection between phased and pipelined.
func New(gen GenerationConfig, opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "new", "job client is required", nil)
	}
	if opts.Poller == nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "new", "job poller is required", nil)
	}
	if opts.Store == nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "new", "task store is required", nil)
	}
	if opts.Extractor == nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "new", "frame extractor is required", nil)
	}
	if gen.Strategy == "" {
		gen.Strategy = config.StrategyPhased
	}
	if gen.Strategy != config.StrategyPhased && gen.Strategy != config.StrategyPipelined {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new",
			fmt.Sprintf("unknown strategy %q", gen.Strategy), nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	refOpts := []references.Option{references.WithLogger(logger)}
	if gen.ReferenceWait > 0 {
		refOpts = append(refOpts, references.WithWaitBudget(gen.ReferenceWait))
	}
	return &Orchestrator{
		gen:      gen,
		opts:     opts,
		resolver: references.NewResolver(opts.ReferenceSource, refOpts...),
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
	}, nil
}

// Run drives every scene of the storyboard and returns the aggregate
// summary. Scene failures land in the summary; the returned error is the
// summary's aggregate, or the context's error when the run was interrupted.
func (o *Orchestrator) Run(ctx context.Context, board Storyboard) (RunSummary, error) {
	started := time.Now()
	summary := RunSummary{Total: len(board.Tasks), PerScene: make([]error, len(board.Tasks))}
	if len(board.Tasks) == 0 {
		summary.Duration = time.Since(started)
		return summary, nil
	}
	if board.ID == "" {
		board.ID = board.Tasks[0].StoryboardID
	}
	ctx = services.WithStoryboardID(ctx, board.ID)
	logger := logging.WithContext(ctx, o.logger).With(
		logging.Int(logging.FieldSceneCount, len(board.Tasks)),
	)
	logger.Info("run started", logging.String("strategy", o.gen.Strategy))
	o.emitRunEvent(board.ID, fmt.Sprintf("run started (%d scenes, %s)", len(board.Tasks), o.gen.Strategy))

	if err := o.applyReferences(ctx, board); err != nil {
		summary.Duration = time.Since(started)
		return summary, err
	}

	workflows, err := o.buildWorkflows(board)
	if err != nil {
		summary.Duration = time.Since(started)
		return summary, err
	}

	var perScene []error
	var runErr error
	switch o.gen.Strategy {
	case config.StrategyPipelined:
		perScene, runErr = o.runPipelined(ctx, board.ID, workflows)
	default:
		perScene, runErr = o.runPhased(ctx, board.ID, workflows)
	}

	for i, sceneErr := range perScene {
		if sceneErr != nil {
			summary.PerScene[i] = sceneErr
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	summary.Duration = time.Since(started)

	if runErr != nil {
		logger.Warn("run interrupted",
			logging.Int("succeeded", summary.Succeeded),
			logging.Int("failed", summary.Failed),
			logging.Error(runErr),
		)
		return summary, runErr
	}
	logger.Info("run finished",
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Duration("duration", summary.Duration),
	)
	o.emitRunEvent(board.ID, summary.String())
	return summary, summary.Err()
}

// applyReferences resolves the run's reference images and records each
// scene's share before any job is submitted. Scenes that already carry
// references (a resumed run) keep them.
func (o *Orchestrator) applyReferences(ctx context.Context, board Storyboard) error {
	if len(board.ReferenceImages) == 0 {
		return nil
	}
	prompts := make([]string, len(board.Tasks))
	for i, task := range board.Tasks {
		prompts[i] = task.Prompt
	}
	assigned, err := o.resolver.Resolve(ctx, board.ReferenceImages, prompts)
	if err != nil {
		return err
	}
	for i, task := range board.Tasks {
		if len(task.ReferenceURLs) == 0 && len(assigned[i]) > 0 {
			task.ReferenceURLs = assigned[i]
		}
	}
	return nil
}

// buildWorkflows constructs one workflow per scene. Under the phased
// strategy each extracting scene's ChainNext records its selected seed as
// the next scene's image input, so continuity survives for later
// regeneration; construction runs back to front so the callback can hold
// the next workflow.
func (o *Orchestrator) buildWorkflows(board Storyboard) ([]*scene.Workflow, error) {
	n := len(board.Tasks)
	extract := o.gen.Strategy != config.StrategyPipelined
	workflows := make([]*scene.Workflow, n)

	for i := n - 1; i >= 0; i-- {
		opts := scene.Options{
			Client:         o.opts.Client,
			Poller:         o.opts.Poller,
			Store:          o.opts.Store,
			Extractor:      o.opts.Extractor,
			Artifacts:      o.opts.Artifacts,
			Logger:         o.opts.Logger,
			Retry:          o.gen.Retry,
			StageLevels:    o.gen.StageLogLevels,
			ImageModel:     o.gen.ImageModel,
			VideoModel:     o.gen.VideoModel,
			SeedFrameCount: o.gen.SeedFrameCount,
			ExtractFrames:  extract && i < n-1,
			OnProgress:     o.opts.OnProgress,
		}
		if extract && i < n-1 {
			next := workflows[i+1]
			opts.ChainNext = func(ctx context.Context, seed scene.SeedFrame) {
				if err := next.SetSeedInput(ctx, seed); err != nil {
					o.logger.Warn("failed to record continuity seed",
						logging.Int(logging.FieldSceneIndex, next.Task().Index),
						logging.Error(err),
					)
				}
			}
		}
		wf, err := scene.NewWorkflow(board.Tasks[i], opts)
		if err != nil {
			return nil, err
		}
		workflows[i] = wf
	}
	if o.opts.OnWorkflow != nil {
		for i, wf := range workflows {
			o.opts.OnWorkflow(i, wf)
		}
	}
	return workflows, nil
}

// runPhased batches each stage across all scenes with hard barriers: no
// video job starts before the whole image batch settles, and frame
// extraction runs serially once videos are done. Image work does not use
// seed continuity; visual consistency comes from shared reference images.
func (o *Orchestrator) runPhased(ctx context.Context, boardID string, workflows []*scene.Workflow) ([]error, error) {
	n := len(workflows)
	perScene := make([]error, n)

	imageTasks := make([]batch.Task[struct{}], n)
	for i, wf := range workflows {
		wf := wf
		imageTasks[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, wf.RunImageStage(ctx)
		}
	}
	_, err := batch.Run(ctx, o.batchPolicy(o.gen.ImageRate, boardID, "image phase"), imageTasks)
	if err != nil {
		var batchErr *batch.Error[struct{}]
		if !errors.As(err, &batchErr) {
			return perScene, err
		}
		for i, taskErr := range batchErr.Errs {
			perScene[i] = taskErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return perScene, ctxErr
		}
		if !o.gen.ContinueOnPartialImages {
			o.logger.Warn("image phase incomplete, aborting before any video submission",
				logging.String(logging.FieldStoryboardID, boardID),
				logging.Int("succeeded", batchErr.SuccessCount),
				logging.Int("total", n),
			)
			o.emitRunEvent(boardID, fmt.Sprintf("aborted: image phase settled %d/%d", batchErr.SuccessCount, n))
			return perScene, nil
		}
		o.logger.Warn("image phase incomplete, continuing with succeeded scenes",
			logging.String(logging.FieldStoryboardID, boardID),
			logging.Int("succeeded", batchErr.SuccessCount),
			logging.Int("total", n),
		)
	}
	o.emitRunEvent(boardID, "image phase complete")

	healthy := healthyIndices(perScene)
	if len(healthy) > 0 {
		videoTasks := make([]batch.Task[struct{}], len(healthy))
		for slot, index := range healthy {
			wf := workflows[index]
			videoTasks[slot] = func(ctx context.Context) (struct{}, error) {
				return struct{}{}, wf.RunVideoStage(ctx)
			}
		}
		_, err = batch.Run(ctx, o.batchPolicy(o.gen.VideoRate, boardID, "video phase"), videoTasks)
		if err != nil {
			var batchErr *batch.Error[struct{}]
			if !errors.As(err, &batchErr) {
				return perScene, err
			}
			for slot, taskErr := range batchErr.Errs {
				if taskErr != nil {
					perScene[healthy[slot]] = taskErr
				}
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return perScene, ctxErr
			}
		}
	}
	o.emitRunEvent(boardID, "video phase complete")

	// Extraction is serial and unthrottled: it is local ffmpeg work, and
	// scene i's seed must exist before scene i+1's is recorded.
	for i := 0; i < n-1; i++ {
		if perScene[i] != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return perScene, err
		}
		if _, _, err := workflows[i].RunExtraction(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return perScene, err
			}
			perScene[i] = err
		}
	}

	for i, wf := range workflows {
		if perScene[i] != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return perScene, err
		}
		if err := wf.MarkCompleted(ctx); err != nil {
			perScene[i] = err
		}
	}
	return perScene, nil
}

// runPipelined drives every scene's image-to-video pipeline independently,
// so scene i's video starts as soon as its own image is ready. Failures
// isolate per scene. Submissions stay bounded by per-kind semaphores and
// inter-start throttles; scenes do not extract seed frames in this mode.
func (o *Orchestrator) runPipelined(ctx context.Context, boardID string, workflows []*scene.Workflow) ([]error, error) {
	perScene := make([]error, len(workflows))

	imageSem := make(chan struct{}, o.gen.ImageRate.maxConcurrent())
	videoSem := make(chan struct{}, o.gen.VideoRate.maxConcurrent())
	imageThrottle := &startThrottle{interval: o.gen.ImageRate.MinStartInterval}
	videoThrottle := &startThrottle{interval: o.gen.VideoRate.MinStartInterval}

	g, gctx := errgroup.WithContext(ctx)
	for i, wf := range workflows {
		i, wf := i, wf
		g.Go(func() error {
			// Scene failures land in the slot, never in the group:
			// one scene's error must not cancel its siblings.
			perScene[i] = o.runScenePipeline(gctx, wf, imageSem, videoSem, imageThrottle, videoThrottle)
			return nil
		})
	}
	_ = g.Wait()
	o.emitRunEvent(boardID, "scene pipelines settled")

	if err := ctx.Err(); err != nil {
		return perScene, err
	}
	return perScene, nil
}

func (o *Orchestrator) runScenePipeline(ctx context.Context, wf *scene.Workflow, imageSem, videoSem chan struct{}, imageThrottle, videoThrottle *startThrottle) error {
	if err := acquire(ctx, imageSem); err != nil {
		return err
	}
	err := func() error {
		defer func() { <-imageSem }()
		if err := imageThrottle.wait(ctx); err != nil {
			return err
		}
		return wf.RunImageStage(ctx)
	}()
	if err != nil {
		return err
	}

	if err := acquire(ctx, videoSem); err != nil {
		return err
	}
	err = func() error {
		defer func() { <-videoSem }()
		if err := videoThrottle.wait(ctx); err != nil {
			return err
		}
		return wf.RunVideoStage(ctx)
	}()
	if err != nil {
		return err
	}

	return wf.MarkCompleted(ctx)
}

func (o *Orchestrator) batchPolicy(rate RatePolicy, boardID, phase string) batch.Policy {
	return batch.Policy{
		MaxConcurrent:    rate.maxConcurrent(),
		MinStartInterval: rate.MinStartInterval,
		OnProgress: func(completed, total int) {
			o.emitRunEvent(boardID, fmt.Sprintf("%s settled %d/%d", phase, completed, total))
		},
	}
}

// emitRunEvent reports a run-level milestone through the progress sink.
// Run-level events carry scene index -1.
func (o *Orchestrator) emitRunEvent(boardID, message string) {
	if o.opts.OnProgress == nil {
		return
	}
	o.opts.OnProgress(scene.ProgressEvent{
		StoryboardID: boardID,
		SceneIndex:   -1,
		Message:      message,
	})
}

func healthyIndices(perScene []error) []int {
	healthy := make([]int, 0, len(perScene))
	for i, err := range perScene {
		if err == nil {
			healthy = append(healthy, i)
		}
	}
	return healthy
}

func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startThrottle spaces out stage starts. Each caller reserves the next free
// slot under the lock, then sleeps outside it, so concurrent scenes line up
// at interval boundaries deterministically.
type startThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (t *startThrottle) wait(ctx context.Context) error {
	if t.interval <= 0 {
		return ctx.Err()
	}
	t.mu.Lock()
	now := time.Now()
	next := t.last.Add(t.interval)
	if next.Before(now) {
		next = now
	}
	t.last = next
	t.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
