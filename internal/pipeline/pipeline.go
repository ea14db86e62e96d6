// Package pipeline composes scene workflows over a storyboard. The
// orchestrator resolves reference images, then drives every scene through
// image, video, and frame-extraction work under one of two explicit
// strategies: phase-batched (stage barriers across scenes) or per-scene
// pipelined (each scene runs its own image-to-video pipeline independently).
package pipeline

import (
	"log/slog"
	"time"

	"montage/internal/config"
	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/retry"
)

// RatePolicy bounds one job kind's submissions during a run.
type RatePolicy struct {
	MaxConcurrent    int
	MinStartInterval time.Duration
}

func (p RatePolicy) maxConcurrent() int {
	if p.MaxConcurrent < 1 {
		return 1
	}
	return p.MaxConcurrent
}

// GenerationConfig carries every knob a run threads into job submissions.
// It is an explicit value handed to the orchestrator so concurrent runs in
// one process can never interfere through shared mutable settings.
type GenerationConfig struct {
	// Strategy is config.StrategyPhased or config.StrategyPipelined.
	Strategy string

	ImageModel string
	VideoModel string

	SeedFrameCount int

	ImageRate RatePolicy
	VideoRate RatePolicy

	Retry        retry.Policy
	PollPolicies map[jobs.Kind]jobs.PollPolicy

	// StageLogLevels adjusts log verbosity per scene stage, keyed by stage
	// kind (logging.stage_overrides in the config file).
	StageLogLevels map[string]slog.Level

	// ContinueOnPartialImages lets a phased run proceed to video work for
	// the scenes whose images succeeded instead of aborting the run.
	ContinueOnPartialImages bool

	// ReferenceWait bounds how long the run waits for reference-image
	// assignment to settle before the heuristic split applies.
	ReferenceWait time.Duration
}

// FromConfig translates the daemon's file configuration into an explicit
// generation config for one run.
func FromConfig(cfg *config.Config) GenerationConfig {
	return GenerationConfig{
		Strategy:       cfg.Pipeline.Strategy,
		ImageModel:     cfg.Provider.ImageModel,
		VideoModel:     cfg.Provider.VideoModel,
		SeedFrameCount: cfg.Generation.SeedFrameCount,
		ImageRate: RatePolicy{
			MaxConcurrent:    cfg.Limits.ImageMaxConcurrent,
			MinStartInterval: time.Duration(cfg.Limits.ImageMinStartIntervalMS) * time.Millisecond,
		},
		VideoRate: RatePolicy{
			MaxConcurrent:    cfg.Limits.VideoMaxConcurrent,
			MinStartInterval: time.Duration(cfg.Limits.VideoMinStartIntervalMS) * time.Millisecond,
		},
		Retry: retry.Policy{
			MaxRetries:   cfg.Generation.MaxRetries,
			InitialDelay: time.Duration(cfg.Generation.RetryInitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Generation.RetryMaxDelayMS) * time.Millisecond,
		},
		PollPolicies: map[jobs.Kind]jobs.PollPolicy{
			jobs.KindImage: {
				Interval: time.Duration(cfg.Generation.ImagePollInterval) * time.Second,
				Timeout:  time.Duration(cfg.Generation.ImagePollTimeout) * time.Second,
			},
			jobs.KindVideo: {
				Interval: time.Duration(cfg.Generation.VideoPollInterval) * time.Second,
				Timeout:  time.Duration(cfg.Generation.VideoPollTimeout) * time.Second,
			},
		},
		StageLogLevels:          stageLogLevels(cfg.Logging.StageOverrides),
		ContinueOnPartialImages: cfg.Pipeline.ContinueOnPartialImages,
		ReferenceWait:           time.Duration(cfg.Pipeline.ReferenceWaitSeconds) * time.Second,
	}
}

func stageLogLevels(overrides map[string]string) map[string]slog.Level {
	if len(overrides) == 0 {
		return nil
	}
	levels := make(map[string]slog.Level, len(overrides))
	for stage, raw := range overrides {
		levels[stage] = logging.ParseLevel(raw)
	}
	return levels
}
