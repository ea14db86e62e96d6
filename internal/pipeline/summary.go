package pipeline

import (
	"fmt"
	"time"
)

// RunSummary aggregates one orchestrator run. PerScene is index-aligned with
// the storyboard's scenes and holds nil at every healthy index, so individual
// failures are never dropped even when the run as a whole is reported failed.
type RunSummary struct {
	Total     int
	Succeeded int
	Failed    int
	PerScene  []error
	Duration  time.Duration
}

func (s RunSummary) String() string {
	return fmt.Sprintf("%d/%d scenes succeeded in %s", s.Succeeded, s.Total, s.Duration.Round(time.Second))
}

// Err folds the summary into the run's error: nil when every scene
// succeeded, otherwise an aggregate that preserves the first scene failure
// as the unwrappable cause.
func (s RunSummary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	var first error
	var failed []int
	for i, err := range s.PerScene {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		failed = append(failed, i)
	}
	return fmt.Errorf("%d/%d scenes succeeded (failed scenes %v): %w", s.Succeeded, s.Total, failed, first)
}

// FailedScenes lists the scene indices that recorded an error.
func (s RunSummary) FailedScenes() []int {
	var failed []int
	for i, err := range s.PerScene {
		if err != nil {
			failed = append(failed, i)
		}
	}
	return failed
}
