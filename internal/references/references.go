// Package references resolves which look-reference images each scene of a
// storyboard should carry. Assignment normally arrives from an external
// curation step; the resolver waits a bounded time for it to settle and
// otherwise applies a deterministic heuristic split.
package references

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"montage/internal/logging"
	"montage/internal/retry"
)

const (
	defaultWaitBudget   = 60 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Assignment maps a scene index to the reference URLs it should submit.
type Assignment map[int][]string

// Source exposes externally managed reference assignment. Settled is false
// while curation is still shuffling images between scenes.
type Source interface {
	Assignments(ctx context.Context) (assigned Assignment, settled bool, err error)
}

// Resolver waits for a Source to settle, bounded by a wait budget, and falls
// back to the heuristic split when it does not.
type Resolver struct {
	source   Source
	logger   *slog.Logger
	wait     time.Duration
	interval time.Duration
	sleeper  func(time.Duration)
}

// Option customizes resolver behavior.
type Option func(*Resolver)

// WithLogger routes resolver logs to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logging.NewComponentLogger(logger, "references")
	}
}

// WithWaitBudget bounds how long Resolve waits for assignment to settle.
func WithWaitBudget(wait time.Duration) Option {
	return func(r *Resolver) {
		if wait > 0 {
			r.wait = wait
		}
	}
}

// WithPollInterval sets the delay between settlement checks.
func WithPollInterval(interval time.Duration) Option {
	return func(r *Resolver) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithSleeper overrides how the resolver waits between checks; tests inject
// a recorder so resolution runs instantly.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(r *Resolver) {
		r.sleeper = sleeper
	}
}

// NewResolver builds a resolver over source. A nil source skips the wait and
// always applies the heuristic split.
func NewResolver(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:   source,
		logger:   logging.NewNop(),
		wait:     defaultWaitBudget,
		interval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the per-scene reference assignment for a run. It polls the
// source until assignment settles or the wait budget runs out, then falls
// back to a heuristic split of refs across prompts. Source errors never fail
// the run; only context cancellation does.
func (r *Resolver) Resolve(ctx context.Context, refs []string, prompts []string) (Assignment, error) {
	if len(refs) == 0 || len(prompts) == 0 {
		return Assignment{}, nil
	}
	if r.source != nil {
		attempts := int(r.wait / r.interval)
		if attempts < 1 {
			attempts = 1
		}
		for attempt := 1; attempt <= attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			assigned, settled, err := r.source.Assignments(ctx)
			if err != nil {
				if retry.IsFatal(err) {
					r.logger.Warn("reference source rejected query, applying heuristic split", logging.Error(err))
					return Heuristic(refs, prompts), nil
				}
				r.logger.Debug("reference source query failed",
					logging.Int("attempt", attempt),
					logging.Error(err),
				)
			} else if settled {
				r.logger.Debug("reference assignment settled", logging.Int("checks", attempt))
				return assigned, nil
			}
			if attempt < attempts {
				if err := r.sleep(ctx); err != nil {
					return nil, err
				}
			}
		}
		r.logger.Warn("reference assignment did not settle, applying heuristic split",
			logging.Duration("waited", r.wait),
		)
	}
	return Heuristic(refs, prompts), nil
}

func (r *Resolver) sleep(ctx context.Context) error {
	if r.sleeper != nil {
		r.sleeper(r.interval)
		return ctx.Err()
	}
	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type setting int

const (
	settingNeutral setting = iota
	settingInterior
	settingExterior
)

var (
	interiorWords = []string{"interior", "indoor", "inside", "room", "cabin", "kitchen", "office", "hall"}
	exteriorWords = []string{"exterior", "outdoor", "outside", "aerial", "street", "landscape", "rooftop", "pier", "forest", "sky"}
)

// classify buckets a URL or prompt by setting keywords. Exterior is checked
// first because "outside" contains "inside".
func classify(s string) setting {
	lowered := strings.ToLower(s)
	for _, word := range exteriorWords {
		if strings.Contains(lowered, word) {
			return settingExterior
		}
	}
	for _, word := range interiorWords {
		if strings.Contains(lowered, word) {
			return settingInterior
		}
	}
	return settingNeutral
}

// Heuristic splits refs across scenes without external hints: refs whose
// URL names an interior or exterior setting are dealt round-robin to the
// scenes whose prompt matches that setting, the rest round-robin across all
// scenes. Deterministic for a given input order.
func Heuristic(refs []string, prompts []string) Assignment {
	out := make(Assignment, len(prompts))
	if len(refs) == 0 || len(prompts) == 0 {
		return out
	}

	scenesBySetting := make(map[setting][]int, 3)
	for i, prompt := range prompts {
		kind := classify(prompt)
		scenesBySetting[kind] = append(scenesBySetting[kind], i)
	}
	all := make([]int, len(prompts))
	for i := range prompts {
		all[i] = i
	}

	cursors := make(map[setting]int, 3)
	for _, ref := range refs {
		kind := classify(ref)
		targets := scenesBySetting[kind]
		if kind == settingNeutral || len(targets) == 0 {
			kind = settingNeutral
			targets = all
		}
		index := targets[cursors[kind]%len(targets)]
		cursors[kind]++
		out[index] = append(out[index], ref)
	}
	return out
}
