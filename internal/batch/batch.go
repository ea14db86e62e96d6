// Package batch runs independent tasks under a shared concurrency cap and a
// minimum delay between task starts. Results keep their submission order even
// though completions do not.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Policy bounds one batch run. MaxConcurrent caps how many task bodies are in
// flight at once; MinStartInterval is the minimum gap between one task's start
// and the next, independent of completions, so request rate stays bounded even
// when task durations vary.
type Policy struct {
	MaxConcurrent    int
	MinStartInterval time.Duration
	// OnProgress fires after every settlement with the number of settled
	// tasks and the batch total. Calls are serialized.
	OnProgress func(completed, total int)
	// Sleeper overrides the inter-start wait for tests.
	Sleeper func(time.Duration)
}

func (p Policy) normalized() Policy {
	if p.MaxConcurrent < 1 {
		p.MaxConcurrent = 1
	}
	if p.MinStartInterval < 0 {
		p.MinStartInterval = 0
	}
	if p.Sleeper == nil {
		p.Sleeper = time.Sleep
	}
	return p
}

// Task is one unit of batch work.
type Task[T any] func(ctx context.Context) (T, error)

// Error reports a batch in which at least one task failed. Results and Errs
// are index-aligned with the submitted tasks: Results holds zero values and
// Errs holds the cause at every failed index.
type Error[T any] struct {
	Results      []T
	Errs         []error
	SuccessCount int
}

func (e *Error[T]) Error() string {
	total := len(e.Errs)
	failed := total - e.SuccessCount
	if cause := e.Unwrap(); cause != nil {
		return fmt.Sprintf("batch: %d of %d tasks failed: %v", failed, total, cause)
	}
	return fmt.Sprintf("batch: %d of %d tasks failed", failed, total)
}

// Unwrap exposes the first failure so errors.Is and errors.As see through the
// composite.
func (e *Error[T]) Unwrap() error {
	for _, err := range e.Errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// FailedIndices lists the task positions that did not succeed, in order.
func (e *Error[T]) FailedIndices() []int {
	var indices []int
	for i, err := range e.Errs {
		if err != nil {
			indices = append(indices, i)
		}
	}
	return indices
}

// Run executes tasks in submission order under the policy. One task's failure
// never cancels its siblings; every outcome lands at the task's own index.
// When all tasks succeed the plain result slice is returned; otherwise the
// error is an *Error[T] carrying the partial results, per-index causes, and
// success count. Cancellation is cooperative: it stops new tasks from
// starting and records ctx's error at every unstarted index, but tasks
// already in flight settle on their own.
func Run[T any](ctx context.Context, policy Policy, tasks []Task[T]) ([]T, error) {
	total := len(tasks)
	results := make([]T, total)
	if total == 0 {
		return results, nil
	}
	policy = policy.normalized()

	errs := make([]error, total)
	sem := make(chan struct{}, policy.MaxConcurrent)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		succeeded int
	)
	settle := func(index int, value T, err error) {
		results[index] = value
		errs[index] = err

		mu.Lock()
		defer mu.Unlock()
		completed++
		if err == nil {
			succeeded++
		}
		if policy.OnProgress != nil {
			policy.OnProgress(completed, total)
		}
	}

	var lastStart time.Time
	for index, task := range tasks {
		if err := ctx.Err(); err != nil {
			errs[index] = err
			continue
		}
		if index > 0 && policy.MinStartInterval > 0 {
			if wait := policy.MinStartInterval - time.Since(lastStart); wait > 0 {
				policy.Sleeper(wait)
			}
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errs[index] = ctx.Err()
			continue
		}
		if err := ctx.Err(); err != nil {
			<-sem
			errs[index] = err
			continue
		}

		lastStart = time.Now()
		wg.Add(1)
		go func(index int, task Task[T]) {
			defer wg.Done()
			defer func() { <-sem }()
			value, err := task(ctx)
			settle(index, value, err)
		}(index, task)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, &Error[T]{Results: results, Errs: errs, SuccessCount: succeeded}
		}
	}
	return results, nil
}
