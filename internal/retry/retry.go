package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"montage/internal/services"
)

const (
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 4 * time.Second
)

// Policy controls bounded retries with capped exponential backoff. The delay
// before retry k is InitialDelay * 2^(k-1), never exceeding MaxDelay.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so an
	// operation runs at most MaxRetries+1 times.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Sleeper overrides how delays are waited out. Tests inject a recorder;
	// production leaves it nil for a context-aware timer.
	Sleeper func(time.Duration)
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// RetryAfterHint is implemented by errors that carry a provider-supplied wait
// hint (e.g. a Retry-After header); the hint replaces the computed backoff for
// that attempt, still subject to MaxDelay.
type RetryAfterHint interface {
	RetryAfter() time.Duration
}

// Do runs fn under the policy. Fatal errors (authentication, validation,
// configuration) propagate immediately; everything else is retried until the
// budget runs out, after which the last error is returned.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()
	attempts := p.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		delay, retry := nextDelay(ctx, p, err, attempt, attempts)
		if !retry {
			return zero, err
		}
		if err := sleep(ctx, p, delay); err != nil {
			return zero, err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return zero, fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

// IsFatal reports whether err must never be retried: authentication and
// malformed-request failures, caller mistakes, and context cancellation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if !services.IsRetryable(err) {
		return true
	}
	return looksLikeAuthFailure(err)
}

func nextDelay(ctx context.Context, p Policy, err error, attempt, attempts int) (time.Duration, bool) {
	if attempt >= attempts {
		return 0, false
	}
	if ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if IsFatal(err) {
		return 0, false
	}

	var hint RetryAfterHint
	if errors.As(err, &hint) {
		if wait := hint.RetryAfter(); wait > 0 {
			return capDelay(p, wait), true
		}
	}

	return backoffDelay(p, attempt), true
}

func backoffDelay(p Policy, attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	// attempt 1 -> initial, attempt 2 -> initial*2, attempt 3 -> initial*4, ...
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		if delay > p.MaxDelay/2 {
			delay = p.MaxDelay
			break
		}
		delay *= 2
	}
	return capDelay(p, delay)
}

func capDelay(p Policy, delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, p Policy, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.Sleeper != nil {
		p.Sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// looksLikeAuthFailure sniffs the message for credential problems so plain
// errors from providers that do not tag failures still short-circuit.
func looksLikeAuthFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unauthorized", "authentication", "invalid api key", "forbidden"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Transient classifies raw transport errors the way provider calls need:
// timeouts and temporary network conditions come back wrapped as transient so
// Do keeps them inside the budget.
func Transient(component, operation string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, component, operation, "request timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return services.Wrap(services.ErrTimeout, component, operation, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, component, operation, "request failed", err)
}
