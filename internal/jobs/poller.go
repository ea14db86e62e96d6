package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"montage/internal/logging"
	"montage/internal/retry"
	"montage/internal/services"
)

const (
	defaultImageInterval = 2 * time.Second
	defaultImageTimeout  = 5 * time.Minute
	defaultVideoInterval = 5 * time.Second
	defaultVideoTimeout  = 15 * time.Minute
)

// PollPolicy bounds how one job kind is polled: a fixed interval between
// status queries and a ceiling after which the job is declared timed out.
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (p PollPolicy) withDefaults(kind Kind) PollPolicy {
	if p.Interval <= 0 {
		if kind == KindVideo {
			p.Interval = defaultVideoInterval
		} else {
			p.Interval = defaultImageInterval
		}
	}
	if p.Timeout <= 0 {
		if kind == KindVideo {
			p.Timeout = defaultVideoTimeout
		} else {
			p.Timeout = defaultImageTimeout
		}
	}
	if p.Timeout <= p.Interval {
		p.Timeout = p.Interval * 2
	}
	return p
}

// maxAttempts converts the ceiling into a query budget at the fixed interval.
func (p PollPolicy) maxAttempts() int {
	attempts := int(p.Timeout / p.Interval)
	if attempts < 1 {
		attempts = 1
	}
	return attempts
}

// Poller drives a submitted job to a settled outcome.
type Poller struct {
	client   Client
	logger   *slog.Logger
	policies map[Kind]PollPolicy
	sleeper  func(time.Duration)
}

// PollerOption customizes poller behavior.
type PollerOption func(*Poller)

// WithSleeper overrides how the poller waits between queries; tests inject a
// recorder so polling runs instantly.
func WithSleeper(sleeper func(time.Duration)) PollerOption {
	return func(p *Poller) {
		p.sleeper = sleeper
	}
}

// NewPoller constructs a poller over the given client. Policies missing a
// kind fall back to built-in defaults for that kind.
func NewPoller(client Client, logger *slog.Logger, policies map[Kind]PollPolicy, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   client,
		logger:   logging.NewComponentLogger(logger, "job-poller"),
		policies: make(map[Kind]PollPolicy, len(policies)),
	}
	for kind, policy := range policies {
		p.policies[kind] = policy
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PolicyFor returns the effective policy applied to a kind.
func (p *Poller) PolicyFor(kind Kind) PollPolicy {
	return p.policies[kind].withDefaults(kind)
}

// Wait polls jobID at the kind's interval until the job settles, the attempt
// budget runs out, or ctx is canceled. On success it returns the first
// output URL. Job failure and cancellation stop polling immediately and are
// never retried in place; transient query errors consume attempts from the
// same budget instead of aborting the wait.
func (p *Poller) Wait(ctx context.Context, jobID string, kind Kind) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", services.Wrap(services.ErrValidation, "jobs", "poll", "job id is required", nil)
	}
	policy := p.PolicyFor(kind)
	attempts := policy.maxAttempts()
	logger := logging.WithContext(ctx, p.logger).With(
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldJobKind, string(kind)),
	)

	var lastQueryErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		snap, err := p.client.Status(ctx, jobID)
		if err != nil {
			if retry.IsFatal(err) {
				return "", err
			}
			lastQueryErr = err
			logger.Debug("status query failed, retrying in place",
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
			if err := p.sleep(ctx, policy.Interval); err != nil {
				return "", err
			}
			continue
		}

		switch snap.Status {
		case StatusSucceeded:
			url, err := extractResult(snap)
			if err != nil {
				return "", err
			}
			logger.Debug("job succeeded", logging.Int("queries", attempt))
			return url, nil
		case StatusFailed, StatusCanceled:
			message := strings.TrimSpace(snap.Error)
			if message == "" {
				message = fmt.Sprintf("job %s", snap.Status)
			}
			return "", services.Wrap(services.ErrExternalTool, "jobs", "poll",
				fmt.Sprintf("job %s: %s", snap.Status, message), nil)
		case StatusStarting, StatusProcessing:
			if err := p.sleep(ctx, policy.Interval); err != nil {
				return "", err
			}
		default:
			// Unknown status values are treated as still in flight so new
			// provider states do not break existing jobs.
			logger.Warn("unknown job status", logging.String("status", string(snap.Status)))
			if err := p.sleep(ctx, policy.Interval); err != nil {
				return "", err
			}
		}
	}

	return "", services.Wrap(services.ErrTimeout, "jobs", "poll",
		fmt.Sprintf("job did not settle within %s (%d queries)", policy.Timeout, attempts), lastQueryErr)
}

// extractResult pulls the artifact URL out of a succeeded snapshot. Providers
// return either a single URL or an array; the first element wins. A succeeded
// job without usable output is a terminal protocol failure.
func extractResult(snap StatusSnapshot) (string, error) {
	for _, candidate := range snap.Output {
		if url := strings.TrimSpace(candidate); url != "" {
			return url, nil
		}
	}
	return "", services.Wrap(services.ErrExternalTool, "jobs", "poll", "job succeeded without output", nil)
}

func (p *Poller) sleep(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ctx.Err()
	}
	if p.sleeper != nil {
		p.sleeper(interval)
		return ctx.Err()
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
