package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrAuth          = errors.New("authentication error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrExternalTool  = errors.New("external tool error")
)

// Kind buckets an error for persistence and operator display.
type Kind string

const (
	// KindInput marks caller/state mistakes: missing fields, out-of-range
	// values, a stage started without its required input. Never retried.
	KindInput Kind = "input"
	// KindFatal marks errors no retry can fix: bad credentials, malformed
	// requests, broken configuration.
	KindFatal Kind = "fatal"
	// KindTransient marks errors worth retrying under a backoff policy.
	KindTransient Kind = "transient"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureKind maps an error to the taxonomy bucket the queue persists and the
// CLI displays. Unrecognized errors stay transient so they remain eligible for
// retry.
func FailureKind(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return KindInput
	case errors.Is(err, ErrAuth), errors.Is(err, ErrConfiguration):
		return KindFatal
	default:
		return KindTransient
	}
}

// IsRetryable reports whether err may be handed to a retry policy.
func IsRetryable(err error) bool {
	return FailureKind(err) == KindTransient
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
