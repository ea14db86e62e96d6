package jobs

import "strings"

// Kind identifies the generation job family. Poll cadence and rate limits
// differ per kind.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Status is the provider-side lifecycle of a job.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal reports whether the status is final. A terminal job never
// changes again and must not be polled further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes a provider status string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case StatusStarting, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled:
		return normalized, true
	default:
		return "", false
	}
}

// GenerationJob tracks one provider job from submission to settlement. Only
// the Poller mutates it; once Status is terminal the record is frozen.
type GenerationJob struct {
	ID        string
	Kind      Kind
	Status    Status
	ResultURL string
	Error     string
}
