package jobs

import (
	"context"
	"fmt"
	"strings"

	"montage/internal/services"
)

// Duration bounds accepted by video jobs, in seconds.
const (
	MinClipSeconds = 1
	MaxClipSeconds = 30
)

// SubmitRequest describes a generation job submission. Image jobs take a
// prompt plus an optional seed image (the previous scene's continuity frame)
// and optional reference images. Video jobs animate a starting frame.
type SubmitRequest struct {
	Kind  Kind
	Model string

	Prompt string

	// SeedImageURL is the previous scene's seed frame; image jobs only.
	SeedImageURL string

	// StartFrameURL is the still the clip animates from; video jobs only.
	StartFrameURL string

	// DurationSeconds is the requested clip length; video jobs only,
	// zero means provider default.
	DurationSeconds int

	ReferenceURLs []string
}

// Validate rejects requests the provider would refuse, before any network
// call is made. Violations are input errors and are never retried.
func (r SubmitRequest) Validate() error {
	if r.Kind != KindImage && r.Kind != KindVideo {
		return services.Wrap(services.ErrValidation, "jobs", "submit", fmt.Sprintf("unknown job kind %q", r.Kind), nil)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return services.Wrap(services.ErrValidation, "jobs", "submit", "prompt is required", nil)
	}
	if r.Kind == KindVideo {
		if strings.TrimSpace(r.StartFrameURL) == "" {
			return services.Wrap(services.ErrValidation, "jobs", "submit", "video jobs require a starting frame", nil)
		}
		if r.DurationSeconds != 0 && (r.DurationSeconds < MinClipSeconds || r.DurationSeconds > MaxClipSeconds) {
			return services.Wrap(services.ErrValidation, "jobs", "submit",
				fmt.Sprintf("duration %ds outside [%d,%d]", r.DurationSeconds, MinClipSeconds, MaxClipSeconds), nil)
		}
	}
	if r.Kind == KindImage && strings.TrimSpace(r.StartFrameURL) != "" {
		return services.Wrap(services.ErrValidation, "jobs", "submit", "image jobs do not take a starting frame", nil)
	}
	return nil
}

// StatusSnapshot is one observation of a job's provider-side state. Output
// holds the produced artifact URLs once the job succeeds.
type StatusSnapshot struct {
	Status Status
	Output []string
	Error  string
}

// Client submits generation jobs and reports their status. Implementations
// wrap a concrete provider gateway; errors should carry the services
// taxonomy markers so retry policies can classify them.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, jobID string) (StatusSnapshot, error)
}
