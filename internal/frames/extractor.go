// Package frames extracts seed frames from completed clips by shelling out
// to ffmpeg. Extraction is synchronous and local with its own small bounded
// retry, independent of any provider polling budget.
package frames

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"montage/internal/logging"
	"montage/internal/scene"
	"montage/internal/services"
)

var commandContext = exec.CommandContext

const (
	// extraAttempts bounds how many times a failed extraction is redone.
	extraAttempts = 2
	retryDelay    = 500 * time.Millisecond
	dirMode       = 0o755
)

// Extractor pulls evenly spaced stills out of a clip.
type Extractor struct {
	ffmpeg  string
	ffprobe string
	// outDir receives frames for remote inputs; local inputs keep their
	// frames next to the clip.
	outDir  string
	logger  *slog.Logger
	sleeper func(time.Duration)
}

// Option configures the extractor.
type Option func(*Extractor)

// WithBinaries overrides the ffmpeg and ffprobe binary names.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(e *Extractor) {
		if ffmpeg != "" {
			e.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			e.ffprobe = ffprobe
		}
	}
}

// WithLogger attaches a logger for extraction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logging.NewComponentLogger(logger, "frame-extractor")
		}
	}
}

// WithSleeper overrides the wait between retry attempts.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(e *Extractor) {
		if sleeper != nil {
			e.sleeper = sleeper
		}
	}
}

// New builds an extractor that places frames for remote clips under outDir.
func New(outDir string, opts ...Option) *Extractor {
	extractor := &Extractor{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		outDir:  outDir,
		logger:  logging.NewNop(),
		sleeper: time.Sleep,
	}
	for _, opt := range opts {
		opt(extractor)
	}
	return extractor
}

// Extract probes the clip's duration and grabs count stills evenly spaced
// across it. Failed attempts are redone up to two more times before the
// error escalates.
func (e *Extractor) Extract(ctx context.Context, videoInput string, count int) ([]scene.SeedFrame, error) {
	videoInput = strings.TrimSpace(videoInput)
	if videoInput == "" {
		return nil, services.Wrap(services.ErrValidation, "frames", "extract", "video input is required", nil)
	}
	if count < 1 {
		return nil, services.Wrap(services.ErrValidation, "frames", "extract",
			fmt.Sprintf("frame count %d is out of range", count), nil)
	}

	var lastErr error
	for attempt := 0; attempt <= extraAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			e.logger.Warn("retrying frame extraction",
				logging.Int("attempt", attempt+1),
				logging.Error(lastErr))
			e.sleeper(retryDelay)
		}
		frames, err := e.extractOnce(ctx, videoInput, count)
		if err == nil {
			return frames, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Extractor) extractOnce(ctx context.Context, videoInput string, count int) ([]scene.SeedFrame, error) {
	duration, err := e.probeDuration(ctx, videoInput)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, services.Wrap(services.ErrExternalTool, "frames", "extract",
			fmt.Sprintf("could not determine duration of %s", videoInput), nil)
	}

	dir, err := e.frameDir(videoInput)
	if err != nil {
		return nil, err
	}

	frames := make([]scene.SeedFrame, 0, count)
	for i := 0; i < count; i++ {
		timestamp := duration * float64(i+1) / float64(count+1)
		target := filepath.Join(dir, fmt.Sprintf("frame-%02d.png", i))
		if err := e.grabFrame(ctx, videoInput, timestamp, target); err != nil {
			return nil, err
		}
		absolute, err := filepath.Abs(target)
		if err != nil {
			absolute = target
		}
		frames = append(frames, scene.SeedFrame{
			ID:        uuid.New().String(),
			URL:       "file://" + absolute,
			Timestamp: timestamp,
		})
	}
	e.logger.Debug("frames extracted",
		logging.Int("count", len(frames)),
		logging.String("dir", dir))
	return frames, nil
}

// probeDuration asks ffprobe for the container duration in seconds.
func (e *Extractor) probeDuration(ctx context.Context, videoInput string) (float64, error) {
	cmd := commandContext(ctx, e.ffprobe,
		"-v", "error",
		"-hide_banner",
		"-show_format",
		"-of", "json",
		"--", videoInput)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "frames", "probe",
			fmt.Sprintf("ffprobe failed: %s", strings.TrimSpace(string(output))), err)
	}
	var result struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "frames", "probe", "parse ffprobe output", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "frames", "probe",
			fmt.Sprintf("unusable duration %q", result.Format.Duration), err)
	}
	return duration, nil
}

func (e *Extractor) grabFrame(ctx context.Context, videoInput string, timestamp float64, target string) error {
	cmd := commandContext(ctx, e.ffmpeg,
		"-v", "error",
		"-y",
		"-ss", formatSeconds(timestamp),
		"-i", videoInput,
		"-frames:v", "1",
		"-q:v", "2",
		target)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "frames", "extract",
			fmt.Sprintf("ffmpeg failed at %s: %s", formatSeconds(timestamp), strings.TrimSpace(string(output))), err)
	}
	if _, err := os.Stat(target); err != nil {
		return services.Wrap(services.ErrExternalTool, "frames", "extract",
			fmt.Sprintf("ffmpeg produced no frame at %s", formatSeconds(timestamp)), err)
	}
	return nil
}

// frameDir picks where stills land: next to a local clip, under the
// extractor's output directory for remote ones.
func (e *Extractor) frameDir(videoInput string) (string, error) {
	var dir string
	if isRemote(videoInput) {
		dir = filepath.Join(e.outDir, "frames-"+uuid.New().String()[:8])
	} else {
		dir = filepath.Join(filepath.Dir(videoInput), "frames")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", services.Wrap(services.ErrTransient, "frames", "extract",
			fmt.Sprintf("create frame directory %s", dir), err)
	}
	return dir, nil
}

func isRemote(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}
