package logging

import (
	"context"
	"log/slog"
)

// minLevelHandler imposes its own minimum level in front of a shared backing
// handler. Stage-scoped loggers rely on it: the backing handler runs at the
// stage floor (see StageFloor) while each derived logger clamps or reopens
// verbosity independently.
type minLevelHandler struct {
	inner slog.Handler
	min   slog.Level
}

func newMinLevelHandler(inner slog.Handler, min slog.Level) slog.Handler {
	if inner == nil {
		return NoopHandler{}
	}
	return &minLevelHandler{inner: inner, min: min}
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.inner.Enabled(ctx, level)
}

func (h *minLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.min {
		return nil
	}
	return h.inner.Handle(ctx, record)
}

// WithAttrs keeps the concrete type so a later WithLevelOverride swaps the
// level in place instead of stacking wrappers.
func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{inner: h.inner.WithAttrs(attrs), min: h.min}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{inner: h.inner.WithGroup(name), min: h.min}
}

func (h *minLevelHandler) CloneWithLevel(level slog.Level) slog.Handler {
	return &minLevelHandler{inner: h.inner, min: level}
}

// WithLevelOverride returns logger with its minimum level replaced, keeping
// attributes and sinks. Applied to an already-overridden logger it swaps the
// level rather than nesting, so a stage logger derived from the clamped
// daemon logger can reopen verbosity the backing handler was widened for.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return slog.New(newMinLevelHandler(nil, level))
	}
	if clamped, ok := logger.Handler().(interface{ CloneWithLevel(slog.Level) slog.Handler }); ok {
		return slog.New(clamped.CloneWithLevel(level))
	}
	return slog.New(newMinLevelHandler(logger.Handler(), level))
}
