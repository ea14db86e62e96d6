// Package logging assembles the structured slog loggers and formatting helpers
// used across montage.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code automatically
// tags log lines with storyboard IDs, scene indexes, stages, and correlation
// IDs. Per-run transcripts, log retention, progress sampling, and a no-op
// logger for tests live here too.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape and routing guarantees as the rest of the system.
package logging
