// Package api defines wire-format types and converters for the daemon's HTTP
// API. It translates internal queue models into transport-friendly DTOs so
// the CLI and other consumers can render status without coupling to internal
// types.
//
// # Key Types
//
// Storyboard: transport representation of a queued storyboard with progress,
// scene counts, and review state.
//
// Scene: one scene checkpoint with its stage, artifacts, and failure detail.
//
// DaemonStatus: aggregated runtime information including queue stats, the
// active run, and external dependency availability.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (queue.Status, scene stage
// kinds) are exposed as lowercase strings. Timestamps use RFC3339 with
// milliseconds.
package api
