// Package services defines shared utilities consumed by the scene workflow,
// the pipeline orchestrator, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp storyboard IDs, scene indexes, stage names,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the taxonomy the queue persists (input vs fatal vs transient).
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
