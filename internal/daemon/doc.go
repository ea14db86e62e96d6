// Package daemon hosts the long-running montage process: a single-instance
// lock, the queue runner that drives storyboards through the generation
// pipeline, and the HTTP API the CLI talks to.
//
// The runner claims one pending storyboard at a time, keeps its heartbeat
// fresh while the run is in flight, and maps the run outcome back onto the
// queue row. Live scene workflows are tracked in a registry so pause,
// resume, retry, and skip requests land on the same workflow values the
// orchestrator is executing.
package daemon
