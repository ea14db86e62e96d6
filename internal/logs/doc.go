// Package logs provides bounded log-file tailing and the streaming loop
// behind `montage logs`.
//
// Tail reads a window of a console log with bounded memory, supports a
// negative offset for "last N lines", and blocks briefly in follow mode so
// callers can long-poll for new output. Stream layers the CLI behavior on
// top: it prefers the daemon's log endpoint and falls back to reading the
// file directly when the daemon is not running.
package logs
