// Package daemonclient talks to the montage daemon over its HTTP API and
// manages the daemon process itself: launching montaged detached, waiting
// for its API to answer, and stopping it by signal. CLI commands use it for
// everything that needs a live daemon, with errors that distinguish "daemon
// not running" from a failed operation.
package daemonclient
