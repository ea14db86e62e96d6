package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/gofrs/flock"

	"montage/internal/config"
	"montage/internal/logging"
	"montage/internal/queue"
)

// Daemon ties the queue runner and the HTTP API together and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	runner *Runner
	api    *APIServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, runner *Runner) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || runner == nil {
		return nil, errors.New("daemon requires config, store, logger, and runner")
	}

	lockPath := LockFilePath(cfg)
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		runner:   runner,
		api:      NewAPIServer(cfg, store, runner, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the runner and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another montage daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.runner.Start(runCtx); err != nil {
		d.releaseStart(cancel)
		return fmt.Errorf("start runner: %w", err)
	}
	if d.api != nil {
		if err := d.api.Start(runCtx); err != nil {
			d.runner.Stop()
			d.releaseStart(cancel)
			return fmt.Errorf("start api server: %w", err)
		}
	}

	if err := os.WriteFile(PIDFilePath(d.cfg), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		d.logger.Warn("failed to write pid file", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("montage daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) releaseStart(cancel context.CancelFunc) {
	_ = d.lock.Unlock()
	cancel()
	d.cancel = nil
}

// Stop halts background processing and releases the daemon lock. A run in
// flight is interrupted; its row stays running and is reclaimed on the next
// start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.Stop()
	}
	d.runner.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	if err := os.Remove(PIDFilePath(d.cfg)); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to remove pid file", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("montage daemon stopped")
}

// Close stops the daemon and releases the queue store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound API address, or empty when the API is disabled.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.Addr()
}

// LockFilePath is where the daemon's single-instance lock lives.
func LockFilePath(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return filepath.Join(cfg.Paths.LogDir, "montaged.lock")
}

// QueueDBPath mirrors the queue store's database location for status
// reporting.
func QueueDBPath(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return filepath.Join(cfg.Paths.WorkspaceDir, "queue.db")
}

// PIDFilePath is where the daemon records its process id for the CLI's
// stop command.
func PIDFilePath(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return filepath.Join(cfg.Paths.LogDir, "montaged.pid")
}
