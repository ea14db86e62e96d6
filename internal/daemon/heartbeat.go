package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"montage/internal/logging"
	"montage/internal/queue"
)

// HeartbeatMonitor keeps the active run's heartbeat fresh and reclaims
// running rows whose owner stopped beating.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a monitor. Non-positive durations disable the
// corresponding behavior.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// ReclaimStale returns running storyboards with stale heartbeats to pending
// so a restarted daemon picks them back up.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) (int64, error) {
	if h.timeout <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-h.timeout)
	return h.store.ReclaimStaleRunning(ctx, cutoff)
}

// StartLoop updates the storyboard's heartbeat until the context is
// canceled. Callers add to wg before spawning this in a goroutine.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, boardID int64) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, boardID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled by shutdown")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
