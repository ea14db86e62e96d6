package queueaccess

import (
	"context"
	"errors"
	"fmt"

	"montage/internal/config"
	"montage/internal/daemonclient"
	"montage/internal/queue"
)

// Session represents a queue access handle and its cleanup function.
type Session struct {
	Access Access
	// Daemon reports whether the session talks to a live daemon.
	Daemon bool
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open tries daemon-backed access first, then falls back to opening the
// queue database directly.
func Open(ctx context.Context, cfg *config.Config) (Session, error) {
	if cfg == nil {
		return Session{}, errors.New("configuration not available")
	}

	if client, err := daemonclient.New(cfg.Paths.APIBind); err == nil && client != nil {
		if client.Health(ctx) == nil {
			return Session{Access: NewDaemonAccess(client), Daemon: true}, nil
		}
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	return Session{
		Access: NewStoreAccess(store, cfg.Generation.DefaultClipSeconds),
		close:  store.Close,
	}, nil
}
