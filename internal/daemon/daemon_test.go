package daemon_test

import (
	"context"
	"testing"

	"montage/internal/daemon"
	"montage/internal/logging"
	"montage/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := daemon.NewRunner(cfg, store, logging.NewNop(), daemon.WithNotifier(&recordingNotifier{}))

	d, err := daemon.New(cfg, store, logging.NewNop(), runner)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Running() {
		t.Fatal("expected daemon to report running")
	}
	if d.APIAddr() == "" {
		t.Fatal("expected api server bound to an address")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon stopped")
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := daemon.NewRunner(cfg, store, logging.NewNop(), daemon.WithNotifier(&recordingNotifier{}))

	first, err := daemon.New(cfg, store, logging.NewNop(), runner)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	secondStore := testsupport.MustOpenStore(t, cfg)
	secondRunner := daemon.NewRunner(cfg, secondStore, logging.NewNop(), daemon.WithNotifier(&recordingNotifier{}))
	second, err := daemon.New(cfg, secondStore, logging.NewNop(), secondRunner)
	if err != nil {
		t.Fatalf("daemon.New second: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to be rejected while lock is held")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after lock release: %v", err)
	}
	second.Stop()
}

func TestDaemonNewValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := daemon.NewRunner(cfg, store, logging.NewNop(), daemon.WithNotifier(&recordingNotifier{}))

	if _, err := daemon.New(nil, store, logging.NewNop(), runner); err == nil {
		t.Fatal("expected nil config to be rejected")
	}
	if _, err := daemon.New(cfg, nil, logging.NewNop(), runner); err == nil {
		t.Fatal("expected nil store to be rejected")
	}
	if _, err := daemon.New(cfg, store, nil, runner); err == nil {
		t.Fatal("expected nil logger to be rejected")
	}
	if _, err := daemon.New(cfg, store, logging.NewNop(), nil); err == nil {
		t.Fatal("expected nil runner to be rejected")
	}
}
