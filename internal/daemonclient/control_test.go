package daemonclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"montage/internal/api"
	"montage/internal/daemon"
	"montage/internal/daemonclient"
	"montage/internal/testsupport"
)

func TestEnsureStartedDetectsRunningDaemon(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, http.StatusOK, api.DaemonStatus{Running: true, PID: 4242})
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	client := newClient(t, server)

	result, err := daemonclient.EnsureStarted(context.Background(), client, "/nonexistent/montaged", daemonclient.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonclient.StartStateAlreadyRunning {
		t.Fatalf("state = %q, want already_running", result.State)
	}
	if result.Launched {
		t.Fatal("should not report a launch when the daemon already answers")
	}
	if result.PID != 4242 {
		t.Fatalf("pid = %d, want 4242", result.PID)
	}
}

func TestWaitForAPIGivesUp(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client := newClient(t, server)
	server.Close()

	err := daemonclient.WaitForAPI(context.Background(), client, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected an error when the API never answers")
	}
}

func TestProcessInfoReportsUnreachableDaemon(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client := newClient(t, server)
	server.Close()

	running, pid, err := daemonclient.ProcessInfo(context.Background(), client)
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if running || pid != 0 {
		t.Fatalf("ProcessInfo = (%v, %d), want (false, 0)", running, pid)
	}
}

func TestStopDaemonWithoutProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	_, err := daemonclient.StopDaemon(context.Background(), nil, cfg, time.Second)
	if !errors.Is(err, daemonclient.ErrDaemonNotRunning) {
		t.Fatalf("StopDaemon err = %v, want ErrDaemonNotRunning", err)
	}
}

func TestSnapshotFallsBackToLocalState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.AddStoryboard(t, store, "Offline Board", 1)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	status, err := daemonclient.Snapshot(context.Background(), nil, cfg)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if status.Running {
		t.Fatal("offline snapshot should not report a running daemon")
	}
	if status.Run.QueueStats["pending"] != 1 {
		t.Fatalf("pending stat = %d, want 1", status.Run.QueueStats["pending"])
	}
	if status.QueueDBPath != daemon.QueueDBPath(cfg) {
		t.Fatalf("queue db path = %q", status.QueueDBPath)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency checks in offline snapshot")
	}
}
