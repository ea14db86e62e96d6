package daemonclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"montage/internal/api"
	"montage/internal/config"
	"montage/internal/daemon"
	"montage/internal/deps"
	"montage/internal/queue"
)

// ErrDaemonNotRunning indicates no live daemon process could be found.
var ErrDaemonNotRunning = errors.New("montage daemon is not running")

const controlPollInterval = 200 * time.Millisecond

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	Signaled   bool
	ForcedKill bool
	PID        int
}

// LocateDaemonBinary resolves the montaged executable, preferring a sibling
// of the current binary over a PATH lookup.
func LocateDaemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "montaged")
		if info, statErr := os.Stat(sibling); statErr == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath("montaged")
	if err != nil {
		return "", fmt.Errorf("locate montaged binary: %w", err)
	}
	return path, nil
}

// Launch starts a detached montaged process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	var args []string
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForAPI polls the daemon health endpoint until it answers or the
// timeout elapses.
func WaitForAPI(ctx context.Context, client *Client, timeout time.Duration) error {
	if client == nil {
		return ErrUnavailable
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := client.Health(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(controlPollInterval):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches montaged unless its API already answers, then waits
// for the API to come up.
func EnsureStarted(ctx context.Context, client *Client, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if client == nil {
		return StartResult{}, ErrUnavailable
	}
	if err := client.Health(ctx); err == nil {
		result := StartResult{State: StartStateAlreadyRunning}
		if status, statusErr := client.Status(ctx); statusErr == nil {
			result.PID = status.PID
		}
		return result, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	if err := WaitForAPI(ctx, client, waitTimeout); err != nil {
		return StartResult{}, err
	}
	result := StartResult{State: StartStateStarted, Launched: true}
	if status, err := client.Status(ctx); err == nil {
		result.PID = status.PID
	}
	return result, nil
}

// ProcessInfo reports whether the daemon API is reachable and the daemon PID
// when available.
func ProcessInfo(ctx context.Context, client *Client) (bool, int, error) {
	if client == nil {
		return false, 0, nil
	}
	status, err := client.Status(ctx)
	if err != nil {
		if IsUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, status.PID, nil
}

// StopDaemon signals the daemon to shut down and force-kills the process if
// it is still alive after gracePeriod.
func StopDaemon(ctx context.Context, client *Client, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	if cfg == nil {
		return StopResult{}, errors.New("configuration not available")
	}
	pid := daemonPID(ctx, client, cfg)
	if pid <= 0 {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to stop current process (pid %d)", pid)
	}

	result := StopResult{PID: pid}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			cleanupRuntimeFiles(cfg)
			return StopResult{}, ErrDaemonNotRunning
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	result.Signaled = true

	if waitForExit(ctx, pid, gracePeriod) {
		return result, nil
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	cleanupRuntimeFiles(cfg)
	result.ForcedKill = true
	return result, nil
}

// Snapshot returns daemon status, filling queue stats and dependency checks
// from local resources when the daemon is unreachable.
func Snapshot(ctx context.Context, client *Client, cfg *config.Config) (api.DaemonStatus, error) {
	if cfg == nil {
		return api.DaemonStatus{}, errors.New("configuration not available")
	}
	if client != nil {
		status, err := client.Status(ctx)
		if err == nil {
			return status, nil
		}
		if !IsUnavailable(err) {
			return api.DaemonStatus{}, err
		}
	}

	status := api.DaemonStatus{
		QueueDBPath:  daemon.QueueDBPath(cfg),
		LockFilePath: daemon.LockFilePath(cfg),
		Dependencies: api.FromDependencyStatuses(
			deps.CheckBinaries(deps.FrameTools(cfg.FFmpegBinary(), cfg.FFprobeBinary())),
		),
	}

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	store, err := queue.Open(cfg)
	if err == nil {
		stats, statsErr := store.Stats(queryCtx)
		_ = store.Close()
		if statsErr == nil {
			status.Run.QueueStats = api.MergeQueueStats(stats)
		}
	}
	return status, nil
}

// daemonPID resolves the daemon PID from its status endpoint, falling back
// to the pid file.
func daemonPID(ctx context.Context, client *Client, cfg *config.Config) int {
	if client != nil {
		if status, err := client.Status(ctx); err == nil && status.PID > 0 {
			return status.PID
		}
	}
	data, err := os.ReadFile(daemon.PIDFilePath(cfg))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func waitForExit(ctx context.Context, pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !processAlive(pid)
		case <-time.After(controlPollInterval):
		}
	}
	return !processAlive(pid)
}

// processAlive probes pid with signal zero. EPERM still means a live process.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// cleanupRuntimeFiles removes pid and lock files a killed daemon could not
// release itself.
func cleanupRuntimeFiles(cfg *config.Config) {
	_ = os.Remove(daemon.PIDFilePath(cfg))
	_ = os.Remove(daemon.LockFilePath(cfg))
}
