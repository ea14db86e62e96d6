package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"montage/internal/config"
	"montage/internal/daemon"
	"montage/internal/logging"
	"montage/internal/notifications"
	"montage/internal/queue"
	"montage/internal/testsupport"
)

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *stubNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *stubNotifier) recorded() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	runner     *daemon.Runner
	notifier   *stubNotifier
	configPath string
	logPath    string
}

// setupCLITestEnv spins up a queue store plus a live daemon API server and
// writes a config file pointing at both, so commands exercise the
// daemon-backed path.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	env := setupOfflineCLIEnv(t)

	server := daemon.NewAPIServer(env.cfg, env.store, env.runner, logging.NewNop())
	if server == nil {
		t.Fatal("expected an api server for a configured bind address")
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := server.Start(ctx); err != nil {
		t.Fatalf("api Start: %v", err)
	}
	t.Cleanup(server.Stop)

	// The CLI reads the bind address from the config file, so rewrite it
	// with the port the listener actually got.
	env.cfg.Paths.APIBind = server.Addr()
	writeTestConfig(t, env.configPath, env.cfg)
	return env
}

// setupOfflineCLIEnv prepares a store and config file with no daemon
// listening, so commands fall back to direct store access.
func setupOfflineCLIEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &stubNotifier{}
	runner := daemon.NewRunner(cfg, store, logging.NewNop(), daemon.WithNotifier(notifier))

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		runner:     runner,
		notifier:   notifier,
		configPath: configPath,
		logPath:    logging.DaemonLogPath(cfg),
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := toml.Marshal(*cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeManifestFile(t *testing.T, dir, title string, prompts ...string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("title: " + title + "\n")
	sb.WriteString("scenes:\n")
	for _, prompt := range prompts {
		sb.WriteString("  - prompt: " + prompt + "\n")
	}
	path := filepath.Join(dir, "board.yaml")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("append log line: %v", err)
	}
}

func copyFileForTest(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
