// Package daemonrun hosts the montaged process runtime: logger construction,
// log retention, store setup, and the daemon lifecycle. The montaged binary
// stays a thin shell around Run.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"montage/internal/config"
	"montage/internal/daemon"
	"montage/internal/deps"
	"montage/internal/logging"
	"montage/internal/queue"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the montage daemon and blocks until the context is canceled or
// a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := buildLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "runs"), Pattern: "*.log"},
	)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	runner := daemon.NewRunner(cfg, store, logger)
	d, err := daemon.New(cfg, store, logger, runner)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	logger.Info("montage daemon running",
		logging.Int("pid", os.Getpid()),
		logging.String("api", d.APIAddr()),
		logging.String("queue_db", daemon.QueueDBPath(cfg)),
	)

	<-signalCtx.Done()
	logger.Info("montage daemon shutting down")
	return nil
}

// buildLogger mirrors logging.NewFromConfig but honors a process-level log
// level override so `montaged --log-level debug` works without a config edit.
func buildLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}

	outputPaths := []string{"stdout"}
	errorPaths := []string{"stderr"}
	if logPath := logging.DaemonLogPath(cfg); logPath != "" {
		if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		outputPaths = append(outputPaths, logPath)
		errorPaths = append(errorPaths, logPath)
	}

	global := logging.ParseLevel(level)
	backing := logging.StageFloor(cfg, global)
	logger, err := logging.New(logging.Options{
		Level:            logging.LevelName(backing),
		Format:           cfg.Logging.Format,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: errorPaths,
		Development:      opts.Development,
	})
	if err != nil {
		return nil, err
	}
	if backing != global {
		logger = logging.WithLevelOverride(logger, global)
	}
	return logger, nil
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}

	attrs := []logging.Attr{
		logging.Bool("api_key_present", strings.TrimSpace(cfg.Provider.APIKey) != ""),
		logging.String("base_url", cfg.Provider.BaseURL),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	}
	for _, status := range deps.CheckBinaries(deps.FrameTools(cfg.FFmpegBinary(), cfg.FFprobeBinary())) {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
