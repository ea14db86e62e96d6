package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"montage/internal/api"
	"montage/internal/daemonclient"
)

const (
	daemonStartTimeout = 10 * time.Second
	daemonStopGrace    = 5 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the montage daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.client()
			if err != nil {
				return err
			}
			exe, err := daemonclient.LocateDaemonBinary()
			if err != nil {
				return err
			}

			result, err := daemonclient.EnsureStarted(
				cmd.Context(),
				client,
				exe,
				daemonLaunchOptions(ctx),
				daemonStartTimeout,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonclient.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonclient.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the montage daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonclient.StopDaemon(cmd.Context(), client, ctx.configValue(), daemonStopGrace)
			if errors.Is(err, daemonclient.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the montage daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.client()
			if err != nil {
				return err
			}
			exe, err := daemonclient.LocateDaemonBinary()
			if err != nil {
				return err
			}

			stop, err := daemonclient.StopDaemon(cmd.Context(), client, ctx.configValue(), daemonStopGrace)
			wasRunning := err == nil
			if err != nil && !errors.Is(err, daemonclient.ErrDaemonNotRunning) {
				return err
			}
			if wasRunning {
				if stop.ForcedKill && stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}

			if _, err := daemonclient.EnsureStarted(
				cmd.Context(),
				client,
				exe,
				daemonLaunchOptions(ctx),
				daemonStartTimeout,
			); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := daemonclient.Snapshot(cmd.Context(), client, ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(cmd, status)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit machine-readable JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderDaemonStatus(cmd *cobra.Command, status api.DaemonStatus) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status.Running {
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Queue database", statusInfo, status.QueueDBPath, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, line := range dependencyLines(status.Dependencies, colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout)

	if active := status.Run.Active; active != nil {
		for _, line := range renderSectionHeader("Active Run", colorize) {
			fmt.Fprintln(stdout, line)
		}
		fmt.Fprintln(stdout, renderStatusLine("Storyboard", statusInfo, fmt.Sprintf("#%d %s", active.ID, active.Title), colorize))
		progress := formatBoardProgress(*active)
		if msg := strings.TrimSpace(active.Progress.Message); msg != "" {
			progress += " " + msg
		}
		fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo, progress, colorize))
		if status.Run.Paused {
			fmt.Fprintln(stdout, renderStatusLine("Paused", statusWarn, "run is paused", colorize))
		}
		fmt.Fprintln(stdout)
	}
	if lastErr := strings.TrimSpace(status.Run.LastError); lastErr != "" {
		fmt.Fprintln(stdout, renderStatusLine("Last error", statusError, lastErr, colorize))
		fmt.Fprintln(stdout)
	}

	for _, line := range renderSectionHeader("Queue Status", colorize) {
		fmt.Fprintln(stdout, line)
	}
	rows := buildQueueStatusRows(nonZeroStats(status.Run.QueueStats))
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "Queue is empty")
		return
	}
	table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}, colorize)
	fmt.Fprintln(stdout, table)
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	if len(deps) == 0 {
		return []string{renderStatusLine("Dependencies", statusInfo, "none required", colorize)}
	}
	lines := make([]string, 0, len(deps)+1)
	missing := make([]string, 0)
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}

		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		if !dep.Optional {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

// nonZeroStats drops empty buckets so the status table only names statuses
// that have members.
func nonZeroStats(stats map[string]int) map[string]int {
	filtered := make(map[string]int, len(stats))
	for status, count := range stats {
		if count > 0 {
			filtered[status] = count
		}
	}
	return filtered
}

func daemonLaunchOptions(ctx *commandContext) daemonclient.LaunchOptions {
	opts := daemonclient.LaunchOptions{}
	if path := ctx.configPath(); path != "" {
		opts.ConfigPath = path
	}
	return opts
}
