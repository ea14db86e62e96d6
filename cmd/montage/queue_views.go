package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"montage/internal/api"
)

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildBoardRows(boards []api.Storyboard) [][]string {
	if len(boards) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(boards))
	for _, board := range boards {
		title := strings.TrimSpace(board.Title)
		if title == "" {
			title = "Untitled"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", board.ID),
			title,
			formatStatusLabel(board.Status),
			formatSceneTally(board),
			formatBoardProgress(board),
			formatDisplayTime(board.CreatedAt),
		})
	}
	return rows
}

func buildSceneRows(scenes []api.Scene) [][]string {
	if len(scenes) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(scenes))
	for _, sc := range scenes {
		detail := strings.TrimSpace(sc.LastError)
		if detail == "" && sc.FailedStage != "" {
			detail = sc.FailedStage
		}
		if detail == "" {
			detail = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", sc.Index),
			formatStatusLabel(sc.Stage),
			fmt.Sprintf("%ds", sc.DurationSeconds),
			truncateText(sc.Prompt, 48),
			truncateText(detail, 40),
		})
	}
	return rows
}

func formatSceneTally(board api.Storyboard) string {
	tally := fmt.Sprintf("%d/%d", board.SucceededScenes, board.SceneCount)
	if board.FailedScenes > 0 {
		tally += fmt.Sprintf(" (%d failed)", board.FailedScenes)
	}
	return tally
}

func formatBoardProgress(board api.Storyboard) string {
	stage := strings.TrimSpace(board.Progress.Stage)
	if stage == "" && board.Progress.Percent == 0 {
		return "-"
	}
	if stage == "" {
		return fmt.Sprintf("%.0f%%", board.Progress.Percent)
	}
	return fmt.Sprintf("%s %.0f%%", stage, board.Progress.Percent)
}

// formatStatusLabel turns a machine status like "running" into a display
// label like "Running".
func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	status = strings.ReplaceAll(status, "_", " ")
	return cases.Title(language.English).String(status)
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func truncateText(value string, max int) string {
	value = strings.TrimSpace(value)
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
