package main

import (
	"context"
	"encoding/json"
	"testing"

	"montage/internal/api"
	"montage/internal/queue"
	"montage/internal/testsupport"
)

func TestQueueStatusEmpty(t *testing.T) {
	env := setupOfflineCLIEnv(t)

	stdout, _, err := runCLI(t, []string{"queue", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, stdout, "Queue is empty")
}

func TestQueueStatusCountsByStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 2)
	testsupport.AddStoryboard(t, env.store, "Night Market", 1)

	stdout, _, err := runCLI(t, []string{"queue", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, stdout, "Pending")
	requireContains(t, stdout, "2")
}

func TestQueueStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 2)

	stdout, _, err := runCLI(t, []string{"queue", "status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status --json: %v", err)
	}
	var resp api.QueueStatsResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Counts["pending"] != 1 {
		t.Fatalf("pending = %d, want 1", resp.Counts["pending"])
	}
}

func TestQueueListShowsBoards(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 2)
	testsupport.AddStoryboard(t, env.store, "Night Market", 1)

	stdout, _, err := runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, stdout, "Harbor at Dawn")
	requireContains(t, stdout, "Night Market")
	requireContains(t, stdout, "Pending")
}

func TestQueueListJSONAndStatusFilter(t *testing.T) {
	env := setupCLITestEnv(t)
	board := testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 2)
	testsupport.AddStoryboard(t, env.store, "Night Market", 1)

	board.SetFailed("image generation exhausted retries")
	if err := env.store.Update(context.Background(), board); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stdout, _, err := runCLI(t, []string{"queue", "list", "--status", "failed", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list --json: %v", err)
	}
	var resp api.QueueListResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Boards) != 1 {
		t.Fatalf("listed %d boards, want 1", len(resp.Boards))
	}
	if resp.Boards[0].Title != "Harbor at Dawn" {
		t.Fatalf("title = %q", resp.Boards[0].Title)
	}
}

func TestQueueListFallsBackWithoutDaemon(t *testing.T) {
	env := setupOfflineCLIEnv(t)
	testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 2)

	stdout, _, err := runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, stdout, "Harbor at Dawn")
}

func TestQueueShowRendersScenes(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 2)

	stdout, _, err := runCLI(t, []string{"queue", "show", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, stdout, "Storyboard #1: Harbor at Dawn")
	requireContains(t, stdout, "scene 0 prompt")
	requireContains(t, stdout, "scene 1 prompt")
}

func TestQueueShowMissingBoard(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"queue", "show", "42"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for missing storyboard")
	}
	requireContains(t, err.Error(), "not found")
}

func TestQueueRetryPerBoardMessages(t *testing.T) {
	env := setupCLITestEnv(t)
	failed := testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 1)
	testsupport.AddStoryboard(t, env.store, "Night Market", 1)

	failed.SetFailed("video generation failed")
	if err := env.store.Update(context.Background(), failed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stdout, _, err := runCLI(t, []string{"queue", "retry", "1", "2", "99"}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, stdout, "Storyboard 1 reset for retry")
	requireContains(t, stdout, "Storyboard 2 is not in failed state")
	requireContains(t, stdout, "Storyboard 99 not found")

	board, err := env.store.GetByID(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if board.Status != queue.StatusPending {
		t.Fatalf("retried board status = %q, want pending", board.Status)
	}
}

func TestQueueRetryAll(t *testing.T) {
	env := setupOfflineCLIEnv(t)
	board := testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 1)
	board.SetFailed("gateway rejected the request")
	if err := env.store.Update(context.Background(), board); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stdout, _, err := runCLI(t, []string{"queue", "retry"}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, stdout, "Retried 1 failed storyboards")
}

func TestQueueRemove(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 1)

	stdout, _, err := runCLI(t, []string{"queue", "remove", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("queue remove: %v", err)
	}
	requireContains(t, stdout, "Removed 1 storyboards")

	board, err := env.store.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if board != nil {
		t.Fatalf("expected board removed, got %+v", board)
	}
}

func TestQueueClearScopes(t *testing.T) {
	env := setupCLITestEnv(t)
	done := testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 1)
	failed := testsupport.AddStoryboard(t, env.store, "Night Market", 1)
	testsupport.AddStoryboard(t, env.store, "Alpine Sunrise", 1)

	done.Status = queue.StatusCompleted
	if err := env.store.Update(context.Background(), done); err != nil {
		t.Fatalf("Update: %v", err)
	}
	failed.SetFailed("scene stalled")
	if err := env.store.Update(context.Background(), failed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stdout, _, err := runCLI(t, []string{"queue", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, stdout, "Cleared 1 completed storyboards")

	stdout, _, err = runCLI(t, []string{"queue", "clear", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear --failed: %v", err)
	}
	requireContains(t, stdout, "Cleared 1 failed storyboards")

	stdout, _, err = runCLI(t, []string{"queue", "clear", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear --all: %v", err)
	}
	requireContains(t, stdout, "Cleared 1 storyboards")
}

func TestQueueClearRejectsConflictingFlags(t *testing.T) {
	env := setupOfflineCLIEnv(t)

	_, _, err := runCLI(t, []string{"queue", "clear", "--failed", "--all"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for conflicting flags")
	}
}

func TestQueueResetStuck(t *testing.T) {
	env := setupCLITestEnv(t)
	board := testsupport.AddStoryboard(t, env.store, "Harbor at Dawn", 1)
	board.Status = queue.StatusRunning
	if err := env.store.Update(context.Background(), board); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stdout, _, err := runCLI(t, []string{"queue", "reset-stuck"}, env.configPath)
	if err != nil {
		t.Fatalf("queue reset-stuck: %v", err)
	}
	requireContains(t, stdout, "Reset 1 storyboards")

	reloaded, err := env.store.GetByID(context.Background(), board.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusPending {
		t.Fatalf("status = %q, want pending", reloaded.Status)
	}
}
