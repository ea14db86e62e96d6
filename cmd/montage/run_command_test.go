package main

import (
	"testing"

	"montage/internal/testsupport"
)

func TestRunRefusesWhileDaemonIsUp(t *testing.T) {
	env := setupCLITestEnv(t)
	manifestPath := writeManifestFile(t, t.TempDir(), "Harbor at Dawn", "boats in fog")

	_, _, err := runCLI(t, []string{"run", manifestPath}, env.configPath)
	if err == nil {
		t.Fatal("expected an error while the daemon is running")
	}
	requireContains(t, err.Error(), "daemon is running")
	requireContains(t, err.Error(), "montage add")
}

func TestRunRefusesNonEmptyQueue(t *testing.T) {
	env := setupOfflineCLIEnv(t)
	testsupport.AddStoryboard(t, env.store, "Backlog Board", 1)
	manifestPath := writeManifestFile(t, t.TempDir(), "Harbor at Dawn", "boats in fog")

	_, _, err := runCLI(t, []string{"run", manifestPath}, env.configPath)
	if err == nil {
		t.Fatal("expected an error while the queue holds unfinished work")
	}
	requireContains(t, err.Error(), "unfinished storyboards")
}
