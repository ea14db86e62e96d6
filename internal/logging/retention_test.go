package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"montage/internal/logging"
)

func TestCleanupOldLogsPrunesByAgeAndPattern(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "run-old.log")
	fresh := filepath.Join(dir, "run-fresh.log")
	other := filepath.Join(dir, "keep.txt")
	current := filepath.Join(dir, "montage.log")

	for _, path := range []string{old, fresh, other, current} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	ancient := time.Now().AddDate(0, 0, -90)
	for _, path := range []string{old, other, current} {
		if err := os.Chtimes(path, ancient, ancient); err != nil {
			t.Fatalf("age %s: %v", path, err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 30, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "*.log",
		Exclude: []string{current},
	})

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected old run log to be pruned")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh run log should remain: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("non-matching file should remain: %v", err)
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatalf("excluded file should remain: %v", err)
	}
}

func TestCleanupOldLogsDisabledByZeroRetention(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.log")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ancient := time.Now().AddDate(0, 0, -400)
	if err := os.Chtimes(path, ancient, ancient); err != nil {
		t.Fatalf("age: %v", err)
	}

	logging.CleanupOldLogs(logging.NewNop(), 0, logging.RetentionTarget{Dir: dir, Pattern: "*.log"})

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("retention 0 must not prune: %v", err)
	}
}
