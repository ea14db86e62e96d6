package testsupport

import (
	"context"
	"fmt"
	"testing"

	"montage/internal/config"
	"montage/internal/manifest"
	"montage/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AddStoryboard enqueues a synthetic storyboard with sceneCount scenes using
// the provided store.
func AddStoryboard(t testing.TB, store *queue.Store, title string, sceneCount int) *queue.Storyboard {
	t.Helper()

	sb := manifest.Storyboard{
		Title:              title,
		DefaultClipSeconds: 4,
	}
	for i := 0; i < sceneCount; i++ {
		sb.Scenes = append(sb.Scenes, manifest.Scene{Prompt: fmt.Sprintf("scene %d prompt", i)})
	}
	board, err := store.Add(context.Background(), manifest.File{Storyboard: sb}, 5)
	if err != nil {
		t.Fatalf("store.Add: %v", err)
	}
	return board
}
