// Package queueaccess gives CLI commands one queue surface that works with
// or without a running daemon: operations go through the daemon API when it
// answers and fall back to opening the queue database directly.
package queueaccess

import (
	"context"

	"montage/internal/api"
	"montage/internal/daemonclient"
	"montage/internal/manifest"
	"montage/internal/queue"
)

// Access provides queue operations regardless of daemon or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.Storyboard, error)
	Describe(ctx context.Context, id int64) (*api.StoryboardResponse, error)
	Enqueue(ctx context.Context, manifestPath string) (*api.StoryboardResponse, error)
	ClearAll(ctx context.Context) (int64, error)
	ClearCompleted(ctx context.Context) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
	Remove(ctx context.Context, ids []int64) (int64, error)
	ResetStuck(ctx context.Context) (int64, error)
	RetryAll(ctx context.Context) (int64, error)
	Retry(ctx context.Context, ids []int64) (int64, error)
}

// NewDaemonAccess returns an Access backed by the daemon HTTP API.
func NewDaemonAccess(client *daemonclient.Client) Access {
	return &daemonAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct queue database access.
// defaultClipSeconds fills scene durations left out of enqueued manifests.
func NewStoreAccess(store *queue.Store, defaultClipSeconds int) Access {
	return &storeAccess{
		store:              store,
		service:            api.NewQueueService(store),
		defaultClipSeconds: defaultClipSeconds,
	}
}

type daemonAccess struct {
	client *daemonclient.Client
}

func (a *daemonAccess) Stats(ctx context.Context) (map[string]int, error) {
	return a.client.Stats(ctx)
}

func (a *daemonAccess) List(ctx context.Context, statuses []string) ([]api.Storyboard, error) {
	return a.client.List(ctx, statuses)
}

func (a *daemonAccess) Describe(ctx context.Context, id int64) (*api.StoryboardResponse, error) {
	return a.client.Describe(ctx, id)
}

func (a *daemonAccess) Enqueue(ctx context.Context, manifestPath string) (*api.StoryboardResponse, error) {
	return a.client.Enqueue(ctx, manifestPath)
}

func (a *daemonAccess) ClearAll(ctx context.Context) (int64, error) {
	return a.client.Clear(ctx, "all")
}

func (a *daemonAccess) ClearCompleted(ctx context.Context) (int64, error) {
	return a.client.Clear(ctx, "completed")
}

func (a *daemonAccess) ClearFailed(ctx context.Context) (int64, error) {
	return a.client.Clear(ctx, "failed")
}

func (a *daemonAccess) Remove(ctx context.Context, ids []int64) (int64, error) {
	var count int64
	for _, id := range ids {
		removed, err := a.client.Remove(ctx, id)
		if err != nil {
			return count, err
		}
		if removed {
			count++
		}
	}
	return count, nil
}

func (a *daemonAccess) ResetStuck(ctx context.Context) (int64, error) {
	return a.client.ResetStuck(ctx)
}

func (a *daemonAccess) RetryAll(ctx context.Context) (int64, error) {
	return a.client.RetryAll(ctx)
}

func (a *daemonAccess) Retry(ctx context.Context, ids []int64) (int64, error) {
	var count int64
	for _, id := range ids {
		updated, err := a.client.Retry(ctx, id)
		if err != nil {
			return count, err
		}
		count += updated
	}
	return count, nil
}

type storeAccess struct {
	store              *queue.Store
	service            *api.QueueService
	defaultClipSeconds int
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	return a.service.Stats(ctx)
}

func (a *storeAccess) List(ctx context.Context, statuses []string) ([]api.Storyboard, error) {
	var filters []queue.Status
	for _, s := range statuses {
		if parsed, ok := queue.ParseStatus(s); ok {
			filters = append(filters, parsed)
		}
	}
	boards, err := a.service.List(ctx, filters...)
	if err != nil {
		return nil, err
	}
	return api.SortBoardsNewestFirst(boards), nil
}

func (a *storeAccess) Describe(ctx context.Context, id int64) (*api.StoryboardResponse, error) {
	return a.service.Describe(ctx, id)
}

func (a *storeAccess) Enqueue(ctx context.Context, manifestPath string) (*api.StoryboardResponse, error) {
	file, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	board, err := a.store.Add(ctx, file, a.defaultClipSeconds)
	if err != nil {
		return nil, err
	}
	resp, err := a.service.Describe(ctx, board.ID)
	if err != nil || resp == nil {
		return &api.StoryboardResponse{Board: api.FromStoryboard(board)}, err
	}
	return resp, nil
}

func (a *storeAccess) ClearAll(ctx context.Context) (int64, error) {
	return a.store.Clear(ctx)
}

func (a *storeAccess) ClearCompleted(ctx context.Context) (int64, error) {
	return a.store.ClearCompleted(ctx)
}

func (a *storeAccess) ClearFailed(ctx context.Context) (int64, error) {
	return a.store.ClearFailed(ctx)
}

func (a *storeAccess) Remove(ctx context.Context, ids []int64) (int64, error) {
	var count int64
	for _, id := range ids {
		removed, err := a.store.Remove(ctx, id)
		if err != nil {
			return count, err
		}
		if removed {
			count++
		}
	}
	return count, nil
}

func (a *storeAccess) ResetStuck(ctx context.Context) (int64, error) {
	return a.store.ResetStuckRunning(ctx)
}

func (a *storeAccess) RetryAll(ctx context.Context) (int64, error) {
	return a.store.RetryFailed(ctx)
}

func (a *storeAccess) Retry(ctx context.Context, ids []int64) (int64, error) {
	return a.store.RetryFailed(ctx, ids...)
}
