package api

import (
	"context"

	"montage/internal/queue"
	"montage/internal/scene"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Storyboard, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	GetByID(ctx context.Context, id int64) (*queue.Storyboard, error)
	SceneTasks(ctx context.Context, storyboardID string) ([]*scene.SceneTask, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns storyboards filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]Storyboard, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	boards, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromStoryboards(boards), nil
}

// Stats returns queue summary counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single storyboard with its scene checkpoints.
func (s *QueueService) Describe(ctx context.Context, id int64) (*StoryboardResponse, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	board, err := s.store.GetByID(ctx, id)
	if err != nil || board == nil {
		return nil, err
	}
	tasks, err := s.store.SceneTasks(ctx, board.StoryboardID)
	if err != nil {
		return nil, err
	}
	return &StoryboardResponse{
		Board:  FromStoryboard(board),
		Scenes: FromSceneTasks(tasks),
	}, nil
}
