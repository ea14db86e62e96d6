package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queued storyboard.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusReview    Status = "review"
)

// DaemonStopReason is the error message set when runs are failed due to
// daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusReview,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Storyboard represents a queued storyboard persisted in SQLite. Scene-level
// checkpoints live in their own rows; see SceneTasks.
type Storyboard struct {
	ID              int64
	StoryboardID    string
	Title           string
	ManifestPath    string
	ReferenceImages []string
	Status          Status
	ErrorMessage    string
	ReviewReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	LastHeartbeat   *time.Time
	SceneCount      int
	SucceededScenes int
	FailedScenes    int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the storyboard is actively running.
func (b Storyboard) IsProcessing() bool {
	return b.Status == StatusRunning
}

// IsProcessingStatus reports whether a status reflects an in-flight run.
func IsProcessingStatus(status Status) bool {
	return status == StatusRunning
}

// SetProgress updates all three progress fields atomically.
// Use this instead of setting ProgressStage, ProgressPercent, and
// ProgressMessage individually.
func (b *Storyboard) SetProgress(stage, message string, percent float64) {
	b.ProgressStage = stage
	b.ProgressMessage = message
	b.ProgressPercent = percent
}

// SetFailed marks the storyboard as failed with the given error message.
// Failed runs stay eligible for queue retry.
func (b *Storyboard) SetFailed(message string) {
	b.Status = StatusFailed
	b.ErrorMessage = message
	b.ProgressPercent = 0
	b.ProgressMessage = message
	b.LastHeartbeat = nil
	b.ProgressStage = "Failed"
}

// SetReview parks the storyboard for manual intervention. Review rows are
// skipped by bulk retry; they resume only when targeted explicitly after the
// underlying problem is fixed.
func (b *Storyboard) SetReview(reason string) {
	b.Status = StatusReview
	b.ReviewReason = reason
	b.ErrorMessage = reason
	b.ProgressPercent = 0
	b.ProgressMessage = reason
	b.LastHeartbeat = nil
	b.ProgressStage = "Needs review"
}

// HealthSummary describes aggregated queue counts per key lifecycle state.
type HealthSummary struct {
	Total     int
	Pending   int
	Running   int
	Failed    int
	Review    int
	Completed int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalStoryboards int
	Error            string
}
