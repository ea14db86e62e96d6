package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Storyboard describes a queued storyboard in a transport-friendly format.
type Storyboard struct {
	ID              int64    `json:"id"`
	StoryboardID    string   `json:"storyboardId"`
	Title           string   `json:"title"`
	ManifestPath    string   `json:"manifestPath,omitempty"`
	Status          string   `json:"status"`
	Progress        Progress `json:"progress"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	ReviewReason    string   `json:"reviewReason,omitempty"`
	CreatedAt       string   `json:"createdAt,omitempty"`
	UpdatedAt       string   `json:"updatedAt,omitempty"`
	LastHeartbeat   string   `json:"lastHeartbeat,omitempty"`
	SceneCount      int      `json:"sceneCount"`
	SucceededScenes int      `json:"succeededScenes"`
	FailedScenes    int      `json:"failedScenes"`
}

// Progress captures run progress for a storyboard.
type Progress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// Scene describes one scene checkpoint.
type Scene struct {
	Index             int    `json:"index"`
	Prompt            string `json:"prompt"`
	DurationSeconds   int    `json:"durationSeconds"`
	Stage             string `json:"stage"`
	FailedStage       string `json:"failedStage,omitempty"`
	StageCause        string `json:"stageCause,omitempty"`
	SelectedImageURL  string `json:"selectedImageUrl,omitempty"`
	VideoURL          string `json:"videoUrl,omitempty"`
	VideoPath         string `json:"videoPath,omitempty"`
	SeedFrameCount    int    `json:"seedFrameCount"`
	SelectedSeedFrame int    `json:"selectedSeedFrame"`
	LastError         string `json:"lastError,omitempty"`
}

// RunStatus summarizes the daemon's run loop.
type RunStatus struct {
	Running    bool           `json:"running"`
	QueueStats map[string]int `json:"queueStats"`
	LastError  string         `json:"lastError,omitempty"`
	Active     *Storyboard    `json:"active,omitempty"`
	Paused     bool           `json:"paused"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Run          RunStatus          `json:"run"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueListResponse wraps a collection of storyboards for API responses.
type QueueListResponse struct {
	Boards []Storyboard `json:"boards"`
}

// StoryboardResponse wraps a single storyboard with its scene checkpoints.
type StoryboardResponse struct {
	Board  Storyboard `json:"board"`
	Scenes []Scene    `json:"scenes,omitempty"`
}

// EnqueueRequest asks the daemon to queue a storyboard manifest.
type EnqueueRequest struct {
	ManifestPath string `json:"manifestPath"`
}

// ActionResponse reports how many rows a queue action changed.
type ActionResponse struct {
	Updated int64 `json:"updated"`
}

// SceneActionResponse reports the result of a scene-level control action.
type SceneActionResponse struct {
	Applied bool   `json:"applied"`
	Detail  string `json:"detail,omitempty"`
}

// LogTailResponse carries one window of daemon log lines.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationResponse reports the outcome of a notification test.
type TestNotificationResponse struct {
	Sent   bool   `json:"sent"`
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
