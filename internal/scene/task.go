package scene

// SeedFrame is a still extracted from a completed clip. Immutable once
// produced; the next scene may use it as its image stage's seed input.
type SeedFrame struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	Timestamp float64 `json:"timestamp"`
}

// SceneTask carries one scene through the pipeline. Exactly one workflow
// drives a task at a time; the orchestrator only reads settled tasks for
// continuity wiring.
type SceneTask struct {
	StoryboardID    string
	Index           int
	Prompt          string
	VideoPrompt     string
	DurationSeconds int
	ReferenceURLs   []string

	// SeedImageURL is the continuity input taken from the previous scene's
	// selected seed frame. Optional; empty for scene zero and for strategies
	// that rely on reference images instead.
	SeedImageURL string

	Stage            Stage
	SelectedImageURL string
	VideoURL         string
	VideoPath        string
	SeedFrames       []SeedFrame
	// SelectedSeedFrame indexes SeedFrames; -1 until a frame is chosen.
	SelectedSeedFrame int
	LastError         string
}

// NewTask builds an idle task for one scene of a storyboard.
func NewTask(storyboardID string, index int, prompt string) *SceneTask {
	return &SceneTask{
		StoryboardID:      storyboardID,
		Index:             index,
		Prompt:            prompt,
		Stage:             At(StageIdle),
		SelectedSeedFrame: -1,
	}
}

// Clone returns a deep copy so readers never share slices with the driving
// workflow.
func (t *SceneTask) Clone() *SceneTask {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ReferenceURLs != nil {
		clone.ReferenceURLs = append([]string(nil), t.ReferenceURLs...)
	}
	if t.SeedFrames != nil {
		clone.SeedFrames = append([]SeedFrame(nil), t.SeedFrames...)
	}
	return &clone
}

// SelectedSeed returns the chosen continuity frame, if any.
func (t *SceneTask) SelectedSeed() (SeedFrame, bool) {
	if t.SelectedSeedFrame < 0 || t.SelectedSeedFrame >= len(t.SeedFrames) {
		return SeedFrame{}, false
	}
	return t.SeedFrames[t.SelectedSeedFrame], true
}

// VideoPromptOrDefault falls back to the image prompt when the manifest has
// no dedicated motion prompt for the scene.
func (t *SceneTask) VideoPromptOrDefault() string {
	if t.VideoPrompt != "" {
		return t.VideoPrompt
	}
	return t.Prompt
}

// videoInput picks the extraction input, preferring the downloaded copy.
func (t *SceneTask) videoInput() string {
	if t.VideoPath != "" {
		return t.VideoPath
	}
	return t.VideoURL
}

// autoSelectSeed picks the temporal midpoint frame (the sole frame when only
// one exists) unless a frame was already chosen.
func (t *SceneTask) autoSelectSeed() {
	if t.SelectedSeedFrame >= 0 && t.SelectedSeedFrame < len(t.SeedFrames) {
		return
	}
	if len(t.SeedFrames) == 0 {
		t.SelectedSeedFrame = -1
		return
	}
	t.SelectedSeedFrame = len(t.SeedFrames) / 2
}
