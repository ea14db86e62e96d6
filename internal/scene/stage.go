package scene

import "fmt"

// StageKind names one state of the scene pipeline.
type StageKind string

const (
	StageIdle             StageKind = "idle"
	StageGeneratingImage  StageKind = "generating_image"
	StageImageReady       StageKind = "image_ready"
	StageGeneratingVideo  StageKind = "generating_video"
	StageVideoReady       StageKind = "video_ready"
	StageExtractingFrames StageKind = "extracting_frames"
	StageFramesReady      StageKind = "frames_ready"
	StageCompleted        StageKind = "completed"
	StageError            StageKind = "error"
)

// forwardOrder fixes each stage's position in the pipeline. Stages only move
// forward; explicit retry and skip are the sole exceptions.
var forwardOrder = map[StageKind]int{
	StageIdle:             0,
	StageGeneratingImage:  1,
	StageImageReady:       2,
	StageGeneratingVideo:  3,
	StageVideoReady:       4,
	StageExtractingFrames: 5,
	StageFramesReady:      6,
	StageCompleted:        7,
}

// resumeTarget maps an in-flight stage back to the checkpoint whose action
// re-runs it. Retry after failure and restart after a crash both land here.
var resumeTarget = map[StageKind]StageKind{
	StageGeneratingImage:  StageIdle,
	StageGeneratingVideo:  StageImageReady,
	StageExtractingFrames: StageVideoReady,
}

// ParseStageKind maps a persisted stage string back to its kind.
func ParseStageKind(value string) (StageKind, bool) {
	kind := StageKind(value)
	if kind == StageError {
		return kind, true
	}
	if _, ok := forwardOrder[kind]; ok {
		return kind, true
	}
	return "", false
}

// Stage is a tagged stage value. Error stages carry the stage that failed and
// the cause text so retry can resume from the right checkpoint instead of
// starting over.
type Stage struct {
	Kind       StageKind
	FailedKind StageKind
	Cause      string
}

// At builds a non-error stage value.
func At(kind StageKind) Stage {
	return Stage{Kind: kind}
}

// Errored builds the error stage recording where the pipeline failed.
func Errored(failed StageKind, cause error) Stage {
	stage := Stage{Kind: StageError, FailedKind: failed}
	if cause != nil {
		stage.Cause = cause.Error()
	}
	return stage
}

// IsTerminal reports whether the pipeline has stopped at this stage.
func (s Stage) IsTerminal() bool {
	return s.Kind == StageCompleted || s.Kind == StageError
}

// IsError reports whether this is the error stage.
func (s Stage) IsError() bool {
	return s.Kind == StageError
}

// ResumeKind returns the checkpoint a retry should resume from. For error
// stages that is derived from the stage that failed; in-flight stages fall
// back to their own checkpoint.
func (s Stage) ResumeKind() StageKind {
	kind := s.Kind
	if s.Kind == StageError {
		if s.FailedKind == "" {
			return StageIdle
		}
		kind = s.FailedKind
	}
	if target, ok := resumeTarget[kind]; ok {
		return target
	}
	return kind
}

// Before reports whether s precedes other in the forward order. Error stages
// compare at the position of the stage that failed.
func (s Stage) Before(other StageKind) bool {
	return forwardOrder[s.effectiveKind()] < forwardOrder[other]
}

func (s Stage) effectiveKind() StageKind {
	if s.Kind == StageError && s.FailedKind != "" {
		return s.FailedKind
	}
	return s.Kind
}

func (s Stage) String() string {
	if s.Kind == StageError && s.FailedKind != "" {
		return fmt.Sprintf("%s(%s)", StageError, s.FailedKind)
	}
	return string(s.Kind)
}
