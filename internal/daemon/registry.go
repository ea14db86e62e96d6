package daemon

import (
	"fmt"
	"sync"

	"montage/internal/queue"
	"montage/internal/scene"
	"montage/internal/services"
)

// runRegistry tracks the storyboard currently being driven and the live
// scene workflows the orchestrator built for it. Control requests resolve
// through the registry so they act on the exact workflow values the run
// loop is executing, never on reconstructed state.
type runRegistry struct {
	mu        sync.RWMutex
	boardID   int64
	sbID      string
	workflows map[int]*scene.Workflow
	paused    bool
}

func newRunRegistry() *runRegistry {
	return &runRegistry{}
}

// begin resets the registry for a new run.
func (r *runRegistry) begin(board *queue.Storyboard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boardID = board.ID
	r.sbID = board.StoryboardID
	r.workflows = make(map[int]*scene.Workflow)
	r.paused = false
}

// register records a scene workflow as the orchestrator builds it. A
// workflow registered while the run is paused starts paused so a pause
// covers scenes that have not begun yet.
func (r *runRegistry) register(index int, wf *scene.Workflow) {
	if wf == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.workflows == nil {
		return
	}
	r.workflows[index] = wf
	if r.paused {
		wf.Pause()
	}
}

// end clears the registry once the run has settled.
func (r *runRegistry) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boardID = 0
	r.sbID = ""
	r.workflows = nil
	r.paused = false
}

// activeBoard returns the row id of the running storyboard, if any.
func (r *runRegistry) activeBoard() (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.workflows == nil {
		return 0, false
	}
	return r.boardID, true
}

func (r *runRegistry) isPaused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// pause suspends stage advancement for every live scene of the given
// storyboard. In-flight stages finish; workflows hold before the next one.
func (r *runRegistry) pause(boardID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireBoardLocked(boardID, "pause"); err != nil {
		return err
	}
	r.paused = true
	for _, wf := range r.workflows {
		wf.Pause()
	}
	return nil
}

// resume releases a pause across every live scene.
func (r *runRegistry) resume(boardID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireBoardLocked(boardID, "resume"); err != nil {
		return err
	}
	r.paused = false
	for _, wf := range r.workflows {
		wf.Resume()
	}
	return nil
}

// sceneWorkflow resolves a live workflow by scene index.
func (r *runRegistry) sceneWorkflow(boardID int64, index int) (*scene.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.workflows == nil || r.boardID != boardID {
		return nil, services.Wrap(services.ErrNotFound, "daemon", "scene control",
			fmt.Sprintf("storyboard %d is not running", boardID), nil)
	}
	wf, ok := r.workflows[index]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "daemon", "scene control",
			fmt.Sprintf("scene %d has no active workflow", index), nil)
	}
	return wf, nil
}

func (r *runRegistry) requireBoardLocked(boardID int64, op string) error {
	if r.workflows == nil || r.boardID != boardID {
		return services.Wrap(services.ErrNotFound, "daemon", op,
			fmt.Sprintf("storyboard %d is not running", boardID), nil)
	}
	return nil
}
