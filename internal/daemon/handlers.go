package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"montage/internal/api"
	"montage/internal/deps"
	"montage/internal/logging"
	"montage/internal/logs"
	"montage/internal/manifest"
	"montage/internal/queue"
	"montage/internal/services"
)

// maxLogWait keeps follow requests under the server's write timeout; the
// client loops to keep following.
const maxLogWait = 25 * time.Second

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Health(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := s.runner.Status()

	run := api.RunStatus{Running: st.Running, Paused: st.Paused}
	if st.LastErr != nil {
		run.LastError = st.LastErr.Error()
	}
	if stats, err := s.store.Stats(ctx); err == nil {
		run.QueueStats = api.MergeQueueStats(stats)
	}
	if st.ActiveID != 0 {
		if board, err := s.store.GetByID(ctx, st.ActiveID); err == nil && board != nil {
			dto := api.FromStoryboard(board)
			run.Active = &dto
		}
	}

	status := api.DaemonStatus{
		Running:      true,
		PID:          os.Getpid(),
		QueueDBPath:  QueueDBPath(s.cfg),
		LockFilePath: LockFilePath(s.cfg),
		Run:          run,
		Dependencies: api.FromDependencyStatuses(
			deps.CheckBinaries(deps.FrameTools(s.cfg.FFmpegBinary(), s.cfg.FFprobeBinary())),
		),
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *APIServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	boards, err := s.queueSvc.List(r.Context(), statuses...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.QueueListResponse{Boards: api.SortBoardsNewestFirst(boards)})
}

func (s *APIServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queueSvc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.QueueStatsResponse{Counts: counts})
}

func (s *APIServer) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	resp, err := s.queueSvc.Describe(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if resp == nil {
		writeError(w, http.StatusNotFound, "storyboard not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path := strings.TrimSpace(req.ManifestPath)
	if path == "" {
		writeError(w, http.StatusBadRequest, "manifestPath is required")
		return
	}

	file, err := manifest.Load(path)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	board, err := s.store.Add(r.Context(), file, s.cfg.Generation.DefaultClipSeconds)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("storyboard enqueued",
		logging.String(logging.FieldStoryboardID, board.StoryboardID),
		logging.String("title", board.Title),
		logging.Int(logging.FieldSceneCount, board.SceneCount))

	resp, err := s.queueSvc.Describe(r.Context(), board.ID)
	if err != nil || resp == nil {
		dto := api.FromStoryboard(board)
		writeJSON(w, http.StatusCreated, api.StoryboardResponse{Board: dto})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *APIServer) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	removed, err := s.store.Remove(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "storyboard not found")
		return
	}
	writeJSON(w, http.StatusOK, api.ActionResponse{Updated: 1})
}

func (s *APIServer) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	updated, err := s.store.RetryFailed(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ActionResponse{Updated: updated})
}

func (s *APIServer) handleQueueRetryAll(w http.ResponseWriter, r *http.Request) {
	updated, err := s.store.RetryFailed(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ActionResponse{Updated: updated})
}

func (s *APIServer) handleQueueReset(w http.ResponseWriter, r *http.Request) {
	updated, err := s.store.ResetStuckRunning(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ActionResponse{Updated: updated})
}

func (s *APIServer) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	var (
		cleared int64
		err     error
	)
	switch scope := strings.TrimSpace(r.URL.Query().Get("scope")); scope {
	case "", "completed":
		cleared, err = s.store.ClearCompleted(r.Context())
	case "failed":
		cleared, err = s.store.ClearFailed(r.Context())
	case "all":
		cleared, err = s.store.Clear(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "scope must be completed, failed, or all")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ActionResponse{Updated: cleared})
}

func (s *APIServer) handleRunPause(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.runner.PauseRun(id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SceneActionResponse{Applied: true, Detail: "run paused"})
}

func (s *APIServer) handleRunResume(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.runner.ResumeRun(id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SceneActionResponse{Applied: true, Detail: "run resumed"})
}

func (s *APIServer) handleSceneRetry(w http.ResponseWriter, r *http.Request) {
	id, index, ok := parseSceneRef(w, r)
	if !ok {
		return
	}
	if err := s.runner.RetryScene(r.Context(), id, index); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SceneActionResponse{Applied: true, Detail: "scene reset for retry"})
}

func (s *APIServer) handleSceneSkip(w http.ResponseWriter, r *http.Request) {
	id, index, ok := parseSceneRef(w, r)
	if !ok {
		return
	}
	applied, err := s.runner.SkipScene(r.Context(), id, index)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	detail := "scene advanced"
	if !applied {
		detail = "no artifact available to skip to"
	}
	writeJSON(w, http.StatusOK, api.SceneActionResponse{Applied: applied, Detail: detail})
}

func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logPath == "" {
		writeError(w, http.StatusNotFound, "daemon log file is not configured")
		return
	}

	query := r.URL.Query()
	opts := logs.TailOptions{Offset: -1, Limit: 200}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = offset
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	if query.Get("follow") == "true" {
		opts.Follow = true
		opts.Wait = maxLogWait
		if raw := query.Get("wait"); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid wait")
				return
			}
			if wait := time.Duration(seconds) * time.Second; wait < maxLogWait {
				opts.Wait = wait
			}
		}
	}

	result, err := logs.Tail(r.Context(), s.logPath, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.LogTailResponse{Lines: result.Lines, Offset: result.Offset})
}

func (s *APIServer) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.TestNotification(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, api.TestNotificationResponse{Sent: false, Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, api.TestNotificationResponse{Sent: true})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid storyboard id")
		return 0, false
	}
	return id, true
}

func parseSceneRef(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	id, ok := parseID(w, r)
	if !ok {
		return 0, 0, false
	}
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid scene index")
		return 0, 0, false
	}
	return id, index, true
}

func parseStatusFilter(raw string) ([]queue.Status, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]queue.Status, 0, len(parts))
	for _, part := range parts {
		status, ok := queue.ParseStatus(strings.TrimSpace(part))
		if !ok {
			return nil, errors.New("unknown status " + strings.TrimSpace(part))
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
