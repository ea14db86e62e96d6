package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"montage/internal/api"
	"montage/internal/config"
	"montage/internal/logging"
	"montage/internal/queue"
	"montage/internal/services"
)

const apiShutdownTimeout = 5 * time.Second

// APIServer exposes queue state and run controls over HTTP for the CLI.
type APIServer struct {
	bind     string
	cfg      *config.Config
	store    *queue.Store
	runner   *Runner
	queueSvc *api.QueueService
	logger   *slog.Logger
	logPath  string

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewAPIServer builds the HTTP server. It returns nil when no API bind
// address is configured; a nil server is a no-op.
func NewAPIServer(cfg *config.Config, store *queue.Store, runner *Runner, logger *slog.Logger) *APIServer {
	if cfg == nil || store == nil || runner == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &APIServer{
		bind:     bind,
		cfg:      cfg,
		store:    store,
		runner:   runner,
		queueSvc: api.NewQueueService(store),
		logger:   logging.NewComponentLogger(logger, "api"),
		logPath:  logging.DaemonLogPath(cfg),
	}
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *APIServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.recoverPanics)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
		r.Post("/notify/test", s.handleNotifyTest)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleQueueList)
			r.Post("/", s.handleEnqueue)
			r.Get("/stats", s.handleQueueStats)
			r.Post("/retry", s.handleQueueRetryAll)
			r.Post("/reset", s.handleQueueReset)
			r.Post("/clear", s.handleQueueClear)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleQueueGet)
				r.Delete("/", s.handleQueueRemove)
				r.Post("/retry", s.handleQueueRetry)
				r.Post("/pause", s.handleRunPause)
				r.Post("/resume", s.handleRunResume)
				r.Route("/scenes/{index}", func(r chi.Router) {
					r.Post("/retry", s.handleSceneRetry)
					r.Post("/skip", s.handleSceneSkip)
				})
			})
		})
	})

	return r
}

// Start binds the listener and serves until ctx is canceled.
func (s *APIServer) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *APIServer) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

// Addr reports the bound address once Start has succeeded.
func (s *APIServer) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *APIServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		ctx := services.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *APIServer) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.WithContext(r.Context(), s.logger).Error("panic in api handler",
					logging.String("panic", fmt.Sprint(rec)),
					logging.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logging.WithContext(r.Context(), s.logger).Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", wrapped.status),
			logging.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
