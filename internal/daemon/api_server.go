package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"courier/internal/api"
	"courier/internal/config"
	"courier/internal/fileaccess"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/telemetry"
)

type apiServer struct {
	bind    string
	token   string
	logger  *slog.Logger
	status  func(context.Context) Status
	files   *api.FileService
	metrics *metrics.Metrics

	listener net.Listener
	server   *http.Server
}

// newAPIServer returns nil when paths.api_bind is empty.
func newAPIServer(cfg *config.Config, d *Daemon, files *api.FileService, m *metrics.Metrics, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:    bind,
		token:   strings.TrimSpace(cfg.Paths.APIToken),
		logger:  logger,
		status:  d.Status,
		files:   files,
		metrics: m,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware("courier-api"))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(s.token))
		r.Get("/status", s.handleStatus)
		r.Get("/files", s.handleFiles)
		r.Post("/files/retry", s.handleRetry)
		r.Get("/files/{id}", s.handleFile)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	s.log().Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.status(r.Context())
	if !status.Running || !status.Workflow.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, api.HealthSlice(status.Workflow.Health))
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthSlice(status.Workflow.Health))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		WorkDir:      status.WorkDir,
		Folders:      status.Folders,
		Workflow:     api.FromStatusSummary(status.Workflow),
	})
}

func (s *apiServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	statuses, err := fileaccess.ParseStatuses(r.URL.Query()["status"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, err := s.files.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FileListResponse{Files: files})
}

func (s *apiServer) handleFile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "id")), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	resp, err := s.files.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp == nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req api.RetryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	count, err := s.files.Retry(r.Context(), req.IDs...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log().Info("failed files re-armed",
		logging.Int64("count", count),
		logging.Int("requested", len(req.IDs)),
		logging.String("request_id", middleware.GetReqID(r.Context())),
	)
	s.writeJSON(w, http.StatusOK, api.CountResponse{Count: count})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
