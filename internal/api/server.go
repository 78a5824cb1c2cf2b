// Package api exposes the HTTP interface for the monitor service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/metrics"
	"github.com/Alexzz96/nga-monitor/internal/monitor"
	"github.com/Alexzz96/nga-monitor/internal/ratelimit"
	"github.com/Alexzz96/nga-monitor/internal/session"
	"github.com/Alexzz96/nga-monitor/internal/store"
)

// Orchestrator is the crawl surface the API triggers.
type Orchestrator interface {
	CheckAndSend(ctx context.Context, targetID int64, force bool) (monitor.Result, error)
	StartBackfill(ctx context.Context, targetID int64, maxPages int) (uuid.UUID, error)
	Guard() *monitor.Guard
}

// PoolStats and LimiterStats expose runtime observability snapshots.
type PoolStats interface {
	Stats() session.Stats
}

type LimiterStats interface {
	Stats() ratelimit.Stats
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router          chi.Router
	orch            Orchestrator
	tasks           store.TaskRepository
	targets         store.TargetRepository
	pool            PoolStats
	limiter         LimiterStats
	logger          *zap.Logger
	maxHistoryPages int
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orch Orchestrator,
	tasks store.TaskRepository,
	targets store.TargetRepository,
	pool PoolStats,
	limiter LimiterStats,
	maxHistoryPages int,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:            orch,
		tasks:           tasks,
		targets:         targets,
		pool:            pool,
		limiter:         limiter,
		logger:          logger,
		maxHistoryPages: maxHistoryPages,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/targets", s.listTargets)
		r.Route("/targets/{target_id}", func(r chi.Router) {
			r.Post("/check", s.triggerCheck)
			r.Post("/backfill", s.triggerBackfill)
		})
		r.Get("/tasks/{task_id}", s.getTask)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	kind, targetID, active := s.orch.Guard().Current()
	payload := map[string]any{
		"running": active,
	}
	if active {
		payload["kind"] = string(kind)
		payload["target_id"] = targetID
	}
	if s.pool != nil {
		payload["pool"] = s.pool.Stats()
	}
	if s.limiter != nil {
		payload["limiter"] = s.limiter.Stats()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.targets.ListEnabledTargets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

type checkRequest struct {
	Force bool `json:"force"`
}

func (s *Server) triggerCheck(w http.ResponseWriter, r *http.Request) {
	targetID, ok := targetIDParam(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	res, err := s.orch.CheckAndSend(r.Context(), targetID, req.Force)
	switch {
	case errors.Is(err, monitor.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "target not found")
	case err != nil:
		s.logger.Error("manual check failed", zap.Int64("target_id", targetID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, res.Message)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type backfillRequest struct {
	MaxPages int `json:"max_pages"`
}

func (s *Server) triggerBackfill(w http.ResponseWriter, r *http.Request) {
	targetID, ok := targetIDParam(w, r)
	if !ok {
		return
	}
	var req backfillRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.MaxPages <= 0 || req.MaxPages > s.maxHistoryPages {
		req.MaxPages = s.maxHistoryPages
	}

	taskID, err := s.orch.StartBackfill(r.Context(), targetID, req.MaxPages)
	switch {
	case errors.Is(err, monitor.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "target not found")
	case err != nil:
		s.logger.Error("backfill trigger failed", zap.Int64("target_id", targetID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start backfill")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID.String()})
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed task id")
		return
	}
	task, err := s.tasks.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func targetIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "target_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "malformed target id")
		return 0, false
	}
	return id, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			dur := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, dur)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", dur.Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
