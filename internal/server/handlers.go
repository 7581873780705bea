package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/store"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Message: msg})
}

func newJobID() string {
	return uuid.NewString()
}

type triggerRequest struct {
	TenantID string `json:"tenant_id"`
}

type triggerResponse struct {
	JobID string `json:"job_id"`
}

type jobResponse struct {
	JobID       string `json:"job_id"`
	TenantID    string `json:"tenant_id"`
	State       string `json:"state"`
	RequestedAt string `json:"requested_at"`
	UpdatedAt   string `json:"updated_at"`
	LastError   string `json:"last_error,omitempty"`
}

// handleTriggerAnalysis starts an analysis job for a tenant. Contract
// violations (unknown tenant, tier cap, missing target URL) answer 400
// before any job exists; an active job answers 409; a completion inside the
// rolling window answers 429.
func (s *Server) handleTriggerAnalysis(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	ctx := r.Context()

	tenant, err := s.store.GetTenant(ctx, req.TenantID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "unknown tenant")
			return
		}
		s.internalError(w, "load tenant", err)
		return
	}
	if err := tenant.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	active, err := s.store.ActiveJob(ctx, req.TenantID)
	if err != nil {
		s.internalError(w, "check active job", err)
		return
	}
	if active != nil {
		writeError(w, http.StatusConflict, "an analysis job is already in progress")
		return
	}

	lastCompleted, err := s.store.LastCompletedAt(ctx, req.TenantID)
	if err != nil {
		s.internalError(w, "check completion window", err)
		return
	}
	if !lastCompleted.IsZero() && s.nowFunc().Sub(lastCompleted) < s.cfg.CompletionWindow {
		writeError(w, http.StatusTooManyRequests, "an analysis was already completed recently")
		return
	}

	now := s.nowFunc().UTC()
	job := &model.AnalysisJob{
		ID:             s.idFunc(),
		TenantID:       tenant.TenantID,
		RequestedAt:    now,
		TargetURL:      tenant.TargetURL,
		CompetitorURLs: tenant.CompetitorURLs,
		State:          model.JobStateQueued,
		UpdatedAt:      now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		// The partial unique index catches the race where two triggers pass
		// the active-job check together; the loser sees a conflict.
		writeError(w, http.StatusConflict, "an analysis job is already in progress")
		return
	}
	if err := s.jobs.Enqueue(ctx, job.ID); err != nil {
		s.internalError(w, "enqueue job", err)
		return
	}

	zap.L().Info("analysis job accepted",
		zap.String("job_id", job.ID), zap.String("tenant_id", tenant.TenantID))
	writeJSON(w, http.StatusAccepted, triggerResponse{JobID: job.ID})
}

// handleGetJob is a pure read of the job record.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.internalError(w, "load job", err)
		return
	}

	resp := jobResponse{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		State:       string(job.State),
		RequestedAt: job.RequestedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	}
	if job.State == model.JobStateFailed && job.LastError != nil {
		resp.LastError = job.LastError.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

type reevaluateRequest struct {
	TenantID string     `json:"tenant_id"`
	Task     model.Task `json:"task"`
}

// handleReevaluate accepts a task edit from the task-management surface and
// runs the re-evaluation flow asynchronously.
func (s *Server) handleReevaluate(w http.ResponseWriter, r *http.Request) {
	if s.reeval == nil {
		writeError(w, http.StatusServiceUnavailable, "re-evaluation is not configured")
		return
	}

	var req reevaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TenantID == "" || req.Task.ID == "" || req.Task.PlanID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id, task.id, and task.plan_id are required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.reeval.Reevaluate(ctx, req.TenantID, req.Task); err != nil {
			zap.L().Error("re-evaluation failed",
				zap.String("tenant_id", req.TenantID),
				zap.String("task_id", req.Task.ID),
				zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// requestLogger logs one structured line per request. Runs after RequestID.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(sw, r)

		zap.L().Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int("bytes", sw.bytes),
			zap.Duration("duration", time.Since(start)))
	})
}
