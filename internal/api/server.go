// Package api wires the HTTP surface for creating runs and inspecting their
// progress. It is a thin layer: request validation and JSON shaping happen
// here, every decision belongs to the orchestrator and the registries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/complyforge/complyforge/internal/app/orchestration"
	"github.com/complyforge/complyforge/internal/config"
	"github.com/complyforge/complyforge/internal/domain/analysis"
	"github.com/complyforge/complyforge/pkg/common/logger"
)

// Server wires HTTP handlers for the run management API.
type Server struct {
	cfg  config.APIConfig
	orch *orchestration.Orchestrator
	runs analysis.RunRepository
	jobs analysis.JobRepository

	logger *logger.Logger
	tracer trace.Tracer
}

// NewServer constructs the API server.
func NewServer(
	cfg config.APIConfig,
	orch *orchestration.Orchestrator,
	runs analysis.RunRepository,
	jobs analysis.JobRepository,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Server {
	return &Server{
		cfg:    cfg,
		orch:   orch,
		runs:   runs,
		jobs:   jobs,
		logger: logger.With("component", "api"),
		tracer: tracer,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/runs", s.handleCreateRun)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/jobs", s.handleListJobs)
	return r
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "API server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info(shutdownCtx, "API server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type createRunRequest struct {
	RepositoryID int64               `json:"repositoryId" validate:"required,gt=0"`
	Revision     string              `json:"revision" validate:"required"`
	Path         string              `json:"path,omitempty"`
	Config       analysis.JobConfigs `json:"config"`
	Labels       map[string]string   `json:"labels,omitempty"`
}

type runResponse struct {
	ID           int64               `json:"id"`
	RepositoryID int64               `json:"repositoryId"`
	Index        int64               `json:"index"`
	Revision     string              `json:"revision"`
	Path         string              `json:"path,omitempty"`
	Config       analysis.JobConfigs `json:"config"`
	TraceID      string              `json:"traceId"`
	Labels       map[string]string   `json:"labels,omitempty"`
	Status       string              `json:"status"`
	CreatedAt    time.Time           `json:"createdAt"`
	FinishedAt   *time.Time          `json:"finishedAt,omitempty"`
}

type jobResponse struct {
	ID         int64           `json:"id"`
	RunID      int64           `json:"runId"`
	Kind       string          `json:"kind"`
	Config     json.RawMessage `json:"config,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

func toRunResponse(run *analysis.Run) runResponse {
	return runResponse{
		ID:           run.ID,
		RepositoryID: run.RepositoryID,
		Index:        run.Index,
		Revision:     run.Revision,
		Path:         run.Path,
		Config:       run.Config,
		TraceID:      run.TraceID,
		Labels:       run.Labels,
		Status:       run.Status.String(),
		CreatedAt:    run.CreatedAt,
		FinishedAt:   run.FinishedAt,
	}
}

func toJobResponse(job *analysis.Job) jobResponse {
	return jobResponse{
		ID:         job.ID,
		RunID:      job.RunID,
		Kind:       job.Kind.String(),
		Config:     job.Config,
		Status:     job.Status.String(),
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "api.create_run")
	defer span.End()

	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := s.orch.CreateRun(ctx, analysis.CreateRunCommand{
		RepositoryID: req.RepositoryID,
		Revision:     req.Revision,
		Path:         req.Path,
		Config:       req.Config,
		Labels:       req.Labels,
		RequestedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error(ctx, "Failed to create run", "repository_id", req.RepositoryID, "error", err)
		span.RecordError(err)
		http.Error(w, "failed to create run", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.Int64("run_id", run.ID))
	s.writeJSON(ctx, w, http.StatusCreated, toRunResponse(run))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	run, err := s.runs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, analysis.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		s.logger.Error(ctx, "Failed to load run", "run_id", id, "error", err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, toRunResponse(run))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	if _, err := s.runs.Get(ctx, id); err != nil {
		if errors.Is(err, analysis.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		s.logger.Error(ctx, "Failed to load run", "run_id", id, "error", err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	jobs, err := s.jobs.ListForRun(ctx, id)
	if err != nil {
		s.logger.Error(ctx, "Failed to list jobs", "run_id", id, "error", err)
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toJobResponse(job))
	}
	s.writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error(ctx, "Failed to encode response", "error", err)
	}
}
