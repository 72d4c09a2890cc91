// Package httpapi exposes the address-harvest job system over HTTP: job
// creation, cursor-paginated polling, and an SSE progress stream.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-harvest/internal/harvest"
)

// JobService creates jobs. Implemented by harvest.Orchestrator.
type JobService interface {
	CreateJob(ctx context.Context, req harvest.SearchRequest) (*harvest.Job, error)
}

// ResultService serves result pages. Implemented by harvest.Reader.
type ResultService interface {
	GetResults(ctx context.Context, jobID, cursor string, limit int) (*harvest.ResultPage, error)
}

// StreamService serves the event stream. Implemented by harvest.Streamer.
type StreamService interface {
	Stream(ctx context.Context, jobID string, send harvest.SendFunc) error
}

// Pinger reports liveness of the backing store. Implemented by harvest.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the HTTP endpoints for the address-search API.
type Handler struct {
	jobs    JobService
	results ResultService
	streams StreamService
	pinger  Pinger
	log     *zap.Logger
}

// NewHandler wires the API handler.
func NewHandler(jobs JobService, results ResultService, streams StreamService, pinger Pinger) *Handler {
	return &Handler{
		jobs:    jobs,
		results: results,
		streams: streams,
		pinger:  pinger,
		log:     zap.L().With(zap.String("component", "httpapi")),
	}
}

// createJobResponse is the 201 body for POST /api/address-search.
type createJobResponse struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	PollURL   string `json:"pollUrl"`
	StreamURL string `json:"streamUrl"`
}

// createJob handles POST /api/address-search.
func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req harvest.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req)
	if err != nil {
		if eris.Is(err, harvest.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		h.log.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusCreated, createJobResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		PollURL:   "/api/address-search/" + job.ID,
		StreamURL: "/api/address-search/" + job.ID + "/stream",
	})
}

// getResults handles GET /api/address-search/{jobID}.
func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	page, err := h.results.GetResults(r.Context(), jobID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		switch {
		case eris.Is(err, harvest.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case eris.Is(err, harvest.ErrInvalidCursor):
			writeError(w, http.StatusBadRequest, "invalid cursor")
		default:
			h.log.Error("get results failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read results")
		}
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// health handles GET /health. Liveness follows the job store: a server that
// cannot reach its store cannot serve anything useful.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
