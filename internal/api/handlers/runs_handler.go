package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Extracta/internal/models"
	"github.com/markdave123-py/Extracta/internal/services"
)

// RunsHandler exposes recorded extractions and background jobs.
type RunsHandler struct {
	svc  *services.ExtractionService
	jobs *services.JobService
}

func NewRunsHandler(svc *services.ExtractionService, jobs *services.JobService) *RunsHandler {
	return &RunsHandler{svc: svc, jobs: jobs}
}

func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeMessage(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := h.svc.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// CreateJob queues a background extraction of a URL or bucket prefix.
func (h *RunsHandler) CreateJob(w http.ResponseWriter, r *http.Request, req models.ExtractSourceRequest) {
	job, err := h.jobs.Enqueue(req.Source, req.Engine)
	if errors.Is(err, services.ErrQueueFull) {
		w.Header().Set("Retry-After", "30")
		writeMessage(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *RunsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeMessage(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
