package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dandantas/custodian/internal/model"
	"github.com/dandantas/custodian/internal/service"
	"github.com/dandantas/custodian/pkg/middleware"
)

// JobHandler handles job listing and manual runs
type JobHandler struct {
	service *service.JobService
}

// NewJobHandler creates a new job handler
func NewJobHandler(service *service.JobService) *JobHandler {
	return &JobHandler{
		service: service,
	}
}

// JobListResponse represents the registered jobs
type JobListResponse struct {
	Total int             `json:"total"`
	Jobs  []model.JobInfo `json:"jobs"`
}

// RunResponse represents the outcome of a synchronous run
type RunResponse struct {
	Ran    bool          `json:"ran"`
	Reason string        `json:"reason,omitempty"`
	Run    *model.JobRun `json:"run,omitempty"`
}

// List handles GET /api/v1/jobs
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	jobs := h.service.ListJobs()
	writeJSON(w, http.StatusOK, JobListResponse{
		Total: len(jobs),
		Jobs:  jobs,
	})
}

// Run handles POST /api/v1/jobs/{name}/run
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/"), "/run")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusBadRequest, "Invalid job name")
		return
	}

	if parseQueryBool(r, "async") {
		sub, err := h.service.SubmitRun(name)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, sub)
		return
	}

	run, err := h.service.RunNow(r.Context(), name, model.TriggerManual, middleware.GetCorrelationID(r.Context()))
	if errors.Is(err, service.ErrJobNotFound) {
		h.writeServiceError(w, err)
		return
	}

	switch {
	case run == nil && err == nil:
		writeJSON(w, http.StatusConflict, RunResponse{
			Ran:    false,
			Reason: "job is running on another instance",
		})
	case run == nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		// A failed run is still a recorded run; its status carries the error
		writeJSON(w, http.StatusOK, RunResponse{Ran: true, Run: run})
	}
}

// GetSubmission handles GET /api/v1/jobs/submissions/{id}
func (h *JobHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/submissions/")
	sub, ok := h.service.GetSubmission(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Submission not found")
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *JobHandler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
