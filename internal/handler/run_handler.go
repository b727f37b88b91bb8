package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dandantas/custodian/internal/database"
	"github.com/dandantas/custodian/internal/model"
	"github.com/dandantas/custodian/internal/service"
)

// RunHandler handles job run history queries
type RunHandler struct {
	service *service.RunHistoryService
}

// NewRunHandler creates a new run history handler
func NewRunHandler(service *service.RunHistoryService) *RunHandler {
	return &RunHandler{
		service: service,
	}
}

// RunListResponse represents run list response
type RunListResponse struct {
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	Limit   int                   `json:"limit"`
	Results []model.JobRunSummary `json:"results"`
}

// List handles GET /api/v1/runs
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	jobName := r.URL.Query().Get("job")
	status := r.URL.Query().Get("status")
	page := parseQueryInt(r, "page", 1)
	limit := parseQueryInt(r, "limit", 20)

	// Enforce max limit
	if limit > 100 {
		limit = 100
	}

	summaries, total, err := h.service.List(r.Context(), jobName, status, page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RunListResponse{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Results: summaries,
	})
}

// Get handles GET /api/v1/runs/{id}, where id is a run ID or correlation ID
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run)
}
