package handler

import (
	"net/http"
	"strings"

	"github.com/dandantas/custodian/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	jobHandler     *JobHandler
	runHandler     *RunHandler
	healthHandler  *HealthHandler
	metricsHandler http.Handler
	corsConfig     middleware.CORSConfig
}

// NewRouter creates a new router. metricsHandler may be nil.
func NewRouter(
	jobHandler *JobHandler,
	runHandler *RunHandler,
	healthHandler *HealthHandler,
	metricsHandler http.Handler,
	corsConfig middleware.CORSConfig,
) *Router {
	return &Router{
		jobHandler:     jobHandler,
		runHandler:     runHandler,
		healthHandler:  healthHandler,
		metricsHandler: metricsHandler,
		corsConfig:     corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", rt.healthHandler.Health)
	mux.HandleFunc("/ready", rt.healthHandler.Ready)
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}

	// API endpoints
	mux.HandleFunc("/api/v1/jobs", rt.jobHandler.List)
	mux.HandleFunc("/api/v1/jobs/", rt.handleJobsWithName)
	mux.HandleFunc("/api/v1/runs", rt.runHandler.List)
	mux.HandleFunc("/api/v1/runs/", rt.runHandler.Get)

	// Apply middleware (CORS first to handle preflight requests)
	handler := middleware.CORS(rt.corsConfig)(mux)
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}

// handleJobsWithName routes /api/v1/jobs/{name}/run and submission lookups
func (rt *Router) handleJobsWithName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")

	switch {
	case strings.HasPrefix(path, "submissions/"):
		rt.jobHandler.GetSubmission(w, r)
	case strings.HasSuffix(path, "/run"):
		rt.jobHandler.Run(w, r)
	default:
		writeError(w, http.StatusNotFound, "Endpoint not found")
	}
}
