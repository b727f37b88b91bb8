package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dandantas/custodian/internal/database"
	"github.com/dandantas/custodian/internal/jobs"
	"github.com/dandantas/custodian/internal/lock"
	"github.com/dandantas/custodian/internal/metrics"
	"github.com/dandantas/custodian/internal/model"
	"github.com/dandantas/custodian/internal/service"
	"github.com/dandantas/custodian/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testJob = "fixAuthoritiesCrcValues"

type stubRuns struct {
	runs []model.JobRun
}

func (s *stubRuns) GetByID(_ context.Context, id string) (*model.JobRun, error) {
	for _, run := range s.runs {
		if run.ID.Hex() == id || run.CorrelationID == id {
			r := run
			return &r, nil
		}
	}
	return nil, database.ErrRunNotFound
}

func (s *stubRuns) List(_ context.Context, filter bson.M, _, _ int) ([]model.JobRun, int64, error) {
	var out []model.JobRun
	for _, run := range s.runs {
		if job, ok := filter["job_name"]; ok && run.JobName != job {
			continue
		}
		out = append(out, run)
	}
	return out, int64(len(out)), nil
}

type testServer struct {
	handler http.Handler
	locks   *lock.Memory
	jobs    *service.JobService
}

func newTestServer(t *testing.T, exec jobs.ExecuterFunc, history []model.JobRun) *testServer {
	t.Helper()

	locks := lock.NewMemory("pod-a")
	collector := metrics.NewCollector("custodian")
	jobSvc := service.NewJobService(nil, nil, collector, "pod-a")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobSvc.Shutdown(ctx)
	})

	r, err := jobs.NewRunner(jobs.Config{
		JobName:   testJob,
		Namespace: "custodian",
		Executer:  exec,
		Locks:     locks,
		LockTTL:   time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, jobSvc.Register(r))

	router := NewRouter(
		NewJobHandler(jobSvc),
		NewRunHandler(service.NewRunHistoryService(&stubRuns{runs: history})),
		NewHealthHandler("test", map[string]PingFunc{
			"sql": func(context.Context) error { return nil },
		}),
		collector.Handler(),
		middleware.CORSConfig{AllowedOrigins: "*", AllowedMethods: "GET, POST", AllowedHeaders: "*"},
	)

	return &testServer{handler: router.Handler(), locks: locks, jobs: jobSvc}
}

func (s *testServer) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func fixedReport(context.Context) (model.JobReport, error) {
	return model.JobReport{Summary: "Fixed 1 authority CRC value(s)", Total: 1, Updated: 1}, nil
}

func TestListJobs(t *testing.T) {
	s := newTestServer(t, fixedReport, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body JobListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, testJob, body.Jobs[0].Name)
	assert.Equal(t, "{custodian}"+testJob, body.Jobs[0].LockName)
}

func TestRunJobSync(t *testing.T) {
	s := newTestServer(t, fixedReport, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+testJob+"/run", nil)
	req.Header.Set(middleware.CorrelationHeader, "corr-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Ran)
	require.NotNil(t, body.Run)
	assert.Equal(t, model.RunStatusCompleted, body.Run.Status)
	assert.Equal(t, "corr-42", body.Run.CorrelationID)
	assert.Equal(t, 1, body.Run.Report.Updated)
}

func TestRunJobFailedIsReported(t *testing.T) {
	s := newTestServer(t, func(context.Context) (model.JobReport, error) {
		return model.JobReport{}, errors.New("scan failed")
	}, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/jobs/"+testJob+"/run")
	require.Equal(t, http.StatusOK, rec.Code)

	var body RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.RunStatusFailed, body.Run.Status)
	assert.Equal(t, "scan failed", body.Run.Error)
}

func TestRunJobContention(t *testing.T) {
	called := false
	s := newTestServer(t, func(context.Context) (model.JobReport, error) {
		called = true
		return model.JobReport{}, nil
	}, nil)

	_, err := s.locks.Acquire(context.Background(), "{custodian}"+testJob, time.Minute)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/jobs/"+testJob+"/run")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, called)
}

func TestRunUnknownJob(t *testing.T) {
	s := newTestServer(t, fixedReport, nil)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/jobs/nope/run").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/jobs/nope/run?async=true").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodGet, "/api/v1/jobs/"+testJob+"/run").Code)
}

func TestRunJobAsync(t *testing.T) {
	s := newTestServer(t, fixedReport, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/jobs/"+testJob+"/run?async=true")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var sub model.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.NotEmpty(t, sub.SubmissionID)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/jobs/submissions/"+sub.SubmissionID)
		if rec.Code != http.StatusOK {
			return false
		}
		var got model.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Status == model.SubmissionCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/jobs/submissions/unknown").Code)
}

func TestRunHistory(t *testing.T) {
	id := primitive.NewObjectID()
	s := newTestServer(t, fixedReport, []model.JobRun{
		{ID: id, CorrelationID: "corr-1", JobName: testJob, Status: model.RunStatusCompleted},
		{ID: primitive.NewObjectID(), CorrelationID: "corr-2", JobName: "other", Status: model.RunStatusFailed},
	})

	rec := s.do(t, http.MethodGet, "/api/v1/runs?job="+testJob+"&limit=500")
	require.Equal(t, http.StatusOK, rec.Code)
	var list RunListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, 100, list.Limit)
	assert.Equal(t, "corr-1", list.Results[0].CorrelationID)

	rec = s.do(t, http.MethodGet, "/api/v1/runs/"+id.Hex())
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/runs/missing").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, fixedReport, nil)

	rec := s.do(t, http.MethodGet, "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.True(t, ready.Ready)
	assert.Equal(t, "connected", ready.Dependencies["sql"])

	rec = s.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestReadyReportsDownDependency(t *testing.T) {
	h := NewHealthHandler("test", map[string]PingFunc{
		"mongodb": func(context.Context) error { return errors.New("no reachable servers") },
	})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
