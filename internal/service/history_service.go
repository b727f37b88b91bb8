package service

import (
	"context"

	"github.com/dandantas/custodian/internal/model"
	"go.mongodb.org/mongo-driver/bson"
)

// RunReader queries job run history
type RunReader interface {
	GetByID(ctx context.Context, id string) (*model.JobRun, error)
	List(ctx context.Context, filter bson.M, page, limit int) ([]model.JobRun, int64, error)
}

// RunHistoryService handles job run history queries
type RunHistoryService struct {
	repo RunReader
}

// NewRunHistoryService creates a new run history service
func NewRunHistoryService(repo RunReader) *RunHistoryService {
	return &RunHistoryService{
		repo: repo,
	}
}

// Get retrieves a run by ID or correlation ID
func (s *RunHistoryService) Get(ctx context.Context, id string) (*model.JobRun, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves run summaries, newest first
func (s *RunHistoryService) List(ctx context.Context, jobName, status string, page, limit int) ([]model.JobRunSummary, int64, error) {
	filter := bson.M{}
	if jobName != "" {
		filter["job_name"] = jobName
	}
	if status != "" {
		filter["status"] = status
	}

	runs, total, err := s.repo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.JobRunSummary, len(runs))
	for i, run := range runs {
		summaries[i] = run.ToSummary()
	}

	return summaries, total, nil
}
