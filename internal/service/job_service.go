package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/custodian/internal/jobs"
	"github.com/dandantas/custodian/internal/metrics"
	"github.com/dandantas/custodian/internal/model"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned for an unregistered job name
var ErrJobNotFound = errors.New("job not found")

// RunRecorder persists job run history
type RunRecorder interface {
	Create(ctx context.Context, run *model.JobRun) error
	UpdateNotification(ctx context.Context, id primitive.ObjectID, notification *model.Notification) error
}

// RunNotifier delivers a notification for a finished run
type RunNotifier interface {
	Send(ctx context.Context, run *model.JobRun) (*model.Notification, error)
}

// ScheduleSource reports the schedule of registered jobs
type ScheduleSource interface {
	Entry(name string) (spec string, next time.Time, ok bool)
}

// JobService runs registered jobs and records their outcome
type JobService struct {
	runs      RunRecorder
	notifier  RunNotifier
	metrics   *metrics.Collector
	schedules ScheduleSource
	podID     string

	mu      sync.RWMutex
	runners map[string]*jobs.Runner

	submissions *model.SubmissionStore
	asyncCtx    context.Context
	cancelAsync context.CancelFunc
	asyncWG     sync.WaitGroup
}

// NewJobService creates a job service. notifier and collector may be nil.
func NewJobService(runs RunRecorder, notifier RunNotifier, collector *metrics.Collector, podID string) *JobService {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobService{
		runs:        runs,
		notifier:    notifier,
		metrics:     collector,
		podID:       podID,
		runners:     make(map[string]*jobs.Runner),
		submissions: model.NewSubmissionStore(),
		asyncCtx:    ctx,
		cancelAsync: cancel,
	}
}

// Register adds a runner under its job name
func (s *JobService) Register(r *jobs.Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runners[r.Name()]; exists {
		return fmt.Errorf("job %s is already registered", r.Name())
	}
	s.runners[r.Name()] = r
	return nil
}

// SetSchedules attaches the source of schedule information
func (s *JobService) SetSchedules(src ScheduleSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = src
}

// ListJobs returns the registered jobs ordered by name
func (s *JobService) ListJobs() []model.JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]model.JobInfo, 0, len(s.runners))
	for name, r := range s.runners {
		info := model.JobInfo{
			Name:      name,
			LockName:  r.LockName(),
			LockTTLMs: r.LockTTL().Milliseconds(),
		}
		if s.schedules != nil {
			if spec, next, ok := s.schedules.Entry(name); ok {
				info.Schedule = spec
				info.Scheduled = true
				if !next.IsZero() {
					nextRun := next.UTC()
					info.NextRun = &nextRun
				}
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *JobService) runner(name string) (*jobs.Runner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return r, nil
}

// RunNow runs a job through its exclusive runner. It returns a nil run and
// no error when another holder had the lock; nothing is recorded then.
// Otherwise the run is recorded, counted and notified, and the run error
// is returned alongside it.
func (s *JobService) RunNow(ctx context.Context, name, trigger, correlationID string) (*model.JobRun, error) {
	r, err := s.runner(name)
	if err != nil {
		return nil, err
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	zap.S().Infow("Starting job run",
		"job_name", name,
		"trigger", trigger,
		"correlation_id", correlationID,
		"pod_id", s.podID,
	)

	start := time.Now().UTC()
	res, runErr := r.Run(ctx)

	if !res.Ran && runErr == nil {
		zap.S().Infow("Job skipped, lock held elsewhere",
			"job_name", name,
			"lock_name", res.LockName,
			"correlation_id", correlationID,
		)
		if s.metrics != nil {
			s.metrics.ObserveContention(name)
		}
		return nil, nil
	}

	run := &model.JobRun{
		CorrelationID: correlationID,
		JobName:       name,
		LockName:      res.LockName,
		TriggeredBy:   trigger,
		RunAs:         r.RunAs(),
		PodID:         s.podID,
		StartedAt:     start,
		DurationMs:    time.Since(start).Milliseconds(),
		Status:        model.RunStatusCompleted,
		Report:        res.Report,
	}
	if res.Ran {
		run.StartedAt = res.StartedAt
		run.DurationMs = res.Duration.Milliseconds()
	}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
		zap.S().Errorw("Job run failed",
			"job_name", name,
			"correlation_id", correlationID,
			"duration_ms", run.DurationMs,
			"error", runErr,
		)
	} else {
		zap.S().Infow("Job run completed",
			"job_name", name,
			"correlation_id", correlationID,
			"duration_ms", run.DurationMs,
			"summary", run.Report.Summary,
		)
	}

	if s.metrics != nil {
		s.metrics.ObserveRun(name, run.Status, time.Duration(run.DurationMs)*time.Millisecond,
			run.Report.Updated, run.Report.Skipped, run.Report.Failed)
	}

	// history and notification outlive a cancelled request
	recordCtx := context.WithoutCancel(ctx)
	s.record(recordCtx, run)
	s.notify(recordCtx, run)

	return run, runErr
}

func (s *JobService) record(ctx context.Context, run *model.JobRun) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Create(ctx, run); err != nil {
		zap.S().Errorw("Failed to save job run",
			"job_name", run.JobName,
			"correlation_id", run.CorrelationID,
			"error", err,
		)
	}
}

func (s *JobService) notify(ctx context.Context, run *model.JobRun) {
	if s.notifier == nil {
		return
	}

	notification, err := s.notifier.Send(ctx, run)
	if err != nil {
		zap.S().Warnw("Failed to notify job run",
			"job_name", run.JobName,
			"correlation_id", run.CorrelationID,
			"error", err,
		)
	}
	if notification == nil {
		return
	}
	run.Notification = notification

	if s.runs != nil && !run.ID.IsZero() {
		if err := s.runs.UpdateNotification(ctx, run.ID, notification); err != nil {
			zap.S().Errorw("Failed to save notification result",
				"correlation_id", run.CorrelationID,
				"error", err,
			)
		}
	}
}

// SubmitRun queues an asynchronous manual run and returns its submission ID
func (s *JobService) SubmitRun(name string) (*model.Submission, error) {
	if _, err := s.runner(name); err != nil {
		return nil, err
	}

	sub := &model.Submission{
		SubmissionID:  uuid.New().String(),
		JobName:       name,
		Status:        model.SubmissionQueued,
		CorrelationID: uuid.New().String(),
	}
	// the stored value is mutated by runAsync from here on
	queued := *sub
	s.submissions.Set(sub.SubmissionID, sub)

	s.asyncWG.Add(1)
	go s.runAsync(sub.SubmissionID, name, sub.CorrelationID)

	return &queued, nil
}

func (s *JobService) runAsync(submissionID, name, correlationID string) {
	defer s.asyncWG.Done()

	s.submissions.Update(submissionID, func(sub *model.Submission) {
		sub.Status = model.SubmissionProcessing
	})

	run, err := s.RunNow(s.asyncCtx, name, model.TriggerManual, correlationID)

	s.submissions.Update(submissionID, func(sub *model.Submission) {
		switch {
		case err != nil:
			sub.Status = model.SubmissionFailed
			sub.Error = err.Error()
		case run == nil:
			sub.Status = model.SubmissionSkipped
		default:
			sub.Status = model.SubmissionCompleted
		}
		sub.Result = run
	})

	zap.S().Infow("Async job run finished",
		"submission_id", submissionID,
		"job_name", name,
		"correlation_id", correlationID,
	)
}

// GetSubmission returns the state of an asynchronous run
func (s *JobService) GetSubmission(id string) (*model.Submission, bool) {
	return s.submissions.Get(id)
}

// Shutdown waits for asynchronous runs until ctx is done, then cancels them
func (s *JobService) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.asyncWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		zap.S().Warn("Timeout waiting for async job runs, cancelling")
		s.cancelAsync()
		<-done
	}
	s.cancelAsync()
}
