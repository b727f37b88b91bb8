package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dandantas/custodian/internal/lock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepJobName is the entry name of the expired lock cleanup
const SweepJobName = "lock-sweep"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler triggers registered jobs on cron schedules.
//
// A tick is skipped while the previous run of the same entry is still in
// flight on this instance; cluster-wide exclusion is left to the job lock.
type Scheduler struct {
	cron  *cron.Cron
	locks lock.Service
	podID string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	id   cron.EntryID
	spec string
}

// New creates a scheduler. locks is released on Stop when it supports it.
func New(locks lock.Service, podID string) *Scheduler {
	logger := cronLogger{sugar: zap.S().With("component", "scheduler")}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			// Recover sits inside SkipIfStillRunning so a panicking run
			// still hands back the running token
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
		locks:   locks,
		podID:   podID,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]entry),
	}
}

// ValidateSpec reports whether spec is a valid 5-field cron expression
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Register schedules fn under name. Each call gets the scheduler's run
// context, which is cancelled if Stop times out.
func (s *Scheduler) Register(name, spec string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s is already scheduled", name)
	}
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	id, err := s.cron.AddFunc(spec, func() { fn(s.ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.entries[name] = entry{id: id, spec: spec}

	zap.S().Infow("Scheduled job", "job_name", name, "schedule", spec)
	return nil
}

// RegisterLockSweep schedules periodic removal of expired lock records when
// the lock backend keeps them around
func (s *Scheduler) RegisterLockSweep(spec string) error {
	sweeper, ok := s.locks.(lock.ExpiredSweeper)
	if !ok || spec == "" {
		return nil
	}
	return s.Register(SweepJobName, spec, func(ctx context.Context) {
		if _, err := sweeper.CleanExpiredLocks(ctx); err != nil {
			zap.S().Errorw("Failed to clean expired locks", "error", err)
		}
	})
}

// Entry returns the schedule and next activation of a registered job
func (s *Scheduler) Entry(name string) (spec string, next time.Time, ok bool) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return "", time.Time{}, false
	}
	return e.spec, s.cron.Entry(e.id).Next, true
}

// Start begins dispatching scheduled runs
func (s *Scheduler) Start() {
	s.mu.RLock()
	count := len(s.entries)
	s.mu.RUnlock()

	zap.S().Infow("Starting scheduler", "pod_id", s.podID, "jobs", count)
	s.cron.Start()
}

// Stop stops dispatching, waits for in-flight runs until ctx is done, then
// releases every lock this instance holds
func (s *Scheduler) Stop(ctx context.Context) {
	zap.S().Infow("Stopping scheduler", "pod_id", s.podID)

	done := s.cron.Stop()
	select {
	case <-done.Done():
		zap.S().Info("All scheduled runs completed")
	case <-ctx.Done():
		zap.S().Warn("Timeout waiting for scheduled runs to complete, cancelling")
		s.cancel()
		<-done.Done()
	}
	s.cancel()

	if releaser, ok := s.locks.(lock.HolderReleaser); ok {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaser.ReleaseAll(releaseCtx); err != nil && !errors.Is(err, context.Canceled) {
			zap.S().Errorw("Failed to release locks during shutdown", "error", err)
		}
	}

	zap.S().Infow("Scheduler stopped", "pod_id", s.podID)
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
