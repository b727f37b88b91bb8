// Package jobs runs maintenance work exclusively across cooperating
// instances, guarded by a named lock.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dandantas/custodian/internal/identity"
	"github.com/dandantas/custodian/internal/lock"
	"github.com/dandantas/custodian/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrMisconfigured is returned when a runner is built without a required
	// collaborator. It is fatal and must not be retried.
	ErrMisconfigured = errors.New("job runner misconfigured")

	// ErrLockLost is the cancellation cause when the lock could not be kept
	// alive while the work was running
	ErrLockLost = errors.New("job lock lost while running")
)

const releaseTimeout = 5 * time.Second

// Executer is a unit of maintenance work
type Executer interface {
	Execute(ctx context.Context) (model.JobReport, error)
}

// ExecuterFunc adapts a function to Executer
type ExecuterFunc func(ctx context.Context) (model.JobReport, error)

// Execute calls f
func (f ExecuterFunc) Execute(ctx context.Context) (model.JobReport, error) {
	return f(ctx)
}

// Config configures a Runner
type Config struct {
	JobName          string
	Namespace        string
	Executer         Executer
	Locks            lock.Service
	LockTTL          time.Duration
	AcquireRetries   int
	AcquireRetryWait time.Duration
	RunAs            string
}

// Result describes one Run call. Ran is false when another holder had the
// lock; no work was done in that case.
type Result struct {
	Ran       bool
	LockName  string
	Holder    string
	StartedAt time.Time
	Duration  time.Duration
	Report    model.JobReport
}

// Runner executes a job while holding its lock
type Runner struct {
	cfg      Config
	lockName string
}

// NewRunner validates cfg and creates a runner
func NewRunner(cfg Config) (*Runner, error) {
	switch {
	case strings.TrimSpace(cfg.JobName) == "":
		return nil, fmt.Errorf("%w: job name is required", ErrMisconfigured)
	case cfg.Executer == nil:
		return nil, fmt.Errorf("%w: executer is required for job %s", ErrMisconfigured, cfg.JobName)
	case cfg.Locks == nil:
		return nil, fmt.Errorf("%w: lock service is required for job %s", ErrMisconfigured, cfg.JobName)
	case cfg.LockTTL <= 0:
		return nil, fmt.Errorf("%w: lock ttl must be positive for job %s", ErrMisconfigured, cfg.JobName)
	case cfg.AcquireRetries < 0 || cfg.AcquireRetryWait < 0:
		return nil, fmt.Errorf("%w: acquire retries must not be negative for job %s", ErrMisconfigured, cfg.JobName)
	}

	if cfg.RunAs == "" {
		cfg.RunAs = identity.SystemUser
	}

	return &Runner{
		cfg:      cfg,
		lockName: lock.QualifiedName(cfg.Namespace, cfg.JobName),
	}, nil
}

// Name returns the job name
func (r *Runner) Name() string {
	return r.cfg.JobName
}

// LockName returns the derived lock name
func (r *Runner) LockName() string {
	return r.lockName
}

// LockTTL returns the configured lock timeout
func (r *Runner) LockTTL() time.Duration {
	return r.cfg.LockTTL
}

// RunAs returns the identity the work runs under
func (r *Runner) RunAs() string {
	return r.cfg.RunAs
}

// Run acquires the job lock and executes the work under the configured
// identity. Contention is not an error: Run returns Result{Ran: false}.
// The lock is refreshed while the work runs and released exactly once on
// every exit path, including panics.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	result := Result{LockName: r.lockName}

	h, err := r.acquire(ctx)
	if errors.Is(err, lock.ErrContention) {
		zap.S().Debugw("Lock held elsewhere, skipping run",
			"job_name", r.cfg.JobName,
			"lock_name", r.lockName,
		)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to acquire lock %s: %w", r.lockName, err)
	}
	defer r.release(ctx, h)

	workCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stopRefresh := r.keepAlive(workCtx, h, cancel)
	defer stopRefresh()

	result.Ran = true
	result.Holder = h.Holder
	result.StartedAt = time.Now().UTC()

	zap.S().Infow("Acquired lock, running job",
		"job_name", r.cfg.JobName,
		"lock_name", r.lockName,
		"holder", h.Holder,
		"run_as", r.cfg.RunAs,
	)

	report, err := identity.RunAs(workCtx, r.cfg.RunAs, r.cfg.Executer.Execute)
	result.Duration = time.Since(result.StartedAt)
	result.Report = report

	if errors.Is(context.Cause(workCtx), ErrLockLost) {
		err = errors.Join(ErrLockLost, err)
	}
	if err != nil {
		return result, err
	}

	return result, nil
}

func (r *Runner) acquire(ctx context.Context) (lock.Handle, error) {
	for attempt := 0; ; attempt++ {
		h, err := r.cfg.Locks.Acquire(ctx, r.lockName, r.cfg.LockTTL)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, lock.ErrContention) || attempt >= r.cfg.AcquireRetries {
			return lock.Handle{}, err
		}

		timer := time.NewTimer(r.cfg.AcquireRetryWait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lock.Handle{}, ctx.Err()
		}
	}
}

func (r *Runner) release(ctx context.Context, h lock.Handle) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := r.cfg.Locks.Release(releaseCtx, h); err != nil {
		zap.S().Errorw("Failed to release lock",
			"job_name", r.cfg.JobName,
			"lock_name", r.lockName,
			"error", err,
		)
		return
	}
	zap.S().Debugw("Released lock", "job_name", r.cfg.JobName, "lock_name", r.lockName)
}

// keepAlive refreshes the lock every LockTTL/2 until the returned stop
// function is called. Losing the lock cancels ctx with ErrLockLost.
func (r *Runner) keepAlive(ctx context.Context, h lock.Handle, cancel context.CancelCauseFunc) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(max(r.cfg.LockTTL/2, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			refreshed, err := r.cfg.Locks.Refresh(ctx, h, r.cfg.LockTTL)
			switch {
			case err == nil:
				h = refreshed
			case errors.Is(err, lock.ErrNotHeld) || h.Expired(time.Now()):
				zap.S().Errorw("Lost job lock, cancelling run",
					"job_name", r.cfg.JobName,
					"lock_name", r.lockName,
					"error", err,
				)
				cancel(ErrLockLost)
				return
			default:
				zap.S().Warnw("Failed to refresh job lock",
					"job_name", r.cfg.JobName,
					"lock_name", r.lockName,
					"error", err,
				)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
	}
}
