package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/custodian/internal/identity"
	"github.com/dandantas/custodian/internal/lock"
	"github.com/dandantas/custodian/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func okExecuter(calls *atomic.Int32) ExecuterFunc {
	return func(context.Context) (model.JobReport, error) {
		calls.Add(1)
		return model.JobReport{Summary: "done", Updated: 1}, nil
	}
}

func newRunner(t *testing.T, locks lock.Service, exec Executer) *Runner {
	t.Helper()
	r, err := NewRunner(Config{
		JobName:   "fixAuthoritiesCrcValues",
		Namespace: "custodian",
		Executer:  exec,
		Locks:     locks,
		LockTTL:   time.Minute,
	})
	require.NoError(t, err)
	return r
}

func TestNewRunnerMisconfigured(t *testing.T) {
	var calls atomic.Int32
	locks := lock.NewMemory("pod")

	cases := map[string]Config{
		"missing name":     {Executer: okExecuter(&calls), Locks: locks, LockTTL: time.Second},
		"blank name":       {JobName: "  ", Executer: okExecuter(&calls), Locks: locks, LockTTL: time.Second},
		"missing executer": {JobName: "job", Locks: locks, LockTTL: time.Second},
		"missing locks":    {JobName: "job", Executer: okExecuter(&calls), LockTTL: time.Second},
		"zero ttl":         {JobName: "job", Executer: okExecuter(&calls), Locks: locks},
		"negative retries": {JobName: "job", Executer: okExecuter(&calls), Locks: locks, LockTTL: time.Second, AcquireRetries: -1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			r, err := NewRunner(cfg)
			assert.ErrorIs(t, err, ErrMisconfigured)
			assert.Nil(t, r)
		})
	}
	assert.Zero(t, calls.Load())
}

func TestRunExecutesUnderSystemIdentity(t *testing.T) {
	locks := lock.NewMemory("pod")
	var user string
	r := newRunner(t, locks, ExecuterFunc(func(ctx context.Context) (model.JobReport, error) {
		user = identity.Current(ctx)
		return model.JobReport{Updated: 2}, nil
	}))

	ctx := identity.WithUser(context.Background(), "alice")
	res, err := r.Run(ctx)
	require.NoError(t, err)

	assert.True(t, res.Ran)
	assert.Equal(t, "{custodian}fixAuthoritiesCrcValues", res.LockName)
	assert.Equal(t, "pod", res.Holder)
	assert.Equal(t, 2, res.Report.Updated)
	assert.Equal(t, identity.SystemUser, user)
	assert.Equal(t, "alice", identity.Current(ctx))

	// released on success
	h, err := locks.Acquire(context.Background(), r.LockName(), time.Second)
	require.NoError(t, err)
	require.NoError(t, locks.Release(context.Background(), h))
}

func TestRunContentionIsSilent(t *testing.T) {
	locks := lock.NewMemory("pod")
	var calls atomic.Int32
	r := newRunner(t, locks, okExecuter(&calls))

	held, err := locks.Acquire(context.Background(), r.LockName(), time.Minute)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.Zero(t, calls.Load())

	// the other holder's lock is untouched
	_, err = locks.Refresh(context.Background(), held, time.Minute)
	assert.NoError(t, err)
}

func TestRunRetriesAcquire(t *testing.T) {
	locks := lock.NewMemory("pod")
	var calls atomic.Int32
	r, err := NewRunner(Config{
		JobName:          "job",
		Executer:         okExecuter(&calls),
		Locks:            locks,
		LockTTL:          time.Minute,
		AcquireRetries:   50,
		AcquireRetryWait: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	held, err := locks.Acquire(context.Background(), "job", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = locks.Release(context.Background(), held)
	}()

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExactlyOneConcurrentCallerRuns(t *testing.T) {
	locks := lock.NewMemory("pod")
	proceed := make(chan struct{})
	var calls atomic.Int32

	r := newRunner(t, locks, ExecuterFunc(func(context.Context) (model.JobReport, error) {
		calls.Add(1)
		<-proceed
		return model.JobReport{}, nil
	}))

	results := make(chan Result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Run(context.Background())
			assert.NoError(t, err)
			results <- res
		}()
	}

	// the loser returns while the winner is still blocked
	first := <-results
	assert.False(t, first.Ran)

	close(proceed)
	wg.Wait()
	second := <-results
	assert.True(t, second.Ran)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunReleasesOnError(t *testing.T) {
	locks := lock.NewMemory("pod")
	boom := errors.New("boom")
	r := newRunner(t, locks, ExecuterFunc(func(context.Context) (model.JobReport, error) {
		return model.JobReport{}, boom
	}))

	res, err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.Ran)

	_, err = locks.Acquire(context.Background(), r.LockName(), time.Second)
	assert.NoError(t, err)
}

func TestRunReleasesOnPanic(t *testing.T) {
	locks := lock.NewMemory("pod")
	r := newRunner(t, locks, ExecuterFunc(func(context.Context) (model.JobReport, error) {
		panic("executer exploded")
	}))

	assert.Panics(t, func() { _, _ = r.Run(context.Background()) })

	_, err := locks.Acquire(context.Background(), r.LockName(), time.Second)
	assert.NoError(t, err)
}

// losingLocks grants the lock but refuses every refresh
type losingLocks struct {
	*lock.Memory
	releases atomic.Int32
}

func (l *losingLocks) Refresh(context.Context, lock.Handle, time.Duration) (lock.Handle, error) {
	return lock.Handle{}, lock.ErrNotHeld
}

func (l *losingLocks) Release(ctx context.Context, h lock.Handle) error {
	l.releases.Add(1)
	return l.Memory.Release(ctx, h)
}

func TestLostLockCancelsWork(t *testing.T) {
	locks := &losingLocks{Memory: lock.NewMemory("pod")}
	r, err := NewRunner(Config{
		JobName: "job",
		Locks:   locks,
		LockTTL: 20 * time.Millisecond,
		Executer: ExecuterFunc(func(ctx context.Context) (model.JobReport, error) {
			<-ctx.Done()
			return model.JobReport{}, ctx.Err()
		}),
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	assert.True(t, res.Ran)
	assert.ErrorIs(t, err, ErrLockLost)
	assert.Equal(t, int32(1), locks.releases.Load())
}

// failingLocks is unreachable
type failingLocks struct{ lock.Service }

func (failingLocks) Acquire(context.Context, string, time.Duration) (lock.Handle, error) {
	return lock.Handle{}, errors.New("connection refused")
}

func TestAcquireErrorPropagates(t *testing.T) {
	var calls atomic.Int32
	r := newRunner(t, failingLocks{}, okExecuter(&calls))

	res, err := r.Run(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, lock.ErrContention)
	assert.False(t, res.Ran)
	assert.Zero(t, calls.Load())
}
