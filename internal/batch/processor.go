// Package batch splits a worklist into fixed-size batches and processes them
// on a bounded pool of goroutines.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dandantas/custodian/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of processing one item
type Status string

// Item statuses
const (
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome reports what happened to one item of a batch. Err is set for
// failed items.
type Outcome struct {
	Status Status
	Err    error
}

// Worker processes batches of items of type T.
//
// BeforeProcess runs once before any batch and may return a derived context
// used for every later hook. AfterProcess runs once after the last batch,
// whenever BeforeProcess was called, even if processing failed.
type Worker[T any] interface {
	BeforeProcess(ctx context.Context) (context.Context, error)
	ProcessBatch(ctx context.Context, items []T) ([]Outcome, error)
	BatchFailed(ctx context.Context, item T, err error)
	AfterProcess(ctx context.Context) error
}

// Options configures a Processor
type Options struct {
	Name            string
	Workers         int
	BatchSize       int
	LoggingInterval int
	Retry           model.RetryConfig
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = "batch"
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.LoggingInterval <= 0 {
		o.LoggingInterval = 1000
	}
}

// Result summarizes a processing run
type Result[T any] struct {
	Total          int
	Updated        int
	Skipped        int
	Failed         int
	LastError      error
	LastErrorEntry T
	Duration       time.Duration
}

// Processor drives a Worker over a worklist
type Processor[T any] struct {
	opts    Options
	worker  Worker[T]
	backoff *Backoff

	mu        sync.Mutex
	result    Result[T]
	processed int
}

// NewProcessor creates a processor for the given worker
func NewProcessor[T any](opts Options, worker Worker[T]) *Processor[T] {
	opts.setDefaults()
	return &Processor[T]{
		opts:    opts,
		worker:  worker,
		backoff: NewBackoff(opts.Retry),
	}
}

// Process runs every item through the worker. Batch errors are retried with
// backoff; once retries are exhausted every item of the batch is reported to
// BatchFailed and counted as failed, and processing continues. Cancelling ctx
// stops dispatching new batches and Process returns the context error.
func (p *Processor[T]) Process(ctx context.Context, items []T) (Result[T], error) {
	start := time.Now()

	p.mu.Lock()
	p.result = Result[T]{Total: len(items)}
	p.processed = 0
	p.mu.Unlock()

	zap.S().Infow("Batch processing started",
		"processor", p.opts.Name,
		"total", len(items),
		"workers", p.opts.Workers,
		"batch_size", p.opts.BatchSize,
	)

	workCtx, err := p.worker.BeforeProcess(ctx)
	if err != nil {
		afterErr := p.worker.AfterProcess(ctx)
		return p.finish(start), errors.Join(fmt.Errorf("before process: %w", err), afterErr)
	}

	runErr := p.dispatch(workCtx, split(items, p.opts.BatchSize))

	if err := p.worker.AfterProcess(workCtx); err != nil {
		zap.S().Errorw("After process hook failed", "processor", p.opts.Name, "error", err)
		runErr = errors.Join(runErr, fmt.Errorf("after process: %w", err))
	}

	res := p.finish(start)
	zap.S().Infow("Batch processing finished",
		"processor", p.opts.Name,
		"total", res.Total,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, runErr
}

func (p *Processor[T]) dispatch(ctx context.Context, batches [][]T) error {
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan []T)

	g.Go(func() error {
		defer close(queue)
		for _, b := range batches {
			select {
			case queue <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() error {
			for b := range queue {
				if err := p.runBatch(gctx, b); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// runBatch processes one batch with retries. It only returns an error when
// the context is done.
func (p *Processor[T]) runBatch(ctx context.Context, items []T) error {
	var lastErr error

	for attempt := 1; attempt <= p.backoff.MaxAttempts(); attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.backoff.Delay(attempt-1)); err != nil {
				return err
			}
		}

		outcomes, err := p.worker.ProcessBatch(ctx, items)
		if err == nil && len(outcomes) != len(items) {
			err = fmt.Errorf("worker returned %d outcomes for %d items", len(outcomes), len(items))
		}
		if err == nil {
			p.record(items, outcomes)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = err
		zap.S().Warnw("Batch attempt failed",
			"processor", p.opts.Name,
			"attempt", attempt,
			"max_attempts", p.backoff.MaxAttempts(),
			"batch_size", len(items),
			"error", err,
		)
	}

	zap.S().Errorw("Batch failed after retries",
		"processor", p.opts.Name,
		"batch_size", len(items),
		"error", lastErr,
	)

	outcomes := make([]Outcome, len(items))
	for i, item := range items {
		p.worker.BatchFailed(ctx, item, lastErr)
		outcomes[i] = Outcome{Status: StatusFailed, Err: lastErr}
	}
	p.record(items, outcomes)
	return nil
}

func (p *Processor[T]) record(items []T, outcomes []Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, o := range outcomes {
		switch o.Status {
		case StatusUpdated:
			p.result.Updated++
		case StatusSkipped:
			p.result.Skipped++
		default:
			p.result.Failed++
			p.result.LastError = o.Err
			p.result.LastErrorEntry = items[i]
		}
	}

	before := p.processed
	p.processed += len(items)
	if p.processed/p.opts.LoggingInterval > before/p.opts.LoggingInterval {
		zap.S().Infow("Batch processing progress",
			"processor", p.opts.Name,
			"processed", p.processed,
			"total", p.result.Total,
		)
	}
}

func (p *Processor[T]) finish(start time.Time) Result[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Duration = time.Since(start)
	return p.result
}

func split[T any](items []T, size int) [][]T {
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		items, batches = items[size:], append(batches, items[:size:size])
	}
	if len(items) > 0 {
		batches = append(batches, items)
	}
	return batches
}
