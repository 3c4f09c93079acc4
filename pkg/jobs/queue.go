package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work.
type Job struct {
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job. A non-nil error triggers a retry until the
// attempt budget is exhausted.
type Handler func(context.Context, Job) error

// Options tune the worker pool.
type Options struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue dispatches jobs to a fixed pool of goroutine workers over a
// buffered channel. It is in-memory only; jobs do not survive a restart.
type Queue struct {
	name    string
	handler Handler
	opts    Options

	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a queue around the handler. Zero option fields fall
// back to small defaults.
func NewQueue(name string, handler Handler, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = opts.Workers * 4
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Queue{
		name:    name,
		handler: handler,
		opts:    opts,
		jobs:    make(chan Job, opts.BufferSize),
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.started = true
	q.opts.Logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.opts.Workers)
}

// Stop cancels the workers and blocks until they exit. Buffered jobs that
// have not been picked up are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.opts.Logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Enqueue hands a job to the pool. It fails when the queue has not been
// started or has been stopped, so callers can fall back to doing the work
// inline.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.jobs <- job:
		return nil
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			if err := q.handler(q.ctx, job); err != nil {
				q.retry(job, err)
			}
		}
	}
}

func (q *Queue) retry(job Job, err error) {
	job.Attempt++
	if job.Attempt > q.opts.MaxRetries {
		q.opts.Logger.Sugar().Errorw("job dropped after retries",
			"queue", q.name, "type", job.Type, "error", err)
		return
	}
	q.opts.Logger.Sugar().Warnw("job failed, will retry",
		"queue", q.name, "type", job.Type, "attempt", job.Attempt, "error", err)

	go func(j Job) {
		timer := time.NewTimer(q.opts.RetryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if reErr := q.Enqueue(j); reErr != nil {
				q.opts.Logger.Sugar().Errorw("requeue failed",
					"queue", q.name, "type", j.Type, "error", reErr)
			}
		}
	}(job)
}
