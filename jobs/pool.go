// Package jobs provides the bounded worker pool for heavy generation work
// (the blocks path). Jobs queue FIFO, run on a fixed number of workers, and
// carry a per-job wall-clock deadline.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolClosed is returned for submissions after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Fn is a unit of pool work.
type Fn func(ctx context.Context) (any, error)

// Pool runs jobs with bounded concurrency and per-job deadlines.
type Pool struct {
	queue   chan *task
	timeout time.Duration
	logger  *slog.Logger

	// mu guards closed against the queue being closed mid-submission.
	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type task struct {
	ctx    context.Context
	fn     Fn
	result chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// New starts a pool with the given worker count and per-job timeout.
func New(concurrency int, timeout time.Duration, logger *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		// Generous buffer keeps submission non-blocking under normal load
		// while preserving arrival order.
		queue:   make(chan *task, 256),
		timeout: timeout,
		logger:  logger,
	}

	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go p.worker()
	}
	return p
}

// Do enqueues fn and waits for its result. Returns ErrPoolClosed after
// Close, and exactly "timeout <N>ms" when the job exceeds the pool
// deadline.
func (p *Pool) Do(ctx context.Context, fn Fn) (any, error) {
	t := &task{ctx: ctx, fn: fn, result: make(chan taskResult, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	select {
	case p.queue <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case r := <-t.result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight jobs to finish.
// Later submissions get ErrPoolClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.run(t)
	}
}

// run executes one job racing its fn against the pool deadline. A job that
// overruns keeps its goroutine until the fn honors cancellation; the worker
// moves on so one stuck job cannot starve the pool slot forever beyond the
// deadline.
func (p *Pool) run(t *task) {
	jobCtx, cancel := context.WithTimeout(t.ctx, p.timeout)
	defer cancel()

	done := make(chan taskResult, 1)
	go func() {
		value, err := t.fn(jobCtx)
		done <- taskResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		t.result <- r
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			t.result <- taskResult{err: fmt.Errorf("timeout %dms", p.timeout.Milliseconds())}
		} else {
			t.result <- taskResult{err: jobCtx.Err()}
		}
	}
}
