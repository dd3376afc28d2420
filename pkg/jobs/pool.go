// Package jobs provides a bounded worker pool for background tasks.
// Scheduling is explicit: callers submit a named task and get back a handle
// they can wait on, instead of firing goroutines that nobody can observe
// or drain at shutdown.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool is closed")

// ErrQueueFull is returned when the submission queue is at capacity.
var ErrQueueFull = errors.New("worker pool queue is full")

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Handle tracks a submitted task to completion.
type Handle struct {
	name string
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task's error. Only valid after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the task finishes or the context is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type submission struct {
	handle *Handle
	task   Task
}

// Pool runs tasks on a fixed set of workers over a bounded queue.
type Pool struct {
	queue  chan submission
	logger *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines consuming a queue of size queueSize.
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan submission, queueSize),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

// Submit enqueues a task for execution. It never blocks: a full queue is
// surfaced to the caller rather than backing up the request path.
func (p *Pool) Submit(name string, task Task) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	h := &Handle{name: name, done: make(chan struct{})}
	select {
	case p.queue <- submission{handle: h, task: task}:
		return h, nil
	default:
		return nil, ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued work to drain, up to
// the context deadline. Running tasks are cancelled via their context if the
// deadline expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-drained
		return ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for sub := range p.queue {
		start := time.Now()
		err := p.run(sub.task)
		sub.handle.err = err
		close(sub.handle.done)

		if err != nil {
			p.logger.Error("background task failed",
				slog.Int("worker", id),
				slog.String("task", sub.handle.name),
				slog.Duration("elapsed", time.Since(start)),
				slog.Any("error", err),
			)
			continue
		}
		p.logger.Debug("background task finished",
			slog.Int("worker", id),
			slog.String("task", sub.handle.name),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(p.baseCtx)
}
