// Package workerpool bounds how many backup runs execute at once.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/yourusername/network-backup-manager/internal/logging"
)

var (
	// ErrFull is returned when the queue has no free slot.
	ErrFull = errors.New("worker pool queue is full")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("worker pool is closed")
)

// PanicError carries a recovered panic out of a task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Task is a unit of work. Its error is passed to the pool's result handler.
type Task func(ctx context.Context) error

type queued struct {
	ctx    context.Context
	name   string
	fn     Task
	done   chan error
	onDone func(error)
}

// Pool runs tasks on a fixed set of goroutines.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	tasks chan queued
	wg    sync.WaitGroup

	active atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New starts cfg.Workers goroutines.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		logger: logging.Component("workerpool"),
		tasks:  make(chan queued, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("pool_started", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(task)
		}
	}
}

func (p *Pool) execute(task queued) {
	p.active.Add(1)
	defer p.active.Add(-1)

	err := p.call(task)
	if task.onDone != nil {
		task.onDone(err)
	}
	if task.done != nil {
		task.done <- err
	}
}

func (p *Pool) call(task queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			p.logger.Error("task_panicked", "task", task.name, "panic", fmt.Sprint(r))
		}
	}()
	if task.ctx.Err() != nil {
		return task.ctx.Err()
	}
	return task.fn(task.ctx)
}

func (p *Pool) enqueue(task queued) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrFull
	}
}

// Go queues fn without waiting for it. done, if set, receives the task's
// error, a *PanicError, or the context error when the task was skipped. It
// is called exactly once for every accepted task that a worker picks up.
func (p *Pool) Go(ctx context.Context, name string, fn Task, done func(error)) error {
	return p.enqueue(queued{ctx: ctx, name: name, fn: fn, onDone: done})
}

// Submit queues fn and waits for its result.
func (p *Pool) Submit(ctx context.Context, name string, fn Task) error {
	done := make(chan error, 1)
	if err := p.enqueue(queued{ctx: ctx, name: name, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers       int   `json:"workers"`
	Active        int64 `json:"active"`
	Queued        int   `json:"queued"`
	QueueCapacity int   `json:"queue_capacity"`
	Closed        bool  `json:"closed"`
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	return Stats{
		Workers:       p.cfg.Workers,
		Active:        p.active.Load(),
		Queued:        len(p.tasks),
		QueueCapacity: p.cfg.QueueSize,
		Closed:        closed,
	}
}

// Shutdown stops accepting tasks and waits for queued and running ones.
// When ctx expires first the remaining tasks are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.logger.Info("pool_draining", "active", p.active.Load(), "queued", len(p.tasks))

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info("pool_stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("pool_drain_timeout", "active", p.active.Load())
		return ctx.Err()
	}
}
