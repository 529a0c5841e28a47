// Package worker runs fire-and-forget background tasks on a fixed set of
// goroutines and reports every task failure through one diagnostic channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrShutdownTimeout is returned when workers don't stop within timeout.
	ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

	// ErrQueueFull is reported when a task is submitted to a full queue.
	ErrQueueFull = errors.New("worker queue full")

	// ErrPoolClosed is reported when a task is submitted after Stop.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Failure describes a task that failed, panicked or was never run.
type Failure struct {
	Name string
	Err  error
}

// Config holds worker pool configuration.
type Config struct {
	Workers   int
	QueueSize int
	// StopTimeout bounds Close. Zero means 10s.
	StopTimeout time.Duration
	Logger      *slog.Logger
	// OnFailure receives every failed task and every rejected submission.
	// Without it failures are logged to Logger.
	OnFailure func(Failure)
	// OnOverflow is called when Go runs a task outside the workers, with
	// ErrQueueFull or ErrPoolClosed as the reason.
	OnOverflow func(name string, reason error)
}

type job struct {
	name string
	fn   Task
}

// Pool manages a pool of workers draining a bounded task queue.
type Pool struct {
	workers     int
	stopTimeout time.Duration
	logger      *slog.Logger
	onFailure   func(Failure)
	onOverflow  func(string, error)

	mu     sync.RWMutex
	closed bool
	queue  chan job

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a pool and starts its workers.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		workers:     cfg.Workers,
		stopTimeout: cfg.StopTimeout,
		logger:      cfg.Logger,
		onFailure:   cfg.OnFailure,
		onOverflow:  cfg.OnOverflow,
		queue:       make(chan job, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues fn without blocking. It returns ErrQueueFull or
// ErrPoolClosed when the task was not accepted; the rejection is also
// reported as a Failure.
func (p *Pool) Submit(name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.fail(name, ErrPoolClosed)
		return ErrPoolClosed
	}

	select {
	case p.queue <- job{name: name, fn: fn}:
		return nil
	default:
		p.fail(name, ErrQueueFull)
		return ErrQueueFull
	}
}

// Go runs fn without blocking and without ever dropping it. It is queued
// like Submit when there is room; otherwise it runs on a goroutine of its
// own. Overflow goroutines started before Stop are waited for like queued
// tasks; after Stop they get a fresh context bounded by the stop timeout.
func (p *Pool) Go(name string, fn Task) {
	j := job{name: name, fn: fn}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.overflow(name, ErrPoolClosed)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), p.stopTimeout)
			defer cancel()
			p.runAndReport(ctx, j)
		}()
		return
	}

	select {
	case p.queue <- j:
		return
	default:
	}

	p.overflow(name, ErrQueueFull)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runAndReport(p.ctx, j)
	}()
}

// Stop stops accepting tasks and waits for queued ones to finish.
// After timeout the context passed to running tasks is cancelled.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return ErrShutdownTimeout
	}
}

// Close implements io.Closer using the configured stop timeout.
func (p *Pool) Close() error {
	return p.Stop(p.stopTimeout)
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.queue {
		p.runAndReport(p.ctx, j)
	}
}

func (p *Pool) runAndReport(ctx context.Context, j job) {
	if err := p.run(ctx, j); err != nil {
		p.fail(j.name, err)
	}
}

func (p *Pool) run(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(ctx)
}

// fail sends a failure to OnFailure, or logs it when no hook is set.
func (p *Pool) fail(name string, err error) {
	if p.onFailure != nil {
		p.onFailure(Failure{Name: name, Err: err})
		return
	}
	p.logger.Error("background task failed", "task", name, "error", err)
}

func (p *Pool) overflow(name string, reason error) {
	if p.onOverflow != nil {
		p.onOverflow(name, reason)
		return
	}
	p.logger.Warn("background task overflowed the queue", "task", name, "reason", reason)
}
