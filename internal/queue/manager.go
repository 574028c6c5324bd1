// Package queue serializes access to the speech model. Callers block in Submit until
// their job has run; at most Workers jobs run at once and at most MaxPending wait.
// A job that has started always runs to completion under a context detached from
// the submitter's cancellation, so an abandoned request never frees its worker while
// the model is still busy with it.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull = errors.New("queue: full")
	ErrShutdown  = errors.New("queue: shutdown")
)

type Config struct {
	Workers    int
	MaxPending int
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Workers int
	Pending int64
	Active  int64
}

type Manager struct {
	jobs chan job
	wg   sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}

	workers int
	pending atomic.Int64
	active  atomic.Int64
}

// Job states.
const (
	jobPending int32 = iota
	jobStarted
	jobDropped
)

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
	state  *atomic.Int32
}

func NewManager(cfg Config) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}

	m := &Manager{
		jobs:    make(chan job, cfg.MaxPending),
		closed:  make(chan struct{}),
		workers: cfg.Workers,
	}

	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	return m
}

// Submit runs fn on a worker and returns its error. It fails fast with ErrQueueFull
// when every worker is busy and no waiting slot is free. If ctx ends before the job
// starts, the job is dropped and ctx.Err() is returned. Once the job has started,
// Submit waits for fn to return even if ctx ends.
func (m *Manager) Submit(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-m.closed:
		return ErrShutdown
	default:
	}

	j := job{ctx: ctx, fn: fn, result: make(chan error, 1), state: new(atomic.Int32)}

	if cap(m.jobs) == 0 {
		if m.active.Load() >= int64(m.workers) {
			return ErrQueueFull
		}

		m.pending.Add(1)
		select {
		case m.jobs <- j:
		case <-m.closed:
			m.pending.Add(-1)
			return ErrShutdown
		case <-ctx.Done():
			m.pending.Add(-1)
			return ctx.Err()
		}
	} else {
		m.pending.Add(1)
		select {
		case m.jobs <- j:
		case <-m.closed:
			m.pending.Add(-1)
			return ErrShutdown
		default:
			m.pending.Add(-1)
			return ErrQueueFull
		}
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobPending, jobDropped) {
			return ctx.Err()
		}
		return <-j.result
	}
}

// Stats reports current occupancy.
func (m *Manager) Stats() Stats {
	return Stats{
		Workers: m.workers,
		Pending: m.pending.Load(),
		Active:  m.active.Load(),
	}
}

// Shutdown stops accepting jobs, fails those still waiting, and waits for running
// jobs to finish or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()

	for {
		select {
		case j := <-m.jobs:
			m.run(j)
		case <-m.closed:
			m.drain()
			return
		}
	}
}

func (m *Manager) run(j job) {
	m.active.Add(1)
	m.pending.Add(-1)
	defer m.active.Add(-1)

	if !j.state.CompareAndSwap(jobPending, jobStarted) {
		return
	}
	if err := j.ctx.Err(); err != nil {
		j.result <- err
		return
	}

	j.result <- j.fn(context.WithoutCancel(j.ctx))
}

func (m *Manager) drain() {
	for {
		select {
		case j := <-m.jobs:
			m.pending.Add(-1)
			if j.state.CompareAndSwap(jobPending, jobDropped) {
				j.result <- ErrShutdown
			}
		default:
			return
		}
	}
}
