// Package pool implements the bounded worker pool shared by every Consumer:
// a fixed concurrency ceiling plus a bounded backlog, with immediate
// rejection instead of caller blocking once both are full. Rejection is the
// sole backpressure signal exposed back to QSVC via NACK.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSaturated is returned by Submit when both the pool and its backlog are
// full. Callers use this to NACK the triggering message.
var ErrSaturated = errors.New("pool: saturated")

// ErrClosed is returned by Submit after Shutdown has been called.
var ErrClosed = errors.New("pool: closed")

const defaultIdleTimeout = 30 * time.Second

// Task is a unit of work submitted to the pool. It receives a
// context.Background()-derived context, not the caller's: pool work
// outlives the call to Submit.
type Task func(ctx context.Context)

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithIdleTimeout overrides how long a worker spun up above MinThreads
// waits for new work before retiring back toward MinThreads.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *WorkerPool) { p.idleTimeout = d }
}

// New returns a WorkerPool that keeps minThreads workers warm, scales up to
// maxThreads under load, and queues up to maxBacklog pending tasks before
// rejecting.
func New(minThreads, maxThreads, maxBacklog int, opts ...Option) *WorkerPool {
	p := &WorkerPool{
		maxThreads:  maxThreads,
		tasks:       make(chan Task, maxBacklog),
		idleTimeout: defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < minThreads; i++ {
		atomic.AddInt32(&p.live, 1)
		p.spawn(true)
	}

	return p
}

// WorkerPool is a bounded executor: min..max workers draining a bounded
// backlog channel. Submit never blocks the caller.
type WorkerPool struct {
	maxThreads  int
	idleTimeout time.Duration

	tasks chan Task
	live  int32

	wg sync.WaitGroup

	// closeMu serializes Submit's closed-check-and-send against Shutdown's
	// close(tasks): Submit holds the read side so any number of submitters
	// run concurrently, Shutdown holds the write side so it never closes
	// the channel while a Submit is in the middle of sending on it.
	closeMu sync.RWMutex
	closed  bool
}

// Submit enqueues task for execution. It returns ErrSaturated immediately
// if the pool is at capacity and the backlog is full, and ErrClosed after
// Shutdown. Submit never blocks.
func (p *WorkerPool) Submit(task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.tasks <- task:
		p.maybeScaleUp()

		return nil
	default:
		return ErrSaturated
	}
}

// Running returns the current number of live worker goroutines (between
// MinThreads and MaxThreads, inclusive, once warmed up).
func (p *WorkerPool) Running() int {
	return int(atomic.LoadInt32(&p.live))
}

// Backlog returns the number of tasks currently queued and not yet picked
// up by a worker.
func (p *WorkerPool) Backlog() int {
	return len(p.tasks)
}

// Shutdown stops accepting new work and waits for in-flight and already
// queued tasks to finish, or for ctx to be cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.closeMu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	if !alreadyClosed {
		close(p.tasks)
	}
	p.closeMu.Unlock()

	if alreadyClosed {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maybeScaleUp spins up one more worker above the warm minimum, up to
// maxThreads, when there is queued work waiting to be picked up.
func (p *WorkerPool) maybeScaleUp() {
	if p.tasks == nil || len(p.tasks) == 0 {
		return
	}

	for {
		cur := atomic.LoadInt32(&p.live)
		if int(cur) >= p.maxThreads {
			return
		}
		if atomic.CompareAndSwapInt32(&p.live, cur, cur+1) {
			p.spawn(false)

			return
		}
	}
}

// spawn starts a worker goroutine. persistent workers loop until Shutdown
// closes the task channel; elastic ones additionally retire after
// idleTimeout with no work, shrinking the pool back toward its warm floor.
func (p *WorkerPool) spawn(persistent bool) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer atomic.AddInt32(&p.live, -1)

		if persistent {
			for task := range p.tasks {
				task(context.Background())
			}

			return
		}

		timer := time.NewTimer(p.idleTimeout)
		defer timer.Stop()

		for {
			select {
			case task, ok := <-p.tasks:
				if !ok {
					return
				}

				task(context.Background())

				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(p.idleTimeout)
			case <-timer.C:
				return
			}
		}
	}()
}
