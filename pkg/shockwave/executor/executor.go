// Package executor provides the cooperative task primitives the
// connection pipeline spawns onto: normal tasks that are bounded by a
// weighted semaphore (so a flood of slow handlers applies backpressure
// instead of spawning unbounded goroutines) and critical tasks that
// always run immediately, the way the pipeline's Writer must never be
// queued behind handler work.
package executor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Executor bounds concurrently-running normal tasks while letting
// critical tasks bypass the bound entirely.
type Executor struct {
	sem *semaphore.Weighted
}

// New creates an Executor that allows at most maxConcurrentNormal normal
// tasks to run at once. A value ≤0 means unbounded.
func New(maxConcurrentNormal int64) *Executor {
	if maxConcurrentNormal <= 0 {
		return &Executor{}
	}
	return &Executor{sem: semaphore.NewWeighted(maxConcurrentNormal)}
}

// TaskHandle is an awaitable, cancellable handle to a spawned task.
type TaskHandle struct {
	done            chan struct{}
	err             error
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
}

// Wait blocks until the task completes and returns its error.
func (h *TaskHandle) Wait() error {
	<-h.done
	return h.err
}

// Done returns a channel closed when the task completes.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Cancel requests cancellation of the task's context. It does not block
// for the task to observe it.
func (h *TaskHandle) Cancel() {
	h.cancelRequested.Store(true)
	h.cancel()
}

// CancelRequested reports whether Cancel has been called, independent of
// whether the task's function has noticed yet.
func (h *TaskHandle) CancelRequested() bool {
	return h.cancelRequested.Load()
}

// Spawn runs fn in a new goroutine as a normal task: if the executor has
// a concurrency bound, Spawn blocks until a slot is free or ctx is done.
// With a bound, a ctx that is done before a slot is acquired makes Spawn
// return a handle that is already done with ctx's error. Without a bound,
// fn always runs, receiving a context derived from ctx.
func (e *Executor) Spawn(ctx context.Context, fn func(ctx context.Context) error) *TaskHandle {
	taskCtx, cancel := context.WithCancel(ctx)
	h := &TaskHandle{done: make(chan struct{}), cancel: cancel}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			h.err = err
			close(h.done)
			cancel()
			return h
		}
		go func() {
			defer e.sem.Release(1)
			defer close(h.done)
			defer cancel()
			h.err = fn(taskCtx)
		}()
		return h
	}

	go func() {
		defer close(h.done)
		defer cancel()
		h.err = fn(taskCtx)
	}()
	return h
}

// SpawnCritical runs fn in a new goroutine unconditionally, never
// queueing behind the normal-task semaphore, so it starts even while
// every normal-task slot is occupied by stalled handlers.
func (e *Executor) SpawnCritical(ctx context.Context, fn func(ctx context.Context) error) *TaskHandle {
	taskCtx, cancel := context.WithCancel(ctx)
	h := &TaskHandle{done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(h.done)
		defer cancel()
		h.err = fn(taskCtx)
	}()
	return h
}
