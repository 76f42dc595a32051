// Package workerpool provides the persistent worker pool spec §5 calls for:
// "One dedicated persistent worker pool records passes within a schedule
// level in parallel; another serves graphics-pool per-worker command buffer
// recording." Workers are locked to OS threads, matching the teacher's
// single-thread design (internal/thread.Thread) generalized to a fixed-size
// pool, with per-level fan-out and first-error propagation built on
// golang.org/x/sync/errgroup (spec §4.1 step 4: "Propagate the first error;
// never run a later level if any callback in an earlier level failed").
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// worker is a single OS-thread-locked execution context. Calls issued to it
// are serialized; Vulkan command-buffer recording against a worker-owned
// command pool must stay on one worker for its lifetime (spec §5: "Command
// pools: owned by exactly one worker/frame pair").
type worker struct {
	funcs   chan func()
	done    chan struct{}
	running atomic.Bool
}

func newWorker() *worker {
	w := &worker{
		funcs: make(chan func(), 16),
		done:  make(chan struct{}),
	}
	w.running.Store(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		wg.Done()
		for {
			select {
			case f := <-w.funcs:
				f()
			case <-w.done:
				return
			}
		}
	}()
	wg.Wait()
	return w
}

func (w *worker) call(f func() error) error {
	if !w.running.Load() {
		return nil
	}
	result := make(chan error, 1)
	w.funcs <- func() { result <- f() }
	return <-result
}

func (w *worker) stop() {
	if w.running.Swap(false) {
		close(w.done)
	}
}

// Pool is a fixed-size set of persistent, OS-thread-locked workers used to
// record passes in parallel within one schedule level.
type Pool struct {
	workers []*worker
	next    atomic.Uint64
}

// New creates a pool of size workers. size is clamped to at least 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{workers: make([]*worker, size)}
	for i := range p.workers {
		p.workers[i] = newWorker()
	}
	return p
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// Worker maps i onto a worker index in [0, Size()) by taking i modulo the
// pool size, used when a caller needs a stable worker-to-index mapping
// (e.g. CommandArena's per-worker pools).
func (p *Pool) Worker(i int) int {
	return i % len(p.workers)
}

// RunLevel executes tasks concurrently across the pool, one task per
// worker slot chosen round-robin, and returns the first error encountered
// (or nil if all succeeded). It never starts later tasks' side effects
// after an earlier one in the same level has failed from the caller's
// point of view: callers invoke RunLevel once per schedule level and check
// the returned error before proceeding to the next level, per spec §4.1
// step 4.
func RunLevel(ctx context.Context, p *Pool, tasks []func(workerIndex int) error) error {
	if len(tasks) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		workerIdx := p.Worker(i)
		w := p.workers[workerIdx]
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return w.call(func() error { return task(workerIdx) })
		})
	}
	return g.Wait()
}

// Close stops every worker in the pool. Safe to call once; further pool use
// after Close is undefined.
func (p *Pool) Close() {
	for _, w := range p.workers {
		w.stop()
	}
}
