// Package queue provides the thin, mutex-protected submission wrapper spec
// §2 calls the "Queue wrapper": it serializes concurrent submits to the same
// underlying gpu.Queue and exposes submit, submit2, present, and wait_idle.
//
// Grounded on gviegas-neo3's driver.Driver.qmus ([]sync.Mutex, one per
// queue) and the teacher's hal/vulkan/queue.go Submit/Present shape.
package queue

import (
	"sync"

	"github.com/gogpu/rendergraph/diag"
	"github.com/gogpu/rendergraph/errs"
	"github.com/gogpu/rendergraph/gpu"
)

// Queue wraps a gpu.Queue with a mutex so concurrent callers (the scheduler
// submitting one queue class while another goroutine issues a present on
// the same physical queue) never race on the underlying driver call. Queue
// also serializes Present with submissions on the same queue, per spec §5:
// "present is serialized with that queue's submits."
type Queue struct {
	mu       sync.Mutex
	inner    gpu.Queue
	family   uint32
	debug    string
}

// New wraps inner, a raw gpu.Queue bound to the given family.
func New(inner gpu.Queue, family uint32, debugLabel string) *Queue {
	return &Queue{inner: inner, family: family, debug: debugLabel}
}

// Family returns the queue-family index this wrapper was bound to.
func (q *Queue) Family() uint32 { return q.family }

// Submit issues a legacy (pre-Synchronization2) submission.
func (q *Queue) Submit(infos []gpu.SubmitInfo, fence gpu.Fence) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.inner.Submit(infos, fence); err != nil {
		diag.Logger().Error("queue submit failed", "queue", q.debug, "family", q.family, "err", err)
		return errs.Wrap(errs.DeviceLost, "queue", "Submit", err).WithObject(q.debug)
	}
	return nil
}

// Submit2 issues a Synchronization2 submission.
func (q *Queue) Submit2(infos []gpu.SubmitInfo2, fence gpu.Fence) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.inner.Submit2(infos, fence); err != nil {
		diag.Logger().Error("queue submit2 failed", "queue", q.debug, "family", q.family, "err", err)
		return errs.Wrap(errs.DeviceLost, "queue", "Submit2", err).WithObject(q.debug)
	}
	return nil
}

// Present issues a present request on this queue. VK_SUBOPTIMAL_KHR and
// VK_ERROR_OUT_OF_DATE_KHR are reported via the returned gpu.PresentStatus,
// not as an error (spec §4.2, §7 "Transient").
func (q *Queue) Present(req gpu.PresentInfo) (gpu.PresentStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	status, err := q.inner.Present(req)
	if err != nil {
		diag.Logger().Error("queue present failed", "queue", q.debug, "family", q.family, "err", err)
		return status, errs.Wrap(errs.DeviceLost, "queue", "Present", err).WithObject(q.debug)
	}
	return status, nil
}

// WaitIdle blocks until all work submitted to this queue has completed.
func (q *Queue) WaitIdle() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.inner.WaitIdle(); err != nil {
		return errs.Wrap(errs.DeviceLost, "queue", "WaitIdle", err).WithObject(q.debug)
	}
	return nil
}
