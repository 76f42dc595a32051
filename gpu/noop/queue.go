package noop

import (
	"sync"

	"github.com/gogpu/rendergraph/gpu"
)

// Queue is an in-memory stand-in for a single VkQueue. It performs real
// bookkeeping — submitted command buffers are marked ended, signaled
// semaphores actually advance — but issues no real GPU work.
type Queue struct {
	family uint32

	mu              sync.Mutex
	presentBehavior gpu.PresentStatus
}

// NewQueue constructs a noop queue bound to the given queue family index.
func NewQueue(family uint32) *Queue {
	return &Queue{family: family}
}

func (q *Queue) Family() uint32 { return q.family }

func (q *Queue) Submit(infos []gpu.SubmitInfo, fence gpu.Fence) error {
	for _, info := range infos {
		for _, cb := range info.CommandBuffers {
			if ncb, ok := cb.(*CommandBuffer); ok {
				_ = ncb.End()
			}
		}
		for _, sig := range info.Signal {
			if ns, ok := sig.(*Semaphore); ok && !ns.IsTimeline() {
				_ = ns.Signal(1)
			}
		}
	}
	if fence != nil {
		if nf, ok := fence.(*Fence); ok {
			nf.Signal()
		}
	}
	return nil
}

func (q *Queue) Submit2(infos []gpu.SubmitInfo2, fence gpu.Fence) error {
	for _, info := range infos {
		for _, cb := range info.CommandBuffers {
			if ncb, ok := cb.(*CommandBuffer); ok {
				_ = ncb.End()
			}
		}
		for _, sig := range info.Signal {
			if ns, ok := sig.Semaphore.(*Semaphore); ok {
				if ns.IsTimeline() {
					_ = ns.Signal(sig.Value)
				} else {
					_ = ns.Signal(1)
				}
			}
		}
	}
	if fence != nil {
		if nf, ok := fence.(*Fence); ok {
			nf.Signal()
		}
	}
	return nil
}

// SetPresentBehavior configures what Present returns next, so tests can
// exercise the Transient present paths (spec §4.2/§7).
func (q *Queue) SetPresentBehavior(status gpu.PresentStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.presentBehavior = status
}

func (q *Queue) Present(_ gpu.PresentInfo) (gpu.PresentStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.presentBehavior, nil
}

func (q *Queue) WaitIdle() error { return nil }

var _ gpu.Queue = (*Queue)(nil)
