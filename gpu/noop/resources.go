package noop

import (
	"sync/atomic"
	"time"

	"github.com/gogpu/rendergraph/gpu"
)

// CommandPool is an in-memory stand-in for a VkCommandPool. generation
// increments on every Reset so stale CommandBuffers acquired before a reset
// can be detected by higher layers (package arena owns that detection; this
// type only offers the counter).
type CommandPool struct {
	queueFamily uint32
	generation  atomic.Uint64
}

func (p *CommandPool) Destroy() {}

// Generation returns the current reset generation.
func (p *CommandPool) Generation() uint64 { return p.generation.Load() }

// CommandBuffer is an in-memory command buffer; recording is not actually
// captured since this module treats command content as opaque (spec §1:
// pipelines/render passes are out-of-scope RAII wrapper classes).
type CommandBuffer struct {
	pool    *CommandPool
	began   atomic.Bool
	ended   atomic.Bool
}

func NewCommandBuffer(pool *CommandPool) *CommandBuffer {
	return &CommandBuffer{pool: pool}
}

func (c *CommandBuffer) Destroy() {}

func (c *CommandBuffer) Begin(bool) error {
	c.began.Store(true)
	return nil
}

func (c *CommandBuffer) End() error {
	c.ended.Store(true)
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.began.Store(false)
	c.ended.Store(false)
	return nil
}

// Semaphore is an in-memory binary or timeline semaphore.
type Semaphore struct {
	timeline bool
	value    atomic.Uint64
}

func (s *Semaphore) Destroy()       {}
func (s *Semaphore) IsTimeline() bool { return s.timeline }

func (s *Semaphore) Value() (uint64, error) {
	return s.value.Load(), nil
}

func (s *Semaphore) Signal(value uint64) error {
	s.value.Store(value)
	return nil
}

func (s *Semaphore) Wait(value uint64, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if s.value.Load() >= value {
			return true, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return s.value.Load() >= value, nil
		}
		time.Sleep(time.Microsecond)
	}
}

// Fence is an in-memory binary fence.
type Fence struct {
	signaled atomic.Bool
}

func (f *Fence) Destroy() {}

func (f *Fence) Status() (bool, error) {
	return f.signaled.Load(), nil
}

func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if f.signaled.Load() {
			return true, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return f.signaled.Load(), nil
		}
		time.Sleep(time.Microsecond)
	}
}

func (f *Fence) Reset() error {
	f.signaled.Store(false)
	return nil
}

// Signal marks the fence signaled; used by Queue.Submit to simulate GPU
// completion synchronously (the noop backend has no async device timeline).
func (f *Fence) Signal() { f.signaled.Store(true) }

var _ gpu.CommandPool = (*CommandPool)(nil)
var _ gpu.CommandBuffer = (*CommandBuffer)(nil)
var _ gpu.Semaphore = (*Semaphore)(nil)
var _ gpu.Fence = (*Fence)(nil)
