package noop

import (
	"testing"
	"time"

	"github.com/gogpu/rendergraph/gpu"
)

func TestDeviceReportsConfiguredFeatures(t *testing.T) {
	d := NewDevice(DefaultConfig())
	if !d.Features().TimelineSemaphore {
		t.Fatalf("expected default config to enable timeline semaphores")
	}
	if !d.QueueFamilies().ComputeDedicated {
		t.Fatalf("expected default config to report a dedicated compute queue")
	}
}

func TestTimelineSemaphoreAdvances(t *testing.T) {
	d := NewDevice(DefaultConfig())
	sem, err := d.CreateTimelineSemaphore(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sem.Signal(5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := sem.Value()
	if err != nil || v != 5 {
		t.Fatalf("expected value 5, got %d err=%v", v, err)
	}
	ok, err := sem.Wait(5, time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected wait to succeed immediately, ok=%v err=%v", ok, err)
	}
}

func TestQueueSubmitSignalsFence(t *testing.T) {
	d := NewDevice(DefaultConfig())
	q := NewQueue(0)
	fence, _ := d.CreateFence(false)
	pool, _ := d.CreateCommandPool(0)
	cb := NewCommandBuffer(pool.(*CommandPool))
	if err := cb.Begin(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := q.Submit([]gpu.SubmitInfo{{CommandBuffers: []gpu.CommandBuffer{cb}}}, fence); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	signaled, err := fence.Status()
	if err != nil || !signaled {
		t.Fatalf("expected fence signaled after submit, signaled=%v err=%v", signaled, err)
	}
}

func TestPresentBehaviorConfigurable(t *testing.T) {
	q := NewQueue(0)
	q.SetPresentBehavior(gpu.PresentOutOfDate)
	status, err := q.Present(gpu.PresentInfo{})
	if err != nil || status != gpu.PresentOutOfDate {
		t.Fatalf("expected configured present status, got %v err=%v", status, err)
	}
}

func TestAllocatorAssignsUniquePoolKeys(t *testing.T) {
	a := NewAllocator()
	first, err := a.AllocateBuffer(gpu.AllocationRequest{SizeBytes: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.AllocateImage(gpu.AllocationRequest{SizeBytes: 128})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.PoolKey == second.PoolKey {
		t.Fatalf("expected distinct pool keys")
	}
}
