package noop

import (
	"sync/atomic"

	"github.com/gogpu/rendergraph/gpu"
)

// Allocator is an in-memory stand-in for the external GPU memory allocator
// (spec §6). It hands out monotonically increasing pool keys so RTG's
// transient-allocation contract can be exercised without a real VMA-style
// allocator. It keeps no record of outstanding allocations; Free does
// nothing.
type Allocator struct {
	nextKey atomic.Uint64
}

func NewAllocator() *Allocator { return &Allocator{} }

func (a *Allocator) AllocateBuffer(req gpu.AllocationRequest) (gpu.Allocation, error) {
	return a.allocate(req, "buffer")
}

func (a *Allocator) AllocateImage(req gpu.AllocationRequest) (gpu.Allocation, error) {
	return a.allocate(req, "image")
}

func (a *Allocator) allocate(req gpu.AllocationRequest, class string) (gpu.Allocation, error) {
	key := a.nextKey.Add(1)
	return gpu.Allocation{
		Memory:        uintptr(key),
		Offset:        0,
		Size:          req.SizeBytes,
		PoolKey:       key,
		Dedicated:     req.DedicatedHint,
		ResourceClass: class,
		LifetimeClass: req.LifetimeClass,
	}, nil
}

func (a *Allocator) Free(gpu.Allocation) error { return nil }

var _ gpu.Allocator = (*Allocator)(nil)
