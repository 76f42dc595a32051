// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package noop provides an in-memory reference implementation of gpu.Device,
// modeled on the teacher's hal/noop package: real bookkeeping (fence values
// actually advance, semaphores actually track signal state) without a
// driver dependency, so the rest of this module can be exercised without a
// real GPU.
package noop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rendergraph/gpu"
)

// Device is an in-memory stand-in for a real Vulkan-class logical device.
type Device struct {
	families gpu.QueueFamilyProfile
	features gpu.FeatureFlags
	lost     atomic.Bool

	mu    sync.Mutex
	pools map[*CommandPool]struct{}
}

// Config selects which optional features and queue-family shape the
// in-memory device reports; tests use this to exercise both timeline and
// fallback code paths.
type Config struct {
	Families gpu.QueueFamilyProfile
	Features gpu.FeatureFlags
}

// DefaultConfig reports a device with every optional feature enabled and
// dedicated transfer/compute families — the common case for timeline-mode
// tests.
func DefaultConfig() Config {
	return Config{
		Families: gpu.QueueFamilyProfile{
			GraphicsFamily:    0,
			PresentFamily:     0,
			TransferFamily:    1,
			ComputeFamily:     2,
			TransferDedicated: true,
			ComputeDedicated:  true,
			HasComputeFamily:  true,
		},
		Features: gpu.FeatureFlags{
			Synchronization2:    true,
			TimelineSemaphore:   true,
			BufferDeviceAddress: true,
			DynamicRendering:    true,
			DescriptorIndexing:  true,
		},
	}
}

// NewDevice constructs an in-memory device from cfg.
func NewDevice(cfg Config) *Device {
	return &Device{
		families: cfg.Families,
		features: cfg.Features,
		pools:    make(map[*CommandPool]struct{}),
	}
}

func (d *Device) QueueFamilies() gpu.QueueFamilyProfile { return d.families }
func (d *Device) Features() gpu.FeatureFlags            { return d.features }
func (d *Device) Lost() bool                            { return d.lost.Load() }

// SetLost sets the value Lost reports, for DeviceLost-path tests. The noop
// device and its queues keep succeeding after SetLost(true); only Lost
// changes.
func (d *Device) SetLost(lost bool) { d.lost.Store(lost) }

func (d *Device) CreateCommandPool(queueFamily uint32) (gpu.CommandPool, error) {
	p := &CommandPool{queueFamily: queueFamily}
	d.mu.Lock()
	d.pools[p] = struct{}{}
	d.mu.Unlock()
	return p, nil
}

func (d *Device) ResetCommandPool(pool gpu.CommandPool) error {
	if p, ok := pool.(*CommandPool); ok {
		p.generation.Add(1)
	}
	return nil
}

func (d *Device) DestroyCommandPool(pool gpu.CommandPool) {
	if p, ok := pool.(*CommandPool); ok {
		d.mu.Lock()
		delete(d.pools, p)
		d.mu.Unlock()
	}
}

func (d *Device) AllocateCommandBuffer(pool gpu.CommandPool, secondary bool) (gpu.CommandBuffer, error) {
	p, _ := pool.(*CommandPool)
	return NewCommandBuffer(p), nil
}

func (d *Device) CreateTimelineSemaphore(initialValue uint64) (gpu.Semaphore, error) {
	s := &Semaphore{timeline: true}
	s.value.Store(initialValue)
	return s, nil
}

func (d *Device) CreateBinarySemaphore() (gpu.Semaphore, error) {
	return &Semaphore{timeline: false}, nil
}

func (d *Device) DestroySemaphore(gpu.Semaphore) {}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	f := &Fence{}
	f.signaled.Store(signaled)
	return f, nil
}

func (d *Device) ResetFences(fences []gpu.Fence) error {
	for _, f := range fences {
		if nf, ok := f.(*Fence); ok {
			nf.signaled.Store(false)
		}
	}
	return nil
}

func (d *Device) WaitFences(fences []gpu.Fence, waitAll bool, _ time.Duration) (bool, error) {
	if len(fences) == 0 {
		return true, nil
	}
	allSignaled := true
	anySignaled := false
	for _, f := range fences {
		nf, ok := f.(*Fence)
		if !ok {
			continue
		}
		if nf.signaled.Load() {
			anySignaled = true
		} else {
			allSignaled = false
		}
	}
	if waitAll {
		return allSignaled, nil
	}
	return anySignaled, nil
}

func (d *Device) FenceStatus(f gpu.Fence) (bool, error) {
	if nf, ok := f.(*Fence); ok {
		return nf.signaled.Load(), nil
	}
	return false, nil
}

func (d *Device) DestroyFence(gpu.Fence) {}
