// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package gpu defines the external GPU-layer surface this module consumes
// (spec §6): queues, command buffers, binary/timeline semaphores, fences,
// and a memory allocator. Device/instance bootstrap, swapchain construction,
// and resource wrapper types (buffers, images, pipelines) that merely
// RAII-own a single GPU handle are out of scope (spec §1) — this package
// only shapes the collaborator surface the render task graph runtime calls
// into, modeled on the teacher's hal.Device/hal.Queue interface style but
// trimmed to exactly what spec §6 lists.
package gpu

import "time"

// QueueFamilyProfile describes which queue families a device exposes and
// whether transfer/compute have dedicated families distinct from graphics
// (spec §6).
type QueueFamilyProfile struct {
	GraphicsFamily    uint32
	PresentFamily     uint32
	TransferFamily    uint32
	ComputeFamily     uint32
	TransferDedicated bool
	ComputeDedicated  bool

	// HasComputeFamily reports whether ComputeFamily is meaningful; a device
	// with no compute queue at all (ComputeDedicated false and
	// HasComputeFamily false) forces SchedulerPolicy fallback handling.
	HasComputeFamily bool
}

// FeatureFlags describes optional device capabilities this module branches
// on (spec §6).
type FeatureFlags struct {
	Synchronization2     bool
	TimelineSemaphore    bool
	BufferDeviceAddress  bool
	DynamicRendering     bool
	DescriptorIndexing   bool
}

// Device is the logical GPU device collaborator. Device/instance bootstrap
// itself (adapter enumeration, surface creation) is out of scope; a Device
// is assumed already open.
type Device interface {
	QueueFamilies() QueueFamilyProfile
	Features() FeatureFlags

	CreateCommandPool(queueFamily uint32) (CommandPool, error)
	ResetCommandPool(pool CommandPool) error
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffer(pool CommandPool, secondary bool) (CommandBuffer, error)

	CreateTimelineSemaphore(initialValue uint64) (Semaphore, error)
	CreateBinarySemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)

	CreateFence(signaled bool) (Fence, error)
	ResetFences(fences []Fence) error
	WaitFences(fences []Fence, waitAll bool, timeout time.Duration) (bool, error)
	FenceStatus(f Fence) (bool, error)
	DestroyFence(f Fence)

	// Lost reports whether the device has entered the VK_ERROR_DEVICE_LOST
	// state; once true every further operation must fail with an error of
	// kind errs.DeviceLost.
	Lost() bool
}

// Queue is the raw per-queue submission surface (spec §6: "submit(infos,
// fence) and submit2(infos, fence)"). Queue is not assumed thread-safe on
// its own — package queue provides the mutex-protected wrapper spec §2
// requires ("serializes concurrent submits to the same queue").
type Queue interface {
	Family() uint32
	Submit(infos []SubmitInfo, fence Fence) error
	Submit2(infos []SubmitInfo2, fence Fence) error
	Present(req PresentInfo) (PresentStatus, error)
	WaitIdle() error
}

// SubmitInfo is the legacy (pre-Synchronization2) submission shape: 32-bit
// wait-stage masks, one wait/signal semaphore list per submission.
type SubmitInfo struct {
	Wait            []Semaphore
	WaitStagesLegacy []uint32 // sanitized 32-bit VkPipelineStageFlags
	CommandBuffers  []CommandBuffer
	Signal          []Semaphore
	DebugLabel      string
}

// SemaphoreSubmitInfo is one wait or signal entry of a SubmitInfo2, the
// Synchronization2 submission shape: a 64-bit VkPipelineStageFlags2 per
// entry, with an optional timeline value for timeline semaphores.
type SemaphoreSubmitInfo struct {
	Semaphore Semaphore
	Value     uint64 // meaningful only for timeline semaphores
	StageMask uint64 // VkPipelineStageFlags2
}

type SubmitInfo2 struct {
	Wait           []SemaphoreSubmitInfo
	CommandBuffers []CommandBuffer
	Signal         []SemaphoreSubmitInfo
	DebugLabel     string
}

// PresentInfo requests presentation of a swapchain image.
type PresentInfo struct {
	Swapchain  uintptr // opaque swapchain handle, out of scope to type further
	ImageIndex uint32
	Wait       []Semaphore
}

// PresentStatus reports the Vulkan-flavored present outcome; SUBOPTIMAL and
// OUT_OF_DATE are Transient conditions per spec §7, not hard errors.
type PresentStatus uint8

const (
	PresentOK PresentStatus = iota
	PresentSuboptimal
	PresentOutOfDate
)

// Allocator is the external memory-allocator collaborator (spec §6).
type Allocator interface {
	AllocateBuffer(req AllocationRequest) (Allocation, error)
	AllocateImage(req AllocationRequest) (Allocation, error)
	Free(a Allocation) error
}

// LifetimeClass hints the allocator about expected resource lifetime, used
// by RenderTaskGraph for transient allocations (spec §3 "transient").
type LifetimeClass uint8

const (
	LifetimePersistent LifetimeClass = iota
	LifetimeTransientFrame
)

// AllocationRequest carries the allocator contract spec §6 names:
// "(requirements, property_flags, allocate_flags, dedicated_hint,
// lifetime_class)".
type AllocationRequest struct {
	SizeBytes      uint64
	AlignmentBytes uint64
	PropertyFlags  uint32
	AllocateFlags  uint32
	DedicatedHint  bool
	LifetimeClass  LifetimeClass
}

// Allocation carries the allocator contract's output shape: "{memory,
// offset, size, pool_key, dedicated, resource_class, lifetime_class}".
type Allocation struct {
	Memory        uintptr
	Offset        uint64
	Size          uint64
	PoolKey       uint64
	Dedicated     bool
	ResourceClass string
	LifetimeClass LifetimeClass
}

// Resource is the base interface for opaque GPU-layer handles.
type Resource interface {
	Destroy()
}

// CommandPool, CommandBuffer, Semaphore, and Fence are opaque marker
// interfaces; this module never inspects their internals, matching the
// teacher's hal.Resource marker-interface style.
type CommandPool interface {
	Resource
}

type CommandBuffer interface {
	Resource
	Begin(oneTimeSubmit bool) error
	End() error
	Reset() error
}

type Semaphore interface {
	Resource
	IsTimeline() bool
	Value() (uint64, error) // meaningful only when IsTimeline
	Signal(value uint64) error
	Wait(value uint64, timeout time.Duration) (bool, error)
}

type Fence interface {
	Resource
	Status() (bool, error)
	Wait(timeout time.Duration) (bool, error)
	Reset() error
}
