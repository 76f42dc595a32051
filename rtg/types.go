// Package rtg implements the Render Task Graph (spec §3, §4.1): the highest
// layer a renderer author touches directly. Callers declare resources and
// passes against a Graph, then Execute compiles the dependency/barrier
// graph, records passes in parallel per schedule level, and hands the
// result to a scheduler.Scheduler as one job per pass.
//
// Grounded on original_source/.../RenderGraph.h field-for-field for every
// exported type in this file; graph.go/compile.go/transient.go carry the
// method-level grounding notes.
package rtg

import (
	"github.com/gogpu/rendergraph/internal/ids"
	"github.com/gogpu/rendergraph/scheduler"
)

// ResourceID and PassID reuse this module's dense (index, epoch) identifier
// scheme (internal/ids), allocated fresh each frame and released in bulk by
// Graph.Clear's Allocator.Reset — matching spec §3's "ResourceId: opaque
// dense integer, stable within a single graph" and §4.1's "PassId equal to
// its insertion index".
type ResourceID = ids.ResourceID
type PassID = ids.PassID

// ResourceAccessType is how one pass touches one resource.
type ResourceAccessType uint8

const (
	Read ResourceAccessType = iota
	Write
	ReadWrite
)

func isWriteAccess(access ResourceAccessType) bool {
	return access == Write || access == ReadWrite
}

// ResourceType distinguishes opaque sync-point-only resources from buffers
// and images, which carry byte-range/subresource overlap semantics.
type ResourceType uint8

const (
	Global ResourceType = iota
	Buffer
	Image
)

// Sentinel values mirroring the Vulkan constants this module's barrier
// inference reasons about, without depending on a real Vulkan binding
// (spec §1: out of scope).
const (
	ImageLayoutUndefined  uint32 = 0
	QueueFamilyIgnored    uint32 = 0xFFFFFFFF
	AllCommandsStageMask2 uint64 = 0x00010000_00000000
	WholeBufferSize       uint64 = ^uint64(0)
)

// ImageSubresourceRange mirrors VkImageSubresourceRange's fields this
// module reasons about for overlap detection.
type ImageSubresourceRange struct {
	AspectMask     uint32
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// Extent3D mirrors VkExtent3D.
type Extent3D struct {
	Width, Height, Depth uint32
}

// ResourceDescriptor records everything about a resource's declared shape
// and the sync state it starts execute() in (spec §3).
type ResourceDescriptor struct {
	Type       ResourceType
	Transient  bool
	AliasClass uint64

	Buffer                    uintptr
	BufferOffset              uint64
	BufferSize                uint64
	TransientBufferSize       uint64
	TransientBufferAlignment  uint64

	Image                      uintptr
	ImageSubresourceRange      ImageSubresourceRange
	TransientImageExtent       Extent3D
	TransientImageFormat       uint32
	TransientImageUsage        uint32
	TransientImageType         uint32
	TransientImageMipLevels    uint32
	TransientImageArrayLayers  uint32
	TransientImageSamples      uint32

	InitialImageLayout     uint32
	InitialStageMask       uint64
	InitialAccessMask      uint64
	InitialQueueFamilyIndex uint32
}

// ResourceUsage is one pass's declared touch of one resource.
type ResourceUsage struct {
	Resource              ResourceID
	Access                ResourceAccessType
	StageMask             uint64
	AccessMask            uint64
	ImageLayout           uint32
	ImageSubresourceRange ImageSubresourceRange
	BufferOffset          uint64
	BufferSize            uint64
	QueueFamilyIndex      uint32
}

// MemoryBarrier is a global execution/memory dependency with no target
// handle.
type MemoryBarrier struct {
	SrcStageMask, SrcAccessMask uint64
	DstStageMask, DstAccessMask uint64
}

// BufferMemoryBarrier additionally carries the buffer range and a possible
// queue-family ownership transfer.
type BufferMemoryBarrier struct {
	MemoryBarrier
	SrcQueueFamilyIndex, DstQueueFamilyIndex uint32
	Buffer                                   uintptr
	Offset, Size                             uint64
}

// ImageMemoryBarrier additionally carries a layout transition, the target
// image/subresource range, and a possible queue-family ownership transfer.
type ImageMemoryBarrier struct {
	MemoryBarrier
	OldLayout, NewLayout                     uint32
	SrcQueueFamilyIndex, DstQueueFamilyIndex uint32
	Image                                     uintptr
	SubresourceRange                          ImageSubresourceRange
}

// BarrierBatch is the three parallel barrier lists a pass's record callback
// receives on entry (incoming) and must emit after its body (outgoing).
type BarrierBatch struct {
	MemoryBarriers []MemoryBarrier
	BufferBarriers []BufferMemoryBarrier
	ImageBarriers  []ImageMemoryBarrier
}

// Empty reports whether b carries no barriers at all.
func (b BarrierBatch) Empty() bool {
	return len(b.MemoryBarriers) == 0 && len(b.BufferBarriers) == 0 && len(b.ImageBarriers) == 0
}

func mergeBarrierBatch(dst, src BarrierBatch) BarrierBatch {
	dst.MemoryBarriers = append(dst.MemoryBarriers, src.MemoryBarriers...)
	dst.BufferBarriers = append(dst.BufferBarriers, src.BufferBarriers...)
	dst.ImageBarriers = append(dst.ImageBarriers, src.ImageBarriers...)
	return dst
}

// RecordFunc records one pass's commands; incoming carries the barriers the
// pass must emit before its body, outgoing the barriers it must emit after.
type RecordFunc func(incoming, outgoing BarrierBatch) error

// PassNode is one unit of registered GPU work.
type PassNode struct {
	QueueClass scheduler.QueueClass
	Usages     []ResourceUsage
	Record     RecordFunc
	Job        scheduler.JobRequest
}

// CompiledPass is one pass after Compile, carrying its resolved schedule
// position and inferred barriers.
type CompiledPass struct {
	ID              PassID
	ScheduleOrder   int
	ScheduleLevel   int
	QueueClass      scheduler.QueueClass
	IncomingBarriers BarrierBatch
	OutgoingBarriers BarrierBatch
}

// TransientResourceLifetime is the schedule-order span a transient resource
// is touched within.
type TransientResourceLifetime struct {
	Resource      ResourceID
	FirstUseOrder int
	LastUseOrder  int
	Type          ResourceType
}

// TransientAliasAllocation is one physical backing shared by every
// transient resource whose lifetime was folded into it.
type TransientAliasAllocation struct {
	AliasSlot                 uint32
	Type                      ResourceType
	AliasClass                uint64
	RequiredBufferSize        uint64
	RequiredBufferAlignment   uint64
	RequiredImageExtent       Extent3D
	ImageFormat               uint32
	ImageUsage                uint32
	ImageType                 uint32
	ImageMipLevels            uint32
	ImageArrayLayers          uint32
	ImageSamples              uint32
	Resources                 []ResourceID
}

// CompiledTransientPlan is the output of transient resource planning.
type CompiledTransientPlan struct {
	Lifetimes        []TransientResourceLifetime
	AliasAllocations []TransientAliasAllocation
	AliasSlotByResource map[ResourceID]uint32
}

// edge is an inferred dependency between two passes.
type edge struct {
	producer          PassID
	consumer          PassID
	consumerWaitStage uint64
}

// usageRef names the pass a particular usage belongs to.
type usageRef struct {
	pass  PassID
	usage ResourceUsage
}

// resourceState is the compile-time bookkeeping for one resource as passes
// are walked in insertion order.
type resourceState struct {
	descriptor ResourceDescriptor
	touched    bool
	lastWriter *usageRef
	readers    []usageRef
}

// syncContractDecision is the result of reconciling two usages of the same
// resource (spec §4.1 "SyncContractDecision"). It carries the resource's
// target handle and sub-range alongside the barrier fields so makeBarrierBatch
// can stamp them onto the BufferMemoryBarrier/ImageMemoryBarrier it produces
// (spec §3: every BarrierBatch entry names its target handle + sub-range).
type syncContractDecision struct {
	requiresExecutionDependency   bool
	requiresMemoryBarrier         bool
	requiresLayoutTransition      bool
	requiresQueueOwnershipTransfer bool
	srcStageMask, srcAccessMask   uint64
	dstStageMask, dstAccessMask   uint64
	oldLayout, newLayout          uint32
	srcQueueFamilyIndex, dstQueueFamilyIndex uint32

	bufferHandle              uintptr
	bufferOffset, bufferSize  uint64
	imageHandle               uintptr
	imageSubresourceRange     ImageSubresourceRange
}

// executionSchedule is the compiled Kahn-level ordering over passes.
type executionSchedule struct {
	topologicalOrder []PassID
	levelByPass      map[PassID]int
	levels           [][]PassID
}
