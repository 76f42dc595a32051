package rtg

import (
	"sort"

	"github.com/gogpu/rendergraph/errs"
)

// compile walks every pass in insertion order, reconciling each resource
// usage against that resource's last writer/readers to infer the
// dependency edges and barriers needed between passes (spec §4.1
// "Dependency and barrier inference"), then fans the edges out into per-pass
// incoming/outgoing BarrierBatches.
//
// Grounded on original_source/.../RenderGraph.h's compilePass/
// buildSyncContract walk: a single forward pass over PassId order
// maintaining one ResourceState per resource, adapted here from the
// original's raw pointer bookkeeping into Go value copies guarded by the
// graph's own map.
func (g *Graph) compile() (map[PassID]CompiledPass, []edge, error) {
	states := make(map[ResourceID]*resourceState, len(g.resources))
	for _, rid := range g.order {
		states[rid] = &resourceState{descriptor: g.resources[rid]}
	}

	compiled := make(map[PassID]CompiledPass, len(g.passOrder))
	var deps []edge

	for order, passID := range g.passOrder {
		pass, ok := g.passes[passID]
		if !ok {
			continue
		}
		cp := CompiledPass{ID: passID, ScheduleOrder: order, QueueClass: pass.QueueClass}

		for _, usage := range pass.Usages {
			state, ok := states[usage.Resource]
			if !ok {
				return nil, nil, errs.Newf(errs.ValidationFailure, "rtg", "compile", "pass %d uses unregistered resource %d", passID.Index(), usage.Resource.Index())
			}
			if err := validateUsageContract(state.descriptor, usage); err != nil {
				return nil, nil, err
			}

			ref := usageRef{pass: passID, usage: usage}

			// The very first touch of a resource has no producer pass to
			// depend on; reconcile against its declared initial sync state
			// instead so a pass expecting a layout/queue-family different
			// from the resource's initial one still gets an incoming
			// barrier, with nothing to add to any pass's outgoing side.
			if !state.touched {
				initial := initialUsageFrom(state.descriptor)
				initial.ImageSubresourceRange = usage.ImageSubresourceRange
				decision := buildSyncContractDecision(state.descriptor, initial, usage)
				if decision.requiresExecutionDependency || decision.requiresMemoryBarrier || decision.requiresLayoutTransition || decision.requiresQueueOwnershipTransfer {
					cp.IncomingBarriers = mergeBarrierBatch(cp.IncomingBarriers, makeBarrierBatch(decision, state.descriptor.Type, true))
				}
				state.touched = true
			}

			// Reconcile against the last writer: every usage depends on it,
			// whether this usage reads or writes (spec §4.1: write-after-write
			// and read-after-write both order behind the prior writer).
			if state.lastWriter != nil {
				decision := buildSyncContractDecision(state.descriptor, state.lastWriter.usage, usage)
				g.applyDecision(passID, state.lastWriter.pass, decision, state.descriptor.Type, &cp, compiled, &deps)
			}

			// A write additionally depends on every outstanding reader
			// (write-after-read), since the prior readers must finish before
			// this write's barrier invalidates their view of the resource.
			if isWriteAccess(usage.Access) {
				for _, reader := range state.readers {
					if reader.pass == passID {
						continue
					}
					decision := buildSyncContractDecision(state.descriptor, reader.usage, usage)
					g.applyDecision(passID, reader.pass, decision, state.descriptor.Type, &cp, compiled, &deps)
				}
				state.lastWriter = &ref
				state.readers = state.readers[:0]
				state.descriptor = makeInitialUsage(state.descriptor, usage)
			} else {
				state.readers = append(state.readers, ref)
				state.descriptor = makeInitialUsage(state.descriptor, usage)
			}
		}

		compiled[passID] = cp
	}

	return compiled, deps, nil
}

// applyDecision records the dependency edge and barrier entries a
// reconciled usage pair produced, appending the outgoing half to the
// producer's already-compiled pass and the incoming half to cp (the
// in-progress consumer).
func (g *Graph) applyDecision(consumer, producer PassID, decision syncContractDecision, resourceType ResourceType, cp *CompiledPass, compiled map[PassID]CompiledPass, deps *[]edge) {
	if !decision.requiresExecutionDependency && !decision.requiresMemoryBarrier && !decision.requiresLayoutTransition && !decision.requiresQueueOwnershipTransfer {
		return
	}
	*deps = append(*deps, edge{producer: producer, consumer: consumer, consumerWaitStage: decision.dstStageMask})

	if producerCP, ok := compiled[producer]; ok {
		producerCP.OutgoingBarriers = mergeBarrierBatch(producerCP.OutgoingBarriers, makeBarrierBatch(decision, resourceType, false))
		compiled[producer] = producerCP
	}
	cp.IncomingBarriers = mergeBarrierBatch(cp.IncomingBarriers, makeBarrierBatch(decision, resourceType, true))
}

// validateUsageContract checks one usage against the resource it targets:
// on a Buffer resource whose descriptor states a byte range, a usage with a
// non-zero size must fall within that range. Image subresource ranges are
// not checked against the descriptor.
func validateUsageContract(desc ResourceDescriptor, usage ResourceUsage) error {
	if desc.Type == Buffer && usage.BufferSize != 0 && desc.BufferSize != 0 && desc.BufferSize != WholeBufferSize {
		if usage.BufferOffset+usage.BufferSize > desc.BufferOffset+desc.BufferSize {
			return errs.New(errs.ValidationFailure, "rtg", "validateUsageContract", "usage byte range exceeds resource bounds")
		}
	}
	return nil
}

// buildSyncContractDecision reconciles two usages of the same resource by
// the same graph (spec §4.1's "SyncContractDecision"): when either side
// writes and, for a buffer/image, their byte ranges/subresources overlap,
// an execution dependency and memory barrier are required. Read-after-read
// never produces a barrier.
func buildSyncContractDecision(desc ResourceDescriptor, prev, next ResourceUsage) syncContractDecision {
	var decision syncContractDecision

	prevWrites := isWriteAccess(prev.Access)
	nextWrites := isWriteAccess(next.Access)
	if !prevWrites && !nextWrites {
		return decision // read-after-read: no ordering needed
	}
	if desc.Type != Global && !usagesOverlap(desc, prev, next) {
		return decision // disjoint byte ranges/subresources never conflict
	}

	decision.requiresExecutionDependency = true
	decision.requiresMemoryBarrier = true
	decision.srcStageMask = prev.StageMask
	decision.srcAccessMask = prev.AccessMask
	decision.dstStageMask = next.StageMask
	decision.dstAccessMask = next.AccessMask

	switch desc.Type {
	case Image:
		decision.oldLayout = prev.ImageLayout
		decision.newLayout = next.ImageLayout
		if prev.ImageLayout != next.ImageLayout {
			decision.requiresLayoutTransition = true
		}
		decision.imageHandle = desc.Image
		decision.imageSubresourceRange = next.ImageSubresourceRange
		if decision.imageSubresourceRange == (ImageSubresourceRange{}) {
			decision.imageSubresourceRange = desc.ImageSubresourceRange
		}
	case Buffer:
		decision.bufferHandle = desc.Buffer
		decision.bufferOffset, decision.bufferSize = next.BufferOffset, next.BufferSize
		if decision.bufferSize == 0 {
			decision.bufferOffset, decision.bufferSize = desc.BufferOffset, desc.BufferSize
		}
	}

	if prev.QueueFamilyIndex != QueueFamilyIgnored && next.QueueFamilyIndex != QueueFamilyIgnored && prev.QueueFamilyIndex != next.QueueFamilyIndex {
		decision.requiresQueueOwnershipTransfer = true
		decision.srcQueueFamilyIndex = prev.QueueFamilyIndex
		decision.dstQueueFamilyIndex = next.QueueFamilyIndex
	} else {
		decision.srcQueueFamilyIndex = QueueFamilyIgnored
		decision.dstQueueFamilyIndex = QueueFamilyIgnored
	}

	return decision
}

// usagesOverlap reports whether prev and next touch overlapping bytes
// (Buffer) or subresources (Image); Global resources always "overlap"
// since they carry no range to compare.
func usagesOverlap(desc ResourceDescriptor, prev, next ResourceUsage) bool {
	switch desc.Type {
	case Buffer:
		return bufferRangesOverlap(prev, next)
	case Image:
		return imageRangesOverlap(prev.ImageSubresourceRange, next.ImageSubresourceRange)
	default:
		return true
	}
}

func bufferRangesOverlap(a, b ResourceUsage) bool {
	aSize, bSize := a.BufferSize, b.BufferSize
	if aSize == 0 {
		aSize = WholeBufferSize
	}
	if bSize == 0 {
		bSize = WholeBufferSize
	}
	aEnd := a.BufferOffset + aSize
	bEnd := b.BufferOffset + bSize
	if aSize == WholeBufferSize || aEnd < a.BufferOffset {
		aEnd = ^uint64(0)
	}
	if bSize == WholeBufferSize || bEnd < b.BufferOffset {
		bEnd = ^uint64(0)
	}
	return a.BufferOffset < bEnd && b.BufferOffset < aEnd
}

func imageRangesOverlap(a, b ImageSubresourceRange) bool {
	if a.AspectMask&b.AspectMask == 0 {
		return false
	}
	aMipEnd := a.BaseMipLevel + a.LevelCount
	bMipEnd := b.BaseMipLevel + b.LevelCount
	if a.BaseMipLevel >= bMipEnd || b.BaseMipLevel >= aMipEnd {
		return false
	}
	aLayerEnd := a.BaseArrayLayer + a.LayerCount
	bLayerEnd := b.BaseArrayLayer + b.LayerCount
	if a.BaseArrayLayer >= bLayerEnd || b.BaseArrayLayer >= aLayerEnd {
		return false
	}
	return true
}

// initialUsageFrom builds a synthetic ResourceUsage representing a
// resource's declared initial sync state, used to reconcile against the
// very first real usage of that resource.
func initialUsageFrom(desc ResourceDescriptor) ResourceUsage {
	return ResourceUsage{
		StageMask:        desc.InitialStageMask,
		AccessMask:       desc.InitialAccessMask,
		ImageLayout:      desc.InitialImageLayout,
		QueueFamilyIndex: desc.InitialQueueFamilyIndex,
		Access:           Write, // conservative: always requires a barrier, not a read-after-read skip
	}
}

// makeInitialUsage folds a usage's layout/queue-family state back into the
// resource's running descriptor so the next reconciliation compares against
// the most recent state rather than the resource's declared initial state.
func makeInitialUsage(desc ResourceDescriptor, usage ResourceUsage) ResourceDescriptor {
	if desc.Type == Image {
		desc.InitialImageLayout = usage.ImageLayout
	}
	desc.InitialQueueFamilyIndex = usage.QueueFamilyIndex
	return desc
}

// makeBarrierBatch renders one decision into the barrier entries it implies,
// routed by the resource's own ResourceType rather than by which transition
// flags happen to be set: an Image resource always produces an
// ImageMemoryBarrier (OldLayout == NewLayout when no transition occurs) and a
// Buffer resource always produces a BufferMemoryBarrier, each carrying the
// resource's target handle and sub-range (spec §3). incoming/outgoing only
// affects which half of a queue-ownership transfer the caller requested
// (srcQueueFamily -> dstQueueFamily on the release, the same fields on the
// acquire); the fields themselves are unconditional.
func makeBarrierBatch(decision syncContractDecision, resourceType ResourceType, incoming bool) BarrierBatch {
	if !decision.requiresMemoryBarrier {
		return BarrierBatch{}
	}
	base := MemoryBarrier{
		SrcStageMask:  decision.srcStageMask,
		SrcAccessMask: decision.srcAccessMask,
		DstStageMask:  decision.dstStageMask,
		DstAccessMask: decision.dstAccessMask,
	}

	switch resourceType {
	case Image:
		return BarrierBatch{ImageBarriers: []ImageMemoryBarrier{{
			MemoryBarrier:       base,
			OldLayout:           decision.oldLayout,
			NewLayout:           decision.newLayout,
			SrcQueueFamilyIndex: decision.srcQueueFamilyIndex,
			DstQueueFamilyIndex: decision.dstQueueFamilyIndex,
			Image:               decision.imageHandle,
			SubresourceRange:    decision.imageSubresourceRange,
		}}}
	case Buffer:
		return BarrierBatch{BufferBarriers: []BufferMemoryBarrier{{
			MemoryBarrier:       base,
			SrcQueueFamilyIndex: decision.srcQueueFamilyIndex,
			DstQueueFamilyIndex: decision.dstQueueFamilyIndex,
			Buffer:              decision.bufferHandle,
			Offset:              decision.bufferOffset,
			Size:                decision.bufferSize,
		}}}
	default:
		return BarrierBatch{MemoryBarriers: []MemoryBarrier{base}}
	}
}

// buildExecutionSchedule computes a Kahn-style leveled topological order
// over passes: every pass in level N depends only on passes in levels
// < N, and ties within a level's frontier break by ascending PassId so two
// compiles over the same graph always produce the same schedule (spec
// §4.1: "deterministic: identical graphs compile to identical schedules").
func buildExecutionSchedule(passOrder []PassID, deps []edge) (executionSchedule, error) {
	indegree := make(map[PassID]int, len(passOrder))
	adjacency := make(map[PassID][]PassID, len(passOrder))
	for _, p := range passOrder {
		indegree[p] = 0
	}
	for _, d := range deps {
		adjacency[d.producer] = append(adjacency[d.producer], d.consumer)
		indegree[d.consumer]++
	}

	schedule := executionSchedule{levelByPass: make(map[PassID]int, len(passOrder))}

	frontier := passIDsWithIndegreeZero(passOrder, indegree)
	level := 0
	remaining := len(passOrder)
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, k int) bool { return frontier[i].Index() < frontier[k].Index() })
		schedule.levels = append(schedule.levels, frontier)
		var next []PassID
		for _, p := range frontier {
			schedule.levelByPass[p] = level
			schedule.topologicalOrder = append(schedule.topologicalOrder, p)
			remaining--
			for _, n := range adjacency[p] {
				indegree[n]--
				if indegree[n] == 0 {
					next = append(next, n)
				}
			}
		}
		frontier = next
		level++
	}

	if remaining != 0 {
		return schedule, errs.New(errs.ValidationFailure, "rtg", "buildExecutionSchedule", "pass dependency graph contains a cycle")
	}
	return schedule, nil
}

func passIDsWithIndegreeZero(passOrder []PassID, indegree map[PassID]int) []PassID {
	var out []PassID
	for _, p := range passOrder {
		if indegree[p] == 0 {
			out = append(out, p)
		}
	}
	return out
}
