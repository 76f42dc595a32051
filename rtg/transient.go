package rtg

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// CompileTransientPlan computes lifetimes and a greedy alias-slot
// assignment for every transient resource declared on the graph (spec
// §4.1 "Transient resource planning"). It does not itself request memory
// from a gpu.Allocator; callers use AliasAllocations' shape fields to do
// that once, then hand the backing handle to whichever resource ids share
// that slot.
//
// Grounded on original_source/.../RenderGraph.h's planTransientResources:
// scan every pass's usages to bound each transient resource's
// [first_use_order, last_use_order], sort by first use (ties by id), then
// greedily reuse the first free-by-then slot of compatible shape.
func (g *Graph) CompileTransientPlan() CompiledTransientPlan {
	lifetimes := computeTransientLifetimes(g.passOrder, g.passes, g.resources, g.order)
	sort.Slice(lifetimes, func(i, k int) bool {
		if lifetimes[i].FirstUseOrder != lifetimes[k].FirstUseOrder {
			return lifetimes[i].FirstUseOrder < lifetimes[k].FirstUseOrder
		}
		return lifetimes[i].Resource.Index() < lifetimes[k].Resource.Index()
	})

	var slots []*TransientAliasAllocation
	slotByResource := make(map[ResourceID]uint32, len(lifetimes))

	for _, lt := range lifetimes {
		desc := g.resources[lt.Resource]
		shapeKey := transientShapeKey(desc)

		var chosen *TransientAliasAllocation
		for _, slot := range slots {
			if slot.Type != lt.Type {
				continue
			}
			if transientShapeKey(describeSlot(*slot)) != shapeKey {
				continue
			}
			if !aliasClassesCompatible(slot.AliasClass, desc.AliasClass) {
				continue
			}
			if slotLastUse(slot, lifetimes) >= lt.FirstUseOrder {
				continue
			}
			chosen = slot
			break
		}

		if chosen == nil {
			chosen = &TransientAliasAllocation{
				AliasSlot:  uint32(len(slots)),
				Type:       lt.Type,
				AliasClass: desc.AliasClass,
			}
			applyShape(chosen, desc)
			slots = append(slots, chosen)
		} else {
			growShape(chosen, desc)
		}

		chosen.Resources = append(chosen.Resources, lt.Resource)
		slotByResource[lt.Resource] = chosen.AliasSlot
	}

	out := CompiledTransientPlan{Lifetimes: lifetimes, AliasSlotByResource: slotByResource}
	for _, s := range slots {
		out.AliasAllocations = append(out.AliasAllocations, *s)
	}
	return out
}

func slotLastUse(slot *TransientAliasAllocation, lifetimes []TransientResourceLifetime) int {
	last := -1
	for _, r := range slot.Resources {
		for _, lt := range lifetimes {
			if lt.Resource == r && lt.LastUseOrder > last {
				last = lt.LastUseOrder
			}
		}
	}
	return last
}

func computeTransientLifetimes(passOrder []PassID, passes map[PassID]PassNode, resources map[ResourceID]ResourceDescriptor, order []ResourceID) []TransientResourceLifetime {
	firstUse := make(map[ResourceID]int)
	lastUse := make(map[ResourceID]int)
	for scheduleOrder, passID := range passOrder {
		pass, ok := passes[passID]
		if !ok {
			continue
		}
		for _, usage := range pass.Usages {
			if _, seen := firstUse[usage.Resource]; !seen {
				firstUse[usage.Resource] = scheduleOrder
			}
			lastUse[usage.Resource] = scheduleOrder
		}
	}

	var out []TransientResourceLifetime
	for _, rid := range order {
		desc := resources[rid]
		if !desc.Transient {
			continue
		}
		first, ok := firstUse[rid]
		if !ok {
			first, lastUse[rid] = 0, 0 // declared but never used this frame
		}
		out = append(out, TransientResourceLifetime{
			Resource:      rid,
			FirstUseOrder: first,
			LastUseOrder:  lastUse[rid],
			Type:          desc.Type,
		})
	}
	return out
}

// aliasClassesCompatible implements spec §3's "zero is a wildcard" rule for
// alias_class.
func aliasClassesCompatible(a, b uint64) bool {
	return a == 0 || b == 0 || a == b
}

// transientShapeKey hashes the shape parameters the GLOSSARY's "Compatible
// transient" definition compares: buffers are always compatible
// (constant key), images must match format/usage/type/mip/array/samples.
// The slot search compares these keys while scanning the open slots in
// order, so it is linear in the number of slots.
func transientShapeKey(desc ResourceDescriptor) uint64 {
	if desc.Type == Buffer {
		return 0
	}
	h := xxhash.New()
	var buf [4]byte
	writeUint32 := func(v uint32) {
		buf[0], buf[1], buf[2], buf[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		h.Write(buf[:])
	}
	writeUint32(desc.TransientImageFormat)
	writeUint32(desc.TransientImageUsage)
	writeUint32(desc.TransientImageType)
	writeUint32(desc.TransientImageMipLevels)
	writeUint32(desc.TransientImageArrayLayers)
	writeUint32(desc.TransientImageSamples)
	return h.Sum64()
}

// describeSlot reconstructs a ResourceDescriptor-shaped view of a slot's
// current shape so transientShapeKey can compare it against a candidate
// resource using the same logic.
func describeSlot(slot TransientAliasAllocation) ResourceDescriptor {
	return ResourceDescriptor{
		Type:                      slot.Type,
		TransientImageFormat:      slot.ImageFormat,
		TransientImageUsage:       slot.ImageUsage,
		TransientImageType:        slot.ImageType,
		TransientImageMipLevels:   slot.ImageMipLevels,
		TransientImageArrayLayers: slot.ImageArrayLayers,
		TransientImageSamples:     slot.ImageSamples,
	}
}

func applyShape(slot *TransientAliasAllocation, desc ResourceDescriptor) {
	switch desc.Type {
	case Buffer:
		slot.RequiredBufferSize = desc.TransientBufferSize
		slot.RequiredBufferAlignment = desc.TransientBufferAlignment
	case Image:
		slot.RequiredImageExtent = desc.TransientImageExtent
		slot.ImageFormat = desc.TransientImageFormat
		slot.ImageUsage = desc.TransientImageUsage
		slot.ImageType = desc.TransientImageType
		slot.ImageMipLevels = desc.TransientImageMipLevels
		slot.ImageArrayLayers = desc.TransientImageArrayLayers
		slot.ImageSamples = desc.TransientImageSamples
	}
}

// growShape widens a slot's required shape to the component-wise maximum
// across every resource it now backs (spec §4.1: "each slot carries the
// component-wise maximum shape parameters across its resources").
func growShape(slot *TransientAliasAllocation, desc ResourceDescriptor) {
	switch desc.Type {
	case Buffer:
		if desc.TransientBufferSize > slot.RequiredBufferSize {
			slot.RequiredBufferSize = desc.TransientBufferSize
		}
		if desc.TransientBufferAlignment > slot.RequiredBufferAlignment {
			slot.RequiredBufferAlignment = desc.TransientBufferAlignment
		}
	case Image:
		if desc.TransientImageExtent.Width > slot.RequiredImageExtent.Width {
			slot.RequiredImageExtent.Width = desc.TransientImageExtent.Width
		}
		if desc.TransientImageExtent.Height > slot.RequiredImageExtent.Height {
			slot.RequiredImageExtent.Height = desc.TransientImageExtent.Height
		}
		if desc.TransientImageExtent.Depth > slot.RequiredImageExtent.Depth {
			slot.RequiredImageExtent.Depth = desc.TransientImageExtent.Depth
		}
	}
}

// transientResourcesCompatible exposes the GLOSSARY's "Compatible
// transient" check for tests and any caller that wants to reason about two
// resources without running a full plan.
func transientResourcesCompatible(a, b ResourceDescriptor) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == Buffer {
		return true
	}
	return transientShapeKey(a) == transientShapeKey(b)
}
