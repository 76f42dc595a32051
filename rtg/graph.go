package rtg

import (
	"context"

	"github.com/gogpu/rendergraph/errs"
	"github.com/gogpu/rendergraph/internal/ids"
	"github.com/gogpu/rendergraph/internal/workerpool"
	"github.com/gogpu/rendergraph/scheduler"
)

// Graph is a single frame's render task graph: a set of resources, a set of
// passes that read/write them, and (per Execute) the scheduler job each
// compiled pass turns into. A Graph is reused frame over frame; Clear
// resets it between frames without reallocating its backing storage.
//
// Grounded on original_source/.../RenderGraph.h's RenderGraph class, whose
// per-frame resource/pass vectors and trivial Clear() map directly onto
// Go slices plus internal/ids.Allocator.Reset.
type Graph struct {
	resourceAlloc *ids.Allocator[ids.ResourceMarker]
	passAlloc     *ids.Allocator[ids.PassMarker]

	resources map[ResourceID]ResourceDescriptor
	order     []ResourceID // insertion order, for deterministic iteration during Compile
	passes    map[PassID]PassNode
	passOrder []PassID

	present *scheduler.PresentRequest
	pool    *workerpool.Pool
}

// New constructs an empty Graph. pool is used by Execute to record passes
// at the same schedule level in parallel; a nil pool makes Execute record
// every pass sequentially on the calling goroutine.
func New(pool *workerpool.Pool) *Graph {
	return &Graph{
		resourceAlloc: ids.NewAllocator[ids.ResourceMarker](),
		passAlloc:     ids.NewAllocator[ids.PassMarker](),
		resources:     make(map[ResourceID]ResourceDescriptor),
		passes:        make(map[PassID]PassNode),
		pool:          pool,
	}
}

// Clear resets the graph to empty, ready for the next frame's declarations.
// Resource and pass ids allocated before a Clear must never be reused
// afterward: the allocators restart at index 0 with epoch 1, so a stale id
// can equal one handed out after reset.
func (g *Graph) Clear() {
	g.resourceAlloc.Reset()
	g.passAlloc.Reset()
	for k := range g.resources {
		delete(g.resources, k)
	}
	for k := range g.passes {
		delete(g.passes, k)
	}
	g.order = g.order[:0]
	g.passOrder = g.passOrder[:0]
	g.present = nil
}

// CreateResource registers a non-buffer, non-image resource used purely as
// a synchronization point (spec §3's Global resource kind).
func (g *Graph) CreateResource(desc ResourceDescriptor) ResourceID {
	desc.Type = Global
	if desc.InitialQueueFamilyIndex == 0 {
		desc.InitialQueueFamilyIndex = QueueFamilyIgnored
	}
	return g.addResource(desc)
}

// CreateBufferResource registers a persistent buffer resource, backed by an
// already-allocated Vulkan buffer the caller owns.
func (g *Graph) CreateBufferResource(buffer uintptr, offset, size uint64) ResourceID {
	return g.addResource(ResourceDescriptor{
		Type:                    Buffer,
		Buffer:                  buffer,
		BufferOffset:            offset,
		BufferSize:              size,
		InitialQueueFamilyIndex: QueueFamilyIgnored,
	})
}

// CreateImageResource registers a persistent image resource, backed by an
// already-allocated Vulkan image the caller owns.
func (g *Graph) CreateImageResource(image uintptr, subresource ImageSubresourceRange, initialLayout uint32) ResourceID {
	return g.addResource(ResourceDescriptor{
		Type:                  Image,
		Image:                 image,
		ImageSubresourceRange: subresource,
		InitialImageLayout:    initialLayout,
		InitialQueueFamilyIndex: QueueFamilyIgnored,
	})
}

// CreateTransientBufferResource registers a buffer whose physical backing
// is assigned by CompileTransientPlan rather than supplied by the caller.
func (g *Graph) CreateTransientBufferResource(size, alignment uint64, aliasClass uint64) ResourceID {
	return g.addResource(ResourceDescriptor{
		Type:                     Buffer,
		Transient:                true,
		AliasClass:               aliasClass,
		TransientBufferSize:      size,
		TransientBufferAlignment: alignment,
		InitialQueueFamilyIndex:  QueueFamilyIgnored,
	})
}

// CreateTransientImageResource registers an image whose physical backing is
// assigned by CompileTransientPlan rather than supplied by the caller.
func (g *Graph) CreateTransientImageResource(extent Extent3D, format, usage, imageType, mipLevels, arrayLayers, samples uint32, aliasClass uint64) ResourceID {
	return g.addResource(ResourceDescriptor{
		Type:                      Image,
		Transient:                 true,
		AliasClass:                aliasClass,
		TransientImageExtent:      extent,
		TransientImageFormat:      format,
		TransientImageUsage:       usage,
		TransientImageType:        imageType,
		TransientImageMipLevels:   mipLevels,
		TransientImageArrayLayers: arrayLayers,
		TransientImageSamples:     samples,
		InitialImageLayout:        ImageLayoutUndefined,
		InitialQueueFamilyIndex:   QueueFamilyIgnored,
	})
}

func (g *Graph) addResource(desc ResourceDescriptor) ResourceID {
	id := g.resourceAlloc.Alloc()
	g.resources[id] = desc
	g.order = append(g.order, id)
	return id
}

// AddPass registers one unit of GPU work and returns its PassID, equal to
// its insertion index within the current frame.
func (g *Graph) AddPass(pass PassNode) PassID {
	id := g.passAlloc.Alloc()
	g.passes[id] = pass
	g.passOrder = append(g.passOrder, id)
	return id
}

// SetPresent registers the present request Execute issues after every
// compiled pass has been submitted. Calling it twice in one frame replaces
// the prior request, mirroring the underlying scheduler's single-present
// rule without failing the caller for re-declaring it.
func (g *Graph) SetPresent(req scheduler.PresentRequest) {
	r := req
	g.present = &r
}

// Compile runs dependency/barrier inference and computes the Kahn-leveled
// schedule, returning every pass in final topological order with its
// ScheduleOrder/ScheduleLevel and inferred barriers filled in. Exposed so a
// caller can inspect the compiled graph (tooling, tests) without driving a
// scheduler.
func (g *Graph) Compile() ([]CompiledPass, error) {
	compiled, deps, err := g.compile()
	if err != nil {
		return nil, err
	}
	schedule, err := buildExecutionSchedule(g.passOrder, deps)
	if err != nil {
		return nil, err
	}
	out := make([]CompiledPass, 0, len(schedule.topologicalOrder))
	for order, passID := range schedule.topologicalOrder {
		cp := compiled[passID]
		cp.ScheduleOrder = order
		cp.ScheduleLevel = schedule.levelByPass[passID]
		out = append(out, cp)
	}
	return out, nil
}

// Execute is the 8-step per-frame pipeline (spec §4.1 "Execute"): compile
// dependencies/barriers, compute the schedule, begin the scheduler's frame,
// record every pass's commands in parallel per schedule level, enqueue one
// scheduler job per pass in topological order, enqueue the cross-pass
// dependency edges, enqueue the present, and run the scheduler.
func (g *Graph) Execute(ctx context.Context, sched *scheduler.Scheduler) (scheduler.FrameExecutionResult, error) {
	compiled, deps, err := g.compile()
	if err != nil {
		return scheduler.FrameExecutionResult{}, err
	}
	schedule, err := buildExecutionSchedule(g.passOrder, deps)
	if err != nil {
		return scheduler.FrameExecutionResult{}, err
	}

	sched.BeginFrame()

	if err := g.recordLevels(ctx, schedule, compiled); err != nil {
		return scheduler.FrameExecutionResult{}, err
	}

	jobByPass := make(map[PassID]scheduler.JobID, len(compiled))
	for _, passID := range schedule.topologicalOrder {
		pass, ok := g.passes[passID]
		if !ok {
			continue
		}
		job := pass.Job
		job.QueueClass = pass.QueueClass
		id, err := sched.EnqueueJob(job)
		if err != nil {
			return scheduler.FrameExecutionResult{}, err
		}
		jobByPass[passID] = id
	}

	for _, d := range deps {
		producerJob, ok := jobByPass[d.producer]
		if !ok {
			continue
		}
		consumerJob, ok := jobByPass[d.consumer]
		if !ok {
			continue
		}
		if err := sched.EnqueueDependency(producerJob, consumerJob, nil, d.consumerWaitStage); err != nil {
			return scheduler.FrameExecutionResult{}, err
		}
	}

	if g.present != nil {
		if err := sched.EnqueuePresent(*g.present); err != nil {
			return scheduler.FrameExecutionResult{}, err
		}
	}

	return sched.ExecuteFrame()
}

// recordLevels invokes every pass's record callback, parallelizing within a
// schedule level (passes at the same level share no dependency edge by
// construction of buildExecutionSchedule) and propagating the first error
// any callback returns.
func (g *Graph) recordLevels(ctx context.Context, schedule executionSchedule, compiled map[PassID]CompiledPass) error {
	for _, level := range schedule.levels {
		if g.pool == nil {
			for _, passID := range level {
				if err := g.recordOne(passID, compiled); err != nil {
					return err
				}
			}
			continue
		}
		tasks := make([]func(workerIndex int) error, len(level))
		for i, passID := range level {
			passID := passID
			tasks[i] = func(workerIndex int) error {
				return g.recordOne(passID, compiled)
			}
		}
		if err := workerpool.RunLevel(ctx, g.pool, tasks); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) recordOne(passID PassID, compiled map[PassID]CompiledPass) error {
	pass, ok := g.passes[passID]
	if !ok || pass.Record == nil {
		return nil
	}
	c := compiled[passID]
	if err := pass.Record(c.IncomingBarriers, c.OutgoingBarriers); err != nil {
		return errs.Wrap(errs.ValidationFailure, "rtg", "recordOne", err)
	}
	return nil
}
