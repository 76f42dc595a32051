package rtg

import (
	"context"
	"testing"

	"github.com/gogpu/rendergraph/gpu"
	"github.com/gogpu/rendergraph/gpu/noop"
	"github.com/gogpu/rendergraph/internal/workerpool"
	"github.com/gogpu/rendergraph/queue"
	"github.com/gogpu/rendergraph/scheduler"
	"github.com/gogpu/rendergraph/syncctx"
)

func newExecuteFixture(t *testing.T) (*Graph, *scheduler.Scheduler, *noop.Device) {
	t.Helper()
	device := noop.NewDevice(noop.DefaultConfig())
	sc, err := syncctx.NewContext(device,
		syncctx.WithFramesInFlight(2),
		syncctx.WithTimelineSupport(true),
		syncctx.WithSynchronization2(true),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	queues := scheduler.Queues{
		Graphics: queue.New(noop.NewQueue(0), 0, "graphics"),
		Transfer: queue.New(noop.NewQueue(1), 1, "transfer"),
		Compute:  queue.New(noop.NewQueue(2), 2, "compute"),
	}
	queues.Present = queues.Graphics
	sched := scheduler.New(device, sc, queues, scheduler.SchedulerPolicy{AllowComputeOnGraphicsFallback: true}, nil, nil)

	pool := workerpool.New(2)
	t.Cleanup(pool.Close)
	return New(pool), sched, device
}

func oneCommandBuffer(device *noop.Device) gpu.CommandBuffer {
	pool, _ := device.CreateCommandPool(0)
	cb, _ := device.AllocateCommandBuffer(pool, false)
	return cb
}

func TestGraphCompileReportsScheduleOrderAndLevel(t *testing.T) {
	g := newTestGraph()
	res := g.CreateBufferResource(1, 0, 256)
	writer := g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: res, Access: Write, BufferSize: 256}}})
	independent := g.AddPass(PassNode{})
	reader := g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: res, Access: Read, BufferSize: 256}}})

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) != 3 {
		t.Fatalf("expected 3 compiled passes, got %d", len(compiled))
	}
	levelByID := make(map[PassID]int, len(compiled))
	for _, cp := range compiled {
		levelByID[cp.ID] = cp.ScheduleLevel
	}
	if levelByID[writer] != 0 || levelByID[independent] != 0 {
		t.Fatalf("expected writer and independent pass both scheduled at level 0, got %+v", levelByID)
	}
	if levelByID[reader] != 1 {
		t.Fatalf("expected reader scheduled at level 1 (after its writer), got %d", levelByID[reader])
	}
}

func TestGraphExecuteRunsPassesInDependencyOrder(t *testing.T) {
	g, sched, device := newExecuteFixture(t)
	res := g.CreateBufferResource(1, 0, 256)

	var recorded []string
	g.AddPass(PassNode{
		Usages: []ResourceUsage{{Resource: res, Access: Write, BufferSize: 256}},
		Record: func(incoming, outgoing BarrierBatch) error {
			recorded = append(recorded, "producer")
			return nil
		},
		Job: scheduler.JobRequest{CommandBuffers: []gpu.CommandBuffer{oneCommandBuffer(device)}},
	})
	g.AddPass(PassNode{
		Usages: []ResourceUsage{{Resource: res, Access: Read, BufferSize: 256}},
		Record: func(incoming, outgoing BarrierBatch) error {
			recorded = append(recorded, "consumer")
			if incoming.Empty() {
				t.Errorf("expected consumer to receive an incoming barrier")
			}
			return nil
		},
		Job: scheduler.JobRequest{CommandBuffers: []gpu.CommandBuffer{oneCommandBuffer(device)}},
	})

	result, err := g.Execute(context.Background(), sched)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SubmittedJobCount != 2 {
		t.Fatalf("expected 2 submitted jobs, got %d", result.SubmittedJobCount)
	}
	if len(recorded) != 2 || recorded[0] != "producer" || recorded[1] != "consumer" {
		t.Fatalf("expected producer recorded before consumer, got %v", recorded)
	}
}

func TestGraphExecuteParallelizesIndependentPassesWithinALevel(t *testing.T) {
	g, sched, device := newExecuteFixture(t)

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		g.AddPass(PassNode{
			Record: func(incoming, outgoing BarrierBatch) error {
				started <- struct{}{}
				<-release
				return nil
			},
			Job: scheduler.JobRequest{CommandBuffers: []gpu.CommandBuffer{oneCommandBuffer(device)}},
		})
	}

	done := make(chan error, 1)
	go func() {
		_, err := g.Execute(context.Background(), sched)
		done <- err
	}()

	<-started
	<-started
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGraphExecutePropagatesRecordError(t *testing.T) {
	g, sched, device := newExecuteFixture(t)
	boom := errTestRecord{}
	g.AddPass(PassNode{
		Record: func(incoming, outgoing BarrierBatch) error { return boom },
		Job:    scheduler.JobRequest{CommandBuffers: []gpu.CommandBuffer{oneCommandBuffer(device)}},
	})

	if _, err := g.Execute(context.Background(), sched); err == nil {
		t.Fatalf("expected record error to propagate out of Execute")
	}
}

type errTestRecord struct{}

func (errTestRecord) Error() string { return "record failed" }

func TestGraphClearResetsResourcesAndPasses(t *testing.T) {
	g := newTestGraph()
	res := g.CreateBufferResource(1, 0, 256)
	g.AddPass(PassNode{Usages: []ResourceUsage{{Resource: res, Access: Read}}})

	g.Clear()

	if len(g.resources) != 0 || len(g.passes) != 0 {
		t.Fatalf("expected Clear to empty resources and passes")
	}
	fresh := g.CreateBufferResource(2, 0, 128)
	if fresh.Index() != 0 {
		t.Fatalf("expected the first resource id after Clear to reuse index 0, got %d", fresh.Index())
	}
}

func TestGraphExecuteWithCrossResourceDependenciesOrdersConsistently(t *testing.T) {
	// compile() walks passes strictly in insertion order, so a usage-derived
	// edge always points from an earlier pass to a later one; this case
	// exercises two resources threaded through the same two passes rather
	// than asserting on a cycle that the algorithm cannot produce.
	g, sched, device := newExecuteFixture(t)
	res1 := g.CreateBufferResource(1, 0, 256)
	res2 := g.CreateBufferResource(2, 0, 256)

	g.AddPass(PassNode{
		Usages: []ResourceUsage{{Resource: res1, Access: Read, BufferSize: 256}, {Resource: res2, Access: Write, BufferSize: 256}},
		Job:    scheduler.JobRequest{CommandBuffers: []gpu.CommandBuffer{oneCommandBuffer(device)}},
	})
	g.AddPass(PassNode{
		Usages: []ResourceUsage{{Resource: res2, Access: Read, BufferSize: 256}, {Resource: res1, Access: Write, BufferSize: 256}},
		Job:    scheduler.JobRequest{CommandBuffers: []gpu.CommandBuffer{oneCommandBuffer(device)}},
	})

	if _, err := g.Execute(context.Background(), sched); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
