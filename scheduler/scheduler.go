// Package scheduler implements the Submission Scheduler (spec §4's "stateless
// between frames" job/dependency graph): callers enqueue JobRequests and
// dependency edges for one frame, then ExecuteFrame topologically orders
// them, batches consecutive same-queue jobs into single submit calls,
// materializes cross-queue dependencies as timeline waits (preferred) or
// auto-allocated binary semaphores reclaimed via a retire fence, and
// finally issues the present.
//
// Grounded on original_source/.../SubmissionScheduler.h field-for-field:
// QueueClass, JobRequest, PresentRequest, FrameExecutionResult,
// SchedulerPolicy, the Enqueued/Dependency/PendingAutoSemaphore/Prepared
// job shapes, and the private buildBatches/buildBatches2/topologicalOrder/
// queueTokenFor method surface this package's execute.go re-expresses.
package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/rendergraph/deletion"
	"github.com/gogpu/rendergraph/diag"
	"github.com/gogpu/rendergraph/errs"
	"github.com/gogpu/rendergraph/gpu"
	"github.com/gogpu/rendergraph/queue"
	"github.com/gogpu/rendergraph/syncctx"
)

// QueueClass is the three submission lanes a job can target.
type QueueClass uint8

const (
	Graphics QueueClass = iota
	Transfer
	Compute
)

func (c QueueClass) String() string {
	switch c {
	case Graphics:
		return "graphics"
	case Transfer:
		return "transfer"
	case Compute:
		return "compute"
	default:
		return "unknown"
	}
}

// JobID identifies one enqueued job within the current frame only; ids are
// not stable across ExecuteFrame/BeginFrame cycles.
type JobID uint64

// SchedulerPolicy governs how a Compute job is routed when no dedicated
// compute queue exists.
type SchedulerPolicy struct {
	AllowComputeOnGraphicsFallback bool
	RequireDedicatedComputeQueue   bool
}

const allCommands2 = 0x00010000_00000000 // VK_PIPELINE_STAGE_2_ALL_COMMANDS_BIT

// JobRequest is one unit of submitted work.
type JobRequest struct {
	QueueClass       QueueClass
	CommandBuffers   []gpu.CommandBuffer
	WaitSemaphores   []gpu.Semaphore
	WaitStages       []uint64
	SignalSemaphores []gpu.Semaphore
	Fence            gpu.Fence
	DebugLabel       string
}

// PresentRequest asks ExecuteFrame to issue a present after every job batch
// has been submitted.
type PresentRequest struct {
	Swapchain      uintptr
	ImageIndex     uint32
	WaitSemaphores []gpu.Semaphore
}

// FrameExecutionResult reports what one ExecuteFrame call did.
type FrameExecutionResult struct {
	HasPresent                   bool
	PresentStatus                gpu.PresentStatus
	SubmittedJobCount            uint32
	SubmitBatchCount              uint32
	AutoSemaphoreCount            uint32
	UsedTimelineSubmission        bool
	UsedComputeToGraphicsFallback bool
	ComputeQueueAvailable         bool
	ComputeQueueDedicated         bool
}

type enqueuedJob struct {
	id      JobID
	request JobRequest
}

type dependencyEdge struct {
	producer  JobID
	consumer  JobID
	semaphore gpu.Semaphore
	waitStage uint64
}

// pendingAutoSemaphore is a binary semaphore this scheduler allocated to
// satisfy a cross-queue dependency in fence-ring mode; it is only safe to
// destroy once retireFence (the consumer batch's submission fence) signals.
type pendingAutoSemaphore struct {
	semaphore   gpu.Semaphore
	retireFence gpu.Fence
}

// Queues supplies the mutex-protected queue wrapper for each lane the
// scheduler submits against. Compute may be nil when the device has no
// compute-capable queue at all. Package queue's mutex lives per wrapper,
// not per hardware queue, so presents serialize with graphics submissions
// only when Present is the same wrapper as Graphics.
type Queues struct {
	Graphics *queue.Queue
	Transfer *queue.Queue
	Compute  *queue.Queue
	Present  *queue.Queue
}

// Scheduler is stateless across frames except for pendingAutoSemaphores,
// which persists for opportunistic reclaim, and frameOrdinal, which picks
// each frame's sync slot.
type Scheduler struct {
	device    gpu.Device
	syncCtx   *syncctx.Context
	queues    Queues
	policy    SchedulerPolicy
	deletions *deletion.Service
	deviceKey deletion.DeviceKey

	mu                    sync.Mutex
	jobs                  []enqueuedJob
	dependencies          []dependencyEdge
	pendingAutoSemaphores []pendingAutoSemaphore
	presentRequest        *PresentRequest
	nextJobID             uint64

	frameOrdinal atomic.Uint64
}

// New constructs a Scheduler. deletions/deviceKey may be nil/zero if the
// caller does not want submitted-ticket watermarks tracked (tests commonly
// skip this).
func New(device gpu.Device, syncCtx *syncctx.Context, queues Queues, policy SchedulerPolicy, deletions *deletion.Service, deviceKey deletion.DeviceKey) *Scheduler {
	return &Scheduler{
		device:    device,
		syncCtx:   syncCtx,
		queues:    queues,
		policy:    policy,
		deletions: deletions,
		deviceKey: deviceKey,
	}
}

// BeginFrame clears the per-frame job/dependency/present state. Auto
// semaphores pending reclaim are left untouched.
func (s *Scheduler) BeginFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = s.jobs[:0]
	s.dependencies = s.dependencies[:0]
	s.presentRequest = nil
	s.nextJobID = 0
	s.frameOrdinal.Add(1)
}

func validateJobRequest(req JobRequest) error {
	if len(req.WaitStages) != 0 && len(req.WaitStages) != len(req.WaitSemaphores) {
		return errs.New(errs.ValidationFailure, "scheduler", "EnqueueJob", "waitStages length must match waitSemaphores length or be empty")
	}
	if req.QueueClass != Graphics && req.QueueClass != Transfer && req.QueueClass != Compute {
		return errs.New(errs.ValidationFailure, "scheduler", "EnqueueJob", "unknown queue class")
	}
	return nil
}

// EnqueueJob registers one job for this frame and returns the JobID later
// calls to EnqueueDependency reference.
func (s *Scheduler) EnqueueJob(req JobRequest) (JobID, error) {
	if err := validateJobRequest(req); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := JobID(s.nextJobID)
	s.nextJobID++
	s.jobs = append(s.jobs, enqueuedJob{id: id, request: req})
	return id, nil
}

// EnqueueDependency records that consumer must not begin until producer has
// completed. semaphore, if non-nil, is used directly instead of letting
// ExecuteFrame pick a timeline wait or auto-allocate a binary semaphore.
// waitStage of zero resolves to ALL_COMMANDS.
func (s *Scheduler) EnqueueDependency(producer, consumer JobID, semaphore gpu.Semaphore, waitStage uint64) error {
	if producer == consumer {
		return errs.New(errs.ValidationFailure, "scheduler", "EnqueueDependency", "a job cannot depend on itself")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.jobExistsLocked(producer) || !s.jobExistsLocked(consumer) {
		return errs.New(errs.ValidationFailure, "scheduler", "EnqueueDependency", "producer or consumer not enqueued this frame")
	}
	if waitStage == 0 {
		waitStage = allCommands2
	}
	s.dependencies = append(s.dependencies, dependencyEdge{producer: producer, consumer: consumer, semaphore: semaphore, waitStage: waitStage})
	return nil
}

func (s *Scheduler) jobExistsLocked(id JobID) bool {
	for _, j := range s.jobs {
		if j.id == id {
			return true
		}
	}
	return false
}

// EnqueuePresent registers the present request issued once every job batch
// for this frame has submitted. At most one present per frame is allowed.
func (s *Scheduler) EnqueuePresent(req PresentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presentRequest != nil {
		return errs.New(errs.ValidationFailure, "scheduler", "EnqueuePresent", "present already enqueued this frame")
	}
	s.presentRequest = &req
	return nil
}

// resolveQueue picks the wrapper servicing class, applying the compute
// fallback policy. The bool result reports whether a compute job was
// routed onto the graphics queue.
func (s *Scheduler) resolveQueue(class QueueClass) (*queue.Queue, bool, error) {
	switch class {
	case Graphics:
		return s.queues.Graphics, false, nil
	case Transfer:
		if s.queues.Transfer != nil {
			return s.queues.Transfer, false, nil
		}
		return s.queues.Graphics, false, nil
	case Compute:
		families := s.device.QueueFamilies()
		if s.queues.Compute != nil && families.HasComputeFamily {
			return s.queues.Compute, false, nil
		}
		if s.policy.RequireDedicatedComputeQueue {
			return nil, false, errs.New(errs.ValidationFailure, "scheduler", "resolveQueue", "no dedicated compute queue and RequireDedicatedComputeQueue is set")
		}
		if !s.policy.AllowComputeOnGraphicsFallback {
			return nil, false, errs.New(errs.ValidationFailure, "scheduler", "resolveQueue", "no compute queue available and fallback to graphics is disabled")
		}
		diag.Logger().Warn("routing compute job onto graphics queue", "reason", "no dedicated compute queue")
		return s.queues.Graphics, true, nil
	default:
		return nil, false, errs.New(errs.ValidationFailure, "scheduler", "resolveQueue", "unknown queue class")
	}
}

func (s *Scheduler) frameSlot() uint32 {
	if s.syncCtx.FramesInFlight() == 0 {
		return 0
	}
	return uint32(s.frameOrdinal.Load()-1) % s.syncCtx.FramesInFlight()
}
