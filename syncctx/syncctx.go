// Package syncctx implements the Frame Sync Context (spec §4.3): the
// abstraction over a per-device timeline semaphore (when supported) or a
// fence-ring fallback, minting SyncTickets that the render task graph and
// submission scheduler use to ask "has this work completed yet" without
// caring which backend answers the question.
//
// Grounded on original_source/.../VkSync.h (SyncContext, SyncTicket,
// FenceWaitPolicy, SubmitFrameSyncPolicy, SyncDependencyClass,
// SyncSubmitInfo, SubmitBackend) for the timeline path, and
// hal/vulkan/fence_pool.go (fencePool's active/free list, signal/wait/
// maintain) for the binary-fence fallback's reuse-and-recycle shape.
package syncctx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rendergraph/diag"
	"github.com/gogpu/rendergraph/errs"
	"github.com/gogpu/rendergraph/gpu"
	"github.com/gogpu/rendergraph/queue"
)

// SyncDependencyClass labels which kind of work a wait/signal semaphore
// entry belongs to. Submit does not read these labels: a stage mask comes
// from the explicit value, else the context default, else ALL_COMMANDS when
// AllowAllCommandsFallback is set.
type SyncDependencyClass uint8

const (
	DependencyGraphics SyncDependencyClass = iota
	DependencyCompute
	DependencyTransfer
	DependencyHost
	DependencyGeneric
)

// FenceWaitPolicy controls how PrepareFrameForSubmit and Submit treat a
// frame-in-flight slot that may still be in use by the GPU.
type FenceWaitPolicy uint8

const (
	// FenceWaitPoll performs a single non-blocking status check and fails
	// with a retryable NotReady error, leaving the slot busy, if not yet
	// signaled.
	FenceWaitPoll FenceWaitPolicy = iota
	// FenceWaitBlock blocks until the slot's prior use completes.
	FenceWaitBlock
	// FenceAssertSignaled treats an unsignaled slot as a caller contract
	// violation (ValidationFailure) rather than waiting or polling.
	FenceAssertSignaled
)

// SubmitBackend records whether Synchronization2 was enabled for the
// context. Submit picks the submission shape from the ticket mode, not from
// this value: timeline mode builds Synchronization2 submissions and
// fence-ring mode builds legacy VkSubmitInfo ones.
type SubmitBackend uint8

const (
	SubmitLegacy SubmitBackend = iota
	Submit2
)

// SyncTicket identifies one submission: a monotonically increasing value
// plus the frame-in-flight slot it was issued against.
type SyncTicket struct {
	Value      uint64
	FrameIndex uint32
}

// IsZero reports whether t is the zero ticket (nothing submitted yet).
func (t SyncTicket) IsZero() bool { return t.Value == 0 }

// SubmitFrameSyncPolicy governs how Submit waits for the target frame slot
// to become available before reusing it.
type SubmitFrameSyncPolicy struct {
	FenceWaitPolicy FenceWaitPolicy
	WaitTimeout     time.Duration
}

// unboundedWait stands in for the original's UINT64_MAX timeout; gpu.Fence
// and gpu.Semaphore take a time.Duration, so an effectively-unbounded wait
// is expressed as a very large, finite duration rather than a sentinel.
const unboundedWait = 365 * 24 * time.Hour

// DefaultSubmitFrameSyncPolicy blocks with no effective timeout, matching
// the original's SubmitFrameSyncPolicy{} default (FenceWaitPolicy::Wait,
// UINT64_MAX).
func DefaultSubmitFrameSyncPolicy() SubmitFrameSyncPolicy {
	return SubmitFrameSyncPolicy{FenceWaitPolicy: FenceWaitBlock, WaitTimeout: unboundedWait}
}

// SyncSubmitInfo describes one submission's wait/signal graph, independent
// of whether the backing context is in timeline or fence-ring mode.
type SyncSubmitInfo struct {
	WaitTickets              []SyncTicket
	ExternalWaitSemaphores   []gpu.Semaphore
	ExternalWaitStages       []uint64
	ExternalWaitDependencies []SyncDependencyClass
	CommandBuffers           []gpu.CommandBuffer
	ExternalSignalSemaphores []gpu.Semaphore
	DebugLabel               string

	TimelineWaitStageMask   uint64
	TimelineSignalStageMask uint64
	ExternalSignalStageMask uint64

	TimelineWaitDependency   SyncDependencyClass
	TimelineSignalDependency SyncDependencyClass
	ExternalSignalDependency SyncDependencyClass

	// AllowAllCommandsFallback permits Submit to widen an unset stage mask
	// to ALL_COMMANDS instead of failing ValidationFailure (spec §4.3's
	// "three independent stage-mask policies").
	AllowAllCommandsFallback bool
}

// frameSlot is the fence-ring fallback's per-frame-in-flight bookkeeping,
// one binary fence reused across frames (grounded on fencePool.fenceEntry,
// collapsed from fencePool's dynamic free list to one fence per slot since
// Context already has a fixed number of frame-in-flight slots).
type frameSlot struct {
	fence gpu.Fence
}

// Context is the Frame Sync Context: it owns either a timeline semaphore
// or a ring of binary fences and turns both into the same SyncTicket
// vocabulary for callers.
type Context struct {
	device gpu.Device

	framesInFlight uint32
	timelineMode   bool
	submitBackend  SubmitBackend

	mu sync.Mutex

	timeline          gpu.Semaphore
	nextTicketValue   atomic.Uint64
	timelineFrameVals []atomic.Uint64

	frameSlots           []frameSlot
	frameSubmittedValues []atomic.Uint64
	frameCompletedValues []atomic.Uint64

	defaultTimelineWaitStage   atomic.Uint64
	defaultTimelineSignalStage atomic.Uint64
	defaultExternalSignalStage atomic.Uint64
}

// NewContext constructs a Frame Sync Context against device, choosing the
// timeline or fence-ring backend per the resolved config.
func NewContext(device gpu.Device, opts ...Option) (*Context, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.framesInFlight == 0 {
		return nil, errs.New(errs.ValidationFailure, "syncctx", "NewContext", "framesInFlight must be > 0")
	}

	c := &Context{
		device:         device,
		framesInFlight: cfg.framesInFlight,
		timelineMode:   cfg.timelineSupported && device.Features().TimelineSemaphore,
	}
	c.nextTicketValue.Store(1)
	if cfg.synchronization2Enabled {
		c.submitBackend = Submit2
	} else {
		c.submitBackend = SubmitLegacy
	}
	c.defaultTimelineWaitStage.Store(cfg.defaultTimelineWaitStage)
	c.defaultTimelineSignalStage.Store(cfg.defaultTimelineSignalStage)
	c.defaultExternalSignalStage.Store(cfg.defaultExternalSignalStage)

	if c.timelineMode {
		sem, err := device.CreateTimelineSemaphore(0)
		if err != nil {
			return nil, errs.Wrap(errs.ResourceExhaustion, "syncctx", "NewContext", err)
		}
		c.timeline = sem
		c.timelineFrameVals = make([]atomic.Uint64, cfg.framesInFlight)
	} else {
		c.frameSlots = make([]frameSlot, cfg.framesInFlight)
		for i := range c.frameSlots {
			fence, err := device.CreateFence(true)
			if err != nil {
				return nil, errs.Wrap(errs.ResourceExhaustion, "syncctx", "NewContext", err)
			}
			c.frameSlots[i] = frameSlot{fence: fence}
		}
	}
	c.frameSubmittedValues = make([]atomic.Uint64, cfg.framesInFlight)
	c.frameCompletedValues = make([]atomic.Uint64, cfg.framesInFlight)

	diag.Logger().Info("sync context created", "timeline_mode", c.timelineMode, "frames_in_flight", cfg.framesInFlight)
	return c, nil
}

func (c *Context) TimelineMode() bool          { return c.timelineMode }
func (c *Context) SubmitBackend() SubmitBackend { return c.submitBackend }
func (c *Context) FramesInFlight() uint32       { return c.framesInFlight }

func (c *Context) checkFrame(frameIndex uint32, op string) error {
	if frameIndex >= c.framesInFlight {
		return errs.Newf(errs.ValidationFailure, "syncctx", op, "frame index %d out of range [0,%d)", frameIndex, c.framesInFlight)
	}
	return nil
}

// SetStagePolicy updates the default stage masks applied when a
// SyncSubmitInfo leaves one unset.
func (c *Context) SetStagePolicy(timelineWaitStage, timelineSignalStage, externalSignalStage uint64) {
	c.defaultTimelineWaitStage.Store(timelineWaitStage)
	c.defaultTimelineSignalStage.Store(timelineSignalStage)
	c.defaultExternalSignalStage.Store(externalSignalStage)
}

func (c *Context) resolveStage(explicit uint64, fallback *atomic.Uint64, allowAllCommands bool) (uint64, error) {
	if explicit != 0 {
		return explicit, nil
	}
	if v := fallback.Load(); v != 0 {
		return v, nil
	}
	if allowAllCommands {
		const allCommands2 = 0x00010000_00000000 // VK_PIPELINE_STAGE_2_ALL_COMMANDS_BIT
		return allCommands2, nil
	}
	return 0, errs.New(errs.ValidationFailure, "syncctx", "resolveStage", "zero stage mask with no fallback and AllowAllCommandsFallback disabled")
}

// Submit issues one submission against queue for frameIndex and returns the
// SyncTicket callers should hold to later ask "is this done yet".
func (c *Context) Submit(q *queue.Queue, frameIndex uint32, info SyncSubmitInfo, explicitFence gpu.Fence, policy SubmitFrameSyncPolicy) (SyncTicket, error) {
	if err := c.checkFrame(frameIndex, "Submit"); err != nil {
		return SyncTicket{}, err
	}
	if c.timelineMode {
		return c.submitTimeline(q, frameIndex, info, explicitFence)
	}
	return c.submitFenceRing(q, frameIndex, info, explicitFence, policy)
}

func (c *Context) submitTimeline(q *queue.Queue, frameIndex uint32, info SyncSubmitInfo, explicitFence gpu.Fence) (SyncTicket, error) {
	waitStage, err := c.resolveStage(info.TimelineWaitStageMask, &c.defaultTimelineWaitStage, info.AllowAllCommandsFallback)
	if err != nil {
		return SyncTicket{}, err
	}
	signalStage, err := c.resolveStage(info.TimelineSignalStageMask, &c.defaultTimelineSignalStage, info.AllowAllCommandsFallback)
	if err != nil {
		return SyncTicket{}, err
	}

	value := c.nextTicketValue.Add(1) - 1

	waits := make([]gpu.SemaphoreSubmitInfo, 0, len(info.WaitTickets)+len(info.ExternalWaitSemaphores))
	for _, t := range info.WaitTickets {
		waits = append(waits, gpu.SemaphoreSubmitInfo{Semaphore: c.timeline, Value: t.Value, StageMask: waitStage})
	}
	for i, sem := range info.ExternalWaitSemaphores {
		stage := waitStage
		if i < len(info.ExternalWaitStages) && info.ExternalWaitStages[i] != 0 {
			stage = info.ExternalWaitStages[i]
		}
		waits = append(waits, gpu.SemaphoreSubmitInfo{Semaphore: sem, StageMask: stage})
	}

	signals := []gpu.SemaphoreSubmitInfo{{Semaphore: c.timeline, Value: value, StageMask: signalStage}}
	externalSignalStage, err := c.resolveStage(info.ExternalSignalStageMask, &c.defaultExternalSignalStage, info.AllowAllCommandsFallback)
	if err != nil {
		return SyncTicket{}, err
	}
	for _, sem := range info.ExternalSignalSemaphores {
		signals = append(signals, gpu.SemaphoreSubmitInfo{Semaphore: sem, StageMask: externalSignalStage})
	}

	submitInfo := gpu.SubmitInfo2{
		Wait:           waits,
		CommandBuffers: info.CommandBuffers,
		Signal:         signals,
		DebugLabel:     info.DebugLabel,
	}
	if err := q.Submit2([]gpu.SubmitInfo2{submitInfo}, explicitFence); err != nil {
		return SyncTicket{}, err
	}

	c.timelineFrameVals[frameIndex].Store(value)
	c.frameSubmittedValues[frameIndex].Store(value)
	return SyncTicket{Value: value, FrameIndex: frameIndex}, nil
}

func (c *Context) submitFenceRing(q *queue.Queue, frameIndex uint32, info SyncSubmitInfo, explicitFence gpu.Fence, policy SubmitFrameSyncPolicy) (SyncTicket, error) {
	fence := explicitFence
	if fence == nil {
		if err := c.prepareFrameFallback(frameIndex, policy); err != nil {
			return SyncTicket{}, err
		}
		fence = c.frameSlots[frameIndex].fence
	}
	value := c.nextTicketValue.Add(1) - 1

	waitStages := make([]uint32, len(info.ExternalWaitSemaphores))
	for i := range waitStages {
		if i < len(info.ExternalWaitStages) {
			stage := info.ExternalWaitStages[i]
			if stage>>32 != 0 {
				stage = 0x00010000 // VK_PIPELINE_STAGE_ALL_COMMANDS_BIT
			}
			waitStages[i] = uint32(stage)
		}
	}
	submitInfo := gpu.SubmitInfo{
		Wait:             info.ExternalWaitSemaphores,
		WaitStagesLegacy: waitStages,
		CommandBuffers:   info.CommandBuffers,
		Signal:           info.ExternalSignalSemaphores,
		DebugLabel:       info.DebugLabel,
	}
	if err := q.Submit([]gpu.SubmitInfo{submitInfo}, fence); err != nil {
		return SyncTicket{}, err
	}

	c.frameSubmittedValues[frameIndex].Store(value)
	return SyncTicket{Value: value, FrameIndex: frameIndex}, nil
}

// WaitTicket blocks (bounded by timeout, negative meaning unbounded) until
// ticket's submission has completed.
func (c *Context) WaitTicket(ticket SyncTicket, timeout time.Duration) (bool, error) {
	if timeout < 0 {
		timeout = unboundedWait
	}
	if c.timelineMode {
		return c.timeline.Wait(ticket.Value, timeout)
	}
	if err := c.checkFrame(ticket.FrameIndex, "WaitTicket"); err != nil {
		return false, err
	}
	ok, err := c.frameSlots[ticket.FrameIndex].fence.Wait(timeout)
	if err != nil {
		return false, errs.Wrap(errs.DeviceLost, "syncctx", "WaitTicket", err)
	}
	if ok {
		c.frameCompletedValues[ticket.FrameIndex].Store(c.frameSubmittedValues[ticket.FrameIndex].Load())
	}
	return ok, nil
}

// WaitFrame blocks until frameIndex's most recent submission completes.
func (c *Context) WaitFrame(frameIndex uint32, timeout time.Duration) (bool, error) {
	if err := c.checkFrame(frameIndex, "WaitFrame"); err != nil {
		return false, err
	}
	ticket := SyncTicket{Value: c.frameSubmittedValues[frameIndex].Load(), FrameIndex: frameIndex}
	if ticket.Value == 0 {
		return true, nil
	}
	return c.WaitTicket(ticket, timeout)
}

// IsTicketComplete performs a non-blocking check of whether ticket's
// submission has completed.
func (c *Context) IsTicketComplete(ticket SyncTicket) (bool, error) {
	if c.timelineMode {
		v, err := c.timeline.Value()
		if err != nil {
			return false, err
		}
		return v >= ticket.Value, nil
	}
	if err := c.checkFrame(ticket.FrameIndex, "IsTicketComplete"); err != nil {
		return false, err
	}
	if _, err := c.PollFenceComplete(ticket.FrameIndex); err != nil {
		return false, err
	}
	return c.frameCompletedValues[ticket.FrameIndex].Load() >= ticket.Value, nil
}

// IsFrameComplete reports whether frameIndex's most recent submission has
// completed.
func (c *Context) IsFrameComplete(frameIndex uint32) (bool, error) {
	if err := c.checkFrame(frameIndex, "IsFrameComplete"); err != nil {
		return false, err
	}
	ticket := SyncTicket{Value: c.frameSubmittedValues[frameIndex].Load(), FrameIndex: frameIndex}
	if ticket.Value == 0 {
		return true, nil
	}
	return c.IsTicketComplete(ticket)
}

// PollFenceComplete performs a single non-blocking status check of
// frameIndex's fence (fence-ring mode only; timeline mode delegates to
// IsFrameComplete). Grounded on fencePool.maintain's non-blocking status
// poll.
func (c *Context) PollFenceComplete(frameIndex uint32) (bool, error) {
	if err := c.checkFrame(frameIndex, "PollFenceComplete"); err != nil {
		return false, err
	}
	if c.timelineMode {
		return c.IsFrameComplete(frameIndex)
	}
	signaled, err := c.frameSlots[frameIndex].fence.Status()
	if err != nil {
		return false, errs.Wrap(errs.DeviceLost, "syncctx", "PollFenceComplete", err)
	}
	if signaled {
		c.frameCompletedValues[frameIndex].Store(c.frameSubmittedValues[frameIndex].Load())
	}
	return signaled, nil
}

// WaitFence blocks until frameIndex's fence signals (fence-ring mode) or
// delegates to WaitFrame in timeline mode.
func (c *Context) WaitFence(frameIndex uint32, timeout time.Duration) (bool, error) {
	if c.timelineMode {
		return c.WaitFrame(frameIndex, timeout)
	}
	if err := c.checkFrame(frameIndex, "WaitFence"); err != nil {
		return false, err
	}
	ok, err := c.frameSlots[frameIndex].fence.Wait(timeout)
	if err != nil {
		return false, errs.Wrap(errs.DeviceLost, "syncctx", "WaitFence", err)
	}
	if ok {
		c.frameCompletedValues[frameIndex].Store(c.frameSubmittedValues[frameIndex].Load())
	}
	return ok, nil
}

func (c *Context) prepareFrameFallback(frameIndex uint32, policy SubmitFrameSyncPolicy) error {
	signaled, err := c.frameSlots[frameIndex].fence.Status()
	if err != nil {
		return errs.Wrap(errs.DeviceLost, "syncctx", "prepareFrameFallback", err)
	}
	if signaled {
		return c.frameSlots[frameIndex].fence.Reset()
	}

	switch policy.FenceWaitPolicy {
	case FenceWaitPoll:
		return errs.Newf(errs.NotReady, "syncctx", "prepareFrameFallback", "frame %d slot not yet signaled", frameIndex)
	case FenceAssertSignaled:
		return errs.Newf(errs.ValidationFailure, "syncctx", "prepareFrameFallback", "frame %d slot not signaled under AssertSignaled policy", frameIndex)
	default: // FenceWaitBlock
		ok, err := c.frameSlots[frameIndex].fence.Wait(policy.WaitTimeout)
		if err != nil {
			return errs.Wrap(errs.DeviceLost, "syncctx", "prepareFrameFallback", err)
		}
		if !ok {
			return errs.New(errs.Timeout, "syncctx", "prepareFrameFallback", "timed out waiting for frame slot to become available")
		}
		return c.frameSlots[frameIndex].fence.Reset()
	}
}

// PrepareFrameForSubmit ensures frameIndex's slot is ready to accept a new
// submission per policy, without itself submitting anything. Callers that
// want to recycle a frame slot ahead of building their submit info call
// this explicitly; Submit also calls it in fence-ring mode.
func (c *Context) PrepareFrameForSubmit(frameIndex uint32, policy SubmitFrameSyncPolicy) error {
	if err := c.checkFrame(frameIndex, "PrepareFrameForSubmit"); err != nil {
		return err
	}
	if c.timelineMode {
		ticket := SyncTicket{Value: c.timelineFrameVals[frameIndex].Load(), FrameIndex: frameIndex}
		if ticket.Value == 0 {
			return nil
		}
		switch policy.FenceWaitPolicy {
		case FenceWaitPoll:
			done, err := c.IsTicketComplete(ticket)
			if err != nil {
				return err
			}
			if !done {
				return errs.Newf(errs.NotReady, "syncctx", "PrepareFrameForSubmit", "frame %d not yet signaled", frameIndex)
			}
			return nil
		case FenceAssertSignaled:
			done, err := c.IsTicketComplete(ticket)
			if err != nil {
				return err
			}
			if !done {
				return errs.Newf(errs.ValidationFailure, "syncctx", "PrepareFrameForSubmit", "frame %d not signaled under AssertSignaled policy", frameIndex)
			}
			return nil
		default:
			ok, err := c.WaitTicket(ticket, policy.WaitTimeout)
			if err != nil {
				return err
			}
			if !ok {
				return errs.New(errs.Timeout, "syncctx", "PrepareFrameForSubmit", "timed out waiting for frame slot to become available")
			}
			return nil
		}
	}
	return c.prepareFrameFallback(frameIndex, policy)
}

// ResetFrame clears frameIndex's bookkeeping back to "nothing submitted",
// used when a device or swapchain is rebuilt and prior tickets are no
// longer meaningful.
func (c *Context) ResetFrame(frameIndex uint32) error {
	if err := c.checkFrame(frameIndex, "ResetFrame"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameSubmittedValues[frameIndex].Store(0)
	c.frameCompletedValues[frameIndex].Store(0)
	if c.timelineMode {
		c.timelineFrameVals[frameIndex].Store(0)
		return nil
	}
	return c.frameSlots[frameIndex].fence.Reset()
}
