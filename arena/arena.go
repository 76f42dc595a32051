// Package arena implements the Command Arena (spec §4.4): a per-(worker,
// frame) pool of command buffers whose acquired handles carry
// (generation, epoch) tokens that become invalid the instant the frame
// slot is reset for reuse, cheaply trapping use-after-reset bugs that a
// bare command-buffer pointer would silently corrupt.
//
// Grounded on internal/ids' epoch/generation pattern (itself grounded on
// core/id.go) for the token shape, and hal/vulkan/fence_pool.go's
// maintain/signal reuse cycle for the "confirm completion, then reset and
// hand out a fresh generation" sequencing begin_frame follows.
package arena

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/rendergraph/diag"
	"github.com/gogpu/rendergraph/errs"
	"github.com/gogpu/rendergraph/gpu"
	"github.com/gogpu/rendergraph/syncctx"
)

// FrameLifecycle tracks the GPU-completion state of one frame-in-flight
// slot independent of its command-pool contents.
type FrameLifecycle uint32

const (
	Available FrameLifecycle = iota
	InFlight
	Retired
)

// FrameToken is returned by BeginFrame and captured inside every
// BorrowedCommandBuffer acquired against that frame; a later acquire
// against a stale token is rejected by the acquire itself (StaleEpoch).
type FrameToken struct {
	FrameIndex uint32
	Epoch      uint64
}

// InvalidReason classifies why ValidateBorrowed rejected a borrowed
// command buffer.
type InvalidReason uint8

const (
	ValidReason InvalidReason = iota
	InvalidHandle
	InvalidWorkerIndex
	InvalidFrameIndex
	StaleGeneration
	StaleEpoch
)

func (r InvalidReason) String() string {
	switch r {
	case ValidReason:
		return "valid"
	case InvalidHandle:
		return "invalid_handle"
	case InvalidWorkerIndex:
		return "invalid_worker_index"
	case InvalidFrameIndex:
		return "invalid_frame_index"
	case StaleGeneration:
		return "stale_generation"
	case StaleEpoch:
		return "stale_epoch"
	default:
		return "unknown"
	}
}

// BeginFramePolicy controls how BeginFrame treats a frame slot that may
// still be InFlight.
type BeginFramePolicy struct {
	WaitPolicy syncctx.FenceWaitPolicy
	Timeout    time.Duration
}

// DefaultBeginFramePolicy blocks until the frame's last submission
// completes.
func DefaultBeginFramePolicy() BeginFramePolicy {
	return BeginFramePolicy{WaitPolicy: syncctx.FenceWaitBlock, Timeout: 365 * 24 * time.Hour}
}

// poolCell is one (worker, frame) slot: its own command pool plus
// pre-allocated primary/secondary buffers recycled across frame epochs.
type poolCell struct {
	mu               sync.Mutex
	pool             gpu.CommandPool
	primaryBuffers   []gpu.CommandBuffer
	secondaryBuffers []gpu.CommandBuffer
	nextPrimary      int
	nextSecondary    int
	generation       atomic.Uint64
}

type frameSyncState struct {
	transitionMu     sync.Mutex
	lifecycle        atomic.Uint32
	signaled         atomic.Bool
	ticketValue      atomic.Uint64
	ticketFrameIndex atomic.Uint32
	frameEpoch       atomic.Uint64
}

// Arena owns a 2-D [worker][frame] grid of command pools, one
// FrameToken-minting epoch counter per frame slot, and the FrameSyncContext
// collaborator it consults to decide whether a frame is safe to reset.
type Arena struct {
	device      gpu.Device
	syncCtx     *syncctx.Context
	queueFamily uint32

	workerCount    uint32
	framesInFlight uint32

	cells []poolCell      // flattened [worker*framesInFlight + frame]
	sync  []frameSyncState // [frame]
}

// New constructs an Arena with workerCount*framesInFlight command pools,
// one per (worker, frame) cell, all bound to queueFamily.
func New(device gpu.Device, syncCtx *syncctx.Context, workerCount, framesInFlight, queueFamily uint32) (*Arena, error) {
	if workerCount == 0 || framesInFlight == 0 {
		return nil, errs.New(errs.ValidationFailure, "arena", "New", "workerCount and framesInFlight must both be > 0")
	}
	a := &Arena{
		device:         device,
		syncCtx:        syncCtx,
		queueFamily:    queueFamily,
		workerCount:    workerCount,
		framesInFlight: framesInFlight,
		cells:          make([]poolCell, workerCount*framesInFlight),
		sync:           make([]frameSyncState, framesInFlight),
	}
	for i := range a.cells {
		pool, err := device.CreateCommandPool(queueFamily)
		if err != nil {
			return nil, errs.Wrap(errs.ResourceExhaustion, "arena", "New", err)
		}
		a.cells[i].pool = pool
	}
	diag.Logger().Info("command arena created", "workers", workerCount, "frames_in_flight", framesInFlight)
	return a, nil
}

func (a *Arena) cell(worker, frame uint32) *poolCell {
	return &a.cells[worker*a.framesInFlight+frame]
}

func (a *Arena) checkIndices(worker, frame uint32, op string) error {
	if frame >= a.framesInFlight {
		return errs.Newf(errs.ValidationFailure, "arena", op, "frame index %d out of range [0,%d)", frame, a.framesInFlight)
	}
	if worker >= a.workerCount {
		return errs.Newf(errs.ValidationFailure, "arena", op, "worker index %d out of range [0,%d)", worker, a.workerCount)
	}
	return nil
}

// MarkFrameSubmitted transitions frame to InFlight and records the ticket
// BeginFrame will later wait on before reusing the slot.
func (a *Arena) MarkFrameSubmitted(frame uint32, ticket syncctx.SyncTicket) error {
	if frame >= a.framesInFlight {
		return errs.Newf(errs.ValidationFailure, "arena", "MarkFrameSubmitted", "frame index %d out of range [0,%d)", frame, a.framesInFlight)
	}
	st := &a.sync[frame]
	st.lifecycle.Store(uint32(InFlight))
	st.signaled.Store(false)
	st.ticketValue.Store(ticket.Value)
	st.ticketFrameIndex.Store(ticket.FrameIndex)
	return nil
}

// MarkFrameComplete transitions frame back to Available, e.g. when a
// caller already knows the GPU finished via some other poll.
func (a *Arena) MarkFrameComplete(frame uint32) error {
	if frame >= a.framesInFlight {
		return errs.Newf(errs.ValidationFailure, "arena", "MarkFrameComplete", "frame index %d out of range [0,%d)", frame, a.framesInFlight)
	}
	st := &a.sync[frame]
	st.lifecycle.Store(uint32(Available))
	st.signaled.Store(true)
	return nil
}

// BeginFrame confirms frame's last submission has completed (per policy),
// resets every worker's pool for that frame slot, bumps each cell's
// generation and the frame's epoch, and returns the FrameToken subsequent
// acquires must present.
func (a *Arena) BeginFrame(frame uint32, policy BeginFramePolicy) (FrameToken, error) {
	if frame >= a.framesInFlight {
		return FrameToken{}, errs.Newf(errs.ValidationFailure, "arena", "BeginFrame", "frame index %d out of range [0,%d)", frame, a.framesInFlight)
	}
	st := &a.sync[frame]
	st.transitionMu.Lock()
	defer st.transitionMu.Unlock()

	if FrameLifecycle(st.lifecycle.Load()) == InFlight {
		ticket := syncctx.SyncTicket{Value: st.ticketValue.Load(), FrameIndex: st.ticketFrameIndex.Load()}
		if err := a.awaitTicket(ticket, policy); err != nil {
			return FrameToken{}, err
		}
	}

	for w := uint32(0); w < a.workerCount; w++ {
		cell := a.cell(w, frame)
		cell.mu.Lock()
		if err := a.device.ResetCommandPool(cell.pool); err != nil {
			cell.mu.Unlock()
			return FrameToken{}, errs.Wrap(errs.DeviceLost, "arena", "BeginFrame", err)
		}
		cell.nextPrimary = 0
		cell.nextSecondary = 0
		cell.generation.Add(1)
		cell.mu.Unlock()
	}

	epoch := st.frameEpoch.Add(1)
	st.lifecycle.Store(uint32(Retired))
	st.signaled.Store(false)

	return FrameToken{FrameIndex: frame, Epoch: epoch}, nil
}

func (a *Arena) awaitTicket(ticket syncctx.SyncTicket, policy BeginFramePolicy) error {
	if ticket.IsZero() {
		return nil
	}
	switch policy.WaitPolicy {
	case syncctx.FenceWaitPoll:
		done, err := a.syncCtx.IsTicketComplete(ticket)
		if err != nil {
			return err
		}
		if !done {
			return errs.New(errs.NotReady, "arena", "BeginFrame", "frame not yet complete")
		}
		return nil
	case syncctx.FenceAssertSignaled:
		done, err := a.syncCtx.IsTicketComplete(ticket)
		if err != nil {
			return err
		}
		if !done {
			return errs.New(errs.ValidationFailure, "arena", "BeginFrame", "frame not signaled under AssertSignaled policy")
		}
		return nil
	default:
		ok, err := a.syncCtx.WaitTicket(ticket, policy.Timeout)
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.Timeout, "arena", "BeginFrame", "timed out waiting for frame to complete")
		}
		return nil
	}
}

// ValidateBorrowed reports whether b's captured token is still current.
func (a *Arena) ValidateBorrowed(b *BorrowedCommandBuffer) (bool, InvalidReason) {
	if b == nil || b.cb == nil {
		return false, InvalidHandle
	}
	if b.workerIndex >= a.workerCount {
		return false, InvalidWorkerIndex
	}
	if b.frameIndex >= a.framesInFlight {
		return false, InvalidFrameIndex
	}
	cell := a.cell(b.workerIndex, b.frameIndex)
	if cell.generation.Load() != b.generation {
		return false, StaleGeneration
	}
	if a.sync[b.frameIndex].frameEpoch.Load() != b.epoch {
		return false, StaleEpoch
	}
	return true, ValidReason
}
