package arena

import (
	"github.com/gogpu/rendergraph/errs"
	"github.com/gogpu/rendergraph/gpu"
)

// BorrowedCommandBuffer is a command buffer acquired from an Arena cell,
// carrying the (generation, epoch) token captured at acquire time so a use
// after the owning frame slot has been reset is cheaply detected instead
// of silently recording into a buffer the GPU may already be replaying.
type BorrowedCommandBuffer struct {
	cb          gpu.CommandBuffer
	workerIndex uint32
	frameIndex  uint32
	generation  uint64
	epoch       uint64
	secondary   bool
}

// CommandBuffer exposes the underlying handle for recording.
func (b *BorrowedCommandBuffer) CommandBuffer() gpu.CommandBuffer { return b.cb }

// WorkerIndex returns the worker cell this buffer was acquired from.
func (b *BorrowedCommandBuffer) WorkerIndex() uint32 { return b.workerIndex }

// FrameIndex returns the frame slot this buffer was acquired for.
func (b *BorrowedCommandBuffer) FrameIndex() uint32 { return b.frameIndex }

// AcquirePrimary pops (or allocates) a primary command buffer from the
// (workerIndex, token.FrameIndex) cell and begins it.
func (a *Arena) AcquirePrimary(token FrameToken, workerIndex uint32, oneTimeSubmit bool) (*BorrowedCommandBuffer, error) {
	return a.acquire(token, workerIndex, oneTimeSubmit, false)
}

// AcquireSecondary pops (or allocates) a secondary command buffer and
// begins it. Inheritance-info wiring (render-pass continuation) is out of
// scope here since render passes themselves are an out-of-scope RAII
// wrapper (spec §1); the returned buffer has already begun recording with
// no inheritance info.
func (a *Arena) AcquireSecondary(token FrameToken, workerIndex uint32) (*BorrowedCommandBuffer, error) {
	return a.acquire(token, workerIndex, false, true)
}

func (a *Arena) acquire(token FrameToken, workerIndex uint32, oneTimeSubmit, secondary bool) (*BorrowedCommandBuffer, error) {
	if err := a.checkIndices(workerIndex, token.FrameIndex, "acquire"); err != nil {
		return nil, err
	}
	cell := a.cell(workerIndex, token.FrameIndex)

	cell.mu.Lock()
	generation := cell.generation.Load()
	epoch := a.sync[token.FrameIndex].frameEpoch.Load()
	if token.Epoch != epoch {
		cell.mu.Unlock()
		return nil, errs.New(errs.ValidationFailure, "arena", "acquire", StaleEpoch.String())
	}

	var cb gpu.CommandBuffer
	var err error
	if secondary {
		cb, err = popOrCreate(a.device, &cell.secondaryBuffers, &cell.nextSecondary, cell.pool, true)
	} else {
		cb, err = popOrCreate(a.device, &cell.primaryBuffers, &cell.nextPrimary, cell.pool, false)
	}
	cell.mu.Unlock()
	if err != nil {
		return nil, errs.Wrap(errs.ResourceExhaustion, "arena", "acquire", err)
	}

	if err := cb.Begin(oneTimeSubmit); err != nil {
		return nil, errs.Wrap(errs.Internal, "arena", "acquire", err)
	}

	return &BorrowedCommandBuffer{
		cb:          cb,
		workerIndex: workerIndex,
		frameIndex:  token.FrameIndex,
		generation:  generation,
		epoch:       epoch,
		secondary:   secondary,
	}, nil
}

func popOrCreate(device gpu.Device, slots *[]gpu.CommandBuffer, next *int, pool gpu.CommandPool, secondary bool) (gpu.CommandBuffer, error) {
	if *next < len(*slots) {
		cb := (*slots)[*next]
		*next++
		return cb, nil
	}
	cb, err := device.AllocateCommandBuffer(pool, secondary)
	if err != nil {
		return nil, err
	}
	*slots = append(*slots, cb)
	*next++
	return cb, nil
}

// EndBorrowed validates b against the arena's current state and ends its
// recording. Calling it on a stale buffer is an error; a second call on a
// buffer that is still valid is not detected and ends it again.
func (a *Arena) EndBorrowed(b *BorrowedCommandBuffer) error {
	valid, reason := a.ValidateBorrowed(b)
	if !valid {
		return errs.New(errs.ValidationFailure, "arena", "EndBorrowed", reason.String())
	}
	if err := b.cb.End(); err != nil {
		return errs.Wrap(errs.Internal, "arena", "EndBorrowed", err)
	}
	return nil
}

// CommandRecorder wraps a BorrowedCommandBuffer and guarantees EndBorrowed
// runs exactly once. Go has no destructor-on-drop, so callers must call
// Finish explicitly (typically via defer) instead of relying on scope exit
// the way the original's RAII wrapper did.
type CommandRecorder struct {
	arena    *Arena
	borrowed *BorrowedCommandBuffer
	finished bool
}

// NewCommandRecorder wraps b for exactly-once Finish semantics.
func NewCommandRecorder(a *Arena, b *BorrowedCommandBuffer) *CommandRecorder {
	return &CommandRecorder{arena: a, borrowed: b}
}

// CommandBuffer exposes the underlying handle for recording.
func (r *CommandRecorder) CommandBuffer() gpu.CommandBuffer { return r.borrowed.cb }

// Finish ends the borrowed buffer exactly once; subsequent calls are a
// no-op returning nil, matching RAII double-drop safety.
func (r *CommandRecorder) Finish() error {
	if r.finished {
		return nil
	}
	r.finished = true
	return r.arena.EndBorrowed(r.borrowed)
}
