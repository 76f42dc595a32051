package deletion

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/rendergraph/errs"
)

// QueueClass mirrors the five submission classes the original deletion
// service tracks per-device watermarks for (DeferredDeletionService.h).
// It is intentionally a superset of the three classes rtg/scheduler route
// passes through, since present and a generic bucket also retire handles.
type QueueClass uint8

const (
	QueueClassGraphics QueueClass = iota
	QueueClassPresent
	QueueClassTransfer
	QueueClassCompute
	QueueClassGeneric
	numQueueClasses
)

// SubmissionTicket is the (value, queue-class, queue-family) triple the
// submission scheduler reports back to the deletion service after each
// submit, advancing the per-device "what has definitely completed" state.
type SubmissionTicket struct {
	Value            uint64
	QueueClass       QueueClass
	QueueFamilyIndex uint32
}

func (t SubmissionTicket) valid() bool { return t.Value > 0 }

// DeviceKey identifies a registered device. Any comparable value works: a
// pointer to the caller's device handle, a numeric device id, or a string
// name. The service never dereferences it.
type DeviceKey any

// lifecycle tracks a device's registration state so a stale DeferredHandle
// created before a device was unregistered and re-registered under the same
// key destroys its resource immediately instead of silently leaking into
// the new generation's queue.
type lifecycle uint8

const (
	lifecycleDead lifecycle = iota
	lifecycleRegistered
	lifecycleUnregistering
)

type deviceState struct {
	mu         sync.Mutex
	queue      *Queue
	generation uint64
	state      lifecycle

	submittedValue  uint64
	submittedClass  [numQueueClasses]uint64
	submittedFamily map[uint32]uint64

	adapters map[adapterKey]any
}

// Service is the process-wide deferred-deletion registry: one DeletionQueue
// per live device, addressable by an opaque DeviceKey, with device
// generations so handles minted against a prior registration never get
// silently applied to its successor.
//
// Grounded on DeferredDeletionService.h's devices_ map / nextGeneration_
// atomic, re-expressed with core/global.go's GetGlobal()-style package
// singleton instead of a Meyers singleton.
type Service struct {
	mu            sync.Mutex
	devices       map[DeviceKey]*deviceState
	nextGeneration atomic.Uint64
}

var globalService = NewService()

// Global returns the process-wide deletion service singleton, mirroring
// core/global.go's GetGlobal().
func Global() *Service { return globalService }

// NewService constructs an independent registry; most callers use Global().
func NewService() *Service {
	return &Service{devices: make(map[DeviceKey]*deviceState)}
}

// RegisterDevice installs a fresh DeletionQueue for key and returns the
// generation token minted for this registration. Re-registering an
// already-live key replaces its DeletionQueue (draining nothing — callers
// are expected to Flush before re-registering a device they intend to
// reuse).
func (s *Service) RegisterDevice(key DeviceKey, cfg DeletionConfig) uint64 {
	gen := s.nextGeneration.Add(1)
	ds := &deviceState{
		queue:           NewQueue(cfg.DrainOrder),
		generation:      gen,
		state:           lifecycleRegistered,
		submittedFamily: make(map[uint32]uint64),
		adapters:        make(map[adapterKey]any),
	}
	ds.queue.SetFailurePolicy(cfg.FailurePolicy)
	ds.queue.SetRetryPolicy(cfg.RetryPolicy)
	ds.queue.SetFailureEscalationHook(cfg.EscalationHook)

	s.mu.Lock()
	s.devices[key] = ds
	s.mu.Unlock()
	return gen
}

// UnregisterDevice flushes the device's queue one last time and removes it
// from the registry. Any DeferredHandle still holding this device's prior
// generation will find the key gone on its next Release and destroy
// immediately.
func (s *Service) UnregisterDevice(key DeviceKey, frameIndex uint64) error {
	s.mu.Lock()
	ds, ok := s.devices[key]
	if ok {
		delete(s.devices, key)
	}
	s.mu.Unlock()
	if !ok {
		return errs.New(errs.ValidationFailure, "deletion", "Service.UnregisterDevice", "device not registered").WithObject(deviceLabel(key))
	}

	ds.mu.Lock()
	ds.state = lifecycleUnregistering
	ds.mu.Unlock()

	return ds.queue.Flush(frameIndex)
}

func (s *Service) lookup(key DeviceKey) (*deviceState, bool) {
	s.mu.Lock()
	ds, ok := s.devices[key]
	s.mu.Unlock()
	return ds, ok
}

// UpdateSubmittedTicket advances the device's completed-submission
// watermarks; each value only ever moves forward.
func (s *Service) UpdateSubmittedTicket(key DeviceKey, ticket SubmissionTicket) error {
	if !ticket.valid() {
		return nil
	}
	ds, ok := s.lookup(key)
	if !ok {
		return errs.New(errs.ValidationFailure, "deletion", "Service.UpdateSubmittedTicket", "device not registered").WithObject(deviceLabel(key))
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ticket.Value > ds.submittedValue {
		ds.submittedValue = ticket.Value
	}
	if ticket.Value > ds.submittedClass[ticket.QueueClass] {
		ds.submittedClass[ticket.QueueClass] = ticket.Value
	}
	if ticket.Value > ds.submittedFamily[ticket.QueueFamilyIndex] {
		ds.submittedFamily[ticket.QueueFamilyIndex] = ticket.Value
	}
	return nil
}

// EnqueueAfter schedules fn to run once the device's completed watermark
// reaches retireAfter.
func (s *Service) EnqueueAfter(key DeviceKey, retireAfter uint64, fn DeleteTask) error {
	ds, ok := s.lookup(key)
	if !ok {
		return errs.New(errs.ValidationFailure, "deletion", "Service.EnqueueAfter", "device not registered").WithObject(deviceLabel(key))
	}
	ds.queue.Enqueue(retireAfter, fn)
	return nil
}

// Collect drains and executes every task whose retire value has been
// reached, using the device's own submitted-value watermark as the
// completed value.
func (s *Service) Collect(key DeviceKey, frameIndex uint64) (CollectStats, error) {
	ds, ok := s.lookup(key)
	if !ok {
		return CollectStats{}, errs.New(errs.ValidationFailure, "deletion", "Service.Collect", "device not registered").WithObject(deviceLabel(key))
	}
	ds.mu.Lock()
	completed := ds.submittedValue
	ds.mu.Unlock()

	err := ds.queue.Collect(completed, frameIndex)
	return ds.queue.LastCollectStats(), err
}

// Flush collects every pending task for key regardless of watermark.
func (s *Service) Flush(key DeviceKey, frameIndex uint64) (CollectStats, error) {
	ds, ok := s.lookup(key)
	if !ok {
		return CollectStats{}, errs.New(errs.ValidationFailure, "deletion", "Service.Flush", "device not registered").WithObject(deviceLabel(key))
	}
	err := ds.queue.Flush(frameIndex)
	return ds.queue.LastCollectStats(), err
}

// CollectAll runs Collect concurrently across every registered device,
// returning the first error encountered (spec §4.5's per-frame deletion
// sweep, generalized to a multi-device host).
func (s *Service) CollectAll(frameIndex uint64) error {
	s.mu.Lock()
	keys := make([]DeviceKey, 0, len(s.devices))
	for k := range s.devices {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(context.Background())
	for _, k := range keys {
		k := k
		g.Go(func() error {
			_, err := s.Collect(k, frameIndex)
			return err
		})
	}
	return g.Wait()
}

func deviceLabel(key DeviceKey) string {
	if s, ok := key.(string); ok {
		return s
	}
	return "device"
}
