package deletion

import (
	"fmt"
	"reflect"

	"github.com/gogpu/rendergraph/diag"
	"github.com/gogpu/rendergraph/errs"
)

// DeleteMode selects how a DeferredHandle's Release behaves.
type DeleteMode uint8

const (
	// Deferred enqueues destruction against the device's queue and requires
	// a retire-after value at Release time.
	Deferred DeleteMode = iota
	// ImmediateOnly always destroys synchronously on Release, bypassing the
	// queue entirely (useful for resources created and destroyed within a
	// single frame with no cross-frame GPU reference).
	ImmediateOnly
	// DeferredBestEffort enqueues when possible but falls back to immediate
	// destruction without consulting InvariantViolationPolicy when the
	// device is stale or no retire value was supplied.
	DeferredBestEffort
)

// InvariantViolationPolicy governs what happens when a Deferred handle is
// released without a retire value; a release against a device whose
// generation no longer matches always destroys immediately, whatever this
// policy says (spec §9 design note: the original's three-way
// Abort / ImmediateFallback / ReportAndLeakSafely choice collapsed into one
// policy knob).
type InvariantViolationPolicy uint8

const (
	Abort InvariantViolationPolicy = iota
	ImmediateFallback
	ReportAndLeakSafely
)

// DeletionConfig configures a device's registration with the Service:
// queue draining behaviour plus the deferred-handle policy every
// DeferredHandle minted against that device inherits.
type DeletionConfig struct {
	DrainOrder               DrainOrder
	FailurePolicy            FailurePolicy
	RetryPolicy              RetryPolicy
	EscalationHook           FailureEscalationHook
	DeleteMode               DeleteMode
	InvariantViolationPolicy InvariantViolationPolicy
}

// DefaultDeletionConfig matches the queue's own defaults and fails closed
// on invariant violations (Abort), the original's debug-build default.
func DefaultDeletionConfig() DeletionConfig {
	return DeletionConfig{
		RetryPolicy:              DefaultRetryPolicy(),
		DeleteMode:               Deferred,
		InvariantViolationPolicy: Abort,
	}
}

// adapterKey type-erases a (handle type, destroy function) pair into a
// comparable map key, replacing the original's template-instantiation-per-
// (Handle,DestroyFn) DeviceQueue<Handle,DestroyFn> with a single runtime
// table keyed by (handle_tag, destroy_fn_ptr) per spec §9's design note.
type adapterKey struct {
	handleTag string
	fnPtr     uintptr
}

func keyFor[H any](destroyFn func(H) error) adapterKey {
	var zero H
	return adapterKey{
		handleTag: fmt.Sprintf("%T", zero),
		fnPtr:     reflect.ValueOf(destroyFn).Pointer(),
	}
}

// DeferredHandle wraps a single GPU-owned handle with the device generation
// it was minted against. Release is the explicit, idiomatic-Go stand-in for
// the original's destructor-triggered enqueue: Go has no RAII, so callers
// call Release when the handle falls out of use instead of relying on
// scope exit.
type DeferredHandle[H any] struct {
	service    *Service
	deviceKey  DeviceKey
	generation uint64
	handle     H
	destroyFn  func(H) error
	config     DeletionConfig
	released   bool
}

// MakeDeferredHandle binds handle to destroyFn under the device's current
// generation. Release must be called exactly once.
func MakeDeferredHandle[H any](s *Service, deviceKey DeviceKey, handle H, destroyFn func(H) error, cfg DeletionConfig) *DeferredHandle[H] {
	gen := uint64(0)
	if ds, ok := s.lookup(deviceKey); ok {
		ds.mu.Lock()
		gen = ds.generation
		ds.mu.Unlock()
	}
	return &DeferredHandle[H]{
		service:    s,
		deviceKey:  deviceKey,
		generation: gen,
		handle:     handle,
		destroyFn:  destroyFn,
		config:     cfg,
	}
}

// Handle returns the wrapped value for read-only use prior to Release.
func (d *DeferredHandle[H]) Handle() H { return d.handle }

// Release schedules (or performs) destruction of the wrapped handle.
// retireAfter is the submission-ticket value the GPU must have completed
// before the handle is safe to destroy; zero means "no retire value
// supplied," which only ImmediateOnly and DeferredBestEffort tolerate.
func (d *DeferredHandle[H]) Release(retireAfter uint64) error {
	if d.released {
		return errs.New(errs.ValidationFailure, "deletion", "DeferredHandle.Release", "handle already released")
	}
	d.released = true

	if d.config.DeleteMode == ImmediateOnly {
		return d.destroyNow()
	}

	ds, ok := d.service.lookup(d.deviceKey)
	staleDevice := !ok || func() bool {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		return ds.generation != d.generation || ds.state != lifecycleRegistered
	}()

	if staleDevice {
		diag.Logger().Warn("deferred handle released against stale device", "handle_tag", fmt.Sprintf("%T", d.handle))
		return d.destroyNow()
	}

	if retireAfter == 0 {
		switch {
		case d.config.DeleteMode == DeferredBestEffort:
			return d.destroyNow()
		case d.config.InvariantViolationPolicy == ImmediateFallback:
			return d.destroyNow()
		case d.config.InvariantViolationPolicy == ReportAndLeakSafely:
			diag.Logger().Error("deferred handle released with no retire value; leaking", "handle_tag", fmt.Sprintf("%T", d.handle))
			return nil
		default: // Abort
			return errs.New(errs.ValidationFailure, "deletion", "DeferredHandle.Release", "no retire-after value supplied for deferred handle")
		}
	}

	handle := d.handle
	fn := d.destroyFn
	return d.service.EnqueueAfter(d.deviceKey, retireAfter, func() error {
		return fn(handle)
	})
}

func (d *DeferredHandle[H]) destroyNow() error {
	if d.destroyFn == nil {
		return nil
	}
	return d.destroyFn(d.handle)
}

// DeviceQueueAdapter caches one (Handle,DestroyFn) adapter per device so
// repeated allocation-site calls reuse the same type-erased entry instead
// of re-resolving reflection metadata every time (original: getDeviceQueue
// caches by the (handle_tag, destroy_fn_ptr) key inside DeviceState).
type DeviceQueueAdapter[H any] struct {
	service   *Service
	deviceKey DeviceKey
	destroyFn func(H) error
	config    DeletionConfig
}

// Adapter returns (creating and caching if necessary) the adapter for
// (H, destroyFn) against deviceKey.
func Adapter[H any](s *Service, deviceKey DeviceKey, destroyFn func(H) error, cfg DeletionConfig) (*DeviceQueueAdapter[H], error) {
	ds, ok := s.lookup(deviceKey)
	if !ok {
		return nil, errs.New(errs.ValidationFailure, "deletion", "Adapter", "device not registered").WithObject(deviceLabel(deviceKey))
	}
	key := keyFor(destroyFn)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if cached, ok := ds.adapters[key]; ok {
		return cached.(*DeviceQueueAdapter[H]), nil
	}
	adapter := &DeviceQueueAdapter[H]{service: s, deviceKey: deviceKey, destroyFn: destroyFn, config: cfg}
	ds.adapters[key] = adapter
	return adapter, nil
}

// Wrap binds handle through the adapter, producing a
// DeferredHandle ready for Release.
func (a *DeviceQueueAdapter[H]) Wrap(handle H) *DeferredHandle[H] {
	return MakeDeferredHandle(a.service, a.deviceKey, handle, a.destroyFn, a.config)
}
