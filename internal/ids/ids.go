// Package ids provides the dense (index, epoch) identifier scheme of the
// render task graph runtime: ResourceId (spec §3) and PassId (spec §4.1),
// used by package rtg. It also declares JobID and HandleToken, which the
// scheduler and the command arena do not use.
package ids

import "fmt"

// Index identifies the slot in a dense allocation; Epoch is the generation
// counter that invalidates stale references to a recycled slot.
type Index = uint32
type Epoch = uint32

// Raw is the packed 64-bit representation of an ID: lower 32 bits index,
// upper 32 bits epoch.
type Raw uint64

// Zip combines an index and epoch into a Raw value.
func Zip(index Index, epoch Epoch) Raw {
	return Raw(index) | (Raw(epoch) << 32)
}

// Unzip extracts the index and epoch from a Raw value.
func (r Raw) Unzip() (Index, Epoch) {
	return Index(r & 0xFFFFFFFF), Epoch(r >> 32)
}

// IsZero reports whether both components are zero.
func (r Raw) IsZero() bool { return r == 0 }

// Marker distinguishes ID domains at compile time. Marker types are empty
// structs implementing an unexported method, so only this package's own
// marker types (below) can parameterize ID.
type Marker interface {
	marker()
}

// ID is a type-safe dense identifier parameterized by a Marker.
type ID[T Marker] struct {
	raw Raw
}

// New constructs an ID from explicit index and epoch components.
func New[T Marker](index Index, epoch Epoch) ID[T] {
	return ID[T]{raw: Zip(index, epoch)}
}

// FromRaw reconstructs an ID from its packed representation.
func FromRaw[T Marker](raw Raw) ID[T] {
	return ID[T]{raw: raw}
}

// Raw returns the packed representation.
func (id ID[T]) Raw() Raw { return id.raw }

// Unzip extracts the index and epoch components.
func (id ID[T]) Unzip() (Index, Epoch) { return id.raw.Unzip() }

// Index returns the index component.
func (id ID[T]) Index() Index { i, _ := id.raw.Unzip(); return i }

// Epoch returns the epoch component.
func (id ID[T]) Epoch() Epoch { _, e := id.raw.Unzip(); return e }

// IsZero reports whether the ID is the zero value (always invalid: epoch
// allocation starts at 1, per Allocator.Alloc).
func (id ID[T]) IsZero() bool { return id.raw.IsZero() }

func (id ID[T]) String() string {
	i, e := id.Unzip()
	return fmt.Sprintf("ID(%d,%d)", i, e)
}

// Marker types for each ID domain used across this module.
type ResourceMarker struct{}

func (ResourceMarker) marker() {}

type PassMarker struct{}

func (PassMarker) marker() {}

type JobMarker struct{}

func (JobMarker) marker() {}

type HandleMarker struct{}

func (HandleMarker) marker() {}

// ResourceID identifies a resource registered with a RenderTaskGraph
// (spec §3 "ResourceId"). Stable within a single graph/frame.
type ResourceID = ID[ResourceMarker]

// PassID identifies a pass registered with a RenderTaskGraph (spec §4.1,
// "PassId equal to its insertion index").
type PassID = ID[PassMarker]

// JobID is the dense id domain for scheduler jobs (spec §4.2). Package
// scheduler does not use it; it numbers jobs with its own scheduler.JobID.
type JobID = ID[JobMarker]

// HandleToken is a (generation, epoch) pair of the kind a
// BorrowedCommandBuffer carries (spec §4.4, GLOSSARY "Epoch"). It is two
// plain uint64 fields, not the packed Raw form of ID. Package arena does not
// use it: BorrowedCommandBuffer stores its generation and epoch as separate
// fields of its own.
type HandleToken struct {
	Generation uint64
	Epoch      uint64
}
