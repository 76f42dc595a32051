// Package errs provides the rich error record shared by every component of
// the render task graph runtime.
//
// Every fallible operation in this module returns *Error (or an error that
// wraps one) rather than an ad-hoc string, so callers can branch on Kind
// without parsing messages and diagnostic sinks can log structured fields
// uniformly.
package errs

import (
	"fmt"
	"runtime"
)

// Kind classifies an error into one of the seven abstract error kinds.
type Kind uint8

const (
	// ValidationFailure indicates a broken caller contract: duplicate ids,
	// zero stage mask with non-zero access mask, a dependency cycle, a wait
	// stage incompatible with the target queue class. Fatal for the frame.
	ValidationFailure Kind = iota

	// NotReady is retryable: a frame fence has not yet signaled when polled.
	NotReady

	// Timeout indicates a wait operation exceeded its deadline. Surfaces to
	// callers as (false, nil) from wait APIs, not as this error, except when
	// wrapped for diagnostic logging.
	Timeout

	// DeviceLost is propagated up; the scheduler refuses further submissions
	// and the deletion service treats the device as unregistered.
	DeviceLost

	// ResourceExhaustion indicates the allocator is out of memory or a pool
	// is oversubscribed.
	ResourceExhaustion

	// Transient indicates a condition such as VK_SUBOPTIMAL_KHR or
	// VK_ERROR_OUT_OF_DATE_KHR on present; reported in FrameExecutionResult,
	// not treated as a hard error by callers that check Kind.
	Transient

	// Internal indicates a deletion-task failure or other internal
	// invariant break handled through the deletion queue's retry/escalation
	// policy rather than by poisoning the frame.
	Internal
)

// String renders the Kind for diagnostic output.
func (k Kind) String() string {
	switch k {
	case ValidationFailure:
		return "validation_failure"
	case NotReady:
		return "not_ready"
	case Timeout:
		return "timeout"
	case DeviceLost:
		return "device_lost"
	case ResourceExhaustion:
		return "resource_exhaustion"
	case Transient:
		return "transient"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the rich error record required by spec §6/§7: every failure
// carries a textual operation, a VkResult-like kind, and a source location.
type Error struct {
	Kind      Kind
	Op        string // operation name, e.g. "rtg.Graph.Compile"
	Subsystem string // "rtg", "scheduler", "syncctx", "arena", "deletion", "queue"
	Object    string // object hint: resource id, job id, device name
	Frame     int64  // frame index, -1 if not applicable
	Message   string
	Cause     error
	File      string
	Line      int
}

// New constructs an Error, capturing the caller's source location.
func New(kind Kind, subsystem, op, message string) *Error {
	e := &Error{Kind: kind, Subsystem: subsystem, Op: op, Message: message, Frame: -1}
	e.captureLocation()
	return e
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, subsystem, op, format string, args ...any) *Error {
	e := &Error{Kind: kind, Subsystem: subsystem, Op: op, Message: fmt.Sprintf(format, args...), Frame: -1}
	e.captureLocation()
	return e
}

// Wrap constructs an Error that wraps an underlying cause.
func Wrap(kind Kind, subsystem, op string, cause error) *Error {
	e := &Error{Kind: kind, Subsystem: subsystem, Op: op, Cause: cause, Frame: -1}
	if cause != nil {
		e.Message = cause.Error()
	}
	e.captureLocation()
	return e
}

func (e *Error) captureLocation() {
	// Skip New/Newf/Wrap and captureLocation itself.
	if _, file, line, ok := runtime.Caller(2); ok {
		e.File = file
		e.Line = line
	}
}

// WithObject attaches an object hint (resource id, job id, device name) and
// returns the receiver for chaining at the call site.
func (e *Error) WithObject(object string) *Error {
	e.Object = object
	return e
}

// WithFrame attaches the frame index the failure occurred within.
func (e *Error) WithFrame(frame int64) *Error {
	e.Frame = frame
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	loc := ""
	if e.File != "" {
		loc = fmt.Sprintf(" (%s:%d)", e.File, e.Line)
	}
	obj := ""
	if e.Object != "" {
		obj = fmt.Sprintf(" object=%s", e.Object)
	}
	frame := ""
	if e.Frame >= 0 {
		frame = fmt.Sprintf(" frame=%d", e.Frame)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: %s%s%s%s", e.Subsystem, e.Op, obj, frame, loc)
	}
	return fmt.Sprintf("%s: %s: %s%s%s%s", e.Subsystem, e.Op, e.Message, obj, frame, loc)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a caller may usefully retry the operation that
// produced this error (spec §7: NotReady is retryable by design).
func (e *Error) Retryable() bool {
	return e.Kind == NotReady
}

// Is supports errors.Is comparison against a Kind-tagged sentinel: any
// *Error target matches when its Kind equals e's, whatever its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, with ok
// reporting whether one was found.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0, false
}

// Sentinel returns a zero-location Error usable as an errors.Is target for a
// given Kind, e.g. errors.Is(err, errs.Sentinel(errs.NotReady)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind, Frame: -1}
}
