package errs

import (
	"errors"
	"testing"
)

func TestErrorRetryable(t *testing.T) {
	e := New(NotReady, "arena", "BeginFrame", "frame fence not signaled")
	if !e.Retryable() {
		t.Fatalf("expected NotReady to be retryable")
	}
	if New(ValidationFailure, "rtg", "Compile", "cycle").Retryable() {
		t.Fatalf("expected ValidationFailure to not be retryable")
	}
}

func TestErrorIsByKind(t *testing.T) {
	e := New(DeviceLost, "queue", "Submit", "driver reported device lost")
	if !errors.Is(e, Sentinel(DeviceLost)) {
		t.Fatalf("expected errors.Is to match by kind")
	}
	if errors.Is(e, Sentinel(Timeout)) {
		t.Fatalf("expected errors.Is to not match a different kind")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(Internal, "deletion", "DeletionQueue.collect", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected Unwrap chain to reach cause")
	}
}

func TestKindOf(t *testing.T) {
	e := New(ResourceExhaustion, "rtg", "compileTransientPlan", "pool oversubscribed")
	wrapped := Wrap(Internal, "deletion", "collect", e)
	kind, ok := KindOf(wrapped)
	if !ok || kind != Internal {
		t.Fatalf("expected outermost kind Internal, got %v ok=%v", kind, ok)
	}
}

func TestErrorMessageIncludesContext(t *testing.T) {
	e := New(ValidationFailure, "rtg", "addPass", "duplicate resource id").
		WithObject("resource#4").
		WithFrame(7)
	msg := e.Error()
	if msg == "" {
		t.Fatalf("expected non-empty message")
	}
}
