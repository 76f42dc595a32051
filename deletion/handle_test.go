package deletion

import "testing"

type fakeResource struct{ id int }

func TestDeferredHandleEnqueuesAgainstRetireValue(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())

	destroyed := false
	h := MakeDeferredHandle(s, "gpu0", &fakeResource{id: 7}, func(r *fakeResource) error {
		destroyed = true
		return nil
	}, DefaultDeletionConfig())

	if err := h.Release(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if destroyed {
		t.Fatalf("expected destroy deferred, not immediate")
	}

	if err := s.UpdateSubmittedTicket("gpu0", SubmissionTicket{Value: 1, QueueClass: QueueClassGraphics}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Collect("gpu0", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !destroyed {
		t.Fatalf("expected destroy to run once retire value completed")
	}
}

func TestDeferredHandleReleaseTwiceFails(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())
	h := MakeDeferredHandle(s, "gpu0", &fakeResource{}, func(*fakeResource) error { return nil }, DefaultDeletionConfig())

	if err := h.Release(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Release(1); err == nil {
		t.Fatalf("expected error releasing an already-released handle")
	}
}

func TestDeferredHandleAgainstStaleGenerationDestroysImmediately(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())
	h := MakeDeferredHandle(s, "gpu0", &fakeResource{}, func(*fakeResource) error { return nil }, DefaultDeletionConfig())

	// Re-register bumps the device's generation without touching h's captured one.
	s.RegisterDevice("gpu0", DefaultDeletionConfig())

	destroyed := false
	h.destroyFn = func(*fakeResource) error { destroyed = true; return nil }
	if err := h.Release(5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !destroyed {
		t.Fatalf("expected immediate destroy against stale generation")
	}
}

func TestDeferredHandleAbortsOnMissingRetireValue(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())
	h := MakeDeferredHandle(s, "gpu0", &fakeResource{}, func(*fakeResource) error { return nil }, DefaultDeletionConfig())

	if err := h.Release(0); err == nil {
		t.Fatalf("expected abort policy to reject a zero retire value")
	}
}

func TestDeferredHandleBestEffortFallsBackImmediately(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())

	destroyed := false
	cfg := DefaultDeletionConfig()
	cfg.DeleteMode = DeferredBestEffort
	h := MakeDeferredHandle(s, "gpu0", &fakeResource{}, func(*fakeResource) error { destroyed = true; return nil }, cfg)

	if err := h.Release(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !destroyed {
		t.Fatalf("expected best-effort mode to destroy immediately without a retire value")
	}
}

func TestImmediateOnlyModeBypassesQueue(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())

	destroyed := false
	cfg := DefaultDeletionConfig()
	cfg.DeleteMode = ImmediateOnly
	h := MakeDeferredHandle(s, "gpu0", &fakeResource{}, func(*fakeResource) error { destroyed = true; return nil }, cfg)

	if err := h.Release(100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !destroyed {
		t.Fatalf("expected ImmediateOnly to destroy synchronously regardless of retire value")
	}
}

func TestAdapterCachesByHandleAndDestroyFn(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())

	destroyFn := func(r *fakeResource) error { return nil }
	a1, err := Adapter(s, "gpu0", destroyFn, DefaultDeletionConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := Adapter(s, "gpu0", destroyFn, DefaultDeletionConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("expected adapter to be cached and reused for identical (handle, destroyFn)")
	}

	h := a1.Wrap(&fakeResource{id: 1})
	if err := h.Release(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
