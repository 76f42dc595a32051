package deletion

import "testing"

func TestServiceRetiresHandleAfterWatermarkReached(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())

	destroyed := false
	if err := s.EnqueueAfter("gpu0", 2, func() error { destroyed = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.UpdateSubmittedTicket("gpu0", SubmissionTicket{Value: 1, QueueClass: QueueClassGraphics}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Collect("gpu0", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if destroyed {
		t.Fatalf("handle destroyed before its retire value completed")
	}

	if err := s.UpdateSubmittedTicket("gpu0", SubmissionTicket{Value: 2, QueueClass: QueueClassGraphics}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Collect("gpu0", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !destroyed {
		t.Fatalf("expected handle destroyed once its retire value completed")
	}
}

func TestUpdateSubmittedTicketTracksPerClassAndFamilyWatermarks(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())

	if err := s.UpdateSubmittedTicket("gpu0", SubmissionTicket{Value: 5, QueueClass: QueueClassTransfer, QueueFamilyIndex: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ds, ok := s.lookup("gpu0")
	if !ok {
		t.Fatalf("expected device registered")
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.submittedClass[QueueClassTransfer] != 5 {
		t.Fatalf("expected transfer class watermark 5, got %d", ds.submittedClass[QueueClassTransfer])
	}
	if ds.submittedFamily[2] != 5 {
		t.Fatalf("expected family 2 watermark 5, got %d", ds.submittedFamily[2])
	}
}

func TestCollectOnUnregisteredDeviceFails(t *testing.T) {
	s := NewService()
	if _, err := s.Collect("missing", 0); err == nil {
		t.Fatalf("expected error collecting on unregistered device")
	}
}

func TestUnregisterDeviceFlushesPendingTasks(t *testing.T) {
	s := NewService()
	s.RegisterDevice("gpu0", DefaultDeletionConfig())
	ran := false
	if err := s.EnqueueAfter("gpu0", 100, func() error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.UnregisterDevice("gpu0", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatalf("expected unregister to flush pending tasks regardless of retire value")
	}
	if _, err := s.Collect("gpu0", 0); err == nil {
		t.Fatalf("expected device to be gone after unregister")
	}
}

func TestCollectAllFansOutAcrossDevices(t *testing.T) {
	s := NewService()
	s.RegisterDevice("a", DefaultDeletionConfig())
	s.RegisterDevice("b", DefaultDeletionConfig())

	var ranA, ranB bool
	if err := s.EnqueueAfter("a", 0, func() error { ranA = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.EnqueueAfter("b", 0, func() error { ranB = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CollectAll(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ranA || !ranB {
		t.Fatalf("expected both devices collected, a=%v b=%v", ranA, ranB)
	}
}
