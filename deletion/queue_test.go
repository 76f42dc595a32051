package deletion

import (
	"errors"
	"testing"
)

func TestCollectExecutesReadyTasksInFenceOrder(t *testing.T) {
	q := NewQueue(FIFO)
	var order []int
	q.Enqueue(2, func() error { order = append(order, 2); return nil })
	q.Enqueue(1, func() error { order = append(order, 1); return nil })

	if err := q.Collect(2, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected ascending fence order, got %v", order)
	}
	if q.Size() != 0 {
		t.Fatalf("expected queue drained, size=%d", q.Size())
	}
}

func TestCollectLeavesUnreachedFenceValuesPending(t *testing.T) {
	q := NewQueue(FIFO)
	ran := false
	q.Enqueue(5, func() error { ran = true; return nil })

	if err := q.Collect(4, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Fatalf("task should not have run before its fence completed")
	}
	if q.Size() != 1 {
		t.Fatalf("expected task still pending, size=%d", q.Size())
	}

	if err := q.Collect(5, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatalf("expected task to run once fence reached")
	}
}

func TestLIFODrainReversesBucketOrder(t *testing.T) {
	q := NewQueue(LIFO)
	var order []int
	q.Enqueue(1, func() error { order = append(order, 1); return nil })
	q.Enqueue(1, func() error { order = append(order, 2); return nil })
	q.Enqueue(1, func() error { order = append(order, 3); return nil })

	if err := q.Collect(1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected reversed order, got %v", order)
	}
}

func TestFailedTaskRetriesWithBackoffThenEscalates(t *testing.T) {
	q := NewQueue(FIFO)
	q.SetFailurePolicy(KeepFailedTasks)
	q.SetRetryPolicy(RetryPolicy{MaxRetries: 1, MaxFrameAge: 1000, BaseRetryBackoffFrames: 1})

	attempts := 0
	var escalated *FailureEscalationEvent
	q.SetFailureEscalationHook(func(e FailureEscalationEvent) { escalated = &e })
	q.Enqueue(1, func() error { attempts++; return errors.New("boom") })

	// First attempt fails, retained for retry with backoff.
	if err := q.Collect(1, 0); err == nil {
		t.Fatalf("expected error from failing task")
	}
	if attempts != 1 {
		t.Fatalf("expected one attempt, got %d", attempts)
	}
	stats := q.LastCollectStats()
	if stats.RetainedFailedCount != 1 {
		t.Fatalf("expected task retained after first failure, stats=%+v", stats)
	}

	// Frame 1: backoff not yet elapsed (nextRetryFrame = 0 + 1<<1 = 2).
	if err := q.Collect(1, 1); err != nil {
		t.Fatalf("unexpected error while backoff pending: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retry before backoff elapses, attempts=%d", attempts)
	}

	// Frame 2: retry fires, second failure exceeds MaxRetries=1 and escalates.
	if err := q.Collect(1, 2); err == nil {
		t.Fatalf("expected error from second failing attempt")
	}
	if attempts != 2 {
		t.Fatalf("expected retry to re-run task, attempts=%d", attempts)
	}
	stats = q.LastCollectStats()
	if stats.DroppedFailedCount != 1 {
		t.Fatalf("expected task dropped after exhausting retries, stats=%+v", stats)
	}
	if escalated == nil || escalated.Reason != "max_retries_exceeded" {
		t.Fatalf("expected max_retries_exceeded escalation, got %+v", escalated)
	}
}

func TestDiscardFailedTasksDropsWithoutRetry(t *testing.T) {
	q := NewQueue(FIFO)
	q.SetFailurePolicy(DiscardFailedTasks)
	attempts := 0
	q.Enqueue(1, func() error { attempts++; return errors.New("boom") })

	if err := q.Collect(1, 0); err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
	if q.Size() != 0 {
		t.Fatalf("expected task dropped, not retained, size=%d", q.Size())
	}
}

func TestFlushIgnoresCompletedWatermark(t *testing.T) {
	q := NewQueue(FIFO)
	ran := false
	q.Enqueue(1_000_000, func() error { ran = true; return nil })

	if err := q.Flush(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatalf("expected flush to run task regardless of fence value")
	}
}

func TestPanicInTaskIsRecoveredAsError(t *testing.T) {
	q := NewQueue(FIFO)
	q.Enqueue(1, func() error { panic("unexpected") })

	err := q.Collect(1, 0)
	if err == nil {
		t.Fatalf("expected recovered panic to surface as error")
	}
}
