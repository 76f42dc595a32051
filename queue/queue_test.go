package queue

import (
	"sync"
	"testing"

	"github.com/gogpu/rendergraph/gpu"
	"github.com/gogpu/rendergraph/gpu/noop"
)

func TestSubmitSerializesConcurrentCallers(t *testing.T) {
	inner := noop.NewQueue(0)
	q := New(inner, 0, "graphics")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Submit(nil, nil); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestPresentPassesThroughStatus(t *testing.T) {
	inner := noop.NewQueue(0)
	inner.SetPresentBehavior(gpu.PresentSuboptimal)
	q := New(inner, 0, "present")

	status, err := q.Present(gpu.PresentInfo{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != gpu.PresentSuboptimal {
		t.Fatalf("expected suboptimal status, got %v", status)
	}
}
