package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunLevelExecutesAllTasks(t *testing.T) {
	p := New(4)
	defer p.Close()

	var count atomic.Int64
	tasks := make([]func(int) error, 10)
	for i := range tasks {
		tasks[i] = func(workerIdx int) error {
			count.Add(1)
			return nil
		}
	}
	if err := RunLevel(context.Background(), p, tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count.Load() != 10 {
		t.Fatalf("expected 10 tasks to run, got %d", count.Load())
	}
}

func TestRunLevelPropagatesFirstError(t *testing.T) {
	p := New(2)
	defer p.Close()

	sentinel := errors.New("pass failed")
	tasks := []func(int) error{
		func(int) error { return nil },
		func(int) error { return sentinel },
		func(int) error { return nil },
	}
	err := RunLevel(context.Background(), p, tasks)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestWorkerAssignmentIsStable(t *testing.T) {
	p := New(3)
	defer p.Close()
	if p.Worker(0) != 0 || p.Worker(3) != 0 || p.Worker(4) != 1 {
		t.Fatalf("unexpected round-robin assignment")
	}
}
