package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestWorker(t *testing.T, q Queue, handler Handler) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerDeps{
		Queue:    q,
		Kind:     "create-invoice",
		Handler:  handler,
		WorkerID: "test-worker",
		Clock:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

func runOnePoll(t *testing.T, w *Worker) {
	t.Helper()
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	w.poll(context.Background(), sem, &wg)
	wg.Wait()
}

func TestWorkerCompletesSuccessfulJob(t *testing.T) {
	q := NewMemoryQueue()
	scheduleTestJob(t, q, "create-invoice:ord_1", 0, Options{})

	var handled []string
	w := newTestWorker(t, q, func(_ context.Context, job Job) error {
		handled = append(handled, job.Payload.OrderID)
		return nil
	})
	runOnePoll(t, w)

	if len(handled) != 1 || handled[0] != "ord_1" {
		t.Fatalf("handled = %v", handled)
	}
	job, _, _ := q.Get(context.Background(), "create-invoice:ord_1")
	if job.State != StateCompleted {
		t.Errorf("state = %q, want completed", job.State)
	}
}

func TestWorkerRetriesRetryableFailure(t *testing.T) {
	q := NewMemoryQueue()
	scheduleTestJob(t, q, "create-invoice:ord_1", 0, Options{MaxAttempts: 3, Backoff: time.Minute})

	w := newTestWorker(t, q, func(context.Context, Job) error {
		return errors.New("not eligible yet")
	})
	runOnePoll(t, w)

	job, _, _ := q.Get(context.Background(), "create-invoice:ord_1")
	if job.State != StateDelayed {
		t.Fatalf("state = %q, want delayed for retry", job.State)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if want := testNow.Add(time.Minute); !job.RunAt.Equal(want) {
		t.Errorf("run at = %v, want %v", job.RunAt, want)
	}
}

func TestWorkerDropsTerminalFailure(t *testing.T) {
	q := NewMemoryQueue()
	scheduleTestJob(t, q, "create-invoice:ord_1", 0, Options{MaxAttempts: 8})

	w := newTestWorker(t, q, func(context.Context, Job) error {
		return fmt.Errorf("%w: order deleted", ErrTerminal)
	})
	runOnePoll(t, w)

	job, _, _ := q.Get(context.Background(), "create-invoice:ord_1")
	if job.State != StateFailed {
		t.Errorf("state = %q, want failed", job.State)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry budget consumed further)", job.Attempts)
	}
}

func TestWorkerProcessesDistinctOrdersConcurrently(t *testing.T) {
	q := NewMemoryQueue()
	for i := 0; i < 5; i++ {
		job := NewJob(fmt.Sprintf("create-invoice:ord_%d", i), "create-invoice", fmt.Sprintf("ord_%d", i), 0, testNow, Options{})
		if err := q.Schedule(context.Background(), job); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	var mu sync.Mutex
	seen := map[string]int{}
	w := newTestWorker(t, q, func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.Payload.OrderID]++
		mu.Unlock()
		return nil
	})
	runOnePoll(t, w)

	if len(seen) != 5 {
		t.Fatalf("distinct orders handled = %d, want 5", len(seen))
	}
	for orderID, count := range seen {
		if count != 1 {
			t.Errorf("order %s handled %d times", orderID, count)
		}
	}
}
