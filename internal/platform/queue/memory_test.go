package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func scheduleTestJob(t *testing.T, q *MemoryQueue, id string, delay time.Duration, opts Options) Job {
	t.Helper()
	job := NewJob(id, "create-invoice", "ord_1", delay, testNow, opts)
	if err := q.Schedule(context.Background(), job); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	return job
}

func TestNewJobComputesETAFromScheduleTime(t *testing.T) {
	job := NewJob("create-invoice:ord_1", "create-invoice", "ord_1", 5*time.Minute, testNow, Options{})

	if job.State != StateDelayed {
		t.Errorf("state = %q, want delayed", job.State)
	}
	if want := testNow.Add(5 * time.Minute); !job.RunAt.Equal(want) {
		t.Errorf("run at = %v, want %v", job.RunAt, want)
	}
	if job.Payload.ETA != testNow.Add(5*time.Minute).Format(time.RFC3339Nano) {
		t.Errorf("payload eta = %q", job.Payload.ETA)
	}
	if job.Payload.ScheduledAt != testNow.UnixMilli() {
		t.Errorf("payload scheduledAt = %d, want %d", job.Payload.ScheduledAt, testNow.UnixMilli())
	}
	if job.MaxAttempts != defaultMaxAttempts {
		t.Errorf("max attempts = %d, want %d", job.MaxAttempts, defaultMaxAttempts)
	}
	// Backoff defaults to the scheduling delay.
	if job.Backoff != 5*time.Minute {
		t.Errorf("backoff = %v, want 5m", job.Backoff)
	}
}

func TestNewJobZeroDelayIsImmediatelyWaiting(t *testing.T) {
	job := NewJob("j", "create-invoice", "ord_1", 0, testNow, Options{Backoff: time.Minute})
	if job.State != StateWaiting {
		t.Errorf("state = %q, want waiting", job.State)
	}
}

func TestScheduleReplacesExistingJob(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first := scheduleTestJob(t, q, "create-invoice:ord_1", time.Minute, Options{})
	// Simulate a consumed attempt before the replacement arrives.
	if _, err := q.ClaimDue(ctx, "create-invoice", "w1", 1, testNow.Add(2*time.Minute)); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	second := NewJob(first.ID, "create-invoice", "ord_1", 10*time.Minute, testNow.Add(3*time.Minute), Options{})
	if err := q.Schedule(ctx, second); err != nil {
		t.Fatalf("Schedule replacement: %v", err)
	}

	jobs, err := q.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("pending jobs = %d, want 1", len(jobs))
	}
	got := jobs[0]
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want reset to 0", got.Attempts)
	}
	if got.State != StateDelayed {
		t.Errorf("state = %q, want delayed", got.State)
	}
	if !got.RunAt.Equal(second.RunAt) {
		t.Errorf("run at = %v, want %v", got.RunAt, second.RunAt)
	}
}

func TestCancelIsSafeBeforeAndAfter(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	// Cancel before any schedule.
	if err := q.Cancel(ctx, "create-invoice:ord_1"); err != nil {
		t.Fatalf("Cancel absent job: %v", err)
	}

	job := scheduleTestJob(t, q, "create-invoice:ord_1", 0, Options{})
	if _, err := q.ClaimDue(ctx, "create-invoice", "w1", 1, testNow); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Cancel after completion leaves the terminal record in place.
	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel completed job: %v", err)
	}
	got, ok, _ := q.Get(ctx, job.ID)
	if !ok {
		t.Fatal("completed record erased by cancel")
	}
	if got.State != StateCompleted {
		t.Errorf("state = %q, want %q", got.State, StateCompleted)
	}
}

func TestCancelLeavesRunningJobAlone(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	job := scheduleTestJob(t, q, "create-invoice:ord_1", 0, Options{})
	if _, err := q.ClaimDue(ctx, "create-invoice", "w1", 1, testNow); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel active job: %v", err)
	}
	got, ok, _ := q.Get(ctx, job.ID)
	if !ok || got.State != StateActive {
		t.Fatalf("active job gone or changed after cancel: ok=%v state=%q", ok, got.State)
	}

	// The running worker still gets to finish.
	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _, _ = q.Get(ctx, job.ID)
	if got.State != StateCompleted {
		t.Errorf("state = %q, want %q", got.State, StateCompleted)
	}
}

func TestClaimDueReclaimsAbandonedJob(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	job := scheduleTestJob(t, q, "create-invoice:ord_1", 0, Options{})
	claimed, err := q.ClaimDue(ctx, "create-invoice", "w-crashed", 1, testNow)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}
	// w-crashed never calls Complete or Fail.

	// Inside the lease the claim still holds.
	within, err := q.ClaimDue(ctx, "create-invoice", "w-new", 1, testNow.Add(LeaseDuration-time.Second))
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(within) != 0 {
		t.Fatalf("claim inside lease = %d jobs, want 0", len(within))
	}

	// Past the lease the job is handed to the new worker, consuming an attempt.
	after := testNow.Add(LeaseDuration + time.Second)
	reclaimed, err := q.ClaimDue(ctx, "create-invoice", "w-new", 1, after)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("reclaim = %d jobs, want 1", len(reclaimed))
	}
	got := reclaimed[0]
	if got.ID != job.ID {
		t.Errorf("reclaimed %q, want %q", got.ID, job.ID)
	}
	if got.ClaimedBy != "w-new" {
		t.Errorf("claimedBy = %q, want w-new", got.ClaimedBy)
	}
	if got.State != StateActive || got.Attempts != 2 {
		t.Errorf("state = %q attempts = %d, want active/2", got.State, got.Attempts)
	}
}

func TestClaimDueSkipsFutureAndForeignJobs(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	scheduleTestJob(t, q, "create-invoice:ord_due", 0, Options{})
	scheduleTestJob(t, q, "create-invoice:ord_later", time.Hour, Options{})
	other := NewJob("send-email:ord_due", "send-email", "ord_due", 0, testNow, Options{})
	if err := q.Schedule(ctx, other); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	claimed, err := q.ClaimDue(ctx, "create-invoice", "w1", 10, testNow)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}
	if claimed[0].ID != "create-invoice:ord_due" {
		t.Errorf("claimed %q", claimed[0].ID)
	}
	if claimed[0].State != StateActive || claimed[0].Attempts != 1 {
		t.Errorf("claimed job state = %q attempts = %d", claimed[0].State, claimed[0].Attempts)
	}

	// A second claim pass finds nothing: the job is active.
	again, err := q.ClaimDue(ctx, "create-invoice", "w2", 10, testNow)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second claim = %d jobs, want 0", len(again))
	}
}

func TestFailRedelaysUntilAttemptsExhausted(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	cause := errors.New("order not eligible")

	scheduleTestJob(t, q, "create-invoice:ord_1", 0, Options{MaxAttempts: 2, Backoff: time.Minute})

	// First attempt: claim and fail retryably.
	claimed, _ := q.ClaimDue(ctx, "create-invoice", "w1", 1, testNow)
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}
	if err := q.Fail(ctx, claimed[0].ID, cause, false, testNow); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	job, ok, _ := q.Get(ctx, claimed[0].ID)
	if !ok || job.State != StateDelayed {
		t.Fatalf("state after first failure = %q, want delayed", job.State)
	}
	if want := testNow.Add(time.Minute); !job.RunAt.Equal(want) {
		t.Errorf("run at = %v, want backoff to %v", job.RunAt, want)
	}
	if job.LastError != cause.Error() {
		t.Errorf("last error = %q", job.LastError)
	}

	// Second attempt exhausts the budget.
	claimed, _ = q.ClaimDue(ctx, "create-invoice", "w1", 1, job.RunAt)
	if len(claimed) != 1 {
		t.Fatalf("reclaim = %d, want 1", len(claimed))
	}
	if err := q.Fail(ctx, claimed[0].ID, cause, false, job.RunAt); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	job, ok, _ = q.Get(ctx, claimed[0].ID)
	if !ok || job.State != StateFailed {
		t.Fatalf("state after exhaustion = %q, want failed", job.State)
	}
}

func TestFailTerminalSkipsRemainingAttempts(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	scheduleTestJob(t, q, "create-invoice:ord_1", 0, Options{MaxAttempts: 8})
	claimed, _ := q.ClaimDue(ctx, "create-invoice", "w1", 1, testNow)
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}

	if err := q.Fail(ctx, claimed[0].ID, errors.New("order missing"), true, testNow); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	job, _, _ := q.Get(ctx, claimed[0].ID)
	if job.State != StateFailed {
		t.Errorf("state = %q, want failed", job.State)
	}
}

func TestListFiltersByState(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	scheduleTestJob(t, q, "create-invoice:ord_a", time.Hour, Options{})
	scheduleTestJob(t, q, "create-invoice:ord_b", 0, Options{})
	claimed, _ := q.ClaimDue(ctx, "create-invoice", "w1", 1, testNow)
	if len(claimed) != 1 {
		t.Fatalf("claimed = %d, want 1", len(claimed))
	}
	if err := q.Complete(ctx, claimed[0].ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	pending, err := q.List(ctx, PendingStates...)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "create-invoice:ord_a" {
		t.Fatalf("pending = %+v, want only ord_a", pending)
	}

	completed, err := q.List(ctx, StateCompleted)
	if err != nil {
		t.Fatalf("List completed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "create-invoice:ord_b" {
		t.Fatalf("completed = %+v, want only ord_b", completed)
	}
}
