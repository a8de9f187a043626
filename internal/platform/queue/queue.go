// Package queue provides a durable delayed job queue with replace-on-schedule
// semantics, per-job retry budgets, and transactional claiming for concurrent
// workers. Jobs survive process restarts when backed by the Firestore
// implementation; the memory implementation mirrors its semantics for tests
// and local development.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"
)

// State enumerates the lifecycle states of a deferred job.
type State string

const (
	// StateDelayed marks a job whose run time lies in the future.
	StateDelayed State = "delayed"
	// StateWaiting marks a due job that no worker has claimed yet.
	StateWaiting State = "waiting"
	// StateActive marks a job currently claimed by a worker.
	StateActive State = "active"
	// StateCompleted marks a job that finished successfully.
	StateCompleted State = "completed"
	// StateFailed marks a job dropped after exhausting its attempts or
	// hitting a terminal failure. Failed jobs stay in the store so they
	// remain observable; they are never resurrected automatically.
	StateFailed State = "failed"
)

// PendingStates are the states in which a job may still run.
var PendingStates = []State{StateDelayed, StateWaiting, StateActive}

// Payload is the persisted job payload. ETA is an ISO 8601 timestamp and
// ScheduledAt an epoch-millisecond count, kept in that wire shape so queue
// records stay readable by operational tooling.
type Payload struct {
	OrderID     string `firestore:"orderId" json:"orderId"`
	ETA         string `firestore:"eta" json:"eta"`
	ScheduledAt int64  `firestore:"scheduledAt" json:"scheduledAt"`
}

// Job is one unit of deferred work.
type Job struct {
	ID          string
	Kind        string
	Payload     Payload
	State       State
	RunAt       time.Time
	ScheduledAt time.Time
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
	LastError   string
	ClaimedBy   string
	UpdatedAt   time.Time
}

// Options tunes retry behaviour for a scheduled job.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
}

const defaultMaxAttempts = 8

// LeaseDuration bounds how long a claimed job may sit active without its
// worker completing or failing it. Once the lease lapses the claim is
// treated as abandoned, so a worker crash between claim and Complete/Fail
// cannot strand the job.
const LeaseDuration = 5 * time.Minute

// ErrInvalidJob indicates a job missing required fields was scheduled.
var ErrInvalidJob = errors.New("queue: invalid job")

// NewJob assembles a job due after the given delay. The ETA is computed from
// the schedule time, so delay is always measured from now.
func NewJob(id, kind, orderID string, delay time.Duration, now time.Time, opts Options) Job {
	now = now.UTC()
	runAt := now.Add(delay)

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = delay
	}

	state := StateWaiting
	if delay > 0 {
		state = StateDelayed
	}

	return Job{
		ID:   strings.TrimSpace(id),
		Kind: strings.TrimSpace(kind),
		Payload: Payload{
			OrderID:     strings.TrimSpace(orderID),
			ETA:         runAt.Format(time.RFC3339Nano),
			ScheduledAt: now.UnixMilli(),
		},
		State:       state,
		RunAt:       runAt,
		ScheduledAt: now,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		UpdatedAt:   now,
	}
}

// Validate reports whether the job carries the fields the queue requires.
func (j Job) Validate() error {
	if j.ID == "" {
		return errors.New("queue: job id is required")
	}
	if j.Kind == "" {
		return errors.New("queue: job kind is required")
	}
	if j.RunAt.IsZero() {
		return errors.New("queue: job run time is required")
	}
	return nil
}

// Pending reports whether the job may still run.
func (j Job) Pending() bool {
	switch j.State {
	case StateDelayed, StateWaiting, StateActive:
		return true
	}
	return false
}

// Queue is a durable delayed queue. Schedule replaces any job that already
// exists under the same ID, which guarantees at most one pending job per
// job identity at any time. Cancel is a no-op for absent, running, or
// completed jobs.
type Queue interface {
	Schedule(ctx context.Context, job Job) error
	Cancel(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (Job, bool, error)
	List(ctx context.Context, states ...State) ([]Job, error)

	// ClaimDue atomically transitions up to limit due jobs of the given
	// kind to the active state on behalf of workerID, consuming one
	// attempt per claim. Two workers never claim the same job. Active
	// jobs whose lease has lapsed count as due again and may be
	// reclaimed by another worker.
	ClaimDue(ctx context.Context, kind, workerID string, limit int, now time.Time) ([]Job, error)
	// Complete marks an active job as finished.
	Complete(ctx context.Context, jobID string) error
	// Fail records a failed run. Unless terminal, the job is re-delayed by
	// its backoff while attempts remain; otherwise it transitions to failed.
	Fail(ctx context.Context, jobID string, cause error, terminal bool, now time.Time) error
}
