package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue provides an in-memory Queue implementation with the same
// semantics as the Firestore-backed queue, useful for testing and local
// development.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemoryQueue constructs an empty memory-backed queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]Job)}
}

// Schedule implements Queue. An existing job under the same ID is replaced
// wholesale, including its attempt count.
func (q *MemoryQueue) Schedule(_ context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	return nil
}

// Cancel implements Queue. Only jobs still waiting to run are removed;
// cancelling an unknown, running, or finished job is a no-op so terminal
// records stay visible to introspection.
func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	if job.State != StateDelayed && job.State != StateWaiting {
		return nil
	}
	delete(q.jobs, jobID)
	return nil
}

// Get implements Queue.
func (q *MemoryQueue) Get(_ context.Context, jobID string) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

// List implements Queue. Passing no states returns every job.
func (q *MemoryQueue) List(_ context.Context, states ...State) ([]Job, error) {
	wanted := make(map[State]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []Job
	for _, job := range q.jobs {
		if len(wanted) == 0 || wanted[job.State] {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].RunAt.Before(jobs[j].RunAt) })
	return jobs, nil
}

// ClaimDue implements Queue.
func (q *MemoryQueue) ClaimDue(_ context.Context, kind, workerID string, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	var due []string
	for id, job := range q.jobs {
		if job.Kind != kind {
			continue
		}
		switch job.State {
		case StateDelayed, StateWaiting:
			if job.RunAt.After(now) {
				continue
			}
		case StateActive:
			// Reclaim only once the previous worker's lease lapsed.
			if job.UpdatedAt.Add(LeaseDuration).After(now) {
				continue
			}
		default:
			continue
		}
		due = append(due, id)
	}
	sort.Slice(due, func(i, j int) bool {
		return q.jobs[due[i]].RunAt.Before(q.jobs[due[j]].RunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Job, 0, len(due))
	for _, id := range due {
		job := q.jobs[id]
		job.State = StateActive
		job.Attempts++
		job.ClaimedBy = workerID
		job.UpdatedAt = now
		q.jobs[id] = job
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Complete implements Queue. Completing a cancelled job is a no-op.
func (q *MemoryQueue) Complete(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	job.State = StateCompleted
	job.LastError = ""
	job.UpdatedAt = time.Now().UTC()
	q.jobs[jobID] = job
	return nil
}

// Fail implements Queue.
func (q *MemoryQueue) Fail(_ context.Context, jobID string, cause error, terminal bool, now time.Time) error {
	now = now.UTC()

	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}

	if cause != nil {
		job.LastError = cause.Error()
	}
	if terminal || job.Attempts >= job.MaxAttempts {
		job.State = StateFailed
	} else {
		job.State = StateDelayed
		job.RunAt = now.Add(job.Backoff)
		job.ClaimedBy = ""
	}
	job.UpdatedAt = now
	q.jobs[jobID] = job
	return nil
}
