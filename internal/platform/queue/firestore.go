package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/atelierbleu/api/internal/platform/firestore"
)

const jobsCollection = "jobs"

type jobDocument struct {
	Kind        string    `firestore:"kind"`
	Payload     Payload   `firestore:"payload"`
	State       string    `firestore:"state"`
	RunAt       time.Time `firestore:"runAt"`
	ScheduledAt time.Time `firestore:"scheduledAt"`
	Attempts    int       `firestore:"attempts"`
	MaxAttempts int       `firestore:"maxAttempts"`
	BackoffMS   int64     `firestore:"backoffMs"`
	LastError   string    `firestore:"lastError,omitempty"`
	ClaimedBy   string    `firestore:"claimedBy,omitempty"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func toJobDocument(job Job) jobDocument {
	return jobDocument{
		Kind:        job.Kind,
		Payload:     job.Payload,
		State:       string(job.State),
		RunAt:       job.RunAt.UTC(),
		ScheduledAt: job.ScheduledAt.UTC(),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		BackoffMS:   job.Backoff.Milliseconds(),
		LastError:   job.LastError,
		ClaimedBy:   job.ClaimedBy,
		UpdatedAt:   job.UpdatedAt.UTC(),
	}
}

func (d jobDocument) toJob(id string) Job {
	return Job{
		ID:          id,
		Kind:        d.Kind,
		Payload:     d.Payload,
		State:       State(d.State),
		RunAt:       d.RunAt,
		ScheduledAt: d.ScheduledAt,
		Attempts:    d.Attempts,
		MaxAttempts: d.MaxAttempts,
		Backoff:     time.Duration(d.BackoffMS) * time.Millisecond,
		LastError:   d.LastError,
		ClaimedBy:   d.ClaimedBy,
		UpdatedAt:   d.UpdatedAt,
	}
}

// FirestoreQueue persists jobs as documents keyed by job ID, giving the
// queue its de-duplication guarantee for free: scheduling under an existing
// ID overwrites the previous document in a single atomic write.
type FirestoreQueue struct {
	provider *pfirestore.Provider
	jobs     *pfirestore.BaseRepository[jobDocument]
}

// NewFirestoreQueue constructs a Firestore-backed delayed queue.
func NewFirestoreQueue(provider *pfirestore.Provider) (*FirestoreQueue, error) {
	if provider == nil {
		return nil, errors.New("firestore queue requires a provider")
	}
	return &FirestoreQueue{
		provider: provider,
		jobs:     pfirestore.NewBaseRepository[jobDocument](provider, jobsCollection, nil, nil),
	}, nil
}

// Schedule implements Queue. The overwrite resets state, run time, and the
// attempt budget of any job previously scheduled under the same ID.
func (q *FirestoreQueue) Schedule(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	_, err := q.jobs.Set(ctx, job.ID, toJobDocument(job))
	return err
}

// Cancel implements Queue. Only jobs still waiting to run are removed;
// cancelling an absent, running, or finished job is a no-op so terminal
// records stay visible to introspection.
func (q *FirestoreQueue) Cancel(ctx context.Context, jobID string) error {
	err := q.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := q.jobs.DocumentRef(ctx, jobID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc jobDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("queue: decode job %s: %w", jobID, err)
		}
		switch State(doc.State) {
		case StateDelayed, StateWaiting:
			return tx.Delete(ref)
		}
		return nil
	})
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// Get implements Queue.
func (q *FirestoreQueue) Get(ctx context.Context, jobID string) (Job, bool, error) {
	doc, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return Job{}, false, nil
		}
		return Job{}, false, err
	}
	return doc.Data.toJob(doc.ID), true, nil
}

// List implements Queue.
func (q *FirestoreQueue) List(ctx context.Context, states ...State) ([]Job, error) {
	docs, err := q.jobs.Query(ctx, func(query firestore.Query) firestore.Query {
		if len(states) > 0 {
			values := make([]string, 0, len(states))
			for _, s := range states {
				values = append(values, string(s))
			}
			query = query.Where("state", "in", values)
		}
		return query.OrderBy("runAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(docs))
	for _, doc := range docs {
		jobs = append(jobs, doc.Data.toJob(doc.ID))
	}
	return jobs, nil
}

// ClaimDue implements Queue. Candidates are read outside the transaction;
// each claim then re-reads the document transactionally, so a job observed
// by several workers is handed to exactly one of them.
func (q *FirestoreQueue) ClaimDue(ctx context.Context, kind, workerID string, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()

	docs, err := q.jobs.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("kind", "==", kind).
			Where("state", "in", []string{string(StateDelayed), string(StateWaiting)}).
			Where("runAt", "<=", now).
			OrderBy("runAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	// Active jobs whose worker stopped reporting progress are due again.
	stale, err := q.jobs.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("kind", "==", kind).
			Where("state", "==", string(StateActive)).
			Where("updatedAt", "<=", now.Add(-LeaseDuration)).
			OrderBy("updatedAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	docs = append(docs, stale...)

	claimed := make([]Job, 0, len(docs))
	for _, candidate := range docs {
		job, ok, err := q.claimOne(ctx, candidate.ID, workerID, now)
		if err != nil {
			return claimed, err
		}
		if ok {
			claimed = append(claimed, job)
		}
		if len(claimed) >= limit {
			break
		}
	}
	return claimed, nil
}

func (q *FirestoreQueue) claimOne(ctx context.Context, jobID, workerID string, now time.Time) (Job, bool, error) {
	var claimed Job
	var ok bool

	err := q.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ok = false
		ref, err := q.jobs.DocumentRef(ctx, jobID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc jobDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("queue: decode job %s: %w", jobID, err)
		}

		// Another worker may have claimed or the orchestrator cancelled
		// and rescheduled since the query ran.
		switch State(doc.State) {
		case StateDelayed, StateWaiting:
			if doc.RunAt.After(now) {
				return nil
			}
		case StateActive:
			if doc.UpdatedAt.Add(LeaseDuration).After(now) {
				return nil
			}
		default:
			return nil
		}

		doc.State = string(StateActive)
		doc.Attempts++
		doc.ClaimedBy = workerID
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		claimed = doc.toJob(jobID)
		ok = true
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			// Cancelled between query and claim.
			return Job{}, false, nil
		}
		return Job{}, false, err
	}
	return claimed, ok, nil
}

// Complete implements Queue. The document is kept with its terminal state so
// finished work stays visible to queue introspection.
func (q *FirestoreQueue) Complete(ctx context.Context, jobID string) error {
	_, err := q.jobs.Update(ctx, jobID, []firestore.Update{
		{Path: "state", Value: string(StateCompleted)},
		{Path: "lastError", Value: firestore.Delete},
		{Path: "claimedBy", Value: firestore.Delete},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil && isNotFound(err) {
		// Cancelled while running; nothing left to mark.
		return nil
	}
	return err
}

// Fail implements Queue.
func (q *FirestoreQueue) Fail(ctx context.Context, jobID string, cause error, terminal bool, now time.Time) error {
	now = now.UTC()

	err := q.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := q.jobs.DocumentRef(ctx, jobID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc jobDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("queue: decode job %s: %w", jobID, err)
		}

		if cause != nil {
			doc.LastError = cause.Error()
		}
		if terminal || doc.Attempts >= doc.MaxAttempts {
			doc.State = string(StateFailed)
		} else {
			doc.State = string(StateDelayed)
			doc.RunAt = now.Add(time.Duration(doc.BackoffMS) * time.Millisecond)
			doc.ClaimedBy = ""
		}
		doc.UpdatedAt = now
		return tx.Set(ref, doc)
	})
	if err != nil && isNotFound(err) {
		// Cancelled while running.
		return nil
	}
	return err
}

func isNotFound(err error) bool {
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
