package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atelierbleu/api/internal/platform/queue"
)

// JobKindCreateInvoice identifies deferred invoice creation jobs in the queue.
const JobKindCreateInvoice = "create-invoice"

// ErrSchedulerInvalidJob indicates a job id outside the invoice namespace.
var ErrSchedulerInvalidJob = errors.New("invoice scheduler: invalid job id")

// InvoiceJobID derives the queue job identity for an order. One order maps
// to exactly one job id, which is what makes scheduling idempotent and
// cancellation addressable without scanning the queue.
func InvoiceJobID(orderID string) string {
	return JobKindCreateInvoice + ":" + strings.TrimSpace(orderID)
}

// OrderIDFromJob recovers the order id from an invoice job id.
func OrderIDFromJob(jobID string) (string, bool) {
	rest, ok := strings.CutPrefix(jobID, JobKindCreateInvoice+":")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// InvoiceSchedulerDeps bundles collaborators required to construct the scheduler.
type InvoiceSchedulerDeps struct {
	Queue       queue.Queue
	Delay       time.Duration
	MaxAttempts int
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type invoiceScheduler struct {
	queue       queue.Queue
	delay       time.Duration
	maxAttempts int
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewInvoiceScheduler wires dependencies into a concrete InvoiceScheduler implementation.
func NewInvoiceScheduler(deps InvoiceSchedulerDeps) (InvoiceScheduler, error) {
	if deps.Queue == nil {
		return nil, errors.New("invoice scheduler: queue is required")
	}
	if deps.Delay <= 0 {
		return nil, errors.New("invoice scheduler: delay must be positive")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &invoiceScheduler{
		queue:       deps.Queue,
		delay:       deps.Delay,
		maxAttempts: deps.MaxAttempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ScheduleInvoice enqueues the deferred invoice job for the order. An
// existing job under the same identity is replaced, so repeated delivered
// transitions push the run time out instead of stacking jobs. Queue failures
// are logged and swallowed.
func (s *invoiceScheduler) ScheduleInvoice(ctx context.Context, order Order) {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return
	}

	now := s.clock()
	job := queue.NewJob(InvoiceJobID(orderID), JobKindCreateInvoice, orderID, s.delay, now, queue.Options{
		MaxAttempts: s.maxAttempts,
		Backoff:     s.delay,
	})

	if err := s.queue.Schedule(ctx, job); err != nil {
		s.logger(ctx, "invoice.schedule.failed", map[string]any{
			"order": orderID,
			"job":   job.ID,
			"error": err.Error(),
		})
		return
	}

	s.logger(ctx, "invoice.scheduled", map[string]any{
		"order": orderID,
		"job":   job.ID,
		"eta":   job.Payload.ETA,
	})
}

// CancelInvoice removes any pending invoice job for the order. Cancelling an
// absent or already finished job is a no-op; queue failures are logged and
// swallowed.
func (s *invoiceScheduler) CancelInvoice(ctx context.Context, orderID string) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return
	}

	jobID := InvoiceJobID(orderID)
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		s.logger(ctx, "invoice.cancel.failed", map[string]any{
			"order": orderID,
			"job":   jobID,
			"error": err.Error(),
		})
		return
	}

	s.logger(ctx, "invoice.cancelled", map[string]any{
		"order": orderID,
		"job":   jobID,
	})
}

// PendingJobs lists the invoice jobs that may still run, soonest first.
func (s *invoiceScheduler) PendingJobs(ctx context.Context) ([]PendingInvoiceJob, error) {
	jobs, err := s.queue.List(ctx, queue.PendingStates...)
	if err != nil {
		return nil, fmt.Errorf("invoice scheduler: list jobs: %w", err)
	}

	now := s.clock()
	pending := make([]PendingInvoiceJob, 0, len(jobs))
	for _, job := range jobs {
		if job.Kind != JobKindCreateInvoice {
			continue
		}
		runAt := job.RunAt
		msLeft := runAt.Sub(now).Milliseconds()
		if msLeft < 0 {
			msLeft = 0
		}
		pending = append(pending, PendingInvoiceJob{
			JobID:    job.ID,
			OrderID:  job.Payload.OrderID,
			State:    string(job.State),
			Attempts: job.Attempts,
			RunAt:    &runAt,
			ETA:      job.Payload.ETA,
			MSLeft:   msLeft,
		})
	}
	return pending, nil
}

// CancelJob cancels a pending invoice job by its queue identity. Jobs that
// were enqueued under a different identity but whose payload names the same
// order are swept up too, so the admin cancel works even when the derived
// lookup misses.
func (s *invoiceScheduler) CancelJob(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	orderID, ok := OrderIDFromJob(jobID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSchedulerInvalidJob, jobID)
	}
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		return fmt.Errorf("invoice scheduler: cancel %s: %w", jobID, err)
	}

	jobs, err := s.queue.List(ctx, queue.PendingStates...)
	if err != nil {
		return fmt.Errorf("invoice scheduler: list jobs: %w", err)
	}
	for _, job := range jobs {
		if job.ID == jobID || job.Kind != JobKindCreateInvoice || job.Payload.OrderID != orderID {
			continue
		}
		if err := s.queue.Cancel(ctx, job.ID); err != nil {
			return fmt.Errorf("invoice scheduler: cancel %s: %w", job.ID, err)
		}
	}
	return nil
}
