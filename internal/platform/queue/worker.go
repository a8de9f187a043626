package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrTerminal wraps handler failures that must not be retried. Any other
// handler error is treated as retryable and consumes one attempt.
var ErrTerminal = errors.New("queue: terminal job failure")

// Handler processes one claimed job. Returning nil completes the job.
type Handler func(ctx context.Context, job Job) error

const (
	defaultConcurrency  = 5
	defaultPollInterval = time.Second
)

var workerTracer = otel.Tracer("github.com/atelierbleu/api/internal/platform/queue")

// WorkerDeps bundles collaborators required to construct a Worker.
type WorkerDeps struct {
	Queue       Queue
	Kind        string
	Handler     Handler
	WorkerID    string
	Concurrency int
	// PollInterval is how often the queue is checked for due jobs.
	PollInterval time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Worker polls the queue for due jobs of one kind and dispatches them to the
// handler on a bounded pool of goroutines. Job identity keeps executions for
// the same logical task serialized at the queue layer, so the worker itself
// needs no cross-job coordination.
type Worker struct {
	queue        Queue
	kind         string
	handler      Handler
	workerID     string
	concurrency  int
	pollInterval time.Duration
	clock        func() time.Time
	logger       *zap.Logger
}

// NewWorker wires dependencies into a Worker.
func NewWorker(deps WorkerDeps) (*Worker, error) {
	if deps.Queue == nil {
		return nil, errors.New("worker: queue is required")
	}
	if deps.Handler == nil {
		return nil, errors.New("worker: handler is required")
	}
	if deps.Kind == "" {
		return nil, errors.New("worker: job kind is required")
	}

	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	pollInterval := deps.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workerID := deps.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}

	return &Worker{
		queue:        deps.Queue,
		kind:         deps.Kind,
		handler:      deps.Handler,
		workerID:     workerID,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		clock:        func() time.Time { return clock().UTC() },
		logger:       logger,
	}, nil
}

// Run polls until the context is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		zap.String("kind", w.kind),
		zap.Int("concurrency", w.concurrency),
		zap.Duration("poll_interval", w.pollInterval),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.logger.Info("worker stopped", zap.String("kind", w.kind))
			return
		case <-ticker.C:
			w.poll(ctx, sem, &wg)
		}
	}
}

func (w *Worker) poll(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	free := w.concurrency - len(sem)
	if free <= 0 {
		return
	}

	jobs, err := w.queue.ClaimDue(ctx, w.kind, w.workerID, free, w.clock())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("claim due jobs failed", zap.String("kind", w.kind), zap.Error(err))
		return
	}

	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, job)
		}(job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	ctx, span := workerTracer.Start(ctx, "queue.process", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("order_id", job.Payload.OrderID),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
	)

	err := w.handler(ctx, job)
	if err == nil {
		if err := w.queue.Complete(ctx, job.ID); err != nil {
			logger.Warn("mark job completed failed", zap.Error(err))
		}
		logger.Info("job completed")
		span.SetStatus(codes.Ok, "completed")
		return
	}

	terminal := errors.Is(err, ErrTerminal)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if failErr := w.queue.Fail(ctx, job.ID, err, terminal, w.clock()); failErr != nil {
		logger.Warn("mark job failed errored", zap.Error(failErr))
	}

	switch {
	case terminal:
		logger.Error("job failed permanently", zap.Error(err))
	case job.Attempts >= job.MaxAttempts:
		logger.Error("job dropped after exhausting attempts", zap.Error(err))
	default:
		logger.Warn("job failed, will retry", zap.Error(err), zap.Duration("backoff", job.Backoff))
	}
}
