package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atelierbleu/api/internal/platform/queue"
)

// NewInvoiceJobHandler builds the queue handler that materialises invoices
// for due jobs. Outcomes classify as follows: a created or already existing
// invoice completes the job, a missing order fails it terminally, and a not
// yet eligible order is retried on the job's backoff in case the status
// settles later.
func NewInvoiceJobHandler(invoices InvoiceService, logger func(ctx context.Context, event string, fields map[string]any)) queue.Handler {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return func(ctx context.Context, job queue.Job) error {
		orderID := strings.TrimSpace(job.Payload.OrderID)
		if orderID == "" {
			if derived, ok := OrderIDFromJob(job.ID); ok {
				orderID = derived
			}
		}
		if orderID == "" {
			return fmt.Errorf("%w: job %s carries no order id", queue.ErrTerminal, job.ID)
		}

		result, err := invoices.CreateFromOrder(ctx, CreateInvoiceCommand{OrderID: orderID})
		switch {
		case err == nil:
			logger(ctx, "invoice.job.done", map[string]any{
				"job":     job.ID,
				"order":   orderID,
				"outcome": string(result.Outcome),
				"invoice": result.Invoice.ID,
			})
			return nil
		case errors.Is(err, ErrInvoiceOrderNotFound):
			return fmt.Errorf("%w: %v", queue.ErrTerminal, err)
		case errors.Is(err, ErrInvoiceInvalidInput):
			return fmt.Errorf("%w: %v", queue.ErrTerminal, err)
		case errors.Is(err, ErrInvoiceNotEligible):
			return err
		default:
			return err
		}
	}
}
