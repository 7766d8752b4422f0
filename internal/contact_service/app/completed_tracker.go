package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/visaflow/golang_services/internal/contact_service/adapters/crm"
	jobdomain "github.com/visaflow/golang_services/internal/jobqueue/domain"
	orderdomain "github.com/visaflow/golang_services/internal/order_service/domain"
	syncdomain "github.com/visaflow/golang_services/internal/sync_service/domain"
)

// CompletedTracker handles orders.completed_scan jobs: ask the CRM for orders
// finished since the payload cutoff and mark the matching local rows
// completed. Marking is idempotent, so overlapping scan windows are harmless.
type CompletedTracker struct {
	orders orderdomain.OrderRepository
	crm    crm.Client
	logger *slog.Logger
}

func NewCompletedTracker(orders orderdomain.OrderRepository, crmClient crm.Client, logger *slog.Logger) *CompletedTracker {
	return &CompletedTracker{
		orders: orders,
		crm:    crmClient,
		logger: logger.With("component", "completed_tracker"),
	}
}

// HandleCompletedScanJob is the worker handler for orders.completed_scan.
func (t *CompletedTracker) HandleCompletedScanJob(ctx context.Context, job *jobdomain.Job) error {
	var payload syncdomain.CompletedScanPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobdomain.Permanent(fmt.Errorf("malformed completed scan payload: %w", err))
	}
	if payload.After.IsZero() {
		return jobdomain.Permanent(errors.New("completed scan payload missing cutoff"))
	}

	completed, err := t.crm.ListCompletedSince(ctx, payload.After)
	if err != nil {
		return fmt.Errorf("crm completed-orders query failed: %w", err)
	}

	marked := 0
	for _, entry := range completed {
		order, err := t.orders.GetByExternalID(ctx, entry.ExternalID)
		if err != nil {
			if errors.Is(err, orderdomain.ErrOrderNotFound) {
				t.logger.WarnContext(ctx, "crm reported unknown order as completed", "order_external_id", entry.ExternalID)
				continue
			}
			return fmt.Errorf("failed to load order %s: %w", entry.ExternalID, err)
		}
		if order.Status == orderdomain.OrderStatusCompleted {
			continue
		}
		if err := t.orders.MarkCompleted(ctx, order.ExternalID, entry.CompletedAt); err != nil {
			return fmt.Errorf("failed to complete order %s: %w", entry.ExternalID, err)
		}
		marked++
	}

	t.logger.InfoContext(ctx, "completed scan finished",
		"after", payload.After, "reported", len(completed), "marked", marked)
	return nil
}
