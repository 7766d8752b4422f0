package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jqdomain "github.com/visaflow/golang_services/internal/jobqueue/domain"
	orderdomain "github.com/visaflow/golang_services/internal/order_service/domain"
	"github.com/visaflow/golang_services/internal/sync_service/domain"
)

// JobEnqueuer is the slice of the job queue the orchestrator needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, queue jqdomain.Queue, jobType string, payload []byte) (uuid.UUID, error)
}

// Orchestrator drives the per-order sync flow: one contact-sync job always,
// one notification job only when the client opted in. The two jobs are
// independent queue entries; the notification job is only enqueued once the
// sync job is confirmed queued, but a later failure of one does not roll back
// the other.
type Orchestrator struct {
	queue  JobEnqueuer
	orders orderdomain.OrderRepository
	audit  domain.AuditRepository
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(queue JobEnqueuer, orders orderdomain.OrderRepository, audit domain.AuditRepository, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		queue:  queue,
		orders: orders,
		audit:  audit,
		logger: logger.With("component", "sync_orchestrator"),
	}
}

// HandleSync enqueues the jobs for one sync command.
func (o *Orchestrator) HandleSync(ctx context.Context, cmd domain.SyncCommand) error {
	payload, err := json.Marshal(domain.SyncJobPayload{
		OrderID:    cmd.OrderID,
		ExternalID: cmd.ExternalID,
		Branch:     cmd.Branch,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sync job payload: %w", err)
	}

	syncJobID, err := o.queue.Enqueue(ctx, jqdomain.QueueDefault, domain.JobTypeContactSync, payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue contact sync job: %w", err)
	}
	o.logger.InfoContext(ctx, "enqueued contact sync job",
		"order_id", cmd.OrderID, "external_id", cmd.ExternalID, "job_id", syncJobID)

	if !cmd.NotifyOptIn {
		o.logger.InfoContext(ctx, "notification skipped; client did not opt in",
			"order_id", cmd.OrderID, "external_id", cmd.ExternalID)
		return nil
	}

	notifyJobID, err := o.queue.Enqueue(ctx, jqdomain.QueueCritical, domain.JobTypeNotificationSend, payload)
	if err != nil {
		// The sync job is already queued and stays queued.
		return fmt.Errorf("failed to enqueue notification job: %w", err)
	}
	o.logger.InfoContext(ctx, "enqueued notification job",
		"order_id", cmd.OrderID, "external_id", cmd.ExternalID, "job_id", notifyJobID)
	return nil
}

// Resync re-runs the sync flow for an order by external id. It is the manual
// administrative twin of the saga-triggered path and deliberately funnels into
// the same HandleSync code. Audit entries are written before and after the
// attempt regardless of outcome.
func (o *Orchestrator) Resync(ctx context.Context, externalID string) error {
	o.appendAudit(ctx, uuid.Nil, domain.AuditResyncRequested, fmt.Sprintf("external_id=%s", externalID))

	order, err := o.orders.GetByExternalID(ctx, externalID)
	if err != nil {
		o.appendAudit(ctx, uuid.Nil, domain.AuditResyncFailed, fmt.Sprintf("external_id=%s lookup: %v", externalID, err))
		return fmt.Errorf("resync lookup for %q failed: %w", externalID, err)
	}

	cmd := domain.SyncCommand{
		OrderID:     order.ID,
		ExternalID:  order.ExternalID,
		Branch:      order.Branch,
		NotifyOptIn: order.NotifyOptIn,
	}
	if err := o.HandleSync(ctx, cmd); err != nil {
		o.appendAudit(ctx, order.ID, domain.AuditResyncFailed, err.Error())
		return err
	}

	o.appendAudit(ctx, order.ID, domain.AuditResyncCompleted, fmt.Sprintf("external_id=%s", externalID))
	return nil
}

// appendAudit never fails the surrounding flow; audit loss is logged.
func (o *Orchestrator) appendAudit(ctx context.Context, orderID uuid.UUID, action, detail string) {
	entry := &domain.AuditEntry{
		ID:        uuid.New(),
		OrderID:   orderID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		o.logger.ErrorContext(ctx, "failed to append audit entry",
			"action", action, "order_id", orderID, "error", err)
	}
}
