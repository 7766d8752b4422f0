package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/visaflow/golang_services/internal/contact_service/adapters/crm"
	"github.com/visaflow/golang_services/internal/contact_service/domain"
	jobdomain "github.com/visaflow/golang_services/internal/jobqueue/domain"
	orderdomain "github.com/visaflow/golang_services/internal/order_service/domain"
	syncdomain "github.com/visaflow/golang_services/internal/sync_service/domain"
)

// SyncService handles contacts.sync jobs: mirror the order's client into the
// local contact store, push it to the external CRM, and mark the order's
// contact step done.
type SyncService struct {
	contacts domain.ContactRepository
	orders   orderdomain.OrderRepository
	crm      crm.Client
	logger   *slog.Logger
}

func NewSyncService(contacts domain.ContactRepository, orders orderdomain.OrderRepository, crmClient crm.Client, logger *slog.Logger) *SyncService {
	return &SyncService{
		contacts: contacts,
		orders:   orders,
		crm:      crmClient,
		logger:   logger.With("component", "contact_sync"),
	}
}

// HandleContactSyncJob is the worker handler for contacts.sync.
func (s *SyncService) HandleContactSyncJob(ctx context.Context, job *jobdomain.Job) error {
	var payload syncdomain.SyncJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobdomain.Permanent(fmt.Errorf("malformed contact sync payload: %w", err))
	}

	order, err := s.orders.GetByID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return jobdomain.Permanent(fmt.Errorf("order %s no longer exists: %w", payload.OrderID, err))
		}
		return fmt.Errorf("failed to load order %s: %w", payload.OrderID, err)
	}

	contact := &domain.Contact{
		Phone:           order.ClientPhone,
		Name:            order.ClientName,
		Email:           order.ClientEmail,
		Branch:          order.Branch,
		OrderExternalID: order.ExternalID,
	}
	if err := s.contacts.UpsertByPhone(ctx, contact); err != nil {
		return fmt.Errorf("failed to upsert local contact for %s: %w", order.ClientPhone, err)
	}

	recordID, err := s.crm.UpsertContact(ctx, crm.ContactUpsert{
		Phone:           order.ClientPhone,
		Name:            order.ClientName,
		Email:           order.ClientEmail,
		Branch:          order.Branch,
		OrderExternalID: order.ExternalID,
	})
	if err != nil {
		if errors.Is(err, crm.ErrRejected) {
			return jobdomain.Permanent(fmt.Errorf("crm rejected contact for order %s: %w", order.ExternalID, err))
		}
		return fmt.Errorf("crm upsert for order %s failed: %w", order.ExternalID, err)
	}

	syncedAt := time.Now().UTC()
	contact.CRMRecordID = recordID
	contact.SyncedAt = sql.NullTime{Time: syncedAt, Valid: true}
	if err := s.contacts.UpsertByPhone(ctx, contact); err != nil {
		return fmt.Errorf("failed to record crm id for %s: %w", order.ClientPhone, err)
	}

	if err := s.orders.MarkContactSynced(ctx, order.ID, syncedAt); err != nil {
		return fmt.Errorf("failed to mark order %s contact-synced: %w", order.ExternalID, err)
	}

	s.logger.InfoContext(ctx, "contact synced to crm",
		"order_external_id", order.ExternalID, "phone", order.ClientPhone, "crm_record_id", recordID)
	return nil
}
