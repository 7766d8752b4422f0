package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/visaflow/golang_services/internal/platform/events"
	"github.com/visaflow/golang_services/internal/sync_service/domain"
)

// SyncHandler is implemented by the Orchestrator.
type SyncHandler interface {
	HandleSync(ctx context.Context, cmd domain.SyncCommand) error
}

// Saga translates the order-created-for-sync event into a sync command. It is
// a pure event-to-command bridge: its only logic is filtering malformed
// events. Downstream failures are logged, never propagated, so order intake
// cannot fail because of sync availability.
type Saga struct {
	handler SyncHandler
	logger  *slog.Logger
}

// NewSaga creates a Saga.
func NewSaga(handler SyncHandler, logger *slog.Logger) *Saga {
	return &Saga{
		handler: handler,
		logger:  logger.With("component", "sync_saga"),
	}
}

// Register subscribes the saga on the event bus. Called once at startup,
// before the bus is started.
func (s *Saga) Register(bus *events.Bus) error {
	return bus.SubscribeOrderCreatedForSync(s.onOrderCreatedForSync)
}

func (s *Saga) onOrderCreatedForSync(ctx context.Context, evt events.OrderCreatedForSync) {
	if evt.OrderID == uuid.Nil {
		s.logger.WarnContext(ctx, "discarding malformed order-created-for-sync event", "external_id", evt.ExternalID)
		return
	}

	cmd := domain.SyncCommand{
		OrderID:     evt.OrderID,
		ExternalID:  evt.ExternalID,
		Branch:      evt.Branch,
		NotifyOptIn: evt.NotifyOptIn,
	}
	if err := s.handler.HandleSync(ctx, cmd); err != nil {
		s.logger.ErrorContext(ctx, "sync command failed; order intake unaffected",
			"order_id", evt.OrderID, "external_id", evt.ExternalID, "error", err)
	}
}
