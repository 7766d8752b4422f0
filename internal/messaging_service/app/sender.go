package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jobdomain "github.com/visaflow/golang_services/internal/jobqueue/domain"
	"github.com/visaflow/golang_services/internal/messaging_service/adapters/provider"
	"github.com/visaflow/golang_services/internal/messaging_service/correlation"
	"github.com/visaflow/golang_services/internal/messaging_service/domain"
	orderdomain "github.com/visaflow/golang_services/internal/order_service/domain"
	syncdomain "github.com/visaflow/golang_services/internal/sync_service/domain"
)

// SenderConfig names the template used for order-received notifications.
type SenderConfig struct {
	TemplateName string
	Language     string
}

// Sender handles notifications.send jobs: create a queued outbound message
// with a fresh placeholder id, hand it to the provider, and record the
// dispatch. The provider's ack confirms acceptance only; delivery status and
// the real message id arrive later over the webhook.
type Sender struct {
	orders   orderdomain.OrderRepository
	messages domain.OutboundMessageRepository
	provider provider.Client
	config   SenderConfig
	logger   *slog.Logger
}

func NewSender(orders orderdomain.OrderRepository, messages domain.OutboundMessageRepository, providerClient provider.Client, config SenderConfig, logger *slog.Logger) *Sender {
	return &Sender{
		orders:   orders,
		messages: messages,
		provider: providerClient,
		config:   config,
		logger:   logger.With("component", "notification_sender"),
	}
}

// HandleNotificationJob is the worker handler for notifications.send.
func (s *Sender) HandleNotificationJob(ctx context.Context, job *jobdomain.Job) error {
	var payload syncdomain.SyncJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobdomain.Permanent(fmt.Errorf("malformed notification payload: %w", err))
	}

	order, err := s.orders.GetByID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return jobdomain.Permanent(fmt.Errorf("order %s no longer exists: %w", payload.OrderID, err))
		}
		return fmt.Errorf("failed to load order %s: %w", payload.OrderID, err)
	}

	msg := &domain.OutboundMessage{
		PlaceholderID:  domain.NewPlaceholderID(),
		RecipientPhone: order.ClientPhone,
		OrderID:        uuid.NullUUID{UUID: order.ID, Valid: true},
		Status:         domain.MessageStatusQueued,
		TemplateName:   s.config.TemplateName,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist outbound message: %w", err)
	}

	token, err := correlation.Encode(correlation.Token{
		PlaceholderID: msg.PlaceholderID,
		OrderID:       order.ID,
		Phone:         order.ClientPhone,
	})
	if err != nil {
		return jobdomain.Permanent(fmt.Errorf("failed to encode correlation token: %w", err))
	}

	ack, err := s.provider.SendTemplate(ctx, provider.SendRequest{
		To:              order.ClientPhone,
		Template:        s.config.TemplateName,
		Language:        s.config.Language,
		Params:          []string{order.ClientName, order.ExternalID},
		CorrelationData: token,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSendRejected) {
			s.markFailed(ctx, msg.ID, err)
			sendsCounter.WithLabelValues("rejected").Inc()
			return jobdomain.Permanent(fmt.Errorf("send for order %s rejected: %w", order.ExternalID, err))
		}
		sendsCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("send for order %s failed: %w", order.ExternalID, err)
	}

	if err := s.messages.UpdateStatus(ctx, msg.ID, domain.MessageStatusSent, time.Now().UTC(), ""); err != nil {
		// The provider accepted the message; retrying the job would send a
		// duplicate. The webhook's sent callback will converge the status.
		s.logger.ErrorContext(ctx, "send accepted but status update failed",
			"message_id", msg.ID, "error", err)
	}

	sendsCounter.WithLabelValues("accepted").Inc()
	s.logger.InfoContext(ctx, "notification dispatched",
		"order_external_id", order.ExternalID, "placeholder_id", msg.PlaceholderID,
		"ack_provider_id", ack.ProviderMessageID)
	return nil
}

func (s *Sender) markFailed(ctx context.Context, id uuid.UUID, cause error) {
	reason := normalizeFailureReason(cause.Error())
	if err := s.messages.UpdateStatus(ctx, id, domain.MessageStatusFailed, time.Now().UTC(), reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to record send failure", "message_id", id, "error", err)
	}
}
