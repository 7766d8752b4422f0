package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

// StatusUpdate is one delivery-status signal extracted from a provider
// callback.
type StatusUpdate struct {
	ProviderMessageID string
	PlaceholderID     string // fallback lookup key when provider id is absent
	Status            domain.MessageStatus
	Timestamp         time.Time
	FailureReason     string
	Conversation      *ConversationRef
}

// ConversationRef is the conversation metadata attached to a callback.
type ConversationRef struct {
	ID           string
	Category     string
	PricingModel string
	Billable     bool
	ExpiresAt    time.Time
}

// DeliveryTracker applies delivery-status callbacks to outbound messages,
// enforcing the forward-only lifecycle, and maintains the conversation
// registry.
type DeliveryTracker struct {
	messages      domain.OutboundMessageRepository
	conversations domain.ConversationRepository
	logger        *slog.Logger
}

func NewDeliveryTracker(messages domain.OutboundMessageRepository, conversations domain.ConversationRepository, logger *slog.Logger) *DeliveryTracker {
	return &DeliveryTracker{
		messages:      messages,
		conversations: conversations,
		logger:        logger.With("component", "delivery_tracker"),
	}
}

// ApplyStatus applies one callback. Same-status replay is an idempotent
// success; a backward move is logged and counted but not an error, since the
// provider will retry on anything else.
func (t *DeliveryTracker) ApplyStatus(ctx context.Context, update StatusUpdate) error {
	if !update.Status.Valid() {
		return fmt.Errorf("unknown delivery status %q", update.Status)
	}

	msg, err := t.resolve(ctx, update)
	if err != nil {
		return err
	}

	if update.Conversation != nil {
		t.applyConversation(ctx, msg, update.Conversation)
	}

	if msg.Status == update.Status {
		t.logger.DebugContext(ctx, "duplicate delivery status ignored",
			"message_id", msg.ID, "status", update.Status)
		return nil
	}
	if !msg.Status.CanTransition(update.Status) {
		backwardTransitionsCounter.WithLabelValues(string(msg.Status), string(update.Status)).Inc()
		t.logger.WarnContext(ctx, "out-of-order delivery status dropped",
			"message_id", msg.ID, "current", msg.Status, "reported", update.Status)
		return nil
	}

	at := update.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	reason := ""
	if update.Status == domain.MessageStatusFailed {
		reason = normalizeFailureReason(update.FailureReason)
	}
	if err := t.messages.UpdateStatus(ctx, msg.ID, update.Status, at, reason); err != nil {
		return fmt.Errorf("failed to update message %s to %s: %w", msg.ID, update.Status, err)
	}

	statusTransitionsCounter.WithLabelValues(string(update.Status)).Inc()
	t.logger.InfoContext(ctx, "delivery status applied",
		"message_id", msg.ID, "from", msg.Status, "to", update.Status)
	return nil
}

// CountsByStatus returns global message counts per lifecycle state.
func (t *DeliveryTracker) CountsByStatus(ctx context.Context) (domain.StatusCounts, error) {
	return t.messages.CountsByStatus(ctx)
}

// CountsForOrder returns per-order message counts.
func (t *DeliveryTracker) CountsForOrder(ctx context.Context, orderID uuid.UUID) (domain.StatusCounts, error) {
	return t.messages.CountsByStatusForOrder(ctx, orderID)
}

// CountsForRecipient returns per-recipient message counts.
func (t *DeliveryTracker) CountsForRecipient(ctx context.Context, phone string) (domain.StatusCounts, error) {
	return t.messages.CountsByStatusForRecipient(ctx, phone)
}

// FailedSince lists messages that failed after the given time.
func (t *DeliveryTracker) FailedSince(ctx context.Context, since time.Time) ([]*domain.OutboundMessage, error) {
	return t.messages.FailedSince(ctx, since)
}

func (t *DeliveryTracker) resolve(ctx context.Context, update StatusUpdate) (*domain.OutboundMessage, error) {
	if update.ProviderMessageID != "" {
		msg, err := t.messages.GetByProviderMessageID(ctx, update.ProviderMessageID)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, domain.ErrMessageNotFound) {
			return nil, err
		}
	}
	if update.PlaceholderID != "" {
		msg, err := t.messages.GetByPlaceholderID(ctx, update.PlaceholderID)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, domain.ErrMessageNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: provider_id=%q placeholder_id=%q",
		domain.ErrMessageNotFound, update.ProviderMessageID, update.PlaceholderID)
}

// applyConversation attaches the conversation reference to the message and
// upserts the registry. Registry failures are logged, not propagated: the
// delivery status itself must still apply.
func (t *DeliveryTracker) applyConversation(ctx context.Context, msg *domain.OutboundMessage, ref *ConversationRef) {
	if !msg.ConversationID.Valid || msg.ConversationID.String != ref.ID {
		if err := t.messages.SetConversationID(ctx, msg.ID, ref.ID); err != nil {
			t.logger.ErrorContext(ctx, "failed to attach conversation to message",
				"message_id", msg.ID, "conversation_id", ref.ID, "error", err)
		}
	}

	conv := &domain.Conversation{
		ID:             ref.ID,
		RecipientPhone: msg.RecipientPhone,
		Category:       domain.ConversationCategory(strings.ToLower(ref.Category)),
		PricingModel:   ref.PricingModel,
		Billable:       ref.Billable,
	}
	if !ref.ExpiresAt.IsZero() {
		conv.ExpiresAt = sql.NullTime{Time: ref.ExpiresAt, Valid: true}
	}
	if err := t.conversations.Upsert(ctx, conv); err != nil {
		t.logger.ErrorContext(ctx, "failed to upsert conversation",
			"conversation_id", ref.ID, "error", err)
	}
}

// normalizeFailureReason flattens provider error text to a short,
// comparison-friendly form.
func normalizeFailureReason(raw string) string {
	reason := strings.TrimSpace(strings.ToLower(raw))
	if reason == "" {
		return "unknown"
	}
	reason = strings.Join(strings.Fields(reason), " ")
	if len(reason) > 200 {
		// Cut on a rune boundary; provider error text is not always ASCII.
		cut := 200
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return reason
}
