package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboundMessageRepository is the outbound message store.
type OutboundMessageRepository interface {
	Insert(ctx context.Context, msg *OutboundMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*OutboundMessage, error)
	GetByPlaceholderID(ctx context.Context, placeholderID string) (*OutboundMessage, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*OutboundMessage, error)

	// FindLatestByPhone returns the newest message to phone created after
	// cutoff, or ErrMessageNotFound. No reconciliation filter: the caller
	// distinguishes unreconciled candidates from already-reconciled ones.
	FindLatestByPhone(ctx context.Context, phone string, cutoff time.Time) (*OutboundMessage, error)

	// AssignProviderMessageID sets the provider id on a message that does
	// not have one yet. Returns false when the row was already reconciled
	// (the guard did not match) so the caller can re-read and classify.
	AssignProviderMessageID(ctx context.Context, id uuid.UUID, providerMessageID string) (bool, error)

	// UpdateStatus moves the message to status and stamps the matching
	// timestamp column. failureReason is only stored for failed.
	UpdateStatus(ctx context.Context, id uuid.UUID, status MessageStatus, at time.Time, failureReason string) error

	// SetConversationID attaches a conversation reference if none is set.
	SetConversationID(ctx context.Context, id uuid.UUID, conversationID string) error

	CountsByStatus(ctx context.Context) (StatusCounts, error)
	CountsByStatusForOrder(ctx context.Context, orderID uuid.UUID) (StatusCounts, error)
	CountsByStatusForRecipient(ctx context.Context, phone string) (StatusCounts, error)
	FailedSince(ctx context.Context, since time.Time) ([]*OutboundMessage, error)
}

// ConversationRepository is the conversation registry. Upsert is
// first-seen-wins for category and recipient; pricing model, billable flag
// and expiry may update.
type ConversationRepository interface {
	Upsert(ctx context.Context, conv *Conversation) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
}

// CorrelationAudit is one successful placeholder-to-real-id reconciliation.
type CorrelationAudit struct {
	ID                uuid.UUID
	MessageID         uuid.UUID
	PlaceholderID     string
	ProviderMessageID string
	RawToken          string
	Elapsed           time.Duration
	CreatedAt         time.Time
}

// CorrelationAuditRepository records reconciliations for manual review.
type CorrelationAuditRepository interface {
	Append(ctx context.Context, audit *CorrelationAudit) error
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*CorrelationAudit, error)
}
