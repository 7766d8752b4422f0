package domain

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// PlaceholderIDPrefix marks locally assigned message ids, distinguishing
	// them from provider-assigned ones.
	PlaceholderIDPrefix = "temp_"
	// ProviderMessageIDPrefix is the expected format of real provider ids.
	ProviderMessageIDPrefix = "wamid."
)

// OutboundMessage is one attempted notification send. PlaceholderID is
// assigned locally at enqueue time and never changes. ProviderMessageID stays
// NULL until the correlator reconciles the provider's delivery callback;
// once set it is final (re-applying the same value is a no-op).
type OutboundMessage struct {
	ID                uuid.UUID
	PlaceholderID     string
	ProviderMessageID sql.NullString
	RecipientPhone    string // digits-only international format
	OrderID           uuid.NullUUID
	Status            MessageStatus
	TemplateName      string
	ConversationID    sql.NullString
	FailureReason     string

	CreatedAt   time.Time
	SentAt      sql.NullTime
	DeliveredAt sql.NullTime
	ReadAt      sql.NullTime
	FailedAt    sql.NullTime
}

// NewPlaceholderID returns a fresh placeholder message id.
func NewPlaceholderID() string {
	return PlaceholderIDPrefix + uuid.NewString()
}

// ValidProviderMessageID reports whether id looks like a real provider
// message id.
func ValidProviderMessageID(id string) bool {
	return strings.HasPrefix(id, ProviderMessageIDPrefix) && len(id) > len(ProviderMessageIDPrefix)
}

// StatusCounts aggregates messages by lifecycle state.
type StatusCounts struct {
	Queued    int64
	Sent      int64
	Delivered int64
	Read      int64
	Failed    int64
}
