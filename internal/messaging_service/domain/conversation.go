package domain

import (
	"database/sql"
	"time"
)

// ConversationCategory is the provider's billing category for a messaging
// session.
type ConversationCategory string

const (
	ConversationAuthentication ConversationCategory = "authentication"
	ConversationMarketing      ConversationCategory = "marketing"
	ConversationUtility        ConversationCategory = "utility"
	ConversationService        ConversationCategory = "service"
)

// Conversation is a provider-billed session between the business and one
// recipient. At most one active conversation per (recipient, category) is
// tracked; expired rows are retained for reporting. Category and origin are
// first-seen-wins, pricing fields may update on later callbacks.
type Conversation struct {
	ID             string // provider-assigned
	RecipientPhone string
	Category       ConversationCategory
	PricingModel   string
	Billable       bool
	ExpiresAt      sql.NullTime
	FirstSeenAt    time.Time
	UpdatedAt      time.Time
}
