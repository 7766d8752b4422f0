package domain

import (
	"database/sql"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// OrderStatus is the processing state of a visa order. Orders are never
// physically deleted; they only move through soft status transitions.
type OrderStatus string

const (
	// OrderStatusReceived means the order was ingested from the upstream webhook.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusProcessing means downstream sync/notification work has started.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted means the visa processing finished (reported by the CRM).
	OrderStatusCompleted OrderStatus = "completed"
)

// Order is one purchased visa-processing request. ExternalID is the
// business-assigned order number (e.g. "IL250819GB16", branch code embedded
// in the prefix) and is globally unique; intake is idempotent on it.
type Order struct {
	ID          uuid.UUID
	ExternalID  string
	Branch      string
	AmountMinor int64 // amount in minor currency units
	Currency    string
	ClientName  string
	ClientPhone string // digits-only international format
	ClientEmail string
	NotifyOptIn bool
	Status      OrderStatus

	ContactSyncedAt sql.NullTime
	ProcessedAt     sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizePhone reduces a phone number to digits-only international form:
// "+44 7700 900123" and "0044-7700-900123" both become "447700900123".
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	digits = strings.TrimPrefix(digits, "00")
	return digits
}

// BranchFromExternalID extracts the branch code embedded in an external order
// identifier's prefix ("IL250819GB16" -> "IL"). Returns "" if the prefix does
// not look like a branch code.
func BranchFromExternalID(externalID string) string {
	if len(externalID) < 2 {
		return ""
	}
	prefix := externalID[:2]
	for _, r := range prefix {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return prefix
}
