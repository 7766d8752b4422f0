package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded around sync attempts.
const (
	AuditResyncRequested = "resync_requested"
	AuditResyncCompleted = "resync_completed"
	AuditResyncFailed    = "resync_failed"
)

// AuditEntry is one append-only record of an administrative or orchestration
// action against an order.
type AuditEntry struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Action    string
	Detail    string
	CreatedAt time.Time
}

// AuditRepository is the append-only audit trail store.
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID, limit int) ([]*AuditEntry, error)
}
