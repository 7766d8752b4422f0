package domain

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Contact is the local mirror of a client record pushed to the CRM. Keyed by
// normalized phone number; repeated orders from the same client update the
// existing row.
type Contact struct {
	ID              uuid.UUID
	Phone           string // digits-only international format, unique
	Name            string
	Email           string
	Branch          string
	OrderExternalID string // most recent order that touched this contact
	CRMRecordID     string // id assigned by the external CRM, "" until synced
	SyncedAt        sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ContactRepository is the local contact store.
type ContactRepository interface {
	// UpsertByPhone inserts or refreshes the contact row for contact.Phone
	// and fills contact.ID with the stored id.
	UpsertByPhone(ctx context.Context, contact *Contact) error
	GetByPhone(ctx context.Context, phone string) (*Contact, error)
}
