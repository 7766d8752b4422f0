// Package postgres implements the contact store on PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE contacts (
//	    id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//	    phone             TEXT NOT NULL UNIQUE,
//	    name              TEXT NOT NULL DEFAULT '',
//	    email             TEXT NOT NULL DEFAULT '',
//	    branch            TEXT NOT NULL DEFAULT '',
//	    order_external_id TEXT NOT NULL DEFAULT '',
//	    crm_record_id     TEXT NOT NULL DEFAULT '',
//	    synced_at         TIMESTAMPTZ,
//	    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visaflow/golang_services/internal/contact_service/domain"
)

type pgContactRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgContactRepository(db *pgxpool.Pool, logger *slog.Logger) domain.ContactRepository {
	return &pgContactRepository{db: db, logger: logger.With("component", "pg_contact_repository")}
}

func (r *pgContactRepository) UpsertByPhone(ctx context.Context, contact *domain.Contact) error {
	query := `
		INSERT INTO contacts (phone, name, email, branch, order_external_id, crm_record_id, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO UPDATE SET
			name              = EXCLUDED.name,
			email             = EXCLUDED.email,
			branch            = EXCLUDED.branch,
			order_external_id = EXCLUDED.order_external_id,
			crm_record_id     = CASE WHEN EXCLUDED.crm_record_id = '' THEN contacts.crm_record_id ELSE EXCLUDED.crm_record_id END,
			synced_at         = COALESCE(EXCLUDED.synced_at, contacts.synced_at),
			updated_at        = now()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		contact.Phone, contact.Name, contact.Email, contact.Branch,
		contact.OrderExternalID, contact.CRMRecordID, contact.SyncedAt,
	).Scan(&contact.ID, &contact.CreatedAt, &contact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert contact %s: %w", contact.Phone, err)
	}
	return nil
}

func (r *pgContactRepository) GetByPhone(ctx context.Context, phone string) (*domain.Contact, error) {
	query := `
		SELECT id, phone, name, email, branch, order_external_id, crm_record_id, synced_at, created_at, updated_at
		FROM contacts
		WHERE phone = $1`

	var contact domain.Contact
	err := r.db.QueryRow(ctx, query, phone).Scan(
		&contact.ID, &contact.Phone, &contact.Name, &contact.Email, &contact.Branch,
		&contact.OrderExternalID, &contact.CRMRecordID, &contact.SyncedAt,
		&contact.CreatedAt, &contact.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrContactNotFound
		}
		return nil, fmt.Errorf("failed to get contact by phone %s: %w", phone, err)
	}
	return &contact, nil
}
