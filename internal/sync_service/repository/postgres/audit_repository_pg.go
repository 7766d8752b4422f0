package postgres

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visaflow/golang_services/internal/sync_service/domain"
)

// PgAuditRepository is the PostgreSQL implementation of domain.AuditRepository.
// Expects table:
//
//	sync_audit_log(id uuid PK, order_id uuid NULL, action text, detail text,
//	               created_at timestamptz)
type PgAuditRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgAuditRepository creates a new PostgreSQL audit repository.
func NewPgAuditRepository(db *pgxpool.Pool, logger *slog.Logger) *PgAuditRepository {
	return &PgAuditRepository{db: db, logger: logger}
}

var _ domain.AuditRepository = (*PgAuditRepository)(nil)

func (r *PgAuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO sync_audit_log (id, order_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	// uuid.Nil order ids are stored as NULL: some audit actions (failed
	// lookups) have no resolved order.
	var orderID any
	if entry.OrderID != uuid.Nil {
		orderID = entry.OrderID
	}
	_, err := r.db.Exec(ctx, query, entry.ID, orderID, entry.Action, entry.Detail, entry.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "error appending sync audit entry", "error", err, "action", entry.Action)
		return err
	}
	return nil
}

func (r *PgAuditRepository) ListByOrder(ctx context.Context, orderID uuid.UUID, limit int) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, COALESCE(order_id, $3), action, detail, created_at
		FROM sync_audit_log
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, orderID, limit, uuid.Nil)
	if err != nil {
		r.logger.ErrorContext(ctx, "error listing sync audit entries", "error", err, "order_id", orderID)
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Action, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
