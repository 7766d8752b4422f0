package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

// PgCorrelationAuditRepository is the PostgreSQL implementation of
// domain.CorrelationAuditRepository.
type PgCorrelationAuditRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgCorrelationAuditRepository(db *pgxpool.Pool, logger *slog.Logger) *PgCorrelationAuditRepository {
	return &PgCorrelationAuditRepository{db: db, logger: logger}
}

var _ domain.CorrelationAuditRepository = (*PgCorrelationAuditRepository)(nil)

func (r *PgCorrelationAuditRepository) Append(ctx context.Context, audit *domain.CorrelationAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO correlation_audit_log (id, message_id, placeholder_id, provider_message_id, raw_token, elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		audit.ID, audit.MessageID, audit.PlaceholderID, audit.ProviderMessageID,
		audit.RawToken, audit.Elapsed.Milliseconds(), audit.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "error appending correlation audit", "error", err, "message_id", audit.MessageID)
	}
	return err
}

func (r *PgCorrelationAuditRepository) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*domain.CorrelationAudit, error) {
	query := `
		SELECT id, message_id, placeholder_id, provider_message_id, raw_token, elapsed_ms, created_at
		FROM correlation_audit_log
		WHERE message_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, messageID)
	if err != nil {
		r.logger.ErrorContext(ctx, "error listing correlation audits", "error", err, "message_id", messageID)
		return nil, err
	}
	defer rows.Close()

	var audits []*domain.CorrelationAudit
	for rows.Next() {
		var audit domain.CorrelationAudit
		var elapsedMs int64
		if err := rows.Scan(&audit.ID, &audit.MessageID, &audit.PlaceholderID,
			&audit.ProviderMessageID, &audit.RawToken, &elapsedMs, &audit.CreatedAt); err != nil {
			return nil, err
		}
		audit.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		audits = append(audits, &audit)
	}
	return audits, rows.Err()
}
