// Package postgres implements the messaging stores on PostgreSQL.
//
// Expected schema:
//
//	outbound_messages(id uuid PK, placeholder_id text UNIQUE, provider_message_id text NULL UNIQUE,
//	    recipient_phone text, order_id uuid NULL, status text, template_name text,
//	    conversation_id text NULL, failure_reason text, created_at timestamptz,
//	    sent_at timestamptz NULL, delivered_at timestamptz NULL,
//	    read_at timestamptz NULL, failed_at timestamptz NULL)
//	conversations(id text PK, recipient_phone text, category text, pricing_model text,
//	    billable boolean, expires_at timestamptz NULL, first_seen_at timestamptz, updated_at timestamptz)
//	correlation_audit_log(id uuid PK, message_id uuid, placeholder_id text,
//	    provider_message_id text, raw_token text, elapsed_ms bigint, created_at timestamptz)
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

// PgOutboundMessageRepository is the PostgreSQL implementation of
// domain.OutboundMessageRepository.
type PgOutboundMessageRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgOutboundMessageRepository(db *pgxpool.Pool, logger *slog.Logger) *PgOutboundMessageRepository {
	return &PgOutboundMessageRepository{db: db, logger: logger}
}

var _ domain.OutboundMessageRepository = (*PgOutboundMessageRepository)(nil)

const messageColumns = `id, placeholder_id, provider_message_id, recipient_phone, order_id, status, template_name, conversation_id, failure_reason, created_at, sent_at, delivered_at, read_at, failed_at`

func (r *PgOutboundMessageRepository) Insert(ctx context.Context, msg *domain.OutboundMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO outbound_messages (id, placeholder_id, recipient_phone, order_id, status, template_name, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.PlaceholderID, msg.RecipientPhone, msg.OrderID,
		string(msg.Status), msg.TemplateName, msg.FailureReason, msg.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "error inserting outbound message", "error", err, "placeholder_id", msg.PlaceholderID)
		return err
	}
	return nil
}

func (r *PgOutboundMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboundMessage, error) {
	return r.queryOne(ctx, `SELECT `+messageColumns+` FROM outbound_messages WHERE id = $1`, id)
}

func (r *PgOutboundMessageRepository) GetByPlaceholderID(ctx context.Context, placeholderID string) (*domain.OutboundMessage, error) {
	return r.queryOne(ctx, `SELECT `+messageColumns+` FROM outbound_messages WHERE placeholder_id = $1`, placeholderID)
}

func (r *PgOutboundMessageRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.OutboundMessage, error) {
	return r.queryOne(ctx, `SELECT `+messageColumns+` FROM outbound_messages WHERE provider_message_id = $1`, providerMessageID)
}

func (r *PgOutboundMessageRepository) FindLatestByPhone(ctx context.Context, phone string, cutoff time.Time) (*domain.OutboundMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM outbound_messages
		WHERE recipient_phone = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.queryOne(ctx, query, phone, cutoff)
}

func (r *PgOutboundMessageRepository) AssignProviderMessageID(ctx context.Context, id uuid.UUID, providerMessageID string) (bool, error) {
	query := `
		UPDATE outbound_messages
		SET provider_message_id = $2
		WHERE id = $1 AND provider_message_id IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, providerMessageID)
	if err != nil {
		r.logger.ErrorContext(ctx, "error assigning provider message id", "error", err, "message_id", id)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgOutboundMessageRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus, at time.Time, failureReason string) error {
	column, err := timestampColumn(status)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE outbound_messages
		SET status = $2, %s = $3, failure_reason = $4
		WHERE id = $1`, column)
	tag, err := r.db.Exec(ctx, query, id, string(status), at, failureReason)
	if err != nil {
		r.logger.ErrorContext(ctx, "error updating message status", "error", err, "message_id", id, "status", status)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *PgOutboundMessageRepository) SetConversationID(ctx context.Context, id uuid.UUID, conversationID string) error {
	query := `
		UPDATE outbound_messages
		SET conversation_id = $2
		WHERE id = $1 AND conversation_id IS NULL
	`
	_, err := r.db.Exec(ctx, query, id, conversationID)
	if err != nil {
		r.logger.ErrorContext(ctx, "error setting conversation id", "error", err, "message_id", id)
	}
	return err
}

func (r *PgOutboundMessageRepository) CountsByStatus(ctx context.Context) (domain.StatusCounts, error) {
	return r.counts(ctx, `SELECT status, COUNT(*) FROM outbound_messages GROUP BY status`)
}

func (r *PgOutboundMessageRepository) CountsByStatusForOrder(ctx context.Context, orderID uuid.UUID) (domain.StatusCounts, error) {
	return r.counts(ctx, `SELECT status, COUNT(*) FROM outbound_messages WHERE order_id = $1 GROUP BY status`, orderID)
}

func (r *PgOutboundMessageRepository) CountsByStatusForRecipient(ctx context.Context, phone string) (domain.StatusCounts, error) {
	return r.counts(ctx, `SELECT status, COUNT(*) FROM outbound_messages WHERE recipient_phone = $1 GROUP BY status`, phone)
}

func (r *PgOutboundMessageRepository) FailedSince(ctx context.Context, since time.Time) ([]*domain.OutboundMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM outbound_messages
		WHERE status = $1 AND failed_at >= $2
		ORDER BY failed_at DESC
	`
	rows, err := r.db.Query(ctx, query, string(domain.MessageStatusFailed), since)
	if err != nil {
		r.logger.ErrorContext(ctx, "error listing failed messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.OutboundMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *PgOutboundMessageRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.OutboundMessage, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		r.logger.ErrorContext(ctx, "error querying outbound message", "error", err)
		return nil, err
	}
	return msg, nil
}

func (r *PgOutboundMessageRepository) counts(ctx context.Context, query string, args ...any) (domain.StatusCounts, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "error counting messages by status", "error", err)
		return domain.StatusCounts{}, err
	}
	defer rows.Close()

	var counts domain.StatusCounts
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return domain.StatusCounts{}, err
		}
		switch domain.MessageStatus(status) {
		case domain.MessageStatusQueued:
			counts.Queued = count
		case domain.MessageStatusSent:
			counts.Sent = count
		case domain.MessageStatusDelivered:
			counts.Delivered = count
		case domain.MessageStatusRead:
			counts.Read = count
		case domain.MessageStatusFailed:
			counts.Failed = count
		}
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.OutboundMessage, error) {
	var msg domain.OutboundMessage
	var status string
	err := row.Scan(
		&msg.ID, &msg.PlaceholderID, &msg.ProviderMessageID, &msg.RecipientPhone,
		&msg.OrderID, &status, &msg.TemplateName, &msg.ConversationID, &msg.FailureReason,
		&msg.CreatedAt, &msg.SentAt, &msg.DeliveredAt, &msg.ReadAt, &msg.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Status = domain.MessageStatus(status)
	return &msg, nil
}

func timestampColumn(status domain.MessageStatus) (string, error) {
	switch status {
	case domain.MessageStatusSent:
		return "sent_at", nil
	case domain.MessageStatusDelivered:
		return "delivered_at", nil
	case domain.MessageStatusRead:
		return "read_at", nil
	case domain.MessageStatusFailed:
		return "failed_at", nil
	}
	return "", fmt.Errorf("no timestamp column for status %q", status)
}
