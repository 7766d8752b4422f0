package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

// PgConversationRepository is the PostgreSQL implementation of
// domain.ConversationRepository.
type PgConversationRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgConversationRepository(db *pgxpool.Pool, logger *slog.Logger) *PgConversationRepository {
	return &PgConversationRepository{db: db, logger: logger}
}

var _ domain.ConversationRepository = (*PgConversationRepository)(nil)

// Upsert keeps the first-seen recipient and category and lets pricing
// fields update on later callbacks.
func (r *PgConversationRepository) Upsert(ctx context.Context, conv *domain.Conversation) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO conversations (id, recipient_phone, category, pricing_model, billable, expires_at, first_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			pricing_model = EXCLUDED.pricing_model,
			billable      = EXCLUDED.billable,
			expires_at    = COALESCE(EXCLUDED.expires_at, conversations.expires_at),
			updated_at    = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query,
		conv.ID, conv.RecipientPhone, string(conv.Category), conv.PricingModel,
		conv.Billable, conv.ExpiresAt, now,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "error upserting conversation", "error", err, "conversation_id", conv.ID)
	}
	return err
}

func (r *PgConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, recipient_phone, category, pricing_model, billable, expires_at, first_seen_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	var conv domain.Conversation
	var category string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.RecipientPhone, &category, &conv.PricingModel,
		&conv.Billable, &conv.ExpiresAt, &conv.FirstSeenAt, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		r.logger.ErrorContext(ctx, "error querying conversation", "error", err, "conversation_id", id)
		return nil, err
	}
	conv.Category = domain.ConversationCategory(category)
	return &conv, nil
}
