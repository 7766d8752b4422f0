package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visaflow/golang_services/internal/order_service/domain"
)

// uniqueViolationCode is PostgreSQL's unique_violation error code. The
// translation to domain.ErrDuplicateOrder happens here and nowhere else, so
// the rest of the system stays store-agnostic.
const uniqueViolationCode = "23505"

// PgOrderRepository is the PostgreSQL implementation of domain.OrderRepository.
// Expects table:
//
//	orders(id uuid PK, external_id text UNIQUE, branch text, amount_minor bigint,
//	       currency text, client_name text, client_phone text, client_email text,
//	       notify_opt_in boolean, status text, contact_synced_at timestamptz NULL,
//	       processed_at timestamptz NULL, created_at timestamptz, updated_at timestamptz)
type PgOrderRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgOrderRepository creates a new PostgreSQL order repository.
func NewPgOrderRepository(db *pgxpool.Pool, logger *slog.Logger) *PgOrderRepository {
	return &PgOrderRepository{db: db, logger: logger}
}

var _ domain.OrderRepository = (*PgOrderRepository)(nil)

const orderColumns = `id, external_id, branch, amount_minor, currency, client_name, client_phone, client_email, notify_opt_in, status, contact_synced_at, processed_at, created_at, updated_at`

func (r *PgOrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, external_id, branch, amount_minor, currency, client_name, client_phone, client_email, notify_opt_in, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		order.ID, order.ExternalID, order.Branch, order.AmountMinor, order.Currency,
		order.ClientName, order.ClientPhone, order.ClientEmail, order.NotifyOptIn,
		string(order.Status), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ErrDuplicateOrder
		}
		r.logger.ErrorContext(ctx, "error inserting order", "error", err, "external_id", order.ExternalID)
		return err
	}
	return nil
}

func (r *PgOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

func (r *PgOrderRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE external_id = $1`
	return r.queryOne(ctx, query, externalID)
}

func (r *PgOrderRepository) MarkContactSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE orders
		SET contact_synced_at = $1, status = $2, updated_at = $3
		WHERE id = $4
	`
	tag, err := r.db.Exec(ctx, query, at, string(domain.OrderStatusProcessing), time.Now().UTC(), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "error marking order contact-synced", "error", err, "order_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *PgOrderRepository) MarkCompleted(ctx context.Context, externalID string, at time.Time) error {
	query := `
		UPDATE orders
		SET processed_at = $1, status = $2, updated_at = $3
		WHERE external_id = $4
	`
	tag, err := r.db.Exec(ctx, query, at, string(domain.OrderStatusCompleted), time.Now().UTC(), externalID)
	if err != nil {
		r.logger.ErrorContext(ctx, "error marking order completed", "error", err, "external_id", externalID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *PgOrderRepository) queryOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var order domain.Order
	var status string
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&order.ID, &order.ExternalID, &order.Branch, &order.AmountMinor, &order.Currency,
		&order.ClientName, &order.ClientPhone, &order.ClientEmail, &order.NotifyOptIn,
		&status, &order.ContactSyncedAt, &order.ProcessedAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		r.logger.ErrorContext(ctx, "error querying order", "error", err)
		return nil, err
	}
	order.Status = domain.OrderStatus(status)
	return &order, nil
}
