package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrderRepository is the order store. Insert must return ErrDuplicateOrder
// when the external id is already present.
type OrderRepository interface {
	Insert(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*Order, error)

	// MarkContactSynced records when the contact-sync job finished for the order.
	MarkContactSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkCompleted flips the order to completed with its processing timestamp.
	MarkCompleted(ctx context.Context, externalID string, at time.Time) error
}
