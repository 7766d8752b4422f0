package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderCreatedSubject is the broker subject for the durable order-created event.
const OrderCreatedSubject = "orders.created"

// OrderCreatedEvent is the durable domain event published on a fresh order
// creation, consumed by audit and read-model subscribers. Duplicate intakes
// do not re-publish it.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	ExternalID  string    `json:"external_id"`
	Branch      string    `json:"branch"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	NotifyOptIn bool      `json:"notify_opt_in"`
	CreatedAt   time.Time `json:"created_at"`
}
