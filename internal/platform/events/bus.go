package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// OrderCreatedForSync is the lightweight in-process event emitted by order
// intake on a fresh (non-duplicate) creation. It carries just enough for the
// sync saga to issue its command; audit consumers use the durable broker
// event instead.
type OrderCreatedForSync struct {
	OrderID     uuid.UUID
	ExternalID  string
	Branch      string
	NotifyOptIn bool
}

// OrderCreatedForSyncHandler reacts to an OrderCreatedForSync event.
type OrderCreatedForSyncHandler func(ctx context.Context, evt OrderCreatedForSync)

// Bus is a minimal typed in-process publish/subscribe registry. The handler
// set is fixed at startup: Subscribe calls after Start are rejected, so the
// composition root wires everything before serving traffic.
type Bus struct {
	mu      sync.RWMutex
	started bool
	logger  *slog.Logger

	orderCreatedForSync []OrderCreatedForSyncHandler
}

// NewBus creates an empty event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger.With("component", "event_bus")}
}

// SubscribeOrderCreatedForSync registers a handler. Must be called before Start.
func (b *Bus) SubscribeOrderCreatedForSync(h OrderCreatedForSyncHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrBusAlreadyStarted
	}
	b.orderCreatedForSync = append(b.orderCreatedForSync, h)
	return nil
}

// Start freezes the handler set. Publishing before Start is allowed but
// discouraged; it simply dispatches to whatever is registered so far.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
}

// PublishOrderCreatedForSync dispatches the event synchronously to every
// registered handler. Handlers are expected to be cheap (enqueue-only); any
// slow work belongs on the job queue.
func (b *Bus) PublishOrderCreatedForSync(ctx context.Context, evt OrderCreatedForSync) {
	b.mu.RLock()
	handlers := b.orderCreatedForSync
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.WarnContext(ctx, "no handlers registered for OrderCreatedForSync event",
			"order_id", evt.OrderID, "external_id", evt.ExternalID)
		return
	}

	for _, h := range handlers {
		h(ctx, evt)
	}
}
