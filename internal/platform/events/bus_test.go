package events

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_PublishDispatchesToAllHandlers(t *testing.T) {
	bus := NewBus(testLogger())

	var got []OrderCreatedForSync
	require.NoError(t, bus.SubscribeOrderCreatedForSync(func(ctx context.Context, evt OrderCreatedForSync) {
		got = append(got, evt)
	}))
	require.NoError(t, bus.SubscribeOrderCreatedForSync(func(ctx context.Context, evt OrderCreatedForSync) {
		got = append(got, evt)
	}))
	bus.Start()

	evt := OrderCreatedForSync{
		OrderID:     uuid.New(),
		ExternalID:  "IL250819GB16",
		Branch:      "IL",
		NotifyOptIn: true,
	}
	bus.PublishOrderCreatedForSync(context.Background(), evt)

	require.Len(t, got, 2)
	assert.Equal(t, evt, got[0])
	assert.Equal(t, evt, got[1])
}

func TestBus_SubscribeAfterStartRejected(t *testing.T) {
	bus := NewBus(testLogger())
	bus.Start()

	err := bus.SubscribeOrderCreatedForSync(func(ctx context.Context, evt OrderCreatedForSync) {})
	assert.ErrorIs(t, err, ErrBusAlreadyStarted)
}

func TestBus_PublishWithoutHandlersDoesNotPanic(t *testing.T) {
	bus := NewBus(testLogger())
	bus.Start()

	assert.NotPanics(t, func() {
		bus.PublishOrderCreatedForSync(context.Background(), OrderCreatedForSync{OrderID: uuid.New()})
	})
}
