package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/visaflow/golang_services/internal/order_service/domain"
	"github.com/visaflow/golang_services/internal/platform/events"
	"github.com/visaflow/golang_services/internal/platform/messagebroker"
)

// --- Mocks ---

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Order, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) MarkContactSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockOrderRepository) MarkCompleted(ctx context.Context, externalID string, at time.Time) error {
	args := m.Called(ctx, externalID, at)
	return args.Error(0)
}

type MockBrokerClient struct {
	mock.Mock
}

func (m *MockBrokerClient) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

func (m *MockBrokerClient) SubscribeToSubjectWithQueue(ctx context.Context, subject, queueGroup string, handler func(msg messagebroker.Message)) (messagebroker.Subscription, error) {
	args := m.Called(ctx, subject, queueGroup, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(messagebroker.Subscription), args.Error(1)
}

func (m *MockBrokerClient) Close() {
	m.Called()
}

// --- Test setup ---

type intakeTestComponents struct {
	service   *IntakeService
	repo      *MockOrderRepository
	broker    *MockBrokerClient
	syncEvents []events.OrderCreatedForSync
}

func setupIntakeTest(t *testing.T) *intakeTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	comps := &intakeTestComponents{
		repo:   new(MockOrderRepository),
		broker: new(MockBrokerClient),
	}

	bus := events.NewBus(logger)
	require.NoError(t, bus.SubscribeOrderCreatedForSync(func(ctx context.Context, evt events.OrderCreatedForSync) {
		comps.syncEvents = append(comps.syncEvents, evt)
	}))
	bus.Start()

	comps.service = NewIntakeService(comps.repo, comps.broker, bus, logger, IntakeDefaults{Currency: "USD"})
	return comps
}

const validPayload = `{
	"order_id": "IL250819GB16",
	"branch": "IL",
	"client": {"name": "Dana Levi", "phone": "+44 7700 900123", "email": "dana@example.com"},
	"amount": {"value": 89.00, "currency": "GBP"},
	"notify_opt_in": true
}`

// --- Tests ---

func TestIntake_CreateOrderPersistsAndEmitsEvents(t *testing.T) {
	comps := setupIntakeTest(t)
	ctx := context.Background()

	comps.repo.On("Insert", ctx, mock.MatchedBy(func(order *domain.Order) bool {
		return order.ExternalID == "IL250819GB16" &&
			order.Branch == "IL" &&
			order.ClientPhone == "447700900123" &&
			order.AmountMinor == 8900 &&
			order.Currency == "GBP" &&
			order.NotifyOptIn &&
			order.Status == domain.OrderStatusReceived
	})).Return(nil).Once()
	comps.broker.On("Publish", ctx, domain.OrderCreatedSubject, mock.Anything).Return(nil).Once()

	result, err := comps.service.CreateOrder(ctx, []byte(validPayload))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.NotEqual(t, uuid.Nil, result.OrderID)
	assert.Equal(t, "IL250819GB16", result.ExternalID)

	require.Len(t, comps.syncEvents, 1)
	assert.Equal(t, result.OrderID, comps.syncEvents[0].OrderID)
	assert.True(t, comps.syncEvents[0].NotifyOptIn)

	comps.repo.AssertExpectations(t)
	comps.broker.AssertExpectations(t)
}

func TestIntake_DuplicateOrderReturnsExistingIDWithoutEvents(t *testing.T) {
	comps := setupIntakeTest(t)
	ctx := context.Background()
	existingID := uuid.New()

	comps.repo.On("Insert", ctx, mock.Anything).Return(domain.ErrDuplicateOrder).Once()
	comps.repo.On("GetByExternalID", ctx, "IL250819GB16").Return(&domain.Order{
		ID:         existingID,
		ExternalID: "IL250819GB16",
	}, nil).Once()

	result, err := comps.service.CreateOrder(ctx, []byte(validPayload))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, existingID, result.OrderID)

	assert.Empty(t, comps.syncEvents, "duplicate intake must not trigger the sync saga")
	comps.broker.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

// Same external order id submitted twice yields the same internal id both
// times, with the second call emitting nothing.
func TestIntake_ResubmissionYieldsSameOrderID(t *testing.T) {
	comps := setupIntakeTest(t)
	ctx := context.Background()

	var insertedID uuid.UUID
	comps.repo.On("Insert", ctx, mock.Anything).Run(func(args mock.Arguments) {
		insertedID = args.Get(1).(*domain.Order).ID
	}).Return(nil).Once()
	comps.broker.On("Publish", ctx, domain.OrderCreatedSubject, mock.Anything).Return(nil).Once()

	first, err := comps.service.CreateOrder(ctx, []byte(validPayload))
	require.NoError(t, err)

	comps.repo.On("Insert", ctx, mock.Anything).Return(domain.ErrDuplicateOrder).Once()
	comps.repo.On("GetByExternalID", ctx, "IL250819GB16").Return(&domain.Order{
		ID:         insertedID,
		ExternalID: "IL250819GB16",
	}, nil).Once()

	second, err := comps.service.CreateOrder(ctx, []byte(validPayload))
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Len(t, comps.syncEvents, 1, "only the first intake triggers downstream work")
}

func TestIntake_MissingRequiredFieldsAbortBeforePersistence(t *testing.T) {
	comps := setupIntakeTest(t)

	_, err := comps.service.CreateOrder(context.Background(), []byte(`{"branch": "IL"}`))
	require.Error(t, err)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Missing, "order_id")
	assert.Contains(t, validationErr.Missing, "client_phone")
	assert.Contains(t, validationErr.Missing, "amount")

	comps.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestIntake_ToleratesAlternateFieldShapes(t *testing.T) {
	comps := setupIntakeTest(t)
	ctx := context.Background()

	// Flat fields, alternate order id spelling, plain minor-unit amount,
	// no currency anywhere -> configured default applies. Branch derived
	// from the external id prefix.
	payload := `{
		"orderId": "GB250901IN07",
		"client_phone": "0044 7700 900999",
		"amount": 12900,
		"whatsapp_opt_in": false
	}`

	comps.repo.On("Insert", ctx, mock.MatchedBy(func(order *domain.Order) bool {
		return order.ExternalID == "GB250901IN07" &&
			order.Branch == "GB" &&
			order.ClientPhone == "447700900999" &&
			order.AmountMinor == 12900 &&
			order.Currency == "USD" &&
			!order.NotifyOptIn
	})).Return(nil).Once()
	comps.broker.On("Publish", ctx, domain.OrderCreatedSubject, mock.Anything).Return(nil).Once()

	_, err := comps.service.CreateOrder(ctx, []byte(payload))
	require.NoError(t, err)
	comps.repo.AssertExpectations(t)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		minor    int64
		currency string
	}{
		{"plain minor units", `1500`, 1500, ""},
		{"structured whole value", `{"value": 12, "currency": "GBP"}`, 1200, "GBP"},
		{"structured decimal rounds up", `{"value": 1.15, "currency": "GBP"}`, 115, "GBP"},
		{"structured decimal not floored", `{"value": 4.35, "currency": "USD"}`, 435, "USD"},
		{"structured two decimals exact", `{"value": 99.99, "currency": "EUR"}`, 9999, "EUR"},
		{"empty", ``, 0, ""},
		{"garbage", `"abc"`, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minor, currency := parseAmount(json.RawMessage(tt.raw))
			assert.Equal(t, tt.minor, minor)
			assert.Equal(t, tt.currency, currency)
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "447700900123", domain.NormalizePhone("+44 7700 900123"))
	assert.Equal(t, "447700900123", domain.NormalizePhone("0044-7700-900123"))
	assert.Equal(t, "972501234567", domain.NormalizePhone("972 50-123-4567"))
}

func TestBranchFromExternalID(t *testing.T) {
	assert.Equal(t, "IL", domain.BranchFromExternalID("IL250819GB16"))
	assert.Equal(t, "", domain.BranchFromExternalID("1X250819"))
	assert.Equal(t, "", domain.BranchFromExternalID("I"))
}
