package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/visaflow/golang_services/internal/contact_service/adapters/crm"
	"github.com/visaflow/golang_services/internal/contact_service/domain"
	jobdomain "github.com/visaflow/golang_services/internal/jobqueue/domain"
	orderdomain "github.com/visaflow/golang_services/internal/order_service/domain"
	syncdomain "github.com/visaflow/golang_services/internal/sync_service/domain"
)

// --- Mocks ---

type MockContactRepository struct {
	mock.Mock
	upserts []domain.Contact
}

func (m *MockContactRepository) UpsertByPhone(ctx context.Context, contact *domain.Contact) error {
	m.upserts = append(m.upserts, *contact)
	args := m.Called(ctx, contact)
	if args.Error(0) == nil && contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *MockContactRepository) GetByPhone(ctx context.Context, phone string) (*domain.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Contact), args.Error(1)
}

type MockOrderRepository_Contact struct {
	mock.Mock
}

func (m *MockOrderRepository_Contact) Insert(ctx context.Context, order *orderdomain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository_Contact) GetByID(ctx context.Context, id uuid.UUID) (*orderdomain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orderdomain.Order), args.Error(1)
}

func (m *MockOrderRepository_Contact) GetByExternalID(ctx context.Context, externalID string) (*orderdomain.Order, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orderdomain.Order), args.Error(1)
}

func (m *MockOrderRepository_Contact) MarkContactSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockOrderRepository_Contact) MarkCompleted(ctx context.Context, externalID string, at time.Time) error {
	args := m.Called(ctx, externalID, at)
	return args.Error(0)
}

type MockCRMClient struct {
	mock.Mock
}

func (m *MockCRMClient) UpsertContact(ctx context.Context, contact crm.ContactUpsert) (string, error) {
	args := m.Called(ctx, contact)
	return args.String(0), args.Error(1)
}

func (m *MockCRMClient) LookupOrder(ctx context.Context, field crm.LookupField, value string) ([]crm.Record, error) {
	args := m.Called(ctx, field, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]crm.Record), args.Error(1)
}

func (m *MockCRMClient) ListCompletedSince(ctx context.Context, since time.Time) ([]crm.CompletedOrder, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]crm.CompletedOrder), args.Error(1)
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syncJob(t *testing.T, orderID uuid.UUID) *jobdomain.Job {
	t.Helper()
	payload, err := json.Marshal(syncdomain.SyncJobPayload{
		OrderID: orderID, ExternalID: "IL250819GB16", Branch: "IL",
	})
	require.NoError(t, err)
	return &jobdomain.Job{ID: uuid.New(), Type: syncdomain.JobTypeContactSync, Payload: payload}
}

func syncableOrder(id uuid.UUID) *orderdomain.Order {
	return &orderdomain.Order{
		ID:          id,
		ExternalID:  "IL250819GB16",
		Branch:      "IL",
		ClientName:  "Dana Levi",
		ClientPhone: "972501234567",
		ClientEmail: "dana@example.com",
		NotifyOptIn: true,
		Status:      orderdomain.OrderStatusReceived,
	}
}

// --- Tests ---

func TestSyncService_HandleContactSyncJob_Success(t *testing.T) {
	contacts := new(MockContactRepository)
	orders := new(MockOrderRepository_Contact)
	crmClient := new(MockCRMClient)
	svc := NewSyncService(contacts, orders, crmClient, testLogger())

	orderID := uuid.New()
	orders.On("GetByID", mock.Anything, orderID).Return(syncableOrder(orderID), nil).Once()
	contacts.On("UpsertByPhone", mock.Anything, mock.Anything).Return(nil).Twice()
	crmClient.On("UpsertContact", mock.Anything, mock.MatchedBy(func(c crm.ContactUpsert) bool {
		return c.Phone == "972501234567" && c.OrderExternalID == "IL250819GB16"
	})).Return("rec_abc123", nil).Once()
	orders.On("MarkContactSynced", mock.Anything, orderID, mock.Anything).Return(nil).Once()

	err := svc.HandleContactSyncJob(context.Background(), syncJob(t, orderID))

	require.NoError(t, err)
	require.Len(t, contacts.upserts, 2)
	assert.Empty(t, contacts.upserts[0].CRMRecordID)
	assert.Equal(t, "rec_abc123", contacts.upserts[1].CRMRecordID)
	assert.True(t, contacts.upserts[1].SyncedAt.Valid)
	orders.AssertExpectations(t)
	crmClient.AssertExpectations(t)
}

func TestSyncService_HandleContactSyncJob_CRMRejection_IsPermanent(t *testing.T) {
	contacts := new(MockContactRepository)
	orders := new(MockOrderRepository_Contact)
	crmClient := new(MockCRMClient)
	svc := NewSyncService(contacts, orders, crmClient, testLogger())

	orderID := uuid.New()
	orders.On("GetByID", mock.Anything, orderID).Return(syncableOrder(orderID), nil).Once()
	contacts.On("UpsertByPhone", mock.Anything, mock.Anything).Return(nil).Once()
	crmClient.On("UpsertContact", mock.Anything, mock.Anything).
		Return("", crm.ErrRejected).Once()

	err := svc.HandleContactSyncJob(context.Background(), syncJob(t, orderID))

	require.Error(t, err)
	assert.True(t, jobdomain.IsPermanent(err))
	orders.AssertNotCalled(t, "MarkContactSynced", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_HandleContactSyncJob_CRMOutage_IsRetryable(t *testing.T) {
	contacts := new(MockContactRepository)
	orders := new(MockOrderRepository_Contact)
	crmClient := new(MockCRMClient)
	svc := NewSyncService(contacts, orders, crmClient, testLogger())

	orderID := uuid.New()
	orders.On("GetByID", mock.Anything, orderID).Return(syncableOrder(orderID), nil).Once()
	contacts.On("UpsertByPhone", mock.Anything, mock.Anything).Return(nil).Once()
	crmClient.On("UpsertContact", mock.Anything, mock.Anything).
		Return("", errors.New("connection reset")).Once()

	err := svc.HandleContactSyncJob(context.Background(), syncJob(t, orderID))

	require.Error(t, err)
	assert.False(t, jobdomain.IsPermanent(err))
}

func TestSyncService_HandleContactSyncJob_MissingOrder_IsPermanent(t *testing.T) {
	contacts := new(MockContactRepository)
	orders := new(MockOrderRepository_Contact)
	crmClient := new(MockCRMClient)
	svc := NewSyncService(contacts, orders, crmClient, testLogger())

	orderID := uuid.New()
	orders.On("GetByID", mock.Anything, orderID).Return(nil, orderdomain.ErrOrderNotFound).Once()

	err := svc.HandleContactSyncJob(context.Background(), syncJob(t, orderID))

	require.Error(t, err)
	assert.True(t, jobdomain.IsPermanent(err))
	contacts.AssertNotCalled(t, "UpsertByPhone", mock.Anything, mock.Anything)
}

func TestSyncService_HandleContactSyncJob_MalformedPayload_IsPermanent(t *testing.T) {
	svc := NewSyncService(new(MockContactRepository), new(MockOrderRepository_Contact), new(MockCRMClient), testLogger())

	job := &jobdomain.Job{ID: uuid.New(), Type: syncdomain.JobTypeContactSync, Payload: []byte("{not json")}
	err := svc.HandleContactSyncJob(context.Background(), job)

	require.Error(t, err)
	assert.True(t, jobdomain.IsPermanent(err))
}
