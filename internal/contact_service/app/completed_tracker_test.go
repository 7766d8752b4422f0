package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/visaflow/golang_services/internal/contact_service/adapters/crm"
	jobdomain "github.com/visaflow/golang_services/internal/jobqueue/domain"
	orderdomain "github.com/visaflow/golang_services/internal/order_service/domain"
	syncdomain "github.com/visaflow/golang_services/internal/sync_service/domain"
)

func scanJob(t *testing.T, after time.Time) *jobdomain.Job {
	t.Helper()
	payload, err := json.Marshal(syncdomain.CompletedScanPayload{After: after})
	require.NoError(t, err)
	return &jobdomain.Job{ID: uuid.New(), Type: syncdomain.JobTypeCompletedScan, Payload: payload}
}

func TestCompletedTracker_MarksReportedOrders(t *testing.T) {
	orders := new(MockOrderRepository_Contact)
	crmClient := new(MockCRMClient)
	tracker := NewCompletedTracker(orders, crmClient, testLogger())

	after := time.Now().Add(-10 * time.Minute)
	completedAt := time.Now().Add(-2 * time.Minute)
	crmClient.On("ListCompletedSince", mock.Anything, mock.Anything).Return([]crm.CompletedOrder{
		{ExternalID: "IL250819GB16", CompletedAt: completedAt},
		{ExternalID: "UK250820FR02", CompletedAt: completedAt},
	}, nil).Once()

	pending := &orderdomain.Order{ID: uuid.New(), ExternalID: "IL250819GB16", Status: orderdomain.OrderStatusProcessing}
	done := &orderdomain.Order{ID: uuid.New(), ExternalID: "UK250820FR02", Status: orderdomain.OrderStatusCompleted}
	orders.On("GetByExternalID", mock.Anything, "IL250819GB16").Return(pending, nil).Once()
	orders.On("GetByExternalID", mock.Anything, "UK250820FR02").Return(done, nil).Once()
	orders.On("MarkCompleted", mock.Anything, "IL250819GB16", completedAt).Return(nil).Once()

	err := tracker.HandleCompletedScanJob(context.Background(), scanJob(t, after))

	require.NoError(t, err)
	orders.AssertExpectations(t)
	// The already-completed order must not be touched again.
	orders.AssertNumberOfCalls(t, "MarkCompleted", 1)
}

func TestCompletedTracker_SkipsUnknownOrders(t *testing.T) {
	orders := new(MockOrderRepository_Contact)
	crmClient := new(MockCRMClient)
	tracker := NewCompletedTracker(orders, crmClient, testLogger())

	crmClient.On("ListCompletedSince", mock.Anything, mock.Anything).Return([]crm.CompletedOrder{
		{ExternalID: "ZZ000000XX00", CompletedAt: time.Now()},
	}, nil).Once()
	orders.On("GetByExternalID", mock.Anything, "ZZ000000XX00").
		Return(nil, orderdomain.ErrOrderNotFound).Once()

	err := tracker.HandleCompletedScanJob(context.Background(), scanJob(t, time.Now().Add(-time.Hour)))

	require.NoError(t, err)
	orders.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything, mock.Anything)
}

func TestCompletedTracker_MissingCutoff_IsPermanent(t *testing.T) {
	tracker := NewCompletedTracker(new(MockOrderRepository_Contact), new(MockCRMClient), testLogger())

	payload, err := json.Marshal(syncdomain.CompletedScanPayload{})
	require.NoError(t, err)
	job := &jobdomain.Job{ID: uuid.New(), Type: syncdomain.JobTypeCompletedScan, Payload: payload}

	err = tracker.HandleCompletedScanJob(context.Background(), job)

	require.Error(t, err)
	assert.True(t, jobdomain.IsPermanent(err))
}
