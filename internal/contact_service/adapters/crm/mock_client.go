package crm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MockClient is an in-memory CRM for local runs and tests. Records are keyed
// by phone number.
type MockClient struct {
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]Record
	nextID  int

	// Knobs for failure simulation.
	FailUpsert     bool
	RejectUpsert   bool
	SimulatedDelay time.Duration

	Completed []CompletedOrder
}

func NewMockClient(logger *slog.Logger) *MockClient {
	return &MockClient{
		logger:  logger.With("component", "mock_crm_client"),
		records: make(map[string]Record),
	}
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) UpsertContact(ctx context.Context, contact ContactUpsert) (string, error) {
	if m.SimulatedDelay > 0 {
		select {
		case <-time.After(m.SimulatedDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.RejectUpsert {
		return "", fmt.Errorf("%w: simulated rejection", ErrRejected)
	}
	if m.FailUpsert {
		return "", fmt.Errorf("simulated crm outage")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[contact.Phone]
	if !ok {
		m.nextID++
		record = Record{
			ID:          fmt.Sprintf("rec_mock_%d", m.nextID),
			Fields:      map[string]any{},
			CreatedTime: time.Now().UTC(),
		}
	}
	record.Fields["Phone"] = contact.Phone
	record.Fields["Name"] = contact.Name
	record.Fields["Email"] = contact.Email
	record.Fields["Branch"] = contact.Branch
	record.Fields["ID"] = contact.OrderExternalID
	m.records[contact.Phone] = record

	m.logger.DebugContext(ctx, "mock crm upserted contact", "phone", contact.Phone, "record_id", record.ID)
	return record.ID, nil
}

func (m *MockClient) LookupOrder(ctx context.Context, field LookupField, value string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	column, err := columnFor(field)
	if err != nil {
		return nil, err
	}

	var matches []Record
	for _, record := range m.records {
		if got, _ := record.Fields[column].(string); got == value {
			matches = append(matches, record)
		}
	}
	if len(matches) == 0 && field == LookupByPhone {
		if variant := israeliPhoneVariant(value); variant != "" {
			for _, record := range m.records {
				if got, _ := record.Fields[column].(string); got == variant {
					matches = append(matches, record)
				}
			}
		}
	}
	return matches, nil
}

func (m *MockClient) ListCompletedSince(_ context.Context, since time.Time) ([]CompletedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []CompletedOrder
	for _, order := range m.Completed {
		if order.CompletedAt.After(since) {
			out = append(out, order)
		}
	}
	return out, nil
}
