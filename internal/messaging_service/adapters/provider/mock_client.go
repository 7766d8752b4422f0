package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

// MockClient simulates the messaging provider for local runs and tests.
type MockClient struct {
	logger *slog.Logger

	mu    sync.Mutex
	Sent  []SendRequest
	calls int

	// Knobs for failure simulation.
	RejectSend     bool
	FailSend       bool
	SimulatedDelay time.Duration
}

func NewMockClient(logger *slog.Logger) *MockClient {
	return &MockClient{logger: logger.With("component", "mock_provider_client")}
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) SendTemplate(ctx context.Context, req SendRequest) (SendAck, error) {
	if m.SimulatedDelay > 0 {
		select {
		case <-time.After(m.SimulatedDelay):
		case <-ctx.Done():
			return SendAck{}, ctx.Err()
		}
	}
	if m.RejectSend {
		return SendAck{}, fmt.Errorf("%w: simulated rejection", domain.ErrSendRejected)
	}
	if m.FailSend {
		return SendAck{}, fmt.Errorf("simulated provider outage")
	}

	m.mu.Lock()
	m.Sent = append(m.Sent, req)
	m.calls++
	m.mu.Unlock()

	ack := SendAck{ProviderMessageID: domain.ProviderMessageIDPrefix + uuid.NewString()}
	m.logger.DebugContext(ctx, "mock provider accepted send",
		"to", req.To, "template", req.Template, "provider_message_id", ack.ProviderMessageID)
	return ack, nil
}

// SentCount returns how many sends the mock accepted.
func (m *MockClient) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
