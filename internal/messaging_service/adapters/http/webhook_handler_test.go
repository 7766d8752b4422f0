package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visaflow/golang_services/internal/messaging_service/app"
	"github.com/visaflow/golang_services/internal/messaging_service/correlation"
	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

// fakeMessageStore is an in-memory OutboundMessageRepository so handler tests
// exercise the full verify-reconcile-track path.
type fakeMessageStore struct {
	mu       sync.Mutex
	messages []*domain.OutboundMessage
}

func (s *fakeMessageStore) Insert(_ context.Context, msg *domain.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeMessageStore) GetByID(_ context.Context, id uuid.UUID) (*domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (s *fakeMessageStore) GetByPlaceholderID(_ context.Context, placeholderID string) (*domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.PlaceholderID == placeholderID {
			return msg, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (s *fakeMessageStore) GetByProviderMessageID(_ context.Context, providerMessageID string) (*domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ProviderMessageID.Valid && msg.ProviderMessageID.String == providerMessageID {
			return msg, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (s *fakeMessageStore) FindLatestByPhone(_ context.Context, phone string, cutoff time.Time) (*domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *domain.OutboundMessage
	for _, msg := range s.messages {
		if msg.RecipientPhone != phone || msg.CreatedAt.Before(cutoff) {
			continue
		}
		if newest == nil || msg.CreatedAt.After(newest.CreatedAt) {
			newest = msg
		}
	}
	if newest == nil {
		return nil, domain.ErrMessageNotFound
	}
	return newest, nil
}

func (s *fakeMessageStore) AssignProviderMessageID(_ context.Context, id uuid.UUID, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			if msg.ProviderMessageID.Valid {
				return false, nil
			}
			msg.ProviderMessageID.String = providerMessageID
			msg.ProviderMessageID.Valid = true
			return true, nil
		}
	}
	return false, domain.ErrMessageNotFound
}

func (s *fakeMessageStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.MessageStatus, at time.Time, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			msg.Status = status
			msg.FailureReason = failureReason
			return nil
		}
	}
	return domain.ErrMessageNotFound
}

func (s *fakeMessageStore) SetConversationID(_ context.Context, id uuid.UUID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			msg.ConversationID.String = conversationID
			msg.ConversationID.Valid = true
			return nil
		}
	}
	return domain.ErrMessageNotFound
}

func (s *fakeMessageStore) CountsByStatus(context.Context) (domain.StatusCounts, error) {
	return domain.StatusCounts{}, nil
}

func (s *fakeMessageStore) CountsByStatusForOrder(context.Context, uuid.UUID) (domain.StatusCounts, error) {
	return domain.StatusCounts{}, nil
}

func (s *fakeMessageStore) CountsByStatusForRecipient(context.Context, string) (domain.StatusCounts, error) {
	return domain.StatusCounts{}, nil
}

func (s *fakeMessageStore) FailedSince(context.Context, time.Time) ([]*domain.OutboundMessage, error) {
	return nil, nil
}

type fakeConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
}

func (s *fakeConversationStore) Upsert(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations == nil {
		s.conversations = make(map[string]*domain.Conversation)
	}
	if existing, ok := s.conversations[conv.ID]; ok {
		existing.PricingModel = conv.PricingModel
		existing.Billable = conv.Billable
		return nil
	}
	s.conversations[conv.ID] = conv
	return nil
}

func (s *fakeConversationStore) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[id]; ok {
		return conv, nil
	}
	return nil, domain.ErrConversationNotFound
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*domain.CorrelationAudit
}

func (s *fakeAuditStore) Append(_ context.Context, audit *domain.CorrelationAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, audit)
	return nil
}

func (s *fakeAuditStore) ListByMessage(_ context.Context, messageID uuid.UUID) ([]*domain.CorrelationAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CorrelationAudit
	for _, entry := range s.entries {
		if entry.MessageID == messageID {
			out = append(out, entry)
		}
	}
	return out, nil
}

const testAppSecret = "app-secret"

func newTestServer(t *testing.T, store *fakeMessageStore) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	verifier := app.NewVerifier(app.VerifierConfig{
		VerifyToken:   "verify-token",
		AppSecret:     testAppSecret,
		MaxPayloadAge: time.Hour,
		MaxClockSkew:  5 * time.Minute,
	}, logger)
	correlator := app.NewCorrelator(store, &fakeAuditStore{}, app.CorrelatorConfig{}, logger)
	tracker := app.NewDeliveryTracker(store, &fakeConversationStore{}, logger)

	router := chi.NewRouter()
	NewWebhookHandler(verifier, correlator, tracker, logger).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func signedPost(t *testing.T, server *httptest.Server, body string) *http.Response {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write([]byte(body))

	req, err := http.NewRequest(http.MethodPost, server.URL+"/webhook", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func statusEnvelope(realID, status, timestamp, token string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "entry1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"statuses": [{
				"id": %q, "status": %q, "timestamp": %q,
				"recipient_id": "447700900123",
				"biz_opaque_callback_data": %q
			}]
		}}]}]
	}`, realID, status, timestamp, token)
}

func TestWebhookHandler_Handshake(t *testing.T) {
	server := newTestServer(t, &fakeMessageStore{})

	resp, err := server.Client().Get(server.URL +
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-token&hub.challenge=challenge-42")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "challenge-42", string(body))
}

func TestWebhookHandler_Handshake_WrongToken(t *testing.T) {
	server := newTestServer(t, &fakeMessageStore{})

	resp, err := server.Client().Get(server.URL +
		"/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=challenge-42")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebhookHandler_Callback_ReconcilesAndTracks(t *testing.T) {
	store := &fakeMessageStore{}
	msg := &domain.OutboundMessage{
		ID:             uuid.New(),
		PlaceholderID:  "temp_abc",
		RecipientPhone: "447700900123",
		Status:         domain.MessageStatusSent,
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.Insert(context.Background(), msg))
	server := newTestServer(t, store)

	token, err := correlation.Encode(correlation.Token{PlaceholderID: "temp_abc", Phone: "447700900123"})
	require.NoError(t, err)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	resp := signedPost(t, server, statusEnvelope("wamid.XYZ", "delivered", timestamp, token))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "wamid.XYZ", msg.ProviderMessageID.String)
	assert.Equal(t, domain.MessageStatusDelivered, msg.Status)

	// The identical callback replayed is a no-op success.
	resp2 := signedPost(t, server, statusEnvelope("wamid.XYZ", "delivered", timestamp, token))
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, domain.MessageStatusDelivered, msg.Status)
}

// Two unreconciled sends to one recipient inside the lookback window: the
// callback must land on the most recently created message, leaving the
// earlier one untouched.
func TestWebhookHandler_Callback_NewestCandidateWins(t *testing.T) {
	store := &fakeMessageStore{}
	older := &domain.OutboundMessage{
		ID:             uuid.New(),
		PlaceholderID:  "temp_older",
		RecipientPhone: "447700900123",
		Status:         domain.MessageStatusSent,
		CreatedAt:      time.Now().Add(-30 * time.Second),
	}
	newer := &domain.OutboundMessage{
		ID:             uuid.New(),
		PlaceholderID:  "temp_newer",
		RecipientPhone: "447700900123",
		Status:         domain.MessageStatusSent,
		CreatedAt:      time.Now().Add(-20 * time.Second),
	}
	require.NoError(t, store.Insert(context.Background(), older))
	require.NoError(t, store.Insert(context.Background(), newer))
	server := newTestServer(t, store)

	// A bare-phone token carries no placeholder, so resolution rides the
	// newest-first lookup alone.
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	resp := signedPost(t, server, statusEnvelope("wamid.NEWEST", "delivered", timestamp, "447700900123"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "wamid.NEWEST", newer.ProviderMessageID.String)
	assert.Equal(t, domain.MessageStatusDelivered, newer.Status)
	assert.False(t, older.ProviderMessageID.Valid)
	assert.Equal(t, domain.MessageStatusSent, older.Status)
}

func TestWebhookHandler_Callback_BadSignatureRejected(t *testing.T) {
	store := &fakeMessageStore{}
	msg := &domain.OutboundMessage{
		ID:             uuid.New(),
		PlaceholderID:  "temp_abc",
		RecipientPhone: "447700900123",
		Status:         domain.MessageStatusSent,
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.Insert(context.Background(), msg))
	server := newTestServer(t, store)

	body := statusEnvelope("wamid.XYZ", "delivered", fmt.Sprintf("%d", time.Now().Unix()), "447700900123")
	req, err := http.NewRequest(http.MethodPost, server.URL+"/webhook", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set(SignatureHeader, "sha256=deadbeef")

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, msg.ProviderMessageID.Valid)
	assert.Equal(t, domain.MessageStatusSent, msg.Status)
}

func TestWebhookHandler_Callback_StaleTimestampDropped(t *testing.T) {
	store := &fakeMessageStore{}
	msg := &domain.OutboundMessage{
		ID:             uuid.New(),
		PlaceholderID:  "temp_abc",
		RecipientPhone: "447700900123",
		Status:         domain.MessageStatusSent,
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.Insert(context.Background(), msg))
	server := newTestServer(t, store)

	stale := fmt.Sprintf("%d", time.Now().Add(-2*time.Hour).Unix())
	resp := signedPost(t, server, statusEnvelope("wamid.XYZ", "delivered", stale, "447700900123"))
	defer resp.Body.Close()

	// Accepted envelope, but the stale status must not be applied.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, msg.ProviderMessageID.Valid)
	assert.Equal(t, domain.MessageStatusSent, msg.Status)
}

func TestWebhookHandler_Callback_MalformedEnvelope(t *testing.T) {
	server := newTestServer(t, &fakeMessageStore{})

	resp := signedPost(t, server, "{not json")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
