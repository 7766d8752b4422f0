// Package http exposes the provider delivery webhook.
package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/visaflow/golang_services/internal/messaging_service/app"
	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// SignatureHeader carries the provider's HMAC over the raw body.
const SignatureHeader = "X-Hub-Signature-256"

// WebhookHandler serves the provider's subscription handshake (GET) and
// delivery callbacks (POST). Accepted payloads are always answered with a
// fast 2xx: the provider retries on anything else, and a per-status failure
// must not replay the whole envelope.
type WebhookHandler struct {
	verifier   *app.Verifier
	correlator *app.Correlator
	tracker    *app.DeliveryTracker
	logger     *slog.Logger
}

func NewWebhookHandler(verifier *app.Verifier, correlator *app.Correlator, tracker *app.DeliveryTracker, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		correlator: correlator,
		tracker:    tracker,
		logger:     logger.With("component", "delivery_webhook_handler"),
	}
}

// RegisterRoutes mounts the webhook endpoints on r.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.HandleHandshake)
	r.Post("/webhook", h.HandleCallback)
}

// HandleHandshake answers the provider's one-time subscription handshake.
func (h *WebhookHandler) HandleHandshake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	challenge, err := h.verifier.VerifyHandshake(
		query.Get("hub.mode"), query.Get("hub.verify_token"), query.Get("hub.challenge"))
	if err != nil {
		h.logger.WarnContext(ctx, "handshake rejected", "mode", query.Get("hub.mode"), "error", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(challenge)); err != nil {
		h.logger.WarnContext(ctx, "failed to write handshake challenge", "error", err)
	}
}

// HandleCallback verifies and dispatches one delivery webhook envelope.
func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read webhook body", "error", err)
		if err.Error() == "http: request body too large" {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return
	}

	if err := h.verifier.VerifySignature(rawPayload, r.Header.Get(SignatureHeader)); err != nil {
		logger.WarnContext(ctx, "webhook signature rejected", "error", err)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	var envelope domain.WebhookEnvelope
	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		logger.ErrorContext(ctx, "malformed webhook envelope", "error", err)
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			h.dispatchChange(ctx, logger, change)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) dispatchChange(ctx context.Context, logger *slog.Logger, change domain.WebhookChange) {
	switch change.Field {
	case domain.ChangeFieldMessages:
		var value domain.MessagesValue
		if err := json.Unmarshal(change.Value, &value); err != nil {
			logger.ErrorContext(ctx, "malformed messages change value", "error", err)
			return
		}
		for _, status := range value.Statuses {
			h.applyStatus(ctx, logger, status)
		}
		for _, inbound := range value.Messages {
			logger.InfoContext(ctx, "inbound message received",
				"from", inbound.From, "provider_message_id", inbound.ID, "type", inbound.Type)
		}

	case domain.ChangeFieldTemplateStatusUpdate:
		var value domain.TemplateStatusValue
		if err := json.Unmarshal(change.Value, &value); err != nil {
			logger.ErrorContext(ctx, "malformed template status value", "error", err)
			return
		}
		logger.InfoContext(ctx, "template status changed",
			"template", value.MessageTemplateName, "event", value.Event, "reason", value.Reason)

	default:
		logger.DebugContext(ctx, "ignoring webhook change", "field", change.Field)
	}
}

// applyStatus runs the reconcile-then-track sequence for one delivery
// status. Failures are logged only; the envelope is already accepted.
func (h *WebhookHandler) applyStatus(ctx context.Context, logger *slog.Logger, status domain.WebhookStatus) {
	receivedAt := parseUnixTimestamp(status.Timestamp)

	if !receivedAt.IsZero() {
		if err := h.verifier.VerifyTimestamp(receivedAt); err != nil {
			logger.WarnContext(ctx, "delivery status timestamp rejected",
				"provider_message_id", status.ID, "error", err)
			return
		}
	}

	rawToken := status.BizOpaqueCallbackData
	if rawToken == "" {
		rawToken = status.RecipientID
	}
	result := h.correlator.Reconcile(ctx, app.Callback{
		RawToken:   rawToken,
		RealID:     status.ID,
		ReceivedAt: receivedAt,
	})
	if result.Err != nil {
		logger.ErrorContext(ctx, "reconciliation failed",
			"provider_message_id", status.ID, "outcome", result.Outcome, "error", result.Err)
	}

	update := app.StatusUpdate{
		ProviderMessageID: status.ID,
		PlaceholderID:     result.PlaceholderID,
		Status:            domain.MessageStatus(status.Status),
		Timestamp:         receivedAt,
	}
	if len(status.Errors) > 0 {
		update.FailureReason = status.Errors[0].Title
		if update.FailureReason == "" {
			update.FailureReason = status.Errors[0].Message
		}
	}
	if status.Conversation != nil {
		ref := &app.ConversationRef{ID: status.Conversation.ID}
		if status.Pricing != nil {
			ref.Category = status.Pricing.Category
			ref.PricingModel = status.Pricing.PricingModel
			ref.Billable = status.Pricing.Billable
		}
		if ref.Category == "" {
			ref.Category = status.Conversation.Origin.Type
		}
		if exp := parseUnixTimestamp(status.Conversation.ExpirationTimestamp); !exp.IsZero() {
			ref.ExpiresAt = exp
		}
		update.Conversation = ref
	}

	if err := h.tracker.ApplyStatus(ctx, update); err != nil {
		logger.ErrorContext(ctx, "failed to apply delivery status",
			"provider_message_id", status.ID, "status", status.Status, "error", err)
	}
}

func parseUnixTimestamp(raw string) time.Time {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}
