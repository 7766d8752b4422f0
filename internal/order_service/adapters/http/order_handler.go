// Package http exposes the order intake webhook and the admin resync
// endpoint.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/visaflow/golang_services/internal/order_service/app"
	"github.com/visaflow/golang_services/internal/order_service/domain"
	"github.com/visaflow/golang_services/internal/order_service/middleware"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// OrderCreator ingests one raw order webhook payload. Satisfied by the
// intake service; an interface here keeps the handler testable with mocks.
type OrderCreator interface {
	CreateOrder(ctx context.Context, rawPayload []byte) (app.CreateOrderResult, error)
}

// Resyncer re-runs the downstream sync flow for one order.
type Resyncer interface {
	Resync(ctx context.Context, externalID string) error
}

type OrderHandler struct {
	intake   OrderCreator
	resyncer Resyncer
	logger   *slog.Logger
}

func NewOrderHandler(intake OrderCreator, resyncer Resyncer, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		intake:   intake,
		resyncer: resyncer,
		logger:   logger.With("component", "order_handler"),
	}
}

// RegisterRoutes mounts the public webhook and, behind admin auth, the
// resync endpoint.
func (h *OrderHandler) RegisterRoutes(r chi.Router, adminSecret string) {
	r.Post("/webhooks/orders", h.HandleCreateOrder)
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.AdminAuth(adminSecret, h.logger))
		admin.Post("/orders/{externalID}/resync", h.HandleResync)
	})
}

// HandleCreateOrder ingests one upstream order webhook.
func (h *OrderHandler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read order webhook body", "error", err)
		if err.Error() == "http: request body too large" {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
		} else {
			respondError(w, http.StatusBadRequest, "error reading request body", nil)
		}
		return
	}

	result, err := h.intake.CreateOrder(ctx, rawPayload)
	if err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			logger.WarnContext(ctx, "order webhook rejected", "missing_fields", validationErr.Missing)
			respondError(w, http.StatusBadRequest, "missing required fields", validationErr.Missing)
			return
		}
		logger.ErrorContext(ctx, "order intake failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, CreateOrderResponse{
		OrderID:    result.OrderID.String(),
		ExternalID: result.ExternalID,
		Duplicate:  result.Duplicate,
	})
}

// HandleResync re-enqueues the sync flow for one order.
func (h *OrderHandler) HandleResync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	externalID := chi.URLParam(r, "externalID")
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "external_id", externalID)

	if err := h.resyncer.Resync(ctx, externalID); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order not found", nil)
			return
		}
		logger.ErrorContext(ctx, "resync failed", "error", err)
		respondError(w, http.StatusInternalServerError, "resync failed", nil)
		return
	}

	logger.InfoContext(ctx, "resync accepted")
	respondJSON(w, http.StatusAccepted, ResyncResponse{ExternalID: externalID, Status: "accepted"})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string, missing []string) {
	respondJSON(w, status, ErrorResponse{Error: message, MissingFields: missing})
}
