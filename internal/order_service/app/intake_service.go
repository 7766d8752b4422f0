package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/visaflow/golang_services/internal/order_service/domain"
	"github.com/visaflow/golang_services/internal/platform/events"
	"github.com/visaflow/golang_services/internal/platform/messagebroker"
)

// IntakeDefaults holds fallback values applied to absent optional fields.
type IntakeDefaults struct {
	Currency string
}

// IntakeService ingests third-party order webhooks. Creation is idempotent on
// the external order identifier: a duplicate delivery returns the existing
// internal id and emits no events.
type IntakeService struct {
	orders   domain.OrderRepository
	broker   messagebroker.Client
	bus      *events.Bus
	validate *validator.Validate
	logger   *slog.Logger
	defaults IntakeDefaults
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(orders domain.OrderRepository, broker messagebroker.Client, bus *events.Bus, logger *slog.Logger, defaults IntakeDefaults) *IntakeService {
	if defaults.Currency == "" {
		defaults.Currency = "USD"
	}
	return &IntakeService{
		orders:   orders,
		broker:   broker,
		bus:      bus,
		validate: validator.New(),
		logger:   logger.With("component", "order_intake"),
		defaults: defaults,
	}
}

// CreateOrderResult is the outcome of one intake call.
type CreateOrderResult struct {
	OrderID    uuid.UUID
	ExternalID string
	Duplicate  bool
}

// orderWebhookPayload tolerates the upstream's heterogeneous field shapes.
// The source system has shipped at least three spellings of the order id and
// both flat and nested amount/client blocks.
type orderWebhookPayload struct {
	OrderID    string `json:"order_id"`
	OrderIDAlt string `json:"orderId"`
	ID         string `json:"id"`

	Branch  string `json:"branch"`
	Country string `json:"country"`

	Client struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"client"`
	ClientName  string `json:"client_name"`
	Phone       string `json:"phone"`
	ClientPhone string `json:"client_phone"`
	Email       string `json:"email"`

	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`

	NotifyOptIn    *bool `json:"notify_opt_in"`
	WhatsAppOptIn  *bool `json:"whatsapp_opt_in"`
	MarketingOptIn *bool `json:"marketing_opt_in"`
}

// canonicalOrder is the validated intake contract.
type canonicalOrder struct {
	ExternalID  string `validate:"required"`
	Branch      string `validate:"required"`
	ClientPhone string `validate:"required"`
	AmountMinor int64  `validate:"required,gt=0"`
	Currency    string
	ClientName  string
	ClientEmail string
	NotifyOptIn bool
}

// CreateOrder maps, validates and persists an inbound order webhook payload.
// Validation failures abort before persistence with a *domain.ValidationError
// listing the missing fields. A uniqueness violation is treated as success:
// the existing row is re-read and its id returned.
func (s *IntakeService) CreateOrder(ctx context.Context, rawPayload []byte) (CreateOrderResult, error) {
	var payload orderWebhookPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return CreateOrderResult{}, &domain.ValidationError{Missing: []string{"body"}}
	}

	canonical := s.canonicalize(payload)
	if err := s.validate.Struct(canonical); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			missing := make([]string, 0, len(invalid))
			for _, fieldErr := range invalid {
				missing = append(missing, fieldName(fieldErr.Field()))
			}
			s.logger.WarnContext(ctx, "order payload failed validation", "missing", missing)
			return CreateOrderResult{}, &domain.ValidationError{Missing: missing}
		}
		return CreateOrderResult{}, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:          uuid.New(),
		ExternalID:  canonical.ExternalID,
		Branch:      canonical.Branch,
		AmountMinor: canonical.AmountMinor,
		Currency:    canonical.Currency,
		ClientName:  canonical.ClientName,
		ClientPhone: canonical.ClientPhone,
		ClientEmail: canonical.ClientEmail,
		NotifyOptIn: canonical.NotifyOptIn,
		Status:      domain.OrderStatusReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			// Upstream delivery is at-least-once; a duplicate is success.
			existing, getErr := s.orders.GetByExternalID(ctx, order.ExternalID)
			if getErr != nil {
				return CreateOrderResult{}, fmt.Errorf("duplicate order detected but re-read failed: %w", getErr)
			}
			s.logger.InfoContext(ctx, "duplicate order intake; returning existing order",
				"external_id", order.ExternalID, "order_id", existing.ID)
			return CreateOrderResult{OrderID: existing.ID, ExternalID: existing.ExternalID, Duplicate: true}, nil
		}
		return CreateOrderResult{}, fmt.Errorf("failed to persist order: %w", err)
	}

	s.logger.InfoContext(ctx, "order created",
		"order_id", order.ID, "external_id", order.ExternalID, "branch", order.Branch,
		"notify_opt_in", order.NotifyOptIn)

	s.publishCreated(ctx, order)

	return CreateOrderResult{OrderID: order.ID, ExternalID: order.ExternalID}, nil
}

func (s *IntakeService) canonicalize(p orderWebhookPayload) canonicalOrder {
	externalID := firstNonEmpty(p.OrderID, p.OrderIDAlt, p.ID)

	branch := p.Branch
	if branch == "" {
		branch = domain.BranchFromExternalID(externalID)
	}

	phone := domain.NormalizePhone(firstNonEmpty(p.Client.Phone, p.ClientPhone, p.Phone))

	currency := p.Currency
	amountMinor, amountCurrency := parseAmount(p.Amount)
	if currency == "" {
		currency = amountCurrency
	}
	if currency == "" {
		// Unknown country/currency falls back to the configured default.
		currency = s.defaults.Currency
	}

	optIn := false
	for _, flag := range []*bool{p.NotifyOptIn, p.WhatsAppOptIn, p.MarketingOptIn} {
		if flag != nil {
			optIn = *flag
			break
		}
	}

	return canonicalOrder{
		ExternalID:  externalID,
		Branch:      branch,
		ClientPhone: phone,
		AmountMinor: amountMinor,
		Currency:    currency,
		ClientName:  firstNonEmpty(p.Client.Name, p.ClientName),
		ClientEmail: firstNonEmpty(p.Client.Email, p.Email),
		NotifyOptIn: optIn,
	}
}

// publishCreated emits the durable broker event and the in-process saga
// event. A broker outage does not fail intake: the order row is committed and
// the upstream will not retry a 2xx, so losing the request would lose the
// order entirely, whereas the audit event can be backfilled.
func (s *IntakeService) publishCreated(ctx context.Context, order *domain.Order) {
	evt := domain.OrderCreatedEvent{
		OrderID:     order.ID,
		ExternalID:  order.ExternalID,
		Branch:      order.Branch,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		NotifyOptIn: order.NotifyOptIn,
		CreatedAt:   order.CreatedAt,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal order created event", "error", err, "order_id", order.ID)
	} else if err := s.broker.Publish(ctx, domain.OrderCreatedSubject, data); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish durable order created event", "error", err, "order_id", order.ID)
	}

	s.bus.PublishOrderCreatedForSync(ctx, events.OrderCreatedForSync{
		OrderID:     order.ID,
		ExternalID:  order.ExternalID,
		Branch:      order.Branch,
		NotifyOptIn: order.NotifyOptIn,
	})
}

// parseAmount accepts either a plain number (minor units) or an object
// {"value": 123.45, "currency": "GBP"} (major units converted to minor).
func parseAmount(raw json.RawMessage) (int64, string) {
	if len(raw) == 0 {
		return 0, ""
	}
	var minor int64
	if err := json.Unmarshal(raw, &minor); err == nil {
		return minor, ""
	}
	var structured struct {
		Value    float64 `json:"value"`
		Currency string  `json:"currency"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil {
		// Round, don't truncate: 1.15 is not exactly representable and
		// 1.15*100 lands at 114.999..., which int64() would floor to 114.
		return int64(math.Round(structured.Value * 100)), structured.Currency
	}
	return 0, ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// fieldName maps canonicalOrder struct fields to the external payload names
// surfaced in validation errors.
func fieldName(structField string) string {
	switch structField {
	case "ExternalID":
		return "order_id"
	case "Branch":
		return "branch"
	case "ClientPhone":
		return "client_phone"
	case "AmountMinor":
		return "amount"
	default:
		return structField
	}
}
