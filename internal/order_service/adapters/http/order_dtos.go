package http

// CreateOrderResponse acknowledges an ingested order webhook.
type CreateOrderResponse struct {
	OrderID    string `json:"order_id"`
	ExternalID string `json:"external_id"`
	Duplicate  bool   `json:"duplicate"`
}

// ErrorResponse is the JSON error body for the order endpoints.
type ErrorResponse struct {
	Error         string   `json:"error"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// ResyncResponse acknowledges a manual resync request.
type ResyncResponse struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}
