// Package provider holds the outbound messaging provider client and its
// implementations.
package provider

import (
	"context"
)

// SendRequest is one template send. CorrelationData is an opaque blob the
// provider echoes back in its delivery callback.
type SendRequest struct {
	To              string
	Template        string
	Language        string
	Params          []string // ordered template body parameters
	CorrelationData string
}

// SendAck is the provider's immediate acknowledgment. It confirms acceptance
// only; delivery status arrives later over the webhook.
type SendAck struct {
	ProviderMessageID string // may be empty when the provider defers id assignment
}

// Client sends template messages through the external provider.
type Client interface {
	SendTemplate(ctx context.Context, req SendRequest) (SendAck, error)
}
