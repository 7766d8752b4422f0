package domain

import "encoding/json"

// Webhook change field discriminators.
const (
	ChangeFieldMessages             = "messages"
	ChangeFieldTemplateStatusUpdate = "message_template_status_update"
)

// WebhookEnvelope is the provider's delivery webhook body.
type WebhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange carries one notification. Field discriminates the value
// shape; Value is decoded lazily per field.
type WebhookChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// MessagesValue is the value of a "messages" change: delivery statuses for
// outbound sends and/or inbound messages from the recipient.
type MessagesValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Statuses         []WebhookStatus   `json:"statuses"`
	Messages         []InboundMessage  `json:"messages"`
	Metadata         map[string]string `json:"metadata"`
}

// WebhookStatus is one delivery-status callback.
type WebhookStatus struct {
	ID                     string               `json:"id"` // provider message id
	Status                 string               `json:"status"`
	Timestamp              string               `json:"timestamp"` // unix seconds
	RecipientID            string               `json:"recipient_id"`
	BizOpaqueCallbackData  string               `json:"biz_opaque_callback_data"` // correlation token
	Conversation           *WebhookConversation `json:"conversation"`
	Pricing                *WebhookPricing      `json:"pricing"`
	Errors                 []WebhookError       `json:"errors"`
}

type WebhookConversation struct {
	ID     string `json:"id"`
	Origin struct {
		Type string `json:"type"`
	} `json:"origin"`
	ExpirationTimestamp string `json:"expiration_timestamp"`
}

type WebhookPricing struct {
	PricingModel string `json:"pricing_model"`
	Billable     bool   `json:"billable"`
	Category     string `json:"category"`
}

type WebhookError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// InboundMessage is a message sent by the recipient to the business number.
// Logged and audited only.
type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

// TemplateStatusValue is the value of a template-status-change callback.
type TemplateStatusValue struct {
	Event               string `json:"event"`
	MessageTemplateName string `json:"message_template_name"`
	Reason              string `json:"reason"`
}
