package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

// CloudAPIClient sends template messages over the provider's graph-style
// HTTP API: POST {base}/{phoneNumberID}/messages with a bearer token.
type CloudAPIClient struct {
	httpClient    *http.Client
	logger        *slog.Logger
	apiURL        string
	accessToken   string
	phoneNumberID string
}

func NewCloudAPIClient(logger *slog.Logger, apiURL, accessToken, phoneNumberID string, httpClient *http.Client) *CloudAPIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &CloudAPIClient{
		httpClient:    httpClient,
		logger:        logger.With("component", "cloud_api_client"),
		apiURL:        strings.TrimRight(apiURL, "/"),
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
	}
}

var _ Client = (*CloudAPIClient)(nil)

type templateRequest struct {
	MessagingProduct      string          `json:"messaging_product"`
	RecipientType         string          `json:"recipient_type"`
	To                    string          `json:"to"`
	Type                  string          `json:"type"`
	Template              messageTemplate `json:"template"`
	BizOpaqueCallbackData string          `json:"biz_opaque_callback_data,omitempty"`
}

type messageTemplate struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *CloudAPIClient) SendTemplate(ctx context.Context, req SendRequest) (SendAck, error) {
	payload := templateRequest{
		MessagingProduct:      "whatsapp",
		RecipientType:         "individual",
		To:                    req.To,
		Type:                  "template",
		BizOpaqueCallbackData: req.CorrelationData,
		Template: messageTemplate{
			Name:     req.Template,
			Language: templateLanguage{Code: req.Language},
		},
	}
	if len(req.Params) > 0 {
		component := templateComponent{Type: "body"}
		for _, param := range req.Params {
			component.Parameters = append(component.Parameters, templateParameter{Type: "text", Text: param})
		}
		payload.Template.Components = []templateComponent{component}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendAck{}, err
	}

	url := fmt.Sprintf("%s/%s/messages", c.apiURL, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendAck{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SendAck{}, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendAck{}, fmt.Errorf("failed to read provider response: %w", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil && resp.StatusCode < 400 {
		return SendAck{}, fmt.Errorf("failed to decode provider response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		detail := ""
		if parsed.Error != nil {
			detail = fmt.Sprintf(" (%s, code %d)", parsed.Error.Message, parsed.Error.Code)
		}
		c.logger.WarnContext(ctx, "provider rejected send",
			"status", resp.StatusCode, "to", req.To, "template", req.Template)
		return SendAck{}, fmt.Errorf("%w: status %d%s", domain.ErrSendRejected, resp.StatusCode, detail)
	}
	if resp.StatusCode >= 500 {
		return SendAck{}, fmt.Errorf("provider server error: status %d", resp.StatusCode)
	}

	ack := SendAck{}
	if len(parsed.Messages) > 0 {
		ack.ProviderMessageID = parsed.Messages[0].ID
	}
	c.logger.DebugContext(ctx, "template send accepted",
		"to", req.To, "template", req.Template, "provider_message_id", ack.ProviderMessageID)
	return ack, nil
}
