package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient talks to an Airtable-style record API:
//
//	GET   {base}/{baseID}/{tableID}?filterByFormula=...   lookup
//	POST  {base}/{baseID}/{tableID}                       create record
//	PATCH {base}/{baseID}/{tableID}/{recordID}            update record
type HTTPClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiURL     string
	apiKey     string
	baseID     string
	tableID    string
	viewID     string
}

// NewHTTPClient creates an HTTP CRM client.
func NewHTTPClient(logger *slog.Logger, apiURL, apiKey, baseID, tableID, viewID string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		httpClient: httpClient,
		logger:     logger.With("component", "crm_client"),
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		baseID:     baseID,
		tableID:    tableID,
		viewID:     viewID,
	}
}

var _ Client = (*HTTPClient)(nil)

type recordsResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

func (c *HTTPClient) UpsertContact(ctx context.Context, contact ContactUpsert) (string, error) {
	existing, err := c.searchRecords(ctx, formulaFor("Phone", contact.Phone), 1)
	if err != nil {
		return "", err
	}

	fields := map[string]any{
		"Phone":  contact.Phone,
		"Name":   contact.Name,
		"Email":  contact.Email,
		"Branch": contact.Branch,
		"ID":     contact.OrderExternalID,
	}
	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return "", err
	}

	if len(existing) > 0 {
		recordID := existing[0].ID
		if err := c.do(ctx, http.MethodPatch, c.tableURL()+"/"+url.PathEscape(recordID), body, nil); err != nil {
			return "", fmt.Errorf("crm update for phone %s failed: %w", contact.Phone, err)
		}
		return recordID, nil
	}

	var created Record
	if err := c.do(ctx, http.MethodPost, c.tableURL(), body, &created); err != nil {
		return "", fmt.Errorf("crm create for phone %s failed: %w", contact.Phone, err)
	}
	return created.ID, nil
}

func (c *HTTPClient) LookupOrder(ctx context.Context, field LookupField, value string) ([]Record, error) {
	column, err := columnFor(field)
	if err != nil {
		return nil, err
	}

	records, err := c.searchRecords(ctx, formulaFor(column, value), 3)
	if err != nil {
		return nil, err
	}

	// The CRM holds Israeli numbers in both 972... and 9720... spellings.
	if len(records) == 0 && field == LookupByPhone {
		if variant := israeliPhoneVariant(value); variant != "" {
			c.logger.DebugContext(ctx, "phone lookup empty; retrying with variant", "variant", variant)
			return c.searchRecords(ctx, formulaFor(column, variant), 3)
		}
	}
	return records, nil
}

func (c *HTTPClient) ListCompletedSince(ctx context.Context, since time.Time) ([]CompletedOrder, error) {
	formula := fmt.Sprintf("IS_AFTER({Completed Timestamp}, '%s')", since.UTC().Format(time.RFC3339))

	var completed []CompletedOrder
	offset := ""
	for {
		query := url.Values{}
		query.Set("filterByFormula", formula)
		query.Set("pageSize", "100")
		if c.viewID != "" {
			query.Set("view", c.viewID)
		}
		if offset != "" {
			query.Set("offset", offset)
		}

		var page recordsResponse
		if err := c.do(ctx, http.MethodGet, c.tableURL()+"?"+query.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("crm completed-orders query failed: %w", err)
		}

		for _, record := range page.Records {
			externalID, _ := record.Fields["ID"].(string)
			if externalID == "" {
				continue
			}
			completedAt := record.CreatedTime
			if raw, ok := record.Fields["Completed Timestamp"].(string); ok {
				if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
					completedAt = parsed
				}
			}
			completed = append(completed, CompletedOrder{ExternalID: externalID, CompletedAt: completedAt})
		}

		if page.Offset == "" {
			return completed, nil
		}
		offset = page.Offset
	}
}

func (c *HTTPClient) searchRecords(ctx context.Context, formula string, maxRecords int) ([]Record, error) {
	query := url.Values{}
	query.Set("filterByFormula", formula)
	query.Set("maxRecords", fmt.Sprintf("%d", maxRecords))
	if c.viewID != "" {
		query.Set("view", c.viewID)
	}

	var resp recordsResponse
	if err := c.do(ctx, http.MethodGet, c.tableURL()+"?"+query.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("crm search failed: %w", err)
	}
	return resp.Records, nil
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		c.logger.WarnContext(ctx, "crm rejected request", "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("crm server error: status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode crm response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) tableURL() string {
	return c.apiURL + "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(c.tableID)
}

func columnFor(field LookupField) (string, error) {
	switch field {
	case LookupByEmail:
		return "Email", nil
	case LookupByOrder:
		return "ID", nil
	case LookupByPhone:
		return "Phone", nil
	}
	return "", fmt.Errorf("unsupported lookup field %q", field)
}

// formulaFor builds a case-insensitive exact-match filter formula, escaping
// single quotes in the value.
func formulaFor(column, value string) string {
	escaped := strings.ReplaceAll(strings.ToLower(value), "'", `\'`)
	return fmt.Sprintf("LOWER({%s}) = '%s'", column, escaped)
}

// israeliPhoneVariant returns the alternate spelling of an Israeli number:
// 9720507... for 972507... and vice versa. Returns "" for non-Israeli numbers.
func israeliPhoneVariant(phone string) string {
	if !strings.HasPrefix(phone, "972") || len(phone) < 4 {
		return ""
	}
	if phone[3] == '0' {
		return phone[:3] + phone[4:]
	}
	return phone[:3] + "0" + phone[3:]
}
