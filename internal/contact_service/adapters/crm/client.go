package crm

import (
	"context"
	"errors"
	"time"
)

// LookupField selects which CRM column a lookup filters on.
type LookupField string

const (
	LookupByEmail LookupField = "email"
	LookupByOrder LookupField = "order"
	LookupByPhone LookupField = "phone"
)

// ErrRejected indicates the CRM refused the request (4xx). Retrying with the
// same input cannot succeed, so callers should treat it as permanent.
var ErrRejected = errors.New("crm rejected request")

// ContactUpsert is the payload pushed to the CRM for one client.
type ContactUpsert struct {
	Phone           string
	Name            string
	Email           string
	Branch          string
	OrderExternalID string
}

// Record is one CRM row returned by a lookup.
type Record struct {
	ID          string         `json:"id"`
	Fields      map[string]any `json:"fields"`
	CreatedTime time.Time      `json:"createdTime"`
}

// CompletedOrder is one order the CRM marked as finished processing.
type CompletedOrder struct {
	ExternalID  string
	CompletedAt time.Time
}

// Client is the external CRM the contact-sync flow pushes to. Implemented by
// the Airtable-style HTTP adapter and a mock for tests and local runs.
type Client interface {
	// UpsertContact creates or updates the CRM record for the contact's
	// phone number and returns the CRM record id.
	UpsertContact(ctx context.Context, contact ContactUpsert) (recordID string, err error)

	// LookupOrder searches CRM records by one field. Phone lookups fall back
	// to the Israeli-number variant (leading zero after the 972 country code
	// inserted or removed) when the first search finds nothing; the CRM data
	// contains both spellings.
	LookupOrder(ctx context.Context, field LookupField, value string) ([]Record, error)

	// ListCompletedSince returns orders whose completion timestamp is after
	// the given time.
	ListCompletedSince(ctx context.Context, since time.Time) ([]CompletedOrder, error)
}
