package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job type names dispatched by the sync orchestrator. Workers register
// handlers under these names; the registry fails fast on anything else.
const (
	JobTypeContactSync      = "contacts.sync"
	JobTypeNotificationSend = "notifications.send"
	JobTypeCompletedScan    = "orders.completed_scan"
)

// SyncCommand instructs the orchestrator to run the contact-sync flow for one
// order. The saga produces it from the order-created event; manual resync
// produces it from an order lookup. Both paths share the same handler.
type SyncCommand struct {
	OrderID     uuid.UUID
	ExternalID  string
	Branch      string
	NotifyOptIn bool
}

// SyncJobPayload is the JSON body of both contacts.sync and
// notifications.send jobs.
type SyncJobPayload struct {
	OrderID    uuid.UUID `json:"order_id"`
	ExternalID string    `json:"external_id"`
	Branch     string    `json:"branch"`
}

// CompletedScanPayload is the JSON body of orders.completed_scan jobs. After
// bounds the CRM query; scans may overlap since completion marking is
// idempotent.
type CompletedScanPayload struct {
	After time.Time `json:"after"`
}
