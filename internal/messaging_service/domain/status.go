package domain

// MessageStatus is the delivery lifecycle state of an outbound notification.
// The machine is forward-only:
//
//	queued → sent → {delivered → read} | failed
//
// Replaying the current status is an idempotent no-op, never an error.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// rank orders statuses along the happy path. failed is terminal from any
// pre-terminal state and is handled separately.
var statusRank = map[MessageStatus]int{
	MessageStatusQueued:    0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusQueued, MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed. Same-status
// replay is allowed (callers treat it as a no-op). Backward moves and moves
// out of a terminal state are not.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s == MessageStatusFailed || s == MessageStatusRead {
		return false
	}
	if next == MessageStatusFailed {
		return true
	}
	return statusRank[next] > statusRank[s]
}
