package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatus_CanTransition(t *testing.T) {
	testCases := []struct {
		from    MessageStatus
		to      MessageStatus
		allowed bool
	}{
		{MessageStatusQueued, MessageStatusSent, true},
		{MessageStatusQueued, MessageStatusDelivered, true}, // provider may skip sent
		{MessageStatusQueued, MessageStatusFailed, true},
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusSent, MessageStatusRead, true},
		{MessageStatusSent, MessageStatusFailed, true},
		{MessageStatusDelivered, MessageStatusRead, true},
		{MessageStatusDelivered, MessageStatusFailed, true},

		// same-status replay is an idempotent no-op
		{MessageStatusSent, MessageStatusSent, true},
		{MessageStatusRead, MessageStatusRead, true},
		{MessageStatusFailed, MessageStatusFailed, true},

		// no backward moves
		{MessageStatusSent, MessageStatusQueued, false},
		{MessageStatusDelivered, MessageStatusSent, false},
		{MessageStatusRead, MessageStatusDelivered, false},

		// terminal states stay terminal
		{MessageStatusFailed, MessageStatusSent, false},
		{MessageStatusRead, MessageStatusFailed, false},

		// unknown statuses never transition
		{MessageStatus("bogus"), MessageStatusSent, false},
		{MessageStatusSent, MessageStatus("bogus"), false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidProviderMessageID(t *testing.T) {
	assert.True(t, ValidProviderMessageID("wamid.HBgMNDQ3NzAwOTAwMTIz"))
	assert.False(t, ValidProviderMessageID("wamid."))
	assert.False(t, ValidProviderMessageID("temp_abc"))
	assert.False(t, ValidProviderMessageID(""))
}

func TestNewPlaceholderID(t *testing.T) {
	a, b := NewPlaceholderID(), NewPlaceholderID()
	assert.True(t, len(a) > len(PlaceholderIDPrefix))
	assert.NotEqual(t, a, b)
}
