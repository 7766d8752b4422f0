package domain

import "errors"

var (
	ErrMessageNotFound      = errors.New("outbound message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrAlreadyReconciled means the message already carries a different
	// provider message id; the existing value is never overwritten.
	ErrAlreadyReconciled = errors.New("message already reconciled to a different provider id")
	// ErrInvalidTransition means a callback tried to move a message backward
	// in its lifecycle.
	ErrInvalidTransition = errors.New("invalid message status transition")
	// ErrSendRejected means the provider refused the send request (4xx).
	// Retrying with the same input cannot succeed.
	ErrSendRejected = errors.New("provider rejected send request")
)
