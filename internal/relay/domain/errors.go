package domain

import "errors"

var (
	// ErrMalformedRequest missing or invalid fields, nothing was applied
	ErrMalformedRequest = errors.New("malformed request")
	// ErrPersistence message store unreachable or write rejected
	ErrPersistence = errors.New("persistence failure")
	// ErrPresenceStore presence store unreachable
	ErrPresenceStore = errors.New("presence store failure")
	// ErrMessageNotFound unknown message id
	ErrMessageNotFound = errors.New("message not found")
	// ErrUnauthorized identity differs from the verified token identity
	ErrUnauthorized = errors.New("unauthorized identity")
	// ErrNotRegistered connection has no registered identity
	ErrNotRegistered = errors.New("connection not registered")
	// ErrConnectionClosed connection is closed or its outbound queue is full
	ErrConnectionClosed = errors.New("connection closed")
)
