package repository

import "errors"

var (
	// ErrConversationNotFound means the conversation id no longer resolves
	// to a document.
	ErrConversationNotFound = errors.New("repository: conversation not found")
	// ErrUniqueViolation means a conditional create lost a race to a
	// concurrent writer; the caller should re-fetch.
	ErrUniqueViolation = errors.New("repository: unique constraint violation")
	// ErrTenantNotFound means no credentials record exists for the channel
	// address.
	ErrTenantNotFound = errors.New("repository: tenant credentials not found")
)
