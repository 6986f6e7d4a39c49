package service

import "errors"

var (
	// ErrNotSignedIn is returned by cart mutations without a session.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrLineNotFound is returned when no cart line of the current user has the given id.
	ErrLineNotFound       = errors.New("cart line not found")
	ErrInvalidSize        = errors.New("size not available for product")
	ErrProductNotFound    = errors.New("product not found")
	ErrAlreadyInitialized = errors.New("session already initialized")
)
