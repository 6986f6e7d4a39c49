package backend

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned while the backend circuit is open.
var ErrUnavailable = errors.New("backend unavailable")

// AuthError is an authentication failure the user should see.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", e.Message)
}

// Auth error codes
const (
	AuthCodeInvalidCredentials = "invalid_credentials"
	AuthCodeUserExists         = "user_already_exists"
	AuthCodeWeakPassword       = "weak_password"
	AuthCodeInvalidEmail       = "invalid_email"
)

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// QueryError is a failed table read or write.
type QueryError struct {
	Op    string
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError wraps err unless it already is a *QueryError.
func NewQueryError(op, table string, err error) error {
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{Op: op, Table: table, Err: err}
}
