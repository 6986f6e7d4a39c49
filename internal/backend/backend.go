// Package backend defines the facade the storefront consumes from its hosted backend:
// table storage and authentication. Row-level security stays on the backend; the user
// filters sent by callers only mirror it.
package backend

import (
	"context"

	"storefront/internal/models"
)

// Auth exposes the authentication primitives of the backend.
type Auth interface {
	// CurrentUser returns the signed-in user, or nil when there is no session.
	CurrentUser(ctx context.Context) (*models.User, error)
	// OnSessionChange registers fn to be called asynchronously, zero or more times,
	// whenever the backend reports a session change. fn receives nil on sign-out.
	OnSessionChange(ctx context.Context, fn func(*models.User)) (Subscription, error)
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
}

// Subscription is the handle of an OnSessionChange registration.
type Subscription interface {
	Unsubscribe() error
}

// Tables exposes generic table access.
type Tables interface {
	// Select decodes the matching rows, with joined relations nested under their
	// aliases, into dest (a pointer to a slice).
	Select(ctx context.Context, q Query, dest any) error
	Insert(ctx context.Context, table string, row Row) error
	// Update patches the row with the given id that also matches filters and
	// returns the number of affected rows.
	Update(ctx context.Context, table, id string, patch Row, filters ...Filter) (int64, error)
	// Delete removes the row with the given id that also matches filters and
	// returns the number of affected rows.
	Delete(ctx context.Context, table, id string, filters ...Filter) (int64, error)
}

// Row is a column to value mapping used for inserts and patches.
type Row map[string]any

// Filter is an equality predicate on a column.
type Filter struct {
	Column string
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Join embeds related rows under As. A to-one join matches Foreign on the joined
// table against Local on the parent; Many embeds an array instead of an object.
type Join struct {
	Table   string
	As      string
	Local   string
	Foreign string
	Many    bool
	Joins   []Join
}

// Sort orders the result by a column.
type Sort struct {
	Column string
	Desc   bool
}

// Query describes a select.
type Query struct {
	Table   string
	Filters []Filter
	Joins   []Join
	Sort    []Sort
	Limit   int
}
