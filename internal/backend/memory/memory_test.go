package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/backend"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTables_SelectWithNestedJoins(t *testing.T) {
	tables := NewTables()
	SeedCatalog(tables)
	ctx := context.Background()
	older := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	tables.Seed(models.TableOrders,
		backend.Row{"id": "o1", "user_id": "u1", "status": "shipped", "total_amount": decimal.RequireFromString("40"), "created_at": older},
		backend.Row{"id": "o2", "user_id": "u1", "status": "pending", "total_amount": decimal.RequireFromString("15"), "created_at": newer},
		backend.Row{"id": "o3", "user_id": "u2", "status": "pending", "total_amount": decimal.RequireFromString("15"), "created_at": newer},
	)
	tables.Seed(models.TableOrderItems,
		backend.Row{"id": "i1", "order_id": "o1", "product_id": "2b1c6a0e-6c1f-4d0e-9a51-1f7e0d7f3a01", "quantity": 2, "size": "M", "price_at_time": decimal.RequireFromString("18.50")},
	)

	var orders []models.Order
	err := tables.Select(ctx, backend.Query{
		Table:   models.TableOrders,
		Filters: []backend.Filter{backend.Eq("user_id", "u1")},
		Joins: []backend.Join{{
			Table: models.TableOrderItems, As: "items", Local: "id", Foreign: "order_id", Many: true,
			Joins: []backend.Join{{Table: models.TableProducts, As: "product", Local: "product_id", Foreign: "id"}},
		}},
		Sort: []backend.Sort{{Column: "created_at", Desc: true}},
	}, &orders)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "o2", orders[0].ID)
	assert.Empty(t, orders[0].Items)
	assert.Equal(t, "o1", orders[1].ID)
	require.Len(t, orders[1].Items, 1)
	assert.True(t, decimal.RequireFromString("18.50").Equal(orders[1].Items[0].PriceAtTime))
	require.NotNil(t, orders[1].Items[0].Product)
	assert.Equal(t, "Classic Tee", orders[1].Items[0].Product.Name)
}

func TestTables_UpdateAndDeleteAreScoped(t *testing.T) {
	tables := NewTables()
	ctx := context.Background()
	tables.Seed(models.TableCartItems,
		backend.Row{"id": "l1", "user_id": "u1", "quantity": 1},
		backend.Row{"id": "l2", "user_id": "u2", "quantity": 1},
	)

	n, err := tables.Update(ctx, models.TableCartItems, "l2", backend.Row{"quantity": 9}, backend.Eq("user_id", "u1"))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = tables.Delete(ctx, models.TableCartItems, "l2", backend.Eq("user_id", "u1"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, tables.Rows(models.TableCartItems), 2)

	n, err = tables.Delete(ctx, models.TableCartItems, "l1", backend.Eq("user_id", "u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, tables.Rows(models.TableCartItems), 1)
}

func TestTables_Fail(t *testing.T) {
	tables := NewTables()
	boom := errors.New("boom")
	tables.Fail("select", boom)

	var lines []models.CartLine
	err := tables.Select(context.Background(), backend.Query{Table: models.TableCartItems}, &lines)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var qe *backend.QueryError
	assert.ErrorAs(t, err, &qe)

	tables.Fail("select", nil)
	assert.NoError(t, tables.Select(context.Background(), backend.Query{Table: models.TableCartItems}, &lines))
	assert.Equal(t, []string{"select cart_items", "select cart_items"}, tables.Calls())
}

func TestAuth_SubscriptionDeliversInOrder(t *testing.T) {
	auth := NewAuth()
	auth.AddUser("ada@example.com", "secret1")
	ctx := context.Background()

	var mu sync.Mutex
	var seen []*models.User
	sub, err := auth.OnSessionChange(ctx, func(u *models.User) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u)
	})
	require.NoError(t, err)

	require.NoError(t, auth.SignIn(ctx, "ada@example.com", "secret1"))
	require.NoError(t, auth.SignOut(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "ada@example.com", seen[0].Email)
	assert.Nil(t, seen[1])
	mu.Unlock()

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Zero(t, auth.Subscribers())
}

func TestAuth_Errors(t *testing.T) {
	auth := NewAuth()
	ctx := context.Background()

	err := auth.SignIn(ctx, "nobody@example.com", "whatever")
	var authErr *backend.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, backend.AuthCodeInvalidCredentials, authErr.Code)

	require.ErrorAs(t, auth.SignUp(ctx, "bad-email", "secret1"), &authErr)
	assert.Equal(t, backend.AuthCodeInvalidEmail, authErr.Code)

	require.ErrorAs(t, auth.SignUp(ctx, "ada@example.com", "123"), &authErr)
	assert.Equal(t, backend.AuthCodeWeakPassword, authErr.Code)

	require.NoError(t, auth.SignUp(ctx, "ada@example.com", "secret1"))
	require.ErrorAs(t, auth.SignUp(ctx, "ADA@example.com", "secret1"), &authErr)
	assert.Equal(t, backend.AuthCodeUserExists, authErr.Code)

	u, err := auth.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
}
