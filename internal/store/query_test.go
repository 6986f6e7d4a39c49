package store

import (
	"testing"

	"storefront/internal/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelect_CartWithProduct(t *testing.T) {
	query, args, err := buildSelect(backend.Query{
		Table:   "cart_items",
		Filters: []backend.Filter{backend.Eq("user_id", "u1")},
		Joins:   []backend.Join{{Table: "products", As: "product", Local: "product_id", Foreign: "id"}},
	})
	require.NoError(t, err)

	expected := `SELECT coalesce(json_agg(r), '[]'::json) FROM (` +
		`SELECT t0.*, (SELECT row_to_json(t2) FROM (SELECT t1.* FROM "products" t1 WHERE t1."id" = t0."product_id" LIMIT 1) t2) AS "product" ` +
		`FROM "cart_items" t0 WHERE t0."user_id" = $1) r`
	assert.Equal(t, expected, query)
	assert.Equal(t, []any{"u1"}, args)
}

func TestBuildSelect_OrdersWithNestedItems(t *testing.T) {
	query, args, err := buildSelect(backend.Query{
		Table:   "orders",
		Filters: []backend.Filter{backend.Eq("user_id", "u1")},
		Joins: []backend.Join{{
			Table: "order_items", As: "items", Local: "id", Foreign: "order_id", Many: true,
			Joins: []backend.Join{{Table: "products", As: "product", Local: "product_id", Foreign: "id"}},
		}},
		Sort:  []backend.Sort{{Column: "created_at", Desc: true}},
		Limit: 20,
	})
	require.NoError(t, err)

	assert.Contains(t, query, `json_agg(r ORDER BY r."created_at" DESC)`)
	assert.Contains(t, query, `(SELECT coalesce(json_agg(t4), '[]'::json) FROM (SELECT t1.*, `)
	assert.Contains(t, query, `FROM "order_items" t1 WHERE t1."order_id" = t0."id") t4) AS "items"`)
	assert.Contains(t, query, `FROM "products" t2 WHERE t2."id" = t1."product_id" LIMIT 1) t3) AS "product"`)
	assert.Contains(t, query, `WHERE t0."user_id" = $1 ORDER BY t0."created_at" DESC LIMIT 20) r`)
	assert.Equal(t, []any{"u1"}, args)
}

func TestBuildSelect_RejectsBadIdentifiers(t *testing.T) {
	_, _, err := buildSelect(backend.Query{Table: "cart_items; DROP TABLE users"})
	assert.Error(t, err)

	_, _, err = buildSelect(backend.Query{
		Table:   "cart_items",
		Filters: []backend.Filter{backend.Eq(`user_id" OR 1=1 --`, "x")},
	})
	assert.Error(t, err)
}

func TestBuildInsert(t *testing.T) {
	query, args, err := buildInsert("cart_items", backend.Row{
		"user_id":    "u1",
		"id":         "l1",
		"quantity":   2,
		"size":       "M",
		"product_id": "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "cart_items" ("id", "product_id", "quantity", "size", "user_id") VALUES ($1, $2, $3, $4, $5)`, query)
	assert.Equal(t, []any{"l1", "p1", 2, "M", "u1"}, args)

	_, _, err = buildInsert("cart_items", backend.Row{})
	assert.Error(t, err)
}

func TestBuildUpdateAndDelete_AreUserScoped(t *testing.T) {
	query, args, err := buildUpdate("cart_items", "l1", backend.Row{"quantity": 3}, []backend.Filter{backend.Eq("user_id", "u1")})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "cart_items" SET "quantity" = $1 WHERE "id" = $2 AND "user_id" = $3`, query)
	assert.Equal(t, []any{3, "l1", "u1"}, args)

	query, args, err = buildDelete("cart_items", "l1", []backend.Filter{backend.Eq("user_id", "u1")})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "cart_items" WHERE "id" = $1 AND "user_id" = $2`, query)
	assert.Equal(t, []any{"l1", "u1"}, args)
}
