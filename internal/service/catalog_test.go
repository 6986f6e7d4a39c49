package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/backend"
	"storefront/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisclient.NewFromRedis(rdb), mr
}

func TestListProducts_ReadsThroughCache(t *testing.T) {
	tables := newTables()
	cache, mr := newRedisCache(t)
	catalog := NewCatalog(tables, cache, 10*time.Minute)
	ctx := context.Background()

	first, err := catalog.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "Canvas Cap", first[0].Name)
	assert.True(t, mr.Exists("catalog:products"))

	ttl := mr.TTL("catalog:products")
	assert.GreaterOrEqual(t, ttl, 10*time.Minute)
	assert.Less(t, ttl, 15*time.Minute)

	second, err := catalog.ListProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"select products"}, tables.Calls())
}

func TestListProducts_CacheExpiry(t *testing.T) {
	tables := newTables()
	cache, mr := newRedisCache(t)
	catalog := NewCatalog(tables, cache, time.Minute)
	ctx := context.Background()

	_, err := catalog.ListProducts(ctx)
	require.NoError(t, err)
	mr.FastForward(10 * time.Minute)
	_, err = catalog.ListProducts(ctx)
	require.NoError(t, err)

	assert.Len(t, tables.Calls(), 2)
}

func TestListProducts_CacheDownFallsBack(t *testing.T) {
	tables := newTables()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { rdb.Close() })
	catalog := NewCatalog(tables, redisclient.NewFromRedis(rdb), time.Minute)

	products, err := catalog.ListProducts(context.Background())

	require.NoError(t, err)
	assert.Len(t, products, 3)
}

func TestListProducts_BackendError(t *testing.T) {
	tables := newTables()
	tables.Fail("select", errors.New("boom"))
	catalog := NewCatalog(tables, nil, time.Minute)

	_, err := catalog.ListProducts(context.Background())

	var qe *backend.QueryError
	assert.ErrorAs(t, err, &qe)
}

func TestGetProduct(t *testing.T) {
	tables := newTables()
	cache, mr := newRedisCache(t)
	catalog := NewCatalog(tables, cache, time.Minute)
	ctx := context.Background()

	p, err := catalog.GetProduct(ctx, jacketID)
	require.NoError(t, err)
	assert.Equal(t, "Denim Jacket", p.Name)
	assert.Equal(t, "89.9", p.Price.String())
	assert.True(t, mr.Exists("catalog:product:"+jacketID))

	cached, err := catalog.GetProduct(ctx, jacketID)
	require.NoError(t, err)
	assert.Equal(t, p, cached)
	assert.Len(t, tables.Calls(), 1)

	_, err = catalog.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProductDetail_DefaultAndSelect(t *testing.T) {
	tables := newTables()
	tee := product(t, tables, teeID)

	detail := NewProductDetail(*tee)
	assert.Equal(t, "S", detail.SelectedSize)

	for _, size := range tee.Sizes {
		require.NoError(t, detail.Select(size))
		assert.Equal(t, size, detail.SelectedSize)
	}

	assert.ErrorIs(t, detail.Select("XXL"), ErrInvalidSize)
	assert.Equal(t, "XL", detail.SelectedSize)
}
