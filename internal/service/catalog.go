package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	catalogListKey   = "catalog:products"
	catalogKeyPrefix = "catalog:product:"
	maxCacheJitter   = 5
)

// CatalogCache stores JSON encoded catalog entries
type CatalogCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Catalog reads products through a cache
type Catalog struct {
	tables  backend.Tables
	cache   CatalogCache
	baseTTL time.Duration
	sfg     singleflight.Group
	logger  *zap.Logger
}

// NewCatalog creates a catalog. A nil cache reads straight from the backend.
func NewCatalog(tables backend.Tables, cache CatalogCache, baseTTL time.Duration) *Catalog {
	if baseTTL <= 0 {
		baseTTL = 10 * time.Minute
	}
	return &Catalog{
		tables:  tables,
		cache:   cache,
		baseTTL: baseTTL,
		logger:  util.GetLogger().Named("catalog"),
	}
}

// ListProducts returns every product ordered by name
func (c *Catalog) ListProducts(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.ListProducts")
	defer span.End()

	v, err, _ := c.sfg.Do(catalogListKey, func() (interface{}, error) {
		var products []models.Product
		if c.fromCache(ctx, catalogListKey, &products) {
			return products, nil
		}

		err := c.tables.Select(ctx, backend.Query{
			Table: models.TableProducts,
			Sort:  []backend.Sort{{Column: "name"}},
		}, &products)
		if err != nil {
			return nil, err
		}
		if products == nil {
			products = []models.Product{}
		}
		c.toCache(ctx, catalogListKey, products)
		return products, nil
	})
	if err != nil {
		c.logger.Error("Failed to list products", zap.Error(err))
		return nil, err
	}
	return v.([]models.Product), nil
}

// GetProduct returns one product or ErrProductNotFound
func (c *Catalog) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.GetProduct")
	defer span.End()

	key := catalogKeyPrefix + id
	v, err, _ := c.sfg.Do(key, func() (interface{}, error) {
		var product models.Product
		if c.fromCache(ctx, key, &product) {
			return &product, nil
		}

		var rows []models.Product
		err := c.tables.Select(ctx, backend.Query{
			Table:   models.TableProducts,
			Filters: []backend.Filter{backend.Eq("id", id)},
			Limit:   1,
		}, &rows)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		c.toCache(ctx, key, rows[0])
		return &rows[0], nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*models.Product)
	return &p, nil
}

// ProductDetail is a product with the size picked for adding to the cart
type ProductDetail struct {
	Product      models.Product `json:"product"`
	SelectedSize string         `json:"selected_size"`
}

// NewProductDetail selects the first listed size
func NewProductDetail(p models.Product) *ProductDetail {
	return &ProductDetail{Product: p, SelectedSize: p.DefaultSize()}
}

// Select picks another listed size
func (d *ProductDetail) Select(size string) error {
	if !d.Product.HasSize(size) {
		return fmt.Errorf("%w: %q", ErrInvalidSize, size)
	}
	d.SelectedSize = size
	return nil
}

func (c *Catalog) fromCache(ctx context.Context, key string, dest any) bool {
	if c.cache == nil {
		return false
	}
	err := c.cache.GetJSON(ctx, key, dest)
	if err == nil {
		util.CatalogCacheHitsTotal.Inc()
		return true
	}
	util.CatalogCacheMissesTotal.Inc()
	if !errors.Is(err, redisclient.ErrCacheMiss) {
		c.logger.Warn("Catalog cache read failed", zap.String("key", key), zap.Error(err))
	}
	return false
}

func (c *Catalog) toCache(ctx context.Context, key string, v any) {
	if c.cache == nil {
		return
	}
	ttl := c.baseTTL + time.Duration(rand.Intn(maxCacheJitter))*time.Minute
	if err := c.cache.SetJSON(ctx, key, v, ttl); err != nil {
		c.logger.Warn("Catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}
