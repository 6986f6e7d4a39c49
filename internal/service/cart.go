package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UserSource reports the signed-in user
type UserSource interface {
	User() *models.User
}

var productJoin = backend.Join{
	Table:   models.TableProducts,
	As:      "product",
	Local:   "product_id",
	Foreign: "id",
}

// CartState caches the cart lines of the signed-in user.
//
// FetchCart and AddToCart reconcile memory by refetching. RemoveFromCart and
// UpdateQuantity patch memory in place after the backend confirms the write.
type CartState struct {
	tables  backend.Tables
	session UserSource
	bus     EventBus.Bus
	logger  *zap.Logger

	mu      sync.RWMutex
	items   []models.CartLine
	loading bool
}

// NewCartState creates an empty cart that drops its lines when the session user changes
func NewCartState(tables backend.Tables, session UserSource, bus EventBus.Bus) (*CartState, error) {
	c := &CartState{
		tables:  tables,
		session: session,
		bus:     bus,
		logger:  util.GetLogger().Named("cart"),
	}
	if err := bus.Subscribe(TopicSessionChanged, c.onSessionChange); err != nil {
		return nil, fmt.Errorf("failed to subscribe cart to session changes: %w", err)
	}
	return c, nil
}

// Close detaches the cart from session changes
func (c *CartState) Close() error {
	return c.bus.Unsubscribe(TopicSessionChanged, c.onSessionChange)
}

// FetchCart replaces memory with the current user's lines. Without a user the
// cart becomes empty and no error is returned.
func (c *CartState) FetchCart(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "CartState.FetchCart")
	defer span.End()
	defer observe("fetch", time.Now())

	user := c.session.User()
	if user == nil {
		c.mu.Lock()
		c.items = nil
		c.loading = false
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	var lines []models.CartLine
	err := c.tables.Select(ctx, backend.Query{
		Table:   models.TableCartItems,
		Filters: []backend.Filter{backend.Eq("user_id", user.ID)},
		Joins:   []backend.Join{productJoin},
	}, &lines)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if err != nil {
		c.items = nil
		util.CartOperationsTotal.WithLabelValues("fetch", "error").Inc()
		c.logger.Error("Failed to fetch cart", zap.String("user_id", user.ID), zap.Error(err))
		return err
	}
	if current := c.session.User(); current == nil || current.ID != user.ID {
		// session changed while the select was in flight
		c.items = nil
		return nil
	}

	c.items = lines
	util.CartOperationsTotal.WithLabelValues("fetch", "ok").Inc()
	return nil
}

// AddToCart merges quantity into the (product, size) line of the user, creating
// it when absent, then refetches the cart.
func (c *CartState) AddToCart(ctx context.Context, product *models.Product, size string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "CartState.AddToCart")
	defer span.End()
	defer observe("add", time.Now())

	user := c.session.User()
	if user == nil {
		c.logger.Warn("Add to cart without a session", zap.String("product_id", product.ID))
		util.CartOperationsTotal.WithLabelValues("add", "unauthenticated").Inc()
		return ErrNotSignedIn
	}
	if !product.HasSize(size) {
		util.CartOperationsTotal.WithLabelValues("add", "invalid").Inc()
		return fmt.Errorf("%w: %q", ErrInvalidSize, size)
	}

	if err := c.mergeOrInsert(ctx, user, product.ID, size, quantity); err != nil {
		util.CartOperationsTotal.WithLabelValues("add", "error").Inc()
		c.logger.Error("Failed to add to cart",
			zap.String("user_id", user.ID),
			zap.String("product_id", product.ID),
			zap.String("size", size),
			zap.Error(err))
		return err
	}

	util.CartOperationsTotal.WithLabelValues("add", "ok").Inc()
	return c.FetchCart(ctx)
}

func (c *CartState) mergeOrInsert(ctx context.Context, user *models.User, productID, size string, quantity int) error {
	var existing []models.CartLine
	err := c.tables.Select(ctx, backend.Query{
		Table: models.TableCartItems,
		Filters: []backend.Filter{
			backend.Eq("user_id", user.ID),
			backend.Eq("product_id", productID),
			backend.Eq("size", size),
		},
		Limit: 1,
	}, &existing)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		line := existing[0]
		_, err := c.tables.Update(ctx, models.TableCartItems, line.ID,
			backend.Row{"quantity": line.Quantity + quantity},
			backend.Eq("user_id", user.ID))
		return err
	}

	return c.tables.Insert(ctx, models.TableCartItems, backend.Row{
		"id":         uuid.New().String(),
		"user_id":    user.ID,
		"product_id": productID,
		"size":       size,
		"quantity":   quantity,
	})
}

// RemoveFromCart deletes one of the user's lines and drops it from memory
func (c *CartState) RemoveFromCart(ctx context.Context, lineID string) error {
	ctx, span := util.StartSpan(ctx, "CartState.RemoveFromCart")
	defer span.End()
	defer observe("remove", time.Now())

	user := c.session.User()
	if user == nil {
		c.logger.Warn("Remove from cart without a session", zap.String("line_id", lineID))
		util.CartOperationsTotal.WithLabelValues("remove", "unauthenticated").Inc()
		return ErrNotSignedIn
	}

	n, err := c.tables.Delete(ctx, models.TableCartItems, lineID, backend.Eq("user_id", user.ID))
	if err != nil {
		util.CartOperationsTotal.WithLabelValues("remove", "error").Inc()
		c.logger.Error("Failed to remove cart line", zap.String("line_id", lineID), zap.Error(err))
		return err
	}
	if n == 0 {
		util.CartOperationsTotal.WithLabelValues("remove", "not_found").Inc()
		return ErrLineNotFound
	}

	c.mu.Lock()
	kept := make([]models.CartLine, 0, len(c.items))
	for _, l := range c.items {
		if l.ID != lineID {
			kept = append(kept, l)
		}
	}
	c.items = kept
	c.mu.Unlock()

	util.CartOperationsTotal.WithLabelValues("remove", "ok").Inc()
	return nil
}

// UpdateQuantity sets the quantity of one of the user's lines and patches that
// line in memory. Quantity bounds are left to the caller.
func (c *CartState) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "CartState.UpdateQuantity")
	defer span.End()
	defer observe("update", time.Now())

	user := c.session.User()
	if user == nil {
		c.logger.Warn("Update quantity without a session", zap.String("line_id", lineID))
		util.CartOperationsTotal.WithLabelValues("update", "unauthenticated").Inc()
		return ErrNotSignedIn
	}

	n, err := c.tables.Update(ctx, models.TableCartItems, lineID,
		backend.Row{"quantity": quantity},
		backend.Eq("user_id", user.ID))
	if err != nil {
		util.CartOperationsTotal.WithLabelValues("update", "error").Inc()
		c.logger.Error("Failed to update cart line", zap.String("line_id", lineID), zap.Error(err))
		return err
	}
	if n == 0 {
		util.CartOperationsTotal.WithLabelValues("update", "not_found").Inc()
		return ErrLineNotFound
	}

	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == lineID {
			c.items[i].Quantity = quantity
		}
	}
	c.mu.Unlock()

	util.CartOperationsTotal.WithLabelValues("update", "ok").Inc()
	return nil
}

// Items returns a copy of the cached lines
func (c *CartState) Items() []models.CartLine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CartLine, len(c.items))
	copy(out, c.items)
	return out
}

func (c *CartState) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Total is the sum of price times quantity over the cached lines
func (c *CartState) Total() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.CartTotal(c.items)
}

// onSessionChange drops lines that do not belong to the new user. Remote rows stay.
func (c *CartState) onSessionChange(change models.SessionChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if change.Current == nil {
		c.items = nil
		return
	}
	kept := c.items[:0]
	for _, l := range c.items {
		if l.UserID == change.Current.ID {
			kept = append(kept, l)
		}
	}
	c.items = kept
}

func observe(op string, start time.Time) {
	util.CartOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
