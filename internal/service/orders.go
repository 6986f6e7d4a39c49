package service

import (
	"context"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// OrderService reads the order history of the signed-in user. Orders are
// created by checkout, outside this client.
type OrderService struct {
	tables  backend.Tables
	session UserSource
	logger  *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(tables backend.Tables, session UserSource) *OrderService {
	return &OrderService{
		tables:  tables,
		session: session,
		logger:  util.GetLogger().Named("orders"),
	}
}

// ListOrders returns the user's orders with their lines and product snapshots,
// newest first. Without a user the list is empty.
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	user := s.session.User()
	if user == nil {
		return []models.Order{}, nil
	}

	var orders []models.Order
	err := s.tables.Select(ctx, backend.Query{
		Table:   models.TableOrders,
		Filters: []backend.Filter{backend.Eq("user_id", user.ID)},
		Joins: []backend.Join{{
			Table:   models.TableOrderItems,
			As:      "items",
			Local:   "id",
			Foreign: "order_id",
			Many:    true,
			Joins:   []backend.Join{productJoin},
		}},
		Sort: []backend.Sort{{Column: "created_at", Desc: true}},
	}, &orders)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.String("user_id", user.ID), zap.Error(err))
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}
