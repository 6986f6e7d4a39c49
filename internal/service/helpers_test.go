package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/backend/memory"
	"storefront/internal/models"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/require"
)

const (
	teeID    = "2b1c6a0e-6c1f-4d0e-9a51-1f7e0d7f3a01"
	capID    = "2b1c6a0e-6c1f-4d0e-9a51-1f7e0d7f3a02"
	jacketID = "2b1c6a0e-6c1f-4d0e-9a51-1f7e0d7f3a03"
)

// staticUser is a UserSource that tests switch by hand
type staticUser struct {
	mu   sync.Mutex
	user *models.User
}

func (s *staticUser) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *staticUser) set(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

func newTables() *memory.Tables {
	tables := memory.NewTables()
	memory.SeedCatalog(tables)
	return tables
}

func newCart(t *testing.T, tables *memory.Tables, users UserSource) (*CartState, EventBus.Bus) {
	t.Helper()
	bus := EventBus.New()
	cart, err := NewCartState(tables, users, bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cart.Close() })
	return cart, bus
}

func product(t *testing.T, tables *memory.Tables, id string) *models.Product {
	t.Helper()
	p, err := NewCatalog(tables, nil, time.Minute).GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}
