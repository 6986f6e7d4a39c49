package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"

	"github.com/lib/pq"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// CreateUser creates a new account row
func (s *Store) CreateUser(ctx context.Context, user *models.UserRecord) error {
	query := `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	err := s.db.GetContext(ctx, &user.CreatedAt, query,
		user.ID, strings.ToLower(user.Email), user.PasswordHash)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves an account by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.UserRecord, error) {
	var user models.UserRecord
	err := s.db.GetContext(ctx, &user,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = $1", strings.ToLower(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID retrieves an account by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.UserRecord, error) {
	var user models.UserRecord
	err := s.db.GetContext(ctx, &user,
		"SELECT id, email, password_hash, created_at FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
