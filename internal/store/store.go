package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/backend"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Store is the Postgres implementation of backend.Tables.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the storefront tables when they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Select runs q and decodes the aggregated JSON rows into dest
func (s *Store) Select(ctx context.Context, q backend.Query, dest any) error {
	query, args, err := buildSelect(q)
	if err != nil {
		return backend.NewQueryError("select", q.Table, err)
	}

	var raw []byte
	if err := s.db.GetContext(ctx, &raw, query, args...); err != nil {
		return backend.NewQueryError("select", q.Table, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return backend.NewQueryError("select", q.Table, fmt.Errorf("failed to decode rows: %w", err))
	}
	return nil
}

// Insert inserts one row
func (s *Store) Insert(ctx context.Context, table string, row backend.Row) error {
	query, args, err := buildInsert(table, row)
	if err != nil {
		return backend.NewQueryError("insert", table, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return backend.NewQueryError("insert", table, err)
	}
	return nil
}

// Update patches the row with id matching filters
func (s *Store) Update(ctx context.Context, table, id string, patch backend.Row, filters ...backend.Filter) (int64, error) {
	query, args, err := buildUpdate(table, id, patch, filters)
	if err != nil {
		return 0, backend.NewQueryError("update", table, err)
	}
	return s.exec(ctx, "update", table, query, args)
}

// Delete removes the row with id matching filters
func (s *Store) Delete(ctx context.Context, table, id string, filters ...backend.Filter) (int64, error) {
	query, args, err := buildDelete(table, id, filters)
	if err != nil {
		return 0, backend.NewQueryError("delete", table, err)
	}
	return s.exec(ctx, "delete", table, query, args)
}

func (s *Store) exec(ctx context.Context, op, table, query string, args []any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, backend.NewQueryError(op, table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backend.NewQueryError(op, table, err)
	}
	return n, nil
}
