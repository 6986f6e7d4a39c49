// Package memory provides an in-process backend. It backs the demo mode of the
// storefront and doubles as the backend in tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/backend"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tables is a map-backed backend.Tables. Rows keep insertion order.
type Tables struct {
	mu       sync.RWMutex
	rows     map[string][]backend.Row
	failures map[string]error
	calls    []string
}

// NewTables creates an empty store.
func NewTables() *Tables {
	return &Tables{
		rows:     make(map[string][]backend.Row),
		failures: make(map[string]error),
	}
}

// Seed appends rows to table without going through Insert.
func (t *Tables) Seed(table string, rows ...backend.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		t.rows[table] = append(t.rows[table], copyRow(r))
	}
}

// Fail makes every subsequent call of op ("select", "insert", "update",
// "delete") return err. A nil err clears the failure.
func (t *Tables) Fail(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, op)
		return
	}
	t.failures[op] = err
}

// Calls returns the operations issued so far as "op table".
func (t *Tables) Calls() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.calls...)
}

// Rows returns a copy of the raw rows of table.
func (t *Tables) Rows(table string) []backend.Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]backend.Row, 0, len(t.rows[table]))
	for _, r := range t.rows[table] {
		out = append(out, copyRow(r))
	}
	return out
}

func (t *Tables) record(op, table string) error {
	t.calls = append(t.calls, op+" "+table)
	if err, ok := t.failures[op]; ok {
		return backend.NewQueryError(op, table, err)
	}
	return nil
}

func (t *Tables) Select(ctx context.Context, q backend.Query, dest any) error {
	if err := ctx.Err(); err != nil {
		return backend.NewQueryError("select", q.Table, err)
	}

	t.mu.Lock()
	if err := t.record("select", q.Table); err != nil {
		t.mu.Unlock()
		return err
	}
	var result []backend.Row
	for _, r := range t.rows[q.Table] {
		if !matches(r, q.Filters) {
			continue
		}
		result = append(result, t.embed(r, q.Joins))
	}
	t.mu.Unlock()

	if len(q.Sort) > 0 {
		sort.SliceStable(result, func(i, j int) bool {
			for _, s := range q.Sort {
				c := compare(result[i][s.Column], result[j][s.Column])
				if c == 0 {
					continue
				}
				if s.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	if result == nil {
		result = []backend.Row{}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return backend.NewQueryError("select", q.Table, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return backend.NewQueryError("select", q.Table, fmt.Errorf("failed to decode rows: %w", err))
	}
	return nil
}

// embed must be called with t.mu held.
func (t *Tables) embed(parent backend.Row, joins []backend.Join) backend.Row {
	out := copyRow(parent)
	for _, j := range joins {
		var related []backend.Row
		for _, r := range t.rows[j.Table] {
			if equal(r[j.Foreign], parent[j.Local]) {
				related = append(related, t.embed(r, j.Joins))
			}
		}
		switch {
		case j.Many && related == nil:
			out[j.As] = []backend.Row{}
		case j.Many:
			out[j.As] = related
		case len(related) > 0:
			out[j.As] = related[0]
		default:
			out[j.As] = nil
		}
	}
	return out
}

func (t *Tables) Insert(ctx context.Context, table string, row backend.Row) error {
	if err := ctx.Err(); err != nil {
		return backend.NewQueryError("insert", table, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.record("insert", table); err != nil {
		return err
	}
	r := copyRow(row)
	if _, ok := r["id"]; !ok {
		r["id"] = uuid.New().String()
	}
	if _, ok := r["created_at"]; !ok {
		r["created_at"] = time.Now().UTC()
	}
	t.rows[table] = append(t.rows[table], r)
	return nil
}

func (t *Tables) Update(ctx context.Context, table, id string, patch backend.Row, filters ...backend.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, backend.NewQueryError("update", table, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.record("update", table); err != nil {
		return 0, err
	}
	filters = append([]backend.Filter{backend.Eq("id", id)}, filters...)
	var n int64
	for _, r := range t.rows[table] {
		if !matches(r, filters) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		n++
	}
	return n, nil
}

func (t *Tables) Delete(ctx context.Context, table, id string, filters ...backend.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, backend.NewQueryError("delete", table, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.record("delete", table); err != nil {
		return 0, err
	}
	filters = append([]backend.Filter{backend.Eq("id", id)}, filters...)
	kept := t.rows[table][:0]
	var n int64
	for _, r := range t.rows[table] {
		if matches(r, filters) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.rows[table] = kept
	return n, nil
}

func matches(r backend.Row, filters []backend.Filter) bool {
	for _, f := range filters {
		if !equal(r[f.Column], f.Value) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case decimal.Decimal:
		if bv, ok := b.(decimal.Decimal); ok {
			return av.Cmp(bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			return av - bv
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func copyRow(r backend.Row) backend.Row {
	out := make(backend.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
