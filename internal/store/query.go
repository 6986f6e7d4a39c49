package store

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"storefront/internal/backend"

	"github.com/lib/pq"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func ident(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return pq.QuoteIdentifier(name), nil
}

// queryBuilder renders backend queries into Postgres SQL with positional args.
type queryBuilder struct {
	args  []any
	alias int
}

func (b *queryBuilder) bind(v any) string {
	if ss, ok := v.([]string); ok {
		v = pq.Array(ss)
	}
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *queryBuilder) nextAlias() string {
	a := fmt.Sprintf("t%d", b.alias)
	b.alias++
	return a
}

// buildSelect renders q as a single statement returning one JSON array. Joined
// relations are nested objects (to-one) or arrays (Many) under their alias.
func buildSelect(q backend.Query) (string, []any, error) {
	b := &queryBuilder{}
	inner, err := b.relation(q.Table, q.Joins, q.Filters, nil, q.Sort, q.Limit)
	if err != nil {
		return "", nil, err
	}

	agg := "json_agg(r)"
	if len(q.Sort) > 0 {
		order, err := orderBy("r", q.Sort)
		if err != nil {
			return "", nil, err
		}
		agg = fmt.Sprintf("json_agg(r %s)", order)
	}
	query := fmt.Sprintf("SELECT coalesce(%s, '[]'::json) FROM (%s) r", agg, inner)
	return query, b.args, nil
}

// relation renders "SELECT tN.*, <joins> FROM table tN WHERE ..." where link, when
// set, correlates tN with its parent alias.
func (b *queryBuilder) relation(table string, joins []backend.Join, filters []backend.Filter, link *string, sorts []backend.Sort, limit int) (string, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", err
	}
	alias := b.nextAlias()

	cols := []string{alias + ".*"}
	for _, j := range joins {
		sub, err := b.join(alias, j)
		if err != nil {
			return "", err
		}
		as, err := ident(j.As)
		if err != nil {
			return "", err
		}
		cols = append(cols, fmt.Sprintf("(%s) AS %s", sub, as))
	}

	var where []string
	if link != nil {
		where = append(where, fmt.Sprintf(*link, alias))
	}
	for _, f := range filters {
		col, err := ident(f.Column)
		if err != nil {
			return "", err
		}
		where = append(where, fmt.Sprintf("%s.%s = %s", alias, col, b.bind(f.Value)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s %s", strings.Join(cols, ", "), tbl, alias)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if len(sorts) > 0 {
		order, err := orderBy(alias, sorts)
		if err != nil {
			return "", err
		}
		sb.WriteString(" " + order)
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), nil
}

func (b *queryBuilder) join(parent string, j backend.Join) (string, error) {
	local, err := ident(j.Local)
	if err != nil {
		return "", err
	}
	foreign, err := ident(j.Foreign)
	if err != nil {
		return "", err
	}
	// %%s is filled with the joined alias inside relation.
	link := fmt.Sprintf("%%s.%s = %s.%s", foreign, parent, local)

	limit := 1
	if j.Many {
		limit = 0
	}
	inner, err := b.relation(j.Table, j.Joins, nil, &link, nil, limit)
	if err != nil {
		return "", err
	}
	alias := b.nextAlias()
	if j.Many {
		return fmt.Sprintf("SELECT coalesce(json_agg(%s), '[]'::json) FROM (%s) %s", alias, inner, alias), nil
	}
	return fmt.Sprintf("SELECT row_to_json(%s) FROM (%s) %s", alias, inner, alias), nil
}

func orderBy(alias string, sorts []backend.Sort) (string, error) {
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		col, err := ident(s.Column)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s.%s %s", alias, col, dir))
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

func buildInsert(table string, row backend.Row) (string, []any, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", nil, err
	}
	if len(row) == 0 {
		return "", nil, fmt.Errorf("empty insert into %s", table)
	}
	b := &queryBuilder{}
	cols := make([]string, 0, len(row))
	vals := make([]string, 0, len(row))
	for _, k := range sortedKeys(row) {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
		vals = append(vals, b.bind(row[k]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, strings.Join(cols, ", "), strings.Join(vals, ", "))
	return query, b.args, nil
}

func buildUpdate(table, id string, patch backend.Row, filters []backend.Filter) (string, []any, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", nil, err
	}
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("empty update of %s", table)
	}
	b := &queryBuilder{}
	sets := make([]string, 0, len(patch))
	for _, k := range sortedKeys(patch) {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", col, b.bind(patch[k])))
	}
	where, err := b.scope(id, filters)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", tbl, strings.Join(sets, ", "), where)
	return query, b.args, nil
}

func buildDelete(table, id string, filters []backend.Filter) (string, []any, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", nil, err
	}
	b := &queryBuilder{}
	where, err := b.scope(id, filters)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", tbl, where), b.args, nil
}

func (b *queryBuilder) scope(id string, filters []backend.Filter) (string, error) {
	conds := []string{`"id" = ` + b.bind(id)}
	for _, f := range filters {
		col, err := ident(f.Column)
		if err != nil {
			return "", err
		}
		conds = append(conds, fmt.Sprintf("%s = %s", col, b.bind(f.Value)))
	}
	return strings.Join(conds, " AND "), nil
}

func sortedKeys(r backend.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
