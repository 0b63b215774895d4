package relational

import (
	"fmt"
	"strings"

	"github.com/wearefrank/ladybug-sub002/internal/storage"
)

// idColumn is the primary key column of the report table.
const idColumn = "storage_id"

// likeEscape escapes wildcards inside LIKE patterns. A bang avoids the
// backslash quoting differences between engines.
const likeEscape = '!'

// Select is a metadata query over the report table.
//
// Semantics:
//
//	SELECT <columns> FROM <table> WHERE <filters> ORDER BY storage_id DESC
//
// capped at Limit rows when Limit is positive.
type Select struct {
	Table   string
	Columns []string
	Filters []Filter
	Limit   int
}

// Filter applies a search predicate to a column expression.
type Filter struct {
	Column    string
	Predicate storage.Predicate
}

// binder numbers bind parameters in the dialect's syntax.
type binder struct {
	dialect Dialect
	args    []any
}

func (b *binder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// Compile converts q to parameterized SQL.
//
// MANDATORY: every query is ordered by storage id, newest first.
// CRITICAL: values are never interpolated, only bound.
func (d Dialect) Compile(q Select) (string, []any, error) {
	if q.Table == "" || len(q.Columns) == 0 {
		return "", nil, fmt.Errorf("compile select: table and columns are required")
	}
	b := &binder{dialect: d}
	cols := strings.Join(q.Columns, ", ")

	// TOP comes before the WHERE clause, so its parameter is bound first.
	var top string
	if q.Limit > 0 && d.Pagination == PaginateTop {
		top = "TOP (" + b.bind(q.Limit) + ") "
	}

	where, err := b.where(q.Filters)
	if err != nil {
		return "", nil, err
	}
	order := " ORDER BY " + idColumn + " DESC"

	var query string
	switch {
	case q.Limit <= 0:
		query = fmt.Sprintf("SELECT %s FROM %s%s%s", cols, q.Table, where, order)
	case d.Pagination == PaginateTop:
		query = fmt.Sprintf("SELECT %s%s FROM %s%s%s", top, cols, q.Table, where, order)
	case d.Pagination == PaginateRowNumber:
		inner := fmt.Sprintf("SELECT %s, ROW_NUMBER() OVER (ORDER BY %s DESC) AS rn FROM %s%s",
			cols, idColumn, q.Table, where)
		query = fmt.Sprintf("SELECT %s FROM (%s) numbered WHERE rn <= %s ORDER BY rn",
			cols, inner, b.bind(q.Limit))
	default:
		query = fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT %s", cols, q.Table, where, order, b.bind(q.Limit))
	}
	return query, b.args, nil
}

// where compiles the filters into a WHERE clause, empty when every filter
// matches everything.
func (b *binder) where(filters []Filter) (string, error) {
	var parts []string
	for _, f := range filters {
		sql, err := b.predicate(f.Column, f.Predicate)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

// predicate compiles one search predicate. MatchAll compiles to nothing.
func (b *binder) predicate(col string, p storage.Predicate) (string, error) {
	switch pred := p.(type) {
	case nil, storage.MatchAll:
		return "", nil
	case storage.IsNull:
		return col + " IS NULL", nil
	case storage.IsEmpty:
		return col + " = " + b.bind(""), nil
	case storage.Equals:
		return col + " = " + b.bind(pred.Value), nil
	case storage.Like:
		return fmt.Sprintf("LOWER(%s) LIKE %s ESCAPE '%c'", col, b.bind(pred.LikePattern(likeEscape)), likeEscape), nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}
