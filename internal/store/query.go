package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phobologic/rulecheck/internal/errs"
)

// Result column names.
const (
	ColEntityID    = "entity_id"
	ColReferenceID = "reference_id"
	ColFile        = "file"
	ColLine        = "line"
	ColSource      = "source"
)

// Query is an executable, parameterized query description. Building one
// does no I/O.
type Query struct {
	Rule    string // identity of the rule the query checks, for errors
	SQL     string
	Args    []any
	Columns []string // result columns, in SELECT order
}

// Violation is one result row. Fields whose column is absent from the
// query's Columns are left zero.
type Violation struct {
	EntityID    int64
	ReferenceID int64
	File        string
	Line        int
	Source      string
}

// Statement is a prepared Query.
type Statement struct {
	q    Query
	stmt *sql.Stmt
}

// Prepare validates q against the store and returns a statement ready to
// run. Schema problems surface here as a StoreError naming the rule.
func (d *DB) Prepare(ctx context.Context, q Query) (*Statement, error) {
	for _, c := range q.Columns {
		switch c {
		case ColEntityID, ColReferenceID, ColFile, ColLine, ColSource:
		default:
			return nil, errs.NewStoreError(q.Rule, "prepare", fmt.Errorf("unknown result column %q", c))
		}
	}
	stmt, err := d.db.PrepareContext(ctx, q.SQL)
	if err != nil {
		return nil, errs.NewStoreError(q.Rule, "prepare", err)
	}
	return &Statement{q: q, stmt: stmt}, nil
}

// Query returns the description the statement was prepared from.
func (s *Statement) Query() Query { return s.q }

// Columns returns the result columns.
func (s *Statement) Columns() []string { return s.q.Columns }

// Fetch runs the statement and returns every row in store order. Fetch may
// be called repeatedly; each call re-runs the query.
func (s *Statement) Fetch(ctx context.Context) ([]Violation, error) {
	rows, err := s.stmt.QueryContext(ctx, s.q.Args...)
	if err != nil {
		return nil, errs.NewStoreError(s.q.Rule, "query", err)
	}
	defer rows.Close()

	var out []Violation
	for rows.Next() {
		var v Violation
		dest := make([]any, len(s.q.Columns))
		for i, c := range s.q.Columns {
			switch c {
			case ColEntityID:
				dest[i] = &v.EntityID
			case ColReferenceID:
				dest[i] = &v.ReferenceID
			case ColFile:
				dest[i] = &v.File
			case ColLine:
				dest[i] = &v.Line
			case ColSource:
				dest[i] = &v.Source
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errs.NewStoreError(s.q.Rule, "scan", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewStoreError(s.q.Rule, "query", err)
	}
	return out, nil
}

// Close releases the prepared statement.
func (s *Statement) Close() error {
	return s.stmt.Close()
}
