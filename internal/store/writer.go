package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/phobologic/rulecheck/internal/errs"
	"github.com/phobologic/rulecheck/internal/model"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Writer holds the insertion primitives used to populate the store.
type Writer struct {
	x      execer
	schema Schema
}

// InsertEntity stores e and returns its assigned id. The store does not
// deduplicate entities; callers must not insert the same construct twice.
func (w *Writer) InsertEntity(ctx context.Context, e model.Entity) (int64, error) {
	res, err := w.x.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (type, name, file, start_line, end_line, source)
		VALUES (?, ?, ?, ?, ?, ?)`, w.schema.Entities),
		string(e.Type), e.Name, e.File, e.StartLine, e.EndLine, e.Source)
	if err != nil {
		return 0, errs.NewStoreError("", "insert entity", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.NewStoreError("", "insert entity", err)
	}
	return id, nil
}

// Reference returns the id of the reference identified by
// (type, name, file, line), inserting it first if needed.
func (w *Writer) Reference(ctx context.Context, r model.Reference) (int64, error) {
	var id int64
	err := w.x.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id FROM %s WHERE type = ? AND name = ? AND file = ? AND line = ?`, w.schema.References),
		string(r.Type), r.Name, r.File, r.Line).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, errs.NewStoreError("", "lookup reference", err)
	}

	res, err := w.x.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (type, name, file, line) VALUES (?, ?, ?, ?)`, w.schema.References),
		string(r.Type), r.Name, r.File, r.Line)
	if err != nil {
		return 0, errs.NewStoreError("", "insert reference", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, errs.NewStoreError("", "insert reference", err)
	}
	return id, nil
}

// InsertRelation records one occurrence of a relation.
func (w *Writer) InsertRelation(ctx context.Context, r model.Relation) error {
	_, err := w.x.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (kind, entity_id, reference_id, file, line, source)
		VALUES (?, ?, ?, ?, ?, ?)`, w.schema.Relations),
		string(r.Kind), r.EntityID, r.ReferenceID, r.File, r.Line, r.Source)
	if err != nil {
		return errs.NewStoreError("", "insert relation", err)
	}
	return nil
}
