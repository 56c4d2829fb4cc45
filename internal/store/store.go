// Package store is the SQLite-backed entity/relation store that compiled
// rules run against. It owns the schema, the insertion primitives used by
// extraction, and the REGEXP function rule predicates rely on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"

	"github.com/phobologic/rulecheck/internal/errs"
	"github.com/phobologic/rulecheck/internal/model"
)

// Memory is the path that opens a private in-memory database.
const Memory = ":memory:"

const driverName = "sqlite3_rulecheck"

var (
	registerOnce sync.Once
	regexpCache  *lru.Cache[string, *regexp.Regexp]
)

func registerDriver() {
	registerOnce.Do(func() {
		cache, err := lru.New[string, *regexp.Regexp](512)
		if err != nil {
			panic(err) // only fails for a non-positive size
		}
		regexpCache = cache
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("regexp", regexpMatch, true)
			},
		})
	})
}

// regexpMatch backs "value REGEXP pattern", which SQLite calls as
// regexp(pattern, value).
func regexpMatch(pattern, value string) (bool, error) {
	re, ok := regexpCache.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		regexpCache.Add(pattern, re)
	}
	return re.MatchString(value), nil
}

// Schema names the three tables rules compile against.
type Schema struct {
	Entities   string
	References string
	Relations  string
}

// DefaultSchema returns the table names created by Open. The references
// table is called "refs" because REFERENCES is an SQL keyword.
func DefaultSchema() Schema {
	return Schema{Entities: "entities", References: "refs", Relations: "relations"}
}

func (s Schema) ddl() string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		file TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		source TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_type ON %[1]s(type);

	CREATE TABLE IF NOT EXISTS %[2]s (
		id INTEGER PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		file TEXT NOT NULL,
		line INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_%[2]s_identity ON %[2]s(type, name, file, line);

	CREATE TABLE IF NOT EXISTS %[3]s (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		entity_id INTEGER NOT NULL REFERENCES %[1]s(id),
		reference_id INTEGER NOT NULL REFERENCES %[2]s(id),
		file TEXT NOT NULL,
		line INTEGER NOT NULL,
		source TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_%[3]s_kind ON %[3]s(kind);
	CREATE INDEX IF NOT EXISTS idx_%[3]s_entity ON %[3]s(entity_id, kind);
	`, s.Entities, s.References, s.Relations)
}

// DB is an open store. It is safe for concurrent use; in-memory databases
// are pinned to one connection so every caller sees the same data.
type DB struct {
	*Writer
	db     *sql.DB
	path   string
	schema Schema
}

// Open opens (creating if needed) the store at path and ensures the schema.
// Use Memory for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	registerDriver()

	dsn := path
	if path != Memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errs.NewStoreError("", "open", fmt.Errorf("create data dir: %w", err))
			}
		}
		dsn = path + "?_journal=WAL&_timeout=5000"
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errs.NewStoreError("", "open", err)
	}
	if path == Memory {
		sqlDB.SetMaxOpenConns(1)
	}

	schema := DefaultSchema()
	if _, err := sqlDB.ExecContext(ctx, schema.ddl()); err != nil {
		_ = sqlDB.Close()
		return nil, errs.NewStoreError("", "migrate", err)
	}

	return &DB{
		Writer: &Writer{x: sqlDB, schema: schema},
		db:     sqlDB,
		path:   path,
		schema: schema,
	}, nil
}

// Close releases the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the path the store was opened with.
func (d *DB) Path() string { return d.path }

// Schema returns the table names of this store.
func (d *DB) Schema() Schema { return d.schema }

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(w *Writer) error) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewStoreError("", "begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Writer{x: tx, schema: d.schema}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errs.NewStoreError("", "commit", err)
	}
	return nil
}

// Reset deletes every row, keeping the schema.
func (d *DB) Reset(ctx context.Context) error {
	for _, table := range []string{d.schema.Relations, d.schema.References, d.schema.Entities} {
		if _, err := d.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errs.NewStoreError("", "reset", err)
		}
	}
	return nil
}

// Counts holds the number of rows per table.
type Counts struct {
	Entities   int
	References int
	Relations  int
}

// Counts returns the row count of each table.
func (d *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	q := fmt.Sprintf(`SELECT
		(SELECT COUNT(*) FROM %s),
		(SELECT COUNT(*) FROM %s),
		(SELECT COUNT(*) FROM %s)`, d.schema.Entities, d.schema.References, d.schema.Relations)
	if err := d.db.QueryRowContext(ctx, q).Scan(&c.Entities, &c.References, &c.Relations); err != nil {
		return Counts{}, errs.NewStoreError("", "count", err)
	}
	return c, nil
}

// Files returns the paths of the stored file entities, sorted.
func (d *DB) Files(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT name FROM %s WHERE type = ? ORDER BY name`, d.schema.Entities), string(model.File))
	if err != nil {
		return nil, errs.NewStoreError("", "files", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.NewStoreError("", "files", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewStoreError("", "files", err)
	}
	return out, nil
}

// Entity looks up an entity by id.
func (d *DB) Entity(ctx context.Context, id int64) (*model.Entity, error) {
	e := model.Entity{ID: id}
	var typ string
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT type, name, file, start_line, end_line, source
		FROM %s WHERE id = ?`, d.schema.Entities), id).
		Scan(&typ, &e.Name, &e.File, &e.StartLine, &e.EndLine, &e.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewStoreError("", "entity", fmt.Errorf("entity %d: %w", id, ErrNotFound))
	}
	if err != nil {
		return nil, errs.NewStoreError("", "entity", err)
	}
	e.Type = model.EntityType(typ)
	return &e, nil
}

// LookupReference looks up a reference by id.
func (d *DB) LookupReference(ctx context.Context, id int64) (*model.Reference, error) {
	r := model.Reference{ID: id}
	var typ string
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT type, name, file, line FROM %s WHERE id = ?`, d.schema.References), id).
		Scan(&typ, &r.Name, &r.File, &r.Line)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewStoreError("", "reference", fmt.Errorf("reference %d: %w", id, ErrNotFound))
	}
	if err != nil {
		return nil, errs.NewStoreError("", "reference", err)
	}
	r.Type = model.EntityType(typ)
	return &r, nil
}

// ErrNotFound indicates a point lookup matched no row.
var ErrNotFound = errors.New("not found")
