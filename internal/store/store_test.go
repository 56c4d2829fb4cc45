package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/rulecheck/internal/errs"
	"github.com/phobologic/rulecheck/internal/model"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	c, err := db.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{}, c)
	assert.Equal(t, DefaultSchema(), db.Schema())
	assert.Equal(t, Memory, db.Path())
}

func TestOpenFileCreatesParentDir(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "facts.db")
	db, err := Open(ctx, path)
	require.NoError(t, err)

	_, err = db.InsertEntity(ctx, model.Entity{Type: model.Class, Name: "A", File: "a.go", StartLine: 1, EndLine: 2})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening keeps data and does not fail on the existing schema
	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	c, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Entities)
}

func TestReferenceIsGetOrInsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemory(t)

	r := model.Reference{Type: model.Function, Name: "doThing", File: "a.py", Line: 3}
	id1, err := db.Reference(ctx, r)
	require.NoError(t, err)
	id2, err := db.Reference(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	r.Line = 4
	id3, err := db.Reference(ctx, r)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	got, err := db.LookupReference(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, model.Reference{ID: id1, Type: model.Function, Name: "doThing", File: "a.py", Line: 3}, *got)
}

func TestEntityLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemory(t)

	want := model.Entity{Type: model.Method, Name: "run", File: "x.rb", StartLine: 2, EndLine: 5, Source: "def run\nend"}
	id, err := db.InsertEntity(ctx, want)
	require.NoError(t, err)
	want.ID = id

	got, err := db.Entity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = db.Entity(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, errs.ErrStore)
}

func TestFilesListsFileEntities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemory(t)

	for _, e := range []model.Entity{
		{Type: model.File, Name: "b.go", File: "b.go", StartLine: 1, EndLine: 3},
		{Type: model.Class, Name: "A", File: "b.go", StartLine: 1, EndLine: 2},
		{Type: model.File, Name: "a.go", File: "a.go", StartLine: 1, EndLine: 1},
	} {
		_, err := db.InsertEntity(ctx, e)
		require.NoError(t, err)
	}

	got, err := db.Files(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, got)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemory(t)
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(w *Writer) error {
		if _, err := w.InsertEntity(ctx, model.Entity{Type: model.File, Name: "a.go", File: "a.go"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Entities)

	err = db.WithTx(ctx, func(w *Writer) error {
		eid, err := w.InsertEntity(ctx, model.Entity{Type: model.Function, Name: "main", File: "a.go", StartLine: 1, EndLine: 3})
		if err != nil {
			return err
		}
		rid, err := w.Reference(ctx, model.Reference{Type: model.Function, Name: "helper", File: "a.go", Line: 2})
		if err != nil {
			return err
		}
		return w.InsertRelation(ctx, model.Relation{Kind: model.Invoke, EntityID: eid, ReferenceID: rid, File: "a.go", Line: 2, Source: "helper()"})
	})
	require.NoError(t, err)

	c, err = db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Entities: 1, References: 1, Relations: 1}, c)

	require.NoError(t, db.Reset(ctx))
	c, err = db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, c)
}

func TestRegexpFunction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemory(t)

	for _, name := range []string{"glob", "another_glob", "globber"} {
		_, err := db.InsertEntity(ctx, model.Entity{Type: model.Global, Name: name, File: "g.rb"})
		require.NoError(t, err)
	}

	stmt, err := db.Prepare(ctx, Query{
		SQL:     "SELECT e.id AS entity_id, e.file FROM entities e WHERE e.name REGEXP ? ORDER BY e.id",
		Args:    []any{"^(?:glob)$"},
		Columns: []string{ColEntityID, ColFile},
	})
	require.NoError(t, err)
	defer stmt.Close()

	got, err := stmt.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "g.rb", got[0].File)
	assert.Zero(t, got[0].Line)

	// Fetch re-runs the query
	again, err := stmt.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestPrepareErrorsNameTheRule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemory(t)

	_, err := db.Prepare(ctx, Query{Rule: "r1", SQL: "SELECT id FROM missing_table", Columns: []string{ColEntityID}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStore)
	var se *errs.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "r1", se.Rule)

	_, err = db.Prepare(ctx, Query{Rule: "r2", SQL: "SELECT id FROM entities", Columns: []string{"bogus"}})
	assert.ErrorIs(t, err, errs.ErrStore)
}
