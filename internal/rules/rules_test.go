package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/rulecheck/internal/errs"
	"github.com/phobologic/rulecheck/internal/model"
	"github.com/phobologic/rulecheck/internal/store"
	"github.com/phobologic/rulecheck/internal/vars"
)

type fixture struct {
	t   *testing.T
	ctx context.Context
	db  *store.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &fixture{t: t, ctx: ctx, db: db}
}

func (f *fixture) entity(typ model.EntityType, name, source string) int64 {
	f.t.Helper()
	id, err := f.db.InsertEntity(f.ctx, model.Entity{Type: typ, Name: name, File: "file", StartLine: 1, EndLine: 2, Source: source})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) reference(typ model.EntityType, name string) int64 {
	f.t.Helper()
	id, err := f.db.Reference(f.ctx, model.Reference{Type: typ, Name: name, File: "file", Line: 2})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) relation(kind model.RelationKind, entity, ref int64) {
	f.t.Helper()
	require.NoError(f.t, f.db.InsertRelation(f.ctx, model.Relation{
		Kind: kind, EntityID: entity, ReferenceID: ref, File: "file", Line: 2, Source: "a line",
	}))
}

func (f *fixture) run(r *Rule) []store.Violation {
	f.t.Helper()
	stmt, err := r.Compile(f.ctx, f.db)
	require.NoError(f.t, err)
	defer stmt.Close()
	got, err := stmt.Fetch(f.ctx)
	require.NoError(f.t, err)
	return got
}

func edge(entity, ref int64) store.Violation {
	return store.Violation{EntityID: entity, ReferenceID: ref, File: "file", Line: 2, Source: "a line"}
}

func own(entity int64, source string) store.Violation {
	return store.Violation{EntityID: entity, File: "file", Line: 1, Source: source}
}

func text(entity int64, source string) store.Violation {
	return store.Violation{EntityID: entity, File: "file", Source: source}
}

func mustRule(t *testing.T, mode Mode, subject *vars.Variable, rel Relation, objects ...Operand) *Rule {
	t.Helper()
	r, err := New(mode, subject, rel, objects...)
	require.NoError(t, err)
	return r
}

func aClasses(t *testing.T) *vars.Variable {
	t.Helper()
	v, err := vars.WithName("AClasses", "AClass", vars.Classes("classes"))
	require.NoError(t, err)
	return v
}

func everythingButAClasses(t *testing.T) *vars.Variable {
	t.Helper()
	v, err := vars.ButNot("but_AClasses", vars.Everything("everything"), aClasses(t))
	require.NoError(t, err)
	return v
}

func TestCannotContainText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		typ    model.EntityType
		source string
		want   bool
	}{
		{"class containing foo", model.Class, "foo", true},
		{"class without foo", model.Class, "bar", false},
		{"function containing foo", model.Function, "foo", false},
		{"substring match", model.Class, "xx foo yy", true},
		{"no regexp interpretation", model.Class, "fooo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			r := mustRule(t, Cannot, vars.Classes("allClasses"), ContainText, Text("foo"))
			id := f.entity(tt.typ, "AClass", tt.source)

			got := f.run(r)
			if tt.want {
				assert.Equal(t, []store.Violation{text(id, tt.source)}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestContainTextLiteralIsNotARegexp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := mustRule(t, Cannot, vars.Everything("e"), ContainText, Text("a.c"))
	f.entity(model.Class, "A", "abc")
	id := f.entity(model.Class, "B", "x a.c y")

	assert.Equal(t, []store.Violation{text(id, "x a.c y")}, f.run(r))
}

func TestCannotBinary(t *testing.T) {
	t.Parallel()

	globOnly, err := vars.WithName("glob", "glob", vars.Globals("glob"))
	require.NoError(t, err)
	union, err := vars.AsWellAs("classesAndFunctions", vars.Classes("c"), vars.Functions("f"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		subject  *vars.Variable
		rel      Relation
		object   *vars.Variable
		subjType model.EntityType
		subjName string
		refType  model.EntityType
		refName  string
		link     bool
		want     bool
	}{
		{"class depends on global", vars.Classes("allClasses"), DependOn, vars.Globals("allGlobals"), model.Class, "AClass", model.Global, "glob", true, true},
		{"no relation stored", vars.Classes("allClasses"), DependOn, vars.Globals("allGlobals"), model.Class, "AClass", model.Global, "glob", false, false},
		{"function is not a class", vars.Classes("allClasses"), DependOn, vars.Globals("allGlobals"), model.Function, "a_function", model.Global, "glob", true, false},
		{"class invokes function", vars.Classes("allClasses"), Invoke, vars.Functions("allFunctions"), model.Class, "AClass", model.Function, "a_function", true, true},
		{"invoke not stored", vars.Classes("allClasses"), Invoke, vars.Functions("allFunctions"), model.Class, "AClass", model.Function, "a_function", false, false},
		{"function invokes function", vars.Classes("allClasses"), Invoke, vars.Functions("allFunctions"), model.Function, "some_function", model.Function, "a_function", true, false},
		{"named subject matches", aClasses(t), DependOn, vars.Globals("allGlobals"), model.Class, "AClass", model.Global, "glob", true, true},
		{"named subject differs", aClasses(t), DependOn, vars.Globals("allGlobals"), model.Class, "BClass", model.Global, "glob", true, false},
		{"named object matches", vars.Classes("allClasses"), DependOn, globOnly, model.Class, "AClass", model.Global, "glob", true, true},
		{"named object is anchored", vars.Classes("allClasses"), DependOn, globOnly, model.Class, "AClass", model.Global, "another_glob", true, false},
		{"but not keeps other classes", everythingButAClasses(t), DependOn, vars.LanguageConstruct("errorSuppressor", "@"), model.Class, "SomeClass", model.LanguageConstruct, "@", true, true},
		{"but not drops excluded class", everythingButAClasses(t), DependOn, vars.LanguageConstruct("errorSuppressor", "@"), model.Class, "AClass", model.LanguageConstruct, "@", true, false},
		{"other construct", vars.Everything("everything"), DependOn, vars.LanguageConstruct("errorSuppressor", "@"), model.Class, "AClass", model.LanguageConstruct, "unset", true, false},
		{"as well as class", union, DependOn, vars.Globals("allGlobals"), model.Class, "AClass", model.Global, "glob", true, true},
		{"as well as function", union, DependOn, vars.Globals("allGlobals"), model.Function, "a_function", model.Global, "glob", true, true},
		{"as well as excludes method", union, DependOn, vars.Globals("allGlobals"), model.Method, "a_method", model.Global, "glob", true, false},
		{"kind mismatch", vars.Classes("allClasses"), Invoke, vars.Globals("allGlobals"), model.Class, "AClass", model.Global, "glob", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			r := mustRule(t, Cannot, tt.subject, tt.rel, Var(tt.object))

			eid := f.entity(tt.subjType, tt.subjName, "foo")
			rid := f.reference(tt.refType, tt.refName)
			kind := tt.rel.StoreKind()
			if tt.name == "kind mismatch" {
				kind = model.DependOn
			}
			if tt.link {
				f.relation(kind, eid, rid)
			}

			got := f.run(r)
			if tt.want {
				assert.Equal(t, []store.Violation{edge(eid, rid)}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestEverythingCannotDependOnSuppressorForEveryEntityType(t *testing.T) {
	t.Parallel()

	for _, typ := range []model.EntityType{model.Class, model.File, model.Function, model.Method} {
		t.Run(string(typ), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			r := mustRule(t, Cannot, vars.Everything("everything"), DependOn, Var(vars.LanguageConstruct("errorSuppressor", "@")))
			eid := f.entity(typ, "entity", "foo")
			rid := f.reference(model.LanguageConstruct, "@")
			f.relation(model.DependOn, eid, rid)

			assert.Equal(t, []store.Violation{edge(eid, rid)}, f.run(r))
		})
	}
}

func TestMustDependOn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typ      model.EntityType
		entity   string
		link     bool
		wantSelf bool
	}{
		{"method without dependency", model.Method, "a_method", false, true},
		{"function named like excluded class", model.Function, "AClass", false, true},
		{"dependency present", model.Function, "AClass", true, false},
		{"excluded class", model.Class, "AClass", false, false},
		{"other class", model.Class, "BClass", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			r := mustRule(t, Must, everythingButAClasses(t), DependOn, Var(vars.Globals("allGlobals")))
			eid := f.entity(tt.typ, tt.entity, "foo")
			rid := f.reference(model.Global, "glob")
			if tt.link {
				f.relation(model.DependOn, eid, rid)
			}

			got := f.run(r)
			if tt.wantSelf {
				assert.Equal(t, []store.Violation{own(eid, "foo")}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestMustInvoke(t *testing.T) {
	t.Parallel()

	t.Run("missing invocation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		r := mustRule(t, Must, aClasses(t), Invoke, Var(vars.Functions("allFunctions")))
		eid := f.entity(model.Class, "AClass", "foo")
		f.reference(model.Function, "a_function")
		assert.Equal(t, []store.Violation{own(eid, "foo")}, f.run(r))
	})

	t.Run("invocation present", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		r := mustRule(t, Must, aClasses(t), Invoke, Var(vars.Functions("allFunctions")))
		eid := f.entity(model.Class, "AClass", "bar")
		rid := f.reference(model.Function, "a_function")
		f.relation(model.Invoke, eid, rid)
		assert.Empty(t, f.run(r))
	})

	t.Run("not a subject", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		r := mustRule(t, Must, aClasses(t), Invoke, Var(vars.Functions("allFunctions")))
		f.entity(model.Class, "BClass", "bar")
		f.reference(model.Function, "a_function")
		assert.Empty(t, f.run(r))
	})

	t.Run("relation of another kind does not satisfy", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		r := mustRule(t, Must, aClasses(t), Invoke, Var(vars.Functions("allFunctions")))
		eid := f.entity(model.Class, "AClass", "bar")
		rid := f.reference(model.Function, "a_function")
		f.relation(model.DependOn, eid, rid)
		assert.Equal(t, []store.Violation{own(eid, "bar")}, f.run(r))
	})
}

func TestOnlyCanBinary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		rel    Relation
		object *vars.Variable
		ref    model.EntityType
		typ    model.EntityType
		entity string
		want   bool
	}{
		{"method depends", DependOn, vars.Globals("allGlobals"), model.Global, model.Method, "a_method", true},
		{"other class depends", DependOn, vars.Globals("allGlobals"), model.Global, model.Class, "a_method", true},
		{"method named AClass depends", DependOn, vars.Globals("allGlobals"), model.Global, model.Method, "AClass", true},
		{"AClass depends", DependOn, vars.Globals("allGlobals"), model.Global, model.Class, "AClass", false},
		{"BClass invokes", Invoke, vars.Functions("allFunctions"), model.Function, model.Class, "BClass", true},
		{"AClass invokes", Invoke, vars.Functions("allFunctions"), model.Function, model.Class, "AClass", false},
		{"function named AClass invokes", Invoke, vars.Functions("allFunctions"), model.Function, model.Function, "AClass", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			r := mustRule(t, OnlyCan, aClasses(t), tt.rel, Var(tt.object))
			eid := f.entity(tt.typ, tt.entity, "foo")
			rid := f.reference(tt.ref, "obj")
			f.relation(tt.rel.StoreKind(), eid, rid)

			got := f.run(r)
			if tt.want {
				assert.Equal(t, []store.Violation{edge(eid, rid)}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestContainTextModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mode   Mode
		typ    model.EntityType
		entity string
		source string
		want   bool
	}{
		{"must: AClass lacks foo", Must, model.Class, "AClass", "bar", true},
		{"must: BClass is not subject", Must, model.Class, "BClass", "foo", false},
		{"must: BClass without foo", Must, model.Class, "BClass", "bar", false},
		{"must: function named AClass", Must, model.Function, "AClass", "bar", false},
		{"must: AClass has foo", Must, model.Class, "AClass", "xfoox", false},
		{"only can: BClass has foo", OnlyCan, model.Class, "BClass", "foo", true},
		{"only can: AClass has foo", OnlyCan, model.Class, "AClass", "foo", false},
		{"only can: function named AClass", OnlyCan, model.Function, "AClass", "foo", true},
		{"only can: BClass without foo", OnlyCan, model.Class, "BClass", "bar", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			r := mustRule(t, tt.mode, aClasses(t), ContainText, Text("foo"))
			id := f.entity(tt.typ, tt.entity, tt.source)

			got := f.run(r)
			if tt.want {
				assert.Equal(t, []store.Violation{text(id, tt.source)}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestMultipleObjectsMatchAny(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := mustRule(t, Cannot, vars.Classes("c"), DependOn,
		Var(vars.Globals("g")), Var(vars.LanguageConstruct("eval", "eval")))

	eid := f.entity(model.Class, "A", "src")
	g := f.reference(model.Global, "glob")
	fn := f.reference(model.Function, "helper")
	ev := f.reference(model.LanguageConstruct, "eval")
	f.relation(model.DependOn, eid, g)
	f.relation(model.DependOn, eid, fn)
	f.relation(model.DependOn, eid, ev)

	assert.Equal(t, []store.Violation{edge(eid, g), edge(eid, ev)}, f.run(r))
}

func TestResultsFollowStoreOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := mustRule(t, Cannot, vars.Everything("e"), ContainText, Text("x"))
	var want []store.Violation
	for _, name := range []string{"c", "a", "b"} {
		id := f.entity(model.Function, name, "x")
		want = append(want, text(id, "x"))
	}
	assert.Equal(t, want, f.run(r))
}

func TestCompileIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := mustRule(t, Must, everythingButAClasses(t), DependOn, Var(vars.Globals("g")))
	s := f.db.Schema()
	assert.Equal(t, r.Query(s), r.Query(s))

	f.entity(model.Method, "m", "foo")
	first := f.run(r)
	second := f.run(r)
	assert.Equal(t, first, second)
	assert.Len(t, first, 1)
}

func TestExplainKeepsBehavior(t *testing.T) {
	t.Parallel()

	r := mustRule(t, OnlyCan, aClasses(t), Invoke, Var(vars.Functions("f")))
	e := r.Explain("only the facade talks to the outside")

	assert.Equal(t, "only the facade talks to the outside", e.Explanation())
	assert.Empty(t, r.Explanation())
	assert.Equal(t, r.Mode(), e.Mode())
	assert.Equal(t, r.Relation(), e.Relation())
	s := store.DefaultSchema()
	assert.Equal(t, r.Query(s), e.Query(s))

	p := e.At(errs.Pos{File: "rules.txt", Line: 3, Column: 1})
	assert.Equal(t, 3, p.Pos().Line)
	assert.Zero(t, e.Pos().Line)
}

func TestColumns(t *testing.T) {
	t.Parallel()

	binary := []string{"entity_id", "reference_id", "file", "line", "source"}
	tests := []struct {
		mode Mode
		rel  Relation
		want []string
	}{
		{Cannot, DependOn, binary},
		{OnlyCan, Invoke, binary},
		{Must, DependOn, []string{"entity_id", "file", "line", "source"}},
		{Cannot, ContainText, []string{"entity_id", "file", "source"}},
		{Must, ContainText, []string{"entity_id", "file", "source"}},
		{OnlyCan, ContainText, []string{"entity_id", "file", "source"}},
	}
	for _, tt := range tests {
		op := Var(vars.Functions("f"))
		if tt.rel == ContainText {
			op = Text("x")
		}
		r := mustRule(t, tt.mode, vars.Classes("c"), tt.rel, op)
		assert.Equal(t, tt.want, r.Columns(), "%s %s", tt.mode, tt.rel)
		assert.Equal(t, tt.want, r.Query(store.DefaultSchema()).Columns)
	}
}

func TestNewValidatesOperands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rel  Relation
		ops  []Operand
	}{
		{"contain text without literal", ContainText, nil},
		{"contain text with variable", ContainText, []Operand{Var(vars.Classes("c"))}},
		{"contain text with two literals", ContainText, []Operand{Text("a"), Text("b")}},
		{"contain text with empty literal", ContainText, []Operand{Text("")}},
		{"invoke without objects", Invoke, nil},
		{"depend on with literal", DependOn, []Operand{Text("x")}},
		{"depend on with nil variable", DependOn, []Operand{Var(nil)}},
		{"unknown relation", Relation(42), []Operand{Text("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(Cannot, vars.Classes("c"), tt.rel, tt.ops...)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		})
	}

	_, err := New(Mode(9), vars.Classes("c"), Invoke, Var(vars.Functions("f")))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = New(Cannot, nil, Invoke, Var(vars.Functions("f")))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rule *Rule
		want string
	}{
		{mustRule(t, Cannot, vars.Classes("allClasses"), ContainText, Text("foo")), `allClasses cannot contain text "foo"`},
		{mustRule(t, Must, vars.Classes("Controllers"), Invoke, Var(vars.Functions("f")), Var(vars.Globals("g"))), "Controllers must invoke f, g"},
		{mustRule(t, OnlyCan, vars.Classes("Models"), DependOn, Var(vars.Globals("g"))), "only Models can depend on g"},
		{mustRule(t, Cannot, vars.Classes(""), DependOn, Var(vars.Globals(""))), "every class cannot depend on every global"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.rule.String())
	}
}

func TestRelationVocabulary(t *testing.T) {
	t.Parallel()

	assert.False(t, ContainText.Binary())
	assert.Equal(t, model.RelationKind(""), ContainText.StoreKind())

	for _, r := range []Relation{Invoke, DependOn} {
		assert.True(t, r.Binary())
		assert.Equal(t, 1, r.Arity())
	}
	assert.Equal(t, model.Invoke, Invoke.StoreKind())
	assert.Equal(t, model.DependOn, DependOn.StoreKind())
}

func TestCompileReportsStoreErrorWithRule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := mustRule(t, Cannot, vars.Classes("c"), DependOn, Var(vars.Globals("g")))
	q := r.Query(store.Schema{Entities: "nope", References: "refs", Relations: "relations"})

	_, err := f.db.Prepare(f.ctx, q)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStore)
	assert.Contains(t, err.Error(), r.String())
}
