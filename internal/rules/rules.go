// Package rules defines architectural rules and compiles each one into a
// store query that returns exactly the rows violating it.
package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/phobologic/rulecheck/internal/errs"
	"github.com/phobologic/rulecheck/internal/store"
	"github.com/phobologic/rulecheck/internal/vars"
)

// Mode selects how a rule's relation is checked.
type Mode int

const (
	// Cannot forbids the relation between subject and objects.
	Cannot Mode = iota
	// Must requires every subject to have the relation to some object.
	Must
	// OnlyCan forbids the relation to objects from anything but the subject.
	OnlyCan
)

func (m Mode) String() string {
	switch m {
	case Cannot:
		return "cannot"
	case Must:
		return "must"
	case OnlyCan:
		return "only can"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Operand is one object of a rule: a variable or a text literal.
type Operand struct {
	v    *vars.Variable
	text string
	lit  bool
}

// Var wraps a variable operand.
func Var(v *vars.Variable) Operand { return Operand{v: v} }

// Text wraps a literal operand.
func Text(s string) Operand { return Operand{text: s, lit: true} }

// Rule is an immutable (mode, subject, relation, objects) constraint.
type Rule struct {
	mode        Mode
	subject     *vars.Variable
	rel         Relation
	objects     []*vars.Variable
	text        string
	explanation string
	pos         errs.Pos
}

// New builds a rule. Operands must fit the relation: ContainText takes a
// single text literal, binary relations one or more variables.
func New(mode Mode, subject *vars.Variable, rel Relation, objects ...Operand) (*Rule, error) {
	switch mode {
	case Cannot, Must, OnlyCan:
	default:
		return nil, errs.InvalidArgument("unknown mode %d", int(mode))
	}
	if subject == nil {
		return nil, errs.InvalidArgument("%s: missing subject", rel)
	}

	r := &Rule{mode: mode, subject: subject, rel: rel}
	switch rel {
	case ContainText:
		if len(objects) != 1 || !objects[0].lit {
			return nil, errs.InvalidArgument("contain text takes exactly one text literal, got %d operand(s)", len(objects))
		}
		if objects[0].text == "" {
			return nil, errs.InvalidArgument("contain text: empty literal")
		}
		r.text = objects[0].text
	case Invoke, DependOn:
		if len(objects) < rel.Arity() {
			return nil, errs.InvalidArgument("%s needs at least one object", rel)
		}
		for i, o := range objects {
			if o.lit || o.v == nil {
				return nil, errs.InvalidArgument("%s: operand %d must be a variable", rel, i+1)
			}
			r.objects = append(r.objects, o.v)
		}
	default:
		return nil, errs.InvalidArgument("unknown relation %d", int(rel))
	}
	return r, nil
}

// Mode returns the rule's mode.
func (r *Rule) Mode() Mode { return r.mode }

// Subject returns the subject variable.
func (r *Rule) Subject() *vars.Variable { return r.subject }

// Relation returns the relation kind.
func (r *Rule) Relation() Relation { return r.rel }

// Objects returns the object variables of a binary rule.
func (r *Rule) Objects() []*vars.Variable {
	return append([]*vars.Variable(nil), r.objects...)
}

// Text returns the literal of a ContainText rule.
func (r *Rule) Text() string { return r.text }

// Explanation returns the attached rationale, if any.
func (r *Rule) Explanation() string { return r.explanation }

// Pos returns where the rule was defined; zero for rules built in code.
func (r *Rule) Pos() errs.Pos { return r.pos }

// Explain returns a copy of r carrying text as its rationale.
func (r *Rule) Explain(text string) *Rule {
	c := *r
	c.explanation = text
	return &c
}

// At returns a copy of r positioned at pos.
func (r *Rule) At(pos errs.Pos) *Rule {
	c := *r
	c.pos = pos
	return &c
}

// String renders the rule as a rule-language statement.
func (r *Rule) String() string {
	var b strings.Builder
	if r.mode == OnlyCan {
		b.WriteString("only ")
		b.WriteString(operandName(r.subject))
		b.WriteString(" can ")
	} else {
		b.WriteString(operandName(r.subject))
		b.WriteString(" " + r.mode.String() + " ")
	}
	b.WriteString(r.rel.String())
	b.WriteString(" ")
	if r.rel == ContainText {
		b.WriteString(strconv.Quote(r.text))
	} else {
		names := make([]string, len(r.objects))
		for i, o := range r.objects {
			names[i] = operandName(o)
		}
		b.WriteString(strings.Join(names, ", "))
	}
	return b.String()
}

// operandName prefers the bound name and falls back to the structure.
func operandName(v *vars.Variable) string {
	if n := v.Name(); n != "" {
		return n
	}
	return v.String()
}

// Columns returns the result columns of r's query.
func (r *Rule) Columns() []string {
	switch {
	case r.rel == ContainText:
		return []string{store.ColEntityID, store.ColFile, store.ColSource}
	case r.mode == Must:
		return []string{store.ColEntityID, store.ColFile, store.ColLine, store.ColSource}
	default:
		return []string{store.ColEntityID, store.ColReferenceID, store.ColFile, store.ColLine, store.ColSource}
	}
}

// Query builds the violation query for r against schema s. It does no I/O
// and returns an equal result on every call.
func (r *Rule) Query(s store.Schema) store.Query {
	var (
		sql  string
		args []any
	)
	if r.rel == ContainText {
		sql, args = r.containTextQuery(s)
	} else {
		sql, args = r.binaryQuery(s)
	}
	return store.Query{Rule: r.String(), SQL: sql, Args: args, Columns: r.Columns()}
}

func (r *Rule) containTextQuery(s store.Schema) (string, []any) {
	var args []any
	subj := r.subject.Predicate("e", &args)

	var where string
	switch r.mode {
	case Cannot:
		where = subj + " AND instr(e.source, ?) > 0"
	case Must:
		where = subj + " AND instr(e.source, ?) = 0"
	case OnlyCan:
		where = "NOT (" + subj + ") AND instr(e.source, ?) > 0"
	default:
		panic(fmt.Sprintf("rules: unhandled mode %s", r.mode))
	}
	args = append(args, r.text)

	return fmt.Sprintf(
		"SELECT e.id AS entity_id, e.file AS file, e.source AS source FROM %s e WHERE %s ORDER BY e.id",
		s.Entities, where), args
}

func (r *Rule) binaryQuery(s store.Schema) (string, []any) {
	var args []any
	kind := string(r.rel.StoreKind())

	switch r.mode {
	case Cannot, OnlyCan:
		args = append(args, kind)
		subj := r.subject.Predicate("e", &args)
		if r.mode == OnlyCan {
			subj = "NOT (" + subj + ")"
		}
		objs := r.objectsPredicate("r", &args)
		return fmt.Sprintf(
			"SELECT rel.entity_id AS entity_id, rel.reference_id AS reference_id, rel.file AS file, rel.line AS line, rel.source AS source"+
				" FROM %s rel JOIN %s e ON rel.entity_id = e.id JOIN %s r ON rel.reference_id = r.id"+
				" WHERE rel.kind = ? AND %s AND %s ORDER BY rel.id",
			s.Relations, s.Entities, s.References, subj, objs), args
	case Must:
		subj := r.subject.Predicate("e", &args)
		args = append(args, kind)
		objs := r.objectsPredicate("r", &args)
		return fmt.Sprintf(
			"SELECT e.id AS entity_id, e.file AS file, e.start_line AS line, e.source AS source FROM %s e"+
				" WHERE %s AND NOT EXISTS (SELECT 1 FROM %s rel JOIN %s r ON rel.reference_id = r.id"+
				" WHERE rel.entity_id = e.id AND rel.kind = ? AND %s) ORDER BY e.id",
			s.Entities, subj, s.Relations, s.References, objs), args
	default:
		panic(fmt.Sprintf("rules: unhandled mode %s", r.mode))
	}
}

// objectsPredicate matches a reference row against any object.
func (r *Rule) objectsPredicate(alias string, args *[]any) string {
	parts := make([]string, len(r.objects))
	for i, o := range r.objects {
		parts[i] = o.Predicate(alias, args)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// Compile prepares r against db. The returned statement may be fetched any
// number of times and must be closed by the caller.
func (r *Rule) Compile(ctx context.Context, db *store.DB) (*store.Statement, error) {
	return db.Prepare(ctx, r.Query(db.Schema()))
}
