// Package vars implements the variable algebra: named, typed sets of source
// entities and the combinators over them. A Variable renders itself into a
// SQL predicate so the same filter can be applied to entity rows and to
// reference rows.
package vars

import (
	"fmt"
	"regexp"

	"github.com/phobologic/rulecheck/internal/errs"
	"github.com/phobologic/rulecheck/internal/model"
)

// Kind is the base kind a variable resolves to.
type Kind int

const (
	KindEverything Kind = iota
	KindClass
	KindFunction
	KindMethod
	KindGlobal
	KindFile
	KindLanguageConstruct
)

func (k Kind) String() string {
	switch k {
	case KindEverything:
		return "everything"
	case KindClass:
		return "class"
	case KindFunction:
		return "function"
	case KindMethod:
		return "method"
	case KindGlobal:
		return "global"
	case KindFile:
		return "file"
	case KindLanguageConstruct:
		return "language construct"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// EntityType returns the store type tag for a concrete kind. It returns ""
// for KindEverything, which matches every type.
func (k Kind) EntityType() model.EntityType {
	switch k {
	case KindClass:
		return model.Class
	case KindFunction:
		return model.Function
	case KindMethod:
		return model.Method
	case KindGlobal:
		return model.Global
	case KindFile:
		return model.File
	case KindLanguageConstruct:
		return model.LanguageConstruct
	}
	return ""
}

// Op tags the variant a Variable holds.
type Op int

const (
	OpBase Op = iota
	OpLanguageConstruct
	OpWithName
	OpAnd
	OpExcept
	OpButNot
	OpAsWellAs
)

func (o Op) String() string {
	switch o {
	case OpBase:
		return "base"
	case OpLanguageConstruct:
		return "language construct"
	case OpWithName:
		return "with name"
	case OpAnd:
		return "and"
	case OpExcept:
		return "except"
	case OpButNot:
		return "but not"
	case OpAsWellAs:
		return "as well as"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Variable is an immutable predicate over entities and references.
// Variables are small trees and may be shared freely between rules.
type Variable struct {
	op          Op
	kind        Kind
	name        string
	explanation string

	literal string         // OpLanguageConstruct: construct name; OpWithName: regexp source
	re      *regexp.Regexp // OpWithName, anchored

	left, right *Variable
}

func base(name string, k Kind) *Variable {
	return &Variable{op: OpBase, kind: k, name: name}
}

// Everything matches every entity and reference.
func Everything(name string) *Variable { return base(name, KindEverything) }

// Classes matches class entities.
func Classes(name string) *Variable { return base(name, KindClass) }

// Functions matches function entities.
func Functions(name string) *Variable { return base(name, KindFunction) }

// Methods matches method entities.
func Methods(name string) *Variable { return base(name, KindMethod) }

// Globals matches globals.
func Globals(name string) *Variable { return base(name, KindGlobal) }

// Files matches files.
func Files(name string) *Variable { return base(name, KindFile) }

// BuiltIns matches every language construct reference, whatever its name.
func BuiltIns(name string) *Variable { return base(name, KindLanguageConstruct) }

// LanguageConstruct matches the builtin construct spelled literal, e.g. "@"
// or "eval".
func LanguageConstruct(name, literal string) *Variable {
	return &Variable{op: OpLanguageConstruct, kind: KindLanguageConstruct, name: name, literal: literal}
}

// WithName narrows inner to members whose whole name matches pattern.
func WithName(name, pattern string, inner *Variable) (*Variable, error) {
	if inner == nil {
		return nil, errs.InvalidArgument("with name: missing variable")
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, errs.InvalidArgument("with name: invalid regexp %q: %v", pattern, err)
	}
	return &Variable{op: OpWithName, kind: inner.kind, name: name, literal: pattern, re: re, left: inner}, nil
}

// And is the intersection of two variables of the same kind.
func And(name string, left, right *Variable) (*Variable, error) {
	if err := sameKind("and", left, right); err != nil {
		return nil, err
	}
	return &Variable{op: OpAnd, kind: left.kind, name: name, left: left, right: right}, nil
}

// Except is left minus right; both must have the same kind.
func Except(name string, left, right *Variable) (*Variable, error) {
	if err := sameKind("except", left, right); err != nil {
		return nil, err
	}
	return &Variable{op: OpExcept, kind: left.kind, name: name, left: left, right: right}, nil
}

// ButNot is universe minus excluded. Unlike Except the kinds may differ,
// which is what makes "everything but not some classes" expressible.
func ButNot(name string, universe, excluded *Variable) (*Variable, error) {
	if universe == nil || excluded == nil {
		return nil, errs.InvalidArgument("but not: missing variable")
	}
	return &Variable{op: OpButNot, kind: universe.kind, name: name, left: universe, right: excluded}, nil
}

// AsWellAs is the union of two variables, possibly of different kinds.
// A union of different kinds resolves to KindEverything.
func AsWellAs(name string, left, right *Variable) (*Variable, error) {
	if left == nil || right == nil {
		return nil, errs.InvalidArgument("as well as: missing variable")
	}
	k := left.kind
	if right.kind != k {
		k = KindEverything
	}
	return &Variable{op: OpAsWellAs, kind: k, name: name, left: left, right: right}, nil
}

func sameKind(op string, left, right *Variable) error {
	if left == nil || right == nil {
		return errs.InvalidArgument("%s: missing variable", op)
	}
	if left.kind != right.kind {
		return errs.InvalidArgument("%s only works on same type, got %s and %s", op, left.kind, right.kind)
	}
	return nil
}

// Explain returns a copy of v carrying text as its rationale.
func (v *Variable) Explain(text string) *Variable {
	c := *v
	c.explanation = text
	return &c
}

// Rename returns a copy of v bound to a new name.
func (v *Variable) Rename(name string) *Variable {
	c := *v
	c.name = name
	return &c
}

// Op returns the variant tag.
func (v *Variable) Op() Op { return v.op }

// Kind returns the base kind.
func (v *Variable) Kind() Kind { return v.kind }

// Name returns the diagnostic name.
func (v *Variable) Name() string { return v.name }

// Explanation returns the attached rationale, if any.
func (v *Variable) Explanation() string { return v.explanation }

// Predicate renders v as a SQL boolean expression over a row aliased alias
// that has "type" and "name" columns. Placeholder values are appended to
// args in the order their "?" appear in the returned text. Name matching uses
// the store's REGEXP operator.
func (v *Variable) Predicate(alias string, args *[]any) string {
	col := func(c string) string { return alias + "." + c }

	switch v.op {
	case OpBase:
		if v.kind == KindEverything {
			return "1 = 1"
		}
		*args = append(*args, string(v.kind.EntityType()))
		return col("type") + " = ?"
	case OpLanguageConstruct:
		*args = append(*args, string(model.LanguageConstruct), v.literal)
		return "(" + col("type") + " = ? AND " + col("name") + " = ?)"
	case OpWithName:
		inner := v.left.Predicate(alias, args)
		*args = append(*args, v.re.String())
		return "(" + inner + " AND " + col("name") + " REGEXP ?)"
	case OpAnd:
		l := v.left.Predicate(alias, args)
		r := v.right.Predicate(alias, args)
		return "(" + l + " AND " + r + ")"
	case OpExcept, OpButNot:
		l := v.left.Predicate(alias, args)
		r := v.right.Predicate(alias, args)
		return "(" + l + " AND NOT (" + r + "))"
	case OpAsWellAs:
		l := v.left.Predicate(alias, args)
		r := v.right.Predicate(alias, args)
		return "(" + l + " OR " + r + ")"
	default:
		panic(fmt.Sprintf("vars: unhandled op %s", v.op))
	}
}

// String renders v in rule-language form.
func (v *Variable) String() string {
	switch v.op {
	case OpBase:
		switch v.kind {
		case KindEverything:
			return "everything"
		case KindLanguageConstruct:
			return "every built-in"
		}
		return "every " + v.kind.String()
	case OpLanguageConstruct:
		return fmt.Sprintf("language construct %q", v.literal)
	case OpWithName:
		return fmt.Sprintf("%s with name %q", v.left.operandString(), v.literal)
	case OpAnd, OpExcept, OpButNot, OpAsWellAs:
		return v.left.operandString() + " " + v.op.String() + " " + v.right.operandString()
	default:
		return v.name
	}
}

func (v *Variable) operandString() string {
	switch v.op {
	case OpAnd, OpExcept, OpButNot, OpAsWellAs:
		return "(" + v.String() + ")"
	}
	return v.String()
}
