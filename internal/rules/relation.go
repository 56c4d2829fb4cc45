package rules

import (
	"fmt"

	"github.com/phobologic/rulecheck/internal/model"
)

// Relation is a checkable relationship kind.
type Relation int

const (
	// ContainText holds when an entity's source contains a literal.
	ContainText Relation = iota
	// Invoke is a call edge from an entity to a reference.
	Invoke
	// DependOn is a use edge from an entity to a reference.
	DependOn
)

func (r Relation) String() string {
	switch r {
	case ContainText:
		return "contain text"
	case Invoke:
		return "invoke"
	case DependOn:
		return "depend on"
	default:
		return fmt.Sprintf("Relation(%d)", int(r))
	}
}

// Arity is the minimum number of object operands a rule over r takes.
// ContainText takes exactly one literal.
func (r Relation) Arity() int {
	return 1
}

// Binary reports whether r is an entity-to-reference edge.
func (r Relation) Binary() bool {
	return r == Invoke || r == DependOn
}

// StoreKind returns the relations.kind tag of a binary relation.
func (r Relation) StoreKind() model.RelationKind {
	switch r {
	case Invoke:
		return model.Invoke
	case DependOn:
		return model.DependOn
	}
	return ""
}
