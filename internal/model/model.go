// Package model defines core data structures for rulecheck.
package model

// EntityType is the closed vocabulary of source constructs. Extraction and
// the variable algebra must agree on these values; an unknown type simply
// never matches any rule.
type EntityType string

const (
	Class             EntityType = "class"
	Function          EntityType = "function"
	Method            EntityType = "method"
	File              EntityType = "file"
	Global            EntityType = "global"
	LanguageConstruct EntityType = "language_construct"
)

// EntityTypes lists every known type in a stable order.
var EntityTypes = []EntityType{Class, Function, Method, File, Global, LanguageConstruct}

// RelationKind names a binary fact recorded in the store.
type RelationKind string

const (
	Invoke   RelationKind = "invoke"
	DependOn RelationKind = "depend_on"
)

// Entity is a defined source construct with its location and excerpt.
type Entity struct {
	ID        int64
	Type      EntityType
	Name      string
	File      string
	StartLine int
	EndLine   int
	Source    string
}

// Reference is a use-site mention of something that may not be defined in
// the store itself (a global, a builtin, an external function).
type Reference struct {
	ID   int64
	Type EntityType
	Name string
	File string
	Line int
}

// Relation is a located fact: EntityID relates to ReferenceID.
// The same pair may relate on several lines; each row is its own occurrence.
type Relation struct {
	Kind        RelationKind
	EntityID    int64
	ReferenceID int64
	File        string
	Line        int
	Source      string
}
