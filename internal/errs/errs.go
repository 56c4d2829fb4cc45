// Package errs defines the error taxonomy shared by the rule compiler:
// invalid construction arguments, rule-language parse failures, and store
// execution failures.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument indicates a variable, rule or symbol was constructed
	// from bad input (malformed regexp, kind mismatch, wrong operand arity).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrParse indicates rule-language source could not be compiled.
	ErrParse = errors.New("parse error")

	// ErrStore indicates the store rejected or failed to run a query.
	ErrStore = errors.New("store error")
)

// InvalidArgument returns an error wrapping ErrInvalidArgument.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Pos is a location in rule-language source.
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	file := p.File
	if file == "" {
		file = "<input>"
	}
	if p.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d", file, p.Line)
}

// ParseError reports a failure to compile rule-language source.
type ParseError struct {
	Pos Pos
	Msg string
	Err error
}

// NewParseError creates a parse error at pos.
func NewParseError(pos Pos, format string, args ...any) *ParseError {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Pos, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Is makes every ParseError match ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StoreError reports a failed query against the entity store.
type StoreError struct {
	Rule string // rule identity, empty for schema-level operations
	Op   string
	Err  error
}

// NewStoreError wraps err as a store failure of op.
func NewStoreError(rule, op string, err error) *StoreError {
	return &StoreError{Rule: rule, Op: op, Err: err}
}

func (e *StoreError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("store: %s: rule %q: %v", e.Op, e.Rule, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

// Is makes every StoreError match ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
