// Package lexer declares the tokens of the rule language and splits rule
// source into positioned tokens.
package lexer

import (
	"regexp"

	"github.com/phobologic/rulecheck/internal/errs"
)

// Symbol is a token known to the parser: a regexp fragment plus the binding
// power used for operator-precedence parsing (higher binds tighter).
type Symbol struct {
	name         string
	pattern      string
	re           *regexp.Regexp
	bindingPower int
}

// NewSymbol validates pattern and bindingPower and returns an immutable Symbol.
// The pattern must not be anchored by the caller; matching anchors it at the
// current input position.
func NewSymbol(name, pattern string, bindingPower int) (*Symbol, error) {
	if bindingPower < 0 {
		return nil, errs.InvalidArgument("symbol %q: negative binding power %d", name, bindingPower)
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, errs.InvalidArgument("symbol %q: invalid regexp %q: %v", name, pattern, err)
	}
	return &Symbol{name: name, pattern: pattern, re: re, bindingPower: bindingPower}, nil
}

// Name returns the token name.
func (s *Symbol) Name() string { return s.name }

// Pattern returns the unanchored regexp fragment.
func (s *Symbol) Pattern() string { return s.pattern }

// BindingPower returns the operator precedence of the symbol.
func (s *Symbol) BindingPower() int { return s.bindingPower }

// match returns the length of the match at the start of input, or -1.
func (s *Symbol) match(input string) int {
	loc := s.re.FindStringIndex(input)
	if loc == nil {
		return -1
	}
	return loc[1]
}

// Table is an ordered set of symbols. Order breaks ties between matches of
// equal length, so keywords go before catch-all symbols like identifiers.
type Table struct {
	symbols []*Symbol
	byName  map[string]*Symbol
}

// NewTable creates an empty symbol table.
func NewTable() *Table {
	return &Table{byName: make(map[string]*Symbol)}
}

// Add declares a new symbol. Names must be unique.
func (t *Table) Add(name, pattern string, bindingPower int) (*Symbol, error) {
	if _, dup := t.byName[name]; dup {
		return nil, errs.InvalidArgument("symbol %q declared twice", name)
	}
	s, err := NewSymbol(name, pattern, bindingPower)
	if err != nil {
		return nil, err
	}
	t.symbols = append(t.symbols, s)
	t.byName[name] = s
	return s, nil
}

// MustAdd is like Add but panics on error. Intended for static grammars.
func (t *Table) MustAdd(name, pattern string, bindingPower int) *Symbol {
	s, err := t.Add(name, pattern, bindingPower)
	if err != nil {
		panic(err)
	}
	return s
}

// longest returns the symbol with the longest match at the start of input.
func (t *Table) longest(input string) (*Symbol, int) {
	var best *Symbol
	bestLen := 0
	for _, s := range t.symbols {
		if n := s.match(input); n > bestLen {
			best, bestLen = s, n
		}
	}
	return best, bestLen
}
