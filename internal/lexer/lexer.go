package lexer

import (
	"errors"
	"strings"

	"github.com/phobologic/rulecheck/internal/errs"
)

// Names of the structural tokens produced by Lex independent of the table.
const (
	Newline = "newline"
	EOF     = "eof"
	Invalid = "invalid"
)

// Token is one lexeme of rule source.
type Token struct {
	Symbol *Symbol // nil for structural tokens
	Kind   string  // symbol name, Newline, EOF or Invalid
	Text   string
	Pos    errs.Pos
}

// BindingPower returns the token's left binding power, 0 for structural tokens.
func (t Token) BindingPower() int {
	if t.Symbol == nil {
		return 0
	}
	return t.Symbol.BindingPower()
}

// Lex splits src into tokens using table. Spaces, tabs, carriage returns and
// '#' comments are skipped; each line break yields a Newline token and the
// stream always ends with EOF.
//
// Unrecognized input up to the next whitespace becomes an Invalid token and
// lexing continues, so the full stream is always returned. The error joins
// one ParseError per Invalid token.
func Lex(file, src string, table *Table) ([]Token, error) {
	var (
		tokens []Token
		bad    []error
	)
	line, col := 1, 1
	rest := src

	for len(rest) > 0 {
		c := rest[0]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			rest = rest[1:]
			col++
			continue
		case c == '\n':
			tokens = append(tokens, Token{Kind: Newline, Text: "\n", Pos: errs.Pos{File: file, Line: line, Column: col}})
			rest = rest[1:]
			line++
			col = 1
			continue
		case c == '#':
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			col += end
			rest = rest[end:]
			continue
		}

		sym, n := table.longest(rest)
		pos := errs.Pos{File: file, Line: line, Column: col}
		if sym == nil {
			word := rest
			if i := strings.IndexAny(word, " \t\r\n"); i >= 0 {
				word = word[:i]
			}
			tokens = append(tokens, Token{Kind: Invalid, Text: word, Pos: pos})
			bad = append(bad, errs.NewParseError(pos, "unrecognized input %q", word))
			col += len(word)
			rest = rest[len(word):]
			continue
		}
		text := rest[:n]
		tokens = append(tokens, Token{Symbol: sym, Kind: sym.Name(), Text: text, Pos: pos})

		// Tokens may span lines (string literals); keep positions honest.
		if nl := strings.Count(text, "\n"); nl > 0 {
			line += nl
			col = len(text) - strings.LastIndexByte(text, '\n')
		} else {
			col += n
		}
		rest = rest[n:]
	}

	tokens = append(tokens, Token{Kind: EOF, Pos: errs.Pos{File: file, Line: line, Column: col}})
	return tokens, errors.Join(bad...)
}
