package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/rulecheck/internal/errs"
)

func TestNewSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		bp      int
		wantErr bool
	}{
		{"keyword", `every[ \t]+class`, 0, false},
		{"operator", `and\b`, 40, false},
		{"empty pattern", ``, 0, false},
		{"unbalanced paren", `(foo`, 0, true},
		{"bad class", `[a-`, 0, true},
		{"negative power", `foo`, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewSymbol(tt.name, tt.pattern, tt.bp)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrInvalidArgument)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pattern, s.Pattern())
			assert.Equal(t, tt.bp, s.BindingPower())
			assert.Equal(t, tt.name, s.Name())
		})
	}
}

func TestSymbolIsAnchored(t *testing.T) {
	t.Parallel()

	s, err := NewSymbol("and", `and`, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.match("and more"))
	assert.Equal(t, -1, s.match("band"))
}

func TestTableRejectsDuplicates(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	_, err := tbl.Add("x", `x`, 0)
	require.NoError(t, err)
	_, err = tbl.Add("x", `y`, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	require.Len(t, tbl.symbols, 1)
	assert.Equal(t, "x", tbl.byName["x"].Pattern())
}

func testTable() *Table {
	tbl := NewTable()
	tbl.MustAdd("every_class", `every[ \t]+class\b`, 0)
	tbl.MustAdd("as_well_as", `as[ \t]+well[ \t]+as\b`, 20)
	tbl.MustAdd("and", `and\b`, 40)
	tbl.MustAdd("=", `=`, 0)
	tbl.MustAdd("string", `"(?:[^"\\]|\\.)*"`, 0)
	tbl.MustAdd("ident", `[A-Za-z_][A-Za-z0-9_]*`, 0)
	return tbl
}

func kinds(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Kind
	}
	return out
}

func TestLexLongestMatchAndPriority(t *testing.T) {
	t.Parallel()

	tokens, err := Lex("r.txt", "X = every class and andy\n", testTable())
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"ident", "=", "every_class", "and", "ident", Newline, EOF},
		kinds(tokens))
	assert.Equal(t, "andy", tokens[4].Text)
	assert.Equal(t, 40, tokens[3].BindingPower())
	assert.Equal(t, 0, tokens[5].BindingPower())
}

func TestLexPositionsAndComments(t *testing.T) {
	t.Parallel()

	src := "# heading\nA = every class\n\n  B as well as A # trailing\n"
	tokens, err := Lex("r.txt", src, testTable())
	require.NoError(t, err)

	assert.Equal(t,
		[]string{Newline, "ident", "=", "every_class", Newline, Newline, "ident", "as_well_as", "ident", Newline, EOF},
		kinds(tokens))
	assert.Equal(t, errs.Pos{File: "r.txt", Line: 2, Column: 1}, tokens[1].Pos)
	assert.Equal(t, errs.Pos{File: "r.txt", Line: 2, Column: 5}, tokens[3].Pos)
	assert.Equal(t, errs.Pos{File: "r.txt", Line: 4, Column: 3}, tokens[6].Pos)
	assert.Equal(t, 5, tokens[len(tokens)-1].Pos.Line)
}

func TestLexStringLiteral(t *testing.T) {
	t.Parallel()

	tokens, err := Lex("", `A "foo \"bar\"" B`, testTable())
	require.NoError(t, err)
	require.Len(t, tokens, 4)
	assert.Equal(t, `"foo \"bar\""`, tokens[1].Text)
	assert.Equal(t, 17, tokens[2].Pos.Column)
}

func TestLexUnrecognized(t *testing.T) {
	t.Parallel()

	_, err := Lex("r.txt", "A = every class\nB = $oops\n", testTable())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrParse)

	var pe *errs.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Pos.Line)
	assert.Equal(t, 5, pe.Pos.Column)
	assert.Contains(t, pe.Msg, "$oops")
}

func TestLexKeepsGoingAfterUnrecognized(t *testing.T) {
	t.Parallel()

	tokens, err := Lex("r.txt", "A = @x B\nC = every class\n", testTable())
	require.Error(t, err)
	assert.Equal(t,
		[]string{"ident", "=", Invalid, "ident", Newline, "ident", "=", "every_class", Newline, EOF},
		kinds(tokens))
	assert.Equal(t, "@x", tokens[2].Text)
	assert.Equal(t, 8, tokens[3].Pos.Column)
}
