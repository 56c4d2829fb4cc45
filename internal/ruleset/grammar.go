package ruleset

import (
	"strings"

	"github.com/phobologic/rulecheck/internal/lexer"
	"github.com/phobologic/rulecheck/internal/vars"
)

// Binding powers of the expression operators. Higher binds tighter; all
// infix operators are left associative.
const (
	bpWithName = 50
	bpAnd      = 40
	bpButNot   = 30
	bpAsWellAs = 20
)

// Token kinds.
const (
	tokEverything  = "everything"
	tokClasses     = "classes"
	tokFunctions   = "functions"
	tokMethods     = "methods"
	tokGlobals     = "globals"
	tokFiles       = "files"
	tokBuiltIns    = "built-ins"
	tokConstruct   = "language construct"
	tokWithName    = "with name"
	tokAnd         = "and"
	tokExcept      = "except"
	tokButNot      = "but not"
	tokAsWellAs    = "as well as"
	tokCannot      = "cannot"
	tokMust        = "must"
	tokOnly        = "only"
	tokCan         = "can"
	tokDependOn    = "depend on"
	tokInvoke      = "invoke"
	tokContainText = "contain text"
	tokExplain     = "explain"
	tokAssign      = "="
	tokComma       = ","
	tokLParen      = "("
	tokRParen      = ")"
	tokString      = "string"
	tokIdent       = "identifier"
)

const ws = `[ \t]+`

// base maps the entity keywords to their constructors.
var base = map[string]func(string) *vars.Variable{
	tokEverything: vars.Everything,
	tokClasses:    vars.Classes,
	tokFunctions:  vars.Functions,
	tokMethods:    vars.Methods,
	tokGlobals:    vars.Globals,
	tokFiles:      vars.Files,
	tokBuiltIns:   vars.BuiltIns,
}

// newTable builds the symbol table of the rule language. Keywords precede
// the identifier symbol so they win ties of equal length.
func newTable() *lexer.Table {
	t := lexer.NewTable()
	t.MustAdd(tokEverything, `everything\b`, 0)
	t.MustAdd(tokClasses, `every`+ws+`class\b|classes\b`, 0)
	t.MustAdd(tokFunctions, `every`+ws+`function\b|functions\b`, 0)
	t.MustAdd(tokMethods, `every`+ws+`method\b|methods\b`, 0)
	t.MustAdd(tokGlobals, `every`+ws+`global\b|globals\b`, 0)
	t.MustAdd(tokFiles, `every`+ws+`file\b|files\b`, 0)
	t.MustAdd(tokBuiltIns, `every`+ws+`built-in\b|built-ins\b`, 0)
	t.MustAdd(tokConstruct, `language`+ws+`construct\b`, 0)

	t.MustAdd(tokWithName, `with`+ws+`name\b`, bpWithName)
	t.MustAdd(tokAnd, `and\b`, bpAnd)
	t.MustAdd(tokExcept, `except\b`, bpAnd)
	t.MustAdd(tokButNot, `but(?:`+ws+`not)?\b`, bpButNot)
	t.MustAdd(tokAsWellAs, `as`+ws+`well`+ws+`as\b`, bpAsWellAs)

	t.MustAdd(tokCannot, `cannot\b`, 0)
	t.MustAdd(tokMust, `must\b`, 0)
	t.MustAdd(tokOnly, `only\b`, 0)
	t.MustAdd(tokCan, `can\b`, 0)
	t.MustAdd(tokDependOn, `depend`+ws+`on\b`, 0)
	t.MustAdd(tokInvoke, `invoke\b`, 0)
	t.MustAdd(tokContainText, `contain`+ws+`text\b`, 0)
	t.MustAdd(tokExplain, `explain\b`, 0)

	t.MustAdd(tokAssign, `=`, 0)
	t.MustAdd(tokComma, `,`, 0)
	t.MustAdd(tokLParen, `\(`, 0)
	t.MustAdd(tokRParen, `\)`, 0)
	t.MustAdd(tokString, `"(?:[^"\\\n]|\\.)*"`, 0)
	t.MustAdd(tokIdent, `[A-Za-z_][A-Za-z0-9_]*`, 0)
	return t
}

// unquote strips the quotes of a string token. Only \" and \\ are escapes;
// other backslashes are kept so regexps like "\d+" read naturally.
func unquote(lit string) string {
	s := lit[1 : len(lit)-1]
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
