// Package ruleset compiles rule-language source into variables and rules.
//
// A rule file is a sequence of line-delimited statements:
//
//	Controllers = every class with name ".*Controller"
//	Controllers cannot depend on every global explain "use DI instead"
//	only Models can invoke language construct "eval"
//	every file must contain text "Copyright"
//	every class cannot invoke every built-in except language construct "print"
//
// Base sets are everything, every class, every function, every method,
// every global, every file and every built-in (any language construct), or
// one construct named by language construct "<name>". Plural forms such as
// "classes" and "built-ins" are accepted too.
//
// Expressions are parsed with a Pratt parser whose operator precedences
// come from the symbol table; see grammar.go.
package ruleset

import (
	"errors"
	"fmt"
	"os"

	"github.com/phobologic/rulecheck/internal/errs"
	"github.com/phobologic/rulecheck/internal/lexer"
	"github.com/phobologic/rulecheck/internal/rules"
	"github.com/phobologic/rulecheck/internal/vars"
)

// Binding is a named variable definition.
type Binding struct {
	Name string
	Var  *vars.Variable
	Pos  errs.Pos
}

// RuleSet is the output of compiling one rule file.
type RuleSet struct {
	Variables []Binding // in definition order
	Rules     []*rules.Rule
	Errors    []error // statements that failed, in source order

	byName map[string]*vars.Variable
}

// Variable returns the variable bound to name.
func (rs *RuleSet) Variable(name string) (*vars.Variable, bool) {
	v, ok := rs.byName[name]
	return v, ok
}

// CompileFile reads and compiles the rule file at path.
func CompileFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	return Compile(path, string(data))
}

// Compile parses src. A statement that fails is skipped and the rest still
// compile; the returned RuleSet is never nil, lists the failures in Errors,
// and the error joins one *errs.ParseError per failed statement.
func Compile(file, src string) (*RuleSet, error) {
	// Invalid tokens are reported by the statement that contains them.
	tokens, _ := lexer.Lex(file, src, newTable())

	p := &parser{
		tokens: tokens,
		rs:     &RuleSet{byName: make(map[string]*vars.Variable)},
	}
	var failures []error
	for p.peek().Kind != lexer.EOF {
		if p.peek().Kind == lexer.Newline {
			p.next()
			continue
		}
		start := p.i
		if err := p.statement(); err != nil {
			failures = append(failures, err)
			if p.i == start || p.tokens[p.i-1].Kind != lexer.Newline {
				p.skipLine()
			}
		}
	}
	p.rs.Errors = failures
	return p.rs, errors.Join(failures...)
}

type parser struct {
	tokens []lexer.Token
	i      int
	rs     *RuleSet
}

func (p *parser) peek() lexer.Token { return p.tokens[p.i] }

func (p *parser) peekN(n int) lexer.Token {
	if p.i+n < len(p.tokens) {
		return p.tokens[p.i+n]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) next() lexer.Token {
	t := p.tokens[p.i]
	if t.Kind != lexer.EOF {
		p.i++
	}
	return t
}

func (p *parser) skipLine() {
	for {
		switch p.peek().Kind {
		case lexer.EOF:
			return
		case lexer.Newline:
			p.next()
			return
		}
		p.next()
	}
}

func unexpected(t lexer.Token, want string) *errs.ParseError {
	switch t.Kind {
	case lexer.Invalid:
		return errs.NewParseError(t.Pos, "unrecognized input %q", t.Text)
	case lexer.Newline, lexer.EOF:
		return errs.NewParseError(t.Pos, "unexpected end of statement, expected %s", want)
	}
	return errs.NewParseError(t.Pos, "unexpected %q, expected %s", t.Text, want)
}

func (p *parser) expect(kind, want string) (lexer.Token, error) {
	t := p.peek()
	if t.Kind != kind {
		return t, unexpected(t, want)
	}
	return p.next(), nil
}

// statement parses one binding or rule, through its line end.
func (p *parser) statement() error {
	start := p.peek()
	if start.Kind == tokIdent && p.peekN(1).Kind == tokAssign {
		return p.binding()
	}
	return p.rule()
}

func (p *parser) binding() error {
	name := p.next()
	p.next() // =

	if _, dup := p.rs.byName[name.Text]; dup {
		return errs.NewParseError(name.Pos, "variable %q already defined", name.Text)
	}
	v, err := p.expr(0)
	if err != nil {
		return err
	}
	v = v.Rename(name.Text)
	if text, ok, err := p.explanation(); err != nil {
		return err
	} else if ok {
		v = v.Explain(text)
	}
	if err := p.end(); err != nil {
		return err
	}

	p.rs.byName[name.Text] = v
	p.rs.Variables = append(p.rs.Variables, Binding{Name: name.Text, Var: v, Pos: name.Pos})
	return nil
}

func (p *parser) rule() error {
	start := p.peek()

	var (
		mode    rules.Mode
		subject *vars.Variable
		err     error
	)
	if start.Kind == tokOnly {
		p.next()
		if subject, err = p.expr(0); err != nil {
			return err
		}
		if _, err := p.expect(tokCan, `"can"`); err != nil {
			return err
		}
		mode = rules.OnlyCan
	} else {
		if subject, err = p.expr(0); err != nil {
			return err
		}
		switch t := p.next(); t.Kind {
		case tokCannot:
			mode = rules.Cannot
		case tokMust:
			mode = rules.Must
		default:
			return unexpected(t, `"cannot" or "must"`)
		}
	}

	relTok := p.next()
	var (
		rel      rules.Relation
		operands []rules.Operand
	)
	switch relTok.Kind {
	case tokContainText:
		rel = rules.ContainText
		lit, err := p.expect(tokString, "a quoted text")
		if err != nil {
			return err
		}
		operands = append(operands, rules.Text(unquote(lit.Text)))
	case tokDependOn, tokInvoke:
		rel = rules.DependOn
		if relTok.Kind == tokInvoke {
			rel = rules.Invoke
		}
		for {
			obj, err := p.expr(0)
			if err != nil {
				return err
			}
			operands = append(operands, rules.Var(obj))
			if p.peek().Kind != tokComma {
				break
			}
			p.next()
		}
	default:
		return unexpected(relTok, `"depend on", "invoke" or "contain text"`)
	}

	r, err := rules.New(mode, subject, rel, operands...)
	if err != nil {
		pe := errs.NewParseError(start.Pos, "invalid rule")
		pe.Err = err
		return pe
	}
	if text, ok, err := p.explanation(); err != nil {
		return err
	} else if ok {
		r = r.Explain(text)
	}
	if err := p.end(); err != nil {
		return err
	}

	p.rs.Rules = append(p.rs.Rules, r.At(start.Pos))
	return nil
}

// explanation parses an optional trailing `explain "text"`.
func (p *parser) explanation() (string, bool, error) {
	if p.peek().Kind != tokExplain {
		return "", false, nil
	}
	p.next()
	lit, err := p.expect(tokString, "a quoted explanation")
	if err != nil {
		return "", false, err
	}
	return unquote(lit.Text), true, nil
}

func (p *parser) end() error {
	switch t := p.peek(); t.Kind {
	case lexer.Newline:
		p.next()
		return nil
	case lexer.EOF:
		return nil
	default:
		return unexpected(t, "end of statement")
	}
}

// expr parses an expression whose operators bind tighter than rbp.
func (p *parser) expr(rbp int) (*vars.Variable, error) {
	left, err := p.nud(p.next())
	if err != nil {
		return nil, err
	}
	for p.peek().BindingPower() > rbp {
		if left, err = p.led(p.next(), left); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *parser) nud(t lexer.Token) (*vars.Variable, error) {
	if mk, ok := base[t.Kind]; ok {
		return mk(""), nil
	}
	switch t.Kind {
	case tokConstruct:
		lit, err := p.expect(tokString, "a quoted construct name")
		if err != nil {
			return nil, err
		}
		return vars.LanguageConstruct("", unquote(lit.Text)), nil
	case tokIdent:
		v, ok := p.rs.byName[t.Text]
		if !ok {
			return nil, errs.NewParseError(t.Pos, "unknown variable %q", t.Text)
		}
		return v, nil
	case tokLParen:
		v, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, unexpected(t, "a variable")
}

func (p *parser) led(t lexer.Token, left *vars.Variable) (*vars.Variable, error) {
	var (
		v   *vars.Variable
		err error
	)
	switch t.Kind {
	case tokWithName:
		lit, lerr := p.expect(tokString, "a quoted name pattern")
		if lerr != nil {
			return nil, lerr
		}
		v, err = vars.WithName("", unquote(lit.Text), left)
	case tokAnd, tokExcept, tokButNot, tokAsWellAs:
		right, rerr := p.expr(t.BindingPower())
		if rerr != nil {
			return nil, rerr
		}
		switch t.Kind {
		case tokAnd:
			v, err = vars.And("", left, right)
		case tokExcept:
			v, err = vars.Except("", left, right)
		case tokButNot:
			v, err = vars.ButNot("", left, right)
		default:
			v, err = vars.AsWellAs("", left, right)
		}
	default:
		return nil, unexpected(t, "an operator")
	}
	if err != nil {
		pe := errs.NewParseError(t.Pos, "cannot apply %q", t.Kind)
		pe.Err = err
		return nil, pe
	}
	return v, nil
}
