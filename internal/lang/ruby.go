package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"

	"github.com/phobologic/rulecheck/internal/model"
)

func init() {
	Languages["ruby"] = &Language{
		Name:       "ruby",
		Extensions: []string{".rb"},
		lang:       ruby.GetLanguage(),
		Constructs: map[string]bool{"eval": true, "exec": true},
		Definition: rubyDefinition,
		Call:       rubyCall,
		Globals:    rubyGlobals,
	}
}

// rubyDefinition maps classes and modules to classes, and def/def self. to
// methods inside a class or module and functions elsewhere.
func rubyDefinition(node *sitter.Node, source []byte) (model.EntityType, string, bool) {
	switch node.Type() {
	case "class", "module":
		if name := rubyClassName(node, source); name != "" {
			return model.Class, name, true
		}
	case "method":
		name := childOfType(node, "identifier")
		if name == nil {
			return "", "", false
		}
		return rubyMethodType(node), NodeText(name, source), true
	case "singleton_method":
		// def self.foo: the last identifier is the name, not "self".
		name := lastChildOfType(node, "identifier")
		if name == nil {
			return "", "", false
		}
		return rubyMethodType(node), NodeText(name, source), true
	}
	return "", "", false
}

func rubyMethodType(node *sitter.Node) model.EntityType {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Type() == "class" || p.Type() == "module" {
			return model.Method
		}
	}
	return model.Function
}

// rubyClassName extracts the name from a class or module node.
func rubyClassName(node *sitter.Node, source []byte) string {
	if name := childOfType(node, "constant", "scope_resolution"); name != nil {
		return NodeText(name, source)
	}
	return ""
}

// rubyCall resolves foo(...) to a function call and recv.foo(...) to a
// method call. Older grammars name argument-carrying calls method_call.
// Bare identifiers without arguments are ignored.
func rubyCall(node *sitter.Node, source []byte) (Call, bool) {
	if node.Type() != "call" && node.Type() != "method_call" {
		return Call{}, false
	}
	method := node.ChildByFieldName("method")
	if method == nil {
		return Call{}, false
	}
	typ := model.Function
	if node.ChildByFieldName("receiver") != nil {
		typ = model.Method
	}
	return Call{Name: NodeText(method, source), Type: typ}, true
}

// rubyGlobals reports $globals without their sigil.
func rubyGlobals(node *sitter.Node, source []byte, _ map[string]bool) []string {
	if node.Type() != "global_variable" {
		return nil
	}
	return []string{strings.TrimPrefix(NodeText(node, source), "$")}
}
