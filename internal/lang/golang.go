package lang

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/phobologic/rulecheck/internal/model"
)

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
		Constructs: map[string]bool{"panic": true, "recover": true},
		Definition: goDefinition,
		Call:       goCall,
		Declared:   goDeclared,
		Globals:    goGlobals,
	}
}

// goDefinition maps type specs to classes, function declarations to
// functions and method declarations to methods.
func goDefinition(node *sitter.Node, source []byte) (model.EntityType, string, bool) {
	switch node.Type() {
	case "type_spec", "type_alias":
		if name := childOfType(node, "type_identifier"); name != nil {
			return model.Class, NodeText(name, source), true
		}
	case "function_declaration":
		if name := childOfType(node, "identifier"); name != nil {
			return model.Function, NodeText(name, source), true
		}
	case "method_declaration":
		if name := childOfType(node, "field_identifier"); name != nil {
			return model.Method, NodeText(name, source), true
		}
	}
	return "", "", false
}

// goCall resolves the callee of a call_expression. pkg.Fn() with pkg an
// imported package is a function call; any other x.Name() is a method call.
func goCall(node *sitter.Node, source []byte) (Call, bool) {
	if node.Type() != "call_expression" {
		return Call{}, false
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return Call{}, false
	}
	switch fn.Type() {
	case "identifier":
		return Call{Name: NodeText(fn, source), Type: model.Function}, true
	case "selector_expression":
		field := fn.ChildByFieldName("field")
		if field == nil {
			return Call{}, false
		}
		typ := model.Method
		if op := fn.ChildByFieldName("operand"); op != nil && op.Type() == "identifier" &&
			goImports(rootOf(node), source)[NodeText(op, source)] {
			typ = model.Function
		}
		return Call{Name: NodeText(field, source), Type: typ}, true
	}
	return Call{}, false
}

func rootOf(n *sitter.Node) *sitter.Node {
	for p := n.Parent(); p != nil; p = n.Parent() {
		n = p
	}
	return n
}

// goImports returns the names the file's imports bind. Without an alias the
// name is the last path element, minus a major-version suffix ("/v2",
// "yaml.v3") and a "go-" prefix.
func goImports(root *sitter.Node, source []byte) map[string]bool {
	names := make(map[string]bool)
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		switch n.Type() {
		case "import_declaration", "import_spec_list":
			for i := 0; i < int(n.ChildCount()); i++ {
				visit(n.Child(i))
			}
		case "import_spec":
			if alias := n.ChildByFieldName("name"); alias != nil {
				names[NodeText(alias, source)] = true
				return
			}
			if path := n.ChildByFieldName("path"); path != nil {
				names[importName(strings.Trim(NodeText(path, source), "`\""))] = true
			}
		}
	}
	for i := 0; i < int(root.ChildCount()); i++ {
		visit(root.Child(i))
	}
	return names
}

func importName(path string) string {
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	if majorVersion.MatchString(name) && len(parts) > 1 {
		name = parts[len(parts)-2]
	}
	if i := strings.Index(name, ".v"); i > 0 {
		name = name[:i]
	}
	return strings.TrimPrefix(name, "go-")
}

var majorVersion = regexp.MustCompile(`^v[0-9]+$`)

// goDeclared returns the names of package-level vars in the file.
func goDeclared(root *sitter.Node, source []byte) map[string]bool {
	declared := make(map[string]bool)
	for i := 0; i < int(root.ChildCount()); i++ {
		decl := root.Child(i)
		if decl.Type() != "var_declaration" {
			continue
		}
		var specs []*sitter.Node
		for j := 0; j < int(decl.ChildCount()); j++ {
			switch c := decl.Child(j); c.Type() {
			case "var_spec":
				specs = append(specs, c)
			case "var_spec_list":
				for k := 0; k < int(c.ChildCount()); k++ {
					if s := c.Child(k); s.Type() == "var_spec" {
						specs = append(specs, s)
					}
				}
			}
		}
		for _, spec := range specs {
			for k := 0; k < int(spec.ChildCount()); k++ {
				if id := spec.Child(k); id.Type() == "identifier" {
					declared[NodeText(id, source)] = true
				}
			}
		}
	}
	return declared
}

// goGlobals reports uses of package-level vars. The declaring identifiers
// themselves are skipped.
func goGlobals(node *sitter.Node, source []byte, declared map[string]bool) []string {
	if node.Type() != "identifier" || len(declared) == 0 {
		return nil
	}
	if p := node.Parent(); p != nil && p.Type() == "var_spec" {
		return nil
	}
	name := NodeText(node, source)
	if !declared[name] {
		return nil
	}
	return []string{name}
}
