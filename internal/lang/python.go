package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/phobologic/rulecheck/internal/model"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
		Constructs: map[string]bool{"eval": true, "exec": true},
		Definition: pythonDefinition,
		Call:       pythonCall,
		Globals:    pythonGlobals,
	}
}

// pythonDefinition maps class definitions to classes and function
// definitions to functions, or methods when declared in a class body.
func pythonDefinition(node *sitter.Node, source []byte) (model.EntityType, string, bool) {
	switch node.Type() {
	case "class_definition":
		if name := childOfType(node, "identifier"); name != nil {
			return model.Class, NodeText(name, source), true
		}
	case "function_definition":
		name := childOfType(node, "identifier")
		if name == nil {
			return "", "", false
		}
		if pythonFindEnclosingClass(node) != nil {
			return model.Method, NodeText(name, source), true
		}
		return model.Function, NodeText(name, source), true
	}
	return "", "", false
}

func pythonFindEnclosingClass(funcNode *sitter.Node) *sitter.Node {
	parent := funcNode.Parent()
	if parent == nil {
		return nil
	}

	// Direct: func -> block -> class_definition
	if parent.Type() == "block" && parent.Parent() != nil && parent.Parent().Type() == "class_definition" {
		return parent.Parent()
	}

	// Decorated: func -> decorated_definition -> block -> class_definition
	if parent.Type() == "decorated_definition" {
		gp := parent.Parent()
		if gp != nil && gp.Type() == "block" && gp.Parent() != nil && gp.Parent().Type() == "class_definition" {
			return gp.Parent()
		}
	}

	return nil
}

// pythonCall resolves f(...) to a function call and obj.m(...) to a method
// call.
func pythonCall(node *sitter.Node, source []byte) (Call, bool) {
	if node.Type() != "call" {
		return Call{}, false
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return Call{}, false
	}
	switch fn.Type() {
	case "identifier":
		return Call{Name: NodeText(fn, source), Type: model.Function}, true
	case "attribute":
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return Call{Name: NodeText(attr, source), Type: model.Method}, true
		}
	}
	return Call{}, false
}

// pythonGlobals reports the names of a `global a, b` statement.
func pythonGlobals(node *sitter.Node, source []byte, _ map[string]bool) []string {
	if node.Type() != "global_statement" {
		return nil
	}
	var names []string
	for i := 0; i < int(node.ChildCount()); i++ {
		if c := node.Child(i); c.Type() == "identifier" {
			names = append(names, NodeText(c, source))
		}
	}
	return names
}
