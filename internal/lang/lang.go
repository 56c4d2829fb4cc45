// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars, plus the per-language hooks that tell extraction
// which syntax nodes define entities, call functions or touch globals.
package lang

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/rulecheck/internal/model"
)

// Call is a call site found by a language hook.
type Call struct {
	Name string
	Type model.EntityType // Function or Method
}

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// Constructs lists callee names reported as language constructs
	// instead of functions.
	Constructs map[string]bool

	// Definition classifies node as a class, function or method definition
	// and returns its name. ok is false for other nodes.
	Definition func(node *sitter.Node, source []byte) (typ model.EntityType, name string, ok bool)

	// Call returns the callee of a call expression node.
	Call func(node *sitter.Node, source []byte) (Call, bool)

	// Declared collects file-level global names from the root node. May be nil.
	Declared func(root *sitter.Node, source []byte) map[string]bool

	// Globals returns the global names node refers to, given the names
	// Declared found.
	Globals func(node *sitter.Node, source []byte, declared map[string]bool) []string
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// Names returns the registered language names.
func Names() []string {
	names := make([]string, 0, len(Languages))
	for n := range Languages {
		names = append(names, n)
	}
	return names
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// Line returns the 1-based line a node starts on.
func Line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// EndLine returns the 1-based line a node ends on.
func EndLine(node *sitter.Node) int {
	return int(node.EndPoint().Row) + 1
}

// SourceLine returns the trimmed text of the given 1-based line.
func SourceLine(source []byte, line int) string {
	s := string(source)
	for i := 1; i < line; i++ {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			return ""
		}
		s = s[nl+1:]
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[:nl]
	}
	return strings.TrimSpace(s)
}

// childOfType returns the first direct child of node with the given type.
func childOfType(node *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		for _, t := range types {
			if child.Type() == t {
				return child
			}
		}
	}
	return nil
}

// lastChildOfType returns the last direct child of node with the given type.
func lastChildOfType(node *sitter.Node, typ string) *sitter.Node {
	var found *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		if child := node.Child(i); child.Type() == typ {
			found = child
		}
	}
	return found
}
