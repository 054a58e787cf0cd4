// Package syntax is the AST query surface the rest of canary consumes.
// It wraps tree-sitter's C grammar behind a small value type offering typed
// and named children, child-by-field lookup and byte-range text extraction.
package syntax

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// ErrFunctionNotFound is returned when a named function definition is absent.
var ErrFunctionNotFound = errors.New("function not found")

// cParserPool is a pool of reusable tree-sitter parsers for C.
var cParserPool = sync.Pool{
	New: func() interface{} {
		parser := sitter.NewParser()
		parser.SetLanguage(c.GetLanguage())
		return parser
	},
}

// Tree is a parsed C translation unit together with the bytes it was parsed from.
type Tree struct {
	src  []byte
	tree *sitter.Tree
}

// Parse parses C source code.
func Parse(ctx context.Context, src []byte) (*Tree, error) {
	parser := cParserPool.Get().(*sitter.Parser)
	defer cParserPool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing C source: %w", err)
	}
	if tree == nil {
		return nil, errors.New("parsing C source: no tree produced")
	}

	return &Tree{src: src, tree: tree}, nil
}

// ParseFile reads and parses the C file at path.
func ParseFile(ctx context.Context, path string) (*Tree, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}

	return Parse(ctx, content)
}

// Close releases the underlying tree-sitter tree.
func (t *Tree) Close() {
	if t != nil && t.tree != nil {
		t.tree.Close()
	}
}

// Source returns the bytes the tree was parsed from.
func (t *Tree) Source() []byte {
	return t.src
}

// Root returns the translation unit node.
func (t *Tree) Root() Node {
	return wrap(t.tree.RootNode(), t.src)
}

// Node is a read-only view of one syntax tree node. The zero Node stands for
// an absent node; every accessor is safe to call on it.
type Node struct {
	n   *sitter.Node
	src []byte
}

func wrap(n *sitter.Node, src []byte) Node {
	if n == nil || n.IsNull() {
		return Node{}
	}
	return Node{n: n, src: src}
}

// IsZero reports whether the node is absent.
func (n Node) IsZero() bool {
	return n.n == nil
}

// Kind returns the grammar type of the node, e.g. "if_statement".
func (n Node) Kind() string {
	if n.n == nil {
		return ""
	}
	return n.n.Type()
}

// Field returns the child stored under the grammar field name, or the zero Node.
func (n Node) Field(name string) Node {
	if n.n == nil {
		return Node{}
	}
	return wrap(n.n.ChildByFieldName(name), n.src)
}

// NamedChildren returns the named children in source order.
func (n Node) NamedChildren() []Node {
	if n.n == nil {
		return nil
	}
	count := int(n.n.NamedChildCount())
	children := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if child := wrap(n.n.NamedChild(i), n.src); !child.IsZero() {
			children = append(children, child)
		}
	}
	return children
}

// Children returns every child, anonymous tokens included, in source order.
func (n Node) Children() []Node {
	if n.n == nil {
		return nil
	}
	count := int(n.n.ChildCount())
	children := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if child := wrap(n.n.Child(i), n.src); !child.IsZero() {
			children = append(children, child)
		}
	}
	return children
}

// ChildOfKind returns the first direct child with the given type.
func (n Node) ChildOfKind(kind string) Node {
	for _, child := range n.Children() {
		if child.Kind() == kind {
			return child
		}
	}
	return Node{}
}

// Parent returns the enclosing node, or the zero Node at the root.
func (n Node) Parent() Node {
	if n.n == nil {
		return Node{}
	}
	return wrap(n.n.Parent(), n.src)
}

// Text returns the source bytes covered by the node.
func (n Node) Text() string {
	if n.n == nil {
		return ""
	}
	start := n.n.StartByte()
	end := n.n.EndByte()
	if start >= uint32(len(n.src)) || end > uint32(len(n.src)) || start > end {
		return ""
	}
	return string(n.src[start:end])
}

// StartByte returns the offset of the first byte of the node.
func (n Node) StartByte() int {
	if n.n == nil {
		return 0
	}
	return int(n.n.StartByte())
}

// EndByte returns the offset just past the last byte of the node.
func (n Node) EndByte() int {
	if n.n == nil {
		return 0
	}
	return int(n.n.EndByte())
}

// Line returns the 1-based line the node starts on.
func (n Node) Line() int {
	if n.n == nil {
		return 0
	}
	return int(n.n.StartPoint().Row) + 1
}

// HasError reports whether the subtree contains syntax errors.
func (n Node) HasError() bool {
	return n.n != nil && n.n.HasError()
}

// Same reports whether both values refer to the same tree node.
func (n Node) Same(other Node) bool {
	if n.n == nil || other.n == nil {
		return n.n == nil && other.n == nil
	}
	return n.Kind() == other.Kind() && n.StartByte() == other.StartByte() && n.EndByte() == other.EndByte()
}
