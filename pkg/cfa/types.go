// Package cfa builds Control-Flow Automata for C function bodies, labels their
// nodes with the runtime probe that dominates them and replays recorded
// probe traces against the labelled graph.
package cfa

import (
	"errors"
	"fmt"

	"github.com/l3aro/canary/pkg/syntax"
)

// NodeID addresses a node in the arena of one CFA.
type NodeID int

// NoNode is the absent node.
const NoNode NodeID = -1

// Kind tells what a node stands for.
type Kind int

const (
	KindEmpty     Kind = iota // placeholder awaiting a syntax node
	KindStatement             // plain statement or declaration
	KindCondition             // if/while/do/for condition
	KindSelector              // switch selector
	KindCase                  // case or default entry
	KindJump                  // break or continue
	KindInit                  // for initializer
	KindUpdate                // for update expression
	KindHeader                // for statement without a condition
)

var kindNames = [...]string{
	KindEmpty:     "empty",
	KindStatement: "statement",
	KindCondition: "condition",
	KindSelector:  "selector",
	KindCase:      "case",
	KindJump:      "jump",
	KindInit:      "init",
	KindUpdate:    "update",
	KindHeader:    "header",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Label marks the branch an edge represents.
type Label string

const (
	LabelNone    Label = ""
	LabelTrue    Label = "T"
	LabelFalse   Label = "F"
	LabelCase    Label = "C"
	LabelDefault Label = "D"
)

// Node is one program point. Nodes are compared by ID, never by content.
type Node struct {
	ID     NodeID
	Kind   Kind
	Syntax syntax.Node
}

// Text returns the source text of the node, empty for placeholders.
func (n Node) Text() string {
	return n.Syntax.Text()
}

// Edge is a directed, optionally labelled transition.
type Edge struct {
	From  NodeID
	To    NodeID
	Label Label
}

var (
	// ErrNodeNotFound is returned by structural edits on a node outside the graph.
	ErrNodeNotFound = errors.New("node not in graph")

	// ErrRemoveRoot is returned when removing a root that has no successor to take its place.
	ErrRemoveRoot = errors.New("cannot remove root without successor")
)

// StructuralError reports a syntax shape the builder cannot turn into flow.
type StructuralError struct {
	Construct string
	Missing   string
	Offset    int
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s at byte %d: missing %s", e.Construct, e.Offset, e.Missing)
}

func structural(n syntax.Node, missing string) error {
	return &StructuralError{Construct: n.Kind(), Missing: missing, Offset: n.StartByte()}
}
