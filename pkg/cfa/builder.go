package cfa

import (
	"errors"
	"fmt"

	"github.com/l3aro/canary/pkg/syntax"
)

// construct is the closed set of statement shapes the builder knows.
type construct int

const (
	constructPlain construct = iota
	constructSequence
	constructIf
	constructWhile
	constructDoWhile
	constructFor
	constructSwitch
	constructBreak
	constructContinue
	constructLabeled
	constructComment
)

// classify maps a grammar type to its construct. Everything unlisted,
// including return and goto, flows through as a plain sequential node.
func classify(kind string) construct {
	switch kind {
	case "compound_statement":
		return constructSequence
	case "if_statement":
		return constructIf
	case "while_statement":
		return constructWhile
	case "do_statement":
		return constructDoWhile
	case "for_statement":
		return constructFor
	case "switch_statement":
		return constructSwitch
	case "break_statement":
		return constructBreak
	case "continue_statement":
		return constructContinue
	case "labeled_statement":
		return constructLabeled
	case "comment":
		return constructComment
	default:
		return constructPlain
	}
}

// loopContext holds the jump targets of the innermost enclosing construct.
type loopContext struct {
	continueTo NodeID
	breakTo    NodeID
}

var topLevel = loopContext{continueTo: NoNode, breakTo: NoNode}

type builder struct {
	g *CFA
}

// Build converts a function body into a CFA. The root is the first program
// point of the body and no placeholder survives in the result.
func Build(body syntax.Node) (*CFA, error) {
	if body.IsZero() {
		return nil, errors.New("building CFA: no body")
	}

	b := &builder{g: New(KindEmpty, syntax.Node{})}
	if _, err := b.statement(body, b.g.Root(), topLevel); err != nil {
		return nil, fmt.Errorf("building CFA: %w", err)
	}

	root := b.g.Root()
	if b.g.IsEmpty(root) && len(b.g.out[root]) == 0 {
		b.g.fill(root, KindStatement, body)
	}
	if err := b.sweep(); err != nil {
		return nil, fmt.Errorf("building CFA: %w", err)
	}
	return b.g, nil
}

// BuildFunction builds the CFA of the named function in tree.
func BuildFunction(tree *syntax.Tree, name string) (*CFA, error) {
	fn, err := tree.Function(name)
	if err != nil {
		return nil, err
	}
	g, err := Build(fn.Body)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	return g, nil
}

func (b *builder) statement(n syntax.Node, cur NodeID, loop loopContext) (NodeID, error) {
	switch classify(n.Kind()) {
	case constructPlain:
		return b.attach(cur, KindStatement, n), nil
	case constructSequence:
		return b.sequence(n.NamedChildren(), cur, loop)
	case constructIf:
		return b.ifStatement(n, cur, loop)
	case constructWhile:
		return b.whileStatement(n, cur, loop)
	case constructDoWhile:
		return b.doStatement(n, cur, loop)
	case constructFor:
		return b.forStatement(n, cur, loop)
	case constructSwitch:
		return b.switchStatement(n, cur, loop)
	case constructBreak:
		return b.jump(n, cur, loop.breakTo, "break target")
	case constructContinue:
		return b.jump(n, cur, loop.continueTo, "continue target")
	case constructLabeled:
		return b.labeled(n, cur, loop)
	case constructComment:
		return cur, nil
	}
	return cur, fmt.Errorf("unhandled construct for %s", n.Kind())
}

func (b *builder) sequence(stmts []syntax.Node, cur NodeID, loop loopContext) (NodeID, error) {
	var err error
	for _, stmt := range stmts {
		cur, err = b.statement(stmt, cur, loop)
		if err != nil {
			return NoNode, err
		}
	}
	return cur, nil
}

// attach places a syntax node after cur. A placeholder cursor takes the
// node's identity in place so edges already pointing at it stay valid.
func (b *builder) attach(cur NodeID, kind Kind, n syntax.Node) NodeID {
	if b.g.IsEmpty(cur) {
		b.g.fill(cur, kind, n)
		return cur
	}
	id := b.g.Add(kind, n)
	b.g.Branch(cur, id, LabelNone)
	return id
}

func (b *builder) placeholder() NodeID {
	return b.g.Add(KindEmpty, syntax.Node{})
}

// collapse splices id out when it is still a placeholder.
func (b *builder) collapse(id NodeID) error {
	if !b.g.IsEmpty(id) {
		return nil
	}
	return b.g.Remove(id)
}

func (b *builder) sweep() error {
	for _, id := range b.g.Nodes() {
		if err := b.collapse(id); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) ifStatement(n syntax.Node, cur NodeID, loop loopContext) (NodeID, error) {
	cond := n.Field("condition")
	if cond.IsZero() {
		return NoNode, structural(n, "condition")
	}
	cons := n.Field("consequence")
	if cons.IsZero() {
		return NoNode, structural(n, "consequence")
	}

	p := b.attach(cur, KindCondition, cond)
	t := b.placeholder()
	b.g.Branch(p, t, LabelTrue)
	endT, err := b.statement(cons, t, loop)
	if err != nil {
		return NoNode, err
	}

	m := b.placeholder()
	alt := elseBody(n)
	if alt.IsZero() {
		b.g.Branch(p, m, LabelFalse)
		b.g.Branch(endT, m, LabelNone)
		return m, b.collapse(endT)
	}

	f := b.placeholder()
	b.g.Branch(p, f, LabelFalse)
	endF, err := b.statement(alt, f, loop)
	if err != nil {
		return NoNode, err
	}
	b.g.Branch(endT, m, LabelNone)
	b.g.Branch(endF, m, LabelNone)
	if err := b.collapse(endT); err != nil {
		return NoNode, err
	}
	return m, b.collapse(endF)
}

// elseBody returns the statement of the else branch. Newer grammars wrap it
// in an else_clause, older ones store it directly under the field.
func elseBody(n syntax.Node) syntax.Node {
	alt := n.Field("alternative")
	if alt.Kind() != "else_clause" {
		return alt
	}
	for _, child := range alt.NamedChildren() {
		if child.Kind() != "comment" {
			return child
		}
	}
	return syntax.Node{}
}

func (b *builder) whileStatement(n syntax.Node, cur NodeID, loop loopContext) (NodeID, error) {
	cond := n.Field("condition")
	if cond.IsZero() {
		return NoNode, structural(n, "condition")
	}
	body := n.Field("body")
	if body.IsZero() {
		return NoNode, structural(n, "body")
	}

	c := b.attach(cur, KindCondition, cond)
	m := b.placeholder()
	entry := b.placeholder()
	b.g.Branch(c, entry, LabelTrue)

	end, err := b.statement(body, entry, loopContext{continueTo: c, breakTo: m})
	if err != nil {
		return NoNode, err
	}
	b.g.Branch(end, c, LabelNone)
	if err := b.collapse(end); err != nil {
		return NoNode, err
	}

	b.g.Branch(c, m, LabelFalse)
	return m, nil
}

func (b *builder) doStatement(n syntax.Node, cur NodeID, loop loopContext) (NodeID, error) {
	cond := n.Field("condition")
	if cond.IsZero() {
		return NoNode, structural(n, "condition")
	}
	body := n.Field("body")
	if body.IsZero() {
		return NoNode, structural(n, "body")
	}

	entry := cur
	if !b.g.IsEmpty(cur) {
		entry = b.placeholder()
		b.g.Branch(cur, entry, LabelNone)
	}
	m := b.placeholder()
	c := b.placeholder()

	end, err := b.statement(body, entry, loopContext{continueTo: c, breakTo: m})
	if err != nil {
		return NoNode, err
	}
	b.g.Branch(end, c, LabelNone)
	if end != entry {
		if err := b.collapse(end); err != nil {
			return NoNode, err
		}
	}

	b.g.fill(c, KindCondition, cond)
	b.g.Branch(c, entry, LabelTrue)
	b.g.Branch(c, m, LabelFalse)
	return m, b.collapse(entry)
}

func (b *builder) forStatement(n syntax.Node, cur NodeID, loop loopContext) (NodeID, error) {
	body := n.Field("body")
	if body.IsZero() {
		return NoNode, structural(n, "body")
	}

	if init := n.Field("initializer"); !init.IsZero() {
		cur = b.attach(cur, KindInit, init)
	}

	var c NodeID
	if cond := n.Field("condition"); !cond.IsZero() {
		c = b.attach(cur, KindCondition, cond)
	} else {
		c = b.attach(cur, KindHeader, n)
	}

	m := b.placeholder()
	u := b.placeholder()
	entry := b.placeholder()
	b.g.Branch(c, entry, LabelTrue)

	end, err := b.statement(body, entry, loopContext{continueTo: u, breakTo: m})
	if err != nil {
		return NoNode, err
	}
	b.g.Branch(end, u, LabelNone)
	if err := b.collapse(end); err != nil {
		return NoNode, err
	}

	if update := n.Field("update"); !update.IsZero() {
		b.g.fill(u, KindUpdate, update)
	}
	b.g.Branch(u, c, LabelNone)
	if err := b.collapse(u); err != nil {
		return NoNode, err
	}

	b.g.Branch(c, m, LabelFalse)
	return m, nil
}

// switchStatement links the selector to every case in source order, chains
// each case end into the next case (fallthrough, kept even after a break)
// and finally every case end into the merge node.
func (b *builder) switchStatement(n syntax.Node, cur NodeID, loop loopContext) (NodeID, error) {
	sel := n.Field("condition")
	if sel.IsZero() {
		return NoNode, structural(n, "condition")
	}
	body := n.Field("body")
	if body.IsZero() {
		return NoNode, structural(n, "body")
	}

	p := b.attach(cur, KindSelector, sel)
	m := b.placeholder()
	inner := loopContext{continueTo: loop.continueTo, breakTo: m}

	var ends []NodeID
	prev := NoNode
	for _, child := range body.NamedChildren() {
		switch child.Kind() {
		case "case_statement":
		case "comment":
			continue
		default:
			// statements ahead of the first case never run; keep them detached
			if _, err := b.statement(child, b.placeholder(), inner); err != nil {
				return NoNode, err
			}
			continue
		}

		label := LabelCase
		value := child.Field("value")
		if value.IsZero() {
			label = LabelDefault
		}

		e := b.g.Add(KindCase, child)
		b.g.Branch(p, e, label)
		if prev != NoNode {
			b.g.Branch(prev, e, LabelNone)
		}

		end := e
		for _, stmt := range child.NamedChildren() {
			if stmt.Same(value) {
				continue
			}
			var err error
			end, err = b.statement(stmt, end, inner)
			if err != nil {
				return NoNode, err
			}
		}
		ends = append(ends, end)
		prev = end
	}

	if len(ends) == 0 {
		b.g.Branch(p, m, LabelNone)
	}
	for _, end := range ends {
		b.g.Branch(end, m, LabelNone)
	}
	for _, end := range ends {
		if err := b.collapse(end); err != nil {
			return NoNode, err
		}
	}
	return m, nil
}

// jump wires a break or continue to its target. The jump node stays the
// cursor, so statements after it are still built and chained sequentially.
func (b *builder) jump(n syntax.Node, cur, target NodeID, missing string) (NodeID, error) {
	if target == NoNode {
		return NoNode, structural(n, missing)
	}
	id := b.attach(cur, KindJump, n)
	b.g.Branch(id, target, LabelNone)
	return id, nil
}

// labeled builds the statement behind a label; the label itself is not a jump target.
func (b *builder) labeled(n syntax.Node, cur NodeID, loop loopContext) (NodeID, error) {
	label := n.Field("label")
	for _, child := range n.NamedChildren() {
		if child.Same(label) || child.Kind() == "comment" {
			continue
		}
		return b.statement(child, cur, loop)
	}
	return cur, nil
}
