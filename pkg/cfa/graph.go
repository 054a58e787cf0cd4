package cfa

import (
	"fmt"

	"github.com/l3aro/canary/pkg/syntax"
)

// CFA is a directed, possibly cyclic flow graph over an arena of nodes.
// Outgoing and ingoing edges keep insertion order; for conditions that order
// is true branch before false branch, for selectors it is case order.
type CFA struct {
	root  NodeID
	nodes []Node
	live  []bool
	out   [][]Edge
	in    [][]Edge
}

// New returns a graph holding only a root node of the given kind.
func New(kind Kind, root syntax.Node) *CFA {
	g := &CFA{}
	g.root = g.Add(kind, root)
	return g
}

// Add allocates a node and registers it in the node set.
func (g *CFA) Add(kind Kind, n syntax.Node) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, Node{ID: id, Kind: kind, Syntax: n})
	g.live = append(g.live, true)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return id
}

// Root returns the entry node.
func (g *CFA) Root() NodeID {
	return g.root
}

// Contains reports whether id is in the node set.
func (g *CFA) Contains(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes) && g.live[id]
}

// Node returns the node stored under id.
func (g *CFA) Node(id NodeID) Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return Node{ID: NoNode}
	}
	return g.nodes[id]
}

// IsEmpty reports whether id is a live placeholder.
func (g *CFA) IsEmpty(id NodeID) bool {
	return g.Contains(id) && g.nodes[id].Kind == KindEmpty
}

// Nodes returns the live nodes in allocation order.
func (g *CFA) Nodes() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for i, ok := range g.live {
		if ok {
			ids = append(ids, NodeID(i))
		}
	}
	return ids
}

// Len returns the number of live nodes.
func (g *CFA) Len() int {
	count := 0
	for _, ok := range g.live {
		if ok {
			count++
		}
	}
	return count
}

// Cap returns the arena size; every NodeID of this graph is below it.
func (g *CFA) Cap() int {
	return len(g.nodes)
}

// Branch appends an edge from src to dst and marks both nodes live again if
// they were removed. Both ids must come from Add on this graph; any other id
// panics. Equivalent edges are never merged: each call adds one control path.
func (g *CFA) Branch(src, dst NodeID, label Label) {
	if src < 0 || int(src) >= len(g.nodes) || dst < 0 || int(dst) >= len(g.nodes) {
		panic(fmt.Sprintf("cfa: branch %d -> %d: node not allocated by Add", src, dst))
	}
	g.live[src] = true
	g.live[dst] = true
	e := Edge{From: src, To: dst, Label: label}
	g.out[src] = append(g.out[src], e)
	g.in[dst] = append(g.in[dst], e)
}

// OutEdges returns the outgoing edges of id in insertion order.
func (g *CFA) OutEdges(id NodeID) []Edge {
	if !g.Contains(id) {
		return nil
	}
	return append([]Edge(nil), g.out[id]...)
}

// InEdges returns the ingoing edges of id in insertion order.
func (g *CFA) InEdges(id NodeID) []Edge {
	if !g.Contains(id) {
		return nil
	}
	return append([]Edge(nil), g.in[id]...)
}

// Outgoing returns the successors of id in edge order, one entry per edge.
func (g *CFA) Outgoing(id NodeID) []NodeID {
	if !g.Contains(id) {
		return nil
	}
	succ := make([]NodeID, len(g.out[id]))
	for i, e := range g.out[id] {
		succ[i] = e.To
	}
	return succ
}

// Ingoing returns the predecessors of id in edge order, one entry per edge.
func (g *CFA) Ingoing(id NodeID) []NodeID {
	if !g.Contains(id) {
		return nil
	}
	pred := make([]NodeID, len(g.in[id]))
	for i, e := range g.in[id] {
		pred[i] = e.From
	}
	return pred
}

// Edges returns every edge, grouped by source node in allocation order.
func (g *CFA) Edges() []Edge {
	var edges []Edge
	for _, id := range g.Nodes() {
		edges = append(edges, g.out[id]...)
	}
	return edges
}

// Remove deletes id and splices every path p -> id -> s into a direct edge
// p -> s. The new edge takes the place of the removed ones in both adjacency
// lists so branch order is preserved, and keeps the label of p -> id, falling
// back to the label of id -> s. Self loops on id disappear with it.
func (g *CFA) Remove(id NodeID) error {
	if !g.Contains(id) {
		return fmt.Errorf("removing node %d: %w", id, ErrNodeNotFound)
	}

	ins := withoutSelf(g.in[id], id)
	outs := withoutSelf(g.out[id], id)

	if id == g.root {
		if len(outs) == 0 {
			return fmt.Errorf("removing node %d: %w", id, ErrRemoveRoot)
		}
		g.root = outs[0].To
	}

	for _, p := range distinctFrom(ins) {
		var rebuilt []Edge
		for _, e := range g.out[p] {
			if e.To != id {
				rebuilt = append(rebuilt, e)
				continue
			}
			for _, o := range outs {
				rebuilt = append(rebuilt, Edge{From: p, To: o.To, Label: spliceLabel(e.Label, o.Label)})
			}
		}
		g.out[p] = rebuilt
	}

	for _, s := range distinctTo(outs) {
		var rebuilt []Edge
		for _, e := range g.in[s] {
			if e.From != id {
				rebuilt = append(rebuilt, e)
				continue
			}
			for _, i := range ins {
				rebuilt = append(rebuilt, Edge{From: i.From, To: s, Label: spliceLabel(i.Label, e.Label)})
			}
		}
		g.in[s] = rebuilt
	}

	g.drop(id)
	return nil
}

// Replace moves every edge of old onto replacement and deletes old.
func (g *CFA) Replace(old, replacement NodeID) error {
	if !g.Contains(old) {
		return fmt.Errorf("replacing node %d: %w", old, ErrNodeNotFound)
	}
	if replacement < 0 || int(replacement) >= len(g.nodes) {
		return fmt.Errorf("replacing node %d with %d: %w", old, replacement, ErrNodeNotFound)
	}
	if old == replacement {
		return nil
	}
	g.live[replacement] = true

	for _, e := range g.in[old] {
		if e.From == old {
			continue
		}
		for i := range g.out[e.From] {
			if g.out[e.From][i].To == old {
				g.out[e.From][i].To = replacement
			}
		}
	}
	for _, e := range g.out[old] {
		if e.To == old {
			continue
		}
		for i := range g.in[e.To] {
			if g.in[e.To][i].From == old {
				g.in[e.To][i].From = replacement
			}
		}
	}

	for _, e := range g.in[old] {
		e.To = replacement
		if e.From == old {
			e.From = replacement
		}
		g.in[replacement] = append(g.in[replacement], e)
	}
	for _, e := range g.out[old] {
		e.From = replacement
		if e.To == old {
			e.To = replacement
		}
		g.out[replacement] = append(g.out[replacement], e)
	}

	if old == g.root {
		g.root = replacement
	}
	g.drop(old)
	return nil
}

// fill gives a placeholder its syntax, keeping its identity and edges.
func (g *CFA) fill(id NodeID, kind Kind, n syntax.Node) {
	g.nodes[id].Kind = kind
	g.nodes[id].Syntax = n
}

func (g *CFA) drop(id NodeID) {
	g.out[id] = nil
	g.in[id] = nil
	g.live[id] = false
}

// spliceLabel keeps the label of the n -> s edge; an unlabelled one takes
// the p -> n label, so empty placeholders pass their branch label through.
func spliceLabel(in, out Label) Label {
	if out != LabelNone {
		return out
	}
	return in
}

func withoutSelf(edges []Edge, id NodeID) []Edge {
	var kept []Edge
	for _, e := range edges {
		if e.From != id || e.To != id {
			kept = append(kept, e)
		}
	}
	return kept
}

func distinctFrom(edges []Edge) []NodeID {
	seen := make(map[NodeID]bool)
	var ids []NodeID
	for _, e := range edges {
		if !seen[e.From] {
			seen[e.From] = true
			ids = append(ids, e.From)
		}
	}
	return ids
}

func distinctTo(edges []Edge) []NodeID {
	seen := make(map[NodeID]bool)
	var ids []NodeID
	for _, e := range edges {
		if !seen[e.To] {
			seen[e.To] = true
			ids = append(ids, e.To)
		}
	}
	return ids
}
