package cfa

import (
	"fmt"
	"io"
	"strings"
)

// NodeInfo is the exported view of one node.
type NodeInfo struct {
	ID       int    `json:"id"`
	Kind     string `json:"kind"`
	Syntax   string `json:"syntax"`
	Text     string `json:"text"`
	Line     int    `json:"line"`
	Location string `json:"location,omitempty"`
}

// EdgeInfo is the exported view of one edge.
type EdgeInfo struct {
	From  int    `json:"from"`
	To    int    `json:"to"`
	Label string `json:"label,omitempty"`
}

// GraphInfo is a serialisable snapshot of a CFA, optionally with locations.
type GraphInfo struct {
	Function string     `json:"function,omitempty"`
	Root     int        `json:"root"`
	Nodes    []NodeInfo `json:"nodes"`
	Edges    []EdgeInfo `json:"edges"`
}

// Export snapshots g. When d is non-nil its locations are included.
func Export(function string, g *CFA, d *Decorated) GraphInfo {
	info := GraphInfo{Function: function, Root: int(g.Root())}
	for _, id := range g.Nodes() {
		n := g.Node(id)
		ni := NodeInfo{
			ID:     int(id),
			Kind:   n.Kind.String(),
			Syntax: n.Syntax.Kind(),
			Text:   Summary(n.Text(), 0),
			Line:   n.Syntax.Line(),
		}
		if d != nil {
			ni.Location = d.Location(id)
		}
		info.Nodes = append(info.Nodes, ni)
	}
	for _, e := range g.Edges() {
		info.Edges = append(info.Edges, EdgeInfo{From: int(e.From), To: int(e.To), Label: string(e.Label)})
	}
	return info
}

// WriteDOT renders g in Graphviz syntax for visual inspection.
func WriteDOT(w io.Writer, name string, g *CFA, d *Decorated) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", name)
	sb.WriteString("  node [shape=box, fontname=\"monospace\"];\n")

	for _, id := range g.Nodes() {
		n := g.Node(id)
		label := fmt.Sprintf("%d: %s", id, Summary(n.Text(), 40))
		if d != nil && d.Location(id) != Unset {
			label += fmt.Sprintf("\n@%s", d.Location(id))
		}
		shape := "box"
		switch n.Kind {
		case KindCondition, KindSelector, KindHeader:
			shape = "diamond"
		case KindCase:
			shape = "hexagon"
		}
		attrs := fmt.Sprintf("label=%q, shape=%s", label, shape)
		if id == g.Root() {
			attrs += ", penwidth=2"
		}
		fmt.Fprintf(&sb, "  n%d [%s];\n", id, attrs)
	}

	for _, e := range g.Edges() {
		if e.Label == LabelNone {
			fmt.Fprintf(&sb, "  n%d -> n%d;\n", e.From, e.To)
			continue
		}
		fmt.Fprintf(&sb, "  n%d -> n%d [label=%q];\n", e.From, e.To, string(e.Label))
	}
	sb.WriteString("}\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// Summary collapses whitespace in text and truncates it to max runes with an
// ellipsis. A max of zero or less disables truncation.
func Summary(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}
