package cfa

import "github.com/l3aro/canary/pkg/probe"

// Unset is the location of a node no probe reaches. Callers treat it as
// "no coverage data", not as an error.
const Unset = ""

// LocalisedNode is a node decorated with the probe location it belongs to
// and with mutation outcome counters filled in by downstream analysis.
type LocalisedNode struct {
	ID       NodeID
	Location string
	Seeded   bool
	Killed   int
	Survived int
}

// Decorated is a CFA whose nodes carry location labels.
type Decorated struct {
	g     *CFA
	nodes []LocalisedNode
}

// Localise labels every node of g with the id of the nearest dominating probe.
// Nodes whose text is a probe call are seeds and keep their own id; other
// nodes inherit the label of the predecessor they were first reached from.
func Localise(g *CFA) *Decorated {
	d := &Decorated{g: g, nodes: make([]LocalisedNode, g.Cap())}
	for i := range d.nodes {
		d.nodes[i].ID = NodeID(i)
	}
	for _, id := range g.Nodes() {
		if loc, ok := probe.Parse(g.Node(id).Text()); ok {
			d.nodes[id].Location = loc
			d.nodes[id].Seeded = true
		}
	}

	d.Propagate()
	d.fixup()
	return d
}

// Graph returns the underlying CFA.
func (d *Decorated) Graph() *CFA {
	return d.g
}

// Location returns the label of id, or Unset.
func (d *Decorated) Location(id NodeID) string {
	if id < 0 || int(id) >= len(d.nodes) {
		return Unset
	}
	return d.nodes[id].Location
}

// Node returns the decoration of id for callers attaching counters.
// It returns nil for ids outside the graph.
func (d *Decorated) Node(id NodeID) *LocalisedNode {
	if !d.g.Contains(id) {
		return nil
	}
	return &d.nodes[id]
}

// Seeds returns the distinct probe ids placed in the graph, in node order.
func (d *Decorated) Seeds() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range d.g.Nodes() {
		n := d.nodes[id]
		if n.Seeded && !seen[n.Location] {
			seen[n.Location] = true
			ids = append(ids, n.Location)
		}
	}
	return ids
}

// SetLocation overrides the label of id. Seeds cannot be relabelled.
func (d *Decorated) SetLocation(id NodeID, loc string) bool {
	n := d.Node(id)
	if n == nil || n.Seeded {
		return false
	}
	n.Location = loc
	return true
}

// Propagate pushes labels along edges. A first depth-first pass from the
// root hands each node the label of the node it was discovered from; a
// second pass starting at every labelled node fills nodes the first pass
// reached only through unlabelled predecessors. Both passes enqueue a node
// at most once, so loops terminate, and neither overwrites a label, so
// running Propagate again changes nothing.
func (d *Decorated) Propagate() {
	visited := make([]bool, len(d.nodes))
	root := d.g.Root()
	visited[root] = true
	d.spread([]NodeID{root}, visited)

	visited = make([]bool, len(d.nodes))
	var labelled []NodeID
	for _, id := range d.g.Nodes() {
		if d.nodes[id].Location != Unset {
			visited[id] = true
			labelled = append(labelled, id)
		}
	}
	for i, j := 0, len(labelled)-1; i < j; i, j = i+1, j-1 {
		labelled[i], labelled[j] = labelled[j], labelled[i]
	}
	d.spread(labelled, visited)
}

// spread runs the explicit-stack traversal from the given frontier.
func (d *Decorated) spread(stack []NodeID, visited []bool) {
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		succ := d.g.Outgoing(n)
		var next []NodeID
		for _, s := range succ {
			if visited[s] {
				continue
			}
			visited[s] = true
			if d.nodes[s].Location == Unset {
				d.nodes[s].Location = d.nodes[n].Location
			}
			next = append(next, s)
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
}

// fixup relabels case entries with their first successor's label: the probe
// of a case sits after its "case X:" marker, not before it.
func (d *Decorated) fixup() {
	for _, id := range d.g.Nodes() {
		if d.g.Node(id).Kind != KindCase || d.nodes[id].Seeded {
			continue
		}
		succ := d.g.Outgoing(id)
		if len(succ) == 0 {
			continue
		}
		if loc := d.nodes[succ[0]].Location; loc != Unset {
			d.nodes[id].Location = loc
		}
	}
}
