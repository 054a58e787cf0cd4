package cfa

import (
	"fmt"

	"github.com/l3aro/canary/pkg/trace"
)

// DesyncError reports that a trace location had no matching successor, so
// the replay stopped before the trace was exhausted.
type DesyncError struct {
	Position int    // index into the (unit-filtered) trace
	Location string // location that could not be matched
	Node     NodeID // node the follower was standing on
	Matched  int    // nodes yielded before the stop
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("trace desync at position %d: no successor of node %d labelled %q (%d nodes matched)",
		e.Position, e.Node, e.Location, e.Matched)
}

// Follower replays a trace against a decorated CFA. It is a single forward
// pass: once Next reports false it stays exhausted.
type Follower struct {
	d       *Decorated
	locs    trace.Trace
	pos     int
	current NodeID
	inRun   bool
	seen    map[NodeID]bool
	done    bool
	yielded int
	desync  *DesyncError
}

// Follow starts a replay of tr from the root of d. A non-empty unit keeps
// only the hits recorded inside that unit.
func Follow(d *Decorated, unit string, tr trace.Trace) *Follower {
	return &Follower{
		d:       d,
		locs:    tr.Filter(unit),
		current: d.g.Root(),
	}
}

// Next returns the next node execution is inferred to have visited.
//
// For each trace location the follower first moves onto it, from the current
// node to the first successor carrying that label, unless it already stands
// on such a node. It then yields nodes of that label one by one, stepping to
// the first same-labelled successor not yet yielded for this location, and
// moves on to the next trace location when none is left.
func (f *Follower) Next() (NodeID, bool) {
	for !f.done {
		if f.inRun {
			if next, ok := f.successor(f.current, f.locs[f.pos].ID, f.seen); ok {
				f.current = next
				return f.yield()
			}
			f.inRun = false
			f.pos++
			continue
		}

		if f.pos >= len(f.locs) {
			f.done = true
			break
		}

		loc := f.locs[f.pos].ID
		if f.d.Location(f.current) != loc {
			next, ok := f.successor(f.current, loc, nil)
			if !ok {
				f.desync = &DesyncError{Position: f.pos, Location: loc, Node: f.current, Matched: f.yielded}
				f.done = true
				break
			}
			f.current = next
		}

		f.inRun = true
		f.seen = make(map[NodeID]bool)
		return f.yield()
	}
	return NoNode, false
}

func (f *Follower) yield() (NodeID, bool) {
	f.seen[f.current] = true
	f.yielded++
	return f.current, true
}

func (f *Follower) successor(id NodeID, loc string, skip map[NodeID]bool) (NodeID, bool) {
	for _, s := range f.d.g.Outgoing(id) {
		if f.d.Location(s) == loc && !skip[s] {
			return s, true
		}
	}
	return NoNode, false
}

// Desync returns the reason the replay stopped early, or nil when the trace
// was consumed completely or the replay has not finished yet.
func (f *Follower) Desync() *DesyncError {
	return f.desync
}

// Path drains the follower into a slice.
func (f *Follower) Path() []NodeID {
	var path []NodeID
	for {
		id, ok := f.Next()
		if !ok {
			return path
		}
		path = append(path, id)
	}
}

// FollowPath replays tr and returns the whole path along with the desync
// report, which is nil when the trace matched to the end.
func FollowPath(d *Decorated, unit string, tr trace.Trace) ([]NodeID, error) {
	f := Follow(d, unit, tr)
	path := f.Path()
	if f.desync != nil {
		return path, f.desync
	}
	return path, nil
}
