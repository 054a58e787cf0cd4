// Package trace models the runtime record of probe hits produced by running
// instrumented code, and parses the line-oriented log the probes write.
package trace

// Location is one probe hit: the probe id together with the test and unit
// that were active when it fired. Test and Unit are empty outside markers.
type Location struct {
	Test string `json:"test,omitempty" msgpack:"test"`
	Unit string `json:"unit,omitempty" msgpack:"unit"`
	ID   string `json:"id" msgpack:"id"`
}

// Trace is an ordered sequence of probe hits.
type Trace []Location

// Filter keeps only hits recorded inside unit. An empty unit keeps everything.
func (t Trace) Filter(unit string) Trace {
	if unit == "" {
		return t
	}
	out := make(Trace, 0, len(t))
	for _, loc := range t {
		if loc.Unit == unit {
			out = append(out, loc)
		}
	}
	return out
}

// ForTest keeps only hits recorded while test was running.
func (t Trace) ForTest(test string) Trace {
	out := make(Trace, 0, len(t))
	for _, loc := range t {
		if loc.Test == test {
			out = append(out, loc)
		}
	}
	return out
}

// Tests returns the distinct test names in order of first appearance.
func (t Trace) Tests() []string {
	seen := make(map[string]bool)
	var tests []string
	for _, loc := range t {
		if !seen[loc.Test] {
			seen[loc.Test] = true
			tests = append(tests, loc.Test)
		}
	}
	return tests
}

// IDs returns the probe ids in order.
func (t Trace) IDs() []string {
	ids := make([]string, len(t))
	for i, loc := range t {
		ids[i] = loc.ID
	}
	return ids
}

// Of builds a trace of bare probe ids, without test or unit.
func Of(ids ...string) Trace {
	t := make(Trace, len(ids))
	for i, id := range ids {
		t[i] = Location{ID: id}
	}
	return t
}

// Restrict keeps only hits of the given probe ids. Hits from probes of other
// functions, such as callees, would otherwise desynchronise a follower.
func (t Trace) Restrict(ids []string) Trace {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := make(Trace, 0, len(t))
	for _, loc := range t {
		if keep[loc.ID] {
			out = append(out, loc)
		}
	}
	return out
}
