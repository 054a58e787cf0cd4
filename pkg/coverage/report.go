package coverage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/l3aro/canary/pkg/cfa"
)

// Desync records where a test's trace stopped matching the graph.
type Desync struct {
	Position int    `json:"position" msgpack:"position"`
	Location string `json:"location" msgpack:"location"`
	Node     int    `json:"node" msgpack:"node"`
}

// TestPath is the node-level path recovered for one test.
type TestPath struct {
	Test   string  `json:"test" msgpack:"test"`
	Path   []int   `json:"path" msgpack:"path"`
	Desync *Desync `json:"desync,omitempty" msgpack:"desync,omitempty"`
}

// NodeCoverage aggregates what is known about one CFA node.
type NodeCoverage struct {
	Node     int      `json:"node" msgpack:"node"`
	Kind     string   `json:"kind" msgpack:"kind"`
	Location string   `json:"location,omitempty" msgpack:"location"`
	Line     int      `json:"line" msgpack:"line"`
	Text     string   `json:"text" msgpack:"text"`
	Hits     int      `json:"hits" msgpack:"hits"`
	Tests    []string `json:"tests,omitempty" msgpack:"tests"`
	Killed   int      `json:"killed" msgpack:"killed"`
	Survived int      `json:"survived" msgpack:"survived"`
}

// Covered reports whether any test reached the node.
func (n NodeCoverage) Covered() bool {
	return n.Hits > 0
}

// Report is the coverage of one function over one trace. It is safe for
// concurrent use once built.
type Report struct {
	RunID     string         `json:"run_id" msgpack:"run_id"`
	Function  string         `json:"function,omitempty" msgpack:"function"`
	File      string         `json:"file,omitempty" msgpack:"file"`
	Unit      string         `json:"unit,omitempty" msgpack:"unit"`
	CreatedAt time.Time      `json:"created_at" msgpack:"created_at"`
	Nodes     []NodeCoverage `json:"nodes" msgpack:"nodes"`
	Tests     []TestPath     `json:"tests" msgpack:"tests"`

	mu    sync.RWMutex
	index map[int]int
}

// Node returns a copy of the coverage of id.
func (r *Report) Node(id cfa.NodeID) (NodeCoverage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[int(id)]
	if !ok {
		return NodeCoverage{}, false
	}
	n := r.Nodes[i]
	n.Tests = append([]string(nil), n.Tests...)
	return n, true
}

// CoveringTests returns the tests that executed id, in trace order.
func (r *Report) CoveringTests(id cfa.NodeID) []string {
	n, _ := r.Node(id)
	return n.Tests
}

// Targets returns the nodes with recorded coverage, the only places worth
// mutating since no test could detect a mutant elsewhere.
func (r *Report) Targets() []NodeCoverage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []NodeCoverage
	for _, n := range r.Nodes {
		if n.Covered() {
			targets = append(targets, n)
		}
	}
	return targets
}

// CoveredCount returns the number of nodes executed by at least one test.
func (r *Report) CoveredCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.Nodes {
		if n.Covered() {
			count++
		}
	}
	return count
}

// Desynced returns the tests whose trace did not match to the end.
func (r *Report) Desynced() []TestPath {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TestPath
	for _, t := range r.Tests {
		if t.Desync != nil {
			out = append(out, t)
		}
	}
	return out
}

// Record counts the outcome of a mutant placed on id.
func (r *Report) Record(id cfa.NodeID, killed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[int(id)]
	if !ok {
		return fmt.Errorf("recording mutant on node %d: %w", id, cfa.ErrNodeNotFound)
	}
	if killed {
		r.Nodes[i].Killed++
	} else {
		r.Nodes[i].Survived++
	}
	return nil
}

// Score returns the fraction of recorded mutants that were killed, and
// false when no mutant was recorded.
func (r *Report) Score() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var killed, total int
	for _, n := range r.Nodes {
		killed += n.Killed
		total += n.Killed + n.Survived
	}
	if total == 0 {
		return 0, false
	}
	return float64(killed) / float64(total), true
}

// Annotate copies the mutant counters onto the nodes of d.
func (r *Report) Annotate(d *cfa.Decorated) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.Nodes {
		if ln := d.Node(cfa.NodeID(n.Node)); ln != nil {
			ln.Killed = n.Killed
			ln.Survived = n.Survived
		}
	}
}

func (r *Report) reindex() {
	r.index = make(map[int]int, len(r.Nodes))
	for i, n := range r.Nodes {
		r.index[n.Node] = i
	}
}

// Save writes the report to w using msgpack.
func (r *Report) Save(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enc := msgpack.NewEncoder(w)
	return enc.Encode(r)
}

// Load reads a report written by Save.
func Load(rd io.Reader) (*Report, error) {
	r := &Report{}
	dec := msgpack.NewDecoder(rd)
	if err := dec.Decode(r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	r.reindex()
	return r, nil
}

// SaveJSON writes the report to w as indented JSON.
func (r *Report) SaveJSON(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// SaveFile writes the report to path, creating parent directories.
func (r *Report) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	return r.Save(f)
}

// LoadFile reads the report stored at path.
func LoadFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// FileName returns the conventional report file name for a run.
func (r *Report) FileName() string {
	name := r.Function
	if name == "" {
		name = "report"
	}
	return fmt.Sprintf("%s-%s.msgpack", name, r.RunID)
}
