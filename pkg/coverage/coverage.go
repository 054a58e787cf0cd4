// Package coverage correlates recorded traces with a decorated CFA: which
// nodes each test executed, how often, and how mutants placed on those nodes
// fared. Mutation tooling uses it to restrict candidate mutations to nodes
// with recorded coverage.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/l3aro/canary/internal/log"
	"github.com/l3aro/canary/pkg/cfa"
	"github.com/l3aro/canary/pkg/trace"
)

// Options configures Correlate.
type Options struct {
	// Function and File name the correlated code in the report.
	Function string
	File     string
	// Unit keeps only hits recorded inside that unit. Empty keeps all.
	Unit string
	// Workers bounds the number of tests replayed at once. Zero uses GOMAXPROCS.
	Workers int
	Logger  log.Logger
}

// Correlate replays the trace of every test against d and aggregates the
// paths into a report. Tests are replayed concurrently; each owns its own
// follower over the shared, read-only graph. A desynchronised test keeps the
// path matched so far and is flagged in the report.
func Correlate(ctx context.Context, d *cfa.Decorated, tr trace.Trace, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	tests := tr.Tests()
	results := make([]TestPath, len(tests))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, test := range tests {
		i, test := i, test
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			path, err := cfa.FollowPath(d, opts.Unit, tr.ForTest(test))
			result := TestPath{Test: test, Path: make([]int, len(path))}
			for j, id := range path {
				result.Path[j] = int(id)
			}

			var desync *cfa.DesyncError
			switch {
			case errors.As(err, &desync):
				result.Desync = &Desync{Position: desync.Position, Location: desync.Location, Node: int(desync.Node)}
				logger.Warn("Trace desynchronised", "test", test, "position", desync.Position, "location", desync.Location)
			case err != nil:
				return fmt.Errorf("following test %s: %w", test, err)
			}

			results[i] = result
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	r := newReport(d, opts)
	for _, res := range results {
		r.addPath(res)
	}
	logger.Debug("Correlated traces", "function", opts.Function, "tests", len(tests), "covered", r.CoveredCount())
	return r, nil
}

func newReport(d *cfa.Decorated, opts Options) *Report {
	g := d.Graph()
	r := &Report{
		RunID:     uuid.NewString(),
		Function:  opts.Function,
		File:      opts.File,
		Unit:      opts.Unit,
		CreatedAt: time.Now().UTC(),
		index:     make(map[int]int),
	}
	for _, id := range g.Nodes() {
		n := g.Node(id)
		r.index[int(id)] = len(r.Nodes)
		r.Nodes = append(r.Nodes, NodeCoverage{
			Node:     int(id),
			Kind:     n.Kind.String(),
			Location: d.Location(id),
			Line:     n.Syntax.Line(),
			Text:     cfa.Summary(n.Text(), 60),
		})
	}
	return r
}

// addPath folds one test path into the node counters.
func (r *Report) addPath(p TestPath) {
	r.Tests = append(r.Tests, p)
	counted := make(map[int]bool)
	for _, id := range p.Path {
		i, ok := r.index[id]
		if !ok {
			continue
		}
		r.Nodes[i].Hits++
		if !counted[id] {
			counted[id] = true
			r.Nodes[i].Tests = append(r.Nodes[i].Tests, p.Test)
		}
	}
}
