package coverage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry returns a registry holding the report as Prometheus gauges,
// labelled with the function and file.
func (r *Report) Registry() *prometheus.Registry {
	labels := prometheus.Labels{"function": r.Function, "file": r.File}
	reg := prometheus.NewRegistry()

	gauge := func(name, help string, v float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		g.Set(v)
		reg.MustRegister(g)
	}

	hits := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "canary_node_hits",
		Help:        "Times each CFA node was reached over all tests",
		ConstLabels: labels,
	}, []string{"node", "kind"})
	mutants := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "canary_mutants",
		Help:        "Recorded mutant outcomes",
		ConstLabels: labels,
	}, []string{"outcome"})
	reg.MustRegister(hits, mutants)

	r.mu.RLock()
	var killed, survived int
	for _, n := range r.Nodes {
		hits.WithLabelValues(strconv.Itoa(n.Node), n.Kind).Set(float64(n.Hits))
		killed += n.Killed
		survived += n.Survived
	}
	nodes, tests := len(r.Nodes), len(r.Tests)
	r.mu.RUnlock()

	mutants.WithLabelValues("killed").Set(float64(killed))
	mutants.WithLabelValues("survived").Set(float64(survived))

	gauge("canary_cfa_nodes", "Nodes in the control-flow automaton", float64(nodes))
	gauge("canary_cfa_nodes_covered", "Nodes reached by at least one test", float64(r.CoveredCount()))
	gauge("canary_tests", "Tests replayed", float64(tests))
	gauge("canary_tests_desynced", "Tests whose trace stopped matching the automaton", float64(len(r.Desynced())))
	if score, ok := r.Score(); ok {
		gauge("canary_mutation_score", "Fraction of recorded mutants that were killed", score)
	}
	return reg
}

// WriteMetrics writes the report gauges to path in the Prometheus text
// format, for the node exporter textfile collector.
func (r *Report) WriteMetrics(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := prometheus.WriteToTextfile(path, r.Registry()); err != nil {
		return fmt.Errorf("writing metrics %s: %w", path, err)
	}
	return nil
}
