package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/canary/internal/config"
	"github.com/l3aro/canary/pkg/cfa"
	"github.com/l3aro/canary/pkg/coverage"
	"github.com/l3aro/canary/pkg/instrument"
)

const source = `int f(int a) {
  a = 1;
  if (a == 1) {
    a = 2;
  }
  return a;
}
`

const traceLog = `BeginTest=TestPos
Location=0
Location=1
Location=2
Location=3
EndTest
BeginTest=TestNeg
Location=0
Location=1
Location=3
EndTest
`

type project struct {
	dir    string
	config string
	src    string
	out    string
	trace  string
}

func newProject(t *testing.T) project {
	t.Helper()
	dir := t.TempDir()
	p := project{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		src:    filepath.Join(dir, "src"),
		out:    filepath.Join(dir, "out"),
		trace:  filepath.Join(dir, "canary.log"),
	}

	cfg := config.DefaultConfig()
	cfg.TraceFile = p.trace
	cfg.OutputDir = p.out
	cfg.ReportDir = filepath.Join(dir, "reports")
	cfg.LogLevel = "error"
	require.NoError(t, cfg.Save(p.config))

	require.NoError(t, os.MkdirAll(p.src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(p.src, "f.c"), []byte(source), 0644))
	require.NoError(t, os.WriteFile(p.trace, []byte(traceLog), 0644))
	return p
}

// resetFlags puts every flag back to its default; cobra keeps flag state
// between executions of the same command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func (p project) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(RootCmd)

	var stdout, stderr bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	RootCmd.SetArgs(append([]string{"--config", p.config}, args...))

	err := RootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// instrumented runs the instrument command and returns the instrumented file.
func (p project) instrumented(t *testing.T) string {
	t.Helper()
	_, err := p.run(t, "instrument", p.src)
	require.NoError(t, err)
	return filepath.Join(p.out, "f.c")
}

func TestFunctionsCommand(t *testing.T) {
	p := newProject(t)
	file := filepath.Join(p.src, "f.c")

	out, err := p.run(t, "functions", file)
	require.NoError(t, err)
	assert.Contains(t, out, "1-7")

	out, err = p.run(t, "functions", "--json", file)
	require.NoError(t, err)
	var fns []FunctionOutput
	require.NoError(t, json.Unmarshal([]byte(out), &fns))
	assert.Equal(t, []FunctionOutput{{Name: "f", StartLine: 1, EndLine: 7}}, fns)

	_, err = p.run(t, "functions", filepath.Join(p.dir, "script.py"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestInstrumentCommand(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "instrument", p.src)
	require.NoError(t, err)
	assert.Contains(t, out, "f.c")

	want, err := instrument.File(context.Background(), []byte(source), instrument.Options{})
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(p.out, "f.c"))
	require.NoError(t, err)
	assert.Equal(t, string(want.Source), string(got))

	header, err := os.ReadFile(filepath.Join(p.out, instrument.DefaultHeaderName))
	require.NoError(t, err)
	assert.Equal(t, instrument.Header(), header)

	data, err := os.ReadFile(filepath.Join(p.out, instrument.ManifestFileName))
	require.NoError(t, err)
	var probes []instrument.Probe
	require.NoError(t, json.Unmarshal(data, &probes))
	require.Len(t, probes, 4)
	assert.Equal(t, "f.c", probes[0].File)
	assert.Equal(t, "3", probes[3].ID)
}

func TestInstrumentNumbersAcrossFiles(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.src, "g.c"), []byte("void g(int x) {\n  while (x > 0)\n    x--;\n}\n"), 0644))

	out, err := p.run(t, "instrument", "--json", "--first-id", "10", p.src)
	require.NoError(t, err)

	var probes []instrument.Probe
	require.NoError(t, json.Unmarshal([]byte(out), &probes))
	require.Len(t, probes, 6)
	for i, pr := range probes {
		assert.Equal(t, strconv.Itoa(10+i), pr.ID)
	}
	assert.Equal(t, "f.c", probes[0].File)
	assert.Equal(t, "g.c", probes[4].File)
}

func TestInstrumentSkipsOutputDirectory(t *testing.T) {
	p := newProject(t)
	inside := filepath.Join(p.src, "instrumented")

	_, err := p.run(t, "instrument", "--out", inside, p.src)
	require.NoError(t, err)

	// a second run must not pick up its own output
	out, err := p.run(t, "instrument", "--json", "--out", inside, p.src)
	require.NoError(t, err)
	var probes []instrument.Probe
	require.NoError(t, json.Unmarshal([]byte(out), &probes))
	assert.Len(t, probes, 4)
}

func TestInstrumentReusesUnchangedSources(t *testing.T) {
	p := newProject(t)
	file := p.instrumented(t)
	require.NoError(t, os.WriteFile(file, []byte("stale"), 0644))

	out, err := p.run(t, "instrument", "--json", p.src)
	require.NoError(t, err)
	var probes []instrument.Probe
	require.NoError(t, json.Unmarshal([]byte(out), &probes))
	assert.Len(t, probes, 4)
	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(got))

	_, err = p.run(t, "instrument", "--force", p.src)
	require.NoError(t, err)
	got, err = os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(got), "CANARY_TWEET_LOCATION(0)")

	// a different first id shifts every probe, so the file is redone
	require.NoError(t, os.WriteFile(file, []byte("stale"), 0644))
	_, err = p.run(t, "instrument", "--first-id", "1", p.src)
	require.NoError(t, err)
	got, err = os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(got), "CANARY_TWEET_LOCATION(4)")
}

func TestWatchHelpers(t *testing.T) {
	p := newProject(t)
	file := filepath.Join(p.src, "f.c")

	roots, err := watchRoots([]string{p.src, file})
	require.NoError(t, err)
	assert.Equal(t, []string{p.src}, roots)

	_, err = watchRoots([]string{filepath.Join(p.dir, "missing")})
	assert.Error(t, err)

	assert.True(t, within(p.out, p.out))
	assert.True(t, within(p.out, filepath.Join(p.out, "sub", "f.c")))
	assert.False(t, within(p.out, p.src))
	assert.False(t, within(p.out, p.out+"-old"))
}

func TestCfaCommand(t *testing.T) {
	p := newProject(t)
	file := p.instrumented(t)

	out, err := p.run(t, "cfa", "--json", file, "f")
	require.NoError(t, err)
	var info cfa.GraphInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "f", info.Function)
	assert.Len(t, info.Nodes, 7)

	var condition *cfa.NodeInfo
	for i := range info.Nodes {
		if info.Nodes[i].Kind == "condition" {
			condition = &info.Nodes[i]
		}
	}
	require.NotNil(t, condition)
	assert.Equal(t, "1", condition.Location)

	out, err = p.run(t, "cfa", "--dot", file, "f")
	require.NoError(t, err)
	assert.Contains(t, out, `digraph "f" {`)

	out, err = p.run(t, "cfa", file, "f")
	require.NoError(t, err)
	assert.Contains(t, out, "Nodes: 7  Probes: 4")

	_, err = p.run(t, "cfa", file, "missing")
	assert.Error(t, err)
}

func TestFollowCommand(t *testing.T) {
	p := newProject(t)
	file := p.instrumented(t)

	_, err := p.run(t, "follow", file, "f")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds 2 tests")

	out, err := p.run(t, "follow", "--json", "--test", "TestNeg", file, "f")
	require.NoError(t, err)
	var path coverage.TestPath
	require.NoError(t, json.Unmarshal([]byte(out), &path))
	assert.Equal(t, "TestNeg", path.Test)
	assert.Len(t, path.Path, 5)
	assert.Nil(t, path.Desync)

	out, err = p.run(t, "follow", "--test", "TestPos", file, "f")
	require.NoError(t, err)
	assert.Contains(t, out, "a = 2;")

	_, err = p.run(t, "follow", "--test", "TestMissing", file, "f")
	assert.Error(t, err)
}

func TestFollowCommandDesync(t *testing.T) {
	p := newProject(t)
	file := p.instrumented(t)
	require.NoError(t, os.WriteFile(p.trace, []byte("Location=0\nLocation=2\n"), 0644))

	out, err := p.run(t, "follow", "--json", file, "f")

	var desync *cfa.DesyncError
	require.True(t, errors.As(err, &desync))
	assert.Equal(t, 1, desync.Position)

	var path coverage.TestPath
	require.NoError(t, json.Unmarshal([]byte(out), &path))
	require.NotNil(t, path.Desync)
	assert.Equal(t, "2", path.Desync.Location)
	assert.Len(t, path.Path, 2)
}

func TestCoverageCommand(t *testing.T) {
	p := newProject(t)
	file := p.instrumented(t)

	out, err := p.run(t, "coverage", "--json", "--save", file, "f")
	require.NoError(t, err)

	var report coverage.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Tests, 2)

	hits := make(map[string]coverage.NodeCoverage)
	for _, n := range report.Nodes {
		hits[n.Text] = n
	}
	assert.Equal(t, 2, hits["return a;"].Hits)
	assert.Equal(t, []string{"TestPos", "TestNeg"}, hits["return a;"].Tests)
	assert.Equal(t, 1, hits["a = 2;"].Hits)

	saved, err := filepath.Glob(filepath.Join(p.dir, "reports", "f-*.msgpack"))
	require.NoError(t, err)
	require.Len(t, saved, 1)

	out, err = p.run(t, "report", "--targets", saved[0])
	require.NoError(t, err)
	// tablewriter upper-cases footers
	assert.Contains(t, out, "COVERED 7/7")
	assert.NotContains(t, out, "Mutation score")

	node := strconv.Itoa(hits["a = 2;"].Node)
	_, err = p.run(t, "record", saved[0], node, "killed")
	require.NoError(t, err)
	_, err = p.run(t, "record", saved[0], node, "survived")
	require.NoError(t, err)

	loaded, err := coverage.LoadFile(saved[0])
	require.NoError(t, err)
	score, ok := loaded.Score()
	require.True(t, ok)
	assert.InDelta(t, 0.5, score, 1e-9)

	prom := filepath.Join(p.dir, "metrics", "canary.prom")
	out, err = p.run(t, "report", "--metrics", prom, saved[0])
	require.NoError(t, err)
	assert.Contains(t, out, "Mutation score: 50.0%")
	metrics, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "canary_mutation_score")

	_, err = p.run(t, "record", saved[0], node, "maybe")
	assert.Error(t, err)
	_, err = p.run(t, "record", saved[0], "999", "killed")
	assert.True(t, errors.Is(err, cfa.ErrNodeNotFound))
}

func TestInitAnswers(t *testing.T) {
	answers := defaultAnswers()
	cfg, err := answers.toConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	answers.Workers = "many"
	_, err = answers.toConfig()
	assert.Error(t, err)

	answers.Workers = "2"
	answers.HeaderName = "include/canary.h"
	_, err = answers.toConfig()
	assert.Error(t, err)

	assert.Equal(t, config.ProjectConfigFilePath(), configPathFor("project"))
	assert.Equal(t, config.GlobalConfigFilePath(), configPathFor("global"))

	assert.NoError(t, positiveInt("3"))
	assert.Error(t, positiveInt("0"))
	assert.Error(t, positiveInt("x"))
}

func TestVersionCommand(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "canary version "+version)
}

func TestDoctorCommand(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "Using config: "+p.config)
	assert.Contains(t, out, "Probe manifest:")

	p.instrumented(t)
	out, err = p.run(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "4 probes in 1 files")
	assert.Contains(t, out, "2 tests, 7 hits")

	require.NoError(t, os.WriteFile(p.trace, []byte("Location=42\n"), 0644))
	out, err = p.run(t, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "missing from the manifest: 42")
}

func TestBadConfig(t *testing.T) {
	p := newProject(t)
	require.NoError(t, os.WriteFile(p.config, []byte("workers: 0\n"), 0644))

	_, err := p.run(t, "functions", filepath.Join(p.src, "f.c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}
