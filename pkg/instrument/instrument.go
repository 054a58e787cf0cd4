// Package instrument rewrites C source so that running it leaves a trace of
// probe hits. Probe sites are chosen from the CFA of every function: block
// leaders get a statement probe, conditions get a comma probe evaluated on
// each test and case entries get a probe right after their label.
package instrument

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/l3aro/canary/internal/log"
	"github.com/l3aro/canary/pkg/cfa"
	"github.com/l3aro/canary/pkg/probe"
	"github.com/l3aro/canary/pkg/syntax"
)

//go:embed canary.h
var header []byte

// DefaultHeaderName is the file name the runtime header is included under.
const DefaultHeaderName = "canary.h"

// Site tells where a probe was placed.
type Site string

const (
	SiteStatement Site = "statement" // before a leader statement
	SiteCondition Site = "condition" // comma probe inside a condition
	SiteCase      Site = "case"      // after a case or default label
	SiteUpdate    Site = "update"    // comma probe in a for update
	SiteHeader    Site = "header"    // condition slot of for(;;)
)

// Options configures an instrumentation run.
type Options struct {
	// HeaderName is the include name of the runtime header.
	HeaderName string
	// Functions restricts instrumentation to the named functions. Empty means all.
	Functions []string
	// FirstID is the id of the first probe, so several files can share one id space.
	FirstID int
	Logger  log.Logger
}

// Probe describes one inserted probe.
type Probe struct {
	ID       string `json:"id" msgpack:"id"`
	File     string `json:"file,omitempty" msgpack:"file"`
	Function string `json:"function" msgpack:"function"`
	Site     Site   `json:"site" msgpack:"site"`
	Line     int    `json:"line" msgpack:"line"`
	Text     string `json:"text" msgpack:"text"`
}

// Result is the instrumented source with the probes placed in it.
type Result struct {
	Source []byte
	Probes []Probe
	NextID int
}

// Header returns the runtime header defining the probe macros.
func Header() []byte {
	return append([]byte(nil), header...)
}

// WriteHeader writes the runtime header into dir and returns its path.
func WriteHeader(dir, name string) (string, error) {
	if name == "" {
		name = DefaultHeaderName
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, header, 0644); err != nil {
		return "", fmt.Errorf("writing header %s: %w", path, err)
	}
	return path, nil
}

// site is a planned probe before its id is known.
type site struct {
	kind   Site
	offset int
	end    int
	wrap   bool
	fn     string
	node   syntax.Node
}

type insertion struct {
	offset  int
	text    string
	closing bool
}

// File instruments one C translation unit. Source that already carries
// probes is left as it is, so instrumenting twice changes nothing.
func File(ctx context.Context, src []byte, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	name := opts.HeaderName
	if name == "" {
		name = DefaultHeaderName
	}

	tree, err := syntax.Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	wanted := make(map[string]bool, len(opts.Functions))
	for _, fn := range opts.Functions {
		wanted[fn] = true
	}

	var sites []site
	for _, fn := range tree.Functions() {
		if len(wanted) > 0 && !wanted[fn.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g, err := cfa.Build(fn.Body)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		planned := plan(fn.Name, g)
		logger.Debug("Planned probes", "function", fn.Name, "nodes", g.Len(), "probes", len(planned))
		sites = append(sites, planned...)
	}

	sort.SliceStable(sites, func(i, j int) bool {
		return sites[i].offset < sites[j].offset
	})

	res := &Result{NextID: opts.FirstID}
	var inserts []insertion
	for _, s := range sites {
		id := strconv.Itoa(res.NextID)
		res.NextID++

		res.Probes = append(res.Probes, Probe{
			ID:       id,
			Function: s.fn,
			Site:     s.kind,
			Line:     s.node.Line(),
			Text:     cfa.Summary(s.node.Text(), 60),
		})
		inserts = append(inserts, s.insertions(id)...)
	}

	sort.SliceStable(inserts, func(i, j int) bool {
		if inserts[i].offset != inserts[j].offset {
			return inserts[i].offset < inserts[j].offset
		}
		return inserts[i].closing && !inserts[j].closing
	})

	var buf bytes.Buffer
	include := fmt.Sprintf("#include %q", name)
	if len(sites) > 0 && !bytes.Contains(src, []byte(include)) {
		buf.WriteString(include + "\n#line 1\n")
	}
	prev := 0
	for _, ins := range inserts {
		buf.Write(src[prev:ins.offset])
		buf.WriteString(ins.text)
		prev = ins.offset
	}
	buf.Write(src[prev:])
	res.Source = buf.Bytes()

	return res, nil
}

// FileAt instruments the file at in and writes the result to out.
func FileAt(ctx context.Context, in, out string, opts Options) (*Result, error) {
	src, err := os.ReadFile(in)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", in, err)
	}

	res, err := File(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("instrumenting %s: %w", in, err)
	}
	for i := range res.Probes {
		res.Probes[i].File = in
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", out, err)
	}
	if err := os.WriteFile(out, res.Source, 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", out, err)
	}
	return res, nil
}

func (s site) insertions(id string) []insertion {
	switch s.kind {
	case SiteStatement:
		text := probe.Statement(id) + " "
		if !s.wrap {
			return []insertion{{offset: s.offset, text: text}}
		}
		return []insertion{
			{offset: s.offset, text: "{ " + text},
			{offset: s.end, text: " }", closing: true},
		}
	case SiteCase:
		return []insertion{{offset: s.offset, text: " " + probe.Statement(id)}}
	case SiteHeader:
		return []insertion{{offset: s.offset, text: probe.ConditionPrefix(id) + "1"}}
	default:
		return []insertion{{offset: s.offset, text: probe.ConditionPrefix(id)}}
	}
}

// plan picks the probe sites of one function.
func plan(fn string, g *cfa.CFA) []site {
	var sites []site
	for _, id := range g.Nodes() {
		n := g.Node(id)
		if _, ok := probe.Parse(n.Text()); ok {
			continue
		}

		var (
			s  site
			ok bool
		)
		switch n.Kind {
		case cfa.KindCondition:
			s, ok = conditionSite(n.Syntax), true
		case cfa.KindCase:
			s, ok = caseSite(n.Syntax)
		case cfa.KindHeader:
			s, ok = headerSite(n.Syntax)
		case cfa.KindStatement, cfa.KindJump:
			if leader(g, id) {
				s, ok = statementSite(n.Syntax)
			}
		case cfa.KindInit, cfa.KindSelector:
			// probe the whole for or switch statement instead
			if leader(g, id) {
				s, ok = statementSite(n.Syntax.Parent())
			}
		case cfa.KindUpdate:
			if leader(g, id) {
				s, ok = site{kind: SiteUpdate, offset: n.Syntax.StartByte(), node: n.Syntax}, true
			}
		}
		if ok {
			s.fn = fn
			sites = append(sites, s)
		}
	}
	return sites
}

// leader reports whether id starts a basic block.
func leader(g *cfa.CFA, id cfa.NodeID) bool {
	if id == g.Root() {
		return true
	}
	preds := g.Ingoing(id)
	if len(preds) != 1 {
		return true
	}
	return len(g.Outgoing(preds[0])) > 1
}

func conditionSite(n syntax.Node) site {
	offset := n.StartByte()
	if n.Kind() == "parenthesized_expression" {
		offset++
	}
	return site{kind: SiteCondition, offset: offset, node: n}
}

func caseSite(n syntax.Node) (site, bool) {
	colon := n.ChildOfKind(":")
	if colon.IsZero() {
		return site{}, false
	}
	value := n.Field("value")
	for _, stmt := range n.NamedChildren() {
		if stmt.Same(value) || stmt.Kind() == "comment" {
			continue
		}
		if _, ok := probe.Parse(stmt.Text()); ok {
			return site{}, false
		}
		break
	}
	return site{kind: SiteCase, offset: colon.EndByte(), node: n}, true
}

// headerSite finds the empty condition slot of a for statement.
func headerSite(n syntax.Node) (site, bool) {
	if init := n.Field("initializer"); init.Kind() == "declaration" {
		return site{kind: SiteHeader, offset: init.EndByte(), node: n}, true
	}
	semi := n.ChildOfKind(";")
	if semi.IsZero() {
		return site{}, false
	}
	return site{kind: SiteHeader, offset: semi.EndByte(), node: n}, true
}

// statementSite places a probe before n, adding braces when n is the
// unbraced body of a control statement.
func statementSite(n syntax.Node) (site, bool) {
	if n.IsZero() || n.Kind() == "compound_statement" || strings.HasPrefix(n.Kind(), "preproc_") {
		return site{}, false
	}
	s := site{kind: SiteStatement, offset: n.StartByte(), end: n.EndByte(), node: n}
	switch n.Parent().Kind() {
	case "compound_statement", "case_statement", "translation_unit":
	default:
		s.wrap = true
	}
	return s, true
}
