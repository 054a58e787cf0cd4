package healthcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/l3aro/canary/internal/config"
	"github.com/l3aro/canary/pkg/dirty"
	"github.com/l3aro/canary/pkg/instrument"
	"github.com/l3aro/canary/pkg/syntax"
	"github.com/l3aro/canary/pkg/trace"
)

// Status of a single check.
type Status string

const (
	StatusReady   Status = "ready"
	StatusMissing Status = "missing"
	StatusError   Status = "error"
)

// CheckStatus is the outcome of one check.
type CheckStatus struct {
	Name   string
	Path   string
	Status Status
	Detail string
	Error  string
}

// HealthCheckResult contains the full health check output for display.
type HealthCheckResult struct {
	ConfigPath  string
	ConfigScope string // "global", "project" or "defaults"
	Checks      []CheckStatus
}

// Failed reports whether any check ended in error. Missing artifacts are
// expected before the first instrumentation or test run.
func (r *HealthCheckResult) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusError {
			return true
		}
	}
	return false
}

// Check inspects the artifacts named by cfg. configPath is the config file
// in use; empty means the built-in defaults.
func Check(ctx context.Context, cfg *config.Config, configPath string) (*HealthCheckResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	result := &HealthCheckResult{
		ConfigPath:  configPath,
		ConfigScope: scopeFromPath(configPath),
	}

	manifest, manifestCheck := checkManifest(cfg)
	tr, traceCheck := checkTrace(cfg)
	if manifest != nil && tr != nil {
		traceCheck = crossCheck(traceCheck, tr, manifest)
	}

	result.Checks = []CheckStatus{
		checkParser(ctx),
		checkHeader(cfg),
		manifestCheck,
		checkState(cfg),
		traceCheck,
		checkReports(cfg),
	}
	return result, nil
}

// scopeFromPath determines "global" or "project" scope from a config file path.
func scopeFromPath(path string) string {
	if path == "" {
		return "defaults"
	}

	home, err := os.UserHomeDir()
	if err == nil {
		globalDir := filepath.Join(home, ".canary")
		if strings.HasPrefix(path, globalDir) {
			return "global"
		}
	}
	return "project"
}

func checkParser(ctx context.Context) CheckStatus {
	status := CheckStatus{Name: "C parser"}

	tree, err := syntax.Parse(ctx, []byte("int canary(void) { return 0; }\n"))
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	defer tree.Close()

	if len(tree.Functions()) != 1 {
		status.Status = StatusError
		status.Error = "grammar did not find the sample function"
		return status
	}
	status.Status = StatusReady
	status.Detail = "tree-sitter C grammar loaded"
	return status
}

func checkHeader(cfg *config.Config) CheckStatus {
	path := filepath.Join(cfg.OutputDir, cfg.HeaderName)
	status := CheckStatus{Name: "Runtime header", Path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		status.Status = StatusMissing
		status.Detail = "run canary instrument"
	case err != nil:
		status.Status = StatusError
		status.Error = err.Error()
	case !bytes.Equal(data, instrument.Header()):
		status.Status = StatusError
		status.Error = "header differs from this canary version; run canary instrument --force"
	default:
		status.Status = StatusReady
	}
	return status
}

func checkManifest(cfg *config.Config) ([]instrument.Probe, CheckStatus) {
	path := filepath.Join(cfg.OutputDir, instrument.ManifestFileName)
	status := CheckStatus{Name: "Probe manifest", Path: path}

	probes, err := instrument.ReadManifest(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		status.Status = StatusMissing
		status.Detail = "run canary instrument"
		return nil, status
	case err != nil:
		status.Status = StatusError
		status.Error = err.Error()
		return nil, status
	}

	files := make(map[string]bool)
	for _, p := range probes {
		files[p.File] = true
	}
	status.Status = StatusReady
	status.Detail = fmt.Sprintf("%d probes in %d files", len(probes), len(files))
	return probes, status
}

func checkState(cfg *config.Config) CheckStatus {
	path := filepath.Join(cfg.OutputDir, dirty.DefaultStateFile)
	status := CheckStatus{Name: "Instrumentation state", Path: path}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		status.Status = StatusMissing
		status.Detail = "next instrument run starts from scratch"
		return status
	}

	tracker, err := dirty.Load(path)
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	status.Status = StatusReady
	status.Detail = fmt.Sprintf("%d files tracked", tracker.Len())
	return status
}

func checkTrace(cfg *config.Config) (trace.Trace, CheckStatus) {
	status := CheckStatus{Name: "Trace", Path: cfg.TraceFile}

	tr, err := trace.ParseFile(cfg.TraceFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		status.Status = StatusMissing
		status.Detail = "run the instrumented tests to record one"
		return nil, status
	case err != nil:
		status.Status = StatusError
		status.Error = err.Error()
		return nil, status
	}

	status.Status = StatusReady
	status.Detail = fmt.Sprintf("%d tests, %d hits", len(tr.Tests()), len(tr))
	return tr, status
}

// crossCheck flags trace hits of probe ids the manifest does not know, which
// means the trace was recorded against another instrumentation.
func crossCheck(status CheckStatus, tr trace.Trace, manifest []instrument.Probe) CheckStatus {
	known := make(map[string]bool, len(manifest))
	for _, p := range manifest {
		known[p.ID] = true
	}

	unknown := make(map[string]bool)
	for _, loc := range tr {
		if !known[loc.ID] {
			unknown[loc.ID] = true
		}
	}
	if len(unknown) == 0 {
		return status
	}

	ids := make([]string, 0, len(unknown))
	for id := range unknown {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	status.Status = StatusError
	status.Error = fmt.Sprintf("hits of probes missing from the manifest: %s", strings.Join(ids, ","))
	return status
}

func checkReports(cfg *config.Config) CheckStatus {
	status := CheckStatus{Name: "Reports", Path: cfg.ReportDir}

	info, err := os.Stat(cfg.ReportDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		status.Status = StatusMissing
		status.Detail = "run canary coverage --save"
		return status
	case err != nil:
		status.Status = StatusError
		status.Error = err.Error()
		return status
	case !info.IsDir():
		status.Status = StatusError
		status.Error = "not a directory"
		return status
	}

	saved, err := filepath.Glob(filepath.Join(cfg.ReportDir, "*.msgpack"))
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	status.Status = StatusReady
	status.Detail = fmt.Sprintf("%d saved reports", len(saved))
	return status
}
