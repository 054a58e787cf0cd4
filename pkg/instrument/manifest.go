package instrument

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestFileName lists every probe of an instrumentation run.
const ManifestFileName = "probes.json"

// WriteManifest writes probes as an indented JSON array.
func WriteManifest(path string, probes []Probe) error {
	if probes == nil {
		probes = []Probe{}
	}
	data, err := json.MarshalIndent(probes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) ([]Probe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var probes []Probe
	if err := json.Unmarshal(data, &probes); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return probes, nil
}
