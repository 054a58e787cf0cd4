// Package dirty tracks which sources changed since they were last
// instrumented, based on content hashing. A rerun re-instruments only dirty
// files and reuses the recorded probes of the others, so probe ids stay
// stable as long as nothing before a file in the run changed.
package dirty

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/l3aro/canary/pkg/instrument"
)

// DefaultStateFile is the file name of the state kept in the output directory.
const DefaultStateFile = ".canary-state.msgpack"

const stateVersion = 1

// Entry is what a previous run recorded about one instrumented file.
type Entry struct {
	Path      string             `msgpack:"path"`
	Hash      string             `msgpack:"hash"`
	Options   string             `msgpack:"options"`
	FirstID   int                `msgpack:"first_id"`
	NextID    int                `msgpack:"next_id"`
	Probes    []instrument.Probe `msgpack:"probes"`
	UpdatedAt time.Time          `msgpack:"updated_at"`
}

// state is the on-disk structure.
type state struct {
	Version int     `msgpack:"version"`
	Files   []Entry `msgpack:"files"`
}

// Tracker holds the entries of one output directory.
type Tracker struct {
	mu    sync.RWMutex
	files map[string]Entry
	path  string
}

// New creates an empty tracker persisted at path.
func New(path string) *Tracker {
	return &Tracker{files: make(map[string]Entry), path: path}
}

// Load reads the tracker stored at path. A missing file yields an empty
// tracker; a state written by another format version is discarded.
func Load(path string) (*Tracker, error) {
	t := New(path)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer f.Close()

	var data state
	if err := msgpack.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode state %s: %w", path, err)
	}
	if data.Version != stateVersion {
		return t, nil
	}
	for _, e := range data.Files {
		t.files[e.Path] = e
	}
	return t, nil
}

// Hash computes the SHA256 of r.
func Hash(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashFile computes the SHA256 of the file contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	hash, err := Hash(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash file %s: %w", path, err)
	}
	return hash, nil
}

// Clean returns the entry of path when the file can be reused as is: same
// content, same options and the same first probe id.
func (t *Tracker) Clean(path, hash, options string, firstID int) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.files[path]
	if !ok || e.Hash != hash || e.Options != options || e.FirstID != firstID {
		return Entry{}, false
	}
	return e, true
}

// Update records a fresh instrumentation of e.Path.
func (t *Tracker) Update(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	t.files[e.Path] = e
}

// Prune forgets every file not in keep and returns how many were dropped.
func (t *Tracker) Prune(keep []string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	wanted := make(map[string]bool, len(keep))
	for _, p := range keep {
		wanted[p] = true
	}
	dropped := 0
	for p := range t.files {
		if !wanted[p] {
			delete(t.files, p)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked files.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files)
}

// Save persists the tracker, entries sorted by path.
func (t *Tracker) Save() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data := state{Version: stateVersion, Files: make([]Entry, 0, len(t.files))}
	for _, e := range t.files {
		data.Files = append(data.Files, e)
	}
	sort.Slice(data.Files, func(i, j int) bool {
		return data.Files[i].Path < data.Files[j].Path
	})

	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	defer f.Close()

	if err := msgpack.NewEncoder(f).Encode(data); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return nil
}
