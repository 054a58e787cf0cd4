package dirty

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/canary/pkg/instrument"
)

func entry(path, hash string, first, next int) Entry {
	return Entry{
		Path:    path,
		Hash:    hash,
		Options: "canary.h|",
		FirstID: first,
		NextID:  next,
		Probes: []instrument.Probe{
			{ID: "0", File: path, Function: "f", Site: instrument.SiteStatement, Line: 2, Text: "a = 1;"},
		},
	}
}

func TestHashFile(t *testing.T) {
	tmpDir := t.TempDir()
	a := filepath.Join(tmpDir, "a.c")
	b := filepath.Join(tmpDir, "b.c")
	require.NoError(t, os.WriteFile(a, []byte("int x;"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("int y;"), 0644))

	ha, err := HashFile(a)
	require.NoError(t, err)
	hb, err := HashFile(b)
	require.NoError(t, err)
	assert.Len(t, ha, 64)
	assert.NotEqual(t, ha, hb)

	direct, err := Hash(strings.NewReader("int x;"))
	require.NoError(t, err)
	assert.Equal(t, ha, direct)

	_, err = HashFile(filepath.Join(tmpDir, "missing.c"))
	assert.Error(t, err)
}

func TestTrackerClean(t *testing.T) {
	tracker := New(filepath.Join(t.TempDir(), DefaultStateFile))
	tracker.Update(entry("src/a.c", "h1", 0, 4))

	tests := []struct {
		name    string
		path    string
		hash    string
		options string
		first   int
		clean   bool
	}{
		{"unchanged", "src/a.c", "h1", "canary.h|", 0, true},
		{"content changed", "src/a.c", "h2", "canary.h|", 0, false},
		{"options changed", "src/a.c", "h1", "probes.h|", 0, false},
		{"ids shifted", "src/a.c", "h1", "canary.h|", 3, false},
		{"untracked", "src/b.c", "h1", "canary.h|", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, ok := tracker.Clean(tc.path, tc.hash, tc.options, tc.first)
			assert.Equal(t, tc.clean, ok)
			if tc.clean {
				assert.Equal(t, 4, e.NextID)
				assert.Len(t, e.Probes, 1)
			}
		})
	}
}

func TestTrackerPrune(t *testing.T) {
	tracker := New(filepath.Join(t.TempDir(), DefaultStateFile))
	tracker.Update(entry("a.c", "h", 0, 1))
	tracker.Update(entry("b.c", "h", 1, 2))
	tracker.Update(entry("c.c", "h", 2, 3))

	assert.Equal(t, 2, tracker.Prune([]string{"b.c"}))
	assert.Equal(t, 1, tracker.Len())
	_, ok := tracker.Clean("b.c", "h", "canary.h|", 1)
	assert.True(t, ok)
}

func TestTrackerSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", DefaultStateFile)
	tracker := New(path)
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := entry("a.c", "h1", 5, 9)
	e.UpdatedAt = updated
	tracker.Update(e)
	tracker.Update(entry("b.c", "h2", 9, 12))
	require.NoError(t, tracker.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())

	got, ok := loaded.Clean("a.c", "h1", "canary.h|", 5)
	require.True(t, ok)
	assert.Equal(t, 9, got.NextID)
	assert.True(t, updated.Equal(got.UpdatedAt))
	assert.Equal(t, e.Probes, got.Probes)

	other, ok := loaded.Clean("b.c", "h2", "canary.h|", 9)
	require.True(t, ok)
	assert.False(t, other.UpdatedAt.IsZero())
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	tracker, err := Load(filepath.Join(dir, "absent.msgpack"))
	require.NoError(t, err)
	assert.Equal(t, 0, tracker.Len())

	corrupt := filepath.Join(dir, "corrupt.msgpack")
	require.NoError(t, os.WriteFile(corrupt, []byte{0xc1}, 0644))
	_, err = Load(corrupt)
	assert.Error(t, err)
}
