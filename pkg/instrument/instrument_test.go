package instrument

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/l3aro/canary/pkg/cfa"
	"github.com/l3aro/canary/pkg/syntax"
	"github.com/l3aro/canary/pkg/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ifSource = `int f(int a) {
  a = 1;
  if (a == 1) {
    a = 2;
  }
  return a;
}
`

func TestFileIf(t *testing.T) {
	res, err := File(context.Background(), []byte(ifSource), Options{})
	require.NoError(t, err)

	assert.Equal(t, `#include "canary.h"
#line 1
int f(int a) {
  CANARY_TWEET_LOCATION(0); a = 1;
  if (CANARY_TWEET_LOCATION(1), a == 1) {
    CANARY_TWEET_LOCATION(2); a = 2;
  }
  CANARY_TWEET_LOCATION(3); return a;
}
`, string(res.Source))

	require.Len(t, res.Probes, 4)
	assert.Equal(t, 4, res.NextID)

	want := []struct {
		site Site
		line int
	}{
		{SiteStatement, 2},
		{SiteCondition, 3},
		{SiteStatement, 4},
		{SiteStatement, 6},
	}
	for i, w := range want {
		assert.Equal(t, w.site, res.Probes[i].Site, "probe %d", i)
		assert.Equal(t, w.line, res.Probes[i].Line, "probe %d", i)
		assert.Equal(t, "f", res.Probes[i].Function)
	}
}

func TestFileWrapsUnbracedBody(t *testing.T) {
	src := "void g(int x) {\n  while (x > 0)\n    x--;\n}\n"

	res, err := File(context.Background(), []byte(src), Options{HeaderName: "probes.h"})
	require.NoError(t, err)

	assert.Equal(t, `#include "probes.h"
#line 1
void g(int x) {
  while (CANARY_TWEET_LOCATION(0), x > 0)
    { CANARY_TWEET_LOCATION(1); x--; }
}
`, string(res.Source))
}

func TestFileSwitch(t *testing.T) {
	src := `void s(int x) {
  switch (x) {
  case 1:
    a();
    break;
  default:
    b();
  }
}
`
	res, err := File(context.Background(), []byte(src), Options{})
	require.NoError(t, err)

	assert.Contains(t, string(res.Source), "  CANARY_TWEET_LOCATION(0); switch (x) {\n")
	assert.Contains(t, string(res.Source), "  case 1: CANARY_TWEET_LOCATION(1);\n    a();\n    break;\n")
	assert.Contains(t, string(res.Source), "  default: CANARY_TWEET_LOCATION(2);\n    b();\n")
	assert.Len(t, res.Probes, 3)
}

func TestFileEndlessFor(t *testing.T) {
	src := "void h(void) {\n  for (;;) {\n    if (done()) break;\n  }\n}\n"

	res, err := File(context.Background(), []byte(src), Options{})
	require.NoError(t, err)

	assert.Contains(t, string(res.Source), "for (;CANARY_TWEET_LOCATION(0), 1;) {")
	assert.Contains(t, string(res.Source), "if (CANARY_TWEET_LOCATION(1), done()) { CANARY_TWEET_LOCATION(2); break; }")
	assert.Equal(t, SiteHeader, res.Probes[0].Site)
}

func TestFileTwiceIsStable(t *testing.T) {
	src := `int k(int n) {
  int s = 0;
  for (int i = 0; i < n; i++) {
    if (i % 2) continue;
    switch (i) { case 0: s++; break; default: s--; }
  }
  do s--; while (s > 10);
  for (;;) { if (s) break; }
  return s;
}
`
	first, err := File(context.Background(), []byte(src), Options{})
	require.NoError(t, err)
	require.NotEmpty(t, first.Probes)

	second, err := File(context.Background(), first.Source, Options{})
	require.NoError(t, err)

	assert.Empty(t, second.Probes)
	assert.Equal(t, string(first.Source), string(second.Source))
}

func TestFileFunctionsAndFirstID(t *testing.T) {
	src := "void a(void) { x(); }\nvoid b(void) { y(); }\n"

	res, err := File(context.Background(), []byte(src), Options{Functions: []string{"b"}, FirstID: 10})
	require.NoError(t, err)

	require.Len(t, res.Probes, 1)
	assert.Equal(t, "10", res.Probes[0].ID)
	assert.Equal(t, "b", res.Probes[0].Function)
	assert.Equal(t, 11, res.NextID)
	assert.Contains(t, string(res.Source), "void a(void) { x(); }")
	assert.Contains(t, string(res.Source), "void b(void) { CANARY_TWEET_LOCATION(10); y(); }")
}

func TestFileWithoutFunctions(t *testing.T) {
	src := "int global = 1;\n"

	res, err := File(context.Background(), []byte(src), Options{})
	require.NoError(t, err)

	assert.Equal(t, src, string(res.Source))
	assert.Empty(t, res.Probes)
}

func TestFileStructuralError(t *testing.T) {
	_, err := File(context.Background(), []byte("void f(void) { break; }"), Options{})
	require.Error(t, err)

	var serr *cfa.StructuralError
	assert.True(t, errors.As(err, &serr))
	assert.Contains(t, err.Error(), "function f")
}

func TestInstrumentedSourceReplays(t *testing.T) {
	res, err := File(context.Background(), []byte(ifSource), Options{})
	require.NoError(t, err)

	tree, err := syntax.Parse(context.Background(), res.Source)
	require.NoError(t, err)
	defer tree.Close()

	g, err := cfa.BuildFunction(tree, "f")
	require.NoError(t, err)
	d := cfa.Localise(g)

	path, err := cfa.FollowPath(d, "", trace.Of("0", "1", "2", "3"))
	require.NoError(t, err)
	require.Len(t, path, 7)
	assert.Equal(t, "return a;", g.Node(path[6]).Text())

	path, err = cfa.FollowPath(d, "", trace.Of("0", "1", "3"))
	require.NoError(t, err)
	assert.Len(t, path, 5)
}

func TestFileAtAndHeader(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "f.c")
	require.NoError(t, os.WriteFile(in, []byte(ifSource), 0644))

	out := filepath.Join(dir, "out", "f.c")
	res, err := FileAt(context.Background(), in, out, Options{})
	require.NoError(t, err)
	assert.Equal(t, in, res.Probes[0].File)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, res.Source, written)

	path, err := WriteHeader(filepath.Join(dir, "out"), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", DefaultHeaderName), path)

	h, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Header(), h)
	assert.Contains(t, string(h), "#define CANARY_TWEET_LOCATION(id)")
	assert.Contains(t, string(h), `"Location"`)

	_, err = FileAt(context.Background(), filepath.Join(dir, "missing.c"), out, Options{})
	assert.Error(t, err)
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", ManifestFileName)

	res, err := File(context.Background(), []byte(ifSource), Options{})
	require.NoError(t, err)
	require.NoError(t, WriteManifest(path, res.Probes))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, res.Probes, got)

	require.NoError(t, WriteManifest(path, nil))
	got, err = ReadManifest(path)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = ReadManifest(path)
	assert.Error(t, err)
}
