package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/stalagmite/internal/content"
)

type memTracker struct {
	digests map[string]content.Digest
	checked []string
}

func newMemTracker() *memTracker { return &memTracker{digests: map[string]content.Digest{}} }

func (m *memTracker) CheckAssetChanged(_ context.Context, name string, d content.Digest) (bool, error) {
	m.checked = append(m.checked, name)
	old, ok := m.digests[name]
	m.digests[name] = d
	return !ok || old != d, nil
}

func (m *memTracker) PruneAssets(_ context.Context, live map[string]struct{}) (int, error) {
	n := 0
	for name := range m.digests {
		if _, ok := live[name]; !ok {
			delete(m.digests, name)
			n++
		}
	}
	return n, nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestBustedName(t *testing.T) {
	d := content.Digest(0x0123456789abcdef)
	require.Equal(t, "site.01234567.css", BustedName("site.css", d))
	require.Equal(t, "css/site.01234567.css", BustedName("css/site.css", d))
	require.Equal(t, "LICENSE.01234567", BustedName("LICENSE", d))
	require.Equal(t, "js/app.min.01234567.js", BustedName("js/app.min.js", d))
}

func TestProcessCopiesAndDetectsChanges(t *testing.T) {
	src := filepath.Join(t.TempDir(), "assets")
	writeFile(t, filepath.Join(src, "site.css"), "body{}")
	writeFile(t, filepath.Join(src, "img", "logo.svg"), "<svg/>")
	writeFile(t, filepath.Join(src, ".hidden"), "x")
	tracker := newMemTracker()

	dest := filepath.Join(t.TempDir(), "static")
	res, err := Process(t.Context(), src, dest, tracker, nil)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Len(t, res.Map, 2)
	require.ElementsMatch(t, []string{"img/logo.svg", "site.css"}, tracker.checked)

	busted := res.Map["site.css"]
	got, err := os.ReadFile(filepath.Join(dest, busted))
	require.NoError(t, err)
	require.Equal(t, "body{}", string(got))

	url, ok := res.Map.URL("site.css")
	require.True(t, ok)
	require.Equal(t, "/static/"+busted, url)
	_, ok = res.Map.URL("missing.css")
	require.False(t, ok)

	// unchanged second pass checks every asset and reports no change
	tracker.checked = nil
	res, err = Process(t.Context(), src, filepath.Join(t.TempDir(), "static"), tracker, nil)
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Len(t, tracker.checked, 2)

	writeFile(t, filepath.Join(src, "img", "logo.svg"), "<svg></svg>")
	res, err = Process(t.Context(), src, filepath.Join(t.TempDir(), "static"), tracker, nil)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, busted, res.Map["site.css"])
	require.NotEqual(t, "img/logo.svg", res.Map["img/logo.svg"])
}

func TestProcessDetectsDeletedAsset(t *testing.T) {
	src := filepath.Join(t.TempDir(), "assets")
	writeFile(t, filepath.Join(src, "a.css"), "a")
	writeFile(t, filepath.Join(src, "b.css"), "b")
	tracker := newMemTracker()

	_, err := Process(t.Context(), src, t.TempDir(), tracker, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(src, "b.css")))
	res, err := Process(t.Context(), src, t.TempDir(), tracker, nil)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.NotContains(t, res.Map, "b.css")
}

func TestProcessMissingDirectory(t *testing.T) {
	res, err := Process(t.Context(), filepath.Join(t.TempDir(), "nope"), t.TempDir(), newMemTracker(), nil)
	require.NoError(t, err)
	require.Empty(t, res.Map)
	require.False(t, res.Changed)
}
