package publish

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
)

func readOutput(t *testing.T, p *Publisher, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(p.Output(), rel))
	require.NoError(t, err)
	return string(b)
}

func stageSite(t *testing.T, p *Publisher, runID, body string) *Staging {
	t.Helper()
	s, err := p.Begin(runID)
	require.NoError(t, err)
	require.NoError(t, WriteFile(s.Dir, "index.html", []byte(body)))
	require.NoError(t, WriteFile(s.Dir, "blog/hello/index.html", []byte(body+" hello")))
	return s
}

func TestSymlinkPublishFlipsGenerations(t *testing.T) {
	root := t.TempDir()
	p, err := New(filepath.Join(root, "public"), filepath.Join(root, ".state"), ModeSymlink, WithFsync(true))
	require.NoError(t, err)

	s1 := stageSite(t, p, "run-1", "v1")
	require.NoError(t, p.Publish(s1))
	require.Equal(t, "v1", readOutput(t, p, "index.html"))

	info, err := os.Lstat(p.Output())
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink)

	s2 := stageSite(t, p, "run-2", "v2")
	require.NoError(t, p.Publish(s2))
	require.Equal(t, "v2 hello", readOutput(t, p, "blog/hello/index.html"))

	s3 := stageSite(t, p, "run-3", "v3")
	require.NoError(t, p.Publish(s3))

	gens, err := os.ReadDir(filepath.Join(root, ".state", generationsDir))
	require.NoError(t, err)
	var names []string
	for _, g := range gens {
		names = append(names, g.Name())
	}
	require.ElementsMatch(t, []string{"run-2", "run-3"}, names)
}

func TestSymlinkPublishMigratesRealDirectory(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "public")
	require.NoError(t, WriteFile(out, "index.html", []byte("legacy")))

	p, err := New(out, filepath.Join(root, ".state"), ModeSymlink, WithFsync(false))
	require.NoError(t, err)
	require.NoError(t, p.Publish(stageSite(t, p, "run-1", "new")))
	require.Equal(t, "new", readOutput(t, p, "index.html"))

	legacy, err := os.ReadFile(filepath.Join(root, ".state", generationsDir, "legacy", "index.html"))
	require.NoError(t, err)
	require.Equal(t, "legacy", string(legacy))
}

func TestSwapPublish(t *testing.T) {
	root := t.TempDir()
	p, err := New(filepath.Join(root, "public"), filepath.Join(root, ".state"), ModeSwap, WithFsync(false))
	require.NoError(t, err)

	require.NoError(t, p.Publish(stageSite(t, p, "a", "one")))
	require.NoError(t, p.Publish(stageSite(t, p, "b", "two")))
	require.Equal(t, "two", readOutput(t, p, "index.html"))

	info, err := os.Lstat(p.Output())
	require.NoError(t, err)
	require.True(t, info.IsDir())
	_, err = os.Stat(p.Output() + ".prev")
	require.True(t, os.IsNotExist(err))
}

func TestAbortKeepsPreviousOutput(t *testing.T) {
	root := t.TempDir()
	p, err := New(filepath.Join(root, "public"), filepath.Join(root, ".state"), ModeSymlink, WithFsync(false))
	require.NoError(t, err)
	require.NoError(t, p.Publish(stageSite(t, p, "good", "good")))

	s := stageSite(t, p, "bad", "bad")
	p.Abort(s)
	p.Abort(s)
	require.Empty(t, s.Dir)
	require.Equal(t, "good", readOutput(t, p, "index.html"))

	err = p.Publish(s)
	require.Error(t, err)
	require.Equal(t, ferrors.CategoryPublish, ferrors.GetCategory(err))
}

func TestBeginRemovesStaleStaging(t *testing.T) {
	root := t.TempDir()
	state := filepath.Join(root, ".state")
	p, err := New(filepath.Join(root, "public"), state, ModeSymlink)
	require.NoError(t, err)

	stale, err := p.Begin("crashed")
	require.NoError(t, err)
	_, err = p.Begin("next")
	require.NoError(t, err)
	_, err = os.Stat(stale.Dir)
	require.True(t, os.IsNotExist(err))
}

func TestClean(t *testing.T) {
	root := t.TempDir()
	p, err := New(filepath.Join(root, "public"), filepath.Join(root, ".state"), ModeSymlink, WithFsync(false))
	require.NoError(t, err)
	require.NoError(t, p.Publish(stageSite(t, p, "r", "x")))

	require.NoError(t, p.Clean())
	_, err = os.Lstat(p.Output())
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, ".state", generationsDir))
	require.True(t, os.IsNotExist(err))
}

func TestUnknownMode(t *testing.T) {
	_, err := New("out", "state", Mode("rsync"))
	require.Error(t, err)
	require.Equal(t, ferrors.CategoryConfig, ferrors.GetCategory(err))
}

func TestCopyFile(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	require.NoError(t, WriteFile(src, "a/b/index.html", []byte("x")))
	require.NoError(t, CopyFile(src, dst, "a/b/index.html"))
	b, err := os.ReadFile(filepath.Join(dst, "a", "b", "index.html"))
	require.NoError(t, err)
	require.Equal(t, "x", string(b))
	require.Error(t, CopyFile(src, dst, "missing/index.html"))
}
