package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	require.Equal(t, "pages", cfg.Paths.Content)
	require.Equal(t, "public", cfg.Paths.Output)
	require.Equal(t, ".stalagmite", cfg.Paths.State)
	require.Equal(t, runtime.NumCPU(), cfg.Build.RenderWorkers)
	require.Equal(t, 100, cfg.Build.DefaultPageSize)
	require.Equal(t, "symlink", cfg.Publish.Mode)
	require.True(t, *cfg.Publish.Fsync)
	require.Equal(t, 300*time.Millisecond, cfg.Serve.DebounceDuration())
	require.Zero(t, cfg.Serve.PollDuration())
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Equal(t, ferrors.CategoryConfig, ferrors.GetCategory(err))
}

func TestLoadExpandsEnvironmentFromDotEnv(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("STALAGMITE_TEST_OUT=site\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(`
version: "1"
paths:
  output: ${STALAGMITE_TEST_OUT}
build:
  render_workers: 3
  default_page_size: 20
publish:
  mode: swap
serve:
  poll_interval: 30s
notify:
  nats_url: nats://localhost:4222
`), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("STALAGMITE_TEST_OUT") })

	cfg, err := Load(root, "")
	require.NoError(t, err)
	require.Equal(t, "site", cfg.Paths.Output)
	require.Equal(t, 3, cfg.Build.RenderWorkers)
	require.Equal(t, 20, cfg.Build.DefaultPageSize)
	require.Equal(t, "swap", cfg.Publish.Mode)
	require.Equal(t, 30*time.Second, cfg.Serve.PollDuration())
	require.Equal(t, "stalagmite.site.published", cfg.Notify.Subject)
}

func TestExistingEnvironmentWinsOverDotEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv("STALAGMITE_TEST_MODE", "symlink")
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("STALAGMITE_TEST_MODE=swap\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("publish:\n  mode: ${STALAGMITE_TEST_MODE}\n"), 0o600))

	cfg, err := Load(root, "")
	require.NoError(t, err)
	require.Equal(t, "symlink", cfg.Publish.Mode)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "paths:\n  contnet: x\n",
		"bad version":      "version: \"9\"\n",
		"bad mode":         "publish:\n  mode: rsync\n",
		"bad debounce":     "serve:\n  debounce: soon\n",
		"short poll":       "serve:\n  poll_interval: 10ms\n",
		"negative page":    "build:\n  default_page_size: -1\n",
		"shared directory": "paths:\n  layouts: pages\n",
		"output is root":   "paths:\n  output: .\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestInitWritesLoadableFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	require.NoError(t, Init(path, false))

	err := Init(path, false)
	require.Error(t, err)
	require.Equal(t, ferrors.CategoryExists, ferrors.GetCategory(err))
	require.NoError(t, Init(path, true))

	cfg, err := Load(root, path)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, cfg.Version)
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Paths.Output = "/srv/www"
	p, err := cfg.Resolve(root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "pages"), p.Content)
	require.Equal(t, filepath.Clean("/srv/www"), p.Output)
	require.Equal(t, filepath.Join(root, ".stalagmite", "cache.sqlite"), p.CachePath())
}
