// Package publish stages build output and promotes it to the live output
// path in one step, so readers see either the previous site or the new one.
package publish

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
)

// Mode selects the promotion strategy.
type Mode string

const (
	// ModeSymlink renames staging into generations/<run> and flips the
	// output symlink with a single rename.
	ModeSymlink Mode = "symlink"
	// ModeSwap moves the old output aside, renames staging into place and
	// removes the backup.
	ModeSwap Mode = "swap"
)

const (
	stagePrefix    = "stage-"
	generationsDir = "generations"
)

// Publisher owns the staging directories and the live output path.
type Publisher struct {
	output   string
	stateDir string
	mode     Mode
	fsync    bool
	logger   *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithFsync controls whether staged files are synced before promotion.
func WithFsync(on bool) Option { return func(p *Publisher) { p.fsync = on } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Publisher) { p.logger = l } }

// New returns a Publisher promoting into output and keeping its working
// directories under stateDir. Both must be on the same filesystem.
func New(output, stateDir string, mode Mode, opts ...Option) (*Publisher, error) {
	switch mode {
	case "":
		mode = ModeSymlink
	case ModeSymlink, ModeSwap:
	default:
		return nil, ferrors.ConfigError(fmt.Sprintf("unknown publish mode %q", mode)).Build()
	}
	absOut, err := filepath.Abs(output)
	if err != nil {
		return nil, err
	}
	absState, err := filepath.Abs(stateDir)
	if err != nil {
		return nil, err
	}
	p := &Publisher{output: absOut, stateDir: absState, mode: mode, fsync: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Output returns the live output path. Reads through it see the last
// published generation.
func (p *Publisher) Output() string { return p.output }

// Mode returns the promotion strategy.
func (p *Publisher) Mode() Mode { return p.mode }

// Staging is an in-progress output tree.
type Staging struct {
	Dir   string
	RunID string
}

// Begin creates a fresh staging directory for runID. Staging directories
// left behind by interrupted runs are removed first.
func (p *Publisher) Begin(runID string) (*Staging, error) {
	p.removeStale()
	dir := filepath.Join(p.stateDir, stagePrefix+runID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryIO, "create staging directory").
			Fatal().WithContext("path", dir).Build()
	}
	p.logger.Debug("Initialized staging directory", logfields.Path(dir), logfields.Output(p.output))
	return &Staging{Dir: dir, RunID: runID}, nil
}

func (p *Publisher) removeStale() {
	entries, err := os.ReadDir(p.stateDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), stagePrefix) {
			continue
		}
		dir := filepath.Join(p.stateDir, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Warn("Failed to remove stale staging directory", logfields.Path(dir), logfields.Error(err))
		}
	}
}

// Abort discards s. It is safe to call after Publish.
func (p *Publisher) Abort(s *Staging) {
	if s == nil || s.Dir == "" {
		return
	}
	dir := s.Dir
	s.Dir = ""
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("Failed to remove staging directory after abort", logfields.Path(dir), logfields.Error(err))
		return
	}
	p.logger.Debug("Removed staging directory after abort", logfields.Path(dir))
}

// Publish promotes s to the live output. If anything fails before the
// final rename, the previous output is left untouched.
func (p *Publisher) Publish(s *Staging) error {
	if s == nil || s.Dir == "" {
		return ferrors.PublishError("no staging directory initialized").Build()
	}
	if _, err := os.Stat(s.Dir); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPublish, "staging directory missing").
			Fatal().WithContext("path", s.Dir).Build()
	}
	if p.fsync {
		if err := syncTree(s.Dir); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryPublish, "sync staging directory").
				Fatal().WithContext("path", s.Dir).Build()
		}
	}
	var err error
	switch p.mode {
	case ModeSwap:
		err = p.swap(s)
	default:
		err = p.flip(s)
	}
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPublish, "promote staging").
			Fatal().WithContext("path", p.output).Build()
	}
	s.Dir = ""
	p.logger.Info("Published output", logfields.Output(p.output), logfields.RunID(s.RunID))
	return nil
}

// flip moves staging into generations/<run> and atomically repoints the
// output symlink at it.
func (p *Publisher) flip(s *Staging) error {
	gens := filepath.Join(p.stateDir, generationsDir)
	if err := os.MkdirAll(gens, 0o750); err != nil {
		return err
	}
	gen := filepath.Join(gens, s.RunID)
	if err := os.Rename(s.Dir, gen); err != nil {
		return fmt.Errorf("move staging to generation: %w", err)
	}

	previous, err := p.migrateOutput(gens)
	if err != nil {
		return err
	}

	target, err := filepath.Rel(filepath.Dir(p.output), gen)
	if err != nil {
		target = gen
	}
	tmp := p.output + ".tmp-" + s.RunID
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create output link: %w", err)
	}
	if err := os.Rename(tmp, p.output); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace output link: %w", err)
	}

	p.pruneGenerations(gens, gen, previous)
	return nil
}

// migrateOutput returns the generation the output link currently points at.
// A real directory in place of the link is moved into gens first.
func (p *Publisher) migrateOutput(gens string) (string, error) {
	info, err := os.Lstat(p.output)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", err
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(p.output)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(p.output), target)
		}
		return filepath.Clean(target), nil
	case info.IsDir():
		legacy := filepath.Join(gens, "legacy")
		_ = os.RemoveAll(legacy)
		if err := os.Rename(p.output, legacy); err != nil {
			return "", fmt.Errorf("migrate output directory: %w", err)
		}
		p.logger.Info("Moved existing output directory into generations", logfields.Path(legacy))
		return legacy, nil
	default:
		return "", fmt.Errorf("output path %s is neither a directory nor a symlink", p.output)
	}
}

// pruneGenerations keeps the current and the previous generation; readers
// that resolved the old link may still be serving from it.
func (p *Publisher) pruneGenerations(gens, current, previous string) {
	entries, err := os.ReadDir(gens)
	if err != nil {
		return
	}
	for _, e := range entries {
		dir := filepath.Join(gens, e.Name())
		if dir == current || dir == previous {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Warn("Failed to remove old generation", logfields.Path(dir), logfields.Error(err))
		}
	}
}

// swap moves the current output to <output>.prev, renames staging into
// place and removes the backup.
func (p *Publisher) swap(s *Staging) error {
	prev := p.output + ".prev"
	if err := os.RemoveAll(prev); err != nil {
		return fmt.Errorf("remove previous backup: %w", err)
	}
	if _, err := os.Lstat(p.output); err == nil {
		if err := os.Rename(p.output, prev); err != nil {
			return fmt.Errorf("backup existing output: %w", err)
		}
	}
	if err := os.Rename(s.Dir, p.output); err != nil {
		// put the old output back so the site stays up
		if _, statErr := os.Lstat(prev); statErr == nil {
			_ = os.Rename(prev, p.output)
		}
		return fmt.Errorf("promote staging: %w", err)
	}
	if err := os.RemoveAll(prev); err != nil {
		p.logger.Warn("Failed to remove previous backup", logfields.Path(prev), logfields.Error(err))
	}
	return nil
}

// Clean removes staging directories, generations and an output symlink
// pointing into them. A real output directory is left alone.
func (p *Publisher) Clean() error {
	if info, err := os.Lstat(p.output); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(p.output); err != nil {
			return err
		}
	}
	p.removeStale()
	return os.RemoveAll(filepath.Join(p.stateDir, generationsDir))
}

// WriteFile writes data to rel below root, creating parent directories.
func WriteFile(root, rel string, data []byte) error {
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644) // #nosec G306 -- site output is world readable
}

// CopyFile copies rel from the src tree into the dst tree.
func CopyFile(src, dst, rel string) error {
	// #nosec G304 -- rel is a derived output path inside the live tree
	data, err := os.ReadFile(filepath.Join(src, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	return WriteFile(dst, rel, data)
}

func syncTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() && !d.IsDir() {
			return nil
		}
		f, err := os.Open(path) // #nosec G304 -- walking our own staging tree
		if err != nil {
			return err
		}
		syncErr := f.Sync()
		closeErr := f.Close()
		if syncErr != nil {
			return syncErr
		}
		return closeErr
	})
}
