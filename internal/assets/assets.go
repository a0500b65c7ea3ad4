// Package assets copies static files into the staging tree under
// cache-busting names and reports whether any of them changed.
package assets

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/stalagmite/internal/content"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
)

// URLPrefix is where busted assets are served from.
const URLPrefix = "/static/"

// Map resolves an asset alias (slash path relative to the assets root) to its
// busted name.
type Map map[string]string

// URL returns the public URL of alias.
func (m Map) URL(alias string) (string, bool) {
	busted, ok := m[alias]
	if !ok {
		return "", false
	}
	return URLPrefix + busted, true
}

// Asset is one processed static file.
type Asset struct {
	Alias  string
	Busted string
	Digest content.Digest
}

// Tracker remembers asset digests between runs.
type Tracker interface {
	CheckAssetChanged(ctx context.Context, name string, digest content.Digest) (bool, error)
	PruneAssets(ctx context.Context, live map[string]struct{}) (int, error)
}

// Result is the outcome of Process.
type Result struct {
	Map     Map
	Assets  []Asset
	Changed bool
}

// BustedName inserts the first eight hex digits of digest before the
// extension of alias: css/site.css becomes css/site.0123abcd.css.
func BustedName(alias string, digest content.Digest) string {
	dir, file := path.Split(alias)
	hash := digest.String()[:8]
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	if stem == "" {
		// dotfile-like names such as ".env" have no stem
		return dir + file + "." + hash
	}
	return dir + stem + "." + hash + ext
}

// Process copies every file under srcDir into destDir using busted names
// and checks each against tracker. Every asset is checked so the tracker
// stays current even after the first change is seen. A missing srcDir
// yields an empty map.
func Process(ctx context.Context, srcDir, destDir string, tracker Tracker, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := &Result{Map: Map{}}
	live := map[string]struct{}{}

	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == srcDir {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != srcDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		alias := filepath.ToSlash(rel)
		// #nosec G304 -- p comes from walking the project's assets directory
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		digest := content.DigestBytes(data)
		busted := BustedName(alias, digest)

		out := filepath.Join(destDir, filepath.FromSlash(busted))
		if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}

		changed, err := tracker.CheckAssetChanged(ctx, alias, digest)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryCache, "asset tracking failed").
				Fatal().WithContext("asset", alias).Build()
		}
		if changed {
			logger.Debug("Asset changed", logfields.Asset(alias), logfields.Digest(digest.String()))
			res.Changed = true
		}
		res.Map[alias] = busted
		res.Assets = append(res.Assets, Asset{Alias: alias, Busted: busted, Digest: digest})
		live[alias] = struct{}{}
		return nil
	})
	if err != nil {
		if _, ok := ferrors.AsClassified(err); ok {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ferrors.WrapError(ctx.Err(), ferrors.CategoryCanceled, "asset processing canceled").Fatal().Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryIO, "copy assets").Fatal().WithContext("path", srcDir).Build()
	}

	removed, err := tracker.PruneAssets(ctx, live)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryCache, "asset tracking failed").Fatal().Build()
	}
	if removed > 0 {
		logger.Debug("Assets removed", logfields.Count(removed))
		res.Changed = true
	}
	return res, nil
}
