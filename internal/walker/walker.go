// Package walker collects renderable artifacts from the content root,
// resolving the render rules each directory inherits.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/stalagmite/internal/content"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
	"git.home.luguber.info/inful/stalagmite/internal/rules"
)

// SiteNode is one directory's artifacts and the rules they share.
type SiteNode struct {
	// Dir is slash separated and relative to the content root ("" for the root).
	Dir string
	// Group is the directory's route, the listing key of its children.
	Group   string
	Rules   *rules.RenderRules
	Entries []*content.SiteEntry
}

// Result is the outcome of a walk.
type Result struct {
	Nodes []SiteNode
	// RulesFiles lists every rules file read, as absolute paths.
	RulesFiles []string
}

// Entries returns the number of artifacts across all nodes.
func (r *Result) Entries() int {
	n := 0
	for _, node := range r.Nodes {
		n += len(node.Entries)
	}
	return n
}

// Walker traverses a content root.
type Walker struct {
	root            string
	base            *rules.RenderRules
	defaultPageSize int
	logger          *slog.Logger
}

// Option configures a Walker.
type Option func(*Walker)

// WithBaseRules seeds the rule stack with r instead of the default rules.
func WithBaseRules(r *rules.RenderRules) Option { return func(w *Walker) { w.base = r } }

// WithDefaultPageSize sets the page size of listings that omit one.
func WithDefaultPageSize(n int) Option { return func(w *Walker) { w.defaultPageSize = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(w *Walker) { w.logger = l } }

// New creates a walker for root.
func New(root string, opts ...Option) *Walker {
	w := &Walker{root: root, defaultPageSize: rules.DefaultPageSize, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	return w
}

type frame struct {
	rel   string
	stack rules.Stack
}

// Walk performs an explicit-stack depth-first traversal. Each directory gets
// its own copy of the inherited rule stack.
func (w *Walker) Walk(ctx context.Context) (*Result, error) {
	info, err := os.Stat(w.root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "content root unavailable").
			Fatal().WithContext("path", w.root).Build()
	}
	if !info.IsDir() {
		return nil, ferrors.ConfigError("content root is not a directory").WithContext("path", w.root).Build()
	}

	res := &Result{}
	routes := make(map[string]string)
	pending := []frame{{rel: "", stack: rules.NewStack(w.base)}}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fr := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		abs := filepath.Join(w.root, filepath.FromSlash(fr.rel))
		dirents, err := os.ReadDir(abs)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryIO, "read content directory").
				Fatal().WithContext("path", abs).Build()
		}

		stack := fr.stack
		if hasRulesFile(dirents) {
			rulesPath := filepath.Join(abs, rules.FileName)
			r, err := rules.Load(rulesPath, w.defaultPageSize)
			if err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid rules file").
					Fatal().WithContext("path", rulesPath).Build()
			}
			stack = stack.Push(r)
			res.RulesFiles = append(res.RulesFiles, rulesPath)
			w.logger.Debug("Applied rules override", logfields.Path(rulesPath), slog.Int("depth", stack.Depth()))
		}

		var subdirs []string
		var entries []*content.SiteEntry
		for _, d := range dirents {
			name := d.Name()
			if strings.HasPrefix(name, ".") || (name == rules.FileName && !d.IsDir()) {
				continue
			}
			rel := path.Join(fr.rel, name)
			kind, err := classify(abs, d)
			if err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryIO, "stat content entry").
					Fatal().WithContext("path", rel).Build()
			}
			switch kind {
			case direntSkip:
				w.logger.Debug("Skipping symlinked directory", logfields.Path(rel))
				continue
			case direntDir:
				subdirs = append(subdirs, rel)
				continue
			}
			entry, ok, err := content.NewSiteEntry(w.root, rel)
			if err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "cannot derive route").
					Fatal().WithContext("path", rel).Build()
			}
			if !ok {
				continue
			}
			if prev, dup := routes[entry.Route]; dup {
				return nil, ferrors.ValidationError("route collision").
					WithContext("route", entry.Route).
					WithContext("path", rel).
					WithContext("conflicts_with", prev).
					Build()
			}
			routes[entry.Route] = rel
			entries = append(entries, entry)
		}

		if len(entries) > 0 {
			group, err := content.GroupForDir(fr.rel)
			if err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "cannot derive group").
					Fatal().WithContext("path", fr.rel).Build()
			}
			res.Nodes = append(res.Nodes, SiteNode{Dir: fr.rel, Group: group, Rules: stack.Top(), Entries: entries})
		}

		// reverse so the lexically first subdirectory is visited next
		for i := len(subdirs) - 1; i >= 0; i-- {
			pending = append(pending, frame{rel: subdirs[i], stack: stack})
		}
	}
	w.logger.Debug("Walked content root", logfields.Path(w.root),
		slog.Int("nodes", len(res.Nodes)), logfields.Count(res.Entries()))
	return res, nil
}

func hasRulesFile(dirents []fs.DirEntry) bool {
	for _, d := range dirents {
		if d.Name() == rules.FileName && !d.IsDir() {
			return true
		}
	}
	return false
}

type direntKind int

const (
	direntFile direntKind = iota
	direntDir
	direntSkip
)

// classify resolves a directory entry. Symlinked directories are not
// followed, which keeps the walk free of cycles.
func classify(parent string, d fs.DirEntry) (direntKind, error) {
	if d.Type()&fs.ModeSymlink == 0 {
		if d.IsDir() {
			return direntDir, nil
		}
		return direntFile, nil
	}
	info, err := os.Stat(filepath.Join(parent, d.Name()))
	if err != nil {
		return direntFile, fmt.Errorf("follow symlink %s: %w", d.Name(), err)
	}
	if info.IsDir() {
		return direntSkip, nil
	}
	return direntFile, nil
}
