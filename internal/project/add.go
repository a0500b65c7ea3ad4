package project

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"git.home.luguber.info/inful/stalagmite/internal/config"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/page"
	"git.home.luguber.info/inful/stalagmite/internal/rules"
)

// PageOptions controls AddPage.
type PageOptions struct {
	Title string
	Slug  string
	Now   time.Time
}

// AddPage creates a markdown page at rel, relative to the content root.
// A missing .md extension is added. Existing files are never overwritten.
func AddPage(p config.Project, rel string, opts PageOptions) (string, error) {
	target, err := contentPath(p, rel)
	if err != nil {
		return "", err
	}
	if filepath.Ext(target) != ".md" {
		target += ".md"
	}
	if _, err := os.Stat(target); err == nil {
		return "", ferrors.NewError(ferrors.CategoryExists, "page already exists").
			Fatal().WithContext("path", target).Build()
	}
	if opts.Title == "" {
		opts.Title = titleFromName(target)
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	src, err := pageSource(page.FrontMatter{
		Title:     opts.Title,
		Timestamp: opts.Now.Truncate(time.Second),
		Slug:      opts.Slug,
	}, "\n")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryIO, "create directory").Fatal().Build()
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", ferrors.NewError(ferrors.CategoryExists, "page already exists").
				Fatal().WithContext("path", target).Build()
		}
		return "", ferrors.WrapError(err, ferrors.CategoryIO, "create page").Fatal().Build()
	}
	_, werr := f.Write(src)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", ferrors.WrapError(werr, ferrors.CategoryIO, "write page").Fatal().Build()
	}
	return target, nil
}

// RulesOptions controls AddRules. A zero ListingPageSize leaves listings off.
type RulesOptions struct {
	Layouts         []string
	ListingLayouts  []string
	ListingPageSize int
	Force           bool
}

// AddRules writes a rules.yaml into dir, relative to the content root.
func AddRules(p config.Project, dir string, opts RulesOptions) (string, error) {
	base, err := contentPath(p, dir)
	if err != nil {
		return "", err
	}
	if len(opts.Layouts) == 0 {
		return "", ferrors.ValidationError("at least one layout is required").Build()
	}
	if opts.ListingPageSize < 0 {
		return "", ferrors.ValidationError("listing page size must not be negative").Build()
	}
	r := &rules.RenderRules{Layouts: opts.Layouts}
	if opts.ListingPageSize > 0 {
		layouts := opts.ListingLayouts
		if len(layouts) == 0 {
			layouts = []string{"listing", opts.Layouts[len(opts.Layouts)-1]}
		}
		r.Listing = &rules.ListingRules{Layouts: layouts, PageSize: opts.ListingPageSize}
	}
	data, err := rules.Marshal(r)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryInternal, "encode rules").Build()
	}

	target := filepath.Join(base, rules.FileName)
	wrote, err := writeScaffold(target, data, opts.Force)
	if err != nil {
		return "", err
	}
	if !wrote {
		return "", ferrors.NewError(ferrors.CategoryExists, "rules file already exists").
			Fatal().WithContext("path", target).Build()
	}
	return target, nil
}

// contentPath resolves rel below the content root and rejects escapes.
func contentPath(p config.Project, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ferrors.ValidationError("path must be relative to the content directory").
			WithContext("path", rel).Build()
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ferrors.ValidationError("path escapes the content directory").
			WithContext("path", rel).Build()
	}
	return filepath.Join(p.Content, clean), nil
}

// titleFromName turns "my-first_post.md" into "My first post".
func titleFromName(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.Join(strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' }), " ")
	if name == "" {
		return "Untitled"
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
