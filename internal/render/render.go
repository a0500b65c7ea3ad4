// Package render turns page data into HTML with html/template.
//
// Layouts live under layouts/ and block templates under blocks/; both are
// addressed by their slash path relative to that directory without the
// .tmpl extension. Built-in block templates cover every standard block kind
// and are overridden by files of the same name in blocks/.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/stalagmite/internal/assets"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/page"
	"git.home.luguber.info/inful/stalagmite/internal/rules"
)

// Ext is the template file extension.
const Ext = ".tmpl"

//go:embed defaults/blocks/*.tmpl
var defaultBlocks embed.FS

// Renderer holds the parsed layout and block template sets. Render may be
// called from many goroutines.
type Renderer struct {
	layouts *template.Template
	blocks  *template.Template
}

// Funcs are the pure helpers available to every template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"firstBlockOfKind": page.FirstOfKind,
		"blockText": func(b *page.Block) string {
			if b == nil {
				return ""
			}
			return b.PlainText()
		},
		"date": func(layout string, t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
	}
}

// Load parses every template under layoutsDir and blocksDir. Either
// directory may be missing.
func Load(layoutsDir, blocksDir string) (*Renderer, error) {
	r := &Renderer{
		layouts: template.New("layouts").Funcs(Funcs()),
		blocks:  template.New("blocks").Funcs(Funcs()).Option("missingkey=zero"),
	}
	defaults, err := fs.Sub(defaultBlocks, "defaults/blocks")
	if err != nil {
		return nil, err
	}
	if err := parseTree(r.blocks, defaults); err != nil {
		return nil, fmt.Errorf("built-in blocks: %w", err)
	}
	for _, set := range []struct {
		tmpl *template.Template
		dir  string
	}{{r.blocks, blocksDir}, {r.layouts, layoutsDir}} {
		if _, err := os.Stat(set.dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := parseTree(set.tmpl, os.DirFS(set.dir)); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid template").
				Fatal().WithContext("path", set.dir).Build()
		}
	}
	return r, nil
}

func parseTree(set *template.Template, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != Ext {
			return nil
		}
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(p, Ext)
		if _, err := set.New(name).Parse(string(raw)); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return nil
	})
}

// HasLayout reports whether a layout named name was loaded.
func (r *Renderer) HasLayout(name string) bool {
	return r.layouts.Lookup(name) != nil
}

// Meta is the page metadata every layout sees.
type Meta struct {
	Title     string
	Timestamp time.Time
}

// View is the data handed to layouts and template pages.
type View struct {
	Meta    Meta
	Content template.HTML
	Listing *page.Listing

	r      *Renderer
	rules  *rules.RenderRules
	assets assets.Map
}

// Asset returns the public URL of a static asset.
func (v *View) Asset(alias string) (string, error) {
	url, ok := v.assets.URL(alias)
	if !ok {
		return "", fmt.Errorf("unknown asset %q", alias)
	}
	return url, nil
}

// Assets returns the alias to busted-name map, for layouts that list assets.
func (v *View) Assets() assets.Map { return v.assets }

// RenderBlocks renders blocks in order.
func (v *View) RenderBlocks(blocks []*page.Block) (template.HTML, error) {
	var sb strings.Builder
	for _, b := range blocks {
		html, err := v.RenderBlock(b)
		if err != nil {
			return "", err
		}
		sb.WriteString(string(html))
	}
	return template.HTML(sb.String()), nil // #nosec G203 -- assembled from escaped block output
}

// RenderBlock renders one block through the template the rules select for
// its kind. A nil block renders as nothing.
func (v *View) RenderBlock(b *page.Block) (template.HTML, error) {
	if b == nil {
		return "", nil
	}
	if b.Kind == "html" {
		return template.HTML(b.PlainText()), nil // #nosec G203 -- raw HTML authored in the page
	}
	var inner strings.Builder
	for _, tok := range b.Tokens {
		if tok.Block == nil {
			inner.WriteString(template.HTMLEscapeString(tok.Literal))
			continue
		}
		html, err := v.RenderBlock(tok.Block)
		if err != nil {
			return "", err
		}
		inner.WriteString(string(html))
	}

	name := v.rules.BlockTemplate(b.Kind)
	if v.r.blocks.Lookup(name) == nil {
		return "", fmt.Errorf("no block template %q for kind %q", name, b.Kind)
	}
	var buf bytes.Buffer
	err := v.r.blocks.ExecuteTemplate(&buf, name, &BlockView{
		Kind:    b.Kind,
		Meta:    b.Meta,
		Content: template.HTML(inner.String()), // #nosec G203 -- children escaped above
		Block:   b,
		view:    v,
	})
	if err != nil {
		return "", fmt.Errorf("block %q: %w", name, err)
	}
	return template.HTML(buf.String()), nil // #nosec G203 -- output of html/template
}

// BlockView is the data handed to block templates.
type BlockView struct {
	Kind    string
	Meta    map[string]string
	Content template.HTML
	Block   *page.Block
	view    *View
}

// Asset returns the public URL of a static asset.
func (b *BlockView) Asset(alias string) (string, error) { return b.view.Asset(alias) }

// Render produces the final HTML of data wrapped in layouts, innermost
// first. Failures are classified render errors.
func (r *Renderer) Render(data page.Data, rr *rules.RenderRules, layouts []string, am assets.Map) (string, error) {
	if rr == nil {
		rr = rules.Default()
	}
	v := &View{r: r, rules: rr, assets: am}

	switch d := data.(type) {
	case page.Markdown:
		v.Meta = Meta{Title: d.FrontMatter.Title, Timestamp: d.FrontMatter.Timestamp}
		html, err := v.RenderBlocks(d.Blocks)
		if err != nil {
			return "", renderError(err, "")
		}
		v.Content = html
	case page.Template:
		t, err := template.New("page").Funcs(Funcs()).Parse(d.Raw)
		if err != nil {
			return "", renderError(err, "")
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, v); err != nil {
			return "", renderError(err, "")
		}
		v.Content = template.HTML(buf.String()) // #nosec G203 -- output of html/template
	case page.RawHTML:
		v.Content = template.HTML(d.Raw) // #nosec G203 -- raw HTML pages are trusted input
	case page.Listing:
		v.Listing = &d
	default:
		return "", ferrors.InternalError(fmt.Sprintf("unsupported page data %T", data)).Build()
	}

	for _, name := range layouts {
		if r.layouts.Lookup(name) == nil {
			return "", ferrors.RenderError("layout not found").WithContext("layout", name).Build()
		}
		var buf bytes.Buffer
		if err := r.layouts.ExecuteTemplate(&buf, name, v); err != nil {
			return "", renderError(err, name)
		}
		v.Content = template.HTML(buf.String()) // #nosec G203 -- output of html/template
	}
	return string(v.Content), nil
}

func renderError(err error, layout string) error {
	b := ferrors.WrapError(err, ferrors.CategoryRender, "render failed")
	if layout != "" {
		b = b.WithContext("layout", layout)
	}
	return b.Build()
}
