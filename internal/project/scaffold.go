// Package project scaffolds new sites and adds content to existing ones.
package project

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-git/go-git/v5"

	"git.home.luguber.info/inful/stalagmite/internal/config"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/frontmatter"
	"git.home.luguber.info/inful/stalagmite/internal/page"
)

const primaryLayout = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Meta.Title}}</title>
  <link rel="stylesheet" href="{{.Asset "style.css"}}">
</head>
<body>
  <main>
{{.Content}}
  </main>
</body>
</html>
`

const listingLayout = `{{with .Listing}}<h1>{{.Group}}</h1>
<ol>
{{- range .Entries}}
  <li><a href="{{.Link}}">{{.Title}}</a> <time>{{.Timestamp.Format "2006-01-02"}}</time></li>
{{- end}}
</ol>
<nav>
{{- with .PrevLink}} <a rel="prev" href="{{.}}">newer</a>{{end}}
{{- with .NextLink}} <a rel="next" href="{{.}}">older</a>{{end}}
</nav>
{{end}}`

const stylesheet = `body { font-family: system-ui, sans-serif; max-width: 42rem; margin: 2rem auto; padding: 0 1rem; }
`

const gitignore = `/public/
/.stalagmite/
.env.local
`

const indexBody = `
# Welcome

Edit *pages/index.md* and run **stalagmite generate**.
`

// InitOptions controls Init.
type InitOptions struct {
	Git   bool
	Force bool
	Now   time.Time
}

// InitResult lists the files Init wrote and the ones it left alone.
type InitResult struct {
	Created []string
	Skipped []string
	GitRepo bool
}

// Init scaffolds a project in dir with the default layout. Existing files are
// kept unless Force is set.
func Init(dir string, opts InitOptions) (*InitResult, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryIO, "resolve project directory").Fatal().Build()
	}
	cfg := config.Default()
	p, err := cfg.Resolve(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve project paths").Fatal().Build()
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	index, err := pageSource(page.FrontMatter{Title: "Home", Timestamp: opts.Now}, indexBody)
	if err != nil {
		return nil, err
	}
	files := []struct {
		path string
		body []byte
	}{
		{filepath.Join(p.Content, "index.md"), index},
		{filepath.Join(p.Layouts, "primary.tmpl"), []byte(primaryLayout)},
		{filepath.Join(p.Layouts, "listing.tmpl"), []byte(listingLayout)},
		{filepath.Join(p.Assets, "style.css"), []byte(stylesheet)},
	}
	if opts.Git {
		files = append(files, struct {
			path string
			body []byte
		}{filepath.Join(root, ".gitignore"), []byte(gitignore)})
	}

	res := &InitResult{}
	for _, f := range files {
		wrote, err := writeScaffold(f.path, f.body, opts.Force)
		if err != nil {
			return nil, err
		}
		res.record(root, f.path, wrote)
	}

	cfgPath := filepath.Join(root, config.FileName)
	switch err := config.Init(cfgPath, opts.Force); {
	case err == nil:
		res.record(root, cfgPath, true)
	case ferrors.HasCategory(err, ferrors.CategoryExists):
		res.record(root, cfgPath, false)
	default:
		return nil, ferrors.WrapError(err, ferrors.CategoryIO, "write configuration").Fatal().Build()
	}

	if opts.Git {
		_, err := git.PlainInit(root, false)
		switch {
		case err == nil:
			res.GitRepo = true
		case errors.Is(err, git.ErrRepositoryAlreadyExists):
		default:
			return nil, ferrors.WrapError(err, ferrors.CategoryIO, "initialise git repository").
				Fatal().WithContext("dir", root).Build()
		}
	}
	slices.Sort(res.Created)
	slices.Sort(res.Skipped)
	return res, nil
}

func (r *InitResult) record(root, path string, wrote bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	if wrote {
		r.Created = append(r.Created, rel)
	} else {
		r.Skipped = append(r.Skipped, rel)
	}
}

func writeScaffold(path string, body []byte, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return false, ferrors.WrapError(err, ferrors.CategoryIO, "create directory").
			Fatal().WithContext("path", path).Build()
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return false, ferrors.WrapError(err, ferrors.CategoryIO, "write file").
			Fatal().WithContext("path", path).Build()
	}
	return true, nil
}

func pageSource(meta page.FrontMatter, body string) ([]byte, error) {
	header, err := frontmatter.Encode(meta)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "encode frontmatter").Build()
	}
	return append(header, body...), nil
}
