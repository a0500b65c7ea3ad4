package content

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Kind classifies a renderable source file.
type Kind string

const (
	KindMarkdown Kind = "markdown"
	KindTemplate Kind = "template"
	KindHTML     Kind = "html"
)

// KindForExt maps a file extension (with dot) to a Kind.
func KindForExt(ext string) (Kind, bool) {
	switch strings.ToLower(ext) {
	case ".md":
		return KindMarkdown, true
	case ".tmpl":
		return KindTemplate, true
	case ".html":
		return KindHTML, true
	default:
		return "", false
	}
}

// SiteEntry is a renderable artifact and the location it renders to.
type SiteEntry struct {
	File *ContentFile
	Kind Kind
	// Route is the canonical URL path, always with leading and trailing slash.
	Route string
	// OutPath is slash separated and relative to the output root.
	OutPath string
}

// NewSiteEntry classifies rel (relative to root). ok is false for
// unrecognised extensions.
func NewSiteEntry(root, rel string) (entry *SiteEntry, ok bool, err error) {
	kind, ok := KindForExt(path.Ext(rel))
	if !ok {
		return nil, false, nil
	}
	route, out, err := DeriveRoute(rel)
	if err != nil {
		return nil, true, err
	}
	return &SiteEntry{
		File:    NewContentFile(root, rel),
		Kind:    kind,
		Route:   route,
		OutPath: out,
	}, true, nil
}

// DeriveRoute maps a slash-separated path relative to the content root to its
// route and output path: blog/hello.md is /blog/hello/ at
// blog/hello/index.html, blog/index.md is /blog/ at blog/index.html.
func DeriveRoute(rel string) (route, outPath string, err error) {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	stem := strings.TrimSuffix(rel, path.Ext(rel))
	if stem == "" {
		return "", "", fmt.Errorf("derive route for %q: empty path", rel)
	}
	segs := strings.Split(stem, "/")
	slugs := make([]string, 0, len(segs))
	for _, seg := range segs {
		s := Slugify(seg)
		if s == "" {
			return "", "", fmt.Errorf("derive route for %q: segment %q has no routable characters", rel, seg)
		}
		slugs = append(slugs, s)
	}
	if slugs[len(slugs)-1] == "index" {
		slugs = slugs[:len(slugs)-1]
	}
	return joinRoute(slugs), OutPathForRoute(joinRoute(slugs)), nil
}

// GroupForDir returns the route of a directory relative to the content root,
// which is the listing group key of its children.
func GroupForDir(relDir string) (string, error) {
	relDir = strings.Trim(path.Clean("/"+relDir), "/")
	if relDir == "" {
		return "/", nil
	}
	segs := strings.Split(relDir, "/")
	slugs := make([]string, 0, len(segs))
	for _, seg := range segs {
		s := Slugify(seg)
		if s == "" {
			return "", fmt.Errorf("group for %q: segment %q has no routable characters", relDir, seg)
		}
		slugs = append(slugs, s)
	}
	return joinRoute(slugs), nil
}

// ParentGroup returns the route with its last segment removed. The root
// route has no parent and yields "".
func ParentGroup(route string) string {
	segs := splitRoute(route)
	if len(segs) == 0 {
		return ""
	}
	return joinRoute(segs[:len(segs)-1])
}

// PageRoute is the route of listing page i of group.
func PageRoute(group string, i int) string {
	return joinRoute(append(splitRoute(group), strconv.Itoa(i)))
}

// OutPathForRoute maps a route to the index.html file that serves it.
func OutPathForRoute(route string) string {
	segs := splitRoute(route)
	if len(segs) == 0 {
		return "index.html"
	}
	return strings.Join(segs, "/") + "/index.html"
}

func splitRoute(route string) []string {
	var segs []string
	for _, s := range strings.Split(route, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func joinRoute(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/") + "/"
}
