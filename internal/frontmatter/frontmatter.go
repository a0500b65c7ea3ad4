// Package frontmatter splits and decodes the YAML header of markdown pages.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/stalagmite/internal/content"
	"git.home.luguber.info/inful/stalagmite/internal/page"
	"gopkg.in/yaml.v3"
)

// ErrMissingClosingDelimiter indicates the document started with a YAML
// frontmatter delimiter but did not contain a closing delimiter.
var ErrMissingClosingDelimiter = errors.New("yaml frontmatter start delimiter found but closing delimiter is missing")

// ErrMissingFrontmatter indicates a markdown page without a `---` header.
var ErrMissingFrontmatter = errors.New("markdown page has no frontmatter")

// Split separates YAML frontmatter (`---` delimited) from the body. If the
// document does not start with a delimiter, had is false and body is the full
// input. LF and CRLF line endings are both accepted.
func Split(src []byte) (fm, body []byte, had bool, err error) {
	nl := newline(src)
	open := []byte("---" + nl)
	if !bytes.HasPrefix(src, open) {
		return nil, src, false, nil
	}
	rest := src[len(open):]
	if bytes.HasPrefix(rest, open) {
		return []byte{}, rest[len(open):], true, nil
	}

	closeSeq := []byte(nl + "---")
	idx := bytes.Index(rest, closeSeq)
	for idx >= 0 {
		after := rest[idx+len(closeSeq):]
		switch {
		case len(after) == 0:
			return rest[:idx+len(nl)], []byte{}, true, nil
		case bytes.HasPrefix(after, []byte(nl)):
			return rest[:idx+len(nl)], after[len(nl):], true, nil
		}
		// "---" followed by more text on the same line is content, keep looking
		next := bytes.Index(after, closeSeq)
		if next < 0 {
			break
		}
		idx += len(closeSeq) + next
	}
	return nil, nil, false, ErrMissingClosingDelimiter
}

// Decode parses the header into page.FrontMatter. title and timestamp
// (RFC3339) are required; slug defaults to the slugified title.
func Decode(fm []byte) (page.FrontMatter, error) {
	var raw struct {
		Title     string    `yaml:"title"`
		Timestamp yaml.Node `yaml:"timestamp"`
		Slug      string    `yaml:"slug"`
	}
	if err := yaml.Unmarshal(fm, &raw); err != nil {
		return page.FrontMatter{}, fmt.Errorf("decode frontmatter: %w", err)
	}
	if strings.TrimSpace(raw.Title) == "" {
		return page.FrontMatter{}, errors.New("frontmatter: title is required")
	}
	if raw.Timestamp.Kind == 0 || raw.Timestamp.Value == "" {
		return page.FrontMatter{}, errors.New("frontmatter: timestamp is required")
	}
	ts, err := time.Parse(time.RFC3339, raw.Timestamp.Value)
	if err != nil {
		return page.FrontMatter{}, fmt.Errorf("frontmatter: timestamp %q is not RFC3339: %w", raw.Timestamp.Value, err)
	}
	slug := raw.Slug
	if slug == "" {
		slug = content.Slugify(raw.Title)
	}
	return page.FrontMatter{Title: raw.Title, Timestamp: ts.UTC(), Slug: slug}, nil
}

// Parse splits src and decodes its header. A document without frontmatter is
// an error.
func Parse(src []byte) (page.FrontMatter, []byte, error) {
	fm, body, had, err := Split(src)
	if err != nil {
		return page.FrontMatter{}, nil, err
	}
	if !had {
		return page.FrontMatter{}, nil, ErrMissingFrontmatter
	}
	meta, err := Decode(fm)
	if err != nil {
		return page.FrontMatter{}, nil, err
	}
	return meta, body, nil
}

// Encode renders a header including delimiters, the inverse of Parse for the
// known fields.
func Encode(meta page.FrontMatter) ([]byte, error) {
	doc := struct {
		Title     string `yaml:"title"`
		Timestamp string `yaml:"timestamp"`
		Slug      string `yaml:"slug,omitempty"`
	}{meta.Title, meta.Timestamp.Format(time.RFC3339), meta.Slug}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	buf.WriteString("---\n")
	return buf.Bytes(), nil
}

func newline(src []byte) string {
	if i := bytes.IndexByte(src, '\n'); i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}
