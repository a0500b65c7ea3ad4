// Package rules holds per-directory render configuration and the stack the
// walker uses to inherit it.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// FileName is the per-directory override file.
const FileName = "rules.yaml"

// DefaultPageSize applies to listings that do not set page_size.
const DefaultPageSize = 100

// RenderRules configures how the artifacts of a directory are rendered.
// Values handed out by a Stack are shared and must not be modified.
type RenderRules struct {
	// Layouts is the wrapping chain, innermost first.
	Layouts []string `yaml:"layouts"`
	// Blocks overrides the template used for a block kind.
	Blocks  map[string]string `yaml:"blocks,omitempty"`
	Listing *ListingRules     `yaml:"listing,omitempty"`
}

// ListingRules enables paginated index pages for a directory's dated children.
type ListingRules struct {
	Layouts  []string `yaml:"layouts"`
	PageSize int      `yaml:"page_size,omitempty"`
}

var defaultRules = &RenderRules{Layouts: []string{"primary"}}

// Default returns the process-wide default rules.
func Default() *RenderRules { return defaultRules }

// BlockTemplate returns the template name for a block kind.
func (r *RenderRules) BlockTemplate(kind string) string {
	if name, ok := r.Blocks[kind]; ok && name != "" {
		return name
	}
	return kind
}

// Clone returns a deep copy.
func (r *RenderRules) Clone() *RenderRules {
	cp := &RenderRules{
		Layouts: slices.Clone(r.Layouts),
		Blocks:  maps.Clone(r.Blocks),
	}
	if r.Listing != nil {
		cp.Listing = &ListingRules{Layouts: slices.Clone(r.Listing.Layouts), PageSize: r.Listing.PageSize}
	}
	return cp
}

// Parse decodes a rules document. Unknown keys are rejected.
func Parse(data []byte, defaultPageSize int) (*RenderRules, error) {
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var r RenderRules
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(r.Layouts) == 0 {
		return nil, errors.New("rules: layouts must name at least one layout")
	}
	if r.Listing != nil {
		if len(r.Listing.Layouts) == 0 {
			return nil, errors.New("rules: listing.layouts must name at least one layout")
		}
		switch {
		case r.Listing.PageSize == 0:
			r.Listing.PageSize = defaultPageSize
		case r.Listing.PageSize < 0:
			return nil, fmt.Errorf("rules: listing.page_size must be positive, got %d", r.Listing.PageSize)
		}
	}
	return &r, nil
}

// Load reads and parses a rules file.
func Load(path string, defaultPageSize int) (*RenderRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	r, err := Parse(data, defaultPageSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Marshal encodes rules in the rules.yaml format.
func Marshal(r *RenderRules) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return buf.Bytes(), nil
}
