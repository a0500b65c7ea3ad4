// Package page defines the parsed forms of content handed to the renderer.
package page

import (
	"strings"
	"time"
)

// Data is the closed set of page payloads: Markdown, Template, RawHTML and
// Listing. Consumers switch on the concrete type.
type Data interface {
	pageData()
}

// FrontMatter is the metadata block of a markdown page.
type FrontMatter struct {
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Slug      string    `json:"slug"`
}

// Markdown is a parsed markdown page.
type Markdown struct {
	FrontMatter FrontMatter
	Blocks      []*Block
}

// Template is a page whose source is itself a template.
type Template struct {
	Raw string
}

// RawHTML is a page copied verbatim into the layout chain.
type RawHTML struct {
	Raw string
}

// Listing is one page of a paginated group index.
type Listing struct {
	Group     string
	Entries   []ListingEntry
	Page      int
	PageCount int
	// PrevLink and NextLink are empty on the first and last page.
	PrevLink string
	NextLink string
}

// ListingEntry summarises one markdown page of a group.
type ListingEntry struct {
	Title     string
	Timestamp time.Time
	Slug      string
	Link      string
	Blocks    []*Block
}

func (Markdown) pageData() {}
func (Template) pageData() {}
func (RawHTML) pageData()  {}
func (Listing) pageData()  {}

// Block is a node of the markdown block tree.
type Block struct {
	Kind   string            `json:"kind"`
	Tokens []Token           `json:"tokens,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Token is either literal text or a nested block.
type Token struct {
	Literal string `json:"literal,omitempty"`
	Block   *Block `json:"block,omitempty"`
}

// Text returns a literal token.
func Text(s string) Token { return Token{Literal: s} }

// Nested returns a token wrapping b.
func Nested(b *Block) Token { return Token{Block: b} }

// PlainText concatenates the literal text of b and its descendants.
func (b *Block) PlainText() string {
	var sb strings.Builder
	b.writeText(&sb)
	return sb.String()
}

func (b *Block) writeText(sb *strings.Builder) {
	for _, tok := range b.Tokens {
		if tok.Block != nil {
			tok.Block.writeText(sb)
			continue
		}
		sb.WriteString(tok.Literal)
	}
}

// FirstOfKind returns the first block of kind in blocks, searching depth first.
func FirstOfKind(blocks []*Block, kind string) *Block {
	for _, b := range blocks {
		if b == nil {
			continue
		}
		if b.Kind == kind {
			return b
		}
		var nested []*Block
		for _, tok := range b.Tokens {
			if tok.Block != nil {
				nested = append(nested, tok.Block)
			}
		}
		if found := FirstOfKind(nested, kind); found != nil {
			return found
		}
	}
	return nil
}
