// Package markdown parses markdown pages into frontmatter and a block tree.
package markdown

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/frontmatter"
	"git.home.luguber.info/inful/stalagmite/internal/page"
	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// customKindPrefix opens a paragraph whose first line names its block kind.
const customKindPrefix = "~:"

// Parser turns markdown sources into page.Markdown. It is safe for concurrent use.
type Parser struct {
	md goldmark.Markdown
}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{md: goldmark.New()}
}

// Parse splits the frontmatter off src and maps the body to blocks.
func (p *Parser) Parse(src []byte) (page.Markdown, error) {
	meta, body, err := frontmatter.Parse(src)
	if err != nil {
		return page.Markdown{}, errors.WrapError(err, errors.CategoryParse, "invalid frontmatter").Build()
	}
	return page.Markdown{FrontMatter: meta, Blocks: p.ParseBody(body)}, nil
}

// ParseBody maps a markdown body without frontmatter to blocks.
func (p *Parser) ParseBody(body []byte) []*page.Block {
	root := p.md.Parser().Parse(text.NewReader(body))
	return p.blocks(root, body)
}

func (p *Parser) blocks(parent gmast.Node, src []byte) []*page.Block {
	var out []*page.Block
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = append(out, p.block(n, src)...)
	}
	return out
}

func (p *Parser) block(n gmast.Node, src []byte) []*page.Block {
	switch node := n.(type) {
	case *gmast.Heading:
		return []*page.Block{{Kind: "h" + strconv.Itoa(node.Level), Tokens: inlines(node, src)}}
	case *gmast.Paragraph:
		return []*page.Block{p.paragraph(node, src)}
	case *gmast.TextBlock:
		return []*page.Block{{Kind: "p", Tokens: inlines(node, src)}}
	case *gmast.List:
		b := &page.Block{Kind: "ul"}
		if node.IsOrdered() {
			b.Kind = "ol"
			if node.Start != 1 {
				b.Meta = map[string]string{"start": strconv.Itoa(node.Start)}
			}
		}
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			b.Tokens = append(b.Tokens, page.Nested(p.listItem(item, src)))
		}
		return []*page.Block{b}
	case *gmast.Blockquote:
		b := &page.Block{Kind: "blockquote"}
		for _, child := range p.blocks(node, src) {
			b.Tokens = append(b.Tokens, page.Nested(child))
		}
		return []*page.Block{b}
	case *gmast.FencedCodeBlock:
		b := &page.Block{Kind: "pre", Tokens: []page.Token{page.Text(lines(node, src))}}
		if lang := node.Language(src); len(lang) > 0 {
			b.Meta = map[string]string{"lang": string(lang)}
		}
		return []*page.Block{b}
	case *gmast.CodeBlock:
		return []*page.Block{{Kind: "pre", Tokens: []page.Token{page.Text(lines(node, src))}}}
	case *gmast.ThematicBreak:
		return []*page.Block{{Kind: "hr"}}
	case *gmast.HTMLBlock:
		raw := lines(node, src)
		if node.HasClosure() {
			raw += string(node.ClosureLine.Value(src))
		}
		return []*page.Block{{Kind: "html", Tokens: []page.Token{page.Text(raw)}}}
	default:
		return p.blocks(n, src)
	}
}

// paragraph maps a paragraph, honouring a leading "~:kind" line.
func (p *Parser) paragraph(node *gmast.Paragraph, src []byte) *page.Block {
	segs := node.Lines()
	if segs.Len() == 0 {
		return &page.Block{Kind: "p"}
	}
	firstSeg := segs.At(0)
	first := bytes.TrimSpace(firstSeg.Value(src))
	if !bytes.HasPrefix(first, []byte(customKindPrefix)) {
		return &page.Block{Kind: "p", Tokens: inlines(node, src)}
	}
	kind := strings.TrimSpace(string(first[len(customKindPrefix):]))
	if kind == "" {
		kind = "p"
	}
	var rest bytes.Buffer
	for i := 1; i < segs.Len(); i++ {
		seg := segs.At(i)
		rest.Write(seg.Value(src))
	}
	b := &page.Block{Kind: kind}
	if rest.Len() == 0 {
		return b
	}
	restSrc := rest.Bytes()
	sub := p.md.Parser().Parse(text.NewReader(restSrc))
	for c := sub.FirstChild(); c != nil; c = c.NextSibling() {
		b.Tokens = appendTokens(b.Tokens, inlines(c, restSrc))
	}
	return b
}

// listItem flattens tight-list text blocks into the item and nests the rest.
func (p *Parser) listItem(item gmast.Node, src []byte) *page.Block {
	li := &page.Block{Kind: "li"}
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		if tb, ok := c.(*gmast.TextBlock); ok {
			li.Tokens = appendTokens(li.Tokens, inlines(tb, src))
			continue
		}
		for _, b := range p.block(c, src) {
			li.Tokens = append(li.Tokens, page.Nested(b))
		}
	}
	return li
}

func inlines(parent gmast.Node, src []byte) []page.Token {
	var out []page.Token
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *gmast.Text:
			out = appendText(out, string(node.Segment.Value(src)))
			switch {
			case node.HardLineBreak():
				out = append(out, page.Nested(&page.Block{Kind: "br"}))
			case node.SoftLineBreak():
				out = appendText(out, "\n")
			}
		case *gmast.String:
			out = appendText(out, string(node.Value))
		case *gmast.CodeSpan:
			code := page.Block{Tokens: inlines(node, src)}
			out = append(out, page.Nested(&page.Block{Kind: "code", Tokens: []page.Token{page.Text(code.PlainText())}}))
		case *gmast.Emphasis:
			kind := "i"
			if node.Level >= 2 {
				kind = "b"
			}
			out = append(out, page.Nested(&page.Block{Kind: kind, Tokens: inlines(node, src)}))
		case *gmast.Link:
			meta := map[string]string{"href": string(node.Destination)}
			if len(node.Title) > 0 {
				meta["title"] = string(node.Title)
			}
			out = append(out, page.Nested(&page.Block{Kind: "a", Tokens: inlines(node, src), Meta: meta}))
		case *gmast.AutoLink:
			out = append(out, page.Nested(&page.Block{
				Kind:   "a",
				Tokens: []page.Token{page.Text(string(node.Label(src)))},
				Meta:   map[string]string{"href": string(node.URL(src))},
			}))
		case *gmast.Image:
			alt := page.Block{Tokens: inlines(node, src)}
			meta := map[string]string{"src": string(node.Destination), "alt": alt.PlainText()}
			if len(node.Title) > 0 {
				meta["title"] = string(node.Title)
			}
			out = append(out, page.Nested(&page.Block{Kind: "img", Meta: meta}))
		case *gmast.RawHTML:
			var raw strings.Builder
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				raw.Write(seg.Value(src))
			}
			out = append(out, page.Nested(&page.Block{Kind: "html", Tokens: []page.Token{page.Text(raw.String())}}))
		default:
			out = appendTokens(out, inlines(n, src))
		}
	}
	return out
}

func appendText(tokens []page.Token, s string) []page.Token {
	if s == "" {
		return tokens
	}
	if last := len(tokens) - 1; last >= 0 && tokens[last].Block == nil {
		tokens[last].Literal += s
		return tokens
	}
	return append(tokens, page.Text(s))
}

func appendTokens(tokens, more []page.Token) []page.Token {
	for _, tok := range more {
		if tok.Block == nil {
			tokens = appendText(tokens, tok.Literal)
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func lines(n gmast.Node, src []byte) string {
	var sb strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		sb.Write(seg.Value(src))
	}
	return sb.String()
}

// String renders a block tree compactly for debugging.
func String(blocks []*page.Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteByte(' ')
		}
		writeBlock(&sb, b)
	}
	return sb.String()
}

func writeBlock(sb *strings.Builder, b *page.Block) {
	fmt.Fprintf(sb, "(%s", b.Kind)
	for _, tok := range b.Tokens {
		sb.WriteByte(' ')
		if tok.Block != nil {
			writeBlock(sb, tok.Block)
			continue
		}
		sb.WriteString(strconv.Quote(tok.Literal))
	}
	sb.WriteByte(')')
}
