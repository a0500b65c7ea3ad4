package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlainTextAndFirstOfKind(t *testing.T) {
	link := &Block{Kind: "a", Tokens: []Token{Text("docs")}, Meta: map[string]string{"href": "/docs/"}}
	para := &Block{Kind: "p", Tokens: []Token{Text("Read the "), Nested(link), Text(".")}}
	heading := &Block{Kind: "h1", Tokens: []Token{Text("Title")}}

	require.Equal(t, "Read the docs.", para.PlainText())
	require.Same(t, heading, FirstOfKind([]*Block{heading, para}, "h1"))
	require.Same(t, link, FirstOfKind([]*Block{heading, para}, "a"))
	require.Nil(t, FirstOfKind([]*Block{heading, para}, "img"))
}

func TestDataIsClosed(t *testing.T) {
	kinds := []Data{Markdown{}, Template{}, RawHTML{}, Listing{}}
	for _, d := range kinds {
		switch d.(type) {
		case Markdown, Template, RawHTML, Listing:
		default:
			t.Fatalf("unexpected page data %T", d)
		}
	}
}
