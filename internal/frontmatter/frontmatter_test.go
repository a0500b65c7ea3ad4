package frontmatter

import (
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/stalagmite/internal/page"
	"github.com/stretchr/testify/require"
)

func TestSplit_NoFrontmatter_ReturnsBodyOnly(t *testing.T) {
	input := []byte("# Title\n\nHello\n")

	fm, body, had, err := Split(input)
	require.NoError(t, err)
	require.False(t, had)
	require.Empty(t, fm)
	require.Equal(t, input, body)
}

func TestSplit_YAMLFrontmatter_SplitsFrontmatterAndBody(t *testing.T) {
	fm, body, had, err := Split([]byte("---\ntitle: x\n---\n# Title\n"))
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []byte("title: x\n"), fm)
	require.Equal(t, []byte("# Title\n"), body)
}

func TestSplit_CRLF(t *testing.T) {
	fm, body, had, err := Split([]byte("---\r\ntitle: x\r\n---\r\n# Title\r\n"))
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []byte("title: x\r\n"), fm)
	require.Equal(t, []byte("# Title\r\n"), body)
}

func TestSplit_ClosingDelimiterAtEOF(t *testing.T) {
	fm, body, had, err := Split([]byte("---\ntitle: x\n---"))
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []byte("title: x\n"), fm)
	require.Empty(t, body)
}

func TestSplit_DashesInsideValueAreNotADelimiter(t *testing.T) {
	fm, body, had, err := Split([]byte("---\ntitle: x\n---not-a-close\nslug: y\n---\nbody\n"))
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, "title: x\n---not-a-close\nslug: y\n", string(fm))
	require.Equal(t, "body\n", string(body))
}

func TestSplit_MissingClosingDelimiter_ReturnsError(t *testing.T) {
	_, _, had, err := Split([]byte("---\ntitle: x\n# Title\n"))
	require.False(t, had)
	require.True(t, errors.Is(err, ErrMissingClosingDelimiter))
}

func TestDecode(t *testing.T) {
	meta, err := Decode([]byte("title: Hello World\ntimestamp: 2024-03-01T10:00:00+02:00\n"))
	require.NoError(t, err)
	require.Equal(t, "Hello World", meta.Title)
	require.Equal(t, "hello-world", meta.Slug)
	require.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), meta.Timestamp)

	meta, err = Decode([]byte("title: T\ntimestamp: \"2024-03-01T10:00:00Z\"\nslug: custom\n"))
	require.NoError(t, err)
	require.Equal(t, "custom", meta.Slug)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"missing title":     "timestamp: 2024-03-01T10:00:00Z\n",
		"missing timestamp": "title: x\n",
		"bad timestamp":     "title: x\ntimestamp: yesterday\n",
		"invalid yaml":      ": not yaml",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestParse_RequiresFrontmatter(t *testing.T) {
	_, _, err := Parse([]byte("# no header\n"))
	require.ErrorIs(t, err, ErrMissingFrontmatter)
}

func TestEncodeParse(t *testing.T) {
	in := page.FrontMatter{Title: "A: tricky title", Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), Slug: "a-tricky-title"}
	header, err := Encode(in)
	require.NoError(t, err)

	out, body, err := Parse(append(header, []byte("text\n")...))
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.Equal(t, "text\n", string(body))
}
