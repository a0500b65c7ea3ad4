package content

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestDeriveRoute(t *testing.T) {
	cases := []struct {
		rel, route, out string
	}{
		{"blog/hello.md", "/blog/hello/", "blog/hello/index.html"},
		{"blog/index.md", "/blog/", "blog/index.html"},
		{"index.md", "/", "index.html"},
		{"about.html", "/about/", "about/index.html"},
		{"Blog/Hello World!.md", "/blog/hello-world/", "blog/hello-world/index.html"},
		{"notes/Café au lait.tmpl", "/notes/cafe-au-lait/", "notes/cafe-au-lait/index.html"},
		{"index/deep.md", "/index/deep/", "index/deep/index.html"},
		{"docs/Index.md", "/docs/", "docs/index.html"},
	}
	for _, tc := range cases {
		t.Run(tc.rel, func(t *testing.T) {
			route, out, err := DeriveRoute(tc.rel)
			require.NoError(t, err)
			require.Equal(t, tc.route, route)
			require.Equal(t, tc.out, out)
		})
	}
}

func TestDeriveRouteRejectsUnroutableSegment(t *testing.T) {
	_, _, err := DeriveRoute("blog/!!!.md")
	require.Error(t, err)
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "hello-world", Slugify("Hello, World!"))
	require.Equal(t, "uber-cool", Slugify("  Über  cool "))
	require.Equal(t, "a1-b2", Slugify("a1_b2"))
	require.Equal(t, "", Slugify("---"))
}

func TestParentGroup(t *testing.T) {
	require.Equal(t, "/blog/", ParentGroup("/blog/hello/"))
	require.Equal(t, "/", ParentGroup("/blog/"))
	require.Equal(t, "", ParentGroup("/"))
	require.Equal(t, "/a/b/", ParentGroup("/a/b/c/"))
}

func TestGroupAndPageRoutes(t *testing.T) {
	g, err := GroupForDir("Blog")
	require.NoError(t, err)
	require.Equal(t, "/blog/", g)

	root, err := GroupForDir("")
	require.NoError(t, err)
	require.Equal(t, "/", root)

	require.Equal(t, "/blog/0/", PageRoute("/blog/", 0))
	require.Equal(t, "/3/", PageRoute("/", 3))
	require.Equal(t, "blog/2/index.html", OutPathForRoute(PageRoute("/blog/", 2)))
}

func TestNewSiteEntry(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "blog"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blog", "post.md"), []byte("hello"), 0o644))

	entry, ok, err := NewSiteEntry(root, "blog/post.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, KindMarkdown, entry.Kind)
	require.Equal(t, "/blog/post/", entry.Route)

	b, err := entry.File.Bytes()
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	d1, err := entry.File.Digest()
	require.NoError(t, err)
	require.Equal(t, DigestBytes([]byte("hello")), d1)

	_, ok, err = NewSiteEntry(root, "blog/image.png")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDigestString(t *testing.T) {
	d := DigestBytes([]byte("stable"))
	s := d.String()
	require.Len(t, s, 16)
	back, err := ParseDigest(s)
	require.NoError(t, err)
	require.Equal(t, d, back)
	require.NotEqual(t, d, DigestBytes([]byte("stable!")))
}

func TestContentFileMissing(t *testing.T) {
	f := NewContentFile(t.TempDir(), "nope.md")
	_, err := f.Bytes()
	require.Error(t, err)
	_, err = f.Digest()
	require.Error(t, err)
}

func TestRouteProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("derivation is deterministic and self consistent", prop.ForAll(
		func(dir, name string) bool {
			rel := dir + "/" + name + ".md"
			r1, o1, err1 := DeriveRoute(rel)
			r2, o2, err2 := DeriveRoute(rel)
			if err1 != nil || err2 != nil {
				return false
			}
			return r1 == r2 && o1 == o2 && OutPathForRoute(r1) == o1 &&
				strings.HasPrefix(r1, "/") && strings.HasSuffix(r1, "/")
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("distinct slug-normal paths never collide", prop.ForAll(
		func(ids []string) bool {
			seenIn := map[string]bool{}
			seenOut := map[string]string{}
			for _, id := range ids {
				id = strings.ToLower(id)
				if id == "index" || seenIn[id] {
					continue
				}
				seenIn[id] = true
				route, _, err := DeriveRoute("posts/" + id + ".md")
				if err != nil {
					return false
				}
				if prev, dup := seenOut[route]; dup && prev != id {
					return false
				}
				seenOut[route] = id
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
