package listing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/stalagmite/internal/assets"
	"git.home.luguber.info/inful/stalagmite/internal/cache"
	"git.home.luguber.info/inful/stalagmite/internal/content"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/page"
	"git.home.luguber.info/inful/stalagmite/internal/rules"
)

func TestPaginate(t *testing.T) {
	windows, err := Paginate(5, 2)
	require.NoError(t, err)
	require.Equal(t, []Window{
		{Index: 0, Offset: 0, Limit: 2, HasPrev: false, HasNext: true},
		{Index: 1, Offset: 2, Limit: 2, HasPrev: true, HasNext: true},
		{Index: 2, Offset: 4, Limit: 1, HasPrev: true, HasNext: false},
	}, windows)

	windows, err = Paginate(0, 10)
	require.NoError(t, err)
	require.Empty(t, windows)

	windows, err = Paginate(3, 3)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.False(t, windows[0].HasPrev)
	require.False(t, windows[0].HasNext)

	_, err = Paginate(3, 0)
	require.Error(t, err)
	_, err = Paginate(3, -1)
	require.Error(t, err)
}

func TestPaginateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(42)
	properties := gopter.NewProperties(parameters)

	properties.Property("pages cover every item exactly once", prop.ForAll(
		func(total, size int) bool {
			windows, err := Paginate(total, size)
			if err != nil {
				return false
			}
			if len(windows) != (total+size-1)/size {
				return false
			}
			covered := 0
			for i, w := range windows {
				if w.Offset != covered || w.Limit < 1 || w.Limit > size {
					return false
				}
				if w.HasPrev != (i > 0) || w.HasNext != (i < len(windows)-1) {
					return false
				}
				covered += w.Limit
			}
			return covered == total
		},
		gen.IntRange(0, 1000),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

type recordingRenderer struct {
	seen []page.Listing
}

func (r *recordingRenderer) Render(data page.Data, _ *rules.RenderRules, layouts []string, _ assets.Map) (string, error) {
	l := data.(page.Listing)
	r.seen = append(r.seen, l)
	var titles []string
	for _, e := range l.Entries {
		titles = append(titles, e.Title)
	}
	return fmt.Sprintf("%s page=%d/%d [%s] prev=%s next=%s",
		strings.Join(layouts, ","), l.Page, l.PageCount, strings.Join(titles, " "), l.PrevLink, l.NextLink), nil
}

func seedGroup(t *testing.T, store *cache.Store, group string, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range n {
		title := fmt.Sprintf("Post %d", i)
		route := group + content.Slugify(title) + "/"
		require.NoError(t, store.Commit(t.Context(), cache.Record{
			Route:    route,
			Digest:   content.Digest(i),
			Rendered: title,
			Markdown: &page.Markdown{FrontMatter: page.FrontMatter{
				Title:     title,
				Timestamp: base.Add(time.Duration(i) * time.Hour),
				Slug:      content.Slugify(title),
			}},
		}))
	}
}

func TestGenerateWritesPaginatedPages(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	seedGroup(t, store, "/blog/", 5)

	staging := t.TempDir()
	r := &recordingRenderer{}
	g := NewGenerator(store, r, nil, staging, nil)
	rr := &rules.RenderRules{
		Layouts: []string{"primary"},
		Listing: &rules.ListingRules{Layouts: []string{"listing", "primary"}, PageSize: 2},
	}

	routes, err := g.Generate(t.Context(), "/blog/", rr)
	require.NoError(t, err)
	require.Equal(t, []string{"/blog/0/", "/blog/1/", "/blog/2/"}, routes)

	first, err := os.ReadFile(filepath.Join(staging, "blog", "0", "index.html"))
	require.NoError(t, err)
	require.Equal(t, "listing,primary page=0/3 [Post 0 Post 1] prev= next=/blog/1/", string(first))

	last, err := os.ReadFile(filepath.Join(staging, "blog", "2", "index.html"))
	require.NoError(t, err)
	require.Equal(t, "listing,primary page=2/3 [Post 4] prev=/blog/1/ next=", string(last))

	require.Equal(t, "/blog/post-0/", r.seen[0].Entries[0].Link)
	require.Equal(t, "post-0", r.seen[0].Entries[0].Slug)
}

func TestGenerateEmptyGroupAndNoListing(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	staging := t.TempDir()
	g := NewGenerator(store, &recordingRenderer{}, nil, staging, nil)

	routes, err := g.Generate(t.Context(), "/empty/", &rules.RenderRules{
		Layouts: []string{"primary"},
		Listing: &rules.ListingRules{Layouts: []string{"listing"}, PageSize: 10},
	})
	require.NoError(t, err)
	require.Empty(t, routes)

	routes, err = g.Generate(t.Context(), "/empty/", rules.Default())
	require.NoError(t, err)
	require.Empty(t, routes)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestGenerateRefusesReservedRoute(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	seedGroup(t, store, "/blog/", 1)

	g := NewGenerator(store, &recordingRenderer{}, nil, t.TempDir(), nil)
	g.Reserve(map[string]struct{}{"/blog/0/": {}})
	_, err = g.Generate(t.Context(), "/blog/", &rules.RenderRules{
		Layouts: []string{"primary"},
		Listing: &rules.ListingRules{Layouts: []string{"listing"}, PageSize: 10},
	})
	require.Error(t, err)
	require.False(t, ferrors.IsFatal(err))
}
