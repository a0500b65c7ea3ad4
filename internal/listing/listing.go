// Package listing builds the paginated index pages of a directory's dated
// markdown children from the cache.
package listing

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/stalagmite/internal/assets"
	"git.home.luguber.info/inful/stalagmite/internal/cache"
	"git.home.luguber.info/inful/stalagmite/internal/content"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
	"git.home.luguber.info/inful/stalagmite/internal/page"
	"git.home.luguber.info/inful/stalagmite/internal/publish"
	"git.home.luguber.info/inful/stalagmite/internal/rules"
)

// Window is one page of a pagination.
type Window struct {
	Index   int
	Offset  int
	Limit   int
	HasPrev bool
	HasNext bool
}

// Paginate splits total items into pages of pageSize. An empty group has no
// pages.
func Paginate(total, pageSize int) ([]Window, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if total <= 0 {
		return nil, nil
	}
	count := (total + pageSize - 1) / pageSize
	out := make([]Window, count)
	for i := range out {
		limit := pageSize
		if rem := total - i*pageSize; rem < limit {
			limit = rem
		}
		out[i] = Window{
			Index:   i,
			Offset:  i * pageSize,
			Limit:   limit,
			HasPrev: i > 0,
			HasNext: i < count-1,
		}
	}
	return out, nil
}

// Source is the read side of the cache used for listings.
type Source interface {
	GroupCount(ctx context.Context, parent string) (int, error)
	FetchPage(ctx context.Context, parent string, limit, offset int) ([]cache.Record, error)
}

// Renderer renders listing page data.
type Renderer interface {
	Render(data page.Data, rr *rules.RenderRules, layouts []string, am assets.Map) (string, error)
}

// Generator writes listing pages into a staging tree.
type Generator struct {
	src      Source
	render   Renderer
	assets   assets.Map
	staging  string
	logger   *slog.Logger
	reserved map[string]struct{}
}

// NewGenerator returns a Generator writing below staging.
func NewGenerator(src Source, r Renderer, am assets.Map, staging string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{src: src, render: r, assets: am, staging: staging, logger: logger}
}

// Reserve marks routes already produced by content pages. A listing page
// whose route is reserved is an error instead of an overwrite.
func (g *Generator) Reserve(routes map[string]struct{}) { g.reserved = routes }

// Generate renders every listing page of group with the listing rules of rr
// and returns the routes written. Rules without a listing produce nothing.
func (g *Generator) Generate(ctx context.Context, group string, rr *rules.RenderRules) ([]string, error) {
	if rr == nil || rr.Listing == nil {
		return nil, nil
	}
	size := rr.Listing.PageSize
	if size == 0 {
		size = rules.DefaultPageSize
	}
	layouts := rr.Listing.Layouts
	if len(layouts) == 0 {
		layouts = rr.Layouts
	}

	total, err := g.src.GroupCount(ctx, group)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryCache, "count listing group").
			Fatal().WithContext("group", group).Build()
	}
	windows, err := Paginate(total, size)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid listing").
			Fatal().WithContext("group", group).Build()
	}

	routes := make([]string, 0, len(windows))
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return routes, err
		}
		recs, err := g.src.FetchPage(ctx, group, w.Limit, w.Offset)
		if err != nil {
			return routes, ferrors.WrapError(err, ferrors.CategoryCache, "fetch listing page").
				Fatal().WithContext("group", group).Build()
		}
		data := page.Listing{
			Group:     group,
			Entries:   entries(recs),
			Page:      w.Index,
			PageCount: len(windows),
		}
		if w.HasPrev {
			data.PrevLink = content.PageRoute(group, w.Index-1)
		}
		if w.HasNext {
			data.NextLink = content.PageRoute(group, w.Index+1)
		}

		route := content.PageRoute(group, w.Index)
		if _, taken := g.reserved[route]; taken {
			return routes, ferrors.NewError(ferrors.CategoryValidation, "listing page route is taken by a content page").
				WithContext("route", route).WithContext("group", group).Build()
		}
		html, err := g.render.Render(data, rr, layouts, g.assets)
		if err != nil {
			return routes, ferrors.WrapError(err, ferrors.GetCategory(err), "render listing page").
				WithContext("route", route).WithContext("group", group).Build()
		}
		if err := publish.WriteFile(g.staging, content.OutPathForRoute(route), []byte(html)); err != nil {
			return routes, ferrors.WrapError(err, ferrors.CategoryIO, "write listing page").
				Fatal().WithContext("route", route).Build()
		}
		routes = append(routes, route)
	}
	g.logger.Debug("Generated listing", logfields.Group(group), logfields.Count(len(routes)))
	return routes, nil
}

func entries(recs []cache.Record) []page.ListingEntry {
	out := make([]page.ListingEntry, 0, len(recs))
	for _, rec := range recs {
		if rec.Markdown == nil {
			continue
		}
		fm := rec.Markdown.FrontMatter
		out = append(out, page.ListingEntry{
			Title:     fm.Title,
			Timestamp: fm.Timestamp,
			Slug:      fm.Slug,
			Link:      rec.Route,
			Blocks:    rec.Markdown.Blocks,
		})
	}
	return out
}
