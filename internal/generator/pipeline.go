package generator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/stalagmite/internal/cache"
	"git.home.luguber.info/inful/stalagmite/internal/content"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
	"git.home.luguber.info/inful/stalagmite/internal/page"
	"git.home.luguber.info/inful/stalagmite/internal/publish"
	"git.home.luguber.info/inful/stalagmite/internal/rules"
)

// Pool names reported to the metrics recorder.
const (
	poolRouter  = "router"
	poolRender  = "render"
	poolPersist = "persist"
)

// routeJob is an artifact on its way through the router.
type routeJob struct {
	entry *content.SiteEntry
	rules *rules.RenderRules
}

// renderJob is an artifact that needs rendering.
type renderJob struct {
	entry  *content.SiteEntry
	digest content.Digest
	rules  *rules.RenderRules
}

// persistJob is a produced artifact. Restored artifacts are already in
// staging and only need accounting.
type persistJob struct {
	entry    *content.SiteEntry
	digest   content.Digest
	markdown *page.Markdown
	html     string
	restored bool
}

// pipeline connects router, render and persist pools with bounded channels.
type pipeline struct {
	bs     *buildState
	cancel context.CancelCauseFunc

	routeCh   chan routeJob
	renderCh  chan renderJob
	persistCh chan persistJob
	listingCh chan listingRequest

	restored  atomic.Int64
	rendered  atomic.Int64
	fallbacks atomic.Int64

	liveMu sync.Mutex
	live   map[string]struct{}
}

func stagePipeline(ctx context.Context, bs *buildState) error {
	cfg := bs.g.cfg.Build
	queue := max(cfg.QueueSize, 1)
	ioWorkers := max(cfg.IOWorkers, 1)
	renderers := renderWorkers(bs.g.cfg)
	persisters := max(cfg.PersistWorkers, 1)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p := &pipeline{
		bs:        bs,
		cancel:    cancel,
		routeCh:   make(chan routeJob, queue),
		renderCh:  make(chan renderJob, queue),
		persistCh: make(chan persistJob, queue),
		// one request per node at most, so the feeder never blocks on it
		listingCh: make(chan listingRequest, len(bs.walk.Nodes)),
		live:      make(map[string]struct{}, bs.report.Entries),
	}
	bs.recorder.SetWorkers(poolRouter, ioWorkers)
	bs.recorder.SetWorkers(poolRender, renderers)
	bs.recorder.SetWorkers(poolPersist, persisters)
	bs.logger.Debug("Starting pipeline",
		slog.Int("io_workers", ioWorkers), slog.Int("render_workers", renderers), slog.Int("persist_workers", persisters))

	var routers, renderPool, persistPool sync.WaitGroup
	for range ioWorkers {
		routers.Add(1)
		go func() {
			defer routers.Done()
			p.router(ctx)
		}()
	}
	for range renderers {
		renderPool.Add(1)
		go func() {
			defer renderPool.Done()
			p.renderer(ctx)
		}()
	}
	for range persisters {
		persistPool.Add(1)
		go func() {
			defer persistPool.Done()
			p.persister(ctx)
		}()
	}
	// Persisters may leave early on cancellation; upstream closes once the
	// routers and renderers have returned too.
	upstream := make(chan struct{})
	go func() {
		defer close(upstream)
		routers.Wait()
		close(p.renderCh)
		renderPool.Wait()
		close(p.persistCh)
	}()

	p.feed(ctx)
	persistPool.Wait()
	<-upstream
	close(p.listingCh)

	for req := range p.listingCh {
		bs.listings = append(bs.listings, req)
	}
	bs.live = p.live
	bs.report.Restored = int(p.restored.Load())
	bs.report.Rendered = int(p.rendered.Load())
	bs.report.CopyFallbacks = int(p.fallbacks.Load())

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bs.logger.Info("Pipeline complete",
		slog.Int("rendered", bs.report.Rendered), slog.Int("restored", bs.report.Restored),
		slog.Int("copy_fallbacks", bs.report.CopyFallbacks))
	return nil
}

// feed queues every artifact in directory order, followed by the node's
// listing request.
func (p *pipeline) feed(ctx context.Context) {
	defer close(p.routeCh)
	for _, node := range p.bs.walk.Nodes {
		for _, e := range node.Entries {
			select {
			case <-ctx.Done():
				return
			case p.routeCh <- routeJob{entry: e, rules: node.Rules}:
			}
		}
		if node.Rules != nil && node.Rules.Listing != nil {
			p.listingCh <- listingRequest{group: node.Group, rules: node.Rules}
		}
	}
}

// router digests an artifact and either restores its previous output or
// hands it to the render pool.
func (p *pipeline) router(ctx context.Context) {
	bs := p.bs
	for {
		var job routeJob
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.routeCh:
			if !ok {
				return
			}
			job = j
		}

		e := job.entry
		digest, err := e.File.Digest()
		if err != nil {
			p.fail(IssueReadFailure, e, ferrors.WrapError(err, ferrors.CategoryIO, "read content file").
				WithSeverity(ferrors.SeverityError).Build())
			continue
		}

		if !bs.force {
			rec, hit, err := bs.store.Restore(ctx, e.Route, digest)
			if err != nil {
				p.fatal(ferrors.WrapError(err, ferrors.CategoryCache, "restore").
					Fatal().WithContext("route", e.Route).Build())
				return
			}
			bs.recorder.IncCacheResult(hit)
			if hit {
				if p.copyForward(e) {
					if !p.send(ctx, persistJob{entry: e, digest: digest, markdown: rec.Markdown, html: rec.Rendered, restored: true}) {
						return
					}
					continue
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case p.renderCh <- renderJob{entry: e, digest: digest, rules: job.rules}:
		}
	}
}

// copyForward copies the previous output of e from the live tree into
// staging. A failed copy is logged and the artifact is rendered instead.
func (p *pipeline) copyForward(e *content.SiteEntry) bool {
	bs := p.bs
	err := publish.CopyFile(bs.g.publisher.Output(), bs.staging.Dir, e.OutPath)
	if err == nil {
		return true
	}
	p.fallbacks.Add(1)
	bs.logger.Warn("Cached output missing, rendering again", logfields.Route(e.Route), logfields.Error(err))
	bs.report.AddIssue(ReportIssue{
		Code:     IssueCopyFallback,
		Stage:    StagePipeline,
		Severity: SeverityWarning,
		Message:  err.Error(),
		Route:    e.Route,
		Path:     e.File.RelPath,
	})
	return false
}

// renderer parses and renders artifacts.
func (p *pipeline) renderer(ctx context.Context) {
	bs := p.bs
	for {
		var job renderJob
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.renderCh:
			if !ok {
				return
			}
			job = j
		}

		e := job.entry
		data, md, err := p.parse(e)
		if err != nil {
			p.fail(IssueParseFailure, e, err)
			continue
		}
		html, err := bs.renderer.Render(data, job.rules, job.rules.Layouts, bs.assets.Map)
		if err != nil {
			p.fail(IssueRenderFailure, e, err)
			continue
		}
		if !p.send(ctx, persistJob{entry: e, digest: job.digest, markdown: md, html: html}) {
			return
		}
	}
}

// parse turns an artifact into page data. md is set for markdown pages.
func (p *pipeline) parse(e *content.SiteEntry) (data page.Data, md *page.Markdown, err error) {
	src, err := e.File.Bytes()
	if err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryIO, "read content file").
			WithSeverity(ferrors.SeverityError).Build()
	}
	switch e.Kind {
	case content.KindMarkdown:
		parsed, err := p.bs.g.parser.Parse(src)
		if err != nil {
			return nil, nil, err
		}
		return parsed, &parsed, nil
	case content.KindTemplate:
		return page.Template{Raw: string(src)}, nil, nil
	case content.KindHTML:
		return page.RawHTML{Raw: string(src)}, nil, nil
	default:
		return nil, nil, ferrors.InternalError("unknown artifact kind").WithContext("kind", string(e.Kind)).Build()
	}
}

// persister writes rendered artifacts to staging and commits them to the
// cache. Both must succeed for the route to count as produced.
func (p *pipeline) persister(ctx context.Context) {
	bs := p.bs
	for {
		var job persistJob
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.persistCh:
			if !ok {
				return
			}
			job = j
		}

		e := job.entry
		if job.restored {
			p.restored.Add(1)
			p.markLive(e.Route)
			continue
		}
		if err := publish.WriteFile(bs.staging.Dir, e.OutPath, []byte(job.html)); err != nil {
			p.fatal(ferrors.WrapError(err, ferrors.CategoryIO, "write staged output").
				Fatal().WithContext("route", e.Route).Build())
			return
		}
		rec := cache.Record{Route: e.Route, Digest: job.digest, Rendered: job.html, Markdown: job.markdown}
		if err := bs.store.Commit(ctx, rec); err != nil {
			p.fatal(ferrors.WrapError(err, ferrors.CategoryCache, "commit").
				Fatal().WithContext("route", e.Route).Build())
			return
		}
		p.rendered.Add(1)
		p.markLive(e.Route)
		bs.recorder.IncRendered(string(e.Kind))
	}
}

func (p *pipeline) send(ctx context.Context, job persistJob) bool {
	select {
	case <-ctx.Done():
		return false
	case p.persistCh <- job:
		return true
	}
}

func (p *pipeline) markLive(route string) {
	p.liveMu.Lock()
	p.live[route] = struct{}{}
	p.liveMu.Unlock()
}

// fail records an artifact failure; with fail-fast it stops the run.
func (p *pipeline) fail(code ReportIssueCode, e *content.SiteEntry, err error) {
	p.bs.recorder.IncRenderFailure(string(e.Kind))
	p.bs.artifactFailed(StagePipeline, code, e.Route, e.File.RelPath, err)
	if p.bs.opts.FailFast {
		p.fatal(ferrors.WrapError(err, ferrors.GetCategory(err), "artifact failed").
			Fatal().WithContext("route", e.Route).Build())
	}
}

func (p *pipeline) fatal(err error) {
	p.cancel(err)
}
