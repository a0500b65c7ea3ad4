package generator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"git.home.luguber.info/inful/stalagmite/internal/assets"
	"git.home.luguber.info/inful/stalagmite/internal/cache"
	"git.home.luguber.info/inful/stalagmite/internal/config"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/listing"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
	"git.home.luguber.info/inful/stalagmite/internal/markdown"
	"git.home.luguber.info/inful/stalagmite/internal/metrics"
	"git.home.luguber.info/inful/stalagmite/internal/notify"
	"git.home.luguber.info/inful/stalagmite/internal/publish"
	"git.home.luguber.info/inful/stalagmite/internal/render"
	"git.home.luguber.info/inful/stalagmite/internal/rules"
	"git.home.luguber.info/inful/stalagmite/internal/walker"
)

// ErrPartialBuild is returned when the site was published but some
// artifacts failed to render.
var ErrPartialBuild = ferrors.NewError(ferrors.CategoryBuild, "site published with failed artifacts").Build()

// Notifier receives an event after every successful publish.
type Notifier interface {
	Publish(ctx context.Context, ev notify.BuildEvent) error
}

// RunOptions are the per-run switches.
type RunOptions struct {
	// NoCache forces every artifact to be rendered.
	NoCache bool
	// FailFast aborts the run on the first artifact failure.
	FailFast bool
}

// Generator compiles a project's content tree into its output tree. Runs
// are serialised.
type Generator struct {
	project   config.Project
	cfg       *config.Config
	publisher *publish.Publisher
	parser    *markdown.Parser
	logger    *slog.Logger
	recorder  metrics.Recorder
	notifier  Notifier

	mu sync.Mutex
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Generator) { g.logger = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(g *Generator) { g.recorder = r } }

// WithNotifier sets the publish event notifier.
func WithNotifier(n Notifier) Option { return func(g *Generator) { g.notifier = n } }

// New creates a Generator for project. cfg must already be validated.
func New(project config.Project, cfg *config.Config, opts ...Option) (*Generator, error) {
	g := &Generator{
		project:  project,
		cfg:      cfg,
		parser:   markdown.NewParser(),
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
	for _, o := range opts {
		o(g)
	}
	fsync := cfg.Publish.Fsync == nil || *cfg.Publish.Fsync
	p, err := publish.New(project.Output, project.State, publish.Mode(cfg.Publish.Mode),
		publish.WithFsync(fsync), publish.WithLogger(g.logger))
	if err != nil {
		return nil, err
	}
	g.publisher = p
	return g, nil
}

// Project returns the resolved project paths.
func (g *Generator) Project() config.Project { return g.project }

// buildState carries everything the stages of one run share.
type buildState struct {
	g        *Generator
	opts     RunOptions
	logger   *slog.Logger
	recorder metrics.Recorder
	report   *BuildReport

	store    *cache.Store
	renderer *render.Renderer
	staging  *publish.Staging

	walk   *walker.Result
	assets *assets.Result
	force  bool
	// cleanPrevious is false when the run before this one never finished.
	cleanPrevious bool

	// contentRoutes holds every artifact route of this run; live only the
	// routes produced successfully.
	contentRoutes map[string]struct{}
	live          map[string]struct{}
	listings      []listingRequest
}

type listingRequest struct {
	group string
	rules *rules.RenderRules
}

// Generate runs one build. The returned report is never nil. A run in which
// some artifacts failed still publishes and returns ErrPartialBuild.
func (g *Generator) Generate(ctx context.Context, opts RunOptions) (*BuildReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	runID := uuid.NewString()
	logger := g.logger.With(logfields.RunID(runID))
	bs := &buildState{
		g:        g,
		opts:     opts,
		logger:   logger,
		recorder: g.recorder,
		report:   newBuildReport(runID),
	}
	bs.opts.FailFast = opts.FailFast || g.cfg.Build.FailFast
	logger.Info("Generation started", logfields.Output(g.project.Output))

	stages := []StageDef{
		{StagePrepare, stagePrepare},
		{StageWalk, stageWalk},
		{StageAssets, stageAssets},
		{StageInvalidate, stageInvalidate},
		{StagePipeline, stagePipeline},
		{StagePrune, stagePrune},
		{StageListings, stageListings},
		{StagePublish, stagePublish},
	}
	err := runStages(ctx, bs, stages)
	bs.close()

	report := bs.report
	report.finish()
	g.recorder.ObserveBuildDuration(report.Duration())
	g.recorder.IncBuildOutcome(report.Outcome)
	if perr := report.Persist(g.project.State); perr != nil {
		logger.Warn("Failed to persist build report", logfields.Error(perr))
	}

	if err != nil {
		logger.Error("Generation failed", slog.String("summary", report.Summary()), logfields.Error(err))
		return report, runError(ctx, err)
	}
	if report.Failed > 0 {
		logger.Warn("Generation finished with failed artifacts", slog.String("summary", report.Summary()))
		return report, ErrPartialBuild
	}
	logger.Info("Generation finished", slog.String("summary", report.Summary()))
	return report, nil
}

// runError maps a stage error to the classified error returned to callers.
func runError(ctx context.Context, err error) error {
	if ctx.Err() != nil || ferrors.HasCategory(err, ferrors.CategoryCanceled) {
		if ferrors.HasCategory(err, ferrors.CategoryCanceled) {
			return err
		}
		return ferrors.WrapError(err, ferrors.CategoryCanceled, "generation canceled").Build()
	}
	if _, ok := ferrors.AsClassified(err); ok {
		return err
	}
	return ferrors.WrapError(err, ferrors.CategoryInternal, "generation failed").Fatal().Build()
}

// close releases run resources. Staging that was not published is removed.
func (bs *buildState) close() {
	if bs.staging != nil {
		bs.g.publisher.Abort(bs.staging)
	}
	if bs.store != nil {
		if err := bs.store.Close(); err != nil {
			bs.logger.Warn("Failed to close cache", logfields.Error(err))
		}
	}
}

func stagePrepare(ctx context.Context, bs *buildState) error {
	p := bs.g.project
	if _, err := os.Stat(p.Content); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "content directory is not readable").
			Fatal().WithContext("path", p.Content).Build()
	}
	if err := os.MkdirAll(p.State, 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIO, "create state directory").
			Fatal().WithContext("path", p.State).Build()
	}
	r, err := render.Load(p.Layouts, p.Blocks)
	if err != nil {
		return err
	}
	bs.renderer = r

	store, err := cache.Open(p.CachePath())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "open cache").
			Fatal().WithContext("path", p.CachePath()).Build()
	}
	bs.store = store

	// The run row must exist before any asset digest or checkpoint write.
	clean, err := store.BeginRun(ctx, bs.report.RunID, bs.report.Start)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "record run start").Fatal().Build()
	}
	bs.cleanPrevious = clean

	staging, err := bs.g.publisher.Begin(bs.report.RunID)
	if err != nil {
		return err
	}
	bs.staging = staging
	return nil
}

func stageWalk(ctx context.Context, bs *buildState) error {
	w := walker.New(bs.g.project.Content,
		walker.WithDefaultPageSize(bs.g.cfg.Build.DefaultPageSize),
		walker.WithLogger(bs.logger))
	res, err := w.Walk(ctx)
	if err != nil {
		return err
	}
	bs.walk = res
	bs.report.Entries = res.Entries()
	bs.contentRoutes = make(map[string]struct{}, res.Entries())
	for _, node := range res.Nodes {
		for _, e := range node.Entries {
			bs.contentRoutes[e.Route] = struct{}{}
		}
	}
	bs.logger.Info("Walked content", logfields.Count(len(res.Nodes)), slog.Int("entries", res.Entries()))
	return nil
}

func stageAssets(ctx context.Context, bs *buildState) error {
	dest := filepath.Join(bs.staging.Dir, filepath.FromSlash(assets.URLPrefix))
	res, err := assets.Process(ctx, bs.g.project.Assets, dest, bs.store, bs.logger)
	if err != nil {
		return err
	}
	bs.assets = res
	bs.report.AssetsChanged = res.Changed
	return nil
}

func stageInvalidate(ctx context.Context, bs *buildState) error {
	p := bs.g.project
	wm, err := cache.TemplateWatermark([]string{p.Layouts, p.Blocks}, bs.walk.RulesFiles)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIO, "scan template sources").Fatal().Build()
	}
	changed, err := bs.store.CheckLatestTemplateModified(ctx, wm)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "check template checkpoint").Fatal().Build()
	}
	rulesPaths := make([]string, 0, len(bs.walk.RulesFiles))
	for _, f := range bs.walk.RulesFiles {
		rel, err := filepath.Rel(p.Content, f)
		if err != nil {
			rel = f
		}
		rulesPaths = append(rulesPaths, filepath.ToSlash(rel))
	}
	rulesChanged, err := bs.store.CheckRulesFiles(ctx, rulesPaths)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "check rules files").Fatal().Build()
	}
	changed = changed || rulesChanged
	bs.report.TemplatesChanged = changed

	reasons := make([]string, 0, 4)
	if bs.opts.NoCache {
		reasons = append(reasons, "no_cache")
	}
	if bs.assets.Changed {
		reasons = append(reasons, "assets_changed")
	}
	if changed {
		reasons = append(reasons, "templates_changed")
	}
	if !bs.cleanPrevious {
		reasons = append(reasons, "unclean_previous_run")
	}
	bs.force = len(reasons) > 0
	bs.report.ForceRender = bs.force
	bs.report.ForceReasons = reasons
	if bs.force {
		bs.logger.Info("Forcing full render", slog.Any("reasons", reasons))
	}
	return nil
}

func stagePrune(ctx context.Context, bs *buildState) error {
	n, err := bs.store.Prune(ctx, bs.live)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "prune cache").Fatal().Build()
	}
	bs.report.Pruned = n
	if n > 0 {
		bs.logger.Info("Pruned cache", logfields.Count(n))
	}
	return nil
}

func stageListings(ctx context.Context, bs *buildState) error {
	if len(bs.listings) == 0 {
		return nil
	}
	gen := listing.NewGenerator(bs.store, bs.renderer, bs.assets.Map, bs.staging.Dir, bs.logger)
	gen.Reserve(bs.contentRoutes)

	var (
		mu    sync.Mutex
		pages int
	)
	p := pool.New().WithMaxGoroutines(renderWorkers(bs.g.cfg)).WithContext(ctx).WithCancelOnError()
	for _, req := range bs.listings {
		p.Go(func(ctx context.Context) error {
			routes, err := gen.Generate(ctx, req.group, req.rules)
			mu.Lock()
			pages += len(routes)
			mu.Unlock()
			if err == nil {
				return nil
			}
			if ctx.Err() != nil || ferrors.IsFatal(err) {
				return err
			}
			bs.artifactFailed(StageListings, IssueListingFailure, req.group, "", err)
			if bs.opts.FailFast {
				return err
			}
			return nil
		})
	}
	err := p.Wait()
	bs.report.ListingPages = pages
	bs.recorder.AddListingPages(pages)
	if err != nil {
		return err
	}
	bs.logger.Info("Generated listings", logfields.Count(pages), slog.Int("groups", len(bs.listings)))
	return nil
}

func stagePublish(ctx context.Context, bs *buildState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := bs.g.publisher.Publish(bs.staging); err != nil {
		return err
	}
	bs.staging = nil
	bs.report.Published = true

	outcome := OutcomeSuccess
	if bs.report.Failed > 0 {
		outcome = OutcomePartial
	}
	if err := bs.store.FinishRun(ctx, bs.report.RunID, string(outcome)); err != nil {
		// the output is live; the next run re-renders everything instead
		bs.logger.Warn("Failed to record run completion", logfields.Error(err))
	}
	bs.notify(ctx, outcome)
	return nil
}

func (bs *buildState) notify(ctx context.Context, outcome BuildOutcome) {
	if bs.g.notifier == nil {
		return
	}
	r := bs.report
	ev := notify.BuildEvent{
		RunID:        r.RunID,
		Outcome:      string(outcome),
		Output:       bs.g.project.Output,
		Entries:      r.Entries,
		Rendered:     r.Rendered,
		Restored:     r.Restored,
		Failed:       r.Failed,
		ListingPages: r.ListingPages,
		PublishedAt:  time.Now().UTC(),
	}
	if err := bs.g.notifier.Publish(ctx, ev); err != nil {
		bs.logger.Warn("Failed to publish build event", logfields.Error(err))
		r.AddIssue(ReportIssue{
			Code:     IssueNotifyFailure,
			Stage:    StagePublish,
			Severity: SeverityWarning,
			Message:  err.Error(),
		})
	}
}

// artifactFailed records a per-artifact failure.
func (bs *buildState) artifactFailed(stage StageName, code ReportIssueCode, route, path string, err error) {
	bs.report.AddIssue(ReportIssue{
		Code:     code,
		Stage:    stage,
		Severity: SeverityError,
		Message:  err.Error(),
		Route:    route,
		Path:     path,
	})
	bs.report.mu.Lock()
	bs.report.Failed++
	bs.report.mu.Unlock()
	bs.logger.Error("Artifact failed", logfields.Stage(string(stage)), logfields.Route(route), logfields.Path(path), logfields.Error(err))
}

func renderWorkers(cfg *config.Config) int {
	if cfg.Build.RenderWorkers > 0 {
		return cfg.Build.RenderWorkers
	}
	return runtime.NumCPU()
}
