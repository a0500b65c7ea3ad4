package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "stalagmite"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg            *prom.Registry
	stageDuration  *prom.HistogramVec
	buildDuration  prom.Histogram
	stageResults   *prom.CounterVec
	buildOutcome   *prom.CounterVec
	cacheResults   *prom.CounterVec
	rendered       *prom.CounterVec
	renderFailures *prom.CounterVec
	listingPages   prom.Counter
	workers        *prom.GaugeVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual generation stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total generation duration",
			Buckets:   prom.DefBuckets,
		}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Generation runs by final status",
		}, []string{"outcome"}),
		cacheResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache restores by result",
		}, []string{"result"}),
		rendered: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pages_rendered_total",
			Help:      "Pages rendered by source kind",
		}, []string{"kind"}),
		renderFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "render_failures_total",
			Help:      "Pages that failed to parse or render by source kind",
		}, []string{"kind"}),
		listingPages: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "listing_pages_total",
			Help:      "Listing pages written",
		}),
		workers: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_workers",
			Help:      "Worker count of each pipeline pool in the last run",
		}, []string{"pool"}),
	}
	reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.stageResults, pr.buildOutcome,
		pr.cacheResults, pr.rendered, pr.renderFailures, pr.listingPages, pr.workers)
	return pr
}

// Registry returns the registry the metrics are registered on.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.reg }

// WriteTextfile writes the current metric values in the text exposition
// format, for the node exporter textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	return prom.WriteToTextfile(path, p.reg)
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncCacheResult(hit bool) {
	if p == nil || p.cacheResults == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheResults.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncRendered(kind string) {
	if p == nil || p.rendered == nil {
		return
	}
	p.rendered.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncRenderFailure(kind string) {
	if p == nil || p.renderFailures == nil {
		return
	}
	p.renderFailures.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) AddListingPages(n int) {
	if p == nil || p.listingPages == nil {
		return
	}
	p.listingPages.Add(float64(n))
}

func (p *PrometheusRecorder) SetWorkers(pool string, n int) {
	if p == nil || p.workers == nil {
		return
	}
	p.workers.WithLabelValues(pool).Set(float64(n))
}
