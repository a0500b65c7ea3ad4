package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for generation runs. Implementations
// must be safe for concurrent use; the pipeline workers call them directly.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncBuildOutcome(outcome string) // outcome: success|partial|failed|canceled
	IncCacheResult(hit bool)
	IncRendered(kind string)
	IncRenderFailure(kind string)
	AddListingPages(n int)
	SetWorkers(pool string, n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncBuildOutcome(string)                     {}
func (NoopRecorder) IncCacheResult(bool)                        {}
func (NoopRecorder) IncRendered(string)                         {}
func (NoopRecorder) IncRenderFailure(string)                    {}
func (NoopRecorder) AddListingPages(int)                        {}
func (NoopRecorder) SetWorkers(string, int)                     {}
