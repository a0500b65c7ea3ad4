package metrics

import (
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("walk", time.Millisecond)
	r.IncBuildOutcome("success")
	r.IncCacheResult(false)
}

func TestRecorderConcurrentUse(t *testing.T) {
	pr := NewPrometheusRecorder(prom.NewRegistry())
	var r Recorder = pr

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.IncCacheResult(j%2 == 0)
				r.IncRendered("markdown")
			}
		}()
	}
	wg.Wait()

	require.InDelta(t, 400, metricValue(t, pr.Registry(), "stalagmite_cache_lookups_total", "hit"), 0)
	require.InDelta(t, 800, metricValue(t, pr.Registry(), "stalagmite_pages_rendered_total", "markdown"), 0)
}

// metricValue returns the counter or gauge value of the series of name whose
// single label has value label. An empty label matches unlabelled metrics.
func metricValue(t *testing.T, reg *prom.Registry, name, label string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" && (len(m.GetLabel()) != 1 || m.GetLabel()[0].GetValue() != label) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}
