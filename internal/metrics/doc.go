// Package metrics provides the observability hooks of a generation run.
//
// Components receive a Recorder and call it unconditionally. NoopRecorder is
// the default; PrometheusRecorder backs `generate --metrics-file` (written in
// the text exposition format) and the /metrics endpoint of `serve`.
//
//	rec := metrics.NewPrometheusRecorder(nil)
//	gen := generator.New(project, generator.WithRecorder(rec))
package metrics
