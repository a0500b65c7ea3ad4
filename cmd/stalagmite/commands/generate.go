package commands

import (
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/stalagmite/internal/generator"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
	"git.home.luguber.info/inful/stalagmite/internal/metrics"
)

// GenerateCmd implements the 'generate' command.
type GenerateCmd struct {
	NoCache     bool   `name:"no-cache" help:"Ignore cached output and render every artifact"`
	FailFast    bool   `name:"fail-fast" help:"Abort and publish nothing on the first artifact failure"`
	MetricsFile string `name:"metrics-file" help:"Write Prometheus metrics in text format to this file" type:"path"`
}

func (c *GenerateCmd) Run(g *Global, root *CLI) error {
	cfg, p, err := root.load()
	if err != nil {
		return err
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	var prec *metrics.PrometheusRecorder
	if c.MetricsFile != "" {
		prec = metrics.NewPrometheusRecorder(prom.NewRegistry())
		rec = prec
	}

	gen, closeFn, err := newGenerator(g, p, cfg, rec)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	g.Logger.Info("Generating site", slog.String("content", p.Content), logfields.Output(p.Output))
	report, err := gen.Generate(ctx, generator.RunOptions{NoCache: c.NoCache, FailFast: c.FailFast})
	printReport(g, report, err)

	if prec != nil {
		if werr := prec.WriteTextfile(c.MetricsFile); werr != nil {
			g.Logger.Warn("Failed to write metrics file", logfields.Path(c.MetricsFile), logfields.Error(werr))
		}
	}
	return err
}
