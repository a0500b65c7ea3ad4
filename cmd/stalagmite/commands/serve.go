package commands

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/stalagmite/internal/config"
	"git.home.luguber.info/inful/stalagmite/internal/devserver"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/metrics"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr         string `help:"Listen address (default: serve.addr)"`
	Debounce     string `help:"Quiet period before rebuilding (default: serve.debounce)"`
	PollInterval string `name:"poll-interval" help:"Also rebuild periodically, e.g. 30s"`
	NoLiveReload bool   `name:"no-live-reload" help:"Do not inject the live-reload script"`
}

func (c *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, p, err := root.load()
	if err != nil {
		return err
	}
	if err := c.apply(&cfg.Serve); err != nil {
		return err
	}

	reg := prom.NewRegistry()
	gen, closeFn, err := newGenerator(g, p, cfg, metrics.NewPrometheusRecorder(reg))
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	srv := devserver.New(gen, p, cfg.Serve,
		devserver.WithLogger(g.Logger),
		devserver.WithRegistry(reg),
		devserver.WithWatchFiles(root.configPath(p)),
	)
	return srv.Run(ctx)
}

// apply copies flag overrides into the serve config.
func (c *ServeCmd) apply(s *config.ServeConfig) error {
	if c.Addr != "" {
		s.Addr = c.Addr
	}
	if c.Debounce != "" {
		if _, err := time.ParseDuration(c.Debounce); err != nil {
			return ferrors.ValidationError("invalid --debounce duration").WithContext("value", c.Debounce).Build()
		}
		s.Debounce = c.Debounce
	}
	if c.PollInterval != "" {
		d, err := time.ParseDuration(c.PollInterval)
		if err != nil || d < time.Second {
			return ferrors.ValidationError("--poll-interval must be a duration of at least 1s").
				WithContext("value", c.PollInterval).Build()
		}
		s.PollInterval = c.PollInterval
	}
	if c.NoLiveReload {
		off := false
		s.LiveReload = &off
	}
	return nil
}
