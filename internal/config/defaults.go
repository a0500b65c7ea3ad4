package config

import (
	"fmt"
	"runtime"

	"git.home.luguber.info/inful/stalagmite/internal/rules"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

func appliers() []DefaultApplier {
	return []DefaultApplier{
		&PathsDefaultApplier{},
		&BuildDefaultApplier{},
		&PublishDefaultApplier{},
		&ServeDefaultApplier{},
		&NotifyDefaultApplier{},
	}
}

func applyDefaults(cfg *Config) error {
	for _, a := range appliers() {
		if err := a.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", a.Domain(), err)
		}
	}
	return nil
}

// PathsDefaultApplier fills in the conventional directory names.
type PathsDefaultApplier struct{}

func (PathsDefaultApplier) Domain() string { return "paths" }

func (PathsDefaultApplier) ApplyDefaults(cfg *Config) error {
	p := &cfg.Paths
	for _, f := range []struct {
		v   *string
		def string
	}{
		{&p.Content, "pages"},
		{&p.Layouts, "layouts"},
		{&p.Blocks, "blocks"},
		{&p.Assets, "assets"},
		{&p.Output, "public"},
		{&p.State, ".stalagmite"},
	} {
		if *f.v == "" {
			*f.v = f.def
		}
	}
	return nil
}

// BuildDefaultApplier sizes the worker pools.
type BuildDefaultApplier struct{}

func (BuildDefaultApplier) Domain() string { return "build" }

func (BuildDefaultApplier) ApplyDefaults(cfg *Config) error {
	b := &cfg.Build
	if b.RenderWorkers <= 0 {
		b.RenderWorkers = runtime.NumCPU()
	}
	if b.IOWorkers <= 0 {
		b.IOWorkers = 2 * runtime.NumCPU()
	}
	if b.PersistWorkers <= 0 {
		b.PersistWorkers = 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.DefaultPageSize == 0 {
		b.DefaultPageSize = rules.DefaultPageSize
	}
	return nil
}

// PublishDefaultApplier selects the symlink strategy with fsync on.
type PublishDefaultApplier struct{}

func (PublishDefaultApplier) Domain() string { return "publish" }

func (PublishDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Publish.Mode == "" {
		cfg.Publish.Mode = "symlink"
	}
	if cfg.Publish.Fsync == nil {
		on := true
		cfg.Publish.Fsync = &on
	}
	return nil
}

// ServeDefaultApplier sets the development server defaults.
type ServeDefaultApplier struct{}

func (ServeDefaultApplier) Domain() string { return "serve" }

func (ServeDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Serve.Addr == "" {
		cfg.Serve.Addr = "127.0.0.1:8080"
	}
	if cfg.Serve.Debounce == "" {
		cfg.Serve.Debounce = "300ms"
	}
	if cfg.Serve.LiveReload == nil {
		on := true
		cfg.Serve.LiveReload = &on
	}
	return nil
}

// NotifyDefaultApplier sets the NATS subject used when a URL is configured.
type NotifyDefaultApplier struct{}

func (NotifyDefaultApplier) Domain() string { return "notify" }

func (NotifyDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Notify.NATSURL != "" && cfg.Notify.Subject == "" {
		cfg.Notify.Subject = "stalagmite.site.published"
	}
	return nil
}
