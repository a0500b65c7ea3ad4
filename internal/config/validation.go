package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

func validate(cfg *Config) error {
	for _, check := range []func(*Config) error{validatePaths, validateBuild, validatePublish, validateServe} {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validatePaths(cfg *Config) error {
	p := cfg.Paths
	seen := map[string]string{}
	for name, dir := range map[string]string{
		"content": p.Content, "layouts": p.Layouts, "blocks": p.Blocks,
		"assets": p.Assets, "output": p.Output, "state": p.State,
	} {
		clean := filepath.Clean(dir)
		if other, dup := seen[clean]; dup {
			return fmt.Errorf("paths.%s and paths.%s both point at %s", name, other, dir)
		}
		seen[clean] = name
	}
	if filepath.Clean(p.Output) == "." {
		return errors.New("paths.output must not be the project root")
	}
	return nil
}

func validateBuild(cfg *Config) error {
	if cfg.Build.DefaultPageSize < 0 {
		return fmt.Errorf("build.default_page_size must be positive, got %d", cfg.Build.DefaultPageSize)
	}
	return nil
}

func validatePublish(cfg *Config) error {
	switch cfg.Publish.Mode {
	case "symlink", "swap":
		return nil
	default:
		return fmt.Errorf("publish.mode must be symlink or swap, got %q", cfg.Publish.Mode)
	}
}

func validateServe(cfg *Config) error {
	if _, err := time.ParseDuration(cfg.Serve.Debounce); err != nil {
		return fmt.Errorf("serve.debounce: %w", err)
	}
	if cfg.Serve.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Serve.PollInterval)
		if err != nil {
			return fmt.Errorf("serve.poll_interval: %w", err)
		}
		if d < time.Second {
			return fmt.Errorf("serve.poll_interval must be at least 1s, got %s", d)
		}
	}
	return nil
}

// DebounceDuration returns the parsed serve.debounce value.
func (s ServeConfig) DebounceDuration() time.Duration {
	d, _ := time.ParseDuration(s.Debounce)
	return d
}

// PollDuration returns the parsed serve.poll_interval, zero when disabled.
func (s ServeConfig) PollDuration() time.Duration {
	if s.PollInterval == "" {
		return 0
	}
	d, _ := time.ParseDuration(s.PollInterval)
	return d
}
