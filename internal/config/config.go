// Package config loads the optional stalagmite.yaml project configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
)

// FileName is the project configuration file looked up in the project root.
const FileName = "stalagmite.yaml"

// CurrentVersion is the configuration format version written by Init.
const CurrentVersion = "1"

// Config is the project configuration. Every field has a default, so a
// project without stalagmite.yaml is valid.
type Config struct {
	Version string        `yaml:"version"`
	Paths   PathsConfig   `yaml:"paths"`
	Build   BuildConfig   `yaml:"build"`
	Publish PublishConfig `yaml:"publish"`
	Serve   ServeConfig   `yaml:"serve"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// PathsConfig names the project directories, relative to the project root.
type PathsConfig struct {
	Content string `yaml:"content"`
	Layouts string `yaml:"layouts"`
	Blocks  string `yaml:"blocks"`
	Assets  string `yaml:"assets"`
	Output  string `yaml:"output"`
	State   string `yaml:"state"`
}

// BuildConfig tunes the generation pipeline.
type BuildConfig struct {
	IOWorkers       int  `yaml:"io_workers"`      // router pool: load, digest, restore
	RenderWorkers   int  `yaml:"render_workers"`  // 0 means runtime.NumCPU()
	PersistWorkers  int  `yaml:"persist_workers"` // staging writes and cache commits
	QueueSize       int  `yaml:"queue_size"`      // capacity of each inter-stage channel
	DefaultPageSize int  `yaml:"default_page_size"`
	FailFast        bool `yaml:"fail_fast"`
}

// PublishConfig selects how staged output replaces the live output.
type PublishConfig struct {
	Mode  string `yaml:"mode"` // symlink|swap
	Fsync *bool  `yaml:"fsync,omitempty"`
}

// ServeConfig configures the development server.
type ServeConfig struct {
	Addr         string `yaml:"addr"`
	Debounce     string `yaml:"debounce"`      // e.g. "300ms"
	PollInterval string `yaml:"poll_interval"` // periodic rebuild, empty disables
	LiveReload   *bool  `yaml:"live_reload,omitempty"`
}

// NotifyConfig enables build event publication over NATS.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := applyDefaults(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads the configuration of the project at root. Environment files
// (.env, .env.local) in root are loaded first without overriding the
// existing environment, then ${VAR} references in the YAML are expanded.
// An empty path means root/stalagmite.yaml, which may be absent; an
// explicit path must exist.
func Load(root, path string) (*Config, error) {
	if err := loadEnvFiles(root); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to load environment file").Fatal().Build()
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	}
	// #nosec G304 -- path is the user's chosen config file
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return Default(), nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, ferrors.ConfigError("configuration file not found").WithContext("path", path).Build()
	case err != nil:
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
			Fatal().WithContext("path", path).Build()
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid configuration").
			Fatal().WithContext("path", path).Build()
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Version != "" && cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported configuration version: %s (expected %s)", cfg.Version, CurrentVersion)
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Init writes a configuration file with the defaults spelled out.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.NewError(ferrors.CategoryExists, "configuration file already exists").
			Fatal().WithContext("path", path).Build()
	}
	cfg := Default()
	cfg.Version = CurrentVersion
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func loadEnvFiles(root string) error {
	for _, name := range []string{".env", ".env.local"} {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}
