// Package config provides configuration loading for the governor: process
// host, sync directories, named filesystems, permission grants, and the
// file materialization policy used by the synchronizer.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by the governor
const (
	// EnvHost names the host workers are spawned on
	EnvHost = "APP_HOST"

	// EnvSource is the sync source/target directory
	EnvSource = "APP_SRC"

	// EnvFilesystem selects the named filesystem for sync operations
	EnvFilesystem = "APP_FS"
)

// DefaultProcessHost is used when APP_HOST is unset
const DefaultProcessHost = "app:processes"

// Config is the root governor configuration
type Config struct {
	// ProcessHost names the host workers are spawned on
	ProcessHost string `yaml:"processHost,omitempty"`

	// SourceDir is the default directory for upload/download
	SourceDir string `yaml:"sourceDir,omitempty"`

	// Filesystem is the default named filesystem for sync operations
	Filesystem string `yaml:"filesystem,omitempty"`

	// Filesystems maps filesystem ids to their root directories
	Filesystems map[string]string `yaml:"filesystems,omitempty"`

	// Grants is the permission table: user id → allowed actions. An empty
	// table allows everything.
	Grants map[string][]string `yaml:"grants,omitempty"`

	// Materialize is the file materialization policy; defaults are used
	// when omitted
	Materialize *Policy `yaml:"materialize,omitempty"`

	// Telemetry toggles the metrics exporter
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig controls the metrics exporter
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Option configures the loader
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}
		cfg.path = filepath.Clean(path)
		return nil
	}
}

// Load builds a Config from the given options, then applies environment
// overrides and defaults
func Load(opts ...Option) (*Config, error) {
	lc := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(lc); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if lc.path != "" {
		data, err := os.ReadFile(lc.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", lc.path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", lc.path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHost); v != "" {
		c.ProcessHost = v
	}
	if v := os.Getenv(EnvSource); v != "" {
		c.SourceDir = v
	}
	if v := os.Getenv(EnvFilesystem); v != "" {
		c.Filesystem = v
	}
}

func (c *Config) applyDefaults() {
	if c.ProcessHost == "" {
		c.ProcessHost = DefaultProcessHost
	}
	if c.Materialize == nil {
		c.Materialize = DefaultPolicy()
	} else {
		if len(c.Materialize.Rules) == 0 {
			c.Materialize.Rules = DefaultPolicy().Rules
		}
		if len(c.Materialize.FieldOrder) == 0 {
			c.Materialize.FieldOrder = DefaultPolicy().FieldOrder
		}
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	for id, root := range c.Filesystems {
		if id == "" {
			return fmt.Errorf("filesystem with empty id")
		}
		if root == "" {
			return fmt.Errorf("filesystem %s has no root directory", id)
		}
	}
	if c.Filesystem != "" && c.Filesystems != nil {
		if _, ok := c.Filesystems[c.Filesystem]; !ok {
			return fmt.Errorf("default filesystem %s is not declared", c.Filesystem)
		}
	}
	return nil
}

// ResolveDir returns the effective sync directory for the given overrides:
// an explicit directory wins, then a named filesystem root, then the
// configured source directory.
func (c *Config) ResolveDir(directory, filesystem string) (string, error) {
	if directory != "" {
		return directory, nil
	}
	fsID := filesystem
	if fsID == "" {
		fsID = c.Filesystem
	}
	if fsID != "" {
		root, ok := c.Filesystems[fsID]
		if !ok {
			return "", fmt.Errorf("unknown filesystem: %s", fsID)
		}
		return root, nil
	}
	if c.SourceDir != "" {
		return c.SourceDir, nil
	}
	return "", fmt.Errorf("no sync directory configured: set options.directory, %s, or %s", EnvSource, EnvFilesystem)
}
