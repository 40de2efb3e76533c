// Package config loads and validates the masfimg YAML configuration.
// All size strings are parsed and all rules, patterns, and packager
// settings are checked at load time, so a run never discovers a
// malformed configuration mid-walk.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/masfimg/masfimg/internal/packager"
	"github.com/masfimg/masfimg/internal/policy"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Packager PackagerConfig `yaml:"packager"`
	History  HistoryConfig  `yaml:"history"`
}

// SnapshotConfig holds the selective-replication settings
type SnapshotConfig struct {
	// Rules whitelist extensions up to a size; a file keeps full
	// content when any rule matches (boundary inclusive).
	Rules []RuleConfig `yaml:"rules"`
	// GlobalLimit applies when no rules are configured. "0" means
	// never include content by size.
	GlobalLimit string `yaml:"global_limit"`
	// Excludes are doublestar patterns for entries omitted entirely.
	Excludes []string `yaml:"excludes"`
	// StagingDir overrides the parent of the per-run staging root.
	StagingDir string `yaml:"staging_dir"`
	// Workers is the content-copy worker count; 1 keeps traversal order.
	Workers int `yaml:"workers"`
}

// RuleConfig is the YAML form of one inclusion rule
type RuleConfig struct {
	Extensions []string `yaml:"extensions"`
	MaxSize    string   `yaml:"max_size"`
}

// PackagerConfig selects the image packager
type PackagerConfig struct {
	Type             string `yaml:"type"`        // "squashfs" or "tar"
	Compression      string `yaml:"compression"` // backend-specific algorithm
	MksquashfsBinary string `yaml:"mksquashfs_binary"`
}

// HistoryConfig controls the run catalog
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Snapshot: SnapshotConfig{
			GlobalLimit: "0",
			Workers:     1,
		},
		Packager: PackagerConfig{
			Type:             "squashfs",
			Compression:      "zstd",
			MksquashfsBinary: "mksquashfs",
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "",
		},
	}
}

// Load reads a config file from the given path and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"masfimg.yaml",
		"/etc/masfimg/masfimg.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "masfimg", "masfimg.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate rejects malformed rules, sizes, patterns, and packager
// settings before any filesystem work starts.
func (c *Config) Validate() error {
	if _, err := c.Rules(); err != nil {
		return err
	}
	if _, err := c.GlobalLimitBytes(); err != nil {
		return err
	}
	if _, err := policy.CompileExclusions(c.Snapshot.Excludes); err != nil {
		return err
	}
	if c.Snapshot.Workers < 0 {
		return fmt.Errorf("snapshot.workers must not be negative: %d", c.Snapshot.Workers)
	}

	// The packager constructors validate type and compression without
	// touching the filesystem, so a bad setting fails here, not mid-run.
	if _, err := packager.New(c.PackagerConfig(), nil); err != nil {
		return fmt.Errorf("packager: %w", err)
	}
	return nil
}

// PackagerConfig converts the YAML packager section into the packager
// factory's config.
func (c *Config) PackagerConfig() packager.Config {
	return packager.Config{
		Type:             c.Packager.Type,
		Compression:      c.Packager.Compression,
		MksquashfsBinary: c.Packager.MksquashfsBinary,
	}
}

// Rules converts the YAML rule list into policy rules
func (c *Config) Rules() ([]policy.Rule, error) {
	rules := make([]policy.Rule, 0, len(c.Snapshot.Rules))
	for i, rc := range c.Snapshot.Rules {
		maxSize, err := policy.ParseSize(rc.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("snapshot.rules[%d].max_size: %w", i, err)
		}
		rules = append(rules, policy.Rule{
			Extensions: rc.Extensions,
			MaxSize:    maxSize,
		})
	}
	return rules, nil
}

// GlobalLimitBytes parses the global size limit
func (c *Config) GlobalLimitBytes() (int64, error) {
	if c.Snapshot.GlobalLimit == "" {
		return 0, nil
	}
	limit, err := policy.ParseSize(c.Snapshot.GlobalLimit)
	if err != nil {
		return 0, fmt.Errorf("snapshot.global_limit: %w", err)
	}
	return limit, nil
}
