// Package config loads the importer configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the importer configuration.
type Config struct {
	// Package restricts imports to this source package when set.
	Package string `yaml:"package,omitempty"`

	Branches  BranchConfig    `yaml:"branches"`
	Tags      TagConfig       `yaml:"tags"`
	Committer CommitterConfig `yaml:"committer"`

	// TarballStore is the cache directory for orig tarballs.
	TarballStore string `yaml:"tarball_store,omitempty"`
}

// BranchConfig names the two commit lines.
type BranchConfig struct {
	Upstream  string `yaml:"upstream"`
	Packaging string `yaml:"packaging"`
}

// TagConfig sets the tag naming convention.
type TagConfig struct {
	UpstreamPrefix  string `yaml:"upstream_prefix"`
	PackagingPrefix string `yaml:"packaging_prefix"`
}

// CommitterConfig is the identity recorded on synthesized commits.
type CommitterConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Branches:     BranchConfig{Upstream: "upstream", Packaging: "debian/latest"},
		Tags:         TagConfig{UpstreamPrefix: "upstream-", PackagingPrefix: "debian/"},
		Committer:    CommitterConfig{Name: "debimport", Email: "debimport@localhost"},
		TarballStore: ".debimport/tarballs",
	}
}

// Load reads a configuration file and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fillDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// Write writes the configuration to path. An existing file is only
// overwritten when force is set.
func (c *Config) Write(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Branches.Upstream == "" {
		cfg.Branches.Upstream = def.Branches.Upstream
	}
	if cfg.Branches.Packaging == "" {
		cfg.Branches.Packaging = def.Branches.Packaging
	}
	if cfg.Tags.UpstreamPrefix == "" {
		cfg.Tags.UpstreamPrefix = def.Tags.UpstreamPrefix
	}
	if cfg.Tags.PackagingPrefix == "" {
		cfg.Tags.PackagingPrefix = def.Tags.PackagingPrefix
	}
	if cfg.Committer.Name == "" {
		cfg.Committer.Name = def.Committer.Name
	}
	if cfg.Committer.Email == "" {
		cfg.Committer.Email = def.Committer.Email
	}
	if cfg.TarballStore == "" {
		cfg.TarballStore = def.TarballStore
	}
}

// applyEnv applies DEBIMPORT_* environment overrides on top of file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DEBIMPORT_COMMITTER_NAME"); v != "" {
		cfg.Committer.Name = v
	}
	if v := os.Getenv("DEBIMPORT_COMMITTER_EMAIL"); v != "" {
		cfg.Committer.Email = v
	}
	if v := os.Getenv("DEBIMPORT_TARBALL_STORE"); v != "" {
		cfg.TarballStore = v
	}
}
