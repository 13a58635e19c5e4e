// Package config loads the recent-scrub configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/recent-scrub/pkg/blacklist"
	"github.com/entrhq/recent-scrub/pkg/logging"
	"github.com/entrhq/recent-scrub/pkg/registry/xbel"
)

// EnvPath names the environment variable overriding the config file location.
const EnvPath = "RECENT_SCRUB_CONFIG"

// Config is the complete runtime configuration.
type Config struct {
	// Blacklist is the path of the blacklist file.
	Blacklist string `yaml:"blacklist"`

	// Debounce is the coalescing window for change notifications.
	Debounce time.Duration `yaml:"debounce"`

	// Targets are registry file patterns (~, $VAR and globs allowed).
	Targets []string `yaml:"targets"`

	// ReloadBlacklist re-reads the blacklist when its file changes.
	ReloadBlacklist bool `yaml:"reload_blacklist"`

	Logging Logging `yaml:"logging"`
}

// Logging configures log output.
type Logging struct {
	// Verbosity shifts the level: 1 info, 2 debug, -1 error.
	Verbosity int `yaml:"verbosity"`

	// File is a log file path, "auto" for the per-session file, or empty.
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Blacklist:       blacklist.DefaultPath(),
		Debounce:        time.Second,
		Targets:         []string{xbel.DefaultPath()},
		ReloadBlacklist: true,
	}
}

// Path returns the config file location: $RECENT_SCRUB_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/recent-scrub/config.yaml.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return filepath.Join(xdg.ConfigHome, "recent-scrub", "config.yaml")
}

// Load reads the config file at path on top of the defaults. The file must
// exist. Unknown keys are rejected.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(data, path)
}

// LoadDefault reads the config file at Path. A missing file yields the
// defaults.
func LoadDefault(fs afero.Fs) (*Config, error) {
	cfg, err := Load(fs, Path())
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func parse(data []byte, path string) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.Blacklist = expandPath(cfg.Blacklist)
	if cfg.Logging.File != "" && cfg.Logging.File != logging.AutoFile {
		cfg.Logging.File = expandPath(cfg.Logging.File)
	}
	return cfg, nil
}

// Validate checks the configuration for values the watcher cannot use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Blacklist) == "" {
		return fmt.Errorf("blacklist path is required")
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce cannot be negative")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	for i, t := range c.Targets {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("target %d is empty", i)
		}
	}
	return nil
}

func expandPath(p string) string {
	p = os.ExpandEnv(strings.TrimSpace(p))
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(homeDir, strings.TrimPrefix(p[1:], "/"))
}
