// Package vconfig loads and persists the on-disk configuration record:
// API host, device credentials, user credentials, device name, cache
// path, worker count, filter lists, and the CDP delay override.
//
// Grounded on the engine's general TOML-plus-atomic-write idiom (no
// single teacher file owns this shape directly; BurntSushi/toml is the
// pack's TOML library and natefinch/atomic is used the same way the
// cache and config files elsewhere in the pack perform crash-safe
// writes).
package vconfig

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

// Config is the full on-disk configuration record.
type Config struct {
	APIHost string `toml:"api_host"`

	DeviceName string `toml:"device_name"`
	DeviceAuth Auth   `toml:"device_auth"`
	UserAuth   Auth   `toml:"user_auth"`

	CachePath string `toml:"cache_path"`
	Workers   int    `toml:"workers"`

	Filter Filter `toml:"filter"`

	// CDPDelay overrides the scheduler's default 1s initial deadline;
	// zero means "use the built-in default".
	CDPDelay time.Duration `toml:"cdp_delay"`

	Roots []string `toml:"roots"`
}

// Auth holds HTTP basic-auth credentials: either device aname/apass, or
// user-scoped credentials.
type Auth struct {
	Name     string `toml:"name"`
	Password string `toml:"password"`
}

// Filter mirrors the filter lists the configuration carries.
type Filter struct {
	IncludedPaths []string `toml:"included_paths"`
	ExcludedPaths []string `toml:"excluded_paths"`

	// ExcludedFilesystemTypes is parsed but not yet enforced - no caller
	// currently feeds Filter.Admit a non-empty fsType.
	ExcludedFilesystemTypes []string `toml:"excluded_filesystem_types"`
	ExcludedNamePatterns    []string `toml:"excluded_name_patterns"`
}

// DefaultWorkers is the default worker pool size.
const DefaultWorkers = 4

// Load reads and parses a TOML config file at path.
func Load(path string) (Config, error) {
	var cfg Config

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	return cfg, nil
}

// Save atomically writes cfg to path (natefinch/atomic.WriteFile ensures
// a crash mid-write never leaves a truncated config behind).
func Save(path string, cfg Config) error {
	var sb strings.Builder

	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}

	if err := atomic.WriteFile(path, strings.NewReader(sb.String())); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}

	return nil
}

// EnsureDefault writes a template config to path if none exists yet,
// used by the CLI's "config init" subcommand.
func EnsureDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("config already exists at %s", path)
	}

	return Save(path, Config{
		APIHost:   "https://api.example.com",
		CachePath: "cache.db",
		Workers:   DefaultWorkers,
	})
}
