package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const appName = "shelf"

type Config struct {
	LibrarySources []string `koanf:"library_sources"` // paths to scan for music library

	Database DatabaseConfig `koanf:"database"`
	Scan     ScanConfig     `koanf:"scan"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// DatabaseConfig locates the SQLite files.
type DatabaseConfig struct {
	Library  string `koanf:"library"`  // artists, albums, tracks, playlists
	Settings string `koanf:"settings"` // owned by other tools, never opened here
}

// ScanConfig tunes the library scanner.
type ScanConfig struct {
	Workers         int    `koanf:"workers"`           // extraction goroutines (default: 8)
	Checkpoint      string `koanf:"checkpoint"`        // scan record path
	WatchDebounceMS int    `koanf:"watch_debounce_ms"` // quiet time before a watch rescan (default: 2000)
	Schedule        string `koanf:"schedule"`          // cron spec for periodic rescans, empty disables
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `koanf:"level"` // "debug", "info", "warn", "error" or "silent" (default: "info")
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `koanf:"addr"` // e.g. ":9464", empty disables
}

// ErrSameDatabase is returned when the library and settings databases share
// a path.
var ErrSameDatabase = errors.New("library and settings databases must be different files")

// Load reads the config files and applies defaults. A non-empty explicit
// path replaces the usual lookup and must exist.
func Load(explicit string) (*Config, error) {
	k := koanf.New(".")

	if explicit != "" {
		if err := k.Load(file.Provider(expandPath(explicit)), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", explicit, err)
		}
	} else {
		// Try config files in order of priority (last wins)
		for _, path := range getConfigPaths() {
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
					return nil, fmt.Errorf("load %s: %w", path, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	// Expand ~ in library_sources
	for i, src := range c.LibrarySources {
		c.LibrarySources[i] = expandPath(src)
	}
	if len(c.LibrarySources) == 0 && xdg.UserDirs.Music != "" {
		c.LibrarySources = []string{xdg.UserDirs.Music}
	}

	var err error
	if c.Database.Library == "" {
		if c.Database.Library, err = xdg.DataFile(filepath.Join(appName, "library.db")); err != nil {
			return fmt.Errorf("default library path: %w", err)
		}
	}
	c.Database.Library = expandPath(c.Database.Library)
	c.Database.Settings = expandPath(c.Database.Settings)

	if c.Scan.Checkpoint == "" {
		if c.Scan.Checkpoint, err = xdg.DataFile(filepath.Join(appName, "scan_record.json")); err != nil {
			return fmt.Errorf("default checkpoint path: %w", err)
		}
	}
	c.Scan.Checkpoint = expandPath(c.Scan.Checkpoint)

	if c.Scan.Workers <= 0 {
		c.Scan.Workers = 8
	}
	if c.Scan.WatchDebounceMS <= 0 {
		c.Scan.WatchDebounceMS = 2000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Database.Settings == "" {
		return nil
	}
	lib, err := filepath.Abs(c.Database.Library)
	if err != nil {
		return err
	}
	settings, err := filepath.Abs(c.Database.Settings)
	if err != nil {
		return err
	}
	if lib == settings {
		return fmt.Errorf("%w: %s", ErrSameDatabase, lib)
	}
	return nil
}

// WatchDebounce returns the watch quiet time as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Scan.WatchDebounceMS) * time.Millisecond
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/shelf/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appName, "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
