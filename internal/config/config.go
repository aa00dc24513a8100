// Package config loads the spool configuration file. The file is TOML
// by default but viper accepts any of its supported formats when the
// path carries another suffix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/spool-sh/spool/internal/logger"
)

// Default values applied when the file or a key is absent.
const (
	DefaultRoot     = "."
	DefaultLockWait = 0 * time.Second // block indefinitely
)

// FileConfig represents the top-level config structure.
//
//	root = "/srv/spool/tasks"
//	search = ["descriptors/**/*.toml", "jobs/*.yaml"]
//	preferred_suffix = "toml"
//	lock_wait = "30s"
//	pattern = "regexp"
//
//	[history]
//	dsn = "sqlite:///var/lib/spool/history.db"
//
//	[log]
//	level = "info"
//	path = "/var/log/spool/spool.log"
type FileConfig struct {
	Root            string        `toml:"root" mapstructure:"root"`
	Search          []string      `toml:"search" mapstructure:"search"`
	PreferredSuffix string        `toml:"preferred_suffix" mapstructure:"preferred_suffix"`
	LockWait        time.Duration `toml:"lock_wait" mapstructure:"lock_wait"`
	Pattern         string        `toml:"pattern" mapstructure:"pattern"`
	History         HistoryConfig `toml:"history" mapstructure:"history"`
	Log             LogConfig     `toml:"log" mapstructure:"log"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level string            `toml:"level" mapstructure:"level"`
	File  logger.FileConfig `toml:"file" mapstructure:"file,squash"`
}

// Load reads the config at path. An empty path falls back to
// $SPOOL_CONFIG, then to spool.toml in the working directory; a missing
// file yields defaults, but a present-and-broken file is an error.
func Load(path string) (*FileConfig, error) {
	fc := &FileConfig{
		Root:     DefaultRoot,
		LockWait: DefaultLockWait,
		Pattern:  "exact",
		Log:      LogConfig{Level: "info"},
	}
	if path == "" {
		path = os.Getenv("SPOOL_CONFIG")
	}
	if path == "" {
		path = "spool.toml"
		if _, err := os.Stat(path); err != nil {
			return fc, nil
		}
	}
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if fc.Root == "" {
		fc.Root = DefaultRoot
	}
	return fc, nil
}
