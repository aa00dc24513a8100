// Package logger builds the slog loggers used by the CLI and the
// wrapper supervisor: colored terminal output for interactive use, and
// rotating file output for long-running wrapper processes.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// FileConfig describes a rotating log file.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ParseLevel maps a config string to a slog level. Unknown strings
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewCLI returns a logger writing colored text to stderr.
func NewCLI(level slog.Level) *slog.Logger {
	return slog.New(NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewFile returns a logger writing plain text to a rotating file, plus
// the closer for the underlying writer. The caller owns the closer.
func NewFile(cfg FileConfig, level slog.Level) (*slog.Logger, io.Closer) {
	w := &lj.Logger{
		Filename:   cfg.Path,
		MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   cfg.Compress,
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), w
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
