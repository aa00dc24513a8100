package spool

import (
	"context"
	"time"

	cfg "github.com/spool-sh/spool/internal/config"
	"github.com/spool-sh/spool/internal/history"
	"github.com/spool-sh/spool/internal/history/factory"
	"github.com/spool-sh/spool/internal/lockfile"
	"github.com/spool-sh/spool/internal/pattern"
	"github.com/spool-sh/spool/internal/pool"
	"github.com/spool-sh/spool/internal/record"
	"github.com/spool-sh/spool/internal/task"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Tree = record.Tree

type Record = record.Record

type Snapshot = record.Snapshot

type Task = task.Task

type Status = task.Status

type Pool = pool.Pool

type Result = pool.Result

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Config = cfg.FileConfig

// LoadConfig reads the configuration file at path (empty selects the
// default search order).
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySink builds a sink from a DSN; empty DSN yields a no-op.
func NewHistorySink(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// NewPool builds a pool from configuration: root directory, id
// matching strategy and lock wait policy all come from c.
func NewPool(c *Config, opts ...pool.Option) (*Pool, error) {
	var m pattern.Matcher = pattern.Exact{}
	if c.Pattern == "regexp" {
		m = pattern.Regexp{}
	}
	if c.LockWait > 0 {
		opts = append(opts, pool.WithLockOptions(lockfile.WithTimeout(c.LockWait)))
	}
	if c.PreferredSuffix != "" {
		opts = append(opts, pool.WithPreferredSuffix(c.PreferredSuffix))
	}
	return pool.New(c.Root, m, opts...)
}

// TaskFromDescriptor loads a standalone descriptor file as a detected,
// unregistered task.
func TaskFromDescriptor(ctx context.Context, path string) (*Task, error) {
	return task.FromDescriptor(ctx, path)
}

// TaskFromDir loads a registered task from its entity directory.
func TaskFromDir(ctx context.Context, dir string) (*Task, error) {
	return task.FromDir(ctx, dir)
}

// LockTimeout builds the lock option used by pools and records.
func LockTimeout(d time.Duration) lockfile.Option { return lockfile.WithTimeout(d) }
