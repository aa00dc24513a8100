package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spool-sh/spool"
	"github.com/spool-sh/spool/internal/logger"
	"github.com/spool-sh/spool/internal/pool"
)

// command carries the state shared by all subcommand handlers: loaded
// config, the pool over the configured root, and the history sink.
type command struct {
	cfg  *spool.Config
	pool *spool.Pool
	sink spool.HistorySink
	log  *slog.Logger

	// exitCode is what main exits with after Execute returns; the
	// wrapper verb sets it to its child's code.
	exitCode int
}

func (c *command) init(ctx context.Context, configPath string, level slog.Level) error {
	cfg, err := spool.LoadConfig(configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = logger.NewCLI(level)
	slog.SetDefault(c.log)

	sink, err := spool.NewHistorySink(cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("history sink: %w", err)
	}
	c.sink = sink

	p, err := spool.NewPool(cfg, pool.WithSink(sink), pool.WithLogger(c.log))
	if err != nil {
		return err
	}
	if err := p.LoadRegistered(ctx); err != nil {
		return err
	}
	c.pool = p
	return nil
}

func (c *command) close() {
	if c.sink != nil {
		_ = c.sink.Close()
	}
}

func (c *command) detect(ctx context.Context) error {
	return c.pool.Detect(ctx, c.cfg.Search)
}

func newListCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List detected descriptors and registered tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.detect(cmd.Context()); err != nil {
				return err
			}
			fmt.Print(c.pool.ListString())
			return nil
		},
	}
}

func newRegisterCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "register <pattern>",
		Short: "Register detected tasks matching the pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.detect(ctx); err != nil {
				return err
			}
			matched, err := c.pool.Find(args[0])
			if err != nil {
				return err
			}
			var failed int
			for _, t := range matched {
				if t.Registered() {
					continue
				}
				if err := c.pool.Register(ctx, t); err != nil {
					failed++
					c.log.Error("register failed", "id", t.ID(), "error", err)
					continue
				}
				fmt.Printf("registered: %s\n", t.ID())
			}
			if failed > 0 {
				return fmt.Errorf("%d task(s) failed to register", failed)
			}
			return nil
		},
	}
}

func batchCmd(c *command, use, short string, op func(*spool.Pool, context.Context, string) (*spool.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := op(c.pool, cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return reportResult(res)
		},
	}
}

func reportResult(res *spool.Result) error {
	for _, e := range res.Errors {
		_, _ = fmt.Fprintln(os.Stderr, e)
	}
	fmt.Printf("%d matched, %d succeeded, %d failed\n", res.Matched, res.Succeeded, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d task(s) failed", res.Failed)
	}
	return nil
}

func newStartCmd(c *command) *cobra.Command {
	return batchCmd(c, "start <pattern>", "Start registered tasks matching the pattern", (*spool.Pool).Start)
}

func newStopCmd(c *command) *cobra.Command {
	return batchCmd(c, "stop <pattern>", "Gracefully stop active tasks matching the pattern", (*spool.Pool).Term)
}

func newKillCmd(c *command) *cobra.Command {
	return batchCmd(c, "kill <pattern>", "Forcefully stop active tasks matching the pattern", (*spool.Pool).Kill)
}

func newDestructCmd(c *command) *cobra.Command {
	return batchCmd(c, "destruct <pattern>", "Remove inactive registered tasks matching the pattern", (*spool.Pool).Destruct)
}

func newStatusCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status <pattern>",
		Short: "Show full status of registered tasks matching the pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.pool.StatusString(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(s)
			return nil
		},
	}
}
