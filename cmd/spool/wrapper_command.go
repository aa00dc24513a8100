package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spool-sh/spool/internal/logger"
	"github.com/spool-sh/spool/internal/record"
	"github.com/spool-sh/spool/internal/task"
	"github.com/spool-sh/spool/internal/wrapper"
)

// newWrapperCmd is the hidden in-child entry point: backends submit
// "spool wrapper <dir>" so the supervisor runs inside the session or
// job that the backend created. Its exit code is the child's.
func newWrapperCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:    "wrapper <task-dir>",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			t, err := task.FromDir(ctx, dir)
			if err != nil {
				return fmt.Errorf("wrapper: load %s: %w", dir, err)
			}

			// The wrapper runs detached from any terminal; its own
			// diagnostics go to a rotating file next to the record.
			log, closer := logger.NewFile(logger.FileConfig{
				Path: filepath.Join(dir, "wrapper.log"),
			}, slog.LevelDebug)
			defer func() { _ = closer.Close() }()
			slog.SetDefault(log)

			typ, _ := record.String(t.Record().Data(), task.Tag, "wrapper", "type")
			w, err := wrapper.New(typ)
			if err != nil {
				return fmt.Errorf("wrapper: %w", err)
			}

			p, err := wrapper.NewProc(t.Record(), task.Tag)
			if err != nil {
				return fmt.Errorf("wrapper: %w", err)
			}

			code, err := w.Run(ctx, p)
			if err != nil {
				log.Error("wrapper run failed", "task", t.ID(), "error", err)
				return err
			}
			// main propagates this after Execute, so the deferred log
			// closer and the sink close in PersistentPostRun still run.
			c.exitCode = code
			return nil
		},
	}
}
