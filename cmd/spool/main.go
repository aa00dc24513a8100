package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spool-sh/spool/internal/logger"
)

func main() {
	root, c := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// The wrapper verb relays its child's exit code; exiting here keeps
	// deferred closers and PersistentPostRun intact.
	os.Exit(c.exitCode)
}

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

func buildRoot() (*cobra.Command, *command) {
	var gf GlobalFlags
	c := &command{}

	root := &cobra.Command{
		Use:   "spool",
		Short: "spool manages persistent task records and their processes",
		Long: "spool keeps each task as a pair of schema-validated files on disk,\n" +
			"submits the task's command through a pluggable backend (screen, slurm),\n" +
			"and supervises the child via an in-process wrapper.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logger.ParseLevel("info")
			if gf.Verbose {
				level = logger.ParseLevel("debug")
			}
			return c.init(cmd.Context(), gf.ConfigPath, level)
		},
		PersistentPostRun: func(*cobra.Command, []string) { c.close() },
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVarP(&gf.Verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newListCmd(c),
		newRegisterCmd(c),
		newStartCmd(c),
		newStopCmd(c),
		newKillCmd(c),
		newStatusCmd(c),
		newDestructCmd(c),
		newWatchCmd(c),
		newWrapperCmd(c),
	)
	return root, c
}
