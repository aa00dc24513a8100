package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// newWatchCmd follows meta-file writes under the pool root and
// re-prints one status line per matched task whenever something
// changes. Writes arrive in bursts (locked dump is rename-based), so
// events are debounced before re-reading.
func newWatchCmd(c *command) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <pattern>",
		Short: "Watch matching tasks and print status lines on change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Close() }()

			matched, err := c.pool.Find(args[0])
			if err != nil {
				return err
			}
			watchedDirs := map[string]bool{}
			for _, t := range matched {
				if !t.Registered() {
					continue
				}
				dir := t.Dir()
				if watchedDirs[dir] {
					continue
				}
				if err := watcher.Add(dir); err != nil {
					return fmt.Errorf("watch %s: %w", dir, err)
				}
				watchedDirs[dir] = true
			}
			if len(watchedDirs) == 0 {
				return fmt.Errorf("no registered tasks match %q", args[0])
			}

			printAll := func() {
				s, err := c.pool.StatusString(ctx, args[0])
				if err != nil {
					c.log.Warn("status refresh failed", "error", err)
					return
				}
				fmt.Printf("--- %s\n%s", time.Now().Format(time.RFC3339), s)
			}
			printAll()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			var debounce *time.Timer
			fire := make(chan struct{}, 1)
			for {
				select {
				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					// Lock sidecars churn on every read; ignore them.
					if filepath.Ext(ev.Name) == ".lock" {
						continue
					}
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(interval, func() {
						select {
						case fire <- struct{}{}:
						default:
						}
					})
				case <-fire:
					printAll()
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					c.log.Warn("watcher error", "error", err)
				case <-sigCh:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "debounce", 250*time.Millisecond, "delay before re-reading after a change")
	return cmd
}
