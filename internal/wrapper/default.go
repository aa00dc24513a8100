package wrapper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/spool-sh/spool/internal/record"
)

// TypeDefault is the type tag of the standard wrapper.
const TypeDefault = "default"

// Default runs the user command as a grandchild of the backend's
// process, in its own process group.
//
// stdin is a named pipe whose write end this wrapper holds open for the
// child's entire lifetime: without a writer attached, the first read
// would see EOF the moment the submitting terminal goes away.
type Default struct {
	log *slog.Logger

	// terminated flips when a forwarded signal requested shutdown, so
	// the closing session can record the distinction from a natural exit.
	terminated atomic.Bool
}

// NewDefault builds the default wrapper.
func NewDefault() Wrapper {
	return &Default{log: slog.Default().With("wrapper", TypeDefault)}
}

func (w *Default) Type() string { return TypeDefault }

// Run spawns the command, persists its pid immediately, supervises it
// to completion, and persists exit code and finish time. The returned
// int is the child's exit code.
func (w *Default) Run(ctx context.Context, p *Proc) (int, error) {
	stdinPath := filepath.Join(p.Dir, StdinFilename)
	stdoutPath := filepath.Join(p.Dir, StdoutFilename)
	stderrPath := stdoutPath
	if !p.Mixed {
		stderrPath = filepath.Join(p.Dir, StderrFilename)
	}

	_ = os.Remove(stdinPath)
	if err := unix.Mkfifo(stdinPath, 0o600); err != nil {
		return -1, fmt.Errorf("wrapper: mkfifo %s: %w", stdinPath, err)
	}

	// Open the read end non-blocking first (a plain O_RDONLY open would
	// wait for a writer), attach the held-open write end, then restore
	// blocking reads for the child.
	stdinR, err := os.OpenFile(stdinPath, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("wrapper: open fifo: %w", err)
	}
	defer func() { _ = stdinR.Close() }()
	stdinW, err := os.OpenFile(stdinPath, os.O_WRONLY, 0)
	if err != nil {
		return -1, fmt.Errorf("wrapper: open fifo writer: %w", err)
	}
	defer func() { _ = stdinW.Close() }()
	if err := unix.SetNonblock(int(stdinR.Fd()), false); err != nil {
		return -1, fmt.Errorf("wrapper: fifo blocking mode: %w", err)
	}

	stdout, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return -1, fmt.Errorf("wrapper: open stdout: %w", err)
	}
	defer func() { _ = stdout.Close() }()
	stderr := stdout
	if !p.Mixed {
		stderr, err = os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return -1, fmt.Errorf("wrapper: open stderr: %w", err)
		}
		defer func() { _ = stderr.Close() }()
	}

	// #nosec G204 -- the command is the task's declared payload
	cmd := exec.Command("/bin/sh", "-c", p.Command)
	cmd.Stdin = stdinR
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("wrapper: start %q: %w", p.Command, err)
	}
	pid := cmd.Process.Pid
	token := uuid.NewString()
	w.log.Info("spawned", "task", p.ID, "pid", pid, "run_token", token)

	if err := p.Rec.Session(ctx, func(r *record.Record) error {
		record.Set(r.Meta(), int64(pid), "wrapper", "process_pid")
		record.Set(r.Meta(), token, "wrapper", "run_token")
		record.Set(r.Meta(), stdinPath, "wrapper", "stdin_path")
		record.Set(r.Meta(), stdoutPath, "wrapper", "stdout_path")
		record.Set(r.Meta(), stderrPath, "wrapper", "stderr_path")
		return nil
	}); err != nil {
		// The child is already running; killing it over a bookkeeping
		// failure would lose the user's work. Supervise anyway.
		w.log.Error("persisting pid failed", "task", p.ID, "error", err)
	}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh)
	go w.handleSignals(p, pid, sigCh)

	waitErr := cmd.Wait()
	signal.Stop(sigCh)
	close(sigCh)

	code := cmd.ProcessState.ExitCode()
	if err := p.Rec.Session(ctx, func(r *record.Record) error {
		record.Set(r.Meta(), int64(code), "wrapper", "exit_code")
		record.Set(r.Meta(), w.terminated.Load(), "wrapper", "terminated")
		record.Set(r.Meta(), time.Now().UTC().Format(time.RFC3339), "finished_at")
		return nil
	}); err != nil {
		return code, err
	}
	if waitErr != nil {
		w.log.Info("command exited", "task", p.ID, "code", code, "error", waitErr)
	}
	return code, nil
}

// handleSignals forwards shutdown signals to the child's process group
// and flips the termination marker; the closing session persists it.
// The handler must never touch p.Rec: it shares the Run goroutine's
// Record, which is a single-goroutine type.
func (w *Default) handleSignals(p *Proc, pid int, ch <-chan os.Signal) {
	for sig := range ch {
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGQUIT:
			w.log.Info("forwarding signal", "task", p.ID, "signal", sig.String())
			w.terminated.Store(true)
			if s, ok := sig.(syscall.Signal); ok {
				_ = syscall.Kill(-pid, s)
			}
		case syscall.SIGCHLD, syscall.SIGURG, syscall.SIGWINCH:
			// runtime noise
		default:
			w.log.Debug("ignoring signal", "task", p.ID, "signal", sig.String())
		}
	}
}

func init() { Register(TypeDefault, NewDefault) }
