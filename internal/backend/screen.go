package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spool-sh/spool/internal/record"
)

// TypeScreen is the type tag of the GNU screen backend.
const TypeScreen = "screen"

// BackendLogFilename is the file screen's logging flag writes into,
// inside the entity directory.
const BackendLogFilename = "backend.log"

// Screen drives detached GNU screen sessions. screen assigns session
// ids itself, so Submit discovers the new id by diffing the session
// listing before and after: a delta other than exactly one new id means
// the start failed or raced and is an error.
type Screen struct {
	runner Runner
	log    *slog.Logger
}

// NewScreen builds the screen backend with the real exec runner.
func NewScreen() Backend {
	return &Screen{runner: ExecRunner{}, log: slog.Default().With("backend", TypeScreen)}
}

// NewScreenWithRunner is NewScreen with an injected runner, for tests.
func NewScreenWithRunner(r Runner) *Screen {
	return &Screen{runner: r, log: slog.Default().With("backend", TypeScreen)}
}

func (b *Screen) Type() string { return TypeScreen }

// sessions returns the ids of all live screen sessions. "screen -ls"
// exits non-zero when no sessions exist, so the exit status is ignored
// and only the listing shape is trusted: session lines are the
// tab-indented ones, with the numeric id before the first dot.
func (b *Screen) sessions(ctx context.Context) (map[string]bool, error) {
	out, err := b.runner.Run(ctx, "screen", "-ls")
	if err != nil && out == "" {
		return nil, err
	}
	ids := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "\t") {
			continue
		}
		name := strings.TrimSpace(line)
		id, rest, ok := strings.Cut(name, ".")
		if !ok || id == "" || strings.SplitN(rest, "\t", 2)[0] == "" {
			continue
		}
		if ids[id] {
			return nil, fmt.Errorf("duplicate session id %q in screen listing", id)
		}
		ids[id] = true
	}
	return ids, nil
}

func (b *Screen) Submit(ctx context.Context, j *Job) error {
	if err := validateJob(TypeScreen, "submit", j, false); err != nil {
		return err
	}
	logPath := filepath.Join(j.Dir, BackendLogFilename)
	record.Set(j.Node.Meta(), logPath, "log_path")
	record.Set(j.Node.Meta(), j.Command, "start_command")

	before, err := b.sessions(ctx)
	if err != nil {
		return &Error{Backend: TypeScreen, Op: "submit", Err: err}
	}
	_, err = b.runner.Run(ctx, "screen",
		"-L", "-Logfile", logPath,
		"-dmS", "spool-"+j.ID,
		"/bin/sh", "-c", j.Command)
	if err != nil {
		return &Error{Backend: TypeScreen, Op: "submit", Err: err}
	}
	after, err := b.sessions(ctx)
	if err != nil {
		return &Error{Backend: TypeScreen, Op: "submit", Err: err}
	}

	var created []string
	for id := range after {
		if !before[id] {
			created = append(created, id)
		}
	}
	if len(created) != 1 {
		return &Error{Backend: TypeScreen, Op: "submit",
			Err: fmt.Errorf("expected exactly one new session, found %d", len(created))}
	}
	j.SetBackendID(created[0])
	b.log.Debug("submitted screen session", "task", j.ID, "session", created[0])
	return nil
}

// Term asks the session's foreground process to stop by stuffing an
// interrupt into its tty.
func (b *Screen) Term(ctx context.Context, j *Job) error {
	if err := validateJob(TypeScreen, "term", j, true); err != nil {
		return err
	}
	id, _ := j.BackendID()
	if _, err := b.runner.Run(ctx, "screen", "-S", id, "-p", "0", "-X", "stuff", "\x03"); err != nil {
		return &Error{Backend: TypeScreen, Op: "term", Err: err}
	}
	return nil
}

// Kill tears the whole session down.
func (b *Screen) Kill(ctx context.Context, j *Job) error {
	if err := validateJob(TypeScreen, "kill", j, true); err != nil {
		return err
	}
	id, _ := j.BackendID()
	if _, err := b.runner.Run(ctx, "screen", "-S", id, "-X", "quit"); err != nil {
		return &Error{Backend: TypeScreen, Op: "kill", Err: err}
	}
	return nil
}

// IsActive reports whether the submitted session is in a fresh listing.
// A task never submitted has no id and is simply inactive.
func (b *Screen) IsActive(ctx context.Context, j *Job) (bool, error) {
	if err := validateJob(TypeScreen, "is_active", j, false); err != nil {
		return false, err
	}
	id, ok := j.BackendID()
	if !ok || id == "" {
		return false, nil
	}
	ids, err := b.sessions(ctx)
	if err != nil {
		return false, &Error{Backend: TypeScreen, Op: "is_active", Err: err}
	}
	return ids[id], nil
}

func init() { Register(TypeScreen, NewScreen) }
