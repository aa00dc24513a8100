// Package backend drives external process managers. A backend submits
// the wrapper command line to its manager, discovers the opaque job id
// the manager assigned, and later terminates or queries that job. The
// set of backends is a static registry keyed by the type tag stored in
// the task's data tree.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/spool-sh/spool/internal/record"
)

// Error is the failure type shared by all backends; Backend carries the
// type tag of the failing implementation.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Job is the backend's view of one task: the entity id and directory,
// the wrapper command line to submit, and the backend sub-node of the
// task's record (data: type and per-backend settings; meta: job id,
// submitted command, log path).
type Job struct {
	ID      string
	Dir     string
	Command string
	Node    record.Node
}

// BackendID returns the job id persisted by the last submit.
func (j *Job) BackendID() (string, bool) {
	return record.String(j.Node.Meta(), "id")
}

// SetBackendID persists the manager-assigned job id.
func (j *Job) SetBackendID(id string) {
	record.Set(j.Node.Meta(), id, "id")
}

// LogPath returns the backend log file path, if one was recorded.
func (j *Job) LogPath() (string, bool) {
	return record.String(j.Node.Meta(), "log_path")
}

// Options returns the per-task submission options declared in data.
func (j *Job) Options() []string {
	opts, _ := record.Strings(j.Node.Data(), "options")
	return opts
}

// Backend is the strategy driving one kind of external process manager.
// IsActive must query the manager fresh on every call; activity is
// never ground truth on disk.
type Backend interface {
	Type() string
	Submit(ctx context.Context, j *Job) error
	Term(ctx context.Context, j *Job) error
	Kill(ctx context.Context, j *Job) error
	IsActive(ctx context.Context, j *Job) (bool, error)
}

// validateJob runs before any backend acts: the shared precondition
// check every implementation calls first.
func validateJob(typ, op string, j *Job, needID bool) error {
	if j == nil {
		return &Error{Backend: typ, Op: op, Err: errors.New("nil job")}
	}
	if j.Dir == "" {
		return &Error{Backend: typ, Op: op, Err: errors.New("job has no registered directory")}
	}
	if needID {
		if id, ok := j.BackendID(); !ok || id == "" {
			return &Error{Backend: typ, Op: op, Err: errors.New("job has no backend id")}
		}
	}
	return nil
}

// Fields is the schema of the backend sub-node, composed into the
// task's validation sweep.
func Fields() []record.Field {
	return []record.Field{
		{Name: "backend.type", Check: func(n record.Node) error {
			typ, ok := record.String(n.Data(), "type")
			if !ok || typ == "" {
				return errors.New("missing backend type")
			}
			if _, registered := factories[typ]; !registered {
				return fmt.Errorf("unknown backend type %q (known: %s)", typ, strings.Join(Types(), ", "))
			}
			return nil
		}},
		{Name: "backend.id", Check: record.OptionalString("id")},
		{Name: "backend.start_command", Check: record.OptionalString("start_command")},
		{Name: "backend.log_path", Check: record.OptionalString("log_path")},
	}
}

var factories = map[string]func() Backend{}

// Register adds a backend factory under its type tag. Built-ins
// register from init; tests may override.
func Register(typ string, factory func() Backend) {
	factories[typ] = factory
}

// New resolves a backend by type tag.
func New(typ string) (Backend, error) {
	f, ok := factories[typ]
	if !ok {
		return nil, &Error{Backend: typ, Op: "new", Err: fmt.Errorf("unknown backend type (known: %s)", strings.Join(Types(), ", "))}
	}
	return f(), nil
}

// Types lists registered type tags, sorted.
func Types() []string {
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Runner executes an external command and returns its stdout. Backends
// go through it so tests can substitute canned process-manager output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return string(out), fmt.Errorf("%s: %w", name, err)
	}
	return string(out), nil
}
