// Package task implements the concrete managed entity: one supervised
// OS command driven through a pluggable backend and wrapped by an
// in-process supervisor. A task's data tree declares what to run; its
// meta tree accumulates where and how it ran.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/spool-sh/spool/internal/backend"
	"github.com/spool-sh/spool/internal/lockfile"
	"github.com/spool-sh/spool/internal/manageable"
	"github.com/spool-sh/spool/internal/record"
	"github.com/spool-sh/spool/internal/wrapper"
)

// Tag is the task entity's type tag: the single top-level data key.
const Tag = "task"

// Task is a Manageable handling a single command.
type Task struct {
	manageable.Base
	backend backend.Backend
}

// Descriptor mirrors the declared data tree for decode-time validation
// of standalone descriptor files.
type Descriptor struct {
	Task struct {
		ID      string `record:"id" validate:"required"`
		Comment string `record:"comment"`
		Backend struct {
			Type    string   `record:"type" validate:"required"`
			Options []string `record:"options"`
		} `record:"backend"`
		Wrapper struct {
			Type        string `record:"type" validate:"required"`
			Command     string `record:"command" validate:"required"`
			MixedStdout bool   `record:"mixed_stdout"`
		} `record:"wrapper"`
	} `record:"task"`
}

var validate = validator.New()

// ValidateDescriptor decodes and validates a data tree as a task
// descriptor, giving register-time errors friendlier shape than the
// field sweep.
func ValidateDescriptor(data record.Tree) error {
	var d Descriptor
	if err := record.Decode(data, &d); err != nil {
		return err
	}
	if err := validate.Struct(&d); err != nil {
		return fmt.Errorf("task: invalid descriptor: %w", err)
	}
	return nil
}

// New wraps a record as a Task, running the full validation sweep:
// base fields, backend sub-node, wrapper sub-node. A Task that
// constructs is schema-correct; callers never re-check fields.
func New(rec *record.Record, log *slog.Logger) (*Task, error) {
	base, err := manageable.NewBase(rec, log)
	if err != nil {
		return nil, err
	}
	if base.Type() != Tag {
		return nil, &record.SchemaError{Field: "type", Err: fmt.Errorf("not a task record: %q", base.Type())}
	}
	t := &Task{Base: base}

	bn, err := t.backendNode()
	if err != nil {
		return nil, err
	}
	if err := record.Validate(bn, backend.Fields(), true); err != nil {
		return nil, err
	}
	wn, err := t.wrapperNode()
	if err != nil {
		return nil, err
	}
	if err := record.Validate(wn, wrapper.Fields(), true); err != nil {
		return nil, err
	}

	btype, _ := record.String(rec.Data(), Tag, "backend", "type")
	t.backend, err = backend.New(btype)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FromDescriptor loads the detected form: data from a standalone
// descriptor file, empty meta, no directory yet.
func FromDescriptor(ctx context.Context, path string, opts ...lockfile.Option) (*Task, error) {
	rec, err := record.FromDescriptor(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	return New(rec, slog.Default())
}

// FromDir loads the registered form out of an entity directory.
func FromDir(ctx context.Context, dir string, opts ...lockfile.Option) (*Task, error) {
	dataPath, err := manageable.DataPathIn(dir)
	if err != nil {
		return nil, err
	}
	metaPath, err := manageable.MetaPathIn(dir)
	if err != nil {
		return nil, err
	}
	rec, err := record.FromPaths(ctx, dataPath, metaPath, opts...)
	if err != nil {
		return nil, err
	}
	return New(rec, slog.Default())
}

// IsTaskDir probes whether dir holds a registered task. Any failure is
// false; probing junk must not crash.
func IsTaskDir(ctx context.Context, dir string) bool {
	return manageable.IsEntityDir(dir, func(dataPath, metaPath string) bool {
		rec, err := record.FromPaths(ctx, dataPath, metaPath)
		if err != nil {
			return false
		}
		_, err = New(rec, slog.Default())
		return err == nil
	})
}

// backendNode returns the view over (data.task.backend, meta.backend),
// creating the meta slice on first access.
func (t *Task) backendNode() (record.Node, error) {
	rec := t.Record()
	data, ok := record.Sub(rec.Data(), Tag, "backend")
	if !ok {
		return record.Node{}, &record.SchemaError{Field: "backend", Err: fmt.Errorf("missing %s.backend table", Tag)}
	}
	meta, ok := record.Sub(rec.Meta(), "backend")
	if !ok {
		meta = record.Tree{}
		record.Set(rec.Meta(), meta, "backend")
	}
	return record.NewNode(data, meta), nil
}

// wrapperNode returns the view over (data.task.wrapper, meta.wrapper).
func (t *Task) wrapperNode() (record.Node, error) {
	rec := t.Record()
	data, ok := record.Sub(rec.Data(), Tag, "wrapper")
	if !ok {
		return record.Node{}, &record.SchemaError{Field: "wrapper", Err: fmt.Errorf("missing %s.wrapper table", Tag)}
	}
	meta, ok := record.Sub(rec.Meta(), "wrapper")
	if !ok {
		meta = record.Tree{}
		record.Set(rec.Meta(), meta, "wrapper")
	}
	return record.NewNode(data, meta), nil
}

// job builds the backend's view for the current record state. The
// wrapper command line is recomputed on every submit so a registered
// task survives relocation of the controlling binary.
func (t *Task) job() (*backend.Job, error) {
	bn, err := t.backendNode()
	if err != nil {
		return nil, err
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("task: resolve executable: %w", err)
	}
	return &backend.Job{
		ID:      t.ID(),
		Dir:     t.Dir(),
		Command: fmt.Sprintf("%q wrapper %q", exe, t.Dir()),
		Node:    bn,
	}, nil
}

// IsActive queries the backend fresh. A task that is not registered, or
// was never submitted, is inactive.
func (t *Task) IsActive(ctx context.Context) (bool, error) {
	if !t.Registered() {
		return false, nil
	}
	j, err := t.job()
	if err != nil {
		return false, err
	}
	return t.backend.IsActive(ctx, j)
}

// Start submits the task: guard inactive, clear any previous run's
// leftovers, stamp started_at, submit through the backend. Everything
// happens inside one scoped session so the id the backend assigned is
// durable before Start returns.
func (t *Task) Start(ctx context.Context) error {
	return t.Record().Session(ctx, func(r *record.Record) error {
		if err := t.GuardInactive(ctx, t, "start"); err != nil {
			return err
		}
		if _, ran := record.Lookup(r.Meta(), "started_at"); ran {
			t.Reset()
		}
		record.Set(r.Meta(), time.Now().UTC().Format(time.RFC3339), "started_at")
		j, err := t.job()
		if err != nil {
			return err
		}
		t.Log().Info("starting task", "id", t.ID())
		return t.backend.Submit(ctx, j)
	})
}

// Term gracefully stops an active task and stamps finished_at.
func (t *Task) Term(ctx context.Context) error {
	return t.Record().Session(ctx, func(r *record.Record) error {
		if err := t.GuardActive(ctx, t, "term"); err != nil {
			return err
		}
		j, err := t.job()
		if err != nil {
			return err
		}
		if err := t.backend.Term(ctx, j); err != nil {
			return err
		}
		record.Set(r.Meta(), time.Now().UTC().Format(time.RFC3339), "finished_at")
		return nil
	})
}

// Kill forcefully stops an active task and stamps finished_at.
func (t *Task) Kill(ctx context.Context) error {
	return t.Record().Session(ctx, func(r *record.Record) error {
		if err := t.GuardActive(ctx, t, "kill"); err != nil {
			return err
		}
		j, err := t.job()
		if err != nil {
			return err
		}
		if err := t.backend.Kill(ctx, j); err != nil {
			return err
		}
		record.Set(r.Meta(), time.Now().UTC().Format(time.RFC3339), "finished_at")
		return nil
	})
}

// Destruct removes the task's directory; refused while active.
func (t *Task) Destruct(ctx context.Context) error {
	return manageable.Destruct(ctx, t)
}

// Reset clears every runtime field a previous run left behind: pid,
// exit code, stdio paths, backend id and log, timestamps. Data is
// untouched. Call inside a session when restarting.
func (t *Task) Reset() {
	meta := t.Record().Meta()
	record.Delete(meta, "started_at")
	record.Delete(meta, "finished_at")
	for _, k := range []string{"id", "start_command", "log_path"} {
		record.Delete(meta, "backend", k)
	}
	for _, k := range []string{"process_pid", "exit_code", "stdin_path", "stdout_path", "stderr_path", "run_token", "terminated"} {
		record.Delete(meta, "wrapper", k)
	}
}
