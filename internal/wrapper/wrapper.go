// Package wrapper is the supervisor running inside the process a
// backend spawns. It wires the real command's stdio (a FIFO stdin so a
// detached terminal never EOFs the child, regular files for output),
// persists the child's pid and exit code into the task's meta record,
// and forwards termination signals to the child.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spool-sh/spool/internal/record"
)

// Stdio file names inside the entity directory.
const (
	StdinFilename  = "process.stdin"
	StdoutFilename = "process.stdout"
	StderrFilename = "process.stderr"
)

// Proc is the wrapper's view of one task: its id, registered directory,
// the user command, and the record to persist runtime state through.
type Proc struct {
	ID      string
	Dir     string
	Command string
	Mixed   bool
	Rec     *record.Record
	tag     string
}

// NewProc builds the view from a loaded, registered record. tag is the
// entity's type tag; the wrapper sub-trees live under it in data and at
// the top level of meta.
func NewProc(rec *record.Record, tag string) (*Proc, error) {
	id, ok := record.String(rec.Data(), tag, "id")
	if !ok {
		return nil, fmt.Errorf("wrapper: record has no %s.id", tag)
	}
	dir, ok := record.String(rec.Meta(), "path")
	if !ok || dir == "" {
		return nil, errors.New("wrapper: record is not registered")
	}
	cmd, ok := record.String(rec.Data(), tag, "wrapper", "command")
	if !ok || cmd == "" {
		return nil, errors.New("wrapper: record has no wrapper command")
	}
	mixed, _ := record.Bool(rec.Data(), tag, "wrapper", "mixed_stdout")
	return &Proc{ID: id, Dir: dir, Command: cmd, Mixed: mixed, Rec: rec, tag: tag}, nil
}

// Wrapper supervises one command to completion and returns its exit
// code. Run blocks for the child's whole lifetime.
type Wrapper interface {
	Type() string
	Run(ctx context.Context, p *Proc) (int, error)
}

// Fields is the schema of the wrapper sub-node, composed into the
// task's validation sweep. Data carries the declared configuration,
// meta the runtime facts this package writes.
func Fields() []record.Field {
	return []record.Field{
		{Name: "wrapper.type", Check: func(n record.Node) error {
			typ, ok := record.String(n.Data(), "type")
			if !ok || typ == "" {
				return errors.New("missing wrapper type")
			}
			if _, registered := factories[typ]; !registered {
				return fmt.Errorf("unknown wrapper type %q (known: %s)", typ, strings.Join(Types(), ", "))
			}
			return nil
		}},
		{Name: "wrapper.command", Check: func(n record.Node) error {
			cmd, ok := record.String(n.Data(), "command")
			if !ok || cmd == "" {
				return errors.New("missing or empty wrapper command")
			}
			return nil
		}},
		{Name: "wrapper.mixed_stdout", Check: func(n record.Node) error {
			v, ok := record.Lookup(n.Data(), "mixed_stdout")
			if !ok || v == nil {
				return nil
			}
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("mixed_stdout must be a bool, got %T", v)
			}
			return nil
		}},
		{Name: "wrapper.process_pid", Check: record.OptionalInt("process_pid")},
		{Name: "wrapper.exit_code", Check: record.OptionalInt("exit_code")},
		{Name: "wrapper.stdin_path", Check: record.OptionalString("stdin_path")},
		{Name: "wrapper.stdout_path", Check: record.OptionalString("stdout_path")},
		{Name: "wrapper.stderr_path", Check: record.OptionalString("stderr_path")},
		{Name: "wrapper.run_token", Check: record.OptionalString("run_token")},
		{Name: "wrapper.terminated", Check: record.OptionalBool("terminated")},
	}
}

var factories = map[string]func() Wrapper{}

// Register adds a wrapper factory under its type tag.
func Register(typ string, factory func() Wrapper) {
	factories[typ] = factory
}

// New resolves a wrapper by type tag.
func New(typ string) (Wrapper, error) {
	f, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("wrapper: unknown type %q (known: %s)", typ, strings.Join(Types(), ", "))
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
