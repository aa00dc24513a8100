package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/spool-sh/spool/internal/record"
)

// Status is the read-only rendering of one task at a point in time,
// assembled from a frozen snapshot plus one live backend query.
type Status struct {
	ID          string
	Comment     string
	Active      bool
	BackendType string
	BackendID   string
	PID         int64
	HasPID      bool
	ExitCode    int64
	HasExit     bool
	Terminated  bool
	StartedAt   string
	FinishedAt  string
	Dir         string
	StdoutPath  string
	StderrPath  string
	LogPath     string
}

// Status refreshes the record in a short session, snapshots it, and
// combines it with a live activity probe. The session guarantees the
// rendered state is at least as new as the moment of the call.
func (t *Task) Status(ctx context.Context) (*Status, error) {
	var snap *record.Snapshot
	if t.Registered() {
		if err := t.Record().Session(ctx, func(r *record.Record) error {
			snap = r.Snapshot()
			return nil
		}); err != nil {
			return nil, err
		}
	} else {
		snap = t.Record().Snapshot()
	}
	active, err := t.IsActive(ctx)
	if err != nil {
		return nil, err
	}
	return statusFromSnapshot(snap, active), nil
}

func statusFromSnapshot(s *record.Snapshot, active bool) *Status {
	st := &Status{Active: active}
	st.ID, _ = record.String(s.Data(), Tag, "id")
	st.Comment, _ = record.String(s.Data(), Tag, "comment")
	st.BackendType, _ = record.String(s.Data(), Tag, "backend", "type")
	st.BackendID, _ = record.String(s.Meta(), "backend", "id")
	st.LogPath, _ = record.String(s.Meta(), "backend", "log_path")
	st.PID, st.HasPID = record.Int(s.Meta(), "wrapper", "process_pid")
	st.ExitCode, st.HasExit = record.Int(s.Meta(), "wrapper", "exit_code")
	st.Terminated, _ = record.Bool(s.Meta(), "wrapper", "terminated")
	st.StartedAt, _ = record.String(s.Meta(), "started_at")
	st.FinishedAt, _ = record.String(s.Meta(), "finished_at")
	st.Dir, _ = record.String(s.Meta(), "path")
	st.StdoutPath, _ = record.String(s.Meta(), "wrapper", "stdout_path")
	st.StderrPath, _ = record.String(s.Meta(), "wrapper", "stderr_path")
	return st
}

// ShortString is the one-line form: "task:<id> (active)".
func (s *Status) ShortString() string {
	state := "inactive"
	switch {
	case s.Active:
		state = "active"
	case s.Terminated:
		state = "terminated"
	case s.HasExit:
		state = fmt.Sprintf("exit %d", s.ExitCode)
	}
	return fmt.Sprintf("task:%s (%s)", s.ID, state)
}

// String is the full multi-line render.
func (s *Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", s.ShortString())
	if s.Comment != "" {
		fmt.Fprintf(&b, "  comment:  %s\n", s.Comment)
	}
	fmt.Fprintf(&b, "  backend:  %s", s.BackendType)
	if s.BackendID != "" {
		fmt.Fprintf(&b, " (id %s)", s.BackendID)
	}
	b.WriteString("\n")
	if s.HasPID {
		fmt.Fprintf(&b, "  pid:      %d\n", s.PID)
	}
	if s.StartedAt != "" {
		fmt.Fprintf(&b, "  started:  %s\n", s.StartedAt)
	}
	if s.FinishedAt != "" {
		fmt.Fprintf(&b, "  finished: %s\n", s.FinishedAt)
	}
	if s.Dir != "" {
		fmt.Fprintf(&b, "  dir:      %s\n", s.Dir)
	}
	if s.StdoutPath != "" {
		fmt.Fprintf(&b, "  stdout:   %s\n", s.StdoutPath)
	}
	if s.StderrPath != "" && s.StderrPath != s.StdoutPath {
		fmt.Fprintf(&b, "  stderr:   %s\n", s.StderrPath)
	}
	return b.String()
}
