package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spool-sh/spool/internal/record"
)

// scriptRunner replays canned output per command line and records every
// invocation.
type scriptRunner struct {
	outputs map[string][]string // key: command name, popped in order
	errs    map[string]error
	calls   []string
}

func (r *scriptRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	if err, ok := r.errs[name]; ok && err != nil {
		return "", err
	}
	queue := r.outputs[name]
	if len(queue) == 0 {
		return "", nil
	}
	out := queue[0]
	r.outputs[name] = queue[1:]
	return out, nil
}

func listing(ids ...string) string {
	var b strings.Builder
	b.WriteString("There are screens on:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "\t%s.spool-x\t(Detached)\n", id)
	}
	fmt.Fprintf(&b, "%d Sockets in /run/screen.\n", len(ids))
	return b.String()
}

func screenJob() *Job {
	return &Job{
		ID:      "t1",
		Dir:     "/srv/tasks/t1",
		Command: "sleep 60",
		Node:    record.NewNode(record.Tree{"type": "screen"}, record.Tree{}),
	}
}

func TestScreenSubmitDiscoversNewSession(t *testing.T) {
	r := &scriptRunner{outputs: map[string][]string{
		"screen": {listing("100"), "", listing("100", "200")},
	}}
	b := NewScreenWithRunner(r)
	j := screenJob()
	if err := b.Submit(context.Background(), j); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	id, ok := j.BackendID()
	if !ok || id != "200" {
		t.Fatalf("backend id: %q %v", id, ok)
	}
	if cmd, _ := record.String(j.Node.Meta(), "start_command"); cmd != "sleep 60" {
		t.Fatalf("start_command not recorded: %q", cmd)
	}
	if lp, _ := record.String(j.Node.Meta(), "log_path"); lp != "/srv/tasks/t1/backend.log" {
		t.Fatalf("log_path not recorded: %q", lp)
	}

	// The actual start call names the session after the task.
	var started string
	for _, c := range r.calls {
		if strings.Contains(c, "-dmS") {
			started = c
		}
	}
	if !strings.Contains(started, "spool-t1") {
		t.Fatalf("session not named after task: %q", started)
	}
}

func TestScreenSubmitNoNewSession(t *testing.T) {
	r := &scriptRunner{outputs: map[string][]string{
		"screen": {listing("100"), "", listing("100")},
	}}
	err := NewScreenWithRunner(r).Submit(context.Background(), screenJob())
	var be *Error
	if !errors.As(err, &be) || be.Op != "submit" {
		t.Fatalf("expected submit error, got %v", err)
	}
}

func TestScreenSubmitAmbiguousNewSessions(t *testing.T) {
	r := &scriptRunner{outputs: map[string][]string{
		"screen": {listing("100"), "", listing("100", "200", "300")},
	}}
	err := NewScreenWithRunner(r).Submit(context.Background(), screenJob())
	if err == nil {
		t.Fatal("two new sessions accepted")
	}
}

func TestScreenSessionsParsing(t *testing.T) {
	r := &scriptRunner{outputs: map[string][]string{"screen": {listing("12", "34")}}}
	b := NewScreenWithRunner(r)
	ids, err := b.sessions(context.Background())
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(ids) != 2 || !ids["12"] || !ids["34"] {
		t.Fatalf("parsed ids: %v", ids)
	}
}

// screen -ls exits non-zero when no session exists; the listing is
// still parseable and must yield an empty set, not an error.
func TestScreenSessionsEmptyListing(t *testing.T) {
	r := &scriptRunner{
		outputs: map[string][]string{"screen": {"No Sockets found in /run/screen.\n"}},
	}
	b := NewScreenWithRunner(r)
	ids, err := b.sessions(context.Background())
	if err != nil || len(ids) != 0 {
		t.Fatalf("empty listing: %v %v", ids, err)
	}
}

func TestScreenSessionsDuplicateID(t *testing.T) {
	r := &scriptRunner{outputs: map[string][]string{"screen": {listing("7", "7")}}}
	if _, err := NewScreenWithRunner(r).sessions(context.Background()); err == nil {
		t.Fatal("duplicate session id accepted")
	}
}

func TestScreenIsActive(t *testing.T) {
	ctx := context.Background()
	j := screenJob()

	// Never submitted: inactive without touching screen at all.
	r := &scriptRunner{outputs: map[string][]string{}}
	b := NewScreenWithRunner(r)
	active, err := b.IsActive(ctx, j)
	if err != nil || active {
		t.Fatalf("unsubmitted job active: %v %v", active, err)
	}
	if len(r.calls) != 0 {
		t.Fatalf("probe without id invoked screen: %v", r.calls)
	}

	j.SetBackendID("42")
	r.outputs["screen"] = []string{listing("42")}
	if active, err = b.IsActive(ctx, j); err != nil || !active {
		t.Fatalf("live session not active: %v %v", active, err)
	}
	r.outputs["screen"] = []string{listing("99")}
	if active, _ = b.IsActive(ctx, j); active {
		t.Fatal("dead session reported active")
	}
}

func TestScreenTermKillRequireID(t *testing.T) {
	ctx := context.Background()
	b := NewScreenWithRunner(&scriptRunner{})
	if err := b.Term(ctx, screenJob()); err == nil {
		t.Fatal("Term without backend id succeeded")
	}
	if err := b.Kill(ctx, screenJob()); err == nil {
		t.Fatal("Kill without backend id succeeded")
	}
}

func TestScreenTermStuffsInterrupt(t *testing.T) {
	r := &scriptRunner{outputs: map[string][]string{}}
	b := NewScreenWithRunner(r)
	j := screenJob()
	j.SetBackendID("42")
	if err := b.Term(context.Background(), j); err != nil {
		t.Fatalf("Term: %v", err)
	}
	if len(r.calls) != 1 || !strings.Contains(r.calls[0], "stuff") {
		t.Fatalf("unexpected term invocation: %v", r.calls)
	}
}

func TestRegistryResolvesBuiltins(t *testing.T) {
	for _, typ := range []string{TypeScreen, TypeSlurm} {
		b, err := New(typ)
		if err != nil {
			t.Fatalf("New(%q): %v", typ, err)
		}
		if b.Type() != typ {
			t.Fatalf("wrong backend: %q", b.Type())
		}
	}
	if _, err := New("pbs"); err == nil {
		t.Fatal("unknown backend type accepted")
	}
}
