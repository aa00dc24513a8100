package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spool-sh/spool/internal/backend"
	"github.com/spool-sh/spool/internal/manageable"
	"github.com/spool-sh/spool/internal/record"
)

// fakeBackend simulates an external process manager in memory. One
// shared instance backs every factory call so lifecycle state survives
// task reloads.
type fakeBackend struct {
	active     bool
	submits    int
	submitErr  error
	lastSubmit string
}

var fake = &fakeBackend{}

func init() { backend.Register("fake", func() backend.Backend { return fake }) }

func (f *fakeBackend) reset() { *f = fakeBackend{} }

func (f *fakeBackend) Type() string { return "fake" }

func (f *fakeBackend) Submit(_ context.Context, j *backend.Job) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits++
	f.lastSubmit = j.Command
	j.SetBackendID("fake-1")
	f.active = true
	return nil
}

func (f *fakeBackend) Term(context.Context, *backend.Job) error {
	f.active = false
	return nil
}

func (f *fakeBackend) Kill(context.Context, *backend.Job) error {
	f.active = false
	return nil
}

func (f *fakeBackend) IsActive(context.Context, *backend.Job) (bool, error) {
	return f.active, nil
}

func taskData(id string) record.Tree {
	return record.Tree{Tag: record.Tree{
		"id":      id,
		"comment": "test task",
		"backend": record.Tree{"type": "fake"},
		"wrapper": record.Tree{"type": "default", "command": "sleep 1"},
	}}
}

func registeredTask(t *testing.T, id string) *Task {
	t.Helper()
	fake.reset()
	tk, err := New(record.FromTrees(taskData(id), nil), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := manageable.Register(tk, filepath.Join(t.TempDir(), id)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return tk
}

func TestNewRejectsBadRecords(t *testing.T) {
	cases := []struct {
		name string
		data record.Tree
	}{
		{"wrong tag", record.Tree{"job": record.Tree{"id": "x", "comment": "c"}}},
		{"no backend", record.Tree{Tag: record.Tree{"id": "x", "comment": "c",
			"wrapper": record.Tree{"type": "default", "command": "true"}}}},
		{"unknown backend", record.Tree{Tag: record.Tree{"id": "x", "comment": "c",
			"backend": record.Tree{"type": "pbs"},
			"wrapper": record.Tree{"type": "default", "command": "true"}}}},
		{"no wrapper command", record.Tree{Tag: record.Tree{"id": "x", "comment": "c",
			"backend": record.Tree{"type": "fake"},
			"wrapper": record.Tree{"type": "default"}}}},
	}
	for _, tc := range cases {
		if _, err := New(record.FromTrees(tc.data, nil), nil); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
}

func TestValidateDescriptor(t *testing.T) {
	if err := ValidateDescriptor(taskData("t1")); err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}
	bad := taskData("t1")
	record.Set(bad, true, Tag, "typo_field")
	if err := ValidateDescriptor(bad); err == nil {
		t.Fatal("descriptor with unknown key accepted")
	}
	missing := taskData("t1")
	record.Delete(missing, Tag, "wrapper", "command")
	if err := ValidateDescriptor(missing); err == nil {
		t.Fatal("descriptor without wrapper command accepted")
	}
}

func TestFromDescriptorRoundTrip(t *testing.T) {
	fake.reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "t1.toml")
	body := `[task]
id = "t1"
comment = "from file"

[task.backend]
type = "fake"

[task.wrapper]
type = "default"
command = "sleep 1"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	tk, err := FromDescriptor(context.Background(), path)
	if err != nil {
		t.Fatalf("FromDescriptor: %v", err)
	}
	if tk.ID() != "t1" || tk.Registered() {
		t.Fatalf("descriptor task: id=%q registered=%v", tk.ID(), tk.Registered())
	}
}

func TestStartLifecycle(t *testing.T) {
	ctx := context.Background()
	tk := registeredTask(t, "t1")

	if err := tk.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fake.submits != 1 {
		t.Fatalf("submits: %d", fake.submits)
	}
	if !strings.Contains(fake.lastSubmit, "wrapper") || !strings.Contains(fake.lastSubmit, tk.Dir()) {
		t.Fatalf("submitted command does not run the wrapper on the task dir: %q", fake.lastSubmit)
	}
	active, err := tk.IsActive(ctx)
	if err != nil || !active {
		t.Fatalf("started task inactive: %v %v", active, err)
	}

	// Starting an active task is a lifecycle violation.
	var le *manageable.LifecycleError
	if err := tk.Start(ctx); !errors.As(err, &le) {
		t.Fatalf("double start: %v", err)
	}
	if fake.submits != 1 {
		t.Fatal("violating start still submitted")
	}

	// The assigned backend id and start timestamp are durable on disk.
	other, err := FromDir(ctx, tk.Dir())
	if err != nil {
		t.Fatalf("FromDir: %v", err)
	}
	if id, _ := record.String(other.Record().Meta(), "backend", "id"); id != "fake-1" {
		t.Fatalf("backend id not persisted: %q", id)
	}
	if _, ok := record.String(other.Record().Meta(), "started_at"); !ok {
		t.Fatal("started_at not persisted")
	}
}

func TestTermAndKillGuards(t *testing.T) {
	ctx := context.Background()
	tk := registeredTask(t, "t1")

	var le *manageable.LifecycleError
	if err := tk.Term(ctx); !errors.As(err, &le) {
		t.Fatalf("term of inactive task: %v", err)
	}
	if err := tk.Kill(ctx); !errors.As(err, &le) {
		t.Fatalf("kill of inactive task: %v", err)
	}

	if err := tk.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tk.Term(ctx); err != nil {
		t.Fatalf("Term: %v", err)
	}
	if active, _ := tk.IsActive(ctx); active {
		t.Fatal("task active after term")
	}
	if _, ok := record.String(tk.Record().Meta(), "finished_at"); !ok {
		t.Fatal("finished_at not stamped")
	}
}

func TestRestartResetsRuntimeState(t *testing.T) {
	ctx := context.Background()
	tk := registeredTask(t, "t1")

	if err := tk.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tk.Term(ctx); err != nil {
		t.Fatal(err)
	}
	// Simulate wrapper leftovers from the first run.
	if err := tk.Record().Session(ctx, func(r *record.Record) error {
		record.Set(r.Meta(), int64(3), "wrapper", "exit_code")
		record.Set(r.Meta(), int64(999), "wrapper", "process_pid")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := tk.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	meta := tk.Record().Meta()
	if _, ok := record.Lookup(meta, "finished_at"); ok {
		t.Fatal("finished_at survived restart")
	}
	if _, ok := record.Lookup(meta, "wrapper", "exit_code"); ok {
		t.Fatal("exit_code survived restart")
	}
	if _, ok := record.Lookup(meta, "wrapper", "process_pid"); ok {
		t.Fatal("process_pid survived restart")
	}
	if fake.submits != 2 {
		t.Fatalf("submits after restart: %d", fake.submits)
	}
}

func TestStartUnregistered(t *testing.T) {
	fake.reset()
	tk, err := New(record.FromTrees(taskData("t1"), nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tk.Start(context.Background()); !errors.Is(err, record.ErrDetached) {
		t.Fatalf("start of unregistered task: %v", err)
	}
	// And it is simply inactive, not an error.
	if active, err := tk.IsActive(context.Background()); err != nil || active {
		t.Fatalf("unregistered activity: %v %v", active, err)
	}
}

func TestDestructRefusedWhileActive(t *testing.T) {
	ctx := context.Background()
	tk := registeredTask(t, "t1")
	if err := tk.Start(ctx); err != nil {
		t.Fatal(err)
	}
	var le *manageable.LifecycleError
	if err := tk.Destruct(ctx); !errors.As(err, &le) {
		t.Fatalf("destruct of active task: %v", err)
	}
	if err := tk.Kill(ctx); err != nil {
		t.Fatal(err)
	}
	dir := tk.Dir()
	if err := tk.Destruct(ctx); err != nil {
		t.Fatalf("Destruct: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("directory survived destruct")
	}
}

func TestIsTaskDir(t *testing.T) {
	ctx := context.Background()
	tk := registeredTask(t, "t1")
	if !IsTaskDir(ctx, tk.Dir()) {
		t.Fatal("registered task dir not recognized")
	}
	if IsTaskDir(ctx, t.TempDir()) {
		t.Fatal("empty dir recognized as task")
	}
	junk := t.TempDir()
	if err := os.WriteFile(filepath.Join(junk, "data.toml"), []byte("not = 'a task'\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if IsTaskDir(ctx, junk) {
		t.Fatal("junk dir recognized as task")
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	tk := registeredTask(t, "t1")
	st, err := tk.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Active || st.ID != "t1" {
		t.Fatalf("fresh status: %+v", st)
	}
	if got := st.ShortString(); got != "task:t1 (inactive)" {
		t.Fatalf("ShortString: %q", got)
	}

	if err := tk.Start(ctx); err != nil {
		t.Fatal(err)
	}
	st, err = tk.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Active || st.BackendID != "fake-1" || st.StartedAt == "" {
		t.Fatalf("running status: %+v", st)
	}
	if got := st.ShortString(); got != "task:t1 (active)" {
		t.Fatalf("ShortString: %q", got)
	}
	full := st.String()
	for _, want := range []string{"backend:  fake (id fake-1)", "started:"} {
		if !strings.Contains(full, want) {
			t.Fatalf("full status missing %q:\n%s", want, full)
		}
	}
}

func TestStatusExitStates(t *testing.T) {
	s := &Status{ID: "x", HasExit: true, ExitCode: 3}
	if got := s.ShortString(); got != "task:x (exit 3)" {
		t.Fatalf("exit state: %q", got)
	}
	s = &Status{ID: "x", Terminated: true}
	if got := s.ShortString(); got != "task:x (terminated)" {
		t.Fatalf("terminated state: %q", got)
	}
}
