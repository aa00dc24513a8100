package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildRootCommandSet(t *testing.T) {
	root, _ := buildRoot()
	want := map[string]bool{
		"list":     false,
		"register": false,
		"start":    false,
		"stop":     false,
		"kill":     false,
		"status":   false,
		"destruct": false,
		"watch":    false,
		"wrapper":  false,
	}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %q not registered", name)
		}
	}
}

func TestWrapperCommandHidden(t *testing.T) {
	root, _ := buildRoot()
	for _, c := range root.Commands() {
		if c.Name() == "wrapper" && !c.Hidden {
			t.Fatal("wrapper subcommand must be hidden")
		}
	}
}

// The wrapper verb must not call os.Exit itself: Execute returns
// normally with the child's code stashed, so deferred closers and
// PersistentPostRun still run before main exits.
func TestWrapperVerbStashesExitCode(t *testing.T) {
	t.Setenv("SPOOL_CONFIG", "")
	t.Chdir(t.TempDir())

	dir := t.TempDir()
	data := `[task]
id = "w-exit"
comment = "exit code relay"

[task.backend]
type = "screen"

[task.wrapper]
type = "default"
command = "exit 3"
`
	if err := os.WriteFile(filepath.Join(dir, "data.toml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.toml"), []byte("path = \""+dir+"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	root, c := buildRoot()
	root.SetArgs([]string{"wrapper", dir})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.exitCode != 3 {
		t.Fatalf("exit code %d, want 3", c.exitCode)
	}
}

func TestPersistentFlags(t *testing.T) {
	root, _ := buildRoot()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatal("missing --config flag")
	}
	if root.PersistentFlags().Lookup("verbose") == nil {
		t.Fatal("missing --verbose flag")
	}
}
