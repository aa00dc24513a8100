package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/spool-sh/spool/internal/lockfile"
)

var (
	// ErrSessionActive guards operations that may not run inside an open
	// scoped session: entering again, single-shot blocking I/O, and
	// changing backing paths.
	ErrSessionActive = errors.New("record: scoped session already active")

	// ErrDetached is returned by disk operations on a record half that
	// has no backing path yet.
	ErrDetached = errors.New("record: no backing path")
)

// Record is the mutable dual-file record: a data half and a meta half,
// each optionally backed by a locked file. One Record is exclusively
// owned by one in-process entity; the backing files are shared across
// OS processes and arbitrated only through their locks.
type Record struct {
	node      Node
	dataFile  *lockfile.LockedFile
	metaFile  *lockfile.LockedFile
	source    string
	lockOpts  []lockfile.Option
	inSession bool
}

// FromTrees builds a detached record from in-memory trees. The inputs
// are deep-copied so the caller keeps no aliased reference.
func FromTrees(data, meta Tree, opts ...lockfile.Option) *Record {
	return &Record{
		node:     NewNode(DeepCopy(data), DeepCopy(meta)),
		lockOpts: opts,
	}
}

// FromPaths builds a record backed by both files, loading each half
// under its lock. This is the registered form.
func FromPaths(ctx context.Context, dataPath, metaPath string, opts ...lockfile.Option) (*Record, error) {
	r := &Record{node: NewNode(nil, nil), lockOpts: opts}
	if err := r.SetDataPath(dataPath); err != nil {
		return nil, err
	}
	if err := r.SetMetaPath(metaPath); err != nil {
		return nil, err
	}
	data, err := r.dataFile.BlockingLoad(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := r.metaFile.BlockingLoad(ctx)
	if err != nil {
		return nil, err
	}
	r.node = NewNode(data, meta)
	return r, nil
}

// FromDescriptor builds the detected form: the data half is loaded from
// a standalone descriptor file, the meta half starts empty and has no
// backing path until registration.
func FromDescriptor(ctx context.Context, path string, opts ...lockfile.Option) (*Record, error) {
	f, err := lockfile.New(path, opts...)
	if err != nil {
		return nil, err
	}
	data, err := f.BlockingLoad(ctx)
	if err != nil {
		return nil, err
	}
	return &Record{node: NewNode(data, Tree{}), source: path, lockOpts: opts}, nil
}

// SourcePath returns the descriptor file a detected record was loaded
// from, or "" for records built another way.
func (r *Record) SourcePath() string { return r.source }

// Node returns the live view over both trees.
func (r *Record) Node() Node { return r.node }

// Data returns the live data tree. Treat as read-only.
func (r *Record) Data() Tree { return r.node.Data() }

// Meta returns the live meta tree.
func (r *Record) Meta() Tree { return r.node.Meta() }

// DataPath returns the backing data path, or "" when detached.
func (r *Record) DataPath() string {
	if r.dataFile == nil {
		return ""
	}
	return r.dataFile.Path()
}

// MetaPath returns the backing meta path, or "" when detached.
func (r *Record) MetaPath() string {
	if r.metaFile == nil {
		return ""
	}
	return r.metaFile.Path()
}

// Attached reports whether both halves have backing paths.
func (r *Record) Attached() bool { return r.dataFile != nil && r.metaFile != nil }

// SetDataPath attaches the data half to a path. Forbidden inside a
// session: the session holds locks keyed on the old path.
func (r *Record) SetDataPath(path string) error {
	if r.inSession {
		return ErrSessionActive
	}
	f, err := lockfile.New(path, r.lockOpts...)
	if err != nil {
		return err
	}
	r.dataFile = f
	return nil
}

// SetMetaPath attaches the meta half to a path.
func (r *Record) SetMetaPath(path string) error {
	if r.inSession {
		return ErrSessionActive
	}
	f, err := lockfile.New(path, r.lockOpts...)
	if err != nil {
		return err
	}
	r.metaFile = f
	return nil
}

// ClearPaths detaches both halves, releasing any held lock and removing
// the sidecars. Used right before a destruct.
func (r *Record) ClearPaths() error {
	if r.inSession {
		return ErrSessionActive
	}
	var errs []error
	if r.dataFile != nil {
		errs = append(errs, r.dataFile.Remove())
		r.dataFile = nil
	}
	if r.metaFile != nil {
		errs = append(errs, r.metaFile.Remove())
		r.metaFile = nil
	}
	return errors.Join(errs...)
}

// Load replaces both trees from disk. Single-shot: the caller holds the
// locks (or accepts the race).
func (r *Record) Load() error {
	if !r.Attached() {
		return ErrDetached
	}
	data, err := r.dataFile.Load()
	if err != nil {
		return err
	}
	meta, err := r.metaFile.Load()
	if err != nil {
		return err
	}
	r.node = NewNode(data, meta)
	return nil
}

// Dump writes both trees to disk. Single-shot, like Load.
func (r *Record) Dump() error {
	if !r.Attached() {
		return ErrDetached
	}
	if err := r.dataFile.Dump(r.node.Data()); err != nil {
		return err
	}
	return r.metaFile.Dump(r.node.Meta())
}

// withLocks acquires both locks (data first, like Session), runs fn,
// and releases both on every exit path, joining errors.
func (r *Record) withLocks(ctx context.Context, fn func() error) error {
	if !r.Attached() {
		return ErrDetached
	}
	if err := r.dataFile.Acquire(ctx); err != nil {
		return err
	}
	if err := r.metaFile.Acquire(ctx); err != nil {
		_ = r.dataFile.Release()
		return err
	}
	var errs []error
	if err := fn(); err != nil {
		errs = append(errs, err)
	}
	if err := r.metaFile.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := r.dataFile.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BlockingLoad is Load wrapped in acquire/release of both locks.
func (r *Record) BlockingLoad(ctx context.Context) error {
	if r.inSession {
		return ErrSessionActive
	}
	return r.withLocks(ctx, r.Load)
}

// BlockingDump is Dump wrapped in acquire/release of both locks.
func (r *Record) BlockingDump(ctx context.Context) error {
	if r.inSession {
		return ErrSessionActive
	}
	return r.withLocks(ctx, r.Dump)
}

// Session runs fn inside the scoped critical section: acquire both
// locks (data first, always), load fresh state, run fn, dump the
// current state, release both locks. Dump and release happen on every
// exit path, so a failing fn still flushes nothing silently: its error
// is joined with any dump or release error. Read-modify-write is atomic
// across processes only within one Session.
func (r *Record) Session(ctx context.Context, fn func(*Record) error) error {
	if r.inSession {
		return ErrSessionActive
	}
	if !r.Attached() {
		return ErrDetached
	}
	if err := r.dataFile.Acquire(ctx); err != nil {
		return err
	}
	if err := r.metaFile.Acquire(ctx); err != nil {
		_ = r.dataFile.Release()
		return err
	}
	r.inSession = true

	var errs []error
	if err := r.Load(); err != nil {
		errs = append(errs, err)
	} else {
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
		if err := r.Dump(); err != nil {
			errs = append(errs, fmt.Errorf("session flush: %w", err))
		}
	}

	r.inSession = false
	if err := r.metaFile.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := r.dataFile.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Snapshot produces an immutable deep copy of the current trees.
func (r *Record) Snapshot() *Snapshot {
	return &Snapshot{
		node:     NewNode(DeepCopy(r.node.Data()), DeepCopy(r.node.Meta())),
		dataPath: r.DataPath(),
		metaPath: r.MetaPath(),
	}
}

// Snapshot is the frozen form of a record: private deep copies of both
// trees plus the backing paths at snapshot time. It has no setters and
// no lock; hand it to readers freely.
type Snapshot struct {
	node     Node
	dataPath string
	metaPath string
}

// Node returns the view over the copied trees.
func (s *Snapshot) Node() Node { return s.node }

// Data returns the copied data tree.
func (s *Snapshot) Data() Tree { return s.node.Data() }

// Meta returns the copied meta tree.
func (s *Snapshot) Meta() Tree { return s.node.Meta() }

// DataPath returns the backing data path at snapshot time.
func (s *Snapshot) DataPath() string { return s.dataPath }

// MetaPath returns the backing meta path at snapshot time.
func (s *Snapshot) MetaPath() string { return s.metaPath }
