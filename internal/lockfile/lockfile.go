// Package lockfile provides exclusive cross-process access to one
// codec-encoded record file. Locking is advisory flock(2) on a sidecar
// path next to the content file, so contenders on the same host
// serialize while readers of unrelated files never touch the lock.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"github.com/spool-sh/spool/internal/codec"
)

// LockSuffix is appended to the content path to build the sidecar path.
const LockSuffix = ".lock"

var (
	// ErrReentrant is returned when Acquire is called while the same
	// LockedFile already holds the lock. Same-process re-entry is a
	// programming error and must fail loudly instead of deadlocking.
	ErrReentrant = errors.New("lockfile: lock already held by this handle")

	// ErrTimeout is returned when a bounded Acquire gives up waiting.
	ErrTimeout = errors.New("lockfile: timed out waiting for lock")

	// ErrNotHeld is returned by Release without a prior Acquire.
	ErrNotHeld = errors.New("lockfile: lock not held")

	// ErrNoCodec is returned when the content path has no registered codec.
	ErrNoCodec = errors.New("lockfile: no codec for suffix")
)

// LockedFile couples one content path with its advisory lock and codec.
// It is not safe for concurrent use by multiple goroutines; each
// goroutine or process opens its own handle against the shared path.
type LockedFile struct {
	path    string
	codec   codec.Codec
	lock    *flock.Flock
	held    bool
	timeout time.Duration // 0 means block indefinitely
}

// Option configures a LockedFile.
type Option func(*LockedFile)

// WithTimeout bounds every Acquire; zero keeps indefinite blocking.
func WithTimeout(d time.Duration) Option {
	return func(f *LockedFile) { f.timeout = d }
}

// New creates a handle for path. The codec is resolved from the path
// suffix immediately so unsupported formats fail before any disk access.
func New(path string, opts ...Option) (*LockedFile, error) {
	suffix := filepath.Ext(path)
	c, ok := codec.BySuffix(suffix)
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s)", ErrNoCodec, suffix, path)
	}
	f := &LockedFile{
		path:  path,
		codec: c,
		lock:  flock.New(path + LockSuffix),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Path returns the content path.
func (f *LockedFile) Path() string { return f.path }

// LockPath returns the sidecar lock path.
func (f *LockedFile) LockPath() string { return f.path + LockSuffix }

// Held reports whether this handle currently holds the lock.
func (f *LockedFile) Held() bool { return f.held }

// Acquire takes the exclusive lock, blocking until it is granted, the
// context is done, or the configured timeout expires.
func (f *LockedFile) Acquire(ctx context.Context) error {
	if f.held {
		return fmt.Errorf("%w (%s)", ErrReentrant, f.path)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	ok, err := f.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && f.timeout > 0 {
			return fmt.Errorf("%w after %s (%s)", ErrTimeout, f.timeout, f.path)
		}
		return fmt.Errorf("lockfile: acquire %s: %w", f.path, err)
	}
	if !ok {
		return fmt.Errorf("lockfile: acquire %s: lock not granted", f.path)
	}
	f.held = true
	return nil
}

// Release drops the lock. Releasing twice is an error.
func (f *LockedFile) Release() error {
	if !f.held {
		return fmt.Errorf("%w (%s)", ErrNotHeld, f.path)
	}
	f.held = false
	if err := f.lock.Unlock(); err != nil {
		return fmt.Errorf("lockfile: release %s: %w", f.path, err)
	}
	return nil
}

// Load reads and decodes the content file. The caller is expected to
// hold the lock; Load itself performs a single read-decode cycle.
func (f *LockedFile) Load() (codec.Tree, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: read %s: %w", f.path, err)
	}
	return f.codec.Decode(b)
}

// Dump encodes and writes tree. The write is atomic: content lands
// under a temporary name and is renamed over the target, so a crashed
// writer never leaves a half-updated record behind.
func (f *LockedFile) Dump(tree codec.Tree) error {
	b, err := f.codec.Encode(tree)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(f.path, b, 0o644); err != nil {
		return fmt.Errorf("lockfile: write %s: %w", f.path, err)
	}
	return nil
}

// BlockingLoad acquires the lock, loads, and releases on every path.
func (f *LockedFile) BlockingLoad(ctx context.Context) (codec.Tree, error) {
	if err := f.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = f.Release() }()
	return f.Load()
}

// BlockingDump acquires the lock, dumps, and releases on every path.
func (f *LockedFile) BlockingDump(ctx context.Context, tree codec.Tree) error {
	if err := f.Acquire(ctx); err != nil {
		return err
	}
	defer func() { _ = f.Release() }()
	return f.Dump(tree)
}

// Remove releases a held lock and deletes the sidecar, detaching the
// handle from disk. The content file itself is left alone.
func (f *LockedFile) Remove() error {
	if f.held {
		if err := f.Release(); err != nil {
			return err
		}
	}
	if err := os.Remove(f.LockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: remove %s: %w", f.LockPath(), err)
	}
	return nil
}
