// Package pool manages the collection of tasks rooted at one
// directory: enumeration of registered entities, detection of
// standalone descriptors, pattern-matched selection, and batch
// lifecycle verbs that keep going past per-entity failures.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/spool-sh/spool/internal/codec"
	"github.com/spool-sh/spool/internal/history"
	"github.com/spool-sh/spool/internal/lockfile"
	"github.com/spool-sh/spool/internal/manageable"
	"github.com/spool-sh/spool/internal/pattern"
	"github.com/spool-sh/spool/internal/record"
	"github.com/spool-sh/spool/internal/task"
)

// Error reports a pool-level failure such as a duplicate id or an
// invalid root.
type Error struct {
	Op     string
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("pool: %s: %s", e.Op, e.Reason) }

// Pool is the set of tasks under one root directory plus any detected
// descriptors not yet registered.
type Pool struct {
	root     string
	matcher  pattern.Matcher
	sink     history.Sink
	log      *slog.Logger
	suffix   string
	lockOpts []lockfile.Option

	registered []*task.Task
	detected   []*task.Task
}

// Option configures a Pool.
type Option func(*Pool)

// WithSink attaches a history sink for lifecycle events.
func WithSink(s history.Sink) Option {
	return func(p *Pool) { p.sink = s }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithPreferredSuffix sets the codec suffix stamped onto tasks at
// registration when their descriptor did not already pick one.
func WithPreferredSuffix(s string) Option {
	return func(p *Pool) { p.suffix = strings.TrimPrefix(s, ".") }
}

// WithLockOptions passes lock options through to every record opened.
func WithLockOptions(opts ...lockfile.Option) Option {
	return func(p *Pool) { p.lockOpts = opts }
}

// New builds a pool over root, which must be an existing directory.
func New(root string, m pattern.Matcher, opts ...Option) (*Pool, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, &Error{Op: "new", Reason: fmt.Sprintf("root %q is not a directory", root)}
	}
	p := &Pool{
		root:    root,
		matcher: m,
		sink:    history.Nop{},
		log:     slog.Default().With("component", "pool"),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Root returns the pool root directory.
func (p *Pool) Root() string { return p.root }

// LoadRegistered enumerates entity directories under the root. Entries
// that are not valid task trees are skipped, never fatal: the root may
// contain unrelated junk.
func (p *Pool) LoadRegistered(ctx context.Context) error {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return &Error{Op: "load", Reason: err.Error()}
	}
	p.registered = p.registered[:0]
	for _, e := range entries {
		dir := filepath.Join(p.root, e.Name())
		if !task.IsTaskDir(ctx, dir) {
			continue
		}
		t, err := task.FromDir(ctx, dir, p.lockOpts...)
		if err != nil {
			p.log.Warn("skipping entity directory", "dir", dir, "error", err)
			continue
		}
		p.registered = append(p.registered, t)
	}
	return nil
}

// Detect searches descriptor files under the given globs and loads the
// valid ones as detected tasks. Files with unsupported suffixes or
// invalid content are skipped silently; probing must not crash on junk.
func (p *Pool) Detect(ctx context.Context, globs []string) error {
	for _, g := range globs {
		matches, err := doublestar.FilepathGlob(g)
		if err != nil {
			return &Error{Op: "detect", Reason: fmt.Sprintf("glob %q: %v", g, err)}
		}
		for _, m := range matches {
			if !codec.Has(filepath.Ext(m)) {
				continue
			}
			t, err := task.FromDescriptor(ctx, m, p.lockOpts...)
			if err != nil {
				p.log.Debug("skipping descriptor", "path", m, "error", err)
				continue
			}
			if p.byID(t.ID()) != nil {
				p.log.Debug("skipping descriptor with known id", "path", m, "id", t.ID())
				continue
			}
			p.detected = append(p.detected, t)
		}
	}
	return nil
}

func (p *Pool) byID(id string) *task.Task {
	for _, t := range p.registered {
		if t.ID() == id {
			return t
		}
	}
	for _, t := range p.detected {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

// Registered returns the registered tasks.
func (p *Pool) Registered() []*task.Task { return p.registered }

// Detected returns the detected, not-yet-registered tasks.
func (p *Pool) Detected() []*task.Task { return p.detected }

// Find returns every known task whose id matches the pattern,
// detected first, then registered.
func (p *Pool) Find(pat string) ([]*task.Task, error) {
	if !p.matcher.IsPattern(pat) {
		return nil, &Error{Op: "find", Reason: fmt.Sprintf("invalid pattern %q", pat)}
	}
	var out []*task.Task
	for _, t := range append(append([]*task.Task{}, p.detected...), p.registered...) {
		ok, err := p.matcher.Match(pat, t.ID())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// Register moves a detected task into the pool: its directory is
// <root>/<id>. Duplicate ids and pre-existing target paths are refused.
func (p *Pool) Register(ctx context.Context, t *task.Task) error {
	if t.Registered() {
		return &Error{Op: "register", Reason: fmt.Sprintf("task %q is already registered", t.ID())}
	}
	for _, r := range p.registered {
		if r.ID() == t.ID() {
			return &Error{Op: "register", Reason: fmt.Sprintf("duplicate id %q", t.ID())}
		}
	}
	if p.suffix != "" {
		if _, ok := record.String(t.Record().Meta(), "preferred_suffix"); !ok {
			if !codec.Has(p.suffix) {
				return &Error{Op: "register", Reason: fmt.Sprintf("unsupported preferred suffix %q", p.suffix)}
			}
			record.Set(t.Record().Meta(), p.suffix, "preferred_suffix")
		}
	}
	dir := filepath.Join(p.root, t.ID())
	if err := manageable.Register(t, dir); err != nil {
		return err
	}
	for i, d := range p.detected {
		if d == t {
			p.detected = append(p.detected[:i], p.detected[i+1:]...)
			break
		}
	}
	p.registered = append(p.registered, t)
	p.emit(ctx, history.EventRegistered, t)
	return nil
}

func (p *Pool) emit(ctx context.Context, typ history.EventType, t *task.Task) {
	e := history.Event{
		Type:       typ,
		TaskID:     t.ID(),
		OccurredAt: time.Now().UTC(),
	}
	if s := t.Record().Snapshot(); s != nil {
		e.Backend, _ = record.String(s.Data(), task.Tag, "backend", "type")
		e.BackendID, _ = record.String(s.Meta(), "backend", "id")
	}
	if err := p.sink.Send(ctx, e); err != nil {
		p.log.Warn("history sink failed", "event", string(typ), "task", t.ID(), "error", err)
	}
}

// Result aggregates a batch verb over matched tasks.
type Result struct {
	Matched   int
	Succeeded int
	Failed    int
	Errors    []error
}

func (r *Result) record(id string, err error) {
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, fmt.Errorf("%s: %w", id, err))
		return
	}
	r.Succeeded++
}

// Start starts every matched registered task. Failures are collected,
// not fatal to the batch.
func (p *Pool) Start(ctx context.Context, pat string) (*Result, error) {
	return p.each(ctx, pat, history.EventStarted, (*task.Task).Start)
}

// Term gracefully stops every matched registered task.
func (p *Pool) Term(ctx context.Context, pat string) (*Result, error) {
	return p.each(ctx, pat, history.EventTerminated, (*task.Task).Term)
}

// Kill forcefully stops every matched registered task.
func (p *Pool) Kill(ctx context.Context, pat string) (*Result, error) {
	return p.each(ctx, pat, history.EventKilled, (*task.Task).Kill)
}

func (p *Pool) each(ctx context.Context, pat string, typ history.EventType, op func(*task.Task, context.Context) error) (*Result, error) {
	matched, err := p.Find(pat)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, t := range matched {
		if !t.Registered() {
			continue
		}
		res.Matched++
		err := op(t, ctx)
		res.record(t.ID(), err)
		if err == nil {
			p.emit(ctx, typ, t)
		}
	}
	return res, nil
}

// Destruct removes every matched, inactive registered task directory.
func (p *Pool) Destruct(ctx context.Context, pat string) (*Result, error) {
	matched, err := p.Find(pat)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, t := range matched {
		if !t.Registered() {
			continue
		}
		res.Matched++
		err := t.Destruct(ctx)
		res.record(t.ID(), err)
		if err != nil {
			continue
		}
		p.emit(ctx, history.EventDestructed, t)
		for i, r := range p.registered {
			if r == t {
				p.registered = append(p.registered[:i], p.registered[i+1:]...)
				break
			}
		}
	}
	return res, nil
}

// ListString renders one line per known task, detected before
// registered.
func (p *Pool) ListString() string {
	var b strings.Builder
	for _, t := range p.detected {
		fmt.Fprintf(&b, "detected: %s (from %s)\n", t.ID(), t.Record().SourcePath())
	}
	for _, t := range p.registered {
		fmt.Fprintf(&b, "registered: %s\n", t.ID())
	}
	return b.String()
}

// StatusString renders full status for every matched registered task.
func (p *Pool) StatusString(ctx context.Context, pat string) (string, error) {
	matched, err := p.Find(pat)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, t := range matched {
		if !t.Registered() {
			continue
		}
		st, err := t.Status(ctx)
		if err != nil {
			fmt.Fprintf(&b, "task:%s (status error: %v)\n", t.ID(), err)
			continue
		}
		b.WriteString(st.String())
	}
	return b.String(), nil
}
