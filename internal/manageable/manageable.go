// Package manageable implements the lifecycle and filesystem convention
// shared by every managed entity: a per-entity directory holding one
// data file and one meta file with a common suffix, a registration/
// destruction state machine, and activity guards.
package manageable

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spool-sh/spool/internal/codec"
	"github.com/spool-sh/spool/internal/record"
)

// File stems inside an entity directory.
const (
	DataFilename = "data"
	MetaFilename = "meta"
)

// LifecycleError reports a violated lifecycle precondition, e.g.
// starting an active entity or destructing a live one.
type LifecycleError struct {
	Op     string
	ID     string
	Reason string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("manageable: cannot %s %q: %s", e.Op, e.ID, e.Reason)
}

// Entity is one managed object: anything with the dual-file record, an
// id, and externally-driven activity.
type Entity interface {
	ID() string
	Type() string
	Record() *record.Record
	PreferredSuffix() string
	IsActive(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Term(ctx context.Context) error
	Kill(ctx context.Context) error
}

// TypeTag returns the single top-level key of a data tree. Exactly one
// key is an invariant of every entity record.
func TypeTag(data record.Tree) (string, error) {
	if len(data) != 1 {
		return "", fmt.Errorf("data must have exactly one top-level key, found %d", len(data))
	}
	for k := range data {
		return k, nil
	}
	return "", nil // unreachable
}

// Base carries the record and the accessors every entity shares.
// Concrete entities embed it and extend the field table.
type Base struct {
	rec *record.Record
	tag string
	log *slog.Logger
}

// Fields is the base schema every entity satisfies: one type-tag key
// whose value holds at least a string id and comment, plus optional
// meta bookkeeping written at registration.
func Fields(tag string) []record.Field {
	return []record.Field{
		{Name: "type", Check: func(n record.Node) error {
			_, err := TypeTag(n.Data())
			return err
		}},
		{Name: "id", Check: func(n record.Node) error {
			id, ok := record.String(n.Data(), tag, "id")
			if !ok || id == "" {
				return fmt.Errorf("missing or empty %s.id", tag)
			}
			return nil
		}},
		{Name: "comment", Check: record.RequireString(tag, "comment")},
		{Name: "path", Check: record.OptionalString("path")},
		{Name: "preferred_suffix", Check: record.OptionalString("preferred_suffix")},
	}
}

// NewBase validates the base schema and wraps the record. The sweep
// runs here, so an entity that constructs is already schema-correct.
func NewBase(rec *record.Record, log *slog.Logger) (Base, error) {
	tag, err := TypeTag(rec.Data())
	if err != nil {
		return Base{}, &record.SchemaError{Field: "type", Err: err}
	}
	if err := record.Validate(rec.Node(), Fields(tag), true); err != nil {
		return Base{}, err
	}
	if log == nil {
		log = slog.Default()
	}
	return Base{rec: rec, tag: tag, log: log.With("entity", tag)}, nil
}

// Record returns the underlying mutable record.
func (b *Base) Record() *record.Record { return b.rec }

// Type returns the entity's type tag.
func (b *Base) Type() string { return b.tag }

// ID returns the entity's id.
func (b *Base) ID() string {
	id, _ := record.String(b.rec.Data(), b.tag, "id")
	return id
}

// Comment returns the entity's comment string.
func (b *Base) Comment() string {
	c, _ := record.String(b.rec.Data(), b.tag, "comment")
	return c
}

// Dir returns the registered directory, or "" while only detected.
func (b *Base) Dir() string {
	p, _ := record.String(b.rec.Meta(), "path")
	return p
}

// Registered reports whether the entity has a full on-disk directory.
func (b *Base) Registered() bool { return b.rec.Attached() }

// PreferredSuffix returns the codec suffix for this entity's files:
// the one recorded at registration, else the data or descriptor
// file's, else toml.
func (b *Base) PreferredSuffix() string {
	if s, ok := record.String(b.rec.Meta(), "preferred_suffix"); ok {
		return s
	}
	p := b.rec.DataPath()
	if p == "" {
		p = b.rec.SourcePath()
	}
	if p != "" {
		return strings.TrimPrefix(filepath.Ext(p), ".")
	}
	return "toml"
}

// Log returns the entity-scoped logger.
func (b *Base) Log() *slog.Logger { return b.log }

// GuardInactive fails op unless the entity is inactive.
func (b *Base) GuardInactive(ctx context.Context, e Entity, op string) error {
	active, err := e.IsActive(ctx)
	if err != nil {
		return err
	}
	if active {
		return &LifecycleError{Op: op, ID: b.ID(), Reason: "entity is active"}
	}
	return nil
}

// GuardActive fails op unless the entity is active.
func (b *Base) GuardActive(ctx context.Context, e Entity, op string) error {
	active, err := e.IsActive(ctx)
	if err != nil {
		return err
	}
	if !active {
		return &LifecycleError{Op: op, ID: b.ID(), Reason: "entity is not active"}
	}
	return nil
}

// Register creates the entity directory and persists both record
// halves: detected → registered. The target must not exist; any failure
// after the directory was created rolls it back so no partial
// registration survives on disk.
func Register(e Entity, dir string) (err error) {
	if _, statErr := os.Stat(dir); statErr == nil {
		return &LifecycleError{Op: "register", ID: e.ID(), Reason: fmt.Sprintf("path %s already exists", dir)}
	} else if !os.IsNotExist(statErr) {
		return fmt.Errorf("manageable: register %q: %w", e.ID(), statErr)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("manageable: register %q: %w", e.ID(), err)
	}
	rec := e.Record()
	defer func() {
		if err != nil {
			// Roll the entity all the way back to detected: no partial
			// directory, no attached paths, no registration meta.
			_ = os.RemoveAll(dir)
			_ = rec.ClearPaths()
			record.Delete(rec.Meta(), "path")
			record.Delete(rec.Meta(), "preferred_suffix")
		}
	}()

	suffix := e.PreferredSuffix()
	if err = rec.SetDataPath(filepath.Join(dir, DataFilename+"."+suffix)); err != nil {
		return err
	}
	if err = rec.SetMetaPath(filepath.Join(dir, MetaFilename+"."+suffix)); err != nil {
		return err
	}
	abs, absErr := filepath.Abs(dir)
	if absErr != nil {
		err = absErr
		return err
	}
	record.Set(rec.Meta(), abs, "path")
	record.Set(rec.Meta(), suffix, "preferred_suffix")
	if err = rec.Dump(); err != nil {
		return err
	}
	return nil
}

// Destruct removes a registered, inactive entity's directory. The
// entity object must not be reused afterwards.
func Destruct(ctx context.Context, e Entity) error {
	active, err := e.IsActive(ctx)
	if err != nil {
		return err
	}
	if active {
		return &LifecycleError{Op: "destruct", ID: e.ID(), Reason: "entity is active"}
	}
	rec := e.Record()
	dir, ok := record.String(rec.Meta(), "path")
	if !ok || dir == "" {
		return &LifecycleError{Op: "destruct", ID: e.ID(), Reason: "entity is not registered"}
	}
	if err := rec.ClearPaths(); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("manageable: destruct %q: %w", e.ID(), err)
	}
	return nil
}

// DataPathIn locates the single data file inside an entity directory,
// ignoring lock sidecars.
func DataPathIn(dir string) (string, error) {
	return singleStem(dir, DataFilename)
}

// MetaPathIn locates the single meta file inside an entity directory.
func MetaPathIn(dir string) (string, error) {
	return singleStem(dir, MetaFilename)
}

func singleStem(dir, stem string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil {
		return "", err
	}
	var files []string
	for _, m := range matches {
		if strings.HasSuffix(m, ".lock") {
			continue
		}
		files = append(files, m)
	}
	if len(files) != 1 {
		return "", fmt.Errorf("manageable: %s: want exactly one %s.* file, found %d", dir, stem, len(files))
	}
	return files[0], nil
}

// IsEntityDir probes whether dir looks like a registered entity:
// exactly one data and one meta file sharing a supported suffix, and
// validate accepting both. Probing arbitrary filesystem junk must never
// crash, so every failure folds into false.
func IsEntityDir(dir string, validate func(dataPath, metaPath string) bool) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	dataPath, err := DataPathIn(dir)
	if err != nil {
		return false
	}
	metaPath, err := MetaPathIn(dir)
	if err != nil {
		return false
	}
	if filepath.Ext(dataPath) != filepath.Ext(metaPath) {
		return false
	}
	if !codec.Has(filepath.Ext(dataPath)) {
		return false
	}
	if validate == nil {
		return true
	}
	return validate(dataPath, metaPath)
}
