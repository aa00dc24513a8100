package record

import (
	"fmt"
)

// SchemaError names the declared field whose check failed during a
// validation sweep.
type SchemaError struct {
	Field string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("record: schema: field %q: %v", e.Field, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Node is a typed view over one (data, meta) slice pair. Concrete node
// types wrap it with accessors and declare a Field table; Validate
// exercises every declared field once so any node handed to application
// code already satisfies its schema. Sub-entities (a task's backend and
// wrapper views) are Nodes over slices of the parent's trees.
type Node struct {
	data Tree
	meta Tree
}

// NewNode builds a view over live tree references. Mutations through
// the node are visible in the parent trees.
func NewNode(data, meta Tree) Node {
	if data == nil {
		data = Tree{}
	}
	if meta == nil {
		meta = Tree{}
	}
	return Node{data: data, meta: meta}
}

// Data returns the data tree. Data is logically read-only after
// registration; accessors must not write through it.
func (n Node) Data() Tree { return n.data }

// Meta returns the live meta tree.
func (n Node) Meta() Tree { return n.meta }

// Field is one row of a node type's declared schema: an explicit
// replacement for scanning properties at runtime. Check reads the field
// and fails on a missing or wrong-typed value. Default, when non-nil,
// writes the field's default into meta if absent; it runs before Check
// and only during a mutable validation sweep. Accessors that recurse
// into other nodes simply do not appear in the table.
type Field struct {
	Name    string
	Check   func(Node) error
	Default func(Node)
}

// Validate runs a field table against a node. When mutable, defaults
// for absent optional fields are established first, mirroring a
// write-back of the value just read. The first failing field aborts the
// sweep with a SchemaError naming it.
func Validate(n Node, fields []Field, mutable bool) error {
	for _, f := range fields {
		if mutable && f.Default != nil {
			f.Default(n)
		}
		if f.Check == nil {
			continue
		}
		if err := f.Check(n); err != nil {
			return &SchemaError{Field: f.Name, Err: err}
		}
	}
	return nil
}

// RequireString returns a Check for a mandatory string in data at path.
func RequireString(path ...string) func(Node) error {
	return func(n Node) error {
		if _, ok := String(n.Data(), path...); !ok {
			return fmt.Errorf("missing or non-string %v", path)
		}
		return nil
	}
}

// RequireTree returns a Check for a mandatory nested tree in data.
func RequireTree(path ...string) func(Node) error {
	return func(n Node) error {
		if _, ok := Sub(n.Data(), path...); !ok {
			return fmt.Errorf("missing or non-table %v", path)
		}
		return nil
	}
}

// OptionalString returns a Check accepting an absent value but
// rejecting a present non-string in meta.
func OptionalString(path ...string) func(Node) error {
	return func(n Node) error {
		v, ok := Lookup(n.Meta(), path...)
		if !ok || v == nil {
			return nil
		}
		if _, ok := v.(string); !ok {
			return fmt.Errorf("non-string %v: %T", path, v)
		}
		return nil
	}
}

// OptionalInt is OptionalString for int64 meta values.
func OptionalInt(path ...string) func(Node) error {
	return func(n Node) error {
		v, ok := Lookup(n.Meta(), path...)
		if !ok || v == nil {
			return nil
		}
		if _, ok := v.(int64); !ok {
			return fmt.Errorf("non-integer %v: %T", path, v)
		}
		return nil
	}
}

// OptionalBool is OptionalString for bool meta values.
func OptionalBool(path ...string) func(Node) error {
	return func(n Node) error {
		v, ok := Lookup(n.Meta(), path...)
		if !ok || v == nil {
			return nil
		}
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("non-bool %v: %T", path, v)
		}
		return nil
	}
}
