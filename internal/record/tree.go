// Package record implements the dual-tree persistent record: a
// write-once "data" tree describing an entity and a mutable "meta" tree
// holding its runtime state, optionally backed by locked files, with
// schema validation driven by explicit field tables.
package record

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/spool-sh/spool/internal/codec"
)

// Tree is a string-keyed heterogeneous tree, the in-memory form of one
// record half. Values are strings, int64, float64, bool, nil, nested
// Trees and []any, as produced by the codec layer.
type Tree = codec.Tree

// DeepCopy clones a tree. The value domain is closed, so a typed switch
// covers it; unknown leaf types are copied by reference.
func DeepCopy(t Tree) Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case Tree:
		return DeepCopy(x)
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = deepCopyValue(e)
		}
		return s
	default:
		return x
	}
}

// Lookup walks nested keys and returns the value at the end of the path.
func Lookup(t Tree, path ...string) (any, bool) {
	var cur any = t
	for _, k := range path {
		m, ok := cur.(Tree)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at the nested path, creating intermediate trees.
func Set(t Tree, value any, path ...string) {
	if len(path) == 0 {
		return
	}
	cur := t
	for _, k := range path[:len(path)-1] {
		next, ok := cur[k].(Tree)
		if !ok {
			next = Tree{}
			cur[k] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// Delete removes the key at the nested path if present.
func Delete(t Tree, path ...string) {
	if len(path) == 0 {
		return
	}
	v, ok := Lookup(t, path[:len(path)-1]...)
	if !ok {
		return
	}
	if m, ok := v.(Tree); ok {
		delete(m, path[len(path)-1])
	}
}

// String returns the string at path; the boolean reports presence with
// the right type. A present-but-nil value counts as absent.
func String(t Tree, path ...string) (string, bool) {
	v, ok := Lookup(t, path...)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the int64 at path.
func Int(t Tree, path ...string) (int64, bool) {
	v, ok := Lookup(t, path...)
	if !ok || v == nil {
		return 0, false
	}
	i, ok := v.(int64)
	return i, ok
}

// Bool returns the bool at path.
func Bool(t Tree, path ...string) (bool, bool) {
	v, ok := Lookup(t, path...)
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Sub returns the nested tree at path.
func Sub(t Tree, path ...string) (Tree, bool) {
	v, ok := Lookup(t, path...)
	if !ok || v == nil {
		return nil, false
	}
	m, ok := v.(Tree)
	return m, ok
}

// Strings returns the []any at path coerced to strings.
func Strings(t Tree, path ...string) ([]string, bool) {
	v, ok := Lookup(t, path...)
	if !ok || v == nil {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// Decode maps a tree onto a struct using mapstructure tags. Unknown
// keys in the tree are an error so descriptor typos surface instead of
// silently vanishing.
func Decode(t Tree, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		ErrorUnused: true,
		TagName:     "record",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(t); err != nil {
		return fmt.Errorf("record: decode: %w", err)
	}
	return nil
}
