// Package codec maps record file suffixes to serialization formats.
// Every registered codec decodes into and encodes from a plain
// string-keyed tree so the rest of the system never depends on a
// concrete format.
package codec

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Tree is the decoded form shared by all codecs: string keys over
// strings, int64, float64, bool, nil, nested maps and slices.
type Tree = map[string]any

// Codec encodes and decodes one on-disk format identified by a file suffix.
type Codec interface {
	Suffix() string
	Decode(b []byte) (Tree, error)
	Encode(t Tree) ([]byte, error)
}

// Error reports a failed decode or encode. It wraps the underlying
// format error so callers can distinguish malformed content from plain
// I/O failures.
type Error struct {
	Suffix string
	Op     string // "decode" or "encode"
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec %s: %s: %v", e.Suffix, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var registry = map[string]Codec{}

// Register adds a codec to the suffix registry. Last registration for a
// suffix wins; built-in codecs register from init.
func Register(c Codec) {
	registry[normalize(c.Suffix())] = c
}

// BySuffix returns the codec for suffix (with or without leading dot).
func BySuffix(suffix string) (Codec, bool) {
	c, ok := registry[normalize(suffix)]
	return c, ok
}

// Has reports whether a codec is registered for suffix. Detection logic
// uses it to skip unsupported files silently.
func Has(suffix string) bool {
	_, ok := BySuffix(suffix)
	return ok
}

// Suffixes returns all registered suffixes, sorted, without dots.
func Suffixes() []string {
	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func normalize(suffix string) string {
	return strings.ToLower(strings.TrimPrefix(suffix, "."))
}

// normalizeTree rewrites codec-specific value types into the canonical
// tree domain: all integer kinds become int64, map[any]any becomes
// map[string]any, and nested containers are walked recursively.
func normalizeTree(t Tree) (Tree, error) {
	out := make(Tree, len(t))
	for k, v := range t {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, float64, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case map[string]any:
		return normalizeTree(x)
	case map[any]any:
		m := make(Tree, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			nv, err := normalizeValue(val)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", ks, err)
			}
			m[ks] = nv
		}
		return m, nil
	case []any:
		s := make([]any, len(x))
		for i, val := range x {
			nv, err := normalizeValue(val)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			s[i] = nv
		}
		return s, nil
	case []string:
		s := make([]any, len(x))
		for i, val := range x {
			s[i] = val
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
