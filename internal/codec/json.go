package codec

import (
	"bytes"
	"encoding/json"
)

type jsonCodec struct{}

func (jsonCodec) Suffix() string { return "json" }

func (jsonCodec) Decode(b []byte) (Tree, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &Error{Suffix: "json", Op: "decode", Err: err}
	}
	t, err := normalizeTree(jsonNumbers(raw))
	if err != nil {
		return nil, &Error{Suffix: "json", Op: "decode", Err: err}
	}
	return t, nil
}

func (jsonCodec) Encode(t Tree) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return nil, &Error{Suffix: "json", Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// jsonNumbers converts json.Number values to int64 where they are
// integral and float64 otherwise, recursively.
func jsonNumbers(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = jsonNumberValue(v)
	}
	return m
}

func jsonNumberValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		return jsonNumbers(x)
	case []any:
		for i, e := range x {
			x[i] = jsonNumberValue(e)
		}
		return x
	default:
		return v
	}
}

func init() { Register(jsonCodec{}) }
