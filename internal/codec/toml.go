package codec

import (
	toml "github.com/pelletier/go-toml/v2"
)

type tomlCodec struct{}

func (tomlCodec) Suffix() string { return "toml" }

func (tomlCodec) Decode(b []byte) (Tree, error) {
	var raw map[string]any
	if err := toml.Unmarshal(b, &raw); err != nil {
		return nil, &Error{Suffix: "toml", Op: "decode", Err: err}
	}
	t, err := normalizeTree(raw)
	if err != nil {
		return nil, &Error{Suffix: "toml", Op: "decode", Err: err}
	}
	return t, nil
}

func (tomlCodec) Encode(t Tree) ([]byte, error) {
	b, err := toml.Marshal(stripNulls(t))
	if err != nil {
		return nil, &Error{Suffix: "toml", Op: "encode", Err: err}
	}
	return b, nil
}

// stripNulls removes nil-valued keys before TOML encoding; TOML has no
// null literal, and an absent key round-trips to the same tree shape the
// record layer treats as unset.
func stripNulls(t Tree) Tree {
	out := make(Tree, len(t))
	for k, v := range t {
		switch x := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = stripNulls(x)
		default:
			out[k] = v
		}
	}
	return out
}

func init() { Register(tomlCodec{}) }
