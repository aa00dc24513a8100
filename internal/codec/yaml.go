package codec

import (
	yaml "gopkg.in/yaml.v3"
)

type yamlCodec struct{}

func (yamlCodec) Suffix() string { return "yaml" }

func (yamlCodec) Decode(b []byte) (Tree, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, &Error{Suffix: "yaml", Op: "decode", Err: err}
	}
	t, err := normalizeTree(raw)
	if err != nil {
		return nil, &Error{Suffix: "yaml", Op: "decode", Err: err}
	}
	return t, nil
}

func (yamlCodec) Encode(t Tree) ([]byte, error) {
	b, err := yaml.Marshal(t)
	if err != nil {
		return nil, &Error{Suffix: "yaml", Op: "encode", Err: err}
	}
	return b, nil
}

// ymlAlias lets "meta.yml" resolve to the YAML codec while Encode keeps
// reporting the canonical suffix.
type ymlAlias struct{ yamlCodec }

func (ymlAlias) Suffix() string { return "yml" }

func init() {
	Register(yamlCodec{})
	Register(ymlAlias{})
}
