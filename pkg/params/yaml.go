package params

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadYAML reads a nested YAML document into a new store
func LoadYAML(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading parameter file")
	}
	return FromYAML(data)
}

// FromYAML flattens nested mappings into slash separated keys.
// Lists are stored as []any leaves.
func FromYAML(data []byte) (*MemoryStore, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing parameter yaml")
	}

	s := NewMemoryStore()
	if err := SetTree(s, "", doc); err != nil {
		return nil, err
	}
	return s, nil
}

// SetTree writes every leaf of tree under prefix
func SetTree(s Store, prefix string, tree map[string]any) error {
	for k, v := range tree {
		key := prefix + "/" + k
		if sub, ok := v.(map[string]any); ok {
			if err := SetTree(s, key, sub); err != nil {
				return err
			}
			continue
		}
		if err := s.Set(key, v); err != nil {
			return errors.Wrapf(err, "setting %s", key)
		}
	}
	return nil
}
