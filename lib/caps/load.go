package caps

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// fileFormat is the on-disk representation of a capability set.
type fileFormat struct {
	Version  string                           `json:"version,omitempty"`
	Flags    []Flag                           `json:"flags"`
	Defaults map[DefaultKey]map[string]string `json:"defaults,omitempty"`
}

// Parse decodes a capability set from YAML or JSON.
func Parse(data []byte) (*Set, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}
	return NewSet(f.Version, f.Flags, f.Defaults), nil
}

// LoadFile reads a capability set from disk.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capabilities: %w", err)
	}
	return Parse(data)
}

// Marshal encodes s as YAML, the format LoadFile reads.
func Marshal(s *Set) ([]byte, error) {
	f := fileFormat{
		Version:  s.version,
		Flags:    s.Flags(),
		Defaults: s.Defaults(),
	}
	return yaml.Marshal(f)
}
