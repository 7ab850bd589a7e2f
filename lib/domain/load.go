package domain

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// Parse decodes a guest definition from YAML or JSON.
func Parse(data []byte) (*Guest, error) {
	var g Guest
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse guest definition: %w", err)
	}
	if g.Name == "" {
		return nil, fmt.Errorf("parse guest definition: name is required")
	}
	if g.Machine == "" {
		return nil, fmt.Errorf("parse guest definition: machine is required")
	}
	return &g, nil
}

// LoadFile reads a guest definition from disk.
func LoadFile(path string) (*Guest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guest definition: %w", err)
	}
	return Parse(data)
}

// Clone returns a deep copy of the guest definition. Fields excluded from
// serialization (the normalized clock start) are carried over explicitly.
func (g *Guest) Clone() (*Guest, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("clone guest definition: %w", err)
	}
	var out Guest
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone guest definition: %w", err)
	}
	if g.Clock.Start != nil {
		start := *g.Clock.Start
		out.Clock.Start = &start
	}
	return &out, nil
}
