package platform

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a board file from disk. See Parse for the accepted
// shape.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("platform: read board file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML board file into a validated profile. Register
// layout fields left unset default to the standard SiFive layout, so a
// minimal file only names the base address and source count.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("platform: parse board file: %w", err)
	}
	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
