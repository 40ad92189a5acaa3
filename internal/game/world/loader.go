package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlMapFile is the top-level YAML structure for map files.
type yamlMapFile struct {
	Map yamlMap `yaml:"map"`
}

type yamlMap struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Width     float64 `yaml:"width"`
	Height    float64 `yaml:"height"`
	Spawn     Point   `yaml:"spawn"`
	Obstacles []Rect  `yaml:"obstacles"`
}

// LoadMapFromFile reads and validates a single map YAML file.
//
// Precondition: path must point to a valid YAML map file.
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file %s: %w", path, err)
	}
	return LoadMapFromBytes(data)
}

// LoadMapFromBytes parses and validates a map from YAML bytes.
//
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromBytes(data []byte) (*Map, error) {
	var file yamlMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing map YAML: %w", err)
	}

	ym := file.Map
	m := &Map{
		ID:        ym.ID,
		Name:      ym.Name,
		Width:     ym.Width,
		Height:    ym.Height,
		Spawn:     ym.Spawn,
		Obstacles: ym.Obstacles,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating map: %w", err)
	}
	return m, nil
}

// Load returns the map at path, or the built-in default when path is empty.
func Load(path string) (*Map, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadMapFromFile(path)
}
