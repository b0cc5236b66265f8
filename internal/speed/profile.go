package speed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile overrides the class inference table.
//
// Example:
//
//	classes:
//	  motorway_link: 60
//	  trunk_link: 50
//	  living_street: 10
//	  service: 0   # removes the entry
type Profile struct {
	Classes map[string]int `yaml:"classes"`
}

// LoadProfile loads a speed profile from a YAML file
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read speed profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile parses speed profile YAML
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse speed profile YAML: %w", err)
	}
	for class, mph := range p.Classes {
		if mph < 0 {
			return nil, fmt.Errorf("class %q has negative speed %d", class, mph)
		}
	}
	return &p, nil
}
