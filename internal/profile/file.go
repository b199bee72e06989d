package profile

import (
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadFile reads site-specific profiles from a YAML file. A missing file
// yields no profiles.
func LoadFile(path string) ([]Profile, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for _, p := range file.Profiles {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid profile in %s: %w", path, err)
		}
	}
	return file.Profiles, nil
}

// LoadFile places the profiles from path ahead of the existing entries,
// keeping their file order.
func (r *Registry) LoadFile(path string) error {
	profiles, err := LoadFile(path)
	if err != nil {
		return err
	}

	for i := len(profiles) - 1; i >= 0; i-- {
		if err := r.Prepend(profiles[i]); err != nil {
			return err
		}
	}

	if len(profiles) > 0 {
		log.Printf("[Profiles] Loaded %d custom profiles from %s", len(profiles), path)
	}
	return nil
}

// SaveFile writes profiles to path in the LoadFile format.
func SaveFile(path string, profiles []Profile) error {
	out, err := yaml.Marshal(profileFile{Profiles: profiles})
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}
	return nil
}
