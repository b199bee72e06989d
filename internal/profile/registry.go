package profile

import (
	"fmt"
	"sync"
)

// Registry is a priority-ordered list of profiles. The first profile whose
// match terms hit wins, so specific variants must be registered before the
// generic entry of the same vendor.
type Registry struct {
	mu       sync.RWMutex
	profiles []Profile
}

// NewRegistry builds a registry from profiles in priority order.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	r := &Registry{}
	for _, p := range profiles {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends p at the lowest priority.
func (r *Registry) Register(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.profiles {
		if existing.Name == p.Name {
			return fmt.Errorf("profile %s already registered", p.Name)
		}
	}
	r.profiles = append(r.profiles, p)
	return nil
}

// Prepend inserts p at the highest priority, replacing any profile with the
// same name.
func (r *Registry) Prepend(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]Profile, 0, len(r.profiles)+1)
	kept = append(kept, p)
	for _, existing := range r.profiles {
		if existing.Name != p.Name {
			kept = append(kept, existing)
		}
	}
	r.profiles = kept
	return nil
}

// Resolve returns the profile for equipmentType. The boolean is false when
// the type is unsupported; callers skip scheduling in that case.
func (r *Registry) Resolve(equipmentType string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.profiles {
		if p.Matches(equipmentType) {
			return p, true
		}
	}
	return Profile{}, false
}

// Profiles returns a copy of the registered profiles in priority order.
func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}
