package repository

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"SimFed/internal/hla"
)

type state struct {
	Next     hla.ObjectHandle              `yaml:"next"`
	Objects  []*Instance                   `yaml:"objects"`
	Reserved map[string]hla.FederateHandle `yaml:"reserved,omitempty"`
}

// Name identifies the component in a checkpoint manifest.
func (r *Repository) Name() string {
	return "repository"
}

// Save serializes live instances and outstanding reservations. Tombstones are transient
// and are not saved.
func (r *Repository) Save() ([]byte, error) {
	r.mu.RLock()

	st := state{Next: r.next, Reserved: r.reserved}
	for _, h := range r.sortedHandles() {
		st.Objects = append(st.Objects, r.objects[h])
	}

	data, err := yaml.Marshal(&st)
	r.mu.RUnlock()

	if err != nil {
		return nil, fmt.Errorf("marshal repository state:\n%w", err)
	}

	return data, nil
}

// Restore replaces the repository content with a saved state.
func (r *Repository) Restore(data []byte) error {
	var st state
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("unmarshal repository state:\n%w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()
	r.next = st.Next

	for name, fed := range st.Reserved {
		r.reserved[name] = fed
	}

	for _, inst := range st.Objects {
		if inst.Owners == nil {
			inst.Owners = make(map[hla.AttributeHandle]hla.FederateHandle)
		}

		if inst.Discovered == nil {
			inst.Discovered = make(map[hla.FederateHandle]hla.ObjectClassHandle)
		}

		if inst.Regions == nil {
			inst.Regions = make(map[hla.AttributeHandle]string)
		}

		r.objects[inst.Handle] = inst
		r.names[inst.Name] = inst.Handle
	}

	return nil
}
