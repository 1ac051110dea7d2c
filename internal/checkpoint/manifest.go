package checkpoint

import (
	"fmt"

	"github.com/zeebo/blake3"
)

// Component is a piece of state that takes part in a federation save.
type Component interface {
	Name() string
	Save() ([]byte, error)
	Restore(data []byte) error
}

// Manifest is the ordered list of components written into a checkpoint.
// The order is part of the format: a checkpoint only restores into a manifest
// with the same names in the same order.
type Manifest struct {
	components []Component
}

// NewManifest builds a manifest, rejecting empty and duplicate names.
func NewManifest(components ...Component) (*Manifest, error) {
	seen := make(map[string]bool, len(components))

	for _, c := range components {
		name := c.Name()
		if name == "" {
			return nil, fmt.Errorf("component with empty name")
		}

		if seen[name] {
			return nil, fmt.Errorf("duplicate component %q", name)
		}

		seen[name] = true
	}

	return &Manifest{components: components}, nil
}

// Names returns the component names in order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.components))
	for i, c := range m.components {
		names[i] = c.Name()
	}

	return names
}

// Fingerprint hashes the ordered names.
func (m *Manifest) Fingerprint() [32]byte {
	h := blake3.New()

	for _, c := range m.components {
		h.Write([]byte(c.Name()))
		h.Write([]byte{0})
	}

	var out [32]byte
	h.Sum(out[:0])

	return out
}
