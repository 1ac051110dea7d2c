package timing

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"SimFed/internal/hla"
)

// Name identifies the component in a checkpoint manifest.
func (m *Manager) Name() string {
	return "timing"
}

// Save serializes every federate status in handle order.
func (m *Manager) Save() ([]byte, error) {
	m.mu.Lock()

	statuses := make([]Status, 0, len(m.statuses))
	for _, fed := range m.sortedFederates() {
		statuses = append(statuses, *m.statuses[fed])
	}

	m.mu.Unlock()

	data, err := yaml.Marshal(statuses)
	if err != nil {
		return nil, fmt.Errorf("marshal time state:\n%w", err)
	}

	return data, nil
}

// Restore replaces every status with the saved ones.
func (m *Manager) Restore(data []byte) error {
	var statuses []Status
	if err := yaml.Unmarshal(data, &statuses); err != nil {
		return fmt.Errorf("unmarshal time state:\n%w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = make(map[hla.FederateHandle]*Status, len(statuses))
	for i := range statuses {
		s := statuses[i]
		m.statuses[s.Federate] = &s
	}

	return nil
}
