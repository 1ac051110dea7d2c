package interest

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"SimFed/internal/hla"
)

// state is the checkpoint layout of the manager.
type state struct {
	Objects      []objectEntry      `yaml:"objects"`
	Interactions []interactionEntry `yaml:"interactions"`
}

type objectEntry struct {
	Federate   hla.FederateHandle    `yaml:"federate"`
	Class      hla.ObjectClassHandle `yaml:"class"`
	Subscribed bool                  `yaml:"subscribed"`
	Attributes []hla.AttributeHandle `yaml:"attributes"`
	Region     string                `yaml:"region,omitempty"`
}

type interactionEntry struct {
	Federate   hla.FederateHandle         `yaml:"federate"`
	Class      hla.InteractionClassHandle `yaml:"class"`
	Subscribed bool                       `yaml:"subscribed"`
	Region     string                     `yaml:"region,omitempty"`
}

// Name identifies the component in a checkpoint manifest.
func (m *Manager) Name() string {
	return "interest"
}

// Save serializes every declaration.
func (m *Manager) Save() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st state

	for _, fed := range sortedKeys(m.published) {
		classes := m.published[fed]
		for _, class := range sortedKeys(classes) {
			st.Objects = append(st.Objects, objectEntry{
				Federate:   fed,
				Class:      class,
				Attributes: classes[class].Sorted(),
			})
		}
	}

	for _, fed := range sortedKeys(m.subscribed) {
		classes := m.subscribed[fed]
		for _, class := range sortedKeys(classes) {
			in := classes[class]
			st.Objects = append(st.Objects, objectEntry{
				Federate:   fed,
				Class:      class,
				Subscribed: true,
				Attributes: in.Attributes.Sorted(),
				Region:     in.Region,
			})
		}
	}

	for _, fed := range sortedKeys(m.pubInteractions) {
		for _, class := range m.pubInteractions[fed].Sorted() {
			st.Interactions = append(st.Interactions, interactionEntry{Federate: fed, Class: class})
		}
	}

	for _, fed := range sortedKeys(m.subInteractions) {
		classes := m.subInteractions[fed]
		for _, class := range sortedKeys(classes) {
			st.Interactions = append(st.Interactions, interactionEntry{
				Federate:   fed,
				Class:      class,
				Subscribed: true,
				Region:     classes[class].Region,
			})
		}
	}

	data, err := yaml.Marshal(&st)
	if err != nil {
		return nil, fmt.Errorf("marshal interest state:\n%w", err)
	}

	return data, nil
}

// Restore replaces every declaration with the saved ones.
func (m *Manager) Restore(data []byte) error {
	var st state
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("unmarshal interest state:\n%w", err)
	}

	m.mu.Lock()
	m.clear()
	m.mu.Unlock()

	for _, e := range st.Objects {
		attrs := hla.NewSet(e.Attributes...)

		var err error
		if e.Subscribed {
			err = m.SubscribeObjectClass(e.Federate, e.Class, attrs, e.Region)
		} else {
			err = m.PublishObjectClass(e.Federate, e.Class, attrs)
		}

		if err != nil {
			return fmt.Errorf("restore object declaration of %s:\n%w", e.Federate, err)
		}
	}

	for _, e := range st.Interactions {
		var err error
		if e.Subscribed {
			err = m.SubscribeInteraction(e.Federate, e.Class, e.Region)
		} else {
			err = m.PublishInteraction(e.Federate, e.Class)
		}

		if err != nil {
			return fmt.Errorf("restore interaction declaration of %s:\n%w", e.Federate, err)
		}
	}

	return nil
}

// sortedKeys returns map keys in ascending order.
func sortedKeys[K hla.Handle, V any](m map[K]V) []K {
	set := make(hla.HandleSet[K], len(m))
	for k := range m {
		set.Add(k)
	}

	return set.Sorted()
}
