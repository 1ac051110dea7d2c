package interest

import (
	"sync"

	"SimFed/internal/fom"
	"SimFed/internal/hla"
)

// RegionPredicate decides whether a sent region reaches a subscribed region.
type RegionPredicate func(subscribed, sent string) bool

// RegionsOverlap is the default predicate: names must match unless either side is unset.
func RegionsOverlap(subscribed, sent string) bool {
	return subscribed == "" || sent == "" || subscribed == sent
}

// ObjectInterest is a subscription of one federate to one object class.
type ObjectInterest struct {
	Class      hla.ObjectClassHandle              // Class is the subscribed class
	Attributes hla.HandleSet[hla.AttributeHandle] // Attributes is the subscribed attribute set
	Region     string                             // Region is the DDM region, empty for none
}

// InteractionInterest is a subscription of one federate to one interaction class.
type InteractionInterest struct {
	Class  hla.InteractionClassHandle // Class is the subscribed class
	Region string                     // Region is the DDM region, empty for none
}

// Manager tracks publications and subscriptions of every federate.
// Every method runs under the manager lock, so multi-step reads are consistent.
type Manager struct {
	mu      sync.RWMutex
	model   *fom.Model
	overlap RegionPredicate

	published  map[hla.FederateHandle]map[hla.ObjectClassHandle]hla.HandleSet[hla.AttributeHandle]
	subscribed map[hla.FederateHandle]map[hla.ObjectClassHandle]*ObjectInterest

	pubInteractions map[hla.FederateHandle]hla.HandleSet[hla.InteractionClassHandle]
	subInteractions map[hla.FederateHandle]map[hla.InteractionClassHandle]*InteractionInterest
}

// New creates an empty manager for a model. A nil predicate selects RegionsOverlap.
func New(model *fom.Model, overlap RegionPredicate) *Manager {
	if overlap == nil {
		overlap = RegionsOverlap
	}

	m := &Manager{model: model, overlap: overlap}
	m.clear()

	return m
}

func (m *Manager) clear() {
	m.published = make(map[hla.FederateHandle]map[hla.ObjectClassHandle]hla.HandleSet[hla.AttributeHandle])
	m.subscribed = make(map[hla.FederateHandle]map[hla.ObjectClassHandle]*ObjectInterest)
	m.pubInteractions = make(map[hla.FederateHandle]hla.HandleSet[hla.InteractionClassHandle])
	m.subInteractions = make(map[hla.FederateHandle]map[hla.InteractionClassHandle]*InteractionInterest)
}

// =============================================================================
// Object classes
// =============================================================================

// PublishObjectClass adds attributes to the federate's publication of a class.
func (m *Manager) PublishObjectClass(fed hla.FederateHandle, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	if err := m.model.ValidateAttributes(class, attrs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	classes := m.published[fed]
	if classes == nil {
		classes = make(map[hla.ObjectClassHandle]hla.HandleSet[hla.AttributeHandle])
		m.published[fed] = classes
	}

	set := classes[class]
	if set == nil {
		set = make(hla.HandleSet[hla.AttributeHandle])
		classes[class] = set
	}

	set.Union(attrs)

	return nil
}

// UnpublishObjectClass removes attributes from a publication.
// An empty set removes the whole class; so does removing the last attribute.
func (m *Manager) UnpublishObjectClass(fed hla.FederateHandle, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	if m.model.ObjectClass(class) == nil {
		return hla.Errorf(hla.KindObjectClassNotDefined, "class %d", class)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.published[fed][class]
	if set == nil {
		return hla.Errorf(hla.KindObjectClassNotPublished, "class %d by %s", class, fed)
	}

	if len(attrs) == 0 {
		set = nil
	} else {
		set.Remove(attrs.Sorted()...)
	}

	if len(set) == 0 {
		delete(m.published[fed], class)
		if len(m.published[fed]) == 0 {
			delete(m.published, fed)
		}
	}

	return nil
}

// SubscribeObjectClass adds attributes to the federate's subscription of a class.
// A non-empty region replaces the previous region of the subscription.
func (m *Manager) SubscribeObjectClass(fed hla.FederateHandle, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle], region string) error {
	if err := m.model.ValidateAttributes(class, attrs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	classes := m.subscribed[fed]
	if classes == nil {
		classes = make(map[hla.ObjectClassHandle]*ObjectInterest)
		m.subscribed[fed] = classes
	}

	in := classes[class]
	if in == nil {
		in = &ObjectInterest{Class: class, Attributes: make(hla.HandleSet[hla.AttributeHandle])}
		classes[class] = in
	}

	in.Attributes.Union(attrs)
	if region != "" {
		in.Region = region
	}

	return nil
}

// UnsubscribeObjectClass removes attributes from a subscription, with the same
// empty-set rule as UnpublishObjectClass. Unsubscribing an unknown class is a no-op.
func (m *Manager) UnsubscribeObjectClass(fed hla.FederateHandle, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	if m.model.ObjectClass(class) == nil {
		return hla.Errorf(hla.KindObjectClassNotDefined, "class %d", class)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	in := m.subscribed[fed][class]
	if in == nil {
		return nil
	}

	if len(attrs) == 0 {
		in.Attributes = nil
	} else {
		in.Attributes.Remove(attrs.Sorted()...)
	}

	if len(in.Attributes) == 0 {
		delete(m.subscribed[fed], class)
		if len(m.subscribed[fed]) == 0 {
			delete(m.subscribed, fed)
		}
	}

	return nil
}

// PublishedAttributes returns a copy of the attributes the federate publishes for
// the class, nil when the class is not published.
func (m *Manager) PublishedAttributes(fed hla.FederateHandle, class hla.ObjectClassHandle) hla.HandleSet[hla.AttributeHandle] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.published[fed][class]
	if set == nil {
		return nil
	}

	return set.Clone()
}

// IsObjectClassPublished reports whether the federate publishes any attribute of the class.
func (m *Manager) IsObjectClassPublished(fed hla.FederateHandle, class hla.ObjectClassHandle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.published[fed][class]) > 0
}

// CheckPublished fails with ObjectClassNotPublished unless the federate publishes
// the class and every listed attribute.
func (m *Manager) CheckPublished(fed hla.FederateHandle, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.published[fed][class]
	if len(set) == 0 {
		return hla.Errorf(hla.KindObjectClassNotPublished, "class %d by %s", class, fed)
	}

	for a := range attrs {
		if !set.Contains(a) {
			return hla.Errorf(hla.KindObjectClassNotPublished, "attribute %d of class %d by %s", a, class, fed)
		}
	}

	return nil
}

// SubscribedInterest returns the federate's subscription to exactly this class.
// A nil result means the federate is not interested and the message must be dropped silently.
func (m *Manager) SubscribedInterest(fed hla.FederateHandle, class hla.ObjectClassHandle) *ObjectInterest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	in := m.subscribed[fed][class]
	if in == nil {
		return nil
	}

	return &ObjectInterest{Class: in.Class, Attributes: in.Attributes.Clone(), Region: in.Region}
}

// AllSubscribers returns every federate subscribed to exactly this class.
func (m *Manager) AllSubscribers(class hla.ObjectClassHandle) hla.HandleSet[hla.FederateHandle] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(hla.HandleSet[hla.FederateHandle])
	for fed, classes := range m.subscribed {
		if classes[class] != nil {
			out.Add(fed)
		}
	}

	return out
}

// DiscoveryClass resolves the most specific ancestor of registered (itself included)
// the federate subscribes to. This is the class the federate discovers the instance as.
func (m *Manager) DiscoveryClass(fed hla.FederateHandle, registered hla.ObjectClassHandle) (hla.ObjectClassHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.discoveryClass(fed, registered)
}

func (m *Manager) discoveryClass(fed hla.FederateHandle, registered hla.ObjectClassHandle) (hla.ObjectClassHandle, bool) {
	classes := m.subscribed[fed]
	if classes == nil {
		return 0, false
	}

	for cls := m.model.ObjectClass(registered); cls != nil; cls = cls.Parent {
		if classes[cls.Handle] != nil {
			return cls.Handle, true
		}
	}

	return 0, false
}

// Discoverers maps every federate interested in instances of registered to the
// class it discovers them as. exclude is left out (typically the registrant).
func (m *Manager) Discoverers(registered hla.ObjectClassHandle, exclude hla.FederateHandle) map[hla.FederateHandle]hla.ObjectClassHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[hla.FederateHandle]hla.ObjectClassHandle)
	for fed := range m.subscribed {
		if fed == exclude {
			continue
		}

		if cls, ok := m.discoveryClass(fed, registered); ok {
			out[fed] = cls
		}
	}

	return out
}

// =============================================================================
// Interaction classes
// =============================================================================

// PublishInteraction declares that the federate sends the interaction class.
func (m *Manager) PublishInteraction(fed hla.FederateHandle, class hla.InteractionClassHandle) error {
	if m.model.InteractionClass(class) == nil {
		return hla.Errorf(hla.KindInteractionClassNotDefined, "class %d", class)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.pubInteractions[fed]
	if set == nil {
		set = make(hla.HandleSet[hla.InteractionClassHandle])
		m.pubInteractions[fed] = set
	}

	set.Add(class)

	return nil
}

// UnpublishInteraction withdraws an interaction publication.
func (m *Manager) UnpublishInteraction(fed hla.FederateHandle, class hla.InteractionClassHandle) error {
	if m.model.InteractionClass(class) == nil {
		return hla.Errorf(hla.KindInteractionClassNotDefined, "class %d", class)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.pubInteractions[fed]
	if !set.Contains(class) {
		return hla.Errorf(hla.KindInteractionClassNotPublished, "class %d by %s", class, fed)
	}

	set.Remove(class)
	if len(set) == 0 {
		delete(m.pubInteractions, fed)
	}

	return nil
}

// SubscribeInteraction subscribes the federate to an interaction class.
func (m *Manager) SubscribeInteraction(fed hla.FederateHandle, class hla.InteractionClassHandle, region string) error {
	if m.model.InteractionClass(class) == nil {
		return hla.Errorf(hla.KindInteractionClassNotDefined, "class %d", class)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	classes := m.subInteractions[fed]
	if classes == nil {
		classes = make(map[hla.InteractionClassHandle]*InteractionInterest)
		m.subInteractions[fed] = classes
	}

	in := classes[class]
	if in == nil {
		in = &InteractionInterest{Class: class}
		classes[class] = in
	}

	if region != "" {
		in.Region = region
	}

	return nil
}

// UnsubscribeInteraction withdraws an interaction subscription. Unknown classes are a no-op.
func (m *Manager) UnsubscribeInteraction(fed hla.FederateHandle, class hla.InteractionClassHandle) error {
	if m.model.InteractionClass(class) == nil {
		return hla.Errorf(hla.KindInteractionClassNotDefined, "class %d", class)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subInteractions[fed], class)
	if len(m.subInteractions[fed]) == 0 {
		delete(m.subInteractions, fed)
	}

	return nil
}

// SubscribedInteraction returns the federate's subscription to exactly this
// interaction class, nil when there is none.
func (m *Manager) SubscribedInteraction(fed hla.FederateHandle, class hla.InteractionClassHandle) *InteractionInterest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	in := m.subInteractions[fed][class]
	if in == nil {
		return nil
	}

	return &InteractionInterest{Class: in.Class, Region: in.Region}
}

// CheckInteractionPublished fails unless the federate publishes the class.
func (m *Manager) CheckInteractionPublished(fed hla.FederateHandle, class hla.InteractionClassHandle) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.pubInteractions[fed].Contains(class) {
		return hla.Errorf(hla.KindInteractionClassNotPublished, "class %d by %s", class, fed)
	}

	return nil
}

// InteractionReceiveClass resolves the most specific subscribed ancestor of a sent
// interaction class, provided the sent region overlaps the subscription region.
func (m *Manager) InteractionReceiveClass(fed hla.FederateHandle, sent hla.InteractionClassHandle, region string) (hla.InteractionClassHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	classes := m.subInteractions[fed]
	if classes == nil {
		return 0, false
	}

	for cls := m.model.InteractionClass(sent); cls != nil; cls = cls.Parent {
		if in := classes[cls.Handle]; in != nil {
			if !m.overlap(in.Region, region) {
				return 0, false
			}

			return cls.Handle, true
		}
	}

	return 0, false
}

// Overlaps applies the region predicate.
func (m *Manager) Overlaps(subscribed, sent string) bool {
	return m.overlap(subscribed, sent)
}

// RemoveFederate drops every declaration of a resigning federate.
func (m *Manager) RemoveFederate(fed hla.FederateHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.published, fed)
	delete(m.subscribed, fed)
	delete(m.pubInteractions, fed)
	delete(m.subInteractions, fed)
}
