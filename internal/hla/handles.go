package hla

import (
	"fmt"
	"sort"
)

// FederateHandle identifies a joined federate within a federation execution.
type FederateHandle uint32

// FederationHandle identifies a federation execution.
type FederationHandle uint32

// ObjectClassHandle identifies an object class of the object model.
type ObjectClassHandle uint32

// AttributeHandle identifies an attribute of an object class.
type AttributeHandle uint32

// InteractionClassHandle identifies an interaction class of the object model.
type InteractionClassHandle uint32

// ParameterHandle identifies a parameter of an interaction class.
type ParameterHandle uint32

// ObjectHandle identifies a registered object instance.
type ObjectHandle uint32

const (
	// RTIFederate is the handle used by the RTI when it sends or receives messages.
	RTIFederate FederateHandle = 0

	// AllFederates addresses every federate of a federation.
	AllFederates FederateHandle = 0xFFFFFFFF

	// NoFederation is used by messages that are not bound to a federation yet (create, join).
	NoFederation FederationHandle = 0

	// NoObject is the zero object handle, never assigned.
	NoObject ObjectHandle = 0
)

// String returns a readable federate handle.
func (h FederateHandle) String() string {
	switch h {
	case RTIFederate:
		return "rti"
	case AllFederates:
		return "all"
	default:
		return fmt.Sprintf("fed-%d", uint32(h))
	}
}

// Handle is any of the integer handle types.
type Handle interface {
	~uint32
}

// HandleSet is an unordered set of handles.
type HandleSet[H Handle] map[H]struct{}

// NewSet creates a set containing the given handles.
func NewSet[H Handle](handles ...H) HandleSet[H] {
	s := make(HandleSet[H], len(handles))
	for _, h := range handles {
		s[h] = struct{}{}
	}

	return s
}

// Add inserts the handles into the set.
func (s HandleSet[H]) Add(handles ...H) {
	for _, h := range handles {
		s[h] = struct{}{}
	}
}

// Remove deletes the handles from the set.
func (s HandleSet[H]) Remove(handles ...H) {
	for _, h := range handles {
		delete(s, h)
	}
}

// Contains reports whether h is in the set.
func (s HandleSet[H]) Contains(h H) bool {
	_, ok := s[h]
	return ok
}

// Union adds every member of other to s.
func (s HandleSet[H]) Union(other HandleSet[H]) {
	for h := range other {
		s[h] = struct{}{}
	}
}

// Intersect returns a new set with the members present in both sets.
func (s HandleSet[H]) Intersect(other HandleSet[H]) HandleSet[H] {
	out := make(HandleSet[H])
	for h := range s {
		if other.Contains(h) {
			out[h] = struct{}{}
		}
	}

	return out
}

// Clone returns a copy of the set.
func (s HandleSet[H]) Clone() HandleSet[H] {
	out := make(HandleSet[H], len(s))
	for h := range s {
		out[h] = struct{}{}
	}

	return out
}

// Sorted returns the members in ascending order.
func (s HandleSet[H]) Sorted() []H {
	out := make([]H, 0, len(s))
	for h := range s {
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Equal reports whether both sets hold the same members.
func (s HandleSet[H]) Equal(other HandleSet[H]) bool {
	if len(s) != len(other) {
		return false
	}

	for h := range s {
		if !other.Contains(h) {
			return false
		}
	}

	return true
}
