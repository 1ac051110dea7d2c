package lrc

import (
	"SimFed/internal/hla"
	"SimFed/internal/wire"
)

// Order tells how a message was delivered.
type Order uint8

// Delivery orders.
const (
	Receive   Order = iota // Receive delivers as soon as the federate may see it
	Timestamp              // Timestamp delivers in logical time order, before the covering grant
)

// String returns the order name.
func (o Order) String() string {
	if o == Timestamp {
		return "timestamp"
	}

	return "receive"
}

// Ambassador receives the callbacks of a federate. Callbacks run on the
// goroutine calling Evoke, one at a time, so an ambassador may call back into
// the LRC.
type Ambassador interface {
	DiscoverObjectInstance(obj hla.ObjectHandle, class hla.ObjectClassHandle, name string)
	ReflectAttributeValues(obj hla.ObjectHandle, values wire.AttributeValues, tag []byte, order Order, t hla.Time)
	ReceiveInteraction(class hla.InteractionClassHandle, values wire.ParameterValues, tag []byte, order Order, t hla.Time)
	RemoveObjectInstance(obj hla.ObjectHandle, tag []byte, order Order, t hla.Time)

	TimeRegulationEnabled(t hla.Time)
	TimeConstrainedEnabled(t hla.Time)
	TimeAdvanceGrant(t hla.Time)

	AnnounceSynchronizationPoint(label string, tag []byte)
	FederationSynchronized(label string)

	InitiateFederateSave(label string)
	FederationSaved(label string, success bool)
	InitiateFederateRestore(label string, fed hla.FederateHandle)
	FederationRestored(label string, success bool)
}

// BaseAmbassador ignores every callback. Embed it to implement only some.
type BaseAmbassador struct{}

func (BaseAmbassador) DiscoverObjectInstance(hla.ObjectHandle, hla.ObjectClassHandle, string) {}

func (BaseAmbassador) ReflectAttributeValues(hla.ObjectHandle, wire.AttributeValues, []byte, Order, hla.Time) {
}

func (BaseAmbassador) ReceiveInteraction(hla.InteractionClassHandle, wire.ParameterValues, []byte, Order, hla.Time) {
}

func (BaseAmbassador) RemoveObjectInstance(hla.ObjectHandle, []byte, Order, hla.Time) {}

func (BaseAmbassador) TimeRegulationEnabled(hla.Time) {}

func (BaseAmbassador) TimeConstrainedEnabled(hla.Time) {}

func (BaseAmbassador) TimeAdvanceGrant(hla.Time) {}

func (BaseAmbassador) AnnounceSynchronizationPoint(string, []byte) {}

func (BaseAmbassador) FederationSynchronized(string) {}

func (BaseAmbassador) InitiateFederateSave(string) {}

func (BaseAmbassador) FederationSaved(string, bool) {}

func (BaseAmbassador) InitiateFederateRestore(string, hla.FederateHandle) {}

func (BaseAmbassador) FederationRestored(string, bool) {}
