package sink

import (
	"SimFed/internal/hla"
)

// Priorities of the shared guards. Domain handlers use values above GuardPriority.
const (
	GuardPriority   = 0
	DefaultPriority = 100
)

// VetoIfMessageFromUs drops frames this runtime sent itself, such as a broadcast a
// forwarder relayed back onto the medium it came from.
func VetoIfMessageFromUs(self func() hla.FederateHandle) Handler {
	return Func("veto-own", GuardPriority, func(ctx *Context) error {
		if ctx.Header.Source == self() {
			ctx.Veto("sent by us")
		}

		return nil
	})
}

// VetoIfNotAddressed drops frames targeted at another federate or at another
// federation.
func VetoIfNotAddressed(self func() hla.FederateHandle, federation func() hla.FederationHandle) Handler {
	return Func("veto-not-addressed", GuardPriority, func(ctx *Context) error {
		switch {
		case ctx.Header.Federation != federation():
			ctx.Veto("other federation")
		case !ctx.Header.Addressed(self()):
			ctx.Veto("addressed to " + ctx.Header.Target.String())
		}

		return nil
	})
}
