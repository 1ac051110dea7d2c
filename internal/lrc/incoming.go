package lrc

import (
	"SimFed/internal/hla"
	"SimFed/internal/repository"
	"SimFed/internal/sink"
	"SimFed/internal/wire"
)

// registerIncoming fills the chains frames from the RTI and from peers run
// through. The guards drop what is not ours to see; the handlers update the
// local view and queue callbacks.
func (l *LRC) registerIncoming() {
	l.sinks.Register(sink.Incoming, sink.VetoIfMessageFromUs(l.self))
	l.sinks.Register(sink.Incoming, sink.VetoIfNotAddressed(l.self, l.federationHandle))

	l.sinks.Register(sink.Incoming, sink.Func("veto-foreign-control", sink.GuardPriority+1, func(ctx *sink.Context) error {
		if ctx.Header.Call != wire.DataMessage && ctx.Header.Source != hla.RTIFederate {
			ctx.Veto("control message from a federate")
		}

		return nil
	}))

	handlers := []struct {
		name string
		fn   func(*sink.Context) error
		typ  wire.MessageType
	}{
		{"discover-object", l.onDiscover, wire.TypeDiscoverObject},
		{"reflect-attributes", l.onUpdate, wire.TypeUpdateAttributes},
		{"receive-interaction", l.onInteraction, wire.TypeSendInteraction},
		{"remove-object", l.onRemove, wire.TypeRemoveObject},
		{"time-advance-grant", l.onGrant, wire.TypeTimeAdvanceGrant},
		{"announce-sync-point", l.onAnnounce, wire.TypeAnnounceSyncPoint},
		{"federation-synchronized", l.onSynchronized, wire.TypeFederationSynchronized},
		{"initiate-save", l.onInitiateSave, wire.TypeInitiateSave},
		{"federation-saved", l.onSaved, wire.TypeFederationSaved},
		{"initiate-restore", l.onInitiateRestore, wire.TypeInitiateRestore},
		{"federation-restored", l.onRestored, wire.TypeFederationRestored},
	}

	for _, h := range handlers {
		l.sinks.Register(sink.Incoming, sink.Func(h.name, sink.DefaultPriority, h.fn), h.typ)
	}

	// anything else addressed to a federate has no meaning here
	l.sinks.Register(sink.Incoming, sink.Func("veto-unhandled", sink.DefaultPriority+100, func(ctx *sink.Context) error {
		ctx.Veto("not handled by a federate")
		return nil
	}))
}

// =============================================================================
// Objects
// =============================================================================

// onDiscover adds an instance to the view. Known and recently deleted instances
// are ignored, so a repeated discovery neither grows the view nor calls back twice.
func (l *LRC) onDiscover(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.DiscoverObject)

	fed, repo, _, err := l.view()
	if err != nil {
		ctx.Veto("not joined")
		return nil
	}

	if repo.WasDeleted(m.Object) {
		ctx.Veto("instance was deleted")
		return nil
	}

	added := repo.AddObject(&repository.Instance{
		Handle:     m.Object,
		Class:      m.Class,
		Name:       m.Name,
		Registrant: m.Registrant,
		Discovered: map[hla.FederateHandle]hla.ObjectClassHandle{fed: m.Class},
	})
	if !added {
		ctx.Veto("already discovered")
		return nil
	}

	obj, class, name := m.Object, m.Class, m.Name
	l.callbacks.push("discover-object-instance", func(a Ambassador) { a.DiscoverObjectInstance(obj, class, name) })

	ctx.Success()

	return nil
}

// onUpdate reflects the subscribed part of an update. Only attributes the
// federate subscribes to for the class it discovered the instance as get
// through; an update with none of them is dropped.
func (l *LRC) onUpdate(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.UpdateAttributes)

	fed, repo, in, err := l.view()
	if err != nil {
		ctx.Veto("not joined")
		return nil
	}

	inst := repo.Object(m.Object)
	if inst == nil {
		ctx.Veto("unknown instance")
		return nil
	}

	sub := in.SubscribedInterest(fed, inst.Class)
	if sub == nil {
		ctx.Veto("class not subscribed")
		return nil
	}

	if !in.Overlaps(sub.Region, m.Region) {
		ctx.Veto("region does not overlap")
		return nil
	}

	values := m.Values.Filter(sub.Attributes)
	if len(values) == 0 {
		ctx.Veto("no subscribed attribute")
		return nil
	}

	obj, tag, t := m.Object, m.Tag, m.Time

	l.mu.Lock()
	l.enqueueLocked("reflect-attribute-values", m.Timestamped, t, func(a Ambassador, o Order) {
		a.ReflectAttributeValues(obj, values, tag, o, t)
	})
	l.mu.Unlock()

	ctx.Success()

	return nil
}

// onInteraction delivers an interaction as the most specific class the
// federate subscribes to, with the parameters that class defines.
func (l *LRC) onInteraction(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.SendInteraction)

	fed, _, in, err := l.view()
	if err != nil {
		ctx.Veto("not joined")
		return nil
	}

	class, ok := in.InteractionReceiveClass(fed, m.Class, m.Region)
	if !ok {
		ctx.Veto("interaction not subscribed")
		return nil
	}

	values := make(wire.ParameterValues, len(m.Values))
	if cls := l.Model().InteractionClass(class); cls != nil {
		defined := cls.Parameters()
		for p, v := range m.Values {
			if defined.Contains(p) {
				values[p] = v
			}
		}
	}

	tag, t := m.Tag, m.Time

	l.mu.Lock()
	l.enqueueLocked("receive-interaction", m.Timestamped, t, func(a Ambassador, o Order) {
		a.ReceiveInteraction(class, values, tag, o, t)
	})
	l.mu.Unlock()

	ctx.Success()

	return nil
}

func (l *LRC) onRemove(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.ObjectRemoval)

	_, repo, _, err := l.view()
	if err != nil {
		ctx.Veto("not joined")
		return nil
	}

	if repo.DeleteObject(m.Object) == nil {
		ctx.Veto("unknown instance")
		return nil
	}

	obj, tag, t := m.Object, m.Tag, m.Time

	l.mu.Lock()
	l.enqueueLocked("remove-object-instance", m.Timestamped, t, func(a Ambassador, o Order) {
		a.RemoveObjectInstance(obj, tag, o, t)
	})
	l.mu.Unlock()

	ctx.Success()

	return nil
}

// =============================================================================
// Time
// =============================================================================

func (l *LRC) onGrant(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.TimeMessage)

	l.grant(m.Time)
	ctx.Success()

	return nil
}
