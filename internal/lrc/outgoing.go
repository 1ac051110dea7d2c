package lrc

import (
	"SimFed/internal/hla"
	"SimFed/internal/sink"
	"SimFed/internal/wire"
)

// registerOutgoing fills the chains data messages run through before they are
// broadcast. A failing handler stops the message and reaches the caller.
func (l *LRC) registerOutgoing() {
	l.sinks.Register(sink.Outgoing, sink.Func("check-joined", sink.GuardPriority, func(ctx *sink.Context) error {
		if ctx.Header.Source == hla.AllFederates {
			return hla.Errorf(hla.KindFederateNotExecutionMember, "not joined")
		}

		return nil
	}))

	l.sinks.Register(sink.Outgoing, sink.Func("check-update", sink.DefaultPriority, l.checkUpdate), wire.TypeUpdateAttributes)
	l.sinks.Register(sink.Outgoing, sink.Func("check-interaction", sink.DefaultPriority, l.checkInteraction), wire.TypeSendInteraction)
	l.sinks.Register(sink.Outgoing, sink.Func("check-timestamp", sink.DefaultPriority+10, l.checkTimestamp),
		wire.TypeUpdateAttributes, wire.TypeSendInteraction)
}

// checkUpdate requires a known instance whose updated attributes are defined,
// published and owned. The instance class and the region of the attributes are
// stamped on the message.
func (l *LRC) checkUpdate(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.UpdateAttributes)

	fed, repo, in, err := l.view()
	if err != nil {
		return err
	}

	inst := repo.Object(m.Object)
	if inst == nil {
		return hla.Errorf(hla.KindObjectNotKnown, "object %d", m.Object)
	}

	attrs := m.Values.Handles()

	if err := l.Model().ValidateAttributes(inst.Class, attrs); err != nil {
		return err
	}

	if err := repo.CheckOwned(m.Object, fed, attrs); err != nil {
		return err
	}

	if err := in.CheckPublished(fed, inst.Class, attrs); err != nil {
		return err
	}

	m.Class = inst.Class

	for _, a := range attrs.Sorted() {
		if r, ok := inst.Regions[a]; ok {
			m.Region = r
			break
		}
	}

	return nil
}

// checkInteraction requires a published class with defined parameters.
func (l *LRC) checkInteraction(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.SendInteraction)

	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	if err := l.Model().ValidateParameters(m.Class, m.Values.Handles()); err != nil {
		return err
	}

	return in.CheckInteractionPublished(fed, m.Class)
}

func (l *LRC) checkTimestamp(ctx *sink.Context) error {
	switch m := ctx.Msg.(type) {
	case *wire.UpdateAttributes:
		if m.Timestamped {
			return l.stampCheck(&m.Timestamped, m.Time)
		}
	case *wire.SendInteraction:
		if m.Timestamped {
			return l.stampCheck(&m.Timestamped, m.Time)
		}
	}

	return nil
}

// stampCheck validates a send timestamp against the federate's promise:
// nothing earlier than its time, or its requested time while advancing, plus
// lookahead. Without regulation the message falls back to receive order.
func (l *LRC) stampCheck(timestamped *bool, t hla.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.time.Regulating {
		*timestamped = false
		return nil
	}

	base := l.time.Time
	if l.time.Advancing {
		base = l.time.Requested
	}

	if bound := base + l.time.Lookahead; t < bound {
		return hla.Errorf(hla.KindInvalidLogicalTime, "timestamp %v is before %v", t, bound)
	}

	return nil
}
