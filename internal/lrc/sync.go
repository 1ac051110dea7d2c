package lrc

import (
	"context"
	"fmt"

	"SimFed/internal/hla"
	"SimFed/internal/sink"
	"SimFed/internal/wire"
)

// RegisterFederationSynchronizationPoint registers a label. With no federates
// listed, every federate joined at registration is a member.
func (l *LRC) RegisterFederationSynchronizationPoint(ctx context.Context, label string, tag []byte, feds ...hla.FederateHandle) error {
	if _, _, _, err := l.view(); err != nil {
		return err
	}

	msg := &wire.LabelMessage{Kind: wire.TypeRegisterSyncPoint, Label: label, Tag: tag}
	if len(feds) > 0 {
		msg.Federates = hla.NewSet(feds...)
	}

	if _, err := l.request(ctx, msg); err != nil {
		return fmt.Errorf("register sync point %q:\n%w", label, err)
	}

	return nil
}

// SynchronizationPointAchieved reports the federate reached an announced label.
func (l *LRC) SynchronizationPointAchieved(ctx context.Context, label string) error {
	l.mu.Lock()
	err := l.joinedLocked()
	if err == nil && !l.announced[label] {
		err = hla.Errorf(hla.KindSynchronizationPointLabelNotAnnounced, "%q", label)
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeSyncPointAchieved, Label: label}); err != nil {
		return fmt.Errorf("achieve sync point %q:\n%w", label, err)
	}

	return nil
}

func (l *LRC) onAnnounce(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	l.mu.Lock()
	l.announced[m.Label] = true
	l.mu.Unlock()

	label, tag := m.Label, m.Tag
	l.callbacks.push("announce-synchronization-point", func(a Ambassador) { a.AnnounceSynchronizationPoint(label, tag) })

	ctx.Success()

	return nil
}

func (l *LRC) onSynchronized(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	l.mu.Lock()
	delete(l.announced, m.Label)
	l.mu.Unlock()

	label := m.Label
	l.callbacks.push("federation-synchronized", func(a Ambassador) { a.FederationSynchronized(label) })

	ctx.Success()

	return nil
}
