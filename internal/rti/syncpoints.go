package rti

import (
	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/sink"
	"SimFed/internal/wire"
)

// registerSyncPoint announces a label to its members. An empty federate set
// selects every federate joined at registration time.
func (r *RTI) registerSyncPoint(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	if _, ok := f.syncPoints[m.Label]; ok {
		return hla.Errorf(hla.KindSynchronizationPointLabelInUse, "%q", m.Label)
	}

	members := make(hla.HandleSet[hla.FederateHandle])
	if len(m.Federates) == 0 {
		members.Add(f.handles()...)
	}

	for h := range m.Federates {
		if _, ok := f.federates[h]; !ok {
			return hla.Errorf(hla.KindFederateNotExecutionMember, "sync point member %s", h)
		}

		members.Add(h)
	}

	f.syncPoints[m.Label] = &syncPoint{
		label:    m.Label,
		tag:      append([]byte(nil), m.Tag...),
		members:  members,
		achieved: make(hla.HandleSet[hla.FederateHandle]),
	}

	for _, h := range members.Sorted() {
		_ = r.notify(f, h, &wire.LabelMessage{Kind: wire.TypeAnnounceSyncPoint, Label: m.Label, Tag: m.Tag})
	}

	logger.Info("sync point registered",
		"federation", f.name,
		"label", m.Label,
		"by", fed,
		"members", len(members),
	)

	return nil
}

func (r *RTI) syncPointAchieved(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	sp, ok := f.syncPoints[m.Label]
	if !ok || !sp.members.Contains(fed) {
		return hla.Errorf(hla.KindSynchronizationPointLabelNotAnnounced, "%q to %s", m.Label, fed)
	}

	sp.achieved.Add(fed)
	r.checkSynchronized(f, m.Label)

	return nil
}

// checkSynchronized releases the members once every remaining one achieved the point.
func (r *RTI) checkSynchronized(f *federation, label string) {
	sp := f.syncPoints[label]
	if sp == nil {
		return
	}

	for h := range sp.members {
		if !sp.achieved.Contains(h) {
			return
		}
	}

	delete(f.syncPoints, label)

	for _, h := range sp.members.Sorted() {
		_ = r.notify(f, h, &wire.LabelMessage{Kind: wire.TypeFederationSynchronized, Label: label})
	}

	logger.Info("federation synchronized", "federation", f.name, "label", label)
}
