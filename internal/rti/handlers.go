package rti

import (
	"fmt"

	"SimFed/internal/checkpoint"
	"SimFed/internal/fom"
	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/metrics"
	"SimFed/internal/repository"
	"SimFed/internal/sink"
	"SimFed/internal/wire"
)

// =============================================================================
// Federation management
// =============================================================================

func (r *RTI) createFederation(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.CreateFederation)

	if m.Name == "" {
		return hla.Errorf(hla.KindFederationExecutionDoesNotExist, "empty federation name")
	}

	model, err := fom.Parse(m.Model)
	if err != nil {
		return hla.Wrap(hla.KindCouldNotOpenObjectModel, err, m.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.federations[m.Name]; ok {
		return hla.Errorf(hla.KindFederationExecutionAlreadyExists, "%q", m.Name)
	}

	r.next++
	f := newFederation(m.Name, r.next, model, r.cfg)

	r.federations[f.name] = f
	r.byHandle[f.handle] = f

	metrics.SetFederates(f.name, 0)

	logger.Info("federation created",
		"federation", f.name,
		"handle", f.handle,
		"model", model.Name,
	)

	ctx.Respond(&wire.Response{Handle: uint32(f.handle)})

	return nil
}

func (r *RTI) destroyFederation(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.DestroyFederation)

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.federations[m.Name]
	if !ok {
		return hla.Errorf(hla.KindFederationExecutionDoesNotExist, "%q", m.Name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if n := len(f.federates); n > 0 {
		return hla.Errorf(hla.KindFederatesCurrentlyJoined, "%d federates in %q", n, m.Name)
	}

	delete(r.federations, f.name)
	delete(r.byHandle, f.handle)
	f.close()

	metrics.DeleteFederation(f.name)

	logger.Info("federation destroyed", "federation", f.name)

	return nil
}

func (r *RTI) joinFederation(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.JoinFederation)

	r.mu.RLock()
	f, ok := r.federations[m.Federation]
	r.mu.RUnlock()

	if !ok {
		return hla.Errorf(hla.KindFederationExecutionDoesNotExist, "%q", m.Federation)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.save.Active():
		return hla.Errorf(hla.KindSaveInProgress, "cannot join %q", f.name)
	case f.restore.Active() || f.restore.Pending():
		return hla.Errorf(hla.KindRestoreInProgress, "cannot join %q", f.name)
	case len(m.PublicKey) != 0 && len(m.PublicKey) != checkpoint.PublicKeySize:
		return hla.Errorf(hla.KindMalformedMessage, "public key of %d bytes", len(m.PublicKey))
	}

	handle := f.next + 1

	name := m.FederateName
	if name == "" {
		name = fmt.Sprintf("federate-%d", handle)
	}

	if name == rtiName || f.federateByName(name) != nil {
		return hla.Errorf(hla.KindFederateNameAlreadyInUse, "%q in %q", name, f.name)
	}

	f.addFederate(&federate{
		handle:    handle,
		name:      name,
		typ:       m.FederateType,
		publicKey: append([]byte(nil), m.PublicKey...),
	})

	logger.Info("federate joined",
		"federation", f.name,
		"federate", name,
		"handle", handle,
	)

	ctx.Respond(&wire.Response{
		Handle:  uint32(handle),
		Text:    name,
		Data:    f.model.Source(),
		Handles: []uint32{uint32(f.handle)},
	})

	return nil
}

func (r *RTI) resignFederation(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.ResignFederation)

	for _, inst := range f.repository.RemoveFederate(fed, m.Action) {
		r.announceRemoval(f, inst, fed, &wire.ObjectRemoval{Kind: wire.TypeRemoveObject, Object: inst.Handle})
	}

	f.interest.RemoveFederate(fed)
	r.deliverGrants(f, f.timing.RemoveFederate(fed))

	name := f.federates[fed].name
	delete(f.federates, fed)
	metrics.SetFederates(f.name, len(f.federates))

	if f.save.RemoveFederate(fed) {
		r.finishSave(f)
	}

	if f.restore.RemoveFederate(fed) {
		r.finishRestore(f)
	}

	for label, sp := range f.syncPoints {
		sp.members.Remove(fed)
		sp.achieved.Remove(fed)
		r.checkSynchronized(f, label)
	}

	logger.Info("federate resigned",
		"federation", f.name,
		"federate", name,
		"action", m.Action,
	)

	return nil
}

// =============================================================================
// Declarations
// =============================================================================

func (r *RTI) declareObjectClass(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.ObjectClassDeclaration)

	switch m.Kind {
	case wire.TypePublishObjectClass:
		return f.interest.PublishObjectClass(fed, m.Class, m.Attributes)
	case wire.TypeUnpublishObjectClass:
		return f.interest.UnpublishObjectClass(fed, m.Class, m.Attributes)
	case wire.TypeSubscribeObjectClass:
		if err := f.interest.SubscribeObjectClass(fed, m.Class, m.Attributes, m.Region); err != nil {
			return err
		}

		r.discoverExisting(f, fed, m.Class)

		return nil
	default:
		return f.interest.UnsubscribeObjectClass(fed, m.Class, m.Attributes)
	}
}

func (r *RTI) declareInteraction(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.InteractionDeclaration)

	switch m.Kind {
	case wire.TypePublishInteraction:
		return f.interest.PublishInteraction(fed, m.Class)
	case wire.TypeUnpublishInteraction:
		return f.interest.UnpublishInteraction(fed, m.Class)
	case wire.TypeSubscribeInteraction:
		return f.interest.SubscribeInteraction(fed, m.Class, m.Region)
	default:
		return f.interest.UnsubscribeInteraction(fed, m.Class)
	}
}

// discoverExisting reveals already registered instances to a new subscriber.
func (r *RTI) discoverExisting(f *federation, fed hla.FederateHandle, class hla.ObjectClassHandle) {
	for _, inst := range f.repository.AllInstances(class) {
		if _, known := inst.Discovered[fed]; known {
			continue
		}

		as, ok := f.interest.DiscoveryClass(fed, inst.Class)
		if !ok {
			continue
		}

		r.discover(f, inst, fed, as)
	}
}

// discover marks an instance as known to fed and sends the discovery callback.
func (r *RTI) discover(f *federation, inst *repository.Instance, fed hla.FederateHandle, as hla.ObjectClassHandle) {
	if !f.repository.MarkDiscovered(inst.Handle, fed, as) {
		return
	}

	_ = r.notify(f, fed, &wire.DiscoverObject{
		Object:     inst.Handle,
		Class:      as,
		Name:       inst.Name,
		Registrant: inst.Registrant,
	})
}

// =============================================================================
// Objects
// =============================================================================

func (r *RTI) reserveName(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.ReserveObjectName)

	if m.Name == "" {
		return hla.Errorf(hla.KindObjectInstanceNameNotReserved, "empty name")
	}

	return f.repository.ReserveName(m.Name, fed)
}

func (r *RTI) registerObject(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.RegisterObject)

	cls := f.model.ObjectClass(m.Class)
	if cls == nil {
		return hla.Errorf(hla.KindObjectClassNotDefined, "class %d", m.Class)
	}

	if !f.interest.IsObjectClassPublished(fed, m.Class) {
		return hla.Errorf(hla.KindObjectClassNotPublished, "%s", cls.Name)
	}

	inst, err := f.repository.CreateObject(m.Class, m.Name, fed)
	if err != nil {
		return err
	}

	// the registrant keeps its published attributes and the privilege to delete
	owned := f.interest.PublishedAttributes(fed, m.Class)
	owned.Add(f.model.PrivilegeToDelete())

	unowned := cls.Attributes()
	unowned.Remove(owned.Sorted()...)

	if len(unowned) > 0 {
		if err := f.repository.Divest(inst.Handle, fed, unowned); err != nil {
			return fmt.Errorf("release unpublished attributes:\n%w", err)
		}
	}

	for sub, as := range f.interest.Discoverers(m.Class, fed) {
		r.discover(f, inst, sub, as)
	}

	logger.Debug("object registered",
		"federation", f.name,
		"object", inst.Handle,
		"name", inst.Name,
		"class", cls.Name,
		"registrant", fed,
	)

	ctx.Respond(&wire.Response{
		Handle:  uint32(inst.Handle),
		Text:    inst.Name,
		Handles: handlesToU32(owned.Sorted()),
	})

	return nil
}

func (r *RTI) deleteObject(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.ObjectRemoval)

	inst, err := f.repository.DeleteBy(m.Object, fed)
	if err != nil {
		return err
	}

	r.announceRemoval(f, inst, fed, &wire.ObjectRemoval{
		Kind:        wire.TypeRemoveObject,
		Object:      inst.Handle,
		Tag:         m.Tag,
		Time:        m.Time,
		Timestamped: m.Timestamped,
	})

	logger.Debug("object deleted", "federation", f.name, "object", inst.Handle, "by", fed)

	return nil
}

// announceRemoval tells every discoverer but the deleter that an instance is gone.
func (r *RTI) announceRemoval(f *federation, inst *repository.Instance, by hla.FederateHandle, msg *wire.ObjectRemoval) {
	for d := range inst.Discovered {
		if d == by {
			continue
		}

		_ = r.notify(f, d, msg)
	}
}

// =============================================================================
// Ownership
// =============================================================================

func (r *RTI) divest(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.OwnershipRequest)
	return f.repository.Divest(m.Object, fed, m.Attributes)
}

func (r *RTI) acquire(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.OwnershipRequest)

	inst := f.repository.Object(m.Object)
	if inst == nil {
		return hla.Errorf(hla.KindObjectNotKnown, "object %d", m.Object)
	}

	if err := f.interest.CheckPublished(fed, inst.Class, m.Attributes); err != nil {
		return err
	}

	acquired, err := f.repository.Acquire(m.Object, fed, m.Attributes)
	if err != nil {
		return err
	}

	ctx.Respond(&wire.Response{Handle: uint32(m.Object), Handles: handlesToU32(acquired.Sorted())})

	return nil
}

func handlesToU32[H hla.Handle](hs []H) []uint32 {
	out := make([]uint32, len(hs))
	for i, h := range hs {
		out[i] = uint32(h)
	}

	return out
}
