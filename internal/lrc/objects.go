package lrc

import (
	"context"
	"fmt"

	"SimFed/internal/hla"
	"SimFed/internal/repository"
	"SimFed/internal/wire"
)

// =============================================================================
// Instances
// =============================================================================

// ReserveObjectInstanceName reserves a name for a later registration.
func (l *LRC) ReserveObjectInstanceName(ctx context.Context, name string) error {
	if _, _, _, err := l.view(); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.ReserveObjectName{Name: name}); err != nil {
		return fmt.Errorf("reserve %q:\n%w", name, err)
	}

	return nil
}

// RegisterObjectInstance registers an instance of a published class. An empty
// name lets the RTI generate one; any other name must be reserved first.
func (l *LRC) RegisterObjectInstance(ctx context.Context, class hla.ObjectClassHandle, name string) (hla.ObjectHandle, error) {
	fed, repo, in, err := l.view()
	if err != nil {
		return 0, err
	}

	if !in.IsObjectClassPublished(fed, class) {
		return 0, hla.Errorf(hla.KindObjectClassNotPublished, "class %d", class)
	}

	resp, err := l.request(ctx, &wire.RegisterObject{Class: class, Name: name})
	if err != nil {
		return 0, fmt.Errorf("register instance of class %d:\n%w", class, err)
	}

	obj := hla.ObjectHandle(resp.Handle)

	inst := &repository.Instance{
		Handle:     obj,
		Class:      class,
		Name:       resp.Text,
		Registrant: fed,
		Owners:     make(map[hla.AttributeHandle]hla.FederateHandle, len(resp.Handles)),
		Discovered: map[hla.FederateHandle]hla.ObjectClassHandle{fed: class},
	}

	for _, a := range resp.Handles {
		inst.Owners[hla.AttributeHandle(a)] = fed
	}

	repo.AddObject(inst)

	return obj, nil
}

// DeleteObjectInstance deletes an instance the federate holds the privilege to delete.
func (l *LRC) DeleteObjectInstance(ctx context.Context, obj hla.ObjectHandle, tag []byte) error {
	return l.deleteObject(ctx, &wire.ObjectRemoval{Kind: wire.TypeDeleteObject, Object: obj, Tag: tag})
}

// DeleteObjectInstanceAt deletes an instance with a timestamp.
func (l *LRC) DeleteObjectInstanceAt(ctx context.Context, obj hla.ObjectHandle, tag []byte, t hla.Time) error {
	return l.deleteObject(ctx, &wire.ObjectRemoval{Kind: wire.TypeDeleteObject, Object: obj, Tag: tag, Time: t, Timestamped: true})
}

func (l *LRC) deleteObject(ctx context.Context, msg *wire.ObjectRemoval) error {
	fed, repo, _, err := l.view()
	if err != nil {
		return err
	}

	if err := repo.CanDelete(msg.Object, fed); err != nil {
		return err
	}

	if msg.Timestamped {
		if err := l.stampCheck(&msg.Timestamped, msg.Time); err != nil {
			return err
		}
	}

	if _, err := l.request(ctx, msg); err != nil {
		return fmt.Errorf("delete object %d:\n%w", msg.Object, err)
	}

	repo.DeleteObject(msg.Object)

	return nil
}

// =============================================================================
// Exchange
// =============================================================================

// UpdateAttributeValues sends new values of owned attributes in receive order.
func (l *LRC) UpdateAttributeValues(obj hla.ObjectHandle, values wire.AttributeValues, tag []byte) error {
	return l.send(&wire.UpdateAttributes{Object: obj, Values: values, Tag: tag})
}

// UpdateAttributeValuesAt sends new values with a timestamp. A federate that
// is not regulating sends them in receive order.
func (l *LRC) UpdateAttributeValuesAt(obj hla.ObjectHandle, values wire.AttributeValues, tag []byte, t hla.Time) error {
	return l.send(&wire.UpdateAttributes{Object: obj, Values: values, Tag: tag, Time: t, Timestamped: true})
}

// SendInteraction sends an interaction of a published class in receive order.
func (l *LRC) SendInteraction(class hla.InteractionClassHandle, values wire.ParameterValues, tag []byte) error {
	return l.send(&wire.SendInteraction{Class: class, Values: values, Tag: tag})
}

// SendInteractionAt sends an interaction with a timestamp.
func (l *LRC) SendInteractionAt(class hla.InteractionClassHandle, values wire.ParameterValues, tag []byte, t hla.Time) error {
	return l.send(&wire.SendInteraction{Class: class, Values: values, Tag: tag, Time: t, Timestamped: true})
}

// SetAttributeRegion sends later updates of attributes with a DDM region.
func (l *LRC) SetAttributeRegion(obj hla.ObjectHandle, attrs hla.HandleSet[hla.AttributeHandle], region string) error {
	_, repo, _, err := l.view()
	if err != nil {
		return err
	}

	return repo.SetRegion(obj, attrs, region)
}

// =============================================================================
// Ownership
// =============================================================================

// UnconditionalAttributeOwnershipDivestiture releases owned attributes.
func (l *LRC) UnconditionalAttributeOwnershipDivestiture(ctx context.Context, obj hla.ObjectHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	fed, repo, _, err := l.view()
	if err != nil {
		return err
	}

	if err := repo.CheckOwned(obj, fed, attrs); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.OwnershipRequest{Kind: wire.TypeDivestOwnership, Object: obj, Attributes: attrs}); err != nil {
		return fmt.Errorf("divest object %d:\n%w", obj, err)
	}

	return repo.Divest(obj, fed, attrs)
}

// AttributeOwnershipAcquisitionIfAvailable takes the listed attributes nobody
// owns and returns the ones acquired.
func (l *LRC) AttributeOwnershipAcquisitionIfAvailable(ctx context.Context, obj hla.ObjectHandle, attrs hla.HandleSet[hla.AttributeHandle]) (hla.HandleSet[hla.AttributeHandle], error) {
	fed, repo, _, err := l.view()
	if err != nil {
		return nil, err
	}

	if !repo.ContainsObject(obj) {
		return nil, hla.Errorf(hla.KindObjectNotKnown, "object %d", obj)
	}

	resp, err := l.request(ctx, &wire.OwnershipRequest{Kind: wire.TypeAcquireOwnership, Object: obj, Attributes: attrs})
	if err != nil {
		return nil, fmt.Errorf("acquire object %d:\n%w", obj, err)
	}

	acquired := make(hla.HandleSet[hla.AttributeHandle], len(resp.Handles))
	for _, a := range resp.Handles {
		acquired.Add(hla.AttributeHandle(a))
	}

	repo.SetOwners(obj, fed, acquired)

	return acquired, nil
}
