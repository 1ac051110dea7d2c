package lrc

import (
	"context"
	"fmt"

	"SimFed/internal/hla"
	"SimFed/internal/interest"
	"SimFed/internal/wire"
)

// PublishObjectClassAttributes publishes attributes of a class. The RTI is
// told first; the local view follows once it agreed.
func (l *LRC) PublishObjectClassAttributes(ctx context.Context, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.ObjectClassDeclaration{Kind: wire.TypePublishObjectClass, Class: class, Attributes: attrs}); err != nil {
		return fmt.Errorf("publish class %d:\n%w", class, err)
	}

	return in.PublishObjectClass(fed, class, attrs)
}

// UnpublishObjectClassAttributes withdraws attributes; an empty set withdraws the class.
func (l *LRC) UnpublishObjectClassAttributes(ctx context.Context, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	prev := in.PublishedAttributes(fed, class)

	if err := in.UnpublishObjectClass(fed, class, attrs); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.ObjectClassDeclaration{Kind: wire.TypeUnpublishObjectClass, Class: class, Attributes: attrs}); err != nil {
		_ = in.PublishObjectClass(fed, class, prev)
		return fmt.Errorf("unpublish class %d:\n%w", class, err)
	}

	return nil
}

// SubscribeObjectClassAttributes subscribes to attributes of a class in a
// region, empty for none. The local subscription is in place before the RTI
// answers, so updates following the discoveries it triggers are not lost.
func (l *LRC) SubscribeObjectClassAttributes(ctx context.Context, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle], region string) error {
	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	prev := in.SubscribedInterest(fed, class)

	if err := in.SubscribeObjectClass(fed, class, attrs, region); err != nil {
		return err
	}

	msg := &wire.ObjectClassDeclaration{Kind: wire.TypeSubscribeObjectClass, Class: class, Attributes: attrs, Region: region}
	if _, err := l.request(ctx, msg); err != nil {
		restoreObjectInterest(in, fed, class, prev)
		return fmt.Errorf("subscribe class %d:\n%w", class, err)
	}

	return nil
}

// UnsubscribeObjectClassAttributes drops attributes from a subscription; an
// empty set drops the class.
func (l *LRC) UnsubscribeObjectClassAttributes(ctx context.Context, class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	prev := in.SubscribedInterest(fed, class)

	if err := in.UnsubscribeObjectClass(fed, class, attrs); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.ObjectClassDeclaration{Kind: wire.TypeUnsubscribeObjectClass, Class: class, Attributes: attrs}); err != nil {
		restoreObjectInterest(in, fed, class, prev)
		return fmt.Errorf("unsubscribe class %d:\n%w", class, err)
	}

	return nil
}

// PublishInteractionClass publishes an interaction class.
func (l *LRC) PublishInteractionClass(ctx context.Context, class hla.InteractionClassHandle) error {
	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.InteractionDeclaration{Kind: wire.TypePublishInteraction, Class: class}); err != nil {
		return fmt.Errorf("publish interaction %d:\n%w", class, err)
	}

	return in.PublishInteraction(fed, class)
}

// UnpublishInteractionClass withdraws an interaction class.
func (l *LRC) UnpublishInteractionClass(ctx context.Context, class hla.InteractionClassHandle) error {
	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	if err := in.UnpublishInteraction(fed, class); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.InteractionDeclaration{Kind: wire.TypeUnpublishInteraction, Class: class}); err != nil {
		_ = in.PublishInteraction(fed, class)
		return fmt.Errorf("unpublish interaction %d:\n%w", class, err)
	}

	return nil
}

// SubscribeInteractionClass subscribes to an interaction class in a region.
func (l *LRC) SubscribeInteractionClass(ctx context.Context, class hla.InteractionClassHandle, region string) error {
	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	prev := in.SubscribedInteraction(fed, class)

	if err := in.SubscribeInteraction(fed, class, region); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.InteractionDeclaration{Kind: wire.TypeSubscribeInteraction, Class: class, Region: region}); err != nil {
		restoreInteractionInterest(in, fed, class, prev)
		return fmt.Errorf("subscribe interaction %d:\n%w", class, err)
	}

	return nil
}

// UnsubscribeInteractionClass drops an interaction subscription.
func (l *LRC) UnsubscribeInteractionClass(ctx context.Context, class hla.InteractionClassHandle) error {
	fed, _, in, err := l.view()
	if err != nil {
		return err
	}

	prev := in.SubscribedInteraction(fed, class)

	if err := in.UnsubscribeInteraction(fed, class); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.InteractionDeclaration{Kind: wire.TypeUnsubscribeInteraction, Class: class}); err != nil {
		restoreInteractionInterest(in, fed, class, prev)
		return fmt.Errorf("unsubscribe interaction %d:\n%w", class, err)
	}

	return nil
}

// restoreObjectInterest puts back the subscription a refused request changed.
func restoreObjectInterest(in *interest.Manager, fed hla.FederateHandle, class hla.ObjectClassHandle, prev *interest.ObjectInterest) {
	_ = in.UnsubscribeObjectClass(fed, class, nil)
	if prev != nil {
		_ = in.SubscribeObjectClass(fed, class, prev.Attributes, prev.Region)
	}
}

func restoreInteractionInterest(in *interest.Manager, fed hla.FederateHandle, class hla.InteractionClassHandle, prev *interest.InteractionInterest) {
	_ = in.UnsubscribeInteraction(fed, class)
	if prev != nil {
		_ = in.SubscribeInteraction(fed, class, prev.Region)
	}
}
