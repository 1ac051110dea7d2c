package interest

import (
	"errors"
	"testing"

	"SimFed/internal/fom/fomtest"
	"SimFed/internal/hla"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	return New(fomtest.Model(t), nil)
}

func attrs(h ...hla.AttributeHandle) hla.HandleSet[hla.AttributeHandle] {
	return hla.NewSet(h...)
}

func TestPublishIsIdempotentUnion(t *testing.T) {
	m := newTestManager(t)

	if err := m.PublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Position)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := m.PublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Position, fomtest.Speed)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := m.PublishedAttributes(1, fomtest.Vehicle)
	if !got.Equal(attrs(fomtest.Position, fomtest.Speed)) {
		t.Errorf("published: got %v", got.Sorted())
	}
}

func TestPublishRejectsUndefined(t *testing.T) {
	m := newTestManager(t)

	err := m.PublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Doors))
	if !errors.Is(err, hla.ErrAttributeNotDefined) {
		t.Errorf("got %v, want AttributeNotDefined", err)
	}

	err = m.PublishObjectClass(1, 99, nil)
	if !errors.Is(err, hla.ErrObjectClassNotDefined) {
		t.Errorf("got %v, want ObjectClassNotDefined", err)
	}
}

func TestUnpublishRemovesEmptyClass(t *testing.T) {
	m := newTestManager(t)

	_ = m.PublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Position, fomtest.Speed))

	if err := m.UnpublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Position)); err != nil {
		t.Fatalf("unpublish: %v", err)
	}

	if !m.IsObjectClassPublished(1, fomtest.Vehicle) {
		t.Fatal("speed should still be published")
	}

	if err := m.UnpublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Speed)); err != nil {
		t.Fatalf("unpublish: %v", err)
	}

	if m.IsObjectClassPublished(1, fomtest.Vehicle) {
		t.Error("class should be removed once its set is empty")
	}

	if m.PublishedAttributes(1, fomtest.Vehicle) != nil {
		t.Error("published attributes of a removed class should be nil")
	}
}

func TestUnpublishEmptySetRemovesAll(t *testing.T) {
	m := newTestManager(t)

	_ = m.PublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Position, fomtest.Speed))

	if err := m.UnpublishObjectClass(1, fomtest.Vehicle, nil); err != nil {
		t.Fatalf("unpublish: %v", err)
	}

	if m.IsObjectClassPublished(1, fomtest.Vehicle) {
		t.Error("empty unpublish should remove the class")
	}
}

func TestCheckPublished(t *testing.T) {
	m := newTestManager(t)

	_ = m.PublishObjectClass(1, fomtest.Car, attrs(fomtest.Position))

	if err := m.CheckPublished(1, fomtest.Car, attrs(fomtest.Position)); err != nil {
		t.Errorf("published attribute rejected: %v", err)
	}

	if err := m.CheckPublished(1, fomtest.Car, attrs(fomtest.Speed)); !errors.Is(err, hla.ErrObjectClassNotPublished) {
		t.Errorf("got %v, want ObjectClassNotPublished", err)
	}

	if err := m.CheckPublished(2, fomtest.Car, nil); !errors.Is(err, hla.ErrObjectClassNotPublished) {
		t.Errorf("got %v, want ObjectClassNotPublished", err)
	}
}

func TestSubscribedInterestNilWhenNotInterested(t *testing.T) {
	m := newTestManager(t)

	if m.SubscribedInterest(2, fomtest.Vehicle) != nil {
		t.Fatal("expected nil interest")
	}

	_ = m.SubscribeObjectClass(2, fomtest.Vehicle, attrs(fomtest.Position), "north")

	in := m.SubscribedInterest(2, fomtest.Vehicle)
	if in == nil || in.Region != "north" || !in.Attributes.Equal(attrs(fomtest.Position)) {
		t.Fatalf("unexpected interest: %+v", in)
	}

	// returned interest is a copy
	in.Attributes.Add(fomtest.Speed)
	if m.SubscribedInterest(2, fomtest.Vehicle).Attributes.Contains(fomtest.Speed) {
		t.Error("caller mutated manager state")
	}
}

func TestDiscoveryClassMostSpecificAncestor(t *testing.T) {
	m := newTestManager(t)

	_ = m.SubscribeObjectClass(2, fomtest.Vehicle, attrs(fomtest.Position), "")
	_ = m.SubscribeObjectClass(3, fomtest.Vehicle, attrs(fomtest.Position), "")
	_ = m.SubscribeObjectClass(3, fomtest.Car, attrs(fomtest.Doors), "")
	_ = m.SubscribeObjectClass(4, fomtest.Building, attrs(fomtest.Height), "")

	tests := []struct {
		fed  hla.FederateHandle
		want hla.ObjectClassHandle
		ok   bool
	}{
		{fed: 2, want: fomtest.Vehicle, ok: true},
		{fed: 3, want: fomtest.Car, ok: true},
		{fed: 4, ok: false},
		{fed: 5, ok: false},
	}

	for _, tt := range tests {
		got, ok := m.DiscoveryClass(tt.fed, fomtest.Car)
		if ok != tt.ok || got != tt.want {
			t.Errorf("federate %d: got (%d, %v), want (%d, %v)", tt.fed, got, ok, tt.want, tt.ok)
		}
	}

	disc := m.Discoverers(fomtest.Car, 2)
	if len(disc) != 1 || disc[3] != fomtest.Car {
		t.Errorf("discoverers: got %v", disc)
	}
}

func TestAllSubscribers(t *testing.T) {
	m := newTestManager(t)

	_ = m.SubscribeObjectClass(2, fomtest.Vehicle, attrs(fomtest.Position), "")
	_ = m.SubscribeObjectClass(3, fomtest.Vehicle, attrs(fomtest.Speed), "")
	_ = m.SubscribeObjectClass(4, fomtest.Car, attrs(fomtest.Speed), "")

	got := m.AllSubscribers(fomtest.Vehicle)
	if !got.Equal(hla.NewSet[hla.FederateHandle](2, 3)) {
		t.Errorf("subscribers: got %v", got.Sorted())
	}
}

func TestInteractionReceiveClass(t *testing.T) {
	m := newTestManager(t)

	_ = m.SubscribeInteraction(2, fomtest.Collision, "")
	_ = m.SubscribeInteraction(3, fomtest.Crash, "east")

	if got, ok := m.InteractionReceiveClass(2, fomtest.Crash, ""); !ok || got != fomtest.Collision {
		t.Errorf("federate 2: got (%d, %v), want Collision", got, ok)
	}

	if got, ok := m.InteractionReceiveClass(3, fomtest.Crash, "east"); !ok || got != fomtest.Crash {
		t.Errorf("federate 3: got (%d, %v), want Crash", got, ok)
	}

	if _, ok := m.InteractionReceiveClass(3, fomtest.Crash, "west"); ok {
		t.Error("disjoint regions should not deliver")
	}

	if _, ok := m.InteractionReceiveClass(3, fomtest.Collision, ""); ok {
		t.Error("a subscriber to Crash must not receive its parent class")
	}
}

func TestInteractionPublication(t *testing.T) {
	m := newTestManager(t)

	if err := m.CheckInteractionPublished(1, fomtest.Collision); !errors.Is(err, hla.ErrInteractionClassNotPublished) {
		t.Errorf("got %v, want InteractionClassNotPublished", err)
	}

	_ = m.PublishInteraction(1, fomtest.Collision)
	if err := m.CheckInteractionPublished(1, fomtest.Collision); err != nil {
		t.Errorf("publication rejected: %v", err)
	}

	if err := m.UnpublishInteraction(1, fomtest.Collision); err != nil {
		t.Fatalf("unpublish: %v", err)
	}

	if err := m.UnpublishInteraction(1, fomtest.Collision); !errors.Is(err, hla.ErrInteractionClassNotPublished) {
		t.Errorf("second unpublish: got %v", err)
	}
}

func TestRemoveFederate(t *testing.T) {
	m := newTestManager(t)

	_ = m.PublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Position))
	_ = m.SubscribeObjectClass(1, fomtest.Vehicle, attrs(fomtest.Position), "")
	_ = m.PublishInteraction(1, fomtest.Collision)

	m.RemoveFederate(1)

	if m.IsObjectClassPublished(1, fomtest.Vehicle) || m.SubscribedInterest(1, fomtest.Vehicle) != nil {
		t.Error("declarations survived resignation")
	}

	if err := m.CheckInteractionPublished(1, fomtest.Collision); err == nil {
		t.Error("interaction publication survived resignation")
	}
}

func TestSaveRestore(t *testing.T) {
	m := newTestManager(t)

	_ = m.PublishObjectClass(1, fomtest.Vehicle, attrs(fomtest.Position, fomtest.Speed))
	_ = m.SubscribeObjectClass(2, fomtest.Car, attrs(fomtest.Doors), "north")
	_ = m.PublishInteraction(1, fomtest.Crash)
	_ = m.SubscribeInteraction(2, fomtest.Collision, "east")

	data, err := m.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := newTestManager(t)
	_ = restored.PublishObjectClass(9, fomtest.Building, attrs(fomtest.Height))

	if err := restored.Restore(data); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.IsObjectClassPublished(9, fomtest.Building) {
		t.Error("restore should replace existing state")
	}

	if !restored.PublishedAttributes(1, fomtest.Vehicle).Equal(attrs(fomtest.Position, fomtest.Speed)) {
		t.Error("publication not restored")
	}

	in := restored.SubscribedInterest(2, fomtest.Car)
	if in == nil || in.Region != "north" || !in.Attributes.Equal(attrs(fomtest.Doors)) {
		t.Errorf("subscription not restored: %+v", in)
	}

	if cls, ok := restored.InteractionReceiveClass(2, fomtest.Crash, "east"); !ok || cls != fomtest.Collision {
		t.Error("interaction subscription not restored")
	}

	again, err := restored.Save()
	if err != nil {
		t.Fatalf("save restored: %v", err)
	}

	if string(again) != string(data) {
		t.Errorf("state differs after round trip:\n%s\n---\n%s", data, again)
	}
}
