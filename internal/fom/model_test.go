package fom

import (
	"errors"
	"testing"

	"SimFed/internal/hla"
)

const trafficModel = `
name: Traffic
objects:
  - name: Vehicle
    attributes: [position, speed]
    children:
      - name: Car
        attributes: [doors]
  - name: Building
    attributes: [height]
interactions:
  - name: Collision
    parameters: [severity]
    children:
      - name: Crash
        parameters: [injuries]
`

func mustParse(t *testing.T) *Model {
	t.Helper()

	m, err := Parse([]byte(trafficModel))
	if err != nil {
		t.Fatalf("parse model: %v", err)
	}

	return m
}

func TestParseAssignsDeterministicHandles(t *testing.T) {
	m1 := mustParse(t)
	m2 := mustParse(t)

	for _, name := range []string{"Vehicle", "Vehicle.Car", "Building"} {
		c1 := m1.ObjectClassByName(name)
		c2 := m2.ObjectClassByName(name)
		if c1 == nil || c2 == nil {
			t.Fatalf("class %s not found", name)
		}

		if c1.Handle != c2.Handle {
			t.Errorf("class %s handle: got %d and %d", name, c1.Handle, c2.Handle)
		}
	}

	if m1.ObjectRoot().Handle != 1 {
		t.Errorf("root handle: got %d, want 1", m1.ObjectRoot().Handle)
	}
}

func TestInheritedAttributes(t *testing.T) {
	m := mustParse(t)

	car := m.ObjectClassByName("Vehicle.Car")
	vehicle := m.ObjectClassByName("Vehicle")

	position := vehicle.AttributeByName("position")
	if position == nil {
		t.Fatal("position not declared on Vehicle")
	}

	if car.Attribute(position.Handle) == nil {
		t.Error("Car should inherit position")
	}

	if car.Attribute(m.PrivilegeToDelete()) == nil {
		t.Error("Car should inherit the privilege to delete")
	}

	doors := car.AttributeByName("doors")
	if vehicle.Attribute(doors.Handle) != nil {
		t.Error("Vehicle must not see Car attributes")
	}

	if got := len(car.Attributes()); got != 4 {
		t.Errorf("Car attribute count: got %d, want 4", got)
	}
}

func TestIsAAndSubclasses(t *testing.T) {
	m := mustParse(t)

	car := m.ObjectClassByName("Vehicle.Car")
	vehicle := m.ObjectClassByName("Vehicle")
	building := m.ObjectClassByName("Building")

	if !car.IsA(vehicle.Handle) {
		t.Error("Car should be a Vehicle")
	}

	if car.IsA(building.Handle) {
		t.Error("Car should not be a Building")
	}

	subs := m.ObjectSubclasses(vehicle.Handle)
	if len(subs) != 2 {
		t.Fatalf("Vehicle subclasses: got %d, want 2", len(subs))
	}

	crash := m.InteractionClassByName("Collision.Crash")
	collision := m.InteractionClassByName("Collision")
	if !crash.IsA(collision.Handle) {
		t.Error("Crash should be a Collision")
	}

	if crash.ParameterByName("severity") == nil {
		t.Error("Crash should inherit severity")
	}
}

func TestValidateAttributes(t *testing.T) {
	m := mustParse(t)

	vehicle := m.ObjectClassByName("Vehicle")
	doors := m.ObjectClassByName("Vehicle.Car").AttributeByName("doors")

	err := m.ValidateAttributes(vehicle.Handle, hla.NewSet(doors.Handle))
	if !errors.Is(err, hla.ErrAttributeNotDefined) {
		t.Errorf("got %v, want AttributeNotDefined", err)
	}

	err = m.ValidateAttributes(999, nil)
	if !errors.Is(err, hla.ErrObjectClassNotDefined) {
		t.Errorf("got %v, want ObjectClassNotDefined", err)
	}
}

func TestParseRejectsDuplicates(t *testing.T) {
	doc := `
objects:
  - name: A
    attributes: [x, x]
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected duplicate attribute error")
	}
}
