// Package fomtest provides a shared object model for tests.
package fomtest

import (
	"testing"

	"SimFed/internal/fom"
	"SimFed/internal/hla"
)

// Traffic is a small object model with a two level class tree.
//
// Handles: objects root=1, Vehicle=2, Car=3, Building=4; attributes
// privilege=1, position=2, speed=3, doors=4, height=5; interactions root=1,
// Collision=2, Crash=3; parameters severity=1, injuries=2.
const Traffic = `
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

// Handles of the Traffic model.
const (
	Root     hla.ObjectClassHandle = 1
	Vehicle  hla.ObjectClassHandle = 2
	Car      hla.ObjectClassHandle = 3
	Building hla.ObjectClassHandle = 4

	Privilege hla.AttributeHandle = 1
	Position  hla.AttributeHandle = 2
	Speed     hla.AttributeHandle = 3
	Doors     hla.AttributeHandle = 4
	Height    hla.AttributeHandle = 5

	Collision hla.InteractionClassHandle = 2
	Crash     hla.InteractionClassHandle = 3

	Severity hla.ParameterHandle = 1
	Injuries hla.ParameterHandle = 2
)

// Model parses the Traffic model or fails the test.
func Model(t testing.TB) *fom.Model {
	t.Helper()

	m, err := fom.Parse([]byte(Traffic))
	if err != nil {
		t.Fatalf("parse traffic model: %v", err)
	}

	return m
}
