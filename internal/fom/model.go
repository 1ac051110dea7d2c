package fom

import "SimFed/internal/hla"

const (
	// ObjectRootName is the implicit root of the object class tree.
	ObjectRootName = "HLAobjectRoot"

	// InteractionRootName is the implicit root of the interaction class tree.
	InteractionRootName = "HLAinteractionRoot"

	// PrivilegeToDeleteName is the attribute whose owner may delete an instance.
	PrivilegeToDeleteName = "HLAprivilegeToDeleteObject"
)

// Attribute is an object class attribute.
type Attribute struct {
	Handle hla.AttributeHandle // Handle is unique across the model
	Name   string              // Name is the attribute name
	Class  *ObjectClass        // Class is the class that declares the attribute
}

// ObjectClass is a node of the object class tree.
type ObjectClass struct {
	Handle   hla.ObjectClassHandle // Handle is unique across the model
	Name     string                // Name is the fully qualified dotted name
	Parent   *ObjectClass          // Parent is nil for the root
	Children []*ObjectClass        // Children are the direct subclasses

	declared []*Attribute                        // declared holds attributes introduced by this class
	all      map[hla.AttributeHandle]*Attribute // all holds declared and inherited attributes
}

// Attribute returns the attribute with the handle if the class has it, declared or inherited.
func (c *ObjectClass) Attribute(h hla.AttributeHandle) *Attribute {
	return c.all[h]
}

// AttributeByName looks up an attribute by name, walking up the hierarchy.
func (c *ObjectClass) AttributeByName(name string) *Attribute {
	for cls := c; cls != nil; cls = cls.Parent {
		for _, a := range cls.declared {
			if a.Name == name {
				return a
			}
		}
	}

	return nil
}

// Attributes returns the handles of every attribute available on the class.
func (c *ObjectClass) Attributes() hla.HandleSet[hla.AttributeHandle] {
	out := make(hla.HandleSet[hla.AttributeHandle], len(c.all))
	for h := range c.all {
		out.Add(h)
	}

	return out
}

// IsA reports whether c is the class or a descendant of ancestor.
func (c *ObjectClass) IsA(ancestor hla.ObjectClassHandle) bool {
	for cls := c; cls != nil; cls = cls.Parent {
		if cls.Handle == ancestor {
			return true
		}
	}

	return false
}

// Parameter is an interaction class parameter.
type Parameter struct {
	Handle hla.ParameterHandle // Handle is unique across the model
	Name   string              // Name is the parameter name
}

// InteractionClass is a node of the interaction class tree.
type InteractionClass struct {
	Handle   hla.InteractionClassHandle // Handle is unique across the model
	Name     string                     // Name is the fully qualified dotted name
	Parent   *InteractionClass          // Parent is nil for the root
	Children []*InteractionClass        // Children are the direct subclasses

	declared []*Parameter
	all      map[hla.ParameterHandle]*Parameter
}

// Parameter returns the parameter if the class has it, declared or inherited.
func (c *InteractionClass) Parameter(h hla.ParameterHandle) *Parameter {
	return c.all[h]
}

// ParameterByName looks up a parameter by name, walking up the hierarchy.
func (c *InteractionClass) ParameterByName(name string) *Parameter {
	for cls := c; cls != nil; cls = cls.Parent {
		for _, p := range cls.declared {
			if p.Name == name {
				return p
			}
		}
	}

	return nil
}

// Parameters returns the handles of every parameter available on the class.
func (c *InteractionClass) Parameters() hla.HandleSet[hla.ParameterHandle] {
	out := make(hla.HandleSet[hla.ParameterHandle], len(c.all))
	for h := range c.all {
		out.Add(h)
	}

	return out
}

// IsA reports whether c is the class or a descendant of ancestor.
func (c *InteractionClass) IsA(ancestor hla.InteractionClassHandle) bool {
	for cls := c; cls != nil; cls = cls.Parent {
		if cls.Handle == ancestor {
			return true
		}
	}

	return false
}

// Model is an immutable object model shared by the RTI and every LRC of a federation.
type Model struct {
	Name   string // Name is the model name
	source []byte // source is the YAML document the model was built from

	objectRoot      *ObjectClass
	interactionRoot *InteractionClass

	objects      map[hla.ObjectClassHandle]*ObjectClass
	objectNames  map[string]*ObjectClass
	interactions map[hla.InteractionClassHandle]*InteractionClass
	interNames   map[string]*InteractionClass

	privilegeToDelete hla.AttributeHandle
}

// Source returns the YAML document the model was parsed from.
func (m *Model) Source() []byte {
	return m.source
}

// ObjectRoot returns the root object class.
func (m *Model) ObjectRoot() *ObjectClass {
	return m.objectRoot
}

// InteractionRoot returns the root interaction class.
func (m *Model) InteractionRoot() *InteractionClass {
	return m.interactionRoot
}

// PrivilegeToDelete returns the handle of HLAprivilegeToDeleteObject.
func (m *Model) PrivilegeToDelete() hla.AttributeHandle {
	return m.privilegeToDelete
}

// ObjectClass returns the class for a handle, or nil.
func (m *Model) ObjectClass(h hla.ObjectClassHandle) *ObjectClass {
	return m.objects[h]
}

// ObjectClassByName accepts a fully qualified name, with or without the root prefix.
func (m *Model) ObjectClassByName(name string) *ObjectClass {
	if c, ok := m.objectNames[name]; ok {
		return c
	}

	return m.objectNames[ObjectRootName+"."+name]
}

// InteractionClass returns the class for a handle, or nil.
func (m *Model) InteractionClass(h hla.InteractionClassHandle) *InteractionClass {
	return m.interactions[h]
}

// InteractionClassByName accepts a fully qualified name, with or without the root prefix.
func (m *Model) InteractionClassByName(name string) *InteractionClass {
	if c, ok := m.interNames[name]; ok {
		return c
	}

	return m.interNames[InteractionRootName+"."+name]
}

// ObjectSubclasses returns the class and all its descendants.
func (m *Model) ObjectSubclasses(h hla.ObjectClassHandle) []*ObjectClass {
	root := m.objects[h]
	if root == nil {
		return nil
	}

	var out []*ObjectClass
	var walk func(c *ObjectClass)
	walk = func(c *ObjectClass) {
		out = append(out, c)
		for _, child := range c.Children {
			walk(child)
		}
	}
	walk(root)

	return out
}

// ValidateAttributes checks that every attribute belongs to the class.
func (m *Model) ValidateAttributes(class hla.ObjectClassHandle, attrs hla.HandleSet[hla.AttributeHandle]) error {
	c := m.objects[class]
	if c == nil {
		return hla.Errorf(hla.KindObjectClassNotDefined, "class %d", class)
	}

	for a := range attrs {
		if c.Attribute(a) == nil {
			return hla.Errorf(hla.KindAttributeNotDefined, "attribute %d not in class %s", a, c.Name)
		}
	}

	return nil
}

// ValidateParameters checks that every parameter belongs to the interaction class.
func (m *Model) ValidateParameters(class hla.InteractionClassHandle, params hla.HandleSet[hla.ParameterHandle]) error {
	c := m.interactions[class]
	if c == nil {
		return hla.Errorf(hla.KindInteractionClassNotDefined, "class %d", class)
	}

	for p := range params {
		if c.Parameter(p) == nil {
			return hla.Errorf(hla.KindInteractionParameterNotDefined, "parameter %d not in class %s", p, c.Name)
		}
	}

	return nil
}
