package fom

import (
	"os"

	"gopkg.in/yaml.v3"

	"SimFed/internal/hla"
)

// document is the YAML layout of an object model file.
//
//	name: Traffic
//	objects:
//	  - name: Vehicle
//	    attributes: [position, speed]
//	    children:
//	      - name: Car
//	        attributes: [doors]
//	interactions:
//	  - name: Collision
//	    parameters: [severity]
type document struct {
	Name         string            `yaml:"name"`
	Objects      []classNode       `yaml:"objects"`
	Interactions []interactionNode `yaml:"interactions"`
}

type classNode struct {
	Name       string      `yaml:"name"`
	Attributes []string    `yaml:"attributes"`
	Children   []classNode `yaml:"children"`
}

type interactionNode struct {
	Name       string            `yaml:"name"`
	Parameters []string          `yaml:"parameters"`
	Children   []interactionNode `yaml:"children"`
}

// LoadFile reads and parses an object model file.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, hla.Wrap(hla.KindCouldNotOpenObjectModel, err, path)
	}

	return Parse(data)
}

// Parse builds a model from a YAML document.
// Handles are assigned depth-first in document order, so every process parsing the same
// document obtains the same handles.
func Parse(data []byte) (*Model, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, hla.Wrap(hla.KindCouldNotOpenObjectModel, err, "parse object model")
	}

	b := &builder{
		model: &Model{
			Name:         doc.Name,
			source:       append([]byte(nil), data...),
			objects:      make(map[hla.ObjectClassHandle]*ObjectClass),
			objectNames:  make(map[string]*ObjectClass),
			interactions: make(map[hla.InteractionClassHandle]*InteractionClass),
			interNames:   make(map[string]*InteractionClass),
		},
	}

	root := classNode{Name: ObjectRootName, Attributes: []string{PrivilegeToDeleteName}, Children: doc.Objects}
	objectRoot, err := b.addClass(root, nil)
	if err != nil {
		return nil, err
	}

	b.model.objectRoot = objectRoot
	b.model.privilegeToDelete = objectRoot.declared[0].Handle

	interRoot := interactionNode{Name: InteractionRootName, Children: doc.Interactions}
	interactionRoot, err := b.addInteraction(interRoot, nil)
	if err != nil {
		return nil, err
	}

	b.model.interactionRoot = interactionRoot

	return b.model, nil
}

// builder assigns handles while walking the document.
type builder struct {
	model *Model

	nextClass       hla.ObjectClassHandle
	nextAttribute   hla.AttributeHandle
	nextInteraction hla.InteractionClassHandle
	nextParameter   hla.ParameterHandle
}

// addClass registers a class node and its subtree.
func (b *builder) addClass(node classNode, parent *ObjectClass) (*ObjectClass, error) {
	if node.Name == "" {
		return nil, hla.Errorf(hla.KindCouldNotOpenObjectModel, "object class without a name")
	}

	name := node.Name
	if parent != nil {
		name = parent.Name + "." + node.Name
	}

	if _, dup := b.model.objectNames[name]; dup {
		return nil, hla.Errorf(hla.KindCouldNotOpenObjectModel, "duplicate object class %s", name)
	}

	b.nextClass++
	cls := &ObjectClass{
		Handle: b.nextClass,
		Name:   name,
		Parent: parent,
		all:    make(map[hla.AttributeHandle]*Attribute),
	}

	if parent != nil {
		for h, a := range parent.all {
			cls.all[h] = a
		}
	}

	for _, attrName := range node.Attributes {
		if cls.AttributeByName(attrName) != nil {
			return nil, hla.Errorf(hla.KindCouldNotOpenObjectModel, "duplicate attribute %s in %s", attrName, name)
		}

		b.nextAttribute++
		attr := &Attribute{Handle: b.nextAttribute, Name: attrName, Class: cls}
		cls.declared = append(cls.declared, attr)
		cls.all[attr.Handle] = attr
	}

	b.model.objects[cls.Handle] = cls
	b.model.objectNames[name] = cls

	for _, child := range node.Children {
		c, err := b.addClass(child, cls)
		if err != nil {
			return nil, err
		}

		cls.Children = append(cls.Children, c)
	}

	return cls, nil
}

// addInteraction registers an interaction node and its subtree.
func (b *builder) addInteraction(node interactionNode, parent *InteractionClass) (*InteractionClass, error) {
	if node.Name == "" {
		return nil, hla.Errorf(hla.KindCouldNotOpenObjectModel, "interaction class without a name")
	}

	name := node.Name
	if parent != nil {
		name = parent.Name + "." + node.Name
	}

	if _, dup := b.model.interNames[name]; dup {
		return nil, hla.Errorf(hla.KindCouldNotOpenObjectModel, "duplicate interaction class %s", name)
	}

	b.nextInteraction++
	cls := &InteractionClass{
		Handle: b.nextInteraction,
		Name:   name,
		Parent: parent,
		all:    make(map[hla.ParameterHandle]*Parameter),
	}

	if parent != nil {
		for h, p := range parent.all {
			cls.all[h] = p
		}
	}

	for _, paramName := range node.Parameters {
		if cls.ParameterByName(paramName) != nil {
			return nil, hla.Errorf(hla.KindCouldNotOpenObjectModel, "duplicate parameter %s in %s", paramName, name)
		}

		b.nextParameter++
		param := &Parameter{Handle: b.nextParameter, Name: paramName}
		cls.declared = append(cls.declared, param)
		cls.all[param.Handle] = param
	}

	b.model.interactions[cls.Handle] = cls
	b.model.interNames[name] = cls

	for _, child := range node.Children {
		c, err := b.addInteraction(child, cls)
		if err != nil {
			return nil, err
		}

		cls.Children = append(cls.Children, c)
	}

	return cls, nil
}
