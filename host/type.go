package host

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrTypeCreated is the panic value (wrapped) of a builder call on a type
// that has already been created.
var ErrTypeCreated = errors.New("type already created")

// Type is a type definition. Until CreateType succeeds it is a builder and
// members may be added; afterwards it is immutable.
type Type struct {
	Name          string // Simple name for nested types, full name otherwise
	Attrs         TypeAttributes
	Base          *Type
	Interfaces    []*Type
	DeclaringType *Type
	NestedTypes   []*Type
	Fields        []*Field
	Methods       []*Method
	Properties    []*Property
	Overrides     []MethodOverride
	Attributes    []Attribute
	Module        *Module
	Elem          *Type // Element type of an array type

	created bool

	arrayOnce sync.Once
	arrayType *Type
}

// MethodOverride binds Body to the virtual slot of Decl.
type MethodOverride struct {
	Body *Method
	Decl *Method
}

// FullName returns the namespace-qualified name; nested types are joined
// to their declaring type with '+'.
func (t *Type) FullName() string {
	if t.Elem != nil {
		return t.Elem.FullName() + "[]"
	}
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + "+" + t.Name
	}
	return t.Name
}

// Namespace returns the part of the full name before the last dot.
func (t *Type) Namespace() string {
	if t.DeclaringType != nil {
		return t.DeclaringType.Namespace()
	}
	if i := strings.LastIndexByte(t.Name, '.'); i >= 0 {
		return t.Name[:i]
	}
	return ""
}

func (t *Type) String() string { return t.FullName() }

func (t *Type) IsInterface() bool { return t.Attrs&TypeInterface != 0 }
func (t *Type) IsAbstract() bool  { return t.Attrs&TypeAbstract != 0 }
func (t *Type) IsSealed() bool    { return t.Attrs&TypeSealed != 0 }
func (t *Type) IsNested() bool    { return t.DeclaringType != nil }
func (t *Type) IsArray() bool     { return t.Elem != nil }

// IsPublic reports public visibility, including nested public types whose
// declaring types are public.
func (t *Type) IsPublic() bool {
	if t.Elem != nil {
		return t.Elem.IsPublic()
	}
	switch t.Attrs & TypeVisibilityMask {
	case TypePublic:
		return t.DeclaringType == nil
	case TypeNestedPublic:
		return t.DeclaringType != nil && t.DeclaringType.IsPublic()
	}
	return false
}

// IsCreated reports whether CreateType has completed.
func (t *Type) IsCreated() bool {
	if t.Elem != nil {
		return t.Elem.IsCreated()
	}
	return t.created
}

// IsValueType reports whether t derives from System.ValueType. ValueType and
// Enum themselves are reference types.
func (t *Type) IsValueType() bool {
	c := Core()
	if t == c.ValueType || t == c.Enum {
		return false
	}
	for b := t.Base; b != nil; b = b.Base {
		if b == c.ValueType {
			return true
		}
	}
	return false
}

// IsPrimitive reports whether t is one of the built-in scalar types.
func (t *Type) IsPrimitive() bool {
	return Core().primitives[t]
}

func (t *Type) IsEnum() bool { return t.Base == Core().Enum }

func (t *Type) IsDelegate() bool { return t.Base == Core().MulticastDelegate }

// IsSubclassOf reports whether c is a strict base class of t.
func (t *Type) IsSubclassOf(c *Type) bool {
	for b := t.Base; b != nil; b = b.Base {
		if b == c {
			return true
		}
	}
	return false
}

// Implements reports whether iface is among the transitive interfaces of t
// or its base types.
func (t *Type) Implements(iface *Type) bool {
	for c := t; c != nil; c = c.Base {
		for _, i := range c.Interfaces {
			if i == iface || i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// IsAssignableFrom reports whether a value of type c can be stored in a
// location of type t.
func (t *Type) IsAssignableFrom(c *Type) bool {
	if t == c {
		return true
	}
	if c == nil {
		return false
	}
	if t.Elem != nil && c.Elem != nil {
		if c.Elem.IsValueType() || t.Elem.IsValueType() {
			return false
		}
		return t.Elem.IsAssignableFrom(c.Elem)
	}
	if t == Core().Object {
		return true
	}
	if t.IsInterface() {
		return c.Implements(t)
	}
	return c.IsSubclassOf(t)
}

// AllInterfaces returns the transitive interface set of t (not its bases),
// in declaration order, without duplicates.
func (t *Type) AllInterfaces() []*Type {
	var out []*Type
	seen := make(map[*Type]bool)
	var walk func(list []*Type)
	walk = func(list []*Type) {
		for _, i := range list {
			if seen[i] {
				continue
			}
			seen[i] = true
			out = append(out, i)
			walk(i.Interfaces)
		}
	}
	walk(t.Interfaces)
	return out
}

// MakeArrayType returns the single-dimension array type with element t.
func (t *Type) MakeArrayType() *Type {
	t.arrayOnce.Do(func() {
		t.arrayType = &Type{
			Name:       t.Name + "[]",
			Attrs:      TypePublic | TypeSealed | TypeSerializable,
			Base:       Core().Array,
			Interfaces: nil,
			Module:     t.Module,
			Elem:       t,
		}
	})
	return t.arrayType
}

// TypeInitializer returns the .cctor of t, or nil.
func (t *Type) TypeInitializer() *Method {
	for _, m := range t.Methods {
		if m.Name == ".cctor" {
			return m
		}
	}
	return nil
}

// GetMethod returns the declared method with the given name and parameter
// types, or nil.
func (t *Type) GetMethod(name string, params ...*Type) *Method {
	for _, m := range t.Methods {
		if m.Name == name && sameTypes(m.Params, params) {
			return m
		}
	}
	return nil
}

// GetMethodBySig returns the declared method with the given name and
// rendered signature, or nil.
func (t *Type) GetMethodBySig(name, sig string) *Method {
	for _, m := range t.Methods {
		if m.Name == name && m.Sig() == sig {
			return m
		}
	}
	return nil
}

// FindMethod walks t and its base types for a method with the given name
// and parameter types.
func (t *Type) FindMethod(name string, params ...*Type) *Method {
	for c := t; c != nil; c = c.Base {
		if m := c.GetMethod(name, params...); m != nil {
			return m
		}
	}
	return nil
}

// GetMethods returns the declared methods in definition order.
func (t *Type) GetMethods() []*Method {
	return t.Methods
}

// MethodsNamed returns the declared methods with the given name.
func (t *Type) MethodsNamed(name string) []*Method {
	var out []*Method
	for _, m := range t.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// GetConstructor returns the instance constructor with the given parameter
// types, or nil.
func (t *Type) GetConstructor(params ...*Type) *Method {
	return t.GetMethod(".ctor", params...)
}

// GetConstructors returns the instance constructors.
func (t *Type) GetConstructors() []*Method {
	return t.MethodsNamed(".ctor")
}

// GetField returns the declared field with the given name, or nil.
func (t *Type) GetField(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FindField walks t and its base types for a field.
func (t *Type) FindField(name string) *Field {
	for c := t; c != nil; c = c.Base {
		if f := c.GetField(name); f != nil {
			return f
		}
	}
	return nil
}

// GetProperty returns the declared property with the given name, or nil.
func (t *Type) GetProperty(name string) *Property {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// GetNestedType returns the nested type with the given simple name, or nil.
func (t *Type) GetNestedType(name string) *Type {
	for _, n := range t.NestedTypes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// CustomAttribute returns the first attribute of the given type.
func (t *Type) CustomAttribute(typ string) (Attribute, bool) {
	return findAttribute(t.Attributes, typ)
}

// HasAttribute reports whether the type carries an attribute of the given type.
func (t *Type) HasAttribute(typ string) bool {
	_, ok := t.CustomAttribute(typ)
	return ok
}

func (t *Type) mustBeOpen(what string) {
	if t.created {
		panic(fmt.Errorf("host: %s on %s: %w", what, t.FullName(), ErrTypeCreated))
	}
	if t.Elem != nil {
		panic(fmt.Sprintf("host: %s on array type %s", what, t.FullName()))
	}
}

// DefineField adds a field.
func (t *Type) DefineField(name string, typ *Type, attrs FieldAttributes) *Field {
	t.mustBeOpen("DefineField")
	f := &Field{Name: name, Attrs: attrs, Type: typ, DeclaringType: t}
	t.Fields = append(t.Fields, f)
	return f
}

// DefineMethod adds a method. A nil or System.Void return type means void.
func (t *Type) DefineMethod(name string, attrs MethodAttributes, ret *Type, params ...*Type) *Method {
	t.mustBeOpen("DefineMethod")
	if ret == Core().Void {
		ret = nil
	}
	m := &Method{
		Name:          name,
		Attrs:         attrs,
		Return:        ret,
		Params:        append([]*Type(nil), params...),
		DeclaringType: t,
	}
	t.Methods = append(t.Methods, m)
	return m
}

// DefineConstructor adds an instance constructor.
func (t *Type) DefineConstructor(attrs MethodAttributes, params ...*Type) *Method {
	return t.DefineMethod(".ctor", attrs|MethodSpecialName|MethodRTSpecialName, nil, params...)
}

// DefineTypeInitializer adds the static constructor.
func (t *Type) DefineTypeInitializer() *Method {
	return t.DefineMethod(".cctor", MethodPrivate|MethodStatic|MethodSpecialName|MethodRTSpecialName, nil)
}

// DefineMethodOverride binds body to the slot of decl.
func (t *Type) DefineMethodOverride(body, decl *Method) {
	t.mustBeOpen("DefineMethodOverride")
	t.Overrides = append(t.Overrides, MethodOverride{Body: body, Decl: decl})
}

// AddInterfaceImplementation declares that t implements iface.
func (t *Type) AddInterfaceImplementation(iface *Type) {
	t.mustBeOpen("AddInterfaceImplementation")
	for _, i := range t.Interfaces {
		if i == iface {
			return
		}
	}
	t.Interfaces = append(t.Interfaces, iface)
}

// DefineNestedType starts a type nested in t. A nil base means
// System.Object for classes.
func (t *Type) DefineNestedType(name string, attrs TypeAttributes, base *Type) *Type {
	t.mustBeOpen("DefineNestedType")
	if base == nil && attrs&TypeInterface == 0 {
		base = Core().Object
	}
	n := &Type{
		Name:          name,
		Attrs:         attrs,
		Base:          base,
		DeclaringType: t,
		Module:        t.Module,
	}
	t.NestedTypes = append(t.NestedTypes, n)
	t.Module.addType(n)
	return n
}

// DefineProperty adds a property; accessors are attached afterwards.
func (t *Type) DefineProperty(name string, typ *Type) *Property {
	t.mustBeOpen("DefineProperty")
	p := &Property{Name: name, Type: typ, DeclaringType: t}
	t.Properties = append(t.Properties, p)
	return p
}

// SetCustomAttribute attaches an attribute to the type.
func (t *Type) SetCustomAttribute(a Attribute) {
	t.mustBeOpen("SetCustomAttribute")
	t.Attributes = append(t.Attributes, a)
}

func sameTypes(a, b []*Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
