package host

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Module represents a unit of type definitions (an assembly with a single
// module). Types in one module are compiled together; cross-module
// references go through References.
type Module struct {
	Name       string
	MVID       uuid.UUID   // Module version id
	Java       bool        // Produced by the class compiler
	Types      []*Type     // Definition order, nested types included
	Attributes []Attribute // Module-level custom attributes
	References []*Module   // Modules whose types this module may name

	mu    sync.RWMutex // Guards Types and index
	index map[string]*Type
}

// NewModule creates an empty module with a fresh version id.
func NewModule(name string) *Module {
	return &Module{
		Name:  name,
		MVID:  uuid.New(),
		index: make(map[string]*Type),
	}
}

// DefineType starts a new top-level type definition. A nil base means
// System.Object for classes and no base for interfaces.
func (m *Module) DefineType(name string, attrs TypeAttributes, base *Type) *Type {
	if base == nil && attrs&TypeInterface == 0 && m != coreModule() {
		base = Core().Object
	}
	t := &Type{
		Name:   name,
		Attrs:  attrs,
		Base:   base,
		Module: m,
	}
	m.addType(t)
	return t
}

func (m *Module) addType(t *Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == nil {
		m.index = make(map[string]*Type)
	}
	full := t.FullName()
	if _, dup := m.index[full]; dup {
		panic(fmt.Sprintf("host: duplicate type %s in module %s", full, m.Name))
	}
	m.index[full] = t
	m.Types = append(m.Types, t)
}

// FindType returns the type with the given full name defined in m, or nil.
// Array names ("T[]") are resolved against their element type.
func (m *Module) FindType(fullName string) *Type {
	if elem, ok := strings.CutSuffix(fullName, "[]"); ok {
		if t := m.FindType(elem); t != nil {
			return t.MakeArrayType()
		}
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index[fullName]
}

// Resolve looks a type up in m, then in its references, then in the core
// library.
func (m *Module) Resolve(fullName string) *Type {
	if t := m.FindType(fullName); t != nil {
		return t
	}
	for _, r := range m.References {
		if t := r.FindType(fullName); t != nil {
			return t
		}
	}
	if m != coreModule() {
		return coreModule().FindType(fullName)
	}
	return nil
}

// AddReference records that m names types of r.
func (m *Module) AddReference(r *Module) {
	if r == m || r == coreModule() {
		return
	}
	for _, x := range m.References {
		if x == r {
			return
		}
	}
	m.References = append(m.References, r)
}

// SetCustomAttribute attaches a module-level attribute.
func (m *Module) SetCustomAttribute(a Attribute) {
	m.Attributes = append(m.Attributes, a)
}

// CreateAll creates every type of the module that is not created yet, in
// definition order.
func (m *Module) CreateAll() error {
	for _, t := range m.Types {
		if t.created {
			continue
		}
		if err := t.CreateType(); err != nil {
			return err
		}
	}
	return nil
}

// Attribute is a custom attribute with string-encoded arguments.
type Attribute struct {
	Type string
	Args []string
}

// NewAttribute builds an attribute value.
func NewAttribute(typ string, args ...string) Attribute {
	return Attribute{Type: typ, Args: args}
}

func (a Attribute) String() string {
	if len(a.Args) == 0 {
		return "[" + a.Type + "]"
	}
	quoted := make([]string, len(a.Args))
	for i, s := range a.Args {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + a.Type + "(" + strings.Join(quoted, ", ") + ")]"
}

func findAttribute(list []Attribute, typ string) (Attribute, bool) {
	for _, a := range list {
		if a.Type == typ {
			return a, true
		}
	}
	return Attribute{}, false
}
