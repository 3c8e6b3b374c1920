package host

// Virtual dispatch rules shared by type validation and execution engines.
//
// A virtual method either opens a new slot (NewSlot, or nothing to
// override) or reuses the slot of the nearest base virtual method with the
// same name and signature that it is allowed to override. Explicit
// overrides bind a body to the slot of a declaration; a later name-based
// override of that body also takes over the bound slot.

// Slot returns the method that introduced the virtual slot m occupies.
func (m *Method) Slot() *Method {
	if !m.IsVirtual() || m.IsNewSlot() || m.DeclaringType == nil || m.DeclaringType.IsInterface() {
		return m
	}
	if b := m.overriddenByName(); b != nil {
		return b.Slot()
	}
	return m
}

// overriddenByName returns the base method that m overrides implicitly.
func (m *Method) overriddenByName() *Method {
	if m.DeclaringType.Base == nil {
		return nil
	}
	sig := m.Sig()
	for c := m.DeclaringType.Base; c != nil; c = c.Base {
		for _, b := range c.Methods {
			if b.Name != m.Name || !b.IsVirtual() || b.IsStatic() || b.Sig() != sig {
				continue
			}
			if canOverrideByName(b, m) {
				return b
			}
		}
	}
	return nil
}

// canOverrideByName reports whether m may reuse the slot of base b. Private
// methods and assembly-scoped methods from another module are invisible to
// name-based overriding.
func canOverrideByName(b, m *Method) bool {
	switch b.Access() {
	case MethodPrivate, MethodPrivateScope:
		return false
	case MethodAssembly, MethodFamANDAssem:
		return b.DeclaringType.Module == m.DeclaringType.Module
	}
	return true
}

// ResolveVirtual returns the implementation a call through decl reaches on
// an instance of t, or nil.
func (t *Type) ResolveVirtual(decl *Method) *Method {
	if decl.DeclaringType != nil && decl.DeclaringType.IsInterface() {
		return t.resolveInterface(decl)
	}
	if !decl.IsVirtual() {
		return decl
	}
	return t.resolveSlot(decl.Slot(), make(map[*Method]bool))
}

func (t *Type) resolveSlot(slot *Method, seen map[*Method]bool) *Method {
	if seen[slot] {
		return nil
	}
	seen[slot] = true
	for c := t; c != nil; c = c.Base {
		for _, ov := range c.Overrides {
			if !ov.Decl.DeclaringType.IsInterface() && ov.Decl.Slot() == slot {
				if impl := t.resolveSlot(ov.Body.Slot(), seen); impl != nil {
					return impl
				}
				return ov.Body
			}
		}
		for _, m := range c.Methods {
			if m.IsVirtual() && !m.IsStatic() && m.Slot() == slot {
				return m
			}
		}
	}
	return nil
}

// resolveInterface maps an interface method onto t. Explicit overrides win.
// Otherwise a public virtual method with the same name and signature
// qualifies only if it is declared in a type of the same module as the
// class that declares the interface.
func (t *Type) resolveInterface(decl *Method) *Method {
	iface := decl.DeclaringType
	for c := t; c != nil; c = c.Base {
		for _, ov := range c.Overrides {
			if ov.Decl == decl {
				return t.resolveSlot(ov.Body.Slot(), make(map[*Method]bool))
			}
		}
		if !declares(c, iface) {
			continue
		}
		if m := c.publicVirtualInModule(decl.Name, decl.Sig(), c.Module); m != nil {
			return t.resolveSlot(m.Slot(), make(map[*Method]bool))
		}
	}
	return nil
}

// declares reports whether c itself lists iface, directly or through an
// interface's super-interfaces.
func declares(c, iface *Type) bool {
	if c == iface {
		return true
	}
	for _, i := range c.Interfaces {
		if i == iface || declares(i, iface) {
			return true
		}
	}
	return false
}

func (t *Type) publicVirtualInModule(name, sig string, mod *Module) *Method {
	for c := t; c != nil; c = c.Base {
		if c.Module != mod && c.Module != coreModule() {
			return nil
		}
		for _, m := range c.Methods {
			if m.Name == name && m.IsPublic() && m.IsVirtual() && !m.IsStatic() && m.Sig() == sig {
				return m
			}
		}
	}
	return nil
}
