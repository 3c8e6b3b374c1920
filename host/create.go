package host

import "fmt"

// TypeLoadError reports a type definition that the host loader rejects.
type TypeLoadError struct {
	Type   string
	Member string
	Reason string
}

func (e *TypeLoadError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("type %s: %s: %s", e.Type, e.Member, e.Reason)
	}
	return fmt.Sprintf("type %s: %s", e.Type, e.Reason)
}

func (t *Type) loadError(member *Method, format string, args ...any) error {
	e := &TypeLoadError{Type: t.FullName(), Reason: fmt.Sprintf(format, args...)}
	if member != nil {
		e.Member = member.Name + member.Sig()
	}
	return e
}

// CreateType validates and seals the type. Method bodies are baked from
// their IL generators. Nested types are not created implicitly.
func (t *Type) CreateType() error {
	if t.created {
		return nil
	}
	if t.Elem != nil {
		return t.loadError(nil, "array types are created with their element type")
	}
	if err := t.validate(); err != nil {
		return err
	}
	for _, m := range t.Methods {
		if err := m.bake(); err != nil {
			return t.loadError(m, "%v", err)
		}
	}
	t.created = true
	return nil
}

func (t *Type) validate() error {
	if t.IsInterface() {
		if t.Base != nil {
			return t.loadError(nil, "interface has a base type %s", t.Base)
		}
	} else if t.Base == nil {
		return t.loadError(nil, "class has no base type")
	}
	if b := t.Base; b != nil {
		switch {
		case !b.IsCreated():
			return t.loadError(nil, "base type %s is not created", b)
		case b.IsInterface():
			return t.loadError(nil, "base type %s is an interface", b)
		case b.IsSealed():
			return t.loadError(nil, "base type %s is sealed", b)
		}
	}
	for _, i := range t.Interfaces {
		if !i.IsCreated() {
			return t.loadError(nil, "interface %s is not created", i)
		}
		if !i.IsInterface() {
			return t.loadError(nil, "%s is not an interface", i)
		}
	}
	if t.DeclaringType != nil && t.DeclaringType.Module != t.Module {
		return t.loadError(nil, "declaring type in another module")
	}

	for _, m := range t.Methods {
		if err := t.validateMethod(m); err != nil {
			return err
		}
	}
	for _, ov := range t.Overrides {
		if err := t.validateOverride(ov); err != nil {
			return err
		}
	}
	if t.IsInterface() {
		return nil
	}
	if !t.IsAbstract() {
		if err := t.validateConcrete(); err != nil {
			return err
		}
	}
	return t.validateInterfaces()
}

func (t *Type) validateMethod(m *Method) error {
	abstract := m.IsAbstract()
	switch {
	case abstract && !m.IsVirtual():
		return t.loadError(m, "abstract method is not virtual")
	case abstract && m.HasBody():
		return t.loadError(m, "abstract method has a body")
	case m.IsStatic() && m.IsVirtual():
		return t.loadError(m, "static method is virtual")
	case t.IsInterface() && !m.IsStatic() && !(abstract && m.IsPublic()):
		return t.loadError(m, "interface instance method must be public abstract")
	case abstract && !t.IsAbstract():
		return t.loadError(m, "abstract method in concrete type")
	}
	if !m.IsVirtual() || m.IsNewSlot() || t.IsInterface() {
		return nil
	}
	b := m.overriddenByName()
	if b == nil {
		return nil
	}
	if b.IsFinal() {
		return t.loadError(m, "overrides final method %s", b)
	}
	if accessRank(m.Attrs) < accessRank(b.Attrs) && !(b.Access() == MethodFamORAssem && m.Access() == MethodFamily && b.DeclaringType.Module != t.Module) {
		return t.loadError(m, "narrows access of %s from %s to %s", b, accessNames[b.Access()], accessNames[m.Access()])
	}
	return nil
}

func (t *Type) validateOverride(ov MethodOverride) error {
	body, decl := ov.Body, ov.Decl
	switch {
	case body.DeclaringType != t:
		return t.loadError(body, "override body declared in %s", body.DeclaringType)
	case !body.IsVirtual():
		return t.loadError(body, "override body is not virtual")
	case !decl.IsVirtual():
		return t.loadError(body, "overridden method %s is not virtual", decl)
	case decl.IsFinal():
		return t.loadError(body, "overrides final method %s", decl)
	case body.Sig() != decl.Sig():
		return t.loadError(body, "override signature differs from %s", decl)
	}
	owner := decl.DeclaringType
	if owner.IsInterface() {
		if !t.Implements(owner) {
			return t.loadError(body, "overrides %s of unimplemented interface", decl)
		}
	} else if !t.IsSubclassOf(owner) {
		return t.loadError(body, "overrides %s of unrelated type", decl)
	}
	return nil
}

// validateConcrete rejects concrete types whose virtual slots still end in
// abstract methods.
func (t *Type) validateConcrete() error {
	for c := t.Base; c != nil; c = c.Base {
		if !c.IsAbstract() {
			continue
		}
		for _, m := range c.Methods {
			if !m.IsAbstract() {
				continue
			}
			if impl := t.ResolveVirtual(m); impl == nil || impl.IsAbstract() {
				return t.loadError(m, "abstract method of %s is not implemented", c)
			}
		}
	}
	return nil
}

func (t *Type) validateInterfaces() error {
	for _, iface := range t.AllInterfaces() {
		for _, m := range iface.Methods {
			if m.IsStatic() {
				continue
			}
			impl := t.ResolveVirtual(m)
			if impl == nil {
				return t.loadError(m, "interface method %s has no implementation", m)
			}
			if impl.IsAbstract() && !t.IsAbstract() {
				return t.loadError(m, "interface method %s is implemented by abstract %s", m, impl)
			}
		}
	}
	return nil
}
