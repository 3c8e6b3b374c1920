package host

import "strings"

// Method is a method or constructor definition.
type Method struct {
	Name            string
	Attrs           MethodAttributes
	Impl            MethodImplAttributes
	Params          []*Type
	Return          *Type // nil for void
	DeclaringType   *Type
	Body            []Inst  // Set by CreateType from the IL generator
	Locals          []*Type // Local variable types of Body
	Attributes      []Attribute
	ParamAttributes map[int][]Attribute // 0 = return value, i = parameter i

	il *ILGenerator
}

func (m *Method) IsStatic() bool      { return m.Attrs&MethodStatic != 0 }
func (m *Method) IsVirtual() bool     { return m.Attrs&MethodVirtual != 0 }
func (m *Method) IsAbstract() bool    { return m.Attrs&MethodAbstract != 0 }
func (m *Method) IsFinal() bool       { return m.Attrs&MethodFinal != 0 }
func (m *Method) IsNewSlot() bool     { return m.Attrs&MethodNewSlot != 0 }
func (m *Method) IsPublic() bool      { return m.Attrs&MethodAccessMask == MethodPublic }
func (m *Method) IsPrivate() bool     { return m.Attrs&MethodAccessMask == MethodPrivate }
func (m *Method) IsConstructor() bool { return m.Name == ".ctor" || m.Name == ".cctor" }
func (m *Method) IsSpecialName() bool { return m.Attrs&MethodSpecialName != 0 }

// Access returns the member access bits.
func (m *Method) Access() MethodAttributes { return m.Attrs & MethodAccessMask }

// Sig renders the parameter and return types, e.g. "(System.Int32)System.Void".
func (m *Method) Sig() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(typeName(p))
	}
	b.WriteByte(')')
	if m.Return == nil {
		b.WriteString("System.Void")
	} else {
		b.WriteString(m.Return.FullName())
	}
	return b.String()
}

func (m *Method) String() string {
	owner := "?"
	if m.DeclaringType != nil {
		owner = m.DeclaringType.FullName()
	}
	return owner + "::" + m.Name + m.Sig()
}

// GetILGenerator returns the generator for the method body, creating it on
// first use.
func (m *Method) GetILGenerator() *ILGenerator {
	if m.DeclaringType != nil {
		m.DeclaringType.mustBeOpen("GetILGenerator")
	}
	if m.il == nil {
		m.il = NewILGenerator()
	}
	return m.il
}

// HasBody reports whether IL has been emitted or decoded for the method.
func (m *Method) HasBody() bool {
	return len(m.Body) > 0 || (m.il != nil && m.il.Len() > 0)
}

// SetCustomAttribute attaches an attribute to the method.
func (m *Method) SetCustomAttribute(a Attribute) {
	m.Attributes = append(m.Attributes, a)
}

// SetParamAttribute attaches an attribute to parameter pos (0 = return).
func (m *Method) SetParamAttribute(pos int, a Attribute) {
	if m.ParamAttributes == nil {
		m.ParamAttributes = make(map[int][]Attribute)
	}
	m.ParamAttributes[pos] = append(m.ParamAttributes[pos], a)
}

// CustomAttribute returns the first attribute of the given type.
func (m *Method) CustomAttribute(typ string) (Attribute, bool) {
	return findAttribute(m.Attributes, typ)
}

func (m *Method) HasAttribute(typ string) bool {
	_, ok := m.CustomAttribute(typ)
	return ok
}

// bake moves emitted IL into Body.
func (m *Method) bake() error {
	if m.il == nil {
		return nil
	}
	insts, err := m.il.resolve()
	if err != nil {
		return err
	}
	m.Body = insts
	m.Locals = m.il.locals
	m.il = nil
	return nil
}

// Field is a field definition.
type Field struct {
	Name          string
	Attrs         FieldAttributes
	Type          *Type
	Constant      any // int32, int64, float32, float64 or string for literals
	DeclaringType *Type
	Attributes    []Attribute
}

func (f *Field) IsStatic() bool   { return f.Attrs&FieldStatic != 0 }
func (f *Field) IsLiteral() bool  { return f.Attrs&FieldLiteral != 0 }
func (f *Field) IsInitOnly() bool { return f.Attrs&FieldInitOnly != 0 }
func (f *Field) IsPublic() bool   { return f.Attrs&FieldAccessMask == FieldPublic }
func (f *Field) IsPrivate() bool  { return f.Attrs&FieldAccessMask == FieldPrivate }

// SetConstant records the literal value of the field.
func (f *Field) SetConstant(v any) {
	f.Constant = v
	f.Attrs |= FieldHasDefault
}

func (f *Field) SetCustomAttribute(a Attribute) {
	f.Attributes = append(f.Attributes, a)
}

func (f *Field) CustomAttribute(typ string) (Attribute, bool) {
	return findAttribute(f.Attributes, typ)
}

func (f *Field) HasAttribute(typ string) bool {
	_, ok := f.CustomAttribute(typ)
	return ok
}

func (f *Field) String() string {
	return f.DeclaringType.FullName() + "::" + f.Name
}

// Property pairs accessor methods under a name.
type Property struct {
	Name          string
	Type          *Type
	Getter        *Method
	Setter        *Method
	DeclaringType *Type
	Attributes    []Attribute
}

func (p *Property) SetGetMethod(m *Method) { p.Getter = m }
func (p *Property) SetSetMethod(m *Method) { p.Setter = m }

func (p *Property) SetCustomAttribute(a Attribute) {
	p.Attributes = append(p.Attributes, a)
}

func typeName(t *Type) string {
	if t == nil {
		return "System.Void"
	}
	return t.FullName()
}
