package host

import "strings"

// TypeAttributes are the flags of a type definition.
type TypeAttributes uint32

const (
	TypeNotPublic         TypeAttributes = 0x0
	TypePublic            TypeAttributes = 0x1
	TypeNestedPublic      TypeAttributes = 0x2
	TypeNestedPrivate     TypeAttributes = 0x3
	TypeNestedFamily      TypeAttributes = 0x4
	TypeNestedAssembly    TypeAttributes = 0x5
	TypeNestedFamANDAssem TypeAttributes = 0x6
	TypeNestedFamORAssem  TypeAttributes = 0x7
	TypeVisibilityMask    TypeAttributes = 0x7

	TypeClass        TypeAttributes = 0x0
	TypeInterface    TypeAttributes = 0x20
	TypeAbstract     TypeAttributes = 0x80
	TypeSealed       TypeAttributes = 0x100
	TypeSpecialName  TypeAttributes = 0x400
	TypeSerializable TypeAttributes = 0x2000
)

// MethodAttributes are the flags of a method definition.
type MethodAttributes uint32

const (
	MethodPrivateScope MethodAttributes = 0x0
	MethodPrivate      MethodAttributes = 0x1
	MethodFamANDAssem  MethodAttributes = 0x2
	MethodAssembly     MethodAttributes = 0x3
	MethodFamily       MethodAttributes = 0x4
	MethodFamORAssem   MethodAttributes = 0x5
	MethodPublic       MethodAttributes = 0x6
	MethodAccessMask   MethodAttributes = 0x7

	MethodStatic        MethodAttributes = 0x10
	MethodFinal         MethodAttributes = 0x20
	MethodVirtual       MethodAttributes = 0x40
	MethodHideBySig     MethodAttributes = 0x80
	MethodNewSlot       MethodAttributes = 0x100
	MethodAbstract      MethodAttributes = 0x400
	MethodSpecialName   MethodAttributes = 0x800
	MethodRTSpecialName MethodAttributes = 0x1000
)

// MethodImplAttributes describe how a method body is provided.
type MethodImplAttributes uint32

const (
	ImplIL           MethodImplAttributes = 0x0
	ImplRuntime      MethodImplAttributes = 0x3
	ImplInternalCall MethodImplAttributes = 0x1000
	ImplSynchronized MethodImplAttributes = 0x20
)

// FieldAttributes are the flags of a field definition.
type FieldAttributes uint32

const (
	FieldPrivateScope FieldAttributes = 0x0
	FieldPrivate      FieldAttributes = 0x1
	FieldFamANDAssem  FieldAttributes = 0x2
	FieldAssembly     FieldAttributes = 0x3
	FieldFamily       FieldAttributes = 0x4
	FieldFamORAssem   FieldAttributes = 0x5
	FieldPublic       FieldAttributes = 0x6
	FieldAccessMask   FieldAttributes = 0x7

	FieldStatic        FieldAttributes = 0x10
	FieldInitOnly      FieldAttributes = 0x20
	FieldLiteral       FieldAttributes = 0x40
	FieldNotSerialized FieldAttributes = 0x80
	FieldSpecialName   FieldAttributes = 0x200
	FieldHasDefault    FieldAttributes = 0x8000
)

var accessNames = [...]string{"privatescope", "private", "famandassem", "assembly", "family", "famorassem", "public", "?"}

func (a TypeAttributes) String() string {
	var parts []string
	switch a & TypeVisibilityMask {
	case TypePublic:
		parts = append(parts, "public")
	case TypeNestedPublic:
		parts = append(parts, "nested public")
	case TypeNestedPrivate:
		parts = append(parts, "nested private")
	case TypeNestedFamily:
		parts = append(parts, "nested family")
	case TypeNestedAssembly:
		parts = append(parts, "nested assembly")
	case TypeNestedFamANDAssem:
		parts = append(parts, "nested famandassem")
	case TypeNestedFamORAssem:
		parts = append(parts, "nested famorassem")
	default:
		parts = append(parts, "private")
	}
	if a&TypeInterface != 0 {
		parts = append(parts, "interface")
	}
	if a&TypeAbstract != 0 {
		parts = append(parts, "abstract")
	}
	if a&TypeSealed != 0 {
		parts = append(parts, "sealed")
	}
	if a&TypeSpecialName != 0 {
		parts = append(parts, "specialname")
	}
	if a&TypeSerializable != 0 {
		parts = append(parts, "serializable")
	}
	return strings.Join(parts, " ")
}

func (a MethodAttributes) String() string {
	parts := []string{accessNames[a&MethodAccessMask]}
	flags := []struct {
		bit  MethodAttributes
		name string
	}{
		{MethodStatic, "static"},
		{MethodFinal, "final"},
		{MethodVirtual, "virtual"},
		{MethodHideBySig, "hidebysig"},
		{MethodNewSlot, "newslot"},
		{MethodAbstract, "abstract"},
		{MethodSpecialName, "specialname"},
		{MethodRTSpecialName, "rtspecialname"},
	}
	for _, f := range flags {
		if a&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, " ")
}

func (a FieldAttributes) String() string {
	parts := []string{accessNames[a&FieldAccessMask]}
	flags := []struct {
		bit  FieldAttributes
		name string
	}{
		{FieldStatic, "static"},
		{FieldInitOnly, "initonly"},
		{FieldLiteral, "literal"},
		{FieldNotSerialized, "notserialized"},
		{FieldSpecialName, "specialname"},
	}
	for _, f := range flags {
		if a&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, " ")
}

// accessRank orders member access from narrowest to widest.
func accessRank(a MethodAttributes) int {
	switch a & MethodAccessMask {
	case MethodPrivate:
		return 1
	case MethodFamANDAssem:
		return 2
	case MethodAssembly, MethodFamily:
		return 3
	case MethodFamORAssem:
		return 4
	case MethodPublic:
		return 5
	}
	return 0
}
