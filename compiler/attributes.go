package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// Custom attributes the compiler writes. Their names and argument layout
// are read back by the compiled-flavor projection and by external tools.
const (
	AttrModifiers          = "IKVM.Attributes.ModifiersAttribute"          // (modifiers)
	AttrHideFromReflection = "IKVM.Attributes.HideFromReflectionAttribute" // ()
	AttrGhostInterface     = "IKVM.Attributes.GhostInterfaceAttribute"     // ()
	AttrImplements         = "IKVM.Attributes.ImplementsAttribute"         // (interface names...)
	AttrInnerClass         = "IKVM.Attributes.InnerClassAttribute"         // (inner, outer, name, modifiers)
	AttrUnloadableType     = "IKVM.Attributes.UnloadableTypeAttribute"     // (class name)
	AttrThrows             = "IKVM.Attributes.ThrowsAttribute"             // (exception names...)
	AttrSourceFile         = "IKVM.Attributes.SourceFileAttribute"         // (file name)
	AttrJavaModule         = "IKVM.Attributes.JavaModuleAttribute"         // ()
	AttrDeprecated         = "System.ObsoleteAttribute"                    // ()
	AttrNonSerialized      = "System.NonSerializedAttribute"               // ()
)

func modifiersAttribute(m classfile.Modifiers) host.Attribute {
	return host.NewAttribute(AttrModifiers, fmt.Sprintf("0x%04x", uint16(m)))
}

func hideFromReflection() host.Attribute { return host.NewAttribute(AttrHideFromReflection) }

func innerClassAttribute(inner, outer, name string, m classfile.Modifiers) host.Attribute {
	return host.NewAttribute(AttrInnerClass, inner, outer, name, fmt.Sprintf("0x%04x", uint16(m)))
}

func parseModifiersArg(a host.Attribute, i int) (classfile.Modifiers, bool) {
	if i >= len(a.Args) {
		return 0, false
	}
	v, err := strconv.ParseUint(a.Args[i], 0, 16)
	if err != nil {
		return 0, false
	}
	return classfile.Modifiers(v), true
}

// attributeSet is the common read side of types, methods and fields.
type attributeSet interface {
	CustomAttribute(typ string) (host.Attribute, bool)
}

func isHidden(a attributeSet) bool {
	_, ok := a.CustomAttribute(AttrHideFromReflection)
	return ok
}

// declaredModifiers returns the modifiers recorded by a Modifiers
// attribute.
func declaredModifiers(a attributeSet) (classfile.Modifiers, bool) {
	attr, ok := a.CustomAttribute(AttrModifiers)
	if !ok {
		return 0, false
	}
	return parseModifiersArg(attr, 0)
}

// methodModifiers derives Java modifiers from host method flags unless a
// Modifiers attribute records them.
func methodModifiers(m *host.Method) classfile.Modifiers {
	if mods, ok := declaredModifiers(m); ok {
		return mods
	}
	var mods classfile.Modifiers
	switch m.Access() {
	case host.MethodPublic:
		mods |= classfile.Public
	case host.MethodPrivate:
		mods |= classfile.Private
	case host.MethodFamily, host.MethodFamORAssem:
		mods |= classfile.Protected
	}
	if m.IsStatic() {
		mods |= classfile.Static
	}
	if m.IsFinal() {
		mods |= classfile.Final
	}
	if m.IsAbstract() {
		mods |= classfile.Abstract
	}
	if m.Impl&host.ImplSynchronized != 0 {
		mods |= classfile.Synchronized
	}
	return mods
}

// fieldModifiers derives Java modifiers from host field flags unless a
// Modifiers attribute records them.
func fieldModifiers(f *host.Field) classfile.Modifiers {
	if mods, ok := declaredModifiers(f); ok {
		return mods
	}
	var mods classfile.Modifiers
	switch f.Attrs & host.FieldAccessMask {
	case host.FieldPublic:
		mods |= classfile.Public
	case host.FieldPrivate:
		mods |= classfile.Private
	case host.FieldFamily, host.FieldFamORAssem:
		mods |= classfile.Protected
	}
	if f.IsStatic() {
		mods |= classfile.Static
	}
	if f.IsInitOnly() || f.IsLiteral() {
		mods |= classfile.Final
	}
	if f.Attrs&host.FieldNotSerialized != 0 {
		mods |= classfile.Transient
	}
	return mods
}

// typeModifiers derives Java class modifiers from host type flags.
func typeModifiers(t *host.Type) classfile.Modifiers {
	var mods classfile.Modifiers
	switch t.Attrs & host.TypeVisibilityMask {
	case host.TypePublic:
		mods |= classfile.Public
	case host.TypeNestedPublic:
		mods |= classfile.Public | classfile.Static
	case host.TypeNestedPrivate:
		mods |= classfile.Private | classfile.Static
	case host.TypeNestedFamily, host.TypeNestedFamORAssem:
		mods |= classfile.Protected | classfile.Static
	case host.TypeNestedAssembly, host.TypeNestedFamANDAssem:
		mods |= classfile.Static
	}
	if t.IsSealed() {
		mods |= classfile.Final
	}
	if t.IsAbstract() {
		mods |= classfile.Abstract
	}
	if t.IsInterface() {
		mods |= classfile.Interface
	}
	return mods
}

// listArgs returns the arguments of the named attribute split into names.
func listArgs(a attributeSet, typ string) []string {
	attr, ok := a.CustomAttribute(typ)
	if !ok {
		return nil
	}
	var out []string
	for _, s := range attr.Args {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
