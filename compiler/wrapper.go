// Package compiler maps Java class descriptions onto host types. A
// TypeWrapper gives every Java type one interface for introspection,
// assignability and code generation, whatever its origin: a primitive, an
// array, a placeholder for a class that failed to load, a core class
// remapped onto a host type, a host type projected into Java, or a class
// compiled from a description. The class compiler turns descriptions into
// host type definitions and synthesizes the stubs that reconcile the two
// type systems.
package compiler

import (
	"strings"
	"sync"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// Kind tells the variants of TypeWrapper apart.
type Kind int

const (
	KindPrimitive  Kind = iota // Java primitive or void
	KindUnloadable             // Class that could not be loaded
	KindVerifier               // Verifier-internal type such as the null type
	KindArray                  // Array class
	KindRemapped               // Core class mapped onto an existing host type
	KindCompiled               // Host type from a Java module
	KindForeign                // Any other host type, named cli.*
	KindDynamic                // Class compiled from a description
)

var kindNames = [...]string{"primitive", "unloadable", "verifier", "array", "remapped", "compiled", "foreign", "dynamic"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "?"
}

// TypeWrapper is the uniform view of one Java type. Exactly one of the
// per-kind payloads is set, matching kind.
type TypeWrapper struct {
	kind      Kind
	name      string // Dotted; "" for primitives
	modifiers classfile.Modifiers
	loader    *ClassLoader
	base      *TypeWrapper

	mu          sync.Mutex
	fields      map[string]*FieldWrapper
	methods     map[string]*MethodWrapper
	fieldOrder  []*FieldWrapper
	methodOrder []*MethodWrapper

	prim  *primitiveData
	array *arrayData
	proj  *projectedData // Remapped, Compiled and Foreign
	dyn   *dynamicData
}

func newTypeWrapper(kind Kind, name string, mods classfile.Modifiers, loader *ClassLoader, base *TypeWrapper) *TypeWrapper {
	return &TypeWrapper{
		kind:      kind,
		name:      name,
		modifiers: mods,
		loader:    loader,
		base:      base,
		fields:    make(map[string]*FieldWrapper),
		methods:   make(map[string]*MethodWrapper),
	}
}

func (tw *TypeWrapper) Kind() Kind                     { return tw.kind }
func (tw *TypeWrapper) Name() string                   { return tw.name }
func (tw *TypeWrapper) Modifiers() classfile.Modifiers { return tw.modifiers }
func (tw *TypeWrapper) BaseType() *TypeWrapper         { return tw.base }
func (tw *TypeWrapper) ClassLoader() *ClassLoader      { return tw.loader }

func (tw *TypeWrapper) String() string {
	if tw.kind == KindPrimitive {
		return tw.prim.keyword
	}
	return tw.name
}

func (tw *TypeWrapper) IsPublic() bool    { return tw.modifiers.IsPublic() }
func (tw *TypeWrapper) IsAbstract() bool  { return tw.modifiers.IsAbstract() }
func (tw *TypeWrapper) IsFinal() bool     { return tw.modifiers.IsFinal() }
func (tw *TypeWrapper) IsInterface() bool { return tw.modifiers.IsInterface() }

func (tw *TypeWrapper) IsPrimitive() bool  { return tw.kind == KindPrimitive }
func (tw *TypeWrapper) IsUnloadable() bool { return tw.kind == KindUnloadable }
func (tw *TypeWrapper) IsArray() bool      { return tw.kind == KindArray }

// IsWidePrimitive reports long and double, which take two JVM slots.
func (tw *TypeWrapper) IsWidePrimitive() bool {
	return tw.kind == KindPrimitive && (tw.prim.sig == 'J' || tw.prim.sig == 'D')
}

// IsIntOnStackPrimitive reports the primitives that are int32 on the stack.
func (tw *TypeWrapper) IsIntOnStackPrimitive() bool {
	if tw.kind != KindPrimitive {
		return false
	}
	switch tw.prim.sig {
	case 'B', 'C', 'S', 'Z', 'I':
		return true
	}
	return false
}

// IsGhost reports a ghost interface.
func (tw *TypeWrapper) IsGhost() bool {
	switch tw.kind {
	case KindCompiled:
		return tw.proj.ghostIface != nil
	case KindDynamic:
		return tw.dyn.ghost
	}
	return false
}

// IsGhostArray reports an array whose innermost element is a ghost.
func (tw *TypeWrapper) IsGhostArray() bool {
	if tw.kind != KindArray {
		return false
	}
	return tw.innermostElement().IsGhost()
}

// IsNonPrimitiveValueType reports a host value type that is neither a
// primitive nor a ghost. Such values are boxed on the Java stack.
func (tw *TypeWrapper) IsNonPrimitiveValueType() bool {
	switch tw.kind {
	case KindCompiled, KindForeign:
		t := tw.proj.host
		return t.IsValueType() && !t.IsPrimitive() && !tw.IsGhost()
	}
	return false
}

// IsInterfaceOrInterfaceArray reports an interface or an array of them.
func (tw *TypeWrapper) IsInterfaceOrInterfaceArray() bool {
	if tw.kind == KindArray {
		return tw.innermostElement().IsInterface()
	}
	return tw.IsInterface()
}

// SigName is the type as written in a field signature.
func (tw *TypeWrapper) SigName() string {
	switch tw.kind {
	case KindPrimitive:
		return string(tw.prim.sig)
	case KindArray:
		return tw.name
	}
	return "L" + tw.name + ";"
}

// ArrayRank returns the number of dimensions, 0 for non-arrays.
func (tw *TypeWrapper) ArrayRank() int {
	if tw.kind != KindArray {
		return 0
	}
	n := 0
	for n < len(tw.name) && tw.name[n] == '[' {
		n++
	}
	return n
}

// PackageName returns the package of the type, "" for the unnamed package.
// Array types are in the package of their element.
func (tw *TypeWrapper) PackageName() string {
	name := tw.name
	start := 0
	if strings.HasPrefix(name, "[") {
		start = strings.LastIndexByte(name, '[') + 1
		if start < len(name) && name[start] == 'L' {
			start++
		}
	}
	end := strings.LastIndexByte(name, '.')
	if end < start {
		return ""
	}
	return name[start:end]
}

// IsInSamePackageAs reports runtime package equality: same loader and same
// package name.
func (tw *TypeWrapper) IsInSamePackageAs(other *TypeWrapper) bool {
	if tw == other {
		return true
	}
	if tw.loader != other.loader || tw.kind == KindPrimitive || other.kind == KindPrimitive {
		return false
	}
	return tw.PackageName() == other.PackageName()
}

// IsAccessibleFrom reports whether code in other may name tw.
func (tw *TypeWrapper) IsAccessibleFrom(other *TypeWrapper) bool {
	return tw.IsPublic() || tw.IsInSamePackageAs(other)
}

// ImplementsInterface reports whether iface is among the transitive
// interfaces of tw or its base types.
func (tw *TypeWrapper) ImplementsInterface(iface *TypeWrapper) bool {
	for t := tw; t != nil; t = t.base {
		for _, i := range t.Interfaces() {
			if i == iface || i.ImplementsInterface(iface) {
				return true
			}
		}
	}
	return false
}

// IsSubTypeOf reports Java subtyping for non-array checks. Interfaces match
// themselves and their implementers; java.lang.Object is a supertype of
// every reference type.
func (tw *TypeWrapper) IsSubTypeOf(other *TypeWrapper) bool {
	if tw == other {
		return true
	}
	if other.IsInterface() {
		return tw.ImplementsInterface(other)
	}
	if tw.kind == KindPrimitive || other.kind == KindPrimitive {
		return false
	}
	if other.name == "java.lang.Object" && other.kind == KindRemapped {
		return true
	}
	for t := tw.base; t != nil; t = t.base {
		if t == other {
			return true
		}
	}
	return false
}

// IsAssignableTo reports whether a value of type tw may be stored in a
// location of type other. Arrays are covariant except for arrays of
// non-primitive value types.
func (tw *TypeWrapper) IsAssignableTo(other *TypeWrapper) bool {
	if tw == other {
		return true
	}
	if tw.kind == KindPrimitive || other.kind == KindPrimitive {
		return false
	}
	if tw == verifierNull {
		return true
	}
	r1, r2 := tw.ArrayRank(), other.ArrayRank()
	if r1 > 0 && r2 > 0 {
		e1, e2 := tw.ElementType(), other.ElementType()
		for r1, r2 = r1-1, r2-1; r1 > 0 && r2 > 0; r1, r2 = r1-1, r2-1 {
			e1, e2 = e1.ElementType(), e2.ElementType()
		}
		return !e1.IsNonPrimitiveValueType() && e1.IsSubTypeOf(e2)
	}
	return tw.IsSubTypeOf(other)
}

// Interfaces returns the directly implemented interfaces.
func (tw *TypeWrapper) Interfaces() []*TypeWrapper {
	switch tw.kind {
	case KindPrimitive, KindUnloadable, KindVerifier:
		return nil
	case KindArray:
		return tw.loader.rt.arrayInterfaces()
	case KindRemapped:
		return tw.remappedInterfaces()
	case KindCompiled:
		return tw.compiledInterfaces()
	case KindForeign:
		return tw.foreignInterfaces()
	case KindDynamic:
		return tw.dyn.interfaces
	}
	panic("unreachable")
}

// InnerClasses returns the member classes declared by tw.
func (tw *TypeWrapper) InnerClasses() []*TypeWrapper {
	switch tw.kind {
	case KindCompiled, KindForeign:
		return tw.projectedInnerClasses()
	case KindDynamic:
		return tw.dyn.innerClasses
	}
	return nil
}

// DeclaringType returns the outer class of a member class, or nil.
func (tw *TypeWrapper) DeclaringType() *TypeWrapper {
	switch tw.kind {
	case KindCompiled, KindForeign:
		return tw.projectedDeclaringType()
	case KindDynamic:
		return tw.dyn.outer
	}
	return nil
}

// ReflectiveModifiers are the modifiers Java reflection reports; for
// member classes they come from the InnerClasses record.
func (tw *TypeWrapper) ReflectiveModifiers() classfile.Modifiers {
	switch tw.kind {
	case KindCompiled:
		return tw.compiledReflectiveModifiers()
	case KindForeign:
		if tw.DeclaringType() != nil {
			return tw.modifiers | classfile.Static
		}
	case KindDynamic:
		tw.dyn.mu.Lock()
		defer tw.dyn.mu.Unlock()
		return tw.dyn.reflectiveModifiers
	}
	return tw.modifiers
}

// ElementType returns the component type of an array, or nil.
func (tw *TypeWrapper) ElementType() *TypeWrapper {
	if tw.kind != KindArray {
		return nil
	}
	tw.array.elemOnce.Do(func() {
		tw.array.elem = tw.loader.typeFromSig(tw.name[1:])
	})
	return tw.array.elem
}

func (tw *TypeWrapper) innermostElement() *TypeWrapper {
	t := tw
	for t.kind == KindArray {
		t = t.ElementType()
	}
	return t
}

// MakeArrayType returns the array type of the given rank with element tw.
func (tw *TypeWrapper) MakeArrayType(rank int) *TypeWrapper {
	return tw.loader.typeFromSig(strings.Repeat("[", rank) + tw.SigName())
}

// HostType returns the host type that represents tw. Unloadable and
// verifier types have none.
func (tw *TypeWrapper) HostType() *host.Type {
	switch tw.kind {
	case KindPrimitive:
		return tw.prim.host
	case KindUnloadable, KindVerifier:
		return nil
	case KindArray:
		return tw.arrayHostType()
	case KindRemapped, KindCompiled, KindForeign:
		return tw.proj.host
	case KindDynamic:
		return tw.dyn.tb
	}
	panic("unreachable")
}

// TypeAsBaseType is the host type subclasses derive from or implement.
// For a ghost interface it is the nested __Interface type.
func (tw *TypeWrapper) TypeAsBaseType() *host.Type {
	switch tw.kind {
	case KindCompiled:
		if tw.proj.ghostIface != nil {
			return tw.proj.ghostIface
		}
	case KindDynamic:
		if tw.dyn.ghostIface != nil {
			return tw.dyn.ghostIface
		}
	}
	return tw.HostType()
}

// TypeAsParameterType is the host type of parameters and return values.
func (tw *TypeWrapper) TypeAsParameterType() *host.Type {
	if tw.kind == KindUnloadable {
		return host.Core().Object
	}
	return tw.HostType()
}

// TypeAsFieldType is the host type of fields.
func (tw *TypeWrapper) TypeAsFieldType() *host.Type { return tw.TypeAsParameterType() }

// TypeAsLocalOrStackType is the host type of locals and stack slots.
// Ghosts and boxed value types live on the stack as plain references.
func (tw *TypeWrapper) TypeAsLocalOrStackType() *host.Type {
	if tw.kind == KindUnloadable || tw.IsGhost() || tw.IsNonPrimitiveValueType() {
		return host.Core().Object
	}
	return tw.HostType()
}

// TypeAsArrayType is the host element type of arrays of tw.
func (tw *TypeWrapper) TypeAsArrayType() *host.Type {
	if tw.kind == KindUnloadable || tw.IsGhost() {
		return host.Core().Object
	}
	return tw.HostType()
}

// TypeAsExceptionType is the host type used in exception handlers.
func (tw *TypeWrapper) TypeAsExceptionType() *host.Type {
	if tw.kind == KindUnloadable {
		return host.Core().Exception
	}
	return tw.HostType()
}

// GhostRefField is the __ref field of a ghost value type, or nil.
func (tw *TypeWrapper) GhostRefField() *host.Field {
	switch tw.kind {
	case KindCompiled:
		if tw.proj.ghostIface != nil {
			return tw.proj.host.GetField("__ref")
		}
	case KindDynamic:
		return tw.dyn.ghostRef
	}
	return nil
}

// HasIncompleteInterfaceImplementation reports that finishing synthesized
// failing stubs for interface methods, so subclasses must look at those
// interfaces again.
func (tw *TypeWrapper) HasIncompleteInterfaceImplementation() bool {
	switch tw.kind {
	case KindDynamic:
		tw.dyn.mu.Lock()
		defer tw.dyn.mu.Unlock()
		return tw.dyn.incomplete
	case KindCompiled:
		return tw.proj.host.Module != nil && tw.compiledHasIncompleteImplementation()
	}
	return false
}

// Field returns the field with the given name, declared by tw or, walking
// up, by a base type.
func (tw *TypeWrapper) Field(name string) *FieldWrapper {
	for t := tw; t != nil; t = t.base {
		if fw := t.declaredField(name); fw != nil {
			return fw
		}
	}
	return nil
}

func (tw *TypeWrapper) declaredField(name string) *FieldWrapper {
	tw.mu.Lock()
	fw := tw.fields[name]
	tw.mu.Unlock()
	if fw != nil {
		return fw
	}
	var found *FieldWrapper
	switch tw.kind {
	case KindCompiled:
		found = tw.compiledField(name)
	case KindForeign:
		tw.publishForeignMembers()
		tw.mu.Lock()
		found = tw.fields[name]
		tw.mu.Unlock()
	case KindDynamic:
		found = tw.dynamicField(name)
	}
	if found != nil {
		tw.AddField(found)
	}
	return found
}

// Method returns the method matching md. With inherit set, base types are
// searched when tw has no such method.
func (tw *TypeWrapper) Method(md *MethodDescriptor, inherit bool) *MethodWrapper {
	for t := tw; t != nil; t = t.base {
		if mw := t.declaredMethod(md); mw != nil {
			return mw
		}
		if !inherit {
			break
		}
	}
	return nil
}

func (tw *TypeWrapper) declaredMethod(md *MethodDescriptor) *MethodWrapper {
	key := md.Key()
	tw.mu.Lock()
	mw := tw.methods[key]
	tw.mu.Unlock()
	if mw != nil {
		return mw
	}
	var found *MethodWrapper
	switch tw.kind {
	case KindCompiled:
		found = tw.compiledMethod(md)
	case KindForeign:
		tw.publishForeignMembers()
		tw.mu.Lock()
		found = tw.methods[key]
		tw.mu.Unlock()
	case KindDynamic:
		found = tw.dynamicMethod(md)
	}
	if found != nil {
		tw.AddMethod(found)
	}
	return found
}

// AddMethod records a method. A method already recorded under the same
// descriptor is kept.
func (tw *TypeWrapper) AddMethod(mw *MethodWrapper) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	key := mw.md.Key()
	if _, dup := tw.methods[key]; dup {
		return
	}
	tw.methods[key] = mw
	tw.methodOrder = append(tw.methodOrder, mw)
}

// AddField records a field. A field already recorded under the same name
// is kept.
func (tw *TypeWrapper) AddField(fw *FieldWrapper) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if _, dup := tw.fields[fw.name]; dup {
		return
	}
	tw.fields[fw.name] = fw
	tw.fieldOrder = append(tw.fieldOrder, fw)
}

// Methods returns every method declared by tw, publishing them first where
// that is lazy.
func (tw *TypeWrapper) Methods() []*MethodWrapper {
	switch tw.kind {
	case KindCompiled:
		tw.publishCompiledMembers()
	case KindForeign:
		tw.publishForeignMembers()
	case KindDynamic:
		tw.generateAllMembers()
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return append([]*MethodWrapper(nil), tw.methodOrder...)
}

// Fields returns every field declared by tw.
func (tw *TypeWrapper) Fields() []*FieldWrapper {
	switch tw.kind {
	case KindCompiled:
		tw.publishCompiledMembers()
	case KindForeign:
		tw.publishForeignMembers()
	case KindDynamic:
		tw.generateAllMembers()
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return append([]*FieldWrapper(nil), tw.fieldOrder...)
}

// Finish completes the host type of tw and of every type it depends on.
func (tw *TypeWrapper) Finish() error {
	fc := newFinishContext()
	defer fc.release()
	return tw.finish(fc)
}

func (tw *TypeWrapper) finish(fc *finishContext) error {
	switch tw.kind {
	case KindPrimitive, KindUnloadable, KindVerifier, KindRemapped, KindCompiled:
		return nil
	case KindForeign:
		tw.publishForeignMembers()
		return nil
	case KindArray:
		return tw.innermostElement().finish(fc)
	case KindDynamic:
		return tw.finishDynamic(fc)
	}
	panic("unreachable")
}

// EmitBox converts a value type on the stack to a reference.
func (tw *TypeWrapper) EmitBox(il *host.ILGenerator) {
	il.EmitType(host.IBOX, tw.TypeAsParameterType())
}

// EmitUnbox converts a reference on the stack to a value type. A null
// reference yields the default value.
func (tw *TypeWrapper) EmitUnbox(il *host.ILGenerator) {
	t := tw.TypeAsParameterType()
	notNull := il.DefineLabel()
	end := il.DefineLabel()
	il.Emit(host.IDUP)
	il.EmitLabel(host.IBRTRUE, notNull)
	il.Emit(host.IPOP)
	il.EmitLocal(host.ILDLOC, il.DeclareLocal(t))
	il.EmitLabel(host.IBR, end)
	il.MarkLabel(notNull)
	il.EmitType(host.IUNBOX, t)
	il.EmitType(host.ILDOBJ, t)
	il.MarkLabel(end)
}

// EmitConvStackToParameterType converts a stack value of type source to
// the parameter representation of tw.
func (tw *TypeWrapper) EmitConvStackToParameterType(il *host.ILGenerator, source *TypeWrapper) {
	switch {
	case tw.IsNonPrimitiveValueType():
		tw.EmitUnbox(il)
	case tw.IsGhost():
		tw.emitGhostWrap(il)
	case tw.IsInterfaceOrInterfaceArray() && (source.IsUnloadable() || !source.IsAssignableTo(tw)):
		il.EmitType(host.ICASTCLASS, tw.TypeAsParameterType())
	}
}

// EmitConvParameterToStackType converts a parameter of type tw to its
// stack representation.
func (tw *TypeWrapper) EmitConvParameterToStackType(il *host.ILGenerator) {
	switch {
	case tw.IsNonPrimitiveValueType():
		tw.EmitBox(il)
	case tw.IsGhost():
		tw.emitGhostUnwrap(il)
	}
}

// emitGhostWrap turns the reference on the stack into a ghost value.
func (tw *TypeWrapper) emitGhostWrap(il *host.ILGenerator) {
	obj := il.DeclareLocal(host.Core().Object)
	il.EmitLocal(host.ISTLOC, obj)
	g := il.DeclareLocal(tw.TypeAsParameterType())
	il.EmitLocal(host.ILDLOCA, g)
	il.EmitLocal(host.ILDLOC, obj)
	il.EmitField(host.ISTFLD, tw.GhostRefField())
	il.EmitLocal(host.ILDLOCA, g)
	il.EmitType(host.ILDOBJ, tw.TypeAsParameterType())
}

// emitGhostUnwrap turns the ghost value on the stack into its reference.
func (tw *TypeWrapper) emitGhostUnwrap(il *host.ILGenerator) {
	g := il.DeclareLocal(tw.TypeAsParameterType())
	il.EmitLocal(host.ISTLOC, g)
	il.EmitLocal(host.ILDLOCA, g)
	il.EmitField(host.ILDFLD, tw.GhostRefField())
}

// emitGhostReceiver turns the reference on the stack into the address of a
// ghost value, the receiver shape of ghost stub methods.
func (tw *TypeWrapper) emitGhostReceiver(il *host.ILGenerator) {
	obj := il.DeclareLocal(host.Core().Object)
	il.EmitLocal(host.ISTLOC, obj)
	g := il.DeclareLocal(tw.TypeAsParameterType())
	il.EmitLocal(host.ILDLOCA, g)
	il.EmitLocal(host.ILDLOC, obj)
	il.EmitField(host.ISTFLD, tw.GhostRefField())
	il.EmitLocal(host.ILDLOCA, g)
}
