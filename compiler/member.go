package compiler

import (
	"sync"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// MethodWrapper is one Java method or constructor of a TypeWrapper. Its
// host flags may differ from the Java modifiers; code generators only go
// through the three emitters.
type MethodWrapper struct {
	declaring  *TypeWrapper
	md         *MethodDescriptor
	modifiers  classfile.Modifiers
	hidden     bool
	method     *host.Method // nil for members that exist only as code
	override   *host.Method // Slot a virtual call goes through, if not method
	exceptions []string

	// remappedOverride marks a remapped method bound to a host virtual
	// method of another name; remappedVirtual marks one dispatched through
	// the $VirtualMethods interface.
	remappedOverride bool
	remappedVirtual  bool

	once                   sync.Once
	custom                 bool
	call, callvirt, newobj Emitter
}

func newMethodWrapper(declaring *TypeWrapper, md *MethodDescriptor, m, override *host.Method, mods classfile.Modifiers, hidden bool) *MethodWrapper {
	return &MethodWrapper{
		declaring: declaring,
		md:        md,
		modifiers: mods,
		hidden:    hidden,
		method:    m,
		override:  override,
	}
}

// setEmitters replaces the derived emitters. Nil slots become internal
// errors.
func (mw *MethodWrapper) setEmitters(call, callvirt, newobj Emitter) {
	what := mw.declaring.name + "." + mw.md.String()
	if call == nil {
		call = internalError{"call " + what}
	}
	if callvirt == nil {
		callvirt = internalError{"callvirt " + what}
	}
	if newobj == nil {
		newobj = internalError{"newobj " + what}
	}
	mw.call, mw.callvirt, mw.newobj = call, callvirt, newobj
	mw.custom = true
}

func (mw *MethodWrapper) DeclaringType() *TypeWrapper     { return mw.declaring }
func (mw *MethodWrapper) Descriptor() *MethodDescriptor   { return mw.md }
func (mw *MethodWrapper) Name() string                    { return mw.md.name }
func (mw *MethodWrapper) Signature() string               { return mw.md.sig }
func (mw *MethodWrapper) Modifiers() classfile.Modifiers  { return mw.modifiers }
func (mw *MethodWrapper) HostMethod() *host.Method        { return mw.method }
func (mw *MethodWrapper) IsHidden() bool                  { return mw.hidden }
func (mw *MethodWrapper) Exceptions() []string            { return mw.exceptions }
func (mw *MethodWrapper) IsStatic() bool                  { return mw.modifiers.IsStatic() }
func (mw *MethodWrapper) IsPublic() bool                  { return mw.modifiers.IsPublic() }
func (mw *MethodWrapper) IsPrivate() bool                 { return mw.modifiers.IsPrivate() }
func (mw *MethodWrapper) IsProtected() bool               { return mw.modifiers.IsProtected() }
func (mw *MethodWrapper) IsFinal() bool                   { return mw.modifiers.IsFinal() }
func (mw *MethodWrapper) IsAbstract() bool                { return mw.modifiers.IsAbstract() }
func (mw *MethodWrapper) IsPackagePrivate() bool          { return mw.modifiers.IsPackagePrivate() }
func (mw *MethodWrapper) ReturnType() *TypeWrapper        { return mw.md.RetType() }
func (mw *MethodWrapper) ParameterTypes() []*TypeWrapper  { return mw.md.ArgTypes() }
func (mw *MethodWrapper) String() string                  { return mw.declaring.name + "." + mw.md.String() }
func (mw *MethodWrapper) IsRemappedVirtual() bool         { return mw.remappedVirtual }
func (mw *MethodWrapper) IsRemappedOverride() bool        { return mw.remappedOverride }
func (mw *MethodWrapper) hostOverride() *host.Method      { return mw.override }

func (mw *MethodWrapper) setExceptions(exceptions []string) {
	mw.exceptions = append([]string(nil), exceptions...)
}

// RealName is the name of the host method, which can differ from the Java
// name for remapped and projected members.
func (mw *MethodWrapper) RealName() string {
	if mw.method != nil && !mw.method.IsConstructor() {
		return mw.method.Name
	}
	return mw.md.name
}

func (mw *MethodWrapper) EmitCall(il *host.ILGenerator) {
	mw.once.Do(mw.createEmitters)
	mw.call.Emit(il)
}

func (mw *MethodWrapper) EmitCallvirt(il *host.ILGenerator) {
	mw.once.Do(mw.createEmitters)
	mw.callvirt.Emit(il)
}

func (mw *MethodWrapper) EmitNewobj(il *host.ILGenerator) {
	mw.once.Do(mw.createEmitters)
	mw.newobj.Emit(il)
}

// createEmitters derives the emitters from the host method.
func (mw *MethodWrapper) createEmitters() {
	if mw.custom {
		return
	}
	dt := mw.declaring
	what := dt.name + "." + mw.md.String()
	var call, callvirt, newobj Emitter
	m := mw.method
	switch {
	case dt.IsGhost():
		call = internalError{"call " + what}
		callvirt = &ghostCallEmitter{ghost: dt, md: mw.md}
		newobj = internalError{"newobj " + what}
	case m == nil:
		call = internalError{"call " + what}
		callvirt = call
		newobj = call
	case m.IsConstructor():
		call = MethodOp(host.ICALL, m)
		callvirt = internalError{"callvirt " + what}
		newobj = MethodOp(host.INEWOBJ, m)
	case mw.md.name == "<init>":
		// Constructor redirected to a static factory.
		call = internalError{"call " + what}
		callvirt = call
		newobj = MethodOp(host.ICALL, m)
	default:
		call = MethodOp(host.ICALL, m)
		switch {
		case m.IsStatic() && !mw.IsStatic():
			callvirt = call
		case m.IsStatic():
			callvirt = internalError{"callvirt " + what}
		case mw.override != nil:
			callvirt = MethodOp(host.ICALLVIRT, mw.override)
		default:
			callvirt = MethodOp(host.ICALLVIRT, m)
		}
		newobj = internalError{"newobj " + what}
	}
	if ret := mw.md.RetType(); !ret.IsUnloadable() {
		switch {
		case ret.IsNonPrimitiveValueType():
			box := TypeOp(host.IBOX, ret.TypeAsParameterType())
			call, callvirt = Then(call, box), Then(callvirt, box)
		case ret.IsGhost():
			unwrap := EmitterFunc(ret.emitGhostUnwrap)
			call, callvirt = Then(call, unwrap), Then(callvirt, unwrap)
		}
	}
	if dt.IsNonPrimitiveValueType() {
		if m != nil && m.IsConstructor() {
			newobj = Then(newobj, TypeOp(host.IBOX, dt.HostType()))
		} else {
			callvirt = call
		}
	}
	mw.call, mw.callvirt, mw.newobj = call, callvirt, newobj
}

// ghostCallEmitter calls the dispatch stub of a ghost interface method. The
// receiver is the address of a ghost value.
type ghostCallEmitter struct {
	ghost *TypeWrapper
	md    *MethodDescriptor

	once sync.Once
	stub *host.Method
}

func (e *ghostCallEmitter) Emit(il *host.ILGenerator) {
	e.once.Do(func() { e.stub = e.ghost.ghostStub(e.md) })
	if e.stub == nil {
		panic("compiler: no ghost stub for " + e.ghost.name + "." + e.md.String())
	}
	il.EmitMethod(host.ICALL, e.stub)
}

// hostParamTypes maps argument wrappers to host parameter types.
func hostParamTypes(args []*TypeWrapper) []*host.Type {
	out := make([]*host.Type, len(args))
	for i, a := range args {
		out[i] = a.TypeAsParameterType()
	}
	return out
}

// hostReturnType maps a return wrapper to a host return type; void is nil.
func hostReturnType(ret *TypeWrapper) *host.Type {
	if ret.kind == KindPrimitive && ret.prim.sig == 'V' {
		return nil
	}
	return ret.TypeAsParameterType()
}

// FieldWrapper is one Java field of a TypeWrapper.
type FieldWrapper struct {
	declaring *TypeWrapper
	name      string
	sig       string
	modifiers classfile.Modifiers
	hidden    bool
	field     *host.Field
	constant  any
	getter    *host.Method // Accessor of a private backing field

	typeOnce  sync.Once
	fieldType *TypeWrapper

	once     sync.Once
	custom   bool
	get, set Emitter
}

func newFieldWrapper(declaring *TypeWrapper, name, sig string, mods classfile.Modifiers, f *host.Field) *FieldWrapper {
	return &FieldWrapper{declaring: declaring, name: name, sig: sig, modifiers: mods, field: f}
}

func (fw *FieldWrapper) setEmitters(get, set Emitter) {
	fw.get, fw.set = get, set
	fw.custom = true
}

func (fw *FieldWrapper) DeclaringType() *TypeWrapper    { return fw.declaring }
func (fw *FieldWrapper) Name() string                   { return fw.name }
func (fw *FieldWrapper) Signature() string              { return fw.sig }
func (fw *FieldWrapper) Modifiers() classfile.Modifiers { return fw.modifiers }
func (fw *FieldWrapper) HostField() *host.Field         { return fw.field }
func (fw *FieldWrapper) IsHidden() bool                 { return fw.hidden }
func (fw *FieldWrapper) IsStatic() bool                 { return fw.modifiers.IsStatic() }
func (fw *FieldWrapper) IsFinal() bool                  { return fw.modifiers.IsFinal() }
func (fw *FieldWrapper) IsPublic() bool                 { return fw.modifiers.IsPublic() }
func (fw *FieldWrapper) IsPrivate() bool                { return fw.modifiers.IsPrivate() }
func (fw *FieldWrapper) IsVolatile() bool               { return fw.modifiers&classfile.Volatile != 0 }
func (fw *FieldWrapper) String() string                 { return fw.declaring.name + "." + fw.name }

// Constant returns the compile-time constant of a static final field, or
// nil.
func (fw *FieldWrapper) Constant() any {
	if fw.constant != nil {
		return fw.constant
	}
	if fw.field != nil && fw.field.IsLiteral() {
		return fw.field.Constant
	}
	return nil
}

// FieldType resolves the type of the field.
func (fw *FieldWrapper) FieldType() *TypeWrapper {
	fw.typeOnce.Do(func() {
		fw.fieldType = fw.declaring.loader.typeFromSig(fw.sig)
	})
	return fw.fieldType
}

func (fw *FieldWrapper) EmitGet(il *host.ILGenerator) {
	fw.once.Do(fw.createEmitters)
	fw.get.Emit(il)
}

func (fw *FieldWrapper) EmitSet(il *host.ILGenerator) {
	fw.once.Do(fw.createEmitters)
	fw.set.Emit(il)
}

func (fw *FieldWrapper) createEmitters() {
	if fw.custom {
		return
	}
	f := fw.field
	if f == nil {
		fw.get = internalError{"get " + fw.String()}
		fw.set = fw.get
		return
	}
	if f.IsLiteral() {
		fw.get = LoadConstant(f.Constant)
		fw.set = Pop
		if !fw.IsStatic() {
			fw.set = Seq{Pop, Pop}
		}
		return
	}
	var get, set Emitter = Nop, Nop
	if fw.declaring.IsNonPrimitiveValueType() {
		dt := fw.declaring.HostType()
		get = TypeOp(host.IUNBOX, dt)
		set = EmitterFunc(func(il *host.ILGenerator) {
			tmp := il.DeclareLocal(f.Type)
			il.EmitLocal(host.ISTLOC, tmp)
			il.EmitType(host.IUNBOX, dt)
			il.EmitLocal(host.ILDLOC, tmp)
		})
	}
	load, store := host.ILDFLD, host.ISTFLD
	if fw.IsStatic() {
		load, store = host.ILDSFLD, host.ISTSFLD
	}
	ft := fw.FieldType()
	switch {
	case ft.IsUnloadable():
		get = Then(get, FieldOp(load, f))
		set = Then(set, FieldOp(store, f))
	case ft.IsGhost():
		get = Then(get, FieldOp(load, f), EmitterFunc(ft.emitGhostUnwrap))
		set = Then(set, EmitterFunc(ft.emitGhostWrap), FieldOp(store, f))
	default:
		if ft.IsNonPrimitiveValueType() {
			set = Then(set, EmitterFunc(ft.EmitUnbox))
		}
		switch {
		case fw.getter != nil:
			get = Then(get, MethodOp(host.ICALL, fw.getter))
		case fw.IsVolatile():
			get = Then(get, VolatileFieldOp(load, f))
		default:
			get = Then(get, FieldOp(load, f))
		}
		if fw.IsVolatile() {
			set = Then(set, VolatileFieldOp(store, f))
		} else {
			set = Then(set, FieldOp(store, f))
		}
		if ft.IsNonPrimitiveValueType() {
			get = Then(get, TypeOp(host.IBOX, ft.TypeAsParameterType()))
		}
	}
	fw.get, fw.set = get, set
}
