package compiler

import (
	"fmt"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// A ghost interface is a Java interface that remapped host types implement
// without the host knowing. Its host type is a value type wrapping the
// reference in __ref; Java classes implement the nested __Interface, and
// remapped implementers are recognized by type tests in the stubs.

// defineGhostHelpers declares IsInstance, Cast and ToObject on a ghost
// value type. Their bodies are emitted when the ghost is finished.
func (tw *TypeWrapper) defineGhostHelpers() {
	d := tw.dyn
	c := host.Core()
	static := host.MethodPublic | host.MethodStatic | host.MethodHideBySig
	d.isInstance = d.tb.DefineMethod("IsInstance", static, c.Boolean, c.Object)
	d.cast = d.tb.DefineMethod("Cast", static, d.tb, c.Object)
	toObject := d.tb.DefineMethod("ToObject", host.MethodPublic|host.MethodHideBySig, c.Object)
	for _, m := range []*host.Method{d.isInstance, d.cast, toObject} {
		m.SetCustomAttribute(hideFromReflection())
	}
	il := toObject.GetILGenerator()
	emitLdarg(il, 0)
	il.EmitField(host.ILDFLD, d.ghostRef)
	il.Emit(host.IRET)
}

// ghostImplementerTypes returns the remapped classes that implement the
// ghost.
func (tw *TypeWrapper) ghostImplementerTypes() []*TypeWrapper {
	rt := tw.loader.rt
	var out []*TypeWrapper
	for _, n := range rt.ghostImplementers(tw.name) {
		if impl := rt.remapped[n]; impl != nil {
			out = append(out, impl)
		}
	}
	return out
}

// ghostStub returns the instance method on the ghost value type that
// dispatches md to the wrapped reference.
func (tw *TypeWrapper) ghostStub(md *MethodDescriptor) *host.Method {
	params := hostParamTypes(md.ArgTypes())
	if tw.kind == KindCompiled {
		return tw.proj.host.GetMethod(md.name, params...)
	}
	d := tw.dyn
	d.genMu.Lock()
	defer d.genMu.Unlock()
	if m := d.ghostStubs[md.Key()]; m != nil {
		return m
	}
	if d.tb.IsCreated() {
		return nil
	}
	m := d.tb.DefineMethod(md.name, host.MethodPublic|host.MethodHideBySig, hostReturnType(md.RetType()), params...)
	m.SetCustomAttribute(hideFromReflection())
	d.ghostStubs[md.Key()] = m
	return m
}

// finishGhost defines a stub for every method of the ghost and emits the
// bodies of the stubs and helpers.
func (tw *TypeWrapper) finishGhost() {
	d := tw.dyn
	type stub struct {
		mw   *MethodWrapper
		host *host.Method
	}
	var stubs []stub
	for _, m := range d.class.Methods {
		if m.Modifiers.IsStatic() || m.IsClassInitializer() {
			continue
		}
		mw := tw.declaredMethod(NewMethodDescriptor(tw.loader, m.Name, m.Signature))
		if mw == nil {
			continue
		}
		stubs = append(stubs, stub{mw, tw.ghostStub(mw.md)})
	}
	impls := tw.ghostImplementerTypes()
	tw.emitGhostIsInstance(impls)
	tw.emitGhostCast()
	for _, s := range stubs {
		tw.emitGhostStub(s.mw, s.host, impls)
	}
}

func (tw *TypeWrapper) emitGhostIsInstance(impls []*TypeWrapper) {
	d := tw.dyn
	il := d.isInstance.GetILGenerator()
	yes := il.DefineLabel()
	for _, impl := range impls {
		emitLdarg(il, 0)
		il.EmitType(host.IISINST, impl.HostType())
		il.EmitLabel(host.IBRTRUE, yes)
	}
	emitLdarg(il, 0)
	il.EmitType(host.IISINST, d.ghostIface)
	il.EmitLabel(host.IBRTRUE, yes)
	il.EmitInt(host.ILDCI4, 0)
	il.Emit(host.IRET)
	il.MarkLabel(yes)
	il.EmitInt(host.ILDCI4, 1)
	il.Emit(host.IRET)
}

// emitGhostCast wraps a reference that is null or an instance of the ghost.
// Anything else fails with InvalidCast.
func (tw *TypeWrapper) emitGhostCast() {
	d := tw.dyn
	il := d.cast.GetILGenerator()
	ok := il.DefineLabel()
	emitLdarg(il, 0)
	il.EmitLabel(host.IBRFALSE, ok)
	emitLdarg(il, 0)
	il.EmitMethod(host.ICALL, d.isInstance)
	il.EmitLabel(host.IBRTRUE, ok)
	emitLdarg(il, 0)
	il.EmitType(host.ICASTCLASS, d.ghostIface)
	il.Emit(host.IPOP)
	il.MarkLabel(ok)
	emitLdarg(il, 0)
	tw.emitGhostWrap(il)
	il.Emit(host.IRET)
}

func (tw *TypeWrapper) emitGhostStub(mw *MethodWrapper, m *host.Method, impls []*TypeWrapper) {
	d := tw.dyn
	il := m.GetILGenerator()
	n := len(m.Params)
	ref := il.DeclareLocal(host.Core().Object)
	emitLdarg(il, 0)
	il.EmitField(host.ILDFLD, d.ghostRef)
	il.EmitLocal(host.ISTLOC, ref)
	ret := mw.ReturnType()
	for _, impl := range impls {
		target := impl.Method(mw.md, true)
		if target == nil {
			continue
		}
		next := il.DefineLabel()
		il.EmitLocal(host.ILDLOC, ref)
		il.EmitType(host.IISINST, impl.HostType())
		il.EmitLabel(host.IBRFALSE, next)
		il.EmitLocal(host.ILDLOC, ref)
		il.EmitType(host.ICASTCLASS, impl.HostType())
		emitLdargs(il, 1, n+1)
		target.EmitCallvirt(il)
		if ret.IsGhost() || ret.IsNonPrimitiveValueType() {
			ret.EmitConvStackToParameterType(il, ret)
		}
		il.Emit(host.IRET)
		il.MarkLabel(next)
	}
	call := il.DefineLabel()
	il.EmitLocal(host.ILDLOC, ref)
	il.EmitType(host.IISINST, d.ghostIface)
	il.EmitLabel(host.IBRTRUE, call)
	il.EmitLocal(host.ILDLOC, ref)
	il.EmitLabel(host.IBRFALSE, call)
	tw.loader.EmitThrow(il, "java.lang.IncompatibleClassChangeError",
		fmt.Sprintf("Class does not implement interface %s", tw.name))
	il.MarkLabel(call)
	il.EmitLocal(host.ILDLOC, ref)
	il.EmitType(host.ICASTCLASS, d.ghostIface)
	emitLdargs(il, 1, n+1)
	il.EmitMethod(host.ICALLVIRT, mw.method)
	il.Emit(host.IRET)
}

// defineImplicitConversion adds op_Implicit from tw to the ghost g.
func (tw *TypeWrapper) defineImplicitConversion(g *TypeWrapper) {
	tb := tw.dyn.tb
	gt := g.TypeAsParameterType()
	for _, m := range tb.MethodsNamed("op_Implicit") {
		if m.Return == gt {
			return
		}
	}
	m := tb.DefineMethod("op_Implicit", host.MethodPublic|host.MethodStatic|host.MethodHideBySig|host.MethodSpecialName, gt, tb)
	m.SetCustomAttribute(hideFromReflection())
	il := m.GetILGenerator()
	emitLdarg(il, 0)
	g.emitGhostWrap(il)
	il.Emit(host.IRET)
}

func (tw *TypeWrapper) ghostHelper(name string) *host.Method {
	switch tw.kind {
	case KindDynamic:
		if name == "Cast" {
			return tw.dyn.cast
		}
		return tw.dyn.isInstance
	case KindCompiled:
		return tw.proj.host.GetMethod(name, host.Core().Object)
	}
	return nil
}

// EmitCheckcast casts the reference on the stack to tw. A ghost cast
// checks the implementers and leaves the reference, not a ghost value.
func (tw *TypeWrapper) EmitCheckcast(il *host.ILGenerator) {
	if tw.IsGhost() {
		il.EmitMethod(host.ICALL, tw.ghostHelper("Cast"))
		tw.emitGhostUnwrap(il)
		return
	}
	if t := tw.castType(); t != host.Core().Object {
		il.EmitType(host.ICASTCLASS, t)
	}
}

// EmitInstanceOf replaces the reference on the stack with 1 if it is a
// non-null instance of tw and 0 otherwise.
func (tw *TypeWrapper) EmitInstanceOf(il *host.ILGenerator) {
	if tw.IsGhost() {
		il.EmitMethod(host.ICALL, tw.ghostHelper("IsInstance"))
		return
	}
	il.EmitType(host.IISINST, tw.castType())
	il.Emit(host.ILDNULL)
	il.Emit(host.ICEQ)
	il.EmitInt(host.ILDCI4, 0)
	il.Emit(host.ICEQ)
}

func (tw *TypeWrapper) castType() *host.Type {
	if tw.IsNonPrimitiveValueType() {
		return tw.TypeAsParameterType()
	}
	return tw.TypeAsLocalOrStackType()
}
