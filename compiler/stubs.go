package compiler

import (
	"fmt"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

const stubAttrs = host.MethodPrivate | host.MethodVirtual | host.MethodFinal | host.MethodNewSlot | host.MethodHideBySig

// implementInterface makes the host type of tw implement every method of
// iface and its super-interfaces. Interfaces already in visited are
// skipped.
func (tw *TypeWrapper) implementInterface(iface *TypeWrapper, visited map[*TypeWrapper]bool) {
	if visited[iface] {
		return
	}
	visited[iface] = true
	for _, imw := range iface.Methods() {
		decl := imw.method
		if imw.IsStatic() || decl == nil || decl.IsStatic() || !decl.DeclaringType.IsInterface() {
			continue
		}
		tw.implementInterfaceMethod(iface, imw, decl)
	}
	for _, sup := range iface.Interfaces() {
		tw.implementInterface(sup, visited)
	}
}

func (tw *TypeWrapper) implementInterfaceMethod(iface *TypeWrapper, imw *MethodWrapper, decl *host.Method) {
	d := tw.dyn
	tb := d.tb
	what := fmt.Sprintf("%s.%s%s", tw.name, imw.md.name, imw.md.sig)
	mw := tw.Method(imw.md, true)
	if mw != nil && mw.IsAbstract() && mw.declaring.loader != tw.loader {
		mw = nil
	}
	switch {
	case mw == nil && tw.IsAbstract():
		tw.defineMiranda(imw, decl)
	case mw == nil:
		tw.defineFailingStub(iface, decl, "java.lang.AbstractMethodError", what)
		d.setIncomplete()
	case mw.IsStatic():
		tw.defineFailingStub(iface, decl, "java.lang.IncompatibleClassChangeError", what)
		d.setIncomplete()
	case !mw.IsPublic():
		tw.defineFailingStub(iface, decl, "java.lang.IllegalAccessError", what)
		d.setIncomplete()
	case mw.method != nil && mw.RealName() == decl.Name && mw.method.Sig() == decl.Sig():
		if impl := tb.ResolveVirtual(decl); impl != nil && !(impl.IsPrivate() && impl.DeclaringType != tb) {
			return
		}
		if mw.declaring == tw {
			tb.DefineMethodOverride(mw.method, decl)
			return
		}
		tw.defineTrampoline(mw, decl)
	default:
		tw.defineForwardingStub(iface, mw, decl)
	}
}

func mangledName(iface *TypeWrapper, decl *host.Method) string {
	return iface.name + "." + decl.Name
}

// defineStub defines a private explicit implementation of decl, or returns
// nil when one already exists.
func (tw *TypeWrapper) defineStub(name string, decl *host.Method) *host.Method {
	tb := tw.dyn.tb
	if tb.GetMethod(name, decl.Params...) != nil {
		return nil
	}
	stub := tb.DefineMethod(name, stubAttrs, decl.Return, decl.Params...)
	stub.SetCustomAttribute(hideFromReflection())
	tb.DefineMethodOverride(stub, decl)
	return stub
}

func (tw *TypeWrapper) defineFailingStub(iface *TypeWrapper, decl *host.Method, class, msg string) {
	if stub := tw.defineStub(mangledName(iface, decl), decl); stub != nil {
		tw.loader.EmitThrow(stub.GetILGenerator(), class, msg)
	}
}

// defineForwardingStub binds decl to a Java method whose host method has
// another name or shape.
func (tw *TypeWrapper) defineForwardingStub(iface *TypeWrapper, mw *MethodWrapper, decl *host.Method) {
	stub := tw.defineStub(mangledName(iface, decl), decl)
	if stub == nil {
		return
	}
	il := stub.GetILGenerator()
	emitLdargs(il, 0, len(decl.Params)+1)
	mw.EmitCallvirt(il)
	if ret := mw.ReturnType(); ret.IsGhost() || ret.IsNonPrimitiveValueType() {
		ret.EmitConvStackToParameterType(il, ret)
	}
	il.Emit(host.IRET)
}

// defineTrampoline binds decl to an inherited method that the host does
// not consider, usually because it lives in another module.
func (tw *TypeWrapper) defineTrampoline(mw *MethodWrapper, decl *host.Method) {
	tb := tw.dyn.tb
	base := mw.method
	name, attrs := base.Name, host.MethodPublic|host.MethodVirtual|host.MethodHideBySig
	if base.IsFinal() || !base.IsVirtual() || tb.GetMethod(name, base.Params...) != nil {
		name, attrs = mw.declaring.name+"."+base.Name, stubAttrs
	}
	if tb.GetMethod(name, base.Params...) != nil {
		return
	}
	t := tb.DefineMethod(name, attrs, base.Return, base.Params...)
	t.SetCustomAttribute(hideFromReflection())
	il := t.GetILGenerator()
	emitLdargs(il, 0, len(base.Params)+1)
	il.EmitMethod(host.ICALL, base)
	il.Emit(host.IRET)
	tb.DefineMethodOverride(t, decl)
}

// defineMiranda declares an interface method that an abstract class does
// not implement, so subclasses can override it.
func (tw *TypeWrapper) defineMiranda(imw *MethodWrapper, decl *host.Method) {
	tb := tw.dyn.tb
	if m := tb.GetMethod(decl.Name, decl.Params...); m != nil {
		tb.DefineMethodOverride(m, decl)
		return
	}
	attrs := host.MethodPublic | host.MethodVirtual | host.MethodAbstract | host.MethodNewSlot | host.MethodHideBySig
	m := tb.DefineMethod(decl.Name, attrs, decl.Return, decl.Params...)
	for pos, attrs := range decl.ParamAttributes {
		for _, a := range attrs {
			m.SetParamAttribute(pos, a)
		}
	}
	tb.DefineMethodOverride(m, decl)
	mw := newMethodWrapper(tw, imw.md, m, nil, classfile.Public|classfile.Abstract, false)
	tw.AddMethod(mw)
}
