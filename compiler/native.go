package compiler

import (
	"go.uber.org/zap"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// nativeCodePrefix names the host classes that implement Java native
// methods in managed code: NativeCode.<java class name>, with one static
// method per native method taking the receiver first.
const nativeCodePrefix = "NativeCode."

// emitNative emits the body of a native method. The remap table is tried
// first, then a NativeCode class, then a JNI binding resolved at run time.
func (tw *TypeWrapper) emitNative(p pendingBody) {
	rt := tw.loader.rt
	il := p.hm.GetILGenerator()
	key := tw.name + "." + p.src.Name + p.src.Signature
	if e := rt.nativeMethods[key]; e != nil {
		e.Emit(il)
		return
	}
	if impl := tw.nativeCodeMethod(p.hm); impl != nil {
		emitLdargs(il, 0, argSlots(p.hm))
		il.EmitMethod(host.ICALL, impl)
		if p.hm.Return != nil && impl.Return != p.hm.Return && !p.mw.ReturnType().IsGhost() {
			il.EmitType(host.ICASTCLASS, p.hm.Return)
		}
		il.Emit(host.IRET)
		return
	}
	if rt.opts.NoJniStubs {
		tw.logger().Warn("native method has no implementation", zap.String("method", key))
		tw.loader.EmitThrow(il, "java.lang.UnsatisfiedLinkError", "Native method not implemented: "+key)
		return
	}
	emitLdargs(il, 0, argSlots(p.hm))
	il.EmitString(host.ILDSTR, p.src.Name)
	il.EmitString(host.ILDSTR, p.src.Signature)
	il.EmitString(host.ILDSTR, tw.name)
	il.EmitMethod(host.ICALL, host.Core().JNI.GetMethod("GetFuncPtr", host.Core().String, host.Core().String, host.Core().String))
	params := p.hm.Params
	if !p.hm.IsStatic() {
		params = append([]*host.Type{tw.dyn.tb}, params...)
	}
	il.EmitCalli(true, p.hm.Return, params...)
	il.Emit(host.IRET)
}

func argSlots(m *host.Method) int {
	if m.IsStatic() {
		return len(m.Params)
	}
	return len(m.Params) + 1
}

// nativeCodeMethod finds the managed implementation of m, if any. An
// instance method's receiver is typed either as the class or as Object.
func (tw *TypeWrapper) nativeCodeMethod(m *host.Method) *host.Method {
	t := tw.loader.rt.resolveHostType(nativeCodePrefix + tw.name)
	if t == nil {
		return nil
	}
	candidates := [][]*host.Type{m.Params}
	if !m.IsStatic() {
		candidates = [][]*host.Type{
			append([]*host.Type{tw.dyn.tb}, m.Params...),
			append([]*host.Type{host.Core().Object}, m.Params...),
		}
	}
	for _, params := range candidates {
		if impl := t.GetMethod(m.Name, params...); impl != nil && impl.IsStatic() {
			return impl
		}
	}
	return nil
}
