package compiler

import (
	"strings"

	"go.uber.org/zap"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// foreignName is the Java name of a host type: cli. followed by the full
// name with nested types separated by $.
func foreignName(t *host.Type) string {
	return foreignPrefix + strings.ReplaceAll(t.FullName(), "+", "$")
}

// foreignWrapper projects any host type into Java under its cli.* name.
// The host type of a remapped class gets a projection of its own, whose
// instance methods appear as static methods taking the receiver first.
func (rt *Runtime) foreignWrapper(t *host.Type) *TypeWrapper {
	key := "cli:" + hostKey(t)
	if v, ok := rt.hostTypes.Get(key); ok {
		return v.(*TypeWrapper)
	}
	mods := typeModifiers(t) & (classfile.Public | classfile.Final | classfile.Abstract | classfile.Interface)
	if t.IsValueType() {
		mods |= classfile.Final
	}
	remapped := rt.registered(t) != nil && rt.registered(t).kind == KindRemapped
	var base *TypeWrapper
	if !t.IsInterface() && t.Base != nil {
		base = rt.WrapperFromHostType(t.Base)
	}
	tw := newTypeWrapper(KindForeign, foreignName(t), mods, rt.bootstrap, base)
	tw.proj = &projectedData{host: t, remappedHost: remapped}
	if rt.hostTypes.SetIfAbsent(key, tw) {
		if !remapped {
			rt.register(t, tw)
		}
		return tw
	}
	v, _ := rt.hostTypes.Get(key)
	return v.(*TypeWrapper)
}

func (tw *TypeWrapper) foreignInterfaces() []*TypeWrapper {
	p := tw.proj
	p.ifaceOnce.Do(func() {
		for _, i := range p.host.Interfaces {
			if i.IsPublic() {
				p.interfaces = append(p.interfaces, tw.loader.rt.WrapperFromHostType(i))
			}
		}
	})
	return p.interfaces
}

func visibleFromJava(access host.MethodAttributes) bool {
	switch access {
	case host.MethodPublic, host.MethodFamily, host.MethodFamORAssem:
		return true
	}
	return false
}

// publishForeignMembers records the Java view of the host type's public
// and protected members. The pass runs once; concurrent callers wait for
// it.
func (tw *TypeWrapper) publishForeignMembers() {
	p := tw.proj
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	if p.published {
		return
	}
	p.published = true

	t := p.host
	rt := tw.loader.rt
	switch {
	case t.IsEnum():
		tw.publishEnumMembers()
	case t.IsDelegate():
		tw.publishDelegateConstructor()
	}
	for _, f := range t.Fields {
		if t.IsEnum() || f.IsPrivate() || f.Attrs&host.FieldAccessMask == host.FieldAssembly {
			continue
		}
		fw := newFieldWrapper(tw, f.Name, rt.WrapperFromHostType(f.Type).SigName(), fieldModifiers(f), f)
		tw.addForeignField(fw)
	}
	for _, m := range t.Methods {
		if !visibleFromJava(m.Access()) || m.Name == ".cctor" {
			continue
		}
		mods := methodModifiers(m) &^ classfile.Synchronized
		md := NewMethodDescriptor(tw.loader, javaMethodName(m), rt.javaSigOf(m))
		if p.remappedHost && !m.IsStatic() && !m.IsConstructor() {
			md = NewMethodDescriptor(tw.loader, m.Name, rt.staticSigOf(t, m))
			mw := newMethodWrapper(tw, md, m, nil, mods|classfile.Static, false)
			call := MethodOp(host.ICALL, m)
			if m.IsVirtual() {
				call = MethodOp(host.ICALLVIRT, m)
			}
			mw.setEmitters(call, call, nil)
			tw.addForeignMethod(mw)
			continue
		}
		tw.addForeignMethod(newMethodWrapper(tw, md, m, nil, mods, false))
	}
	if t.IsValueType() && !t.IsPrimitive() && !t.IsEnum() && t.GetConstructor() == nil {
		tw.publishValueTypeFactory()
	}
	// Private implementations of interface methods are reachable through
	// the interface slot.
	for _, ov := range t.Overrides {
		if !ov.Body.IsPrivate() || !ov.Decl.DeclaringType.IsInterface() {
			continue
		}
		md := NewMethodDescriptor(tw.loader, ov.Decl.Name, rt.javaSigOf(ov.Decl))
		mw := newMethodWrapper(tw, md, ov.Body, ov.Decl, classfile.Public, false)
		mw.setEmitters(internalError{"call " + tw.name + "." + md.String()}, MethodOp(host.ICALLVIRT, ov.Decl), nil)
		tw.addForeignMethod(mw)
	}
}

// addForeignMethod records mw unless the lookup map already has it. The
// caller holds pubMu, not mu.
func (tw *TypeWrapper) addForeignMethod(mw *MethodWrapper) { tw.AddMethod(mw) }

func (tw *TypeWrapper) addForeignField(fw *FieldWrapper) { tw.AddField(fw) }

// staticSigOf is the Java signature of instance method m of t called
// statically with the receiver first.
func (rt *Runtime) staticSigOf(t *host.Type, m *host.Method) string {
	sig := rt.javaSigOf(m)
	return "(" + rt.WrapperFromHostType(t).SigName() + sig[1:]
}

// publishEnumMembers exposes the constants of an enum as static final int
// fields, the underlying value as Value, and wrap(int) to box a value.
func (tw *TypeWrapper) publishEnumMembers() {
	t := tw.proj.host
	i4 := host.Core().Int32
	for _, f := range t.Fields {
		if !f.IsLiteral() {
			continue
		}
		fw := newFieldWrapper(tw, f.Name, "I", classfile.Public|classfile.Static|classfile.Final, f)
		fw.constant = f.Constant
		fw.setEmitters(LoadConstant(f.Constant), Pop)
		tw.addForeignField(fw)
	}
	value := newFieldWrapper(tw, "Value", "I", classfile.Public|classfile.Final, nil)
	value.setEmitters(Seq{TypeOp(host.IUNBOX, t), TypeOp(host.ILDOBJ, i4)}, Seq{Pop, Pop})
	tw.addForeignField(value)

	md := NewMethodDescriptor(tw.loader, "wrap", "(I)"+tw.SigName())
	wrap := newMethodWrapper(tw, md, nil, nil, classfile.Public|classfile.Static, false)
	box := TypeOp(host.IBOX, t)
	wrap.setEmitters(box, box, nil)
	tw.addForeignMethod(wrap)
}

// publishValueTypeFactory adds __new(), which yields a boxed default value
// of a value type without a parameterless constructor.
func (tw *TypeWrapper) publishValueTypeFactory() {
	t := tw.proj.host
	md := NewMethodDescriptor(tw.loader, "__new", "()"+tw.SigName())
	mw := newMethodWrapper(tw, md, nil, nil, classfile.Public|classfile.Static, false)
	e := EmitterFunc(func(il *host.ILGenerator) {
		tmp := il.DeclareLocal(t)
		il.EmitLocal(host.ILDLOCA, tmp)
		il.EmitType(host.IINITOBJ, t)
		il.EmitLocal(host.ILDLOC, tmp)
		il.EmitType(host.IBOX, t)
	})
	mw.setEmitters(e, e, nil)
	tw.addForeignMethod(mw)
}

// publishDelegateConstructor adds <init>(L<delegate>$Method;)V. The
// $Method interface has the delegate's Invoke signature; the constructor
// binds the delegate to the interface method of the given object.
func (tw *TypeWrapper) publishDelegateConstructor() {
	t := tw.proj.host
	var invoke *host.Method
	if ms := t.MethodsNamed("Invoke"); len(ms) > 0 {
		invoke = ms[0]
	}
	ctor := t.GetConstructor(host.Core().Object, host.Core().IntPtr)
	if invoke == nil || ctor == nil {
		return
	}
	iface := tw.loader.rt.delegateInterface(t, invoke)
	if iface == nil {
		return
	}
	ifaceInvoke := iface.Methods[0]
	md := NewMethodDescriptor(tw.loader, "<init>", "("+FieldSigName(tw.name+"$Method")+")V")
	mw := newMethodWrapper(tw, md, ctor, nil, classfile.Public, false)
	newobj := EmitterFunc(func(il *host.ILGenerator) {
		il.Emit(host.IDUP)
		il.EmitMethod(host.ILDVIRTFTN, ifaceInvoke)
		il.EmitMethod(host.INEWOBJ, ctor)
	})
	mw.setEmitters(internalError{"call " + tw.name + ".<init>"}, internalError{"callvirt " + tw.name + ".<init>"}, newobj)
	tw.addForeignMethod(mw)
}

// delegateInterface returns the $Method interface of delegate type t,
// defining it in the runtime module on first use.
func (rt *Runtime) delegateInterface(t *host.Type, invoke *host.Method) *host.Type {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if iface := rt.delegateIfaces[t]; iface != nil {
		return iface
	}
	name := foreignName(t) + "$Method"
	iface := rt.runtimeModule.DefineType(t.FullName()+"$Method", host.TypePublic|host.TypeInterface|host.TypeAbstract, nil)
	iface.DefineMethod("Invoke", host.MethodPublic|host.MethodVirtual|host.MethodAbstract|host.MethodNewSlot|host.MethodHideBySig,
		invoke.Return, invoke.Params...)
	iface.SetCustomAttribute(innerClassAttribute(name, foreignName(t), "Method",
		classfile.Public|classfile.Static|classfile.Interface|classfile.Abstract))
	if err := iface.CreateType(); err != nil {
		rt.log.Error("delegate interface", zap.String("type", t.FullName()), zap.Error(err))
		return nil
	}
	rt.delegateIfaces[t] = iface
	return iface
}
