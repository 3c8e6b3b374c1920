package compiler

import (
	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

func hostMethodAccess(mods classfile.Modifiers) host.MethodAttributes {
	switch {
	case mods.IsPublic():
		return host.MethodPublic
	case mods.IsPrivate():
		return host.MethodPrivate
	case mods.IsProtected():
		return host.MethodFamORAssem
	}
	return host.MethodAssembly
}

func hostFieldAccess(mods classfile.Modifiers) host.FieldAttributes {
	switch {
	case mods.IsPublic():
		return host.FieldPublic
	case mods.IsPrivate():
		return host.FieldPrivate
	case mods.IsProtected():
		return host.FieldFamORAssem
	}
	return host.FieldAssembly
}

var accessRank = map[host.MethodAttributes]int{
	host.MethodPrivateScope: 0,
	host.MethodPrivate:      1,
	host.MethodFamANDAssem:  2,
	host.MethodAssembly:     3,
	host.MethodFamily:       4,
	host.MethodFamORAssem:   5,
	host.MethodPublic:       6,
}

// widenAccess raises the access of an overriding method to that of the
// base method it overrides. A protected base in another module only needs
// Family.
func widenAccess(attrs host.MethodAttributes, base *host.Method, m *host.Module) host.MethodAttributes {
	own, ba := attrs&host.MethodAccessMask, base.Access()
	if ba == host.MethodFamORAssem && base.DeclaringType.Module != m {
		ba = host.MethodFamily
	}
	if accessRank[own] >= accessRank[ba] {
		return attrs
	}
	return attrs&^host.MethodAccessMask | ba
}

// markUnloadable records the Java class name of a member typed Object
// because its class could not be loaded. pos 0 is the return value.
func markUnloadable(m *host.Method, pos int, tw *TypeWrapper) {
	if tw.IsUnloadable() {
		m.SetParamAttribute(pos, host.NewAttribute(AttrUnloadableType, tw.name))
	}
}

// generateField defines the host field of f. Static final fields with a
// constant become literals; other final fields that are visible outside
// the class also get a read-only property for projections.
func (tw *TypeWrapper) generateField(f *classfile.Field) *FieldWrapper {
	d := tw.dyn
	ft := tw.loader.typeFromSig(f.Signature)
	d.genMu.Lock()
	defer d.genMu.Unlock()
	tw.mu.Lock()
	fw := tw.fields[f.Name]
	tw.mu.Unlock()
	if fw != nil {
		return fw
	}
	if d.tb.IsCreated() {
		return nil
	}
	mods := f.Modifiers
	literal := mods.IsStatic() && mods.IsFinal() && f.Constant != nil
	property := mods.IsFinal() && !literal && !mods.IsPrivate()
	attrs := hostFieldAccess(mods)
	if property {
		attrs = host.FieldPrivate
	}
	if mods.IsStatic() {
		attrs |= host.FieldStatic
	}
	if f.IsTransient() {
		attrs |= host.FieldNotSerialized
	}
	if literal {
		attrs |= host.FieldLiteral
	}
	name := f.Name
	for _, other := range d.class.Fields {
		if other != f && other.Name == f.Name {
			name = f.Name + "/" + f.Signature
			break
		}
	}
	hf := d.tb.DefineField(name, ft.TypeAsFieldType(), attrs)
	if ft.IsUnloadable() {
		hf.SetCustomAttribute(host.NewAttribute(AttrUnloadableType, ft.name))
	}
	if literal {
		hf.SetConstant(f.Constant)
	}
	if mods != fieldModifiers(hf) {
		hf.SetCustomAttribute(modifiersAttribute(mods))
	}
	fw = newFieldWrapper(tw, f.Name, f.Signature, mods, hf)
	if literal {
		fw.constant = f.Constant
	}
	if property {
		fw.getter = tw.defineFieldProperty(hf, mods)
	}
	tw.AddField(fw)
	return fw
}

// defineFieldProperty defines the read-only accessor of a private backing
// field and returns the getter.
func (tw *TypeWrapper) defineFieldProperty(hf *host.Field, mods classfile.Modifiers) *host.Method {
	tb := tw.dyn.tb
	attrs := hostMethodAccess(mods) | host.MethodHideBySig | host.MethodSpecialName
	if mods.IsStatic() {
		attrs |= host.MethodStatic
	}
	get := tb.DefineMethod("get_"+hf.Name, attrs, hf.Type)
	il := get.GetILGenerator()
	load := host.ILDSFLD
	if !mods.IsStatic() {
		emitLdarg(il, 0)
		load = host.ILDFLD
	}
	if mods&classfile.Volatile != 0 {
		il.Emit(host.IVOLATILE)
	}
	il.EmitField(load, hf)
	il.Emit(host.IRET)
	for _, a := range hf.Attributes {
		if a.Type == AttrUnloadableType {
			get.SetParamAttribute(0, a)
		}
	}
	get.SetCustomAttribute(modifiersAttribute(mods))
	p := tb.DefineProperty(hf.Name, hf.Type)
	p.SetGetMethod(get)
	return get
}

// generateMethod defines the host method of m. baseMw is the base class
// method it overrides, if any; explicit forces an explicit override of it.
func (tw *TypeWrapper) generateMethod(m *classfile.Method, md *MethodDescriptor, baseMw *MethodWrapper, explicit bool) *MethodWrapper {
	d := tw.dyn
	d.genMu.Lock()
	defer d.genMu.Unlock()
	tw.mu.Lock()
	mw := tw.methods[md.Key()]
	tw.mu.Unlock()
	if mw != nil {
		return mw
	}
	if d.tb.IsCreated() {
		return nil
	}
	mods := m.Modifiers
	args := md.ArgTypes()
	ret := md.RetType()
	params := hostParamTypes(args)
	var hm *host.Method
	switch {
	case m.IsClassInitializer():
		hm = d.tb.DefineTypeInitializer()
		d.clinit = hm
	case m.IsConstructor():
		hm = d.tb.DefineConstructor(hostMethodAccess(mods)|host.MethodHideBySig, params...)
	case d.ghost:
		hm = d.ghostIface.DefineMethod(m.Name, host.MethodPublic|host.MethodVirtual|host.MethodAbstract|host.MethodNewSlot|host.MethodHideBySig,
			hostReturnType(ret), params...)
	default:
		attrs := hostMethodAccess(mods) | host.MethodHideBySig
		switch {
		case mods.IsStatic():
			attrs |= host.MethodStatic
		case d.class.IsInterface():
			attrs = host.MethodPublic | host.MethodVirtual | host.MethodAbstract | host.MethodNewSlot | host.MethodHideBySig
		default:
			attrs |= host.MethodVirtual
			if mods.IsAbstract() && tw.IsAbstract() {
				attrs |= host.MethodAbstract
			}
			if mods.IsFinal() {
				attrs |= host.MethodFinal
			}
			if overridesSlot(tw, mods, baseMw) {
				attrs = widenAccess(attrs, baseMw.method, d.tb.Module)
			}
			if !overridesSlot(tw, mods, baseMw) || explicit || baseMw.IsRemappedOverride() || baseMw.RealName() != m.Name {
				attrs |= host.MethodNewSlot
			}
		}
		hm = d.tb.DefineMethod(m.Name, attrs, hostReturnType(ret), params...)
		if mods&classfile.Synchronized != 0 {
			hm.Impl |= host.ImplSynchronized
		}
		if hm.IsVirtual() && overridesSlot(tw, mods, baseMw) && (explicit || baseMw.IsRemappedOverride() || baseMw.RealName() != m.Name) {
			d.tb.DefineMethodOverride(hm, baseMw.method)
		}
	}
	for i, a := range args {
		markUnloadable(hm, i+1, a)
	}
	markUnloadable(hm, 0, ret)
	if declared := methodModifiers(hm); declared != mods && !m.IsClassInitializer() {
		hm.SetCustomAttribute(modifiersAttribute(mods))
	}
	if len(m.Exceptions) > 0 {
		hm.SetCustomAttribute(host.NewAttribute(AttrThrows, m.Exceptions...))
	}
	if m.Deprecated {
		hm.SetCustomAttribute(host.NewAttribute(AttrDeprecated))
	}
	mw = newMethodWrapper(tw, md, hm, nil, mods, false)
	mw.setExceptions(m.Exceptions)
	if !hm.IsAbstract() {
		d.pending = append(d.pending, pendingBody{src: m, mw: mw, hm: hm})
	}
	tw.AddMethod(mw)
	return mw
}

// overridesSlot reports whether a method of tw with modifiers mods takes
// over the host virtual slot of baseMw.
func overridesSlot(tw *TypeWrapper, mods classfile.Modifiers, baseMw *MethodWrapper) bool {
	if baseMw == nil || mods.IsPrivate() || mods.IsStatic() || baseMw.IsRemappedVirtual() {
		return false
	}
	bm := baseMw.method
	if bm == nil || !bm.IsVirtual() || bm.IsFinal() || !javaOverrides(tw.loader, tw.PackageName(), baseMw) {
		return false
	}
	return true
}
