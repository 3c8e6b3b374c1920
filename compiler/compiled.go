package compiler

import (
	"strings"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// compiledWrapper projects a host type of a Java module back into Java.
// Names, modifiers and interfaces come from the attributes the class
// compiler wrote.
func (rt *Runtime) compiledWrapper(t *host.Type) *TypeWrapper {
	name := t.FullName()
	if a, ok := t.CustomAttribute(AttrInnerClass); ok && len(a.Args) > 0 {
		name = a.Args[0]
	}
	mods, ok := declaredModifiers(t)
	if !ok {
		mods = typeModifiers(t) &^ classfile.Static
	}
	var base *TypeWrapper
	if !t.IsInterface() && t.Base != nil && !t.HasAttribute(AttrGhostInterface) {
		base = rt.WrapperFromHostType(t.Base)
	}
	tw := newTypeWrapper(KindCompiled, name, mods, rt.bootstrap, base)
	tw.proj = &projectedData{host: t}
	if t.HasAttribute(AttrGhostInterface) {
		tw.proj.ghostIface = t.GetNestedType("__Interface")
	}
	return rt.register(t, tw)
}

func (tw *TypeWrapper) compiledInterfaces() []*TypeWrapper {
	p := tw.proj
	p.ifaceOnce.Do(func() {
		rt := tw.loader.rt
		if names := listArgs(p.host, AttrImplements); names != nil {
			for _, n := range names {
				p.interfaces = append(p.interfaces, rt.bootstrap.LoadClassOrUnloadable(n))
			}
			return
		}
		ifaces := p.host.Interfaces
		if p.ghostIface != nil {
			ifaces = p.ghostIface.Interfaces
		}
		for _, i := range ifaces {
			if isHidden(i) {
				continue
			}
			p.interfaces = append(p.interfaces, rt.WrapperFromHostType(i))
		}
	})
	return p.interfaces
}

func (tw *TypeWrapper) compiledReflectiveModifiers() classfile.Modifiers {
	if a, ok := tw.proj.host.CustomAttribute(AttrInnerClass); ok {
		if mods, ok := parseModifiersArg(a, 3); ok {
			return mods
		}
	}
	return tw.modifiers
}

// compiledHasIncompleteImplementation reports private failing stubs bound
// to interface methods.
func (tw *TypeWrapper) compiledHasIncompleteImplementation() bool {
	for _, ov := range tw.proj.host.Overrides {
		if ov.Body.IsPrivate() && ov.Decl.DeclaringType.IsInterface() {
			return true
		}
	}
	return false
}

// compiledField finds a Java field: a get_ property pair for non-private
// finals, a plain host field, or a field whose name was mangled because
// its type was unloadable.
func (tw *TypeWrapper) compiledField(name string) *FieldWrapper {
	t := tw.proj.host
	rt := tw.loader.rt
	if p := t.GetProperty(name); p != nil && p.Getter != nil && !isHidden(p.Getter) {
		g := p.Getter
		mods := methodModifiers(g)
		backing := t.GetField(name)
		sig := rt.javaTypeSig(g.Return, g.ParamAttributes[0])
		fw := newFieldWrapper(tw, name, sig, mods, backing)
		get := Emitter(MethodOp(host.ICALL, g))
		if ft := fw.FieldType(); ft.IsGhost() {
			get = Then(get, EmitterFunc(ft.emitGhostUnwrap))
		} else if ft.IsNonPrimitiveValueType() {
			get = Then(get, TypeOp(host.IBOX, ft.TypeAsParameterType()))
		}
		var set Emitter = Pop
		if !fw.IsStatic() {
			set = Seq{Pop, Pop}
		}
		if p.Setter != nil {
			set = MethodOp(host.ICALL, p.Setter)
		}
		fw.setEmitters(get, set)
		return fw
	}
	for _, f := range t.Fields {
		if isHidden(f) {
			continue
		}
		fname := f.Name
		if i := strings.IndexByte(fname, '/'); i >= 0 {
			fname = fname[:i]
		}
		if fname != name {
			continue
		}
		var attrs []host.Attribute
		if a, ok := f.CustomAttribute(AttrUnloadableType); ok {
			attrs = []host.Attribute{a}
		}
		fw := newFieldWrapper(tw, name, rt.javaTypeSig(f.Type, attrs), fieldModifiers(f), f)
		if f.IsLiteral() {
			fw.constant = f.Constant
		}
		return fw
	}
	return nil
}

// compiledMethod finds the host method whose Java name and signature match
// md.
func (tw *TypeWrapper) compiledMethod(md *MethodDescriptor) *MethodWrapper {
	rt := tw.loader.rt
	t := tw.proj.host
	if tw.proj.ghostIface != nil && md.name != "<clinit>" {
		t = tw.proj.ghostIface
	}
	for _, m := range t.Methods {
		if isHidden(m) || javaMethodName(m) != md.name || m.IsSpecialName() && !m.IsConstructor() {
			continue
		}
		if rt.javaSigOf(m) != md.sig {
			continue
		}
		mw := newMethodWrapper(tw, md, m, nil, methodModifiers(m), false)
		mw.setExceptions(listArgs(m, AttrThrows))
		return mw
	}
	return nil
}

// publishCompiledMembers records every visible member of the host type.
// The pass runs once; concurrent callers wait for it.
func (tw *TypeWrapper) publishCompiledMembers() {
	p := tw.proj
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	if p.published {
		return
	}
	p.published = true

	rt := tw.loader.rt
	t := p.host
	seen := make(map[string]bool)
	for _, prop := range t.Properties {
		if fw := tw.compiledField(prop.Name); fw != nil {
			seen[fw.name] = true
			tw.AddField(fw)
		}
	}
	for _, f := range t.Fields {
		if isHidden(f) {
			continue
		}
		name := f.Name
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[:i]
		}
		if seen[name] {
			continue
		}
		if fw := tw.compiledField(name); fw != nil {
			seen[name] = true
			tw.AddField(fw)
		}
	}
	methods := t.Methods
	if p.ghostIface != nil {
		methods = append(append([]*host.Method(nil), p.ghostIface.Methods...), t.Methods...)
	}
	for _, m := range methods {
		if isHidden(m) || m.IsSpecialName() && !m.IsConstructor() {
			continue
		}
		if p.ghostIface != nil && m.DeclaringType == t && m.Name != ".cctor" {
			continue
		}
		md := NewMethodDescriptor(tw.loader, javaMethodName(m), rt.javaSigOf(m))
		tw.declaredMethod(md)
	}
}
