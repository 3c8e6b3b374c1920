package compiler

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

//go:embed remap.toml
var defaultRemap []byte

var remapSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// RemapTable maps core Java classes onto existing host types and supplies
// bodies for native methods.
type RemapTable struct {
	Class  []RemapClass
	Native []RemapNative
}

// RemapClass maps one Java class. Interfaces that are not themselves
// remapped become ghost interfaces implemented by this class.
type RemapClass struct {
	Name        string
	Type        string // Host full name
	Modifiers   []string
	Interfaces  []string
	Constructor []RemapConstructor
	Method      []RemapMethod
	Field       []RemapField
}

type RemapConstructor struct {
	Sig       string
	Modifiers []string
	Redirect  RemapRedirect // Static factory
	Newobj    []string      // IL
}

// RemapMethod maps one Java method. Without Redirect or code, the method is
// the host method named Host (or the Java name) with the mapped parameter
// types. Override binds Java overrides to a host virtual method of another
// name; Virtual dispatches through the class's $VirtualMethods interface.
type RemapMethod struct {
	Name      string
	Sig       string
	Modifiers []string
	Host      string
	Override  string
	Virtual   bool
	Redirect  RemapRedirect
	Call      []string // IL
	Callvirt  []string // IL
}

// RemapRedirect names a host method by the Java signature of its
// parameters.
type RemapRedirect struct {
	Class  string
	Name   string
	Sig    string
	Static bool
}

type RemapField struct {
	Name      string
	Sig       string
	Modifiers []string
	Constant  string
	Getter    string // Static host method, Type::Name()
}

// RemapNative is the IL body of one native method.
type RemapNative struct {
	Class string
	Name  string
	Sig   string
	Code  []string
}

// DefaultRemapTable returns the built-in table.
func DefaultRemapTable() (*RemapTable, error) {
	return LoadRemapTable(bytes.NewReader(defaultRemap))
}

// LoadRemapTable decodes a remap table from TOML.
func LoadRemapTable(r io.Reader) (*RemapTable, error) {
	var t RemapTable
	if err := remapSettings.NewDecoder(bufio.NewReader(r)).Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadRemapFile reads a remap table file.
func LoadRemapFile(path string) (*RemapTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := LoadRemapTable(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return t, nil
}

// remappedData is the per-class state of a remapped wrapper.
type remappedData struct {
	class *RemapClass

	overrideStub *host.Type // Instantiated by Java code
	virtuals     *host.Type // $VirtualMethods
	virtualSlots map[string]*host.Method
	defaults     map[string]*host.Method
}

// loadRemappings builds the remapped wrappers in two passes: every wrapper
// is registered before any member signature is resolved.
func (rt *Runtime) loadRemappings(table *RemapTable) error {
	rt.remap = table
	rt.nativeMethods = make(map[string]Emitter, len(table.Native))
	for _, n := range table.Native {
		key := n.Class + "." + n.Name + n.Sig
		rt.nativeMethods[key] = &ilCode{rt: rt, what: "native " + key, lines: n.Code}
	}
	isRemapped := make(map[string]bool, len(table.Class))
	for _, c := range table.Class {
		isRemapped[c.Name] = true
	}
	var order []*TypeWrapper
	for i := range table.Class {
		c := &table.Class[i]
		t := rt.resolveHostType(c.Type)
		if t == nil {
			return errors.Errorf("%s: unknown host type %s", c.Name, c.Type)
		}
		mods, err := classfile.ParseModifiers(c.Modifiers)
		if err != nil {
			return errors.Wrap(err, c.Name)
		}
		tw := newTypeWrapper(KindRemapped, c.Name, mods, rt.bootstrap, nil)
		tw.proj = &projectedData{host: t, remap: &remappedData{class: c}}
		if rt.register(t, tw) != tw {
			return errors.Errorf("%s: host type %s is remapped twice", c.Name, c.Type)
		}
		rt.remapped[c.Name] = tw
		rt.bootstrap.publish(c.Name, tw)
		order = append(order, tw)
		for _, iface := range c.Interfaces {
			if !isRemapped[iface] {
				rt.ghosts[iface] = append(rt.ghosts[iface], c.Name)
			}
		}
	}
	if rt.remapped["java.lang.Object"] == nil {
		return errors.New("java.lang.Object is not remapped")
	}
	for _, tw := range order {
		if t := tw.proj.host; !tw.IsInterface() && t.Base != nil {
			tw.base = rt.WrapperFromHostType(t.Base)
		}
	}
	for _, tw := range order {
		if err := rt.remapMembers(tw); err != nil {
			return errors.Wrap(err, tw.name)
		}
		if err := rt.defineOverrideStub(tw); err != nil {
			return errors.Wrap(err, tw.name)
		}
		if err := rt.defineVirtualMethods(tw); err != nil {
			return errors.Wrap(err, tw.name)
		}
	}
	rt.log.Debug("remap table loaded", zap.Int("classes", len(order)), zap.Int("natives", len(table.Native)))
	return nil
}

func (tw *TypeWrapper) remappedInterfaces() []*TypeWrapper {
	p := tw.proj
	p.ifaceOnce.Do(func() {
		for _, n := range p.remap.class.Interfaces {
			iface, err := tw.loader.LoadClass(n)
			if err != nil {
				tw.loader.log.Warn("remapped interface", zap.String("class", tw.name), zap.String("interface", n), zap.Error(err))
				continue
			}
			p.interfaces = append(p.interfaces, iface)
		}
	})
	return p.interfaces
}

func (rt *Runtime) remapMembers(tw *TypeWrapper) error {
	c := tw.proj.remap.class
	t := tw.proj.host
	l := rt.bootstrap
	for _, ct := range c.Constructor {
		mods, err := classfile.ParseModifiers(ct.Modifiers)
		if err != nil {
			return err
		}
		if _, err := ParseSignature(ct.Sig); err != nil {
			return err
		}
		md := NewMethodDescriptor(l, "<init>", ct.Sig)
		var mw *MethodWrapper
		switch {
		case ct.Redirect.Name != "":
			m, err := rt.redirectTarget(ct.Redirect)
			if err != nil {
				return errors.Wrapf(err, "constructor %s", ct.Sig)
			}
			mw = newMethodWrapper(tw, md, m, nil, mods, false)
		case len(ct.Newobj) > 0:
			mw = newMethodWrapper(tw, md, nil, nil, mods, false)
			mw.setEmitters(nil, nil, &ilCode{rt: rt, what: tw.name + "." + md.String(), lines: ct.Newobj})
		default:
			ctor := t.GetConstructor(hostParamTypes(md.ArgTypes())...)
			if ctor == nil {
				return errors.Errorf("no host constructor for %s", ct.Sig)
			}
			mw = newMethodWrapper(tw, md, ctor, nil, mods, false)
		}
		tw.AddMethod(mw)
	}
	for i := range c.Method {
		mw, err := rt.remapMethod(tw, &c.Method[i])
		if err != nil {
			return errors.Wrapf(err, "method %s%s", c.Method[i].Name, c.Method[i].Sig)
		}
		tw.AddMethod(mw)
	}
	for _, ft := range c.Field {
		fw, err := rt.remapField(tw, ft)
		if err != nil {
			return errors.Wrapf(err, "field %s", ft.Name)
		}
		tw.AddField(fw)
	}
	return nil
}

func (rt *Runtime) remapMethod(tw *TypeWrapper, mt *RemapMethod) (*MethodWrapper, error) {
	mods, err := classfile.ParseModifiers(mt.Modifiers)
	if err != nil {
		return nil, err
	}
	if _, err := ParseSignature(mt.Sig); err != nil {
		return nil, err
	}
	t := tw.proj.host
	md := NewMethodDescriptor(rt.bootstrap, mt.Name, mt.Sig)
	what := tw.name + "." + md.String()
	switch {
	case mt.Redirect.Name != "":
		m, err := rt.redirectTarget(mt.Redirect)
		if err != nil {
			return nil, err
		}
		op := host.ICALL
		if m.IsVirtual() {
			op = host.ICALLVIRT
		}
		call := MethodOp(op, m)
		target := NewMethodDescriptor(rt.bootstrap, mt.Redirect.Name, mt.Redirect.Sig)
		if ret := md.RetType(); ret != target.RetType() && !ret.IsGhost() && ret.kind != KindPrimitive {
			call = Then(call, TypeOp(host.ICASTCLASS, ret.TypeAsLocalOrStackType()))
		}
		mw := newMethodWrapper(tw, md, m, nil, mods, false)
		mw.setEmitters(call, call, nil)
		return mw, nil
	case len(mt.Call) > 0 || len(mt.Callvirt) > 0:
		call, callvirt := mt.Call, mt.Callvirt
		if len(call) == 0 {
			call = callvirt
		}
		if len(callvirt) == 0 {
			callvirt = call
		}
		mw := newMethodWrapper(tw, md, nil, nil, mods, false)
		mw.setEmitters(&ilCode{rt: rt, what: what, lines: call}, &ilCode{rt: rt, what: what, lines: callvirt}, nil)
		return mw, nil
	}
	params := hostParamTypes(md.ArgTypes())
	if mt.Override != "" {
		m := t.FindMethod(mt.Override, params...)
		if m == nil || !m.IsVirtual() {
			return nil, errors.Errorf("no host virtual method %s", mt.Override)
		}
		mw := newMethodWrapper(tw, md, m, nil, mods, false)
		mw.remappedOverride = true
		return mw, nil
	}
	name := mt.Host
	if name == "" {
		name = mt.Name
	}
	m := t.FindMethod(name, params...)
	if m == nil {
		return nil, errors.Errorf("no host method %s", name)
	}
	mw := newMethodWrapper(tw, md, m, nil, mods, false)
	mw.remappedVirtual = mt.Virtual
	return mw, nil
}

// redirectTarget resolves the host method a redirect names.
func (rt *Runtime) redirectTarget(r RemapRedirect) (*host.Method, error) {
	t := rt.resolveHostType(r.Class)
	if t == nil {
		return nil, errors.Errorf("unknown host type %s", r.Class)
	}
	if _, err := ParseSignature(r.Sig); err != nil {
		return nil, err
	}
	md := NewMethodDescriptor(rt.bootstrap, r.Name, r.Sig)
	m := t.FindMethod(r.Name, hostParamTypes(md.ArgTypes())...)
	if m == nil {
		return nil, errors.Errorf("no host method %s::%s%s", r.Class, r.Name, r.Sig)
	}
	if m.IsStatic() != r.Static {
		return nil, errors.Errorf("%s: static is %v", m, m.IsStatic())
	}
	return m, nil
}

func (rt *Runtime) remapField(tw *TypeWrapper, ft RemapField) (*FieldWrapper, error) {
	mods, err := classfile.ParseModifiers(ft.Modifiers)
	if err != nil {
		return nil, err
	}
	if !ValidFieldSignature(ft.Sig) {
		return nil, errors.Errorf("bad signature %s", ft.Sig)
	}
	var discard Emitter = Seq{Pop, Pop}
	if mods.IsStatic() {
		discard = Pop
	}
	switch {
	case ft.Constant != "":
		v, err := classfile.ParseConstant(ft.Sig, ft.Constant)
		if err != nil {
			return nil, err
		}
		fw := newFieldWrapper(tw, ft.Name, ft.Sig, mods, nil)
		fw.constant = v
		fw.setEmitters(LoadConstant(v), discard)
		return fw, nil
	case ft.Getter != "":
		a := &ilAssembler{rt: rt}
		m, err := a.method(ft.Getter)
		if err != nil {
			return nil, err
		}
		fw := newFieldWrapper(tw, ft.Name, ft.Sig, mods, nil)
		fw.setEmitters(MethodOp(host.ICALL, m), discard)
		return fw, nil
	}
	f := tw.proj.host.FindField(ft.Name)
	if f == nil {
		return nil, errors.Errorf("no host field %s", ft.Name)
	}
	return newFieldWrapper(tw, ft.Name, ft.Sig, mods, f), nil
}

// defineOverrideStub defines the hidden subclass that Java code instantiates
// in place of a non-final remapped class.
func (rt *Runtime) defineOverrideStub(tw *TypeWrapper) error {
	t := tw.proj.host
	if tw.IsFinal() || tw.IsInterface() || t.IsSealed() || t.IsAbstract() {
		return nil
	}
	var ctors []*MethodWrapper
	for _, mw := range tw.Methods() {
		if mw.md.name == "<init>" && !mw.custom && mw.method != nil && mw.method.IsConstructor() {
			ctors = append(ctors, mw)
		}
	}
	if len(ctors) == 0 {
		return nil
	}
	stub := rt.runtimeModule.DefineType(tw.name+"$OverrideStub", host.TypePublic, t)
	stub.SetCustomAttribute(hideFromReflection())
	for _, mw := range ctors {
		base := mw.method
		c := stub.DefineConstructor(host.MethodPublic|host.MethodHideBySig, base.Params...)
		il := c.GetILGenerator()
		emitLdargs(il, 0, len(base.Params)+1)
		il.EmitMethod(host.ICALL, base)
		il.Emit(host.IRET)
		mw.setEmitters(MethodOp(host.ICALL, base), nil, MethodOp(host.INEWOBJ, c))
	}
	if err := stub.CreateType(); err != nil {
		return err
	}
	tw.proj.remap.overrideStub = stub
	return nil
}

// defineVirtualMethods builds the $VirtualMethods interface and its static
// dispatch helper. A virtual call tests the receiver for the interface,
// which Java subclasses implement, and falls back to the host method.
func (rt *Runtime) defineVirtualMethods(tw *TypeWrapper) error {
	var virtuals []*MethodWrapper
	for _, mw := range tw.Methods() {
		if mw.remappedVirtual {
			virtuals = append(virtuals, mw)
		}
	}
	if len(virtuals) == 0 {
		return nil
	}
	t := tw.proj.host
	iface := rt.runtimeModule.DefineType(tw.name+"$VirtualMethods", host.TypePublic|host.TypeInterface|host.TypeAbstract, nil)
	iface.SetCustomAttribute(hideFromReflection())
	helper := rt.runtimeModule.DefineType(tw.name+"$VirtualMethodsHelper", host.TypePublic|host.TypeAbstract|host.TypeSealed, nil)
	helper.SetCustomAttribute(hideFromReflection())
	data := tw.proj.remap
	data.virtuals = iface
	data.virtualSlots = make(map[string]*host.Method)
	data.defaults = make(map[string]*host.Method)
	for _, mw := range virtuals {
		params := hostParamTypes(mw.ParameterTypes())
		ret := hostReturnType(mw.ReturnType())
		slot := iface.DefineMethod(mw.md.name, host.MethodPublic|host.MethodVirtual|host.MethodAbstract|host.MethodNewSlot|host.MethodHideBySig, ret, params...)
		dispatch := helper.DefineMethod(mw.md.name, host.MethodPublic|host.MethodStatic|host.MethodHideBySig, ret,
			append([]*host.Type{t}, params...)...)
		def := mw.method
		il := dispatch.GetILGenerator()
		notJava := il.DefineLabel()
		emitLdarg(il, 0)
		il.EmitType(host.IISINST, iface)
		il.EmitLabel(host.IBRFALSE, notJava)
		emitLdarg(il, 0)
		il.EmitType(host.ICASTCLASS, iface)
		emitLdargs(il, 1, len(params)+1)
		il.EmitMethod(host.ICALLVIRT, slot)
		il.Emit(host.IRET)
		il.MarkLabel(notJava)
		emitLdargs(il, 0, len(params)+1)
		if def.IsVirtual() {
			il.EmitMethod(host.ICALLVIRT, def)
		} else {
			il.EmitMethod(host.ICALL, def)
		}
		il.Emit(host.IRET)

		data.virtualSlots[mw.md.Key()] = slot
		data.defaults[mw.md.Key()] = def
		mw.setEmitters(MethodOp(host.ICALL, def), MethodOp(host.ICALL, dispatch), nil)
	}
	if err := iface.CreateType(); err != nil {
		return err
	}
	return helper.CreateType()
}

// implementRemappedStubs adds to a compiled subclass of a remapped class the
// members that join the two dispatch worlds: Java-named override stubs and
// the $VirtualMethods implementation.
func (tw *TypeWrapper) implementRemappedStubs() {
	var r *TypeWrapper
	for b := tw.base; b != nil; b = b.base {
		if b.kind == KindRemapped {
			r = b
			break
		}
	}
	if r == nil {
		return
	}
	tb := tw.dyn.tb
	direct := tw.base == r
	if direct {
		for _, mw := range r.Methods() {
			if !mw.remappedOverride || mw.RealName() == mw.md.name || tw.dyn.class.Method(mw.md.name, mw.md.sig) != nil {
				continue
			}
			m := mw.method
			stub := tb.DefineMethod(mw.md.name, host.MethodPublic|host.MethodVirtual|host.MethodHideBySig, m.Return, m.Params...)
			stub.SetCustomAttribute(hideFromReflection())
			il := stub.GetILGenerator()
			emitLdargs(il, 0, len(m.Params)+1)
			il.EmitMethod(host.ICALLVIRT, m)
			il.Emit(host.IRET)
		}
	}
	data := r.proj.remap
	if data.virtuals == nil {
		return
	}
	if direct {
		tb.AddInterfaceImplementation(data.virtuals)
	}
	for key, slot := range data.virtualSlots {
		var impl *MethodWrapper
		for _, mw := range r.Methods() {
			if mw.md.Key() == key {
				impl = tw.Method(mw.md, true)
				break
			}
		}
		switch {
		case impl != nil && impl.declaring == tw && impl.method != nil && impl.method.IsVirtual():
			tb.DefineMethodOverride(impl.method, slot)
		case direct:
			def := data.defaults[key]
			stub := tb.DefineMethod(r.name+"$VirtualMethods."+slot.Name,
				host.MethodPrivate|host.MethodVirtual|host.MethodFinal|host.MethodNewSlot|host.MethodHideBySig, slot.Return, slot.Params...)
			stub.SetCustomAttribute(hideFromReflection())
			il := stub.GetILGenerator()
			emitLdargs(il, 0, len(slot.Params)+1)
			il.EmitMethod(host.ICALL, def)
			il.Emit(host.IRET)
			tb.DefineMethodOverride(stub, slot)
		}
	}
}
