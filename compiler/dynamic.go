package compiler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

type finishState int

const (
	stateDefined finishState = iota
	stateFinishing
	stateFinished
	stateFailed
)

// pendingBody is a generated method whose body is emitted at finish time.
type pendingBody struct {
	src *classfile.Method
	mw  *MethodWrapper
	hm  *host.Method
}

// dynamicData is the payload of a class compiled from a description.
type dynamicData struct {
	class      *classfile.Class
	tb         *host.Type
	ghost      bool
	ghostIface *host.Type  // Nested __Interface of a ghost
	ghostRef   *host.Field // __ref of a ghost
	interfaces []*TypeWrapper
	outer      *TypeWrapper

	mu                  sync.Mutex
	state               finishState
	err                 error
	reflectiveModifiers classfile.Modifiers
	incomplete          bool
	innerClasses        []*TypeWrapper

	// genMu serializes member generation. It is never held while a class
	// is loaded.
	genMu      sync.Mutex
	pending    []pendingBody
	clinit     *host.Method
	ghostStubs map[string]*host.Method
	isInstance *host.Method // Ghost helpers
	cast       *host.Method
}

func (d *dynamicData) setIncomplete() {
	d.mu.Lock()
	d.incomplete = true
	d.mu.Unlock()
}

// validateClass checks the parts of a description the class compiler
// relies on.
func validateClass(c *classfile.Class) error {
	if c.IsInterface() && c.IsFinal() {
		return &ClassFormatError{c.Name + ": interface is final"}
	}
	if c.IsFinal() && c.IsAbstract() {
		return &ClassFormatError{c.Name + ": class is final and abstract"}
	}
	fields := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if !ValidFieldSignature(f.Signature) {
			return &ClassFormatError{fmt.Sprintf("%s: field %s has bad signature %s", c.Name, f.Name, f.Signature)}
		}
		key := f.Name + ":" + f.Signature
		if fields[key] {
			return &ClassFormatError{fmt.Sprintf("%s: duplicate field %s", c.Name, f.Name)}
		}
		fields[key] = true
	}
	methods := make(map[string]bool, len(c.Methods))
	for _, m := range c.Methods {
		if _, err := ParseSignature(m.Signature); err != nil {
			return &ClassFormatError{fmt.Sprintf("%s: method %s: %v", c.Name, m.Name, err)}
		}
		if methods[m.Name+m.Signature] {
			return &ClassFormatError{fmt.Sprintf("%s: duplicate method %s%s", c.Name, m.Name, m.Signature)}
		}
		methods[m.Name+m.Signature] = true
		if m.IsConstructor() && (m.Modifiers.IsStatic() || !strings.HasSuffix(m.Signature, ")V")) {
			return &ClassFormatError{fmt.Sprintf("%s: bad constructor %s", c.Name, m.Signature)}
		}
		if c.IsInterface() && !m.IsClassInitializer() && !m.Modifiers.IsAbstract() {
			return &ClassFormatError{fmt.Sprintf("%s: interface method %s is not abstract", c.Name, m.Name)}
		}
	}
	return nil
}

// loadSuper loads a super class or interface of a class being defined and
// maps failures to the error the JVM reports.
func (l *ClassLoader) loadSuper(name string, chain *loadChain) (*TypeWrapper, error) {
	tw, err := l.loadClass(name, chain)
	if err == nil {
		return tw, nil
	}
	var cnf *ClassNotFoundError
	if errors.As(err, &cnf) {
		return nil, &NoClassDefFoundError{name}
	}
	return nil, err
}

// canSee reports whether code in package pkg of loader l may name tw.
func canSee(l *ClassLoader, pkg string, tw *TypeWrapper) bool {
	return tw.IsPublic() || tw.loader == l && tw.PackageName() == pkg
}

// javaOverrides reports whether a method declared in package pkg of loader
// l overrides base method bm under JVM rules.
func javaOverrides(l *ClassLoader, pkg string, bm *MethodWrapper) bool {
	if bm.IsStatic() || bm.IsPrivate() || bm.md.name == "<init>" || bm.md.name == "<clinit>" {
		return false
	}
	if bm.IsPackagePrivate() {
		return inJavaPackage(l, pkg, bm)
	}
	return true
}

// findBaseMethod returns the base class method that a method of class
// with descriptor md overrides. Package methods of other packages with the
// same descriptor are skipped; explicit reports that one was, so the
// override has to be bound by an explicit override.
func findBaseMethod(l *ClassLoader, pkg, class string, base *TypeWrapper, md *MethodDescriptor) (found *MethodWrapper, explicit bool, err error) {
	for b := base; b != nil; {
		bm := b.Method(md, true)
		if bm == nil {
			return nil, false, nil
		}
		if bm.IsFinal() && !bm.IsPrivate() && (bm.IsPublic() || bm.IsProtected() || inJavaPackage(l, pkg, bm)) {
			return nil, false, &VerifyError{fmt.Sprintf("final method %s%s in %s is overriden in %s", bm.md.name, bm.md.sig, bm.declaring.name, class)}
		}
		switch {
		case bm.IsStatic():
		case bm.IsPublic() || bm.IsProtected():
			if explicit {
				// The skipped package method hides this one.
				return nil, false, nil
			}
			return bm, false, nil
		case !bm.IsPrivate():
			if inJavaPackage(l, pkg, bm) {
				return bm, explicit, nil
			}
			explicit = true
		}
		b = bm.declaring.BaseType()
	}
	return nil, false, nil
}

// inJavaPackage reports whether bm is declared in package pkg of loader l.
func inJavaPackage(l *ClassLoader, pkg string, bm *MethodWrapper) bool {
	return bm.declaring.loader == l && bm.declaring.PackageName() == pkg
}

func hostTypeAttributes(mods classfile.Modifiers, nested bool) host.TypeAttributes {
	var attrs host.TypeAttributes
	switch {
	case nested && mods.IsPublic():
		attrs = host.TypeNestedPublic
	case nested:
		attrs = host.TypeNestedAssembly
	case mods.IsPublic():
		attrs = host.TypePublic
	}
	if mods.IsInterface() {
		attrs |= host.TypeInterface | host.TypeAbstract
	}
	if mods.IsAbstract() {
		attrs |= host.TypeAbstract
	}
	if mods.IsFinal() {
		attrs |= host.TypeSealed
	}
	return attrs | host.TypeSerializable
}

// defineClass turns a description into a type builder and its wrapper.
// Members are generated lazily and the type is created by Finish.
func (l *ClassLoader) defineClass(c *classfile.Class, chain *loadChain) (*TypeWrapper, error) {
	if err := l.Failed(); err != nil {
		return nil, err
	}
	if err := validateClass(c); err != nil {
		return nil, err
	}
	rt := l.rt
	pkg := c.PackageName()

	var base *TypeWrapper
	if !c.IsInterface() {
		if c.SuperName == "" {
			return nil, &ClassFormatError{c.Name + ": no super class"}
		}
		b, err := l.loadSuper(c.SuperName, chain)
		if err != nil {
			return nil, err
		}
		switch {
		case b.IsInterface():
			return nil, &IncompatibleClassChangeError{fmt.Sprintf("Class %s has interface %s as superclass", c.Name, b.name)}
		case !canSee(l, pkg, b):
			return nil, &IllegalAccessError{fmt.Sprintf("Class %s cannot access its superclass %s", c.Name, b.name)}
		case b.IsFinal():
			return nil, &VerifyError{fmt.Sprintf("Cannot inherit from final class %s", b.name)}
		case b.IsArray() || b.IsPrimitive():
			return nil, &VerifyError{fmt.Sprintf("%s: bad super class %s", c.Name, b.name)}
		}
		base = b
	}
	var interfaces []*TypeWrapper
	for _, n := range c.Interfaces {
		i, err := l.loadSuper(n, chain)
		if err != nil {
			return nil, err
		}
		if !i.IsInterface() {
			return nil, &IncompatibleClassChangeError{fmt.Sprintf("Implementing class %s in %s", i.name, c.Name)}
		}
		if !canSee(l, pkg, i) {
			return nil, &IllegalAccessError{fmt.Sprintf("Class %s cannot access its superinterface %s", c.Name, i.name)}
		}
		interfaces = append(interfaces, i)
	}
	if base != nil && !c.IsInterface() {
		for _, m := range c.Methods {
			if m.Modifiers.IsStatic() || m.Modifiers.IsPrivate() || m.IsConstructor() || m.IsClassInitializer() {
				continue
			}
			if _, _, err := findBaseMethod(l, pkg, c.Name, base, NewMethodDescriptor(l, m.Name, m.Signature)); err != nil {
				return nil, err
			}
		}
	}

	own, hasOwn := c.OuterClass()
	var outer *TypeWrapper
	if hasOwn && rt.opts.CompileInnerClassesAsNestedTypes {
		if o, err := l.loadClass(own.Outer, chain); err == nil && o.kind == KindDynamic && o.loader == l && !o.dyn.tb.IsCreated() {
			outer = o
		}
	}

	mods := c.Modifiers &^ (classfile.Super | classfile.Static | classfile.Private | classfile.Protected)
	if c.IsInterface() {
		mods |= classfile.Abstract
	}
	ghost := c.IsInterface() && rt.IsGhostName(c.Name)
	d := &dynamicData{class: c, ghost: ghost, interfaces: interfaces, outer: outer, reflectiveModifiers: mods}
	if hasOwn {
		d.reflectiveModifiers = own.Modifiers
	}
	var tb *host.Type
	switch {
	case ghost:
		tb = l.module.DefineType(c.Name, host.TypePublic|host.TypeSealed, host.Core().ValueType)
		tb.SetCustomAttribute(host.NewAttribute(AttrGhostInterface))
		d.ghostRef = tb.DefineField("__ref", host.Core().Object, host.FieldPublic)
		d.ghostRef.SetCustomAttribute(hideFromReflection())
		d.ghostIface = tb.DefineNestedType("__Interface", host.TypeNestedPublic|host.TypeInterface|host.TypeAbstract, nil)
		d.ghostIface.SetCustomAttribute(hideFromReflection())
		for _, i := range interfaces {
			d.ghostIface.AddInterfaceImplementation(i.TypeAsBaseType())
		}
	case outer != nil:
		name := own.Name
		if name == "" {
			name = c.Name[strings.LastIndexByte(c.Name, '$')+1:]
		}
		tb = outer.dyn.tb.DefineNestedType(name, hostTypeAttributes(mods, true), hostBase(base))
	default:
		tb = l.module.DefineType(c.Name, hostTypeAttributes(mods, false), hostBase(base))
	}
	if !ghost {
		for _, i := range interfaces {
			tb.AddInterfaceImplementation(i.TypeAsBaseType())
		}
	}
	tb.SetCustomAttribute(modifiersAttribute(mods))
	if hasOwn {
		tb.SetCustomAttribute(innerClassAttribute(c.Name, own.Outer, own.Name, own.Modifiers))
	}
	if c.SourceFile != "" {
		tb.SetCustomAttribute(host.NewAttribute(AttrSourceFile, c.SourceFile))
	}
	if c.Deprecated {
		tb.SetCustomAttribute(host.NewAttribute(AttrDeprecated))
	}
	d.tb = tb
	d.ghostStubs = make(map[string]*host.Method)

	tw := newTypeWrapper(KindDynamic, c.Name, mods, l, base)
	tw.dyn = d
	rt.register(tb, tw)
	if d.ghostIface != nil {
		rt.register(d.ghostIface, tw)
		tw.defineGhostHelpers()
	}
	return l.publish(c.Name, tw), nil
}

func hostBase(base *TypeWrapper) *host.Type {
	if base == nil {
		return nil
	}
	return base.TypeAsBaseType()
}

// dynamicField generates the host field of a declared field on first
// lookup.
func (tw *TypeWrapper) dynamicField(name string) *FieldWrapper {
	f := tw.dyn.class.Field(name)
	if f == nil {
		return nil
	}
	tw.loader.typeFromSig(f.Signature)
	return tw.generateField(f)
}

// dynamicMethod generates the host method of a declared method on first
// lookup. Types named by the signature are loaded before generation starts.
func (tw *TypeWrapper) dynamicMethod(md *MethodDescriptor) *MethodWrapper {
	m := tw.dyn.class.Method(md.name, md.sig)
	if m == nil {
		return nil
	}
	own := NewMethodDescriptor(tw.loader, m.Name, m.Signature)
	own.ArgTypes()
	var baseMw *MethodWrapper
	var explicit bool
	if tw.base != nil && !tw.IsInterface() && !m.Modifiers.IsStatic() && !m.Modifiers.IsPrivate() && !m.IsConstructor() && !m.IsClassInitializer() {
		// Final overrides were rejected when the class was defined.
		baseMw, explicit, _ = findBaseMethod(tw.loader, tw.PackageName(), tw.name, tw.base, own)
	}
	return tw.generateMethod(m, own, baseMw, explicit)
}

// generateAllMembers generates every declared field and method.
func (tw *TypeWrapper) generateAllMembers() {
	c := tw.dyn.class
	for _, f := range c.Fields {
		tw.declaredField(f.Name)
	}
	for _, m := range c.Methods {
		tw.declaredMethod(NewMethodDescriptor(tw.loader, m.Name, m.Signature))
	}
}

func (tw *TypeWrapper) isFinished() bool {
	tw.dyn.mu.Lock()
	defer tw.dyn.mu.Unlock()
	return tw.dyn.state == stateFinished
}

func (tw *TypeWrapper) logger() *zap.Logger {
	return tw.loader.log.With(zap.String("class", tw.name))
}
