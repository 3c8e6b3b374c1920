package compiler

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// clinitMarker is the hidden static field that tells subclasses in other
// modules that the class has a static initializer to chain to.
const clinitMarker = "__<clinit>"

// finishContext tracks one Finish call: the classes on its path and the
// loader finish locks it holds. Locks are taken child loader first and
// released in reverse order.
type finishContext struct {
	finishing map[*TypeWrapper]bool
	held      map[*ClassLoader]bool
	order     []*ClassLoader
}

func newFinishContext() *finishContext {
	return &finishContext{finishing: make(map[*TypeWrapper]bool), held: make(map[*ClassLoader]bool)}
}

func (fc *finishContext) lock(l *ClassLoader) {
	if fc.held[l] {
		return
	}
	l.finishMu.Lock()
	fc.held[l] = true
	fc.order = append(fc.order, l)
}

func (fc *finishContext) release() {
	for i := len(fc.order) - 1; i >= 0; i-- {
		fc.order[i].finishMu.Unlock()
	}
	fc.order = nil
	fc.held = make(map[*ClassLoader]bool)
}

func (d *dynamicData) result() (error, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case stateFinished:
		return nil, true
	case stateFailed:
		return d.err, true
	}
	return nil, false
}

func (tw *TypeWrapper) finishDynamic(fc *finishContext) error {
	d := tw.dyn
	if err, done := d.result(); done {
		return err
	}
	if err := tw.loader.Failed(); err != nil {
		return err
	}
	if fc.finishing[tw] {
		return nil
	}
	fc.lock(tw.loader)
	if err, done := d.result(); done {
		return err
	}
	fc.finishing[tw] = true
	d.mu.Lock()
	d.state = stateFinishing
	d.mu.Unlock()

	err := tw.finishSafely(fc)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		cf := criticalFailure(tw.name, err)
		d.state, d.err = stateFailed, cf
		tw.loader.fail(cf)
		tw.logger().Error("finish failed", zap.Error(err))
		return cf
	}
	d.state = stateFinished
	tw.logger().Debug("finished")
	return nil
}

func (tw *TypeWrapper) finishSafely(fc *finishContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.WithStack(e)
				return
			}
			err = errors.Errorf("%v", r)
		}
	}()
	return tw.doFinish(fc)
}

func (tw *TypeWrapper) doFinish(fc *finishContext) error {
	d := tw.dyn
	c := d.class
	if tw.base != nil {
		if err := tw.base.finish(fc); err != nil {
			return err
		}
	}
	for _, i := range d.interfaces {
		if err := i.finish(fc); err != nil {
			return err
		}
	}
	for _, name := range c.ReferencedTypes() {
		tw.loader.LoadClassOrUnloadable(name)
	}
	var inner []*TypeWrapper
	for _, ic := range c.InnerClasses {
		if ic.Outer == c.Name && ic.Inner != c.Name {
			inner = append(inner, tw.loader.LoadClassOrUnloadable(ic.Inner))
		}
	}
	d.mu.Lock()
	d.innerClasses = inner
	d.mu.Unlock()

	tw.generateAllMembers()
	if d.ghost {
		tw.finishGhost()
	}
	tw.implementInheritedAbstract()
	if err := tw.emitBodies(); err != nil {
		return err
	}
	tw.defineGhostConversions()
	if !c.IsInterface() {
		visited := make(map[*TypeWrapper]bool)
		for _, i := range d.interfaces {
			tw.implementInterface(i, visited)
		}
		for b := tw.base; b != nil; b = b.base {
			if !b.HasIncompleteInterfaceImplementation() {
				continue
			}
			for _, i := range b.Interfaces() {
				tw.implementInterface(i, visited)
			}
		}
		tw.implementRemappedStubs()
	}
	if d.ghostIface != nil {
		if err := d.ghostIface.CreateType(); err != nil {
			return err
		}
	}
	return d.tb.CreateType()
}

// implementInheritedAbstract gives a concrete class a body for every
// abstract base method it does not implement. The body throws
// AbstractMethodError.
func (tw *TypeWrapper) implementInheritedAbstract() {
	d := tw.dyn
	if tw.IsAbstract() || tw.IsInterface() {
		return
	}
	tb := d.tb
	for b := tw.base; b != nil; b = b.base {
		if !b.IsAbstract() {
			continue
		}
		for _, bm := range b.Methods() {
			decl := bm.method
			if !bm.IsAbstract() || decl == nil || !decl.IsAbstract() {
				continue
			}
			if impl := tb.ResolveVirtual(decl); impl != nil && !impl.IsAbstract() {
				continue
			}
			if impl := tw.Method(bm.md, true); impl != nil && impl.declaring == tw && impl.method != nil &&
				impl.method.IsVirtual() && !impl.IsAbstract() && javaOverrides(tw.loader, tw.PackageName(), bm) {
				tb.DefineMethodOverride(impl.method, decl)
				continue
			}
			name := decl.Name
			attrs := decl.Access() | host.MethodVirtual | host.MethodHideBySig
			crossModule := decl.DeclaringType.Module != tb.Module
			if crossModule && decl.Access() == host.MethodFamORAssem {
				attrs = host.MethodFamily | host.MethodVirtual | host.MethodHideBySig
			}
			explicit := tb.GetMethod(name, decl.Params...) != nil ||
				crossModule && (decl.Access() == host.MethodAssembly || decl.Access() == host.MethodFamANDAssem)
			if explicit {
				name = b.name + "." + decl.Name
				attrs = host.MethodPrivate | host.MethodVirtual | host.MethodFinal | host.MethodNewSlot | host.MethodHideBySig
			}
			stub := tb.DefineMethod(name, attrs, decl.Return, decl.Params...)
			stub.SetCustomAttribute(hideFromReflection())
			tw.loader.EmitThrow(stub.GetILGenerator(), "java.lang.AbstractMethodError",
				fmt.Sprintf("%s.%s%s", tw.name, bm.md.name, bm.md.sig))
			if explicit {
				tb.DefineMethodOverride(stub, decl)
			}
		}
	}
}

// emitBodies emits every generated method body, then the class
// initializer prologue.
func (tw *TypeWrapper) emitBodies() error {
	d := tw.dyn
	d.genMu.Lock()
	pending := d.pending
	d.pending = nil
	d.genMu.Unlock()
	rt := tw.loader.rt
	clinitDone := false
	for _, p := range pending {
		il := p.hm.GetILGenerator()
		mods := p.src.Modifiers
		switch {
		case mods.IsAbstract():
			tw.loader.EmitThrow(il, "java.lang.AbstractMethodError",
				fmt.Sprintf("%s.%s%s", tw.name, p.src.Name, p.src.Signature))
		case mods.IsNative():
			tw.emitNative(p)
		default:
			if p.src.IsClassInitializer() {
				tw.emitClinitPrologue(il)
				clinitDone = true
			}
			ctx := &BodyContext{Loader: tw.loader, Class: tw, Source: p.src, Method: p.mw, IL: il}
			if err := rt.body.CompileBody(ctx); err != nil {
				return errors.Wrap(err, p.mw.String())
			}
		}
	}
	if !clinitDone && tw.needsClinitPrologue() {
		cctor := d.tb.DefineTypeInitializer()
		il := cctor.GetILGenerator()
		tw.emitClinitPrologue(il)
		il.Emit(host.IRET)
		d.clinit = cctor
	}
	if d.clinit != nil && !tw.IsFinal() && !tw.IsInterface() && !d.ghost {
		f := d.tb.DefineField(clinitMarker, host.Core().Object, host.FieldPublic|host.FieldStatic)
		f.SetCustomAttribute(hideFromReflection())
	}
	return nil
}

// constantInits lists the static non-final fields whose ConstantValue is
// stored by the class initializer.
func (tw *TypeWrapper) constantInits() []*classfile.Field {
	var out []*classfile.Field
	for _, f := range tw.dyn.class.Fields {
		if f.Modifiers.IsStatic() && !f.Modifiers.IsFinal() && f.Constant != nil {
			out = append(out, f)
		}
	}
	return out
}

// chainedBase returns the base class whose static initializer must run
// first, or nil.
func (tw *TypeWrapper) chainedBase() *host.Type {
	if tw.base == nil || tw.IsInterface() {
		return nil
	}
	switch tw.base.kind {
	case KindDynamic, KindCompiled:
		t := tw.base.HostType()
		if t.GetField(clinitMarker) != nil {
			return t
		}
	}
	return nil
}

func (tw *TypeWrapper) needsClinitPrologue() bool {
	return len(tw.constantInits()) > 0 || tw.chainedBase() != nil
}

func (tw *TypeWrapper) emitClinitPrologue(il *host.ILGenerator) {
	if base := tw.chainedBase(); base != nil {
		il.EmitType(host.ILDTOKEN, base)
		il.EmitMethod(host.ICALL, host.Core().RuntimeHelpers.GetMethod("RunClassConstructor", host.Core().RuntimeTypeHandle))
	}
	for _, f := range tw.constantInits() {
		fw := tw.declaredField(f.Name)
		emitConstant(il, f.Constant)
		fw.EmitSet(il)
	}
}

// defineGhostConversions adds an implicit conversion to every ghost
// interface the class implements.
func (tw *TypeWrapper) defineGhostConversions() {
	if tw.IsInterface() {
		return
	}
	seen := make(map[*TypeWrapper]bool)
	var walk func(ifaces []*TypeWrapper)
	walk = func(ifaces []*TypeWrapper) {
		for _, g := range ifaces {
			if seen[g] {
				continue
			}
			seen[g] = true
			if g.IsGhost() {
				tw.defineImplicitConversion(g)
			}
			walk(g.Interfaces())
		}
	}
	walk(tw.dyn.interfaces)
}
