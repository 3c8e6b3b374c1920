package hostvm

import (
	"github.com/pkg/errors"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// DefaultStepLimit bounds the instructions executed by one top-level call.
const DefaultStepLimit = 1 << 22

const maxDepth = 512

// VM executes methods of host modules.
type VM struct {
	StepLimit int

	modules []*host.Module
	statics map[*host.Field]Value
	inited  map[*host.Type]bool
	natives map[string]NativeFunc
	hashes  map[any]int32

	steps int
	depth int
}

// New returns an interpreter over the given modules. The modules are only
// consulted when a runtime helper looks a type up by name.
func New(modules ...*host.Module) *VM {
	return &VM{
		StepLimit: DefaultStepLimit,
		modules:   modules,
		statics:   make(map[*host.Field]Value),
		inited:    make(map[*host.Type]bool),
		natives:   make(map[string]NativeFunc),
		hashes:    make(map[any]int32),
	}
}

// AddModule makes another module visible to name lookups.
func (vm *VM) AddModule(m *host.Module) {
	vm.modules = append(vm.modules, m)
}

// Register installs a native entry point. The key is
// "class.name(signature)" as passed to IKVM.Runtime.JNI::GetFuncPtr.
func (vm *VM) Register(key string, fn NativeFunc) {
	vm.natives[key] = fn
}

// FindType looks a type up in the loaded modules and the core library.
func (vm *VM) FindType(name string) *host.Type {
	for _, m := range vm.modules {
		if t := m.FindType(name); t != nil {
			return t
		}
	}
	return host.Core().Module.FindType(name)
}

// Invoke calls m non-virtually. For instance methods args[0] is the
// receiver.
func (vm *VM) Invoke(m *host.Method, args ...Value) (Value, error) {
	vm.steps = 0
	return vm.call(m, args)
}

// InvokeVirtual calls m through virtual or interface dispatch on args[0].
func (vm *VM) InvokeVirtual(m *host.Method, args ...Value) (Value, error) {
	vm.steps = 0
	if len(args) == 0 || args[0] == nil {
		return nil, vm.nullReference("callvirt " + m.String())
	}
	impl, err := vm.resolve(args[0], m)
	if err != nil {
		return nil, err
	}
	return vm.call(impl, args)
}

// NewObject constructs an instance of t with the constructor whose arity
// matches args.
func (vm *VM) NewObject(t *host.Type, args ...Value) (Value, error) {
	vm.steps = 0
	for _, ctor := range t.GetConstructors() {
		if len(ctor.Params) == len(args) && !ctor.IsStatic() {
			return vm.construct(ctor, args)
		}
	}
	return nil, errors.Errorf("%s has no constructor with %d parameters", t, len(args))
}

// LoadStatic reads a static field, running the type initializer first.
func (vm *VM) LoadStatic(f *host.Field) (Value, error) {
	if err := vm.initType(f.DeclaringType); err != nil {
		return nil, err
	}
	return vm.loadStatic(f), nil
}

// RunClassConstructor runs the type initializer of t if it has not run.
func (vm *VM) RunClassConstructor(t *host.Type) error {
	return vm.initType(t)
}

func (vm *VM) loadStatic(f *host.Field) Value {
	if f.IsLiteral() {
		return constantValue(f)
	}
	if v, ok := vm.statics[f]; ok {
		return copyValue(v)
	}
	return zero(f.Type)
}

func constantValue(f *host.Field) Value {
	switch c := f.Constant.(type) {
	case int32, int64, float32, float64, string:
		return c
	}
	return zero(f.Type)
}

func (vm *VM) initType(t *host.Type) error {
	if t == nil || t.IsArray() || vm.inited[t] {
		return nil
	}
	vm.inited[t] = true
	cctor := t.TypeInitializer()
	if cctor == nil || !cctor.HasBody() {
		return nil
	}
	_, err := vm.exec(cctor, nil)
	return err
}

func (vm *VM) call(m *host.Method, args []Value) (Value, error) {
	if m.IsAbstract() {
		return nil, errors.Errorf("call to abstract method %s", m)
	}
	if m.IsStatic() || m.Name == ".ctor" {
		if err := vm.initType(m.DeclaringType); err != nil {
			return nil, err
		}
	}
	if m.HasBody() {
		return vm.exec(m, args)
	}
	if m.DeclaringType != nil && m.DeclaringType.IsDelegate() && m.Name == "Invoke" {
		return vm.invokeDelegate(args)
	}
	if fn := intrinsicFor(m); fn != nil {
		return fn(vm, args)
	}
	return nil, errors.Errorf("method %s has no body", m)
}

func (vm *VM) invokeDelegate(args []Value) (Value, error) {
	d, ok := args[0].(*Object)
	if !ok || d == nil {
		return nil, vm.nullReference("delegate invoke")
	}
	target := d.fn.Method
	if target == nil {
		return nil, errors.Errorf("delegate %s is not bound", d.Type)
	}
	rest := args[1:]
	if !target.IsStatic() {
		rest = append([]Value{d.target}, rest...)
	}
	return vm.call(target, rest)
}

func (vm *VM) construct(ctor *host.Method, args []Value) (Value, error) {
	t := ctor.DeclaringType
	if err := vm.initType(t); err != nil {
		return nil, err
	}
	if t.IsValueType() {
		s := zero(t)
		self := &Ref{get: func() Value { return s }, set: func(v Value) { s = v }}
		if _, err := vm.call(ctor, append([]Value{self}, args...)); err != nil {
			return nil, err
		}
		return s, nil
	}
	obj := &Object{Type: t, Fields: make(map[*host.Field]Value)}
	for c := t; c != nil; c = c.Base {
		for _, f := range c.Fields {
			if !f.IsStatic() {
				obj.Fields[f] = zero(f.Type)
			}
		}
	}
	if _, err := vm.call(ctor, append([]Value{obj}, args...)); err != nil {
		return nil, err
	}
	return obj, nil
}

// resolve finds the implementation a virtual call through m reaches on v.
func (vm *VM) resolve(v Value, m *host.Method) (*host.Method, error) {
	if !m.IsVirtual() {
		return m, nil
	}
	if r, ok := v.(*Ref); ok {
		v = r.get()
	}
	rt := runtimeType(v)
	if rt == nil {
		return nil, errors.Errorf("callvirt %s on %s", m, describe(v))
	}
	impl := rt.ResolveVirtual(m)
	if impl == nil {
		return nil, vm.throwNamed("System.MissingMethodException", "no implementation of "+m.String()+" on "+rt.FullName())
	}
	return impl, nil
}

func (vm *VM) isInstance(v Value, t *host.Type) bool {
	if v == nil {
		return false
	}
	rt := runtimeType(v)
	return rt != nil && t.IsAssignableFrom(rt)
}

// exception builds a Thrown for type t, recording msg as its message.
func (vm *VM) exception(t *host.Type, msg string) *Thrown {
	obj := &Object{Type: t, Fields: make(map[*host.Field]Value), Message: msg}
	return &Thrown{Type: t, Message: msg, Object: obj}
}

func (vm *VM) nullReference(where string) error {
	return vm.exception(host.Core().NullReference, "Object reference not set to an instance of an object ("+where+")")
}

// throwNamed raises the named exception type if it is loaded and falls
// back to System.Exception with the name as a message prefix.
func (vm *VM) throwNamed(name, msg string) error {
	if t := vm.FindType(name); t != nil {
		if ctor := t.GetConstructor(host.Core().String); ctor != nil {
			v, err := vm.construct(ctor, []Value{msg})
			if err != nil {
				return err
			}
			obj := v.(*Object)
			return &Thrown{Type: t, Message: obj.Message, Object: obj}
		}
		return vm.exception(t, msg)
	}
	return vm.exception(host.Core().Exception, name+": "+msg)
}

func (vm *VM) hash(v any) int32 {
	h, ok := vm.hashes[v]
	if !ok {
		h = int32(len(vm.hashes) + 1)
		vm.hashes[v] = h
	}
	return h
}
