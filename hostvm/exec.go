package hostvm

import (
	"github.com/pkg/errors"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

type frame struct {
	m      *host.Method
	args   []Value
	locals []Value
	stack  []Value
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	if len(f.stack) == 0 {
		panic(errStackUnderflow)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popN(n int) []Value {
	if len(f.stack) < n {
		panic(errStackUnderflow)
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

var errStackUnderflow = errors.New("stack underflow")

// argCount is the number of stack values a call to m consumes.
func argCount(m *host.Method) int {
	n := len(m.Params)
	if !m.IsStatic() {
		n++
	}
	return n
}

func (vm *VM) exec(m *host.Method, args []Value) (result Value, err error) {
	if vm.depth >= maxDepth {
		return nil, errors.Errorf("%s: call depth exceeded", m)
	}
	vm.depth++
	defer func() { vm.depth-- }()

	f := &frame{m: m, args: make([]Value, len(args))}
	for i, a := range args {
		f.args[i] = copyValue(a)
	}
	for _, t := range m.Locals {
		f.locals = append(f.locals, zero(t))
	}

	pc := 0
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok || !errors.Is(e, errStackUnderflow) {
				panic(r)
			}
			err = errors.Wrapf(e, "%s IL_%04d", m, pc)
		}
	}()

	code := m.Body
	for pc < len(code) {
		vm.steps++
		if vm.StepLimit > 0 && vm.steps > vm.StepLimit {
			return nil, errors.Errorf("%s: step limit exceeded", m)
		}
		inst := code[pc]
		next, ret, done, err := vm.step(f, pc, inst)
		if err != nil {
			if _, thrown := err.(*Thrown); thrown {
				return nil, err
			}
			return nil, errors.Wrapf(err, "%s IL_%04d %s", m, pc, inst.Op)
		}
		if done {
			return ret, nil
		}
		pc = next
	}
	return nil, errors.Errorf("%s: fell off the end of the body", m)
}

// step executes one instruction and returns the next pc, or the return
// value with done set.
func (vm *VM) step(f *frame, pc int, inst host.Inst) (next int, ret Value, done bool, err error) {
	next = pc + 1
	switch inst.Op {
	case host.INOP, host.IVOLATILE:

	case host.ILDARG:
		f.push(copyValue(f.args[inst.Int]))
	case host.ILDARGA:
		i := inst.Int
		f.push(&Ref{get: func() Value { return f.args[i] }, set: func(v Value) { f.args[i] = v }})
	case host.ILDLOC:
		f.push(copyValue(f.locals[inst.Int]))
	case host.ILDLOCA:
		i := inst.Int
		f.push(&Ref{get: func() Value { return f.locals[i] }, set: func(v Value) { f.locals[i] = v }})
	case host.ISTLOC:
		f.locals[inst.Int] = copyValue(f.pop())

	case host.ILDNULL:
		f.push(nil)
	case host.ILDCI4:
		f.push(int32(inst.Int))
	case host.ILDCI8:
		f.push(inst.Int)
	case host.ILDCR4:
		f.push(float32(inst.Float))
	case host.ILDCR8:
		f.push(inst.Float)
	case host.ILDSTR:
		f.push(inst.Str)

	case host.ILDFLD:
		obj := f.pop()
		if inst.Field.IsStatic() {
			v, err := vm.LoadStatic(inst.Field)
			if err != nil {
				return 0, nil, false, err
			}
			f.push(v)
			break
		}
		fields, err := vm.fieldsOf(obj, inst.Field)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(copyValue(fields[inst.Field]))
	case host.ISTFLD:
		v := f.pop()
		obj := f.pop()
		fields, err := vm.fieldsOf(obj, inst.Field)
		if err != nil {
			return 0, nil, false, err
		}
		fields[inst.Field] = copyValue(v)
	case host.ILDSFLD:
		v, err := vm.LoadStatic(inst.Field)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case host.ISTSFLD:
		v := f.pop()
		if err := vm.initType(inst.Field.DeclaringType); err != nil {
			return 0, nil, false, err
		}
		if inst.Field.IsLiteral() {
			return 0, nil, false, errors.Errorf("store to literal field %s", inst.Field)
		}
		vm.statics[inst.Field] = copyValue(v)

	case host.ICALL:
		args := f.popN(argCount(inst.Method))
		v, err := vm.call(inst.Method, args)
		if err != nil {
			return 0, nil, false, err
		}
		if inst.Method.Return != nil {
			f.push(v)
		}
	case host.ICALLVIRT:
		m := inst.Method
		args := f.popN(argCount(m))
		if m.IsStatic() {
			return 0, nil, false, errors.Errorf("callvirt on static %s", m)
		}
		if args[0] == nil {
			return 0, nil, false, vm.nullReference("callvirt " + m.String())
		}
		impl, err := vm.resolve(args[0], m)
		if err != nil {
			return 0, nil, false, err
		}
		v, err := vm.call(impl, args)
		if err != nil {
			return 0, nil, false, err
		}
		if m.Return != nil {
			f.push(v)
		}
	case host.ICALLI:
		sig := inst.Method
		ptr := f.pop()
		args := f.popN(argCount(sig))
		v, err := vm.calli(ptr, args)
		if err != nil {
			return 0, nil, false, err
		}
		if sig.Return != nil {
			f.push(v)
		}
	case host.INEWOBJ:
		args := f.popN(len(inst.Method.Params))
		v, err := vm.construct(inst.Method, args)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case host.IRET:
		if f.m.Return != nil {
			return 0, f.pop(), true, nil
		}
		return 0, nil, true, nil

	case host.IPOP:
		f.pop()
	case host.IDUP:
		v := f.pop()
		f.push(v)
		f.push(copyValue(v))
	case host.ITHROW:
		obj, ok := f.pop().(*Object)
		if !ok || obj == nil {
			return 0, nil, false, vm.nullReference("throw")
		}
		return 0, nil, false, &Thrown{Type: obj.Type, Message: obj.Message, Object: obj}

	case host.IISINST:
		v := f.pop()
		if vm.isInstance(v, inst.Type) {
			f.push(v)
		} else {
			f.push(nil)
		}
	case host.ICASTCLASS:
		v := f.pop()
		if v != nil && !vm.isInstance(v, inst.Type) {
			return 0, nil, false, vm.exception(host.Core().InvalidCast,
				"Unable to cast object of type '"+runtimeType(v).FullName()+"' to type '"+inst.Type.FullName()+"'.")
		}
		f.push(v)
	case host.IBOX:
		v := f.pop()
		if inst.Type.IsValueType() {
			f.push(&Boxed{Type: inst.Type, Value: copyValue(v)})
		} else {
			f.push(v)
		}
	case host.IUNBOX:
		v := f.pop()
		if v == nil {
			return 0, nil, false, vm.nullReference("unbox")
		}
		b, ok := v.(*Boxed)
		if !ok || b.Type != inst.Type {
			return 0, nil, false, vm.exception(host.Core().InvalidCast,
				"Unable to unbox "+describe(v)+" as "+inst.Type.FullName())
		}
		f.push(&Ref{get: func() Value { return b.Value }, set: func(x Value) { b.Value = x }})
	case host.ILDOBJ:
		r, ok := f.pop().(*Ref)
		if !ok {
			return 0, nil, false, errors.New("ldobj without an address")
		}
		f.push(copyValue(r.get()))
	case host.IINITOBJ:
		r, ok := f.pop().(*Ref)
		if !ok {
			return 0, nil, false, errors.New("initobj without an address")
		}
		r.set(zero(inst.Type))

	case host.IBR:
		next = int(inst.Int)
	case host.IBRTRUE:
		if truthy(f.pop()) {
			next = int(inst.Int)
		}
	case host.IBRFALSE:
		if !truthy(f.pop()) {
			next = int(inst.Int)
		}
	case host.ICEQ:
		b, a := f.pop(), f.pop()
		f.push(boolValue(equal(a, b)))

	case host.ILDVIRTFTN:
		obj := f.pop()
		if obj == nil {
			return 0, nil, false, vm.nullReference("ldvirtftn " + inst.Method.String())
		}
		impl, err := vm.resolve(obj, inst.Method)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(FuncPtr{Method: impl})
	case host.ILDFTN:
		f.push(FuncPtr{Method: inst.Method})
	case host.ILDTOKEN:
		f.push(TypeHandle{Type: inst.Type})

	case host.INEWARR:
		n, ok := f.pop().(int32)
		if !ok || n < 0 {
			return 0, nil, false, vm.throwNamed("System.OverflowException", "bad array length")
		}
		arr := &Array{Type: inst.Type.MakeArrayType(), Elems: make([]Value, n)}
		for i := range arr.Elems {
			arr.Elems[i] = zero(inst.Type)
		}
		f.push(arr)
	case host.ILDLEN:
		arr, ok := f.pop().(*Array)
		if !ok || arr == nil {
			return 0, nil, false, vm.nullReference("ldlen")
		}
		f.push(int32(len(arr.Elems)))
	case host.ILDELEMA:
		idx, _ := f.pop().(int32)
		arr, ok := f.pop().(*Array)
		if !ok || arr == nil {
			return 0, nil, false, vm.nullReference("ldelema")
		}
		if idx < 0 || int(idx) >= len(arr.Elems) {
			return 0, nil, false, vm.throwNamed("System.IndexOutOfRangeException", "Index was outside the bounds of the array.")
		}
		f.push(&Ref{get: func() Value { return arr.Elems[idx] }, set: func(v Value) { arr.Elems[idx] = v }})

	case host.IADD, host.ISUB, host.IMUL, host.ICLT, host.ICGT:
		b, a := f.pop(), f.pop()
		v, err := arith(inst.Op, a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	default:
		return 0, nil, false, errors.Errorf("unsupported opcode %s", inst.Op)
	}
	return next, nil, false, nil
}

func (vm *VM) calli(ptr Value, args []Value) (Value, error) {
	fp, ok := ptr.(FuncPtr)
	if !ok {
		return nil, errors.Errorf("calli through %s", describe(ptr))
	}
	switch {
	case fp.Native != "":
		fn, ok := vm.natives[fp.Native]
		if !ok {
			return nil, errors.Errorf("native %s is not registered", fp.Native)
		}
		return fn(args)
	case fp.Method != nil:
		return vm.call(fp.Method, args)
	}
	return nil, vm.nullReference("calli")
}

// fieldsOf returns the field storage of the instance addressed by v.
func (vm *VM) fieldsOf(v Value, f *host.Field) (map[*host.Field]Value, error) {
	switch x := v.(type) {
	case *Object:
		if x != nil {
			return x.Fields, nil
		}
	case *Struct:
		return x.Fields, nil
	case *Ref:
		return vm.fieldsOf(x.get(), f)
	case *Boxed:
		return vm.fieldsOf(x.Value, f)
	}
	if v == nil {
		return nil, vm.nullReference("field " + f.String())
	}
	return nil, errors.Errorf("field %s on %s", f, describe(v))
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float32:
		return x != 0
	case float64:
		return x != 0
	case *Object:
		return x != nil
	case FuncPtr:
		return x.Method != nil || x.Native != ""
	}
	return true
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func equal(a, b Value) bool {
	if ao, ok := a.(*Object); ok {
		bo, ok := b.(*Object)
		return ok && ao == bo
	}
	return a == b
}

func arith(op host.Op, a, b Value) (Value, error) {
	switch x := a.(type) {
	case int32:
		y, ok := b.(int32)
		if !ok {
			break
		}
		switch op {
		case host.IADD:
			return x + y, nil
		case host.ISUB:
			return x - y, nil
		case host.IMUL:
			return x * y, nil
		case host.ICLT:
			return boolValue(x < y), nil
		case host.ICGT:
			return boolValue(x > y), nil
		}
	case int64:
		y, ok := b.(int64)
		if !ok {
			break
		}
		switch op {
		case host.IADD:
			return x + y, nil
		case host.ISUB:
			return x - y, nil
		case host.IMUL:
			return x * y, nil
		case host.ICLT:
			return boolValue(x < y), nil
		case host.ICGT:
			return boolValue(x > y), nil
		}
	case float64:
		y, ok := b.(float64)
		if !ok {
			break
		}
		switch op {
		case host.IADD:
			return x + y, nil
		case host.ISUB:
			return x - y, nil
		case host.IMUL:
			return x * y, nil
		case host.ICLT:
			return boolValue(x < y), nil
		case host.ICGT:
			return boolValue(x > y), nil
		}
	}
	return nil, errors.Errorf("%s on %s and %s", op, describe(a), describe(b))
}
