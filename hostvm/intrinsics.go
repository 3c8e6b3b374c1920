package hostvm

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/pkg/errors"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

type intrinsic func(vm *VM, args []Value) (Value, error)

var (
	intrinsicsOnce sync.Once
	intrinsics     map[*host.Method]intrinsic
)

func intrinsicFor(m *host.Method) intrinsic {
	intrinsicsOnce.Do(buildIntrinsics)
	return intrinsics[m]
}

func buildIntrinsics() {
	c := host.Core()
	intrinsics = make(map[*host.Method]intrinsic)
	def := func(t *host.Type, name string, fn intrinsic, params ...*host.Type) {
		m := t.GetMethod(name, params...)
		if m == nil {
			panic(fmt.Sprintf("hostvm: core method %s::%s missing", t, name))
		}
		intrinsics[m] = fn
	}
	nop := func(*VM, []Value) (Value, error) { return nil, nil }

	def(c.Object, ".ctor", nop)
	def(c.Object, "ToString", func(vm *VM, a []Value) (Value, error) {
		return runtimeType(deref(a[0])).FullName(), nil
	})
	def(c.Object, "Equals", func(vm *VM, a []Value) (Value, error) {
		return boolValue(equal(deref(a[0]), a[1])), nil
	}, c.Object)
	def(c.Object, "GetHashCode", func(vm *VM, a []Value) (Value, error) {
		return vm.hash(deref(a[0])), nil
	})

	str := func(v Value) string {
		s, _ := v.(string)
		return s
	}
	def(c.String, "get_Length", func(vm *VM, a []Value) (Value, error) {
		return int32(len(utf16.Encode([]rune(str(a[0]))))), nil
	})
	def(c.String, "get_Chars", func(vm *VM, a []Value) (Value, error) {
		units := utf16.Encode([]rune(str(a[0])))
		i, _ := a[1].(int32)
		if i < 0 || int(i) >= len(units) {
			return nil, vm.throwNamed("System.IndexOutOfRangeException", "Index was outside the bounds of the array.")
		}
		return int32(units[i]), nil
	}, c.Int32)
	def(c.String, "Concat", func(vm *VM, a []Value) (Value, error) {
		return str(a[0]) + str(a[1]), nil
	}, c.String, c.String)
	def(c.String, "CompareTo", func(vm *VM, a []Value) (Value, error) {
		if a[1] == nil {
			return int32(1), nil
		}
		other, ok := a[1].(string)
		if !ok {
			return nil, vm.exception(c.InvalidCast, "Object must be of type String.")
		}
		return int32(strings.Compare(str(a[0]), other)), nil
	}, c.Object)
	def(c.String, "ToString", func(vm *VM, a []Value) (Value, error) { return a[0], nil })
	def(c.String, "Equals", func(vm *VM, a []Value) (Value, error) {
		other, ok := a[1].(string)
		return boolValue(ok && other == str(a[0])), nil
	}, c.Object)
	def(c.String, "GetHashCode", func(vm *VM, a []Value) (Value, error) {
		h := fnv.New32a()
		h.Write([]byte(str(a[0])))
		return int32(h.Sum32()), nil
	})
	def(c.String, "Clone", func(vm *VM, a []Value) (Value, error) { return a[0], nil })

	def(c.Exception, ".ctor", nop)
	setMessage := func(vm *VM, a []Value) (Value, error) {
		obj, ok := a[0].(*Object)
		if !ok {
			return nil, errors.Errorf("exception constructor on %s", describe(a[0]))
		}
		obj.Message = str(a[1])
		return nil, nil
	}
	def(c.Exception, ".ctor", setMessage, c.String)
	def(c.Exception, "get_Message", func(vm *VM, a []Value) (Value, error) {
		return a[0].(*Object).Message, nil
	})
	def(c.Exception, "ToString", func(vm *VM, a []Value) (Value, error) {
		obj := a[0].(*Object)
		if obj.Message == "" {
			return obj.Type.FullName(), nil
		}
		return obj.Type.FullName() + ": " + obj.Message, nil
	})
	for _, t := range []*host.Type{c.NullReference, c.InvalidCast} {
		def(t, ".ctor", nop)
		def(t, ".ctor", setMessage, c.String)
	}

	def(c.Array, "get_Length", func(vm *VM, a []Value) (Value, error) {
		return int32(len(a[0].(*Array).Elems)), nil
	})
	def(c.Array, "Clone", func(vm *VM, a []Value) (Value, error) {
		src := a[0].(*Array)
		dst := &Array{Type: src.Type, Elems: make([]Value, len(src.Elems))}
		for i, v := range src.Elems {
			dst.Elems[i] = copyValue(v)
		}
		return dst, nil
	})

	valueString := func(vm *VM, a []Value) (Value, error) {
		v := deref(a[0])
		if b, ok := v.(*Boxed); ok {
			v = b.Value
		}
		return fmt.Sprint(v), nil
	}
	def(c.Enum, "ToString", valueString)
	def(c.ValueType, "ToString", valueString)

	def(c.MulticastDelegate, ".ctor", func(vm *VM, a []Value) (Value, error) {
		d := a[0].(*Object)
		fp, ok := a[2].(FuncPtr)
		if !ok {
			return nil, errors.Errorf("delegate constructor with %s", describe(a[2]))
		}
		d.target, d.fn = a[1], fp
		return nil, nil
	}, c.Object, c.IntPtr)

	def(c.RuntimeHelpers, "RunClassConstructor", func(vm *VM, a []Value) (Value, error) {
		h, ok := a[0].(TypeHandle)
		if !ok {
			return nil, errors.Errorf("RunClassConstructor with %s", describe(a[0]))
		}
		return nil, vm.initType(h.Type)
	}, c.RuntimeTypeHandle)

	def(c.JNI, "GetFuncPtr", func(vm *VM, a []Value) (Value, error) {
		key := str(a[2]) + "." + str(a[0]) + str(a[1])
		if _, ok := vm.natives[key]; !ok {
			return nil, vm.throwNamed("java.lang.UnsatisfiedLinkError", key)
		}
		return FuncPtr{Native: key}, nil
	}, c.String, c.String, c.String)
}

// deref follows a managed pointer to a value type receiver.
func deref(v Value) Value {
	if r, ok := v.(*Ref); ok {
		return r.get()
	}
	return v
}
