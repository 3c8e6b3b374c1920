// Package hostvm interprets host modules. It runs synthesized stubs and
// compiled types so their behavior can be observed without a real host
// runtime.
package hostvm

import (
	"fmt"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// Value is a value on the evaluation stack: nil, int32, int64, float32,
// float64, string, *Object, *Struct, *Boxed, *Array, *Ref, TypeHandle or
// FuncPtr. Booleans and chars are int32.
type Value = any

// Object is an instance of a reference type.
type Object struct {
	Type    *host.Type
	Fields  map[*host.Field]Value
	Message string // System.Exception message

	// Delegate target and method
	target Value
	fn     FuncPtr
}

func (o *Object) String() string { return "<" + o.Type.FullName() + ">" }

// Struct is an unboxed value type instance. It is copied on load.
type Struct struct {
	Type   *host.Type
	Fields map[*host.Field]Value
}

func (s *Struct) copy() *Struct {
	c := &Struct{Type: s.Type, Fields: make(map[*host.Field]Value, len(s.Fields))}
	for f, v := range s.Fields {
		c.Fields[f] = copyValue(v)
	}
	return c
}

// Boxed is a value type instance on the heap.
type Boxed struct {
	Type  *host.Type
	Value Value
}

// Array is a single-dimension array.
type Array struct {
	Type  *host.Type
	Elems []Value
}

// Ref is a managed pointer to a local, argument, field or array element.
type Ref struct {
	get func() Value
	set func(Value)
}

// Load returns the value the pointer refers to.
func (r *Ref) Load() Value { return r.get() }

// TypeHandle is the result of ldtoken.
type TypeHandle struct {
	Type *host.Type
}

// FuncPtr is a method pointer from ldftn/ldvirtftn or a registered native.
type FuncPtr struct {
	Method *host.Method
	Native string
}

// NativeFunc implements a native entry point reached through calli.
type NativeFunc func(args []Value) (Value, error)

// Thrown is a host exception that escaped the invoked method.
type Thrown struct {
	Type    *host.Type
	Message string
	Object  *Object
}

func (t *Thrown) Error() string {
	if t.Message == "" {
		return t.Type.FullName()
	}
	return t.Type.FullName() + ": " + t.Message
}

func copyValue(v Value) Value {
	if s, ok := v.(*Struct); ok {
		return s.copy()
	}
	return v
}

// zero returns the default value of a location of type t.
func zero(t *host.Type) Value {
	if t == nil {
		return nil
	}
	c := host.Core()
	switch t {
	case c.Int64:
		return int64(0)
	case c.Single:
		return float32(0)
	case c.Double:
		return float64(0)
	case c.Boolean, c.SByte, c.Byte, c.Char, c.Int16, c.Int32:
		return int32(0)
	case c.IntPtr:
		return FuncPtr{}
	}
	if t.IsEnum() {
		return int32(0)
	}
	if t.IsValueType() {
		s := &Struct{Type: t, Fields: make(map[*host.Field]Value)}
		for _, f := range t.Fields {
			if !f.IsStatic() {
				s.Fields[f] = zero(f.Type)
			}
		}
		return s
	}
	return nil
}

// runtimeType returns the exact type of a reference or boxed value.
func runtimeType(v Value) *host.Type {
	c := host.Core()
	switch x := v.(type) {
	case *Object:
		return x.Type
	case *Boxed:
		return x.Type
	case *Array:
		return x.Type
	case *Struct:
		return x.Type
	case string:
		return c.String
	case int32:
		return c.Int32
	case int64:
		return c.Int64
	case float32:
		return c.Single
	case float64:
		return c.Double
	case TypeHandle:
		return c.RuntimeTypeHandle
	case FuncPtr:
		return c.IntPtr
	}
	return nil
}

func describe(v Value) string {
	if v == nil {
		return "null"
	}
	if t := runtimeType(v); t != nil {
		return fmt.Sprintf("%v (%s)", v, t.FullName())
	}
	return fmt.Sprintf("%v (%T)", v, v)
}
