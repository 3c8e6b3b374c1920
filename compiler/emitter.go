package compiler

import (
	"fmt"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// Emitter appends a fixed instruction sequence to a method body. Member
// wrappers carry emitters for call, virtual call, construction and field
// access, so that redirected or stubbed members need no change at call
// sites.
type Emitter interface {
	Emit(il *host.ILGenerator)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(il *host.ILGenerator)

func (f EmitterFunc) Emit(il *host.ILGenerator) { f(il) }

// Seq emits its elements in order. Nil elements are skipped.
type Seq []Emitter

func (s Seq) Emit(il *host.ILGenerator) {
	for _, e := range s {
		if e != nil {
			e.Emit(il)
		}
	}
}

// Then returns e followed by more. A nil e yields just more.
func Then(e Emitter, more ...Emitter) Emitter {
	if e == nil {
		if len(more) == 1 {
			return more[0]
		}
		return Seq(more)
	}
	return append(Seq{e}, more...)
}

// Nop emits nothing.
var Nop Emitter = Seq(nil)

// Pop discards the top of the stack.
var Pop Emitter = Op(host.IPOP)

type opEmitter host.Op

func (o opEmitter) Emit(il *host.ILGenerator) { il.Emit(host.Op(o)) }

// Op emits a single operand-less instruction.
func Op(op host.Op) Emitter { return opEmitter(op) }

type methodEmitter struct {
	op host.Op
	m  *host.Method
}

func (e methodEmitter) Emit(il *host.ILGenerator) { il.EmitMethod(e.op, e.m) }

// MethodOp emits a call-like instruction.
func MethodOp(op host.Op, m *host.Method) Emitter { return methodEmitter{op, m} }

type fieldEmitter struct {
	op       host.Op
	f        *host.Field
	volatile bool
}

func (e fieldEmitter) Emit(il *host.ILGenerator) {
	if e.volatile {
		il.Emit(host.IVOLATILE)
	}
	il.EmitField(e.op, e.f)
}

// FieldOp emits a field access instruction.
func FieldOp(op host.Op, f *host.Field) Emitter { return fieldEmitter{op: op, f: f} }

// VolatileFieldOp emits a field access with the volatile prefix.
func VolatileFieldOp(op host.Op, f *host.Field) Emitter {
	return fieldEmitter{op: op, f: f, volatile: true}
}

type typeEmitter struct {
	op host.Op
	t  *host.Type
}

func (e typeEmitter) Emit(il *host.ILGenerator) { il.EmitType(e.op, e.t) }

// TypeOp emits a type-operand instruction.
func TypeOp(op host.Op, t *host.Type) Emitter { return typeEmitter{op, t} }

type constEmitter struct{ v any }

func (e constEmitter) Emit(il *host.ILGenerator) { emitConstant(il, e.v) }

// LoadConstant pushes an int32, int64, float32, float64, string or nil.
func LoadConstant(v any) Emitter { return constEmitter{v} }

func emitConstant(il *host.ILGenerator, v any) {
	switch c := v.(type) {
	case nil:
		il.Emit(host.ILDNULL)
	case int32:
		il.EmitInt(host.ILDCI4, int64(c))
	case int64:
		il.EmitInt(host.ILDCI8, c)
	case float32:
		il.EmitFloat(host.ILDCR4, float64(c))
	case float64:
		il.EmitFloat(host.ILDCR8, c)
	case string:
		il.EmitString(host.ILDSTR, c)
	default:
		panic(fmt.Sprintf("compiler: constant of type %T", v))
	}
}

// emitLoadConstantField pushes the value of a literal field.
func emitLoadConstantField(f *host.Field) Emitter { return LoadConstant(f.Constant) }

// internalError marks an emitter slot that no code generator may use,
// such as an access path to a private member of a compiled type.
type internalError struct{ what string }

func (e internalError) Emit(*host.ILGenerator) {
	panic("compiler: no code path for " + e.what)
}

// emitLdarg pushes argument i.
func emitLdarg(il *host.ILGenerator, i int) { il.EmitInt(host.ILDARG, int64(i)) }

// emitLdargs pushes arguments from..to-1.
func emitLdargs(il *host.ILGenerator, from, to int) {
	for i := from; i < to; i++ {
		emitLdarg(il, i)
	}
}
