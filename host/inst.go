package host

import (
	"fmt"
	"strconv"
)

// Inst is one IL instruction. Only the field named by Op.Operand() is
// meaningful.
type Inst struct {
	Op     Op
	Int    int64   // Argument/local index, integer constant, or branch target
	Float  float64 // ldc.r4, ldc.r8
	Str    string  // ldstr
	Method *Method // call, callvirt, newobj, ldftn, ldvirtftn; calli signature
	Field  *Field  // ldfld, stfld, ldsfld, stsfld
	Type   *Type   // isinst, castclass, box, unbox, ldobj, initobj, ldtoken, ldelema, newarr
}

func (i Inst) String() string {
	switch i.Op.Operand() {
	case OperandInt, OperandBig:
		return fmt.Sprintf("%s %d", i.Op, i.Int)
	case OperandFloat:
		return fmt.Sprintf("%s %s", i.Op, strconv.FormatFloat(i.Float, 'g', -1, 64))
	case OperandString:
		return fmt.Sprintf("%s %q", i.Op, i.Str)
	case OperandMethod:
		return fmt.Sprintf("%s %s", i.Op, i.Method)
	case OperandSig:
		return fmt.Sprintf("%s %s", i.Op, i.Method.Sig())
	case OperandField:
		return fmt.Sprintf("%s %s", i.Op, i.Field)
	case OperandType:
		return fmt.Sprintf("%s %s", i.Op, typeName(i.Type))
	case OperandLabel:
		return fmt.Sprintf("%s IL_%04d", i.Op, i.Int)
	}
	return i.Op.String()
}

// Label marks a branch target inside one method body.
type Label int

// Local is the index of a declared local variable.
type Local int

// ILGenerator accumulates the body of one method.
type ILGenerator struct {
	insts  []Inst
	locals []*Type
	labels []int // Label -> instruction index, -1 until marked
}

func NewILGenerator() *ILGenerator {
	return &ILGenerator{}
}

// Len returns the number of instructions emitted so far.
func (g *ILGenerator) Len() int { return len(g.insts) }

// Insts returns the emitted instructions with unresolved label ids in
// branch operands.
func (g *ILGenerator) Insts() []Inst { return g.insts }

func (g *ILGenerator) add(i Inst) {
	if i.Op >= MaxOp {
		panic(fmt.Sprintf("host: bad opcode %d", i.Op))
	}
	g.insts = append(g.insts, i)
}

func (g *ILGenerator) Emit(op Op) {
	g.add(Inst{Op: op})
}

func (g *ILGenerator) EmitInt(op Op, v int64) {
	g.add(Inst{Op: op, Int: v})
}

func (g *ILGenerator) EmitFloat(op Op, v float64) {
	g.add(Inst{Op: op, Float: v})
}

func (g *ILGenerator) EmitString(op Op, s string) {
	g.add(Inst{Op: op, Str: s})
}

func (g *ILGenerator) EmitMethod(op Op, m *Method) {
	g.add(Inst{Op: op, Method: m})
}

func (g *ILGenerator) EmitField(op Op, f *Field) {
	g.add(Inst{Op: op, Field: f})
}

func (g *ILGenerator) EmitType(op Op, t *Type) {
	g.add(Inst{Op: op, Type: t})
}

func (g *ILGenerator) EmitLabel(op Op, l Label) {
	g.add(Inst{Op: op, Int: int64(l)})
}

func (g *ILGenerator) EmitLocal(op Op, l Local) {
	g.add(Inst{Op: op, Int: int64(l)})
}

// EmitCalli emits an indirect call through a function pointer with the
// given signature.
func (g *ILGenerator) EmitCalli(static bool, ret *Type, params ...*Type) {
	sig := &Method{Name: "calli", Params: params, Return: ret}
	if static {
		sig.Attrs |= MethodStatic
	}
	g.add(Inst{Op: ICALLI, Method: sig})
}

// DeclareLocal adds a local variable of type t.
func (g *ILGenerator) DeclareLocal(t *Type) Local {
	g.locals = append(g.locals, t)
	return Local(len(g.locals) - 1)
}

// NumLocals returns the number of declared locals.
func (g *ILGenerator) NumLocals() int { return len(g.locals) }

func (g *ILGenerator) DefineLabel() Label {
	g.labels = append(g.labels, -1)
	return Label(len(g.labels) - 1)
}

// MarkLabel binds l to the next emitted instruction.
func (g *ILGenerator) MarkLabel(l Label) {
	g.labels[l] = len(g.insts)
}

// resolve rewrites branch operands from label ids to instruction indexes.
// A label marked at the very end of the body targets one past the last
// instruction, which is rejected.
func (g *ILGenerator) resolve() ([]Inst, error) {
	out := make([]Inst, len(g.insts))
	copy(out, g.insts)
	for pc := range out {
		if !out[pc].Op.IsBranch() {
			continue
		}
		l := out[pc].Int
		if l < 0 || int(l) >= len(g.labels) {
			return nil, fmt.Errorf("IL_%04d: undefined label %d", pc, l)
		}
		target := g.labels[l]
		if target < 0 || target >= len(out) {
			return nil, fmt.Errorf("IL_%04d: label %d not marked", pc, l)
		}
		out[pc].Int = int64(target)
	}
	return out, nil
}
