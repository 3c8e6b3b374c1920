package compiler

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// The IL text syntax is the one host instructions print in:
//
//	ldarg 0
//	ldstr "text"
//	call System.String::Concat(System.String,System.String)
//	ldfld demo.Point::x
//	isinst System.String
//	calli static System.Int32(System.Int32)
//	brtrue done
//	done:
//	ret
//
// Types are host full names, "X[]" for arrays and "void" for no return.

var (
	opcodesOnce sync.Once
	opcodes     map[string]host.Op
)

func opcodeByName(name string) (host.Op, bool) {
	opcodesOnce.Do(func() {
		opcodes = make(map[string]host.Op, host.MaxOp)
		for op := host.Op(0); op < host.MaxOp; op++ {
			opcodes[op.String()] = op
		}
	})
	op, ok := opcodes[name]
	return op, ok
}

// resolveHostType finds a host type by full name in the modules of the
// runtime and the core library.
func (rt *Runtime) resolveHostType(name string) *host.Type {
	if strings.HasSuffix(name, "[]") {
		if elem := rt.resolveHostType(strings.TrimSuffix(name, "[]")); elem != nil {
			return elem.MakeArrayType()
		}
		return nil
	}
	for _, m := range rt.Modules() {
		if t := m.FindType(name); t != nil {
			return t
		}
	}
	return host.Core().Module.FindType(name)
}

// ilAssembler appends text instructions to one method body.
type ilAssembler struct {
	rt     *Runtime
	il     *host.ILGenerator
	labels map[string]host.Label
}

func (rt *Runtime) assembleIL(il *host.ILGenerator, lines []string) error {
	a := &ilAssembler{rt: rt, il: il, labels: make(map[string]host.Label)}
	for i, line := range lines {
		if err := a.line(strings.TrimSpace(line)); err != nil {
			return errors.Wrapf(err, "line %d %q", i+1, line)
		}
	}
	return nil
}

func (a *ilAssembler) label(name string) host.Label {
	l, ok := a.labels[name]
	if !ok {
		l = a.il.DefineLabel()
		a.labels[name] = l
	}
	return l
}

func (a *ilAssembler) line(s string) error {
	if s == "" || strings.HasPrefix(s, "//") {
		return nil
	}
	if strings.HasSuffix(s, ":") {
		a.il.MarkLabel(a.label(strings.TrimSuffix(s, ":")))
		return nil
	}
	name, arg, _ := strings.Cut(s, " ")
	arg = strings.TrimSpace(arg)
	op, ok := opcodeByName(name)
	if !ok {
		return errors.Errorf("unknown opcode %s", name)
	}
	switch op.Operand() {
	case host.OperandNone:
		if arg != "" {
			return errors.Errorf("%s takes no operand", name)
		}
		a.il.Emit(op)
	case host.OperandInt, host.OperandBig:
		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return err
		}
		if op == host.ILDLOC || op == host.ILDLOCA || op == host.ISTLOC {
			for int(v) >= a.il.NumLocals() {
				a.il.DeclareLocal(host.Core().Object)
			}
		}
		a.il.EmitInt(op, v)
	case host.OperandFloat:
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return err
		}
		a.il.EmitFloat(op, v)
	case host.OperandString:
		v, err := strconv.Unquote(arg)
		if err != nil {
			return err
		}
		a.il.EmitString(op, v)
	case host.OperandMethod:
		m, err := a.method(arg)
		if err != nil {
			return err
		}
		a.il.EmitMethod(op, m)
	case host.OperandField:
		f, err := a.field(arg)
		if err != nil {
			return err
		}
		a.il.EmitField(op, f)
	case host.OperandType:
		t := a.rt.resolveHostType(arg)
		if t == nil {
			return errors.Errorf("unknown type %s", arg)
		}
		a.il.EmitType(op, t)
	case host.OperandLabel:
		if arg == "" {
			return errors.Errorf("%s needs a label", name)
		}
		a.il.EmitLabel(op, a.label(arg))
	case host.OperandSig:
		return a.calli(arg)
	default:
		return errors.Errorf("opcode %s cannot be assembled", name)
	}
	return nil
}

func (a *ilAssembler) types(list string) ([]*host.Type, error) {
	var out []*host.Type
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n == "" {
			continue
		}
		t := a.rt.resolveHostType(n)
		if t == nil {
			return nil, errors.Errorf("unknown type %s", n)
		}
		out = append(out, t)
	}
	return out, nil
}

// method resolves Type::Name(P1,P2).
func (a *ilAssembler) method(s string) (*host.Method, error) {
	owner, rest, ok := strings.Cut(s, "::")
	open := strings.IndexByte(rest, '(')
	if !ok || open < 0 || !strings.HasSuffix(rest, ")") {
		return nil, errors.Errorf("malformed method %s", s)
	}
	t := a.rt.resolveHostType(owner)
	if t == nil {
		return nil, errors.Errorf("unknown type %s", owner)
	}
	params, err := a.types(rest[open+1 : len(rest)-1])
	if err != nil {
		return nil, err
	}
	m := t.FindMethod(rest[:open], params...)
	if m == nil {
		return nil, errors.Errorf("no method %s", s)
	}
	return m, nil
}

// field resolves Type::name.
func (a *ilAssembler) field(s string) (*host.Field, error) {
	owner, name, ok := strings.Cut(s, "::")
	if !ok {
		return nil, errors.Errorf("malformed field %s", s)
	}
	t := a.rt.resolveHostType(owner)
	if t == nil {
		return nil, errors.Errorf("unknown type %s", owner)
	}
	f := t.FindField(name)
	if f == nil {
		return nil, errors.Errorf("no field %s", s)
	}
	return f, nil
}

// calli parses [static] Ret(P1,P2).
func (a *ilAssembler) calli(s string) error {
	static := false
	if rest, ok := strings.CutPrefix(s, "static "); ok {
		static, s = true, strings.TrimSpace(rest)
	}
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return errors.Errorf("malformed call site %s", s)
	}
	var ret *host.Type
	if r := s[:open]; r != "void" && r != "System.Void" {
		if ret = a.rt.resolveHostType(r); ret == nil {
			return errors.Errorf("unknown type %s", r)
		}
	}
	params, err := a.types(s[open+1 : len(s)-1])
	if err != nil {
		return err
	}
	a.il.EmitCalli(static, ret, params...)
	return nil
}

// ilCode is an emitter over IL text, assembled at each use. Code that does
// not assemble is a finishing error of the method being compiled.
type ilCode struct {
	rt    *Runtime
	what  string
	lines []string
}

func (c *ilCode) Emit(il *host.ILGenerator) {
	if err := c.rt.assembleIL(il, c.lines); err != nil {
		panic(errors.Wrap(err, c.what))
	}
}
