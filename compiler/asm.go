package compiler

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// BodyCompiler emits the body of one Java method. The class compiler calls
// it for every method that is neither abstract nor native, after it has
// emitted any prologue of its own.
type BodyCompiler interface {
	CompileBody(ctx *BodyContext) error
}

// BodyContext is the method being compiled.
type BodyContext struct {
	Loader *ClassLoader
	Class  *TypeWrapper
	Source *classfile.Method
	Method *MethodWrapper
	IL     *host.ILGenerator
}

// AsmCompiler compiles the Asm lines of a description. It has one JVM slot
// per value, whatever its width, and no exception handlers. Methods without
// Asm lines get a body that throws InternalError.
//
//	aload 1
//	getfield demo.Point.x:I
//	iconst 1
//	iadd
//	ireturn
type AsmCompiler struct{}

func (AsmCompiler) CompileBody(ctx *BodyContext) error {
	code := ctx.Source.Code
	if code == nil || len(code.Asm) == 0 {
		what := "no body compiler for " + ctx.Method.String()
		if code != nil && len(code.Bytecode) > 0 {
			what = "bytecode is not supported: " + ctx.Method.String()
		}
		ctx.Loader.EmitThrow(ctx.IL, "java.lang.InternalError", what)
		return nil
	}
	a := &asmContext{BodyContext: ctx, labels: make(map[string]host.Label), locals: make(map[int]host.Local)}
	if !ctx.Method.IsStatic() {
		a.nargs = 1
	}
	a.nargs += len(ctx.Method.ParameterTypes())
	for i, line := range code.Asm {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if err := a.inst(line); err != nil {
			return &ClassFormatError{Msg: ctx.Method.String() + ": line " + strconv.Itoa(i+1) + ": " + err.Error()}
		}
	}
	return nil
}

type asmContext struct {
	*BodyContext
	nargs  int
	labels map[string]host.Label
	locals map[int]host.Local
}

func (a *asmContext) label(name string) host.Label {
	l, ok := a.labels[name]
	if !ok {
		l = a.IL.DefineLabel()
		a.labels[name] = l
	}
	return l
}

// param returns the type of JVM slot i when it holds an argument other
// than this.
func (a *asmContext) param(i int) *TypeWrapper {
	if !a.Method.IsStatic() {
		i--
	}
	if i < 0 {
		return nil
	}
	return a.Method.ParameterTypes()[i]
}

func (a *asmContext) local(slot int, prefix byte) host.Local {
	if l, ok := a.locals[slot]; ok {
		return l
	}
	c := host.Core()
	t := c.Object
	switch prefix {
	case 'i':
		t = c.Int32
	case 'l':
		t = c.Int64
	case 'f':
		t = c.Single
	case 'd':
		t = c.Double
	}
	l := a.IL.DeclareLocal(t)
	a.locals[slot] = l
	return l
}

var asmArith = map[string]host.Op{
	"iadd": host.IADD, "ladd": host.IADD, "fadd": host.IADD, "dadd": host.IADD,
	"isub": host.ISUB, "lsub": host.ISUB, "fsub": host.ISUB, "dsub": host.ISUB,
	"imul": host.IMUL, "lmul": host.IMUL, "fmul": host.IMUL, "dmul": host.IMUL,
	"pop": host.IPOP, "dup": host.IDUP, "arraylength": host.ILDLEN, "athrow": host.ITHROW,
	"nop": host.INOP, "aconst_null": host.ILDNULL,
}

func (a *asmContext) inst(s string) error {
	if strings.HasSuffix(s, ":") {
		a.IL.MarkLabel(a.label(strings.TrimSuffix(s, ":")))
		return nil
	}
	op, arg, _ := strings.Cut(s, " ")
	arg = strings.TrimSpace(arg)
	il := a.IL
	if hop, ok := asmArith[op]; ok {
		il.Emit(hop)
		return nil
	}
	switch op {
	case "iload", "lload", "fload", "dload", "aload":
		slot, err := strconv.Atoi(arg)
		if err != nil {
			return err
		}
		if slot < a.nargs {
			emitLdarg(il, slot)
			if p := a.param(slot); p != nil {
				p.EmitConvParameterToStackType(il)
			}
			return nil
		}
		il.EmitLocal(host.ILDLOC, a.local(slot, op[0]))
	case "istore", "lstore", "fstore", "dstore", "astore":
		slot, err := strconv.Atoi(arg)
		if err != nil {
			return err
		}
		if slot < a.nargs {
			return errors.Errorf("%s to argument slot %d", op, slot)
		}
		il.EmitLocal(host.ISTLOC, a.local(slot, op[0]))
	case "iconst", "lconst", "fconst", "dconst", "ldc":
		v, err := asmConstant(op, arg)
		if err != nil {
			return err
		}
		emitConstant(il, v)
	case "getstatic", "putstatic", "getfield", "putfield":
		return a.field(op, arg)
	case "invokestatic", "invokevirtual", "invokeinterface", "invokespecial", "new":
		return a.invoke(op, arg)
	case "checkcast", "instanceof":
		tw, err := a.Loader.LoadClass(arg)
		if err != nil {
			a.Loader.EmitThrow(il, "java.lang.NoClassDefFoundError", arg)
			return nil
		}
		if op == "checkcast" {
			tw.EmitCheckcast(il)
		} else {
			tw.EmitInstanceOf(il)
		}
	case "goto":
		il.EmitLabel(host.IBR, a.label(arg))
	case "ifeq", "ifnull":
		il.EmitLabel(host.IBRFALSE, a.label(arg))
	case "ifne", "ifnonnull":
		il.EmitLabel(host.IBRTRUE, a.label(arg))
	case "if_icmpeq", "if_acmpeq":
		il.Emit(host.ICEQ)
		il.EmitLabel(host.IBRTRUE, a.label(arg))
	case "if_icmpne", "if_acmpne":
		il.Emit(host.ICEQ)
		il.EmitLabel(host.IBRFALSE, a.label(arg))
	case "if_icmplt":
		il.Emit(host.ICLT)
		il.EmitLabel(host.IBRTRUE, a.label(arg))
	case "if_icmpgt":
		il.Emit(host.ICGT)
		il.EmitLabel(host.IBRTRUE, a.label(arg))
	case "return":
		il.Emit(host.IRET)
	case "ireturn", "lreturn", "freturn", "dreturn", "areturn":
		ret := a.Method.ReturnType()
		if ret.IsGhost() || ret.IsNonPrimitiveValueType() {
			ret.EmitConvStackToParameterType(il, ret)
		}
		il.Emit(host.IRET)
	default:
		return errors.Errorf("unknown instruction %s", op)
	}
	return nil
}

func asmConstant(op, arg string) (any, error) {
	switch op {
	case "iconst":
		return classfile.ParseConstant("I", arg)
	case "lconst":
		return classfile.ParseConstant("J", arg)
	case "fconst":
		return classfile.ParseConstant("F", arg)
	case "dconst":
		return classfile.ParseConstant("D", arg)
	}
	if strings.HasPrefix(arg, `"`) {
		return strconv.Unquote(arg)
	}
	return classfile.ParseConstant("I", arg)
}

// splitMember splits Class.member at the last dot before any signature.
func splitMember(s string) (class, member string, ok bool) {
	end := len(s)
	if i := strings.IndexAny(s, "(:"); i >= 0 {
		end = i
	}
	dot := strings.LastIndexByte(s[:end], '.')
	if dot <= 0 {
		return "", "", false
	}
	return s[:dot], s[dot+1:], true
}

func (a *asmContext) field(op, arg string) error {
	class, member, ok := splitMember(arg)
	if !ok {
		return errors.Errorf("malformed field %s", arg)
	}
	name, sig, _ := strings.Cut(member, ":")
	tw, err := a.Loader.LoadClass(class)
	if err != nil {
		a.Loader.EmitThrow(a.IL, "java.lang.NoClassDefFoundError", class)
		return nil
	}
	fw := tw.Field(name)
	if fw == nil || (sig != "" && fw.sig != sig) || fw.IsStatic() != strings.HasSuffix(op, "static") {
		a.Loader.EmitThrow(a.IL, "java.lang.NoSuchFieldError", name)
		return nil
	}
	if strings.HasPrefix(op, "get") {
		fw.EmitGet(a.IL)
	} else {
		fw.EmitSet(a.IL)
	}
	return nil
}

// findMethod looks md up in tw, its base types and, for interfaces and
// abstract classes, their super-interfaces.
func findMethod(tw *TypeWrapper, md *MethodDescriptor) *MethodWrapper {
	if mw := tw.Method(md, true); mw != nil {
		return mw
	}
	for t := tw; t != nil; t = t.base {
		for _, i := range t.Interfaces() {
			if mw := findMethod(i, md); mw != nil {
				return mw
			}
		}
	}
	return nil
}

func (a *asmContext) invoke(op, arg string) error {
	il := a.IL
	var class, name, sig string
	if op == "new" {
		open := strings.IndexByte(arg, '(')
		if open < 0 {
			return errors.Errorf("malformed constructor %s", arg)
		}
		class, name, sig = arg[:open], "<init>", arg[open:]
	} else {
		c, member, ok := splitMember(arg)
		open := strings.IndexByte(member, '(')
		if !ok || open < 0 {
			return errors.Errorf("malformed method %s", arg)
		}
		class, name, sig = c, member[:open], member[open:]
	}
	if _, err := ParseSignature(sig); err != nil {
		return err
	}
	tw, err := a.Loader.LoadClass(class)
	if err != nil {
		a.Loader.EmitThrow(il, "java.lang.NoClassDefFoundError", class)
		return nil
	}
	md := NewMethodDescriptor(a.Loader, name, sig)
	mw := findMethod(tw, md)
	if mw == nil || mw.IsStatic() != (op == "invokestatic") {
		a.Loader.EmitThrow(il, "java.lang.NoSuchMethodError", class+"."+md.String())
		return nil
	}
	args := md.ArgTypes()
	ghostReceiver := op != "invokestatic" && op != "new" && mw.declaring.IsGhost()
	spill := ghostReceiver
	for _, t := range args {
		if t.IsGhost() || t.IsNonPrimitiveValueType() {
			spill = true
		}
	}
	if spill {
		tmps := make([]host.Local, len(args))
		for i := len(args) - 1; i >= 0; i-- {
			tmps[i] = il.DeclareLocal(args[i].TypeAsLocalOrStackType())
			il.EmitLocal(host.ISTLOC, tmps[i])
		}
		if ghostReceiver {
			mw.declaring.emitGhostReceiver(il)
		}
		for i, t := range args {
			il.EmitLocal(host.ILDLOC, tmps[i])
			t.EmitConvStackToParameterType(il, t)
		}
	}
	switch op {
	case "new":
		mw.EmitNewobj(il)
	case "invokestatic", "invokespecial":
		mw.EmitCall(il)
	default:
		mw.EmitCallvirt(il)
	}
	return nil
}
