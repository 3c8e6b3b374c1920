package compiler

import (
	"bytes"
	_ "embed"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

//go:embed bootstrap.toml
var bootstrapClasses []byte

// chainSource looks a name up in each source in turn.
type chainSource []classfile.ClassSource

func (s chainSource) Find(name string) (*classfile.Class, error) {
	for _, src := range s {
		c, err := src.Find(name)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, classfile.ErrNotFound) {
			return nil, err
		}
	}
	return nil, errors.Wrap(classfile.ErrNotFound, name)
}

// bootstrapSource returns the description source of the bootstrap loader:
// extra first, then the built-in classes.
func bootstrapSource(extra classfile.ClassSource) (classfile.ClassSource, error) {
	classes, err := classfile.LoadTOML(bytes.NewReader(bootstrapClasses))
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap classes")
	}
	builtin := classfile.NewMapSource(classes...)
	if extra == nil {
		return builtin, nil
	}
	return chainSource{extra, builtin}, nil
}

// runtimeClasses are the Java error classes the compiler throws from
// generated code, each deriving from the class before it in the list or
// from a remapped class.
var runtimeClasses = []struct {
	name, super string
	mods        classfile.Modifiers
}{
	{"java.lang.Error", "java.lang.Throwable", classfile.Public},
	{"java.lang.Exception", "java.lang.Throwable", classfile.Public},
	{"java.lang.RuntimeException", "java.lang.Exception", classfile.Public},
	{"java.lang.LinkageError", "java.lang.Error", classfile.Public},
	{"java.lang.IncompatibleClassChangeError", "java.lang.LinkageError", classfile.Public},
	{"java.lang.AbstractMethodError", "java.lang.IncompatibleClassChangeError", classfile.Public},
	{"java.lang.IllegalAccessError", "java.lang.IncompatibleClassChangeError", classfile.Public},
	{"java.lang.NoSuchMethodError", "java.lang.IncompatibleClassChangeError", classfile.Public},
	{"java.lang.NoSuchFieldError", "java.lang.IncompatibleClassChangeError", classfile.Public},
	{"java.lang.NoClassDefFoundError", "java.lang.LinkageError", classfile.Public},
	{"java.lang.ClassCircularityError", "java.lang.LinkageError", classfile.Public},
	{"java.lang.ClassFormatError", "java.lang.LinkageError", classfile.Public},
	{"java.lang.VerifyError", "java.lang.LinkageError", classfile.Public},
	{"java.lang.UnsatisfiedLinkError", "java.lang.LinkageError", classfile.Public},
	{"java.lang.VirtualMachineError", "java.lang.Error", classfile.Public | classfile.Abstract},
	{"java.lang.InternalError", "java.lang.VirtualMachineError", classfile.Public},
}

// defineRuntimeClasses builds the error classes as created host types of the
// runtime module, with a no-argument and a message constructor each.
func (rt *Runtime) defineRuntimeClasses() error {
	defined := make(map[string]*host.Type, len(runtimeClasses))
	for _, c := range runtimeClasses {
		base := defined[c.super]
		if base == nil {
			tw := rt.remapped[c.super]
			if tw == nil {
				return errors.Errorf("%s: unknown super class %s", c.name, c.super)
			}
			base = tw.HostType()
		}
		attrs := host.TypePublic | host.TypeSerializable
		if c.mods.IsAbstract() {
			attrs |= host.TypeAbstract
		}
		t := rt.runtimeModule.DefineType(c.name, attrs, base)
		t.SetCustomAttribute(modifiersAttribute(c.mods))
		for _, params := range [][]*host.Type{nil, {host.Core().String}} {
			baseCtor := base.GetConstructor(params...)
			if baseCtor == nil {
				return errors.Errorf("%s: %s has no constructor for %d arguments", c.name, base, len(params))
			}
			ctor := t.DefineConstructor(host.MethodPublic|host.MethodHideBySig, params...)
			il := ctor.GetILGenerator()
			emitLdargs(il, 0, len(params)+1)
			il.EmitMethod(host.ICALL, baseCtor)
			il.Emit(host.IRET)
		}
		if err := t.CreateType(); err != nil {
			return err
		}
		defined[c.name] = t
	}
	rt.log.Debug("runtime classes defined", zap.Int("count", len(defined)))
	return nil
}

// emitThrow emits code that throws a new instance of the named class with
// message msg.
func (rt *Runtime) emitThrow(il *host.ILGenerator, class, msg string) {
	if tw, err := rt.bootstrap.LoadClass(class); err == nil {
		md := NewMethodDescriptor(rt.bootstrap, "<init>", "(Ljava.lang.String;)V")
		if ctor := tw.Method(md, false); ctor != nil {
			il.EmitString(host.ILDSTR, msg)
			ctor.EmitNewobj(il)
			il.Emit(host.ITHROW)
			return
		}
	}
	il.EmitString(host.ILDSTR, class+": "+msg)
	il.EmitMethod(host.INEWOBJ, host.Core().Exception.GetConstructor(host.Core().String))
	il.Emit(host.ITHROW)
}
