package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
	"github.com/nandub/ikvm-first-conversion-sub001/hostvm"
)

func TestDefaultRemapTable(t *testing.T) {
	table, err := DefaultRemapTable()
	require.NoError(t, err)
	var names []string
	for _, c := range table.Class {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"java.lang.Object", "java.lang.String", "java.lang.Throwable", "java.lang.Comparable"}, names)
}

func TestLoadRemapTableErrors(t *testing.T) {
	_, err := LoadRemapTable(strings.NewReader("[[Class]]\nName = \"x\"\nBogus = 1\n"))
	assert.Error(t, err)

	table, err := LoadRemapTable(strings.NewReader(`
[[Class]]
Name = "java.lang.Object"
Type = "No.Such.Type"
`))
	require.NoError(t, err)
	_, err = NewRuntime(Options{Remap: table})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown host type No.Such.Type")

	table, err = LoadRemapTable(strings.NewReader(`
[[Class]]
Name = "java.lang.String"
Type = "System.String"
`))
	require.NoError(t, err)
	_, err = NewRuntime(Options{Remap: table})
	assert.ErrorContains(t, err, "java.lang.Object is not remapped")
}

func TestRemappedWrappers(t *testing.T) {
	rt, err := NewRuntime(Options{})
	require.NoError(t, err)
	c := host.Core()
	obj, err := rt.Bootstrap().LoadClass("java.lang.Object")
	require.NoError(t, err)
	str, err := rt.Bootstrap().LoadClass("java.lang.String")
	require.NoError(t, err)
	thr, err := rt.Bootstrap().LoadClass("java.lang.Throwable")
	require.NoError(t, err)

	assert.Equal(t, KindRemapped, str.Kind())
	assert.Same(t, c.String, str.HostType())
	assert.Same(t, obj, str.BaseType())
	assert.True(t, str.IsFinal())
	assert.Same(t, str, rt.WrapperFromHostType(c.String))
	assert.Same(t, thr, rt.WrapperFromHostType(c.Exception))

	cmp, err := rt.Bootstrap().LoadClass("java.lang.Comparable")
	require.NoError(t, err)
	assert.True(t, str.IsAssignableTo(cmp))
	assert.False(t, cmp.IsGhost(), "a remapped interface is not a ghost")

	// Java code instantiates the hidden override stub of a non-final class.
	stub := rt.RuntimeModule().FindType("java.lang.Throwable$OverrideStub")
	require.NotNil(t, stub)
	assert.Same(t, c.Exception, stub.Base)
	assert.NotNil(t, rt.RuntimeModule().FindType("java.lang.Throwable$VirtualMethods"))
}

func TestRemappedCalls(t *testing.T) {
	fx := loadFixture(t, "remap", Options{})
	fx.loadAll()
	vm := fx.vm()

	v, err := vm.Invoke(fx.method("demo.Strings", "cat", "(Ljava.lang.String;Ljava.lang.String;)Ljava.lang.String;"), "ab", "cd")
	require.NoError(t, err)
	assert.Equal(t, "abcd", v)

	length := fx.method("demo.Strings", "len", "(Ljava.lang.String;)I")
	v, err = vm.Invoke(length, "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)

	empty := fx.method("demo.Strings", "empty", "(Ljava.lang.String;)Z")
	for s, want := range map[string]int32{"": 1, "x": 0} {
		v, err = vm.Invoke(empty, s)
		require.NoError(t, err)
		assert.Equal(t, want, v, "%q", s)
	}
}

func TestRemappedOverride(t *testing.T) {
	fx := loadFixture(t, "remap", Options{})
	fx.loadAll()
	vm := fx.vm()
	str := fx.method("demo.Strings", "str", "(Ljava.lang.Object;)Ljava.lang.String;")

	v, err := vm.Invoke(str, fx.newObject(vm, "demo.Named"))
	require.NoError(t, err)
	assert.Equal(t, "named", v)

	v, err = vm.Invoke(str, "itself")
	require.NoError(t, err)
	assert.Equal(t, "itself", v)

	// The Java method overrides the host virtual of another name.
	named := fx.class("demo.Named").HostType()
	toString := fx.method("demo.Named", "toString", "()Ljava.lang.String;")
	assert.True(t, toString.IsNewSlot())
	assert.Contains(t, named.Overrides, host.MethodOverride{Body: toString, Decl: host.Core().Object.GetMethod("ToString")})
	v, err = vm.InvokeVirtual(host.Core().Object.GetMethod("ToString"), fx.newObject(vm, "demo.Named"))
	require.NoError(t, err)
	assert.Equal(t, "named", v)
}

func TestRemappedVirtualMethods(t *testing.T) {
	fx := loadFixture(t, "remap", Options{})
	fx.loadAll()
	vm := fx.vm()
	describe := fx.method("demo.Strings", "describe", "(Ljava.lang.Throwable;)Ljava.lang.String;")

	thrown, err := vm.Invoke(fx.method("demo.Strings", "make", "(Ljava.lang.String;)Ljava.lang.Throwable;"), "boom")
	require.NoError(t, err)
	require.IsType(t, &hostvm.Object{}, thrown)
	assert.Equal(t, "java.lang.Throwable$OverrideStub", thrown.(*hostvm.Object).Type.FullName())

	v, err := vm.Invoke(describe, thrown)
	require.NoError(t, err)
	assert.Equal(t, "boom", v)

	v, err = vm.Invoke(describe, fx.newObject(vm, "demo.AppError"))
	require.NoError(t, err)
	assert.Equal(t, "local", v)

	tb := fx.class("demo.AppError").HostType()
	iface := fx.rt.RuntimeModule().FindType("java.lang.Throwable$VirtualMethods")
	assert.True(t, tb.Implements(iface))
}
