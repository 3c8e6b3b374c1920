package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
	"github.com/nandub/ikvm-first-conversion-sub001/hostvm"
)

func TestInterfaceStubs(t *testing.T) {
	fx := loadFixture(t, "interfaces", Options{})
	fx.loadAll()
	vm := fx.vm()
	area := fx.method("demo.Shape", "area", "()I")

	tests := []struct {
		class string
		want  int32
		err   string // Java exception class, empty for success
		msg   string
	}{
		{class: "demo.Direct", want: 3},
		{class: "demo.Derived", want: 7},
		{class: "demo.Squared", want: 9},
		{class: "demo.Fixed", want: 11},
		{class: "demo.Concrete", err: "java.lang.AbstractMethodError", msg: "demo.Concrete.area()I"},
		{class: "demo.Lazy", err: "java.lang.AbstractMethodError", msg: "demo.Lazy.area()I"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			obj := fx.newObject(vm, tt.class)
			v, err := vm.InvokeVirtual(area, obj)
			if tt.err != "" {
				assert.Equal(t, tt.err, thrownClass(t, err))
				assert.Equal(t, tt.msg, err.(*hostvm.Thrown).Message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestTrampolineToOtherModule(t *testing.T) {
	fx := loadFixture(t, "interfaces", Options{})
	fx.loadAll()
	derived := fx.class("demo.Derived")
	tb := derived.HostType()
	tramp := tb.GetMethod("area")
	require.NotNil(t, tramp)
	assert.True(t, tramp.IsPublic())
	assert.True(t, tramp.IsVirtual())
	assert.True(t, tramp.HasAttribute(AttrHideFromReflection))
	assert.Contains(t, tb.Overrides, host.MethodOverride{Body: tramp, Decl: fx.method("demo.Shape", "area", "()I")})

	vm := fx.vm()
	obj := fx.newObject(vm, "demo.Derived")
	direct, err := vm.InvokeVirtual(fx.lib.module.FindType("lib.Base").GetMethod("area"), obj)
	require.NoError(t, err)
	viaShape, err := vm.InvokeVirtual(fx.method("demo.Shape", "area", "()I"), obj)
	require.NoError(t, err)
	assert.Equal(t, direct, viaShape)
}

func TestIllegalAccessStub(t *testing.T) {
	fx := loadFixture(t, "interfaces", Options{})
	fx.loadAll()
	derived := fx.class("demo.Derived")
	assert.True(t, derived.HasIncompleteInterfaceImplementation())
	stub := derived.HostType().GetMethod("demo.Sized.size")
	require.NotNil(t, stub)
	assert.True(t, stub.IsPrivate())

	vm := fx.vm()
	_, err := vm.InvokeVirtual(fx.method("demo.Sized", "size", "()I"), fx.newObject(vm, "demo.Derived"))
	assert.Equal(t, "java.lang.IllegalAccessError", thrownClass(t, err))
	assert.Equal(t, "demo.Derived.size()I", err.(*hostvm.Thrown).Message)
}

func TestMirandaMethod(t *testing.T) {
	fx := loadFixture(t, "interfaces", Options{})
	fx.loadAll()
	abs := fx.class("demo.Abs")
	mw := abs.Method(NewMethodDescriptor(fx.app, "area", "()I"), false)
	require.NotNil(t, mw)
	assert.True(t, mw.IsAbstract())
	assert.True(t, mw.IsPublic())
	m := mw.HostMethod()
	assert.True(t, m.IsAbstract())
	assert.True(t, m.IsNewSlot())
	assert.Contains(t, abs.HostType().Overrides, host.MethodOverride{Body: m, Decl: fx.method("demo.Shape", "area", "()I")})
	assert.False(t, abs.HasIncompleteInterfaceImplementation())

	// The concrete subclass gets a failing body in the Miranda slot.
	stub := fx.class("demo.Concrete").HostType().GetMethod("area")
	require.NotNil(t, stub)
	assert.False(t, stub.IsAbstract())
	assert.Equal(t, m, stub.Slot())
}

func TestForwardingStub(t *testing.T) {
	fx := loadFixture(t, "interfaces", Options{})
	fx.loadAll()
	stub := fx.class("demo.Plain").HostType().GetMethod("demo.Describable.toString")
	require.NotNil(t, stub)
	assert.True(t, stub.IsPrivate())

	vm := fx.vm()
	v, err := vm.InvokeVirtual(fx.method("demo.Describable", "toString", "()Ljava.lang.String;"), fx.newObject(vm, "demo.Plain"))
	require.NoError(t, err)
	assert.Equal(t, "demo.Plain", v)
}

func TestNoStubForDirectImplementation(t *testing.T) {
	fx := loadFixture(t, "interfaces", Options{})
	fx.loadAll()
	tb := fx.class("demo.Direct").HostType()
	assert.Empty(t, tb.Overrides)
	assert.Nil(t, tb.GetMethod("demo.Shape.area"))
}

func TestStubSynthesisIsIdempotent(t *testing.T) {
	fx := loadFixture(t, "interfaces", Options{})
	shape := fx.class("demo.Describable")
	require.NoError(t, shape.Finish())
	plain := fx.class("demo.Plain")
	plain.generateAllMembers()
	tb := plain.HostType()

	visited := make(map[*TypeWrapper]bool)
	plain.implementInterface(shape, visited)
	methods, overrides := len(tb.Methods), len(tb.Overrides)
	require.NotZero(t, overrides)

	plain.implementInterface(shape, visited)
	assert.Len(t, tb.Methods, methods)
	assert.Len(t, tb.Overrides, overrides)

	plain.implementInterface(shape, make(map[*TypeWrapper]bool))
	assert.Len(t, tb.Methods, methods)
	assert.Len(t, tb.Overrides, overrides)

	require.NoError(t, plain.Finish())
	assert.Len(t, tb.Overrides, overrides)
}
