package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
	"github.com/nandub/ikvm-first-conversion-sub001/hostvm"
)

func ghostValue(cs *TypeWrapper, ref hostvm.Value) *hostvm.Struct {
	return &hostvm.Struct{
		Type:   cs.TypeAsParameterType(),
		Fields: map[*host.Field]hostvm.Value{cs.GhostRefField(): ref},
	}
}

func TestGhostInterfaceShape(t *testing.T) {
	fx := loadFixture(t, "ghost", Options{})
	fx.loadAll()
	cs := fx.class("java.lang.CharSequence")
	require.True(t, cs.IsGhost())

	vt := cs.TypeAsParameterType()
	assert.True(t, vt.IsValueType())
	assert.Equal(t, host.Core().Object, cs.TypeAsLocalOrStackType())
	assert.Equal(t, host.Core().Object, cs.TypeAsArrayType())
	require.NotNil(t, cs.GhostRefField())
	assert.Equal(t, host.Core().Object, cs.GhostRefField().Type)

	for _, name := range []string{"IsInstance", "Cast", "ToObject"} {
		assert.NotEmpty(t, vt.MethodsNamed(name), name)
	}

	length := fx.method("demo.Ghosts", "len", "(Ljava.lang.CharSequence;)I")
	assert.Equal(t, []*host.Type{vt}, length.Params)

	arr := cs.MakeArrayType(1)
	assert.True(t, arr.IsGhostArray())
}

func TestGhostDispatch(t *testing.T) {
	fx := loadFixture(t, "ghost", Options{})
	fx.loadAll()
	cs := fx.class("java.lang.CharSequence")
	vm := fx.vm()
	length := fx.method("demo.Ghosts", "len", "(Ljava.lang.CharSequence;)I")

	v, err := vm.Invoke(length, ghostValue(cs, "hello"))
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)

	v, err = vm.Invoke(length, ghostValue(cs, fx.newObject(vm, "demo.Text")))
	require.NoError(t, err)
	assert.Equal(t, int32(12), v)

	_, err = vm.Invoke(length, ghostValue(cs, nil))
	th, ok := err.(*hostvm.Thrown)
	require.True(t, ok, "%v", err)
	assert.Equal(t, host.Core().NullReference, th.Type)

	_, err = vm.Invoke(length, ghostValue(cs, fx.newObject(vm, "demo.Opaque")))
	assert.Equal(t, "java.lang.IncompatibleClassChangeError", thrownClass(t, err))
	assert.Equal(t, "Class does not implement interface java.lang.CharSequence", err.(*hostvm.Thrown).Message)
}

func TestGhostTypeTests(t *testing.T) {
	fx := loadFixture(t, "ghost", Options{})
	fx.loadAll()
	vm := fx.vm()
	isSeq := fx.method("demo.Ghosts", "isSeq", "(Ljava.lang.Object;)Z")
	asSeq := fx.method("demo.Ghosts", "asSeq", "(Ljava.lang.Object;)Ljava.lang.Object;")
	text := fx.newObject(vm, "demo.Text")
	opaque := fx.newObject(vm, "demo.Opaque")

	tests := []struct {
		name string
		arg  hostvm.Value
		want int32
	}{
		{"string", "s", 1},
		{"implementer", text, 1},
		{"other", opaque, 0},
		{"null", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := vm.Invoke(isSeq, tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	v, err := vm.Invoke(asSeq, text)
	require.NoError(t, err)
	assert.Same(t, text, v)
	v, err = vm.Invoke(asSeq, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = vm.Invoke(asSeq, opaque)
	th, ok := err.(*hostvm.Thrown)
	require.True(t, ok, "%v", err)
	assert.Equal(t, host.Core().InvalidCast, th.Type)
}

func TestGhostImplementer(t *testing.T) {
	fx := loadFixture(t, "ghost", Options{})
	fx.loadAll()
	cs := fx.class("java.lang.CharSequence")
	text := fx.class("demo.Text")
	assert.True(t, text.ImplementsInterface(cs))
	assert.True(t, text.IsAssignableTo(cs))
	assert.True(t, fx.class("java.lang.String").IsAssignableTo(cs))

	tb := text.HostType()
	require.Len(t, tb.MethodsNamed("op_Implicit"), 1)
	conv := tb.MethodsNamed("op_Implicit")[0]
	assert.Equal(t, cs.TypeAsParameterType(), conv.Return)
	assert.True(t, conv.IsSpecialName())

	vm := fx.vm()
	obj := fx.newObject(vm, "demo.Text")
	v, err := vm.Invoke(conv, obj)
	require.NoError(t, err)
	s, ok := v.(*hostvm.Struct)
	require.True(t, ok, "%T", v)
	assert.Same(t, obj, s.Fields[cs.GhostRefField()])
}
