package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
	"github.com/nandub/ikvm-first-conversion-sub001/hostvm"
)

func TestNativeWithoutJniStubs(t *testing.T) {
	fx := loadFixture(t, "natives", Options{NoJniStubs: true})
	fx.loadAll()
	_, err := fx.vm().Invoke(fx.method("demo.Natives", "twice", "(I)I"), int32(4))
	assert.Equal(t, "java.lang.UnsatisfiedLinkError", thrownClass(t, err))
	assert.Equal(t, "Native method not implemented: demo.Natives.twice(I)I", err.(*hostvm.Thrown).Message)
}

func TestNativeThroughJni(t *testing.T) {
	fx := loadFixture(t, "natives", Options{})
	fx.loadAll()
	twice := fx.method("demo.Natives", "twice", "(I)I")
	assert.True(t, hasOp(twice, host.ICALLI))

	vm := fx.vm()
	_, err := vm.Invoke(twice, int32(4))
	assert.Equal(t, "java.lang.UnsatisfiedLinkError", thrownClass(t, err))
	assert.Equal(t, "demo.Natives.twice(I)I", err.(*hostvm.Thrown).Message)

	vm.Register("demo.Natives.twice(I)I", func(args []hostvm.Value) (hostvm.Value, error) {
		return args[0].(int32) * 2, nil
	})
	v, err := vm.Invoke(twice, int32(4))
	require.NoError(t, err)
	assert.Equal(t, int32(8), v)

	// The receiver is passed first to instance natives.
	obj := fx.newObject(vm, "demo.Natives")
	vm.Register("demo.Natives.id()I", func(args []hostvm.Value) (hostvm.Value, error) {
		require.Len(t, args, 1)
		assert.Same(t, obj, args[0])
		return int32(1), nil
	})
	v, err = vm.Invoke(fx.method("demo.Natives", "id", "()I"), obj)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
}

func TestNativeCodeClass(t *testing.T) {
	fx := loadFixture(t, "natives", Options{})
	c := host.Core()
	m := host.NewModule("NativeImpl")
	nt := m.DefineType(nativeCodePrefix+"demo.Natives", host.TypePublic|host.TypeSealed|host.TypeAbstract, nil)
	impl := nt.DefineMethod("twice", host.MethodPublic|host.MethodStatic, c.Int32, c.Int32)
	il := impl.GetILGenerator()
	emitLdarg(il, 0)
	il.EmitInt(host.ILDCI4, 3)
	il.Emit(host.IMUL)
	il.Emit(host.IRET)
	id := nt.DefineMethod("id", host.MethodPublic|host.MethodStatic, c.Int32, c.Object)
	il = id.GetILGenerator()
	il.EmitInt(host.ILDCI4, 77)
	il.Emit(host.IRET)
	require.NoError(t, m.CreateAll())
	fx.rt.AddModule(m)
	fx.loadAll()

	twice := fx.method("demo.Natives", "twice", "(I)I")
	assert.False(t, hasOp(twice, host.ICALLI))
	vm := fx.vm()
	v, err := vm.Invoke(twice, int32(5))
	require.NoError(t, err)
	assert.Equal(t, int32(15), v)

	v, err = vm.Invoke(fx.method("demo.Natives", "id", "()I"), fx.newObject(vm, "demo.Natives"))
	require.NoError(t, err)
	assert.Equal(t, int32(77), v)
}

func TestNativeFromRemapTable(t *testing.T) {
	table, err := DefaultRemapTable()
	require.NoError(t, err)
	table.Native = append(table.Native, RemapNative{
		Class: "demo.Natives",
		Name:  "twice",
		Sig:   "(I)I",
		Code:  []string{"ldc.i4 99", "ret"},
	})
	fx := loadFixture(t, "natives", Options{Remap: table, NoJniStubs: true})
	fx.loadAll()
	v, err := fx.vm().Invoke(fx.method("demo.Natives", "twice", "(I)I"), int32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(99), v)
}
