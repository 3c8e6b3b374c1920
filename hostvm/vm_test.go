package hostvm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

type fixture struct {
	m          *host.Module
	counter    *host.Type
	count      *host.Field
	bump       *host.Method
	animal     *host.Type
	speak      *host.Method
	dog        *host.Type
	named      *host.Type
	name       *host.Method
	pair       *host.Type
	pairSum    *host.Method
	makePair   *host.Method
	boom       *host.Method
	nativeCall *host.Method
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := host.Core()
	fx := &fixture{m: host.NewModule("fixture")}
	m := fx.m

	// Counter: a static field set by the type initializer.
	fx.counter = m.DefineType("Counter", host.TypePublic, nil)
	fx.count = fx.counter.DefineField("count", c.Int32, host.FieldPublic|host.FieldStatic)
	cctor := fx.counter.DefineTypeInitializer()
	il := cctor.GetILGenerator()
	il.EmitInt(host.ILDCI4, 10)
	il.EmitField(host.ISTSFLD, fx.count)
	il.Emit(host.IRET)
	fx.bump = fx.counter.DefineMethod("bump", host.MethodPublic|host.MethodStatic, c.Int32)
	il = fx.bump.GetILGenerator()
	il.EmitField(host.ILDSFLD, fx.count)
	il.EmitInt(host.ILDCI4, 1)
	il.Emit(host.IADD)
	il.EmitField(host.ISTSFLD, fx.count)
	il.EmitField(host.ILDSFLD, fx.count)
	il.Emit(host.IRET)
	require.NoError(t, fx.counter.CreateType())

	// Named: an interface; Animal implements it by name, Dog overrides.
	fx.named = m.DefineType("Named", host.TypePublic|host.TypeInterface|host.TypeAbstract, nil)
	fx.name = fx.named.DefineMethod("name", host.MethodPublic|host.MethodVirtual|host.MethodAbstract|host.MethodNewSlot, c.String)
	require.NoError(t, fx.named.CreateType())

	fx.animal = m.DefineType("Animal", host.TypePublic, nil)
	fx.animal.AddInterfaceImplementation(fx.named)
	emitCtor(fx.animal.DefineConstructor(host.MethodPublic), c.Object)
	fx.speak = fx.animal.DefineMethod("speak", host.MethodPublic|host.MethodVirtual|host.MethodNewSlot, c.String)
	returnString(fx.speak, "...")
	returnString(fx.animal.DefineMethod("name", host.MethodPublic|host.MethodVirtual|host.MethodNewSlot, c.String), "animal")
	require.NoError(t, fx.animal.CreateType())

	fx.dog = m.DefineType("Dog", host.TypePublic, fx.animal)
	emitCtor(fx.dog.DefineConstructor(host.MethodPublic), fx.animal)
	returnString(fx.dog.DefineMethod("speak", host.MethodPublic|host.MethodVirtual, c.String), "woof")
	other := fx.dog.DefineMethod("Named$name", host.MethodPrivate|host.MethodVirtual|host.MethodFinal|host.MethodNewSlot, c.String)
	returnString(other, "dog")
	fx.dog.DefineMethodOverride(other, fx.name)
	require.NoError(t, fx.dog.CreateType())

	// Pair: a value type with two fields.
	fx.pair = m.DefineType("Pair", host.TypePublic|host.TypeSealed, c.ValueType)
	a := fx.pair.DefineField("a", c.Int32, host.FieldPublic)
	b := fx.pair.DefineField("b", c.Int32, host.FieldPublic)
	fx.pairSum = fx.pair.DefineMethod("sum", host.MethodPublic, c.Int32)
	il = fx.pairSum.GetILGenerator()
	il.EmitInt(host.ILDARG, 0)
	il.EmitField(host.ILDFLD, a)
	il.EmitInt(host.ILDARG, 0)
	il.EmitField(host.ILDFLD, b)
	il.Emit(host.IADD)
	il.Emit(host.IRET)
	fx.makePair = fx.pair.DefineMethod("make", host.MethodPublic|host.MethodStatic, c.Int32, c.Int32, c.Int32)
	il = fx.makePair.GetILGenerator()
	p := il.DeclareLocal(fx.pair)
	copyLocal := il.DeclareLocal(fx.pair)
	il.EmitLocal(host.ILDLOCA, p)
	il.EmitType(host.IINITOBJ, fx.pair)
	il.EmitLocal(host.ILDLOCA, p)
	il.EmitInt(host.ILDARG, 0)
	il.EmitField(host.ISTFLD, a)
	il.EmitLocal(host.ILDLOC, p)
	il.EmitLocal(host.ISTLOC, copyLocal)
	il.EmitLocal(host.ILDLOCA, p)
	il.EmitInt(host.ILDARG, 1)
	il.EmitField(host.ISTFLD, b)
	// The copy keeps b == 0.
	il.EmitLocal(host.ILDLOCA, p)
	il.EmitMethod(host.ICALL, fx.pairSum)
	il.EmitLocal(host.ILDLOCA, copyLocal)
	il.EmitMethod(host.ICALL, fx.pairSum)
	il.Emit(host.ISUB)
	il.Emit(host.IRET)
	require.NoError(t, fx.pair.CreateType())

	// Util: throwing and native calls.
	util := m.DefineType("Util", host.TypePublic|host.TypeAbstract|host.TypeSealed, nil)
	fx.boom = util.DefineMethod("boom", host.MethodPublic|host.MethodStatic, nil)
	il = fx.boom.GetILGenerator()
	il.EmitString(host.ILDSTR, "kaboom")
	il.EmitMethod(host.INEWOBJ, c.Exception.GetConstructor(c.String))
	il.Emit(host.ITHROW)
	fx.nativeCall = util.DefineMethod("triple", host.MethodPublic|host.MethodStatic, c.Int32, c.Int32)
	il = fx.nativeCall.GetILGenerator()
	il.EmitInt(host.ILDARG, 0)
	il.EmitString(host.ILDSTR, "triple")
	il.EmitString(host.ILDSTR, "(I)I")
	il.EmitString(host.ILDSTR, "Util")
	il.EmitMethod(host.ICALL, c.JNI.GetMethod("GetFuncPtr", c.String, c.String, c.String))
	il.EmitCalli(true, c.Int32, c.Int32)
	il.Emit(host.IRET)
	require.NoError(t, util.CreateType())
	return fx
}

func emitCtor(ctor *host.Method, base *host.Type) {
	il := ctor.GetILGenerator()
	il.EmitInt(host.ILDARG, 0)
	il.EmitMethod(host.ICALL, base.GetConstructor())
	il.Emit(host.IRET)
}

func returnString(m *host.Method, s string) {
	il := m.GetILGenerator()
	il.EmitString(host.ILDSTR, s)
	il.Emit(host.IRET)
}

func TestStaticInitializerRunsOnce(t *testing.T) {
	fx := newFixture(t)
	vm := New(fx.m)
	for want := int32(11); want <= 13; want++ {
		v, err := vm.Invoke(fx.bump)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	v, err := vm.LoadStatic(fx.count)
	require.NoError(t, err)
	assert.Equal(t, int32(13), v)
}

func TestVirtualDispatch(t *testing.T) {
	fx := newFixture(t)
	vm := New(fx.m)
	dog, err := vm.NewObject(fx.dog)
	require.NoError(t, err)
	animal, err := vm.NewObject(fx.animal)
	require.NoError(t, err)

	tests := []struct {
		name string
		m    *host.Method
		this Value
		want string
	}{
		{"Animal.speak", fx.speak, animal, "..."},
		{"Dog.speak", fx.speak, dog, "woof"},
		{"Animal as Named", fx.name, animal, "animal"},
		{"Dog as Named", fx.name, dog, "dog"},
		{"string ToString", host.Core().Object.GetMethod("ToString"), "abc", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := vm.InvokeVirtual(tt.m, tt.this)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	// Non-virtual call reaches the named method itself.
	v, err := vm.Invoke(fx.speak, dog)
	require.NoError(t, err)
	assert.Equal(t, "...", v)
}

func TestValueTypeCopies(t *testing.T) {
	fx := newFixture(t)
	v, err := New(fx.m).Invoke(fx.makePair, int32(3), int32(4))
	require.NoError(t, err)
	// (3+4) - (3+0)
	assert.Equal(t, int32(4), v)
}

func TestThrown(t *testing.T) {
	fx := newFixture(t)
	vm := New(fx.m)
	_, err := vm.Invoke(fx.boom)
	var thrown *Thrown
	require.True(t, errors.As(err, &thrown), "error %v", err)
	assert.Equal(t, host.Core().Exception, thrown.Type)
	assert.Equal(t, "kaboom", thrown.Message)

	_, err = vm.InvokeVirtual(fx.speak, nil)
	require.True(t, errors.As(err, &thrown))
	assert.Equal(t, host.Core().NullReference, thrown.Type)
}

func TestNativeCalls(t *testing.T) {
	fx := newFixture(t)
	vm := New(fx.m)
	_, err := vm.Invoke(fx.nativeCall, int32(5))
	var thrown *Thrown
	require.True(t, errors.As(err, &thrown), "error %v", err)
	assert.Contains(t, thrown.Error(), "java.lang.UnsatisfiedLinkError: Util.triple(I)I")

	vm.Register("Util.triple(I)I", func(args []Value) (Value, error) {
		return args[0].(int32) * 3, nil
	})
	v, err := vm.Invoke(fx.nativeCall, int32(5))
	require.NoError(t, err)
	assert.Equal(t, int32(15), v)
}

func TestCastAndBox(t *testing.T) {
	c := host.Core()
	m := host.NewModule("casts")
	ty := m.DefineType("Casts", host.TypePublic|host.TypeAbstract|host.TypeSealed, nil)

	roundTrip := ty.DefineMethod("roundTrip", host.MethodPublic|host.MethodStatic, c.Int32, c.Int32)
	il := roundTrip.GetILGenerator()
	il.EmitInt(host.ILDARG, 0)
	il.EmitType(host.IBOX, c.Int32)
	il.EmitType(host.IUNBOX, c.Int32)
	il.EmitType(host.ILDOBJ, c.Int32)
	il.Emit(host.IRET)

	asString := ty.DefineMethod("asString", host.MethodPublic|host.MethodStatic, c.String, c.Object)
	il = asString.GetILGenerator()
	il.EmitInt(host.ILDARG, 0)
	il.EmitType(host.ICASTCLASS, c.String)
	il.Emit(host.IRET)

	isComparable := ty.DefineMethod("isComparable", host.MethodPublic|host.MethodStatic, c.Boolean, c.Object)
	il = isComparable.GetILGenerator()
	il.EmitInt(host.ILDARG, 0)
	il.EmitType(host.IISINST, c.IComparable)
	il.Emit(host.ILDNULL)
	il.Emit(host.ICEQ)
	il.EmitInt(host.ILDCI4, 0)
	il.Emit(host.ICEQ)
	il.Emit(host.IRET)
	require.NoError(t, ty.CreateType())

	vm := New(m)
	v, err := vm.Invoke(roundTrip, int32(7))
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)

	v, err = vm.Invoke(asString, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, err = vm.Invoke(asString, &Boxed{Type: c.Int32, Value: int32(1)})
	var thrown *Thrown
	require.True(t, errors.As(err, &thrown))
	assert.Equal(t, c.InvalidCast, thrown.Type)

	for _, tt := range []struct {
		arg  Value
		want int32
	}{
		{"s", 1},
		{nil, 0},
		{&Boxed{Type: c.Int32, Value: int32(1)}, 0},
	} {
		v, err := vm.Invoke(isComparable, tt.arg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v, "isComparable(%v)", tt.arg)
	}
}

func TestStepLimit(t *testing.T) {
	m := host.NewModule("loop")
	ty := m.DefineType("Loop", host.TypePublic, nil)
	spin := ty.DefineMethod("spin", host.MethodPublic|host.MethodStatic, nil)
	il := spin.GetILGenerator()
	top := il.DefineLabel()
	il.MarkLabel(top)
	il.Emit(host.INOP)
	il.EmitLabel(host.IBR, top)
	require.NoError(t, ty.CreateType())

	vm := New(m)
	vm.StepLimit = 100
	_, err := vm.Invoke(spin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step limit exceeded")
}
