package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

func TestConstantFields(t *testing.T) {
	fx := loadFixture(t, "fields", Options{})
	fx.loadAll()
	consts := fx.class("demo.Consts")
	tb := consts.HostType()
	vm := fx.vm()

	answer := tb.GetField("ANSWER")
	require.NotNil(t, answer)
	assert.True(t, answer.IsLiteral())
	assert.Equal(t, int32(42), consts.Field("ANSWER").Constant())

	read := fx.method("demo.Consts", "answer", "()I")
	assert.True(t, hasOp(read, host.ILDCI4))
	assert.False(t, hasOp(read, host.ILDSFLD))
	v, err := vm.Invoke(read)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	v, err = vm.Invoke(fx.method("demo.Consts", "poke", "()I"))
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	v, err = vm.LoadStatic(answer)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	v, err = vm.LoadStatic(tb.GetField("GREETING"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestConstantValueOfNonFinalStatic(t *testing.T) {
	fx := loadFixture(t, "fields", Options{})
	fx.loadAll()
	tb := fx.class("demo.Consts").HostType()
	count := tb.GetField("count")
	require.NotNil(t, count)
	assert.False(t, count.IsLiteral())
	require.NotNil(t, tb.TypeInitializer())

	v, err := fx.vm().LoadStatic(count)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)
}

func TestFinalFieldAccessor(t *testing.T) {
	fx := loadFixture(t, "fields", Options{})
	fx.loadAll()
	tb := fx.class("demo.Consts").HostType()

	backing := tb.GetField("limit")
	require.NotNil(t, backing)
	assert.True(t, backing.IsPrivate())
	p := tb.GetProperty("limit")
	require.NotNil(t, p)
	require.NotNil(t, p.Getter)
	assert.Equal(t, "get_limit", p.Getter.Name)
	assert.True(t, p.Getter.IsPublic())
	assert.True(t, p.Getter.IsSpecialName())

	vm := fx.vm()
	obj := fx.newObject(vm, "demo.Consts")
	v, err := vm.Invoke(p.Getter, obj)
	require.NoError(t, err)
	assert.Equal(t, int32(10), v)
	v, err = vm.Invoke(fx.method("demo.Consts", "limit", "()I"), obj)
	require.NoError(t, err)
	assert.Equal(t, int32(10), v)

	cache := tb.GetField("cache")
	require.NotNil(t, cache)
	assert.NotZero(t, cache.Attrs&host.FieldNotSerialized)
}

func TestClassInitializerChaining(t *testing.T) {
	fx := loadFixture(t, "fields", Options{})
	fx.loadAll()

	counted := fx.class("demo.Counted").HostType()
	marker := counted.GetField(clinitMarker)
	require.NotNil(t, marker)
	assert.True(t, marker.IsStatic())
	assert.True(t, marker.HasAttribute(AttrHideFromReflection))

	sub := fx.class("demo.SubCounted").HostType()
	cctor := sub.TypeInitializer()
	require.NotNil(t, cctor)
	require.NotEmpty(t, cctor.Body)
	assert.Equal(t, host.ILDTOKEN, cctor.Body[0].Op)
	assert.Equal(t, counted, cctor.Body[0].Type)

	v, err := fx.vm().LoadStatic(sub.GetField("seen"))
	require.NoError(t, err)
	assert.Equal(t, int32(100), v)

	leaf := fx.class("demo.Leaf").HostType()
	assert.NotNil(t, leaf.TypeInitializer(), "injected initializer chains to the base")
	assert.Nil(t, leaf.GetField(clinitMarker))
}

func TestMethodAttributes(t *testing.T) {
	fx := loadFixture(t, "methods", Options{})
	fx.loadAll()
	tb := fx.class("demo.Worker").HostType()

	run := tb.GetMethod("run")
	require.NotNil(t, run)
	assert.NotZero(t, run.Impl&host.ImplSynchronized)
	a, ok := run.CustomAttribute(AttrThrows)
	require.True(t, ok)
	assert.Equal(t, []string{"java.io.IOException"}, a.Args)
	assert.True(t, run.HasAttribute(AttrDeprecated))

	helper := tb.GetMethod("helper")
	require.NotNil(t, helper)
	assert.Equal(t, host.MethodAssembly, helper.Access())
	assert.True(t, helper.IsNewSlot())

	prot := tb.GetMethod("guarded")
	require.NotNil(t, prot)
	assert.Equal(t, host.MethodFamORAssem, prot.Access())

	missing := tb.GetMethod("take", host.Core().Object)
	require.NotNil(t, missing)
	attrs := missing.ParamAttributes[1]
	require.Len(t, attrs, 1)
	assert.Equal(t, AttrUnloadableType, attrs[0].Type)
	assert.Equal(t, []string{"demo.Missing"}, attrs[0].Args)

	// Overriding a package-private method from another package adds a slot.
	sub := fx.class("other.Sub").HostType()
	helper2 := sub.GetMethod("helper")
	require.NotNil(t, helper2)
	assert.True(t, helper2.IsNewSlot())

	// A narrower override is widened to the base access.
	narrow := fx.class("demo.Narrow").HostType().GetMethod("guarded")
	require.NotNil(t, narrow)
	assert.Equal(t, host.MethodFamORAssem, narrow.Access())
	assert.False(t, narrow.IsNewSlot())
}

func TestAbstractMethodInConcreteClass(t *testing.T) {
	fx := loadFixture(t, "methods", Options{})
	fx.loadAll()
	m := fx.method("demo.Worker", "todo", "()V")
	assert.False(t, m.IsAbstract())

	vm := fx.vm()
	_, err := vm.Invoke(m, fx.newObject(vm, "demo.Worker"))
	assert.Equal(t, "java.lang.AbstractMethodError", thrownClass(t, err))
}

func TestPackageMethodOverrideAcrossPackages(t *testing.T) {
	fx := loadFixture(t, "packages", Options{})
	fx.loadAll()
	vm := fx.vm()
	aFoo := fx.method("p.A", "foo", "()I")
	bFoo := fx.method("q.B", "foo", "()I")
	cFoo := fx.method("p.C", "foo", "()I")

	assert.True(t, bFoo.IsNewSlot(), "q.B cannot see the package method of p.A")
	assert.True(t, cFoo.IsNewSlot())
	c := fx.class("p.C").HostType()
	assert.Contains(t, c.Overrides, host.MethodOverride{Body: cFoo, Decl: aFoo})
	assert.NotContains(t, c.Overrides, host.MethodOverride{Body: cFoo, Decl: bFoo})

	obj := fx.newObject(vm, "p.C")
	tests := []struct {
		name string
		decl *host.Method
		want int32
	}{
		{"p.A", aFoo, 3},
		{"q.B", bFoo, 2},
		{"p.C", cFoo, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := vm.InvokeVirtual(tt.decl, obj)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestFinalPackageMethodInOtherPackage(t *testing.T) {
	fx := loadFixture(t, "packages", Options{})
	fx.loadAll()
	vm := fx.vm()
	bar := fx.method("q.Unlocked", "bar", "()I")
	assert.True(t, bar.IsNewSlot())

	obj := fx.newObject(vm, "q.Unlocked")
	v, err := vm.InvokeVirtual(fx.method("p.Locked", "bar", "()I"), obj)
	require.NoError(t, err)
	assert.Equal(t, int32(4), v)
	v, err = vm.InvokeVirtual(bar, obj)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)
}
