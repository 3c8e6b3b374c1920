package compiler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// reload writes the app module of fx and reads it back into a fresh
// runtime, where its classes load as compiled wrappers.
func reload(t *testing.T, fx *fixture) *Runtime {
	t.Helper()
	fx.loadAll()
	data, err := fx.app.Module().EncodeToBytes()
	require.NoError(t, err)
	rt, err := NewRuntime(Options{})
	require.NoError(t, err)
	m, err := host.Decode(data, rt.RuntimeModule())
	require.NoError(t, err)
	rt.AddModule(m)
	return rt
}

func TestCompiledMembersConcurrent(t *testing.T) {
	rt := reload(t, loadFixture(t, "methods", Options{}))
	tw, err := rt.Bootstrap().LoadClass("demo.Worker")
	require.NoError(t, err)
	require.Equal(t, KindCompiled, tw.Kind())

	const n = 8
	methods := make([]int, n)
	fields := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			methods[i] = len(tw.Methods())
			fields[i] = len(tw.Fields())
		}(i)
	}
	wg.Wait()

	want := len(tw.Methods())
	assert.NotZero(t, want)
	for i := 0; i < n; i++ {
		assert.Equal(t, want, methods[i], "goroutine %d saw a partial method list", i)
		assert.Equal(t, len(tw.Fields()), fields[i], "goroutine %d", i)
	}
	assert.NotNil(t, tw.Method(NewMethodDescriptor(rt.Bootstrap(), "run", "()V"), false))
}
