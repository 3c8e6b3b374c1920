package compiler

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
	"github.com/nandub/ikvm-first-conversion-sub001/hostvm"
)

// fixture is a runtime loaded from a txtar archive under testdata. Members
// named boot/* go to the bootstrap loader, lib/* to a "lib" loader and
// everything else to an "app" loader whose parent is lib.
type fixture struct {
	t   *testing.T
	rt  *Runtime
	lib *ClassLoader
	app *ClassLoader
	src classfile.MapSource
}

func split(t *testing.T, a *txtar.Archive) (boot, lib, app *txtar.Archive) {
	t.Helper()
	boot, lib, app = new(txtar.Archive), new(txtar.Archive), new(txtar.Archive)
	for _, f := range a.Files {
		switch {
		case strings.HasPrefix(f.Name, "boot/"):
			boot.Files = append(boot.Files, f)
		case strings.HasPrefix(f.Name, "lib/"):
			lib.Files = append(lib.Files, f)
		default:
			app.Files = append(app.Files, f)
		}
	}
	return boot, lib, app
}

func loadFixture(t *testing.T, name string, opts Options) *fixture {
	t.Helper()
	a, err := txtar.ParseFile(filepath.Join("testdata", name+".txtar"))
	require.NoError(t, err)
	boot, lib, app := split(t, a)
	if len(boot.Files) > 0 {
		src, err := classfile.LoadArchive(boot)
		require.NoError(t, err)
		opts.BootstrapSource = src
	}
	rt, err := NewRuntime(opts)
	require.NoError(t, err)
	fx := &fixture{t: t, rt: rt}
	if len(lib.Files) > 0 {
		src, err := classfile.LoadArchive(lib)
		require.NoError(t, err)
		fx.lib = rt.NewClassLoader("lib", src, nil)
		for _, n := range src.Names() {
			_, err := fx.lib.LoadClass(n)
			require.NoError(t, err, n)
		}
	}
	fx.src, err = classfile.LoadArchive(app)
	require.NoError(t, err)
	fx.app = rt.NewClassLoader("app", fx.src, fx.lib)
	return fx
}

// loadAll loads every app class and finishes the runtime.
func (fx *fixture) loadAll() {
	fx.t.Helper()
	for _, n := range fx.src.Names() {
		_, err := fx.app.LoadClass(n)
		require.NoError(fx.t, err, n)
	}
	require.NoError(fx.t, fx.rt.Finish())
}

func (fx *fixture) class(name string) *TypeWrapper {
	fx.t.Helper()
	tw, err := fx.app.LoadClass(name)
	require.NoError(fx.t, err, name)
	return tw
}

// method returns the host method of a method declared by class.
func (fx *fixture) method(class, name, sig string) *host.Method {
	fx.t.Helper()
	tw := fx.class(class)
	mw := tw.Method(NewMethodDescriptor(fx.app, name, sig), false)
	require.NotNil(fx.t, mw, "%s.%s%s", class, name, sig)
	require.NotNil(fx.t, mw.HostMethod())
	return mw.HostMethod()
}

func (fx *fixture) vm() *hostvm.VM {
	return hostvm.New(fx.rt.Modules()...)
}

func (fx *fixture) newObject(vm *hostvm.VM, class string) hostvm.Value {
	fx.t.Helper()
	obj, err := vm.NewObject(fx.class(class).HostType())
	require.NoError(fx.t, err, class)
	return obj
}

// thrownClass returns the host type name of a Java exception escaping the
// interpreter.
func thrownClass(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	th, ok := err.(*hostvm.Thrown)
	require.True(t, ok, "not a host exception: %v", err)
	return th.Type.FullName()
}

func hasOp(m *host.Method, op host.Op) bool {
	for _, inst := range m.Body {
		if inst.Op == op {
			return true
		}
	}
	return false
}
