package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandub/ikvm-first-conversion-sub001/compiler"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

const hello = "testdata/hello.txtar"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"jbridge", "--env", "", "--loglevel", "error"}, args...))
	return out.String(), err
}

func TestReadClassPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "more.toml"), []byte(`
[[Class]]
Name = "demo.Hello"
Modifiers = ["final"]

[[Class]]
Name = "demo.Extra"
`), 0o644))

	src, err := readClassPath(context.Background(), []string{hello, dir}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo.Extra", "demo.Hello"}, src.Names())
	assert.False(t, src["demo.Hello"].Modifiers.IsFinal(), "the first entry wins")

	_, err = readClassPath(context.Background(), []string{filepath.Join(dir, "nothing")}, 1)
	assert.Error(t, err)

	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, nil, 0o644))
	_, err = readClassPath(context.Background(), []string{other}, 1)
	assert.ErrorContains(t, err, "unsupported class path entry")
}

func TestConvertArg(t *testing.T) {
	tests := []struct {
		sig, arg string
		want     any
	}{
		{"I", "42", int32(42)},
		{"I", "0x10", int32(16)},
		{"B", "-3", int32(-3)},
		{"Z", "true", int32(1)},
		{"Z", "false", int32(0)},
		{"C", "x", int32('x')},
		{"J", "1099511627776", int64(1 << 40)},
		{"F", "1.5", float32(1.5)},
		{"D", "2.25", 2.25},
		{"Ljava.lang.String;", "hi", "hi"},
	}
	for _, tt := range tests {
		v, err := convertArg(tt.sig, tt.arg)
		require.NoError(t, err, "%s %s", tt.sig, tt.arg)
		assert.Equal(t, tt.want, v, "%s %s", tt.sig, tt.arg)
	}

	for _, bad := range [][2]string{{"B", "300"}, {"C", "xy"}, {"Z", "yes"}, {"Ljava.lang.Object;", "o"}} {
		_, err := convertArg(bad[0], bad[1])
		assert.Error(t, err, "%v", bad)
	}
}

func TestRunCommand(t *testing.T) {
	out, err := run(t, "--classpath", hello, "run", "demo.Hello", "add", "(II)I", "2", "3")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	out, err = run(t, "--classpath", hello, "run", "demo.Hello", "greet", "(Ljava.lang.String;)Ljava.lang.String;", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)

	_, err = run(t, "--classpath", hello, "run", "demo.Hello", "twice", "(I)I", "2")
	assert.ErrorContains(t, err, "is not static")

	_, err = run(t, "--classpath", hello, "run", "demo.Hello", "add", "(II)I", "2")
	assert.ErrorContains(t, err, "want 2 arguments, got 1")

	_, err = run(t, "--classpath", hello, "run", "demo.Hello", "add", "(II")
	assert.ErrorContains(t, err, "bad signature")

	_, err = run(t, "--classpath", hello, "run", "demo.Hello", "nothere", "()V")
	assert.ErrorContains(t, err, "no method demo.Hello.nothere()V")

	_, err = run(t, "--classpath", hello, "run", "demo.Gone", "main", "()V")
	assert.ErrorContains(t, err, "demo.Gone")

	_, err = run(t, "run", "demo.Hello", "add", "(II)I", "1", "2")
	assert.ErrorContains(t, err, "empty class path")
}

func TestCompileCommand(t *testing.T) {
	output := filepath.Join(t.TempDir(), "demo.hmod")
	_, err := run(t, "--classpath", hello, "--out", output, "compile")
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	rt, err := compiler.NewRuntime(compiler.Options{})
	require.NoError(t, err)
	m, err := host.Decode(data, rt.RuntimeModule())
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Name)
	assert.True(t, m.Java)
	require.NotNil(t, m.FindType("demo.Hello"))
	assert.Len(t, m.FindType("demo.Hello").MethodsNamed("add"), 1)
}

func TestDumpCommand(t *testing.T) {
	out, err := run(t, "--classpath", hello, "dump", "demo.Hello")
	require.NoError(t, err)
	assert.Contains(t, out, ".class ")
	assert.Contains(t, out, "demo.Hello")

	_, err = run(t, "--classpath", hello, "dump")
	assert.ErrorContains(t, err, "at least one class")
}

func TestBadSettings(t *testing.T) {
	_, err := run(t, "--classpath", hello, "--workers", "0", "compile")
	assert.ErrorContains(t, err, "workers must be positive")

	_, err = run(t, "--config", filepath.Join(t.TempDir(), "none.toml"), "compile")
	assert.Error(t, err)
}
