package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	cfg := Default()
	err := Decode(strings.NewReader(`
ClassPath = ["lib", "/abs/classes"]
Remap = "remap.toml"
NoJniStubs = true
Workers = 3
`), cfg)
	require.NoError(t, err)
	want := Default()
	want.ClassPath = []string{"lib", "/abs/classes"}
	want.Remap = "remap.toml"
	want.NoJniStubs = true
	want.Workers = 3
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}

	err = Decode(strings.NewReader("Threads = 2\n"), Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'Threads' is not defined")
}

func TestLoadResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "jbridge.toml")
	require.NoError(t, os.WriteFile(file, []byte("ClassPath = [\"classes\"]\nRemap = \"map.toml\"\n"), 0o644))

	cfg, err := Load(file, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "classes")}, cfg.ClassPath)
	assert.Equal(t, filepath.Join(dir, "map.toml"), cfg.Remap)
	assert.Equal(t, "out.hmod", cfg.Output)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), "")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(file, []byte("Workers = \"many\"\n"), 0o644))
	_, err = Load(file, "")
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(strings.Join([]string{
		"JBRIDGE_OUTPUT=from-dotenv.hmod",
		"JBRIDGE_WORKERS=2",
		"JBRIDGE_LOG_LEVEL=warn",
		"OTHER=ignored",
	}, "\n")), 0o644))
	t.Setenv("JBRIDGE_WORKERS", "5")
	t.Setenv("JBRIDGE_NO_JNI_STUBS", "true")
	t.Setenv("JBRIDGE_NESTED_INNER_CLASSES", "1")
	t.Setenv("JBRIDGE_CLASSPATH", strings.Join([]string{"a", "b"}, string(os.PathListSeparator)))

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.hmod", cfg.Output)
	assert.Equal(t, 5, cfg.Workers, "process environment wins over .env")
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.NoJniStubs)
	assert.True(t, cfg.CompileInnerClassesAsNestedTypes)
	assert.Equal(t, []string{"a", "b"}, cfg.ClassPath)

	_, err = Load("", filepath.Join(dir, "absent.env"))
	assert.NoError(t, err, "a missing .env file is not an error")
}

func TestEnvironmentErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"JBRIDGE_WORKERS", "lots"},
		{"JBRIDGE_WORKERS", "0"},
		{"JBRIDGE_NO_JNI_STUBS", "maybe"},
		{"JBRIDGE_CACHE_SIZE", "-1"},
		{"JBRIDGE_LOG_LEVEL", "chatty"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("", "")
			assert.Error(t, err)
		})
	}
}

func TestLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "error"} {
		cfg := Default()
		cfg.LogLevel = level
		log, err := cfg.Logger()
		require.NoError(t, err, level)
		assert.Equal(t, level, log.Level().String())
	}
	cfg := Default()
	cfg.LogLevel = "loud"
	_, err := cfg.Logger()
	assert.Error(t, err)
}
