// Package config holds the settings of the jbridge tools. Settings come
// from a TOML file whose keys are the Go field names, then from JBRIDGE_*
// environment variables, which may also be set in a .env file.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/naoina/toml"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the tool configuration.
type Config struct {
	ClassPath []string // Directories of .class and .toml descriptions
	Remap     string   // Remap table replacing the built-in one
	Output    string   // Module file written by compile

	NoJniStubs                       bool
	CompileInnerClassesAsNestedTypes bool

	LogLevel  string // debug, info, warn or error
	Workers   int    // Parallel class readers
	CacheSize int    // Foreign type cache entries
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Output:    "out.hmod",
		LogLevel:  "info",
		Workers:   runtime.NumCPU(),
		CacheSize: 1024,
	}
}

var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Decode reads TOML settings over cfg.
func Decode(r io.Reader, cfg *Config) error {
	return tomlSettings.NewDecoder(bufio.NewReader(r)).Decode(cfg)
}

// Load builds the configuration: defaults, then the file if one is named,
// then the environment. envFile is read if it exists; variables already
// set in the process take precedence over it.
func Load(file, envFile string) (*Config, error) {
	cfg := Default()
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		err = Decode(f, cfg)
		f.Close()
		if _, ok := err.(*toml.LineError); ok {
			err = errors.New(file + ", " + err.Error())
		}
		if err != nil {
			return nil, err
		}
		cfg.resolvePaths(filepath.Dir(file))
	}
	env, err := environment(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// resolvePaths makes relative paths of a config file relative to its
// directory.
func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i, p := range c.ClassPath {
		c.ClassPath[i] = abs(p)
	}
	c.Remap = abs(c.Remap)
}

func environment(envFile string) (map[string]string, error) {
	env := make(map[string]string)
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			vars, err := godotenv.Read(envFile)
			if err != nil {
				return nil, errors.Wrap(err, envFile)
			}
			for k, v := range vars {
				env[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, envPrefix) {
			env[k] = v
		}
	}
	return env, nil
}

const envPrefix = "JBRIDGE_"

func (c *Config) applyEnv(env map[string]string) error {
	for key, v := range env {
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		var err error
		switch strings.TrimPrefix(key, envPrefix) {
		case "CLASSPATH":
			c.ClassPath = filepath.SplitList(v)
		case "REMAP":
			c.Remap = v
		case "OUTPUT":
			c.Output = v
		case "NO_JNI_STUBS":
			c.NoJniStubs, err = strconv.ParseBool(v)
		case "NESTED_INNER_CLASSES":
			c.CompileInnerClassesAsNestedTypes, err = strconv.ParseBool(v)
		case "LOG_LEVEL":
			c.LogLevel = v
		case "WORKERS":
			c.Workers, err = strconv.Atoi(v)
		case "CACHE_SIZE":
			c.CacheSize, err = strconv.Atoi(v)
		default:
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "%s=%q", key, v)
		}
	}
	return nil
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.CacheSize < 1 {
		return errors.Errorf("cache size must be positive, got %d", c.CacheSize)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log level")
	}
	return nil
}

// Logger builds the tool logger: a development logger at debug level, a
// production logger otherwise.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	zc := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
