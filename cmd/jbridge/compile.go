package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/txtar"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/compiler"
	"github.com/nandub/ikvm-first-conversion-sub001/config"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
	"github.com/nandub/ikvm-first-conversion-sub001/hostvm"
)

var (
	compileCommand = cli.Command{
		Action: compileAction,
		Name:   "compile",
		Usage:  "Compile every class on the class path and write the module",
		Description: `
The compile command loads and finishes every class found on the class path
and writes the resulting module to the output file.`,
	}
	runCommand = cli.Command{
		Action:    runAction,
		Name:      "run",
		Usage:     "Compile the class path and invoke a static method",
		ArgsUsage: "<class> <method> <signature> [args...]",
		Description: `
Arguments are converted to the parameter types of the signature. Only
primitive and java.lang.String parameters are accepted.`,
	}
	dumpCommand = cli.Command{
		Action:    dumpAction,
		Name:      "dump",
		Usage:     "Compile the class path and disassemble classes",
		ArgsUsage: "<class>...",
	}
)

// readClassPath reads the class path entries in parallel. Earlier entries
// win when a class is described more than once.
func readClassPath(ctx context.Context, entries []string, workers int) (classfile.MapSource, error) {
	found := make([]classfile.MapSource, len(entries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := readEntry(entry)
			if err != nil {
				return errors.Wrap(err, entry)
			}
			found[i] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(classfile.MapSource)
	for _, src := range found {
		for name, c := range src {
			if _, dup := out[name]; !dup {
				out[name] = c
			}
		}
	}
	return out, nil
}

func readEntry(path string) (classfile.MapSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return (&classfile.DirSource{Dir: path}).Classes()
	}
	switch filepath.Ext(path) {
	case ".txtar":
		a, err := txtar.ParseFile(path)
		if err != nil {
			return nil, err
		}
		return classfile.LoadArchive(a)
	case ".toml":
		classes, err := classfile.LoadTOMLFile(path)
		if err != nil {
			return nil, err
		}
		return classfile.NewMapSource(classes...), nil
	case ".class":
		c, err := classfile.ReadClassFile(path)
		if err != nil {
			return nil, err
		}
		return classfile.NewMapSource(c), nil
	}
	return nil, errors.New("unsupported class path entry")
}

// build is a compiled class path.
type build struct {
	rt     *compiler.Runtime
	loader *compiler.ClassLoader
}

// compileClassPath loads every class on the class path into a loader named
// after the output module and finishes the runtime.
func compileClassPath(cfg *config.Config, log *zap.Logger) (*build, error) {
	if len(cfg.ClassPath) == 0 {
		return nil, errors.New("empty class path")
	}
	opts := compiler.Options{
		NoJniStubs:                       cfg.NoJniStubs,
		CompileInnerClassesAsNestedTypes: cfg.CompileInnerClassesAsNestedTypes,
		Logger:                           log,
		ForeignCacheSize:                 cfg.CacheSize,
	}
	if cfg.Remap != "" {
		table, err := compiler.LoadRemapFile(cfg.Remap)
		if err != nil {
			return nil, err
		}
		opts.Remap = table
	}
	src, err := readClassPath(context.Background(), cfg.ClassPath, cfg.Workers)
	if err != nil {
		return nil, err
	}
	rt, err := compiler.NewRuntime(opts)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(cfg.Output), filepath.Ext(cfg.Output))
	loader := rt.NewClassLoader(name, src, nil)
	log.Info("Compiling class path", zap.String("module", name), zap.Int("classes", len(src)))
	for _, n := range src.Names() {
		if _, err := loader.LoadClass(n); err != nil {
			return nil, err
		}
	}
	if err := rt.Finish(); err != nil {
		return nil, err
	}
	return &build{rt: rt, loader: loader}, nil
}

func compileAction(ctx *cli.Context) error {
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	b, err := compileClassPath(cfg, log)
	if err != nil {
		return err
	}
	f, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	if err := b.loader.Module().Encode(f); err != nil {
		f.Close()
		return errors.Wrap(err, cfg.Output)
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Info("Wrote module", zap.String("file", cfg.Output), zap.Int("types", len(b.loader.Module().Types)))
	return nil
}

func runAction(ctx *cli.Context) error {
	if ctx.NArg() < 3 {
		return errors.New("run needs a class, a method and a signature")
	}
	args := ctx.Args()
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	b, err := compileClassPath(cfg, log)
	if err != nil {
		return err
	}
	class, name, sig := args[0], args[1], args[2]
	tw, err := b.loader.LoadClass(class)
	if err != nil {
		return err
	}
	md, err := descriptor(b.loader, name, sig)
	if err != nil {
		return err
	}
	mw := tw.Method(md, true)
	if mw == nil || mw.HostMethod() == nil {
		return errors.Errorf("no method %s.%s%s", class, name, sig)
	}
	if !mw.IsStatic() {
		return errors.Errorf("%s is not static", mw)
	}
	values, err := convertArgs(mw.ParameterTypes(), args[3:])
	if err != nil {
		return err
	}
	v, err := hostvm.New(b.rt.Modules()...).Invoke(mw.HostMethod(), values...)
	if err != nil {
		return err
	}
	if mw.ReturnType().SigName() != "V" {
		fmt.Fprintln(ctx.App.Writer, v)
	}
	return nil
}

// descriptor turns the panic of a malformed signature into an error.
func descriptor(l *compiler.ClassLoader, name, sig string) (md *compiler.MethodDescriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("bad signature %q", sig)
		}
	}()
	return compiler.NewMethodDescriptor(l, name, sig), nil
}

func convertArgs(params []*compiler.TypeWrapper, args []string) ([]hostvm.Value, error) {
	if len(args) != len(params) {
		return nil, errors.Errorf("want %d arguments, got %d", len(params), len(args))
	}
	out := make([]hostvm.Value, len(args))
	for i, p := range params {
		v, err := convertArg(p.SigName(), args[i])
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d", i+1)
		}
		out[i] = v
	}
	return out, nil
}

func convertArg(sig, s string) (hostvm.Value, error) {
	switch sig {
	case "Z":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		if b {
			return int32(1), nil
		}
		return int32(0), nil
	case "C":
		r := []rune(s)
		if len(r) != 1 {
			return nil, errors.Errorf("%q is not a char", s)
		}
		return int32(r[0]), nil
	case "B", "S", "I":
		bits := map[string]int{"B": 8, "S": 16, "I": 32}[sig]
		n, err := strconv.ParseInt(s, 0, bits)
		return int32(n), err
	case "J":
		return strconv.ParseInt(s, 0, 64)
	case "F":
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case "D":
		return strconv.ParseFloat(s, 64)
	case "Ljava.lang.String;":
		return s, nil
	}
	return nil, errors.Errorf("cannot pass %s from the command line", sig)
}

func dumpAction(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("dump needs at least one class")
	}
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	b, err := compileClassPath(cfg, log)
	if err != nil {
		return err
	}
	for _, class := range ctx.Args() {
		tw, err := b.loader.LoadClass(class)
		if err != nil {
			return err
		}
		t := tw.HostType()
		if t == nil {
			return errors.Errorf("%s has no host type", class)
		}
		fmt.Fprint(ctx.App.Writer, host.DisassembleType(t))
	}
	return nil
}
