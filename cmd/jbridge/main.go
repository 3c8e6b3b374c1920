// jbridge compiles Java class descriptions into a host module.
//
// Usage:
//
//	jbridge [global options] compile
//	jbridge [global options] run <class> <method> <signature> [args...]
//	jbridge [global options] dump <class>...
//
// Settings come from the --config file, then JBRIDGE_* variables (also read
// from the --env file), then the command line.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/nandub/ikvm-first-conversion-sub001/config"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	envFileFlag = cli.StringFlag{
		Name:  "env",
		Usage: "file of JBRIDGE_* variables",
		Value: ".env",
	}
	classPathFlag = cli.StringFlag{
		Name:  "classpath, cp",
		Usage: "directories, .toml, .class or .txtar files, separated by the list separator",
	}
	remapFlag = cli.StringFlag{
		Name:  "remap",
		Usage: "remap table replacing the built-in one",
	}
	outputFlag = cli.StringFlag{
		Name:  "out, o",
		Usage: "module file written by compile",
	}
	noJniFlag = cli.BoolFlag{
		Name:  "nojni",
		Usage: "native methods without an implementation throw UnsatisfiedLinkError",
	}
	nestedFlag = cli.BoolFlag{
		Name:  "nested",
		Usage: "compile member classes as nested host types",
	}
	logLevelFlag = cli.StringFlag{
		Name:  "loglevel",
		Usage: "debug, info, warn or error",
	}
	workersFlag = cli.IntFlag{
		Name:  "workers",
		Usage: "parallel class path readers",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "compile Java class descriptions into a host module"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		configFileFlag,
		envFileFlag,
		classPathFlag,
		remapFlag,
		outputFlag,
		noJniFlag,
		nestedFlag,
		logLevelFlag,
		workersFlag,
	}
	app.Commands = []cli.Command{
		compileCommand,
		runCommand,
		dumpCommand,
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "jbridge: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and applies the global flags over it.
func setup(ctx *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(ctx.GlobalString(configFileFlag.Name), ctx.GlobalString(envFileFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	if ctx.GlobalIsSet("classpath") {
		cfg.ClassPath = filepath.SplitList(ctx.GlobalString("classpath"))
	}
	if ctx.GlobalIsSet(remapFlag.Name) {
		cfg.Remap = ctx.GlobalString(remapFlag.Name)
	}
	if ctx.GlobalIsSet("out") {
		cfg.Output = ctx.GlobalString("out")
	}
	if ctx.GlobalBool(noJniFlag.Name) {
		cfg.NoJniStubs = true
	}
	if ctx.GlobalBool(nestedFlag.Name) {
		cfg.CompileInnerClassesAsNestedTypes = true
	}
	if ctx.GlobalIsSet(logLevelFlag.Name) {
		cfg.LogLevel = ctx.GlobalString(logLevelFlag.Name)
	}
	if ctx.GlobalIsSet(workersFlag.Name) {
		cfg.Workers = ctx.GlobalInt(workersFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
