// jbdump prints a readable listing of a host module file.
//
// Usage:
//
//	jbdump [-ref lib.hmod]... module.hmod
//
// The runtime module is always available to resolve references; other
// referenced modules are named with -ref, dependencies first.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nandub/ikvm-first-conversion-sub001/compiler"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

type fileList []string

func (l *fileList) String() string     { return strings.Join(*l, ",") }
func (l *fileList) Set(s string) error { *l = append(*l, s); return nil }

func main() {
	var refs fileList
	flag.Var(&refs, "ref", "referenced module file (repeatable)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: jbdump [-ref lib.hmod]... module.hmod\n")
		os.Exit(1)
	}
	if err := dump(os.Stdout, flag.Arg(0), refs); err != nil {
		fmt.Fprintf(os.Stderr, "jbdump: %v\n", err)
		os.Exit(1)
	}
}

func dump(w io.Writer, file string, refs []string) error {
	rt, err := compiler.NewRuntime(compiler.Options{})
	if err != nil {
		return err
	}
	known := []*host.Module{rt.RuntimeModule()}
	for _, ref := range refs {
		m, err := decodeFile(ref, known)
		if err != nil {
			return err
		}
		known = append(known, m)
	}
	m, err := decodeFile(file, known)
	if err != nil {
		return err
	}
	return m.Disassemble(w)
}

func decodeFile(file string, refs []*host.Module) (*host.Module, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	m, err := host.Decode(data, refs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return m, nil
}
