package host

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Disassemble writes a readable listing of the module.
func (m *Module) Disassemble(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, ".module %s // mvid %s", m.Name, m.MVID)
	if m.Java {
		fmt.Fprint(bw, " java")
	}
	fmt.Fprintln(bw)
	for _, r := range m.References {
		fmt.Fprintf(bw, ".reference %s\n", r.Name)
	}
	for _, a := range m.Attributes {
		fmt.Fprintf(bw, "%s\n", a)
	}
	for _, t := range m.Types {
		fmt.Fprintln(bw)
		writeType(bw, t)
	}
	return bw.Flush()
}

// DisassembleType returns the listing of a single type.
func DisassembleType(t *Type) string {
	var b strings.Builder
	bw := bufio.NewWriter(&b)
	writeType(bw, t)
	bw.Flush()
	return b.String()
}

func writeType(w *bufio.Writer, t *Type) {
	for _, a := range t.Attributes {
		fmt.Fprintf(w, "%s\n", a)
	}
	fmt.Fprintf(w, ".class %s %s", t.Attrs, t.FullName())
	if t.Base != nil {
		fmt.Fprintf(w, " extends %s", t.Base)
	}
	if len(t.Interfaces) > 0 {
		names := make([]string, len(t.Interfaces))
		for i, it := range t.Interfaces {
			names[i] = it.FullName()
		}
		fmt.Fprintf(w, " implements %s", strings.Join(names, ", "))
	}
	fmt.Fprintln(w, " {")
	for _, f := range t.Fields {
		for _, a := range f.Attributes {
			fmt.Fprintf(w, "  %s\n", a)
		}
		fmt.Fprintf(w, "  .field %s %s %s", f.Attrs, typeName(f.Type), f.Name)
		if f.Constant != nil {
			fmt.Fprintf(w, " = %#v", f.Constant)
		}
		fmt.Fprintln(w)
	}
	for _, p := range t.Properties {
		fmt.Fprintf(w, "  .property %s %s", typeName(p.Type), p.Name)
		if p.Getter != nil {
			fmt.Fprintf(w, " get=%s", p.Getter.Name)
		}
		if p.Setter != nil {
			fmt.Fprintf(w, " set=%s", p.Setter.Name)
		}
		fmt.Fprintln(w)
	}
	for _, m := range t.Methods {
		for _, a := range m.Attributes {
			fmt.Fprintf(w, "  %s\n", a)
		}
		fmt.Fprintf(w, "  .method %s %s%s", m.Attrs, m.Name, m.Sig())
		if m.Impl&ImplSynchronized != 0 {
			fmt.Fprint(w, " synchronized")
		}
		if m.Impl&ImplInternalCall != 0 {
			fmt.Fprint(w, " internalcall")
		}
		body := m.Body
		if m.il != nil {
			body = m.il.insts
		}
		if len(body) == 0 {
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintln(w, " {")
		for pc, inst := range body {
			fmt.Fprintf(w, "    IL_%04d: %s\n", pc, inst)
		}
		fmt.Fprintln(w, "  }")
	}
	for _, ov := range t.Overrides {
		fmt.Fprintf(w, "  .override %s with %s\n", ov.Decl, ov.Body.Name)
	}
	fmt.Fprintln(w, "}")
}
