package classfile

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	parser "github.com/wreulicke/classfile-parser"
)

// Parse reads a binary class file.
//
// TODO: read the ConstantValue and InnerClasses attributes once the parser
// exposes them; text descriptions carry both today.
func Parse(r io.Reader) (*Class, error) {
	cf, err := parser.New(r).Parse()
	if err != nil {
		return nil, errors.Wrap(err, "parse class file")
	}
	cp := cf.ConstantPool

	name, err := cf.ThisClassName()
	if err != nil {
		return nil, errors.Wrap(err, "this class")
	}
	c := &Class{
		Name:       dotted(name),
		Modifiers:  modifiers(cf.AccessFlags),
		Deprecated: cf.Deprecated() != nil,
	}
	if cf.SuperClass != 0 {
		super, err := cf.SuperClassName()
		if err != nil {
			return nil, errors.Wrapf(err, "%s: super class", c.Name)
		}
		c.SuperName = dotted(super)
	}
	for _, idx := range cf.Interfaces {
		iname, err := cp.GetClassName(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: interface", c.Name)
		}
		c.Interfaces = append(c.Interfaces, dotted(iname))
	}
	if sf := cf.SourceFile(); sf != nil {
		if utf8 := cp.LookupUtf8(sf.SourcefileIndex); utf8 != nil {
			c.SourceFile = utf8.String()
		}
	}

	for _, f := range cf.Fields {
		fname, err := f.Name(cp)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: field name", c.Name)
		}
		desc, err := f.Descriptor(cp)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s: descriptor", c.Name, fname)
		}
		c.Fields = append(c.Fields, &Field{
			Name:      fname,
			Signature: dotted(desc),
			Modifiers: modifiers(f.AccessFlags),
		})
	}

	for _, m := range cf.Methods {
		mname, err := m.Name(cp)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: method name", c.Name)
		}
		desc, err := m.Descriptor(cp)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s: descriptor", c.Name, mname)
		}
		md := &Method{
			Name:      mname,
			Signature: dotted(desc),
			Modifiers: modifiers(m.AccessFlags),
		}
		if exc := m.Exceptions(); exc != nil {
			for _, idx := range exc.ExceptionIndexes {
				ename, err := cp.GetClassName(idx)
				if err != nil {
					return nil, errors.Wrapf(err, "%s.%s: exception", c.Name, mname)
				}
				md.Exceptions = append(md.Exceptions, dotted(ename))
			}
		}
		if code := m.Code(); code != nil {
			md.Code = &Code{
				MaxStack:  int(code.MaxStack),
				MaxLocals: int(code.MaxLocals),
				Bytecode:  code.Codes,
			}
		}
		c.Methods = append(c.Methods, md)
	}
	return c, nil
}

func modifiers(flags parser.AccessFlags) Modifiers {
	var m Modifiers
	for bit := uint(0); bit < 16; bit++ {
		if flags.Is(1 << bit) {
			m |= 1 << bit
		}
	}
	return m
}

func dotted(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}
