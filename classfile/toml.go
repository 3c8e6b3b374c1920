package classfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

// Keys in description files are the Go field names of the table types.
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

type descriptionFile struct {
	Class []classTable
}

type classTable struct {
	Name       string
	Modifiers  []string
	Super      string
	Interfaces []string
	SourceFile string
	Deprecated bool
	Field      []fieldTable
	Method     []methodTable
	Inner      []innerTable
}

type fieldTable struct {
	Name      string
	Sig       string
	Modifiers []string
	Constant  string
}

type methodTable struct {
	Name       string
	Sig        string
	Modifiers  []string
	Exceptions []string
	Code       []string
	Deprecated bool
}

type innerTable struct {
	Inner     string
	Outer     string
	Name      string
	Modifiers []string
}

// LoadTOML reads class descriptions from a TOML document holding one or
// more [[Class]] tables. A class without Super extends java.lang.Object
// unless it is an interface or java.lang.Object itself.
func LoadTOML(r io.Reader) ([]*Class, error) {
	var doc descriptionFile
	if err := tomlSettings.NewDecoder(bufio.NewReader(r)).Decode(&doc); err != nil {
		return nil, err
	}
	out := make([]*Class, 0, len(doc.Class))
	for _, ct := range doc.Class {
		c, err := ct.class()
		if err != nil {
			return nil, errors.Wrapf(err, "class %s", ct.Name)
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadTOMLFile reads a description file, adding the file name to errors.
func LoadTOMLFile(path string) ([]*Class, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes, err := LoadTOML(f)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	} else if err != nil {
		err = errors.Wrap(err, path)
	}
	return classes, err
}

func (ct *classTable) class() (*Class, error) {
	if ct.Name == "" {
		return nil, errors.New("missing Name")
	}
	mods, err := ParseModifiers(ct.Modifiers)
	if err != nil {
		return nil, err
	}
	c := &Class{
		Name:       ct.Name,
		Modifiers:  mods,
		SuperName:  ct.Super,
		Interfaces: ct.Interfaces,
		SourceFile: ct.SourceFile,
		Deprecated: ct.Deprecated,
	}
	if c.SuperName == "" && !c.IsInterface() && c.Name != "java.lang.Object" {
		c.SuperName = "java.lang.Object"
	}
	for _, ft := range ct.Field {
		fm, err := ParseModifiers(ft.Modifiers)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", ft.Name)
		}
		f := &Field{Name: ft.Name, Signature: ft.Sig, Modifiers: fm}
		if ft.Constant != "" {
			if f.Constant, err = ParseConstant(ft.Sig, ft.Constant); err != nil {
				return nil, errors.Wrapf(err, "field %s", ft.Name)
			}
		}
		c.Fields = append(c.Fields, f)
	}
	for _, mt := range ct.Method {
		mm, err := ParseModifiers(mt.Modifiers)
		if err != nil {
			return nil, errors.Wrapf(err, "method %s%s", mt.Name, mt.Sig)
		}
		m := &Method{
			Name:       mt.Name,
			Signature:  mt.Sig,
			Modifiers:  mm,
			Exceptions: mt.Exceptions,
			Deprecated: mt.Deprecated,
		}
		if len(mt.Code) > 0 {
			m.Code = &Code{Asm: mt.Code}
		}
		c.Methods = append(c.Methods, m)
	}
	for _, it := range ct.Inner {
		im, err := ParseModifiers(it.Modifiers)
		if err != nil {
			return nil, errors.Wrapf(err, "inner class %s", it.Inner)
		}
		c.InnerClasses = append(c.InnerClasses, InnerClass{Inner: it.Inner, Outer: it.Outer, Name: it.Name, Modifiers: im})
	}
	return c, nil
}

// ParseConstant converts the text of a ConstantValue to the Go type the
// field signature calls for.
func ParseConstant(sig, text string) (any, error) {
	switch sig {
	case "I", "S", "B", "C", "Z":
		v, err := strconv.ParseInt(text, 0, 32)
		return int32(v), err
	case "J":
		return strconv.ParseInt(text, 0, 64)
	case "F":
		v, err := strconv.ParseFloat(text, 32)
		return float32(v), err
	case "D":
		return strconv.ParseFloat(text, 64)
	case "Ljava.lang.String;":
		return text, nil
	}
	return nil, errors.Errorf("no constant of type %s", sig)
}
