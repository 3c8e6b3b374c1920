// Package classfile holds parsed class descriptions: the binary class file
// reader, a TOML description format and lookup sources. Class and member
// names are dotted ("java.lang.Object"), and so are the class names inside
// signatures ("(Ljava.lang.String;)V").
package classfile

import "strings"

// Class is an immutable description of one class or interface.
type Class struct {
	Name         string
	Modifiers    Modifiers
	SuperName    string // Empty for java.lang.Object and interfaces without a super class
	Interfaces   []string
	Fields       []*Field
	Methods      []*Method
	InnerClasses []InnerClass
	SourceFile   string
	Deprecated   bool
}

// Field describes a field.
type Field struct {
	Name      string
	Signature string
	Modifiers Modifiers
	Constant  any // int32, int64, float32, float64 or string
}

func (f *Field) IsTransient() bool { return f.Modifiers&Transient != 0 }
func (f *Field) IsVolatile() bool  { return f.Modifiers&Volatile != 0 }

// Method describes a method or constructor.
type Method struct {
	Name       string
	Signature  string
	Modifiers  Modifiers
	Code       *Code
	Exceptions []string
	Deprecated bool
}

func (m *Method) IsClassInitializer() bool { return m.Name == "<clinit>" }
func (m *Method) IsConstructor() bool      { return m.Name == "<init>" }

// Code is a method body. Binary class files carry Bytecode; text
// descriptions carry Asm lines for the assembler body compiler.
type Code struct {
	MaxStack  int
	MaxLocals int
	Bytecode  []byte
	Asm       []string
}

// InnerClass is one record of the InnerClasses attribute.
type InnerClass struct {
	Inner     string
	Outer     string // Empty for local and anonymous classes
	Name      string // Simple name, empty for anonymous classes
	Modifiers Modifiers
}

func (c *Class) IsInterface() bool { return c.Modifiers.IsInterface() }
func (c *Class) IsAbstract() bool  { return c.Modifiers.IsAbstract() }
func (c *Class) IsFinal() bool     { return c.Modifiers.IsFinal() }
func (c *Class) IsPublic() bool    { return c.Modifiers.IsPublic() }

// PackageName returns the package part of the class name.
func (c *Class) PackageName() string {
	if i := strings.LastIndexByte(c.Name, '.'); i >= 0 {
		return c.Name[:i]
	}
	return ""
}

// Field returns the field with the given name, or nil.
func (c *Class) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Method returns the method with the given name and signature, or nil.
func (c *Class) Method(name, sig string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Signature == sig {
			return m
		}
	}
	return nil
}

// ClassInitializer returns <clinit>, or nil.
func (c *Class) ClassInitializer() *Method {
	return c.Method("<clinit>", "()V")
}

// OuterClass returns the class's own inner class record if it names a
// declaring class.
func (c *Class) OuterClass() (InnerClass, bool) {
	for _, ic := range c.InnerClasses {
		if ic.Inner == c.Name && ic.Outer != "" {
			return ic, true
		}
	}
	return InnerClass{}, false
}

// ReferencedTypes lists, in first-seen order, every class named by the
// super class, interfaces, member signatures, declared exceptions and inner
// class records. Array classes contribute their element class.
func (c *Class) ReferencedTypes() []string {
	var out []string
	seen := map[string]bool{c.Name: true}
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	add(c.SuperName)
	for _, i := range c.Interfaces {
		add(i)
	}
	for _, f := range c.Fields {
		for _, n := range SignatureClasses(f.Signature) {
			add(n)
		}
	}
	for _, m := range c.Methods {
		for _, n := range SignatureClasses(m.Signature) {
			add(n)
		}
		for _, e := range m.Exceptions {
			add(e)
		}
	}
	for _, ic := range c.InnerClasses {
		add(ic.Inner)
		add(ic.Outer)
	}
	return out
}

// SignatureClasses returns the class names in a field or method signature.
func SignatureClasses(sig string) []string {
	var out []string
	for i := 0; i < len(sig); i++ {
		if sig[i] != 'L' {
			continue
		}
		end := strings.IndexByte(sig[i:], ';')
		if end < 0 {
			break
		}
		out = append(out, sig[i+1:i+end])
		i += end
	}
	return out
}
