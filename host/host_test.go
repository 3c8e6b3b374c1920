package host

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeOperand(t *testing.T) {
	tests := []struct {
		val    int32
		nbytes int
	}{
		// 1-byte range: [-64, 63]
		{0, 1},
		{63, 1},
		{-1, 1},
		{-64, 1},

		// 2-byte range: [-8192, 8191]
		{64, 2},
		{-65, 2},
		{8191, 2},
		{-8192, 2},

		// 4-byte range
		{8192, 4},
		{-8193, 4},
		{0x1FFFFFFF, 4},
		{-0x20000000, 4},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		encodeOperand(&buf, tt.val)
		encoded := buf.Bytes()
		if len(encoded) != tt.nbytes {
			t.Errorf("encodeOperand(%d): got %d bytes, want %d", tt.val, len(encoded), tt.nbytes)
			continue
		}
		r := &reader{data: encoded}
		decoded, err := r.operand()
		if err != nil {
			t.Errorf("operand(%d): %v", tt.val, err)
			continue
		}
		if decoded != tt.val {
			t.Errorf("round-trip operand %d: got %d", tt.val, decoded)
		}
	}
}

func TestOpStrings(t *testing.T) {
	for op := INOP; op < MaxOp; op++ {
		if op.String() == "" {
			t.Errorf("opcode %d has no name", op)
		}
	}
	if got := Op(250).String(); got != "???" {
		t.Errorf("Op(250) = %q, want ???", got)
	}
}

// shapeModule builds an interface, an implementing class with a property,
// a literal field and a branchy method body.
func shapeModule(t *testing.T) *Module {
	t.Helper()
	c := Core()
	m := NewModule("shapes")
	m.Java = true
	m.SetCustomAttribute(NewAttribute("JavaModule"))

	shape := m.DefineType("demo.Shape", TypePublic|TypeInterface|TypeAbstract, nil)
	area := shape.DefineMethod("area", MethodPublic|MethodVirtual|MethodAbstract|MethodNewSlot, c.Int32)
	if err := shape.CreateType(); err != nil {
		t.Fatalf("create Shape: %v", err)
	}

	sq := m.DefineType("demo.Square", TypePublic, nil)
	sq.AddInterfaceImplementation(shape)
	sq.SetCustomAttribute(NewAttribute("Implements", "demo.Shape"))
	side := sq.DefineField("side", c.Int32, FieldPrivate)
	k := sq.DefineField("K", c.Int32, FieldPublic|FieldStatic|FieldLiteral)
	k.SetConstant(int32(42))
	ctor := sq.DefineConstructor(MethodPublic, c.Int32)
	il := ctor.GetILGenerator()
	il.EmitInt(ILDARG, 0)
	il.EmitMethod(ICALL, c.Object.GetConstructor())
	il.EmitInt(ILDARG, 0)
	il.EmitInt(ILDARG, 1)
	il.EmitField(ISTFLD, side)
	il.Emit(IRET)

	impl := sq.DefineMethod("area$impl", MethodPrivate|MethodVirtual|MethodFinal|MethodNewSlot, c.Int32)
	il = impl.GetILGenerator()
	done := il.DefineLabel()
	tmp := il.DeclareLocal(c.Int32)
	il.EmitInt(ILDARG, 0)
	il.EmitField(ILDFLD, side)
	il.EmitLocal(ISTLOC, tmp)
	il.EmitLocal(ILDLOC, tmp)
	il.EmitLabel(IBRTRUE, done)
	il.EmitInt(ILDCI4, 0)
	il.Emit(IRET)
	il.MarkLabel(done)
	il.EmitLocal(ILDLOC, tmp)
	il.EmitLocal(ILDLOC, tmp)
	il.Emit(IMUL)
	il.Emit(IRET)
	sq.DefineMethodOverride(impl, area)

	getter := sq.DefineMethod("get_side", MethodPublic|MethodSpecialName, c.Int32)
	il = getter.GetILGenerator()
	il.EmitInt(ILDARG, 0)
	il.EmitField(ILDFLD, side)
	il.Emit(IRET)
	getter.SetParamAttribute(0, NewAttribute("UnloadableType", "demo.Missing"))
	p := sq.DefineProperty("side", c.Int32)
	p.SetGetMethod(getter)

	if err := sq.CreateType(); err != nil {
		t.Fatalf("create Square: %v", err)
	}
	return m
}

type typeSummary struct {
	Name       string
	Attrs      TypeAttributes
	Base       string
	Interfaces []string
	Attributes []Attribute
	Fields     []string
	Methods    []string
	Bodies     map[string][]string
	Overrides  []string
	Properties []string
}

func summarize(m *Module) []typeSummary {
	var out []typeSummary
	for _, t := range m.Types {
		s := typeSummary{Name: t.FullName(), Attrs: t.Attrs, Attributes: t.Attributes, Bodies: map[string][]string{}}
		if t.Base != nil {
			s.Base = t.Base.FullName()
		}
		for _, i := range t.Interfaces {
			s.Interfaces = append(s.Interfaces, i.FullName())
		}
		for _, f := range t.Fields {
			s.Fields = append(s.Fields, f.Attrs.String()+" "+f.Name+":"+typeName(f.Type)+" "+fmtConst(f.Constant))
		}
		for _, md := range t.Methods {
			s.Methods = append(s.Methods, md.Attrs.String()+" "+md.Name+md.Sig())
			var body []string
			for _, inst := range md.Body {
				body = append(body, inst.String())
			}
			s.Bodies[md.Name] = body
		}
		for _, ov := range t.Overrides {
			s.Overrides = append(s.Overrides, ov.Body.Name+"->"+ov.Decl.String())
		}
		for _, p := range t.Properties {
			s.Properties = append(s.Properties, p.Name+"/"+p.Getter.Name)
		}
		out = append(out, s)
	}
	return out
}

func fmtConst(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("= %T %v", v, v)
}

func TestModuleRoundTrip(t *testing.T) {
	m := shapeModule(t)
	data, err := m.EncodeToBytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != m.Name || got.MVID != m.MVID || !got.Java {
		t.Errorf("header = %q %v java=%v, want %q %v java=true", got.Name, got.MVID, got.Java, m.Name, m.MVID)
	}
	if diff := cmp.Diff(summarize(m), summarize(got)); diff != "" {
		t.Errorf("decoded module differs (-want +got):\n%s", diff)
	}
	sq := got.FindType("demo.Square")
	if sq == nil || !sq.IsCreated() {
		t.Fatalf("decoded Square missing or not created")
	}
	if k := sq.GetField("K"); k == nil || k.Constant != int32(42) {
		t.Errorf("K constant = %v, want 42", k)
	}
	getter := sq.GetMethod("get_side")
	if a := getter.ParamAttributes[0]; len(a) != 1 || a[0].Args[0] != "demo.Missing" {
		t.Errorf("return attribute = %v", a)
	}

	// Encoding is deterministic.
	again, err := got.EncodeToBytes()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Errorf("re-encoded module differs: %d vs %d bytes", len(data), len(again))
	}
}

func TestDecodeErrors(t *testing.T) {
	m := shapeModule(t)
	data, err := m.EncodeToBytes()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data[:len(data)/2]); err == nil {
		t.Errorf("truncated module decoded without error")
	}
	if _, err := Decode([]byte{0x01}); err == nil {
		t.Errorf("bad magic decoded without error")
	}

	user := NewModule("user")
	user.AddReference(m)
	u := user.DefineType("demo.User", TypePublic, m.FindType("demo.Square"))
	if err := u.CreateType(); err != nil {
		t.Fatalf("create User: %v", err)
	}
	udata, err := user.EncodeToBytes()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(udata); err == nil {
		t.Errorf("decode without reference succeeded")
	}
	got, err := Decode(udata, m)
	if err != nil {
		t.Fatalf("decode with reference: %v", err)
	}
	if base := got.FindType("demo.User").Base; base != m.FindType("demo.Square") {
		t.Errorf("base = %v, want demo.Square from the referenced module", base)
	}
}

func TestCreateTypeRules(t *testing.T) {
	c := Core()
	tests := []struct {
		name  string
		build func(m *Module) *Type
		want  string // substring of the error, empty for success
	}{
		{
			name: "unimplemented interface method",
			build: func(m *Module) *Type {
				i := m.DefineType("I", TypePublic|TypeInterface|TypeAbstract, nil)
				i.DefineMethod("f", MethodPublic|MethodVirtual|MethodAbstract|MethodNewSlot, nil)
				mustCreate(i)
				x := m.DefineType("X", TypePublic, nil)
				x.AddInterfaceImplementation(i)
				return x
			},
			want: "has no implementation",
		},
		{
			name: "abstract type still needs interface slots",
			build: func(m *Module) *Type {
				i := m.DefineType("I", TypePublic|TypeInterface|TypeAbstract, nil)
				i.DefineMethod("f", MethodPublic|MethodVirtual|MethodAbstract|MethodNewSlot, nil)
				mustCreate(i)
				x := m.DefineType("X", TypePublic|TypeAbstract, nil)
				x.AddInterfaceImplementation(i)
				return x
			},
			want: "has no implementation",
		},
		{
			name: "abstract placeholder satisfies an abstract type",
			build: func(m *Module) *Type {
				i := m.DefineType("I", TypePublic|TypeInterface|TypeAbstract, nil)
				i.DefineMethod("f", MethodPublic|MethodVirtual|MethodAbstract|MethodNewSlot, nil)
				mustCreate(i)
				x := m.DefineType("X", TypePublic|TypeAbstract, nil)
				x.AddInterfaceImplementation(i)
				x.DefineMethod("f", MethodPublic|MethodVirtual|MethodAbstract|MethodNewSlot, nil)
				return x
			},
		},
		{
			name: "abstract method in concrete type",
			build: func(m *Module) *Type {
				x := m.DefineType("X", TypePublic, nil)
				x.DefineMethod("f", MethodPublic|MethodVirtual|MethodAbstract, nil)
				return x
			},
			want: "abstract method in concrete type",
		},
		{
			name: "inherited abstract method",
			build: func(m *Module) *Type {
				a := m.DefineType("A", TypePublic|TypeAbstract, nil)
				a.DefineMethod("f", MethodPublic|MethodVirtual|MethodAbstract|MethodNewSlot, nil)
				mustCreate(a)
				return m.DefineType("B", TypePublic, a)
			},
			want: "is not implemented",
		},
		{
			name: "override of final method",
			build: func(m *Module) *Type {
				a := m.DefineType("A", TypePublic, nil)
				ret(a.DefineMethod("f", MethodPublic|MethodVirtual|MethodFinal|MethodNewSlot, nil))
				mustCreate(a)
				b := m.DefineType("B", TypePublic, a)
				ret(b.DefineMethod("f", MethodPublic|MethodVirtual, nil))
				return b
			},
			want: "overrides final method",
		},
		{
			name: "narrowing access",
			build: func(m *Module) *Type {
				a := m.DefineType("A", TypePublic, nil)
				ret(a.DefineMethod("f", MethodPublic|MethodVirtual|MethodNewSlot, nil))
				mustCreate(a)
				b := m.DefineType("B", TypePublic, a)
				ret(b.DefineMethod("f", MethodFamily|MethodVirtual, nil))
				return b
			},
			want: "narrows access",
		},
		{
			name: "sealed base",
			build: func(m *Module) *Type {
				return m.DefineType("S", TypePublic, c.String)
			},
			want: "is sealed",
		},
		{
			name: "uncreated base",
			build: func(m *Module) *Type {
				a := m.DefineType("A", TypePublic, nil)
				return m.DefineType("B", TypePublic, a)
			},
			want: "is not created",
		},
		{
			name: "name override of object method",
			build: func(m *Module) *Type {
				a := m.DefineType("A", TypePublic, nil)
				g := a.DefineMethod("ToString", MethodPublic|MethodVirtual, c.String)
				il := g.GetILGenerator()
				il.EmitString(ILDSTR, "A")
				il.Emit(IRET)
				return a
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModule("test")
			ty := tt.build(m)
			err := ty.CreateType()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("CreateType: %v", err)
				}
				return
			}
			var tle *TypeLoadError
			if !errors.As(err, &tle) {
				t.Fatalf("CreateType error = %v, want TypeLoadError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("CreateType error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestCreatedTypeIsSealed(t *testing.T) {
	m := NewModule("test")
	x := m.DefineType("X", TypePublic, nil)
	if err := x.CreateType(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		err, _ := recover().(error)
		if !errors.Is(err, ErrTypeCreated) {
			t.Errorf("DefineField on a created type: recovered %v, want ErrTypeCreated", err)
		}
	}()
	x.DefineField("f", Core().Int32, FieldPublic)
}

func TestResolveVirtual(t *testing.T) {
	c := Core()
	lib := NewModule("lib")
	shape := lib.DefineType("Shape", TypePublic|TypeInterface|TypeAbstract, nil)
	area := shape.DefineMethod("area", MethodPublic|MethodVirtual|MethodAbstract|MethodNewSlot, c.Int32)
	mustCreate(shape)
	base := lib.DefineType("Base", TypePublic, nil)
	baseArea := ret(base.DefineMethod("area", MethodPublic|MethodVirtual|MethodNewSlot, c.Int32))
	mustCreate(base)

	// Same module: the inherited public method satisfies the interface.
	same := lib.DefineType("Same", TypePublic, base)
	same.AddInterfaceImplementation(shape)
	if err := same.CreateType(); err != nil {
		t.Fatalf("same-module subclass: %v", err)
	}
	if got := same.ResolveVirtual(area); got != baseArea {
		t.Errorf("Same: area resolves to %v, want %v", got, baseArea)
	}

	// Another module: the inherited method does not count.
	app := NewModule("app")
	derived := app.DefineType("Derived", TypePublic, base)
	derived.AddInterfaceImplementation(shape)
	if err := derived.CreateType(); err == nil {
		t.Fatalf("cross-module subclass created without an implementation")
	}

	tramp := app.DefineType("Tramp", TypePublic, base)
	tramp.AddInterfaceImplementation(shape)
	stub := tramp.DefineMethod("area", MethodPublic|MethodVirtual, c.Int32)
	il := stub.GetILGenerator()
	il.EmitInt(ILDARG, 0)
	il.EmitMethod(ICALL, baseArea)
	il.Emit(IRET)
	if err := tramp.CreateType(); err != nil {
		t.Fatalf("trampoline subclass: %v", err)
	}
	if got := tramp.ResolveVirtual(area); got != stub {
		t.Errorf("Tramp: area resolves to %v, want the trampoline", got)
	}
	if got := tramp.ResolveVirtual(baseArea); got != stub {
		t.Errorf("Tramp: Base.area resolves to %v, want the trampoline", got)
	}

	// Explicit override with another name.
	other := app.DefineType("Other", TypePublic, nil)
	other.AddInterfaceImplementation(shape)
	body := ret(other.DefineMethod("Shape$area", MethodPrivate|MethodVirtual|MethodFinal|MethodNewSlot, c.Int32))
	other.DefineMethodOverride(body, area)
	if err := other.CreateType(); err != nil {
		t.Fatalf("explicit override: %v", err)
	}
	if got := other.ResolveVirtual(area); got != body {
		t.Errorf("Other: area resolves to %v, want %v", got, body)
	}

	// Newslot hides instead of overriding.
	hide := app.DefineType("Hide", TypePublic, base)
	hidden := ret(hide.DefineMethod("area", MethodPublic|MethodVirtual|MethodNewSlot, c.Int32))
	mustCreate(hide)
	if got := hide.ResolveVirtual(baseArea); got != baseArea {
		t.Errorf("Hide: Base.area resolves to %v, want the base method", got)
	}
	if hidden.Slot() != hidden {
		t.Errorf("newslot method reuses a base slot")
	}
}

func TestArrayTypes(t *testing.T) {
	c := Core()
	a := c.String.MakeArrayType()
	if a != c.String.MakeArrayType() {
		t.Errorf("MakeArrayType is not interned")
	}
	if a.FullName() != "System.String[]" || a.Base != c.Array {
		t.Errorf("array = %s base %v", a.FullName(), a.Base)
	}
	oa := c.Object.MakeArrayType()
	if !oa.IsAssignableFrom(a) {
		t.Errorf("Object[] not assignable from String[]")
	}
	if oa.IsAssignableFrom(c.Int32.MakeArrayType()) {
		t.Errorf("Object[] assignable from Int32[]")
	}
	if !c.ICloneable.IsAssignableFrom(a) {
		t.Errorf("ICloneable not assignable from String[]")
	}
	if got := c.Module.FindType("System.String[][]"); got != a.MakeArrayType() {
		t.Errorf("FindType(String[][]) = %v", got)
	}
}

func TestDisassemble(t *testing.T) {
	m := shapeModule(t)
	var buf bytes.Buffer
	if err := m.Disassemble(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		".module shapes",
		".class public interface abstract demo.Shape",
		".field public static literal System.Int32 K = 42",
		"brtrue IL_0007",
		".override demo.Shape::area()System.Int32 with area$impl",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}

func mustCreate(t *Type) {
	if err := t.CreateType(); err != nil {
		panic(err)
	}
}

// ret gives m a body that returns a default value.
func ret(m *Method) *Method {
	il := m.GetILGenerator()
	if m.Return != nil {
		il.EmitInt(ILDCI4, 0)
	}
	il.Emit(IRET)
	return m
}
