package host

import "sync"

// CoreLibrary is the built-in module every other module implicitly
// references. Its methods carry no IL; an execution engine supplies them.
type CoreLibrary struct {
	Module *Module

	Object            *Type
	ValueType         *Type
	Enum              *Type
	String            *Type
	Exception         *Type
	NullReference     *Type
	InvalidCast       *Type
	Array             *Type
	Delegate          *Type
	MulticastDelegate *Type
	IComparable       *Type
	ICloneable        *Type
	IntPtr            *Type
	Void              *Type
	Boolean           *Type
	SByte             *Type
	Byte              *Type
	Char              *Type
	Int16             *Type
	Int32             *Type
	Int64             *Type
	Single            *Type
	Double            *Type
	RuntimeTypeHandle *Type
	RuntimeHelpers    *Type
	JNI               *Type

	primitives map[*Type]bool
}

var (
	coreOnce sync.Once
	core     *CoreLibrary
)

// CoreModuleName is the name of the core library module.
const CoreModuleName = "mscorlib"

// Core returns the shared core library.
func Core() *CoreLibrary {
	coreOnce.Do(buildCore)
	return core
}

func coreModule() *Module { return Core().Module }

func buildCore() {
	m := &Module{Name: CoreModuleName, index: make(map[string]*Type)}
	c := &CoreLibrary{Module: m, primitives: make(map[*Type]bool)}

	def := func(name string, attrs TypeAttributes, base *Type) *Type {
		t := &Type{Name: name, Attrs: attrs, Base: base, Module: m, created: true}
		m.addType(t)
		return t
	}
	method := func(t *Type, name string, attrs MethodAttributes, ret *Type, params ...*Type) *Method {
		md := &Method{
			Name:          name,
			Attrs:         attrs | MethodHideBySig,
			Impl:          ImplInternalCall,
			Return:        ret,
			Params:        params,
			DeclaringType: t,
		}
		t.Methods = append(t.Methods, md)
		return md
	}
	const (
		pub     = MethodPublic
		virt    = MethodPublic | MethodVirtual
		newslot = MethodPublic | MethodVirtual | MethodNewSlot
		ctor    = MethodPublic | MethodSpecialName | MethodRTSpecialName
		static  = MethodPublic | MethodStatic
		iface   = MethodPublic | MethodVirtual | MethodNewSlot | MethodAbstract
	)

	c.Object = def("System.Object", TypePublic|TypeSerializable, nil)
	c.ValueType = def("System.ValueType", TypePublic|TypeAbstract|TypeSerializable, c.Object)
	c.Enum = def("System.Enum", TypePublic|TypeAbstract|TypeSerializable, c.ValueType)
	c.Void = def("System.Void", TypePublic|TypeSealed, c.ValueType)

	prim := func(name string) *Type {
		t := def(name, TypePublic|TypeSealed|TypeSerializable, c.ValueType)
		c.primitives[t] = true
		return t
	}
	c.Boolean = prim("System.Boolean")
	c.SByte = prim("System.SByte")
	c.Byte = prim("System.Byte")
	c.Char = prim("System.Char")
	c.Int16 = prim("System.Int16")
	c.Int32 = prim("System.Int32")
	c.Int64 = prim("System.Int64")
	c.Single = prim("System.Single")
	c.Double = prim("System.Double")
	c.IntPtr = prim("System.IntPtr")

	c.String = def("System.String", TypePublic|TypeSealed|TypeSerializable, c.Object)
	c.IComparable = def("System.IComparable", TypePublic|TypeInterface|TypeAbstract, nil)
	c.ICloneable = def("System.ICloneable", TypePublic|TypeInterface|TypeAbstract, nil)
	c.Exception = def("System.Exception", TypePublic|TypeSerializable, c.Object)
	c.NullReference = def("System.NullReferenceException", TypePublic|TypeSerializable, c.Exception)
	c.InvalidCast = def("System.InvalidCastException", TypePublic|TypeSerializable, c.Exception)
	c.Array = def("System.Array", TypePublic|TypeAbstract|TypeSerializable, c.Object)
	c.Array.Interfaces = []*Type{c.ICloneable}
	c.Delegate = def("System.Delegate", TypePublic|TypeAbstract|TypeSerializable, c.Object)
	c.MulticastDelegate = def("System.MulticastDelegate", TypePublic|TypeAbstract|TypeSerializable, c.Delegate)
	c.RuntimeTypeHandle = def("System.RuntimeTypeHandle", TypePublic|TypeSealed, c.ValueType)
	c.RuntimeHelpers = def("System.Runtime.CompilerServices.RuntimeHelpers", TypePublic|TypeSealed|TypeAbstract, c.Object)
	c.JNI = def("IKVM.Runtime.JNI", TypePublic|TypeSealed|TypeAbstract, c.Object)

	method(c.Object, ".ctor", ctor, nil)
	method(c.Object, "ToString", virt, c.String)
	method(c.Object, "Equals", virt, c.Boolean, c.Object)
	method(c.Object, "GetHashCode", virt, c.Int32)

	method(c.String, "get_Length", pub, c.Int32)
	method(c.String, "get_Chars", pub, c.Char, c.Int32)
	method(c.String, "Concat", static, c.String, c.String, c.String)
	method(c.String, "CompareTo", virt|MethodFinal|MethodNewSlot, c.Int32, c.Object)
	method(c.String, "ToString", virt, c.String)
	method(c.String, "Equals", virt, c.Boolean, c.Object)
	method(c.String, "GetHashCode", virt, c.Int32)
	c.String.Interfaces = []*Type{c.IComparable, c.ICloneable}
	method(c.String, "Clone", virt|MethodFinal|MethodNewSlot, c.Object)

	method(c.IComparable, "CompareTo", iface, c.Int32, c.Object)
	method(c.ICloneable, "Clone", iface, c.Object)

	method(c.Exception, ".ctor", ctor, nil)
	method(c.Exception, ".ctor", ctor, nil, c.String)
	method(c.Exception, "get_Message", newslot, c.String)
	method(c.Exception, "ToString", virt, c.String)

	for _, t := range []*Type{c.NullReference, c.InvalidCast} {
		method(t, ".ctor", ctor, nil)
		method(t, ".ctor", ctor, nil, c.String)
	}

	method(c.Array, "get_Length", pub, c.Int32)
	method(c.Array, "Clone", virt|MethodFinal|MethodNewSlot, c.Object)

	method(c.Enum, "ToString", virt, c.String)
	method(c.ValueType, "ToString", virt, c.String)

	method(c.MulticastDelegate, ".ctor", MethodFamily|MethodSpecialName|MethodRTSpecialName, nil, c.Object, c.IntPtr)

	method(c.RuntimeHelpers, "RunClassConstructor", static, nil, c.RuntimeTypeHandle)
	method(c.JNI, "GetFuncPtr", static, c.IntPtr, c.String, c.String, c.String)

	core = c
}
