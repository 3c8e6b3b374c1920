package compiler

import (
	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

type primitiveData struct {
	sig     byte
	keyword string
	host    *host.Type
}

var primitiveTable = []struct {
	sig     byte
	keyword string
	host    func(c *host.CoreLibrary) *host.Type
}{
	{'B', "byte", func(c *host.CoreLibrary) *host.Type { return c.SByte }},
	{'C', "char", func(c *host.CoreLibrary) *host.Type { return c.Char }},
	{'D', "double", func(c *host.CoreLibrary) *host.Type { return c.Double }},
	{'F', "float", func(c *host.CoreLibrary) *host.Type { return c.Single }},
	{'I', "int", func(c *host.CoreLibrary) *host.Type { return c.Int32 }},
	{'J', "long", func(c *host.CoreLibrary) *host.Type { return c.Int64 }},
	{'S', "short", func(c *host.CoreLibrary) *host.Type { return c.Int16 }},
	{'Z', "boolean", func(c *host.CoreLibrary) *host.Type { return c.Boolean }},
	{'V', "void", func(c *host.CoreLibrary) *host.Type { return c.Void }},
}

// newPrimitives builds the primitive wrappers owned by the bootstrap
// loader l.
func newPrimitives(l *ClassLoader) map[byte]*TypeWrapper {
	c := host.Core()
	out := make(map[byte]*TypeWrapper, len(primitiveTable))
	for _, p := range primitiveTable {
		tw := newTypeWrapper(KindPrimitive, "", classfile.Public|classfile.Abstract|classfile.Final, l, nil)
		tw.prim = &primitiveData{sig: p.sig, keyword: p.keyword, host: p.host(c)}
		out[p.sig] = tw
	}
	return out
}

// primitiveForHost returns the primitive wrapper for a host scalar type, or
// nil. Only the types that have a Java counterpart qualify.
func (rt *Runtime) primitiveForHost(t *host.Type) *TypeWrapper {
	for _, tw := range rt.primitives {
		if tw.prim.host == t {
			return tw
		}
	}
	return nil
}

// verifierNull is the type of the null constant as seen by the verifier.
// It is assignable to every reference type.
var verifierNull = newTypeWrapper(KindVerifier, "null", 0, nil, nil)

// VerifierNull returns the verifier's null type.
func VerifierNull() *TypeWrapper { return verifierNull }

// newUnloadable returns a placeholder for a class that l could not load.
// Placeholders are not cached, so a later definition of the class is not
// shadowed by them.
func newUnloadable(l *ClassLoader, name string) *TypeWrapper {
	return newTypeWrapper(KindUnloadable, name, 0, l, nil)
}
