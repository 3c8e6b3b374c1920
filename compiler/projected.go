package compiler

import (
	"sync"

	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// projectedData is the payload of wrappers over existing host types:
// Remapped, Compiled and Foreign.
type projectedData struct {
	host       *host.Type
	ghostIface *host.Type // Nested __Interface of a compiled ghost

	ifaceOnce  sync.Once
	interfaces []*TypeWrapper

	innerOnce sync.Once
	inner     []*TypeWrapper

	// Member publication. Concurrent first lookups converge on one pass.
	pubMu     sync.Mutex
	published bool

	remap        *remappedData // Remapped only
	remappedHost bool          // Foreign view of the host type of a remapped class
}

func (tw *TypeWrapper) projectedInnerClasses() []*TypeWrapper {
	p := tw.proj
	p.innerOnce.Do(func() {
		rt := tw.loader.rt
		for _, n := range p.host.NestedTypes {
			if isHidden(n) || n == p.ghostIface {
				continue
			}
			if tw.kind == KindForeign && !n.IsPublic() {
				continue
			}
			if tw.kind == KindForeign {
				p.inner = append(p.inner, rt.foreignWrapper(n))
			} else {
				p.inner = append(p.inner, rt.WrapperFromHostType(n))
			}
		}
	})
	return p.inner
}

func (tw *TypeWrapper) projectedDeclaringType() *TypeWrapper {
	outer := tw.proj.host.DeclaringType
	if outer == nil {
		return nil
	}
	if tw.kind == KindForeign {
		return tw.loader.rt.foreignWrapper(outer)
	}
	return tw.loader.rt.WrapperFromHostType(outer)
}

// javaSigOf renders the Java signature of a host method. Parameters typed
// as Object because their class could not be loaded carry the original
// name in an UnloadableType attribute.
func (rt *Runtime) javaSigOf(m *host.Method) string {
	sig := "("
	for i, p := range m.Params {
		sig += rt.javaTypeSig(p, m.ParamAttributes[i+1])
	}
	sig += ")"
	if m.Return == nil {
		return sig + "V"
	}
	return sig + rt.javaTypeSig(m.Return, m.ParamAttributes[0])
}

func (rt *Runtime) javaTypeSig(t *host.Type, attrs []host.Attribute) string {
	for _, a := range attrs {
		if a.Type == AttrUnloadableType && len(a.Args) > 0 {
			return FieldSigName(a.Args[0])
		}
	}
	return rt.WrapperFromHostType(t).SigName()
}

// javaMethodName maps host constructor names to their Java names.
func javaMethodName(m *host.Method) string {
	switch m.Name {
	case ".ctor":
		return "<init>"
	case ".cctor":
		return "<clinit>"
	}
	return m.Name
}
