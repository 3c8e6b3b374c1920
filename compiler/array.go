package compiler

import (
	"sync"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

type arrayData struct {
	elemOnce sync.Once
	elem     *TypeWrapper

	hostOnce sync.Once
	host     *host.Type
}

// newArrayWrapper builds the array class name, whose component type is
// elem. Arrays belong to the loader of their innermost element.
func newArrayWrapper(name string, elem *TypeWrapper) *TypeWrapper {
	l := elem.loader
	inner := elem
	for inner.kind == KindArray {
		inner = inner.ElementType()
	}
	mods := classfile.Final | classfile.Abstract
	if inner.kind == KindPrimitive || inner.IsPublic() {
		mods |= classfile.Public
	}
	tw := newTypeWrapper(KindArray, name, mods, l, l.rt.objectWrapper())
	tw.array = &arrayData{}
	tw.array.elemOnce.Do(func() { tw.array.elem = elem })

	arrayClone := host.Core().Array.GetMethod("Clone")
	md := NewMethodDescriptor(l, "clone", "()Ljava.lang.Object;")
	clone := MethodOp(host.ICALLVIRT, arrayClone)
	mw := newMethodWrapper(tw, md, arrayClone, nil, classfile.Public, true)
	mw.setEmitters(clone, clone, nil)
	tw.AddMethod(mw)
	return tw
}

func (tw *TypeWrapper) arrayHostType() *host.Type {
	tw.array.hostOnce.Do(func() {
		tw.array.host = tw.ElementType().TypeAsArrayType().MakeArrayType()
	})
	return tw.array.host
}

// arrayInterfaces returns the interfaces every array class implements.
func (rt *Runtime) arrayInterfaces() []*TypeWrapper {
	rt.arrayIfacesOnce.Do(func() {
		for _, name := range []string{"java.lang.Cloneable", "java.io.Serializable"} {
			if tw, err := rt.bootstrap.LoadClass(name); err == nil {
				rt.arrayIfaces = append(rt.arrayIfaces, tw)
			}
		}
	})
	return rt.arrayIfaces
}
