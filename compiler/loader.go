package compiler

import (
	"strings"
	"sync"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

const foreignPrefix = "cli."

// ClassLoader resolves Java class names to wrappers and compiles the
// classes of its source into its own Java module. Loading delegates to the
// parent first, as Java loaders do.
type ClassLoader struct {
	rt     *Runtime
	name   string
	source classfile.ClassSource
	parent *ClassLoader
	module *host.Module
	log    *zap.Logger

	types cmap.ConcurrentMap // Class name → *TypeWrapper

	defineMu sync.Mutex // Held while a class of this loader is defined
	finishMu sync.Mutex // Held while a class of this loader is finished

	failMu sync.Mutex
	failed error

	definedMu sync.Mutex
	defined   []*TypeWrapper
}

func newClassLoader(rt *Runtime, name string, src classfile.ClassSource, parent *ClassLoader, m *host.Module) *ClassLoader {
	return &ClassLoader{
		rt:     rt,
		name:   name,
		source: src,
		parent: parent,
		module: m,
		log:    rt.log.With(zap.String("loader", name)),
		types:  cmap.New(),
	}
}

func (l *ClassLoader) Name() string                  { return l.name }
func (l *ClassLoader) Parent() *ClassLoader          { return l.parent }
func (l *ClassLoader) Module() *host.Module          { return l.module }
func (l *ClassLoader) Runtime() *Runtime             { return l.rt }
func (l *ClassLoader) isBootstrap() bool             { return l == l.rt.bootstrap }
func (l *ClassLoader) String() string                { return l.name }
func (l *ClassLoader) Logger() *zap.Logger           { return l.log }
func (l *ClassLoader) Source() classfile.ClassSource { return l.source }

// Failed returns the critical failure that poisoned the loader, or nil.
func (l *ClassLoader) Failed() error {
	l.failMu.Lock()
	defer l.failMu.Unlock()
	return l.failed
}

func (l *ClassLoader) fail(err error) {
	l.failMu.Lock()
	if l.failed == nil {
		l.failed = err
	}
	l.failMu.Unlock()
}

// loadChain records the classes being defined on the current call path.
type loadChain struct {
	next   *loadChain
	loader *ClassLoader
	name   string
}

func (c *loadChain) holds(l *ClassLoader) bool {
	for ; c != nil; c = c.next {
		if c.loader == l {
			return true
		}
	}
	return false
}

func (c *loadChain) contains(l *ClassLoader, name string) bool {
	for ; c != nil; c = c.next {
		if c.loader == l && c.name == name {
			return true
		}
	}
	return false
}

// LoadClass returns the wrapper of the named class, defining it from the
// loader's source if needed. Array names use the signature form, for
// example "[Ljava.lang.String;".
func (l *ClassLoader) LoadClass(name string) (*TypeWrapper, error) {
	return l.loadClass(name, nil)
}

// LoadClassOrUnloadable is LoadClass with failures turned into an
// Unloadable placeholder.
func (l *ClassLoader) LoadClassOrUnloadable(name string) *TypeWrapper {
	tw, err := l.LoadClass(name)
	if err != nil {
		l.log.Debug("class is unloadable", zap.String("class", name), zap.Error(err))
		return newUnloadable(l, name)
	}
	return tw
}

func (l *ClassLoader) cached(name string) *TypeWrapper {
	if v, ok := l.types.Get(name); ok {
		return v.(*TypeWrapper)
	}
	return nil
}

// publish caches tw under name; an earlier entry wins.
func (l *ClassLoader) publish(name string, tw *TypeWrapper) *TypeWrapper {
	if l.types.SetIfAbsent(name, tw) {
		return tw
	}
	return l.cached(name)
}

func (l *ClassLoader) loadClass(name string, chain *loadChain) (*TypeWrapper, error) {
	if tw := l.cached(name); tw != nil {
		return tw, nil
	}
	if name == "" {
		return nil, &ClassNotFoundError{name}
	}
	if name[0] == '[' {
		return l.loadArray(name, chain)
	}
	delegate := l.parent
	if delegate == nil && !l.isBootstrap() {
		delegate = l.rt.bootstrap
	}
	if delegate != nil {
		tw, err := delegate.loadClass(name, chain)
		if err == nil {
			return l.publish(name, tw), nil
		}
		var cnf *ClassNotFoundError
		if !errors.As(err, &cnf) {
			return nil, err
		}
	}
	if l.isBootstrap() {
		if tw := l.rt.remapped[name]; tw != nil {
			return tw, nil
		}
		if strings.HasPrefix(name, foreignPrefix) {
			if t := l.rt.findForeignType(name); t != nil {
				return l.publish(name, l.rt.foreignWrapper(t)), nil
			}
		}
		if t := l.rt.findCompiledType(name); t != nil && t.IsCreated() {
			return l.publish(name, l.rt.WrapperFromHostType(t)), nil
		}
	}
	if l.source == nil {
		return nil, &ClassNotFoundError{name}
	}
	c, err := l.source.Find(name)
	if err != nil {
		if errors.Is(err, classfile.ErrNotFound) {
			return nil, &ClassNotFoundError{name}
		}
		return nil, errors.Wrapf(err, "loading %s", name)
	}
	if c.Name != name {
		return nil, &NoClassDefFoundError{name + " (wrong name: " + c.Name + ")"}
	}
	return l.define(c, chain)
}

// define compiles c under the define lock of l.
func (l *ClassLoader) define(c *classfile.Class, chain *loadChain) (*TypeWrapper, error) {
	if chain.contains(l, c.Name) {
		return nil, &ClassCircularityError{c.Name}
	}
	if !chain.holds(l) {
		l.defineMu.Lock()
		defer l.defineMu.Unlock()
		if tw := l.cached(c.Name); tw != nil {
			return tw, nil
		}
	}
	tw, err := l.defineClass(c, &loadChain{next: chain, loader: l, name: c.Name})
	if err != nil {
		return nil, err
	}
	l.definedMu.Lock()
	l.defined = append(l.defined, tw)
	l.definedMu.Unlock()
	l.log.Debug("defined class", zap.String("class", c.Name))
	return tw, nil
}

// DefineClass compiles c in this loader. A class of the same name that is
// already loaded is a LinkageError.
func (l *ClassLoader) DefineClass(c *classfile.Class) (*TypeWrapper, error) {
	if l.cached(c.Name) != nil {
		return nil, &LinkageError{"duplicate class definition: " + c.Name}
	}
	return l.define(c, nil)
}

func (l *ClassLoader) loadArray(name string, chain *loadChain) (*TypeWrapper, error) {
	if !ValidFieldSignature(name) {
		return nil, &ClassNotFoundError{name}
	}
	var elem *TypeWrapper
	switch sig := name[1:]; sig[0] {
	case 'L':
		tw, err := l.loadClass(sig[1:len(sig)-1], chain)
		if err != nil {
			return nil, err
		}
		elem = tw
	case '[':
		tw, err := l.loadClass(sig, chain)
		if err != nil {
			return nil, err
		}
		elem = tw
	default:
		elem = l.rt.primitives[sig[0]]
	}
	owner := elem.loader
	tw := owner.cached(name)
	if tw == nil {
		tw = owner.publish(name, newArrayWrapper(name, elem))
	}
	if owner != l {
		tw = l.publish(name, tw)
	}
	return tw, nil
}

// typeFromSig resolves one field signature. Classes that cannot be loaded
// resolve to Unloadable placeholders.
func (l *ClassLoader) typeFromSig(sig string) *TypeWrapper {
	switch sig[0] {
	case 'L':
		return l.LoadClassOrUnloadable(sig[1 : len(sig)-1])
	case '[':
		return l.LoadClassOrUnloadable(sig)
	}
	if p := l.rt.primitives[sig[0]]; p != nil {
		return p
	}
	panic("compiler: bad field signature " + sig)
}

// Defined returns the classes defined by this loader in definition order.
func (l *ClassLoader) Defined() []*TypeWrapper {
	l.definedMu.Lock()
	defer l.definedMu.Unlock()
	return append([]*TypeWrapper(nil), l.defined...)
}

// Finish finishes every class defined so far, including classes defined
// while finishing. It stops at the first failure.
func (l *ClassLoader) Finish() error {
	for done := 0; ; {
		all := l.Defined()
		if done == len(all) {
			return l.Failed()
		}
		for _, tw := range all[done:] {
			if err := tw.Finish(); err != nil {
				return err
			}
		}
		done = len(all)
	}
}

// EmitThrow emits code that throws the named Java error with msg. Classes
// without a (Ljava.lang.String;)V constructor fall back to System.Exception
// with the class name as the message prefix.
func (l *ClassLoader) EmitThrow(il *host.ILGenerator, class, msg string) {
	l.rt.emitThrow(il, class, msg)
}
