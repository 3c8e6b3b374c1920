package compiler

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nandub/ikvm-first-conversion-sub001/classfile"
	"github.com/nandub/ikvm-first-conversion-sub001/host"
)

// RuntimeModuleName is the Java module that holds the bootstrap classes.
const RuntimeModuleName = "IKVM.Runtime"

const defaultForeignCacheSize = 1024

// Options configure a Runtime.
type Options struct {
	// NoJniStubs makes native methods without an implementation throw
	// UnsatisfiedLinkError instead of binding through JNI.
	NoJniStubs bool

	// CompileInnerClassesAsNestedTypes nests member classes in the host type
	// of their outer class.
	CompileInnerClassesAsNestedTypes bool

	Logger *zap.Logger

	// Remap replaces the built-in remap table.
	Remap *RemapTable

	// BodyCompiler fills in method bodies. The default assembles the Asm
	// lines of a description and rejects bytecode.
	BodyCompiler BodyCompiler

	// ForeignCacheSize bounds the cache of resolved cli.* names.
	ForeignCacheSize int

	// BootstrapSource adds class descriptions to the bootstrap loader.
	BootstrapSource classfile.ClassSource
}

// Runtime owns the bootstrap loader, the remapped core classes and the
// registry that maps host types back to their wrappers.
type Runtime struct {
	opts Options
	log  *zap.Logger
	body BodyCompiler

	runtimeModule *host.Module
	bootstrap     *ClassLoader
	primitives    map[byte]*TypeWrapper

	mu      sync.Mutex
	modules []*host.Module // Modules added with AddModule
	loaders []*ClassLoader

	hostTypes cmap.ConcurrentMap // hostKey → *TypeWrapper
	foreign   *lru.Cache[string, *host.Type]

	remap         *RemapTable
	remapped      map[string]*TypeWrapper
	ghosts        map[string][]string // Ghost interface → implementer class names
	nativeMethods map[string]Emitter  // class.name+sig → body

	delegateIfaces map[*host.Type]*host.Type // Guarded by mu

	arrayIfacesOnce sync.Once
	arrayIfaces     []*TypeWrapper
}

// NewRuntime builds a runtime: the bootstrap loader, the remapped core
// classes and the standard error classes.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ForeignCacheSize <= 0 {
		opts.ForeignCacheSize = defaultForeignCacheSize
	}
	foreign, err := lru.New[string, *host.Type](opts.ForeignCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "foreign type cache")
	}
	rt := &Runtime{
		opts:      opts,
		log:       opts.Logger,
		body:      opts.BodyCompiler,
		hostTypes: cmap.New(),
		foreign:   foreign,
		remapped:  make(map[string]*TypeWrapper),
		ghosts:    make(map[string][]string),

		delegateIfaces: make(map[*host.Type]*host.Type),
	}
	if rt.body == nil {
		rt.body = AsmCompiler{}
	}
	rt.runtimeModule = host.NewModule(RuntimeModuleName)
	rt.runtimeModule.Java = true
	rt.runtimeModule.SetCustomAttribute(host.NewAttribute(AttrJavaModule))

	src, err := bootstrapSource(opts.BootstrapSource)
	if err != nil {
		return nil, err
	}
	rt.bootstrap = newClassLoader(rt, "bootstrap", src, nil, rt.runtimeModule)
	rt.primitives = newPrimitives(rt.bootstrap)

	table := opts.Remap
	if table == nil {
		if table, err = DefaultRemapTable(); err != nil {
			return nil, err
		}
	}
	if err := rt.loadRemappings(table); err != nil {
		return nil, errors.Wrap(err, "remap table")
	}
	if err := rt.defineRuntimeClasses(); err != nil {
		return nil, errors.Wrap(err, RuntimeModuleName)
	}
	return rt, nil
}

// Bootstrap returns the bootstrap class loader.
func (rt *Runtime) Bootstrap() *ClassLoader { return rt.bootstrap }

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *zap.Logger { return rt.log }

// RuntimeModule returns the module of the bootstrap classes.
func (rt *Runtime) RuntimeModule() *host.Module { return rt.runtimeModule }

// Primitive returns the wrapper of a primitive signature letter, or nil.
func (rt *Runtime) Primitive(sig byte) *TypeWrapper { return rt.primitives[sig] }

// NewClassLoader returns a loader that compiles classes found in src into a
// new Java module of the same name. A nil parent delegates to the bootstrap
// loader.
func (rt *Runtime) NewClassLoader(name string, src classfile.ClassSource, parent *ClassLoader) *ClassLoader {
	if parent == nil {
		parent = rt.bootstrap
	}
	m := host.NewModule(name)
	m.Java = true
	m.SetCustomAttribute(host.NewAttribute(AttrJavaModule))
	m.AddReference(rt.runtimeModule)
	for p := parent; p != nil && p != rt.bootstrap; p = p.parent {
		m.AddReference(p.module)
	}
	l := newClassLoader(rt, name, src, parent, m)
	rt.mu.Lock()
	rt.loaders = append(rt.loaders, l)
	rt.mu.Unlock()
	return l
}

// AddModule makes the types of m loadable through the bootstrap loader:
// types of Java modules under their Java names, others under cli.* names.
func (rt *Runtime) AddModule(m *host.Module) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, x := range rt.modules {
		if x == m {
			return
		}
	}
	rt.modules = append(rt.modules, m)
}

// Modules returns the runtime module, the modules of every class loader
// and the added modules.
func (rt *Runtime) Modules() []*host.Module {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := []*host.Module{rt.runtimeModule}
	for _, l := range rt.loaders {
		out = append(out, l.module)
	}
	return append(out, rt.modules...)
}

func (rt *Runtime) addedModules() []*host.Module {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]*host.Module(nil), rt.modules...)
}

func hostKey(t *host.Type) string {
	if t.Module == nil {
		return "!" + t.FullName()
	}
	return t.Module.MVID.String() + "!" + t.FullName()
}

// register records tw as the wrapper of t. The first registration wins.
func (rt *Runtime) register(t *host.Type, tw *TypeWrapper) *TypeWrapper {
	if rt.hostTypes.SetIfAbsent(hostKey(t), tw) {
		return tw
	}
	v, _ := rt.hostTypes.Get(hostKey(t))
	return v.(*TypeWrapper)
}

func (rt *Runtime) registered(t *host.Type) *TypeWrapper {
	if v, ok := rt.hostTypes.Get(hostKey(t)); ok {
		return v.(*TypeWrapper)
	}
	return nil
}

// WrapperFromHostType returns the wrapper that represents host type t:
// primitives, arrays, remapped and compiled classes, and any other type as
// a cli.* projection.
func (rt *Runtime) WrapperFromHostType(t *host.Type) *TypeWrapper {
	if t == nil || t == host.Core().Void {
		return rt.primitives['V']
	}
	if t.IsArray() {
		return rt.WrapperFromHostType(t.Elem).MakeArrayType(1)
	}
	if tw := rt.registered(t); tw != nil {
		return tw
	}
	if p := rt.primitiveForHost(t); p != nil {
		return p
	}
	if t.Module != nil && t.Module.Java {
		if t.DeclaringType != nil && t.Name == "__Interface" {
			return rt.WrapperFromHostType(t.DeclaringType)
		}
		if isHidden(t) && t.Base != nil {
			return rt.WrapperFromHostType(t.Base)
		}
		return rt.compiledWrapper(t)
	}
	return rt.foreignWrapper(t)
}

// objectWrapper returns java.lang.Object.
func (rt *Runtime) objectWrapper() *TypeWrapper { return rt.remapped["java.lang.Object"] }

// ghostImplementers returns the implementers of a ghost interface, or nil.
func (rt *Runtime) ghostImplementers(name string) []string { return rt.ghosts[name] }

// IsGhostName reports whether name is declared a ghost interface.
func (rt *Runtime) IsGhostName(name string) bool {
	_, ok := rt.ghosts[name]
	return ok
}

// findCompiledType looks a Java class name up in the Java modules known to
// the bootstrap loader.
func (rt *Runtime) findCompiledType(name string) *host.Type {
	modules := append([]*host.Module{rt.runtimeModule}, rt.addedModules()...)
	for _, m := range modules {
		if !m.Java {
			continue
		}
		if t := m.FindType(name); t != nil && !isHidden(t) {
			return t
		}
		for _, t := range m.Types {
			if a, ok := t.CustomAttribute(AttrInnerClass); ok && len(a.Args) > 0 && a.Args[0] == name {
				return t
			}
		}
	}
	return nil
}

// findForeignType resolves the host type of a cli.* name.
func (rt *Runtime) findForeignType(name string) *host.Type {
	if t, ok := rt.foreign.Get(name); ok {
		return t
	}
	full := strings.ReplaceAll(strings.TrimPrefix(name, foreignPrefix), "$", "+")
	var t *host.Type
	for _, m := range rt.addedModules() {
		if m.Java {
			continue
		}
		if t = m.FindType(full); t != nil {
			break
		}
	}
	if t == nil {
		t = host.Core().Module.FindType(full)
	}
	if t != nil {
		rt.foreign.Add(name, t)
	}
	return t
}

// Finish finishes the classes of the bootstrap loader and of every class
// loader, in creation order, until a pass defines no new class.
func (rt *Runtime) Finish() error {
	for {
		rt.mu.Lock()
		loaders := append([]*ClassLoader{rt.bootstrap}, rt.loaders...)
		rt.mu.Unlock()
		before := 0
		for _, l := range loaders {
			before += len(l.Defined())
		}
		after := 0
		for _, l := range loaders {
			if err := l.Finish(); err != nil {
				return err
			}
			after += len(l.Defined())
		}
		if after == before {
			return nil
		}
	}
}
