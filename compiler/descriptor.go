package compiler

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Signature is a parsed method signature: the field signature of each
// argument and of the return type.
type Signature struct {
	Args []string
	Ret  string
}

const signatureCacheSize = 4096

var signatureCache = mustCache(lru.New[string, *Signature](signatureCacheSize))

func mustCache(c *lru.Cache[string, *Signature], err error) *lru.Cache[string, *Signature] {
	if err != nil {
		panic(err)
	}
	return c
}

// ParseSignature splits a method signature of the form (ArgType*)RetType.
// Class names inside the signature are dotted. Results are cached.
func ParseSignature(sig string) (*Signature, error) {
	if s, ok := signatureCache.Get(sig); ok {
		return s, nil
	}
	if len(sig) < 3 || sig[0] != '(' {
		return nil, errors.Errorf("malformed signature %q", sig)
	}
	s := &Signature{}
	i := 1
	for i < len(sig) && sig[i] != ')' {
		n, err := fieldSigLen(sig[i:], false)
		if err != nil {
			return nil, errors.Wrapf(err, "signature %q", sig)
		}
		s.Args = append(s.Args, sig[i:i+n])
		i += n
	}
	if i >= len(sig) {
		return nil, errors.Errorf("malformed signature %q: missing ')'", sig)
	}
	i++
	n, err := fieldSigLen(sig[i:], true)
	if err != nil {
		return nil, errors.Wrapf(err, "signature %q", sig)
	}
	if i+n != len(sig) {
		return nil, errors.Errorf("malformed signature %q: trailing characters", sig)
	}
	s.Ret = sig[i:]
	signatureCache.Add(sig, s)
	return s, nil
}

// ValidFieldSignature reports whether sig is exactly one field type.
func ValidFieldSignature(sig string) bool {
	n, err := fieldSigLen(sig, false)
	return err == nil && n == len(sig)
}

// fieldSigLen returns the length of the field type at the start of s.
func fieldSigLen(s string, allowVoid bool) (int, error) {
	if s == "" {
		return 0, errors.New("missing type")
	}
	switch s[0] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return 1, nil
	case 'V':
		if allowVoid {
			return 1, nil
		}
		return 0, errors.New("void is not a field type")
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 2 {
			return 0, errors.Errorf("unterminated class type %q", s)
		}
		return end + 1, nil
	case '[':
		n, err := fieldSigLen(s[1:], false)
		return n + 1, err
	}
	return 0, errors.Errorf("bad type character %q", s[0])
}

// MethodDescriptor names a method by name and signature. Argument and
// return types are resolved through the owning class loader on first use;
// names that fail to load resolve to Unloadable wrappers.
//
// Two descriptors are equal when their names and signature strings are
// equal, whichever loaders they came from.
type MethodDescriptor struct {
	loader *ClassLoader
	name   string
	sig    string
	parsed *Signature

	once sync.Once
	args []*TypeWrapper
	ret  *TypeWrapper
}

// NewMethodDescriptor returns a descriptor for name and sig. It panics if
// sig is malformed; descriptors built from class descriptions are
// validated when the class is defined.
func NewMethodDescriptor(loader *ClassLoader, name, sig string) *MethodDescriptor {
	s, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return &MethodDescriptor{loader: loader, name: name, sig: sig, parsed: s}
}

func (md *MethodDescriptor) Name() string      { return md.name }
func (md *MethodDescriptor) Signature() string { return md.sig }

// Key is the lookup key of the descriptor: name followed by signature.
func (md *MethodDescriptor) Key() string { return md.name + md.sig }

func (md *MethodDescriptor) String() string { return md.name + md.sig }

func (md *MethodDescriptor) ArgCount() int { return len(md.parsed.Args) }

// Parsed returns the argument and return field signatures.
func (md *MethodDescriptor) Parsed() *Signature { return md.parsed }

func (md *MethodDescriptor) Equal(other *MethodDescriptor) bool {
	return other != nil && md.name == other.name && md.sig == other.sig
}

func (md *MethodDescriptor) resolve() {
	md.once.Do(func() {
		md.args = make([]*TypeWrapper, len(md.parsed.Args))
		for i, a := range md.parsed.Args {
			md.args[i] = md.loader.typeFromSig(a)
		}
		md.ret = md.loader.typeFromSig(md.parsed.Ret)
	})
}

// ArgTypes returns the resolved argument types.
func (md *MethodDescriptor) ArgTypes() []*TypeWrapper {
	md.resolve()
	return md.args
}

// RetType returns the resolved return type; void is the primitive V.
func (md *MethodDescriptor) RetType() *TypeWrapper {
	md.resolve()
	return md.ret
}

// hasUnloadableArgs reports whether any argument failed to resolve.
func (md *MethodDescriptor) hasUnloadableArgs() bool {
	for _, a := range md.ArgTypes() {
		if a.IsUnloadable() {
			return true
		}
	}
	return false
}

// FieldSigName returns the Java field signature of a class name as used in
// signatures: arrays are unchanged, classes become Lname;.
func FieldSigName(className string) string {
	if strings.HasPrefix(className, "[") {
		return className
	}
	return "L" + className + ";"
}
