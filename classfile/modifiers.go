package classfile

import (
	"strings"

	"github.com/pkg/errors"
)

// Modifiers are JVM access flags.
type Modifiers uint16

const (
	Public       Modifiers = 0x0001
	Private      Modifiers = 0x0002
	Protected    Modifiers = 0x0004
	Static       Modifiers = 0x0008
	Final        Modifiers = 0x0010
	Synchronized Modifiers = 0x0020
	Super        Modifiers = 0x0020 // Class flag sharing the Synchronized bit
	Volatile     Modifiers = 0x0040
	Bridge       Modifiers = 0x0040
	Transient    Modifiers = 0x0080
	VarArgs      Modifiers = 0x0080
	Native       Modifiers = 0x0100
	Interface    Modifiers = 0x0200
	Abstract     Modifiers = 0x0400
	Strict       Modifiers = 0x0800
	Synthetic    Modifiers = 0x1000

	AccessMask = Public | Private | Protected
)

var modifierNames = []struct {
	bit  Modifiers
	name string
}{
	{Public, "public"},
	{Private, "private"},
	{Protected, "protected"},
	{Static, "static"},
	{Final, "final"},
	{Synchronized, "synchronized"},
	{Volatile, "volatile"},
	{Transient, "transient"},
	{Native, "native"},
	{Interface, "interface"},
	{Abstract, "abstract"},
	{Strict, "strictfp"},
	{Synthetic, "synthetic"},
}

func (m Modifiers) IsPublic() bool    { return m&Public != 0 }
func (m Modifiers) IsPrivate() bool   { return m&Private != 0 }
func (m Modifiers) IsProtected() bool { return m&Protected != 0 }
func (m Modifiers) IsStatic() bool    { return m&Static != 0 }
func (m Modifiers) IsFinal() bool     { return m&Final != 0 }
func (m Modifiers) IsNative() bool    { return m&Native != 0 }
func (m Modifiers) IsInterface() bool { return m&Interface != 0 }
func (m Modifiers) IsAbstract() bool  { return m&Abstract != 0 }

// IsPackagePrivate reports the absence of all access flags.
func (m Modifiers) IsPackagePrivate() bool { return m&AccessMask == 0 }

// String renders the flags in source order. Bits shared between class,
// field and method flags are printed under their member meaning.
func (m Modifiers) String() string {
	var parts []string
	for _, n := range modifierNames {
		if m&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

// ParseModifiers converts modifier keywords to flags.
func ParseModifiers(words []string) (Modifiers, error) {
	var m Modifiers
	for _, w := range words {
		found := false
		for _, n := range modifierNames {
			if n.name == w {
				m |= n.bit
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Errorf("unknown modifier %q", w)
		}
	}
	return m, nil
}
