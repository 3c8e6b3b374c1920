// Package host models the native type system of the host managed runtime:
// modules, types and members as a type builder defines them, the IL
// instruction set used for method bodies, structural validation performed
// when a type is created, and a binary module format.
package host

// Op is a host IL opcode.
type Op byte

const (
	INOP       Op = iota // 0
	ILDARG               // 1
	ILDARGA              // 2
	ILDLOC               // 3
	ILDLOCA              // 4
	ISTLOC               // 5
	ILDNULL              // 6
	ILDCI4               // 7
	ILDCI8               // 8
	ILDCR4               // 9
	ILDCR8               // 10
	ILDSTR               // 11
	ILDFLD               // 12
	ISTFLD               // 13
	ILDSFLD              // 14
	ISTSFLD              // 15
	IVOLATILE            // 16 prefix
	ICALL                // 17
	ICALLVIRT            // 18
	ICALLI               // 19
	INEWOBJ              // 20
	IRET                 // 21
	IPOP                 // 22
	IDUP                 // 23
	ITHROW               // 24
	IISINST              // 25
	ICASTCLASS           // 26
	IBOX                 // 27
	IUNBOX               // 28
	ILDOBJ               // 29
	IINITOBJ             // 30
	IBR                  // 31
	IBRTRUE              // 32
	IBRFALSE             // 33
	ICEQ                 // 34
	ILDVIRTFTN           // 35
	ILDFTN               // 36
	ILDTOKEN             // 37
	ILDELEMA             // 38
	INEWARR              // 39
	ILDLEN               // 40
	IADD                 // 41
	ISUB                 // 42
	IMUL                 // 43
	ICLT                 // 44
	ICGT                 // 45

	MaxOp // sentinel
)

// OperandKind says which Inst field carries an opcode's operand.
type OperandKind byte

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandBig // 64-bit integer
	OperandFloat
	OperandString
	OperandMethod
	OperandField
	OperandType
	OperandLabel
	OperandSig // call site signature, carried in Method
)

var opNames = [MaxOp]string{
	INOP:       "nop",
	ILDARG:     "ldarg",
	ILDARGA:    "ldarga",
	ILDLOC:     "ldloc",
	ILDLOCA:    "ldloca",
	ISTLOC:     "stloc",
	ILDNULL:    "ldnull",
	ILDCI4:     "ldc.i4",
	ILDCI8:     "ldc.i8",
	ILDCR4:     "ldc.r4",
	ILDCR8:     "ldc.r8",
	ILDSTR:     "ldstr",
	ILDFLD:     "ldfld",
	ISTFLD:     "stfld",
	ILDSFLD:    "ldsfld",
	ISTSFLD:    "stsfld",
	IVOLATILE:  "volatile.",
	ICALL:      "call",
	ICALLVIRT:  "callvirt",
	ICALLI:     "calli",
	INEWOBJ:    "newobj",
	IRET:       "ret",
	IPOP:       "pop",
	IDUP:       "dup",
	ITHROW:     "throw",
	IISINST:    "isinst",
	ICASTCLASS: "castclass",
	IBOX:       "box",
	IUNBOX:     "unbox",
	ILDOBJ:     "ldobj",
	IINITOBJ:   "initobj",
	IBR:        "br",
	IBRTRUE:    "brtrue",
	IBRFALSE:   "brfalse",
	ICEQ:       "ceq",
	ILDVIRTFTN: "ldvirtftn",
	ILDFTN:     "ldftn",
	ILDTOKEN:   "ldtoken",
	ILDELEMA:   "ldelema",
	INEWARR:    "newarr",
	ILDLEN:     "ldlen",
	IADD:       "add",
	ISUB:       "sub",
	IMUL:       "mul",
	ICLT:       "clt",
	ICGT:       "cgt",
}

var opOperands = [MaxOp]OperandKind{
	ILDARG:     OperandInt,
	ILDARGA:    OperandInt,
	ILDLOC:     OperandInt,
	ILDLOCA:    OperandInt,
	ISTLOC:     OperandInt,
	ILDCI4:     OperandInt,
	ILDCI8:     OperandBig,
	ILDCR4:     OperandFloat,
	ILDCR8:     OperandFloat,
	ILDSTR:     OperandString,
	ILDFLD:     OperandField,
	ISTFLD:     OperandField,
	ILDSFLD:    OperandField,
	ISTSFLD:    OperandField,
	ICALL:      OperandMethod,
	ICALLVIRT:  OperandMethod,
	ICALLI:     OperandSig,
	INEWOBJ:    OperandMethod,
	IISINST:    OperandType,
	ICASTCLASS: OperandType,
	IBOX:       OperandType,
	IUNBOX:     OperandType,
	ILDOBJ:     OperandType,
	IINITOBJ:   OperandType,
	IBR:        OperandLabel,
	IBRTRUE:    OperandLabel,
	IBRFALSE:   OperandLabel,
	ILDVIRTFTN: OperandMethod,
	ILDFTN:     OperandMethod,
	ILDTOKEN:   OperandType,
	ILDELEMA:   OperandType,
	INEWARR:    OperandType,
}

func (op Op) String() string {
	if op < MaxOp {
		return opNames[op]
	}
	return "???"
}

// Operand reports which operand the opcode takes.
func (op Op) Operand() OperandKind {
	if op < MaxOp {
		return opOperands[op]
	}
	return OperandNone
}

// IsBranch reports whether op transfers control to a label.
func (op Op) IsBranch() bool {
	return op.Operand() == OperandLabel
}

// Module format magic.
const (
	HMAGIC   = 0x48_4d_44 // "HMD"
	HVERSION = 1
)

// Constant kinds in the module format.
const (
	constNone byte = iota
	constInt32
	constInt64
	constFloat32
	constFloat64
	constString
)
