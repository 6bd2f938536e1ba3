package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions (JVM numbering)
// ---------------------------------------------------------------------------

// Opcode represents a single JVM bytecode instruction.
type Opcode byte

// Constants
const (
	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0A
	OpFconst0    Opcode = 0x0B
	OpFconst1    Opcode = 0x0C
	OpFconst2    Opcode = 0x0D
	OpDconst0    Opcode = 0x0E
	OpDconst1    Opcode = 0x0F
	OpBipush     Opcode = 0x10
	OpSipush     Opcode = 0x11
	OpLdc        Opcode = 0x12
	OpLdcW       Opcode = 0x13
	OpLdc2W      Opcode = 0x14
)

// Loads
const (
	OpIload  Opcode = 0x15
	OpLload  Opcode = 0x16
	OpFload  Opcode = 0x17
	OpDload  Opcode = 0x18
	OpAload  Opcode = 0x19
	OpIload0 Opcode = 0x1A
	OpIload1 Opcode = 0x1B
	OpIload2 Opcode = 0x1C
	OpIload3 Opcode = 0x1D
	OpLload0 Opcode = 0x1E
	OpLload1 Opcode = 0x1F
	OpLload2 Opcode = 0x20
	OpLload3 Opcode = 0x21
	OpFload0 Opcode = 0x22
	OpFload1 Opcode = 0x23
	OpFload2 Opcode = 0x24
	OpFload3 Opcode = 0x25
	OpDload0 Opcode = 0x26
	OpDload1 Opcode = 0x27
	OpDload2 Opcode = 0x28
	OpDload3 Opcode = 0x29
	OpAload0 Opcode = 0x2A
	OpAload1 Opcode = 0x2B
	OpAload2 Opcode = 0x2C
	OpAload3 Opcode = 0x2D
)

// Stores
const (
	OpIstore  Opcode = 0x36
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3A
	OpIstore0 Opcode = 0x3B
	OpIstore1 Opcode = 0x3C
	OpIstore2 Opcode = 0x3D
	OpIstore3 Opcode = 0x3E
	OpLstore0 Opcode = 0x3F
	OpLstore1 Opcode = 0x40
	OpLstore2 Opcode = 0x41
	OpLstore3 Opcode = 0x42
	OpFstore0 Opcode = 0x43
	OpFstore1 Opcode = 0x44
	OpFstore2 Opcode = 0x45
	OpFstore3 Opcode = 0x46
	OpDstore0 Opcode = 0x47
	OpDstore1 Opcode = 0x48
	OpDstore2 Opcode = 0x49
	OpDstore3 Opcode = 0x4A
	OpAstore0 Opcode = 0x4B
	OpAstore1 Opcode = 0x4C
	OpAstore2 Opcode = 0x4D
	OpAstore3 Opcode = 0x4E
)

// Stack
const (
	OpPop   Opcode = 0x57
	OpPop2  Opcode = 0x58
	OpDup   Opcode = 0x59
	OpDupX1 Opcode = 0x5A
	OpSwap  Opcode = 0x5F
)

// Math
const (
	OpIadd Opcode = 0x60
	OpLadd Opcode = 0x61
	OpFadd Opcode = 0x62
	OpDadd Opcode = 0x63
	OpIsub Opcode = 0x64
	OpLsub Opcode = 0x65
	OpFsub Opcode = 0x66
	OpDsub Opcode = 0x67
	OpImul Opcode = 0x68
	OpLmul Opcode = 0x69
	OpFmul Opcode = 0x6A
	OpDmul Opcode = 0x6B
	OpIdiv Opcode = 0x6C
	OpLdiv Opcode = 0x6D
	OpFdiv Opcode = 0x6E
	OpDdiv Opcode = 0x6F
	OpIrem Opcode = 0x70
	OpLrem Opcode = 0x71
	OpFrem Opcode = 0x72
	OpDrem Opcode = 0x73
	OpIneg Opcode = 0x74
	OpLneg Opcode = 0x75
	OpFneg Opcode = 0x76
	OpDneg Opcode = 0x77
	OpIinc Opcode = 0x84
)

// Conversions
const (
	OpI2l Opcode = 0x85
	OpI2f Opcode = 0x86
	OpI2d Opcode = 0x87
	OpL2i Opcode = 0x88
	OpL2f Opcode = 0x89
	OpL2d Opcode = 0x8A
	OpF2i Opcode = 0x8B
	OpF2l Opcode = 0x8C
	OpF2d Opcode = 0x8D
	OpD2i Opcode = 0x8E
	OpD2l Opcode = 0x8F
	OpD2f Opcode = 0x90
)

// Comparisons and control
const (
	OpLcmp     Opcode = 0x94
	OpFcmpl    Opcode = 0x95
	OpFcmpg    Opcode = 0x96
	OpDcmpl    Opcode = 0x97
	OpDcmpg    Opcode = 0x98
	OpIfeq     Opcode = 0x99
	OpIfne     Opcode = 0x9A
	OpIflt     Opcode = 0x9B
	OpIfge     Opcode = 0x9C
	OpIfgt     Opcode = 0x9D
	OpIfle     Opcode = 0x9E
	OpIfIcmpeq Opcode = 0x9F
	OpIfIcmpne Opcode = 0xA0
	OpIfIcmplt Opcode = 0xA1
	OpIfIcmpge Opcode = 0xA2
	OpIfIcmpgt Opcode = 0xA3
	OpIfIcmple Opcode = 0xA4
	OpGoto     Opcode = 0xA7
	OpIreturn  Opcode = 0xAC
	OpLreturn  Opcode = 0xAD
	OpFreturn  Opcode = 0xAE
	OpDreturn  Opcode = 0xAF
	OpAreturn  Opcode = 0xB0
	OpReturn   Opcode = 0xB1
)

// References
const (
	OpGetstatic     Opcode = 0xB2
	OpInvokevirtual Opcode = 0xB6
	OpInvokespecial Opcode = 0xB7
	OpInvokestatic  Opcode = 0xB8
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// operandKind describes the operand bytes that follow an opcode.
type operandKind uint8

const (
	operandNone   operandKind = iota
	operandLocal              // u1 local variable index
	operandCP8                // u1 constant pool index (ldc)
	operandI8                 // s1 immediate (bipush)
	operandI16                // s2 immediate (sipush)
	operandCP16               // u2 constant pool index
	operandBranch             // s2 offset relative to the instruction's pc
	operandIinc               // u1 local index, s1 increment
)

var operandWidths = [...]int{
	operandNone:   0,
	operandLocal:  1,
	operandCP8:    1,
	operandI8:     1,
	operandI16:    2,
	operandCP16:   2,
	operandBranch: 2,
	operandIinc:   2,
}

// OpcodeInfo holds metadata about an executable opcode.
type OpcodeInfo struct {
	Name    string
	Operand operandKind
}

// opcodeTable is the executable subset. Anything missing here is rejected
// by the reader and the interpreter with an UnsupportedInstructionError.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:        {"nop", operandNone},
	OpAconstNull: {"aconst_null", operandNone},
	OpIconstM1:   {"iconst_m1", operandNone},
	OpIconst0:    {"iconst_0", operandNone},
	OpIconst1:    {"iconst_1", operandNone},
	OpIconst2:    {"iconst_2", operandNone},
	OpIconst3:    {"iconst_3", operandNone},
	OpIconst4:    {"iconst_4", operandNone},
	OpIconst5:    {"iconst_5", operandNone},
	OpLconst0:    {"lconst_0", operandNone},
	OpLconst1:    {"lconst_1", operandNone},
	OpFconst0:    {"fconst_0", operandNone},
	OpFconst1:    {"fconst_1", operandNone},
	OpFconst2:    {"fconst_2", operandNone},
	OpDconst0:    {"dconst_0", operandNone},
	OpDconst1:    {"dconst_1", operandNone},
	OpBipush:     {"bipush", operandI8},
	OpSipush:     {"sipush", operandI16},
	OpLdc:        {"ldc", operandCP8},
	OpLdcW:       {"ldc_w", operandCP16},
	OpLdc2W:      {"ldc2_w", operandCP16},

	OpIload:  {"iload", operandLocal},
	OpLload:  {"lload", operandLocal},
	OpFload:  {"fload", operandLocal},
	OpDload:  {"dload", operandLocal},
	OpAload:  {"aload", operandLocal},
	OpIload0: {"iload_0", operandNone},
	OpIload1: {"iload_1", operandNone},
	OpIload2: {"iload_2", operandNone},
	OpIload3: {"iload_3", operandNone},
	OpLload0: {"lload_0", operandNone},
	OpLload1: {"lload_1", operandNone},
	OpLload2: {"lload_2", operandNone},
	OpLload3: {"lload_3", operandNone},
	OpFload0: {"fload_0", operandNone},
	OpFload1: {"fload_1", operandNone},
	OpFload2: {"fload_2", operandNone},
	OpFload3: {"fload_3", operandNone},
	OpDload0: {"dload_0", operandNone},
	OpDload1: {"dload_1", operandNone},
	OpDload2: {"dload_2", operandNone},
	OpDload3: {"dload_3", operandNone},
	OpAload0: {"aload_0", operandNone},
	OpAload1: {"aload_1", operandNone},
	OpAload2: {"aload_2", operandNone},
	OpAload3: {"aload_3", operandNone},

	OpIstore:  {"istore", operandLocal},
	OpLstore:  {"lstore", operandLocal},
	OpFstore:  {"fstore", operandLocal},
	OpDstore:  {"dstore", operandLocal},
	OpAstore:  {"astore", operandLocal},
	OpIstore0: {"istore_0", operandNone},
	OpIstore1: {"istore_1", operandNone},
	OpIstore2: {"istore_2", operandNone},
	OpIstore3: {"istore_3", operandNone},
	OpLstore0: {"lstore_0", operandNone},
	OpLstore1: {"lstore_1", operandNone},
	OpLstore2: {"lstore_2", operandNone},
	OpLstore3: {"lstore_3", operandNone},
	OpFstore0: {"fstore_0", operandNone},
	OpFstore1: {"fstore_1", operandNone},
	OpFstore2: {"fstore_2", operandNone},
	OpFstore3: {"fstore_3", operandNone},
	OpDstore0: {"dstore_0", operandNone},
	OpDstore1: {"dstore_1", operandNone},
	OpDstore2: {"dstore_2", operandNone},
	OpDstore3: {"dstore_3", operandNone},
	OpAstore0: {"astore_0", operandNone},
	OpAstore1: {"astore_1", operandNone},
	OpAstore2: {"astore_2", operandNone},
	OpAstore3: {"astore_3", operandNone},

	OpPop:   {"pop", operandNone},
	OpPop2:  {"pop2", operandNone},
	OpDup:   {"dup", operandNone},
	OpDupX1: {"dup_x1", operandNone},
	OpSwap:  {"swap", operandNone},

	OpIadd: {"iadd", operandNone},
	OpLadd: {"ladd", operandNone},
	OpFadd: {"fadd", operandNone},
	OpDadd: {"dadd", operandNone},
	OpIsub: {"isub", operandNone},
	OpLsub: {"lsub", operandNone},
	OpFsub: {"fsub", operandNone},
	OpDsub: {"dsub", operandNone},
	OpImul: {"imul", operandNone},
	OpLmul: {"lmul", operandNone},
	OpFmul: {"fmul", operandNone},
	OpDmul: {"dmul", operandNone},
	OpIdiv: {"idiv", operandNone},
	OpLdiv: {"ldiv", operandNone},
	OpFdiv: {"fdiv", operandNone},
	OpDdiv: {"ddiv", operandNone},
	OpIrem: {"irem", operandNone},
	OpLrem: {"lrem", operandNone},
	OpFrem: {"frem", operandNone},
	OpDrem: {"drem", operandNone},
	OpIneg: {"ineg", operandNone},
	OpLneg: {"lneg", operandNone},
	OpFneg: {"fneg", operandNone},
	OpDneg: {"dneg", operandNone},
	OpIinc: {"iinc", operandIinc},

	OpI2l: {"i2l", operandNone},
	OpI2f: {"i2f", operandNone},
	OpI2d: {"i2d", operandNone},
	OpL2i: {"l2i", operandNone},
	OpL2f: {"l2f", operandNone},
	OpL2d: {"l2d", operandNone},
	OpF2i: {"f2i", operandNone},
	OpF2l: {"f2l", operandNone},
	OpF2d: {"f2d", operandNone},
	OpD2i: {"d2i", operandNone},
	OpD2l: {"d2l", operandNone},
	OpD2f: {"d2f", operandNone},

	OpLcmp:     {"lcmp", operandNone},
	OpFcmpl:    {"fcmpl", operandNone},
	OpFcmpg:    {"fcmpg", operandNone},
	OpDcmpl:    {"dcmpl", operandNone},
	OpDcmpg:    {"dcmpg", operandNone},
	OpIfeq:     {"ifeq", operandBranch},
	OpIfne:     {"ifne", operandBranch},
	OpIflt:     {"iflt", operandBranch},
	OpIfge:     {"ifge", operandBranch},
	OpIfgt:     {"ifgt", operandBranch},
	OpIfle:     {"ifle", operandBranch},
	OpIfIcmpeq: {"if_icmpeq", operandBranch},
	OpIfIcmpne: {"if_icmpne", operandBranch},
	OpIfIcmplt: {"if_icmplt", operandBranch},
	OpIfIcmpge: {"if_icmpge", operandBranch},
	OpIfIcmpgt: {"if_icmpgt", operandBranch},
	OpIfIcmple: {"if_icmple", operandBranch},
	OpGoto:     {"goto", operandBranch},
	OpIreturn:  {"ireturn", operandNone},
	OpLreturn:  {"lreturn", operandNone},
	OpFreturn:  {"freturn", operandNone},
	OpDreturn:  {"dreturn", operandNone},
	OpAreturn:  {"areturn", operandNone},
	OpReturn:   {"return", operandNone},

	OpGetstatic:     {"getstatic", operandCP16},
	OpInvokevirtual: {"invokevirtual", operandCP16},
	OpInvokespecial: {"invokespecial", operandCP16},
	OpInvokestatic:  {"invokestatic", operandCP16},
}

// foreignNames names well-known opcodes outside the executable subset so
// errors can say which instruction was rejected.
var foreignNames = map[Opcode]string{
	0x2E: "iaload", 0x4F: "iastore", 0x5B: "dup_x2", 0x5C: "dup2",
	0x78: "ishl", 0x7A: "ishr", 0x7E: "iand", 0x80: "ior", 0x82: "ixor",
	0x91: "i2b", 0x92: "i2c", 0x93: "i2s",
	0xA5: "if_acmpeq", 0xA6: "if_acmpne", 0xA8: "jsr", 0xA9: "ret",
	0xAA: "tableswitch", 0xAB: "lookupswitch",
	0xB3: "putstatic", 0xB4: "getfield", 0xB5: "putfield",
	0xB9: "invokeinterface", 0xBA: "invokedynamic", 0xBB: "new",
	0xBC: "newarray", 0xBD: "anewarray", 0xBE: "arraylength", 0xBF: "athrow",
	0xC0: "checkcast", 0xC1: "instanceof", 0xC2: "monitorenter", 0xC3: "monitorexit",
	0xC4: "wide", 0xC5: "multianewarray", 0xC6: "ifnull", 0xC7: "ifnonnull",
	0xC8: "goto_w", 0xC9: "jsr_w",
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// Supported reports whether op is in the executable subset.
func (op Opcode) Supported() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	if name, ok := foreignNames[op]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%02X", byte(op))
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Width returns the encoded length of a supported opcode including
// operands, or 0 for an unsupported one.
func (op Opcode) Width() int {
	info, ok := opcodeTable[op]
	if !ok {
		return 0
	}
	return 1 + operandWidths[info.Operand]
}

// IsBranch reports whether op carries a relative branch offset.
func (op Opcode) IsBranch() bool {
	info, ok := opcodeTable[op]
	return ok && info.Operand == operandBranch
}

// IsReturn reports whether op returns from the current method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// IsInvoke reports whether op invokes a method.
func (op Opcode) IsInvoke() bool {
	return op == OpInvokevirtual || op == OpInvokespecial || op == OpInvokestatic
}
