package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Instruction: decoded JVM instruction
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction. A holds the primary operand: an
// immediate, a local index, a constant pool index, or a branch offset
// relative to PC. B holds the iinc increment.
type Instruction struct {
	Op Opcode
	PC int
	A  int32
	B  int32
}

// Width returns the encoded length of the instruction.
func (in Instruction) Width() int {
	return in.Op.Width()
}

// Target returns the absolute branch target of a branch instruction.
func (in Instruction) Target() int {
	return in.PC + int(in.A)
}

func (in Instruction) String() string {
	info, ok := in.Op.Info()
	if !ok {
		return in.Op.Name()
	}
	switch info.Operand {
	case operandNone:
		return info.Name
	case operandCP8, operandCP16:
		return fmt.Sprintf("%s #%d", info.Name, in.A)
	case operandBranch:
		return fmt.Sprintf("%s %d (-> %d)", info.Name, in.A, in.Target())
	case operandIinc:
		return fmt.Sprintf("%s %d %d", info.Name, in.A, in.B)
	default:
		return fmt.Sprintf("%s %d", info.Name, in.A)
	}
}

// EncodeInstruction appends the encoding of in to buf. Operands that do not
// fit their encoding fail with ErrOperandTooWide.
func EncodeInstruction(buf []byte, in Instruction) ([]byte, error) {
	info, ok := in.Op.Info()
	if !ok {
		return buf, &UnsupportedInstructionError{Opcode: in.Op, PC: in.PC}
	}
	buf = append(buf, byte(in.Op))
	switch info.Operand {
	case operandNone:
	case operandLocal, operandCP8:
		if in.A < 0 || in.A > math.MaxUint8 {
			return buf, fmt.Errorf("%w: %s operand %d", ErrOperandTooWide, info.Name, in.A)
		}
		buf = append(buf, byte(in.A))
	case operandI8:
		if in.A < math.MinInt8 || in.A > math.MaxInt8 {
			return buf, fmt.Errorf("%w: %s operand %d", ErrOperandTooWide, info.Name, in.A)
		}
		buf = append(buf, byte(int8(in.A)))
	case operandI16, operandBranch:
		if in.A < math.MinInt16 || in.A > math.MaxInt16 {
			return buf, fmt.Errorf("%w: %s operand %d", ErrOperandTooWide, info.Name, in.A)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(int16(in.A)))
	case operandCP16:
		if in.A < 0 || in.A > math.MaxUint16 {
			return buf, fmt.Errorf("%w: %s operand %d", ErrOperandTooWide, info.Name, in.A)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(in.A))
	case operandIinc:
		if in.A < 0 || in.A > math.MaxUint8 || in.B < math.MinInt8 || in.B > math.MaxInt8 {
			return buf, fmt.Errorf("%w: iinc %d %d", ErrOperandTooWide, in.A, in.B)
		}
		buf = append(buf, byte(in.A), byte(int8(in.B)))
	}
	return buf, nil
}

// DecodeInstruction decodes the instruction starting at pc. An opcode
// outside the executable subset yields an *UnsupportedInstructionError.
func DecodeInstruction(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("%w: %d not in [0, %d)", ErrBadPC, pc, len(code))
	}
	op := Opcode(code[pc])
	info, ok := op.Info()
	if !ok {
		return Instruction{}, &UnsupportedInstructionError{Opcode: op, PC: pc}
	}
	in := Instruction{Op: op, PC: pc}
	if pc+op.Width() > len(code) {
		return Instruction{}, fmt.Errorf("%w: %s at pc %d runs past end of code", ErrMalformedCode, info.Name, pc)
	}
	operands := code[pc+1:]
	switch info.Operand {
	case operandLocal, operandCP8:
		in.A = int32(operands[0])
	case operandI8:
		in.A = int32(int8(operands[0]))
	case operandI16, operandBranch:
		in.A = int32(int16(binary.BigEndian.Uint16(operands)))
	case operandCP16:
		in.A = int32(binary.BigEndian.Uint16(operands))
	case operandIinc:
		in.A = int32(operands[0])
		in.B = int32(int8(operands[1]))
	}
	return in, nil
}

// DecodeCode decodes a whole code array and checks that every branch lands
// on an instruction boundary.
func DecodeCode(code []byte) ([]Instruction, error) {
	var out []Instruction
	starts := make(map[int]bool)
	for pc := 0; pc < len(code); {
		in, err := DecodeInstruction(code, pc)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		starts[pc] = true
		pc += in.Width()
	}
	for _, in := range out {
		if in.Op.IsBranch() && !starts[in.Target()] {
			return nil, fmt.Errorf("%w: %s at pc %d targets %d, not an instruction boundary",
				ErrMalformedCode, in.Op, in.PC, in.Target())
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct JVM bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
	err   error
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is also the pc of the next
// instruction.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Err returns the first encoding error, if any.
func (b *BytecodeBuilder) Err() error {
	return b.err
}

// EmitInstruction appends an instruction with explicit operands.
func (b *BytecodeBuilder) EmitInstruction(in Instruction) {
	if b.err != nil {
		return
	}
	in.PC = len(b.bytes)
	b.bytes, b.err = EncodeInstruction(b.bytes, in)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.EmitInstruction(Instruction{Op: op})
}

// EmitOperand appends an opcode with a single operand.
func (b *BytecodeBuilder) EmitOperand(op Opcode, operand int32) {
	b.EmitInstruction(Instruction{Op: op, A: operand})
}

// EmitIinc appends iinc index delta.
func (b *BytecodeBuilder) EmitIinc(index uint8, delta int8) {
	b.EmitInstruction(Instruction{Op: OpIinc, A: int32(index), B: int32(delta)})
}

// EmitLdc loads constant pool entry idx with ldc or ldc_w, whichever fits.
func (b *BytecodeBuilder) EmitLdc(idx uint16) {
	if idx <= math.MaxUint8 {
		b.EmitOperand(OpLdc, int32(idx))
		return
	}
	b.EmitOperand(OpLdcW, int32(idx))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a branch target that may not be known yet.
type Label struct {
	resolved bool
	position int   // target pc once resolved
	refs     []int // pcs of branch instructions waiting on this label
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{resolved: false, refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	// Patch all forward references
	for _, ref := range label.refs {
		b.patchBranch(ref, label.position-ref)
	}
	label.refs = nil
}

// Position returns the resolved pc of the label.
func (b *BytecodeBuilder) Position(label *Label) (int, bool) {
	return label.position, label.resolved
}

// EmitJump emits a branch instruction targeting label. JVM branch offsets
// are relative to the branch instruction itself.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	if !op.IsBranch() {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %s is not a branch", ErrMalformedCode, op)
		}
		return
	}
	pc := len(b.bytes)
	if label.resolved {
		b.EmitOperand(op, int32(label.position-pc))
		return
	}
	label.refs = append(label.refs, pc)
	b.EmitOperand(op, 0) // placeholder
}

func (b *BytecodeBuilder) patchBranch(pc, offset int) {
	if b.err != nil {
		return
	}
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		b.err = fmt.Errorf("%w: branch at pc %d spans %d bytes", ErrOperandTooWide, pc, offset)
		return
	}
	binary.BigEndian.PutUint16(b.bytes[pc+1:], uint16(int16(offset)))
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction formats one instruction, annotating constant pool
// operands when pool is non-nil.
func DisassembleInstruction(in Instruction, pool *ConstantPool) string {
	line := fmt.Sprintf("%04d  %s", in.PC, in)
	info, _ := in.Op.Info()
	if pool != nil && (info.Operand == operandCP8 || info.Operand == operandCP16) {
		if desc := pool.Describe(uint16(in.A)); desc != "" {
			line = fmt.Sprintf("%-32s // %s", line, desc)
		}
	}
	return line
}

// Disassemble returns a full disassembly of a code array. Decoding stops at
// the first undecodable instruction, which is reported inline.
func Disassemble(code []byte, pool *ConstantPool) string {
	var sb strings.Builder
	for pc := 0; pc < len(code); {
		in, err := DecodeInstruction(code, pc)
		if err != nil {
			fmt.Fprintf(&sb, "%04d  ; %v\n", pc, err)
			break
		}
		sb.WriteString(DisassembleInstruction(in, pool))
		sb.WriteString("\n")
		pc += in.Width()
	}
	return sb.String()
}

// localKinds maps the JVM's i/l/f/d/a opcode ordering to value kinds.
var localKinds = [...]Kind{KindInt, KindLong, KindFloat, KindDouble, KindReference}

// localAccess describes the local variable an instruction touches. iinc
// counts as an int store.
func localAccess(in Instruction) (index int, kind Kind, store, ok bool) {
	op := in.Op
	switch {
	case op >= OpIload && op <= OpAload:
		return int(in.A), localKinds[op-OpIload], false, true
	case op >= OpIload0 && op <= OpAload3:
		n := int(op - OpIload0)
		return n % 4, localKinds[n/4], false, true
	case op >= OpIstore && op <= OpAstore:
		return int(in.A), localKinds[op-OpIstore], true, true
	case op >= OpIstore0 && op <= OpAstore3:
		n := int(op - OpIstore0)
		return n % 4, localKinds[n/4], true, true
	case op == OpIinc:
		return int(in.A), KindInt, true, true
	}
	return 0, 0, false, false
}
