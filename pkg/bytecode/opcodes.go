package bytecode

import "fmt"

// Opcode represents a native stack-machine instruction.
type Opcode byte

const (
	// ========================================================================
	// Constants (0x01)
	// ========================================================================

	OpPushInteger Opcode = 0x01 // Push unsigned 32-bit literal: OpPushInteger <value:u32>

	// ========================================================================
	// Dice (0x02)
	// ========================================================================

	OpRollDice Opcode = 0x02 // Pop faces, pop count, push count rolls in draw order
)

// OpcodeInfo provides metadata about an opcode for disassembly and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // Number of values popped (-1 = variable)
	StackPush  int    // Number of values pushed (-1 = variable)
	OperandLen int    // Number of operand bytes following opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpPushInteger: {"PUSH_INTEGER", 0, 1, 4},
	OpRollDice:    {"ROLL_DICE", 2, -1, 0}, // pushes count values
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// Instruction is a decoded native instruction. Value is only meaningful
// for OpPushInteger.
type Instruction struct {
	Op    Opcode
	Value uint32
}

// PushInteger returns an instruction pushing v.
func PushInteger(v uint32) Instruction {
	return Instruction{Op: OpPushInteger, Value: v}
}

// RollDice returns the dice-rolling instruction.
func RollDice() Instruction {
	return Instruction{Op: OpRollDice}
}

func (i Instruction) String() string {
	if i.Op.OperandLen() > 0 {
		return fmt.Sprintf("%-16s %d", i.Op, i.Value)
	}
	return i.Op.String()
}
