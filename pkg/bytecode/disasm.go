package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Dice Bytecode v%d\n", c.Version))
	if c.Source != "" {
		sb.WriteString(fmt.Sprintf("; Source: %s\n", c.Source))
	}
	sb.WriteString("\n")

	// Code section
	sb.WriteString("; Code:\n")
	for _, line := range c.DisassembleToLines() {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length. Undecodable
// bytes are shown one at a time so the listing always makes progress.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	in, n, err := c.DecodeAt(offset)
	if err != nil {
		return fmt.Sprintf("%s ; %v", Opcode(c.Code[offset]), err), 1
	}
	return in.String(), n
}

// DisassembleInstruction returns a human-readable representation of a single instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	line, _ := c.disassembleInstruction(offset)
	return line
}

// DisassembleToLines returns the disassembly as a slice of lines.
func (c *Chunk) DisassembleToLines() []string {
	var lines []string
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		lines = append(lines, fmt.Sprintf("%04X  %s", offset, line))
		offset += instrLen
	}
	return lines
}

// InstructionCount returns the number of instructions in the chunk.
func (c *Chunk) InstructionCount() int {
	count := 0
	offset := 0
	for offset < len(c.Code) {
		_, n, err := c.DecodeAt(offset)
		if err != nil {
			n = 1
		}
		offset += n
		count++
	}
	return count
}
