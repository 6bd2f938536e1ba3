package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// BytecodeVersion is the current chunk format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// BytecodeMagic prefixes serialized chunks: "DCBC" (DiCe ByteCode).
var BytecodeMagic = []byte{'D', 'C', 'B', 'C'}

// Chunk format errors.
var (
	ErrBadMagic           = errors.New("invalid chunk magic")
	ErrTruncated          = errors.New("truncated chunk")
	ErrUnsupportedVersion = errors.New("unsupported chunk version")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Chunk is a compiled native program: a flat instruction stream plus the
// expression it was generated from.
type Chunk struct {
	Version uint16 `cbor:"1,keyasint"`
	Source  string `cbor:"2,keyasint,omitempty"` // e.g. "2d6", for listings only
	Code    []byte `cbor:"3,keyasint"`
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk() *Chunk {
	return &Chunk{
		Version: BytecodeVersion,
		Code:    make([]byte, 0, 16),
	}
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitUint32 appends op followed by a big-endian u32 operand.
func (c *Chunk) EmitUint32(op Opcode, operand uint32) int {
	offset := c.Emit(op)
	c.Code = binary.BigEndian.AppendUint32(c.Code, operand)
	return offset
}

// EmitInstruction appends an encoded instruction.
func (c *Chunk) EmitInstruction(in Instruction) int {
	if in.Op.OperandLen() == 4 {
		return c.EmitUint32(in.Op, in.Value)
	}
	return c.Emit(in.Op)
}

// CurrentOffset returns the offset where the next instruction will be emitted.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// CodeLen returns the length of the code section.
func (c *Chunk) CodeLen() int {
	return len(c.Code)
}

// DecodeAt decodes the instruction starting at offset and returns it with
// its encoded length.
func (c *Chunk) DecodeAt(offset int) (Instruction, int, error) {
	if offset < 0 || offset >= len(c.Code) {
		return Instruction{}, 0, fmt.Errorf("%w: offset %d outside code of length %d", ErrTruncated, offset, len(c.Code))
	}
	op := Opcode(c.Code[offset])
	if !op.IsValid() {
		return Instruction{}, 0, fmt.Errorf("%w: 0x%02X at %04X", ErrUnknownOpcode, byte(op), offset)
	}
	n := op.InstructionLen()
	if offset+n > len(c.Code) {
		return Instruction{}, 0, fmt.Errorf("%w: %s at %04X needs %d operand bytes", ErrTruncated, op, offset, op.OperandLen())
	}
	in := Instruction{Op: op}
	if op.OperandLen() == 4 {
		in.Value = binary.BigEndian.Uint32(c.Code[offset+1:])
	}
	return in, n, nil
}

// Instructions decodes the whole code section.
func (c *Chunk) Instructions() ([]Instruction, error) {
	var out []Instruction
	for offset := 0; offset < len(c.Code); {
		in, n, err := c.DecodeAt(offset)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		offset += n
	}
	return out, nil
}

// Serialize encodes the chunk as the magic prefix followed by canonical CBOR.
func (c *Chunk) Serialize() ([]byte, error) {
	body, err := cborEncMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal chunk: %w", err)
	}
	buf := make([]byte, 0, len(BytecodeMagic)+len(body))
	buf = append(buf, BytecodeMagic...)
	return append(buf, body...), nil
}

// IsChunk reports whether data starts with the chunk magic.
func IsChunk(data []byte) bool {
	return bytes.HasPrefix(data, BytecodeMagic)
}

// Deserialize decodes a chunk from bytes and validates its code section.
func Deserialize(data []byte) (*Chunk, error) {
	if len(data) < len(BytecodeMagic) {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrTruncated, len(BytecodeMagic), len(data))
	}
	if !IsChunk(data) {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrBadMagic, BytecodeMagic, data[:len(BytecodeMagic)])
	}

	var c Chunk
	if err := cbor.Unmarshal(data[len(BytecodeMagic):], &c); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: %w", err)
	}
	if c.Version != BytecodeVersion {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrUnsupportedVersion, c.Version, BytecodeVersion)
	}
	if _, err := c.Instructions(); err != nil {
		return nil, err
	}
	return &c, nil
}
