package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Generation errors.
var (
	ErrOperandTooWide = errors.New("operand too wide")
	ErrPoolOverflow   = errors.New("constant pool overflow")
)

// Runtime faults.
var (
	ErrStackUnderflow         = errors.New("operand stack underflow")
	ErrStackOverflow          = errors.New("operand stack overflow")
	ErrDivisionByZero         = errors.New("division by zero")
	ErrCallStackOverflow      = errors.New("call stack overflow")
	ErrUnresolvedConstant     = errors.New("unresolved constant")
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
	ErrStepLimit              = errors.New("step limit exceeded")
	ErrTypeMismatch           = errors.New("type mismatch")
	ErrNoSuchMethod           = errors.New("no such method")
	ErrLocalIndex             = errors.New("local variable index out of range")
	ErrBadPC                  = errors.New("program counter out of range")
)

// Format errors.
var (
	ErrBadMagic          = errors.New("invalid magic number: expected 0xCAFEBABE")
	ErrTruncated         = errors.New("unexpected end of class data")
	ErrMalformedConstant = errors.New("malformed constant")
	ErrIndexOutOfRange   = errors.New("constant pool index out of range")
	ErrEncoding          = errors.New("invalid encoding")
	ErrMalformedCode     = errors.New("malformed code")
	ErrTrailingData      = errors.New("trailing data after class file")
)

var (
	generationErrors = []error{ErrOperandTooWide, ErrPoolOverflow}
	runtimeFaults    = []error{
		ErrStackUnderflow, ErrStackOverflow, ErrDivisionByZero, ErrCallStackOverflow,
		ErrUnresolvedConstant, ErrUnsupportedInstruction, ErrStepLimit, ErrTypeMismatch,
		ErrNoSuchMethod, ErrLocalIndex, ErrBadPC,
	}
	formatErrors = []error{
		ErrBadMagic, ErrTruncated, ErrMalformedConstant, ErrIndexOutOfRange,
		ErrEncoding, ErrMalformedCode, ErrTrailingData,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// IsGenerationError reports whether err came from code generation.
func IsGenerationError(err error) bool { return isAny(err, generationErrors) }

// IsRuntimeFault reports whether err is an interpreter fault.
func IsRuntimeFault(err error) bool { return isAny(err, runtimeFaults) }

// IsFormatError reports whether err describes a malformed class file.
func IsFormatError(err error) bool { return isAny(err, formatErrors) }

// UnsupportedInstructionError names an opcode outside the executable subset.
type UnsupportedInstructionError struct {
	Opcode Opcode
	PC     int
	Method string // empty when not yet attributed to a method
}

func (e *UnsupportedInstructionError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("unsupported instruction %s (0x%02X) at pc %d", e.Opcode, byte(e.Opcode), e.PC)
	}
	return fmt.Sprintf("unsupported instruction %s (0x%02X) at pc %d in %s", e.Opcode, byte(e.Opcode), e.PC, e.Method)
}

// Is makes errors.Is(err, ErrUnsupportedInstruction) succeed.
func (e *UnsupportedInstructionError) Is(target error) bool {
	return target == ErrUnsupportedInstruction
}

// Fault is a runtime error attributed to the method and pc that raised it.
type Fault struct {
	Method string
	PC     int
	Err    error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at pc %d: %v", f.Method, f.PC, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }
