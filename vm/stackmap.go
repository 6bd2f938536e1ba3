package vm

import "fmt"

// ---------------------------------------------------------------------------
// StackMapTable encoding
// ---------------------------------------------------------------------------

// VerificationType is a verification_type_info entry.
type VerificationType struct {
	Tag   uint8
	Index uint16 // cpool index for Object, offset for Uninitialized
}

// Verification type tags.
const (
	VerifyTop               uint8 = 0
	VerifyInteger           uint8 = 1
	VerifyFloat             uint8 = 2
	VerifyDouble            uint8 = 3
	VerifyLong              uint8 = 4
	VerifyNull              uint8 = 5
	VerifyUninitializedThis uint8 = 6
	VerifyObject            uint8 = 7
	VerifyUninitialized     uint8 = 8
)

// StackMapFrame describes the verifier state at an absolute pc.
type StackMapFrame struct {
	PC     int
	Locals []VerificationType
	Stack  []VerificationType
}

func (v VerificationType) encode(e *classEncoder) {
	e.u1(v.Tag)
	if v.Tag == VerifyObject || v.Tag == VerifyUninitialized {
		e.u2(v.Index)
	}
}

func sameTypes(a, b []VerificationType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EncodeStackMapTable builds the StackMapTable attribute payload for frames
// sorted by pc, starting from the implicit frame described by initial. The
// most compact frame form is chosen for each entry.
func EncodeStackMapTable(initial []VerificationType, frames []StackMapFrame) ([]byte, error) {
	e := &classEncoder{}
	if err := e.count(len(frames), "stack map frame"); err != nil {
		return nil, err
	}

	prevLocals := initial
	prevPC := -1
	for _, f := range frames {
		delta := f.PC - prevPC - 1
		if delta < 0 || delta > 0xFFFF {
			return nil, fmt.Errorf("%w: stack map frames out of order at pc %d", ErrMalformedCode, f.PC)
		}
		sameLocals := sameTypes(prevLocals, f.Locals)
		grow := len(f.Locals) - len(prevLocals)

		switch {
		case sameLocals && len(f.Stack) == 0 && delta <= 63:
			e.u1(uint8(delta)) // same_frame
		case sameLocals && len(f.Stack) == 0:
			e.u1(251) // same_frame_extended
			e.u2(uint16(delta))
		case sameLocals && len(f.Stack) == 1 && delta <= 63:
			e.u1(uint8(64 + delta)) // same_locals_1_stack_item_frame
			f.Stack[0].encode(e)
		case sameLocals && len(f.Stack) == 1:
			e.u1(247) // same_locals_1_stack_item_frame_extended
			e.u2(uint16(delta))
			f.Stack[0].encode(e)
		case len(f.Stack) == 0 && grow >= 1 && grow <= 3 && sameTypes(prevLocals, f.Locals[:len(prevLocals)]):
			e.u1(uint8(251 + grow)) // append_frame
			e.u2(uint16(delta))
			for _, v := range f.Locals[len(prevLocals):] {
				v.encode(e)
			}
		case len(f.Stack) == 0 && grow <= -1 && grow >= -3 && sameTypes(prevLocals[:len(f.Locals)], f.Locals):
			e.u1(uint8(251 + grow)) // chop_frame
			e.u2(uint16(delta))
		default:
			e.u1(255) // full_frame
			e.u2(uint16(delta))
			if err := e.count(len(f.Locals), "stack map local"); err != nil {
				return nil, err
			}
			for _, v := range f.Locals {
				v.encode(e)
			}
			if err := e.count(len(f.Stack), "stack map stack item"); err != nil {
				return nil, err
			}
			for _, v := range f.Stack {
				v.encode(e)
			}
		}
		prevLocals = f.Locals
		prevPC = f.PC
	}
	return e.buf, nil
}
