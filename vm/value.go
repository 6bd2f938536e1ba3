package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Value: tagged JVM operand value
// ---------------------------------------------------------------------------

// Kind is the computational type of a Value.
type Kind uint8

const (
	kindTop Kind = iota // unset local, or the upper half of a long/double

	KindInt
	KindFloat
	KindLong
	KindDouble
	KindReference
	KindReturnAddress
)

var kindNames = [...]string{
	kindTop:           "top",
	KindInt:           "int",
	KindFloat:         "float",
	KindLong:          "long",
	KindDouble:        "double",
	KindReference:     "reference",
	KindReturnAddress: "returnAddress",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Slots returns the number of local-variable slots a value of this kind
// occupies. Long and double take two; everything else takes one.
func (k Kind) Slots() int {
	if k == KindLong || k == KindDouble {
		return 2
	}
	return 1
}

// Value is a single operand-stack entry or local. Long and double values
// are one Value on the operand stack but two slots in the locals array.
type Value struct {
	kind Kind
	bits uint64
}

// IntValue creates an int value.
func IntValue(v int32) Value { return Value{kind: KindInt, bits: uint64(uint32(v))} }

// FloatValue creates a float value.
func FloatValue(v float32) Value { return Value{kind: KindFloat, bits: uint64(math.Float32bits(v))} }

// LongValue creates a long value.
func LongValue(v int64) Value { return Value{kind: KindLong, bits: uint64(v)} }

// DoubleValue creates a double value.
func DoubleValue(v float64) Value { return Value{kind: KindDouble, bits: math.Float64bits(v)} }

// RefValue creates a reference to heap slot idx.
func RefValue(idx int) Value { return Value{kind: KindReference, bits: uint64(idx) + 1} }

// NullValue returns the null reference.
func NullValue() Value { return Value{kind: KindReference} }

// ReturnAddressValue creates a return address pointing at pc.
func ReturnAddressValue(pc int) Value { return Value{kind: KindReturnAddress, bits: uint64(pc)} }

// Kind returns the value's computational type.
func (v Value) Kind() Kind { return v.kind }

// Int returns the int payload.
func (v Value) Int() int32 { return int32(uint32(v.bits)) }

// Float returns the float payload.
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.bits)) }

// Long returns the long payload.
func (v Value) Long() int64 { return int64(v.bits) }

// Double returns the double payload.
func (v Value) Double() float64 { return math.Float64frombits(v.bits) }

// ReturnAddress returns the pc payload of a return address.
func (v Value) ReturnAddress() int { return int(v.bits) }

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool { return v.kind == KindReference && v.bits == 0 }

// Ref returns the heap slot of a non-null reference.
func (v Value) Ref() (int, bool) {
	if v.kind != KindReference || v.bits == 0 {
		return 0, false
	}
	return int(v.bits - 1), true
}

// IsCategory2 reports whether v is a long or double.
func (v Value) IsCategory2() bool { return v.kind.Slots() == 2 }

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("int %d", v.Int())
	case KindFloat:
		return fmt.Sprintf("float %g", v.Float())
	case KindLong:
		return fmt.Sprintf("long %d", v.Long())
	case KindDouble:
		return fmt.Sprintf("double %g", v.Double())
	case KindReference:
		if v.IsNull() {
			return "null"
		}
		idx, _ := v.Ref()
		return fmt.Sprintf("ref #%d", idx)
	case KindReturnAddress:
		return fmt.Sprintf("returnAddress %d", v.ReturnAddress())
	default:
		return "top"
	}
}
