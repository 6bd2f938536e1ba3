package bytecode

import (
	"strings"
	"testing"
)

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op         Opcode
		name       string
		operandLen int
	}{
		{OpPushInteger, "PUSH_INTEGER", 4},
		{OpRollDice, "ROLL_DICE", 0},
	}
	for _, tc := range tests {
		if got := tc.op.String(); got != tc.name {
			t.Errorf("%#x.String() = %q, want %q", byte(tc.op), got, tc.name)
		}
		if got := tc.op.OperandLen(); got != tc.operandLen {
			t.Errorf("%s.OperandLen() = %d, want %d", tc.op, got, tc.operandLen)
		}
		if got := tc.op.InstructionLen(); got != 1+tc.operandLen {
			t.Errorf("%s.InstructionLen() = %d, want %d", tc.op, got, 1+tc.operandLen)
		}
		if !tc.op.IsValid() {
			t.Errorf("%s.IsValid() = false", tc.op)
		}
	}
}

func TestOpcodeUnknown(t *testing.T) {
	op := Opcode(0x7F)
	if op.IsValid() {
		t.Error("0x7F should not be valid")
	}
	if got := op.String(); got != "UNKNOWN(0x7F)" {
		t.Errorf("String() = %q", got)
	}
}

func TestAllOpcodesHaveNames(t *testing.T) {
	ops := AllOpcodes()
	if len(ops) != 2 {
		t.Fatalf("AllOpcodes() returned %d opcodes, want 2", len(ops))
	}
	for _, op := range ops {
		if strings.HasPrefix(op.String(), "UNKNOWN") {
			t.Errorf("opcode 0x%02X has no name", byte(op))
		}
	}
}

func TestInstructionString(t *testing.T) {
	if got := PushInteger(20).String(); !strings.HasPrefix(got, "PUSH_INTEGER") || !strings.HasSuffix(got, " 20") {
		t.Errorf("PushInteger(20).String() = %q", got)
	}
	if got := RollDice().String(); got != "ROLL_DICE" {
		t.Errorf("RollDice().String() = %q", got)
	}
}
