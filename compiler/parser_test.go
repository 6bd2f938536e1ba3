package compiler

import (
	"errors"
	"strings"
	"testing"
)

func TestParserDice(t *testing.T) {
	tests := []struct {
		input string
		count uint32
		faces uint32
	}{
		{"2d6", 2, 6},
		{"1d20", 1, 20},
		{"10D100", 10, 100},
		{"  3 d 8  ", 3, 8},
		{"0d0", 0, 0},
		{"4294967295d4294967295", 4294967295, 4294967295},
	}

	for _, tc := range tests {
		prog, err := Parse(tc.input)
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.input, err)
			continue
		}
		dice := prog.Dice()
		if dice == nil {
			t.Errorf("Parse(%q): no dice expression", tc.input)
			continue
		}
		if dice.Count != tc.count || dice.Faces != tc.faces {
			t.Errorf("Parse(%q) = %s, want %dd%d", tc.input, dice, tc.count, tc.faces)
		}
	}
}

func TestParserEmptyProgram(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t"} {
		prog, err := Parse(input)
		if err != nil {
			t.Errorf("Parse(%q): %v", input, err)
			continue
		}
		if !prog.Empty() {
			t.Errorf("Parse(%q): expected empty program", input)
		}
		if prog.Dice() != nil {
			t.Errorf("Parse(%q): expected nil dice", input)
		}
	}
}

func TestParserSpan(t *testing.T) {
	prog, err := Parse("12d20")
	if err != nil {
		t.Fatal(err)
	}
	span := prog.Dice().Span()
	if span.Start.Offset != 0 || span.End.Offset != 5 {
		t.Errorf("span offsets = %d..%d, want 0..5", span.Start.Offset, span.End.Offset)
	}
	if span.Start.Column != 1 || span.End.Column != 6 {
		t.Errorf("span columns = %d..%d, want 1..6", span.Start.Column, span.End.Column)
	}
	if prog.Statement.Span() != span {
		t.Errorf("statement span = %v, want %v", prog.Statement.Span(), span)
	}
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"d6", "expected integer"},
		{"2d", "expected integer, found end of input"},
		{"26", "expected DICE, found end of input"},
		{"2d6 3", "unexpected \"3\" after dice expression"},
		{"2d6d4", "unexpected \"d\" after dice expression"},
		{"2x6", "unexpected character"},
		{"4294967296d6", "out of range for 32-bit unsigned"},
		{"2d99999999999", "out of range for 32-bit unsigned"},
	}

	for _, tc := range tests {
		_, err := Parse(tc.input)
		if err == nil {
			t.Errorf("Parse(%q): expected error", tc.input)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Parse(%q) error = %q, want it to contain %q", tc.input, err, tc.want)
		}
		var syn *SyntaxError
		if !errors.As(err, &syn) {
			t.Errorf("Parse(%q): error is not a *SyntaxError", tc.input)
		}
	}
}

func TestParserErrorPosition(t *testing.T) {
	p := NewParser("2d6 x")
	p.ParseProgram()
	errs := p.Errors()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	if errs[0].Span.Start.Column != 5 {
		t.Errorf("error column = %d, want 5", errs[0].Span.Start.Column)
	}
}

func TestNewDiceProgram(t *testing.T) {
	prog := NewDiceProgram(3, 20)
	if prog.Empty() {
		t.Fatal("expected a statement")
	}
	if got := prog.Dice().String(); got != "3d20" {
		t.Errorf("String() = %q, want 3d20", got)
	}
}
