package bytecode

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/chazu/dice/compiler"
)

func newTestVM(out *bytes.Buffer, opts ...Option) *VM {
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 2))), WithOutput(out)}, opts...)
	return NewVM(opts...)
}

func TestVMTwoD6(t *testing.T) {
	var out bytes.Buffer
	vm := newTestVM(&out)

	res, err := vm.Execute(diceChunk(2, 6))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Same seed, same draws.
	ref := rand.New(rand.NewPCG(1, 2))
	want := []uint32{ref.Uint32N(6) + 1, ref.Uint32N(6) + 1}
	if len(res.Rolls) != 2 || res.Rolls[0] != want[0] || res.Rolls[1] != want[1] {
		t.Fatalf("rolls = %v, want %v", res.Rolls, want)
	}
	if res.Total != uint64(want[0]+want[1]) {
		t.Errorf("total = %d, want %d", res.Total, want[0]+want[1])
	}

	wantOut := fmt.Sprintf("%d\n%d\nTotal: %d\n", want[0], want[1], res.Total)
	if out.String() != wantOut {
		t.Errorf("output = %q, want %q", out.String(), wantOut)
	}
}

func TestVMRollsInRange(t *testing.T) {
	tests := []struct {
		count, faces uint32
	}{
		{1, 1},
		{10, 2},
		{100, 6},
		{50, 1000},
		{3, 4294967295},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%dd%d", tc.count, tc.faces), func(t *testing.T) {
			var out bytes.Buffer
			res, err := newTestVM(&out).Execute(diceChunk(tc.count, tc.faces))
			if err != nil {
				t.Fatal(err)
			}
			if uint32(len(res.Rolls)) != tc.count {
				t.Fatalf("got %d rolls, want %d", len(res.Rolls), tc.count)
			}
			var sum uint64
			for _, r := range res.Rolls {
				if r < 1 || r > tc.faces {
					t.Errorf("roll %d outside [1, %d]", r, tc.faces)
				}
				sum += uint64(r)
			}
			if sum != res.Total {
				t.Errorf("total = %d, sum of rolls = %d", res.Total, sum)
			}
			lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
			if uint32(len(lines)) != tc.count+1 {
				t.Errorf("printed %d lines, want %d", len(lines), tc.count+1)
			}
			if lines[len(lines)-1] != fmt.Sprintf("Total: %d", sum) {
				t.Errorf("last line = %q", lines[len(lines)-1])
			}
		})
	}
}

func TestVMOneFaceAlwaysOne(t *testing.T) {
	var out bytes.Buffer
	res, err := newTestVM(&out).Execute(diceChunk(5, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 5 {
		t.Errorf("5d1 total = %d, want 5", res.Total)
	}
}

func TestVMZeroFaces(t *testing.T) {
	var out bytes.Buffer
	_, err := newTestVM(&out).Execute(diceChunk(3, 0))
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("error = %v, want ErrDivisionByZero", err)
	}
	if out.Len() != 0 {
		t.Errorf("faulted run printed %q", out.String())
	}
}

func TestVMZeroCount(t *testing.T) {
	var out bytes.Buffer
	res, err := newTestVM(&out).Execute(diceChunk(0, 6))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rolls) != 0 || res.Total != 0 {
		t.Errorf("0d6 = %+v, want no rolls", res)
	}
	if out.String() != "Total: 0\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestVMEmptyChunk(t *testing.T) {
	var out bytes.Buffer
	res, err := newTestVM(&out).Execute(NewChunk())
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 0 || out.String() != "Total: 0\n" {
		t.Errorf("empty chunk: result %+v, output %q", res, out.String())
	}
}

func TestVMStackUnderflow(t *testing.T) {
	c := NewChunk()
	c.EmitInstruction(PushInteger(6))
	c.EmitInstruction(RollDice())

	var out bytes.Buffer
	if _, err := newTestVM(&out).Execute(c); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("error = %v, want ErrStackUnderflow", err)
	}
}

func TestVMStackOverflow(t *testing.T) {
	var out bytes.Buffer
	vm := newTestVM(&out, WithMaxStack(4))

	if _, err := vm.Execute(diceChunk(5, 6)); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("roll past limit: error = %v, want ErrStackOverflow", err)
	}

	c := NewChunk()
	for i := 0; i < 5; i++ {
		c.EmitInstruction(PushInteger(1))
	}
	if _, err := vm.Execute(c); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("push past limit: error = %v, want ErrStackOverflow", err)
	}
}

func TestVMUnknownOpcode(t *testing.T) {
	c := &Chunk{Version: BytecodeVersion, Code: []byte{0x42}}
	var out bytes.Buffer
	if _, err := newTestVM(&out).Execute(c); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("error = %v, want ErrUnknownOpcode", err)
	}
}

func TestVMLeftoverValuesArePrinted(t *testing.T) {
	c := NewChunk()
	c.EmitInstruction(PushInteger(40))
	c.EmitInstruction(PushInteger(2))

	var out bytes.Buffer
	res, err := newTestVM(&out).Execute(c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 42 {
		t.Errorf("total = %d, want 42", res.Total)
	}
	if out.String() != "40\n2\nTotal: 42\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestVMCompiledProgram(t *testing.T) {
	prog, err := compiler.ParseAndAnalyze("4d8", compiler.AnalyzeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := Compile(prog)
	if err != nil {
		t.Fatal(err)
	}
	data, err := chunk.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}

	var a, b bytes.Buffer
	resA, err := newTestVM(&a).Execute(chunk)
	if err != nil {
		t.Fatal(err)
	}
	resB, err := newTestVM(&b).Execute(loaded)
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() || resA.Total != resB.Total {
		t.Errorf("reloaded chunk ran differently: %q vs %q", a.String(), b.String())
	}
}
