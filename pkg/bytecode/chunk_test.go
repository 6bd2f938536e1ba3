package bytecode

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func diceChunk(count, faces uint32) *Chunk {
	c := NewChunk()
	c.EmitInstruction(PushInteger(count))
	c.EmitInstruction(PushInteger(faces))
	c.EmitInstruction(RollDice())
	return c
}

func TestChunkEncoding(t *testing.T) {
	c := diceChunk(2, 6)
	want := []byte{
		0x01, 0x00, 0x00, 0x00, 0x02,
		0x01, 0x00, 0x00, 0x00, 0x06,
		0x02,
	}
	if !bytes.Equal(c.Code, want) {
		t.Errorf("code = % X, want % X", c.Code, want)
	}

	ins, err := c.Instructions()
	if err != nil {
		t.Fatal(err)
	}
	wantIns := []Instruction{PushInteger(2), PushInteger(6), RollDice()}
	if !reflect.DeepEqual(ins, wantIns) {
		t.Errorf("Instructions() = %v, want %v", ins, wantIns)
	}
}

func TestChunkDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want error
	}{
		{"unknown opcode", []byte{0x09}, ErrUnknownOpcode},
		{"truncated operand", []byte{0x01, 0x00, 0x00}, ErrTruncated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &Chunk{Version: BytecodeVersion, Code: tc.code}
			if _, err := c.Instructions(); !errors.Is(err, tc.want) {
				t.Errorf("Instructions() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestChunkSerializeRoundTrip(t *testing.T) {
	c := diceChunk(3, 20)
	c.Source = "3d20"

	data, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !IsChunk(data) {
		t.Fatalf("serialized chunk does not start with magic: % X", data[:4])
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.Version != c.Version || got.Source != c.Source || !bytes.Equal(got.Code, c.Code) {
		t.Errorf("round trip = %+v, want %+v", got, c)
	}
}

func TestChunkSerializeDeterministic(t *testing.T) {
	a, err := diceChunk(4, 8).Serialize()
	if err != nil {
		t.Fatal(err)
	}
	b, err := diceChunk(4, 8).Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("serializing equal chunks produced different bytes")
	}
}

func TestDeserializeErrors(t *testing.T) {
	good, err := diceChunk(1, 6).Serialize()
	if err != nil {
		t.Fatal(err)
	}

	badMagic := append([]byte{}, good...)
	badMagic[0] = 'X'

	if _, err := Deserialize([]byte("DC")); !errors.Is(err, ErrTruncated) {
		t.Errorf("short input: error = %v, want ErrTruncated", err)
	}
	if _, err := Deserialize(badMagic); !errors.Is(err, ErrBadMagic) {
		t.Errorf("bad magic: error = %v, want ErrBadMagic", err)
	}
	if _, err := Deserialize(good[:len(good)-2]); err == nil {
		t.Error("truncated CBOR body: expected error")
	}

	future := diceChunk(1, 6)
	future.Version = BytecodeVersion + 1
	data, err := future.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Deserialize(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("future version: error = %v, want ErrUnsupportedVersion", err)
	}
}
