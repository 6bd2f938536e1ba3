package vm

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeStackMapTable(t *testing.T) {
	i := VerificationType{Tag: VerifyInteger}
	tests := []struct {
		name    string
		initial []VerificationType
		frames  []StackMapFrame
		want    []byte
	}{
		{
			name:    "rollDice",
			initial: []VerificationType{i, i},
			frames: []StackMapFrame{
				{PC: 8, Locals: []VerificationType{i, i, i, i}},
				{PC: 39, Locals: []VerificationType{i, i, i, i}},
			},
			want: []byte{0x00, 0x02, 0xFD, 0x00, 0x08, 0x01, 0x01, 0x1E},
		},
		{
			name:    "same locals one stack item",
			initial: []VerificationType{i},
			frames:  []StackMapFrame{{PC: 3, Locals: []VerificationType{i}, Stack: []VerificationType{i}}},
			want:    []byte{0x00, 0x01, 0x43, 0x01},
		},
		{
			name:    "chop",
			initial: []VerificationType{i, i},
			frames:  []StackMapFrame{{PC: 0, Locals: []VerificationType{i}}},
			want:    []byte{0x00, 0x01, 0xFA, 0x00, 0x00},
		},
		{
			name:    "same frame extended",
			initial: nil,
			frames:  []StackMapFrame{{PC: 100}},
			want:    []byte{0x00, 0x01, 0xFB, 0x00, 0x64},
		},
		{
			name:    "full",
			initial: []VerificationType{i},
			frames: []StackMapFrame{{
				PC:     100,
				Locals: []VerificationType{{Tag: VerifyFloat}},
				Stack:  []VerificationType{{Tag: VerifyObject, Index: 5}},
			}},
			want: []byte{0x00, 0x01, 0xFF, 0x00, 0x64, 0x00, 0x01, 0x02, 0x00, 0x01, 0x07, 0x00, 0x05},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeStackMapTable(tc.initial, tc.frames)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Errorf("got % X, want % X", got, tc.want)
			}
		})
	}
}

func TestEncodeStackMapTableOrder(t *testing.T) {
	_, err := EncodeStackMapTable(nil, []StackMapFrame{{PC: 5}, {PC: 5}})
	if !errors.Is(err, ErrMalformedCode) {
		t.Errorf("err = %v, want ErrMalformedCode", err)
	}
}
