package vm

import (
	"io"
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzParseClass: the reader and interpreter must never panic on arbitrary
// input. Errors are expected and acceptable; panics are bugs.
// ---------------------------------------------------------------------------

func FuzzParseClass(f *testing.F) {
	f.Add(classBytes(f, compileClass(f, 3, 20)))
	f.Add(classBytes(f, compileClass(f, 0, 0)))
	f.Add([]byte{})
	f.Add([]byte{0xCA, 0xFE, 0xBA, 0xBE})
	f.Add(rawClass(3, 3, 0, 0, 0, 1, 7, 0, 1))

	f.Fuzz(func(t *testing.T, data []byte) {
		cf, err := ParseClass(data)
		if err != nil {
			return
		}
		_ = cf.Disassemble()
		if _, err := cf.Bytes(); err != nil {
			t.Fatalf("parsed class does not serialize: %v", err)
		}

		it, err := NewInterpreter(cf,
			WithStdout(io.Discard),
			WithStderr(io.Discard),
			WithMaxSteps(10_000),
			WithMaxFrameDepth(8),
		)
		if err != nil {
			return
		}
		_ = it.RunMain()
	})
}
