package vm

import (
	"bytes"
	"math/rand/v2"
	"testing"
)

// testMethod describes a method for newTestClass. Zero flags mean
// public static.
type testMethod struct {
	name      string
	desc      string
	flags     uint16
	maxStack  uint16
	maxLocals uint16
	code      []byte
}

// newTestPool returns a pool for class "T" extending java/lang/Object.
func newTestPool(t testing.TB) *ConstantPool {
	t.Helper()
	p := NewConstantPool()
	if _, err := p.InternClass("T"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.InternClass("java/lang/Object"); err != nil {
		t.Fatal(err)
	}
	return p
}

// newTestClass assembles class T with the given methods.
func newTestClass(t testing.TB, pool *ConstantPool, methods ...testMethod) *ClassFile {
	t.Helper()
	in := &interner{pool: pool}
	this := in.class("T")
	super := in.class("java/lang/Object")
	code := in.utf8(AttrCode)

	cf := &ClassFile{
		MinorVersion: MinorVersion,
		MajorVersion: MajorVersion,
		Pool:         pool,
		AccessFlags:  AccPublic | AccSuper,
		ThisClass:    this,
		SuperClass:   super,
	}
	for _, m := range methods {
		flags := m.flags
		if flags == 0 {
			flags = AccPublic | AccStatic
		}
		cf.Methods = append(cf.Methods, Method{
			AccessFlags:     flags,
			NameIndex:       in.utf8(m.name),
			DescriptorIndex: in.utf8(m.desc),
			Code: &CodeAttribute{
				NameIndex: code,
				MaxStack:  m.maxStack,
				MaxLocals: m.maxLocals,
				Code:      m.code,
			},
		})
	}
	if in.err != nil {
		t.Fatal(in.err)
	}
	return cf
}

// build finishes a builder, failing the test on an encoding error.
func build(t testing.TB, b *BytecodeBuilder) []byte {
	t.Helper()
	if err := b.Err(); err != nil {
		t.Fatalf("builder: %v", err)
	}
	return b.Bytes()
}

func newTestInterpreter(t testing.TB, cf *ClassFile, out *bytes.Buffer, opts ...Option) *Interpreter {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 2))), WithStdout(out), WithStderr(out)}, opts...)
	it, err := NewInterpreter(cf, opts...)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	return it
}
