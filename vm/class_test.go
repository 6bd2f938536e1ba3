package vm

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/dice/compiler"
)

func compileClass(t testing.TB, count, faces uint32) *ClassFile {
	t.Helper()
	cf, err := CompileClass(compiler.NewDiceProgram(count, faces), "")
	if err != nil {
		t.Fatalf("CompileClass: %v", err)
	}
	return cf
}

func classBytes(t testing.TB, cf *ClassFile) []byte {
	t.Helper()
	data, err := cf.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return data
}

func TestBuildClassHeader(t *testing.T) {
	data := classBytes(t, compileClass(t, 3, 20))
	header := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x00, 0x00, 0x34}
	if !bytes.HasPrefix(data, header) {
		t.Fatalf("header = % X", data[:8])
	}
}

func TestClassRoundTrip(t *testing.T) {
	cf := compileClass(t, 3, 20)
	data := classBytes(t, cf)

	back, err := ParseClass(data)
	if err != nil {
		t.Fatalf("ParseClass: %v", err)
	}
	if !reflect.DeepEqual(back.Pool.Entries(), cf.Pool.Entries()) {
		t.Error("constant pools differ")
	}
	if name, _ := back.ClassName(); name != "DiceRoll" {
		t.Errorf("class name = %q", name)
	}
	if super, _ := back.SuperName(); super != "java/lang/Object" {
		t.Errorf("super = %q", super)
	}
	if back.AccessFlags != AccPublic|AccSuper {
		t.Errorf("flags = %#x", back.AccessFlags)
	}

	for _, sig := range [][2]string{{MainName, MainDescriptor}, {RollDiceName, RollDiceDescriptor}} {
		want, err := cf.FindMethod(sig[0], sig[1])
		if err != nil {
			t.Fatal(err)
		}
		got, err := back.FindMethod(sig[0], sig[1])
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got.Code.Code, want.Code.Code) {
			t.Errorf("%s code differs", sig[0])
		}
		if got.Code.MaxStack != want.Code.MaxStack || got.Code.MaxLocals != want.Code.MaxLocals {
			t.Errorf("%s limits = %d/%d", sig[0], got.Code.MaxStack, got.Code.MaxLocals)
		}
		if !got.IsStatic() {
			t.Errorf("%s is not static", sig[0])
		}
	}

	roll, _ := back.FindMethod(RollDiceName, RollDiceDescriptor)
	if len(roll.Code.Attributes) != 1 {
		t.Fatalf("rollDice has %d code attributes", len(roll.Code.Attributes))
	}
	smt := roll.Code.Attributes[0]
	if name, _ := back.Pool.Utf8(smt.NameIndex); name != AttrStackMapTable {
		t.Errorf("code attribute = %q", name)
	}
	if !bytes.Equal(smt.Info, []byte{0x00, 0x02, 0xFD, 0x00, 0x08, 0x01, 0x01, 0x1E}) {
		t.Errorf("StackMapTable = % X", smt.Info)
	}

	if again := classBytes(t, back); !bytes.Equal(again, data) {
		t.Error("re-serialized class differs from the original bytes")
	}
}

func TestWriteToAndFile(t *testing.T) {
	cf := compileClass(t, 1, 6)
	var buf bytes.Buffer
	n, err := cf.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("WriteTo = %d, wrote %d", n, buf.Len())
	}

	path := filepath.Join(t.TempDir(), "DiceRoll.class")
	if err := WriteClassFile(path, cf); err != nil {
		t.Fatal(err)
	}
	back, err := ReadClassFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(classBytes(t, back), buf.Bytes()) {
		t.Error("file contents differ from WriteTo")
	}

	if _, err := ReadClass(bytes.NewReader(buf.Bytes())); err != nil {
		t.Errorf("ReadClass: %v", err)
	}
}

func TestWriteUtf8TooLong(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.InternUtf8(strings.Repeat("a", 70000)); err != nil {
		t.Fatal(err)
	}
	cf := newTestClass(t, p)
	if _, err := cf.Bytes(); !errors.Is(err, ErrEncoding) {
		t.Errorf("err = %v, want ErrEncoding", err)
	}
}

func TestParseClassTruncated(t *testing.T) {
	data := classBytes(t, compileClass(t, 2, 6))
	for n := 0; n < len(data); n++ {
		_, err := ParseClass(data[:n])
		if err == nil {
			t.Fatalf("prefix of %d bytes parsed", n)
		}
		if !IsFormatError(err) {
			t.Fatalf("prefix of %d bytes: %v is not a format error", n, err)
		}
	}
	if _, err := ParseClass(data[:20]); !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}

func TestParseClassBadMagic(t *testing.T) {
	data := classBytes(t, compileClass(t, 2, 6))
	copy(data, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if _, err := ParseClass(data); !errors.Is(err, ErrBadMagic) {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestParseClassTrailingData(t *testing.T) {
	data := append(classBytes(t, compileClass(t, 2, 6)), 0x00)
	if _, err := ParseClass(data); !errors.Is(err, ErrTrailingData) {
		t.Errorf("err = %v, want ErrTrailingData", err)
	}
}

// rawClass builds a class header followed by a raw constant pool section.
func rawClass(poolCount uint16, pool ...byte) []byte {
	e := &classEncoder{}
	e.u4(ClassMagic)
	e.u2(MinorVersion)
	e.u2(MajorVersion)
	e.u2(poolCount)
	e.raw(pool)
	return e.buf
}

func TestParseClassPoolErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"zero count", rawClass(0)},
		{"unknown tag", rawClass(2, 2, 0, 0)},
		{"long in last slot", rawClass(2, 5, 0, 0, 0, 0, 0, 0, 0, 1)},
		{"class names an integer", rawClass(3, 3, 0, 0, 0, 1, 7, 0, 1)},
		{"string past end", rawClass(2, 8, 0, 9)},
		{"bad method handle kind", rawClass(2, 15, 10, 0, 1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClass(tc.data)
			if !errors.Is(err, ErrMalformedConstant) && !errors.Is(err, ErrIndexOutOfRange) {
				t.Errorf("err = %v, want a constant pool error", err)
			}
		})
	}
}

func TestParseClassUnsupportedOpcode(t *testing.T) {
	p := newTestPool(t)
	cf := newTestClass(t, p, testMethod{
		name: "main", desc: MainDescriptor, maxStack: 2, maxLocals: 1,
		code: []byte{0xBB, 0x00, 0x02, byte(OpReturn)}, // new #2
	})

	_, err := ParseClass(classBytes(t, cf))
	var uie *UnsupportedInstructionError
	if !errors.As(err, &uie) {
		t.Fatalf("err = %v, want *UnsupportedInstructionError", err)
	}
	if uie.Method != "main"+MainDescriptor || uie.PC != 0 {
		t.Errorf("error = %+v", uie)
	}
	if !strings.Contains(err.Error(), "new") {
		t.Errorf("error does not name the opcode: %v", err)
	}
}

func TestParseClassCodeChecks(t *testing.T) {
	p := newTestPool(t)
	method, _ := p.InternMethodref("T", "f", "()V")
	field, _ := p.InternFieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
	long, _ := p.InternLong(1)

	tests := []struct {
		name string
		code []byte
		want error
	}{
		{"ldc of a methodref", []byte{byte(OpLdcW), 0, byte(method), byte(OpReturn)}, ErrMalformedConstant},
		{"ldc of a long", []byte{byte(OpLdcW), 0, byte(long), byte(OpReturn)}, ErrMalformedConstant},
		{"getstatic of a method", []byte{byte(OpGetstatic), 0, byte(method), byte(OpReturn)}, ErrMalformedConstant},
		{"invoke of a field", []byte{byte(OpInvokestatic), 0, byte(field), byte(OpReturn)}, ErrMalformedConstant},
		{"pool index out of range", []byte{byte(OpInvokestatic), 0x7F, 0xFF, byte(OpReturn)}, ErrIndexOutOfRange},
		{"local past max_locals", []byte{byte(OpIload), 1, byte(OpReturn)}, ErrMalformedCode},
		{"long local straddles max_locals", []byte{byte(OpLload0), byte(OpReturn)}, ErrMalformedCode},
		{"branch into operand", []byte{byte(OpGoto), 0, 1, byte(OpReturn)}, ErrMalformedCode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cf := newTestClass(t, p, testMethod{name: "f", desc: "()V", maxStack: 2, maxLocals: 1, code: tc.code})
			_, err := ParseClass(classBytes(t, cf))
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseClassDuplicateCode(t *testing.T) {
	p := newTestPool(t)
	cf := newTestClass(t, p, testMethod{name: "f", desc: "()V", maxStack: 0, maxLocals: 0, code: []byte{byte(OpReturn)}})
	info, err := encodeCode(cf.Methods[0].Code)
	if err != nil {
		t.Fatal(err)
	}
	cf.Methods[0].Attributes = []Attribute{{NameIndex: cf.Methods[0].Code.NameIndex, Info: info}}

	if _, err := ParseClass(classBytes(t, cf)); !errors.Is(err, ErrMalformedCode) {
		t.Errorf("err = %v, want ErrMalformedCode", err)
	}
}

func TestParseClassEmptyCode(t *testing.T) {
	p := newTestPool(t)
	cf := newTestClass(t, p, testMethod{name: "f", desc: "()V", code: []byte{byte(OpReturn)}})
	data := classBytes(t, cf)

	// Zero the code_length and drop the single code byte by hand: the
	// writer refuses to produce it.
	i := bytes.Index(data, []byte{0x00, 0x00, 0x00, 0x01, byte(OpReturn)})
	if i < 0 {
		t.Fatal("code not found")
	}
	broken := append([]byte{}, data[:i]...)
	broken = append(broken, 0x00, 0x00, 0x00, 0x00)
	broken = append(broken, data[i+5:]...)
	// Fix up the attribute_length, which sits just before max_stack/max_locals.
	lenAt := i - 4 - 4
	broken[lenAt+3]--

	if _, err := ParseClass(broken); !errors.Is(err, ErrMalformedCode) {
		t.Errorf("err = %v, want ErrMalformedCode", err)
	}
}

func TestClassDisassemble(t *testing.T) {
	out := compileClass(t, 3, 20).Disassemble()
	for _, want := range []string{
		"class DiceRoll extends java/lang/Object",
		"version: 52.0",
		"main([Ljava/lang/String;)V",
		"invokestatic",
		"// Method DiceRoll.rollDice:(II)V",
		"StackMapTable: 8 bytes",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
