package vm

import (
	"errors"
	"math"
	"testing"
)

func TestInternIdempotent(t *testing.T) {
	p := NewConstantPool()

	a, err := p.InternUtf8("x")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.InternUtf8("x")
	if a != 1 || b != 1 {
		t.Fatalf("InternUtf8 = %d, %d, want 1, 1", a, b)
	}

	c, _ := p.InternClass("x")
	if c != 2 {
		t.Fatalf("InternClass = %d, want 2 (reusing Utf8 #1)", c)
	}
	if again, _ := p.InternClass("x"); again != c {
		t.Errorf("second InternClass = %d, want %d", again, c)
	}

	m1, _ := p.InternMethodref("java/io/PrintStream", "println", "(I)V")
	m2, _ := p.InternMethodref("java/io/PrintStream", "println", "(I)V")
	if m1 != m2 {
		t.Errorf("InternMethodref = %d, %d", m1, m2)
	}
	ref, err := p.MemberRef(m1)
	if err != nil {
		t.Fatal(err)
	}
	if ref.String() != "java/io/PrintStream.println:(I)V" || ref.Tag != TagMethodref {
		t.Errorf("MemberRef = %v (%s)", ref, ref.Tag)
	}

	// Same name and type, different kind of member.
	f, _ := p.InternFieldref("java/io/PrintStream", "println", "(I)V")
	if f == m1 {
		t.Error("Fieldref and Methodref share an index")
	}
}

func TestWideConstantsTakeTwoSlots(t *testing.T) {
	p := NewConstantPool()
	l, _ := p.InternLong(7)
	i, _ := p.InternInteger(1)
	d, _ := p.InternDouble(2.5)
	s, _ := p.InternUtf8("after")

	if l != 1 || i != 3 || d != 4 || s != 6 {
		t.Fatalf("indices = %d %d %d %d, want 1 3 4 6", l, i, d, s)
	}
	if p.Len() != 6 || p.Count() != 7 {
		t.Errorf("Len = %d, Count = %d", p.Len(), p.Count())
	}
	if _, err := p.Entry(2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Entry(2) err = %v, want ErrIndexOutOfRange", err)
	}
	entries := p.Entries()
	if entries[1] != nil || entries[4] != nil {
		t.Errorf("wide slots are not nil: %v", entries)
	}
	if entries[0] != (LongInfo{Value: 7}) {
		t.Errorf("entries[0] = %v", entries[0])
	}
}

func TestInternFloatBitPatterns(t *testing.T) {
	p := NewConstantPool()
	n1, _ := p.InternDouble(math.NaN())
	n2, _ := p.InternDouble(math.NaN())
	if n1 != n2 {
		t.Errorf("NaN interned twice: %d, %d", n1, n2)
	}
	z, _ := p.InternDouble(0)
	nz, _ := p.InternDouble(math.Copysign(0, -1))
	if z == nz {
		t.Error("0.0 and -0.0 share an index")
	}
	f, _ := p.InternFloat(1.5)
	if again, _ := p.InternFloat(1.5); again != f {
		t.Errorf("InternFloat = %d, %d", f, again)
	}
}

func TestPoolLookupErrors(t *testing.T) {
	p := NewConstantPool()
	cls, _ := p.InternClass("Foo")

	if _, err := p.Entry(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Entry(0) err = %v", err)
	}
	if _, err := p.Entry(99); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Entry(99) err = %v", err)
	}
	if _, err := p.Utf8(cls); !errors.Is(err, ErrMalformedConstant) {
		t.Errorf("Utf8(class) err = %v, want ErrMalformedConstant", err)
	}
	if _, err := p.MemberRef(cls); !errors.Is(err, ErrMalformedConstant) {
		t.Errorf("MemberRef(class) err = %v, want ErrMalformedConstant", err)
	}
	if name, err := p.ClassName(cls); err != nil || name != "Foo" {
		t.Errorf("ClassName = %q, %v", name, err)
	}
}

func TestPoolOverflow(t *testing.T) {
	p := NewConstantPool()
	for i := 0; i < maxPoolSlots-1; i++ {
		if _, err := p.InternInteger(int32(i)); err != nil {
			t.Fatalf("InternInteger(%d): %v", i, err)
		}
	}

	// One slot left: a Long does not fit, an Integer does.
	if _, err := p.InternLong(1); !errors.Is(err, ErrPoolOverflow) {
		t.Fatalf("InternLong err = %v, want ErrPoolOverflow", err)
	}
	if _, err := p.InternInteger(-1); err != nil {
		t.Fatalf("last InternInteger: %v", err)
	}
	if _, err := p.InternInteger(-2); !errors.Is(err, ErrPoolOverflow) {
		t.Fatalf("err = %v, want ErrPoolOverflow", err)
	}
	// Existing constants still resolve.
	if idx, err := p.InternInteger(5); err != nil || idx != 6 {
		t.Errorf("InternInteger(5) = %d, %v", idx, err)
	}
	if !IsGenerationError(ErrPoolOverflow) {
		t.Error("ErrPoolOverflow is not a generation error")
	}
}

func TestPoolDescribe(t *testing.T) {
	p := NewConstantPool()
	s, _ := p.InternString("Total: ")
	f, _ := p.InternFieldref("java/lang/System", "out", "Ljava/io/PrintStream;")

	if got := p.Describe(s); got != `String "Total: "` {
		t.Errorf("Describe(string) = %q", got)
	}
	if got := p.Describe(f); got != "Field java/lang/System.out:Ljava/io/PrintStream;" {
		t.Errorf("Describe(field) = %q", got)
	}
	if got := p.Describe(500); got != "" {
		t.Errorf("Describe(500) = %q", got)
	}
}
