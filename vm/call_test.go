package vm

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/tliron/commonlog"
)

// recursiveClass builds T.down(I)V, which calls itself n times and then
// calls Marker.mark()V once at the bottom.
func recursiveClass(t *testing.T) *ClassFile {
	t.Helper()
	p := newTestPool(t)
	mark, _ := p.InternMethodref("Marker", "mark", "()V")
	down, _ := p.InternMethodref("T", "down", "(I)V")

	b := NewBytecodeBuilder()
	recurse := b.NewLabel()
	b.Emit(OpIload0)
	b.EmitJump(OpIfne, recurse)
	b.EmitOperand(OpInvokestatic, int32(mark))
	b.Emit(OpReturn)
	b.Mark(recurse)
	b.Emit(OpIload0)
	b.Emit(OpIconst1)
	b.Emit(OpIsub)
	b.EmitOperand(OpInvokestatic, int32(down))
	b.Emit(OpReturn)
	return newTestClass(t, p, testMethod{name: "down", desc: "(I)V", maxStack: 2, maxLocals: 1, code: build(t, b)})
}

// withMarker registers Marker.mark()V for the duration of the test.
func withMarker(t *testing.T, fn func(it *Interpreter)) {
	t.Helper()
	key := memberKey("Marker", "mark", "()V")
	nativeMethods[key] = func(it *Interpreter, _ Value, _ []Value) (Value, error) {
		fn(it)
		return Value{}, nil
	}
	t.Cleanup(func() { delete(nativeMethods, key) })
}

func TestRecursionKeepsGoStackFlat(t *testing.T) {
	var goFrames, jvmFrames int
	withMarker(t, func(it *Interpreter) {
		goFrames = runtime.Callers(0, make([]uintptr, 1024))
		jvmFrames = it.FrameDepth()
	})
	cf := recursiveClass(t)

	depthAt := func(n int32) (goDepth, jvmDepth int) {
		var out bytes.Buffer
		it := newTestInterpreter(t, cf, &out, WithMaxFrameDepth(1000))
		if _, err := it.Invoke("down", "(I)V", IntValue(n)); err != nil {
			t.Fatalf("down(%d): %v", n, err)
		}
		if it.FrameDepth() != 0 {
			t.Errorf("down(%d) left %d frames", n, it.FrameDepth())
		}
		return goFrames, jvmFrames
	}

	shallowGo, shallowJVM := depthAt(1)
	deepGo, deepJVM := depthAt(500)
	if shallowJVM != 2 || deepJVM != 501 {
		t.Errorf("frame depth at bottom = %d and %d, want 2 and 501", shallowJVM, deepJVM)
	}
	if shallowGo != deepGo {
		t.Errorf("Go stack grew with call depth: %d frames at depth 2, %d at depth 501", shallowGo, deepGo)
	}
}

func TestDeepRecursion(t *testing.T) {
	withMarker(t, func(*Interpreter) {})
	var out bytes.Buffer
	it := newTestInterpreter(t, recursiveClass(t), &out, WithMaxFrameDepth(200_000))
	if _, err := it.Invoke("down", "(I)V", IntValue(100_000)); err != nil {
		t.Fatal(err)
	}
}

func TestCallStackOverflowUnwinds(t *testing.T) {
	withMarker(t, func(*Interpreter) {})
	var out bytes.Buffer
	it := newTestInterpreter(t, recursiveClass(t), &out, WithMaxFrameDepth(50))
	_, err := it.Invoke("down", "(I)V", IntValue(100))
	if !errors.Is(err, ErrCallStackOverflow) {
		t.Fatalf("err = %v, want ErrCallStackOverflow", err)
	}
	if it.FrameDepth() != 0 {
		t.Errorf("%d frames left after fault", it.FrameDepth())
	}

	// The interpreter stays usable.
	if _, err := it.Invoke("down", "(I)V", IntValue(3)); err != nil {
		t.Errorf("after unwinding: %v", err)
	}
}

// recordingLogger keeps debug messages and drops everything else.
type recordingLogger struct {
	commonlog.MockLogger
	lines []string
}

func (l *recordingLogger) Debugf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) count(prefix string) int {
	n := 0
	for _, line := range l.lines {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func TestFrameLogging(t *testing.T) {
	withMarker(t, func(*Interpreter) {})
	log := &recordingLogger{}
	var out bytes.Buffer
	it := newTestInterpreter(t, recursiveClass(t), &out, WithLogger(log))
	if _, err := it.Invoke("down", "(I)V", IntValue(2)); err != nil {
		t.Fatal(err)
	}
	if push, pop := log.count("push frame down(I)V"), log.count("pop frame down(I)V"); push != 3 || pop != 3 {
		t.Errorf("logged %d pushes and %d pops, want 3 each:\n%s", push, pop, strings.Join(log.lines, "\n"))
	}
	if !strings.Contains(strings.Join(log.lines, "\n"), "push frame down(I)V (depth 3)") {
		t.Errorf("deepest push not logged:\n%s", strings.Join(log.lines, "\n"))
	}
}

// virtualClass builds an instance method echo(I)I that checks local 0 holds
// a reference and returns its argument, plus the static callers given.
func virtualClass(t *testing.T, p *ConstantPool, callers ...testMethod) *ClassFile {
	t.Helper()
	b := NewBytecodeBuilder()
	b.Emit(OpAload0)
	b.Emit(OpPop)
	b.Emit(OpIload1)
	b.Emit(OpIreturn)
	echo := testMethod{name: "echo", desc: "(I)I", flags: AccPublic, maxStack: 1, maxLocals: 2, code: build(t, b)}
	return newTestClass(t, p, append([]testMethod{echo}, callers...)...)
}

func TestInvokeVirtualSameClass(t *testing.T) {
	p := newTestPool(t)
	echo, _ := p.InternMethodref("T", "echo", "(I)I")

	b := NewBytecodeBuilder()
	b.Emit(OpAconstNull)
	b.EmitOperand(OpBipush, 7)
	b.EmitOperand(OpInvokevirtual, int32(echo))
	b.Emit(OpIreturn)
	cf := virtualClass(t, p, testMethod{name: "call", desc: "()I", maxStack: 2, code: build(t, b)})

	var out bytes.Buffer
	v, err := newTestInterpreter(t, cf, &out).Invoke("call", "()I")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != KindInt || v.Int() != 7 {
		t.Errorf("call() = %s, want 7", v)
	}
}

func TestInvokeStaticOfInstanceMethod(t *testing.T) {
	p := newTestPool(t)
	echo, _ := p.InternMethodref("T", "echo", "(I)I")
	twiceRef, _ := p.InternMethodref("T", "twice", "(I)I")

	b := NewBytecodeBuilder()
	b.EmitOperand(OpBipush, 7)
	b.EmitOperand(OpInvokestatic, int32(echo))
	b.Emit(OpIreturn)
	staticCall := testMethod{name: "staticCall", desc: "()I", maxStack: 1, code: build(t, b)}

	b = NewBytecodeBuilder()
	b.Emit(OpAconstNull)
	b.Emit(OpIconst1)
	b.EmitOperand(OpInvokevirtual, int32(twiceRef))
	b.Emit(OpIreturn)
	virtualCall := testMethod{name: "virtualCall", desc: "()I", maxStack: 2, code: build(t, b)}

	b = NewBytecodeBuilder()
	b.Emit(OpIload0)
	b.Emit(OpIconst2)
	b.Emit(OpImul)
	b.Emit(OpIreturn)
	twice := testMethod{name: "twice", desc: "(I)I", maxStack: 2, maxLocals: 1, code: build(t, b)}

	cf := virtualClass(t, p, staticCall, virtualCall, twice)
	var out bytes.Buffer
	it := newTestInterpreter(t, cf, &out)
	for _, name := range []string{"staticCall", "virtualCall"} {
		if _, err := it.Invoke(name, "()I"); !errors.Is(err, ErrNoSuchMethod) {
			t.Errorf("%s: err = %v, want ErrNoSuchMethod", name, err)
		}
	}
}

func TestReturnMustMatchDescriptor(t *testing.T) {
	tests := []struct {
		name string
		desc string
		emit func(b *BytecodeBuilder)
	}{
		{"ireturn from void", "()V", func(b *BytecodeBuilder) {
			b.Emit(OpIconst1)
			b.Emit(OpIreturn)
		}},
		{"return from int", "()I", func(b *BytecodeBuilder) {
			b.Emit(OpReturn)
		}},
		{"freturn from int", "()I", func(b *BytecodeBuilder) {
			b.Emit(OpFconst1)
			b.Emit(OpFreturn)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPool(t)
			b := NewBytecodeBuilder()
			tc.emit(b)
			cf := newTestClass(t, p, testMethod{name: "f", desc: tc.desc, maxStack: 1, code: build(t, b)})

			var out bytes.Buffer
			_, err := newTestInterpreter(t, cf, &out).Invoke("f", tc.desc)
			if !errors.Is(err, ErrTypeMismatch) {
				t.Fatalf("err = %v, want ErrTypeMismatch", err)
			}
			var fault *Fault
			if !errors.As(err, &fault) || fault.Method != "f"+tc.desc {
				t.Errorf("err = %v, want a *Fault in f%s", err, tc.desc)
			}
		})
	}
}

func TestReturnValueReachesCaller(t *testing.T) {
	p := newTestPool(t)
	h, _ := p.InternMethodref("T", "h", "()J")

	b := NewBytecodeBuilder()
	b.Emit(OpLconst1)
	b.Emit(OpLreturn)
	callee := testMethod{name: "h", desc: "()J", maxStack: 2, code: build(t, b)}

	b = NewBytecodeBuilder()
	b.EmitOperand(OpInvokestatic, int32(h))
	b.Emit(OpLconst1)
	b.Emit(OpLadd)
	b.Emit(OpLreturn)
	caller := testMethod{name: "c", desc: "()J", maxStack: 4, code: build(t, b)}

	var out bytes.Buffer
	v, err := newTestInterpreter(t, newTestClass(t, p, callee, caller), &out).Invoke("c", "()J")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != KindLong || v.Long() != 2 {
		t.Errorf("c() = %s, want 2", v)
	}
}
