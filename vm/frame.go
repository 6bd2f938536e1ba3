package vm

import "fmt"

// ---------------------------------------------------------------------------
// Frame: one method activation
// ---------------------------------------------------------------------------

// Frame holds the locals and operand stack of a running method. The operand
// stack is bounded by max_stack in slots, so a long or double counts twice.
type Frame struct {
	method *Method
	name   string // name+descriptor, for faults
	desc   MethodDescriptor
	code   []byte
	pc     int
	callPC int // pc of the invoke waiting on a callee

	locals   []Value
	stack    []Value
	slots    int // operand stack depth in slots
	maxStack int
}

func newFrame(m *Method, name string, desc MethodDescriptor) *Frame {
	return &Frame{
		method:   m,
		name:     name,
		desc:     desc,
		code:     m.Code.Code,
		locals:   make([]Value, m.Code.MaxLocals),
		stack:    make([]Value, 0, m.Code.MaxStack),
		maxStack: int(m.Code.MaxStack),
	}
}

// Name returns the method's name and descriptor.
func (f *Frame) Name() string { return f.name }

// PC returns the pc of the next instruction.
func (f *Frame) PC() int { return f.pc }

// Depth returns the operand stack depth in slots.
func (f *Frame) Depth() int { return f.slots }

func (f *Frame) push(v Value) error {
	n := v.Kind().Slots()
	if f.slots+n > f.maxStack {
		return fmt.Errorf("%w: pushing %s onto %d of %d slots", ErrStackOverflow, v.Kind(), f.slots, f.maxStack)
	}
	f.stack = append(f.stack, v)
	f.slots += n
	return nil
}

func (f *Frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	f.slots -= v.Kind().Slots()
	return v, nil
}

func (f *Frame) peek() (Value, error) {
	if len(f.stack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	return f.stack[len(f.stack)-1], nil
}

// popKind pops a value that must be of kind k.
func (f *Frame) popKind(k Kind) (Value, error) {
	v, err := f.pop()
	if err != nil {
		return Value{}, err
	}
	if v.Kind() != k {
		return Value{}, fmt.Errorf("%w: expected %s on stack, found %s", ErrTypeMismatch, k, v.Kind())
	}
	return v, nil
}

// popCategory1 pops an int, float, reference or return address.
func (f *Frame) popCategory1() (Value, error) {
	v, err := f.pop()
	if err != nil {
		return Value{}, err
	}
	if v.IsCategory2() {
		return Value{}, fmt.Errorf("%w: %s is a two-slot value", ErrTypeMismatch, v.Kind())
	}
	return v, nil
}

func (f *Frame) popInt() (int32, error) {
	v, err := f.popKind(KindInt)
	return v.Int(), err
}

func (f *Frame) popLong() (int64, error) {
	v, err := f.popKind(KindLong)
	return v.Long(), err
}

func (f *Frame) popFloat() (float32, error) {
	v, err := f.popKind(KindFloat)
	return v.Float(), err
}

func (f *Frame) popDouble() (float64, error) {
	v, err := f.popKind(KindDouble)
	return v.Double(), err
}

func (f *Frame) checkLocal(idx int, k Kind) error {
	if idx < 0 || idx+k.Slots() > len(f.locals) {
		return fmt.Errorf("%w: %d (max_locals %d)", ErrLocalIndex, idx, len(f.locals))
	}
	return nil
}

// load reads local idx, which must hold a value of kind k.
func (f *Frame) load(idx int, k Kind) (Value, error) {
	if err := f.checkLocal(idx, k); err != nil {
		return Value{}, err
	}
	v := f.locals[idx]
	if v.Kind() != k {
		return Value{}, fmt.Errorf("%w: local %d holds %s, not %s", ErrTypeMismatch, idx, v.Kind(), k)
	}
	return v, nil
}

// store writes v to local idx. A long or double also claims idx+1, and
// overwriting either half of an earlier long or double invalidates it.
func (f *Frame) store(idx int, v Value) error {
	if err := f.checkLocal(idx, v.Kind()); err != nil {
		return err
	}
	if idx > 0 && f.locals[idx-1].IsCategory2() {
		f.locals[idx-1] = Value{}
	}
	if f.locals[idx].IsCategory2() && idx+1 < len(f.locals) {
		f.locals[idx+1] = Value{}
	}
	f.locals[idx] = v
	if v.IsCategory2() {
		f.locals[idx+1] = Value{}
	}
	return nil
}
