package vm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Interpreter: executes the supported JVM subset
// ---------------------------------------------------------------------------

// Interpreter defaults.
const (
	DefaultMaxFrameDepth = 1024
	DefaultMaxSteps      = 50_000_000
)

// Interpreter runs methods of a single parsed class. Calls to the class's
// own methods are interpreted; everything else must be a known native.
type Interpreter struct {
	class     *ClassFile
	className string

	rng      *rand.Rand
	stdout   io.Writer
	stderr   io.Writer
	maxDepth int
	maxSteps int64
	log      commonlog.Logger
	trace    bool

	heap    []object
	strings map[uint16]Value // ldc String constants, one object per pool entry
	frames  []*Frame         // call stack, innermost last
	steps   int64
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithRand sets the source behind Math.random.
func WithRand(r *rand.Rand) Option {
	return func(it *Interpreter) { it.rng = r }
}

// WithStdout sets the writer behind System.out.
func WithStdout(w io.Writer) Option {
	return func(it *Interpreter) { it.stdout = w }
}

// WithStderr sets the writer behind System.err.
func WithStderr(w io.Writer) Option {
	return func(it *Interpreter) { it.stderr = w }
}

// WithMaxFrameDepth bounds nested invocations.
func WithMaxFrameDepth(n int) Option {
	return func(it *Interpreter) {
		if n > 0 {
			it.maxDepth = n
		}
	}
}

// WithMaxSteps bounds the number of executed instructions.
func WithMaxSteps(n int64) Option {
	return func(it *Interpreter) {
		if n > 0 {
			it.maxSteps = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log commonlog.Logger) Option {
	return func(it *Interpreter) { it.log = log }
}

// WithTrace logs every instruction at debug level.
func WithTrace(on bool) Option {
	return func(it *Interpreter) { it.trace = on }
}

// NewInterpreter prepares cf for execution.
func NewInterpreter(cf *ClassFile, opts ...Option) (*Interpreter, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	it := &Interpreter{
		class:     cf,
		className: name,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		maxDepth:  DefaultMaxFrameDepth,
		maxSteps:  DefaultMaxSteps,
		log:       commonlog.GetLogger("dice.jvm"),
		strings:   make(map[uint16]Value),
	}
	for _, opt := range opts {
		opt(it)
	}
	if it.rng == nil {
		it.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	it.heap = []object{
		heapStdout: &printStream{w: it.stdout},
		heapStderr: &printStream{w: it.stderr},
	}
	return it, nil
}

// Steps returns the number of instructions executed so far.
func (it *Interpreter) Steps() int64 { return it.steps }

// RunMain invokes public static void main(String[]) with a null argument
// array.
func (it *Interpreter) RunMain() error {
	_, err := it.Invoke(MainName, MainDescriptor, NullValue())
	return err
}

// Invoke calls a static method of the class by name and descriptor.
func (it *Interpreter) Invoke(name, descriptor string, args ...Value) (Value, error) {
	m, err := it.class.FindMethod(name, descriptor)
	if err != nil {
		return Value{}, err
	}
	if !m.IsStatic() {
		return Value{}, fmt.Errorf("%w: %s%s is not static", ErrNoSuchMethod, name, descriptor)
	}
	md, err := ParseMethodDescriptor(descriptor)
	if err != nil {
		return Value{}, err
	}
	if len(args) != len(md.Params) {
		return Value{}, fmt.Errorf("%w: %s%s takes %d arguments, got %d",
			ErrTypeMismatch, name, descriptor, len(md.Params), len(args))
	}
	for i, p := range md.Params {
		if args[i].Kind() != p.Kind() {
			return Value{}, fmt.Errorf("%w: argument %d is %s, want %s", ErrTypeMismatch, i, args[i].Kind(), p.Kind())
		}
	}
	it.log.Debugf("invoke %s.%s%s", it.className, name, descriptor)

	base := len(it.frames)
	if err := it.pushFrame(m, name+descriptor, md, args); err != nil {
		return Value{}, err
	}
	v, err := it.run(base)
	if err != nil {
		it.unwind(base)
		return Value{}, err
	}
	return v, nil
}

// FrameDepth returns the number of active frames.
func (it *Interpreter) FrameDepth() int { return len(it.frames) }

// pushFrame activates m with args stored from local 0; an instance
// method's receiver is args[0].
func (it *Interpreter) pushFrame(m *Method, sig string, md MethodDescriptor, args []Value) error {
	if len(it.frames) >= it.maxDepth {
		return &Fault{Method: sig, Err: fmt.Errorf("%w: depth %d", ErrCallStackOverflow, it.maxDepth)}
	}
	if m.Code == nil {
		return &Fault{Method: sig, Err: fmt.Errorf("%w: method has no code", ErrUnresolvedConstant)}
	}

	f := newFrame(m, sig, md)
	slot := 0
	for _, a := range args {
		if err := f.store(slot, a); err != nil {
			return &Fault{Method: sig, Err: err}
		}
		slot += a.Kind().Slots()
	}
	it.frames = append(it.frames, f)
	it.log.Debugf("push frame %s (depth %d)", sig, len(it.frames))
	return nil
}

func (it *Interpreter) popFrame() *Frame {
	n := len(it.frames) - 1
	f := it.frames[n]
	it.frames[n] = nil
	it.frames = it.frames[:n]
	it.log.Debugf("pop frame %s (depth %d)", f.name, n)
	return f
}

// unwind discards every frame above base after a fault.
func (it *Interpreter) unwind(base int) {
	for len(it.frames) > base {
		it.popFrame()
	}
}

// run executes the innermost frame until the call stack shrinks back to
// base and returns the value of that outermost return.
func (it *Interpreter) run(base int) (Value, error) {
	for {
		f := it.frames[len(it.frames)-1]
		if f.pc >= len(f.code) {
			return Value{}, &Fault{Method: f.name, PC: f.pc, Err: fmt.Errorf("%w: execution ran off the end of the code", ErrBadPC)}
		}
		if it.steps >= it.maxSteps {
			return Value{}, &Fault{Method: f.name, PC: f.pc, Err: fmt.Errorf("%w: %d instructions", ErrStepLimit, it.maxSteps)}
		}
		it.steps++

		in, err := DecodeInstruction(f.code, f.pc)
		if err != nil {
			var uie *UnsupportedInstructionError
			if errors.As(err, &uie) {
				uie.Method = f.name
			}
			return Value{}, &Fault{Method: f.name, PC: f.pc, Err: err}
		}
		if it.trace {
			it.log.Debugf("%s %s  [stack %d]", f.name, DisassembleInstruction(in, it.class.Pool), f.Depth())
		}

		f.pc = in.PC + in.Width()
		if in.Op.IsReturn() {
			v, err := execReturn(f, in.Op)
			if err != nil {
				return Value{}, &Fault{Method: f.name, PC: in.PC, Err: err}
			}
			it.popFrame()
			if len(it.frames) == base {
				return v, nil
			}
			if f.desc.ReturnsVoid() {
				continue
			}
			caller := it.frames[len(it.frames)-1]
			if err := caller.push(v); err != nil {
				return Value{}, &Fault{Method: caller.name, PC: caller.callPC, Err: err}
			}
			continue
		}

		if err := it.exec(f, in); err != nil {
			var fault *Fault
			if errors.As(err, &fault) {
				return Value{}, err
			}
			return Value{}, &Fault{Method: f.name, PC: in.PC, Err: err}
		}
	}
}

// exec executes one instruction. f.pc already points past it.
func (it *Interpreter) exec(f *Frame, in Instruction) error {
	if idx, kind, store, ok := localAccess(in); ok {
		return it.execLocal(f, in, idx, kind, store)
	}

	op := in.Op
	switch {
	case op >= OpIconstM1 && op <= OpIconst5:
		return f.push(IntValue(int32(op) - int32(OpIconst0)))
	case op >= OpIadd && op <= OpDneg:
		return it.execArith(f, op)
	case op >= OpI2l && op <= OpD2f:
		return execConvert(f, op)
	case op >= OpIfeq && op <= OpGoto:
		return execBranch(f, in)
	case op.IsInvoke():
		return it.execInvoke(f, in)
	}

	switch op {
	case OpNop:
		return nil
	case OpAconstNull:
		return f.push(NullValue())
	case OpLconst0, OpLconst1:
		return f.push(LongValue(int64(op - OpLconst0)))
	case OpFconst0, OpFconst1, OpFconst2:
		return f.push(FloatValue(float32(op - OpFconst0)))
	case OpDconst0, OpDconst1:
		return f.push(DoubleValue(float64(op - OpDconst0)))
	case OpBipush, OpSipush:
		return f.push(IntValue(in.A))
	case OpLdc, OpLdcW, OpLdc2W:
		v, err := it.loadConstant(uint16(in.A), op == OpLdc2W)
		if err != nil {
			return err
		}
		return f.push(v)

	case OpPop:
		_, err := f.popCategory1()
		return err
	case OpPop2:
		v, err := f.pop()
		if err != nil || v.IsCategory2() {
			return err
		}
		_, err = f.popCategory1()
		return err
	case OpDup:
		v, err := f.peek()
		if err != nil {
			return err
		}
		if v.IsCategory2() {
			return fmt.Errorf("%w: dup of %s", ErrTypeMismatch, v.Kind())
		}
		return f.push(v)
	case OpDupX1:
		v1, err := f.popCategory1()
		if err != nil {
			return err
		}
		v2, err := f.popCategory1()
		if err != nil {
			return err
		}
		return pushAll(f, v1, v2, v1)
	case OpSwap:
		v1, err := f.popCategory1()
		if err != nil {
			return err
		}
		v2, err := f.popCategory1()
		if err != nil {
			return err
		}
		return pushAll(f, v1, v2)

	case OpLcmp:
		b, err := f.popLong()
		if err != nil {
			return err
		}
		a, err := f.popLong()
		if err != nil {
			return err
		}
		return f.push(IntValue(compare(a, b)))
	case OpFcmpl, OpFcmpg:
		b, err := f.popFloat()
		if err != nil {
			return err
		}
		a, err := f.popFloat()
		if err != nil {
			return err
		}
		return f.push(IntValue(compareFloat(float64(a), float64(b), op == OpFcmpg)))
	case OpDcmpl, OpDcmpg:
		b, err := f.popDouble()
		if err != nil {
			return err
		}
		a, err := f.popDouble()
		if err != nil {
			return err
		}
		return f.push(IntValue(compareFloat(a, b, op == OpDcmpg)))

	case OpGetstatic:
		ref, err := it.class.Pool.MemberRef(uint16(in.A))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnresolvedConstant, err)
		}
		slot, ok := nativeStatics[memberKey(ref.Class, ref.Name, ref.Descriptor)]
		if !ok {
			return fmt.Errorf("%w: field %s", ErrUnresolvedConstant, ref)
		}
		return f.push(RefValue(slot))
	}

	return &UnsupportedInstructionError{Opcode: op, PC: in.PC, Method: f.name}
}

func pushAll(f *Frame, vs ...Value) error {
	for _, v := range vs {
		if err := f.push(v); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interpreter) execLocal(f *Frame, in Instruction, idx int, kind Kind, store bool) error {
	if in.Op == OpIinc {
		v, err := f.load(idx, KindInt)
		if err != nil {
			return err
		}
		return f.store(idx, IntValue(v.Int()+in.B))
	}
	if !store {
		v, err := f.load(idx, kind)
		if err != nil {
			return err
		}
		return f.push(v)
	}

	v, err := f.pop()
	if err != nil {
		return err
	}
	if v.Kind() != kind {
		return fmt.Errorf("%w: %s stores %s", ErrTypeMismatch, in.Op, v.Kind())
	}
	return f.store(idx, v)
}

func (it *Interpreter) loadConstant(idx uint16, wide bool) (Value, error) {
	c, err := it.class.Pool.Entry(idx)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrUnresolvedConstant, err)
	}
	switch v := c.(type) {
	case IntegerInfo:
		if !wide {
			return IntValue(v.Value), nil
		}
	case FloatInfo:
		if !wide {
			return FloatValue(v.Value), nil
		}
	case LongInfo:
		if wide {
			return LongValue(v.Value), nil
		}
	case DoubleInfo:
		if wide {
			return DoubleValue(v.Value), nil
		}
	case StringInfo:
		if wide {
			break
		}
		if ref, ok := it.strings[idx]; ok {
			return ref, nil
		}
		s, err := it.class.Pool.Utf8(v.StringIndex)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnresolvedConstant, err)
		}
		ref := it.alloc(&javaString{s: s})
		it.strings[idx] = ref
		return ref, nil
	}
	return Value{}, fmt.Errorf("%w: cannot load %s constant #%d", ErrUnresolvedConstant, c.Tag(), idx)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func (it *Interpreter) execArith(f *Frame, op Opcode) error {
	// The arithmetic block cycles i, l, f, d; negation is unary.
	kind := localKinds[(op-OpIadd)%4]
	if op >= OpIneg {
		v, err := f.popKind(kind)
		if err != nil {
			return err
		}
		switch kind {
		case KindInt:
			return f.push(IntValue(-v.Int()))
		case KindLong:
			return f.push(LongValue(-v.Long()))
		case KindFloat:
			return f.push(FloatValue(-v.Float()))
		default:
			return f.push(DoubleValue(-v.Double()))
		}
	}

	b, err := f.popKind(kind)
	if err != nil {
		return err
	}
	a, err := f.popKind(kind)
	if err != nil {
		return err
	}
	group := (op - OpIadd) / 4 // add, sub, mul, div, rem

	switch kind {
	case KindInt:
		r, err := intArith(group, a.Int(), b.Int())
		if err != nil {
			return err
		}
		return f.push(IntValue(r))
	case KindLong:
		r, err := intArith(group, a.Long(), b.Long())
		if err != nil {
			return err
		}
		return f.push(LongValue(r))
	case KindFloat:
		return f.push(FloatValue(float32(floatArith(group, float64(a.Float()), float64(b.Float())))))
	default:
		return f.push(DoubleValue(floatArith(group, a.Double(), b.Double())))
	}
}

// intArith wraps on overflow. MinValue / -1 yields MinValue, as Go's
// integer division already does.
func intArith[T int32 | int64](group Opcode, a, b T) (T, error) {
	switch group {
	case 0:
		return a + b, nil
	case 1:
		return a - b, nil
	case 2:
		return a * b, nil
	}
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	if group == 3 {
		return a / b, nil
	}
	return a % b, nil
}

// floatArith computes in float64; float operands are rounded back by the
// caller, which is exact for +, -, *, / and fmod of float32 inputs.
func floatArith(group Opcode, a, b float64) float64 {
	switch group {
	case 0:
		return a + b
	case 1:
		return a - b
	case 2:
		return a * b
	case 3:
		return a / b
	}
	return math.Mod(a, b)
}

func compare[T int64 | float64](a, b T) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareFloat implements fcmp<op>/dcmp<op>: NaN yields 1 for the g
// variants and -1 for the l variants.
func compareFloat(a, b float64, nanIsGreater bool) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		if nanIsGreater {
			return 1
		}
		return -1
	}
	return compare(a, b)
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func execConvert(f *Frame, op Opcode) error {
	var from Kind
	switch op {
	case OpI2l, OpI2f, OpI2d:
		from = KindInt
	case OpL2i, OpL2f, OpL2d:
		from = KindLong
	case OpF2i, OpF2l, OpF2d:
		from = KindFloat
	default:
		from = KindDouble
	}
	v, err := f.popKind(from)
	if err != nil {
		return err
	}

	switch op {
	case OpI2l:
		return f.push(LongValue(int64(v.Int())))
	case OpI2f:
		return f.push(FloatValue(float32(v.Int())))
	case OpI2d:
		return f.push(DoubleValue(float64(v.Int())))
	case OpL2i:
		return f.push(IntValue(int32(v.Long())))
	case OpL2f:
		return f.push(FloatValue(float32(v.Long())))
	case OpL2d:
		return f.push(DoubleValue(float64(v.Long())))
	case OpF2i:
		return f.push(IntValue(saturateInt32(float64(v.Float()))))
	case OpF2l:
		return f.push(LongValue(saturateInt64(float64(v.Float()))))
	case OpF2d:
		return f.push(DoubleValue(float64(v.Float())))
	case OpD2i:
		return f.push(IntValue(saturateInt32(v.Double())))
	case OpD2l:
		return f.push(LongValue(saturateInt64(v.Double())))
	default:
		return f.push(FloatValue(float32(v.Double())))
	}
}

// saturateInt32 converts like d2i: NaN is 0 and out-of-range values clamp.
func saturateInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// saturateInt64 converts like d2l.
func saturateInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func execBranch(f *Frame, in Instruction) error {
	op := in.Op
	var taken bool
	switch {
	case op == OpGoto:
		taken = true
	case op >= OpIfeq && op <= OpIfle:
		v, err := f.popInt()
		if err != nil {
			return err
		}
		taken = testCondition(op-OpIfeq, v, 0)
	default:
		b, err := f.popInt()
		if err != nil {
			return err
		}
		a, err := f.popInt()
		if err != nil {
			return err
		}
		taken = testCondition(op-OpIfIcmpeq, a, b)
	}
	if taken {
		f.pc = in.Target()
	}
	return nil
}

// testCondition evaluates eq, ne, lt, ge, gt, le by index.
func testCondition(cond Opcode, a, b int32) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	}
	return a <= b
}

// execReturn pops the value a return instruction hands back. The opcode
// must agree with the method's return type.
func execReturn(f *Frame, op Opcode) (Value, error) {
	ret := f.desc.Return
	if op == OpReturn {
		if !f.desc.ReturnsVoid() {
			return Value{}, fmt.Errorf("%w: return in method returning %s", ErrTypeMismatch, ret)
		}
		return Value{}, nil
	}
	kind := localKinds[op-OpIreturn]
	if f.desc.ReturnsVoid() || ret.Kind() != kind {
		return Value{}, fmt.Errorf("%w: %s in method returning %s", ErrTypeMismatch, op, ret)
	}
	return f.popKind(kind)
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

func (it *Interpreter) execInvoke(f *Frame, in Instruction) error {
	ref, err := it.class.Pool.MemberRef(uint16(in.A))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolvedConstant, err)
	}
	md, err := ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return err
	}

	args := make([]Value, len(md.Params))
	for i := len(md.Params) - 1; i >= 0; i-- {
		v, err := f.popKind(md.Params[i].Kind())
		if err != nil {
			return err
		}
		args[i] = v
	}
	var recv Value
	if in.Op != OpInvokestatic {
		if recv, err = f.popKind(KindReference); err != nil {
			return err
		}
	}

	if ref.Class == it.className {
		m, err := it.class.FindMethod(ref.Name, ref.Descriptor)
		if err != nil {
			return err
		}
		static := in.Op == OpInvokestatic
		if m.IsStatic() != static {
			return fmt.Errorf("%w: %s cannot call %s (static %t)", ErrNoSuchMethod, in.Op, ref, m.IsStatic())
		}
		if !static {
			args = append([]Value{recv}, args...)
		}
		f.callPC = in.PC
		return it.pushFrame(m, ref.Name+ref.Descriptor, md, args)
	}

	native, ok := nativeMethods[memberKey(ref.Class, ref.Name, ref.Descriptor)]
	if !ok {
		return fmt.Errorf("%w: method %s", ErrUnresolvedConstant, ref)
	}
	result, err := native(it, recv, args)
	if err != nil {
		return err
	}
	if md.ReturnsVoid() {
		return nil
	}
	return f.push(result)
}
