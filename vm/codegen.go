package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/dice/compiler"
)

// ---------------------------------------------------------------------------
// JVM code generator
// ---------------------------------------------------------------------------

// DefaultClassName names generated classes when the caller has no preference.
const DefaultClassName = "DiceRoll"

// Signatures of the synthesized methods.
const (
	MainName           = "main"
	MainDescriptor     = "([Ljava/lang/String;)V"
	RollDiceName       = "rollDice"
	RollDiceDescriptor = "(II)V"
)

// ErrNilProgram is returned when the generator is given no program at all.
var ErrNilProgram = errors.New("nil program")

// Generated is the generator's output: the pool it populated, the body of
// main (without its trailing return) and the rollDice support routine.
type Generated struct {
	ClassName string
	Pool      *ConstantPool

	Main []byte

	RollDice       []byte
	RollDiceFrames []StackMapFrame

	refs classRefs
}

// classRefs are the pool indices the class writer needs.
type classRefs struct {
	thisClass     uint16
	superClass    uint16
	code          uint16
	stackMapTable uint16
	mainName      uint16
	mainDesc      uint16
	rollName      uint16
	rollDesc      uint16
}

// supportRefs are the pool indices used by the rollDice body.
type supportRefs struct {
	rollDice   uint16 // this class's rollDice(II)V
	random     uint16 // java/lang/Math.random()D
	out        uint16 // java/lang/System.out
	println    uint16 // java/io/PrintStream.println(I)V
	printStr   uint16 // java/io/PrintStream.print(Ljava/lang/String;)V
	totalLabel uint16 // "Total: "
}

// Generator lowers a dice AST to JVM bytecode.
type Generator struct {
	className string
	pool      *ConstantPool
}

// NewGenerator creates a generator for a class with the given internal name.
func NewGenerator(className string) *Generator {
	if className == "" {
		className = DefaultClassName
	}
	return &Generator{className: className}
}

// interner threads the first interning error through a sequence of calls.
type interner struct {
	pool *ConstantPool
	err  error
}

func (in *interner) do(f func() (uint16, error)) uint16 {
	if in.err != nil {
		return 0
	}
	idx, err := f()
	in.err = err
	return idx
}

func (in *interner) utf8(s string) uint16 {
	return in.do(func() (uint16, error) { return in.pool.InternUtf8(s) })
}

func (in *interner) class(name string) uint16 {
	return in.do(func() (uint16, error) { return in.pool.InternClass(name) })
}

func (in *interner) str(s string) uint16 {
	return in.do(func() (uint16, error) { return in.pool.InternString(s) })
}

func (in *interner) fieldref(class, name, desc string) uint16 {
	return in.do(func() (uint16, error) { return in.pool.InternFieldref(class, name, desc) })
}

func (in *interner) methodref(class, name, desc string) uint16 {
	return in.do(func() (uint16, error) { return in.pool.InternMethodref(class, name, desc) })
}

// Generate produces bytecode for prog into a fresh constant pool. The same
// program always yields an identical pool and identical code.
func (g *Generator) Generate(prog *compiler.Program) (*Generated, error) {
	if prog == nil {
		return nil, ErrNilProgram
	}
	g.pool = NewConstantPool()

	in := &interner{pool: g.pool}
	refs := classRefs{
		thisClass:     in.class(g.className),
		superClass:    in.class("java/lang/Object"),
		mainName:      in.utf8(MainName),
		mainDesc:      in.utf8(MainDescriptor),
		code:          in.utf8(AttrCode),
		rollName:      in.utf8(RollDiceName),
		rollDesc:      in.utf8(RollDiceDescriptor),
		stackMapTable: in.utf8(AttrStackMapTable),
	}
	support := supportRefs{
		rollDice:   in.methodref(g.className, RollDiceName, RollDiceDescriptor),
		random:     in.methodref("java/lang/Math", "random", "()D"),
		out:        in.fieldref("java/lang/System", "out", "Ljava/io/PrintStream;"),
		println:    in.methodref("java/io/PrintStream", "println", "(I)V"),
		printStr:   in.methodref("java/io/PrintStream", "print", "(Ljava/lang/String;)V"),
		totalLabel: in.str("Total: "),
	}
	if in.err != nil {
		return nil, in.err
	}

	main, err := g.generateMain(prog, support)
	if err != nil {
		return nil, err
	}
	roll, frames, err := g.generateRollDice(support)
	if err != nil {
		return nil, err
	}

	return &Generated{
		ClassName:      g.className,
		Pool:           g.pool,
		Main:           main,
		RollDice:       roll,
		RollDiceFrames: frames,
		refs:           refs,
	}, nil
}

// generateMain emits the operand loads for NdS followed by a call to
// rollDice. An empty program produces no code.
func (g *Generator) generateMain(prog *compiler.Program, support supportRefs) ([]byte, error) {
	b := NewBytecodeBuilder()
	if dice := prog.Dice(); dice != nil {
		if err := g.emitIntConst(b, dice.Count); err != nil {
			return nil, err
		}
		if err := g.emitIntConst(b, dice.Faces); err != nil {
			return nil, err
		}
		b.EmitOperand(OpInvokestatic, int32(support.rollDice))
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// emitIntConst loads v using the shortest encoding: iconst_<n>, bipush,
// sipush, or ldc/ldc_w of an interned Integer.
func (g *Generator) emitIntConst(b *BytecodeBuilder, v uint32) error {
	switch {
	case v > math.MaxInt32:
		return fmt.Errorf("%w: %d does not fit a JVM int", ErrOperandTooWide, v)
	case v <= 5:
		b.Emit(OpIconst0 + Opcode(v))
	case v <= math.MaxInt8:
		b.EmitOperand(OpBipush, int32(v))
	case v <= math.MaxInt16:
		b.EmitOperand(OpSipush, int32(v))
	default:
		idx, err := g.pool.InternInteger(int32(v))
		if err != nil {
			return err
		}
		b.EmitLdc(idx)
	}
	return nil
}

// generateRollDice emits
//
//	static void rollDice(int count, int faces) {
//	    int unused = 1 / faces;
//	    int total = 0;
//	    for (int i = 0; i < count; i++) {
//	        int roll = (int) (Math.random() * faces) + 1;
//	        System.out.println(roll);
//	        total += roll;
//	    }
//	    System.out.print("Total: ");
//	    System.out.println(total);
//	}
//
// with locals count=0, faces=1, total=2, i=3.
func (g *Generator) generateRollDice(s supportRefs) ([]byte, []StackMapFrame, error) {
	b := NewBytecodeBuilder()
	loop, end := b.NewLabel(), b.NewLabel()

	// Zero faces must fault before anything is printed.
	b.Emit(OpIconst1)
	b.Emit(OpIload1)
	b.Emit(OpIdiv)
	b.Emit(OpPop)

	b.Emit(OpIconst0)
	b.Emit(OpIstore2)
	b.Emit(OpIconst0)
	b.Emit(OpIstore3)

	b.Mark(loop)
	b.Emit(OpIload3)
	b.Emit(OpIload0)
	b.EmitJump(OpIfIcmpge, end)

	b.EmitOperand(OpInvokestatic, int32(s.random))
	b.Emit(OpIload1)
	b.Emit(OpI2d)
	b.Emit(OpDmul)
	b.Emit(OpD2i)
	b.Emit(OpIconst1)
	b.Emit(OpIadd)

	b.Emit(OpDup)
	b.EmitOperand(OpGetstatic, int32(s.out))
	b.Emit(OpSwap)
	b.EmitOperand(OpInvokevirtual, int32(s.println))

	b.Emit(OpIload2)
	b.Emit(OpIadd)
	b.Emit(OpIstore2)
	b.EmitIinc(3, 1)
	b.EmitJump(OpGoto, loop)

	b.Mark(end)
	b.EmitOperand(OpGetstatic, int32(s.out))
	b.EmitLdc(s.totalLabel)
	b.EmitOperand(OpInvokevirtual, int32(s.printStr))
	b.EmitOperand(OpGetstatic, int32(s.out))
	b.Emit(OpIload2)
	b.EmitOperand(OpInvokevirtual, int32(s.println))
	b.Emit(OpReturn)

	if err := b.Err(); err != nil {
		return nil, nil, err
	}

	loopPC, _ := b.Position(loop)
	endPC, _ := b.Position(end)
	locals := []VerificationType{{Tag: VerifyInteger}, {Tag: VerifyInteger}, {Tag: VerifyInteger}, {Tag: VerifyInteger}}
	frames := []StackMapFrame{
		{PC: loopPC, Locals: locals},
		{PC: endPC, Locals: locals},
	}
	return b.Bytes(), frames, nil
}

// Max stack/locals of the synthesized methods, in JVM slot units.
const (
	mainMaxStack      = 2
	mainMaxLocals     = 1
	rollDiceMaxStack  = 4
	rollDiceMaxLocals = 4
)
