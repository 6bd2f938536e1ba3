package bytecode

import (
	"errors"

	"github.com/chazu/dice/compiler"
)

// ErrNilProgram is returned when Compile is given no program at all.
var ErrNilProgram = errors.New("bytecode: nil program")

// Compiler converts a validated dice AST to a native chunk.
type Compiler struct {
	chunk *Chunk
}

// NewCompiler creates a compiler with an empty chunk.
func NewCompiler() *Compiler {
	return &Compiler{chunk: NewChunk()}
}

// Compile lowers prog into a chunk. A dice statement NdS becomes
//
//	PUSH_INTEGER N
//	PUSH_INTEGER S
//	ROLL_DICE
//
// and an empty program becomes an empty chunk. Compile is pure: it never
// rolls, and the same program always yields the same code.
func Compile(prog *compiler.Program) (*Chunk, error) {
	return NewCompiler().Compile(prog)
}

// Compile lowers prog into the compiler's chunk and returns it.
func (c *Compiler) Compile(prog *compiler.Program) (*Chunk, error) {
	if prog == nil {
		return nil, ErrNilProgram
	}
	if dice := prog.Dice(); dice != nil {
		c.compileDice(dice)
	}
	return c.chunk, nil
}

func (c *Compiler) compileDice(dice *compiler.DiceExpr) {
	c.chunk.Source = dice.String()
	c.chunk.EmitInstruction(PushInteger(dice.Count))
	c.chunk.EmitInstruction(PushInteger(dice.Faces))
	c.chunk.EmitInstruction(RollDice())
}
