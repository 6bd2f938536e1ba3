package compiler

import "fmt"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for dice notation
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// MakeSpan creates a span from start to end positions.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

func (s Span) String() string {
	if s.Start.Line == s.End.Line {
		return s.Start.String()
	}
	return fmt.Sprintf("%s-%s", s.Start, s.End)
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Program is the root of a parsed source. It holds zero or one statement.
type Program struct {
	Statement *Statement
}

// Empty reports whether the program has no statement.
func (p *Program) Empty() bool {
	return p == nil || p.Statement == nil
}

// Dice returns the dice expression of the program's statement, or nil.
func (p *Program) Dice() *DiceExpr {
	if p.Empty() {
		return nil
	}
	return p.Statement.Expr
}

// Statement is an expression statement.
type Statement struct {
	SpanVal Span
	Expr    *DiceExpr
}

func (n *Statement) Span() Span { return n.SpanVal }
func (n *Statement) node()      {}

// DiceExpr represents NdS: roll Count dice with Faces sides each.
type DiceExpr struct {
	SpanVal Span
	Count   uint32
	Faces   uint32
}

func (n *DiceExpr) Span() Span { return n.SpanVal }
func (n *DiceExpr) node()      {}

func (n *DiceExpr) String() string {
	return fmt.Sprintf("%dd%d", n.Count, n.Faces)
}

// NewDiceProgram builds a program holding a single dice statement with
// synthetic positions. Used by callers that already have validated operands.
func NewDiceProgram(count, faces uint32) *Program {
	expr := &DiceExpr{Count: count, Faces: faces}
	return &Program{Statement: &Statement{Expr: expr}}
}
