package compiler

import (
	"errors"
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for dice notation
// ---------------------------------------------------------------------------
//
//	program := [ INTEGER DICE INTEGER ] EOF

// SyntaxError describes a lexical or syntactic problem at a source span.
type SyntaxError struct {
	Span    Span
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s: %s", e.Span, e.Message)
}

// Parser parses dice source into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []*SyntaxError
	lastEnd   Position // position just past the last integer literal
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, found %s", t, p.describe(p.curToken))
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	span := MakeSpan(p.curToken.Pos, p.curToken.Pos)
	p.errors = append(p.errors, &SyntaxError{Span: span, Message: fmt.Sprintf(format, args...)})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []*SyntaxError {
	return p.errors
}

// Err joins the accumulated parse errors, or returns nil.
func (p *Parser) Err() error {
	if len(p.errors) == 0 {
		return nil
	}
	errs := make([]error, len(p.errors))
	for i, e := range p.errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func (p *Parser) describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenError:
		return tok.Literal
	default:
		return fmt.Sprintf("%q", tok.Literal)
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses the whole input. An empty input yields a program
// without a statement.
func (p *Parser) ParseProgram() *Program {
	prog := &Program{}
	if p.curTokenIs(TokenEOF) {
		return prog
	}

	start := p.curToken.Pos
	expr := p.parseDice()
	if expr == nil {
		return prog
	}
	if !p.curTokenIs(TokenEOF) {
		p.errorf("unexpected %s after dice expression", p.describe(p.curToken))
		return prog
	}

	prog.Statement = &Statement{
		SpanVal: MakeSpan(start, expr.SpanVal.End),
		Expr:    expr,
	}
	return prog
}

// parseDice parses INTEGER DICE INTEGER.
func (p *Parser) parseDice() *DiceExpr {
	start := p.curToken.Pos

	count, ok := p.parseInteger()
	if !ok {
		return nil
	}
	if !p.expect(TokenDice) {
		return nil
	}
	faces, ok := p.parseInteger()
	if !ok {
		return nil
	}
	end := p.lastEnd

	return &DiceExpr{
		SpanVal: MakeSpan(start, end),
		Count:   count,
		Faces:   faces,
	}
}

// ---------------------------------------------------------------------------
// Literal parsing
// ---------------------------------------------------------------------------

func (p *Parser) parseInteger() (uint32, bool) {
	if !p.curTokenIs(TokenInteger) {
		p.errorf("expected integer, found %s", p.describe(p.curToken))
		return 0, false
	}

	literal := p.curToken.Literal
	value, err := strconv.ParseUint(literal, 10, 32)
	if err != nil {
		p.errorf("invalid number literal %s: out of range for 32-bit unsigned", literal)
		return 0, false
	}

	p.lastEnd = p.curToken.Pos
	p.lastEnd.Offset += len(literal)
	p.lastEnd.Column += len(literal)
	p.nextToken()
	return uint32(value), true
}

// Parse parses source into a program, returning every syntax error joined.
func Parse(source string) (*Program, error) {
	p := NewParser(source)
	prog := p.ParseProgram()
	if err := p.Err(); err != nil {
		return nil, err
	}
	return prog, nil
}
