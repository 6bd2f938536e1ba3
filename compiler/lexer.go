package compiler

import (
	"fmt"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for dice notation
// ---------------------------------------------------------------------------

// Lexer tokenizes dice expressions such as "2d6".
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		l.col++
		return
	}

	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	pos := l.position()

	switch {
	case l.pos >= len(l.input):
		return Token{Type: TokenEOF, Literal: "", Pos: pos}

	case IsDiceChar(l.ch):
		lit := string(l.ch)
		l.readChar()
		return Token{Type: TokenDice, Literal: lit, Pos: pos}

	case isDigit(l.ch):
		return l.readNumber(pos)

	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %q", ch), Pos: pos}
	}
}

// skipWhitespace skips blanks and line breaks.
func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// readNumber reads a decimal integer literal.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens in input, including the trailing EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens
}
