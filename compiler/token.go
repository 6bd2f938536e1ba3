package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the dice lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger // 42

	// Operators
	TokenDice // d or D
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenError:   "ERROR",
	TokenInteger: "INTEGER",
	TokenDice:    "DICE",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// IsDiceChar returns true if r separates the count from the faces.
func IsDiceChar(r rune) bool {
	return r == 'd' || r == 'D'
}
