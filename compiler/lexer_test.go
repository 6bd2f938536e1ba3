package compiler

import (
	"testing"
)

func TestLexerDiceTokens(t *testing.T) {
	input := `2d6`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenInteger, "2"},
		{TokenDice, "d"},
		{TokenInteger, "6"},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerUppercaseAndWhitespace(t *testing.T) {
	tokens := Tokenize(" 10 D\t100\n")
	want := []TokenType{TokenInteger, TokenDice, TokenInteger, TokenEOF}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, typ := range want {
		if tokens[i].Type != typ {
			t.Errorf("token[%d] type = %v, want %v", i, tokens[i].Type, typ)
		}
	}
	if tokens[0].Literal != "10" || tokens[2].Literal != "100" {
		t.Errorf("literals = %q, %q", tokens[0].Literal, tokens[2].Literal)
	}
}

func TestLexerIntegers(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"0", "0"},
		{"007", "007"},
		{"4294967296", "4294967296"},
	}

	for _, tc := range tests {
		l := NewLexer(tc.input)
		tok := l.NextToken()
		if tok.Type != TokenInteger {
			t.Errorf("Lexer(%q): type = %v, want INTEGER", tc.input, tok.Type)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerUnexpectedCharacter(t *testing.T) {
	tokens := Tokenize("2x6")
	if len(tokens) != 4 {
		t.Fatalf("got %d tokens, want 4: %v", len(tokens), tokens)
	}
	if tokens[1].Type != TokenError {
		t.Fatalf("token[1] type = %v, want ERROR", tokens[1].Type)
	}
	if tokens[1].Literal != `unexpected character: 'x'` {
		t.Errorf("token[1] literal = %q", tokens[1].Literal)
	}
}

func TestLexerPositions(t *testing.T) {
	tokens := Tokenize("12d6")
	positions := []Position{
		{Offset: 0, Line: 1, Column: 1},
		{Offset: 2, Line: 1, Column: 3},
		{Offset: 3, Line: 1, Column: 4},
		{Offset: 4, Line: 1, Column: 5},
	}
	for i, want := range positions {
		if tokens[i].Pos != want {
			t.Errorf("token[%d] pos = %+v, want %+v", i, tokens[i].Pos, want)
		}
	}
}

func TestLexerEmptyInput(t *testing.T) {
	tokens := Tokenize("")
	if len(tokens) != 1 || tokens[0].Type != TokenEOF {
		t.Errorf("Tokenize(\"\") = %v, want [EOF]", tokens)
	}
}

func TestLexerNULByte(t *testing.T) {
	tokens := Tokenize("2d6\x00junk")
	if len(tokens) < 4 || tokens[3].Type != TokenError {
		t.Fatalf("tokens = %v, want ERROR at the NUL byte", tokens)
	}
	if tokens[3].Literal != `unexpected character: '\x00'` {
		t.Errorf("token[3] literal = %q", tokens[3].Literal)
	}
	if tokens[len(tokens)-1].Type != TokenEOF {
		t.Errorf("last token = %v, want EOF", tokens[len(tokens)-1])
	}

	for _, src := range []string{"2d6\x00junk", "2d6\x00", "\x00"} {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) succeeded", src)
		}
	}
}
