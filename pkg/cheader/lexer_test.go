package cheader

import (
	"testing"
)

func TestLexDeclaration(t *testing.T) {
	toks, err := Lex("typedef struct Foo { unsigned long x[4]; } Foo_t;")
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	want := []TokenType{
		TYPEDEF, STRUCT, IDENTIFIER, LBRACE, UNSIGNED, LONG, IDENTIFIER,
		LBRACKET, INTEGER, RBRACKET, SEMICOLON, RBRACE, IDENTIFIER, SEMICOLON, EOF,
	}
	if len(toks) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(toks), toks)
	}
	for i, tt := range want {
		if toks[i].Type != tt {
			t.Errorf("token %d: expected %s, got %s (%q)", i, tt, toks[i].Type, toks[i].Lexeme)
		}
	}
}

func TestLexLiterals(t *testing.T) {
	tests := []struct {
		src    string
		typ    TokenType
		lexeme string
	}{
		{"0x1FUL", INTEGER, "0x1F"},
		{"10u", INTEGER, "10"},
		{"0755", INTEGER, "0755"},
		{"0b101", INTEGER, "0b101"},
		{"1ll", INTEGER, "1"},
		{"1.5f", FLOAT, "1.5f"},
		{"2e10", FLOAT, "2e10"},
		{"'A'", CHARLIT, "65"},
		{`'\n'`, CHARLIT, "10"},
		{`'\x41'`, CHARLIT, "65"},
		{`'\0'`, CHARLIT, "0"},
		{`"a\"b"`, STRING, `a\"b`},
		{"__attribute__", ATTRIBUTE, "__attribute__"},
		{"...", ELLIPSIS, "..."},
		{"<<", SHL_OP, "<<"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			toks, err := Lex(tt.src)
			if err != nil {
				t.Fatalf("Lex(%q) failed: %v", tt.src, err)
			}
			if toks[0].Type != tt.typ || toks[0].Lexeme != tt.lexeme {
				t.Errorf("Lex(%q) = %s %q, want %s %q", tt.src, toks[0].Type, toks[0].Lexeme, tt.typ, tt.lexeme)
			}
		})
	}
}

func TestLexLineNumbers(t *testing.T) {
	toks, err := Lex("int a;\n/* two\nlines */\nint b;")
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	var b Token
	for _, tok := range toks {
		if tok.Lexeme == "b" {
			b = tok
		}
	}
	if b.Line != 4 {
		t.Errorf("expected b on line 4, got %d", b.Line)
	}
}

func TestLexErrors(t *testing.T) {
	for _, src := range []string{"int @;", "'ab'", `"open`, "/* never closed"} {
		if _, err := Lex(src); err == nil {
			t.Errorf("Lex(%q): expected error", src)
		}
	}
}

func TestTokenTypeString(t *testing.T) {
	if got := STRUCT.String(); got != "STRUCT" {
		t.Errorf("STRUCT.String() = %q", got)
	}
	if got := TokenType(999).String(); got != "TokenType(999)" {
		t.Errorf("TokenType(999).String() = %q", got)
	}
}
