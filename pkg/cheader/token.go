package cheader

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	IDENTIFIER // type, tag, member or enumerator name
	INTEGER    // integer literal, suffixes stripped
	FLOAT      // floating literal, kept as text
	STRING     // string literal "..."
	CHARLIT    // character literal, Lexeme is its decimal value

	// Keywords
	STRUCT    // "struct"
	UNION     // "union"
	ENUM      // "enum"
	TYPEDEF   // "typedef"
	VOID      // "void"
	BOOL      // "_Bool"
	CHAR      // "char"
	SHORT     // "short"
	INT       // "int"
	LONG      // "long"
	FLOATKW   // "float"
	DOUBLE    // "double"
	SIGNED    // "signed"
	UNSIGNED  // "unsigned"
	CONST     // "const"
	VOLATILE  // "volatile"
	STATIC    // "static"
	EXTERN    // "extern"
	INLINE    // "inline"
	SIZEOF    // "sizeof"
	ALIGNOF   // "_Alignof"
	ATTRIBUTE // "__attribute__"

	// Paired delimiters
	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]

	// Punctuation
	DOT       // .
	SEMICOLON // ;
	COMMA     // ,
	COLON     // :
	QUESTION  // ?
	ELLIPSIS  // ...
	ARROW     // ->

	// Operators
	PLUS        // +
	MINUS       // -
	STAR        // *
	SLASH       // /
	AND         // &
	PIPE        // |
	CARET       // ^
	TILDE       // ~
	PERCENT     // %
	SHL_OP      // <<
	SHR_OP      // >>
	AND_LOGICAL // &&
	OR_LOGICAL  // ||
	NOT         // !
	ASSIGN      // =
	EQUALS      // ==
	NOT_EQ      // !=
	LESS        // <
	GREATER     // >
	LESS_EQ     // <=
	GREATER_EQ  // >=
	HASH        // # (only seen in stray preprocessor text)
)

var tokenNames = [...]string{
	EOF:         "EOF",
	IDENTIFIER:  "IDENTIFIER",
	INTEGER:     "INTEGER",
	FLOAT:       "FLOAT",
	STRING:      "STRING",
	CHARLIT:     "CHARLIT",
	STRUCT:      "STRUCT",
	UNION:       "UNION",
	ENUM:        "ENUM",
	TYPEDEF:     "TYPEDEF",
	VOID:        "VOID",
	BOOL:        "BOOL",
	CHAR:        "CHAR",
	SHORT:       "SHORT",
	INT:         "INT",
	LONG:        "LONG",
	FLOATKW:     "FLOATKW",
	DOUBLE:      "DOUBLE",
	SIGNED:      "SIGNED",
	UNSIGNED:    "UNSIGNED",
	CONST:       "CONST",
	VOLATILE:    "VOLATILE",
	STATIC:      "STATIC",
	EXTERN:      "EXTERN",
	INLINE:      "INLINE",
	SIZEOF:      "SIZEOF",
	ALIGNOF:     "ALIGNOF",
	ATTRIBUTE:   "ATTRIBUTE",
	LBRACE:      "LBRACE",
	RBRACE:      "RBRACE",
	LPAREN:      "LPAREN",
	RPAREN:      "RPAREN",
	LBRACKET:    "LBRACKET",
	RBRACKET:    "RBRACKET",
	DOT:         "DOT",
	SEMICOLON:   "SEMICOLON",
	COMMA:       "COMMA",
	COLON:       "COLON",
	QUESTION:    "QUESTION",
	ELLIPSIS:    "ELLIPSIS",
	ARROW:       "ARROW",
	PLUS:        "PLUS",
	MINUS:       "MINUS",
	STAR:        "STAR",
	SLASH:       "SLASH",
	AND:         "AND",
	PIPE:        "PIPE",
	CARET:       "CARET",
	TILDE:       "TILDE",
	PERCENT:     "PERCENT",
	SHL_OP:      "SHL_OP",
	SHR_OP:      "SHR_OP",
	AND_LOGICAL: "AND_LOGICAL",
	OR_LOGICAL:  "OR_LOGICAL",
	NOT:         "NOT",
	ASSIGN:      "ASSIGN",
	EQUALS:      "EQUALS",
	NOT_EQ:      "NOT_EQ",
	LESS:        "LESS",
	GREATER:     "GREATER",
	LESS_EQ:     "LESS_EQ",
	GREATER_EQ:  "GREATER_EQ",
	HASH:        "HASH",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) && tokenNames[tt] != "" {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // source text; for INTEGER the digits without suffix
	Line   int    // 1-based source line
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
