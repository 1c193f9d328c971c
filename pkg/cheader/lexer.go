package cheader

import (
	"fmt"
	"strconv"
	"unicode"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"struct":        STRUCT,
	"union":         UNION,
	"enum":          ENUM,
	"typedef":       TYPEDEF,
	"void":          VOID,
	"_Bool":         BOOL,
	"char":          CHAR,
	"short":         SHORT,
	"int":           INT,
	"long":          LONG,
	"float":         FLOATKW,
	"double":        DOUBLE,
	"signed":        SIGNED,
	"__signed__":    SIGNED,
	"unsigned":      UNSIGNED,
	"const":         CONST,
	"__const":       CONST,
	"volatile":      VOLATILE,
	"__volatile__":  VOLATILE,
	"restrict":      CONST,
	"__restrict":    CONST,
	"static":        STATIC,
	"extern":        EXTERN,
	"inline":        INLINE,
	"__inline":      INLINE,
	"__inline__":    INLINE,
	"sizeof":        SIZEOF,
	"_Alignof":      ALIGNOF,
	"__alignof__":   ALIGNOF,
	"__attribute__": ATTRIBUTE,
	"__attribute":   ATTRIBUTE,
}

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src  []rune
	pos  int // index of the next rune to consume
	line int // current 1-based source line
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1}
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
	}
	return r
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// skipLineComment discards everything from the current position to end-of-line.
// The opening "//" must already have been consumed.
func (l *Lexer) skipLineComment() {
	for l.pos < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
}

// skipBlockComment discards everything up to and including the closing "*/".
// The opening "/*" must already have been consumed.
func (l *Lexer) skipBlockComment() error {
	startLine := l.line
	for l.pos < len(l.src) {
		if l.peek() == '*' && l.peek2() == '/' {
			l.advance() // *
			l.advance() // /
			return nil
		}
		l.advance()
	}
	return fmt.Errorf("unterminated block comment (opened on line %d)", startLine)
}

// scanIdent collects a full identifier or keyword token.
// The first character (letter or '_') must still be at l.peek().
func (l *Lexer) scanIdent() Token {
	line := l.line
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if !isIdentPart(r) {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	return Token{Type: tt, Lexeme: lexeme, Line: line}
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// scanNumber collects an integer or floating literal. Integer suffixes
// (u, l, ll in any case and order) are dropped from the lexeme.
// The first digit (or '.') must still be at l.peek().
func (l *Lexer) scanNumber() Token {
	line := l.line
	start := l.pos
	isFloat := false

	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X' || l.peek2() == 'b' || l.peek2() == 'B') {
		l.advance() // consume '0'
		l.advance() // consume 'x' or 'b'
		for l.pos < len(l.src) && isHexDigit(l.peek()) {
			l.advance()
		}
	} else {
		for l.pos < len(l.src) {
			r := l.peek()
			if unicode.IsDigit(r) {
				l.advance()
				continue
			}
			if r == '.' {
				isFloat = true
				l.advance()
				continue
			}
			if r == 'e' || r == 'E' {
				isFloat = true
				l.advance()
				if l.peek() == '+' || l.peek() == '-' {
					l.advance()
				}
				continue
			}
			break
		}
	}
	numEnd := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if r == 'u' || r == 'U' || r == 'l' || r == 'L' || (isFloat && (r == 'f' || r == 'F')) {
			l.advance()
			continue
		}
		break
	}
	if isFloat {
		return Token{Type: FLOAT, Lexeme: string(l.src[start:l.pos]), Line: line}
	}
	return Token{Type: INTEGER, Lexeme: string(l.src[start:numEnd]), Line: line}
}

// scanChar collects a character literal 'c' and emits its value.
func (l *Lexer) scanChar() (Token, error) {
	line := l.line
	l.advance() // consume opening '

	r := l.peek()
	var val rune

	if r == '\'' {
		return Token{}, fmt.Errorf("empty character literal on line %d", line)
	}

	if r == '\\' {
		l.advance() // consume backslash
		next := l.advance()
		switch next {
		case 'n':
			val = '\n'
		case 'r':
			val = '\r'
		case 't':
			val = '\t'
		case '\\', '\'', '"', '?':
			val = next
		case 'x':
			start := l.pos
			for isHexDigit(l.peek()) {
				l.advance()
			}
			v, err := strconv.ParseUint(string(l.src[start:l.pos]), 16, 8)
			if err != nil {
				return Token{}, fmt.Errorf("bad hex escape on line %d", line)
			}
			val = rune(v)
		default:
			if next < '0' || next > '7' {
				return Token{}, fmt.Errorf("unknown escape sequence \\%c on line %d", next, line)
			}
			v := next - '0'
			for i := 0; i < 2 && l.peek() >= '0' && l.peek() <= '7'; i++ {
				v = v*8 + (l.advance() - '0')
			}
			val = v
		}
	} else {
		val = r
		l.advance()
	}

	if l.peek() != '\'' {
		return Token{}, fmt.Errorf("unterminated character literal on line %d", line)
	}
	l.advance() // consume closing '

	return Token{Type: CHARLIT, Lexeme: strconv.Itoa(int(val)), Line: line}, nil
}

// scanString collects a string literal "..." keeping escapes as written.
func (l *Lexer) scanString() (Token, error) {
	line := l.line
	l.advance() // consume opening "
	start := l.pos

	for l.pos < len(l.src) {
		r := l.peek()
		if r == '"' {
			break
		}
		if r == '\n' {
			return Token{}, fmt.Errorf("unterminated string literal on line %d", line)
		}
		if r == '\\' {
			l.advance()
		}
		l.advance()
	}

	if l.pos >= len(l.src) {
		return Token{}, fmt.Errorf("unterminated string literal on line %d", line)
	}
	val := string(l.src[start:l.pos])
	l.advance() // consume closing "

	return Token{Type: STRING, Lexeme: val, Line: line}, nil
}

// nextToken skips whitespace/comments and returns the next Token.
func (l *Lexer) nextToken() (Token, error) {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			return Token{Type: EOF, Lexeme: "", Line: l.line}, nil
		}
		if l.peek() == '/' && l.peek2() == '/' {
			l.advance()
			l.advance()
			l.skipLineComment()
			continue
		}
		if l.peek() == '/' && l.peek2() == '*' {
			l.advance()
			l.advance()
			if err := l.skipBlockComment(); err != nil {
				return Token{}, err
			}
			continue
		}
		break
	}

	ch := l.peek()
	line := l.line

	if isIdentStart(ch) {
		return l.scanIdent(), nil
	}
	if unicode.IsDigit(ch) || (ch == '.' && unicode.IsDigit(l.peek2())) {
		return l.scanNumber(), nil
	}
	if ch == '"' {
		return l.scanString()
	}
	if ch == '\'' {
		return l.scanChar()
	}

	l.advance() // consume the character before the switch
	switch ch {
	case '{':
		return Token{LBRACE, "{", line}, nil
	case '}':
		return Token{RBRACE, "}", line}, nil
	case '(':
		return Token{LPAREN, "(", line}, nil
	case ')':
		return Token{RPAREN, ")", line}, nil
	case '[':
		return Token{LBRACKET, "[", line}, nil
	case ']':
		return Token{RBRACKET, "]", line}, nil
	case '.':
		if l.peek() == '.' && l.peek2() == '.' {
			l.advance()
			l.advance()
			return Token{ELLIPSIS, "...", line}, nil
		}
		return Token{DOT, ".", line}, nil
	case ';':
		return Token{SEMICOLON, ";", line}, nil
	case ',':
		return Token{COMMA, ",", line}, nil
	case ':':
		return Token{COLON, ":", line}, nil
	case '?':
		return Token{QUESTION, "?", line}, nil
	case '#':
		return Token{HASH, "#", line}, nil
	case '+':
		return Token{PLUS, "+", line}, nil
	case '-':
		if l.peek() == '>' {
			l.advance()
			return Token{ARROW, "->", line}, nil
		}
		return Token{MINUS, "-", line}, nil
	case '*':
		return Token{STAR, "*", line}, nil
	case '/':
		return Token{SLASH, "/", line}, nil
	case '&':
		if l.peek() == '&' {
			l.advance()
			return Token{AND_LOGICAL, "&&", line}, nil
		}
		return Token{AND, "&", line}, nil
	case '|':
		if l.peek() == '|' {
			l.advance()
			return Token{OR_LOGICAL, "||", line}, nil
		}
		return Token{PIPE, "|", line}, nil
	case '^':
		return Token{CARET, "^", line}, nil
	case '~':
		return Token{TILDE, "~", line}, nil
	case '%':
		return Token{PERCENT, "%", line}, nil
	case '!':
		if l.peek() == '=' {
			l.advance()
			return Token{NOT_EQ, "!=", line}, nil
		}
		return Token{NOT, "!", line}, nil
	case '<':
		if l.peek() == '=' {
			l.advance()
			return Token{LESS_EQ, "<=", line}, nil
		}
		if l.peek() == '<' {
			l.advance()
			return Token{SHL_OP, "<<", line}, nil
		}
		return Token{LESS, "<", line}, nil
	case '>':
		if l.peek() == '=' {
			l.advance()
			return Token{GREATER_EQ, ">=", line}, nil
		}
		if l.peek() == '>' {
			l.advance()
			return Token{SHR_OP, ">>", line}, nil
		}
		return Token{GREATER, ">", line}, nil
	case '=':
		if l.peek() == '=' {
			l.advance()
			return Token{EQUALS, "==", line}, nil
		}
		return Token{ASSIGN, "=", line}, nil
	default:
		return Token{}, fmt.Errorf("unexpected character %q on line %d", ch, line)
	}
}

// Lex tokenises src and returns all tokens including the final EOF token.
// It returns a non-nil error on the first illegal character or unterminated comment.
func Lex(src string) ([]Token, error) {
	l := newLexer(src)
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}

func isIdentStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}
