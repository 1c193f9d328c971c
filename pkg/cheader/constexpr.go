package cheader

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	errNotConstant = errors.New("not an integer constant expression")
	errNotInteger  = errors.New("expression is not an integer")
)

// binaryPrec gives the binding power of each binary operator; higher binds tighter.
var binaryPrec = map[TokenType]int{
	OR_LOGICAL:  1,
	AND_LOGICAL: 2,
	PIPE:        3,
	CARET:       4,
	AND:         5,
	EQUALS:      6,
	NOT_EQ:      6,
	LESS:        7,
	GREATER:     7,
	LESS_EQ:     7,
	GREATER_EQ:  7,
	SHL_OP:      8,
	SHR_OP:      8,
	PLUS:        9,
	MINUS:       9,
	STAR:        10,
	SLASH:       10,
	PERCENT:     10,
}

// evalExpr folds a constant expression starting at the current token.
//
//	conditional = binary ("?" expression ":" conditional)?
//	binary      = unary (op binary)*            precedence climbing over binaryPrec
//	unary       = ("+" | "-" | "~" | "!") unary | "(" type ")" unary | sizeof | primary
//	primary     = INTEGER | CHARLIT | IDENTIFIER | "(" expression ")"
func (p *Parser) evalExpr() (int64, error) {
	cond, err := p.evalBinary(1)
	if err != nil {
		return 0, err
	}
	if p.peek().Type != QUESTION {
		return cond, nil
	}
	p.advance()
	a, err := p.evalExpr()
	if err != nil {
		return 0, err
	}
	if _, err := p.expect(COLON); err != nil {
		return 0, err
	}
	b, err := p.evalExpr()
	if err != nil {
		return 0, err
	}
	if cond != 0 {
		return a, nil
	}
	return b, nil
}

func (p *Parser) evalBinary(minPrec int) (int64, error) {
	lhs, err := p.evalUnary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		prec, ok := binaryPrec[op.Type]
		if !ok || prec < minPrec {
			return lhs, nil
		}
		p.advance()
		rhs, err := p.evalBinary(prec + 1)
		if err != nil {
			return 0, err
		}
		lhs, err = p.applyBinary(op, lhs, rhs)
		if err != nil {
			return 0, err
		}
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (p *Parser) applyBinary(op Token, a, b int64) (int64, error) {
	switch op.Type {
	case OR_LOGICAL:
		return boolInt(a != 0 || b != 0), nil
	case AND_LOGICAL:
		return boolInt(a != 0 && b != 0), nil
	case PIPE:
		return a | b, nil
	case CARET:
		return a ^ b, nil
	case AND:
		return a & b, nil
	case EQUALS:
		return boolInt(a == b), nil
	case NOT_EQ:
		return boolInt(a != b), nil
	case LESS:
		return boolInt(a < b), nil
	case GREATER:
		return boolInt(a > b), nil
	case LESS_EQ:
		return boolInt(a <= b), nil
	case GREATER_EQ:
		return boolInt(a >= b), nil
	case SHL_OP, SHR_OP:
		if b < 0 || b > 63 {
			return 0, p.fmtError(op, "shift count %d out of range", b)
		}
		if op.Type == SHL_OP {
			return a << uint(b), nil
		}
		return a >> uint(b), nil
	case PLUS:
		return a + b, nil
	case MINUS:
		return a - b, nil
	case STAR:
		return a * b, nil
	case SLASH, PERCENT:
		if b == 0 {
			return 0, p.fmtError(op, "division by zero")
		}
		if op.Type == SLASH {
			return a / b, nil
		}
		return a % b, nil
	}
	return 0, p.fmtError(op, "unexpected operator %q", op.Lexeme)
}

func (p *Parser) evalUnary() (int64, error) {
	tok := p.peek()
	switch tok.Type {
	case PLUS, MINUS, TILDE, NOT:
		p.advance()
		v, err := p.evalUnary()
		if err != nil {
			return 0, err
		}
		switch tok.Type {
		case MINUS:
			return -v, nil
		case TILDE:
			return ^v, nil
		case NOT:
			return boolInt(v == 0), nil
		}
		return v, nil

	case SIZEOF, ALIGNOF:
		p.advance()
		if p.peek().Type != LPAREN || !p.isTypeStart(p.peekAt(1)) {
			return 0, fmt.Errorf("%w: %s of an expression", errNotConstant, tok.Lexeme)
		}
		p.advance()
		t, err := p.parseTypeName()
		if err != nil {
			return 0, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return 0, err
		}
		v := p.model.SizeOf(t)
		if tok.Type == ALIGNOF {
			v = p.model.AlignOf(t)
		}
		if v <= 0 && !(tok.Type == SIZEOF && v == 0) {
			return 0, fmt.Errorf("%w: %s of incomplete type %s", errNotConstant, tok.Lexeme, typeString(t))
		}
		return v, nil

	case LPAREN:
		if p.isTypeStart(p.peekAt(1)) {
			p.advance()
			t, err := p.parseTypeName()
			if err != nil {
				return 0, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return 0, err
			}
			v, err := p.evalUnary()
			if err != nil {
				return 0, err
			}
			return p.convert(v, t), nil
		}
	}
	return p.evalPrimary()
}

func (p *Parser) evalPrimary() (int64, error) {
	tok := p.advance()
	switch tok.Type {
	case INTEGER:
		return parseInteger(tok.Lexeme)
	case CHARLIT:
		return strconv.ParseInt(tok.Lexeme, 10, 64)
	case FLOAT, STRING:
		return 0, fmt.Errorf("%w: %q", errNotInteger, tok.Lexeme)
	case IDENTIFIER:
		if p.condition {
			// Identifiers left after macro expansion evaluate to 0 in #if.
			return 0, nil
		}
		if v, ok := p.types.Const(tok.Lexeme); ok {
			return v, nil
		}
		return 0, fmt.Errorf("%w: unknown identifier %s", errNotConstant, tok.Lexeme)
	case LPAREN:
		v, err := p.evalExpr()
		if err != nil {
			return 0, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return 0, err
		}
		return v, nil
	}
	return 0, p.fmtError(tok, "unexpected %s (%q) in constant expression", tok.Type, tok.Lexeme)
}

// parseInteger accepts decimal, octal, hex and binary literals. Values that
// only fit unsigned wrap into int64 the way a 64-bit compiler stores them.
func parseInteger(lexeme string) (int64, error) {
	lit := lexeme
	if len(lit) > 2 && lit[0] == '0' && (lit[1] == 'b' || lit[1] == 'B') {
		v, err := strconv.ParseUint(lit[2:], 2, 64)
		return int64(v), err
	}
	if v, err := strconv.ParseInt(lit, 0, 64); err == nil {
		return v, nil
	}
	v, err := strconv.ParseUint(lit, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer literal %q: %w", lexeme, err)
	}
	return int64(v), nil
}

// convert truncates v to the width and signedness of t, as a cast would.
func (p *Parser) convert(v int64, t *CType) int64 {
	if t.Kind == TypeBool {
		return boolInt(v != 0)
	}
	size := p.model.SizeOf(t)
	if t.Kind == TypePointer || size <= 0 || size >= 8 {
		return v
	}
	bits := uint(size * 8)
	v &= int64(1)<<bits - 1
	if !t.Unsigned && t.Kind != TypeEnum && v&(int64(1)<<(bits-1)) != 0 {
		v -= int64(1) << bits
	}
	return v
}
