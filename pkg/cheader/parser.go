package cheader

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"abiguard/pkg/abi"
)

// Parser consumes the flat token slice of a preprocessed header and reports
// every struct, union and enum definition in the order it is completed.
// Function bodies, initializers and stray statements are skipped.
//
// Grammar (declarations only):
//
//	unit        = externalDecl* EOF
//	externalDecl = specifiers (declarator ("=" initializer | body)? ("," declarator)*)? ";"
//	specifiers  = (storage | qualifier | attribute | typeSpec)+
//	typeSpec    = scalar keywords | TYPEDEF_NAME | recordSpec | enumSpec
//	recordSpec  = ("struct" | "union") attribute* IDENTIFIER? ("{" member* "}")? attribute*
//	member      = specifiers (declarator? (":" constExpr)? attribute*) ("," ...)* ";"
//	enumSpec    = "enum" IDENTIFIER? ("{" IDENTIFIER ("=" constExpr)? ("," ...)* ","? "}")?
//	declarator  = "*"* (IDENTIFIER | "(" declarator ")")? ("[" constExpr? "]")* | "(" params ")"
type Parser struct {
	tokens      []Token
	pos         int
	sourceLines []string

	types *TypeTable
	model DataModel
	decls []abi.TypeDecl
	log   *slog.Logger

	// condition is set while evaluating #if: unknown identifiers are 0
	// and there are no types.
	condition bool
}

func NewParser(tokens []Token, rawSource string, types *TypeTable, model DataModel, log *slog.Logger) *Parser {
	if types == nil {
		types = NewTypeTable()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		tokens:      tokens,
		sourceLines: strings.Split(rawSource, "\n"),
		types:       types,
		model:       model,
		log:         log,
	}
}

func newConditionParser(tokens []Token, rawSource string) *Parser {
	p := NewParser(tokens, rawSource, nil, LP64, nil)
	p.condition = true
	return p
}

// fmtError wraps an error message with the source line where the token appears.
func (p *Parser) fmtError(tok Token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	lineIdx := tok.Line - 1 // Lines are 1-based

	snippet := "<source unavailable>"
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}

	return fmt.Errorf("line %d: %s\n  |> %s", tok.Line, msg, snippet)
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// peekAt returns the token at the given offset from the current position.
func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos+offset]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.fmtError(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
	}
	return tok, nil
}

// skipBalanced consumes an open token and everything up to its matching close.
func (p *Parser) skipBalanced(open, close TokenType) error {
	start, err := p.expect(open)
	if err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		tok := p.advance()
		switch tok.Type {
		case open:
			depth++
		case close:
			depth--
		case EOF:
			return p.fmtError(start, "unbalanced %s", open)
		}
	}
	return nil
}

// skipUntil advances to the first token of one of the given types at
// nesting depth zero, without consuming it.
func (p *Parser) skipUntil(stop ...TokenType) {
	depth := 0
	for {
		tok := p.peek()
		if tok.Type == EOF {
			return
		}
		if depth == 0 {
			for _, s := range stop {
				if tok.Type == s {
					return
				}
			}
		}
		switch tok.Type {
		case LPAREN, LBRACKET, LBRACE:
			depth++
		case RPAREN, RBRACKET, RBRACE:
			depth--
		}
		p.advance()
	}
}

// ignoredSpecifiers are identifiers that may appear among declaration
// specifiers and carry no layout meaning.
var ignoredSpecifiers = map[string]bool{
	"__extension__": true,
	"_Noreturn":     true,
	"__restrict__":  true,
	"_Thread_local": true,
	"__thread":      true,
	"register":      true,
	"auto":          true,
	"_Atomic":       true,
}

type attributes struct {
	packed  bool
	aligned int64
}

type declSpec struct {
	typ       *CType
	isTypedef bool
	attrs     attributes
}

// isTypeStart reports whether tok can begin a type name.
func (p *Parser) isTypeStart(tok Token) bool {
	if p.condition {
		return false
	}
	switch tok.Type {
	case VOID, BOOL, CHAR, SHORT, INT, LONG, FLOATKW, DOUBLE, SIGNED, UNSIGNED,
		STRUCT, UNION, ENUM, CONST, VOLATILE:
		return true
	case IDENTIFIER:
		_, ok := p.types.Typedef(tok.Lexeme)
		return ok
	}
	return false
}

// parseDeclSpecifiers reads storage classes, qualifiers, attributes and the
// base type. ok is false when no specifier was found at all.
func (p *Parser) parseDeclSpecifiers() (declSpec, bool, error) {
	var spec declSpec
	start := p.pos
	var (
		kind     TypeKind
		hasKind  bool
		longs    int
		unsigned bool
		signed   bool
	)

loop:
	for {
		tok := p.peek()
		switch tok.Type {
		case TYPEDEF:
			spec.isTypedef = true
			p.advance()
		case STATIC, EXTERN, INLINE, CONST, VOLATILE:
			p.advance()
		case ATTRIBUTE:
			if err := p.parseAttributes(&spec.attrs); err != nil {
				return spec, false, err
			}
		case VOID, BOOL, CHAR, SHORT, FLOATKW, DOUBLE:
			kind, hasKind = scalarKind(tok.Type), true
			p.advance()
		case INT:
			if !hasKind {
				kind, hasKind = TypeInt, true
			}
			p.advance()
		case LONG:
			longs++
			p.advance()
		case SIGNED:
			signed = true
			p.advance()
		case UNSIGNED:
			unsigned = true
			p.advance()
		case STRUCT, UNION:
			if spec.typ != nil || hasKind {
				break loop
			}
			t, err := p.parseRecordSpecifier()
			if err != nil {
				return spec, false, err
			}
			spec.typ = t
		case ENUM:
			if spec.typ != nil || hasKind {
				break loop
			}
			t, err := p.parseEnumSpecifier()
			if err != nil {
				return spec, false, err
			}
			spec.typ = t
		case IDENTIFIER:
			if ignoredSpecifiers[tok.Lexeme] {
				p.advance()
				continue
			}
			if tok.Lexeme == "__declspec" && p.peekAt(1).Type == LPAREN {
				p.advance()
				if err := p.skipBalanced(LPAREN, RPAREN); err != nil {
					return spec, false, err
				}
				continue
			}
			if spec.typ != nil || hasKind || longs > 0 || unsigned || signed {
				break loop
			}
			if t, ok := p.types.Typedef(tok.Lexeme); ok {
				spec.typ = t
				p.advance()
				continue
			}
			// An unknown type name followed by a declarator: keep parsing
			// with a type that has no size.
			if next := p.peekAt(1).Type; next == IDENTIFIER || next == STAR {
				p.log.Debug("unknown type name", "line", tok.Line, "type", tok.Lexeme)
				spec.typ = &CType{Kind: TypeVoid}
				p.advance()
				continue
			}
			break loop
		default:
			break loop
		}
	}

	if spec.typ != nil {
		return spec, true, nil
	}
	if !hasKind && longs == 0 && !unsigned && !signed {
		return spec, p.pos > start, nil
	}
	if !hasKind {
		kind = TypeInt
	}
	if longs > 0 {
		switch {
		case kind == TypeDouble:
			kind = TypeLongDouble
		case longs >= 2:
			kind = TypeLongLong
		default:
			kind = TypeLong
		}
	}
	spec.typ = &CType{Kind: kind, Unsigned: unsigned}
	return spec, true, nil
}

func scalarKind(tt TokenType) TypeKind {
	switch tt {
	case VOID:
		return TypeVoid
	case BOOL:
		return TypeBool
	case CHAR:
		return TypeChar
	case SHORT:
		return TypeShort
	case FLOATKW:
		return TypeFloat
	case DOUBLE:
		return TypeDouble
	}
	return TypeInt
}

// parseAttributes reads one __attribute__((...)) list into a.
// Only packed and aligned affect layout; the rest are skipped.
func (p *Parser) parseAttributes(a *attributes) error {
	p.advance() // __attribute__
	if _, err := p.expect(LPAREN); err != nil {
		return err
	}
	if _, err := p.expect(LPAREN); err != nil {
		return err
	}
	for p.peek().Type != RPAREN {
		tok := p.advance()
		if tok.Type == EOF {
			return p.fmtError(tok, "unterminated __attribute__")
		}
		if tok.Type == COMMA {
			continue
		}
		name := strings.Trim(tok.Lexeme, "_")
		if p.peek().Type != LPAREN {
			switch name {
			case "packed":
				a.packed = true
			case "aligned":
				a.aligned = p.model.MaxAlign
			}
			continue
		}
		if name != "aligned" {
			if err := p.skipBalanced(LPAREN, RPAREN); err != nil {
				return err
			}
			continue
		}
		p.advance() // (
		v, err := p.evalExpr()
		if err != nil {
			return err
		}
		a.aligned = v
		if _, err := p.expect(RPAREN); err != nil {
			return err
		}
	}
	p.advance() // )
	_, err := p.expect(RPAREN)
	return err
}

// skipTrailers skips attributes and asm labels that may follow a declarator.
func (p *Parser) skipTrailers(a *attributes) error {
	for {
		tok := p.peek()
		switch {
		case tok.Type == ATTRIBUTE:
			if err := p.parseAttributes(a); err != nil {
				return err
			}
		case tok.Type == IDENTIFIER && (tok.Lexeme == "__asm__" || tok.Lexeme == "__asm" || tok.Lexeme == "asm") &&
			p.peekAt(1).Type == LPAREN:
			p.advance()
			if err := p.skipBalanced(LPAREN, RPAREN); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// parseRecordSpecifier parses "struct ..." or "union ..." and, for a body,
// lays the record out and reports it.
func (p *Parser) parseRecordSpecifier() (*CType, error) {
	kwTok := p.advance()
	kind := abi.DeclStruct
	if kwTok.Type == UNION {
		kind = abi.DeclUnion
	}

	var attrs attributes
	if err := p.skipTrailers(&attrs); err != nil {
		return nil, err
	}
	tag := ""
	if p.peek().Type == IDENTIFIER {
		tag = p.advance().Lexeme
	}

	if p.peek().Type != LBRACE {
		if tag == "" {
			return nil, p.fmtError(kwTok, "expected tag or body after %s", kwTok.Lexeme)
		}
		if t, ok := p.types.Tag(tag); ok && t.Kind == TypeRecord {
			return t, nil
		}
		t := &CType{Kind: TypeRecord, Record: &Record{Kind: kind, Name: tag}}
		p.types.DefineTag(tag, t)
		return t, nil
	}

	var t *CType
	if tag != "" {
		// Complete a forward declaration in place so earlier pointers see it.
		if prev, ok := p.types.Tag(tag); ok && prev.Kind == TypeRecord && !prev.Record.defined {
			t = prev
		}
	}
	if t == nil {
		t = &CType{Kind: TypeRecord, Record: &Record{Kind: kind, Name: tag}}
		if tag != "" {
			p.types.DefineTag(tag, t)
		}
	}
	rec := t.Record
	rec.Kind = kind
	rec.Members = nil

	p.advance() // {
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.fmtError(kwTok, "unterminated %s body", kwTok.Lexeme)
		}
		if err := p.parseMemberDeclaration(rec); err != nil {
			return nil, err
		}
	}
	p.advance() // }
	if err := p.skipTrailers(&attrs); err != nil {
		return nil, err
	}

	rec.Packed = attrs.packed
	rec.Aligned = attrs.aligned
	rec.defined = true
	p.model.layout(rec)
	if !rec.Complete {
		p.log.Debug("record has no size", "kind", kind, "name", rec.Name, "line", kwTok.Line)
	}
	if rec.Name != "" {
		p.emitRecord(rec)
	}
	return t, nil
}

func (p *Parser) parseMemberDeclaration(rec *Record) error {
	tok := p.peek()
	if tok.Type == SEMICOLON {
		p.advance()
		return nil
	}
	if tok.Type == IDENTIFIER && (tok.Lexeme == "_Static_assert" || tok.Lexeme == "static_assert") {
		p.skipUntil(SEMICOLON)
		p.advance()
		return nil
	}

	spec, ok, err := p.parseDeclSpecifiers()
	if err != nil {
		return err
	}
	if !ok || spec.typ == nil {
		return p.fmtError(tok, "expected member declaration, got %s (%q)", tok.Type, tok.Lexeme)
	}

	if p.peek().Type == SEMICOLON {
		// Anonymous struct or union member.
		p.advance()
		if spec.typ.Kind == TypeRecord && spec.typ.Record.Name == "" {
			rec.Members = append(rec.Members, Member{Type: spec.typ})
		}
		return nil
	}

	for {
		m := Member{Type: spec.typ}
		if p.peek().Type != COLON {
			name, t, err := p.parseDeclarator(spec.typ)
			if err != nil {
				return err
			}
			m.Name, m.Type = name, t
		}
		if p.peek().Type == COLON {
			colon := p.advance()
			w, err := p.evalExpr()
			if err != nil {
				return p.fmtError(colon, "bit-field width: %v", err)
			}
			m.BitField, m.BitWidth = true, w
		}
		var attrs attributes
		if err := p.skipTrailers(&attrs); err != nil {
			return err
		}
		m.Aligned = max(attrs.aligned, spec.attrs.aligned)
		rec.Members = append(rec.Members, m)

		if p.peek().Type != COMMA {
			break
		}
		p.advance()
	}
	_, err = p.expect(SEMICOLON)
	return err
}

// parseEnumSpecifier parses "enum ..." and, for a body, reports it.
// Enumerators whose value cannot be folded keep their source text.
func (p *Parser) parseEnumSpecifier() (*CType, error) {
	kwTok := p.advance()
	var attrs attributes
	if err := p.skipTrailers(&attrs); err != nil {
		return nil, err
	}
	tag := ""
	if p.peek().Type == IDENTIFIER {
		tag = p.advance().Lexeme
	}

	if p.peek().Type != LBRACE {
		if tag == "" {
			return nil, p.fmtError(kwTok, "expected tag or body after enum")
		}
		if t, ok := p.types.Tag(tag); ok && t.Kind == TypeEnum {
			return t, nil
		}
		t := &CType{Kind: TypeEnum, Enum: &EnumDef{Name: tag}}
		p.types.DefineTag(tag, t)
		return t, nil
	}

	var t *CType
	if tag != "" {
		if prev, ok := p.types.Tag(tag); ok && prev.Kind == TypeEnum && !prev.Enum.Complete {
			t = prev
		}
	}
	if t == nil {
		t = &CType{Kind: TypeEnum, Enum: &EnumDef{Name: tag}}
		if tag != "" {
			p.types.DefineTag(tag, t)
		}
	}
	def := t.Enum

	p.advance() // {
	next := abi.IntConst(0)
	for p.peek().Type != RBRACE {
		nameTok, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		var discard attributes
		if err := p.skipTrailers(&discard); err != nil {
			return nil, err
		}
		val := next
		if p.peek().Type == ASSIGN {
			p.advance()
			val = p.enumeratorValue()
		}
		def.Enumerators = append(def.Enumerators, abi.EnumeratorDecl{Name: nameTok.Lexeme, Value: val})

		if val.Kind == abi.ConstInt {
			p.types.DefineConst(nameTok.Lexeme, val.Int)
			next = abi.IntConst(val.Int + 1)
		} else {
			next = abi.ConstValue{Kind: abi.ConstOther, Text: nameTok.Lexeme + " + 1"}
		}

		if p.peek().Type != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	if err := p.skipTrailers(&attrs); err != nil {
		return nil, err
	}

	def.Complete = true
	if def.Name != "" {
		p.emitEnum(def)
	}
	return t, nil
}

// enumeratorValue folds the expression after "=" and leaves the parser on
// the following ',' or '}'.
func (p *Parser) enumeratorValue() abi.ConstValue {
	start := p.pos
	v, err := p.evalExpr()
	if err == nil {
		if tt := p.peek().Type; tt != COMMA && tt != RBRACE {
			err = errNotConstant
		}
	}
	if err == nil {
		return abi.IntConst(v)
	}

	p.pos = start
	p.skipUntil(COMMA, RBRACE)
	text := joinTokens(p.tokens[start:p.pos])
	if !errors.Is(err, errNotInteger) && !errors.Is(err, errNotConstant) {
		p.log.Debug("cannot fold enumerator value", "expr", text, "error", err)
	}
	return abi.ConstValue{Kind: abi.ConstOther, Text: text}
}

func joinTokens(toks []Token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		switch t.Type {
		case STRING:
			parts[i] = `"` + t.Lexeme + `"`
		default:
			parts[i] = t.Lexeme
		}
	}
	return strings.Join(parts, " ")
}

// parseDeclarator applies pointer, array and function derivations to base.
// The name is empty for abstract declarators.
func (p *Parser) parseDeclarator(base *CType) (string, *CType, error) {
	t := base
	for p.peek().Type == STAR {
		p.advance()
		t = &CType{Kind: TypePointer, Elem: t}
		for tt := p.peek().Type; tt == CONST || tt == VOLATILE; tt = p.peek().Type {
			p.advance()
		}
	}
	var discard attributes
	if err := p.skipTrailers(&discard); err != nil {
		return "", nil, err
	}

	switch {
	case p.peek().Type == LPAREN && p.startsNestedDeclarator():
		// The suffixes after the parentheses bind first: int (*fp)[4].
		open := p.pos
		if err := p.skipBalanced(LPAREN, RPAREN); err != nil {
			return "", nil, err
		}
		outer, err := p.parseDeclSuffixes(t)
		if err != nil {
			return "", nil, err
		}
		end := p.pos
		p.pos = open + 1
		name, inner, err := p.parseDeclarator(outer)
		if err != nil {
			return "", nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return "", nil, err
		}
		p.pos = end
		return name, inner, nil

	case p.peek().Type == IDENTIFIER:
		name := p.advance().Lexeme
		t, err := p.parseDeclSuffixes(t)
		return name, t, err
	}

	t, err := p.parseDeclSuffixes(t)
	return "", t, err
}

func (p *Parser) startsNestedDeclarator() bool {
	next := p.peekAt(1)
	switch next.Type {
	case STAR, LPAREN, ATTRIBUTE:
		return true
	case IDENTIFIER:
		_, isType := p.types.Typedef(next.Lexeme)
		return !isType
	}
	return false
}

func (p *Parser) parseDeclSuffixes(t *CType) (*CType, error) {
	var dims []int64
	for p.peek().Type == LBRACKET {
		open := p.advance()
		for tt := p.peek().Type; tt == STATIC || tt == CONST || tt == VOLATILE; tt = p.peek().Type {
			p.advance()
		}
		if p.peek().Type == RBRACKET {
			dims = append(dims, abi.Unresolved)
		} else {
			v, err := p.evalExpr()
			if err != nil || v < 0 {
				p.log.Debug("cannot evaluate array bound", "line", open.Line, "error", err)
				p.skipUntil(RBRACKET)
				v = unknownLen
			}
			dims = append(dims, v)
		}
		if _, err := p.expect(RBRACKET); err != nil {
			return nil, err
		}
	}
	if len(dims) > 0 {
		for i := len(dims) - 1; i >= 0; i-- {
			t = &CType{Kind: TypeArray, Elem: t, Len: dims[i]}
		}
		return t, nil
	}
	if p.peek().Type == LPAREN {
		if err := p.skipBalanced(LPAREN, RPAREN); err != nil {
			return nil, err
		}
		return &CType{Kind: TypeFunc, Elem: t}, nil
	}
	return t, nil
}

// parseTypeName reads a type name as used in casts and sizeof.
func (p *Parser) parseTypeName() (*CType, error) {
	tok := p.peek()
	spec, ok, err := p.parseDeclSpecifiers()
	if err != nil {
		return nil, err
	}
	if !ok || spec.typ == nil {
		return nil, p.fmtError(tok, "expected type name, got %q", tok.Lexeme)
	}
	_, t, err := p.parseDeclarator(spec.typ)
	return t, err
}

func (p *Parser) emitRecord(r *Record) {
	if r.emitted {
		return
	}
	r.emitted = true
	p.decls = append(p.decls, r.Decl(p.model))
}

func (p *Parser) emitEnum(e *EnumDef) {
	if e.emitted {
		return
	}
	e.emitted = true
	p.decls = append(p.decls, e.Decl())
}

// defineTypedef records a typedef. An anonymous struct, union or enum body
// takes the typedef's name and is reported under it.
func (p *Parser) defineTypedef(name string, t *CType) {
	p.types.DefineTypedef(name, t)
	switch t.Kind {
	case TypeRecord:
		if t.Record.Name == "" && t.Record.defined {
			t.Record.Name = name
			p.emitRecord(t.Record)
		}
	case TypeEnum:
		if t.Enum.Name == "" && t.Enum.Complete {
			t.Enum.Name = name
			p.emitEnum(t.Enum)
		}
	}
}

// skipStatement discards tokens up to and including the next ';' at depth
// zero, or through a brace block.
func (p *Parser) skipStatement() {
	p.skipUntil(SEMICOLON, LBRACE)
	if p.peek().Type == LBRACE {
		_ = p.skipBalanced(LBRACE, RBRACE)
	}
	if p.peek().Type == SEMICOLON {
		p.advance()
	}
}

func (p *Parser) parseExternalDeclaration() error {
	tok := p.peek()
	if tok.Type == SEMICOLON {
		p.advance()
		return nil
	}

	spec, ok, err := p.parseDeclSpecifiers()
	if err != nil {
		return err
	}
	if !ok || spec.typ == nil {
		// Static assertions, leftover macro calls and the like.
		p.log.Debug("skipping non-declaration", "line", tok.Line, "token", tok.Lexeme)
		p.skipStatement()
		return nil
	}
	if p.peek().Type == SEMICOLON {
		p.advance()
		return nil
	}

	for {
		name, t, err := p.parseDeclarator(spec.typ)
		if err != nil {
			return err
		}
		var discard attributes
		if err := p.skipTrailers(&discard); err != nil {
			return err
		}
		if spec.isTypedef && name != "" {
			p.defineTypedef(name, t)
		}

		switch p.peek().Type {
		case LBRACE:
			// Function definition.
			return p.skipBalanced(LBRACE, RBRACE)
		case ASSIGN:
			p.advance()
			p.skipUntil(COMMA, SEMICOLON)
		}

		if p.peek().Type != COMMA {
			break
		}
		p.advance()
	}
	_, err = p.expect(SEMICOLON)
	return err
}

// Parse reads every external declaration in tokens and returns the struct,
// union and enum declarations completed along the way.
func Parse(tokens []Token, rawSource string, types *TypeTable, model DataModel, log *slog.Logger) ([]abi.TypeDecl, error) {
	p := NewParser(tokens, rawSource, types, model, log)
	for p.peek().Type != EOF {
		if err := p.parseExternalDeclaration(); err != nil {
			return p.decls, err
		}
	}
	return p.decls, nil
}
