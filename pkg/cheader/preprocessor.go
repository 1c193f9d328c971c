package cheader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Macro represents a defined macro, either object-like or function-like.
type Macro struct {
	FuncLike bool
	Params   []string // "__VA_ARGS__" stands for a trailing "..."
	Body     string   // replacement text, whitespace runs collapsed
}

// Definition renders the macro the way a compiler's macro table reports it:
// "NAME body", "NAME(a, b) body", or a bare "NAME" when the body is empty.
func (m Macro) Definition(name string) string {
	head := name
	if m.FuncLike {
		params := make([]string, len(m.Params))
		for i, p := range m.Params {
			if p == "__VA_ARGS__" {
				p = "..."
			}
			params[i] = p
		}
		head += "(" + strings.Join(params, ", ") + ")"
	}
	if m.Body == "" {
		return head
	}
	return head + " " + m.Body
}

// MacroTable is the set of macros defined at the end of preprocessing.
type MacroTable struct {
	defs map[string]Macro
}

// Names returns every defined macro name, sorted.
func (t *MacroTable) Names() []string {
	names := make([]string, 0, len(t.defs))
	for name := range t.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns the raw "NAME body" text of a macro.
func (t *MacroTable) Definition(name string) (string, bool) {
	m, ok := t.defs[name]
	if !ok {
		return "", false
	}
	return m.Definition(name), true
}

// Lookup returns the parsed macro.
func (t *MacroTable) Lookup(name string) (Macro, bool) {
	m, ok := t.defs[name]
	return m, ok
}

// PreprocessOptions configures a Preprocessor.
type PreprocessOptions struct {
	IncludeDirs []string          // searched for <...> and, after the including file's directory, "..."
	Defines     map[string]string // command-line style -D definitions; empty value means 1
	Log         *slog.Logger
}

// Preprocessor expands a header and everything it includes into one text,
// recording every macro it sees along the way.
type Preprocessor struct {
	includeDirs      []string
	defines          map[string]Macro
	alreadyProcessed map[string]bool
	files            []string
	log              *slog.Logger
}

func NewPreprocessor(opts PreprocessOptions) *Preprocessor {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	pp := &Preprocessor{
		includeDirs:      opts.IncludeDirs,
		defines:          make(map[string]Macro),
		alreadyProcessed: make(map[string]bool),
		log:              log,
	}
	for name, value := range opts.Defines {
		if value == "" {
			value = "1"
		}
		pp.defines[name] = Macro{Body: normalizeBody(value)}
	}
	return pp
}

// Preprocess scans src for directives and substitutes defines using no
// include directories and no predefined macros.
func Preprocess(src string, baseDir string) (string, error) {
	return NewPreprocessor(PreprocessOptions{}).Run(src, baseDir)
}

// Run preprocesses src as if it lived in baseDir.
func (pp *Preprocessor) Run(src string, baseDir string) (string, error) {
	return pp.process(src, baseDir, make(map[string]bool))
}

// Macros returns the macro table as it stands now.
func (pp *Preprocessor) Macros() *MacroTable {
	defs := make(map[string]Macro, len(pp.defines))
	for k, v := range pp.defines {
		defs[k] = v
	}
	return &MacroTable{defs: defs}
}

// Files lists every file pulled in by #include, in first-include order.
func (pp *Preprocessor) Files() []string {
	return append([]string(nil), pp.files...)
}

// condFrame is one level of #if nesting.
type condFrame struct {
	parentActive bool
	active       bool // current branch is being emitted
	taken        bool // some branch of this group was already emitted
	sawElse      bool
}

func (pp *Preprocessor) process(src string, baseDir string, visitedStack map[string]bool) (string, error) {
	text := stripComments(strings.Join(spliceLines(src), "\n"))
	lines := strings.Split(text, "\n")

	var result strings.Builder
	var stack []condFrame
	active := func() bool {
		return len(stack) == 0 || stack[len(stack)-1].active
	}

	for idx, line := range lines {
		lineNo := idx + 1
		trimmed := strings.TrimSpace(line)

		if !strings.HasPrefix(trimmed, "#") {
			if active() {
				result.WriteString(pp.applyDefines(line, nil))
			}
			result.WriteString("\n")
			continue
		}

		directive, rest := splitDirective(trimmed)
		switch directive {
		case "ifdef", "ifndef":
			parent := active()
			cond := false
			if parent {
				_, defined := pp.defines[firstWord(rest)]
				cond = defined == (directive == "ifdef")
			}
			stack = append(stack, condFrame{parentActive: parent, active: parent && cond, taken: cond})

		case "if":
			parent := active()
			cond := false
			if parent {
				v, err := pp.evalCondition(rest)
				if err != nil {
					return "", fmt.Errorf("line %d: #if: %w", lineNo, err)
				}
				cond = v
			}
			stack = append(stack, condFrame{parentActive: parent, active: parent && cond, taken: cond})

		case "elif":
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: #elif without #if", lineNo)
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				return "", fmt.Errorf("line %d: #elif after #else", lineNo)
			}
			if top.taken || !top.parentActive {
				top.active = false
				break
			}
			v, err := pp.evalCondition(rest)
			if err != nil {
				return "", fmt.Errorf("line %d: #elif: %w", lineNo, err)
			}
			top.active, top.taken = v, v

		case "else":
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: #else without #if", lineNo)
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				return "", fmt.Errorf("line %d: duplicate #else", lineNo)
			}
			top.sawElse = true
			top.active = top.parentActive && !top.taken
			top.taken = true

		case "endif":
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: #endif without #if", lineNo)
			}
			stack = stack[:len(stack)-1]

		default:
			if !active() {
				break
			}
			switch directive {
			case "define":
				if err := pp.define(rest); err != nil {
					return "", fmt.Errorf("line %d: %w", lineNo, err)
				}
			case "undef":
				delete(pp.defines, firstWord(rest))
			case "include":
				content, err := pp.include(rest, baseDir, visitedStack)
				if err != nil {
					return "", fmt.Errorf("line %d: %w", lineNo, err)
				}
				result.WriteString(content)
			case "error":
				return "", fmt.Errorf("line %d: #error %s", lineNo, rest)
			case "warning":
				pp.log.Warn("#warning in header", "line", lineNo, "message", rest)
			case "pragma", "line", "ident", "":
				// Included files are processed once regardless, so "#pragma once" needs nothing.
			default:
				pp.log.Debug("ignoring unknown directive", "line", lineNo, "directive", directive)
			}
		}
		result.WriteString("\n")
	}

	if len(stack) > 0 {
		return "", fmt.Errorf("unterminated conditional directive (%d open)", len(stack))
	}
	return result.String(), nil
}

// define parses the text after "#define".
// Expected format: NAME VALUE or NAME(ARGS) VALUE.
func (pp *Preprocessor) define(rest string) error {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return fmt.Errorf("#define without a name")
	}

	// Name ends at space or (.
	nameEnd := 0
	for nameEnd < len(rest) && isIdentPart(rune(rest[nameEnd])) {
		nameEnd++
	}
	name := rest[:nameEnd]
	if name == "" || !isIdentStart(rune(name[0])) {
		return fmt.Errorf("invalid macro name in #define %s", rest)
	}
	rest = rest[nameEnd:]

	var m Macro
	// Function-like only if '(' follows the name with no space.
	if len(rest) > 0 && rest[0] == '(' {
		closeParen := strings.Index(rest, ")")
		if closeParen == -1 {
			return fmt.Errorf("unterminated macro parameter list for %s", name)
		}
		m.FuncLike = true
		argStr := rest[1:closeParen]
		if strings.TrimSpace(argStr) != "" {
			for _, arg := range strings.Split(argStr, ",") {
				arg = strings.TrimSpace(arg)
				if arg == "..." {
					arg = "__VA_ARGS__"
				}
				m.Params = append(m.Params, arg)
			}
		}
		rest = rest[closeParen+1:]
	}
	m.Body = normalizeBody(rest)

	pp.defines[name] = m
	return nil
}

// include resolves and processes an #include directive, returning the expanded content.
func (pp *Preprocessor) include(rest string, baseDir string, visitedStack map[string]bool) (string, error) {
	var filename string
	angled := false
	switch {
	case strings.HasPrefix(rest, "\""):
		end := strings.Index(rest[1:], "\"")
		if end < 0 {
			return "", fmt.Errorf("invalid include directive: %s", rest)
		}
		filename = rest[1 : 1+end]
	case strings.HasPrefix(rest, "<"):
		end := strings.Index(rest, ">")
		if end < 0 {
			return "", fmt.Errorf("invalid include directive: %s", rest)
		}
		filename = rest[1:end]
		angled = true
	default:
		// Computed include: expand once and retry.
		expanded := strings.TrimSpace(pp.applyDefines(rest, nil))
		if expanded == rest || expanded == "" {
			return "", fmt.Errorf("invalid include directive: %s", rest)
		}
		return pp.include(expanded, baseDir, visitedStack)
	}

	fullPath, ok := pp.resolve(filename, baseDir, angled)
	if !ok {
		if angled {
			pp.log.Debug("system header not found, skipping", "header", filename)
			return "", nil
		}
		return "", fmt.Errorf("included file %s not found", filename)
	}

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}

	// Check for cycles in the current stack
	if visitedStack[absPath] {
		return "", fmt.Errorf("circular include detected: %s", filename)
	}

	// A file already processed on another branch of the include tree is skipped,
	// which also covers include guards and #pragma once.
	if pp.alreadyProcessed[absPath] {
		return "", nil
	}
	pp.alreadyProcessed[absPath] = true
	pp.files = append(pp.files, fullPath)

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read included file %s (path: %s): %w", filename, fullPath, err)
	}

	// Create a new stack copy for the recursive call to allow diamond dependencies
	newStack := make(map[string]bool, len(visitedStack)+1)
	for k, v := range visitedStack {
		newStack[k] = v
	}
	newStack[absPath] = true

	processed, err := pp.process(string(content), filepath.Dir(fullPath), newStack)
	if err != nil {
		return "", fmt.Errorf("%s: %w", filename, err)
	}
	return processed, nil
}

// resolve finds filename on disk. Quoted includes try the including file's
// directory first, then the include path, then the working directory.
func (pp *Preprocessor) resolve(filename, baseDir string, angled bool) (string, bool) {
	var candidates []string
	if filepath.IsAbs(filename) {
		candidates = append(candidates, filename)
	}
	if !angled {
		candidates = append(candidates, filepath.Join(baseDir, filename))
	}
	for _, dir := range pp.includeDirs {
		candidates = append(candidates, filepath.Join(dir, filename))
	}
	if !angled {
		candidates = append(candidates, filename)
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, true
		}
	}
	return "", false
}

// evalCondition evaluates the expression of #if or #elif.
func (pp *Preprocessor) evalCondition(expr string) (bool, error) {
	expanded := pp.applyDefines(replaceDefined(expr, pp.defines), nil)
	tokens, err := Lex(expanded)
	if err != nil {
		return false, err
	}
	p := newConditionParser(tokens, expanded)
	v, err := p.evalExpr()
	if err != nil {
		return false, err
	}
	if tok := p.peek(); tok.Type != EOF {
		return false, fmt.Errorf("unexpected %q after expression", tok.Lexeme)
	}
	return v != 0, nil
}

// applyDefines replaces macro invocations in input. It only replaces whole
// identifiers outside string/char literals and numbers. Macros in disabled
// are left alone, which stops self-referential expansion.
func (pp *Preprocessor) applyDefines(input string, disabled map[string]bool) string {
	if len(pp.defines) == 0 {
		return input
	}

	var sb strings.Builder
	n := len(input)
	i := 0

	for i < n {
		c := input[i]
		switch {
		case c == '"' || c == '\'':
			j := skipLiteral(input, i)
			sb.WriteString(input[i:j])
			i = j

		case c >= '0' && c <= '9':
			// pp-number: keeps suffixes like 10UL or 0x1F from being read as identifiers.
			j := i
			for j < n && (isIdentPart(rune(input[j])) || input[j] == '.') {
				j++
			}
			sb.WriteString(input[i:j])
			i = j

		case isIdentStart(rune(c)):
			start := i
			for i < n && isIdentPart(rune(input[i])) {
				i++
			}
			word := input[start:i]
			macro, ok := pp.defines[word]
			if !ok || disabled[word] {
				sb.WriteString(word)
				continue
			}
			if !macro.FuncLike {
				sb.WriteString(pp.applyDefines(macro.Body, with(disabled, word)))
				continue
			}
			// If not followed by '(', treat as normal identifier (don't expand)
			args, end, ok := collectArgs(input, i)
			if !ok {
				sb.WriteString(word)
				continue
			}
			body, ok := pp.substitute(macro, args, disabled)
			if !ok {
				sb.WriteString(input[start:end])
				i = end
				continue
			}
			sb.WriteString(pp.applyDefines(body, with(disabled, word)))
			i = end

		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// substitute replaces the parameters of macro in its body with args.
// Arguments are macro-expanded first unless they are operands of # or ##.
func (pp *Preprocessor) substitute(macro Macro, args []string, disabled map[string]bool) (string, bool) {
	params := macro.Params
	if len(params) == 0 && len(args) == 1 && args[0] == "" {
		args = nil
	}
	if n := len(params); n > 0 && params[n-1] == "__VA_ARGS__" {
		fixed := n - 1
		if len(args) < fixed {
			return "", false
		}
		va := strings.Join(args[fixed:], ", ")
		args = append(args[:fixed:fixed], va)
	} else if len(args) != len(params) {
		return "", false
	}

	raw := make(map[string]string, len(params))
	for k, p := range params {
		raw[p] = args[k]
	}
	expanded := make(map[string]string, len(params))
	expand := func(p string) string {
		if v, ok := expanded[p]; ok {
			return v
		}
		v := pp.applyDefines(raw[p], disabled)
		expanded[p] = v
		return v
	}

	body := macro.Body
	n := len(body)
	var out []byte
	i := 0
	for i < n {
		c := body[i]
		switch {
		case c == '"' || c == '\'':
			j := skipLiteral(body, i)
			out = append(out, body[i:j]...)
			i = j

		case c == '#' && i+1 < n && body[i+1] == '#':
			// Token pasting: glue the neighbours, operands are not expanded.
			out = []byte(strings.TrimRight(string(out), " \t"))
			i += 2
			for i < n && (body[i] == ' ' || body[i] == '\t') {
				i++
			}
			if i < n && isIdentStart(rune(body[i])) {
				j := i
				for j < n && isIdentPart(rune(body[j])) {
					j++
				}
				if v, ok := raw[body[i:j]]; ok {
					out = append(out, v...)
					i = j
				}
			}

		case c == '#':
			j := i + 1
			for j < n && (body[j] == ' ' || body[j] == '\t') {
				j++
			}
			k := j
			for k < n && isIdentPart(rune(body[k])) {
				k++
			}
			if v, ok := raw[body[j:k]]; ok && k > j {
				out = append(out, stringify(v)...)
				i = k
				continue
			}
			out = append(out, '#')
			i++

		case isIdentStart(rune(c)):
			j := i
			for j < n && isIdentPart(rune(body[j])) {
				j++
			}
			word := body[i:j]
			i = j
			if _, ok := raw[word]; !ok {
				out = append(out, word...)
				continue
			}
			if followedByPaste(body, j) {
				out = append(out, raw[word]...)
			} else {
				out = append(out, expand(word)...)
			}

		default:
			out = append(out, c)
			i++
		}
	}
	return string(out), true
}

func followedByPaste(s string, i int) bool {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i+1 < len(s) && s[i] == '#' && s[i+1] == '#'
}

func stringify(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return sb.String()
}

// collectArgs reads a parenthesised argument list starting at or after i.
// It returns the trimmed arguments and the index just past ')'.
func collectArgs(input string, i int) ([]string, int, bool) {
	n := len(input)
	j := i
	for j < n && (input[j] == ' ' || input[j] == '\t') {
		j++
	}
	if j >= n || input[j] != '(' {
		return nil, i, false
	}
	j++ // consume '('

	var args []string
	var current strings.Builder
	depth := 1
	for j < n && depth > 0 {
		c := input[j]
		switch {
		case c == '"' || c == '\'':
			k := skipLiteral(input, j)
			current.WriteString(input[j:k])
			j = k
			continue
		case c == '(':
			depth++
			current.WriteByte(c)
		case c == ')':
			depth--
			if depth > 0 {
				current.WriteByte(c)
			}
		case c == ',' && depth == 1:
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
		j++
	}
	if depth != 0 {
		return nil, i, false
	}
	args = append(args, strings.TrimSpace(current.String()))
	return args, j, true
}

func with(disabled map[string]bool, name string) map[string]bool {
	next := make(map[string]bool, len(disabled)+1)
	for k := range disabled {
		next[k] = true
	}
	next[name] = true
	return next
}

// skipLiteral returns the index just past the string or char literal at i.
func skipLiteral(s string, i int) int {
	quote := s[i]
	j := i + 1
	for j < len(s) {
		switch s[j] {
		case '\\':
			j += 2
			continue
		case quote:
			return j + 1
		}
		j++
	}
	return len(s)
}

// replaceDefined rewrites "defined X" and "defined(X)" into 1 or 0.
func replaceDefined(expr string, defines map[string]Macro) string {
	var sb strings.Builder
	n := len(expr)
	i := 0
	for i < n {
		if !isIdentStart(rune(expr[i])) {
			sb.WriteByte(expr[i])
			i++
			continue
		}
		start := i
		for i < n && isIdentPart(rune(expr[i])) {
			i++
		}
		if expr[start:i] != "defined" {
			sb.WriteString(expr[start:i])
			continue
		}
		j := i
		for j < n && (expr[j] == ' ' || expr[j] == '\t') {
			j++
		}
		paren := j < n && expr[j] == '('
		if paren {
			j++
			for j < n && (expr[j] == ' ' || expr[j] == '\t') {
				j++
			}
		}
		k := j
		for k < n && isIdentPart(rune(expr[k])) {
			k++
		}
		name := expr[j:k]
		if paren {
			for k < n && (expr[k] == ' ' || expr[k] == '\t') {
				k++
			}
			if k < n && expr[k] == ')' {
				k++
			}
		}
		if _, ok := defines[name]; ok {
			sb.WriteString(" 1 ")
		} else {
			sb.WriteString(" 0 ")
		}
		i = k
	}
	return sb.String()
}

// spliceLines joins backslash-continued lines. The result has as many
// entries as src has lines so line numbers stay stable.
func spliceLines(src string) []string {
	lines := strings.Split(src, "\n")
	out := make([]string, 0, len(lines))
	var pending strings.Builder
	held := 0
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasSuffix(line, "\\") {
			pending.WriteString(strings.TrimSuffix(line, "\\"))
			held++
			continue
		}
		pending.WriteString(line)
		out = append(out, pending.String())
		for ; held > 0; held-- {
			out = append(out, "")
		}
		pending.Reset()
	}
	if held > 0 {
		out = append(out, pending.String())
		for ; held > 1; held-- {
			out = append(out, "")
		}
	}
	return out
}

// stripComments replaces comments with a space, keeping newlines of block
// comments so line numbers survive.
func stripComments(src string) string {
	var sb strings.Builder
	n := len(src)
	i := 0
	for i < n {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			j := skipLiteral(src, i)
			if k := strings.IndexByte(src[i:j], '\n'); k >= 0 {
				// Unterminated on this line; copy just the quote.
				j = i + 1
			}
			sb.WriteString(src[i:j])
			i = j
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				i++
			}
			sb.WriteByte(' ')
		case c == '/' && i+1 < n && src[i+1] == '*':
			i += 2
			sb.WriteByte(' ')
			for i < n && !(src[i] == '*' && i+1 < n && src[i+1] == '/') {
				if src[i] == '\n' {
					sb.WriteByte('\n')
				}
				i++
			}
			i += 2
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// normalizeBody trims a replacement list and collapses whitespace runs
// outside literals into single spaces.
func normalizeBody(s string) string {
	s = strings.TrimSpace(s)
	var sb strings.Builder
	space := false
	n := len(s)
	for i := 0; i < n; {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == '\v' {
			space = true
			i++
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		if c == '"' || c == '\'' {
			j := skipLiteral(s, i)
			sb.WriteString(s[i:j])
			i = j
			continue
		}
		sb.WriteByte(c)
		i++
	}
	return sb.String()
}

// splitDirective returns the directive name and the trimmed rest of a "#..." line.
func splitDirective(trimmed string) (string, string) {
	body := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
	end := 0
	for end < len(body) && isIdentPart(rune(body[end])) {
		end++
	}
	return body[:end], strings.TrimSpace(body[end:])
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
