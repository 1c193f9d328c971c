// Package wanted reads an X-macro allow-list header:
//
//	X_STRUCT(GspSystemInfo)
//	X_ENUM(NV_VGPU_MSG_FUNCTION)
//	X_MACRO(NV_VGPU_MSG_SIGNATURE_VALID)
//	X_MACRO_PREFIX(NV_VGPU_MSG_EVENT_)
//
// The same file can be included by C code with the X_ macros defined, so
// comments and preprocessor conditionals are honoured.
package wanted

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"abiguard/pkg/abi"
	"abiguard/pkg/cheader"
)

// List is the parsed content of an allow-list header.
type List struct {
	Structs  []string
	Enums    []string
	Macros   []string
	Prefixes []string
}

// Exact returns every exactly named entry regardless of kind.
func (l List) Exact() []string {
	out := make([]string, 0, len(l.Structs)+len(l.Enums)+len(l.Macros))
	out = append(out, l.Structs...)
	out = append(out, l.Enums...)
	return append(out, l.Macros...)
}

// AllowList builds the matcher for the list.
func (l List) AllowList() *abi.AllowList {
	return abi.NewAllowList(l.Exact(), l.Prefixes)
}

// Len is the number of entries of all kinds.
func (l List) Len() int {
	return len(l.Structs) + len(l.Enums) + len(l.Macros) + len(l.Prefixes)
}

// ParseHeader reads and parses the header at path.
func ParseHeader(path string, defines map[string]string) (List, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return List{}, fmt.Errorf("reading allow-list header: %w", err)
	}
	l, err := Parse(string(src), filepath.Dir(path), defines)
	if err != nil {
		return List{}, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse parses allow-list header text.
func Parse(src, baseDir string, defines map[string]string) (List, error) {
	pp := cheader.NewPreprocessor(cheader.PreprocessOptions{Defines: defines})
	text, err := pp.Run(src, baseDir)
	if err != nil {
		return List{}, err
	}
	toks, err := cheader.Lex(text)
	if err != nil {
		return List{}, err
	}

	var l List
	lines := strings.Split(text, "\n")
	for i := 0; toks[i].Type != cheader.EOF; {
		tok := toks[i]
		if tok.Type == cheader.SEMICOLON || tok.Type == cheader.COMMA {
			i++
			continue
		}
		if i+3 >= len(toks) ||
			tok.Type != cheader.IDENTIFIER ||
			toks[i+1].Type != cheader.LPAREN ||
			toks[i+2].Type != cheader.IDENTIFIER ||
			toks[i+3].Type != cheader.RPAREN {
			return List{}, lineError(lines, tok, "expected X_STRUCT(name), X_ENUM(name), X_MACRO(name) or X_MACRO_PREFIX(prefix), got %q", tok.Lexeme)
		}
		name := toks[i+2].Lexeme
		switch tok.Lexeme {
		case "X_STRUCT":
			l.Structs = append(l.Structs, name)
		case "X_ENUM":
			l.Enums = append(l.Enums, name)
		case "X_MACRO":
			l.Macros = append(l.Macros, name)
		case "X_MACRO_PREFIX":
			l.Prefixes = append(l.Prefixes, name)
		default:
			return List{}, lineError(lines, tok, "unknown entry kind %s", tok.Lexeme)
		}
		i += 4
	}
	return l, nil
}

func lineError(lines []string, tok cheader.Token, format string, args ...any) error {
	snippet := "<source unavailable>"
	if idx := tok.Line - 1; idx >= 0 && idx < len(lines) {
		snippet = strings.TrimSpace(lines[idx])
	}
	return fmt.Errorf("line %d: %s\n  |> %s", tok.Line, fmt.Sprintf(format, args...), snippet)
}
