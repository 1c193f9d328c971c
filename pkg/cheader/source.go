// Package cheader is a front-end that reads a C header the way a compiler
// would for layout purposes: it preprocesses it, parses every declaration,
// lays out structs and unions for a data model and keeps the final macro
// table.
//
// Pipeline: source → Preprocess → Lex → Parse (TypeTable, DataModel) → Unit
package cheader

import (
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"abiguard/pkg/abi"
)

// Config selects how a header is turned into a Unit.
type Config struct {
	IncludeDirs []string
	Defines     map[string]string
	Model       DataModel // zero value means LP64
	Log         *slog.Logger
}

// Unit is one parsed translation unit. It implements abi.Source.
type Unit struct {
	name   string
	decls  []abi.TypeDecl
	macros *MacroTable
	types  *TypeTable
	files  []string
}

var _ abi.Source = (*Unit)(nil)

// ParseFile reads and parses the header at path.
func ParseFile(path string, cfg Config) (*Unit, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseSource(path, string(src), filepath.Dir(path), cfg)
}

// ParseSource parses src as the unit called name. Quoted includes are
// resolved relative to baseDir first.
func ParseSource(name, src, baseDir string, cfg Config) (*Unit, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	model := cfg.Model
	if model.Name == "" {
		model = LP64
	}

	pp := NewPreprocessor(PreprocessOptions{
		IncludeDirs: cfg.IncludeDirs,
		Defines:     cfg.Defines,
		Log:         log,
	})
	text, err := pp.Run(src, baseDir)
	if err != nil {
		return nil, fmt.Errorf("preprocess %s: %w", name, err)
	}

	types := NewTypeTable()
	prelude := builtinTypedefs(model)
	toks, err := Lex(prelude)
	if err != nil {
		return nil, fmt.Errorf("builtin types: %w", err)
	}
	if _, err := Parse(toks, prelude, types, model, log); err != nil {
		return nil, fmt.Errorf("builtin types: %w", err)
	}

	toks, err = Lex(text)
	if err != nil {
		return nil, fmt.Errorf("lex %s: %w", name, err)
	}
	decls, err := Parse(toks, text, types, model, log)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	u := &Unit{
		name:   name,
		decls:  decls,
		macros: pp.Macros(),
		types:  types,
		files:  pp.Files(),
	}
	log.Debug("parsed header",
		"unit", name,
		"model", model.Name,
		"declarations", len(decls),
		"macros", len(u.macros.defs),
		"includes", len(u.files))
	return u, nil
}

func (u *Unit) Unit() string { return u.name }

func (u *Unit) Declarations() iter.Seq[abi.TypeDecl] { return slices.Values(u.decls) }

func (u *Unit) Macros() abi.MacroTable { return u.macros }

// Types exposes the typedefs, tags and constants seen in the unit.
func (u *Unit) Types() *TypeTable { return u.types }

// Files lists the headers pulled in by #include.
func (u *Unit) Files() []string { return append([]string(nil), u.files...) }
