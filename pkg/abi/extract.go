package abi

import (
	"log/slog"
	"strings"
)

// Extractor normalises front-end descriptors into Symbols.
// Problems with individual members are logged and never returned as errors.
type Extractor struct {
	log      *slog.Logger
	warnings int
}

// NewExtractor returns an Extractor that reports warnings to log (slog.Default when nil).
func NewExtractor(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{log: log}
}

// Warnings is the number of warnings emitted so far.
func (x *Extractor) Warnings() int { return x.warnings }

func (x *Extractor) warn(msg string, args ...any) {
	x.warnings++
	x.log.Warn(msg, args...)
}

// ExtractType converts a struct or enum descriptor.
// Anonymous types, unions and structs without a computable size yield false.
func (x *Extractor) ExtractType(d TypeDecl) (Symbol, bool) {
	if d.Name == "" {
		return nil, false
	}
	switch d.Kind {
	case DeclStruct:
		return x.extractStruct(d)
	case DeclEnum:
		return x.extractEnum(d), true
	default:
		return nil, false
	}
}

func (x *Extractor) extractStruct(d TypeDecl) (Symbol, bool) {
	if d.Size < 0 {
		return nil, false
	}
	s := &Struct{Name: d.Name, Size: d.Size}

	// The flexible-tail exemption applies to the last named field.
	last := -1
	for i, f := range d.Fields {
		if f.Name != "" {
			last = i
		}
	}

	for i, f := range d.Fields {
		if f.Name == "" {
			continue
		}
		size := f.Size
		if size < 0 {
			size = Unresolved
			if i != last {
				x.warn("failed to get size of struct field", "symbol", d.Name, "field", f.Name)
			}
		}
		s.Fields = append(s.Fields, Field{Name: f.Name, Offset: f.Offset, Size: size})
	}
	return s, true
}

func (x *Extractor) extractEnum(d TypeDecl) Symbol {
	e := &Enum{Name: d.Name}
	for _, m := range d.Enumerators {
		switch m.Value.Kind {
		case ConstInt:
			e.Members = append(e.Members, Enumerator{Name: m.Name, Value: m.Value.Int})
		case ConstNone:
			x.warn("no value for enumerator", "symbol", d.Name, "enumerator", m.Name)
		default:
			x.warn("enumerator is not an integer", "symbol", d.Name, "enumerator", m.Name, "value", m.Value.Text)
		}
	}
	return e
}

// ExtractMacro splits a raw "NAME body" definition at its first space.
// A definition without a space has no value and is not extracted.
func (x *Extractor) ExtractMacro(name, definition string) (Symbol, bool) {
	head, value, ok := strings.Cut(definition, " ")
	if !ok {
		return nil, false
	}
	return &Macro{
		Name:  name,
		Head:  head,
		Value: strings.TrimLeft(value, " "),
	}, true
}
