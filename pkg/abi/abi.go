// Package abi turns resolved type and macro descriptors from one translation
// unit into a deterministic file of compile-time ABI assertions.
//
// Pipeline: Source → Collector (AllowList, Extractor, Catalog) → Renderer → artifact text
//
// Front-ends (C headers, descriptor files, DWARF) live in sibling packages and
// only have to implement Source.
package abi

import "iter"

// Unresolved marks a size the front-end could not compute.
const Unresolved int64 = -1

// DeclKind discriminates the record types a front-end can report.
type DeclKind int

const (
	DeclStruct DeclKind = iota
	DeclUnion
	DeclEnum
)

var declKindNames = [...]string{
	DeclStruct: "struct",
	DeclUnion:  "union",
	DeclEnum:   "enum",
}

func (k DeclKind) String() string {
	if int(k) >= 0 && int(k) < len(declKindNames) {
		return declKindNames[k]
	}
	return "unknown"
}

// FieldDecl is one member of a struct-like declaration as the front-end laid it out.
type FieldDecl struct {
	Name   string
	Offset int64
	Size   int64 // Unresolved when the member type has no size
}

// ConstKind says what the front-end knows about an enumerator value.
type ConstKind int

const (
	ConstNone  ConstKind = iota // no value attached
	ConstInt                    // integer constant in Int
	ConstOther                  // something else, kept as Text for diagnostics
)

// ConstValue is an enumerator value as resolved by the front-end.
type ConstValue struct {
	Kind ConstKind
	Int  int64
	Text string
}

// IntConst is shorthand for an integer ConstValue.
func IntConst(v int64) ConstValue {
	return ConstValue{Kind: ConstInt, Int: v}
}

// EnumeratorDecl is one enumerator in declaration order.
type EnumeratorDecl struct {
	Name  string
	Value ConstValue
}

// TypeDecl is the payload of a "declaration finished" event.
//
//	struct Foo { int a; int b; };
//	  → TypeDecl{Kind: DeclStruct, Name: "Foo", Size: 8,
//	             Fields: [{a 0 4} {b 4 4}]}
type TypeDecl struct {
	Kind        DeclKind
	Name        string
	Size        int64 // Unresolved for incomplete types
	Fields      []FieldDecl
	Enumerators []EnumeratorDecl
}

// MacroTable exposes the macro definitions visible at the end of a unit.
// Definition returns the raw text in "NAME body" form.
type MacroTable interface {
	Names() []string
	Definition(name string) (string, bool)
}

// MacroMap is the simplest MacroTable.
type MacroMap map[string]string

func (m MacroMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

func (m MacroMap) Definition(name string) (string, bool) {
	def, ok := m[name]
	return def, ok
}

// Source is a translation unit as seen by a front-end.
type Source interface {
	// Unit is the translation unit identifier, usually the main file name.
	Unit() string
	// Declarations yields declaration-finished events in compilation order.
	Declarations() iter.Seq[TypeDecl]
	// Macros is only consulted once all declarations have been consumed.
	Macros() MacroTable
}
