package abi

import "fmt"

// Kind names the variant of a cataloged Symbol.
type Kind int

const (
	KindStruct Kind = iota
	KindEnum
	KindMacro
)

var kindNames = [...]string{
	KindStruct: "struct",
	KindEnum:   "enum",
	KindMacro:  "macro",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Symbol is implemented by *Struct, *Enum and *Macro only.
// Consumers type-switch over the three variants.
type Symbol interface {
	symbolNode()
	SymbolName() string
	Kind() Kind
}

// Field is one named struct member.
type Field struct {
	Name   string
	Offset int64
	Size   int64 // Unresolved for an unsizable member
}

// Struct records the layout of a struct-like type.
//
//	struct Foo { int a; int b; };
//	  → Struct{Name: "Foo", Size: 8, Fields: [{a 0 4} {b 4 4}]}
type Struct struct {
	Name   string
	Size   int64
	Fields []Field
}

func (*Struct) symbolNode()          {}
func (s *Struct) SymbolName() string { return s.Name }
func (*Struct) Kind() Kind           { return KindStruct }
func (s *Struct) String() string {
	return fmt.Sprintf("Struct(%s, size=%d, fields=%v)", s.Name, s.Size, s.Fields)
}

// Enumerator is one integer-valued member of an enum.
type Enumerator struct {
	Name  string
	Value int64
}

// Enum records the enumerator values of an enum type in declaration order.
type Enum struct {
	Name    string
	Members []Enumerator
}

func (*Enum) symbolNode()          {}
func (e *Enum) SymbolName() string { return e.Name }
func (*Enum) Kind() Kind           { return KindEnum }
func (e *Enum) String() string {
	return fmt.Sprintf("Enum(%s, members=%v)", e.Name, e.Members)
}

// Macro is a macro definition kept verbatim.
//
//	#define FOO 1+2      → Macro{Name: "FOO", Head: "FOO", Value: "1+2"}
//	#define MAX(a, b) …  → Head is "MAX(a,", Value is "b) …"
//
// Head and Value rejoined with one space reproduce the definition text.
type Macro struct {
	Name  string
	Head  string
	Value string
}

func (*Macro) symbolNode()          {}
func (m *Macro) SymbolName() string { return m.Name }
func (*Macro) Kind() Kind           { return KindMacro }
func (m *Macro) String() string {
	return fmt.Sprintf("Macro(%s %s)", m.Head, m.Value)
}
