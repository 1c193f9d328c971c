package cheader

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"abiguard/pkg/abi"
)

// TypeKind classifies a C type.
type TypeKind int

const (
	TypeVoid TypeKind = iota
	TypeBool
	TypeChar
	TypeShort
	TypeInt
	TypeLong
	TypeLongLong
	TypeFloat
	TypeDouble
	TypeLongDouble
	TypePointer
	TypeArray
	TypeRecord // struct or union
	TypeEnum
	TypeFunc
)

// CType is a resolved C type.
type CType struct {
	Kind     TypeKind
	Unsigned bool
	Elem     *CType // pointee, array element or function result
	Len      int64  // array length; Unresolved for []
	Record   *Record
	Enum     *EnumDef
}

// Record is a struct or union body. All references to one tag share the
// same Record so completing it later updates every user.
type Record struct {
	Kind     abi.DeclKind
	Name     string
	Members  []Member
	Size     int64
	Align    int64
	Complete bool
	Packed   bool
	Aligned  int64 // from __attribute__((aligned(n))), 0 if absent

	defined bool // body seen, even if layout failed
	emitted bool
}

// unknownLen marks an array bound that could not be evaluated, as opposed
// to the abi.Unresolved bound of a flexible array member.
const unknownLen int64 = -2

// Member is a laid-out struct or union member.
type Member struct {
	Name     string
	Type     *CType
	Offset   int64 // bytes; for bit-fields the byte holding the first bit
	Aligned  int64
	BitField bool
	BitWidth int64
	BitPos   int64 // bit offset from the start of the record
}

// EnumDef is an enum body.
type EnumDef struct {
	Name        string
	Enumerators []abi.EnumeratorDecl
	Complete    bool

	emitted bool
}

// DataModel fixes the sizes of the scalar types.
type DataModel struct {
	Name       string
	Short      int64
	Int        int64
	Long       int64
	LongLong   int64
	Pointer    int64
	LongDouble int64
	MaxAlign   int64 // alignment of long double
}

var (
	LP64  = DataModel{Name: "lp64", Short: 2, Int: 4, Long: 8, LongLong: 8, Pointer: 8, LongDouble: 16, MaxAlign: 16}
	ILP32 = DataModel{Name: "ilp32", Short: 2, Int: 4, Long: 4, LongLong: 8, Pointer: 4, LongDouble: 12, MaxAlign: 4}
	LLP64 = DataModel{Name: "llp64", Short: 2, Int: 4, Long: 4, LongLong: 8, Pointer: 8, LongDouble: 8, MaxAlign: 8}
)

// ModelByName returns the data model called name, defaulting to LP64 for "".
func ModelByName(name string) (DataModel, error) {
	switch strings.ToLower(name) {
	case "", "lp64":
		return LP64, nil
	case "ilp32":
		return ILP32, nil
	case "llp64":
		return LLP64, nil
	}
	return DataModel{}, fmt.Errorf("unknown data model %q", name)
}

// SizeOf returns the size of t in bytes or abi.Unresolved.
func (dm DataModel) SizeOf(t *CType) int64 {
	if t == nil {
		return abi.Unresolved
	}
	switch t.Kind {
	case TypeVoid, TypeFunc:
		return abi.Unresolved
	case TypeBool, TypeChar:
		return 1
	case TypeShort:
		return dm.Short
	case TypeInt:
		return dm.Int
	case TypeLong:
		return dm.Long
	case TypeLongLong:
		return dm.LongLong
	case TypeFloat:
		return 4
	case TypeDouble:
		return 8
	case TypeLongDouble:
		return dm.LongDouble
	case TypePointer:
		return dm.Pointer
	case TypeArray:
		if t.Len < 0 {
			return abi.Unresolved
		}
		elem := dm.SizeOf(t.Elem)
		if elem < 0 {
			return abi.Unresolved
		}
		return elem * t.Len
	case TypeRecord:
		if t.Record == nil || !t.Record.Complete {
			return abi.Unresolved
		}
		return t.Record.Size
	case TypeEnum:
		if t.Enum == nil || !t.Enum.Complete {
			return abi.Unresolved
		}
		return enumSize(t.Enum)
	}
	return abi.Unresolved
}

// AlignOf returns the natural alignment of t, or 0 if it has none.
func (dm DataModel) AlignOf(t *CType) int64 {
	if t == nil {
		return 0
	}
	switch t.Kind {
	case TypeArray:
		return dm.AlignOf(t.Elem)
	case TypeRecord:
		if t.Record == nil || !t.Record.Complete {
			return 0
		}
		return t.Record.Align
	case TypeLongLong, TypeDouble:
		if dm.Name == "ilp32" {
			return 4
		}
		return 8
	case TypeLongDouble:
		return dm.MaxAlign
	}
	return dm.SizeOf(t)
}

func enumSize(e *EnumDef) int64 {
	for _, en := range e.Enumerators {
		if en.Value.Kind != abi.ConstInt {
			continue
		}
		if en.Value.Int < math.MinInt32 || en.Value.Int > math.MaxUint32 {
			return 8
		}
	}
	return 4
}

func alignUp(v, a int64) int64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

// layout assigns member offsets and the record size and alignment.
// A member with no size leaves the record incomplete, except a trailing
// flexible array.
func (dm DataModel) layout(r *Record) {
	var bits int64
	var align int64 = 1
	complete := true

	for i := range r.Members {
		m := &r.Members[i]
		size := dm.SizeOf(m.Type)
		al := dm.AlignOf(m.Type)
		if r.Packed {
			al = 1
		}
		if m.Aligned > al {
			al = m.Aligned
		}
		if al < 1 {
			al = 1
		}

		if r.Kind == abi.DeclUnion {
			m.Offset = 0
			if size < 0 {
				complete = false
				continue
			}
			if size*8 > bits {
				bits = size * 8
			}
			if m.BitField && m.BitWidth > bits {
				bits = m.BitWidth
			}
			if m.Name != "" || !m.BitField {
				align = max(align, al)
			}
			continue
		}

		if m.BitField {
			if size < 0 {
				complete = false
				break
			}
			unit := size * 8
			switch {
			case m.BitWidth == 0:
				bits = alignUp(bits, unit)
			case !r.Packed && bits%unit+m.BitWidth > unit:
				bits = alignUp(bits, unit)
			}
			m.BitPos = bits
			m.Offset = bits / 8
			bits += m.BitWidth
			if m.Name != "" {
				align = max(align, al)
			}
			continue
		}

		bits = alignUp(bits, al*8)
		m.Offset = bits / 8
		m.BitPos = bits
		if size < 0 {
			flexible := m.Type.Kind == TypeArray && m.Type.Len == abi.Unresolved && i == len(r.Members)-1
			if !flexible {
				complete = false
				break
			}
			align = max(align, al)
			continue
		}
		bits += size * 8
		align = max(align, al)
	}

	if r.Aligned > align {
		align = r.Aligned
	}
	r.Align = align
	if !complete {
		r.Size = abi.Unresolved
		r.Complete = false
		return
	}
	r.Size = alignUp((bits+7)/8, align)
	r.Complete = true
}

// Decl converts a laid-out record into the event payload.
func (r *Record) Decl(dm DataModel) abi.TypeDecl {
	d := abi.TypeDecl{Kind: r.Kind, Name: r.Name, Size: r.Size}
	if !r.Complete {
		d.Size = abi.Unresolved
	}
	for _, m := range r.Members {
		d.Fields = append(d.Fields, abi.FieldDecl{Name: m.Name, Offset: m.Offset, Size: dm.SizeOf(m.Type)})
	}
	return d
}

// Decl converts an enum body into the event payload.
func (e *EnumDef) Decl() abi.TypeDecl {
	return abi.TypeDecl{
		Kind:        abi.DeclEnum,
		Name:        e.Name,
		Size:        enumSize(e),
		Enumerators: append([]abi.EnumeratorDecl(nil), e.Enumerators...),
	}
}

// TypeTable holds the file-scope names a header declares: typedefs,
// struct/union/enum tags and enumerator constants.
type TypeTable struct {
	typedefs map[string]*CType
	tags     map[string]*CType
	consts   map[string]int64
}

func NewTypeTable() *TypeTable {
	return &TypeTable{
		typedefs: make(map[string]*CType),
		tags:     make(map[string]*CType),
		consts:   make(map[string]int64),
	}
}

func (s *TypeTable) DefineTypedef(name string, t *CType) {
	s.typedefs[name] = t
}

func (s *TypeTable) Typedef(name string) (*CType, bool) {
	t, ok := s.typedefs[name]
	return t, ok
}

func (s *TypeTable) DefineTag(name string, t *CType) {
	s.tags[name] = t
}

func (s *TypeTable) Tag(name string) (*CType, bool) {
	t, ok := s.tags[name]
	return t, ok
}

func (s *TypeTable) DefineConst(name string, v int64) {
	s.consts[name] = v
}

func (s *TypeTable) Const(name string) (int64, bool) {
	v, ok := s.consts[name]
	return v, ok
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns a deterministically ordered dump of the table.
func (s *TypeTable) String() string {
	var sb strings.Builder
	if len(s.tags) > 0 {
		sb.WriteString("Tags:\n")
		for _, name := range sortedKeys(s.tags) {
			fmt.Fprintf(&sb, "  %-20s  %s\n", name, typeString(s.tags[name]))
		}
	} else {
		sb.WriteString("Tags: (empty)\n")
	}
	if len(s.typedefs) > 0 {
		sb.WriteString("Typedefs:\n")
		for _, name := range sortedKeys(s.typedefs) {
			fmt.Fprintf(&sb, "  %-20s  %s\n", name, typeString(s.typedefs[name]))
		}
	}
	if len(s.consts) > 0 {
		sb.WriteString("Constants:\n")
		for _, name := range sortedKeys(s.consts) {
			fmt.Fprintf(&sb, "  %-20s  %d\n", name, s.consts[name])
		}
	}
	return sb.String()
}

var scalarNames = map[TypeKind]string{
	TypeVoid:       "void",
	TypeBool:       "_Bool",
	TypeChar:       "char",
	TypeShort:      "short",
	TypeInt:        "int",
	TypeLong:       "long",
	TypeLongLong:   "long long",
	TypeFloat:      "float",
	TypeDouble:     "double",
	TypeLongDouble: "long double",
}

func typeString(t *CType) string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypePointer:
		return typeString(t.Elem) + " *"
	case TypeArray:
		if t.Len < 0 {
			return typeString(t.Elem) + " []"
		}
		return fmt.Sprintf("%s [%d]", typeString(t.Elem), t.Len)
	case TypeFunc:
		return typeString(t.Elem) + " ()"
	case TypeRecord:
		name := t.Record.Name
		if name == "" {
			name = "<anonymous>"
		}
		if !t.Record.Complete {
			return fmt.Sprintf("%s %s (incomplete)", t.Record.Kind, name)
		}
		return fmt.Sprintf("%s %s (Size: %d, Align: %d)", t.Record.Kind, name, t.Record.Size, t.Record.Align)
	case TypeEnum:
		name := t.Enum.Name
		if name == "" {
			name = "<anonymous>"
		}
		return "enum " + name
	}
	s := scalarNames[t.Kind]
	if t.Unsigned {
		s = "unsigned " + s
	}
	return s
}

// builtinTypedefs declares the fixed-width and size types a header would
// normally pull from <stdint.h> and <stddef.h>, sized for dm.
func builtinTypedefs(dm DataModel) string {
	int64Base := "long long"
	if dm.Long == 8 {
		int64Base = "long"
	}
	ptrBase := "long"
	if dm.Long != dm.Pointer {
		ptrBase = "long long"
	}
	var sb strings.Builder
	for _, def := range []struct{ base, name string }{
		{"signed char", "int8_t"},
		{"unsigned char", "uint8_t"},
		{"short", "int16_t"},
		{"unsigned short", "uint16_t"},
		{"int", "int32_t"},
		{"unsigned int", "uint32_t"},
		{int64Base, "int64_t"},
		{"unsigned " + int64Base, "uint64_t"},
		{ptrBase, "intptr_t"},
		{"unsigned " + ptrBase, "uintptr_t"},
		{ptrBase, "ptrdiff_t"},
		{ptrBase, "ssize_t"},
		{"unsigned " + ptrBase, "size_t"},
		{"_Bool", "bool"},
		{"int", "wchar_t"},
	} {
		fmt.Fprintf(&sb, "typedef %s %s;\n", def.base, def.name)
	}
	return sb.String()
}
