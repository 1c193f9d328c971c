// Package dwarfsrc is a front-end that reads struct, union and enum layouts
// from the DWARF debug information of an object file built with -g. Macros
// come from a separate `cc -dM -E` dump of the same unit, since object files
// only carry them with -g3.
package dwarfsrc

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"abiguard/pkg/abi"
	"abiguard/pkg/cheader"
)

// ErrNoUnit is returned when the object holds no compile unit by the requested name.
var ErrNoUnit = errors.New("compile unit not found")

// Options selects what Open reads.
type Options struct {
	// Unit picks the compile unit by base name; the first unit when empty.
	Unit string
	// MacroDump is the path of a `cc -dM -E` dump; no macros when empty.
	MacroDump string
	Log       *slog.Logger
}

// Object is one compile unit of an object file. It implements abi.Source.
type Object struct {
	unit   string
	decls  []abi.TypeDecl
	macros abi.MacroTable
}

var _ abi.Source = (*Object)(nil)

// Open reads the DWARF data of the ELF object at path.
func Open(path string, opts Options) (*Object, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer f.Close()

	data, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("%s: reading DWARF: %w", path, err)
	}
	obj, err := FromDWARF(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return obj, nil
}

// FromDWARF walks already loaded debug data.
func FromDWARF(data *dwarf.Data, opts Options) (*Object, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	w := &walker{data: data, log: log, seen: make(map[dwarf.Type]bool)}
	if err := w.walk(opts.Unit); err != nil {
		return nil, err
	}

	obj := &Object{unit: w.unit, decls: w.decls, macros: abi.MacroMap{}}
	if opts.MacroDump != "" {
		table, err := LoadMacroDump(opts.MacroDump, log)
		if err != nil {
			return nil, err
		}
		obj.macros = table
	}
	log.Debug("read DWARF unit", "unit", obj.unit, "declarations", len(obj.decls))
	return obj, nil
}

func (o *Object) Unit() string { return o.unit }

func (o *Object) Declarations() iter.Seq[abi.TypeDecl] { return slices.Values(o.decls) }

func (o *Object) Macros() abi.MacroTable { return o.macros }

type walker struct {
	data  *dwarf.Data
	log   *slog.Logger
	unit  string
	decls []abi.TypeDecl
	seen  map[dwarf.Type]bool
}

func (w *walker) walk(want string) error {
	r := w.data.Reader()
	found := false
	for {
		e, err := r.Next()
		if err != nil {
			return fmt.Errorf("reading DWARF entries: %w", err)
		}
		if e == nil {
			break
		}
		if e.Tag == dwarf.TagCompileUnit {
			name, _ := e.Val(dwarf.AttrName).(string)
			if found || (want != "" && filepath.Base(name) != filepath.Base(want)) {
				r.SkipChildren()
				continue
			}
			found = true
			w.unit = name
			continue
		}
		if !found {
			continue
		}
		switch e.Tag {
		case dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagEnumerationType, dwarf.TagTypedef:
			if err := w.entry(e); err != nil {
				return err
			}
		}
	}
	if !found {
		if want == "" {
			return ErrNoUnit
		}
		return fmt.Errorf("%w: %s", ErrNoUnit, want)
	}
	return nil
}

func (w *walker) entry(e *dwarf.Entry) error {
	t, err := w.data.Type(e.Offset)
	if err != nil {
		return fmt.Errorf("type at offset %#x: %w", e.Offset, err)
	}

	name := ""
	target := t
	if td, ok := t.(*dwarf.TypedefType); ok {
		// Only typedefs of anonymous bodies name a declaration.
		switch inner := td.Type.(type) {
		case *dwarf.StructType:
			if inner.StructName != "" {
				return nil
			}
		case *dwarf.EnumType:
			if inner.EnumName != "" {
				return nil
			}
		default:
			return nil
		}
		name, target = td.Name, td.Type
	}
	// Types are cached per offset, so a body reached twice is the same value.
	if w.seen[target] {
		return nil
	}

	switch tt := target.(type) {
	case *dwarf.StructType:
		if name == "" {
			name = tt.StructName
		}
		if name == "" {
			return nil
		}
		w.seen[target] = true
		w.decls = append(w.decls, w.record(name, tt))
	case *dwarf.EnumType:
		if name == "" {
			name = tt.EnumName
		}
		if name == "" {
			return nil
		}
		w.seen[target] = true
		w.decls = append(w.decls, enumDecl(name, tt))
	}
	return nil
}

func (w *walker) record(name string, st *dwarf.StructType) abi.TypeDecl {
	d := abi.TypeDecl{Kind: abi.DeclStruct, Name: name, Size: abi.Unresolved}
	if st.Kind == "union" {
		d.Kind = abi.DeclUnion
	}
	if st.Incomplete {
		return d
	}
	d.Size = st.ByteSize
	for i, f := range st.Field {
		size := sizeOf(f.Type)
		if i == len(st.Field)-1 && flexibleArray(f.Type) {
			size = abi.Unresolved
		}
		d.Fields = append(d.Fields, abi.FieldDecl{Name: f.Name, Offset: fieldOffset(f), Size: size})
	}
	return d
}

// flexibleArray reports an array with no elements. debug/dwarf rewrites an
// unbounded trailing array to Count 0, so both forms end up here.
func flexibleArray(t dwarf.Type) bool {
	for {
		switch tt := t.(type) {
		case *dwarf.TypedefType:
			t = tt.Type
		case *dwarf.QualType:
			t = tt.Type
		case *dwarf.ArrayType:
			return tt.Count <= 0
		default:
			return false
		}
	}
}

// fieldOffset is the byte holding the first bit of f.
func fieldOffset(f *dwarf.StructField) int64 {
	if f.BitSize == 0 {
		return f.ByteOffset
	}
	if f.ByteSize > 0 {
		// DWARF 2 style: BitOffset counts from the most significant bit
		// of a ByteSize storage unit at ByteOffset (little-endian targets).
		bit := f.ByteOffset*8 + f.ByteSize*8 - f.BitOffset - f.BitSize
		return bit / 8
	}
	return (f.ByteOffset*8 + f.DataBitOffset) / 8
}

// sizeOf reports abi.Unresolved for types with no size, including arrays
// without a bound.
func sizeOf(t dwarf.Type) int64 {
	for {
		switch tt := t.(type) {
		case *dwarf.TypedefType:
			t = tt.Type
			continue
		case *dwarf.QualType:
			t = tt.Type
			continue
		case *dwarf.ArrayType:
			if tt.Count < 0 {
				return abi.Unresolved
			}
		case *dwarf.StructType:
			if tt.Incomplete {
				return abi.Unresolved
			}
		case *dwarf.VoidType, *dwarf.FuncType:
			return abi.Unresolved
		}
		if s := t.Size(); s >= 0 {
			return s
		}
		return abi.Unresolved
	}
}

func enumDecl(name string, et *dwarf.EnumType) abi.TypeDecl {
	d := abi.TypeDecl{Kind: abi.DeclEnum, Name: name, Size: et.ByteSize}
	for _, v := range et.Val {
		d.Enumerators = append(d.Enumerators, abi.EnumeratorDecl{Name: v.Name, Value: abi.IntConst(v.Val)})
	}
	return d
}

// LoadMacroDump reads the output of `cc -dM -E`. Definitions are kept in
// the compiler's own "NAME body" form.
func LoadMacroDump(path string, log *slog.Logger) (*cheader.MacroTable, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading macro dump: %w", err)
	}
	pp := cheader.NewPreprocessor(cheader.PreprocessOptions{Log: log})
	if _, err := pp.Run(string(src), filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pp.Macros(), nil
}
