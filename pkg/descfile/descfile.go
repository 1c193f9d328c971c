// Package descfile is a front-end that reads declaration descriptors from a
// YAML (or JSON) stream, for toolchains that already know their layouts:
//
//	unit: gsp_abi_check.c
//	declarations:
//	  - kind: struct
//	    name: Foo
//	    size: 16
//	    fields:
//	      - {name: a, offset: 0, size: 4}
//	  - kind: enum
//	    name: Bar
//	    enumerators:
//	      - {name: X, value: 1}
//	macros:
//	  FOO: FOO 1+2
//
// Several documents in one stream describe the same unit; declarations are
// concatenated in order and later macro definitions replace earlier ones.
package descfile

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"abiguard/pkg/abi"
)

// Document is one YAML document of a descriptor stream.
type Document struct {
	Unit         string            `yaml:"unit,omitempty" json:"unit,omitempty"`
	Declarations []Declaration     `yaml:"declarations,omitempty" json:"declarations,omitempty"`
	Macros       map[string]string `yaml:"macros,omitempty" json:"macros,omitempty"`
}

// Declaration describes a struct, union or enum. A missing size means the
// front-end could not compute one.
type Declaration struct {
	Kind        string       `yaml:"kind" json:"kind"` // "struct" | "union" | "enum"
	Name        string       `yaml:"name" json:"name"`
	Size        *int64       `yaml:"size,omitempty" json:"size,omitempty"`
	Fields      []Field      `yaml:"fields,omitempty" json:"fields,omitempty"`
	Enumerators []Enumerator `yaml:"enumerators,omitempty" json:"enumerators,omitempty"`
}

type Field struct {
	Name   string `yaml:"name" json:"name"`
	Offset int64  `yaml:"offset" json:"offset"`
	Size   *int64 `yaml:"size,omitempty" json:"size,omitempty"`
}

// Enumerator keeps its value as a raw node: an integer scalar is an integer
// constant, anything else is carried as text. A zero node means no value.
type Enumerator struct {
	Name  string    `yaml:"name" json:"name"`
	Value yaml.Node `yaml:"value,omitempty" json:"-"`
}

// File is a decoded descriptor stream. It implements abi.Source.
type File struct {
	unit   string
	decls  []abi.TypeDecl
	macros abi.MacroMap
}

var _ abi.Source = (*File)(nil)

// Load reads the descriptor stream at path. The unit defaults to the
// file name when no document names one.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open descriptors: %w", err)
	}
	defer f.Close()
	return Decode(f, path)
}

// Decode reads a descriptor stream from r.
func Decode(r io.Reader, name string) (*File, error) {
	out := &File{unit: name, macros: abi.MacroMap{}}
	dec := yaml.NewDecoder(r)
	for n := 1; ; n++ {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: document %d: %w", name, n, err)
		}
		if doc.Unit != "" {
			out.unit = doc.Unit
		}
		for i, d := range doc.Declarations {
			td, err := d.decl()
			if err != nil {
				return nil, fmt.Errorf("%s: document %d: declaration %d: %w", name, n, i, err)
			}
			out.decls = append(out.decls, td)
		}
		for k, v := range doc.Macros {
			out.macros[k] = v
		}
	}
	return out, nil
}

func (d Declaration) decl() (abi.TypeDecl, error) {
	td := abi.TypeDecl{Name: d.Name, Size: sizeOrUnresolved(d.Size)}
	switch d.Kind {
	case "struct":
		td.Kind = abi.DeclStruct
	case "union":
		td.Kind = abi.DeclUnion
	case "enum":
		td.Kind = abi.DeclEnum
	default:
		return td, fmt.Errorf("unknown kind %q", d.Kind)
	}
	for _, f := range d.Fields {
		td.Fields = append(td.Fields, abi.FieldDecl{Name: f.Name, Offset: f.Offset, Size: sizeOrUnresolved(f.Size)})
	}
	for _, e := range d.Enumerators {
		td.Enumerators = append(td.Enumerators, abi.EnumeratorDecl{Name: e.Name, Value: constValue(e.Value)})
	}
	return td, nil
}

func sizeOrUnresolved(p *int64) int64 {
	if p == nil {
		return abi.Unresolved
	}
	return *p
}

func constValue(n yaml.Node) abi.ConstValue {
	if n.Kind == 0 || n.ShortTag() == "!!null" {
		return abi.ConstValue{Kind: abi.ConstNone}
	}
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!int" {
		if v, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
			return abi.IntConst(v)
		}
	}
	return abi.ConstValue{Kind: abi.ConstOther, Text: n.Value}
}

func (f *File) Unit() string { return f.unit }

func (f *File) Declarations() iter.Seq[abi.TypeDecl] { return slices.Values(f.decls) }

func (f *File) Macros() abi.MacroTable { return f.macros }

// FromSource captures everything src reports as a descriptor document.
// Declarations without a name are dropped; they cannot be referred to.
func FromSource(src abi.Source) Document {
	doc := Document{Unit: src.Unit()}
	for d := range src.Declarations() {
		if d.Name == "" {
			continue
		}
		doc.Declarations = append(doc.Declarations, fromDecl(d))
	}
	macros := src.Macros()
	if macros == nil {
		return doc
	}
	names := macros.Names()
	slices.Sort(names)
	for _, name := range names {
		if def, ok := macros.Definition(name); ok {
			if doc.Macros == nil {
				doc.Macros = make(map[string]string)
			}
			doc.Macros[name] = def
		}
	}
	return doc
}

func fromDecl(d abi.TypeDecl) Declaration {
	out := Declaration{Kind: d.Kind.String(), Name: d.Name, Size: sizePtr(d.Size)}
	for _, f := range d.Fields {
		out.Fields = append(out.Fields, Field{Name: f.Name, Offset: f.Offset, Size: sizePtr(f.Size)})
	}
	for _, e := range d.Enumerators {
		out.Enumerators = append(out.Enumerators, Enumerator{Name: e.Name, Value: valueNode(e.Value)})
	}
	return out
}

func sizePtr(v int64) *int64 {
	if v < 0 {
		return nil
	}
	return &v
}

func valueNode(v abi.ConstValue) yaml.Node {
	switch v.Kind {
	case abi.ConstInt:
		return yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.Int, 10)}
	case abi.ConstOther:
		return yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Text}
	}
	return yaml.Node{}
}

// Encode writes doc as a single YAML document.
func Encode(w io.Writer, doc Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode descriptors: %w", err)
	}
	return enc.Close()
}
