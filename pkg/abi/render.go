package abi

import (
	"bufio"
	"fmt"
	"io"
)

// DefaultPreamble is written ahead of the assertions unless the caller
// supplies its own. It defines every ABI_CHECK_* form the renderer emits.
const DefaultPreamble = `//
// This file enforces partial ABI stability between firmware and driver.
//
// If you are hitting one of the asserts here, your change breaks the ABI
// between the two sides in a way that will break independently built drivers.
//
// This file was generated automatically by abiguard. Regenerate it rather
// than editing the assertions by hand.
//

#include <assert.h>
#include <stddef.h>

#define ct_assert(expr) static_assert(expr, #expr)
#define ABI_CHECK_SIZE_EQ(str, size)                 ct_assert(sizeof(str) == size)
#define ABI_CHECK_SIZE_GE(str, size)                 ct_assert(sizeof(str) >= size)
#define ABI_CHECK_ENUM_VAL_EQ(enumname, name, value) ct_assert(name == value)
#define ABI_CHECK_ENUM_VAL_GE(enumname, name, value) ct_assert(name >= value)
#define ABI_CHECK_OFFSET(str, fld, offset)           ct_assert(offsetof(str, fld) == offset)
#define ABI_CHECK_FIELD(str, fld, offset, size)      \
    ABI_CHECK_OFFSET(str, fld, offset);              \
    ABI_CHECK_SIZE_EQ((((str*)0)->fld), size)
#define ABI_CHECK_FIELD_FLEXIBLE(str, fld, offset)   \
    ABI_CHECK_OFFSET(str, fld, offset);              \
    ct_assert(offset <= sizeof(str))
`

const (
	growableStructNote = "// Appending to the end of the struct is okay."
	growableEnumNote   = "// Appending to the end of this enum is okay."
)

// Renderer turns a Catalog into assertion text.
type Renderer struct {
	policy *Policy
}

func NewRenderer(policy *Policy) *Renderer {
	return &Renderer{policy: policy}
}

// Render writes one block per cataloged symbol in Catalog.Names order.
// The same catalog always produces the same bytes.
func (r *Renderer) Render(w io.Writer, c *Catalog) error {
	bw := bufio.NewWriter(w)
	for _, name := range c.Names() {
		sym, _ := c.Get(name)
		if err := r.renderSymbol(bw, sym); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// RenderSymbol writes the block for a single symbol.
func (r *Renderer) RenderSymbol(w io.Writer, sym Symbol) error {
	bw := bufio.NewWriter(w)
	if err := r.renderSymbol(bw, sym); err != nil {
		return err
	}
	return bw.Flush()
}

func (r *Renderer) renderSymbol(w *bufio.Writer, sym Symbol) error {
	switch s := sym.(type) {
	case *Struct:
		return r.renderStruct(w, s)
	case *Enum:
		return r.renderEnum(w, s)
	case *Macro:
		// Redefinition is accepted downstream only if the text is identical.
		fmt.Fprintf(w, "#define %s %s\n", s.Head, s.Value)
		return nil
	default:
		return fmt.Errorf("render: unsupported symbol %T", sym)
	}
}

func (r *Renderer) renderStruct(w *bufio.Writer, s *Struct) error {
	growable, err := r.policy.GrowableStruct(s.Name)
	if err != nil {
		return fmt.Errorf("render struct %s: %w", s.Name, err)
	}

	w.WriteString("\n")
	if growable {
		fmt.Fprintf(w, "%s\nABI_CHECK_SIZE_GE(%s, %d);\n", growableStructNote, s.Name, s.Size)
	} else {
		fmt.Fprintf(w, "ABI_CHECK_SIZE_EQ(%s, %d);\n", s.Name, s.Size)
	}
	for i, f := range s.Fields {
		switch {
		case f.Size >= 0:
			fmt.Fprintf(w, "ABI_CHECK_FIELD(%s, %s, %d, %d);\n", s.Name, f.Name, f.Offset, f.Size)
		case i == len(s.Fields)-1:
			fmt.Fprintf(w, "ABI_CHECK_FIELD_FLEXIBLE(%s, %s, %d);\n", s.Name, f.Name, f.Offset)
		default:
			// Size unknown mid-struct: the offset is all that can be pinned.
			fmt.Fprintf(w, "ABI_CHECK_OFFSET(%s, %s, %d);\n", s.Name, f.Name, f.Offset)
		}
	}
	w.WriteString("\n")
	return nil
}

func (r *Renderer) renderEnum(w *bufio.Writer, e *Enum) error {
	growable, err := r.policy.GrowableEnum(e.Name)
	if err != nil {
		return fmt.Errorf("render enum %s: %w", e.Name, err)
	}

	w.WriteString("\n")
	for i, m := range e.Members {
		if growable && i == len(e.Members)-1 {
			fmt.Fprintf(w, "%s\nABI_CHECK_ENUM_VAL_GE(%s, %s, %d);\n", growableEnumNote, e.Name, m.Name, m.Value)
			continue
		}
		fmt.Fprintf(w, "ABI_CHECK_ENUM_VAL_EQ(%s, %s, %d);\n", e.Name, m.Name, m.Value)
	}
	w.WriteString("\n\n")
	return nil
}
