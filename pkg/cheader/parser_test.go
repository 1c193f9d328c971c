package cheader

import (
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abiguard/pkg/abi"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseHeader(t *testing.T, src string, model DataModel) []abi.TypeDecl {
	t.Helper()
	u, err := ParseSource("test.h", src, t.TempDir(), Config{Model: model, Log: quietLog()})
	require.NoError(t, err)
	return slices.Collect(u.Declarations())
}

func declNamed(t *testing.T, decls []abi.TypeDecl, name string) abi.TypeDecl {
	t.Helper()
	for _, d := range decls {
		if d.Name == name {
			return d
		}
	}
	require.Failf(t, "declaration not found", "%s in %v", name, decls)
	return abi.TypeDecl{}
}

func TestLayout(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		decl   string
		size   int64
		fields []abi.FieldDecl
	}{
		{
			name:   "NaturalAlignment",
			src:    "struct Foo { char a; int b; short c; long d; };",
			decl:   "Foo",
			size:   24,
			fields: []abi.FieldDecl{{Name: "a", Offset: 0, Size: 1}, {Name: "b", Offset: 4, Size: 4}, {Name: "c", Offset: 8, Size: 2}, {Name: "d", Offset: 16, Size: 8}},
		},
		{
			name:   "Packed",
			src:    "struct __attribute__((packed)) P { char a; int b; };",
			decl:   "P",
			size:   5,
			fields: []abi.FieldDecl{{Name: "a", Offset: 0, Size: 1}, {Name: "b", Offset: 1, Size: 4}},
		},
		{
			name:   "AlignedRecord",
			src:    "struct A { char c; } __attribute__((aligned(8)));",
			decl:   "A",
			size:   8,
			fields: []abi.FieldDecl{{Name: "c", Offset: 0, Size: 1}},
		},
		{
			name:   "BitFields",
			src:    "struct B { unsigned int a : 3; unsigned int b : 30; unsigned char c; };",
			decl:   "B",
			size:   12,
			fields: []abi.FieldDecl{{Name: "a", Offset: 0, Size: 4}, {Name: "b", Offset: 4, Size: 4}, {Name: "c", Offset: 8, Size: 1}},
		},
		{
			name:   "FlexibleArray",
			src:    "struct Msg { unsigned int len; unsigned char data[]; };",
			decl:   "Msg",
			size:   4,
			fields: []abi.FieldDecl{{Name: "len", Offset: 0, Size: 4}, {Name: "data", Offset: 4, Size: abi.Unresolved}},
		},
		{
			name:   "ArrayOfRecords",
			src:    "struct Inner { short x; short y; }; struct Outer { struct Inner in[3]; void *p; };",
			decl:   "Outer",
			size:   24,
			fields: []abi.FieldDecl{{Name: "in", Offset: 0, Size: 12}, {Name: "p", Offset: 16, Size: 8}},
		},
		{
			name:   "Union",
			src:    "union U { char c; double d; int i[3]; };",
			decl:   "U",
			size:   16,
			fields: []abi.FieldDecl{{Name: "c", Offset: 0, Size: 1}, {Name: "d", Offset: 0, Size: 8}, {Name: "i", Offset: 0, Size: 12}},
		},
		{
			name:   "AnonymousMember",
			src:    "struct W { int kind; union { int i; float f; }; int tail; };",
			decl:   "W",
			size:   12,
			fields: []abi.FieldDecl{{Name: "kind", Offset: 0, Size: 4}, {Name: "", Offset: 4, Size: 4}, {Name: "tail", Offset: 8, Size: 4}},
		},
		{
			name:   "FunctionPointers",
			src:    "struct Ops { int (*open)(const char *path, int flags); void (*close)(int); };",
			decl:   "Ops",
			size:   16,
			fields: []abi.FieldDecl{{Name: "open", Offset: 0, Size: 8}, {Name: "close", Offset: 8, Size: 8}},
		},
		{
			name:   "MultiDimensionalArray",
			src:    "struct M { char grid[2][3]; int n; };",
			decl:   "M",
			size:   12,
			fields: []abi.FieldDecl{{Name: "grid", Offset: 0, Size: 6}, {Name: "n", Offset: 8, Size: 4}},
		},
		{
			name:   "BuiltinFixedWidth",
			src:    "#include <stdint.h>\nstruct T { uint8_t a; uint64_t b; size_t c; };",
			decl:   "T",
			size:   24,
			fields: []abi.FieldDecl{{Name: "a", Offset: 0, Size: 1}, {Name: "b", Offset: 8, Size: 8}, {Name: "c", Offset: 16, Size: 8}},
		},
		{
			name:   "ArrayBoundFromEnumAndSizeof",
			src:    "enum { N = 4 }; struct Q { int v[N * sizeof(short)]; };",
			decl:   "Q",
			size:   32,
			fields: []abi.FieldDecl{{Name: "v", Offset: 0, Size: 32}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := declNamed(t, parseHeader(t, tt.src, LP64), tt.decl)
			assert.Equal(t, tt.size, d.Size)
			assert.Equal(t, tt.fields, d.Fields)
		})
	}
}

func TestLayout_DataModels(t *testing.T) {
	src := "struct M { long l; void *p; };"

	ilp32 := declNamed(t, parseHeader(t, src, ILP32), "M")
	assert.Equal(t, int64(8), ilp32.Size)
	assert.Equal(t, []abi.FieldDecl{{Name: "l", Offset: 0, Size: 4}, {Name: "p", Offset: 4, Size: 4}}, ilp32.Fields)

	llp64 := declNamed(t, parseHeader(t, src, LLP64), "M")
	assert.Equal(t, int64(16), llp64.Size)
	assert.Equal(t, []abi.FieldDecl{{Name: "l", Offset: 0, Size: 4}, {Name: "p", Offset: 8, Size: 8}}, llp64.Fields)
}

func TestParse_CompletionOrder(t *testing.T) {
	decls := parseHeader(t, `
struct Outer {
	struct Inner { int x; } in;
	enum Mode { M_A, M_B } mode;
};
`, LP64)
	var names []string
	for _, d := range decls {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"Inner", "Mode", "Outer"}, names)
	assert.Equal(t, int64(8), declNamed(t, decls, "Outer").Size)
}

func TestParse_AnonymousTypedefTakesName(t *testing.T) {
	decls := parseHeader(t, `
typedef struct { int a; } Anon;
typedef enum { RED, GREEN = 5, BLUE } Color;
typedef struct Named { int b; } NamedAlias;
`, LP64)

	require.Len(t, decls, 3)
	assert.Equal(t, "Anon", decls[0].Name)
	assert.Equal(t, abi.DeclStruct, decls[0].Kind)
	assert.Equal(t, "Color", decls[1].Name)
	assert.Equal(t, []abi.EnumeratorDecl{
		{Name: "RED", Value: abi.IntConst(0)},
		{Name: "GREEN", Value: abi.IntConst(5)},
		{Name: "BLUE", Value: abi.IntConst(6)},
	}, decls[1].Enumerators)
	assert.Equal(t, "Named", decls[2].Name)
}

func TestParse_ForwardDeclarationCompletedLater(t *testing.T) {
	decls := parseHeader(t, `
struct Node;
typedef struct Node Node_t;
struct List { struct Node *head; };
struct Node { Node_t *next; int v; };
`, LP64)

	assert.Equal(t, int64(8), declNamed(t, decls, "List").Size)
	node := declNamed(t, decls, "Node")
	assert.Equal(t, int64(16), node.Size)
	assert.Equal(t, []abi.FieldDecl{{Name: "next", Offset: 0, Size: 8}, {Name: "v", Offset: 8, Size: 4}}, node.Fields)
}

func TestParse_IncompleteMemberLeavesRecordUnsized(t *testing.T) {
	decls := parseHeader(t, "struct Opaque; struct Bad { int a; struct Opaque o; };", LP64)
	assert.Equal(t, abi.Unresolved, declNamed(t, decls, "Bad").Size)

	decls = parseHeader(t, "struct Later { mystery_t m; int z; };", LP64)
	assert.Equal(t, abi.Unresolved, declNamed(t, decls, "Later").Size)
}

func TestParse_EnumeratorValues(t *testing.T) {
	decls := parseHeader(t, `
#define SHIFT 3
enum Flags {
	F_A = 1 << 0,
	F_B = 1 << SHIFT,
	F_C = F_A | F_B,
	F_D = sizeof(long),
	F_E = (unsigned char)0x1FF,
	F_F = 1.5,
	F_G,
	F_H = -1,
	F_I = 'x',
	F_J = F_H ? 10 : 20,
};
`, LP64)

	e := declNamed(t, decls, "Flags")
	want := []abi.EnumeratorDecl{
		{Name: "F_A", Value: abi.IntConst(1)},
		{Name: "F_B", Value: abi.IntConst(8)},
		{Name: "F_C", Value: abi.IntConst(9)},
		{Name: "F_D", Value: abi.IntConst(8)},
		{Name: "F_E", Value: abi.IntConst(255)},
		{Name: "F_F", Value: abi.ConstValue{Kind: abi.ConstOther, Text: "1.5"}},
		{Name: "F_G", Value: abi.ConstValue{Kind: abi.ConstOther, Text: "F_F + 1"}},
		{Name: "F_H", Value: abi.IntConst(-1)},
		{Name: "F_I", Value: abi.IntConst(120)},
		{Name: "F_J", Value: abi.IntConst(10)},
	}
	assert.Equal(t, want, e.Enumerators)
}

func TestParse_SkipsFunctionsAndObjects(t *testing.T) {
	decls := parseHeader(t, `
static inline int add(int a, int b) { struct Local { int q; } l; return a + b; }
int counter = 3, table[] = { 1, 2, 3 };
extern void (*hook)(int);
_Static_assert(sizeof(int) == 4, "int");
struct S { int x; };
`, LP64)

	var names []string
	for _, d := range decls {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"S"}, names)
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		"struct { int a; ",
		"struct S { int a[; };",
		"enum E { = 1 };",
	} {
		_, err := ParseSource("bad.h", src, t.TempDir(), Config{Log: quietLog()})
		assert.Error(t, err, src)
	}
}

func TestTypeTable_String(t *testing.T) {
	u, err := ParseSource("t.h", "typedef struct P { int x; } P_t; enum { K = 7 };", t.TempDir(), Config{Log: quietLog()})
	require.NoError(t, err)
	dump := u.Types().String()
	assert.Contains(t, dump, "struct P (Size: 4, Align: 4)")
	assert.Contains(t, dump, "uint8_t")
	assert.Contains(t, dump, "K")
	assert.Equal(t, dump, u.Types().String())
}

func TestModelByName(t *testing.T) {
	m, err := ModelByName("")
	require.NoError(t, err)
	assert.Equal(t, LP64, m)

	m, err = ModelByName("ILP32")
	require.NoError(t, err)
	assert.Equal(t, ILP32, m)

	_, err = ModelByName("sparc")
	assert.Error(t, err)
}
