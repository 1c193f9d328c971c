package descfile

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abiguard/pkg/abi"
)

func TestLoad(t *testing.T) {
	f, err := Load("testdata/gsp.yaml")
	require.NoError(t, err)

	assert.Equal(t, "gsp_abi_check.c", f.Unit())
	decls := slices.Collect(f.Declarations())
	require.Len(t, decls, 4)

	assert.Equal(t, abi.TypeDecl{
		Kind: abi.DeclStruct, Name: "Foo", Size: 16,
		Fields: []abi.FieldDecl{{Name: "a", Offset: 0, Size: 4}, {Name: "b", Offset: 4, Size: 4}},
	}, decls[0])
	assert.Equal(t, abi.Unresolved, decls[1].Fields[1].Size)
	assert.Equal(t, abi.DeclUnion, decls[2].Kind)

	assert.Equal(t, []abi.EnumeratorDecl{
		{Name: "X", Value: abi.IntConst(1)},
		{Name: "Y", Value: abi.IntConst(2)},
		{Name: "Z", Value: abi.ConstValue{Kind: abi.ConstOther, Text: "1.5"}},
		{Name: "W", Value: abi.ConstValue{Kind: abi.ConstNone}},
	}, decls[3].Enumerators)

	def, ok := f.Macros().Definition("FOO")
	require.True(t, ok)
	assert.Equal(t, "FOO 1+2", def)
}

func TestDecode_JSON(t *testing.T) {
	f, err := Decode(strings.NewReader(`{"declarations":[{"kind":"struct","name":"J","size":2,"fields":[{"name":"x","offset":0,"size":2}]}]}`), "j.json")
	require.NoError(t, err)
	assert.Equal(t, "j.json", f.Unit())
	decls := slices.Collect(f.Declarations())
	require.Len(t, decls, 1)
	assert.Equal(t, int64(2), decls[0].Size)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader("declarations:\n  - kind: class\n    name: C\n"), "bad.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "class"`)

	_, err = Decode(strings.NewReader("declarations: [\n"), "broken.yaml")
	assert.Error(t, err)

	_, err = Load("testdata/absent.yaml")
	assert.Error(t, err)
}

func TestRun_FromDescriptors(t *testing.T) {
	f, err := Load("testdata/gsp.yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	rep, _, err := abi.Run(context.Background(), f, abi.Options{
		Target:    "gsp_abi_check.c",
		AllowList: abi.NewAllowList([]string{"Foo", "Msg", "Bar", "FOO", "U"}, nil),
		Policy:    abi.NewPolicy(nil, []string{"Bar"}),
		Preamble:  "//",
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "#define FOO 1+2\n")
	assert.Contains(t, out, "ABI_CHECK_FIELD_FLEXIBLE(Msg, data, 4);")
	assert.Contains(t, out, "ABI_CHECK_ENUM_VAL_EQ(Bar, X, 1);")
	assert.Contains(t, out, "ABI_CHECK_ENUM_VAL_GE(Bar, Y, 2);")
	assert.NotContains(t, out, "Bar, Z")
	assert.Equal(t, []string{"U"}, rep.Missing)
}

func TestEncode_ReloadsToSameDeclarations(t *testing.T) {
	orig, err := Load("testdata/gsp.yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FromSource(orig)))

	again, err := Decode(&buf, "again.yaml")
	require.NoError(t, err)
	assert.Equal(t, orig.Unit(), again.Unit())
	assert.Equal(t, slices.Collect(orig.Declarations()), slices.Collect(again.Declarations()))
	assert.Equal(t, orig.Macros(), again.Macros())
}

func TestLoad_EnumeratorValues(t *testing.T) {
	f, err := Load("testdata/values.yaml")
	require.NoError(t, err)

	decls := slices.Collect(f.Declarations())
	require.Len(t, decls, 1)
	assert.Equal(t, abi.TypeDecl{
		Kind: abi.DeclEnum, Name: "Mixed", Size: 4,
		Enumerators: []abi.EnumeratorDecl{
			{Name: "DEC", Value: abi.IntConst(7)},
			{Name: "HEX", Value: abi.IntConst(31)},
			{Name: "NEG", Value: abi.IntConst(-3)},
			{Name: "TEXT", Value: abi.ConstValue{Kind: abi.ConstOther, Text: "PREV + 1"}},
			{Name: "NOTHING", Value: abi.ConstValue{Kind: abi.ConstNone}},
			{Name: "EMPTY", Value: abi.ConstValue{Kind: abi.ConstNone}},
		},
	}, decls[0])

	var buf bytes.Buffer
	rep, _, err := abi.Run(context.Background(), f, abi.Options{
		AllowList: abi.NewAllowList([]string{"Mixed"}, nil),
		Preamble:  "//",
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "//\n\nABI_CHECK_ENUM_VAL_EQ(Mixed, DEC, 7);\nABI_CHECK_ENUM_VAL_EQ(Mixed, HEX, 31);\nABI_CHECK_ENUM_VAL_EQ(Mixed, NEG, -3);\n\n\n", buf.String())
	assert.Equal(t, 3, rep.Warnings)
}

func TestEncode_EnumeratorValuesSurviveReload(t *testing.T) {
	orig, err := Load("testdata/values.yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FromSource(orig)))

	again, err := Decode(&buf, "again.yaml")
	require.NoError(t, err)
	assert.Equal(t, slices.Collect(orig.Declarations()), slices.Collect(again.Declarations()))
}
