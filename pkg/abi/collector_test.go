package abi

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unit is an in-memory Source.
type unit struct {
	name   string
	decls  []TypeDecl
	macros MacroMap
}

func (u unit) Unit() string                     { return u.name }
func (u unit) Declarations() iter.Seq[TypeDecl] { return slices.Values(u.decls) }
func (u unit) Macros() MacroTable               { return u.macros }

func run(t *testing.T, src unit, opts Options) (string, Report) {
	t.Helper()
	var buf bytes.Buffer
	rep, _, err := Run(context.Background(), src, opts, &buf)
	require.NoError(t, err)
	return buf.String(), rep
}

func TestRun_Scenarios(t *testing.T) {
	t.Run("ExactStruct", func(t *testing.T) {
		out, rep := run(t, unit{
			name: "abi_check.c",
			decls: []TypeDecl{{
				Kind: DeclStruct, Name: "Foo", Size: 16,
				Fields: []FieldDecl{{"a", 0, 4}, {"b", 4, 4}},
			}},
		}, Options{AllowList: NewAllowList([]string{"Foo"}, nil), Policy: NewPolicy(nil, nil)})

		assert.Contains(t, out, "ABI_CHECK_SIZE_EQ(Foo, 16)")
		assert.Contains(t, out, "ABI_CHECK_FIELD(Foo, a, 0, 4)")
		assert.Contains(t, out, "ABI_CHECK_FIELD(Foo, b, 4, 4)")
		assert.True(t, rep.Active)
		assert.Equal(t, 1, rep.Symbols)
		assert.Empty(t, rep.Missing)
	})

	t.Run("GrowableEnum", func(t *testing.T) {
		out, _ := run(t, unit{
			name: "abi_check.c",
			decls: []TypeDecl{{
				Kind: DeclEnum, Name: "Bar",
				Enumerators: []EnumeratorDecl{{"X", IntConst(1)}, {"Y", IntConst(2)}},
			}},
		}, Options{AllowList: NewAllowList([]string{"Bar"}, nil), Policy: NewPolicy(nil, []string{"Bar"})})

		assert.Contains(t, out, "ABI_CHECK_ENUM_VAL_EQ(Bar, X, 1)")
		assert.Contains(t, out, "ABI_CHECK_ENUM_VAL_GE(Bar, Y, 2)")
	})

	t.Run("MacroVerbatim", func(t *testing.T) {
		out, _ := run(t, unit{
			name:   "abi_check.c",
			macros: MacroMap{"FOO": "FOO 1+2", "BAR": "BAR 3"},
		}, Options{AllowList: NewAllowList([]string{"FOO"}, nil)})

		assert.Contains(t, out, "#define FOO 1+2\n")
		assert.NotContains(t, out, "BAR")
	})
}

func TestRun_PreambleFirst(t *testing.T) {
	out, _ := run(t, unit{name: "u.c", macros: MacroMap{"A": "A 1"}},
		Options{AllowList: NewAllowList([]string{"A"}, nil), Preamble: "// pre"})
	assert.Equal(t, "// pre\n#define A 1\n", out)
}

func TestRun_DefaultPreamble(t *testing.T) {
	out, _ := run(t, unit{name: "u.c"}, Options{})
	assert.True(t, strings.HasPrefix(out, DefaultPreamble))
}

func TestRun_FirstDeclarationWins(t *testing.T) {
	out, rep := run(t, unit{
		name: "u.c",
		decls: []TypeDecl{
			{Kind: DeclStruct, Name: "S", Size: 4, Fields: []FieldDecl{{"a", 0, 4}}},
			{Kind: DeclStruct, Name: "S", Size: 8, Fields: []FieldDecl{{"a", 0, 8}}},
			{Kind: DeclEnum, Name: "S", Enumerators: []EnumeratorDecl{{"S_A", IntConst(0)}}},
		},
		macros: MacroMap{"S": "S 42"},
	}, Options{AllowList: NewAllowList([]string{"S"}, nil)})

	assert.Contains(t, out, "ABI_CHECK_SIZE_EQ(S, 4);")
	assert.NotContains(t, out, "ABI_CHECK_SIZE_EQ(S, 8);")
	assert.NotContains(t, out, "S_A")
	assert.NotContains(t, out, "#define S 42")
	assert.Equal(t, []string{"S: struct shadows enum", "S: struct shadows macro"}, rep.Conflicts)
}

func TestCollector_DeclarationClashIsRecorded(t *testing.T) {
	c := NewCollector(Options{AllowList: NewAllowList([]string{"S", "E"}, nil)})
	require.True(t, c.Begin("u.c"))
	c.Declare(TypeDecl{Kind: DeclEnum, Name: "E", Enumerators: []EnumeratorDecl{{"E_A", IntConst(1)}}})
	c.Declare(TypeDecl{Kind: DeclStruct, Name: "E", Size: 4})
	c.Declare(TypeDecl{Kind: DeclStruct, Name: "S", Size: 4})
	c.Declare(TypeDecl{Kind: DeclStruct, Name: "S", Size: 8})
	c.Declare(TypeDecl{Kind: DeclUnion, Name: "S", Size: 8})

	sym, ok := c.Catalog().Get("E")
	require.True(t, ok)
	assert.Equal(t, KindEnum, sym.Kind())
	assert.Equal(t, []string{"E: enum shadows struct"}, c.Catalog().Conflicts())
	assert.Equal(t, 2, c.Catalog().Len())
}

func TestRun_UnsizableStructIsReportedMissing(t *testing.T) {
	log, buf := testLogger()
	out, rep := run(t, unit{
		name:  "u.c",
		decls: []TypeDecl{{Kind: DeclStruct, Name: "Opaque", Size: Unresolved}},
	}, Options{AllowList: NewAllowList([]string{"Opaque"}, nil), Log: log})

	assert.NotContains(t, out, "Opaque")
	assert.Equal(t, []string{"Opaque"}, rep.Missing)
	assert.Contains(t, buf.String(), "missing wanted symbol")
}

func TestRun_MissingReportedOnce(t *testing.T) {
	log, buf := testLogger()
	_, rep := run(t, unit{
		name:   "u.c",
		decls:  []TypeDecl{{Kind: DeclStruct, Name: "Present", Size: 1}},
		macros: MacroMap{"NOVALUE": "NOVALUE"},
	}, Options{
		AllowList: NewAllowList([]string{"Present", "Absent", "NOVALUE"}, []string{"PFX_"}),
		Log:       log,
	})

	assert.Equal(t, []string{"Absent", "NOVALUE"}, rep.Missing)
	assert.Equal(t, 1, strings.Count(buf.String(), "symbol=Absent"))
	assert.Equal(t, 1, strings.Count(buf.String(), "symbol=NOVALUE"))
	assert.Equal(t, 2, rep.Warnings)
}

func TestRun_PrefixMatchedMacros(t *testing.T) {
	out, rep := run(t, unit{
		name: "u.c",
		macros: MacroMap{
			"NV_VGPU_MSG_EVENT_A": "NV_VGPU_MSG_EVENT_A 0x1001",
			"NV_VGPU_MSG_EVENT_B": "NV_VGPU_MSG_EVENT_B 0x1002",
			"OTHER":               "OTHER 1",
		},
	}, Options{AllowList: NewAllowList(nil, []string{"NV_VGPU_MSG_EVENT_"})})

	assert.Contains(t, out, "#define NV_VGPU_MSG_EVENT_A 0x1001\n#define NV_VGPU_MSG_EVENT_B 0x1002\n")
	assert.NotContains(t, out, "OTHER")
	assert.Equal(t, 2, rep.Symbols)
}

func TestCollector_IgnoresOtherUnits(t *testing.T) {
	c := NewCollector(Options{
		Target:    "src/gsp_abi_check.c",
		AllowList: NewAllowList([]string{"Foo"}, nil),
	})
	assert.False(t, c.Begin("other.c"))
	c.Declare(TypeDecl{Kind: DeclStruct, Name: "Foo", Size: 4})
	assert.Equal(t, StateIdle, c.State())

	var buf bytes.Buffer
	rep, err := c.Finish(MacroMap{"Foo": "Foo 1"}, &buf)
	require.NoError(t, err)
	assert.False(t, rep.Active)
	assert.Zero(t, buf.Len())
	assert.Equal(t, StateDone, c.State())
}

func TestCollector_TargetMatchesByBaseName(t *testing.T) {
	c := NewCollector(Options{Target: "gsp_abi_check.c"})
	assert.True(t, c.Begin("/build/tree/gsp_abi_check.c"))
	assert.Equal(t, StateCollecting, c.State())
}

func TestCollector_Lifecycle(t *testing.T) {
	c := NewCollector(Options{})

	_, err := c.Finish(nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNotCollecting)

	require.True(t, c.Begin("u.c"))
	_, err = c.Finish(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, StateDone, c.State())

	_, err = c.Finish(nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrFinished)

	c.Declare(TypeDecl{Kind: DeclStruct, Name: "Late", Size: 1})
	assert.Zero(t, c.Catalog().Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestCollector_OutputFailureIsFatal(t *testing.T) {
	c := NewCollector(Options{})
	require.True(t, c.Begin("u.c"))
	_, err := c.Finish(nil, failingWriter{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Run(ctx, unit{
		name:  "u.c",
		decls: []TypeDecl{{Kind: DeclStruct, Name: "S", Size: 1}},
	}, Options{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "collecting", StateCollecting.String())
	assert.Equal(t, "State(9)", State(9).String())
}
