package artifact

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abiguard/pkg/abi"
)

func TestFile_Commit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gen", "out.c")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	f, err := Create(path)
	require.NoError(t, err)
	defer f.Abort()

	_, err = f.Write([]byte("new content\n"))
	require.NoError(t, err)

	// Not visible until committed.
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))

	require.NoError(t, f.Commit())
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new content\n", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")

	assert.ErrorIs(t, f.Commit(), os.ErrClosed)
	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, f.Abort())
}

func TestFile_Abort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.c")

	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, f.Abort())

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func sampleCatalog() *abi.Catalog {
	c := abi.NewCatalog()
	c.Add("Foo", &abi.Struct{Name: "Foo", Size: 8, Fields: []abi.Field{{Name: "a", Offset: 0, Size: 4}, {Name: "b", Offset: 4, Size: 4}}})
	c.Add("FOO", &abi.Macro{Name: "FOO", Head: "FOO", Value: "1+2"})
	c.Add("Bar", &abi.Enum{Name: "Bar", Members: []abi.Enumerator{{Name: "X", Value: 1}}})
	return c
}

func TestSnapshot_Canonical(t *testing.T) {
	s, err := NewSnapshot("0.3.0", "u.c", sampleCatalog(), abi.NewPolicy([]string{"Foo"}, nil))
	require.NoError(t, err)

	got, err := s.Canonical()
	require.NoError(t, err)
	want := `{"symbols":[` +
		`{"kind":"enum","members":[{"name":"X","value":1}],"name":"Bar"},` +
		`{"head":"FOO","kind":"macro","name":"FOO","value":"1+2"},` +
		`{"fields":[{"name":"a","offset":0,"size":4},{"name":"b","offset":4,"size":4}],"growable":true,"kind":"struct","name":"Foo","size":8}` +
		`],"tool":"abiguard","unit":"u.c","version":"0.3.0"}`
	assert.Equal(t, want, string(got))

	again, err := NewSnapshot("0.3.0", "u.c", sampleCatalog(), abi.NewPolicy([]string{"Foo"}, nil))
	require.NoError(t, err)
	d1, err := s.Digest()
	require.NoError(t, err)
	d2, err := again.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	exact, err := NewSnapshot("0.3.0", "u.c", sampleCatalog(), abi.NewPolicy(nil, nil))
	require.NoError(t, err)
	d3, err := exact.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3, "policy is part of the snapshot")
}

func TestSnapshot_EmptyCatalog(t *testing.T) {
	s, err := NewSnapshot("0.3.0", "u.c", abi.NewCatalog(), nil)
	require.NoError(t, err)
	got, err := s.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `{"symbols":[],"tool":"abiguard","unit":"u.c","version":"0.3.0"}`, string(got))
}

func TestSnapshot_RuleError(t *testing.T) {
	boom := abi.RuleFunc(func(abi.Kind, string) (bool, error) { return false, assert.AnError })
	_, err := NewSnapshot("0.3.0", "u.c", sampleCatalog(), abi.NewPolicy(nil, nil, boom))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWriteSnapshot(t *testing.T) {
	s, err := NewSnapshot("0.3.0", "u.c", sampleCatalog(), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, s))

	var env struct {
		Digest   string   `json:"digest"`
		Snapshot Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	digest, err := s.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, env.Digest)
	assert.Equal(t, s, env.Snapshot)
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("}\n")))
}

func TestDiff(t *testing.T) {
	d, err := Diff("out.c", "a\nb\nc\n", "a\nb\nc\n")
	require.NoError(t, err)
	assert.Empty(t, d)

	d, err = Diff("out.c", "a\nb\nc\n", "a\nB\nc\n")
	require.NoError(t, err)
	assert.Contains(t, d, "--- out.c (committed)")
	assert.Contains(t, d, "+++ out.c (generated)")
	assert.Contains(t, d, "-b\n")
	assert.Contains(t, d, "+B\n")
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.c")
	require.NoError(t, os.WriteFile(path, []byte("ABI_CHECK_SIZE_EQ(Foo, 8);\n"), 0o644))

	diff, err := Check(path, "ABI_CHECK_SIZE_EQ(Foo, 8);\n")
	require.NoError(t, err)
	assert.Empty(t, diff)

	diff, err = Check(path, "ABI_CHECK_SIZE_EQ(Foo, 12);\n")
	assert.ErrorIs(t, err, ErrDrift)
	assert.Contains(t, diff, "+ABI_CHECK_SIZE_EQ(Foo, 12);")

	diff, err = Check(filepath.Join(dir, "absent.c"), "x\n")
	assert.ErrorIs(t, err, ErrDrift)
	assert.Contains(t, diff, "+x")
}
