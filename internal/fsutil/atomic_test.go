package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic_CreatesParentAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, WriteAtomic(path, []byte("first")))
	require.NoError(t, WriteAtomic(path, []byte("second")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FilePerm, info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteAtomic_FailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, WriteAtomic(path, []byte("good")))

	// A directory in place of the parent makes CreateTemp fail.
	blocked := filepath.Join(path, "child.json")
	err := WriteAtomic(blocked, []byte("bad"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAtomicWriteFailed))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "good", string(got))
}

func TestReadJSON(t *testing.T) {
	dir := t.TempDir()

	var out map[string]int
	ok, err := ReadJSON(filepath.Join(dir, "missing.json"), &out)
	require.NoError(t, err)
	assert.False(t, ok)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	ok, err = ReadJSON(empty, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = ReadJSON(bad, &out)
	require.Error(t, err)

	good := filepath.Join(dir, "good.json")
	require.NoError(t, WriteJSONAtomic(good, map[string]int{"a": 1}))
	ok, err = ReadJSON(good, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, out["a"])
}
