package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	ds, err := New(filepath.Join(t.TempDir(), "data.json"))
	require.NoError(t, err)
	defer ds.Close()

	ds.Set("k", "v")
	v, ok := ds.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	ds.Delete("k")
	_, ok = ds.Get("k")
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	ds, err := New(path)
	require.NoError(t, err)
	ds.Set("guild", map[string]any{"prefix": "?"})
	require.NoError(t, ds.Close())

	ds2, err := New(path)
	require.NoError(t, err)
	defer ds2.Close()

	v, ok := ds2.Get("guild")
	require.True(t, ok)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "?", m["prefix"])
}

func TestCreatesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")

	ds, err := New(path)
	require.NoError(t, err)
	defer ds.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(data))
}

func TestRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	_, err := New(path)
	assert.Error(t, err)
}

func TestMutationsAfterCloseAreIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	ds, err := New(path)
	require.NoError(t, err)
	ds.Set("k", "v")
	require.NoError(t, ds.Close())

	ds.Delete("k")
	ds.Set("k2", "v2")
	require.NoError(t, ds.SaveToFile())

	ds2, err := New(path)
	require.NoError(t, err)
	defer ds2.Close()

	_, ok := ds2.Get("k")
	assert.True(t, ok)
	_, ok = ds2.Get("k2")
	assert.False(t, ok)
}

func TestKeysSorted(t *testing.T) {
	ds, err := New(filepath.Join(t.TempDir(), "data.json"))
	require.NoError(t, err)
	defer ds.Close()

	ds.Set("b", 1)
	ds.Set("a", 2)
	ds.Set("c", 3)
	assert.Equal(t, []string{"a", "b", "c"}, ds.Keys())
}
