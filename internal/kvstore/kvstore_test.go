package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Set("sync.lastChangeId", []byte("5")))
	v, err := s.Get("sync.lastChangeId")
	require.NoError(t, err)
	assert.Equal(t, []byte("5"), v)

	require.NoError(t, s.Set("sync.lastChangeId", []byte("6")))
	v, err = s.Get("sync.lastChangeId")
	require.NoError(t, err)
	assert.Equal(t, []byte("6"), v)

	require.NoError(t, s.Set("empty", nil))
	v, err = s.Get("empty")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Set("k", buf))
	buf[0] = 'x'

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))

	v[1] = 'y'
	v2, _ := s.Get("k")
	assert.Equal(t, "abc", string(v2))
}

func TestSqliteStore(t *testing.T) {
	s := NewSqliteStore(filepath.Join(t.TempDir(), "state", "cloudsync.db"))
	require.NoError(t, s.Open())
	defer s.Close()

	exerciseStore(t, s)
}

func TestSqliteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cloudsync.db")

	s := NewSqliteStore(dbPath)
	require.NoError(t, s.Open())
	require.NoError(t, s.Set("sync.mapping", []byte(`{"a.txt":{"nodeId":"N1","isDir":false}}`)))
	require.NoError(t, s.Close())

	s = NewSqliteStore(dbPath)
	require.NoError(t, s.Open())
	defer s.Close()

	v, err := s.Get("sync.mapping")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a.txt":{"nodeId":"N1","isDir":false}}`, string(v))
}

func TestSqliteStore_NotOpen(t *testing.T) {
	s := NewSqliteStore(filepath.Join(t.TempDir(), "x.db"))
	_, err := s.Get("k")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, s.Set("k", nil), ErrNotOpen)
	assert.ErrorIs(t, s.Close(), ErrNotOpen)

	require.NoError(t, s.Open())
	assert.Error(t, s.Open())
	require.NoError(t, s.Close())
}
