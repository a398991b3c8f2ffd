package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	doc := []byte(`{"version":1,"nodes":[]}`)
	require.NoError(t, s.SaveGraph("cpu-analysis", doc, 0))

	loaded, err := s.LoadGraph("cpu-analysis")
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)
}

func TestStoreSaveReplaces(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveGraph("g", []byte(`{"version":1}`), 1))
	require.NoError(t, s.SaveGraph("g", []byte(`{"version":1,"nodes":[]}`), 2))

	infos, err := s.ListGraphs()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 2, infos[0].NodeCount)
}

func TestStoreLoadMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadGraph("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveGraph("g", []byte(`{}`), 0))
	require.NoError(t, s.DeleteGraph("g"))

	assert.ErrorIs(t, s.DeleteGraph("g"), ErrNotFound)
	_, err := s.LoadGraph("g")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.SaveGraph("", []byte(`{}`), 0))
}

func TestMigrationVersion(t *testing.T) {
	s := openTestStore(t)
	v, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, int64(1))
}
