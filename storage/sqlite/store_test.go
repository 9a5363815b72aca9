package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/sqlite"
	"github.com/stretchr/testify/require"
)

func TestOpen_RequiresPath(t *testing.T) {
	_, err := sqlite.Open("  ")
	require.EqualError(t, err, "[sqlite.Open] storage path is required")
}

func TestStore_ErrorsCarryOperation(t *testing.T) {
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, _, err = s.Get("auth_token")
	require.ErrorContains(t, err, `[Store.Get] "auth_token"`)
	require.ErrorContains(t, s.Set("auth_token", "x"), `[Store.Set] "auth_token"`)
	require.ErrorContains(t, s.Delete("auth_token"), `[Store.Delete] "auth_token"`)
	_, err = s.Keys()
	require.ErrorContains(t, err, "[Store.Keys]")
}

func TestStore_RoundTripAndUpsert(t *testing.T) {
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Set("auth_token", "first"))
	require.NoError(t, s.Set("auth_token", "second"))

	value, ok, err := s.Get("auth_token")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", value)

	require.NoError(t, s.Delete("auth_token"))
	_, ok, err = s.Get("auth_token")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, s.Set("", "x"), storage.ErrKeyRequired)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lqauth.db")

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("auth_user", `{"id":"1"}`))
	require.NoError(t, s.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	keys, err := reopened.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"auth_user"}, keys)
}
