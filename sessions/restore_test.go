package sessions_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jrsteele09/go-auth-client/allauth"
	"github.com/jrsteele09/go-auth-client/autherr"
	"github.com/jrsteele09/go-auth-client/internal/fakeallauth"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/stretchr/testify/require"
)

func (f *testFixture) seed(t *testing.T, values map[string]string) {
	t.Helper()
	for k, v := range values {
		require.NoError(t, f.durable.Store.Set(k, v))
	}
}

func TestRestoreSession_NothingStored(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.store.RestoreSession(context.Background()))
	require.False(t, f.store.IsAuthenticated())
	require.Zero(t, f.backend.Calls(http.MethodGet, allauth.EndpointSession))
}

func TestRestoreSession_TokenWithoutUserIsIgnored(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, map[string]string{sessions.KeyAccessToken: "old"})

	require.NoError(t, f.store.RestoreSession(context.Background()))
	require.False(t, f.store.IsAuthenticated())
	require.Zero(t, f.backend.Calls(http.MethodGet, allauth.EndpointSession))
}

func TestRestoreSession_RotatesTokens(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, map[string]string{
		sessions.KeyAccessToken: "old",
		sessions.KeyUser:        `{"id":"1","email":"u@x.com","email_verified":true,"onboarding_completed":true}`,
		sessions.KeyProfile:     `{"primaryRole":"teacher"}`,
		sessions.KeyInstitution: `{"id":"inst-1"}`,
	})
	f.backend.On(http.MethodGet, allauth.EndpointSession, fakeallauth.Reply{
		Body: fakeallauth.Authenticated(user(1, "u@x.com", true, true), "new", "refresh-rotated"),
	})

	require.NoError(t, f.store.RestoreSession(context.Background()))

	req, ok := f.backend.LastRequest(http.MethodGet, allauth.EndpointSession)
	require.True(t, ok)
	require.Equal(t, "Bearer old", req.Header.Get("Authorization"))

	require.True(t, f.store.IsAuthenticated())
	require.Equal(t, "new", f.store.Session().AccessToken)
	require.Equal(t, "refresh-rotated", f.store.Session().RefreshToken)
	require.JSONEq(t, `{"primaryRole":"teacher"}`, string(f.store.Profile()))
	require.JSONEq(t, `{"id":"inst-1"}`, string(f.store.Institution()))
	require.Equal(t, sessions.Complete, f.store.State())

	token, _, err := f.durable.Get(sessions.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "new", token)
	require.False(t, f.durable.everWritten("refresh-rotated"))
}

func TestRestoreSession_FailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		reply fakeallauth.Reply
		kind  autherr.Kind
	}{
		{
			name:  "unauthorized",
			reply: fakeallauth.Reply{Status: http.StatusUnauthorized, Body: map[string]any{"status": 401, "meta": map[string]any{"is_authenticated": false}}},
			kind:  autherr.KindProtocol,
		},
		{
			name:  "server error",
			reply: fakeallauth.Reply{Status: http.StatusInternalServerError, Body: "<html>oops</html>"},
			kind:  autherr.KindProtocol,
		},
		{
			name:  "not authenticated",
			reply: fakeallauth.Reply{Body: map[string]any{"status": 200, "meta": map[string]any{"is_authenticated": false}}},
			kind:  autherr.KindProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.seed(t, map[string]string{
				sessions.KeyAccessToken: "stale",
				sessions.KeyUser:        `{"id":"1","email":"u@x.com","email_verified":true}`,
				sessions.KeyProfile:     `{"primaryRole":"student"}`,
				sessions.KeyInstitution: `{"id":"inst-1"}`,
			})
			f.backend.On(http.MethodGet, allauth.EndpointSession, tt.reply)

			err := f.store.RestoreSession(context.Background())
			require.Error(t, err)

			var ae *autherr.AuthError
			require.ErrorAs(t, err, &ae)
			require.Equal(t, tt.kind, ae.Kind)

			require.False(t, f.store.IsAuthenticated())
			require.Equal(t, sessions.Session{}, f.store.Session())
			require.Nil(t, f.store.User())
			require.Nil(t, f.store.Profile())
			require.Nil(t, f.store.Institution())
			f.requireDurableKeysAbsent(t)
		})
	}
}

func TestRestoreSession_NetworkFailureFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, map[string]string{
		sessions.KeyAccessToken: "stale",
		sessions.KeyUser:        `{"id":"1","email":"u@x.com"}`,
	})
	f.backend.Close()

	err := f.store.RestoreSession(context.Background())
	require.ErrorIs(t, err, autherr.ErrNetwork)
	require.False(t, f.store.IsAuthenticated())
	f.requireDurableKeysAbsent(t)
}

func TestRestoreSession_CorruptSnapshot(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, map[string]string{
		sessions.KeyAccessToken: "stale",
		sessions.KeyUser:        `{"id":`,
	})

	require.Error(t, f.store.RestoreSession(context.Background()))
	require.Zero(t, f.backend.Calls(http.MethodGet, allauth.EndpointSession))
	require.False(t, f.store.IsAuthenticated())
	f.requireDurableKeysAbsent(t)
}

func TestRefreshSessionTokens_KeepsRefreshTokenWhenNoneReturned(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodPost, allauth.EndpointLogin, fakeallauth.Reply{
		Body: fakeallauth.Authenticated(user(1, "u@x.com", true, false), "abc", "refresh-1"),
	})
	f.backend.On(http.MethodGet, allauth.EndpointSession, fakeallauth.Reply{
		Body: fakeallauth.Authenticated(user(1, "renamed@x.com", true, false), "def", ""),
	})

	_, err := f.store.Login(context.Background(), "u@x.com", "pw")
	require.NoError(t, err)
	require.NoError(t, f.store.RefreshSessionTokens(context.Background()))

	require.Equal(t, "def", f.store.Session().AccessToken)
	require.Equal(t, "refresh-1", f.store.Session().RefreshToken)
	require.Equal(t, "renamed@x.com", f.store.User().Email)

	raw, _, err := f.durable.Get(sessions.KeyUser)
	require.NoError(t, err)
	require.Contains(t, raw, "renamed@x.com")
}

func TestRefreshToken_NeverPersisted(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodPost, allauth.EndpointLogin, fakeallauth.Reply{
		Body: fakeallauth.Authenticated(user(1, "u@x.com", true, true), "a1", "r1"),
	})
	f.backend.On(http.MethodGet, allauth.EndpointSession, fakeallauth.Reply{
		Body: fakeallauth.Authenticated(user(1, "u@x.com", true, true), "a2", "r2"),
	})

	ctx := context.Background()
	_, err := f.store.Login(ctx, "u@x.com", "pw")
	require.NoError(t, err)
	require.NoError(t, f.store.RefreshSessionTokens(ctx))
	require.NoError(t, f.store.RestoreSession(ctx))

	for _, refresh := range []string{"r1", "r2"} {
		require.False(t, f.durable.everWritten(refresh))
	}
	keys, err := f.durable.Keys()
	require.NoError(t, err)
	for _, key := range keys {
		value, _, err := f.durable.Get(key)
		require.NoError(t, err)
		require.NotContains(t, value, "r1")
		require.NotContains(t, value, "r2")
	}
}
