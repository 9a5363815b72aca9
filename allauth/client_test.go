package allauth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jrsteele09/go-auth-client/allauth"
	"github.com/jrsteele09/go-auth-client/autherr"
	"github.com/jrsteele09/go-auth-client/internal/fakeallauth"
	"github.com/jrsteele09/go-auth-client/storage/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type testFixture struct {
	backend *fakeallauth.Server
	tokens  *memory.Store
	client  *allauth.Client
}

func setupTestFixture(t *testing.T, options ...allauth.ClientOption) *testFixture {
	t.Helper()

	backend := fakeallauth.New(t)
	tokens := memory.New()
	options = append([]allauth.ClientOption{allauth.WithTokenStorage(tokens)}, options...)
	client, err := allauth.NewClient(backend.URL, options...)
	require.NoError(t, err)

	return &testFixture{backend: backend, tokens: tokens, client: client}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := allauth.NewClient("not a url")
	require.Error(t, err)
}

func TestNewClient_DefaultsBaseURL(t *testing.T) {
	c, err := allauth.NewClient("")
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestLogin_SendsJSONAndStampsStatus(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodPost, allauth.EndpointLogin, fakeallauth.Reply{
		Status: http.StatusOK,
		Body: fakeallauth.Authenticated(map[string]any{
			"id": 7, "email": "user@x.com", "email_verified": true,
		}, "abc", "refresh-1"),
	})

	resp, err := f.client.Login(context.Background(), allauth.Credentials{Email: "user@x.com", Password: "good-pw"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.True(t, resp.Meta.IsAuthenticated)
	require.Equal(t, "abc", resp.Meta.AccessToken)
	require.Equal(t, "refresh-1", resp.Meta.RefreshToken)
	require.Equal(t, allauth.UserID("7"), resp.Data.User.ID)

	req, ok := f.backend.LastRequest(http.MethodPost, allauth.EndpointLogin)
	require.True(t, ok)
	require.Equal(t, "application/json", req.Header.Get("accept"))
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, "user@x.com", req.Body["email"])
	require.Equal(t, "good-pw", req.Body["password"])
}

func TestLogin_NonOKReturnsResponseError(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodPost, allauth.EndpointLogin, fakeallauth.Reply{
		Status: http.StatusForbidden,
		Body: map[string]any{
			"status": 403,
			"errors": []map[string]any{{"code": "email_not_verified", "message": "Email not verified."}},
			"data":   map[string]any{"user": map[string]any{"id": "1", "email": "u@x.com"}},
			"meta":   map[string]any{"is_authenticated": false},
		},
	})

	_, err := f.client.Login(context.Background(), allauth.Credentials{Email: "u@x.com", Password: "pw"})
	require.Error(t, err)

	var re *allauth.ResponseError
	require.True(t, errors.As(err, &re))
	require.Equal(t, http.StatusForbidden, re.Status)
	require.Equal(t, "Email not verified.", re.Error())
	require.Contains(t, re.Body, "data")

	envelope := re.Envelope()
	require.True(t, envelope.HasErrorCode("email_not_verified"))
	require.Equal(t, "u@x.com", envelope.Data.User.Email)

	normalized := autherr.Normalize(err)
	require.Equal(t, 403, normalized.Status)
	require.Equal(t, "email_not_verified", normalized.Code)
	require.Equal(t, autherr.KindProtocol, normalized.Kind)
}

func TestRequest_NonJSONErrorBody(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodGet, allauth.EndpointSession, fakeallauth.Reply{Status: http.StatusBadGateway, Body: "<html>bad gateway</html>"})

	_, err := f.client.GetSession(context.Background(), "")
	var re *allauth.ResponseError
	require.True(t, errors.As(err, &re))
	require.Equal(t, "allauth API request failed", re.Message)
	require.Equal(t, 502, autherr.Normalize(err).Status)
}

func TestGetSession_BearerToken(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodGet, allauth.EndpointSession, fakeallauth.Reply{
		Body: fakeallauth.Authenticated(map[string]any{"id": "1", "email": "u@x.com"}, "rotated", ""),
	})

	_, err := f.client.GetSession(context.Background(), "old-token")
	require.NoError(t, err)
	req, _ := f.backend.LastRequest(http.MethodGet, allauth.EndpointSession)
	require.Equal(t, "Bearer old-token", req.Header.Get("Authorization"))

	_, err = f.client.GetSession(context.Background(), "")
	require.NoError(t, err)
	req, _ = f.backend.LastRequest(http.MethodGet, allauth.EndpointSession)
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestCSRFTokenEchoedOnStateChangingRequests(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetCSRFCookie("csrf-123")
	f.backend.On(http.MethodGet, allauth.EndpointConfig, fakeallauth.Reply{Body: map[string]any{"status": 200}})
	f.backend.On(http.MethodPost, allauth.EndpointResendEmailVerification, fakeallauth.Reply{Body: map[string]any{"status": 200}})

	_, err := f.client.GetConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "csrf-123", f.client.CSRFToken())

	req, _ := f.backend.LastRequest(http.MethodGet, allauth.EndpointConfig)
	require.Empty(t, req.Header.Get("X-CSRFToken"))

	_, err = f.client.ResendEmailVerification(context.Background())
	require.NoError(t, err)
	req, _ = f.backend.LastRequest(http.MethodPost, allauth.EndpointResendEmailVerification)
	require.Equal(t, "csrf-123", req.Header.Get("X-CSRFToken"))
	require.NotEmpty(t, req.Header.Get("Cookie"))
}

func TestSessionToken_StoredSentAndClearedOnLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodPost, allauth.EndpointLogin, fakeallauth.Reply{Body: map[string]any{
		"status": 200,
		"meta":   map[string]any{"is_authenticated": true, "session_token": "app-session"},
	}})
	f.backend.On(http.MethodDelete, allauth.EndpointSession, fakeallauth.Reply{Body: map[string]any{"status": 200}})

	_, err := f.client.Login(context.Background(), allauth.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "app-session", f.client.SessionToken())

	_, err = f.client.Logout(context.Background())
	require.NoError(t, err)
	req, _ := f.backend.LastRequest(http.MethodDelete, allauth.EndpointSession)
	require.Equal(t, "app-session", req.Header.Get("X-Session-Token"))
	require.Empty(t, f.client.SessionToken())
}

func TestLogout_FailureKeepsSessionToken(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.tokens.Set(allauth.SessionTokenKey, "app-session"))
	f.backend.On(http.MethodDelete, allauth.EndpointSession, fakeallauth.Reply{Status: http.StatusInternalServerError, Body: map[string]any{}})

	_, err := f.client.Logout(context.Background())
	require.Error(t, err)
	require.Equal(t, "app-session", f.client.SessionToken())
}

func TestClearSessionToken_DropsTokenAndCookies(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetCSRFCookie("csrf-123")
	require.NoError(t, f.tokens.Set(allauth.SessionTokenKey, "app-session"))

	_, err := f.client.GetSession(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "csrf-123", f.client.CSRFToken())

	f.client.ClearSessionToken()
	require.Empty(t, f.client.SessionToken())
	require.Empty(t, f.client.CSRFToken())

	f.backend.SetCSRFCookie("")
	_, err = f.client.ResendEmailVerification(context.Background())
	require.Error(t, err)
	req, ok := f.backend.LastRequest(http.MethodPost, allauth.EndpointResendEmailVerification)
	require.True(t, ok)
	require.Empty(t, req.Header.Get("X-Session-Token"))
	require.Empty(t, req.Header.Get("X-CSRFToken"))
	require.Empty(t, req.Header.Get("Cookie"))
}

func TestRefreshToken_Payload(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodPost, allauth.EndpointRefreshToken, fakeallauth.Reply{
		Body: map[string]any{"status": 200, "meta": map[string]any{"access_token": "a2", "refresh_token": "r2"}},
	})

	resp, err := f.client.RefreshToken(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "a2", resp.Meta.AccessToken)
	require.Equal(t, "r2", resp.Meta.RefreshToken)

	req, ok := f.backend.LastRequest(http.MethodPost, allauth.EndpointRefreshToken)
	require.True(t, ok)
	require.Equal(t, map[string]any{"refresh": "r1"}, req.Body)
}

func TestSocialLogin_OmitsEmptyTokens(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodPost, allauth.EndpointSocialLogin, fakeallauth.Reply{
		Body: fakeallauth.Authenticated(map[string]any{"id": "9", "email": "g@x.com"}, "tok", ""),
	})

	_, err := f.client.SocialLogin(context.Background(), "microsoft", "ms-access", "")
	require.NoError(t, err)
	req, _ := f.backend.LastRequest(http.MethodPost, allauth.EndpointSocialLogin)
	require.Equal(t, "microsoft", req.Body["provider"])
	require.Equal(t, "ms-access", req.Body["access_token"])
	require.NotContains(t, req.Body, "id_token")
}

func TestGetSocialProviders(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodGet, allauth.EndpointConfig, fakeallauth.Reply{Body: map[string]any{
		"status": 200,
		"data": map[string]any{"socialaccount": map[string]any{"providers": []map[string]any{
			{"id": "google", "name": "Google", "client_id": "g-client", "flows": []string{"provider_token"}},
			{"id": "microsoft", "name": "Microsoft", "flows": []string{"provider_redirect"}},
		}}},
	}})

	providers, err := f.client.GetSocialProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 2)
	require.Equal(t, "g-client", providers[0].ClientID)
	require.Empty(t, providers[1].ClientID)
}

func TestGetSocialProviders_NoneConfigured(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodGet, allauth.EndpointConfig, fakeallauth.Reply{Body: map[string]any{"status": 200}})

	providers, err := f.client.GetSocialProviders(context.Background())
	require.NoError(t, err)
	require.Empty(t, providers)
}

func TestResetPasswordWithKey_Payload(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodPost, allauth.EndpointResetPasswordKey, fakeallauth.Reply{Body: map[string]any{"status": 200}})

	_, err := f.client.ResetPasswordWithKey(context.Background(), "key-1", "pw1", "pw2")
	require.NoError(t, err)
	req, _ := f.backend.LastRequest(http.MethodPost, allauth.EndpointResetPasswordKey)
	require.Equal(t, map[string]any{"key": "key-1", "password": "pw1", "password2": "pw2"}, req.Body)
}

func TestNetworkFailureNormalizesToNetwork(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.Close()

	_, err := f.client.VerifyEmail(context.Background(), "k")
	require.Error(t, err)
	require.Equal(t, autherr.KindNetwork, autherr.Normalize(err).Kind)
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	f := setupTestFixture(t, allauth.WithRateLimiter(rate.NewLimiter(rate.Limit(0.001), 1)))
	f.backend.On(http.MethodGet, allauth.EndpointConfig, fakeallauth.Reply{Body: map[string]any{"status": 200}})

	_, err := f.client.GetConfig(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.client.GetConfig(ctx)
	require.Error(t, err)
	require.Equal(t, 1, f.backend.Calls(http.MethodGet, allauth.EndpointConfig))
}

func TestUserID_AcceptsNumbersAndStrings(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.On(http.MethodGet, allauth.EndpointSession, fakeallauth.Reply{Body: map[string]any{
		"status": 200,
		"data":   map[string]any{"user": map[string]any{"id": 42, "email": "n@x.com"}},
		"meta":   map[string]any{"is_authenticated": true},
	}})

	resp, err := f.client.GetSession(context.Background(), "")
	require.NoError(t, err)
	n, ok := resp.Data.User.ID.Int()
	require.True(t, ok)
	require.Equal(t, int64(42), n)
}
