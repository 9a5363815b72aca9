package allauth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 15 * time.Second

// Client is a typed wrapper around the allauth browser API. It holds no
// session state of its own beyond the cookie jar and the optional app
// session token.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	tokenStorage storage.KV
	limiter      *rate.Limiter
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. A cookie jar is added
// when the given client has none, cookies are always sent.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenStorage sets the ephemeral store holding the app session token.
func WithTokenStorage(kv storage.KV) ClientOption {
	return func(c *Client) {
		c.tokenStorage = kv
	}
}

// WithRateLimiter makes every request wait on the limiter first.
func WithRateLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// NewClient creates a client for the allauth API served under baseURL.
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "[NewClient] invalid base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[NewClient] base URL %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL: u,
		logger:  log.Logger.With().Str("component", "allauth").Logger(),
		tracer:  otel.Tracer("github.com/jrsteele09/go-auth-client/allauth"),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if c.httpClient.Jar == nil {
		jar, err := newJar()
		if err != nil {
			return nil, errors.Wrap(err, "[NewClient]")
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

func newJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar, errors.Wrap(err, "cookiejar.New")
}

type request struct {
	method  string
	path    string
	data    any
	headers map[string]string
}

// do issues one request and decodes the envelope into out. Non-2xx responses
// come back as *ResponseError.
func (c *Client) do(ctx context.Context, req request, out any) (int, error) {
	ctx, span := c.tracer.Start(ctx, "allauth "+req.method+" "+req.path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.method),
			attribute.String("url.path", req.path),
		),
	)
	defer span.End()

	status, err := c.roundTrip(ctx, req, out)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return status, err
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, errors.Wrap(err, "[allauth] rate limiter")
		}
	}

	var body io.Reader
	if req.data != nil {
		payload, err := json.Marshal(req.data)
		if err != nil {
			return 0, errors.Wrap(err, "[allauth] encode request")
		}
		body = bytes.NewReader(payload)
	}

	endpoint := c.baseURL.String() + APIPrefix + req.path
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return 0, errors.Wrap(err, "[allauth] http.NewRequestWithContext")
	}
	httpReq.Header.Set("accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	if isStateChanging(req.method) {
		if token := c.CSRFToken(); token != "" {
			httpReq.Header.Set(csrfHeaderName, token)
		}
	}
	if token := c.SessionToken(); token != "" {
		httpReq.Header.Set(sessionTokenHeader, token)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, errors.Wrapf(err, "[allauth] %s %s", req.method, req.path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errors.Wrapf(err, "[allauth] read %s %s", req.method, req.path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := newResponseError(resp.StatusCode, raw)
		c.logger.Debug().Str("method", req.method).Str("path", req.path).Int("status", resp.StatusCode).Msg("allauth request failed")
		return resp.StatusCode, re
	}

	c.logger.Debug().Str("method", req.method).Str("path", req.path).Int("status", resp.StatusCode).Msg("allauth request")
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, errors.Wrapf(err, "[allauth] decode %s %s", req.method, req.path)
		}
	}
	return resp.StatusCode, nil
}

// envelope runs a request whose body is a Response, stamping the HTTP status
// onto it and capturing any app session token it hands out.
func (c *Client) envelope(ctx context.Context, req request) (*Response, error) {
	var resp Response
	status, err := c.do(ctx, req, &resp)
	if err != nil {
		return nil, err
	}
	resp.Status = status
	if resp.Meta.SessionToken != "" && c.tokenStorage != nil {
		if err := c.tokenStorage.Set(SessionTokenKey, resp.Meta.SessionToken); err != nil {
			c.logger.Warn().Err(err).Msg("failed to store session token")
		}
	}
	return &resp, nil
}

func (c *Client) Login(ctx context.Context, credentials Credentials) (*Response, error) {
	return c.envelope(ctx, request{method: http.MethodPost, path: EndpointLogin, data: credentials})
}

// Logout deletes the backend session and, on success, the app session token.
func (c *Client) Logout(ctx context.Context) (*Response, error) {
	resp, err := c.envelope(ctx, request{method: http.MethodDelete, path: EndpointSession})
	if err != nil {
		return nil, err
	}
	if c.tokenStorage != nil {
		if err := c.tokenStorage.Delete(SessionTokenKey); err != nil {
			c.logger.Warn().Err(err).Msg("failed to remove session token")
		}
	}
	return resp, nil
}

// ClearSessionToken forgets every credential the client holds: the app
// session token and the cookies, csrftoken included. It must not run while
// requests are in flight.
func (c *Client) ClearSessionToken() {
	if c.tokenStorage != nil {
		if err := c.tokenStorage.Delete(SessionTokenKey); err != nil {
			c.logger.Warn().Err(err).Msg("failed to remove session token")
		}
	}
	jar, err := newJar()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to reset cookie jar")
		return
	}
	c.httpClient.Jar = jar
}

// RefreshToken exchanges a refresh token for a new access token and,
// optionally, a rotated refresh token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Response, error) {
	return c.envelope(ctx, request{
		method: http.MethodPost,
		path:   EndpointRefreshToken,
		data:   map[string]string{"refresh": refreshToken},
	})
}

func (c *Client) SignUp(ctx context.Context, registration Registration) (*Response, error) {
	return c.envelope(ctx, request{method: http.MethodPost, path: EndpointSignup, data: registration})
}

// GetSession checks the session and rotates its tokens. accessToken is sent
// as a bearer token for when the cookie is unavailable.
func (c *Client) GetSession(ctx context.Context, accessToken string) (*Response, error) {
	req := request{method: http.MethodGet, path: EndpointSession}
	if accessToken != "" {
		req.headers = map[string]string{"Authorization": "Bearer " + accessToken}
	}
	return c.envelope(ctx, req)
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) (*Response, error) {
	return c.envelope(ctx, request{
		method: http.MethodPost,
		path:   EndpointRequestPasswordReset,
		data:   map[string]string{"email": email},
	})
}

func (c *Client) ResetPassword(ctx context.Context, reset PasswordReset) (*Response, error) {
	return c.envelope(ctx, request{method: http.MethodPost, path: EndpointResetPassword, data: reset})
}

func (c *Client) ResetPasswordWithKey(ctx context.Context, key, password, password2 string) (*Response, error) {
	return c.envelope(ctx, request{
		method: http.MethodPost,
		path:   EndpointResetPasswordKey,
		data:   map[string]string{"key": key, "password": password, "password2": password2},
	})
}

func (c *Client) ChangePassword(ctx context.Context, change PasswordChange) (*Response, error) {
	return c.envelope(ctx, request{method: http.MethodPost, path: EndpointChangePassword, data: change})
}

func (c *Client) VerifyEmail(ctx context.Context, key string) (*Response, error) {
	return c.envelope(ctx, request{
		method: http.MethodPost,
		path:   EndpointVerifyEmail,
		data:   map[string]string{"key": key},
	})
}

func (c *Client) ResendEmailVerification(ctx context.Context) (*Response, error) {
	return c.envelope(ctx, request{method: http.MethodPost, path: EndpointResendEmailVerification})
}

// SocialLogin exchanges provider tokens for a backend session. Empty tokens
// are left out of the payload.
func (c *Client) SocialLogin(ctx context.Context, provider, accessToken, idToken string) (*Response, error) {
	return c.envelope(ctx, request{
		method: http.MethodPost,
		path:   EndpointSocialLogin,
		data:   socialLoginRequest{Provider: provider, AccessToken: accessToken, IDToken: idToken},
	})
}

func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	status, err := c.do(ctx, request{method: http.MethodGet, path: EndpointConfig}, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.Status = status
	return &cfg, nil
}

// GetSocialProviders lists the providers advertised by the config endpoint.
func (c *Client) GetSocialProviders(ctx context.Context) ([]Provider, error) {
	cfg, err := c.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Data.SocialAccount.Providers == nil {
		return []Provider{}, nil
	}
	return cfg.Data.SocialAccount.Providers, nil
}

// SessionToken returns the app session token, empty when none is held.
func (c *Client) SessionToken() string {
	if c.tokenStorage == nil {
		return ""
	}
	token, ok, err := c.tokenStorage.Get(SessionTokenKey)
	if err != nil || !ok {
		return ""
	}
	return token
}

// CSRFToken returns the csrftoken cookie the backend set for the base URL.
func (c *Client) CSRFToken() string {
	if c.httpClient.Jar == nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(c.baseURL) {
		if cookie.Name == csrfCookieName {
			if value, err := url.QueryUnescape(cookie.Value); err == nil {
				return value
			}
			return cookie.Value
		}
	}
	return ""
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
