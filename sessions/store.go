// Package sessions owns the authenticated session of the client: its tokens,
// the current user and the session lifecycle on top of the allauth API.
package sessions

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/allauth"
	"github.com/jrsteele09/go-auth-client/autherr"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client is the part of the allauth API the store drives.
type Client interface {
	Login(ctx context.Context, credentials allauth.Credentials) (*allauth.Response, error)
	Logout(ctx context.Context) (*allauth.Response, error)
	SignUp(ctx context.Context, registration allauth.Registration) (*allauth.Response, error)
	GetSession(ctx context.Context, accessToken string) (*allauth.Response, error)
	RequestPasswordReset(ctx context.Context, email string) (*allauth.Response, error)
	ResetPasswordWithKey(ctx context.Context, key, password, password2 string) (*allauth.Response, error)
	ChangePassword(ctx context.Context, change allauth.PasswordChange) (*allauth.Response, error)
	VerifyEmail(ctx context.Context, key string) (*allauth.Response, error)
	ResendEmailVerification(ctx context.Context) (*allauth.Response, error)
	RefreshToken(ctx context.Context, refreshToken string) (*allauth.Response, error)
	CSRFToken() string
	ClearSessionToken()
}

var _ Client = (*allauth.Client)(nil)

// ProfileFetcher loads the extended profile of a user once onboarding is done.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (json.RawMessage, error)
}

// ProfileFetcherFunc adapts a function to ProfileFetcher.
type ProfileFetcherFunc func(ctx context.Context, userID string) (json.RawMessage, error)

func (f ProfileFetcherFunc) FetchProfile(ctx context.Context, userID string) (json.RawMessage, error) {
	return f(ctx, userID)
}

// Store is the session manager. Construct one per process and share it.
// Field reads are safe from any goroutine; state changing operations must
// not run concurrently with each other.
type Store struct {
	client   Client
	durable  storage.KV
	profiles ProfileFetcher
	logger   zerolog.Logger
	metrics  metrics.Recorder

	mu          sync.RWMutex
	session     Session
	user        *AuthUser
	profile     json.RawMessage
	institution json.RawMessage
}

// Option defines a function type to modify the Store instance.
type Option func(*Store)

func WithProfileFetcher(f ProfileFetcher) Option {
	return func(s *Store) {
		s.profiles = f
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Store) {
		s.metrics = r
	}
}

// NewStore creates a store backed by client and the durable key/value store.
func NewStore(client Client, durable storage.KV, options ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("[NewStore] client is required")
	}
	if durable == nil {
		return nil, errors.New("[NewStore] durable storage is required")
	}

	s := &Store{
		client:  client,
		durable: durable,
		logger:  log.Logger.With().Str("component", "sessions").Logger(),
		metrics: metrics.Nop{},
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Session returns a copy of the current tokens.
func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// User returns a copy of the current user, nil when there is none.
func (s *Store) User() *AuthUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.clone()
}

func (s *Store) Profile() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRaw(s.profile)
}

// Institution returns the institution the user works in, nil when unset.
func (s *Store) Institution() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRaw(s.institution)
}

func copyRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// IsAuthenticated reports whether both an access token and a user are held.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken != "" && s.user != nil
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.user == nil:
		return Unauthenticated
	case s.session.AccessToken == "":
		if !s.user.EmailVerified {
			return PendingEmailVerification
		}
		return Unauthenticated
	case s.user.OnboardingCompleted:
		return Complete
	}
	return NeedsOnboarding
}

// AccessTokenExpiry reads the exp claim of the access token without
// verifying it. ok is false for opaque tokens or when no token is held.
func (s *Store) AccessTokenExpiry() (expiry time.Time, ok bool) {
	token := s.Session().AccessToken
	if token == "" {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// fail normalizes err, records the failure and returns the *AuthError.
func (s *Store) fail(operation string, err error) error {
	normalized := autherr.Normalize(err)
	s.logger.Warn().
		Str("operation", operation).
		Str("kind", normalized.Kind.String()).
		Int("status", normalized.Status).
		Str("code", normalized.Code).
		Msg(normalized.Message)
	s.metrics.RecordSessionOperation(operation, "error")
	return normalized
}

func (s *Store) succeed(operation, result string) {
	s.logger.Debug().Str("operation", operation).Str("result", result).Msg("session operation")
	s.metrics.RecordSessionOperation(operation, result)
}
