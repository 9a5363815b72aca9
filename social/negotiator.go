// Package social runs OAuth2 implicit flow logins through an external
// authorization window and hands the provider tokens to the backend.
package social

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/allauth"
	"github.com/jrsteele09/go-auth-client/autherr"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 5 * time.Minute
)

// Client is the part of the allauth API the negotiator needs.
type Client interface {
	GetSocialProviders(ctx context.Context) ([]allauth.Provider, error)
	SocialLogin(ctx context.Context, provider, accessToken, idToken string) (*allauth.Response, error)
}

var _ Client = (*allauth.Client)(nil)

// SessionEstablisher is the shared post login path, usually *sessions.Store.
type SessionEstablisher interface {
	EstablishSession(ctx context.Context, resp *allauth.Response) error
}

// IDTokenVerifier checks an ID token; *oidc.IDTokenVerifier satisfies it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Negotiator drives one social login at a time.
type Negotiator struct {
	client       Client
	sessions     SessionEstablisher
	opener       Opener
	volatile     storage.KV
	appOrigin    string
	providers    map[string]Provider
	verifiers    map[string]IDTokenVerifier
	pollInterval time.Duration
	timeout      time.Duration
	newID        func() string
	nowTime      func() time.Time
	logger       zerolog.Logger
	metrics      metrics.Recorder

	inFlight atomic.Bool
}

// Option defines a function type to modify the Negotiator instance.
type Option func(*Negotiator)

// WithProvider registers an extra provider or replaces a built in one.
func WithProvider(p Provider) Option {
	return func(n *Negotiator) {
		n.providers[p.ID] = p
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(n *Negotiator) {
		n.pollInterval = d
	}
}

func WithTimeout(d time.Duration) Option {
	return func(n *Negotiator) {
		n.timeout = d
	}
}

// WithIDTokenVerifier enables ID token and nonce verification for providerID.
func WithIDTokenVerifier(providerID string, v IDTokenVerifier) Option {
	return func(n *Negotiator) {
		n.verifiers[providerID] = v
	}
}

// WithIDGenerator replaces the state and nonce generator (primarily for testing)
func WithIDGenerator(fn func() string) Option {
	return func(n *Negotiator) {
		n.newID = fn
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(fn func() time.Time) Option {
	return func(n *Negotiator) {
		n.nowTime = fn
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(n *Negotiator) {
		n.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(n *Negotiator) {
		n.metrics = r
	}
}

// NewNegotiator wires a negotiator. appOrigin is the origin messages must
// come from and the base of every redirect URI.
func NewNegotiator(
	client Client,
	sessions SessionEstablisher,
	opener Opener,
	volatile storage.KV,
	appOrigin string,
	options ...Option,
) (*Negotiator, error) {
	if client == nil {
		return nil, errors.New("[NewNegotiator] client is required")
	}
	if sessions == nil {
		return nil, errors.New("[NewNegotiator] sessions is required")
	}
	if opener == nil {
		return nil, errors.New("[NewNegotiator] opener is required")
	}
	if volatile == nil {
		return nil, errors.New("[NewNegotiator] volatile storage is required")
	}
	if appOrigin == "" {
		return nil, errors.New("[NewNegotiator] appOrigin is required")
	}

	google, microsoft := Google(), Microsoft()
	n := &Negotiator{
		client:       client,
		sessions:     sessions,
		opener:       opener,
		volatile:     volatile,
		appOrigin:    appOrigin,
		providers:    map[string]Provider{google.ID: google, microsoft.ID: microsoft},
		verifiers:    map[string]IDTokenVerifier{},
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		newID:        uuid.NewString,
		nowTime:      time.Now,
		logger:       log.Logger.With().Str("component", "social").Logger(),
		metrics:      metrics.Nop{},
	}
	for _, opt := range options {
		opt(n)
	}
	return n, nil
}

// NewOIDCVerifier discovers issuer and returns a verifier for ID tokens
// issued to clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrapf(err, "[NewOIDCVerifier] discover %s", issuer)
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// Providers returns the IDs of the registered providers.
func (n *Negotiator) Providers() []string {
	ids := make([]string, 0, len(n.providers))
	for id := range n.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Login runs a full negotiation with providerID and, on success, leaves the
// session established. Every error is an *autherr.AuthError.
func (n *Negotiator) Login(ctx context.Context, providerID string) error {
	started := n.nowTime()
	err := n.login(ctx, providerID)
	elapsed := n.nowTime().Sub(started)

	if err != nil {
		normalized := autherr.Normalize(err)
		n.logger.Warn().
			Str("provider", providerID).
			Str("kind", normalized.Kind.String()).
			Msg(normalized.Message)
		n.metrics.RecordNegotiation(providerID, normalized.Kind.String(), elapsed)
		return normalized
	}

	n.logger.Info().Str("provider", providerID).Dur("elapsed", elapsed).Msg("social login completed")
	n.metrics.RecordNegotiation(providerID, "success", elapsed)
	return nil
}

func (n *Negotiator) login(ctx context.Context, providerID string) error {
	p, ok := n.providers[providerID]
	if !ok {
		return errors.Wrapf(autherr.ErrNotConfigured, "[Negotiator.Login] unknown provider %q", providerID)
	}
	if !n.inFlight.CompareAndSwap(false, true) {
		return errors.Wrap(autherr.ErrInProgress, "[Negotiator.Login]")
	}
	defer n.inFlight.Store(false)

	clientID, err := n.clientID(ctx, p)
	if err != nil {
		return err
	}

	neg, err := n.begin(p)
	if err != nil {
		return err
	}

	authURL := p.AuthURL(clientID, n.appOrigin+p.CallbackPath(), neg.state, neg.nonce)
	window, err := n.opener.Open(ctx, authURL)
	if err != nil {
		n.forget(p)
		n.logger.Debug().Err(err).Str("provider", p.ID).Msg("authorization window could not be opened")
		return errors.Wrapf(autherr.ErrPopupBlocked, "[Negotiator.Login] %s", p.ID)
	}
	neg.window = window
	neg.startedAt = n.nowTime()

	s := n.await(ctx, neg)
	if s.err != nil {
		return s.err
	}
	return n.exchange(ctx, neg, s)
}

func (n *Negotiator) clientID(ctx context.Context, p Provider) (string, error) {
	configured, err := n.client.GetSocialProviders(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range configured {
		if c.ID == p.ID && c.ClientID != "" {
			return c.ClientID, nil
		}
	}
	return "", errors.Wrapf(autherr.ErrNotConfigured, "[Negotiator.Login] %s client id", p.ID)
}

// negotiation is the state of one in flight login. It never leaves Login.
type negotiation struct {
	provider  Provider
	state     string
	nonce     string
	window    Window
	startedAt time.Time
}

// settlement is the single terminal event of a negotiation together with the
// state and nonce consumed at teardown.
type settlement struct {
	msg         Message
	storedState string
	storedNonce string
	err         error
}

func (n *Negotiator) begin(p Provider) (*negotiation, error) {
	neg := &negotiation{provider: p, state: n.newID()}
	if err := n.volatile.Set(p.StateKey(), neg.state); err != nil {
		return nil, errors.Wrap(err, "[Negotiator.begin] store state")
	}
	if p.UseNonce {
		neg.nonce = n.newID()
		if err := n.volatile.Set(p.NonceKey(), neg.nonce); err != nil {
			n.forget(p)
			return nil, errors.Wrap(err, "[Negotiator.begin] store nonce")
		}
	}
	return neg, nil
}

// await races the window's messages, the closed poll, the absolute timeout
// and ctx. The first event settles the negotiation and everything else is
// torn down before await returns.
func (n *Negotiator) await(ctx context.Context, neg *negotiation) (s settlement) {
	ticker := time.NewTicker(n.pollInterval)
	timer := time.NewTimer(n.timeout)

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			ticker.Stop()
			timer.Stop()
			if err := neg.window.Close(); err != nil {
				n.logger.Debug().Err(err).Msg("authorization window already closed")
			}
			s.storedState, s.storedNonce = n.consume(neg.provider)
		})
	}
	defer teardown()

	messages := neg.window.Messages()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			if n.accepts(neg, msg) {
				s.msg = msg
				return s
			}
		case <-ticker.C:
			if !neg.window.Closed() {
				continue
			}
			// The closing tab may have posted its callback just before going away.
			if msg, ok := n.drain(neg, messages); ok {
				s.msg = msg
				return s
			}
			s.err = errors.Wrap(autherr.ErrCancelled, "[Negotiator.await]")
			return s
		case <-timer.C:
			s.err = errors.Wrap(autherr.ErrTimeout, "[Negotiator.await]")
			return s
		case <-ctx.Done():
			s.err = errors.Wrap(ctx.Err(), "[Negotiator.await]")
			return s
		}
	}
}

func (n *Negotiator) accepts(neg *negotiation, msg Message) bool {
	if msg.Origin != n.appOrigin {
		n.logger.Debug().Str("origin", msg.Origin).Msg("discarding message from foreign origin")
		return false
	}
	return msg.Type == neg.provider.MessageType
}

// drain returns the first acceptable message already buffered on messages.
func (n *Negotiator) drain(neg *negotiation, messages <-chan Message) (Message, bool) {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return Message{}, false
			}
			if n.accepts(neg, msg) {
				return msg, true
			}
		default:
			return Message{}, false
		}
	}
}

func (n *Negotiator) exchange(ctx context.Context, neg *negotiation, s settlement) error {
	p := neg.provider
	if s.msg.Error != "" {
		return errors.Wrapf(autherr.ErrProvider, "%s", s.msg.Error)
	}
	if s.storedState == "" || s.msg.State != s.storedState {
		n.logger.Warn().Str("provider", p.ID).Msg("state mismatch on authorization callback")
		return errors.Wrap(autherr.ErrCSRF, "[Negotiator.exchange]")
	}

	if verifier, ok := n.verifiers[p.ID]; ok && p.UseNonce {
		token, err := verifier.Verify(ctx, s.msg.IDToken)
		if err != nil {
			return errors.Wrapf(autherr.ErrProvider, "[Negotiator.exchange] id token rejected: %v", err)
		}
		if s.storedNonce == "" || token.Nonce != s.storedNonce {
			return errors.Wrap(autherr.ErrNonceMismatch, "[Negotiator.exchange]")
		}
	}

	resp, err := n.client.SocialLogin(ctx, p.ID, s.msg.AccessToken, s.msg.IDToken)
	if err != nil {
		return err
	}
	return n.sessions.EstablishSession(ctx, resp)
}

// consume reads and deletes the provider's state and nonce.
func (n *Negotiator) consume(p Provider) (state, nonce string) {
	state, _, err := n.volatile.Get(p.StateKey())
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to read oauth state")
	}
	if p.UseNonce {
		nonce, _, err = n.volatile.Get(p.NonceKey())
		if err != nil {
			n.logger.Error().Err(err).Msg("failed to read oauth nonce")
		}
	}
	n.forget(p)
	return state, nonce
}

func (n *Negotiator) forget(p Provider) {
	for _, key := range []string{p.StateKey(), p.NonceKey()} {
		if err := n.volatile.Delete(key); err != nil {
			n.logger.Error().Err(err).Str("key", key).Msg("failed to remove oauth key")
		}
	}
}
