package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jrsteele09/go-auth-client/allauth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/social"
	"github.com/jrsteele09/go-auth-client/social/loopback"
	"github.com/jrsteele09/go-auth-client/storage/memory"
	"github.com/jrsteele09/go-auth-client/storage/sqlite"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// app holds the collaborators shared by every command.
type app struct {
	config   config.Config
	registry *prometheus.Registry
	recorder *metrics.Collector
	durable  *sqlite.Store
	client   *allauth.Client
	store    *sessions.Store
}

func newApp(c config.Config) (*app, error) {
	registry := prometheus.NewRegistry()
	recorder := metrics.NewCollector(registry)

	if dir := filepath.Dir(c.GetDataFile()); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "[newApp] create %s", dir)
		}
	}
	durable, err := sqlite.Open(c.GetDataFile())
	if err != nil {
		return nil, errors.Wrap(err, "[newApp] open durable store")
	}

	options := []allauth.ClientOption{
		allauth.WithHTTPClient(&http.Client{Timeout: c.GetRequestTimeout()}),
		allauth.WithTokenStorage(memory.New()),
	}
	if c.GetEnableRateLimiting() {
		options = append(options, allauth.WithRateLimiter(rate.NewLimiter(c.GetRateLimit(), 1)))
	}
	client, err := allauth.NewClient(c.GetAPIBaseURL(), options...)
	if err != nil {
		_ = durable.Close()
		return nil, err
	}

	store, err := sessions.NewStore(client, durable, sessions.WithMetrics(recorder))
	if err != nil {
		_ = durable.Close()
		return nil, err
	}

	return &app{
		config:   c,
		registry: registry,
		recorder: recorder,
		durable:  durable,
		client:   client,
		store:    store,
	}, nil
}

func (a *app) close() {
	if err := a.durable.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close durable store")
	}
}

func (a *app) metricsHandler() http.Handler {
	return metrics.Handler(a.registry)
}

// negotiator starts the loopback callback server and returns a negotiator
// using it as its window opener. stop shuts the server down.
func (a *app) negotiator(ctx context.Context) (n *social.Negotiator, stop func(), err error) {
	providers := []social.Provider{social.Google(), social.Microsoft()}
	server, err := loopback.New(a.config.GetCallbackAddr(), providers, loopback.WithEnv(a.config.GetEnv()))
	if err != nil {
		return nil, nil, err
	}
	go func() {
		if err := server.Serve(); err != nil {
			log.Error().Err(err).Msg("callback server stopped")
		}
	}()
	stop = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("callback server shutdown")
		}
	}

	options := []social.Option{
		social.WithPollInterval(a.config.GetPopupPollInterval()),
		social.WithTimeout(a.config.GetNegotiationTimeout()),
		social.WithMetrics(a.recorder),
	}
	if a.config.GetVerifyIDTokens() {
		verifiers, err := a.idTokenVerifiers(ctx, providers)
		if err != nil {
			stop()
			return nil, nil, err
		}
		options = append(options, verifiers...)
	}

	n, err = social.NewNegotiator(a.client, a.store, server, memory.New(), server.Origin(), options...)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return n, stop, nil
}

func (a *app) idTokenVerifiers(ctx context.Context, providers []social.Provider) ([]social.Option, error) {
	configured, err := a.client.GetSocialProviders(ctx)
	if err != nil {
		return nil, err
	}
	clientIDs := make(map[string]string, len(configured))
	for _, p := range configured {
		clientIDs[p.ID] = p.ClientID
	}

	var options []social.Option
	for _, p := range providers {
		if !p.UseNonce || p.Issuer == "" || clientIDs[p.ID] == "" {
			continue
		}
		verifier, err := social.NewOIDCVerifier(ctx, p.Issuer, clientIDs[p.ID])
		if err != nil {
			return nil, err
		}
		options = append(options, social.WithIDTokenVerifier(p.ID, verifier))
	}
	return options, nil
}
