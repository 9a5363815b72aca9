package config

import (
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Config interface {
	EnvConfig
	APIConfig
	SocialConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() zerolog.Level
	GetDataFile() string
}

type mainConfig struct {
	EnvVars
	API
	Social
}

// New reads the configuration from the environment.
func New() (Config, error) {
	return parse(env.Options{})
}

// NewFromMap reads the configuration from vars instead of the environment.
func NewFromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var c mainConfig
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, errors.Wrap(err, "[config.New] parse environment")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c mainConfig) validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "[config.New] LOG_LEVEL %q", c.LogLevel)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("[config.New] LQ_API_BASE_URL %q is not an absolute URL", c.BaseURL)
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("[config.New] LQ_REQUESTS_PER_SECOND must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("[config.New] LQ_REQUEST_TIMEOUT must be positive")
	}
	if c.PopupPollInterval <= 0 || c.NegotiationTimeout <= 0 {
		return errors.New("[config.New] LQ_POPUP_POLL_INTERVAL and LQ_NEGOTIATION_TIMEOUT must be positive")
	}
	return nil
}
