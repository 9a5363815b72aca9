package config

import (
	"time"

	"golang.org/x/time/rate"
)

type APIConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
	GetEnableRateLimiting() bool
	GetRateLimit() rate.Limit
}

type API struct {
	BaseURL           string        `env:"LQ_API_BASE_URL" envDefault:"http://localhost:8000"`
	RequestTimeout    time.Duration `env:"LQ_REQUEST_TIMEOUT" envDefault:"15s"`
	RequestsPerSecond float64       `env:"LQ_REQUESTS_PER_SECOND" envDefault:"5"`
}

var _ APIConfig = API{}

func (a API) GetAPIBaseURL() string {
	return a.BaseURL
}

func (a API) GetRequestTimeout() time.Duration {
	return a.RequestTimeout
}

func (a API) GetEnableRateLimiting() bool {
	return a.RequestsPerSecond > 0
}

func (a API) GetRateLimit() rate.Limit {
	return rate.Limit(a.RequestsPerSecond)
}
