package config

import "time"

type SocialConfig interface {
	GetCallbackAddr() string
	GetPopupPollInterval() time.Duration
	GetNegotiationTimeout() time.Duration
	GetVerifyIDTokens() bool
}

type Social struct {
	CallbackAddr       string        `env:"LQ_CALLBACK_ADDR" envDefault:"127.0.0.1:5173"`
	PopupPollInterval  time.Duration `env:"LQ_POPUP_POLL_INTERVAL" envDefault:"500ms"`
	NegotiationTimeout time.Duration `env:"LQ_NEGOTIATION_TIMEOUT" envDefault:"5m"`
	VerifyIDTokens     bool          `env:"LQ_VERIFY_ID_TOKENS" envDefault:"false"`
}

var _ SocialConfig = Social{}

// GetCallbackAddr is the local address the callback pages are served on.
func (s Social) GetCallbackAddr() string {
	return s.CallbackAddr
}

func (s Social) GetPopupPollInterval() time.Duration {
	return s.PopupPollInterval
}

func (s Social) GetNegotiationTimeout() time.Duration {
	return s.NegotiationTimeout
}

// GetVerifyIDTokens enables OIDC ID token and nonce checks for providers that
// return an ID token.
func (s Social) GetVerifyIDTokens() bool {
	return s.VerifyIDTokens
}
