package autherr

import (
	"errors"
	"fmt"
)

// Sentinel errors raised inside the client. Normalize maps each of them onto a Kind.
var (
	// Social login errors
	ErrCSRF          = errors.New("invalid state parameter, possible CSRF attack")
	ErrNonceMismatch = errors.New("id token nonce does not match")
	ErrPopupBlocked  = errors.New("popup blocked, allow popups for this site")
	ErrCancelled     = errors.New("login cancelled, popup was closed")
	ErrTimeout       = errors.New("login timeout, no response received")
	ErrProvider      = errors.New("identity provider returned an error")
	ErrNotConfigured = errors.New("provider not configured")
	ErrInProgress    = errors.New("a social login is already in progress")

	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")

	// Kind markers, matched by (*AuthError).Is
	ErrNetwork    = errors.New("network error")
	ErrProtocol   = errors.New("protocol error")
	ErrValidation = errors.New("validation error")
)

// Kind is the error taxonomy exposed to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindProtocol
	KindValidation
	KindCSRF
	KindPopupBlocked
	KindCancelled
	KindTimeout
	KindProvider
	KindConfig
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindNetwork:      "network",
	KindProtocol:     "protocol",
	KindValidation:   "validation",
	KindCSRF:         "csrf",
	KindPopupBlocked: "popup_blocked",
	KindCancelled:    "cancelled",
	KindTimeout:      "timeout",
	KindProvider:     "provider",
	KindConfig:       "config",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// kindMarkers links a Kind to the sentinel errors.Is should match for it.
var kindMarkers = map[Kind]error{
	KindNetwork:      ErrNetwork,
	KindProtocol:     ErrProtocol,
	KindValidation:   ErrValidation,
	KindCSRF:         ErrCSRF,
	KindPopupBlocked: ErrPopupBlocked,
	KindCancelled:    ErrCancelled,
	KindTimeout:      ErrTimeout,
	KindProvider:     ErrProvider,
	KindConfig:       ErrNotConfigured,
}

// AuthError is the canonical error shape handed to callers.
// Status is 0 and Code is empty when the failure carried none.
type AuthError struct {
	Message string
	Status  int
	Code    string
	Kind    Kind
	Fields  map[string][]string // per-field messages, set for validation failures

	cause error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.cause
}

// Is lets errors.Is(err, ErrTimeout) and friends match on the Kind.
func (e *AuthError) Is(target error) bool {
	marker, ok := kindMarkers[e.Kind]
	return ok && marker == target
}

// HasCode reports whether err normalizes to an AuthError carrying code.
func HasCode(err error, code string) bool {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == code
}
