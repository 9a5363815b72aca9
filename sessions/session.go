package sessions

import (
	"encoding/json"
	"strings"

	"github.com/jrsteele09/go-auth-client/allauth"
)

// Durable storage keys. The refresh token never has one.
const (
	KeyAccessToken = "auth_token"
	KeyUser        = "auth_user"
	KeyProfile     = "auth_user_profile_complete"
	KeyInstitution = "auth_institution"
)

// DurableKeys lists every key the store may write to durable storage.
func DurableKeys() []string {
	return []string{KeyAccessToken, KeyUser, KeyProfile, KeyInstitution}
}

// Error codes the store branches on.
const (
	CodeEmailNotVerified = "email_not_verified"
	FlowVerifyEmail      = "verify_email"
)

// Session holds the tokens of the authenticated session.
type Session struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"-"` // memory only
	CSRFToken    string `json:"csrf_token,omitempty"`
}

// AuthUser is the snapshot of the signed in account, replaced wholesale on
// every session establishing call.
type AuthUser struct {
	ID                  string `json:"id"`
	Display             string `json:"display,omitempty"`
	Email               string `json:"email"`
	Username            string `json:"username,omitempty"`
	HasUsablePassword   bool   `json:"has_usable_password,omitempty"`
	EmailVerified       bool   `json:"email_verified"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
}

func userFromAllauth(u *allauth.User) *AuthUser {
	if u == nil {
		return nil
	}
	return &AuthUser{
		ID:                  u.ID.String(),
		Display:             u.Display,
		Email:               u.Email,
		Username:            u.Username,
		HasUsablePassword:   u.HasUsablePassword,
		EmailVerified:       u.EmailVerified,
		OnboardingCompleted: u.OnboardingCompleted,
	}
}

func (u *AuthUser) clone() *AuthUser {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// State is the position of the store in the session lifecycle.
type State int

const (
	Unauthenticated State = iota
	PendingEmailVerification
	NeedsOnboarding
	Complete
)

func (s State) String() string {
	switch s {
	case PendingEmailVerification:
		return "pending_email_verification"
	case NeedsOnboarding:
		return "needs_onboarding"
	case Complete:
		return "complete"
	}
	return "unauthenticated"
}

// LoginResult is returned by Login for every expected outcome.
type LoginResult struct {
	Success                   bool
	RequiresEmailVerification bool
}

// RegistrationForm is the sign up input. Email doubles as the username.
type RegistrationForm struct {
	Email     string
	Password  string
	Password2 string
	FirstName string
	LastName  string
}

func (f RegistrationForm) registration() allauth.Registration {
	email := strings.TrimSpace(f.Email)
	return allauth.Registration{
		Email:     email,
		Username:  email,
		Password:  f.Password,
		Password2: f.Password2,
		FirstName: strings.TrimSpace(f.FirstName),
		LastName:  strings.TrimSpace(f.LastName),
	}
}

type RegisterResult struct {
	Success                   bool
	RequiresEmailVerification bool
	EmailVerified             bool
}

// VerificationResult is returned by VerifyEmail and ResendEmailVerification.
// Conflict means the address is already verified or the backend is rate
// limiting verification mails.
type VerificationResult struct {
	Success  bool
	Conflict bool
}

// snapshot is the decoded form of the durable keys.
type snapshot struct {
	accessToken string
	user        *AuthUser
	profile     json.RawMessage
	institution json.RawMessage
}
