package allauth

// APIPrefix is prepended to every endpoint path.
const APIPrefix = "/_allauth/browser/v1"

// Endpoint paths, relative to APIPrefix
const (
	// Meta
	EndpointConfig = "/config"

	// Auth
	EndpointLogin   = "/auth/login"
	EndpointSession = "/auth/session" // GET rotates, DELETE logs out
	EndpointSignup  = "/auth/signup"

	// Tokens
	EndpointRefreshToken = "/auth/token/refresh"

	// Password
	EndpointRequestPasswordReset = "/auth/password/request"
	EndpointResetPassword        = "/auth/password/reset"
	EndpointResetPasswordKey     = "/auth/password/reset/key"
	EndpointChangePassword       = "/account/password/change"

	// Email
	EndpointVerifyEmail             = "/auth/email/verify"
	EndpointResendEmailVerification = "/auth/resend-verification"

	// Social
	EndpointSocialLogin = "/auth/social"
)

const (
	defaultBaseURL = "http://localhost:8000"

	csrfCookieName     = "csrftoken"
	csrfHeaderName     = "X-CSRFToken"
	sessionTokenHeader = "X-Session-Token"

	// SessionTokenKey is the ephemeral storage key for the app session token.
	SessionTokenKey = "sessionToken"
)
