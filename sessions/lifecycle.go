package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-client/allauth"
	"github.com/jrsteele09/go-auth-client/autherr"
	"github.com/pkg/errors"
)

// Login signs in with email and password. An unverified address is an
// expected outcome reported through the result, not an error.
func (s *Store) Login(ctx context.Context, email, password string) (LoginResult, error) {
	const op = "login"

	resp, err := s.client.Login(ctx, allauth.Credentials{Email: email, Password: password})
	if err != nil {
		if envelope, ok := emailNotVerified(err); ok {
			if err := s.setUser(userFromAllauth(envelope.Data.User)); err != nil {
				return LoginResult{}, s.fail(op, err)
			}
			s.succeed(op, "verification_required")
			return LoginResult{RequiresEmailVerification: true}, nil
		}
		return LoginResult{}, s.fail(op, err)
	}

	if !resp.Meta.IsAuthenticated {
		return LoginResult{}, s.fail(op, notAuthenticatedError(resp))
	}
	if err := s.establish(ctx, resp); err != nil {
		return LoginResult{}, s.fail(op, err)
	}

	s.succeed(op, "success")
	return LoginResult{Success: true}, nil
}

// Register creates an account. A 201 means the account exists but the
// address still has to be verified; tokens are only kept once the backend
// reports the address as verified.
func (s *Store) Register(ctx context.Context, form RegistrationForm) (RegisterResult, error) {
	const op = "register"

	resp, err := s.client.SignUp(ctx, form.registration())
	if err != nil {
		var re *allauth.ResponseError
		if !errors.As(err, &re) || re.Status != http.StatusCreated {
			return RegisterResult{}, s.fail(op, err)
		}
		resp = re.Envelope()
	}

	user := userFromAllauth(resp.Data.User)
	if user != nil {
		if err := s.setUser(user); err != nil {
			return RegisterResult{}, s.fail(op, err)
		}
	}

	result := RegisterResult{
		Success:                   true,
		RequiresEmailVerification: resp.Status == http.StatusCreated || !resp.Meta.IsAuthenticated,
		EmailVerified:             user != nil && user.EmailVerified,
	}

	if resp.Meta.IsAuthenticated {
		if result.EmailVerified && resp.Meta.AccessToken != "" {
			if err := s.setTokens(resp.Meta.AccessToken, resp.Meta.RefreshToken); err != nil {
				return RegisterResult{}, s.fail(op, err)
			}
		}
		switch {
		case result.EmailVerified:
			if err := s.RefreshSessionTokens(ctx); err != nil {
				s.clear()
				return RegisterResult{}, s.fail(op, err)
			}
		case user != nil && user.OnboardingCompleted:
			if err := s.fetchProfile(ctx, user.ID); err != nil {
				return RegisterResult{}, s.fail(op, err)
			}
		}
	}

	s.succeed(op, "success")
	return result, nil
}

// Logout ends the backend session on a best effort basis and always clears
// every local session field along with the client's session token and
// cookies.
func (s *Store) Logout(ctx context.Context) {
	if _, err := s.client.Logout(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
	}
	s.client.ClearSessionToken()
	s.clear()
	s.succeed("logout", "success")
}

// RestoreSession loads the persisted session and rotates it right away.
// Any failure wipes memory and storage.
func (s *Store) RestoreSession(ctx context.Context) error {
	const op = "restore"

	snap, found, err := s.loadSnapshot()
	if err != nil {
		s.clear()
		return s.fail(op, err)
	}
	if !found {
		s.succeed(op, "empty")
		return nil
	}

	s.mu.Lock()
	s.session.AccessToken = snap.accessToken
	s.user = snap.user
	s.profile = snap.profile
	s.institution = snap.institution
	s.mu.Unlock()

	if err := s.RefreshSessionTokens(ctx); err != nil {
		s.clear()
		return s.fail(op, err)
	}

	s.succeed(op, "success")
	return nil
}

// RefreshSessionTokens asks the backend for the current session using the
// held access token and stores the rotated tokens and user.
func (s *Store) RefreshSessionTokens(ctx context.Context) error {
	const op = "refresh"

	resp, err := s.client.GetSession(ctx, s.Session().AccessToken)
	if err != nil {
		return s.fail(op, err)
	}
	if !resp.Meta.IsAuthenticated {
		return s.fail(op, notAuthenticatedError(resp))
	}

	if resp.Meta.AccessToken != "" {
		if err := s.setTokens(resp.Meta.AccessToken, resp.Meta.RefreshToken); err != nil {
			return s.fail(op, err)
		}
	}
	if resp.Data.User != nil {
		if err := s.setUser(userFromAllauth(resp.Data.User)); err != nil {
			return s.fail(op, err)
		}
	}
	s.setCSRFToken()

	s.succeed(op, "success")
	return nil
}

// RefreshAuthToken exchanges the in-memory refresh token for a new access
// token. Any failure logs the user out.
func (s *Store) RefreshAuthToken(ctx context.Context) error {
	const op = "refresh_token"

	refreshToken := s.Session().RefreshToken
	if refreshToken == "" {
		s.Logout(ctx)
		return s.fail(op, errors.Wrap(autherr.ErrNotAuthenticated, "[Store.RefreshAuthToken] no refresh token held"))
	}

	resp, err := s.client.RefreshToken(ctx, refreshToken)
	if err == nil && resp.Meta.AccessToken == "" {
		err = errors.Wrap(autherr.ErrNotAuthenticated, "[Store.RefreshAuthToken] no access token in response")
	}
	if err != nil {
		s.Logout(ctx)
		return s.fail(op, err)
	}

	if err := s.setTokens(resp.Meta.AccessToken, resp.Meta.RefreshToken); err != nil {
		s.Logout(ctx)
		return s.fail(op, err)
	}
	s.succeed(op, "success")
	return nil
}

// EstablishSession applies an authenticated response through the same path
// used by password login. Social login feeds its exchange result here.
func (s *Store) EstablishSession(ctx context.Context, resp *allauth.Response) error {
	if resp == nil || !resp.Meta.IsAuthenticated {
		return s.fail("establish", notAuthenticatedError(resp))
	}
	if err := s.establish(ctx, resp); err != nil {
		return s.fail("establish", err)
	}
	s.succeed("establish", "success")
	return nil
}

func (s *Store) establish(ctx context.Context, resp *allauth.Response) error {
	if resp.Meta.AccessToken != "" {
		if err := s.setTokens(resp.Meta.AccessToken, resp.Meta.RefreshToken); err != nil {
			return err
		}
	}
	user := userFromAllauth(resp.Data.User)
	if err := s.setUser(user); err != nil {
		return err
	}
	s.setCSRFToken()

	if user != nil && user.OnboardingCompleted {
		return s.fetchProfile(ctx, user.ID)
	}
	return nil
}

// MarkOnboardingCompleted flags the current user as onboarded and loads the
// extended profile.
func (s *Store) MarkOnboardingCompleted(ctx context.Context) error {
	const op = "onboarding"

	user := s.User()
	if user == nil {
		return s.fail(op, errors.Wrap(autherr.ErrNotAuthenticated, "[Store.MarkOnboardingCompleted]"))
	}
	user.OnboardingCompleted = true
	if err := s.setUser(user); err != nil {
		return s.fail(op, err)
	}
	if err := s.fetchProfile(ctx, user.ID); err != nil {
		return s.fail(op, err)
	}
	s.succeed(op, "success")
	return nil
}

// SetProfile stores an extended profile obtained by the caller.
func (s *Store) SetProfile(profile json.RawMessage) error {
	if len(profile) > 0 && !json.Valid(profile) {
		return s.fail("profile", errors.New("[Store.SetProfile] profile is not valid JSON"))
	}
	if err := s.setProfile(profile); err != nil {
		return s.fail("profile", err)
	}
	return nil
}

// SetInstitution stores the institution the user belongs to. An empty value
// clears it.
func (s *Store) SetInstitution(institution json.RawMessage) error {
	if len(institution) > 0 && !json.Valid(institution) {
		return s.fail("institution", errors.New("[Store.SetInstitution] institution is not valid JSON"))
	}
	if err := s.setInstitution(institution); err != nil {
		return s.fail("institution", err)
	}
	return nil
}

func (s *Store) ClearInstitution() error {
	if err := s.setInstitution(nil); err != nil {
		return s.fail("institution", err)
	}
	return nil
}

func (s *Store) fetchProfile(ctx context.Context, userID string) error {
	if s.profiles == nil {
		return nil
	}
	profile, err := s.profiles.FetchProfile(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "[Store.fetchProfile]")
	}
	return s.setProfile(profile)
}

func (s *Store) setCSRFToken() {
	token := s.client.CSRFToken()
	s.mu.Lock()
	s.session.CSRFToken = token
	s.mu.Unlock()
}

// emailNotVerified matches a 403 carrying email_not_verified and returns
// the envelope with the partial user.
func emailNotVerified(err error) (*allauth.Response, bool) {
	var re *allauth.ResponseError
	if !errors.As(err, &re) || re.Status != http.StatusForbidden {
		return nil, false
	}
	envelope := re.Envelope()
	if !envelope.HasErrorCode(CodeEmailNotVerified) {
		return nil, false
	}
	return envelope, true
}

// notAuthenticatedError turns a 2xx response that did not authenticate into
// a shaped error carrying the response's status and errors.
func notAuthenticatedError(resp *allauth.Response) error {
	if resp == nil {
		return errors.Wrap(autherr.ErrNotAuthenticated, "[sessions] no response")
	}

	message := "login failed"
	switch {
	case len(resp.Data.Errors) > 0 && resp.Data.Errors[0].Message != "":
		message = resp.Data.Errors[0].Message
	case len(resp.Data.Flows) > 0:
		if flow := resp.Data.Flows[0]; flow.ID == FlowVerifyEmail {
			message = "email verification is required before continuing"
		} else {
			message = fmt.Sprintf("flow %q must be completed first", flow.ID)
		}
	}

	data := map[string]any{}
	if len(resp.Data.Errors) > 0 {
		data["errors"] = errorEntries(resp.Data.Errors)
	}
	if len(resp.Data.Flows) > 0 {
		flows := make([]any, 0, len(resp.Data.Flows))
		for _, flow := range resp.Data.Flows {
			flows = append(flows, map[string]any{"id": flow.ID, "is_pending": flow.IsPending})
		}
		data["flows"] = flows
	}
	body := map[string]any{
		"status": resp.Status,
		"data":   data,
		"meta":   map[string]any{"is_authenticated": resp.Meta.IsAuthenticated},
	}
	if len(resp.Errors) > 0 {
		body["errors"] = errorEntries(resp.Errors)
	}
	return &allauth.ResponseError{Status: resp.Status, Message: message, Body: body}
}

// errorEntries renders details the way a decoded JSON body holds them.
func errorEntries(details []allauth.ErrorDetail) []any {
	entries := make([]any, 0, len(details))
	for _, d := range details {
		entry := map[string]any{"code": d.Code, "message": d.Message}
		if d.Param != "" {
			entry["param"] = d.Param
		}
		entries = append(entries, entry)
	}
	return entries
}
