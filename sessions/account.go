package sessions

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-auth-client/allauth"
	"github.com/pkg/errors"
)

// VerifyEmail confirms an address with the key from the verification mail.
// When the backend signs the user in as part of it, the session is
// established.
func (s *Store) VerifyEmail(ctx context.Context, key string) (VerificationResult, error) {
	const op = "verify_email"

	resp, err := s.client.VerifyEmail(ctx, key)
	if err != nil {
		return s.verificationFailure(op, err)
	}
	if resp.Meta.IsAuthenticated && resp.Meta.AccessToken != "" {
		if err := s.establish(ctx, resp); err != nil {
			return VerificationResult{}, s.fail(op, err)
		}
	}
	s.succeed(op, "success")
	return VerificationResult{Success: true}, nil
}

// ResendEmailVerification asks for another verification mail.
func (s *Store) ResendEmailVerification(ctx context.Context) (VerificationResult, error) {
	const op = "resend_verification"

	if _, err := s.client.ResendEmailVerification(ctx); err != nil {
		return s.verificationFailure(op, err)
	}
	s.succeed(op, "success")
	return VerificationResult{Success: true}, nil
}

func (s *Store) verificationFailure(op string, err error) (VerificationResult, error) {
	var re *allauth.ResponseError
	if errors.As(err, &re) && re.Status == http.StatusConflict {
		s.succeed(op, "conflict")
		return VerificationResult{Conflict: true}, nil
	}
	return VerificationResult{}, s.fail(op, err)
}

func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	if _, err := s.client.RequestPasswordReset(ctx, email); err != nil {
		return s.fail("password_reset_request", err)
	}
	s.succeed("password_reset_request", "success")
	return nil
}

func (s *Store) ResetPasswordWithKey(ctx context.Context, key, password, password2 string) error {
	if _, err := s.client.ResetPasswordWithKey(ctx, key, password, password2); err != nil {
		return s.fail("password_reset", err)
	}
	s.succeed("password_reset", "success")
	return nil
}

func (s *Store) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	change := allauth.PasswordChange{CurrentPassword: currentPassword, NewPassword: newPassword}
	if _, err := s.client.ChangePassword(ctx, change); err != nil {
		return s.fail("password_change", err)
	}
	s.succeed("password_change", "success")
	return nil
}
