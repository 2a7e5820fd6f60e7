package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"harbor/api/internal/authpw"
	"harbor/api/internal/oauth"
	"harbor/api/internal/security"
)

type SignUpInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type SignUpResult struct {
	UserID string
	// DevVerificationToken is set only when no mailer is configured, so the
	// flow stays testable without SMTP.
	DevVerificationToken string
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (SignUpResult, error) {
	resp, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailTaken):
			return SignUpResult{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		case errors.Is(err, authpw.ErrWeakPassword):
			return SignUpResult{}, domainError(http.StatusUnprocessableEntity, "WEAK_PASSWORD", err.Error(), nil)
		default:
			return SignUpResult{}, domainError(http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		}
	}

	result := SignUpResult{UserID: resp.UserID}
	if s.SMTPConfigured() {
		verifyURL := s.cfg.AppBaseURL + "/verify-email?token=" + resp.VerificationToken
		if err := s.email.SendVerificationEmail(input.Email, input.DisplayName, verifyURL); err != nil {
			log.Printf("send verification email: %v", err)
		}
	} else {
		result.DevVerificationToken = resp.VerificationToken
	}

	s.audit(ctx, Session{UserID: resp.UserID}, "user.signup", "user", resp.UserID, map[string]any{"email": input.Email})
	return result, nil
}

// SignIn authenticates and issues a session, translating auth outcomes to
// their API error shapes. ACCOUNT_LOCKED carries a retry-after hint.
func (s *Service) SignIn(ctx context.Context, emailAddr, password string, origin security.Origin) (Session, error) {
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{
		Email:    emailAddr,
		Password: password,
		Origin:   origin,
	})
	if err != nil {
		var locked *authpw.LockedError
		switch {
		case errors.As(err, &locked):
			if locked.JustLocked {
				s.notifyLockout(ctx, emailAddr, locked.Until)
			}
			return Session{}, domainError(http.StatusForbidden, "ACCOUNT_LOCKED", "Account temporarily locked after repeated failed logins", map[string]any{
				"lockedUntil":       locked.Until.UTC().Format(time.RFC3339),
				"retryAfterSeconds": int(time.Until(locked.Until).Seconds()),
			})
		case errors.Is(err, authpw.ErrEmailNotVerified):
			return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		case errors.Is(err, authpw.ErrAccountDisabled):
			return Session{}, domainError(http.StatusForbidden, "ACCOUNT_DISABLED", "Account is deactivated", nil)
		case errors.Is(err, authpw.ErrInvalidCredentials):
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		default:
			return Session{}, err
		}
	}
	return s.issueSession(ctx, user)
}

// notifyLockout sends the lockout notice at the moment the lock engages.
// Best effort; the lock itself is already in place.
func (s *Service) notifyLockout(ctx context.Context, emailAddr string, until time.Time) {
	if !s.SMTPConfigured() {
		return
	}
	user, err := s.store.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		return
	}
	resetURL := s.cfg.AppBaseURL + "/reset-password"
	if err := s.email.SendLockoutNotice(user.Email, user.DisplayName, until, resetURL); err != nil {
		log.Printf("send lockout notice: %v", err)
	}
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := s.authpw.VerifyEmail(ctx, token); err != nil {
		return domainError(http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
	}
	return nil
}

func (s *Service) ResendVerification(ctx context.Context, emailAddr string) (string, error) {
	token, err := s.authpw.ResendVerification(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if s.SMTPConfigured() {
		verifyURL := s.cfg.AppBaseURL + "/verify-email?token=" + token
		user, lookupErr := s.store.GetUserByEmail(ctx, emailAddr)
		if lookupErr == nil {
			if err := s.email.SendVerificationEmail(user.Email, user.DisplayName, verifyURL); err != nil {
				log.Printf("send verification email: %v", err)
			}
		}
		return "", nil
	}
	return token, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	token, err := s.authpw.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if s.SMTPConfigured() {
		resetURL := s.cfg.AppBaseURL + "/reset-password?token=" + token
		user, lookupErr := s.store.GetUserByEmail(ctx, emailAddr)
		if lookupErr == nil {
			if err := s.email.SendPasswordResetEmail(user.Email, user.DisplayName, resetURL); err != nil {
				log.Printf("send password reset email: %v", err)
			}
		}
		return "", nil
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.authpw.ResetPassword(ctx, authpw.ResetPasswordRequest{
		Token:       token,
		NewPassword: newPassword,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrWeakPassword) {
			return domainError(http.StatusUnprocessableEntity, "WEAK_PASSWORD", err.Error(), nil)
		}
		return domainError(http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
	}

	// A changed password invalidates every live session.
	if err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		log.Printf("revoke sessions after reset: %v", err)
	}
	s.audit(ctx, Session{UserID: userID}, "auth.password_reset", "user", userID, nil)
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	if err := s.authpw.ChangePassword(ctx, session.UserID, current, next); err != nil {
		switch {
		case errors.Is(err, authpw.ErrWeakPassword):
			return domainError(http.StatusUnprocessableEntity, "WEAK_PASSWORD", err.Error(), nil)
		case errors.Is(err, authpw.ErrInvalidCredentials):
			return domainError(http.StatusUnauthorized, "INVALID_CURRENT_PASSWORD", "Current password is incorrect", nil)
		default:
			return err
		}
	}
	if err := s.sessions.RevokeUserSessions(ctx, session.UserID); err != nil {
		log.Printf("revoke sessions after password change: %v", err)
	}
	s.audit(ctx, session, "auth.password_change", "user", session.UserID, nil)
	return nil
}

func (s *Service) OAuthStart(ctx context.Context, provider string) (string, error) {
	if s.oauth == nil {
		return "", domainError(http.StatusServiceUnavailable, "OAUTH_UNAVAILABLE", "OAuth sign-in not configured", nil)
	}
	url, err := s.oauth.AuthURL(provider)
	if err != nil {
		return "", domainError(http.StatusNotFound, "UNKNOWN_PROVIDER", "Unknown OAuth provider", nil)
	}
	return url, nil
}

func (s *Service) OAuthCallback(ctx context.Context, provider, state, code string, origin security.Origin) (Session, error) {
	if s.oauth == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "OAUTH_UNAVAILABLE", "OAuth sign-in not configured", nil)
	}
	user, err := s.oauth.Callback(ctx, provider, state, code, origin)
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrUnknownProvider):
			return Session{}, domainError(http.StatusNotFound, "UNKNOWN_PROVIDER", "Unknown OAuth provider", nil)
		case errors.Is(err, oauth.ErrBadState):
			return Session{}, domainError(http.StatusBadRequest, "BAD_STATE", "OAuth state did not verify", nil)
		case errors.Is(err, oauth.ErrNoEmail):
			return Session{}, domainError(http.StatusBadRequest, "NO_EMAIL", "Provider returned no email address", nil)
		case errors.Is(err, oauth.ErrUnverifiedEmail):
			return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Verify your email before signing in with this provider", nil)
		default:
			return Session{}, domainError(http.StatusBadGateway, "OAUTH_FAILED", "OAuth sign-in failed", nil)
		}
	}
	return s.issueSession(ctx, user)
}
