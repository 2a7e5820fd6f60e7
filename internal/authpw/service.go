// Package authpw provides email/password authentication with verification,
// password reset, and account lockout.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"harbor/api/internal/auth"
	"harbor/api/internal/security"
	"harbor/api/internal/store"
	"harbor/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrAccountDisabled    = errors.New("account is deactivated")
)

// LockedError is returned when the account is locked out; Until is when the
// lock expires on its own. JustLocked is set only on the attempt that
// tripped the threshold, so callers can notify once instead of on every
// rejection while the lock holds.
type LockedError struct {
	Until      time.Time
	JustLocked bool
}

func (e *LockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string) error
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, tokenHash string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, tokenHash string) error
}

// Service provides email/password authentication
type Service struct {
	store   UserStore
	lockout *security.Lockout
}

func NewService(store UserStore, lockout *security.Lockout) *Service {
	return &Service{store: store, lockout: lockout}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUpResponse contains sign-up result
type SignUpResponse struct {
	UserID              string
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return nil, errors.New("email, password, and display name are required")
	}
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	user := store.User{
		ID:                util.NewID("usr"),
		DisplayName:       req.DisplayName,
		Email:             req.Email,
		PasswordHash:      string(hash),
		Role:              "rep",
		Status:            "active",
		IsEmailVerified:   false,
		VerificationToken: verificationToken,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	expiresAt := time.Now().Add(24 * time.Hour)
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, verificationToken, expiresAt); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}

	return &SignUpResponse{
		UserID:              user.ID,
		VerificationToken:   verificationToken,
		RequiresEmailVerify: true,
	}, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
	Origin   security.Origin
}

// SignIn authenticates a user. Every attempt, whatever its outcome, lands in
// the login_attempts audit trail exactly once. A locked account is rejected
// before the password is even checked, so a correct guess reveals nothing
// while the lock holds.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if recErr := s.lockout.RecordRejected(ctx, req.Email, nil, security.OutcomeUnknownEmail, req.Origin); recErr != nil {
			return store.User{}, recErr
		}
		return store.User{}, ErrInvalidCredentials
	}

	if user.Status == "deactivated" {
		if recErr := s.lockout.RecordRejected(ctx, user.Email, &user.ID, security.OutcomeDeactivated, req.Origin); recErr != nil {
			return store.User{}, recErr
		}
		return store.User{}, ErrAccountDisabled
	}

	if s.lockout.IsLocked(user) {
		if recErr := s.lockout.RecordRejected(ctx, user.Email, &user.ID, security.OutcomeLocked, req.Origin); recErr != nil {
			return store.User{}, recErr
		}
		return store.User{}, &LockedError{Until: *user.LockedUntil}
	}

	// A lapsed lock clears on this attempt regardless of its outcome, so a
	// single wrong password cannot re-lock the account.
	if err := s.lockout.ClearExpired(ctx, &user); err != nil {
		return store.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		until, recErr := s.lockout.RecordFailure(ctx, user, req.Origin)
		if recErr != nil {
			return store.User{}, recErr
		}
		if until != nil {
			return store.User{}, &LockedError{Until: *until, JustLocked: true}
		}
		return store.User{}, ErrInvalidCredentials
	}

	if !user.IsEmailVerified {
		if recErr := s.lockout.RecordRejected(ctx, user.Email, &user.ID, security.OutcomeUnverified, req.Origin); recErr != nil {
			return store.User{}, recErr
		}
		return store.User{}, ErrEmailNotVerified
	}

	if err := s.lockout.RecordSuccess(ctx, user, security.OutcomeSuccess, req.Origin); err != nil {
		return store.User{}, err
	}
	if err := s.store.UpdateLastLogin(ctx, user.ID); err != nil {
		return store.User{}, fmt.Errorf("update last login: %w", err)
	}
	return user, nil
}

// VerifyEmail verifies an email address using a token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("verification token required")
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. Unknown and already-verified emails return "" without error so
// the endpoint cannot be used to probe for accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil
	}
	if user.IsEmailVerified {
		return "", nil
	}
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, token, time.Now().Add(24*time.Hour)); err != nil {
		return "", fmt.Errorf("set verification token: %w", err)
	}
	return token, nil
}

// RequestPasswordReset creates a password reset token. Only the SHA-256 hash
// is stored; the raw token goes out by email. The empty return for an
// unknown email keeps account existence private.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPasswordRequest contains password reset parameters
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword resets a user's password using a reset token and returns the
// user ID so the caller can revoke the user's live sessions.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	if req.Token == "" || req.NewPassword == "" {
		return "", errors.New("token and new password are required")
	}
	if len(req.NewPassword) < 8 {
		return "", ErrWeakPassword
	}

	tokenHash := auth.HashToken(req.Token)
	userID, err := s.store.GetPasswordReset(ctx, tokenHash)
	if err != nil {
		return "", errors.New("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	if err := s.store.MarkPasswordResetUsed(ctx, tokenHash); err != nil {
		return "", fmt.Errorf("mark reset used: %w", err)
	}

	// A successful reset proves control of the mailbox; clear any lock so
	// the owner is not stuck waiting out an attacker's failures.
	if err := s.lockout.Unlock(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}

// ChangePassword sets a new password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < 8 {
		return ErrWeakPassword
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
