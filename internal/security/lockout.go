// Package security tracks sign-in attempts and enforces account lockout.
package security

import (
	"context"
	"fmt"
	"time"

	"harbor/api/internal/store"
)

// Attempt outcomes recorded in the login_attempts audit trail.
const (
	OutcomeSuccess      = "success"
	OutcomeBadPassword  = "bad_password"
	OutcomeLocked       = "locked"
	OutcomeUnknownEmail = "unknown_email"
	OutcomeUnverified   = "unverified"
	OutcomeDeactivated  = "deactivated"
	OutcomeOAuth        = "oauth_success"
)

// AttemptStore is the storage surface the lockout tracker needs.
type AttemptStore interface {
	RecordLoginAttempt(ctx context.Context, attempt store.LoginAttempt) error
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	LockUser(ctx context.Context, userID string, until time.Time) error
	ClearLoginFailures(ctx context.Context, userID string) error
}

// Lockout counts consecutive failed sign-ins per account and locks the
// account once the threshold is reached. Locks expire lazily: the next
// sign-in after the window checks the timestamp rather than a background
// job clearing it.
type Lockout struct {
	store     AttemptStore
	threshold int
	window    time.Duration
	now       func() time.Time
}

func NewLockout(s AttemptStore, threshold int, window time.Duration) *Lockout {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Lockout{store: s, threshold: threshold, window: window, now: time.Now}
}

// Origin carries the request metadata stamped onto every attempt record.
type Origin struct {
	IP        string
	UserAgent string
}

// IsLocked reports whether the account is currently locked. An expired
// lock does not count; it is cleared on the next attempt.
func (l *Lockout) IsLocked(user store.User) bool {
	return user.LockedUntil != nil && user.LockedUntil.After(l.now())
}

// ClearExpired resets the counter and deadline once a lock has lapsed, so
// the next failure counts from zero instead of instantly re-locking. The
// caller's copy of the user is updated in place.
func (l *Lockout) ClearExpired(ctx context.Context, user *store.User) error {
	if user.LockedUntil == nil || user.LockedUntil.After(l.now()) {
		return nil
	}
	if err := l.store.ClearLoginFailures(ctx, user.ID); err != nil {
		return fmt.Errorf("clear expired lock: %w", err)
	}
	user.FailedLogins = 0
	user.LockedUntil = nil
	return nil
}

// RecordFailure logs one failed attempt and bumps the account's failure
// counter. It returns the lock deadline if this failure tripped the
// threshold, or nil if the account is still open.
func (l *Lockout) RecordFailure(ctx context.Context, user store.User, origin Origin) (*time.Time, error) {
	if err := l.record(ctx, user.Email, &user.ID, OutcomeBadPassword, origin); err != nil {
		return nil, err
	}
	count, err := l.store.IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("count failure: %w", err)
	}
	if count < l.threshold {
		return nil, nil
	}
	until := l.now().Add(l.window)
	if err := l.store.LockUser(ctx, user.ID, until); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return &until, nil
}

// RecordSuccess logs the attempt and resets the failure counter, clearing
// any expired lock along the way.
func (l *Lockout) RecordSuccess(ctx context.Context, user store.User, outcome string, origin Origin) error {
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	if err := l.record(ctx, user.Email, &user.ID, outcome, origin); err != nil {
		return err
	}
	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := l.store.ClearLoginFailures(ctx, user.ID); err != nil {
			return fmt.Errorf("clear failures: %w", err)
		}
	}
	return nil
}

// RecordRejected logs an attempt that never reached password checking:
// a locked account, an unknown email, an unverified or deactivated user.
// Rejections do not advance the failure counter.
func (l *Lockout) RecordRejected(ctx context.Context, email string, userID *string, outcome string, origin Origin) error {
	return l.record(ctx, email, userID, outcome, origin)
}

// Unlock clears the counter and lock immediately. Admin action.
func (l *Lockout) Unlock(ctx context.Context, userID string) error {
	if err := l.store.ClearLoginFailures(ctx, userID); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	return nil
}

func (l *Lockout) record(ctx context.Context, email string, userID *string, outcome string, origin Origin) error {
	attempt := store.LoginAttempt{
		Email:     email,
		UserID:    userID,
		Outcome:   outcome,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	}
	if err := l.store.RecordLoginAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}
