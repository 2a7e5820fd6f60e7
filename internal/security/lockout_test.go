package security

import (
	"context"
	"testing"
	"time"

	"harbor/api/internal/store"
)

// mockAttemptStore records lockout bookkeeping in memory
type mockAttemptStore struct {
	attempts []store.LoginAttempt
	failures map[string]int
	locks    map[string]time.Time
	cleared  map[string]bool
}

func newMockAttemptStore() *mockAttemptStore {
	return &mockAttemptStore{
		failures: make(map[string]int),
		locks:    make(map[string]time.Time),
		cleared:  make(map[string]bool),
	}
}

func (m *mockAttemptStore) RecordLoginAttempt(ctx context.Context, attempt store.LoginAttempt) error {
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *mockAttemptStore) IncrementFailedLogins(ctx context.Context, userID string) (int, error) {
	m.failures[userID]++
	return m.failures[userID], nil
}

func (m *mockAttemptStore) LockUser(ctx context.Context, userID string, until time.Time) error {
	m.locks[userID] = until
	return nil
}

func (m *mockAttemptStore) ClearLoginFailures(ctx context.Context, userID string) error {
	m.failures[userID] = 0
	delete(m.locks, userID)
	m.cleared[userID] = true
	return nil
}

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	mock := newMockAttemptStore()
	lockout := NewLockout(mock, 3, 15*time.Minute)

	user := store.User{ID: "usr_1", Email: "rep@example.com"}
	origin := Origin{IP: "10.0.0.1", UserAgent: "test"}

	for i := 0; i < 2; i++ {
		until, err := lockout.RecordFailure(ctx, user, origin)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if until != nil {
			t.Fatalf("locked after %d failures, want open until 3", i+1)
		}
	}

	until, err := lockout.RecordFailure(ctx, user, origin)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if until == nil {
		t.Fatal("third failure should lock the account")
	}
	if got := time.Until(*until); got < 14*time.Minute || got > 16*time.Minute {
		t.Errorf("lock deadline %v from now, want about 15m", got)
	}

	if len(mock.attempts) != 3 {
		t.Errorf("recorded %d attempts, want 3 (one per failure)", len(mock.attempts))
	}
	for _, attempt := range mock.attempts {
		if attempt.Outcome != OutcomeBadPassword {
			t.Errorf("attempt outcome = %q, want %q", attempt.Outcome, OutcomeBadPassword)
		}
	}
}

func TestIsLocked(t *testing.T) {
	lockout := NewLockout(newMockAttemptStore(), 5, 15*time.Minute)

	future := time.Now().Add(10 * time.Minute)
	past := time.Now().Add(-1 * time.Minute)

	if !lockout.IsLocked(store.User{ID: "usr_1", LockedUntil: &future}) {
		t.Error("account with future lock should be locked")
	}
	if lockout.IsLocked(store.User{ID: "usr_2", LockedUntil: &past}) {
		t.Error("expired lock should not count as locked")
	}
	if lockout.IsLocked(store.User{ID: "usr_3"}) {
		t.Error("account without lock should be open")
	}
}

func TestClearExpired(t *testing.T) {
	ctx := context.Background()
	mock := newMockAttemptStore()
	lockout := NewLockout(mock, 5, 15*time.Minute)

	past := time.Now().Add(-1 * time.Minute)
	user := store.User{ID: "usr_1", FailedLogins: 5, LockedUntil: &past}
	if err := lockout.ClearExpired(ctx, &user); err != nil {
		t.Fatalf("ClearExpired: %v", err)
	}
	if !mock.cleared["usr_1"] {
		t.Error("expired lock should be cleared in the store")
	}
	if user.FailedLogins != 0 || user.LockedUntil != nil {
		t.Errorf("caller's copy not reset: %+v", user)
	}

	// An active lock and a clean account are both left alone.
	future := time.Now().Add(10 * time.Minute)
	active := store.User{ID: "usr_2", FailedLogins: 5, LockedUntil: &future}
	if err := lockout.ClearExpired(ctx, &active); err != nil {
		t.Fatalf("ClearExpired: %v", err)
	}
	if mock.cleared["usr_2"] || active.FailedLogins != 5 {
		t.Error("active lock must not be cleared")
	}
	clean := store.User{ID: "usr_3"}
	if err := lockout.ClearExpired(ctx, &clean); err != nil {
		t.Fatalf("ClearExpired: %v", err)
	}
	if mock.cleared["usr_3"] {
		t.Error("clean account should not touch the store")
	}
}

func TestRecordSuccessClearsCounter(t *testing.T) {
	ctx := context.Background()
	mock := newMockAttemptStore()
	lockout := NewLockout(mock, 5, 15*time.Minute)

	past := time.Now().Add(-1 * time.Minute)
	user := store.User{ID: "usr_1", Email: "rep@example.com", FailedLogins: 4, LockedUntil: &past}

	if err := lockout.RecordSuccess(ctx, user, "", Origin{}); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if !mock.cleared["usr_1"] {
		t.Error("successful sign-in should clear the failure counter and expired lock")
	}
	if len(mock.attempts) != 1 || mock.attempts[0].Outcome != OutcomeSuccess {
		t.Errorf("attempts = %+v, want single success record", mock.attempts)
	}
}

func TestRecordSuccessSkipsClearWhenClean(t *testing.T) {
	ctx := context.Background()
	mock := newMockAttemptStore()
	lockout := NewLockout(mock, 5, 15*time.Minute)

	if err := lockout.RecordSuccess(ctx, store.User{ID: "usr_1", Email: "a@b.c"}, OutcomeOAuth, Origin{}); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if mock.cleared["usr_1"] {
		t.Error("clean account should not trigger a clear write")
	}
	if mock.attempts[0].Outcome != OutcomeOAuth {
		t.Errorf("outcome = %q, want %q", mock.attempts[0].Outcome, OutcomeOAuth)
	}
}

func TestRecordRejectedDoesNotCount(t *testing.T) {
	ctx := context.Background()
	mock := newMockAttemptStore()
	lockout := NewLockout(mock, 5, 15*time.Minute)

	if err := lockout.RecordRejected(ctx, "ghost@example.com", nil, OutcomeUnknownEmail, Origin{}); err != nil {
		t.Fatalf("RecordRejected: %v", err)
	}
	userID := "usr_1"
	if err := lockout.RecordRejected(ctx, "rep@example.com", &userID, OutcomeLocked, Origin{}); err != nil {
		t.Fatalf("RecordRejected: %v", err)
	}

	if len(mock.attempts) != 2 {
		t.Fatalf("recorded %d attempts, want 2", len(mock.attempts))
	}
	if len(mock.failures) != 0 {
		t.Error("rejections must not advance the failure counter")
	}
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	mock := newMockAttemptStore()
	mock.failures["usr_1"] = 7
	mock.locks["usr_1"] = time.Now().Add(10 * time.Minute)

	lockout := NewLockout(mock, 5, 15*time.Minute)
	if err := lockout.Unlock(ctx, "usr_1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if mock.failures["usr_1"] != 0 {
		t.Error("unlock should zero the failure counter")
	}
	if _, locked := mock.locks["usr_1"]; locked {
		t.Error("unlock should drop the lock")
	}
}
