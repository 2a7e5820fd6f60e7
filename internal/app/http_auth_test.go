package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestHTTP(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()
	fake := newFakeStore()
	service := newTestService(t, fake)
	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return server, fake
}

// doJSON performs one request and decodes the JSON body into a map.
func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	payload := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp.StatusCode, payload
}

func str(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}

func TestSignUpVerifySignInFlow(t *testing.T) {
	server, fake := newTestHTTP(t)

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]string{
		"email":       "new@harbor.dev",
		"password":    "longenough1",
		"displayName": "New Rep",
	})
	if status != http.StatusCreated {
		t.Fatalf("signup status %d: %v", status, body)
	}
	// No mailer configured, so the verification token comes back in the body.
	verifyToken := str(body, "devVerificationToken")
	if verifyToken == "" {
		t.Fatalf("expected dev verification token, got %v", body)
	}

	status, body = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "new@harbor.dev", "password": "longenough1",
	})
	if status != http.StatusForbidden || str(body, "code") != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("unverified signin: %d %v", status, body)
	}

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/verify-email", "", map[string]string{"token": verifyToken})
	if status != http.StatusOK {
		t.Fatalf("verify status %d", status)
	}

	status, body = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "new@harbor.dev", "password": "longenough1",
	})
	if status != http.StatusOK {
		t.Fatalf("signin status %d: %v", status, body)
	}
	if str(body, "accessToken") == "" || str(body, "refreshToken") == "" {
		t.Fatalf("missing tokens: %v", body)
	}
	if str(body, "role") != "rep" {
		t.Fatalf("new users default to rep, got %q", str(body, "role"))
	}

	status, session := doJSON(t, http.MethodGet, server.URL+"/api/session", str(body, "accessToken"), nil)
	if status != http.StatusOK || session["authenticated"] != true {
		t.Fatalf("session check: %d %v", status, session)
	}

	outcomes := fake.attemptOutcomes("new@harbor.dev")
	if len(outcomes) != 2 || outcomes[0] != "unverified" || outcomes[1] != "success" {
		t.Fatalf("unexpected attempt trail: %v", outcomes)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	server, fake := newTestHTTP(t)
	seedUser(t, fake, "taken@harbor.dev", "password1", "rep")

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]string{
		"email": "Taken@harbor.dev", "password": "longenough1", "displayName": "Dup",
	})
	if status != http.StatusConflict || str(body, "code") != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %d %v", status, body)
	}
}

func TestSignUpWeakPassword(t *testing.T) {
	server, _ := newTestHTTP(t)

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]string{
		"email": "weak@harbor.dev", "password": "short", "displayName": "Weak",
	})
	if status != http.StatusUnprocessableEntity || str(body, "code") != "WEAK_PASSWORD" {
		t.Fatalf("expected WEAK_PASSWORD, got %d %v", status, body)
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	server, fake := newTestHTTP(t)

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "ghost@harbor.dev", "password": "whatever1",
	})
	if status != http.StatusUnauthorized || str(body, "code") != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %d %v", status, body)
	}
	outcomes := fake.attemptOutcomes("ghost@harbor.dev")
	if len(outcomes) != 1 || outcomes[0] != "unknown_email" {
		t.Fatalf("unexpected attempt trail: %v", outcomes)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	server, fake := newTestHTTP(t)
	user := seedUser(t, fake, "rep@harbor.dev", "password1", "rep")
	seedUser(t, fake, "admin@harbor.dev", "password1", "admin")

	signIn := func(password string) (int, map[string]any) {
		return doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
			"email": "rep@harbor.dev", "password": password,
		})
	}

	// Two failures stay on INVALID_CREDENTIALS; the third trips the lock.
	for i := 0; i < 2; i++ {
		status, body := signIn("wrong-password")
		if status != http.StatusUnauthorized || str(body, "code") != "INVALID_CREDENTIALS" {
			t.Fatalf("failure %d: %d %v", i+1, status, body)
		}
	}
	status, body := signIn("wrong-password")
	if status != http.StatusForbidden || str(body, "code") != "ACCOUNT_LOCKED" {
		t.Fatalf("expected lock on third failure, got %d %v", status, body)
	}
	details, _ := body["details"].(map[string]any)
	if details == nil || str(details, "lockedUntil") == "" {
		t.Fatalf("lock details missing: %v", body)
	}
	if retry, ok := details["retryAfterSeconds"].(float64); !ok || retry <= 0 {
		t.Fatalf("retryAfterSeconds missing: %v", details)
	}

	// The correct password is rejected while the lock holds.
	status, body = signIn("password1")
	if status != http.StatusForbidden || str(body, "code") != "ACCOUNT_LOCKED" {
		t.Fatalf("locked account accepted correct password: %d %v", status, body)
	}

	outcomes := fake.attemptOutcomes("rep@harbor.dev")
	want := []string{"bad_password", "bad_password", "bad_password", "locked"}
	if len(outcomes) != len(want) {
		t.Fatalf("attempt trail %v, want %v", outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("attempt %d = %s, want %s", i, outcomes[i], want[i])
		}
	}

	// Admin unlock clears the counter and the deadline.
	_, adminBody := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "admin@harbor.dev", "password": "password1",
	})
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/admin/users/"+user.ID+"/unlock", str(adminBody, "accessToken"), nil)
	if status != http.StatusOK {
		t.Fatalf("unlock status %d", status)
	}
	status, body = signIn("password1")
	if status != http.StatusOK {
		t.Fatalf("signin after unlock: %d %v", status, body)
	}
}

func TestPasswordResetUnlocksAccount(t *testing.T) {
	server, fake := newTestHTTP(t)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")

	// Lock the account first.
	for i := 0; i < 3; i++ {
		doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
			"email": "rep@harbor.dev", "password": "wrong-password",
		})
	}

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/reset-password/request", "", map[string]string{
		"email": "rep@harbor.dev",
	})
	if status != http.StatusOK {
		t.Fatalf("request reset: %d %v", status, body)
	}
	resetToken := str(body, "devResetToken")
	if resetToken == "" {
		t.Fatalf("expected dev reset token, got %v", body)
	}

	status, body = doJSON(t, http.MethodPost, server.URL+"/api/auth/reset-password", "", map[string]string{
		"token": resetToken, "newPassword": "short",
	})
	if status != http.StatusUnprocessableEntity || str(body, "code") != "WEAK_PASSWORD" {
		t.Fatalf("weak reset password: %d %v", status, body)
	}

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/reset-password", "", map[string]string{
		"token": resetToken, "newPassword": "brand-new-pass1",
	})
	if status != http.StatusOK {
		t.Fatalf("reset status %d", status)
	}

	// A used token cannot be replayed.
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/reset-password", "", map[string]string{
		"token": resetToken, "newPassword": "another-pass1",
	})
	if status == http.StatusOK {
		t.Fatal("reset token should be single use")
	}

	status, body = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "rep@harbor.dev", "password": "brand-new-pass1",
	})
	if status != http.StatusOK {
		t.Fatalf("signin after reset: %d %v", status, body)
	}
}

func TestResetRequestHidesUnknownAccounts(t *testing.T) {
	server, _ := newTestHTTP(t)

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/reset-password/request", "", map[string]string{
		"email": "ghost@harbor.dev",
	})
	if status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if str(body, "devResetToken") != "" {
		t.Fatal("unknown account must not yield a reset token")
	}
}

func TestRefreshEndpointRotates(t *testing.T) {
	server, fake := newTestHTTP(t)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")

	_, session := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "rep@harbor.dev", "password": "password1",
	})
	refreshToken := str(session, "refreshToken")

	status, renewed := doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]string{
		"refreshToken": refreshToken,
	})
	if status != http.StatusOK {
		t.Fatalf("refresh status %d: %v", status, renewed)
	}
	if str(renewed, "refreshToken") == refreshToken {
		t.Fatal("refresh token not rotated")
	}

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]string{
		"refreshToken": refreshToken,
	})
	if status != http.StatusUnauthorized || str(body, "code") != "UNAUTHORIZED" {
		t.Fatalf("stale refresh token accepted: %d %v", status, body)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	server, fake := newTestHTTP(t)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")

	_, session := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "rep@harbor.dev", "password": "password1",
	})
	accessToken := str(session, "accessToken")

	status, _ := doJSON(t, http.MethodPost, server.URL+"/api/session/logout", accessToken, map[string]string{
		"refreshToken": str(session, "refreshToken"),
	})
	if status != http.StatusOK {
		t.Fatalf("logout status %d", status)
	}

	status, body := doJSON(t, http.MethodGet, server.URL+"/api/tasks", accessToken, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("revoked token accepted: %d %v", status, body)
	}
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	server, fake := newTestHTTP(t)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")

	_, first := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "rep@harbor.dev", "password": "password1",
	})
	_, second := doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]string{
		"email": "rep@harbor.dev", "password": "password1",
	})

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/change-password", str(first, "accessToken"), map[string]string{
		"currentPassword": "wrong", "newPassword": "fresh-password1",
	})
	if status != http.StatusUnauthorized || str(body, "code") != "INVALID_CURRENT_PASSWORD" {
		t.Fatalf("expected INVALID_CURRENT_PASSWORD, got %d %v", status, body)
	}

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/change-password", str(first, "accessToken"), map[string]string{
		"currentPassword": "password1", "newPassword": "fresh-password1",
	})
	if status != http.StatusOK {
		t.Fatalf("change password status %d", status)
	}

	// Refresh sessions are revoked across devices.
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]string{
		"refreshToken": str(second, "refreshToken"),
	})
	if status != http.StatusUnauthorized {
		t.Fatal("other device refresh should be revoked after password change")
	}
}

func TestUnauthenticatedSessionEndpoint(t *testing.T) {
	server, _ := newTestHTTP(t)

	status, body := doJSON(t, http.MethodGet, server.URL+"/api/session", "", nil)
	if status != http.StatusOK || body["authenticated"] != false {
		t.Fatalf("session without token: %d %v", status, body)
	}
}

func TestOAuthUnconfigured(t *testing.T) {
	server, _ := newTestHTTP(t)

	status, body := doJSON(t, http.MethodGet, server.URL+"/api/auth/oauth/google/start", "", nil)
	if status != http.StatusServiceUnavailable || str(body, "code") != "OAUTH_UNAVAILABLE" {
		t.Fatalf("expected OAUTH_UNAVAILABLE, got %d %v", status, body)
	}
}
