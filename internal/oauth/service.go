// Package oauth signs users in through external identity providers.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"harbor/api/internal/auth"
	"harbor/api/internal/security"
	"harbor/api/internal/store"
	"harbor/api/internal/util"

	"golang.org/x/oauth2"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrBadState        = errors.New("oauth state check failed")
	ErrNoEmail         = errors.New("provider returned no email address")
	ErrUnverifiedEmail = errors.New("local account email is not verified")
)

// stateTTL bounds how long a signed state stays exchangeable.
const stateTTL = 10 * time.Minute

// Provider bundles the oauth2 endpoints with the userinfo fetch for one
// external identity provider.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string
	// parse maps the provider's userinfo payload to (subject, email, name).
	parse func(body []byte) (string, string, string, error)
}

// Store is the storage surface oauth sign-in needs.
type Store interface {
	GetOAuthIdentity(ctx context.Context, provider, subject string) (string, error)
	LinkOAuthIdentity(ctx context.Context, identity store.OAuthIdentity) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// Service implements the authorization-code flow: redirect out with a signed
// state, exchange the code on callback, then link the external identity to a
// local account or create one.
type Service struct {
	store     Store
	lockout   *security.Lockout
	secret    []byte
	providers map[string]*Provider
}

func NewService(s Store, lockout *security.Lockout, secret string) *Service {
	return &Service{
		store:     s,
		lockout:   lockout,
		secret:    []byte(secret),
		providers: make(map[string]*Provider),
	}
}

// RegisterGoogle wires the Google provider. Callback URL is
// base + /api/auth/oauth/google/callback, where base is the API's own
// externally reachable address.
func (s *Service) RegisterGoogle(clientID, clientSecret, baseURL string) {
	s.providers["google"] = &Provider{
		Name: "google",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  baseURL + "/api/auth/oauth/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		UserInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		parse: func(body []byte) (string, string, string, error) {
			var info struct {
				Sub   string `json:"sub"`
				Email string `json:"email"`
				Name  string `json:"name"`
			}
			if err := json.Unmarshal(body, &info); err != nil {
				return "", "", "", err
			}
			return info.Sub, info.Email, info.Name, nil
		},
	}
}

// RegisterGitHub wires the GitHub provider.
func (s *Service) RegisterGitHub(clientID, clientSecret, baseURL string) {
	s.providers["github"] = &Provider{
		Name: "github",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  baseURL + "/api/auth/oauth/github/callback",
			Scopes:       []string{"read:user", "user:email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://github.com/login/oauth/authorize",
				TokenURL: "https://github.com/login/oauth/access_token",
			},
		},
		UserInfoURL: "https://api.github.com/user",
		parse: func(body []byte) (string, string, string, error) {
			var info struct {
				ID    int64  `json:"id"`
				Email string `json:"email"`
				Name  string `json:"name"`
				Login string `json:"login"`
			}
			if err := json.Unmarshal(body, &info); err != nil {
				return "", "", "", err
			}
			name := info.Name
			if name == "" {
				name = info.Login
			}
			return strconv.FormatInt(info.ID, 10), info.Email, name, nil
		},
	}
}

// Providers lists the registered provider names.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// AuthURL returns the provider redirect URL with an HMAC-signed state. The
// state embeds its own expiry so a captured value cannot be replayed later.
func (s *Service) AuthURL(provider string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	payload := fmt.Sprintf("%s:%d", util.NewID("state"), time.Now().Add(stateTTL).Unix())
	state := auth.SignState(s.secret, payload)
	return p.Config.AuthCodeURL(state), nil
}

// stateExpired reports whether a verified state payload is past its embedded
// deadline. Payloads without a parsable deadline count as expired.
func stateExpired(payload string) bool {
	i := strings.LastIndex(payload, ":")
	if i < 0 {
		return true
	}
	deadline, err := strconv.ParseInt(payload[i+1:], 10, 64)
	if err != nil {
		return true
	}
	return time.Now().Unix() > deadline
}

// Callback completes the flow: verifies state, exchanges the code, fetches
// the userinfo, and resolves it to a local user. OAuth sign-ins bypass the
// failed-login counter but still land in the attempt log.
func (s *Service) Callback(ctx context.Context, provider, state, code string, origin security.Origin) (store.User, error) {
	p, ok := s.providers[provider]
	if !ok {
		return store.User{}, ErrUnknownProvider
	}
	payload, err := auth.VerifyState(s.secret, state)
	if err != nil || stateExpired(payload) {
		return store.User{}, ErrBadState
	}

	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return store.User{}, fmt.Errorf("exchange code: %w", err)
	}

	subject, email, name, err := s.fetchIdentity(ctx, p, token)
	if err != nil {
		return store.User{}, err
	}

	user, err := s.resolveUser(ctx, provider, subject, email, name)
	if err != nil {
		return store.User{}, err
	}
	if err := s.lockout.RecordSuccess(ctx, user, security.OutcomeOAuth, origin); err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) fetchIdentity(ctx context.Context, p *Provider, token *oauth2.Token) (string, string, string, error) {
	client := p.Config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return "", "", "", fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", "", "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", "", fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", "", fmt.Errorf("read userinfo: %w", err)
	}

	subject, email, name, err := p.parse(body)
	if err != nil {
		return "", "", "", fmt.Errorf("decode userinfo: %w", err)
	}
	if subject == "" {
		return "", "", "", errors.New("provider returned no subject")
	}
	return subject, email, name, nil
}

// resolveUser finds the account for an external identity: an existing link
// wins, then a verified email match gets linked, then a fresh account is
// created. Provider-asserted emails count as verified. An unverified local
// match is rejected outright; silently linking onto it would hand the
// account to whoever registered the address first.
func (s *Service) resolveUser(ctx context.Context, provider, subject, email, name string) (store.User, error) {
	if userID, err := s.store.GetOAuthIdentity(ctx, provider, subject); err == nil {
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			return store.User{}, fmt.Errorf("load linked user: %w", err)
		}
		return user, nil
	}

	if email == "" {
		return store.User{}, ErrNoEmail
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if name == "" {
			name = email
		}
		user = store.User{
			ID:              util.NewID("usr"),
			DisplayName:     name,
			Email:           email,
			Role:            "rep",
			Status:          "active",
			IsEmailVerified: true,
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return store.User{}, fmt.Errorf("create user: %w", err)
		}
	} else if !user.IsEmailVerified {
		return store.User{}, ErrUnverifiedEmail
	}
	if user.Status == "deactivated" {
		return store.User{}, errors.New("account is deactivated")
	}

	identity := store.OAuthIdentity{
		ID:       util.NewID("oid"),
		UserID:   user.ID,
		Provider: provider,
		Subject:  subject,
		Email:    email,
	}
	if err := s.store.LinkOAuthIdentity(ctx, identity); err != nil {
		return store.User{}, fmt.Errorf("link identity: %w", err)
	}
	return user, nil
}
