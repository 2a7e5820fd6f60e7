package app

import (
	"context"
	"log"
	"time"

	"harbor/api/internal/auth"
	"harbor/api/internal/authpw"
	"harbor/api/internal/blob"
	"harbor/api/internal/config"
	"harbor/api/internal/email"
	"harbor/api/internal/export"
	"harbor/api/internal/history"
	"harbor/api/internal/oauth"
	"harbor/api/internal/rbac"
	"harbor/api/internal/search"
	"harbor/api/internal/security"
	"harbor/api/internal/store"
	"harbor/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the Postgres surface the app layer uses. Declared here so
// tests can swap in a fake.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserRole(ctx context.Context, userID, role string) error
	DeactivateUser(ctx context.Context, userID string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	ListLoginAttempts(ctx context.Context, email string, limit int) ([]store.LoginAttempt, error)

	InsertAuditEvent(ctx context.Context, event store.AuditEvent) error
	ListAuditEvents(ctx context.Context, entityType, entityID string, limit int) ([]store.AuditEvent, error)

	ListClients(ctx context.Context, filter store.ClientFilter) ([]store.Client, error)
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	InsertClient(ctx context.Context, client store.Client) error
	UpdateClient(ctx context.Context, client store.Client) error
	ArchiveClient(ctx context.Context, clientID string) error
	SetClientTags(ctx context.Context, clientID string, tagIDs []string) error
	ListClientTags(ctx context.Context, clientID string) ([]store.Tag, error)

	ListTags(ctx context.Context) ([]store.Tag, error)
	GetTag(ctx context.Context, tagID string) (store.Tag, error)
	InsertTag(ctx context.Context, tag store.Tag) error
	UpdateTag(ctx context.Context, tag store.Tag) error
	DeleteTag(ctx context.Context, tagID string) error

	ListClientNotes(ctx context.Context, clientID string) ([]store.Note, error)
	GetNote(ctx context.Context, noteID string) (store.Note, error)
	InsertNote(ctx context.Context, note store.Note) error
	UpdateNote(ctx context.Context, noteID, body string, pinned bool) error
	DeleteNote(ctx context.Context, noteID string) error

	ListClientTasks(ctx context.Context, clientID string) ([]store.Task, error)
	ListUserTasks(ctx context.Context, userID string, overdueOnly bool) ([]store.Task, error)
	ListTasksDueBefore(ctx context.Context, cutoff time.Time) ([]store.Task, error)
	MarkTaskReminded(ctx context.Context, taskID string) error
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	InsertTask(ctx context.Context, task store.Task) error
	UpdateTask(ctx context.Context, task store.Task) error
	SetTaskStatus(ctx context.Context, taskID, status string) error
	DeleteTask(ctx context.Context, taskID string) error

	ListClientDeals(ctx context.Context, clientID string) ([]store.Deal, error)
	GetDeal(ctx context.Context, dealID string) (store.Deal, error)
	InsertDeal(ctx context.Context, deal store.Deal) error
	UpdateDeal(ctx context.Context, deal store.Deal) error
	UpdateDealStage(ctx context.Context, dealID, stage string) error
	DeleteDeal(ctx context.Context, dealID string) error
	PipelineSummary(ctx context.Context) ([]store.PipelineStage, error)

	ListClientDocuments(ctx context.Context, clientID string) ([]store.Document, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// SessionStore abstracts the refresh-session backend; both the Redis store
// and the Postgres fallback satisfy it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeUserSessions(ctx context.Context, userID string) error
}

// Deps bundles the wired subsystems. Optional ones (oauth, email, blob,
// search, export) may be nil; the corresponding endpoints degrade or 503.
type Deps struct {
	Store    dataStore
	Sessions SessionStore
	AuthPW   *authpw.Service
	OAuth    *oauth.Service
	Lockout  *security.Lockout
	Email    *email.Service
	Blob     *blob.Service
	Search   *search.Service
	History  *history.Service
	Export   *export.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	oauth    *oauth.Service
	lockout  *security.Lockout
	email    *email.Service
	blob     *blob.Service
	search   *search.Service
	history  *history.Service
	export   *export.Service
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		authpw:   deps.AuthPW,
		oauth:    deps.OAuth,
		lockout:  deps.Lockout,
		email:    deps.Email,
		blob:     deps.Blob,
		search:   deps.Search,
		history:  deps.History,
		export:   deps.Export,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	// Re-read the user so role changes and deactivation take effect before
	// the access token expires.
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if user.Status == "deactivated" {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates: the presented token is revoked before a replacement issues.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if user.Status == "deactivated" {
		_ = s.sessions.RevokeRefreshSession(ctx, tokenHash)
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// audit records a mutation in audit_events. Failures are logged, never fatal;
// the mutation itself has already committed.
func (s *Service) audit(ctx context.Context, session Session, eventType, entityType, entityID string, payload map[string]any) {
	err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		EventType:  eventType,
		ActorID:    session.UserID,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		log.Printf("audit %s %s/%s: %v", eventType, entityType, entityID, err)
	}
}

func (s *Service) ListAuditEvents(ctx context.Context, entityType, entityID string, limit int) ([]map[string]any, error) {
	events, err := s.store.ListAuditEvents(ctx, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		items = append(items, map[string]any{
			"id":         event.ID,
			"eventType":  event.EventType,
			"actorId":    event.ActorID,
			"actorName":  event.ActorName,
			"entityType": event.EntityType,
			"entityId":   event.EntityID,
			"payload":    event.Payload,
			"createdAt":  event.CreatedAt,
		})
	}
	return items, nil
}
