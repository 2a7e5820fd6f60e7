package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	Status                string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	FailedLogins          int
	LockedUntil           *time.Time
	LastLoginAt           *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// LoginAttempt is one row of the authentication audit trail. Every attempt,
// successful or not, is recorded exactly once.
type LoginAttempt struct {
	ID        int64
	Email     string
	UserID    *string
	Outcome   string
	IP        string
	UserAgent string
	CreatedAt time.Time
}

type OAuthIdentity struct {
	ID        string
	UserID    string
	Provider  string
	Subject   string
	Email     string
	CreatedAt time.Time
}

type Client struct {
	ID          string
	Company     string
	ContactName string
	Email       string
	Phone       string
	Status      string
	OwnerID     string
	OwnerName   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ClientFilter struct {
	Status  string
	TagID   string
	OwnerID string
	Query   string
	Limit   int
	Offset  int
}

type Tag struct {
	ID        string
	Name      string
	Color     string
	CreatedAt time.Time
}

type Note struct {
	ID         string
	ClientID   string
	AuthorID   string
	AuthorName string
	Body       string
	Pinned     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Task struct {
	ID          string
	ClientID    string
	AssigneeID  string
	Title       string
	Details     string
	DueAt       *time.Time
	Status      string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Deal struct {
	ID            string
	ClientID      string
	Title         string
	AmountCents   int64
	Currency      string
	Stage         string
	OwnerID       string
	ExpectedClose *time.Time
	ClosedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PipelineStage aggregates deals for one stage of the pipeline view.
type PipelineStage struct {
	Stage       string
	Count       int
	AmountCents int64
}

type Document struct {
	ID          string
	ClientID    string
	Filename    string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	UploadedBy  string
	CreatedAt   time.Time
}

type AuditEvent struct {
	ID         int64
	EventType  string
	ActorID    string
	ActorName  string
	EntityType string
	EntityID   string
	Payload    map[string]any
	CreatedAt  time.Time
}
