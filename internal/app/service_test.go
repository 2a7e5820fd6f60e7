package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"harbor/api/internal/authpw"
	"harbor/api/internal/config"
	"harbor/api/internal/history"
	"harbor/api/internal/security"
	"harbor/api/internal/store"
	"harbor/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

// fakeStore is an in-memory stand-in for the Postgres store. It implements
// the app dataStore, the auth UserStore, the lockout AttemptStore, and the
// refresh SessionStore so one fixture backs the whole stack.
type fakeStore struct {
	mu sync.Mutex

	users     map[string]store.User
	resets    map[string]passwordReset
	attempts  []store.LoginAttempt
	revoked   map[string]bool
	audits    []store.AuditEvent
	sessions  map[string]refreshSession
	clients   map[string]store.Client
	archived  map[string]bool
	tagsByID  map[string]store.Tag
	clientTag map[string][]string
	notes     map[string]store.Note
	tasks     map[string]store.Task
	deals     map[string]store.Deal
	documents map[string]store.Document
}

type passwordReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

type refreshSession struct {
	user      store.User
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]store.User),
		resets:    make(map[string]passwordReset),
		revoked:   make(map[string]bool),
		sessions:  make(map[string]refreshSession),
		clients:   make(map[string]store.Client),
		archived:  make(map[string]bool),
		tagsByID:  make(map[string]store.Tag),
		clientTag: make(map[string][]string),
		notes:     make(map[string]store.Note),
		tasks:     make(map[string]store.Task),
		deals:     make(map[string]store.Deal),
		documents: make(map[string]store.Document),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

// --- users ---

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.CreatedAt = time.Now()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			if user.VerificationExpiresAt != nil && user.VerificationExpiresAt.Before(time.Now()) {
				return sql.ErrNoRows
			}
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	f.users[userID] = user
	return nil
}

func (f *fakeStore) DeactivateUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	user.Status = "deactivated"
	user.DeactivatedAt = &now
	f.users[userID] = user
	return nil
}

func (f *fakeStore) UpdateLastLogin(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now()
	user.LastLoginAt = &now
	f.users[userID] = user
	return nil
}

// --- lockout ---

func (f *fakeStore) IncrementFailedLogins(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	user.FailedLogins++
	f.users[userID] = user
	return user.FailedLogins, nil
}

func (f *fakeStore) LockUser(ctx context.Context, userID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.LockedUntil = &until
	f.users[userID] = user
	return nil
}

func (f *fakeStore) ClearLoginFailures(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.FailedLogins = 0
	user.LockedUntil = nil
	f.users[userID] = user
	return nil
}

func (f *fakeStore) RecordLoginAttempt(ctx context.Context, attempt store.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt.ID = int64(len(f.attempts) + 1)
	attempt.CreatedAt = time.Now()
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeStore) ListLoginAttempts(ctx context.Context, email string, limit int) ([]store.LoginAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.LoginAttempt, 0)
	for i := len(f.attempts) - 1; i >= 0; i-- {
		if email != "" && !strings.EqualFold(f.attempts[i].Email, email) {
			continue
		}
		items = append(items, f.attempts[i])
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (f *fakeStore) attemptOutcomes(email string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	outcomes := make([]string, 0)
	for _, attempt := range f.attempts {
		if strings.EqualFold(attempt.Email, email) {
			outcomes = append(outcomes, attempt.Outcome)
		}
	}
	return outcomes
}

// --- password resets ---

func (f *fakeStore) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[tokenHash] = passwordReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) GetPasswordReset(ctx context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resets[tokenHash]
	if !ok || reset.used || reset.expiresAt.Before(time.Now()) {
		return "", sql.ErrNoRows
	}
	return reset.userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resets[tokenHash]
	if !ok {
		return sql.ErrNoRows
	}
	reset.used = true
	f.resets[tokenHash] = reset
	return nil
}

// --- tokens and sessions ---

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = refreshSession{user: user, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[tokenHash]
	if !ok || session.expiresAt.Before(time.Now()) {
		return store.User{}, sql.ErrNoRows
	}
	return session.user, nil
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeStore) RevokeUserSessions(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, session := range f.sessions {
		if session.user.ID == userID {
			delete(f.sessions, hash)
		}
	}
	return nil
}

// --- audit ---

func (f *fakeStore) InsertAuditEvent(ctx context.Context, event store.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.audits) + 1)
	event.CreatedAt = time.Now()
	f.audits = append(f.audits, event)
	return nil
}

func (f *fakeStore) ListAuditEvents(ctx context.Context, entityType, entityID string, limit int) ([]store.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.AuditEvent, 0)
	for i := len(f.audits) - 1; i >= 0; i-- {
		event := f.audits[i]
		if entityType != "" && event.EntityType != entityType {
			continue
		}
		if entityID != "" && event.EntityID != entityID {
			continue
		}
		items = append(items, event)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (f *fakeStore) auditTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.audits))
	for _, event := range f.audits {
		types = append(types, event.EventType)
	}
	return types
}

// --- clients ---

func (f *fakeStore) ListClients(ctx context.Context, filter store.ClientFilter) ([]store.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Client, 0)
	for id, client := range f.clients {
		if f.archived[id] {
			continue
		}
		if filter.Status != "" && client.Status != filter.Status {
			continue
		}
		if filter.OwnerID != "" && client.OwnerID != filter.OwnerID {
			continue
		}
		if filter.TagID != "" && !containsString(f.clientTag[id], filter.TagID) {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(client.Company), strings.ToLower(filter.Query)) {
			continue
		}
		items = append(items, client)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Company < items[j].Company })
	return items, nil
}

func (f *fakeStore) GetClient(ctx context.Context, clientID string) (store.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client, ok := f.clients[clientID]
	if !ok || f.archived[clientID] {
		return store.Client{}, sql.ErrNoRows
	}
	return client, nil
}

func (f *fakeStore) InsertClient(ctx context.Context, client store.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	client.CreatedAt = time.Now()
	client.UpdatedAt = client.CreatedAt
	if owner, ok := f.users[client.OwnerID]; ok {
		client.OwnerName = owner.DisplayName
	}
	f.clients[client.ID] = client
	return nil
}

func (f *fakeStore) UpdateClient(ctx context.Context, client store.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.clients[client.ID]
	if !ok || f.archived[client.ID] {
		return sql.ErrNoRows
	}
	client.CreatedAt = existing.CreatedAt
	client.UpdatedAt = time.Now()
	if owner, ok := f.users[client.OwnerID]; ok {
		client.OwnerName = owner.DisplayName
	}
	f.clients[client.ID] = client
	return nil
}

func (f *fakeStore) ArchiveClient(ctx context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived[clientID] = true
	return nil
}

func (f *fakeStore) SetClientTags(ctx context.Context, clientID string, tagIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientTag[clientID] = append([]string(nil), tagIDs...)
	return nil
}

func (f *fakeStore) ListClientTags(ctx context.Context, clientID string) ([]store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tags := make([]store.Tag, 0)
	for _, tagID := range f.clientTag[clientID] {
		if tag, ok := f.tagsByID[tagID]; ok {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// --- tags ---

func (f *fakeStore) ListTags(ctx context.Context) ([]store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tags := make([]store.Tag, 0, len(f.tagsByID))
	for _, tag := range f.tagsByID {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (f *fakeStore) GetTag(ctx context.Context, tagID string) (store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag, ok := f.tagsByID[tagID]
	if !ok {
		return store.Tag{}, sql.ErrNoRows
	}
	return tag, nil
}

func (f *fakeStore) InsertTag(ctx context.Context, tag store.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagsByID[tag.ID] = tag
	return nil
}

func (f *fakeStore) UpdateTag(ctx context.Context, tag store.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tagsByID[tag.ID]; !ok {
		return sql.ErrNoRows
	}
	f.tagsByID[tag.ID] = tag
	return nil
}

func (f *fakeStore) DeleteTag(ctx context.Context, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tagsByID, tagID)
	for clientID, tagIDs := range f.clientTag {
		kept := make([]string, 0, len(tagIDs))
		for _, id := range tagIDs {
			if id != tagID {
				kept = append(kept, id)
			}
		}
		f.clientTag[clientID] = kept
	}
	return nil
}

// --- notes ---

func (f *fakeStore) ListClientNotes(ctx context.Context, clientID string) ([]store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	notes := make([]store.Note, 0)
	for _, note := range f.notes {
		if note.ClientID == clientID {
			notes = append(notes, note)
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Pinned != notes[j].Pinned {
			return notes[i].Pinned
		}
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})
	return notes, nil
}

func (f *fakeStore) GetNote(ctx context.Context, noteID string) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	note, ok := f.notes[noteID]
	if !ok {
		return store.Note{}, sql.ErrNoRows
	}
	return note, nil
}

func (f *fakeStore) InsertNote(ctx context.Context, note store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	note.CreatedAt = time.Now()
	note.UpdatedAt = note.CreatedAt
	if author, ok := f.users[note.AuthorID]; ok {
		note.AuthorName = author.DisplayName
	}
	f.notes[note.ID] = note
	return nil
}

func (f *fakeStore) UpdateNote(ctx context.Context, noteID, body string, pinned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	note, ok := f.notes[noteID]
	if !ok {
		return sql.ErrNoRows
	}
	note.Body = body
	note.Pinned = pinned
	note.UpdatedAt = time.Now()
	f.notes[noteID] = note
	return nil
}

func (f *fakeStore) DeleteNote(ctx context.Context, noteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notes, noteID)
	return nil
}

// --- tasks ---

func (f *fakeStore) ListClientTasks(ctx context.Context, clientID string) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tasks := make([]store.Task, 0)
	for _, task := range f.tasks {
		if task.ClientID == clientID {
			tasks = append(tasks, task)
		}
	}
	sortTasksByDue(tasks)
	return tasks, nil
}

func (f *fakeStore) ListUserTasks(ctx context.Context, userID string, overdueOnly bool) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tasks := make([]store.Task, 0)
	for _, task := range f.tasks {
		if task.AssigneeID != userID || task.Status != "open" {
			continue
		}
		if overdueOnly && (task.DueAt == nil || task.DueAt.After(time.Now())) {
			continue
		}
		tasks = append(tasks, task)
	}
	sortTasksByDue(tasks)
	return tasks, nil
}

func (f *fakeStore) ListTasksDueBefore(ctx context.Context, cutoff time.Time) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tasks := make([]store.Task, 0)
	for _, task := range f.tasks {
		if task.Status == "open" && task.DueAt != nil && task.DueAt.Before(cutoff) {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (f *fakeStore) MarkTaskReminded(ctx context.Context, taskID string) error {
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	return task, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, task store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, task store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.tasks[task.ID]
	if !ok {
		return sql.ErrNoRows
	}
	task.CreatedAt = existing.CreatedAt
	task.Status = existing.Status
	task.CompletedAt = existing.CompletedAt
	task.UpdatedAt = time.Now()
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) SetTaskStatus(ctx context.Context, taskID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return sql.ErrNoRows
	}
	task.Status = status
	if status == "done" {
		now := time.Now()
		task.CompletedAt = &now
	} else {
		task.CompletedAt = nil
	}
	task.UpdatedAt = time.Now()
	f.tasks[taskID] = task
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, taskID)
	return nil
}

// --- deals ---

func (f *fakeStore) ListClientDeals(ctx context.Context, clientID string) ([]store.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deals := make([]store.Deal, 0)
	for _, deal := range f.deals {
		if deal.ClientID == clientID {
			deals = append(deals, deal)
		}
	}
	sort.Slice(deals, func(i, j int) bool { return deals[i].CreatedAt.Before(deals[j].CreatedAt) })
	return deals, nil
}

func (f *fakeStore) GetDeal(ctx context.Context, dealID string) (store.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, ok := f.deals[dealID]
	if !ok {
		return store.Deal{}, sql.ErrNoRows
	}
	return deal, nil
}

func (f *fakeStore) InsertDeal(ctx context.Context, deal store.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal.CreatedAt = time.Now()
	deal.UpdatedAt = deal.CreatedAt
	f.deals[deal.ID] = deal
	return nil
}

func (f *fakeStore) UpdateDeal(ctx context.Context, deal store.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.deals[deal.ID]
	if !ok {
		return sql.ErrNoRows
	}
	deal.CreatedAt = existing.CreatedAt
	deal.Stage = existing.Stage
	deal.ClosedAt = existing.ClosedAt
	deal.UpdatedAt = time.Now()
	f.deals[deal.ID] = deal
	return nil
}

func (f *fakeStore) UpdateDealStage(ctx context.Context, dealID, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, ok := f.deals[dealID]
	if !ok {
		return sql.ErrNoRows
	}
	deal.Stage = stage
	if stage == "won" || stage == "lost" {
		now := time.Now()
		deal.ClosedAt = &now
	} else {
		deal.ClosedAt = nil
	}
	deal.UpdatedAt = time.Now()
	f.deals[dealID] = deal
	return nil
}

func (f *fakeStore) DeleteDeal(ctx context.Context, dealID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.deals, dealID)
	return nil
}

func (f *fakeStore) PipelineSummary(ctx context.Context) ([]store.PipelineStage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byStage := make(map[string]*store.PipelineStage)
	for _, deal := range f.deals {
		if deal.Stage == "won" || deal.Stage == "lost" {
			continue
		}
		entry, ok := byStage[deal.Stage]
		if !ok {
			entry = &store.PipelineStage{Stage: deal.Stage}
			byStage[deal.Stage] = entry
		}
		entry.Count++
		entry.AmountCents += deal.AmountCents
	}
	stages := make([]store.PipelineStage, 0, len(byStage))
	for _, entry := range byStage {
		stages = append(stages, *entry)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Stage < stages[j].Stage })
	return stages, nil
}

// --- documents ---

func (f *fakeStore) ListClientDocuments(ctx context.Context, clientID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := make([]store.Document, 0)
	for _, doc := range f.documents {
		if doc.ClientID == clientID {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.CreatedAt = time.Now()
	f.documents[doc.ID] = doc
	return nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.documents, documentID)
	return nil
}

func sortTasksByDue(tasks []store.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].DueAt == nil {
			return false
		}
		if tasks[j].DueAt == nil {
			return true
		}
		return tasks[i].DueAt.Before(*tasks[j].DueAt)
	})
}

func containsString(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}

// --- harness ---

func testConfig() config.Config {
	return config.Config{
		Addr:             ":0",
		JWTSecret:        "test-secret",
		AccessTTL:        time.Hour,
		RefreshTTL:       24 * time.Hour,
		LockoutThreshold: 3,
		LockoutWindow:    15 * time.Minute,
		MaxUploadBytes:   1 << 20,
		AppBaseURL:       "http://localhost:5173",
	}
}

func newTestService(t *testing.T, fake *fakeStore) *Service {
	t.Helper()
	cfg := testConfig()
	lockout := security.NewLockout(fake, cfg.LockoutThreshold, cfg.LockoutWindow)
	return New(cfg, Deps{
		Store:    fake,
		Sessions: fake,
		AuthPW:   authpw.NewService(fake, lockout),
		Lockout:  lockout,
		History:  history.New(t.TempDir()),
	})
}

// seedUser creates a verified, active user and returns it.
func seedUser(t *testing.T, fake *fakeStore, emailAddr, password, role string) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := store.User{
		ID:              util.NewID("usr"),
		DisplayName:     strings.Split(emailAddr, "@")[0],
		Email:           emailAddr,
		PasswordHash:    string(hash),
		Role:            role,
		Status:          "active",
		IsEmailVerified: true,
	}
	if err := fake.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func signIn(t *testing.T, service *Service, emailAddr, password string) Session {
	t.Helper()
	session, err := service.SignIn(context.Background(), emailAddr, password, security.Origin{IP: "127.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("sign in %s: %v", emailAddr, err)
	}
	return session
}

func TestSessionRoundTrip(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")

	session := signIn(t, service, "rep@harbor.dev", "password1")
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	parsed, err := service.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if parsed.Role != "rep" || parsed.UserID != session.UserID {
		t.Fatalf("unexpected session: %+v", parsed)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")
	session := signIn(t, service, "rep@harbor.dev", "password1")

	renewed, err := service.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if renewed.RefreshToken == session.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := service.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("old refresh token should be revoked")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")
	session := signIn(t, service, "rep@harbor.dev", "password1")

	if err := service.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := service.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("access token should be rejected after logout")
	}
	if _, err := service.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("refresh token should be rejected after logout")
	}
}

func TestDeactivatedUserLosesSession(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "admin@harbor.dev", "password1", "admin")
	rep := seedUser(t, fake, "rep@harbor.dev", "password1", "rep")

	adminSession := signIn(t, service, "admin@harbor.dev", "password1")
	repSession := signIn(t, service, "rep@harbor.dev", "password1")

	if err := service.DeactivateUser(context.Background(), adminSession, rep.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := service.SessionFromToken(context.Background(), repSession.Token); err == nil {
		t.Fatal("deactivated user's access token should be rejected")
	}
	if _, err := service.Refresh(context.Background(), repSession.RefreshToken); err == nil {
		t.Fatal("deactivated user's refresh token should be rejected")
	}
}

func TestDeactivateSelfRejected(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	admin := seedUser(t, fake, "admin@harbor.dev", "password1", "admin")
	session := signIn(t, service, "admin@harbor.dev", "password1")

	err := service.DeactivateUser(context.Background(), session, admin.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "CANNOT_DEACTIVATE_SELF" {
		t.Fatalf("expected CANNOT_DEACTIVATE_SELF, got %v", err)
	}
}

func TestDealStageTransitions(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")
	session := signIn(t, service, "rep@harbor.dev", "password1")

	client, err := service.CreateClient(context.Background(), session, ClientInput{Company: "Acme Logistics"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	clientID := client["id"].(string)

	deal, err := service.CreateDeal(context.Background(), session, clientID, DealInput{Title: "Annual contract", AmountCents: 1200000})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	dealID := deal["id"].(string)

	for _, stage := range []string{"qualified", "proposal", "won"} {
		if _, err := service.ChangeDealStage(context.Background(), session, dealID, stage); err != nil {
			t.Fatalf("move to %s: %v", stage, err)
		}
	}

	updated, err := fake.GetDeal(context.Background(), dealID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.ClosedAt == nil {
		t.Fatal("won deal should have closed_at set")
	}

	// Closed deals reject further moves from non-admins.
	_, err = service.ChangeDealStage(context.Background(), session, dealID, "proposal")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_STAGE_TRANSITION" {
		t.Fatalf("expected INVALID_STAGE_TRANSITION, got %v", err)
	}

	// An admin may reopen a closed deal back to proposal.
	seedUser(t, fake, "admin@harbor.dev", "password1", "admin")
	adminSession := signIn(t, service, "admin@harbor.dev", "password1")
	if _, err := service.ChangeDealStage(context.Background(), adminSession, dealID, "proposal"); err != nil {
		t.Fatalf("admin reopen: %v", err)
	}
	reopened, _ := fake.GetDeal(context.Background(), dealID)
	if reopened.ClosedAt != nil {
		t.Fatal("reopened deal should clear closed_at")
	}
}

func TestSkippingStagesRejected(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")
	session := signIn(t, service, "rep@harbor.dev", "password1")

	client, err := service.CreateClient(context.Background(), session, ClientInput{Company: "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	deal, err := service.CreateDeal(context.Background(), session, client["id"].(string), DealInput{Title: "Pilot"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := service.ChangeDealStage(context.Background(), session, deal["id"].(string), "won"); err == nil {
		t.Fatal("lead cannot jump straight to won")
	}
}

func TestArchiveClientHidesChildCreation(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")
	session := signIn(t, service, "rep@harbor.dev", "password1")

	client, err := service.CreateClient(context.Background(), session, ClientInput{Company: "Globex"})
	if err != nil {
		t.Fatal(err)
	}
	clientID := client["id"].(string)
	if _, err := service.CreateNote(context.Background(), session, clientID, NoteInput{Body: "first call"}); err != nil {
		t.Fatalf("create note: %v", err)
	}

	if err := service.ArchiveClient(context.Background(), session, clientID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	items, err := service.ListClients(context.Background(), store.ClientFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("archived client should not list, got %d", len(items))
	}

	if _, err := service.CreateNote(context.Background(), session, clientID, NoteInput{Body: "too late"}); err == nil {
		t.Fatal("archived client should reject new notes")
	}
	// The existing note row survives the archive.
	if len(fake.notes) != 1 {
		t.Fatalf("expected 1 surviving note, got %d", len(fake.notes))
	}
}

func TestClientHistoryRecordsChanges(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")
	session := signIn(t, service, "rep@harbor.dev", "password1")

	client, err := service.CreateClient(context.Background(), session, ClientInput{Company: "Initech", Status: "prospect"})
	if err != nil {
		t.Fatal(err)
	}
	clientID := client["id"].(string)

	if _, err := service.UpdateClient(context.Background(), session, clientID, ClientInput{Company: "Initech", Status: "active"}); err != nil {
		t.Fatalf("update client: %v", err)
	}

	commits, err := service.ClientHistory(context.Background(), clientID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected baseline + update commits, got %d", len(commits))
	}

	hash := commits[len(commits)-1]["hash"].(string)
	snapshot, err := service.ClientHistorySnapshot(context.Background(), clientID, hash)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot["snapshot"] == nil {
		t.Fatal("expected snapshot payload")
	}
}

func TestAuditTrailCoversMutations(t *testing.T) {
	fake := newFakeStore()
	service := newTestService(t, fake)
	seedUser(t, fake, "rep@harbor.dev", "password1", "rep")
	session := signIn(t, service, "rep@harbor.dev", "password1")

	client, err := service.CreateClient(context.Background(), session, ClientInput{Company: "Hooli"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := service.CreateNote(context.Background(), session, client["id"].(string), NoteInput{Body: "kickoff"}); err != nil {
		t.Fatal(err)
	}

	types := fake.auditTypes()
	want := map[string]bool{"client.create": false, "note.create": false}
	for _, eventType := range types {
		if _, ok := want[eventType]; ok {
			want[eventType] = true
		}
	}
	for eventType, seen := range want {
		if !seen {
			t.Fatalf("missing audit event %s in %v", eventType, types)
		}
	}
}
