package app

import (
	"context"
	"log"
	"net/http"
	"strings"

	"harbor/api/internal/history"
	"harbor/api/internal/rbac"
	"harbor/api/internal/search"
	"harbor/api/internal/store"
	"harbor/api/internal/util"
)

var clientStatuses = map[string]bool{
	"prospect": true,
	"active":   true,
	"inactive": true,
}

type ClientInput struct {
	Company     string `json:"company"`
	ContactName string `json:"contactName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Status      string `json:"status"`
	OwnerID     string `json:"ownerId"`
}

func (input ClientInput) validate() error {
	if strings.TrimSpace(input.Company) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "company is required", nil)
	}
	if input.Status != "" && !clientStatuses[input.Status] {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be prospect, active, or inactive", nil)
	}
	return nil
}

func clientPayload(client store.Client, tags []store.Tag) map[string]any {
	payload := map[string]any{
		"id":          client.ID,
		"company":     client.Company,
		"contactName": client.ContactName,
		"email":       client.Email,
		"phone":       client.Phone,
		"status":      client.Status,
		"ownerId":     client.OwnerID,
		"ownerName":   client.OwnerName,
		"createdAt":   client.CreatedAt,
		"updatedAt":   client.UpdatedAt,
	}
	if tags != nil {
		payload["tags"] = tagPayloads(tags)
	}
	return payload
}

func (s *Service) ListClients(ctx context.Context, filter store.ClientFilter) ([]map[string]any, error) {
	clients, err := s.store.ListClients(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(clients))
	for _, client := range clients {
		items = append(items, clientPayload(client, nil))
	}
	return items, nil
}

func (s *Service) GetClient(ctx context.Context, clientID string) (map[string]any, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	tags, err := s.store.ListClientTags(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return clientPayload(client, tags), nil
}

func (s *Service) CreateClient(ctx context.Context, session Session, input ClientInput) (map[string]any, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	status := input.Status
	if status == "" {
		status = "prospect"
	}
	ownerID := input.OwnerID
	if ownerID == "" {
		ownerID = session.UserID
	}

	client := store.Client{
		ID:          util.NewID("cli"),
		Company:     strings.TrimSpace(input.Company),
		ContactName: strings.TrimSpace(input.ContactName),
		Email:       strings.TrimSpace(input.Email),
		Phone:       strings.TrimSpace(input.Phone),
		Status:      status,
		OwnerID:     ownerID,
	}
	if err := s.store.InsertClient(ctx, client); err != nil {
		return nil, err
	}
	created, err := s.store.GetClient(ctx, client.ID)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		if err := s.history.EnsureClientRepo(client.ID, clientSnapshot(created, nil), session.UserName); err != nil {
			log.Printf("init history repo for %s: %v", client.ID, err)
		}
	}
	s.indexClient(created)
	s.audit(ctx, session, "client.create", "client", client.ID, map[string]any{"company": client.Company})
	return clientPayload(created, []store.Tag{}), nil
}

func (s *Service) UpdateClient(ctx context.Context, session Session, clientID string, input ClientInput) (map[string]any, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	existing, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	updated := existing
	updated.Company = strings.TrimSpace(input.Company)
	updated.ContactName = strings.TrimSpace(input.ContactName)
	updated.Email = strings.TrimSpace(input.Email)
	updated.Phone = strings.TrimSpace(input.Phone)
	if input.Status != "" {
		updated.Status = input.Status
	}
	if input.OwnerID != "" {
		if updated.OwnerID != input.OwnerID && !s.Can(session.Role, rbac.ActionManage) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only managers may reassign owners", nil)
		}
		updated.OwnerID = input.OwnerID
	}

	if err := s.store.UpdateClient(ctx, updated); err != nil {
		return nil, err
	}
	saved, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	tags, err := s.store.ListClientTags(ctx, clientID)
	if err != nil {
		return nil, err
	}

	s.commitClientHistory(saved, tags, session.UserName, "Update client record")
	s.indexClient(saved)
	s.audit(ctx, session, "client.update", "client", clientID, map[string]any{"company": saved.Company})
	return clientPayload(saved, tags), nil
}

func (s *Service) ArchiveClient(ctx context.Context, session Session, clientID string) error {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if err := s.store.ArchiveClient(ctx, clientID); err != nil {
		return err
	}

	// Archived records leave the search index; their notes and deals go with
	// them since results always point back at the client.
	if s.search != nil {
		s.search.DeleteClient(clientID)
		if notes, err := s.store.ListClientNotes(ctx, clientID); err == nil {
			for _, note := range notes {
				s.search.DeleteNote(note.ID)
			}
		}
		if deals, err := s.store.ListClientDeals(ctx, clientID); err == nil {
			for _, deal := range deals {
				s.search.DeleteDeal(deal.ID)
			}
		}
	}

	s.audit(ctx, session, "client.archive", "client", clientID, map[string]any{"company": client.Company})
	return nil
}

func (s *Service) SetClientTags(ctx context.Context, session Session, clientID string, tagIDs []string) ([]map[string]any, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for _, tagID := range tagIDs {
		if _, err := s.store.GetTag(ctx, tagID); err != nil {
			if store.IsNotFound(err) {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown tag "+tagID, nil)
			}
			return nil, err
		}
	}
	if err := s.store.SetClientTags(ctx, clientID, tagIDs); err != nil {
		return nil, err
	}
	tags, err := s.store.ListClientTags(ctx, clientID)
	if err != nil {
		return nil, err
	}

	s.commitClientHistory(client, tags, session.UserName, "Update tags")
	s.audit(ctx, session, "client.tags", "client", clientID, map[string]any{"tagIds": tagIDs})
	return tagPayloads(tags), nil
}

func (s *Service) ClientHistory(ctx context.Context, clientID string, limit int) ([]map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History not configured", nil)
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	commits, err := s.history.History(clientID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) ClientHistorySnapshot(ctx context.Context, clientID, hash string) (map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History not configured", nil)
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	snap, err := s.history.GetByHash(clientID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No snapshot at that hash", nil)
	}
	head, _, err := s.history.GetHead(clientID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"snapshot": snap,
		"diff":     history.DiffFields(snap, head),
	}, nil
}

func clientSnapshot(client store.Client, tags []store.Tag) history.Snapshot {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	owner := client.OwnerName
	if owner == "" {
		owner = client.OwnerID
	}
	return history.Snapshot{
		Company:     client.Company,
		ContactName: client.ContactName,
		Email:       client.Email,
		Phone:       client.Phone,
		Status:      client.Status,
		Owner:       owner,
		Tags:        names,
	}
}

// commitClientHistory writes a snapshot commit when something changed.
// History failures are logged and swallowed; the row is the source of truth.
func (s *Service) commitClientHistory(client store.Client, tags []store.Tag, author, message string) {
	if s.history == nil {
		return
	}
	snap := clientSnapshot(client, tags)
	if err := s.history.EnsureClientRepo(client.ID, snap, author); err != nil {
		log.Printf("ensure history repo for %s: %v", client.ID, err)
		return
	}
	head, _, err := s.history.GetHead(client.ID)
	if err == nil && !history.HasChanges(head, snap) {
		return
	}
	if _, err := s.history.CommitSnapshot(client.ID, snap, author, message); err != nil {
		log.Printf("commit history for %s: %v", client.ID, err)
	}
}

func (s *Service) indexClient(client store.Client) {
	if s.search == nil {
		return
	}
	s.search.IndexClient(search.ClientRecord{
		ID:          client.ID,
		Company:     client.Company,
		ContactName: client.ContactName,
		Email:       client.Email,
		Status:      client.Status,
		OwnerID:     client.OwnerID,
	})
}
