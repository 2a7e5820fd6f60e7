package app

import (
	"context"
	"net/http"
	"strings"

	"harbor/api/internal/search"
	"harbor/api/internal/store"
	"harbor/api/internal/util"
)

type NoteInput struct {
	Body   string `json:"body"`
	Pinned bool   `json:"pinned"`
}

func notePayload(note store.Note) map[string]any {
	return map[string]any{
		"id":         note.ID,
		"clientId":   note.ClientID,
		"authorId":   note.AuthorID,
		"authorName": note.AuthorName,
		"body":       note.Body,
		"pinned":     note.Pinned,
		"createdAt":  note.CreatedAt,
		"updatedAt":  note.UpdatedAt,
	}
}

func (s *Service) ListClientNotes(ctx context.Context, clientID string) ([]map[string]any, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	notes, err := s.store.ListClientNotes(ctx, clientID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		items = append(items, notePayload(note))
	}
	return items, nil
}

func (s *Service) CreateNote(ctx context.Context, session Session, clientID string, input NoteInput) (map[string]any, error) {
	if strings.TrimSpace(input.Body) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	note := store.Note{
		ID:       util.NewID("note"),
		ClientID: clientID,
		AuthorID: session.UserID,
		Body:     input.Body,
		Pinned:   input.Pinned,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	created, err := s.store.GetNote(ctx, note.ID)
	if err != nil {
		return nil, err
	}

	s.indexNote(created, client.Company)
	s.audit(ctx, session, "note.create", "note", note.ID, map[string]any{"clientId": clientID})
	return notePayload(created), nil
}

func (s *Service) UpdateNote(ctx context.Context, session Session, noteID string, input NoteInput) (map[string]any, error) {
	if strings.TrimSpace(input.Body) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateNote(ctx, noteID, input.Body, input.Pinned); err != nil {
		return nil, err
	}
	updated, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	if client, err := s.store.GetClient(ctx, note.ClientID); err == nil {
		s.indexNote(updated, client.Company)
	}
	s.audit(ctx, session, "note.update", "note", noteID, map[string]any{"clientId": note.ClientID})
	return notePayload(updated), nil
}

func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	s.audit(ctx, session, "note.delete", "note", noteID, map[string]any{"clientId": note.ClientID})
	return nil
}

func (s *Service) indexNote(note store.Note, company string) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:       note.ID,
		Body:     note.Body,
		ClientID: note.ClientID,
		Company:  company,
	})
}
