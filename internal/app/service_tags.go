package app

import (
	"context"
	"net/http"
	"strings"

	"harbor/api/internal/store"
	"harbor/api/internal/util"
)

type TagInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func tagPayloads(tags []store.Tag) []map[string]any {
	items := make([]map[string]any, 0, len(tags))
	for _, tag := range tags {
		items = append(items, map[string]any{
			"id":    tag.ID,
			"name":  tag.Name,
			"color": tag.Color,
		})
	}
	return items
}

func (s *Service) ListTags(ctx context.Context) ([]map[string]any, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	return tagPayloads(tags), nil
}

func (s *Service) CreateTag(ctx context.Context, session Session, input TagInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	tag := store.Tag{
		ID:    util.NewID("tag"),
		Name:  name,
		Color: strings.TrimSpace(input.Color),
	}
	if err := s.store.InsertTag(ctx, tag); err != nil {
		return nil, err
	}
	s.audit(ctx, session, "tag.create", "tag", tag.ID, map[string]any{"name": tag.Name})
	return map[string]any{"id": tag.ID, "name": tag.Name, "color": tag.Color}, nil
}

// DeleteTag detaches the tag from every client via the client_tags cascade.
func (s *Service) DeleteTag(ctx context.Context, session Session, tagID string) error {
	tag, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTag(ctx, tagID); err != nil {
		return err
	}
	s.audit(ctx, session, "tag.delete", "tag", tagID, map[string]any{"name": tag.Name})
	return nil
}
