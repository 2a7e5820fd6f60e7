package app

import (
	"context"
	"errors"
	"net/http"

	"harbor/api/internal/export"
	"harbor/api/internal/search"
	"harbor/api/internal/store"
)

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func (s *Service) exportsEnabled() error {
	if s.export == nil {
		return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	return nil
}

func (s *Service) ExportClientPDF(ctx context.Context, session Session, clientID string) (*export.Result, error) {
	if err := s.exportsEnabled(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	result, err := s.export.ClientSummaryPDF(ctx, clientID)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering requires a Chromium install", nil)
		}
		return nil, err
	}
	s.audit(ctx, session, "client.export", "client", clientID, map[string]any{"format": "pdf"})
	return result, nil
}

func (s *Service) ExportClientsCSV(ctx context.Context, filter store.ClientFilter) (*export.Result, error) {
	if err := s.exportsEnabled(); err != nil {
		return nil, err
	}
	return s.export.ClientsCSV(ctx, filter)
}

func (s *Service) ExportDealsCSV(ctx context.Context, clientID string) (*export.Result, error) {
	if err := s.exportsEnabled(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.export.DealsCSV(ctx, clientID)
}
