package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"harbor/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	ListClientTags(ctx context.Context, clientID string) ([]store.Tag, error)
	ListClientNotes(ctx context.Context, clientID string) ([]store.Note, error)
	ListClientTasks(ctx context.Context, clientID string) ([]store.Task, error)
	ListClientDeals(ctx context.Context, clientID string) ([]store.Deal, error)
	ListClients(ctx context.Context, filter store.ClientFilter) ([]store.Client, error)
}

// Service provides client export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// ClientSummaryPDF renders one client's full picture into a PDF: contact
// details, tags, deals, open tasks, and notes.
func (s *Service) ClientSummaryPDF(ctx context.Context, clientID string) (*Result, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}

	tags, err := s.store.ListClientTags(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	notes, err := s.store.ListClientNotes(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	tasks, err := s.store.ListClientTasks(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	deals, err := s.store.ListClientDeals(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}

	data := TemplateData{
		Company:     client.Company,
		ContactName: client.ContactName,
		Email:       client.Email,
		Phone:       client.Phone,
		Status:      client.Status,
		OwnerName:   client.OwnerName,
		GeneratedAt: time.Now(),
	}
	for _, tag := range tags {
		data.Tags = append(data.Tags, tag.Name)
	}
	for _, note := range notes {
		data.Notes = append(data.Notes, TemplateNote{
			Author:    note.AuthorName,
			Body:      note.Body,
			Pinned:    note.Pinned,
			CreatedAt: note.CreatedAt,
		})
	}
	for _, task := range tasks {
		if task.Status != "open" {
			continue
		}
		due := ""
		if task.DueAt != nil {
			due = task.DueAt.Format("Jan 2, 2006")
		}
		data.Tasks = append(data.Tasks, TemplateTask{
			Title:  task.Title,
			Status: task.Status,
			DueAt:  due,
		})
	}
	for _, deal := range deals {
		data.Deals = append(data.Deals, TemplateDeal{
			Title:       deal.Title,
			Stage:       deal.Stage,
			AmountCents: deal.AmountCents,
			Currency:    deal.Currency,
		})
	}

	html, err := RenderClientHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return renderPDF(html, client.Company)
}

// ClientsCSV exports the filtered client list as CSV.
func (s *Service) ClientsCSV(ctx context.Context, filter store.ClientFilter) (*Result, error) {
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	clients, err := s.store.ListClients(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "company", "contact_name", "email", "phone", "status", "owner", "created_at"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, client := range clients {
		row := []string{
			client.ID,
			client.Company,
			client.ContactName,
			client.Email,
			client.Phone,
			client.Status,
			client.OwnerName,
			client.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	filename := "clients-" + time.Now().UTC().Format("20060102") + ".csv"
	return &Result{
		Data:     buf.Bytes(),
		Filename: filename,
		MimeType: "text/csv",
	}, nil
}

// DealsCSV exports one client's deals as CSV.
func (s *Service) DealsCSV(ctx context.Context, clientID string) (*Result, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	deals, err := s.store.ListClientDeals(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "title", "stage", "amount_cents", "currency", "expected_close"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, deal := range deals {
		expected := ""
		if deal.ExpectedClose != nil {
			expected = deal.ExpectedClose.UTC().Format("2006-01-02")
		}
		row := []string{
			deal.ID,
			deal.Title,
			deal.Stage,
			strconv.FormatInt(deal.AmountCents, 10),
			deal.Currency,
			expected,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: safeFilename(client.Company) + "-deals.csv",
		MimeType: "text/csv",
	}, nil
}
