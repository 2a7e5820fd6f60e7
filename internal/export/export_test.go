package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"harbor/api/internal/store"
)

type fakeDataStore struct {
	client store.Client
	tags   []store.Tag
	notes  []store.Note
	tasks  []store.Task
	deals  []store.Deal
}

func (f *fakeDataStore) GetClient(ctx context.Context, clientID string) (store.Client, error) {
	return f.client, nil
}

func (f *fakeDataStore) ListClientTags(ctx context.Context, clientID string) ([]store.Tag, error) {
	return f.tags, nil
}

func (f *fakeDataStore) ListClientNotes(ctx context.Context, clientID string) ([]store.Note, error) {
	return f.notes, nil
}

func (f *fakeDataStore) ListClientTasks(ctx context.Context, clientID string) ([]store.Task, error) {
	return f.tasks, nil
}

func (f *fakeDataStore) ListClientDeals(ctx context.Context, clientID string) ([]store.Deal, error) {
	return f.deals, nil
}

func (f *fakeDataStore) ListClients(ctx context.Context, filter store.ClientFilter) ([]store.Client, error) {
	return []store.Client{f.client}, nil
}

func TestRenderClientHTML(t *testing.T) {
	data := TemplateData{
		Company:     "Acme Corp",
		ContactName: "Jordan Li",
		Email:       "jordan@acme.test",
		Status:      "active",
		OwnerName:   "Avery",
		Tags:        []string{"enterprise", "priority"},
		GeneratedAt: time.Now(),
		Notes: []TemplateNote{
			{Author: "Avery", Body: "Kickoff call went well", CreatedAt: time.Now()},
		},
		Tasks: []TemplateTask{
			{Title: "Send proposal", Status: "open", DueAt: "Mar 1, 2026"},
		},
		Deals: []TemplateDeal{
			{Title: "Annual license", Stage: "proposal", AmountCents: 1250000, Currency: "USD"},
		},
	}

	html, err := RenderClientHTML(data)
	if err != nil {
		t.Fatalf("RenderClientHTML() error = %v", err)
	}

	for _, want := range []string{"Acme Corp", "Jordan Li", "enterprise", "Kickoff call went well", "Send proposal", "Annual license", "12,500.00 USD"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		cents    int64
		currency string
		want     string
	}{
		{0, "USD", "0.00 USD"},
		{99, "USD", "0.99 USD"},
		{1250000, "USD", "12,500.00 USD"},
		{100, "EUR", "1.00 EUR"},
		{123456789, "USD", "1,234,567.89 USD"},
	}
	for _, tt := range tests {
		if got := formatMoney(tt.cents, tt.currency); got != tt.want {
			t.Errorf("formatMoney(%d, %s) = %q, want %q", tt.cents, tt.currency, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Acme Corp", "Acme-Corp"},
		{"Weird / Name!", "Weird--Name"},
		{"", "client"},
	}
	for _, tt := range tests {
		if got := safeFilename(tt.input); got != tt.want {
			t.Errorf("safeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestClientsCSV(t *testing.T) {
	fake := &fakeDataStore{
		client: store.Client{
			ID:          "cli_1",
			Company:     "Acme Corp",
			ContactName: "Jordan Li",
			Email:       "jordan@acme.test",
			Status:      "active",
			OwnerName:   "Avery",
			CreatedAt:   time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		},
	}
	svc := NewService(fake)

	result, err := svc.ClientsCSV(context.Background(), store.ClientFilter{})
	if err != nil {
		t.Fatalf("ClientsCSV() error = %v", err)
	}
	if result.MimeType != "text/csv" {
		t.Errorf("mime = %q", result.MimeType)
	}

	out := string(result.Data)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,company,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Acme Corp") || !strings.Contains(lines[1], "2026-01-15T10:00:00Z") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestDealsCSV(t *testing.T) {
	expected := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeDataStore{
		client: store.Client{ID: "cli_1", Company: "Acme Corp"},
		deals: []store.Deal{
			{ID: "dl_1", Title: "Annual license", Stage: "proposal", AmountCents: 1250000, Currency: "USD", ExpectedClose: &expected},
		},
	}
	svc := NewService(fake)

	result, err := svc.DealsCSV(context.Background(), "cli_1")
	if err != nil {
		t.Fatalf("DealsCSV() error = %v", err)
	}
	if result.Filename != "Acme-Corp-deals.csv" {
		t.Errorf("filename = %q", result.Filename)
	}
	if !strings.Contains(string(result.Data), "Annual license,proposal,1250000,USD,2026-04-01") {
		t.Errorf("csv = %q", string(result.Data))
	}
}
