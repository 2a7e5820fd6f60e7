package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"harbor/api/internal/rbac"
	"harbor/api/internal/search"
	"harbor/api/internal/store"
	"harbor/api/internal/util"
)

// dealTransitions is the fixed stage graph: lead → qualified → proposal →
// won | lost. Closed deals accept no further moves except the admin reopen
// handled in ChangeDealStage.
var dealTransitions = map[string][]string{
	"lead":      {"qualified", "lost"},
	"qualified": {"proposal", "lost"},
	"proposal":  {"won", "lost"},
	"won":       {},
	"lost":      {},
}

type DealInput struct {
	Title         string     `json:"title"`
	AmountCents   int64      `json:"amountCents"`
	Currency      string     `json:"currency"`
	ExpectedClose *time.Time `json:"expectedClose"`
	OwnerID       string     `json:"ownerId"`
}

func dealPayload(deal store.Deal) map[string]any {
	return map[string]any{
		"id":            deal.ID,
		"clientId":      deal.ClientID,
		"title":         deal.Title,
		"amountCents":   deal.AmountCents,
		"currency":      deal.Currency,
		"stage":         deal.Stage,
		"ownerId":       deal.OwnerID,
		"expectedClose": deal.ExpectedClose,
		"closedAt":      deal.ClosedAt,
		"createdAt":     deal.CreatedAt,
		"updatedAt":     deal.UpdatedAt,
	}
}

func (s *Service) ListClientDeals(ctx context.Context, clientID string) ([]map[string]any, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	deals, err := s.store.ListClientDeals(ctx, clientID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(deals))
	for _, deal := range deals {
		items = append(items, dealPayload(deal))
	}
	return items, nil
}

func (s *Service) CreateDeal(ctx context.Context, session Session, clientID string, input DealInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.AmountCents < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "amountCents must not be negative", nil)
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "USD"
	}
	ownerID := input.OwnerID
	if ownerID == "" {
		ownerID = session.UserID
	}
	deal := store.Deal{
		ID:            util.NewID("deal"),
		ClientID:      clientID,
		Title:         strings.TrimSpace(input.Title),
		AmountCents:   input.AmountCents,
		Currency:      currency,
		Stage:         "lead",
		OwnerID:       ownerID,
		ExpectedClose: input.ExpectedClose,
	}
	if err := s.store.InsertDeal(ctx, deal); err != nil {
		return nil, err
	}
	created, err := s.store.GetDeal(ctx, deal.ID)
	if err != nil {
		return nil, err
	}

	s.indexDeal(created, client.Company)
	s.audit(ctx, session, "deal.create", "deal", deal.ID, map[string]any{"clientId": clientID, "title": deal.Title})
	return dealPayload(created), nil
}

func (s *Service) UpdateDeal(ctx context.Context, session Session, dealID string, input DealInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.AmountCents < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "amountCents must not be negative", nil)
	}
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	deal.Title = strings.TrimSpace(input.Title)
	deal.AmountCents = input.AmountCents
	if input.Currency != "" {
		deal.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	}
	deal.ExpectedClose = input.ExpectedClose
	if input.OwnerID != "" {
		deal.OwnerID = input.OwnerID
	}
	if err := s.store.UpdateDeal(ctx, deal); err != nil {
		return nil, err
	}
	updated, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	if client, err := s.store.GetClient(ctx, deal.ClientID); err == nil {
		s.indexDeal(updated, client.Company)
	}
	s.audit(ctx, session, "deal.update", "deal", dealID, map[string]any{"clientId": deal.ClientID})
	return dealPayload(updated), nil
}

// ChangeDealStage moves a deal along the pipeline. Closed deals reject
// further changes, except that an admin may reopen one back to proposal.
func (s *Service) ChangeDealStage(ctx context.Context, session Session, dealID, stage string) (map[string]any, error) {
	if _, ok := dealTransitions[stage]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown stage "+stage, nil)
	}
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, next := range dealTransitions[deal.Stage] {
		if next == stage {
			allowed = true
			break
		}
	}
	reopen := (deal.Stage == "won" || deal.Stage == "lost") && stage == "proposal" && s.Can(session.Role, rbac.ActionAdmin)
	if !allowed && !reopen {
		return nil, domainError(http.StatusConflict, "INVALID_STAGE_TRANSITION", "Cannot move deal from "+deal.Stage+" to "+stage, nil)
	}

	if err := s.store.UpdateDealStage(ctx, dealID, stage); err != nil {
		return nil, err
	}
	updated, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	if client, err := s.store.GetClient(ctx, deal.ClientID); err == nil {
		s.indexDeal(updated, client.Company)
	}
	s.audit(ctx, session, "deal.stage", "deal", dealID, map[string]any{
		"from": deal.Stage,
		"to":   stage,
	})
	return dealPayload(updated), nil
}

func (s *Service) DeleteDeal(ctx context.Context, session Session, dealID string) error {
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDeal(ctx, dealID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDeal(dealID)
	}
	s.audit(ctx, session, "deal.delete", "deal", dealID, map[string]any{"clientId": deal.ClientID})
	return nil
}

// Pipeline returns per-stage counts and totals for open stages.
func (s *Service) Pipeline(ctx context.Context) ([]map[string]any, error) {
	stages, err := s.store.PipelineSummary(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(stages))
	for _, stage := range stages {
		items = append(items, map[string]any{
			"stage":       stage.Stage,
			"count":       stage.Count,
			"amountCents": stage.AmountCents,
		})
	}
	return items, nil
}

func (s *Service) indexDeal(deal store.Deal, company string) {
	if s.search == nil {
		return
	}
	s.search.IndexDeal(search.DealRecord{
		ID:       deal.ID,
		Title:    deal.Title,
		Stage:    deal.Stage,
		ClientID: deal.ClientID,
		Company:  company,
	})
}
