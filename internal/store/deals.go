package store

import (
	"context"
	"fmt"
)

const dealColumns = `id, client_id, title, amount_cents, currency, stage,
	COALESCE(owner_id, ''), expected_close, closed_at, created_at, updated_at`

func scanDeal(row interface{ Scan(...any) error }) (Deal, error) {
	var deal Deal
	err := row.Scan(
		&deal.ID,
		&deal.ClientID,
		&deal.Title,
		&deal.AmountCents,
		&deal.Currency,
		&deal.Stage,
		&deal.OwnerID,
		&deal.ExpectedClose,
		&deal.ClosedAt,
		&deal.CreatedAt,
		&deal.UpdatedAt,
	)
	return deal, err
}

func (s *PostgresStore) ListClientDeals(ctx context.Context, clientID string) ([]Deal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE client_id=$1
		ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client deals: %w", err)
	}
	defer rows.Close()

	items := make([]Deal, 0)
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		items = append(items, deal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (Deal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id=$1`, dealID)
	return scanDeal(row)
}

func (s *PostgresStore) InsertDeal(ctx context.Context, deal Deal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deals (id, client_id, title, amount_cents, currency, stage, owner_id, expected_close)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, deal.ID, deal.ClientID, deal.Title, deal.AmountCents, deal.Currency, deal.Stage, deal.OwnerID, deal.ExpectedClose)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, deal Deal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deals
		SET title=$2, amount_cents=$3, currency=$4, owner_id=NULLIF($5, ''), expected_close=$6, updated_at=NOW()
		WHERE id=$1
	`, deal.ID, deal.Title, deal.AmountCents, deal.Currency, deal.OwnerID, deal.ExpectedClose)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	return nil
}

// UpdateDealStage also stamps closed_at when the deal moves to a terminal
// stage and clears it when it moves back out of one.
func (s *PostgresStore) UpdateDealStage(ctx context.Context, dealID, stage string) error {
	var query string
	if stage == "won" || stage == "lost" {
		query = `UPDATE deals SET stage=$2, closed_at=NOW(), updated_at=NOW() WHERE id=$1`
	} else {
		query = `UPDATE deals SET stage=$2, closed_at=NULL, updated_at=NOW() WHERE id=$1`
	}
	_, err := s.db.ExecContext(ctx, query, dealID, stage)
	if err != nil {
		return fmt.Errorf("update deal stage: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDeal(ctx context.Context, dealID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deals WHERE id=$1`, dealID)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	return nil
}

func (s *PostgresStore) PipelineSummary(ctx context.Context) ([]PipelineStage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, COUNT(*), COALESCE(SUM(amount_cents), 0)
		FROM deals
		WHERE stage NOT IN ('won', 'lost')
		GROUP BY stage
	`)
	if err != nil {
		return nil, fmt.Errorf("pipeline summary: %w", err)
	}
	defer rows.Close()

	items := make([]PipelineStage, 0)
	for rows.Next() {
		var stage PipelineStage
		if err := rows.Scan(&stage.Stage, &stage.Count, &stage.AmountCents); err != nil {
			return nil, fmt.Errorf("scan pipeline stage: %w", err)
		}
		items = append(items, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline: %w", err)
	}
	return items, nil
}
