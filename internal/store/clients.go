package store

import (
	"context"
	"fmt"
	"strings"
)

const clientColumns = `c.id, c.company, COALESCE(c.contact_name, ''), COALESCE(c.email, ''),
	COALESCE(c.phone, ''), c.status, COALESCE(c.owner_id, ''), COALESCE(u.display_name, ''),
	c.created_at, c.updated_at`

func scanClient(row interface{ Scan(...any) error }) (Client, error) {
	var client Client
	err := row.Scan(
		&client.ID,
		&client.Company,
		&client.ContactName,
		&client.Email,
		&client.Phone,
		&client.Status,
		&client.OwnerID,
		&client.OwnerName,
		&client.CreatedAt,
		&client.UpdatedAt,
	)
	return client, err
}

func (s *PostgresStore) ListClients(ctx context.Context, filter ClientFilter) ([]Client, error) {
	conditions := []string{"c.archived_at IS NULL"}
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("c.owner_id = $%d", len(args)))
	}
	if filter.TagID != "" {
		args = append(args, filter.TagID)
		conditions = append(conditions, fmt.Sprintf("EXISTS(SELECT 1 FROM client_tags ct WHERE ct.client_id = c.id AND ct.tag_id = $%d)", len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		conditions = append(conditions, fmt.Sprintf("(c.company ILIKE $%d OR c.contact_name ILIKE $%d OR c.email ILIKE $%d)", len(args), len(args), len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	limitClause := fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		limitClause += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := `SELECT ` + clientColumns + `
		FROM clients c
		LEFT JOIN users u ON u.id = c.owner_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY c.company ASC` + limitClause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]Client, 0)
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		items = append(items, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients c
		LEFT JOIN users u ON u.id = c.owner_id
		WHERE c.id=$1 AND c.archived_at IS NULL
	`, clientID)
	return scanClient(row)
}

func (s *PostgresStore) InsertClient(ctx context.Context, client Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, company, contact_name, email, phone, status, owner_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''))
	`, client.ID, client.Company, client.ContactName, client.Email, client.Phone, client.Status, client.OwnerID)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateClient(ctx context.Context, client Client) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET company=$2, contact_name=NULLIF($3, ''), email=NULLIF($4, ''), phone=NULLIF($5, ''),
			status=$6, owner_id=NULLIF($7, ''), updated_at=NOW()
		WHERE id=$1 AND archived_at IS NULL
	`, client.ID, client.Company, client.ContactName, client.Email, client.Phone, client.Status, client.OwnerID)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update client rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update client: no row for %s", client.ID)
	}
	return nil
}

// ArchiveClient soft-deletes; archived clients drop out of listings and search
// but keep their notes, tasks, and history.
func (s *PostgresStore) ArchiveClient(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients SET archived_at=NOW(), updated_at=NOW() WHERE id=$1 AND archived_at IS NULL
	`, clientID)
	if err != nil {
		return fmt.Errorf("archive client: %w", err)
	}
	return nil
}

// SetClientTags replaces the client's tag set in one transaction.
func (s *PostgresStore) SetClientTags(ctx context.Context, clientID string, tagIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set client tags: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM client_tags WHERE client_id=$1`, clientID); err != nil {
		return fmt.Errorf("clear client tags: %w", err)
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO client_tags (client_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, clientID, tagID); err != nil {
			return fmt.Errorf("attach tag %s: %w", tagID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set client tags: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListClientTags(ctx context.Context, clientID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, COALESCE(t.color, ''), t.created_at
		FROM tags t
		JOIN client_tags ct ON ct.tag_id = t.id
		WHERE ct.client_id = $1
		ORDER BY t.name ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Color, &tag.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client tags: %w", err)
	}
	return items, nil
}
