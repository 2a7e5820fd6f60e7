package store

import (
	"context"
	"fmt"
)

const noteColumns = `n.id, n.client_id, n.author_id, COALESCE(u.display_name, ''),
	n.body, n.pinned, n.created_at, n.updated_at`

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var note Note
	err := row.Scan(
		&note.ID,
		&note.ClientID,
		&note.AuthorID,
		&note.AuthorName,
		&note.Body,
		&note.Pinned,
		&note.CreatedAt,
		&note.UpdatedAt,
	)
	return note, err
}

// ListClientNotes returns pinned notes first, newest within each group.
func (s *PostgresStore) ListClientNotes(ctx context.Context, clientID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		LEFT JOIN users u ON u.id = n.author_id
		WHERE n.client_id=$1
		ORDER BY n.pinned DESC, n.created_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes n
		LEFT JOIN users u ON u.id = n.author_id
		WHERE n.id=$1
	`, noteID)
	return scanNote(row)
}

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, client_id, author_id, body, pinned)
		VALUES ($1, $2, $3, $4, $5)
	`, note.ID, note.ClientID, note.AuthorID, note.Body, note.Pinned)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, noteID, body string, pinned bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notes SET body=$2, pinned=$3, updated_at=NOW() WHERE id=$1
	`, noteID, body, pinned)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}
