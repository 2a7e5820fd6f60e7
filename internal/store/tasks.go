package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const taskColumns = `id, client_id, COALESCE(assignee_id, ''), title, COALESCE(details, ''),
	due_at, status, completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var task Task
	err := row.Scan(
		&task.ID,
		&task.ClientID,
		&task.AssigneeID,
		&task.Title,
		&task.Details,
		&task.DueAt,
		&task.Status,
		&task.CompletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	return task, err
}

func (s *PostgresStore) ListClientTasks(ctx context.Context, clientID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE client_id=$1
		ORDER BY due_at ASC NULLS LAST, created_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client tasks: %w", err)
	}
	return collectTasks(rows)
}

// ListUserTasks returns the open tasks assigned to one user; overdueOnly keeps
// only those whose due date has passed.
func (s *PostgresStore) ListUserTasks(ctx context.Context, userID string, overdueOnly bool) ([]Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE assignee_id=$1 AND status='open'`
	if overdueOnly {
		query += ` AND due_at IS NOT NULL AND due_at < NOW()`
	}
	query += ` ORDER BY due_at ASC NULLS LAST, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user tasks: %w", err)
	}
	return collectTasks(rows)
}

// ListTasksDueBefore feeds the reminder loop: open tasks with a due date in
// the window that have not been reminded yet.
func (s *PostgresStore) ListTasksDueBefore(ctx context.Context, cutoff time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status='open' AND reminded_at IS NULL AND due_at IS NOT NULL AND due_at < $1
		ORDER BY due_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list tasks due: %w", err)
	}
	return collectTasks(rows)
}

func (s *PostgresStore) MarkTaskReminded(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET reminded_at=NOW() WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("mark task reminded: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID)
	return scanTask(row)
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, client_id, assignee_id, title, details, due_at, status)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7)
	`, task.ID, task.ClientID, task.AssigneeID, task.Title, task.Details, task.DueAt, task.Status)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET assignee_id=NULLIF($2, ''), title=$3, details=NULLIF($4, ''), due_at=$5, updated_at=NOW()
		WHERE id=$1
	`, task.ID, task.AssigneeID, task.Title, task.Details, task.DueAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTaskStatus(ctx context.Context, taskID, status string) error {
	var query string
	if status == "done" {
		query = `UPDATE tasks SET status=$2, completed_at=NOW(), updated_at=NOW() WHERE id=$1`
	} else {
		query = `UPDATE tasks SET status=$2, completed_at=NULL, updated_at=NOW() WHERE id=$1`
	}
	_, err := s.db.ExecContext(ctx, query, taskID, status)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()
	items := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}
