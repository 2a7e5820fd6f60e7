package app

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"harbor/api/internal/store"
	"harbor/api/internal/util"
)

type TaskInput struct {
	Title      string     `json:"title"`
	Details    string     `json:"details"`
	AssigneeID string     `json:"assigneeId"`
	DueAt      *time.Time `json:"dueAt"`
}

func taskPayload(task store.Task) map[string]any {
	return map[string]any{
		"id":          task.ID,
		"clientId":    task.ClientID,
		"assigneeId":  task.AssigneeID,
		"title":       task.Title,
		"details":     task.Details,
		"dueAt":       task.DueAt,
		"status":      task.Status,
		"completedAt": task.CompletedAt,
		"createdAt":   task.CreatedAt,
		"updatedAt":   task.UpdatedAt,
	}
}

func (s *Service) ListClientTasks(ctx context.Context, clientID string) ([]map[string]any, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListClientTasks(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return taskPayloads(tasks), nil
}

// ListMyTasks returns the caller's open tasks ordered by due date.
func (s *Service) ListMyTasks(ctx context.Context, session Session, overdueOnly bool) ([]map[string]any, error) {
	tasks, err := s.store.ListUserTasks(ctx, session.UserID, overdueOnly)
	if err != nil {
		return nil, err
	}
	return taskPayloads(tasks), nil
}

func (s *Service) CreateTask(ctx context.Context, session Session, clientID string, input TaskInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}

	assignee := input.AssigneeID
	if assignee == "" {
		assignee = session.UserID
	}
	task := store.Task{
		ID:         util.NewID("tsk"),
		ClientID:   clientID,
		AssigneeID: assignee,
		Title:      strings.TrimSpace(input.Title),
		Details:    input.Details,
		DueAt:      input.DueAt,
		Status:     "open",
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, session, "task.create", "task", task.ID, map[string]any{"clientId": clientID, "title": task.Title})
	return taskPayload(created), nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input TaskInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	task.Title = strings.TrimSpace(input.Title)
	task.Details = input.Details
	task.DueAt = input.DueAt
	if input.AssigneeID != "" {
		task.AssigneeID = input.AssigneeID
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	updated, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, session, "task.update", "task", taskID, map[string]any{"clientId": task.ClientID})
	return taskPayload(updated), nil
}

// SetTaskStatus handles complete and reopen. "done" stamps completed_at.
func (s *Service) SetTaskStatus(ctx context.Context, session Session, taskID, status string) (map[string]any, error) {
	if status != "open" && status != "done" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be open or done", nil)
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	if err := s.store.SetTaskStatus(ctx, taskID, status); err != nil {
		return nil, err
	}
	updated, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	eventType := "task.complete"
	if status == "open" {
		eventType = "task.reopen"
	}
	s.audit(ctx, session, eventType, "task", taskID, map[string]any{"clientId": updated.ClientID})
	return taskPayload(updated), nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.audit(ctx, session, "task.delete", "task", taskID, map[string]any{"clientId": task.ClientID})
	return nil
}

// SendDueTaskReminders emails assignees for tasks due before the cutoff and
// marks them reminded so the loop never mails twice.
func (s *Service) SendDueTaskReminders(ctx context.Context, cutoff time.Time) (int, error) {
	if !s.SMTPConfigured() {
		return 0, nil
	}
	tasks, err := s.store.ListTasksDueBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, task := range tasks {
		assignee, err := s.store.GetUserByID(ctx, task.AssigneeID)
		if err != nil {
			continue
		}
		company := ""
		if client, err := s.store.GetClient(ctx, task.ClientID); err == nil {
			company = client.Company
		}
		taskURL := s.cfg.AppBaseURL + "/clients/" + task.ClientID + "?task=" + task.ID
		dueAt := time.Now()
		if task.DueAt != nil {
			dueAt = *task.DueAt
		}
		if err := s.email.SendTaskReminder(assignee.Email, assignee.DisplayName, task.Title, company, dueAt, taskURL); err != nil {
			log.Printf("send task reminder %s: %v", task.ID, err)
			continue
		}
		if err := s.store.MarkTaskReminded(ctx, task.ID); err != nil {
			log.Printf("mark task reminded %s: %v", task.ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

func taskPayloads(tasks []store.Task) []map[string]any {
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskPayload(task))
	}
	return items
}
