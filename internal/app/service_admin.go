package app

import (
	"context"
	"net/http"

	"harbor/api/internal/rbac"
	"harbor/api/internal/store"
)

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":            user.ID,
		"displayName":   user.DisplayName,
		"email":         user.Email,
		"role":          user.Role,
		"status":        user.Status,
		"emailVerified": user.IsEmailVerified,
		"failedLogins":  user.FailedLogins,
		"lockedUntil":   user.LockedUntil,
		"lastLoginAt":   user.LastLoginAt,
		"createdAt":     user.CreatedAt,
	}
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (map[string]any, error) {
	if rbac.Normalize(role) != rbac.Role(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be viewer, rep, manager, or admin", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	s.audit(ctx, session, "user.role", "user", userID, map[string]any{"from": user.Role, "to": role})
	user.Role = role
	return userPayload(user), nil
}

// UnlockUser clears a lockout early. The attempt counter resets with it.
func (s *Service) UnlockUser(ctx context.Context, session Session, userID string) error {
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if err := s.lockout.Unlock(ctx, userID); err != nil {
		return err
	}
	s.audit(ctx, session, "user.unlock", "user", userID, nil)
	return nil
}

func (s *Service) DeactivateUser(ctx context.Context, session Session, userID string) error {
	if session.UserID == userID {
		return domainError(http.StatusConflict, "CANNOT_DEACTIVATE_SELF", "You cannot deactivate your own account", nil)
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		return err
	}
	if err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		return err
	}
	s.audit(ctx, session, "user.deactivate", "user", userID, nil)
	return nil
}

// ListLoginAttempts exposes the authentication audit trail, optionally
// narrowed to one email.
func (s *Service) ListLoginAttempts(ctx context.Context, email string, limit int) ([]map[string]any, error) {
	attempts, err := s.store.ListLoginAttempts(ctx, email, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(attempts))
	for _, attempt := range attempts {
		items = append(items, map[string]any{
			"id":        attempt.ID,
			"email":     attempt.Email,
			"userId":    attempt.UserID,
			"outcome":   attempt.Outcome,
			"ip":        attempt.IP,
			"userAgent": attempt.UserAgent,
			"createdAt": attempt.CreatedAt,
		})
	}
	return items, nil
}
