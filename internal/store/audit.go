package store

import (
	"context"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	var payload []byte
	if event.Payload != nil {
		var err error
		payload, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_id, entity_type, entity_id, payload)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5)
	`, event.EventType, event.ActorID, event.EntityType, event.EntityID, payload)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, entityType, entityID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.event_type, COALESCE(a.actor_id, ''), COALESCE(u.display_name, ''),
			COALESCE(a.entity_type, ''), COALESCE(a.entity_id, ''), a.payload, a.created_at
		FROM audit_events a
		LEFT JOIN users u ON u.id = a.actor_id
		WHERE ($1='' OR a.entity_type=$1) AND ($2='' OR a.entity_id=$2)
		ORDER BY a.created_at DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEvent, 0)
	for rows.Next() {
		var event AuditEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.EventType, &event.ActorID, &event.ActorName,
			&event.EntityType, &event.EntityID, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return items, nil
}
