package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

// AppendEvent writes one audit row. Payload may be any JSON-encodable
// value or a pre-encoded json.RawMessage.
func (s *Store) AppendEvent(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, eventType string, payload interface{}) error {
	executor := s.getExecutor(tx)

	body, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
	}
	if body == nil {
		body = json.RawMessage(`{}`)
	}

	_, err := executor.ExecContext(ctx, `
		INSERT INTO events (instance_id, type, payload, created_at)
		VALUES ($1, $2, $3, NOW())
	`, instanceID, eventType, body)
	return err
}

func (s *Store) ListEvents(ctx context.Context, instanceID uuid.UUID, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, type, payload, created_at
		FROM events
		WHERE instance_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		var e store.Event
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
