package postgres

import (
	"context"
	"fmt"

	"github.com/noah-isme/resto-order-engine/internal/events"
)

func insertEvents(ctx context.Context, q querier, evs ...events.Event) error {
	for _, ev := range evs {
		if _, err := q.Exec(ctx,
			`INSERT INTO domain_events (tenant_id, topic, key, payload) VALUES ($1, $2, $3, $4)`,
			ev.TenantID, ev.Topic, ev.Key, []byte(ev.Payload)); err != nil {
			return fmt.Errorf("insert %s event: %w", ev.Topic, err)
		}
	}
	return nil
}

// FetchUnpublished returns up to limit pending outbox rows in id order.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, tenant_id, topic, key, payload, created_at
		FROM domain_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []events.Event
	for rows.Next() {
		var ev events.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.Topic, &ev.Key, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkPublished stamps the rows as delivered.
func (s *Store) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `UPDATE domain_events SET published_at = now() WHERE id = ANY($1) AND published_at IS NULL`, ids)
	return err
}
