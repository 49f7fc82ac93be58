package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and appends business events. Events are append-only;
// there are no update or delete paths.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EventsByMonth loads every event for one tenant month. Storage order is
// irrelevant; callers sort via SortEvents before replay.
func (r *Repository) EventsByMonth(ctx context.Context, tenantID, monthKey string) ([]Event, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("ledger: repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, event_type, occurred_at, recorded_at, month_key, deterministic_id, payload
		FROM business_events
		WHERE tenant_id = $1 AND month_key = $2`, tenantID, monthKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev   Event
			kind string
			raw  []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &kind, &ev.OccurredAt, &ev.RecordedAt, &ev.MonthKey, &ev.DeterministicID, &raw); err != nil {
			return nil, err
		}
		ev.Type = EventType(kind)
		ev.OccurredAt = ev.OccurredAt.UTC()
		ev.RecordedAt = ev.RecordedAt.UTC()
		payload, err := DecodePayload(ev.Type, raw)
		if err != nil {
			return nil, err
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AppendEvent inserts a new immutable event.
func (r *Repository) AppendEvent(ctx context.Context, ev Event) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("ledger: repository not initialised")
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	recordedAt := ev.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO business_events (id, tenant_id, event_type, occurred_at, recorded_at, month_key, deterministic_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.TenantID, string(ev.Type), ev.OccurredAt.UTC(), recordedAt, ev.MonthKey, ev.DeterministicID, payload)
	return err
}
