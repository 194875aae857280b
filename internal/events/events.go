// Package events records the audit trail of review lifecycle actions.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeReviewGenerated    = "REVIEW_GENERATED"
	TypeExported           = "EXPORTED"
	TypeExtracted          = "EXTRACTED"
	TypeEntitlementBlocked = "ENTITLEMENT_BLOCKED"
)

// Event is one audit record.
type Event struct {
	ID        string
	FirmID    string
	ReviewID  *string
	ActorID   *string
	EventType string
	Payload   map[string]any
	CreatedAt time.Time
}

// Repo defines audit persistence.
type Repo interface {
	Record(ctx context.Context, event Event) error
	ListByReview(ctx context.Context, firmID, reviewID string, limit int) ([]Event, error)
}

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	var payload []byte
	if event.Payload != nil {
		var err error
		payload, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	const query = `
INSERT INTO status_cert_events (id, firm_id, review_id, actor_id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())`
	_, err := r.DB.ExecContext(ctx, query,
		event.ID,
		event.FirmID,
		event.ReviewID,
		event.ActorID,
		event.EventType,
		payload,
	)
	return err
}

func (r *PGRepo) ListByReview(ctx context.Context, firmID, reviewID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `
SELECT id, firm_id, review_id, actor_id, event_type, payload, created_at
FROM status_cert_events
WHERE firm_id = $1 AND review_id = $2
ORDER BY created_at DESC
LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, firmID, reviewID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var event Event
		var rawPayload []byte
		if err := rows.Scan(
			&event.ID,
			&event.FirmID,
			&event.ReviewID,
			&event.ActorID,
			&event.EventType,
			&rawPayload,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(rawPayload) > 0 {
			if err := json.Unmarshal(rawPayload, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload %s: %w", event.ID, err)
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)

// MemoryRepo is an in-memory Repo for tests and inline mode.
type MemoryRepo struct {
	Events []Event
}

func (r *MemoryRepo) Record(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.CreatedAt = time.Now().UTC()
	r.Events = append(r.Events, event)
	return nil
}

func (r *MemoryRepo) ListByReview(ctx context.Context, firmID, reviewID string, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []Event{}
	for i := len(r.Events) - 1; i >= 0; i-- {
		event := r.Events[i]
		if event.FirmID != firmID || event.ReviewID == nil || *event.ReviewID != reviewID {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
