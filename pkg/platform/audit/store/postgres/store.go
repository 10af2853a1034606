package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "efile/pkg/domain"
	audit "efile/pkg/platform/audit"
	txcontext "efile/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Each event is written to audit_events for querying and to outbox for the
// relay, in the caller's transaction when ctx carries one.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Payload is the JSON published to Kafka for one event.
type Payload struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Action       string `json:"action"`
	Timestamp    string `json:"timestamp"`
	SubmissionID string `json:"submission_id,omitempty"`
	FromStatus   string `json:"from_status,omitempty"`
	ToStatus     string `json:"to_status,omitempty"`
	Detail       string `json:"detail,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

// OutboxEntry is one unpublished row.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Category    audit.EventCategory
	Payload     []byte
	CreatedAt   time.Time
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.UUID(event.ID)
	if eventID == uuid.Nil {
		eventID = uuid.New()
	}
	category := event.Category
	if category == "" {
		category = event.Action.Category()
	}

	payload := Payload{
		ID:         eventID.String(),
		Category:   string(category),
		Action:     string(event.Action),
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
		FromStatus: event.FromStatus,
		ToStatus:   event.ToStatus,
		Detail:     event.Detail,
		RequestID:  event.RequestID,
	}
	var subID *uuid.UUID
	if !event.SubmissionID.IsNil() {
		u := uuid.UUID(event.SubmissionID)
		subID = &u
		payload.SubmissionID = u.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Or(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO audit_events (id, category, action, timestamp, submission_id,
				from_status, to_status, detail, request_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			eventID, string(category), string(event.Action), event.Timestamp, subID,
			event.FromStatus, event.ToStatus, event.Detail, event.RequestID,
		)
		if err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}
		_, err = exec.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, category, payload, created_at)
			VALUES ($1, 'submission', $2, $3, $4, $5, $6)`,
			uuid.New(), payload.SubmissionID, string(event.Action), string(category), body, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
		return nil
	})
}

func (s *Store) ListBySubmission(ctx context.Context, subID id.SubmissionID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, action, timestamp, submission_id, from_status, to_status, detail, request_id
		FROM audit_events
		WHERE submission_id = $1
		ORDER BY timestamp, id`, uuid.UUID(subID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			eventID  uuid.UUID
			category string
			action   string
			sub      uuid.NullUUID
		)
		if err := rows.Scan(&eventID, &category, &action, &e.Timestamp, &sub,
			&e.FromStatus, &e.ToStatus, &e.Detail, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ID = id.EventID(eventID)
		e.Category = audit.EventCategory(category)
		e.Action = audit.Action(action)
		if sub.Valid {
			e.SubmissionID = id.SubmissionID(sub.UUID)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// Relay locks up to limit unpublished outbox rows, hands them to publish and
// marks them published when publish succeeds. Rows locked by a concurrent
// relay are skipped.
func (s *Store) Relay(ctx context.Context, limit int, publish func(context.Context, []OutboxEntry) error) (int, error) {
	var n int
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Or(ctx, s.db)
		rows, err := exec.QueryContext(ctx, `
			SELECT id, aggregate_id, event_type, category, payload, created_at
			FROM outbox
			WHERE published_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("select outbox: %w", err)
		}
		var entries []OutboxEntry
		for rows.Next() {
			var e OutboxEntry
			var category string
			if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &category, &e.Payload, &e.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox: %w", err)
			}
			e.Category = audit.EventCategory(category)
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := publish(ctx, entries); err != nil {
			return err
		}
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID.String()
		}
		if _, err := exec.ExecContext(ctx,
			`UPDATE outbox SET published_at = now() WHERE id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
		n = len(entries)
		return nil
	})
	return n, err
}
