package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event is one debounced gesture that was delivered to a page.
type Event struct {
	ID         string    `json:"id"`
	Gesture    string    `json:"gesture"`
	Confidence float64   `json:"confidence"`
	TabID      string    `json:"tabId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EventRepository records gesture history.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Record inserts e, assigning an ID and timestamp when missing.
func (r *EventRepository) Record(ctx context.Context, e *Event) error {
	if e.Gesture == "" {
		return errors.New("gesture is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gesture_events (id, gesture, confidence, tab_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Gesture, e.Confidence, e.TabID, e.CreatedAt.UTC(),
	)
	return err
}

// Recent returns up to limit events, newest first.
func (r *EventRepository) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, gesture, confidence, tab_id, created_at
		 FROM gesture_events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Gesture, &e.Confidence, &e.TabID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// Prune deletes events older than cutoff and returns how many were removed.
func (r *EventRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM gesture_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
