package db

import (
	"context"
	"fmt"

	"github.com/unklstewy/adsb-scanner/internal/scanner"
)

// MaxRecentEvents caps a single Recent query.
const MaxRecentEvents = 1000

// EventRepository archives scanner diagnostic events.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

const insertEventSQL = `
	INSERT INTO scanner_events (id, occurred_at, severity, message, detail, session, provider)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING`

// Insert archives a single event. Re-inserting the same event ID is a no-op.
func (r *EventRepository) Insert(ctx context.Context, ev scanner.LogEvent) error {
	_, err := r.db.ExecContext(ctx, insertEventSQL, eventArgs(ev)...)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertBatch archives events in one transaction.
func (r *EventRepository) InsertBatch(ctx context.Context, events []scanner.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, eventArgs(ev)...); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty severity matches all.
func (r *EventRepository) Recent(ctx context.Context, limit int, severity scanner.Severity) ([]scanner.LogEvent, error) {
	limit = clampLimit(limit)

	query := `
		SELECT id, occurred_at, severity, message, detail, session, provider
		FROM scanner_events
		WHERE ($1 = '' OR severity = $1)
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, string(severity), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]scanner.LogEvent, 0, limit)
	for rows.Next() {
		var ev scanner.LogEvent
		var severity string
		var session int64
		err := rows.Scan(
			&ev.ID,
			&ev.Timestamp,
			&severity,
			&ev.Message,
			&ev.Detail,
			&session,
			&ev.Provider,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Severity = scanner.Severity(severity)
		ev.Session = uint64(session)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return events, nil
}

func eventArgs(ev scanner.LogEvent) []any {
	return []any{
		ev.ID,
		ev.Timestamp.UTC(),
		string(ev.Severity),
		ev.Message,
		ev.Detail,
		int64(ev.Session),
		ev.Provider,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > MaxRecentEvents {
		return MaxRecentEvents
	}
	return limit
}
