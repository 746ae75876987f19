package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists events in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteStore wraps an open database and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens (creating if needed) the database at path. Close
// releases it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit db %s: %w", path, err)
	}
	store.owned = true
	return store, nil
}

// Close closes the database if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record stores a single event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	extra, err := encodeContext(event.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invocation_events (
			event_id, agent, model, input, context_json, output, status, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Agent,
		event.Model,
		event.Input,
		extra,
		event.Output,
		event.Status,
		event.Error,
		normalizeTime(event.StartedAt),
		normalizeTime(event.FinishedAt),
	)
	return err
}

// List returns events matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT event_id, agent, model, input, context_json, output, status, error_text, started_at, finished_at
		FROM invocation_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Agent != "" {
		addFilter("agent = ?", filter.Agent)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY started_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			extra    sql.NullString
			errText  sql.NullString
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&event.ID,
			&event.Agent,
			&event.Model,
			&event.Input,
			&extra,
			&event.Output,
			&event.Status,
			&errText,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if extra.Valid {
			if m, err := decodeContext(extra.String); err == nil {
				event.Context = m
			}
		}
		event.Error = errText.String
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS invocation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			model TEXT NOT NULL,
			input TEXT NOT NULL,
			context_json TEXT,
			output TEXT NOT NULL,
			status TEXT NOT NULL,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_invocation_agent ON invocation_events(agent);
		CREATE INDEX IF NOT EXISTS idx_invocation_status ON invocation_events(status);
	`)
	return err
}
