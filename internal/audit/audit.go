// Package audit keeps a history of upload attempts. It is optional: without
// a database the service runs with Nop and the history endpoint is disabled.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of one upload attempt.
type Outcome string

const (
	OutcomeStored   Outcome = "stored"   // promoted as the current archive
	OutcomeRejected Outcome = "rejected" // client error: bad type, too large, missing, interrupted
	OutcomeFailed   Outcome = "failed"   // server error: staging or promotion
)

// Event is one recorded upload attempt.
type Event struct {
	ID           uuid.UUID `json:"id"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	Outcome      Outcome   `json:"outcome"`
	ErrorMsg     string    `json:"error,omitempty"`
	ClientIP     string    `json:"-"`
	RequestID    string    `json:"requestId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Recorder stores and lists upload events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Enabled() bool
	Ping(ctx context.Context) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

func (Nop) Recent(context.Context, int) ([]Event, error) { return nil, nil }

func (Nop) Enabled() bool { return false }

func (Nop) Ping(context.Context) error { return nil }

// PostgresRecorder writes events to the upload_events table.
type PostgresRecorder struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRecorder wraps an open database whose migrations have run.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db, now: time.Now}
}

// Record inserts ev, filling in ID and CreatedAt when unset.
func (p *PostgresRecorder) Record(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = p.now().UTC()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO upload_events (id, original_name, size_bytes, outcome, error_message, client_ip, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.OriginalName, ev.Size, string(ev.Outcome), nullString(ev.ErrorMsg), ev.ClientIP, ev.RequestID, ev.CreatedAt)
	return err
}

// Recent returns the newest events first.
func (p *PostgresRecorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, original_name, size_bytes, outcome, error_message, client_ip, request_id, created_at
		FROM upload_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev       Event
			outcome  string
			errorMsg sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.OriginalName, &ev.Size, &outcome, &errorMsg, &ev.ClientIP, &ev.RequestID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Outcome = Outcome(outcome)
		ev.ErrorMsg = errorMsg.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *PostgresRecorder) Enabled() bool { return true }

func (p *PostgresRecorder) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// nullString helper for nullable strings
func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*PostgresRecorder)(nil)
)
