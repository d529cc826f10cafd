// Package audit records batch executions served over HTTP.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// EventType represents the outcome of an audited request.
type EventType string

const (
	EventBatchRun      EventType = "batch_run"
	EventBatchRejected EventType = "batch_rejected" // Malformed input
	EventBatchFailed   EventType = "batch_failed"
	EventAccessDenied  EventType = "access_denied"
)

// Event is one row of the batch_audit table.
type Event struct {
	ID               string `db:"id"`
	EventType        string `db:"event_type"`
	Timestamp        int64  `db:"timestamp"`
	Subject          string `db:"subject"`
	Database         string `db:"database_name"`
	SessionID        string `db:"session_id"`
	InputBytes       int    `db:"input_bytes"`
	OutputBytes      int    `db:"output_bytes"`
	InputFingerprint string `db:"input_fingerprint"`
	TokenFingerprint string `db:"token_fingerprint"`
	Error            string `db:"error"`
}

// Logger writes audit events to a SQLite database that is separate from the
// databases batches run against.
type Logger struct {
	db *sqlx.DB
}

func NewLogger(db *sqlx.DB) (*Logger, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Logger{db: db}, nil
}

// Open connects to the audit database at path and initializes it.
func Open(path string) (*Logger, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return logger, nil
}

func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS batch_audit (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		subject TEXT NOT NULL,
		database_name TEXT NOT NULL,
		session_id TEXT NOT NULL,
		input_bytes INTEGER NOT NULL,
		output_bytes INTEGER NOT NULL,
		input_fingerprint TEXT NOT NULL,
		token_fingerprint TEXT NOT NULL,
		error TEXT NOT NULL
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_audit_timestamp ON batch_audit(timestamp)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_audit_subject ON batch_audit(subject)`)
	return err
}

// Fingerprint returns the hex SHA-256 of data, or "" for empty data. Tokens
// and batch bodies are only ever stored in this form.
func Fingerprint(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Log stores event, filling in its ID and Timestamp when they are unset.
func (l *Logger) Log(event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UTC().Unix()
	}
	_, err := l.db.NamedExec(`
		INSERT INTO batch_audit (
			id, event_type, timestamp, subject, database_name, session_id,
			input_bytes, output_bytes, input_fingerprint, token_fingerprint, error
		) VALUES (
			:id, :event_type, :timestamp, :subject, :database_name, :session_id,
			:input_bytes, :output_bytes, :input_fingerprint, :token_fingerprint, :error
		)`, event)
	return err
}

func (l *Logger) EventsBySubject(subject string, limit int) ([]Event, error) {
	var events []Event
	err := l.db.Select(&events,
		"SELECT * FROM batch_audit WHERE subject = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		subject, limit)
	return events, err
}

func (l *Logger) EventsByType(eventType EventType, limit int) ([]Event, error) {
	var events []Event
	err := l.db.Select(&events,
		"SELECT * FROM batch_audit WHERE event_type = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		string(eventType), limit)
	return events, err
}

func (l *Logger) RecentEvents(limit int) ([]Event, error) {
	var events []Event
	err := l.db.Select(&events,
		"SELECT * FROM batch_audit ORDER BY timestamp DESC, rowid DESC LIMIT $1",
		limit)
	return events, err
}

// DeleteOldEvents deletes events older than olderThan and returns how many
// were removed.
func (l *Logger) DeleteOldEvents(olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan).Unix()
	result, err := l.db.Exec("DELETE FROM batch_audit WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Logger) Close() error {
	return l.db.Close()
}
