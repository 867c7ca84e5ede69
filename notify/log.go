package notify

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogStatus is the recorded outcome of a delivery attempt.
type LogStatus string

const (
	LogStatusSent   LogStatus = "sent"
	LogStatusFailed LogStatus = "failed"
)

// LogEntry is one row of the communication log. Rows are write-once:
// the store exposes no update or delete.
type LogEntry struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id,omitempty"`
	Recipient string    `json:"recipient"`
	Channel   Channel   `json:"channel"`
	Kind      string    `json:"kind"` // e.g. "reminder"
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Status    LogStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogStore appends to and reads the communication log.
type LogStore interface {
	// Append records a delivery attempt and returns its assigned ID.
	Append(e *LogEntry) (string, error)

	// Recent returns the most recent entries, newest first.
	Recent(limit int) ([]*LogEntry, error)

	// ForClient returns the most recent entries for a client, newest first.
	ForClient(clientID string, limit int) ([]*LogEntry, error)
}

// SQLiteLogStore persists the communication log in the shared database.
type SQLiteLogStore struct {
	db *sql.DB
}

// NewSQLiteLogStore wraps an open database handle.
func NewSQLiteLogStore(db *sql.DB) *SQLiteLogStore {
	return &SQLiteLogStore{db: db}
}

// Append records a delivery attempt.
func (s *SQLiteLogStore) Append(e *LogEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO communication_log
			(id, client_id, recipient, channel, kind, subject, message, status, error, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ClientID, e.Recipient, string(e.Channel), e.Kind,
		e.Subject, e.Message, string(e.Status), e.Error, e.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("append communication log: %w", err)
	}
	return e.ID, nil
}

// Recent returns the most recent entries, newest first.
func (s *SQLiteLogStore) Recent(limit int) ([]*LogEntry, error) {
	return s.query(`SELECT id, client_id, recipient, channel, kind, subject, message, status, error, created_at
		FROM communication_log ORDER BY created_at DESC LIMIT ?`, limit)
}

// ForClient returns the most recent entries for a client, newest first.
func (s *SQLiteLogStore) ForClient(clientID string, limit int) ([]*LogEntry, error) {
	return s.query(`SELECT id, client_id, recipient, channel, kind, subject, message, status, error, created_at
		FROM communication_log WHERE client_id = ? ORDER BY created_at DESC LIMIT ?`, clientID, limit)
}

func (s *SQLiteLogStore) query(q string, args ...any) ([]*LogEntry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query communication log: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		var channel, status string
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Recipient, &channel, &e.Kind,
			&e.Subject, &e.Message, &status, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Channel = Channel(channel)
		e.Status = LogStatus(status)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
