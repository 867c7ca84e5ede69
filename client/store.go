package client

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore persists clients in the shared SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create persists a new client and sets its ID, CreatedAt, and UpdatedAt.
func (s *SQLiteStore) Create(c *Client) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO clients (id, name, email, phone, created_at, updated_at)
		VALUES (?,?,?,?,?,?)`,
		c.ID, c.Name, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert client: %w", err)
	}
	return c.ID, nil
}

// Get retrieves a client by ID.
func (s *SQLiteStore) Get(id string) (*Client, error) {
	var c Client
	err := s.db.QueryRow(`
		SELECT id, name, email, phone, created_at, updated_at
		FROM clients WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("client %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

// Update saves changes to an existing client.
func (s *SQLiteStore) Update(c *Client) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE clients SET name=?, email=?, phone=?, updated_at=? WHERE id=?`,
		c.Name, c.Email, c.Phone, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("client %s not found", c.ID)
	}
	return nil
}

// List returns all clients ordered by name.
func (s *SQLiteStore) List() ([]*Client, error) {
	rows, err := s.db.Query(`
		SELECT id, name, email, phone, created_at, updated_at
		FROM clients ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, &c)
	}
	return clients, rows.Err()
}
