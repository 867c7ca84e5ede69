package template

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/firmdesk/firmdesk/task"
)

// SQLiteStore persists templates in the shared SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const templateColumns = `id, title, category, recurrence, anchor, client_id,
	assignees, payable, price, subtasks, active, created_at, updated_at`

// Create persists a new template and sets its ID, CreatedAt, and UpdatedAt.
func (s *SQLiteStore) Create(t *Template) (string, error) {
	if !t.Recurrence.Valid() {
		return "", fmt.Errorf("unknown recurrence %q", t.Recurrence)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	assignees, _ := json.Marshal(t.Assignees)
	subtasks, _ := json.Marshal(t.Subtasks)

	_, err := s.db.Exec(`
		INSERT INTO task_templates (`+templateColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, string(t.Category), string(t.Recurrence), t.Anchor.UTC(),
		t.ClientID, string(assignees), boolInt(t.Payable), t.Price,
		string(subtasks), boolInt(t.Active), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert template: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a template by ID.
func (s *SQLiteStore) Get(id string) (*Template, error) {
	row := s.db.QueryRow(`SELECT `+templateColumns+` FROM task_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s not found", id)
	}
	return t, err
}

// Update saves changes to an existing template.
func (s *SQLiteStore) Update(t *Template) error {
	if !t.Recurrence.Valid() {
		return fmt.Errorf("unknown recurrence %q", t.Recurrence)
	}
	t.UpdatedAt = time.Now().UTC()
	assignees, _ := json.Marshal(t.Assignees)
	subtasks, _ := json.Marshal(t.Subtasks)

	res, err := s.db.Exec(`
		UPDATE task_templates SET
			title=?, category=?, recurrence=?, anchor=?, client_id=?,
			assignees=?, payable=?, price=?, subtasks=?, active=?, updated_at=?
		WHERE id=?`,
		t.Title, string(t.Category), string(t.Recurrence), t.Anchor.UTC(), t.ClientID,
		string(assignees), boolInt(t.Payable), t.Price, string(subtasks),
		boolInt(t.Active), t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("template %s not found", t.ID)
	}
	return nil
}

// List returns templates ordered by creation time. With onlyActive set it
// returns only active templates with a real recurrence, i.e. the set the
// coordinator expands each tick.
func (s *SQLiteStore) List(onlyActive bool) ([]*Template, error) {
	q := `SELECT ` + templateColumns + ` FROM task_templates`
	if onlyActive {
		q += ` WHERE active=1 AND recurrence != 'none'`
	}
	q += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Delete removes a template by ID. Tasks generated from it keep their
// informational TemplateID link and are never altered.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM task_templates WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("template %s not found", id)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTemplate.
type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s scanner) (*Template, error) {
	var t Template
	var category, recurrence, assigneesJSON, subtasksJSON string
	var payable, active int

	err := s.Scan(
		&t.ID, &t.Title, &category, &recurrence, &t.Anchor, &t.ClientID,
		&assigneesJSON, &payable, &t.Price, &subtasksJSON, &active,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Category = task.Category(category)
	t.Recurrence = Recurrence(recurrence)
	t.Payable = payable != 0
	t.Active = active != 0
	_ = json.Unmarshal([]byte(assigneesJSON), &t.Assignees)
	_ = json.Unmarshal([]byte(subtasksJSON), &t.Subtasks)
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
