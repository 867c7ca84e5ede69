package task

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firmdesk/firmdesk/storage"
)

// SQLiteStore persists tasks in the shared SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle; the schema is managed by
// the storage package.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const taskColumns = `id, title, category, client_id, assignees, due_date, status,
	payable, price, template_id, invoice_id, subtasks, deleted, created_at, updated_at`

// Create persists a new task and sets its ID, CreatedAt, and UpdatedAt.
func (s *SQLiteStore) Create(t *Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	assignees, _ := json.Marshal(t.Assignees)
	subtasks, _ := json.Marshal(t.Subtasks)

	_, err := s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, string(t.Category), t.ClientID, string(assignees),
		t.DueDate.UTC(), string(t.Status), boolInt(t.Payable), t.Price,
		t.TemplateID, t.InvoiceID, string(subtasks), boolInt(t.Deleted),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// CreateFromTemplate inserts a template-generated task, relying on the
// unique (template_id, due_date) index for idempotency. A lost race or a
// prior expansion of the same occurrence reports inserted == false.
func (s *SQLiteStore) CreateFromTemplate(t *Task) (bool, error) {
	if t.TemplateID == "" {
		return false, fmt.Errorf("task has no template reference")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	assignees, _ := json.Marshal(t.Assignees)
	subtasks, _ := json.Marshal(t.Subtasks)

	res, err := s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (template_id, due_date) WHERE template_id != '' DO NOTHING`,
		t.ID, t.Title, string(t.Category), t.ClientID, string(assignees),
		t.DueDate.UTC(), string(t.Status), boolInt(t.Payable), t.Price,
		t.TemplateID, t.InvoiceID, string(subtasks), boolInt(t.Deleted),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert generated task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Get retrieves a task by ID. Soft-deleted tasks are treated as absent.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND deleted = 0`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// Update saves changes to an existing task, updating UpdatedAt automatically.
// Status and InvoiceID are deliberately excluded: status changes go through
// UpdateStatus and the back-reference through SetInvoiceID.
func (s *SQLiteStore) Update(t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	assignees, _ := json.Marshal(t.Assignees)
	subtasks, _ := json.Marshal(t.Subtasks)

	res, err := s.db.Exec(`
		UPDATE tasks SET
			title=?, category=?, client_id=?, assignees=?, due_date=?,
			payable=?, price=?, subtasks=?, updated_at=?
		WHERE id=? AND deleted=0`,
		t.Title, string(t.Category), t.ClientID, string(assignees), t.DueDate.UTC(),
		boolInt(t.Payable), t.Price, string(subtasks), t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// UpdateStatus atomically moves a task from one status to another. The
// conditional WHERE serializes racing writers through the database.
func (s *SQLiteStore) UpdateStatus(id string, from, to Status) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status=?, updated_at=?
		WHERE id=? AND status=? AND deleted=0`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetInvoiceID writes the invoice back-reference. A task that already
// carries one is left untouched.
func (s *SQLiteStore) SetInvoiceID(taskID, invoiceID string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET invoice_id=?, updated_at=?
		WHERE id=? AND invoice_id=''`,
		invoiceID, time.Now().UTC(), taskID,
	)
	if err != nil {
		return fmt.Errorf("set invoice reference: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s already invoiced or missing", taskID)
	}
	return nil
}

// List returns tasks matching the filter, ordered by due date.
func (s *SQLiteStore) List(filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")
	args := []any{}

	if !filter.IncludeDeleted {
		q.WriteString(" AND deleted=0")
	}
	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	if filter.Open {
		q.WriteString(" AND status IN (?,?)")
		args = append(args, string(StatusPending), string(StatusInProgress))
	}
	if filter.ClientID != "" {
		q.WriteString(" AND client_id=?")
		args = append(args, filter.ClientID)
	}
	if filter.TemplateID != "" {
		q.WriteString(" AND template_id=?")
		args = append(args, filter.TemplateID)
	}
	if filter.DueFrom != nil {
		q.WriteString(" AND due_date >= ?")
		args = append(args, filter.DueFrom.UTC())
	}
	if filter.DueTo != nil {
		q.WriteString(" AND due_date <= ?")
		args = append(args, filter.DueTo.UTC())
	}
	if filter.Payable != nil {
		q.WriteString(" AND payable=?")
		args = append(args, boolInt(*filter.Payable))
	}
	if filter.Uninvoiced {
		q.WriteString(" AND invoice_id=''")
	}
	q.WriteString(" ORDER BY due_date ASC, created_at ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SoftDelete marks a task deleted. The row is kept so generated tasks still
// satisfy the (template_id, due_date) uniqueness guarantee.
func (s *SQLiteStore) SoftDelete(id string) error {
	res, err := s.db.Exec(`UPDATE tasks SET deleted=1, updated_at=? WHERE id=? AND deleted=0`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var category, status, assigneesJSON, subtasksJSON string
	var payable, deleted int

	err := s.Scan(
		&t.ID, &t.Title, &category, &t.ClientID, &assigneesJSON,
		&t.DueDate, &status, &payable, &t.Price,
		&t.TemplateID, &t.InvoiceID, &subtasksJSON, &deleted,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Category = Category(category)
	t.Status = Status(status)
	t.Payable = payable != 0
	t.Deleted = deleted != 0
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
