package invoice

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore persists invoices in the shared SQLite database. Invoice
// creation itself lives in the Generator, which needs a transaction
// spanning the invoices and tasks tables.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const invoiceColumns = `id, number, task_id, client_id, amount, tax_amount, total,
	status, issue_date, due_date, created_by, created_at, updated_at`

// Get retrieves an invoice by ID.
func (s *SQLiteStore) Get(id string) (*Invoice, error) {
	row := s.db.QueryRow(`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return inv, err
}

// GetByTask retrieves the live (non-cancelled) invoice referencing a task.
func (s *SQLiteStore) GetByTask(taskID string) (*Invoice, error) {
	row := s.db.QueryRow(`SELECT `+invoiceColumns+` FROM invoices
		WHERE task_id = ? AND status != ?`, taskID, string(StatusCancelled))
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice for task %s: %w", taskID, ErrNotFound)
	}
	return inv, err
}

// UpdateStatus applies a payment-status change. Amounts and the task
// reference are immutable after creation.
func (s *SQLiteStore) UpdateStatus(id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown invoice status %q", status)
	}
	res, err := s.db.Exec(`UPDATE invoices SET status=?, updated_at=? WHERE id=?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns invoices matching the filter, newest first.
func (s *SQLiteStore) List(filter Filter) ([]*Invoice, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + invoiceColumns + " FROM invoices WHERE 1=1")
	args := []any{}

	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	if filter.ClientID != "" {
		q.WriteString(" AND client_id=?")
		args = append(args, filter.ClientID)
	}
	if filter.TaskID != "" {
		q.WriteString(" AND task_id=?")
		args = append(args, filter.TaskID)
	}
	q.WriteString(" ORDER BY issue_date DESC, created_at DESC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// insertTx writes a new invoice inside an existing transaction.
func insertTx(tx *sql.Tx, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	_, err := tx.Exec(`
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.Number, inv.TaskID, inv.ClientID,
		inv.Amount, inv.TaxAmount, inv.Total,
		string(inv.Status), inv.IssueDate.UTC(), inv.DueDate.UTC(),
		inv.CreatedBy, inv.CreatedAt, inv.UpdatedAt,
	)
	return err
}

// scanner abstracts sql.Row and sql.Rows for scanInvoice.
type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(s scanner) (*Invoice, error) {
	var inv Invoice
	var status string

	err := s.Scan(
		&inv.ID, &inv.Number, &inv.TaskID, &inv.ClientID,
		&inv.Amount, &inv.TaxAmount, &inv.Total,
		&status, &inv.IssueDate, &inv.DueDate,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = Status(status)
	return &inv, nil
}
