package invoice

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/firmdesk/firmdesk/storage"
	"github.com/firmdesk/firmdesk/task"
)

// DefaultTaxRateBasisPoints is the firm default tax rate (18%).
const DefaultTaxRateBasisPoints = 1800

// paymentTermDays is how long after issue an invoice falls due.
const paymentTermDays = 30

// Generator derives invoices from completed payable tasks. The invoice
// insert and the task back-reference are written in one transaction, and
// the partial unique index on invoices.task_id is the final authority:
// concurrent or repeated generation for the same task yields exactly one
// invoice, with losers reporting ErrAlreadyInvoiced.
type Generator struct {
	db  *sql.DB
	now func() time.Time
}

// NewGenerator creates a Generator over the shared database handle.
func NewGenerator(db *sql.DB) *Generator {
	return &Generator{db: db, now: time.Now}
}

// GenerateForTask creates the invoice for a completed payable task.
// It returns task.ErrNotFound for missing or soft-deleted tasks,
// ErrNotEligible for non-payable or non-completed tasks, and
// ErrAlreadyInvoiced when an invoice already references the task;
// callers treat the latter as success.
func (g *Generator) GenerateForTask(ctx context.Context, taskID string) (*Invoice, error) {
	taxRate := DefaultTaxRateBasisPoints
	// The settings row is optional; fall back to the firm default.
	_ = g.db.QueryRowContext(ctx,
		`SELECT tax_rate_bps FROM automation_settings WHERE id = 1`).Scan(&taxRate)

	return g.generate(ctx, taskID, taxRate, "automation")
}

// GenerateWithRate is GenerateForTask with an explicit tax rate and
// creator, used when settings are already loaded for the current tick.
func (g *Generator) GenerateWithRate(ctx context.Context, taskID string, taxRateBasisPoints int, createdBy string) (*Invoice, error) {
	return g.generate(ctx, taskID, taxRateBasisPoints, createdBy)
}

func (g *Generator) generate(ctx context.Context, taskID string, taxRateBasisPoints int, createdBy string) (*Invoice, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin invoice transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		status    string
		clientID  string
		price     int64
		payable   int
		invoiceID string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, client_id, price, payable, invoice_id
		 FROM tasks WHERE id = ? AND deleted = 0`, taskID).
		Scan(&status, &clientID, &price, &payable, &invoiceID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", taskID, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	if invoiceID != "" {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrAlreadyInvoiced)
	}
	if payable == 0 || task.Status(status) != task.StatusCompleted {
		return nil, fmt.Errorf("task %s (payable=%t, status=%s): %w",
			taskID, payable != 0, status, ErrNotEligible)
	}

	now := g.now().UTC()
	amount := price
	taxAmount := amount * int64(taxRateBasisPoints) / 10000
	inv := &Invoice{
		Number:    NewNumber(now),
		TaskID:    taskID,
		ClientID:  clientID,
		Amount:    amount,
		TaxAmount: taxAmount,
		Total:     amount + taxAmount,
		Status:    StatusDraft,
		IssueDate: now,
		DueDate:   now.AddDate(0, 0, paymentTermDays),
		CreatedBy: createdBy,
	}

	if err := insertTx(tx, inv); err != nil {
		if storage.IsUniqueViolation(err) {
			// Another generator won the race on the task_id index.
			return nil, fmt.Errorf("task %s: %w", taskID, ErrAlreadyInvoiced)
		}
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET invoice_id=?, updated_at=? WHERE id=? AND invoice_id=''`,
		inv.ID, now, taskID)
	if err != nil {
		return nil, fmt.Errorf("set invoice reference: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// The back-reference appeared between our read and write; the
		// rollback discards our insert and the earlier invoice stands.
		return nil, fmt.Errorf("task %s: %w", taskID, ErrAlreadyInvoiced)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit invoice: %w", err)
	}
	return inv, nil
}
