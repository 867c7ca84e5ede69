// Package invoice defines billing invoices and their exactly-once
// generation from completed payable tasks.
package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the payment state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known invoice status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Invoice is a billing artifact derived from exactly one task. TaskID is
// unique across all non-cancelled invoices.
type Invoice struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	TaskID    string    `json:"task_id"`
	ClientID  string    `json:"client_id,omitempty"`
	Amount    int64     `json:"amount"`
	TaxAmount int64     `json:"tax_amount"`
	Total     int64     `json:"total"`
	Status    Status    `json:"status"`
	IssueDate time.Time `json:"issue_date"`
	DueDate   time.Time `json:"due_date"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sentinel errors returned by the generator.
var (
	// ErrNotEligible indicates the task is not payable or not completed.
	ErrNotEligible = errors.New("task not eligible for invoicing")

	// ErrAlreadyInvoiced indicates an invoice already references the task.
	// Callers treat it as success-equivalent: the invoice exists.
	ErrAlreadyInvoiced = errors.New("task already invoiced")

	// ErrNotFound indicates the invoice does not exist.
	ErrNotFound = errors.New("invoice not found")
)

// NewNumber derives a unique invoice number for the given issue year:
// the year plus a collision-resistant random suffix.
func NewNumber(issue time.Time) string {
	return fmt.Sprintf("INV-%d-%s", issue.Year(), uuid.NewString()[:8])
}

// Filter controls which invoices are returned by List.
type Filter struct {
	Status   *Status `json:"status,omitempty"`
	ClientID string  `json:"client_id,omitempty"`
	TaskID   string  `json:"task_id,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}
