// Package task defines the task model, its status lifecycle, and persistence.
package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Category is the tax-filing kind of a task or template.
type Category string

const (
	CategoryGSTFiling Category = "gst_filing"
	CategoryITRFiling Category = "itr_filing"
	CategoryTDSFiling Category = "tds_filing"
	CategoryROCFiling Category = "roc_filing"
	CategoryAudit     Category = "audit"
	CategoryOther     Category = "other"
)

// Subtask is one checklist item within a task.
type Subtask struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Task is a unit of client work, created either by a user or by template
// expansion. InvoiceID is set at most once and never cleared by automation.
type Task struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Category   Category  `json:"category"`
	ClientID   string    `json:"client_id,omitempty"`
	Assignees  []string  `json:"assignees,omitempty"`
	DueDate    time.Time `json:"due_date"`
	Status     Status    `json:"status"`
	Payable    bool      `json:"payable"`
	Price      int64     `json:"price"` // smallest currency unit
	TemplateID string    `json:"template_id,omitempty"`
	InvoiceID  string    `json:"invoice_id,omitempty"`
	Subtasks   []Subtask `json:"subtasks,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Sentinel errors returned by the store and lifecycle.
var (
	// ErrNotFound indicates a task that does not exist or is soft-deleted.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition indicates a status change along a disallowed edge.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store persists and retrieves tasks.
type Store interface {
	// Create persists a new task and returns its assigned ID.
	Create(t *Task) (string, error)

	// CreateFromTemplate inserts a template-generated task if no task with
	// the same (template ID, due date) pair exists yet. It reports whether
	// a row was actually inserted.
	CreateFromTemplate(t *Task) (inserted bool, err error)

	// Get retrieves a task by ID. Soft-deleted tasks return ErrNotFound.
	Get(id string) (*Task, error)

	// Update saves changes to an existing task.
	Update(t *Task) error

	// UpdateStatus atomically moves a task from one status to another.
	// It reports whether the row was updated; false means a concurrent
	// writer changed the status first.
	UpdateStatus(id string, from, to Status) (bool, error)

	// SetInvoiceID writes the invoice back-reference if none is set yet.
	SetInvoiceID(taskID, invoiceID string) error

	// List returns tasks matching the given filter.
	List(filter Filter) ([]*Task, error)

	// SoftDelete marks a task deleted without removing the row.
	SoftDelete(id string) error
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status     *Status    `json:"status,omitempty"`
	ClientID   string     `json:"client_id,omitempty"`
	TemplateID string     `json:"template_id,omitempty"`
	DueFrom    *time.Time `json:"due_from,omitempty"`
	DueTo      *time.Time `json:"due_to,omitempty"`
	// Open selects only non-terminal statuses (pending, in_progress).
	Open bool `json:"open,omitempty"`
	// Payable selects only payable tasks when true.
	Payable *bool `json:"payable,omitempty"`
	// Uninvoiced selects only tasks with no invoice back-reference.
	Uninvoiced bool `json:"uninvoiced,omitempty"`
	// IncludeDeleted includes soft-deleted tasks; default is to hide them.
	IncludeDeleted bool `json:"include_deleted,omitempty"`
	Limit          int  `json:"limit,omitempty"`
	Offset         int  `json:"offset,omitempty"`
}
