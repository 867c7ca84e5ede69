// Package template defines recurring task templates and their expansion
// into concrete task instances.
package template

import (
	"time"

	"github.com/firmdesk/firmdesk/task"
)

// Recurrence is the validated repeat pattern of a template.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

// Valid reports whether r is a known recurrence pattern.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	}
	return false
}

// Template describes a recurring piece of client work. Deleting a template
// does not touch tasks already generated from it; tasks keep only an
// informational TemplateID link.
type Template struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Category   task.Category  `json:"category"`
	Recurrence Recurrence     `json:"recurrence"`
	Anchor     time.Time      `json:"anchor"` // first occurrence date
	ClientID   string         `json:"client_id,omitempty"`
	Assignees  []string       `json:"assignees,omitempty"`
	Payable    bool           `json:"payable"`
	Price      int64          `json:"price"`
	Subtasks   []task.Subtask `json:"subtasks,omitempty"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Store persists and retrieves task templates.
type Store interface {
	// Create persists a new template and returns its assigned ID.
	Create(t *Template) (string, error)

	// Get retrieves a template by ID.
	Get(id string) (*Template, error)

	// Update saves changes to an existing template.
	Update(t *Template) error

	// List returns templates, optionally restricted to active recurring ones.
	List(onlyActive bool) ([]*Template, error)

	// Delete removes a template. Generated tasks are unaffected.
	Delete(id string) error
}
