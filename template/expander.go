package template

import (
	"context"
	"fmt"
	"time"

	"github.com/firmdesk/firmdesk/task"
)

// Expander materializes due occurrences of recurring templates as pending
// tasks. It only ever creates tasks; existing tasks are never mutated.
type Expander struct {
	tasks task.Store
}

// NewExpander creates an Expander that inserts into the given task store.
func NewExpander(tasks task.Store) *Expander {
	return &Expander{tasks: tasks}
}

// ExpandDue creates a pending task for every occurrence of tmpl inside
// [asOf, asOf+lookaheadDays] that does not exist yet, and returns the tasks
// actually inserted by this call. Idempotency rests on the store's
// (template_id, due_date) uniqueness: re-running any overlapping window
// creates no duplicates. Templates with recurrence none are skipped.
func (e *Expander) ExpandDue(ctx context.Context, tmpl *Template, asOf time.Time, lookaheadDays int) ([]*task.Task, error) {
	if tmpl.Recurrence == RecurrenceNone {
		return nil, nil
	}
	if !tmpl.Recurrence.Valid() {
		return nil, fmt.Errorf("template %s: unknown recurrence %q", tmpl.ID, tmpl.Recurrence)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	windowEnd := asOf.AddDate(0, 0, lookaheadDays)
	var created []*task.Task
	for _, due := range Occurrences(tmpl.Recurrence, tmpl.Anchor, asOf, windowEnd) {
		if err := ctx.Err(); err != nil {
			// Already-inserted occurrences stay durable; the next tick
			// re-converges on the rest.
			return created, err
		}
		t := e.instantiate(tmpl, due)
		inserted, err := e.tasks.CreateFromTemplate(t)
		if err != nil {
			return created, fmt.Errorf("template %s occurrence %s: %w",
				tmpl.ID, due.Format("2006-01-02"), err)
		}
		if inserted {
			created = append(created, t)
		}
	}
	return created, nil
}

// instantiate copies template fields onto a fresh pending task due at the
// given occurrence date.
func (e *Expander) instantiate(tmpl *Template, due time.Time) *task.Task {
	subtasks := make([]task.Subtask, len(tmpl.Subtasks))
	for i, st := range tmpl.Subtasks {
		subtasks[i] = task.Subtask{Title: st.Title}
	}
	return &task.Task{
		Title:      tmpl.Title,
		Category:   tmpl.Category,
		ClientID:   tmpl.ClientID,
		Assignees:  append([]string(nil), tmpl.Assignees...),
		DueDate:    due,
		Status:     task.StatusPending,
		Payable:    tmpl.Payable,
		Price:      tmpl.Price,
		TemplateID: tmpl.ID,
		Subtasks:   subtasks,
	}
}
