package automation

import (
	"context"
	"time"

	"github.com/firmdesk/firmdesk/task"
)

// Scanner finds tasks approaching their due date. It is read-only and keeps
// no "already reminded" marker: re-running a scan inside the same lead
// window returns the same tasks, so reminders are at-least-once.
type Scanner struct {
	tasks task.Store
}

// NewScanner creates a Scanner over the given task store.
func NewScanner(tasks task.Store) *Scanner {
	return &Scanner{tasks: tasks}
}

// DueForReminder returns all non-deleted, non-terminal tasks whose due date
// falls within [asOf, asOf+leadDays], ordered by due date.
func (s *Scanner) DueForReminder(ctx context.Context, asOf time.Time, leadDays int) ([]*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Reminders operate on whole days, like template expansion.
	y, m, d := asOf.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, leadDays)
	return s.tasks.List(task.Filter{
		Open:    true,
		DueFrom: &from,
		DueTo:   &to,
	})
}
