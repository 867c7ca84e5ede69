package automation

import (
	"context"
	"testing"
	"time"

	"github.com/firmdesk/firmdesk/task"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestScanner_DueForReminder(t *testing.T) {
	tasks := task.NewSQLiteStore(newTestDB(t))
	scanner := NewScanner(tasks)
	ctx := context.Background()

	mk := func(title string, due time.Time) string {
		id, err := tasks.Create(&task.Task{Title: title, DueDate: due})
		if err != nil {
			t.Fatalf("Create %s: %v", title, err)
		}
		return id
	}

	today := mk("today", day(2025, time.June, 10))
	soon := mk("soon", day(2025, time.June, 12))
	edge := mk("edge", day(2025, time.June, 13))
	mk("far", day(2025, time.June, 14))
	mk("past", day(2025, time.June, 9))
	done := mk("done", day(2025, time.June, 11))
	if ok, err := tasks.UpdateStatus(done, task.StatusPending, task.StatusCompleted); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}

	// Mid-day timestamps still pick up tasks due at midnight today.
	asOf := time.Date(2025, time.June, 10, 15, 42, 0, 0, time.UTC)
	due, err := scanner.DueForReminder(ctx, asOf, 3)
	if err != nil {
		t.Fatalf("DueForReminder: %v", err)
	}

	want := map[string]bool{today: true, soon: true, edge: true}
	if len(due) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(due), len(want))
	}
	for _, d := range due {
		if !want[d.ID] {
			t.Errorf("unexpected task %q in reminder window", d.Title)
		}
	}
}

func TestScanner_Stable(t *testing.T) {
	tasks := task.NewSQLiteStore(newTestDB(t))
	scanner := NewScanner(tasks)
	ctx := context.Background()

	if _, err := tasks.Create(&task.Task{Title: "t", DueDate: day(2025, time.June, 11)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Scanning never mutates state, so repeated scans inside the same
	// window return the same result.
	asOf := day(2025, time.June, 10)
	for i := 0; i < 3; i++ {
		due, err := scanner.DueForReminder(ctx, asOf, 3)
		if err != nil {
			t.Fatalf("DueForReminder (run %d): %v", i, err)
		}
		if len(due) != 1 {
			t.Fatalf("run %d returned %d tasks, want 1", i, len(due))
		}
	}
}
