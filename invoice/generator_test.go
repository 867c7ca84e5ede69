package invoice

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firmdesk/firmdesk/storage"
	"github.com/firmdesk/firmdesk/task"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	f, err := os.CreateTemp("", "firmdesk-invoice-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := storage.Open(path)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func completedTask(t *testing.T, db *sql.DB, price int64) string {
	t.Helper()
	tasks := task.NewSQLiteStore(db)
	id, err := tasks.Create(&task.Task{
		Title:    "audit",
		ClientID: "c1",
		DueDate:  time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		Payable:  true,
		Price:    price,
	})
	if err != nil {
		t.Fatalf("Create task: %v", err)
	}
	if ok, err := tasks.UpdateStatus(id, task.StatusPending, task.StatusCompleted); err != nil || !ok {
		t.Fatalf("complete task: ok=%v err=%v", ok, err)
	}
	return id
}

func TestGenerator_Amounts(t *testing.T) {
	db := newTestDB(t)
	gen := NewGenerator(db)
	taskID := completedTask(t, db, 5000)

	inv, err := gen.GenerateForTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GenerateForTask: %v", err)
	}
	if inv.Amount != 5000 || inv.TaxAmount != 900 || inv.Total != 5900 {
		t.Errorf("amounts = %d/%d/%d, want 5000/900/5900", inv.Amount, inv.TaxAmount, inv.Total)
	}
	if inv.Status != StatusDraft {
		t.Errorf("Status = %q, want draft", inv.Status)
	}
	if !strings.HasPrefix(inv.Number, "INV-") {
		t.Errorf("Number = %q, want INV- prefix", inv.Number)
	}
	if got := inv.DueDate.Sub(inv.IssueDate); got != 30*24*time.Hour {
		t.Errorf("payment term = %v, want 30 days", got)
	}

	// The task carries the back-reference.
	tasks := task.NewSQLiteStore(db)
	got, err := tasks.Get(taskID)
	if err != nil {
		t.Fatalf("Get task: %v", err)
	}
	if got.InvoiceID != inv.ID {
		t.Errorf("task InvoiceID = %q, want %q", got.InvoiceID, inv.ID)
	}
}

func TestGenerator_CustomRate(t *testing.T) {
	db := newTestDB(t)
	gen := NewGenerator(db)
	taskID := completedTask(t, db, 10000)

	inv, err := gen.GenerateWithRate(context.Background(), taskID, 500, "automation")
	if err != nil {
		t.Fatalf("GenerateWithRate: %v", err)
	}
	if inv.TaxAmount != 500 || inv.Total != 10500 {
		t.Errorf("amounts = %d/%d, want 500/10500", inv.TaxAmount, inv.Total)
	}
	if inv.CreatedBy != "automation" {
		t.Errorf("CreatedBy = %q", inv.CreatedBy)
	}
}

func TestGenerator_Duplicate(t *testing.T) {
	db := newTestDB(t)
	gen := NewGenerator(db)
	taskID := completedTask(t, db, 5000)
	ctx := context.Background()

	first, err := gen.GenerateForTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GenerateForTask: %v", err)
	}
	if _, err := gen.GenerateForTask(ctx, taskID); !errors.Is(err, ErrAlreadyInvoiced) {
		t.Fatalf("second generation: err = %v, want ErrAlreadyInvoiced", err)
	}

	store := NewSQLiteStore(db)
	all, err := store.List(Filter{TaskID: taskID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].ID != first.ID {
		t.Fatalf("got %d invoices for task, want exactly the first", len(all))
	}
}

func TestGenerator_Concurrent(t *testing.T) {
	db := newTestDB(t)
	gen := NewGenerator(db)
	taskID := completedTask(t, db, 5000)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gen.GenerateForTask(ctx, taskID)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyInvoiced):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d generators created an invoice, want exactly 1", wins)
	}

	store := NewSQLiteStore(db)
	all, err := store.List(Filter{TaskID: taskID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("found %d invoices for task, want 1", len(all))
	}
}

func TestGenerator_Eligibility(t *testing.T) {
	db := newTestDB(t)
	gen := NewGenerator(db)
	tasks := task.NewSQLiteStore(db)
	ctx := context.Background()

	if _, err := gen.GenerateForTask(ctx, "missing"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("missing task: err = %v, want task.ErrNotFound", err)
	}

	pending, err := tasks.Create(&task.Task{Title: "pending", DueDate: time.Now().UTC(), Payable: true, Price: 100})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := gen.GenerateForTask(ctx, pending); !errors.Is(err, ErrNotEligible) {
		t.Errorf("pending task: err = %v, want ErrNotEligible", err)
	}

	free, err := tasks.Create(&task.Task{Title: "free", DueDate: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := tasks.UpdateStatus(free, task.StatusPending, task.StatusCompleted); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	if _, err := gen.GenerateForTask(ctx, free); !errors.Is(err, ErrNotEligible) {
		t.Errorf("non-payable task: err = %v, want ErrNotEligible", err)
	}

	deleted := completedTask(t, db, 100)
	if err := tasks.SoftDelete(deleted); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if _, err := gen.GenerateForTask(ctx, deleted); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("deleted task: err = %v, want task.ErrNotFound", err)
	}
}

func TestGenerator_RegenerateAfterCancel(t *testing.T) {
	db := newTestDB(t)
	gen := NewGenerator(db)
	store := NewSQLiteStore(db)
	taskID := completedTask(t, db, 5000)
	ctx := context.Background()

	inv, err := gen.GenerateForTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GenerateForTask: %v", err)
	}
	if err := store.UpdateStatus(inv.ID, StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// The task still carries its back-reference, so automation never
	// re-issues after a manual cancellation.
	if _, err := gen.GenerateForTask(ctx, taskID); !errors.Is(err, ErrAlreadyInvoiced) {
		t.Errorf("after cancel: err = %v, want ErrAlreadyInvoiced", err)
	}
}

func TestStore_GetByTask(t *testing.T) {
	db := newTestDB(t)
	gen := NewGenerator(db)
	store := NewSQLiteStore(db)
	taskID := completedTask(t, db, 5000)

	inv, err := gen.GenerateForTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GenerateForTask: %v", err)
	}
	got, err := store.GetByTask(taskID)
	if err != nil {
		t.Fatalf("GetByTask: %v", err)
	}
	if got.ID != inv.ID {
		t.Errorf("GetByTask = %q, want %q", got.ID, inv.ID)
	}

	if err := store.UpdateStatus(inv.ID, StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := store.GetByTask(taskID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after cancel: err = %v, want ErrNotFound", err)
	}
}
