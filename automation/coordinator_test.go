package automation

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/firmdesk/firmdesk/client"
	"github.com/firmdesk/firmdesk/events"
	"github.com/firmdesk/firmdesk/invoice"
	"github.com/firmdesk/firmdesk/notify"
	"github.com/firmdesk/firmdesk/task"
	"github.com/firmdesk/firmdesk/template"
)

// recordingNotifier captures sends and can fail for chosen recipients.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []string // "channel:recipient"
	failFor map[string]bool
}

func (n *recordingNotifier) Send(ctx context.Context, channel notify.Channel, recipient, subject, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[recipient] {
		return &notify.DeliveryError{Channel: channel, Recipient: recipient, Err: fmt.Errorf("unreachable")}
	}
	n.sent = append(n.sent, string(channel)+":"+recipient)
	return nil
}

type testEnv struct {
	db        *sql.DB
	tasks     *task.SQLiteStore
	templates *template.SQLiteStore
	clients   *client.SQLiteStore
	invoices  *invoice.SQLiteStore
	settings  *SettingsStore
	commLog   *notify.SQLiteLogStore
	notifier  *recordingNotifier
	coord     *Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:        db,
		tasks:     task.NewSQLiteStore(db),
		templates: template.NewSQLiteStore(db),
		clients:   client.NewSQLiteStore(db),
		invoices:  invoice.NewSQLiteStore(db),
		settings:  NewSettingsStore(db),
		commLog:   notify.NewSQLiteLogStore(db),
		notifier:  &recordingNotifier{failFor: map[string]bool{}},
	}
	env.coord = NewCoordinator(
		env.settings, env.templates, env.tasks, env.clients,
		invoice.NewGenerator(db), env.notifier, env.commLog,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return env
}

func TestCoordinator_RunTick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID, err := env.clients.Create(&client.Client{Name: "Acme", Email: "billing@acme.test"})
	if err != nil {
		t.Fatalf("Create client: %v", err)
	}
	if _, err := env.templates.Create(&template.Template{
		Title:      "GST filing",
		Category:   task.CategoryGSTFiling,
		Recurrence: template.RecurrenceMonthly,
		Anchor:     day(2025, time.January, 5),
		ClientID:   clientID,
		Assignees:  []string{"asha@firm.test"},
		Payable:    true,
		Price:      5000,
		Active:     true,
	}); err != nil {
		t.Fatalf("Create template: %v", err)
	}

	report, err := env.coord.RunTick(ctx, day(2025, time.January, 1))
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if report.TemplatesExpanded != 1 || report.TasksCreated != 1 {
		t.Errorf("expanded=%d created=%d, want 1/1 (only the Jan 5 occurrence falls in the window)",
			report.TemplatesExpanded, report.TasksCreated)
	}
	// The generated Jan 5 task is outside the 3-day reminder window on Jan 1.
	if report.RemindersSent != 0 {
		t.Errorf("RemindersSent = %d, want 0", report.RemindersSent)
	}
	if len(report.Errors) != 0 {
		t.Errorf("Errors = %v, want none", report.Errors)
	}

	// Two days later the Jan 5 occurrence enters the window: one assignee
	// reminder plus one client reminder.
	report, err = env.coord.RunTick(ctx, day(2025, time.January, 2))
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if report.TasksCreated != 0 {
		t.Errorf("second tick created %d tasks, want 0", report.TasksCreated)
	}
	if report.RemindersSent != 2 {
		t.Errorf("RemindersSent = %d, want 2", report.RemindersSent)
	}

	entries, err := env.commLog.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("communication log has %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Status != notify.LogStatusSent || e.Kind != "reminder" {
			t.Errorf("log entry = %+v, want sent reminder", e)
		}
	}

	if last := env.coord.LastReport(); last == nil || last.RemindersSent != 2 {
		t.Errorf("LastReport = %+v, want the second tick's report", last)
	}
}

func TestCoordinator_FailedDeliveryIsolatedAndLogged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.notifier.failFor["down@firm.test"] = true
	if _, err := env.tasks.Create(&task.Task{
		Title:     "t",
		DueDate:   day(2025, time.June, 11),
		Assignees: []string{"down@firm.test", "up@firm.test"},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	report, err := env.coord.RunTick(ctx, day(2025, time.June, 10))
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if report.RemindersSent != 1 || report.RemindersFailed != 1 {
		t.Errorf("sent=%d failed=%d, want 1/1", report.RemindersSent, report.RemindersFailed)
	}

	entries, err := env.commLog.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var failed, sent int
	for _, e := range entries {
		switch e.Status {
		case notify.LogStatusFailed:
			failed++
			if e.Error == "" {
				t.Error("failed entry missing error detail")
			}
		case notify.LogStatusSent:
			sent++
		}
	}
	if failed != 1 || sent != 1 {
		t.Errorf("log entries failed=%d sent=%d, want 1/1", failed, sent)
	}
}

func TestCoordinator_ClientNotificationGating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	phoneOnly, err := env.clients.Create(&client.Client{Name: "P", Phone: "+1555"})
	if err != nil {
		t.Fatalf("Create client: %v", err)
	}
	silent, err := env.clients.Create(&client.Client{Name: "S"})
	if err != nil {
		t.Fatalf("Create client: %v", err)
	}
	for _, clientID := range []string{phoneOnly, silent} {
		if _, err := env.tasks.Create(&task.Task{
			Title:    "t-" + clientID,
			ClientID: clientID,
			DueDate:  day(2025, time.June, 11),
		}); err != nil {
			t.Fatalf("Create task: %v", err)
		}
	}

	report, err := env.coord.RunTick(ctx, day(2025, time.June, 10))
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	// No assignees; phone-only client falls back to SMS, the contactless
	// one is skipped without error.
	if report.RemindersSent != 1 {
		t.Errorf("RemindersSent = %d, want 1", report.RemindersSent)
	}
	if len(env.notifier.sent) != 1 || env.notifier.sent[0] != "sms:+1555" {
		t.Errorf("sent = %v, want [sms:+1555]", env.notifier.sent)
	}

	// Disabling client notifications silences the remaining reminder.
	cfg := DefaultSettings()
	cfg.ClientNotificationsEnabled = false
	if err := env.settings.Save(cfg); err != nil {
		t.Fatalf("Save settings: %v", err)
	}
	env.notifier.sent = nil
	report, err = env.coord.RunTick(ctx, day(2025, time.June, 10))
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if report.RemindersSent != 0 || len(env.notifier.sent) != 0 {
		t.Errorf("sent=%d notifier=%v, want no client reminders", report.RemindersSent, env.notifier.sent)
	}
}

func TestCoordinator_ExpandFailureIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := &template.Template{
		ID:         "bad",
		Title:      "bad",
		Recurrence: template.RecurrenceMonthly,
		Anchor:     day(2025, time.January, 5),
		Active:     true,
	}
	if _, err := env.templates.Create(bad); err != nil {
		t.Fatalf("Create template: %v", err)
	}
	// Corrupt the stored recurrence under the store's validation.
	if _, err := env.db.Exec(`UPDATE task_templates SET recurrence='fortnightly' WHERE id='bad'`); err != nil {
		t.Fatalf("corrupt template: %v", err)
	}
	if _, err := env.templates.Create(&template.Template{
		Title:      "good",
		Recurrence: template.RecurrenceMonthly,
		Anchor:     day(2025, time.January, 5),
		Active:     true,
	}); err != nil {
		t.Fatalf("Create template: %v", err)
	}

	report, err := env.coord.RunTick(ctx, day(2025, time.January, 1))
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if report.TemplatesExpanded != 1 {
		t.Errorf("TemplatesExpanded = %d, want 1 (the valid template)", report.TemplatesExpanded)
	}
	if len(report.Errors) != 1 || report.Errors[0].Stage != "expand" || report.Errors[0].EntityID != "bad" {
		t.Errorf("Errors = %v, want one expand failure for template bad", report.Errors)
	}
}

func TestCoordinator_CompletionEventGeneratesInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bus := events.NewInMemoryBus()
	unsub := env.coord.SubscribeCompletions(bus)
	defer unsub()

	lc := task.NewLifecycle(env.tasks, bus)
	id, err := env.tasks.Create(&task.Task{
		Title: "audit", ClientID: "c1", DueDate: day(2025, time.June, 1), Payable: true, Price: 5000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := lc.Transition(ctx, id, task.StatusCompleted); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	inv, err := env.invoices.GetByTask(id)
	if err != nil {
		t.Fatalf("GetByTask: %v", err)
	}
	if inv.Total != 5900 {
		t.Errorf("Total = %d, want 5900", inv.Total)
	}

	// Completing a non-payable task generates nothing and raises no error.
	free, err := env.tasks.Create(&task.Task{Title: "free", DueDate: day(2025, time.June, 1)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := lc.Transition(ctx, free, task.StatusCompleted); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := env.invoices.GetByTask(free); err == nil {
		t.Error("non-payable completion produced an invoice")
	}
}

func TestCoordinator_ReconcileSweepsMissedCompletions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Completed directly in the store, as if the completion event was lost.
	id, err := env.tasks.Create(&task.Task{
		Title: "orphan", DueDate: day(2025, time.June, 1), Payable: true, Price: 1000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := env.tasks.UpdateStatus(id, task.StatusPending, task.StatusCompleted); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}

	report, err := env.coord.RunTick(ctx, day(2025, time.June, 10))
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if report.InvoicesCreated != 1 {
		t.Errorf("InvoicesCreated = %d, want 1", report.InvoicesCreated)
	}
	if _, err := env.invoices.GetByTask(id); err != nil {
		t.Errorf("GetByTask after sweep: %v", err)
	}

	// The next tick finds nothing left to reconcile.
	report, err = env.coord.RunTick(ctx, day(2025, time.June, 11))
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if report.InvoicesCreated != 0 {
		t.Errorf("second sweep created %d invoices, want 0", report.InvoicesCreated)
	}
}
