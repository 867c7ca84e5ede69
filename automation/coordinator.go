package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firmdesk/firmdesk/client"
	"github.com/firmdesk/firmdesk/events"
	"github.com/firmdesk/firmdesk/invoice"
	"github.com/firmdesk/firmdesk/notify"
	"github.com/firmdesk/firmdesk/task"
	"github.com/firmdesk/firmdesk/template"
)

// sendTimeout bounds a single notification dispatch.
const sendTimeout = 10 * time.Second

// TickError records one isolated failure inside a tick.
type TickError struct {
	Stage    string `json:"stage"` // "expand", "remind", "invoice"
	EntityID string `json:"entity_id"`
	Err      string `json:"error"`
}

// TickReport summarizes one scan-and-act cycle. Per-entity failures are
// collected here and surfaced to operators; they never abort the tick.
type TickReport struct {
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        time.Time   `json:"finished_at"`
	TemplatesExpanded int         `json:"templates_expanded"`
	TasksCreated      int         `json:"tasks_created"`
	RemindersSent     int         `json:"reminders_sent"`
	RemindersFailed   int         `json:"reminders_failed"`
	InvoicesCreated   int         `json:"invoices_created"`
	Errors            []TickError `json:"errors,omitempty"`
}

// Coordinator orchestrates template expansion, deadline reminders, and
// invoice generation. All mutating steps are idempotent inserts against
// uniqueness constraints, so overlapping or retried ticks converge.
type Coordinator struct {
	settings  *SettingsStore
	templates template.Store
	tasks     task.Store
	clients   client.Store
	expander  *template.Expander
	scanner   *Scanner
	generator *invoice.Generator
	notifier  notify.Notifier
	commLog   notify.LogStore
	logger    *slog.Logger

	mu         sync.Mutex
	lastReport *TickReport
}

// NewCoordinator wires the automation components together.
func NewCoordinator(
	settings *SettingsStore,
	templates template.Store,
	tasks task.Store,
	clients client.Store,
	generator *invoice.Generator,
	notifier notify.Notifier,
	commLog notify.LogStore,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		settings:  settings,
		templates: templates,
		tasks:     tasks,
		clients:   clients,
		expander:  template.NewExpander(tasks),
		scanner:   NewScanner(tasks),
		generator: generator,
		notifier:  notifier,
		commLog:   commLog,
		logger:    logger,
	}
}

// SubscribeCompletions registers the coordinator on the lifecycle event
// bus so a task completion triggers invoice generation immediately instead
// of waiting for the next tick. Returns the unsubscribe function.
func (c *Coordinator) SubscribeCompletions(bus events.Bus) (unsubscribe func()) {
	return bus.Subscribe(events.TypeTaskCompleted, func(ctx context.Context, ev events.Event) error {
		_, err := c.generator.GenerateForTask(ctx, ev.TaskID)
		switch {
		case err == nil:
			c.logger.Info("invoice generated", slog.String("task_id", ev.TaskID))
			return nil
		case errors.Is(err, invoice.ErrAlreadyInvoiced):
			return nil // another trigger won; the invoice exists
		case errors.Is(err, invoice.ErrNotEligible):
			return nil // completed but not payable
		default:
			c.logger.Error("invoice generation failed",
				slog.String("task_id", ev.TaskID), slog.Any("err", err))
			return err
		}
	})
}

// RunTick executes one full scan-and-act cycle as of now. A cancelled tick
// leaves completed sub-operations durable; the next tick re-converges.
func (c *Coordinator) RunTick(ctx context.Context, now time.Time) (*TickReport, error) {
	report := &TickReport{StartedAt: now.UTC()}

	cfg, err := c.settings.Load()
	if err != nil {
		return report, err
	}

	c.expandTemplates(ctx, cfg, now, report)
	c.sendReminders(ctx, cfg, now, report)
	c.reconcileInvoices(ctx, cfg, report)

	report.FinishedAt = time.Now().UTC()
	c.mu.Lock()
	c.lastReport = report
	c.mu.Unlock()

	c.logger.Info("tick complete",
		slog.Int("templates_expanded", report.TemplatesExpanded),
		slog.Int("tasks_created", report.TasksCreated),
		slog.Int("reminders_sent", report.RemindersSent),
		slog.Int("reminders_failed", report.RemindersFailed),
		slog.Int("invoices_created", report.InvoicesCreated),
		slog.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// LastReport returns the most recent tick report, or nil before any tick.
func (c *Coordinator) LastReport() *TickReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport
}

// expandTemplates materializes due occurrences of every active recurring
// template. A failing template is reported and skipped.
func (c *Coordinator) expandTemplates(ctx context.Context, cfg Settings, now time.Time, report *TickReport) {
	templates, err := c.templates.List(true)
	if err != nil {
		report.Errors = append(report.Errors, TickError{Stage: "expand", Err: err.Error()})
		return
	}

	for _, tmpl := range templates {
		created, err := c.expander.ExpandDue(ctx, tmpl, now, cfg.LookaheadDays)
		report.TasksCreated += len(created)
		if err != nil {
			report.Errors = append(report.Errors, TickError{
				Stage: "expand", EntityID: tmpl.ID, Err: err.Error(),
			})
			continue
		}
		report.TemplatesExpanded++
	}
}

// sendReminders dispatches and logs a reminder per assignee for every task
// approaching its due date, plus a client-facing reminder when enabled and
// the client has a contact channel.
func (c *Coordinator) sendReminders(ctx context.Context, cfg Settings, now time.Time, report *TickReport) {
	due, err := c.scanner.DueForReminder(ctx, now, cfg.ReminderLeadDays)
	if err != nil {
		report.Errors = append(report.Errors, TickError{Stage: "remind", Err: err.Error()})
		return
	}

	for _, t := range due {
		subject := fmt.Sprintf("Reminder: %s due %s", t.Title, t.DueDate.Format("2006-01-02"))
		message := fmt.Sprintf("Task %q (%s) is due on %s.", t.Title, t.Category, t.DueDate.Format("2006-01-02"))

		for _, assignee := range t.Assignees {
			c.dispatch(ctx, report, t.ClientID, notify.ChannelEmail, assignee, subject, message)
		}

		if !cfg.ClientNotificationsEnabled || t.ClientID == "" {
			continue
		}
		cl, err := c.clients.Get(t.ClientID)
		if err != nil {
			report.Errors = append(report.Errors, TickError{
				Stage: "remind", EntityID: t.ID, Err: err.Error(),
			})
			continue
		}
		if !cl.HasContactChannel() {
			continue
		}
		channel, recipient := notify.ChannelEmail, cl.Email
		if recipient == "" {
			channel, recipient = notify.ChannelSMS, cl.Phone
		}
		c.dispatch(ctx, report, t.ClientID, channel, recipient, subject, message)
	}
}

// dispatch sends one notification with a bounded timeout and appends the
// attempt to the communication log regardless of outcome.
func (c *Coordinator) dispatch(ctx context.Context, report *TickReport, clientID string, channel notify.Channel, recipient, subject, message string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	entry := &notify.LogEntry{
		ClientID:  clientID,
		Recipient: recipient,
		Channel:   channel,
		Kind:      "reminder",
		Subject:   subject,
		Message:   message,
		Status:    notify.LogStatusSent,
	}

	if err := c.notifier.Send(sendCtx, channel, recipient, subject, message); err != nil {
		entry.Status = notify.LogStatusFailed
		entry.Error = err.Error()
		report.RemindersFailed++
		c.logger.Warn("reminder delivery failed",
			slog.String("recipient", recipient), slog.Any("err", err))
	} else {
		report.RemindersSent++
	}

	if _, err := c.commLog.Append(entry); err != nil {
		report.Errors = append(report.Errors, TickError{
			Stage: "remind", EntityID: clientID, Err: err.Error(),
		})
	}
}

// reconcileInvoices generates invoices for payable completed tasks that
// carry no back-reference yet. Completion events normally handle this
// immediately; the sweep converges tasks whose event was lost to a crash
// or a cancelled tick. ErrAlreadyInvoiced counts as success.
func (c *Coordinator) reconcileInvoices(ctx context.Context, cfg Settings, report *TickReport) {
	completed := task.StatusCompleted
	payable := true
	pending, err := c.tasks.List(task.Filter{
		Status:     &completed,
		Payable:    &payable,
		Uninvoiced: true,
	})
	if err != nil {
		report.Errors = append(report.Errors, TickError{Stage: "invoice", Err: err.Error()})
		return
	}

	for _, t := range pending {
		_, err := c.generator.GenerateWithRate(ctx, t.ID, cfg.TaxRateBasisPoints, "automation")
		switch {
		case err == nil:
			report.InvoicesCreated++
		case errors.Is(err, invoice.ErrAlreadyInvoiced):
			// success-equivalent
		default:
			report.Errors = append(report.Errors, TickError{
				Stage: "invoice", EntityID: t.ID, Err: err.Error(),
			})
		}
	}
}
