package server

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/firmdesk/firmdesk/automation"
	"github.com/firmdesk/firmdesk/client"
	"github.com/firmdesk/firmdesk/config"
	"github.com/firmdesk/firmdesk/events"
	"github.com/firmdesk/firmdesk/invoice"
	"github.com/firmdesk/firmdesk/notify"
	"github.com/firmdesk/firmdesk/storage"
	"github.com/firmdesk/firmdesk/task"
	"github.com/firmdesk/firmdesk/template"
)

const (
	testUser     = "admin"
	testPassword = "hunter2"
)

// newTestServer builds a Server over a temp database with routes registered
// but without listening. Tests drive s.mux directly.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	f, err := os.CreateTemp("", "firmdesk-server-*.db")
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

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := *config.DefaultConfig()
	cfg.Auth.AdminUser = testUser
	cfg.Auth.AdminPass = string(hash)
	cfg.Auth.JWTSecret = "test-secret"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := task.NewSQLiteStore(db)
	bus := events.NewInMemoryBus()
	generator := invoice.NewGenerator(db)
	settings := automation.NewSettingsStore(db)
	commLog := notify.NewSQLiteLogStore(db)
	clients := client.NewSQLiteStore(db)
	templates := template.NewSQLiteStore(db)
	coord := automation.NewCoordinator(settings, templates, tasks, clients,
		generator, notify.NewConsoleNotifier(logger), commLog, logger)

	s := New(cfg, Deps{
		Clients:     clients,
		Templates:   templates,
		Tasks:       tasks,
		Lifecycle:   task.NewLifecycle(tasks, bus),
		Invoices:    invoice.NewSQLiteStore(db),
		Generator:   generator,
		Settings:    settings,
		CommLog:     commLog,
		Coordinator: coord,
	}, "test", logger)
	s.registerRoutes()
	return s
}
