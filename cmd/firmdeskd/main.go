// Command firmdeskd is the firmdesk server daemon. It opens the SQLite
// database, wires the automation coordinator, schedules ticks, and serves
// the REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/firmdesk/firmdesk/automation"
	"github.com/firmdesk/firmdesk/client"
	"github.com/firmdesk/firmdesk/config"
	"github.com/firmdesk/firmdesk/events"
	"github.com/firmdesk/firmdesk/internal/version"
	"github.com/firmdesk/firmdesk/invoice"
	"github.com/firmdesk/firmdesk/notify"
	"github.com/firmdesk/firmdesk/server"
	"github.com/firmdesk/firmdesk/storage"
	"github.com/firmdesk/firmdesk/task"
	"github.com/firmdesk/firmdesk/template"
)

var configPath = flag.String("config", "firmdesk.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting firmdeskd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}
	db, err := storage.Open(filepath.Join(cfg.DataDir, "firmdesk.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close() //nolint:errcheck

	var notifier notify.Notifier
	switch cfg.Notifier.Kind {
	case "webhook":
		notifier = notify.NewWebhookNotifier(cfg.Notifier.WebhookURL)
	default:
		notifier = notify.NewConsoleNotifier(logger)
	}

	bus := events.NewInMemoryBus()
	tasks := task.NewSQLiteStore(db)
	lifecycle := task.NewLifecycle(tasks, bus)
	templates := template.NewSQLiteStore(db)
	clients := client.NewSQLiteStore(db)
	invoices := invoice.NewSQLiteStore(db)
	generator := invoice.NewGenerator(db)
	settings := automation.NewSettingsStore(db)
	commLog := notify.NewSQLiteLogStore(db)

	coordinator := automation.NewCoordinator(
		settings, templates, tasks, clients, generator, notifier, commLog, logger,
	)
	unsubscribe := coordinator.SubscribeCompletions(bus)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Schedule, func() {
		if _, err := coordinator.RunTick(ctx, time.Now()); err != nil {
			logger.Error("tick failed", slog.Any("err", err))
		}
	}); err != nil {
		log.Fatalf("Failed to parse schedule %q: %v", cfg.Schedule, err)
	}
	sched.Start()

	srv := server.New(*cfg, server.Deps{
		Clients:     clients,
		Templates:   templates,
		Tasks:       tasks,
		Lifecycle:   lifecycle,
		Invoices:    invoices,
		Generator:   generator,
		Settings:    settings,
		CommLog:     commLog,
		Coordinator: coordinator,
	}, version.Version, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server stopped", slog.Any("err", err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()
	schedCtx := sched.Stop()
	<-schedCtx.Done()
	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("server stop error", slog.Any("err", err))
	}
	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
