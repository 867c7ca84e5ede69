// Package automation drives the recurring tick that expands templates,
// emits deadline reminders, and generates invoices for completed work.
package automation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/firmdesk/firmdesk/invoice"
)

// Settings is the firm-level automation configuration. It is loaded once
// per tick and passed by value; there is no process-wide mutable state.
type Settings struct {
	ReminderLeadDays           int  `json:"reminder_lead_days"`
	ClientNotificationsEnabled bool `json:"client_notifications_enabled"`
	LookaheadDays              int  `json:"lookahead_days"`
	TaxRateBasisPoints         int  `json:"tax_rate_basis_points"`
}

// DefaultSettings returns the settings used before the firm saves any.
func DefaultSettings() Settings {
	return Settings{
		ReminderLeadDays:           3,
		ClientNotificationsEnabled: true,
		LookaheadDays:              30,
		TaxRateBasisPoints:         invoice.DefaultTaxRateBasisPoints,
	}
}

// SettingsStore persists the singleton settings row.
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore wraps an open database handle.
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Load returns the saved settings, or defaults when none were saved yet.
func (s *SettingsStore) Load() (Settings, error) {
	cfg := DefaultSettings()
	var clientNotifications int
	err := s.db.QueryRow(`
		SELECT reminder_lead_days, client_notifications, lookahead_days, tax_rate_bps
		FROM automation_settings WHERE id = 1`).
		Scan(&cfg.ReminderLeadDays, &clientNotifications, &cfg.LookaheadDays, &cfg.TaxRateBasisPoints)
	if err == sql.ErrNoRows {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("load automation settings: %w", err)
	}
	cfg.ClientNotificationsEnabled = clientNotifications != 0
	return cfg, nil
}

// Save upserts the singleton settings row.
func (s *SettingsStore) Save(cfg Settings) error {
	clientNotifications := 0
	if cfg.ClientNotificationsEnabled {
		clientNotifications = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO automation_settings
			(id, reminder_lead_days, client_notifications, lookahead_days, tax_rate_bps, updated_at)
		VALUES (1,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			reminder_lead_days=excluded.reminder_lead_days,
			client_notifications=excluded.client_notifications,
			lookahead_days=excluded.lookahead_days,
			tax_rate_bps=excluded.tax_rate_bps,
			updated_at=excluded.updated_at`,
		cfg.ReminderLeadDays, clientNotifications, cfg.LookaheadDays,
		cfg.TaxRateBasisPoints, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save automation settings: %w", err)
	}
	return nil
}
