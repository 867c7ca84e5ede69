package notify

import (
	"context"
	"log/slog"
)

// ConsoleNotifier writes notifications to the structured log. It is the
// default transport for development and single-firm installs; wire a
// WebhookNotifier for real delivery.
type ConsoleNotifier struct {
	logger *slog.Logger
}

// NewConsoleNotifier creates a ConsoleNotifier over the given logger.
func NewConsoleNotifier(logger *slog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{logger: logger}
}

// Send logs the notification and always succeeds.
func (n *ConsoleNotifier) Send(_ context.Context, channel Channel, recipient, subject, message string) error {
	n.logger.Info("notification",
		slog.String("channel", string(channel)),
		slog.String("recipient", recipient),
		slog.String("subject", subject),
		slog.String("message", message),
	)
	return nil
}
