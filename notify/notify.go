// Package notify abstracts outbound notification delivery and records every
// attempt in the append-only communication log.
package notify

import (
	"context"
	"fmt"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelConsole  Channel = "console"
	ChannelWebhook  Channel = "webhook"
)

// DeliveryError wraps a transport failure. Delivery is best-effort: the
// coordinator logs the failure and retries on the next tick.
type DeliveryError struct {
	Channel   Channel
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s via %s: %v", e.Recipient, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier sends a single outbound notification. Implementations must
// respect ctx cancellation; the coordinator bounds every send with a
// timeout.
type Notifier interface {
	Send(ctx context.Context, channel Channel, recipient, subject, message string) error
}
