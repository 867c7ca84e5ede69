package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts notifications as JSON to an external delivery
// gateway (the actual email/SMS/WhatsApp provider sits behind it).
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier targeting url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// Send posts the notification to the gateway. Any transport or non-2xx
// response is returned as a DeliveryError.
func (n *WebhookNotifier) Send(ctx context.Context, channel Channel, recipient, subject, message string) error {
	body, err := json.Marshal(webhookPayload{
		Channel:   string(channel),
		Recipient: recipient,
		Subject:   subject,
		Message:   message,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: channel, Recipient: recipient, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			Channel:   channel,
			Recipient: recipient,
			Err:       fmt.Errorf("gateway returned %s", resp.Status),
		}
	}
	return nil
}
