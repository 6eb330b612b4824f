package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

// WebhookDispatcher posts every notification as JSON to a backend endpoint,
// for example a push notification service.
type WebhookDispatcher struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookDispatcher(endpoint string) *WebhookDispatcher {
	return &WebhookDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

type webhookPayload struct {
	models.Notification
	Recipients []string `json:"recipients"`
}

func (p *WebhookDispatcher) Notify(ctx context.Context, n models.Notification) error {
	b, err := json.Marshal(webhookPayload{Notification: n, Recipients: n.Recipients})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: %s", p.Endpoint, resp.Status)
	}
	return nil
}
