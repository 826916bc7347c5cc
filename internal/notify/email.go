package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rescue/dispatch/internal/dispatch"
)

// EmailWebhook hands one message per member to an HTTP mail relay.
type EmailWebhook struct {
	url    string
	token  string
	client *http.Client
}

type emailPayload struct {
	Channel      string `json:"channel"`
	Recipient    string `json:"recipient"`
	Subject      string `json:"subject"`
	Message      string `json:"message"`
	SuggestionID int64  `json:"suggestion_id"`
}

// NewEmailWebhook posts to url with an optional bearer token. A nil client gets a 5s timeout.
func NewEmailWebhook(url, token string, client *http.Client) *EmailWebhook {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &EmailWebhook{url: url, token: token, client: client}
}

// Notify emails every member that has an address. Members without one are skipped.
func (w *EmailWebhook) Notify(ctx context.Context, n dispatch.Notification) dispatch.DeliveryReport {
	var report dispatch.DeliveryReport
	subject, body := message(n)
	for _, m := range n.Members {
		if m.Email == "" {
			continue
		}
		err := w.send(ctx, emailPayload{
			Channel:      dispatch.ChannelEmail,
			Recipient:    m.Email,
			Subject:      subject,
			Message:      body,
			SuggestionID: n.SuggestionID,
		})
		if err != nil {
			report.Fail(dispatch.ChannelEmail, m.Email, err)
			continue
		}
		report.Add(dispatch.ChannelEmail, 1)
	}
	return report
}

func (w *EmailWebhook) send(ctx context.Context, payload emailPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay returned %d", resp.StatusCode)
	}
	return nil
}
