package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rescue/dispatch/internal/dispatch"
)

const inboxLength = 100

// Dashboard stores a notification in each member's Redis inbox list and publishes it on
// the member's channel for connected dashboards.
type Dashboard struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type dashboardMessage struct {
	Type         string            `json:"type"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	SuggestionID int64             `json:"suggestion_id"`
	IncidentID   int64             `json:"incident_id"`
	UnitID       int64             `json:"unit_id"`
	Severity     dispatch.Severity `json:"severity"`
	CreatedAt    time.Time         `json:"created_at"`
}

// DialDashboard connects to Redis and verifies the connection.
func DialDashboard(ctx context.Context, addr, password string, db int, prefix string) (*Dashboard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewDashboard(client, prefix), nil
}

func NewDashboard(client *redis.Client, prefix string) *Dashboard {
	return &Dashboard{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// InboxKey is the list holding the latest notifications of a user.
func (d *Dashboard) InboxKey(userID string) string {
	return fmt.Sprintf("%s:inbox:%s", d.prefix, userID)
}

// Channel is the pub/sub channel of a user.
func (d *Dashboard) Channel(userID string) string {
	return fmt.Sprintf("%s:user:%s", d.prefix, userID)
}

// Notify writes to every member that has a user account.
func (d *Dashboard) Notify(ctx context.Context, n dispatch.Notification) dispatch.DeliveryReport {
	var report dispatch.DeliveryReport

	subject, body := message(n)
	payload, err := json.Marshal(dashboardMessage{
		Type:         "dispatch",
		Title:        subject,
		Message:      body,
		SuggestionID: n.SuggestionID,
		IncidentID:   n.IncidentID,
		UnitID:       n.UnitID,
		Severity:     n.Severity,
		CreatedAt:    d.now(),
	})
	if err != nil {
		report.Fail(dispatch.ChannelDashboard, "", err)
		return report
	}

	for _, m := range n.Members {
		if m.UserID == "" {
			continue
		}
		_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, d.InboxKey(m.UserID), payload)
			pipe.LTrim(ctx, d.InboxKey(m.UserID), 0, inboxLength-1)
			pipe.Publish(ctx, d.Channel(m.UserID), payload)
			return nil
		})
		if err != nil {
			report.Fail(dispatch.ChannelDashboard, m.UserID, err)
			continue
		}
		report.Add(dispatch.ChannelDashboard, 1)
	}
	return report
}

func (d *Dashboard) Close() error {
	return d.client.Close()
}
