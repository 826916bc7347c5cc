package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"rescue/dispatch/internal/dispatch"
)

// EventTypeApproved is the type of events written after an approval.
const EventTypeApproved = "dispatch.approved"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventStream publishes an approval event to Kafka for downstream consumers (CAD
// integration, reporting). Messages are keyed by incident id so one incident stays on
// one partition.
type EventStream struct {
	writer      messageWriter
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

type approvedEvent struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	OccurredAt   time.Time         `json:"occurred_at"`
	SuggestionID int64             `json:"suggestion_id"`
	IncidentID   int64             `json:"incident_id"`
	UnitID       int64             `json:"unit_id"`
	UnitName     string            `json:"unit_name"`
	ApproverID   string            `json:"approver_id"`
	Severity     dispatch.Severity `json:"severity"`
}

func NewEventStream(brokers []string, topic string) (*EventStream, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return newEventStream(w), nil
}

func newEventStream(w messageWriter) *EventStream {
	return &EventStream{
		writer:      w,
		maxAttempts: 3,
		backoff:     100 * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (e *EventStream) Notify(ctx context.Context, n dispatch.Notification) dispatch.DeliveryReport {
	var report dispatch.DeliveryReport

	value, err := json.Marshal(approvedEvent{
		ID:           uuid.NewString(),
		Type:         EventTypeApproved,
		OccurredAt:   e.now(),
		SuggestionID: n.SuggestionID,
		IncidentID:   n.IncidentID,
		UnitID:       n.UnitID,
		UnitName:     n.UnitName,
		ApproverID:   n.ApproverID,
		Severity:     n.Severity,
	})
	if err != nil {
		report.Fail(dispatch.ChannelEvents, "", err)
		return report
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(n.IncidentID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventTypeApproved)},
		},
	}
	if err := e.write(ctx, msg); err != nil {
		report.Fail(dispatch.ChannelEvents, "", err)
		return report
	}
	report.Add(dispatch.ChannelEvents, 1)
	return report
}

// write retries transient failures with doubling backoff.
func (e *EventStream) write(ctx context.Context, msg kafka.Message) error {
	backoff := e.backoff
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if lastErr = e.writer.WriteMessages(ctx, msg); lastErr == nil {
			return nil
		}
		if attempt == e.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("kafka write failed after %d attempts: %w", e.maxAttempts, lastErr)
}

func (e *EventStream) Close() error {
	return e.writer.Close()
}
