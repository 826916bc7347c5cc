package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"rescue/dispatch/internal/dispatch"
)

// publisher is the part of paho.Client the pager needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Pager publishes one alert per dispatch on the unit's MQTT pager topic. Station pagers
// subscribe to <prefix>/<unit id>/pager.
type Pager struct {
	client publisher
	prefix string
	qos    byte
	close  func()
}

type pagerAlert struct {
	SuggestionID int64             `json:"suggestion_id"`
	IncidentID   int64             `json:"incident_id"`
	Title        string            `json:"title"`
	Location     string            `json:"location"`
	Severity     dispatch.Severity `json:"severity"`
	Members      int               `json:"members"`
}

// DialPager connects to the broker with auto-reconnect enabled.
func DialPager(broker, clientID, prefix string) (*Pager, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	p := NewPager(cli, prefix)
	p.close = func() {
		if cli.IsConnected() {
			cli.Disconnect(250)
		}
	}
	return p, nil
}

func NewPager(client publisher, prefix string) *Pager {
	return &Pager{client: client, prefix: prefix, qos: 1}
}

func (p *Pager) Topic(unitID int64) string {
	return fmt.Sprintf("%s/%d/pager", p.prefix, unitID)
}

func (p *Pager) Notify(ctx context.Context, n dispatch.Notification) dispatch.DeliveryReport {
	var report dispatch.DeliveryReport
	topic := p.Topic(n.UnitID)

	payload, err := json.Marshal(pagerAlert{
		SuggestionID: n.SuggestionID,
		IncidentID:   n.IncidentID,
		Title:        n.IncidentTitle,
		Location:     n.IncidentLocation,
		Severity:     n.Severity,
		Members:      len(n.Members),
	})
	if err != nil {
		report.Fail(dispatch.ChannelPager, topic, err)
		return report
	}

	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		report.Fail(dispatch.ChannelPager, topic, ctx.Err())
		return report
	}
	if err := token.Error(); err != nil {
		report.Fail(dispatch.ChannelPager, topic, err)
		return report
	}
	report.Add(dispatch.ChannelPager, 1)
	return report
}

func (p *Pager) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
