package dispatch

import "context"

// Delivery channel names used in DeliveryReport.Sent.
const (
	ChannelEmail     = "email"
	ChannelDashboard = "dashboard"
	ChannelPager     = "pager"
	ChannelEvents    = "events"
	ChannelLog       = "log"
)

// Notification tells the members of a unit that it has been dispatched.
type Notification struct {
	SuggestionID     int64    `json:"suggestion_id"`
	UnitID           int64    `json:"unit_id"`
	UnitName         string   `json:"unit_name"`
	IncidentID       int64    `json:"incident_id"`
	IncidentTitle    string   `json:"incident_title"`
	IncidentLocation string   `json:"incident_location"`
	Severity         Severity `json:"severity"`
	ApproverID       string   `json:"approver_id"`
	Members          []Member `json:"members"`
}

// DeliveryFailure records one message that could not be delivered.
type DeliveryFailure struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient,omitempty"`
	Error     string `json:"error"`
}

// DeliveryReport aggregates the outcome of one Notify call.
type DeliveryReport struct {
	Sent     map[string]int    `json:"sent"`
	Failures []DeliveryFailure `json:"failures,omitempty"`
}

// Delivered sums successful deliveries across channels.
func (r DeliveryReport) Delivered() int {
	total := 0
	for _, n := range r.Sent {
		total += n
	}
	return total
}

func (r DeliveryReport) EmailsSent() int { return r.Sent[ChannelEmail] }

func (r DeliveryReport) DashboardNotificationsSent() int { return r.Sent[ChannelDashboard] }

// Add records n successful deliveries on channel.
func (r *DeliveryReport) Add(channel string, n int) {
	if r.Sent == nil {
		r.Sent = map[string]int{}
	}
	r.Sent[channel] += n
}

// Fail records a failed delivery.
func (r *DeliveryReport) Fail(channel, recipient string, err error) {
	r.Failures = append(r.Failures, DeliveryFailure{Channel: channel, Recipient: recipient, Error: err.Error()})
}

// Merge folds other into r.
func (r *DeliveryReport) Merge(other DeliveryReport) {
	for ch, n := range other.Sent {
		r.Add(ch, n)
	}
	r.Failures = append(r.Failures, other.Failures...)
}

// Notifier delivers dispatch notifications. Implementations report failures in the
// returned report instead of failing the call.
type Notifier interface {
	Notify(ctx context.Context, n Notification) DeliveryReport
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) DeliveryReport { return DeliveryReport{} }
