package notify

import (
	"context"

	"github.com/rs/zerolog"

	"rescue/dispatch/internal/dispatch"
)

// LogSink writes each notification to the application log. It is the fallback channel in
// development, where no delivery backend is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) LogSink {
	return LogSink{log: log.With().Str("component", "notify").Logger()}
}

func (s LogSink) Notify(_ context.Context, n dispatch.Notification) dispatch.DeliveryReport {
	_, body := message(n)
	s.log.Info().
		Int64("suggestion_id", n.SuggestionID).
		Int64("unit_id", n.UnitID).
		Int64("incident_id", n.IncidentID).
		Int("members", len(n.Members)).
		Msg(body)

	var report dispatch.DeliveryReport
	report.Add(dispatch.ChannelLog, 1)
	return report
}
