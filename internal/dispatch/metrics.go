package dispatch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	proposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_proposals_total",
			Help: "Dispatch proposals by outcome kind.",
		},
		[]string{"result"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_decisions_total",
			Help: "Approval workflow decisions by decision and outcome kind.",
		},
		[]string{"decision", "result"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_transitions_total",
			Help: "Committed dispatch tracker transitions by target status.",
		},
		[]string{"to"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_notifications_total",
			Help: "Notification deliveries by channel and result.",
		},
		[]string{"channel", "result"},
	)

	travelDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_travel_duration_seconds",
			Help:    "Time from approval to arrival on scene.",
			Buckets: []float64{60, 120, 180, 300, 600, 900, 1200, 1800, 2700, 3600},
		},
		[]string{"unit_type", "severity"},
	)

	onSiteDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_on_site_duration_seconds",
			Help:    "Time from arrival to completion.",
			Buckets: []float64{120, 300, 600, 900, 1200, 1800, 2700, 3600, 5400, 7200, 10800},
		},
		[]string{"unit_type", "severity"},
	)

	pendingSuggestions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_pending_suggestions",
		Help: "Suggestions awaiting approval.",
	})

	activeDispatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_active_dispatches",
		Help: "Approved dispatches not yet completed.",
	})
)

func init() {
	prometheus.MustRegister(
		proposalsTotal,
		decisionsTotal,
		transitionsTotal,
		notificationsTotal,
		travelDurationSeconds,
		onSiteDurationSeconds,
		pendingSuggestions,
		activeDispatches,
	)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return Kind(err)
}

func observeNotifications(report DeliveryReport) {
	for ch, n := range report.Sent {
		notificationsTotal.WithLabelValues(ch, "ok").Add(float64(n))
	}
	for _, f := range report.Failures {
		notificationsTotal.WithLabelValues(f.Channel, "failed").Inc()
	}
}

func observeDurations(s Suggestion, unitType string, severity Severity) {
	if s.DispatchedAt != nil && s.ArrivedAt != nil {
		if d := s.ArrivedAt.Sub(*s.DispatchedAt); d > 0 {
			travelDurationSeconds.WithLabelValues(unitType, string(severity)).Observe(d.Seconds())
		}
	}
	if s.ArrivedAt != nil && s.CompletedAt != nil {
		if d := s.CompletedAt.Sub(*s.ArrivedAt); d > 0 {
			onSiteDurationSeconds.WithLabelValues(unitType, string(severity)).Observe(d.Seconds())
		}
	}
}

// StartMetricsSync refreshes the pending/active gauges every interval until ctx is done.
func StartMetricsSync(ctx context.Context, store ReadStore, log zerolog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	sync := func() {
		pending, err := store.ListSuggestions(ctx, StatusPending)
		if err != nil {
			log.Warn().Err(err).Msg("metrics sync: list pending suggestions")
			return
		}
		active, err := store.ListSuggestions(ctx, StatusDispatched, StatusEnRoute, StatusArrived)
		if err != nil {
			log.Warn().Err(err).Msg("metrics sync: list active dispatches")
			return
		}
		pendingSuggestions.Set(float64(len(pending)))
		activeDispatches.Set(float64(len(active)))
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		sync()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sync()
			}
		}
	}()
}
