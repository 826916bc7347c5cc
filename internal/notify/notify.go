// Package notify delivers dispatch notifications to unit members over the configured
// channels: email webhook, dashboard inbox (Redis), pager topic (MQTT), event stream
// (Kafka) and the application log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"rescue/dispatch/internal/config"
	"rescue/dispatch/internal/dispatch"
)

// Fanout sends every notification to all sinks concurrently and merges their reports.
type Fanout struct {
	sinks []dispatch.Notifier
}

func NewFanout(sinks ...dispatch.Notifier) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Notify(ctx context.Context, n dispatch.Notification) dispatch.DeliveryReport {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report dispatch.DeliveryReport
	)
	for _, sink := range f.sinks {
		wg.Add(1)
		go func(sink dispatch.Notifier) {
			defer wg.Done()
			r := sink.Notify(ctx, n)
			mu.Lock()
			report.Merge(r)
			mu.Unlock()
		}(sink)
	}
	wg.Wait()
	return report
}

// Len reports how many sinks are configured.
func (f *Fanout) Len() int { return len(f.sinks) }

// Build wires the sinks enabled in cfg. A sink whose backend cannot be reached is skipped
// with a warning so the service still starts. The returned close function releases every
// connection that was opened.
func Build(ctx context.Context, cfg config.NotifyConfig, log zerolog.Logger) (*Fanout, func() error) {
	var (
		sinks   []dispatch.Notifier
		closers []func() error
	)

	if cfg.Log {
		sinks = append(sinks, NewLogSink(log))
	}
	if cfg.EmailWebhookURL != "" {
		sinks = append(sinks, NewEmailWebhook(cfg.EmailWebhookURL, cfg.EmailWebhookToken, nil))
	}
	if cfg.RedisAddr != "" {
		dash, err := DialDashboard(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("dashboard notifications disabled")
		} else {
			sinks = append(sinks, dash)
			closers = append(closers, dash.Close)
		}
	}
	if cfg.MQTTBroker != "" {
		pager, err := DialPager(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTTBroker).Msg("pager notifications disabled")
		} else {
			sinks = append(sinks, pager)
			closers = append(closers, pager.Close)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		events, err := NewEventStream(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Warn().Err(err).Msg("dispatch event stream disabled")
		} else {
			sinks = append(sinks, events)
			closers = append(closers, events.Close)
		}
	}

	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return NewFanout(sinks...), closeAll
}

// message is the human-readable text shared by the member-facing channels.
func message(n dispatch.Notification) (subject, body string) {
	subject = fmt.Sprintf("Dispatch: %s", n.IncidentTitle)
	body = fmt.Sprintf("%s has been dispatched to %s (%s, severity %s).", n.UnitName, n.IncidentTitle, n.IncidentLocation, n.Severity)
	return subject, body
}
