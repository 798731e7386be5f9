package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/AxelFr971/vocaline-local"

// Metrics holds the OpenTelemetry instruments fed by MetricsSink.
type Metrics struct {
	// SessionTransitions counts session state changes, attribute "state".
	SessionTransitions metric.Int64Counter

	// ConnectionStates counts peer transport states, attribute "state".
	ConnectionStates metric.Int64Counter

	// AudioEvents counts audio events, attributes "type" and "enabled".
	AudioEvents metric.Int64Counter

	// Errors counts reported errors, attribute "type".
	Errors metric.Int64Counter

	// Ignored counts discarded negotiation messages, attribute "reason".
	Ignored metric.Int64Counter

	// ActiveSessions tracks sessions between creation and teardown.
	ActiveSessions metric.Int64UpDownCounter
}

// NewMetrics creates the instruments from mp, or the global provider when mp
// is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.SessionTransitions, err = meter.Int64Counter("vocaline.session.transitions",
		metric.WithDescription("Negotiation session state transitions.")); err != nil {
		return nil, err
	}
	if m.ConnectionStates, err = meter.Int64Counter("vocaline.connection.states",
		metric.WithDescription("Peer transport connection state changes.")); err != nil {
		return nil, err
	}
	if m.AudioEvents, err = meter.Int64Counter("vocaline.audio.events",
		metric.WithDescription("Audio state events.")); err != nil {
		return nil, err
	}
	if m.Errors, err = meter.Int64Counter("vocaline.errors",
		metric.WithDescription("Errors reported by sessions.")); err != nil {
		return nil, err
	}
	if m.Ignored, err = meter.Int64Counter("vocaline.negotiation.ignored",
		metric.WithDescription("Negotiation messages discarded by a session.")); err != nil {
		return nil, err
	}
	if m.ActiveSessions, err = meter.Int64UpDownCounter("vocaline.sessions.active",
		metric.WithDescription("Sessions that have not been torn down.")); err != nil {
		return nil, err
	}
	return &m, nil
}

// MetricsSink turns events into metric observations.
type MetricsSink struct {
	m *Metrics
}

func NewMetricsSink(m *Metrics) *MetricsSink {
	return &MetricsSink{m: m}
}

// Session state names that bracket the active gauge.
const (
	stateCreated = "idle"
	stateFailed  = "failed"
	stateClosed  = "closed"
)

func (s *MetricsSink) Record(e Event) {
	ctx := context.Background()
	switch e.Kind {
	case KindSessionState:
		s.m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", e.Name)))
		switch e.Name {
		case stateCreated:
			s.m.ActiveSessions.Add(ctx, 1)
		case stateFailed, stateClosed:
			s.m.ActiveSessions.Add(ctx, -1)
		}
	case KindConnectionState:
		s.m.ConnectionStates.Add(ctx, 1, metric.WithAttributes(attribute.String("state", e.Name)))
	case KindAudioState:
		s.m.AudioEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", e.Name),
			attribute.Bool("enabled", e.Enabled),
		))
	case KindError:
		s.m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", e.Name)))
	case KindIgnored:
		s.m.Ignored.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", e.Name)))
	}
}
