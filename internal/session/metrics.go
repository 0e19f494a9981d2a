package session

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Request outcomes recorded on the request counter and duration histogram.
const (
	outcomeOK           = "ok"
	outcomeNoSpeech     = "no_speech"
	outcomeUnknownVoice = "unknown_voice"
	outcomeFailed       = "failed"
	outcomeDropped      = "dropped"
)

type metrics struct {
	sessions metric.Int64UpDownCounter
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(log *slog.Logger) *metrics {
	m := &metrics{}
	if err := m.init(); err != nil {
		log.Warn("failed to initialize session metrics", slogError(err))
	}
	return m
}

func (m *metrics) init() error {
	meter := otel.Meter("github.com/swagat-panda/VocalWeaver/session")
	sessions, err := meter.Int64UpDownCounter("vocalweaver.sessions.active",
		metric.WithDescription("Open websocket sessions"))
	if err != nil {
		return err
	}
	requests, err := meter.Int64Counter("vocalweaver.requests.total",
		metric.WithDescription("Voice change requests by outcome"))
	if err != nil {
		return err
	}
	duration, err := meter.Float64Histogram("vocalweaver.request.duration.seconds",
		metric.WithDescription("End-to-end request latency by outcome"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	m.sessions = sessions
	m.requests = requests
	m.duration = duration
	return nil
}

func (m *metrics) sessionOpened(ctx context.Context) {
	if m.sessions != nil {
		m.sessions.Add(ctx, 1)
	}
}

func (m *metrics) sessionClosed(ctx context.Context) {
	if m.sessions != nil {
		m.sessions.Add(ctx, -1)
	}
}

func (m *metrics) requestDone(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func (m *metrics) requestDropped(ctx context.Context) {
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcomeDropped)))
	}
}
