package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// sessionMetrics feed the Prometheus endpoint through the global otel meter
// provider the runtime installs.
type sessionMetrics struct {
	sessions   metric.Int64Counter
	errors     metric.Int64Counter
	insertions metric.Int64Counter
	decodeRTF  metric.Float64Histogram
}

func newSessionMetrics() *sessionMetrics {
	meter := otel.Meter("github.com/murmurlabs/murmur/internal/session")
	m := &sessionMetrics{}
	m.sessions, _ = meter.Int64Counter("murmur.sessions.started",
		metric.WithDescription("Dictation sessions started"))
	m.errors, _ = meter.Int64Counter("murmur.sessions.errors",
		metric.WithDescription("Dictation sessions that ended in error"))
	m.insertions, _ = meter.Int64Counter("murmur.insertions",
		metric.WithDescription("Insertion transactions by method"))
	m.decodeRTF, _ = meter.Float64Histogram("murmur.decode.rtf",
		metric.WithDescription("Decode wall-clock time divided by audio duration"))
	return m
}

func (m *sessionMetrics) sessionStarted() {
	if m.sessions != nil {
		m.sessions.Add(context.Background(), 1)
	}
}

func (m *sessionMetrics) sessionErrored() {
	if m.errors != nil {
		m.errors.Add(context.Background(), 1)
	}
}

func (m *sessionMetrics) insertion(method string, success bool) {
	if m.insertions != nil {
		m.insertions.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.Bool("success", success)))
	}
}

func (m *sessionMetrics) decoded(elapsed time.Duration, audio time.Duration) {
	if m.decodeRTF == nil || audio <= 0 {
		return
	}
	m.decodeRTF.Record(context.Background(), elapsed.Seconds()/audio.Seconds())
}
