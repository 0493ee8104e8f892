// Package observe provides application-wide observability primitives for
// vocoserve: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vocoserve metrics.
const meterName = "github.com/MrWong99/vocoserve"

// Metrics holds all OpenTelemetry metric instruments for the server. All
// fields are safe for concurrent use — the underlying OTel types handle their
// own synchronisation.
type Metrics struct {
	// ActiveSessions tracks the number of live WebSocket sessions.
	ActiveSessions metric.Int64UpDownCounter

	// AudioChunks counts inbound binary audio frames. Use with attribute:
	//   attribute.String("engine", ...)
	AudioChunks metric.Int64Counter

	// AudioBytes counts inbound audio volume in bytes.
	AudioBytes metric.Int64Counter

	// InferenceDuration tracks recognizer inference latency. Use with
	// attribute: attribute.String("engine", ...)
	InferenceDuration metric.Float64Histogram

	// RealTimeFactor tracks inference time divided by audio duration. Values
	// above 1 mean the recognizer cannot keep up with the stream.
	RealTimeFactor metric.Float64Histogram

	// Transcripts counts emitted results. Use with attribute:
	//   attribute.Bool("final", ...)
	Transcripts metric.Int64Counter

	// ProtocolErrors counts wire-level errors by name
	// ("Unauthorized", "ProcessError", ...).
	ProtocolErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// utterance-level inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// rtfBuckets covers the interesting real-time-factor range around 1.0.
var rtfBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 4, 8,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vocoserve.active_sessions",
		metric.WithDescription("Number of live WebSocket sessions."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("vocoserve.audio.chunks",
		metric.WithDescription("Total inbound binary audio frames by engine."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("vocoserve.audio.bytes",
		metric.WithDescription("Total inbound audio volume."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("vocoserve.inference.duration",
		metric.WithDescription("Latency of recognizer inference by engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RealTimeFactor, err = m.Float64Histogram("vocoserve.inference.rtf",
		metric.WithDescription("Inference time divided by audio duration."),
		metric.WithExplicitBucketBoundaries(rtfBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("vocoserve.transcripts",
		metric.WithDescription("Total emitted transcript results by finality."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("vocoserve.protocol.errors",
		metric.WithDescription("Total wire-level protocol errors by name."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocoserve.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// The convenience recorders below are nil-safe so callers can carry an
// optional *Metrics without guarding every call site.

// SessionStarted increments the active-session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the active-session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// RecordChunk records one inbound audio frame of the given size.
func (m *Metrics) RecordChunk(ctx context.Context, engine string, bytes int) {
	if m == nil {
		return
	}
	m.AudioChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
	m.AudioBytes.Add(ctx, int64(bytes))
}

// RecordInference records one inference run with its latency and real-time
// factor.
func (m *Metrics) RecordInference(ctx context.Context, engine string, seconds, rtf float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("engine", engine))
	m.InferenceDuration.Record(ctx, seconds, attrs)
	if rtf > 0 {
		m.RealTimeFactor.Record(ctx, rtf, attrs)
	}
}

// RecordTranscript counts one emitted result.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool) {
	if m == nil {
		return
	}
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("final", strconv.FormatBool(final))))
}

// RecordProtocolError counts one wire-level error by its protocol name.
func (m *Metrics) RecordProtocolError(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("name", name)))
}
