// Package observe provides voxgate's observability primitives: OpenTelemetry
// metric instruments and the SDK provider setup with a Prometheus exporter
// bridge, so metrics remain scrapable via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a private
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all voxgate metrics.
const meterName = "github.com/refugehelp/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the server.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks the latency of individual Transcriber
	// calls, successful or not.
	TranscriptionDuration metric.Float64Histogram

	// SegmentsCompleted counts utterance segments emitted by the endpointing
	// state machine, by trigger ("silence" or "flush").
	SegmentsCompleted metric.Int64Counter

	// QueueRejections counts submissions rejected by admission control.
	QueueRejections metric.Int64Counter

	// TranscriptionErrors counts failed Transcriber calls.
	TranscriptionErrors metric.Int64Counter

	// ActiveSessions tracks the number of live client connections.
	ActiveSessions metric.Int64UpDownCounter

	// AudioBytes counts raw audio bytes received from clients.
	AudioBytes metric.Int64Counter
}

// latencyBuckets defines histogram boundaries (in seconds) sized for batch
// ASR inference on utterance-length audio.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("voxgate.transcription.duration",
		metric.WithDescription("Latency of waveform-to-text transcription calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentsCompleted, err = m.Int64Counter("voxgate.segments.completed",
		metric.WithDescription("Total utterance segments completed, by trigger."),
	); err != nil {
		return nil, err
	}
	if met.QueueRejections, err = m.Int64Counter("voxgate.queue.rejections",
		metric.WithDescription("Total transcription submissions rejected because the queue was full."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionErrors, err = m.Int64Counter("voxgate.transcription.errors",
		metric.WithDescription("Total failed transcription calls."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.active_sessions",
		metric.WithDescription("Number of live client connections."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("voxgate.audio.bytes_received",
		metric.WithDescription("Raw audio bytes received from clients."),
		metric.WithUnit("By"),
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

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from [otel.GetMeterProvider]. Panics if instrument creation fails
// (should not happen with the global provider).
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

// RecordTranscription records one Transcriber call: its latency always, and
// an error count when err is non-nil.
func (m *Metrics) RecordTranscription(ctx context.Context, elapsed time.Duration, err error) {
	m.TranscriptionDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		m.TranscriptionErrors.Add(ctx, 1)
	}
}

// RecordSegment records one completed segment with its trigger
// ("silence" or "flush").
func (m *Metrics) RecordSegment(ctx context.Context, trigger string) {
	m.SegmentsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}

// RecordQueueRejection records one admission-control rejection.
func (m *Metrics) RecordQueueRejection(ctx context.Context) {
	m.QueueRejections.Add(ctx, 1)
}

// SessionOpened increments the live-session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the live-session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}

// RecordAudioBytes counts n bytes of received client audio.
func (m *Metrics) RecordAudioBytes(ctx context.Context, n int) {
	m.AudioBytes.Add(ctx, int64(n))
}
