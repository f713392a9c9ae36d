// Package observe provides application-wide observability primitives for
// sensorbridge: OpenTelemetry metrics, distributed tracing, trace-aware
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sensorbridge metrics.
const meterName = "github.com/MrWong99/sensorbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Per-stream frame counters (attribute "stream") ---

	// FramesCaptured counts frames pulled from the device.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames discarded because the frame channel was full.
	FramesDropped metric.Int64Counter

	// FramesPublished counts payloads handed to the sink.
	FramesPublished metric.Int64Counter

	// FramesRejected counts frames skipped by a converter (bad length,
	// dimension mismatch).
	FramesRejected metric.Int64Counter

	// CaptureErrors counts transient per-frame capture errors.
	CaptureErrors metric.Int64Counter

	// ConvertDuration tracks the time spent converting one frame.
	ConvertDuration metric.Float64Histogram

	// --- Gauges ---

	// Subscribers tracks live sink sessions per stream.
	Subscribers metric.Int64UpDownCounter

	// DevicesOpen tracks device resources currently held per stream.
	DevicesOpen metric.Int64UpDownCounter

	// --- Configuration ---

	// ToneMapReloads counts tone-map reload attempts. Use with attribute:
	//   attribute.String("status", "applied" | "unchanged" | "rejected")
	ToneMapReloads metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, with
	// attributes "method", "route" (see [RouteLabel]) and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// convertBuckets defines histogram bucket boundaries (in seconds) for
// per-frame conversion work, which is expected to stay well below a frame
// interval.
var convertBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("sensorbridge.frames.captured",
		metric.WithDescription("Frames captured from the device by stream."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("sensorbridge.frames.dropped",
		metric.WithDescription("Frames dropped on a full frame channel by stream."),
	); err != nil {
		return nil, err
	}
	if met.FramesPublished, err = m.Int64Counter("sensorbridge.frames.published",
		metric.WithDescription("Payloads submitted to the sink by stream."),
	); err != nil {
		return nil, err
	}
	if met.FramesRejected, err = m.Int64Counter("sensorbridge.frames.rejected",
		metric.WithDescription("Frames rejected during conversion by stream."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("sensorbridge.capture.errors",
		metric.WithDescription("Transient capture errors by stream."),
	); err != nil {
		return nil, err
	}
	if met.ToneMapReloads, err = m.Int64Counter("sensorbridge.tonemap.reloads",
		metric.WithDescription("Tone-map reload attempts by outcome."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ConvertDuration, err = m.Float64Histogram("sensorbridge.convert.duration",
		metric.WithDescription("Time spent converting one frame for the sink."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(convertBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sensorbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.Subscribers, err = m.Int64UpDownCounter("sensorbridge.subscribers",
		metric.WithDescription("Live sink sessions by stream."),
	); err != nil {
		return nil, err
	}
	if met.DevicesOpen, err = m.Int64UpDownCounter("sensorbridge.devices.open",
		metric.WithDescription("Device resources currently held by stream."),
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

// Stream returns the measurement option carrying the "stream" attribute.
func Stream(stream string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stream", stream))
}

// RecordToneMapReload records one reload attempt with its outcome.
func (m *Metrics) RecordToneMapReload(ctx context.Context, status string) {
	m.ToneMapReloads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
