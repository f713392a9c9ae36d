package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the int64 sum data point whose attribute key equals value.
func sumFor(t *testing.T, met *metricdata.Metrics, key, value string) (int64, bool) {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestFrameCounters_PerStream(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesCaptured.Add(ctx, 3, Stream("color"))
	m.FramesCaptured.Add(ctx, 1, Stream("infrared"))
	m.FramesDropped.Add(ctx, 2, Stream("color"))
	m.FramesPublished.Add(ctx, 5, Stream("audio"))
	m.FramesRejected.Add(ctx, 1, Stream("audio"))
	m.CaptureErrors.Add(ctx, 4, Stream("infrared"))

	rm := collect(t, reader)

	tests := []struct {
		name   string
		stream string
		want   int64
	}{
		{"sensorbridge.frames.captured", "color", 3},
		{"sensorbridge.frames.captured", "infrared", 1},
		{"sensorbridge.frames.dropped", "color", 2},
		{"sensorbridge.frames.published", "audio", 5},
		{"sensorbridge.frames.rejected", "audio", 1},
		{"sensorbridge.capture.errors", "infrared", 4},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.stream, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			got, ok := sumFor(t, met, "stream", tc.stream)
			if !ok {
				t.Fatalf("no data point for stream=%s", tc.stream)
			}
			if got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestConvertDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ConvertDuration.Record(ctx, 0.0004, Stream("infrared"))
	m.ConvertDuration.Record(ctx, 0.0006, Stream("infrared"))

	rm := collect(t, reader)
	met := findMetric(rm, "sensorbridge.convert.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Subscribers.Add(ctx, 1, Stream("color"))
	m.Subscribers.Add(ctx, 1, Stream("color"))
	m.Subscribers.Add(ctx, -1, Stream("color"))
	m.DevicesOpen.Add(ctx, 1, Stream("infrared"))

	rm := collect(t, reader)

	gauges := []struct {
		name   string
		stream string
		want   int64
	}{
		{"sensorbridge.subscribers", "color", 1},
		{"sensorbridge.devices.open", "infrared", 1},
	}
	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			got, ok := sumFor(t, met, "stream", tc.stream)
			if !ok {
				t.Fatalf("no data point for stream=%s", tc.stream)
			}
			if got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordToneMapReload(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToneMapReload(ctx, "applied")
	m.RecordToneMapReload(ctx, "rejected")
	m.RecordToneMapReload(ctx, "rejected")

	rm := collect(t, reader)
	met := findMetric(rm, "sensorbridge.tonemap.reloads")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got, _ := sumFor(t, met, "status", "rejected"); got != 2 {
		t.Errorf("rejected = %d, want 2", got)
	}
	if got, _ := sumFor(t, met, "status", "applied"); got != 1 {
		t.Errorf("applied = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("route", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "sensorbridge.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
