package observe

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and delegates to the wrapped writer.
func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets WebSocket upgrades pass through the middleware. A successful
// upgrade is recorded as 101.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.statusCode = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Route labels used for metrics and span names. Request paths are folded
// onto these so the label set stays bounded.
const (
	RouteStream    = "/streams/{mount}"
	RouteSnapshot  = "/streams/{mount}/snapshot.png"
	RouteUnmatched = "unmatched"
)

// knownRoutes are the fixed paths served by sensorbridge.
var knownRoutes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/streams": true,
	"/metrics": true,
}

// RouteLabel folds a request path onto a bounded route label.
func RouteLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	rest, ok := strings.CutPrefix(path, "/streams/")
	if !ok || rest == "" {
		return RouteUnmatched
	}
	mount, tail, _ := strings.Cut(rest, "/")
	switch {
	case mount == "":
		return RouteUnmatched
	case tail == "":
		return RouteStream
	case tail == "snapshot.png":
		return RouteSnapshot
	}
	return RouteUnmatched
}

// Middleware returns an [http.Handler] that:
//
//  1. Extracts W3C Trace Context from incoming request headers (or starts a
//     new trace).
//  2. Starts an OTel span named after the route label.
//  3. Sets the X-Trace-Id response header from the trace ID.
//  4. Records request duration to [Metrics.HTTPRequestDuration]. Upgraded
//     WebSocket requests are subscriber sessions that last as long as the
//     client stays, so they are logged but not recorded.
//  5. Ends the span with the response status.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := RouteLabel(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if id := TraceID(ctx); id != "" {
				w.Header().Set("X-Trace-Id", id)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			log := Logger(ctx,
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
			if rec.statusCode == http.StatusSwitchingProtocols {
				log.Info("websocket session closed", "remote", r.RemoteAddr)
				return
			}

			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", rec.statusCode),
				),
			)
			log.Debug("request completed")
		})
	}
}
